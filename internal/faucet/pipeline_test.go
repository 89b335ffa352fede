package faucet

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Snowgem/XsgTwitterFaucet/internal/platform"
	"gorm.io/gorm"
)

var testMessages = Messages{
	Rewarded:      "@%s Congratulations! You have been rewarded %v XSG.",
	FaucetDrained: "@%s The faucet is drained right now, please try again later.",
	LifetimeLimit: "@%s You have reached your reward limit.",
	DailyLimit:    "@%s You have already been rewarded today. %s!",
}

type fakeGateway struct {
	canExecute bool
	executeErr error
	executed   []string
	amounts    map[RewardTier]float64
}

func (g *fakeGateway) CanExecute(_ context.Context, _ RewardTier) (bool, error) {
	return g.canExecute, nil
}

func (g *fakeGateway) Execute(_ context.Context, _ RewardTier, address string) error {
	if g.executeErr != nil {
		return g.executeErr
	}
	g.executed = append(g.executed, address)
	return nil
}

func (g *fakeGateway) Amount(tier RewardTier) float64 {
	return g.amounts[tier]
}

type recordedStat struct {
	amount     float64
	firstClaim bool
}

type fakeStats struct {
	records []recordedStat
}

func (s *fakeStats) RecordPayout(_ context.Context, _ time.Time, amount float64, firstClaim bool) error {
	s.records = append(s.records, recordedStat{amount: amount, firstClaim: firstClaim})
	return nil
}

func newTestPipeline(t *testing.T, db *gorm.DB, gateway WithdrawalGateway, stats StatRecorder) *Pipeline {
	t.Helper()

	duplicates, err := NewDuplicateClaimGuard(db)
	if err != nil {
		t.Fatalf("failed to construct duplicate guard: %v", err)
	}
	addresses, err := NewAddressOwnershipGuard(db)
	if err != nil {
		t.Fatalf("failed to construct address guard: %v", err)
	}
	mentions, err := NewFriendMentionGuard(db)
	if err != nil {
		t.Fatalf("failed to construct mention guard: %v", err)
	}
	ledger := newTestLedger(t, db, testNow)

	pipeline, err := NewPipeline(PipelineConfig{
		Duplicates:    duplicates,
		Addresses:     addresses,
		Mentions:      mentions,
		Ledger:        ledger,
		Gateway:       gateway,
		Stats:         stats,
		Clock:         fixedClock(testNow),
		RequiredTags:  []string{"XSG", "Snowgem"},
		MinTextLength: 40,
		Messages:      testMessages,
	})
	if err != nil {
		t.Fatalf("failed to construct pipeline: %v", err)
	}
	return pipeline
}

func newFundedGateway() *fakeGateway {
	return &fakeGateway{
		canExecute: true,
		amounts:    map[RewardTier]float64{RewardTierTag: 5, RewardTierFriendMention: 10},
	}
}

func eligiblePost() *platform.Post {
	return &platform.Post{
		ID:                  9000,
		AuthorID:            42,
		AuthorHandle:        "alice",
		AuthorCreatedAt:     testNow.AddDate(-2, 0, 0),
		AuthorFollowerCount: 50,
		Text:                "Loving the #XSG faucet, send my reward to " + validAddress,
		Tags:                []string{"xsg", "snowgem"},
	}
}

func TestPipelineRejectsYoungAccountRegardlessOfContent(t *testing.T) {
	db := openTestDB(t)
	pipeline := newTestPipeline(t, db, newFundedGateway(), nil)

	post := eligiblePost()
	post.AuthorCreatedAt = testNow.AddDate(0, 0, -2)

	decision, err := pipeline.Process(context.Background(), post)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Outcome != OutcomeLikelyFakeAccount {
		t.Fatalf("expected fake-account rejection, got %v", decision.Outcome)
	}
	if !decision.BlockAccount {
		t.Fatalf("fake-account rejection must request a block")
	}
}

func TestPipelineRejectsDefaultProfileImage(t *testing.T) {
	db := openTestDB(t)
	pipeline := newTestPipeline(t, db, newFundedGateway(), nil)

	post := eligiblePost()
	post.AuthorHasDefaultImage = true

	decision, err := pipeline.Process(context.Background(), post)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Outcome != OutcomeLikelyFakeAccount {
		t.Fatalf("expected fake-account rejection, got %v", decision.Outcome)
	}
}

func TestPipelineRejectsAlreadyProcessedPost(t *testing.T) {
	db := openTestDB(t)
	pipeline := newTestPipeline(t, db, newFundedGateway(), nil)
	ctx := context.Background()

	post := eligiblePost()
	if err := pipeline.duplicates.MarkProcessed(ctx, post.AuthorID, post.ID); err != nil {
		t.Fatalf("failed to seed processed claim: %v", err)
	}

	decision, err := pipeline.Process(ctx, post)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Outcome != OutcomeDuplicateSubmission {
		t.Fatalf("expected duplicate rejection, got %v", decision.Outcome)
	}
}

func TestPipelineRejectsReplies(t *testing.T) {
	db := openTestDB(t)
	pipeline := newTestPipeline(t, db, newFundedGateway(), nil)

	post := eligiblePost()
	post.IsReply = true

	decision, err := pipeline.Process(context.Background(), post)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Outcome != OutcomeReplyNotSupported {
		t.Fatalf("expected reply rejection, got %v", decision.Outcome)
	}
}

func TestPipelineRejectsMissingTags(t *testing.T) {
	db := openTestDB(t)
	pipeline := newTestPipeline(t, db, newFundedGateway(), nil)

	post := eligiblePost()
	post.Tags = []string{"xsg"}

	decision, err := pipeline.Process(context.Background(), post)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Outcome != OutcomeMissingRequiredTags {
		t.Fatalf("expected missing-tags rejection, got %v", decision.Outcome)
	}
	if !strings.Contains(decision.Reply, "Snowgem") {
		t.Fatalf("reply should list the required tags, got %q", decision.Reply)
	}
}

func TestPipelineRejectsMissingAddress(t *testing.T) {
	db := openTestDB(t)
	pipeline := newTestPipeline(t, db, newFundedGateway(), nil)

	post := eligiblePost()
	post.Text = "Loving the #XSG faucet, no address here at all today"

	decision, err := pipeline.Process(context.Background(), post)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Outcome != OutcomeNoValidAddress {
		t.Fatalf("expected no-address rejection, got %v", decision.Outcome)
	}
}

func TestPipelineRejectsReusedAddressAndBlocks(t *testing.T) {
	db := openTestDB(t)
	pipeline := newTestPipeline(t, db, newFundedGateway(), nil)
	ctx := context.Background()

	if _, _, err := pipeline.addresses.CheckAndBind(ctx, validAddress, 7); err != nil {
		t.Fatalf("failed to seed binding: %v", err)
	}

	decision, err := pipeline.Process(ctx, eligiblePost())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Outcome != OutcomeAddressReused {
		t.Fatalf("expected address-reuse rejection, got %v", decision.Outcome)
	}
	if !decision.BlockAccount {
		t.Fatalf("address reuse must request a block")
	}
}

func TestPipelineRejectsShortText(t *testing.T) {
	db := openTestDB(t)
	pipeline := newTestPipeline(t, db, newFundedGateway(), nil)

	post := eligiblePost()
	post.Text = validAddress // 35 chars, below the 40-char minimum

	decision, err := pipeline.Process(context.Background(), post)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Outcome != OutcomeTextTooShort {
		t.Fatalf("expected short-text rejection, got %v", decision.Outcome)
	}
}

func TestPipelineRewardsEligiblePost(t *testing.T) {
	db := openTestDB(t)
	gateway := newFundedGateway()
	stats := &fakeStats{}
	pipeline := newTestPipeline(t, db, gateway, stats)
	ctx := context.Background()

	decision, err := pipeline.Process(ctx, eligiblePost())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Outcome != OutcomeRewarded || !decision.Rewarded {
		t.Fatalf("expected reward, got %+v", decision)
	}
	if decision.Tier != RewardTierTag {
		t.Fatalf("expected base tier without mentions, got %v", decision.Tier)
	}
	if decision.Address != validAddress {
		t.Fatalf("expected extracted address, got %q", decision.Address)
	}
	if decision.Amount != 5 {
		t.Fatalf("expected tag amount 5, got %v", decision.Amount)
	}
	if len(gateway.executed) != 1 || gateway.executed[0] != validAddress {
		t.Fatalf("gateway should execute against the extracted address, got %v", gateway.executed)
	}
	if !strings.Contains(decision.Reply, "alice") {
		t.Fatalf("reply should address the author, got %q", decision.Reply)
	}

	processed, err := pipeline.duplicates.IsProcessed(ctx, 42, 9000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !processed {
		t.Fatalf("rewarded post must be marked processed")
	}

	var reward Reward
	if err := db.Take(&reward, "account_id = ?", int64(42)).Error; err != nil {
		t.Fatalf("expected a reward record: %v", err)
	}
	if reward.Withdrawals != 1 {
		t.Fatalf("expected one withdrawal, got %d", reward.Withdrawals)
	}

	if len(stats.records) != 1 || stats.records[0].amount != 5 || !stats.records[0].firstClaim {
		t.Fatalf("unexpected stat records: %+v", stats.records)
	}
}

func TestPipelineGrantsFriendMentionTierOncePerPair(t *testing.T) {
	db := openTestDB(t)
	gateway := newFundedGateway()
	pipeline := newTestPipeline(t, db, gateway, nil)
	ctx := context.Background()

	post := eligiblePost()
	post.MentionedAccountIDs = []int64{777}

	decision, err := pipeline.Process(ctx, post)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Tier != RewardTierFriendMention {
		t.Fatalf("expected elevated tier, got %v", decision.Tier)
	}
	if decision.Amount != 10 {
		t.Fatalf("expected friend-mention amount 10, got %v", decision.Amount)
	}

	// Same pair the next day falls back to the base tier.
	second := eligiblePost()
	second.ID = 9001
	second.MentionedAccountIDs = []int64{777}
	if err := db.Model(&Reward{}).Where("account_id = ?", int64(42)).
		Update("last_reward_at", testNow.AddDate(0, 0, -1)).Error; err != nil {
		t.Fatalf("failed to rewind last reward: %v", err)
	}

	decision, err = pipeline.Process(ctx, second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Outcome != OutcomeRewarded {
		t.Fatalf("expected reward, got %v", decision.Outcome)
	}
	if decision.Tier != RewardTierTag {
		t.Fatalf("expected downgraded tier on repeat mention, got %v", decision.Tier)
	}
}

func TestPipelineFaucetDrainedDoesNotMarkProcessed(t *testing.T) {
	db := openTestDB(t)
	gateway := newFundedGateway()
	gateway.canExecute = false
	pipeline := newTestPipeline(t, db, gateway, nil)
	ctx := context.Background()

	decision, err := pipeline.Process(ctx, eligiblePost())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Outcome != OutcomeFaucetDrained {
		t.Fatalf("expected drained rejection, got %v", decision.Outcome)
	}

	processed, err := pipeline.duplicates.IsProcessed(ctx, 42, 9000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if processed {
		t.Fatalf("drained faucet must not mark the post processed")
	}
}

func TestPipelineDailyLimitMarksProcessedWithoutPayout(t *testing.T) {
	db := openTestDB(t)
	gateway := newFundedGateway()
	pipeline := newTestPipeline(t, db, gateway, nil)
	ctx := context.Background()

	seed := Reward{AccountID: 42, Followers: 50, Withdrawals: 1, LastRewardAt: testNow.Add(-time.Hour)}
	if err := db.Create(&seed).Error; err != nil {
		t.Fatalf("failed to seed reward: %v", err)
	}

	decision, err := pipeline.Process(ctx, eligiblePost())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Outcome != OutcomeDailyLimitReached {
		t.Fatalf("expected daily-limit rejection, got %v", decision.Outcome)
	}
	if !strings.Contains(decision.Reply, "Try again in") {
		t.Fatalf("daily-limit reply should carry the retry phrase, got %q", decision.Reply)
	}
	if len(gateway.executed) != 0 {
		t.Fatalf("no payout expected, got %v", gateway.executed)
	}

	processed, err := pipeline.duplicates.IsProcessed(ctx, 42, 9000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !processed {
		t.Fatalf("terminal limit rejection must mark the post processed")
	}
}

func TestPipelineLifetimeCapMarksProcessed(t *testing.T) {
	db := openTestDB(t)
	gateway := newFundedGateway()
	pipeline := newTestPipeline(t, db, gateway, nil)
	ctx := context.Background()

	seed := Reward{AccountID: 42, Followers: 50, Withdrawals: 50, LastRewardAt: testNow.AddDate(0, 0, -5)}
	if err := db.Create(&seed).Error; err != nil {
		t.Fatalf("failed to seed reward: %v", err)
	}

	decision, err := pipeline.Process(ctx, eligiblePost())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Outcome != OutcomeLifetimeCapReached {
		t.Fatalf("expected lifetime-cap rejection, got %v", decision.Outcome)
	}
	if len(gateway.executed) != 0 {
		t.Fatalf("no payout expected, got %v", gateway.executed)
	}
}

func TestPipelinePayoutFailureLeavesNoState(t *testing.T) {
	db := openTestDB(t)
	gateway := newFundedGateway()
	gateway.executeErr = errors.New("node unreachable")
	pipeline := newTestPipeline(t, db, gateway, nil)
	ctx := context.Background()

	decision, err := pipeline.Process(ctx, eligiblePost())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Outcome != OutcomePayoutFailed {
		t.Fatalf("expected payout-failed rejection, got %v", decision.Outcome)
	}

	processed, err := pipeline.duplicates.IsProcessed(ctx, 42, 9000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if processed {
		t.Fatalf("failed payout must not mark the post processed")
	}

	var count int64
	if err := db.Model(&Reward{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count rewards: %v", err)
	}
	if count != 0 {
		t.Fatalf("failed payout must not record a claim")
	}
}
