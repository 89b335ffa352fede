package faucet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Snowgem/XsgTwitterFaucet/internal/platform"
	"go.uber.org/zap"
)

const (
	opPipelineNew     = "faucet.pipeline.new"
	opPipelineProcess = "faucet.pipeline.process"

	// Accounts younger than this are treated as likely fakes.
	minAccountAge = 10 * 24 * time.Hour
)

var (
	errMissingDuplicateGuard = errors.New("duplicate claim guard is required")
	errMissingAddressGuard   = errors.New("address ownership guard is required")
	errMissingMentionGuard   = errors.New("friend mention guard is required")
	errMissingLedger         = errors.New("reward ledger is required")
	errMissingGateway        = errors.New("withdrawal gateway is required")

	noOpLogger = zap.NewNop()
)

// Outcome identifies the terminal state of one pipeline run.
type Outcome string

const (
	OutcomeRewarded            Outcome = "rewarded"
	OutcomeLikelyFakeAccount   Outcome = "likely_fake_account"
	OutcomeDuplicateSubmission Outcome = "duplicate_submission"
	OutcomeReplyNotSupported   Outcome = "reply_not_supported"
	OutcomeMissingRequiredTags Outcome = "missing_required_tags"
	OutcomeNoValidAddress      Outcome = "no_valid_address"
	OutcomeAddressReused       Outcome = "address_reused"
	OutcomeTextTooShort        Outcome = "text_too_short"
	OutcomeFaucetDrained       Outcome = "faucet_drained"
	OutcomeDailyLimitReached   Outcome = "daily_limit_reached"
	OutcomeLifetimeCapReached  Outcome = "lifetime_cap_reached"
	OutcomePayoutFailed        Outcome = "payout_failed"
)

// Decision is the pipeline verdict for one post, carrying everything the loop
// needs to reply and moderate.
type Decision struct {
	Outcome      Outcome
	Rewarded     bool
	Tier         RewardTier
	Amount       float64
	Address      string
	BlockAccount bool
	Reply        string
}

// WithdrawalGateway executes payouts against the faucet wallet.
type WithdrawalGateway interface {
	CanExecute(ctx context.Context, tier RewardTier) (bool, error)
	Execute(ctx context.Context, tier RewardTier, address string) error
	Amount(tier RewardTier) float64
}

// StatRecorder receives a record of each executed payout.
type StatRecorder interface {
	RecordPayout(ctx context.Context, at time.Time, amount float64, firstClaim bool) error
}

// PipelineConfig describes the dependencies and tunables of the eligibility
// pipeline.
type PipelineConfig struct {
	Duplicates    *DuplicateClaimGuard
	Addresses     *AddressOwnershipGuard
	Mentions      *FriendMentionGuard
	Ledger        *Ledger
	Gateway       WithdrawalGateway
	Stats         StatRecorder
	Clock         func() time.Time
	Logger        *zap.Logger
	RequiredTags  []string
	MinTextLength int
	Messages      Messages
}

// Pipeline runs the ordered eligibility gates over one candidate post.
type Pipeline struct {
	duplicates    *DuplicateClaimGuard
	addresses     *AddressOwnershipGuard
	mentions      *FriendMentionGuard
	ledger        *Ledger
	gateway       WithdrawalGateway
	stats         StatRecorder
	clock         func() time.Time
	logger        *zap.Logger
	requiredTags  []string
	minTextLength int
	messages      Messages
}

// NewPipeline constructs the eligibility pipeline.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Duplicates == nil {
		return nil, newServiceError(opPipelineNew, "missing_duplicate_guard", errMissingDuplicateGuard)
	}
	if cfg.Addresses == nil {
		return nil, newServiceError(opPipelineNew, "missing_address_guard", errMissingAddressGuard)
	}
	if cfg.Mentions == nil {
		return nil, newServiceError(opPipelineNew, "missing_mention_guard", errMissingMentionGuard)
	}
	if cfg.Ledger == nil {
		return nil, newServiceError(opPipelineNew, "missing_ledger", errMissingLedger)
	}
	if cfg.Gateway == nil {
		return nil, newServiceError(opPipelineNew, "missing_gateway", errMissingGateway)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Pipeline{
		duplicates:    cfg.Duplicates,
		addresses:     cfg.Addresses,
		mentions:      cfg.Mentions,
		ledger:        cfg.Ledger,
		gateway:       cfg.Gateway,
		stats:         cfg.Stats,
		clock:         clock,
		logger:        logger,
		requiredTags:  cfg.RequiredTags,
		minTextLength: cfg.MinTextLength,
		messages:      cfg.Messages,
	}, nil
}

// Process evaluates the gates strictly in order and returns the first terminal
// decision. Only the payout step performs network I/O; everything before it is
// a pure decision over already fetched data and persisted state.
func (p *Pipeline) Process(ctx context.Context, post *platform.Post) (Decision, error) {
	if post == nil {
		return Decision{}, newServiceError(opPipelineProcess, "missing_post", errors.New("post is required"))
	}

	now := p.clock().UTC()

	if now.Sub(post.AuthorCreatedAt) < minAccountAge || post.AuthorHasDefaultImage {
		return Decision{
			Outcome:      OutcomeLikelyFakeAccount,
			BlockAccount: true,
			Reply:        replyFakeAccount,
		}, nil
	}

	processed, err := p.duplicates.IsProcessed(ctx, post.AuthorID, post.ID)
	if err != nil {
		return Decision{}, err
	}
	if processed {
		return Decision{Outcome: OutcomeDuplicateSubmission, Reply: replyAlreadyProcessed}, nil
	}

	if post.IsReply {
		return Decision{Outcome: OutcomeReplyNotSupported, Reply: replyNotSupported}, nil
	}

	if !hasRequiredTags(post.Tags, p.requiredTags) {
		return Decision{
			Outcome: OutcomeMissingRequiredTags,
			Reply:   missingTagsReply(p.requiredTags),
		}, nil
	}

	address, ok := ExtractAddress(NormalizeText(post.Text))
	if !ok {
		return Decision{Outcome: OutcomeNoValidAddress, Reply: replyInvalidAddress}, nil
	}

	bind, owner, err := p.addresses.CheckAndBind(ctx, address, post.AuthorID)
	if err != nil {
		return Decision{}, err
	}
	if bind == BindConflict {
		p.logger.Info("address already bound to another account",
			zap.String("address", address),
			zap.Int64("account_id", post.AuthorID),
			zap.Int64("owner_account_id", owner))
		return Decision{
			Outcome:      OutcomeAddressReused,
			BlockAccount: true,
			Reply:        replyFakeAccount,
		}, nil
	}

	if len(post.Text) < p.minTextLength {
		return Decision{Outcome: OutcomeTextTooShort, Reply: replyTextTooShort}, nil
	}

	tier, err := p.selectTier(ctx, post)
	if err != nil {
		return Decision{}, err
	}

	return p.executeClaim(ctx, post, tier, address, now)
}

// executeClaim runs the ledger and payout stages. The claim is recorded and
// the post marked processed only after the gateway confirms the payout, so a
// failed payout never consumes the account's daily allowance.
func (p *Pipeline) executeClaim(ctx context.Context, post *platform.Post, tier RewardTier, address string, now time.Time) (Decision, error) {
	amount := p.gateway.Amount(tier)

	canExecute, err := p.gateway.CanExecute(ctx, tier)
	if err != nil {
		return Decision{}, newServiceError(opPipelineProcess, "balance_check_failed", err)
	}
	if !canExecute {
		p.logger.Warn("not enough funds for withdrawal", zap.Float64("amount", amount))
		return Decision{
			Outcome: OutcomeFaucetDrained,
			Tier:    tier,
			Address: address,
			Reply:   fmt.Sprintf(p.messages.FaucetDrained, post.AuthorHandle),
		}, nil
	}

	evaluation, err := p.ledger.Evaluate(ctx, post.AuthorID, post.AuthorFollowerCount)
	if err != nil {
		return Decision{}, err
	}
	if evaluation.Blocked {
		if err := p.duplicates.MarkProcessed(ctx, post.AuthorID, post.ID); err != nil {
			return Decision{}, err
		}
		switch evaluation.Reason {
		case LimitLifetime:
			return Decision{
				Outcome: OutcomeLifetimeCapReached,
				Tier:    tier,
				Address: address,
				Reply:   fmt.Sprintf(p.messages.LifetimeLimit, post.AuthorHandle),
			}, nil
		default:
			return Decision{
				Outcome: OutcomeDailyLimitReached,
				Tier:    tier,
				Address: address,
				Reply:   fmt.Sprintf(p.messages.DailyLimit, post.AuthorHandle, retryPhrase(evaluation.RetryAfter)),
			}, nil
		}
	}

	if err := p.gateway.Execute(ctx, tier, address); err != nil {
		p.logger.Error("payout execution failed",
			zap.Int64("account_id", post.AuthorID),
			zap.Int64("post_id", post.ID),
			zap.String("address", address),
			zap.Error(err))
		return Decision{
			Outcome: OutcomePayoutFailed,
			Tier:    tier,
			Address: address,
			Reply:   replyPayoutFailed,
		}, nil
	}

	if err := p.ledger.RecordClaim(ctx, post.AuthorID, post.AuthorFollowerCount, evaluation.FirstClaim); err != nil {
		return Decision{}, err
	}
	if err := p.duplicates.MarkProcessed(ctx, post.AuthorID, post.ID); err != nil {
		return Decision{}, err
	}

	if p.stats != nil {
		if err := p.stats.RecordPayout(ctx, now, amount, evaluation.FirstClaim); err != nil {
			p.logger.Warn("payout stat recording failed", zap.Error(err))
		}
	}

	return Decision{
		Outcome:  OutcomeRewarded,
		Rewarded: true,
		Tier:     tier,
		Amount:   amount,
		Address:  address,
		Reply:    fmt.Sprintf(p.messages.Rewarded, post.AuthorHandle, amount),
	}, nil
}

// selectTier picks the reward tier before any limit checks run, so a
// downgraded mention still flows through the same ledger logic.
func (p *Pipeline) selectTier(ctx context.Context, post *platform.Post) (RewardTier, error) {
	if len(post.MentionedAccountIDs) == 0 {
		return RewardTierTag, nil
	}
	granted, err := p.mentions.TryClaimBonus(ctx, post.AuthorID, post.MentionedAccountIDs[0])
	if err != nil {
		return RewardTierTag, err
	}
	if granted {
		return RewardTierFriendMention, nil
	}
	return RewardTierTag, nil
}

func hasRequiredTags(postTags, required []string) bool {
	for _, want := range required {
		found := false
		for _, have := range postTags {
			if strings.EqualFold(have, want) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
