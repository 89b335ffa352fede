package faucet

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

const (
	opLedgerNew      = "faucet.ledger.new"
	opLedgerEvaluate = "faucet.ledger.evaluate"
	opLedgerRecord   = "faucet.ledger.record_claim"
)

var errMissingDatabase = errors.New("database handle is required")

// LimitReason explains why the ledger blocked a claim.
type LimitReason string

const (
	// LimitNone means the account may claim.
	LimitNone LimitReason = ""
	// LimitDaily means the account was already rewarded on the current UTC day.
	LimitDaily LimitReason = "daily"
	// LimitLifetime means withdrawals have caught up with the follower count.
	LimitLifetime LimitReason = "lifetime"
)

// Evaluation is the ledger's verdict for one claim attempt.
type Evaluation struct {
	FirstClaim bool
	Blocked    bool
	Reason     LimitReason
	// RetryAfter is the time remaining until the next UTC midnight. Set only
	// for LimitDaily.
	RetryAfter time.Duration
}

// LedgerConfig describes the dependencies of the reward ledger.
type LedgerConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Ledger persists per-account reward history and enforces the daily and
// lifetime limits.
type Ledger struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewLedger constructs the reward ledger.
func NewLedger(cfg LedgerConfig) (*Ledger, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opLedgerNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Ledger{db: cfg.Database, clock: clock}, nil
}

// Evaluate decides whether the account may claim right now. The stored
// follower count is refreshed to the current value first, so the lifetime cap
// tracks present reach rather than reach at the first claim. An account with
// no history is always eligible.
func (l *Ledger) Evaluate(ctx context.Context, accountID int64, followerCount int) (Evaluation, error) {
	var reward Reward
	err := l.db.WithContext(ctx).Take(&reward, "account_id = ?", accountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Evaluation{FirstClaim: true}, nil
	}
	if err != nil {
		return Evaluation{}, newServiceError(opLedgerEvaluate, "reward_select_failed", err)
	}

	if reward.Followers != followerCount {
		if err := l.db.WithContext(ctx).Model(&Reward{}).
			Where("account_id = ?", accountID).
			Update("followers", followerCount).Error; err != nil {
			return Evaluation{}, newServiceError(opLedgerEvaluate, "follower_refresh_failed", err)
		}
		reward.Followers = followerCount
	}

	if reward.Withdrawals >= reward.Followers {
		return Evaluation{Blocked: true, Reason: LimitLifetime}, nil
	}

	now := l.clock().UTC()
	if sameUTCDay(reward.LastRewardAt, now) {
		return Evaluation{
			Blocked:    true,
			Reason:     LimitDaily,
			RetryAfter: untilNextUTCMidnight(now),
		}, nil
	}

	return Evaluation{}, nil
}

// RecordClaim persists a successful payout. It must stay the last mutation on
// the success path: a failed payout never reaches it.
func (l *Ledger) RecordClaim(ctx context.Context, accountID int64, followerCount int, firstClaim bool) error {
	now := l.clock().UTC()

	if firstClaim {
		reward := Reward{
			AccountID:    accountID,
			Followers:    followerCount,
			Withdrawals:  1,
			LastRewardAt: now,
		}
		if err := l.db.WithContext(ctx).Create(&reward).Error; err != nil {
			return newServiceError(opLedgerRecord, "reward_insert_failed", err)
		}
		return nil
	}

	err := l.db.WithContext(ctx).Model(&Reward{}).
		Where("account_id = ?", accountID).
		Updates(map[string]interface{}{
			"followers":      followerCount,
			"withdrawals":    gorm.Expr("withdrawals + 1"),
			"last_reward_at": now,
		}).Error
	if err != nil {
		return newServiceError(opLedgerRecord, "reward_update_failed", err)
	}
	return nil
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func untilNextUTCMidnight(now time.Time) time.Duration {
	midnight := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	return midnight.Sub(now)
}
