package faucet

import (
	"fmt"
	"time"
)

// RewardTier selects the payout amount for a successful claim.
type RewardTier string

const (
	// RewardTierTag is the base tier granted for a post carrying the required tags.
	RewardTierTag RewardTier = "tag"
	// RewardTierFriendMention is the elevated tier granted the first time an
	// account mentions a given other account.
	RewardTierFriendMention RewardTier = "friend_mention"
)

// Reward tracks the cumulative payout history of one account. Withdrawals may
// never exceed the stored follower count.
type Reward struct {
	AccountID    int64     `gorm:"column:account_id;primaryKey"`
	Followers    int       `gorm:"column:followers;not null"`
	Withdrawals  int       `gorm:"column:withdrawals;not null;default:0"`
	LastRewardAt time.Time `gorm:"column:last_reward_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Reward) TableName() string {
	return "rewards"
}

// ProcessedClaim marks an (account, post) pair whose claim attempt reached a
// terminal outcome. Once present the pair is never re-evaluated.
type ProcessedClaim struct {
	ClaimKey  string    `gorm:"column:claim_key;primaryKey;size:64"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (ProcessedClaim) TableName() string {
	return "processed_claims"
}

// FriendMentionClaim marks an (account, mentioned account) pair that already
// consumed the elevated reward tier.
type FriendMentionClaim struct {
	PairKey   string    `gorm:"column:pair_key;primaryKey;size:64"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (FriendMentionClaim) TableName() string {
	return "friend_mention_claims"
}

// AddressBinding pins a payout address to the first account that presented it.
type AddressBinding struct {
	Address   string    `gorm:"column:address;primaryKey;size:64"`
	AccountID int64     `gorm:"column:account_id;not null;index"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (AddressBinding) TableName() string {
	return "address_bindings"
}

// StreamWatermark holds the highest inbound message id already fetched.
type StreamWatermark struct {
	Name      string `gorm:"column:name;primaryKey;size:32"`
	MessageID int64  `gorm:"column:message_id;not null"`
}

// TableName provides the explicit table binding for GORM.
func (StreamWatermark) TableName() string {
	return "stream_watermarks"
}

func claimKey(accountID, postID int64) string {
	return fmt.Sprintf("%d@%d", accountID, postID)
}

func mentionPairKey(accountID, mentionedID int64) string {
	return fmt.Sprintf("%d@%d", accountID, mentionedID)
}
