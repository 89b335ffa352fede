package platform

import (
	"context"
	"errors"
	"time"
)

// ErrRateLimited signals that the platform refused a batch fetch because the
// bot exhausted its request quota. The caller backs off without advancing state.
var ErrRateLimited = errors.New("platform: rate limited")

// InboundMessage is a direct message delivered to the bot account. A claim
// message is expected to carry a link to a public post.
type InboundMessage struct {
	ID            int64
	SenderID      int64
	CreatedAt     time.Time
	LinkedPostURL string
}

// Post is a public post together with the author attributes the eligibility
// gates need, fetched in one round trip.
type Post struct {
	ID                    int64
	AuthorID              int64
	AuthorHandle          string
	AuthorCreatedAt       time.Time
	AuthorHasDefaultImage bool
	AuthorFollowerCount   int
	Text                  string
	Tags                  []string
	IsReply               bool
	MentionedAccountIDs   []int64
}

// MessageSource delivers the latest direct messages addressed to the bot,
// newest first. Implementations return ErrRateLimited when the platform
// throttles the call.
type MessageSource interface {
	FetchLatestMessages(ctx context.Context, maxCount int) ([]InboundMessage, error)
}

// PostSource resolves a public post by id. A nil post with a nil error means
// the post no longer exists.
type PostSource interface {
	FetchPost(ctx context.Context, postID int64) (*Post, error)
}

// ReplySink publishes outcome notifications back to the platform.
type ReplySink interface {
	PublishReply(ctx context.Context, postID int64, text string) error
	PublishDirectMessage(ctx context.Context, accountID int64, text string) error
}

// Moderator blocks accounts flagged as fraudulent.
type Moderator interface {
	BlockAccount(ctx context.Context, accountID int64) error
}

// SocialGraph exposes the follower/friend lists used by the follow-back routine.
type SocialGraph interface {
	FollowerIDs(ctx context.Context) ([]int64, error)
	FriendIDs(ctx context.Context) ([]int64, error)
	Follow(ctx context.Context, accountID int64) error
}

// Reauthenticator re-establishes platform credentials after a batch-level
// failure.
type Reauthenticator interface {
	Reauthenticate() error
}
