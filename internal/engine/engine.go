package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Snowgem/XsgTwitterFaucet/internal/faucet"
	"github.com/Snowgem/XsgTwitterFaucet/internal/platform"
	"go.uber.org/zap"
)

const (
	defaultBatchSize           = 50
	defaultRateLimitMultiplier = 5
	defaultFailureMultiplier   = 10
)

var (
	errMissingMessages = errors.New("engine: message source is required")
	errMissingPosts    = errors.New("engine: post source is required")
	errMissingReplies  = errors.New("engine: reply sink is required")
	errMissingCursor   = errors.New("engine: stream cursor is required")
	errMissingPipeline = errors.New("engine: pipeline is required")
)

// DecisionPipeline evaluates one post and yields a terminal decision.
type DecisionPipeline interface {
	Process(ctx context.Context, post *platform.Post) (faucet.Decision, error)
}

// Cursor persists the resume point in the inbound message stream.
type Cursor interface {
	Current(ctx context.Context) (int64, error)
	Advance(ctx context.Context, messageID int64) error
}

// BalanceReader reports the remaining faucet balance, logged after payouts.
type BalanceReader interface {
	GetBalance(ctx context.Context) (float64, error)
}

// Config wires the poll loop.
type Config struct {
	Messages  platform.MessageSource
	Posts     platform.PostSource
	Replies   platform.ReplySink
	Moderator platform.Moderator
	Social    platform.SocialGraph
	Reauth    platform.Reauthenticator
	Cursor    Cursor
	Pipeline  DecisionPipeline
	Balance   BalanceReader
	Logger    *zap.Logger

	PollInterval time.Duration
	BatchSize    int
	// Sleep overrides the inter-iteration wait, mainly for tests.
	Sleep func(ctx context.Context, d time.Duration)
}

// Engine is the single-worker poll loop. One inbound message and its derived
// post are processed fully before the next one starts, so the guard and ledger
// check-then-act sequences need no locking.
type Engine struct {
	messages  platform.MessageSource
	posts     platform.PostSource
	replies   platform.ReplySink
	moderator platform.Moderator
	social    platform.SocialGraph
	reauth    platform.Reauthenticator
	cursor    Cursor
	pipeline  DecisionPipeline
	balance   BalanceReader
	logger    *zap.Logger

	interval  time.Duration
	batchSize int
	sleep     func(ctx context.Context, d time.Duration)
}

// New constructs the poll loop.
func New(cfg Config) (*Engine, error) {
	if cfg.Messages == nil {
		return nil, errMissingMessages
	}
	if cfg.Posts == nil {
		return nil, errMissingPosts
	}
	if cfg.Replies == nil {
		return nil, errMissingReplies
	}
	if cfg.Cursor == nil {
		return nil, errMissingCursor
	}
	if cfg.Pipeline == nil {
		return nil, errMissingPipeline
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = time.Minute
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepWithContext
	}

	return &Engine{
		messages:  cfg.Messages,
		posts:     cfg.Posts,
		replies:   cfg.Replies,
		moderator: cfg.Moderator,
		social:    cfg.Social,
		reauth:    cfg.Reauth,
		cursor:    cfg.Cursor,
		pipeline:  cfg.Pipeline,
		balance:   cfg.Balance,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
		sleep:     sleep,
	}, nil
}

// Run iterates until the context is cancelled. Per-post failures are logged
// and swallowed; batch-level failures trigger an elevated backoff and a
// credential refresh before the next iteration.
func (e *Engine) Run(ctx context.Context) error {
	for {
		multiplier := e.runIteration(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		e.sleep(ctx, e.interval*time.Duration(multiplier))

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// runIteration executes one fetch-filter-process pass and returns the sleep
// multiplier for the wait that follows it.
func (e *Engine) runIteration(ctx context.Context) int {
	e.followBack(ctx)

	watermark, err := e.cursor.Current(ctx)
	if err != nil {
		return e.iterationFailed("failed to read stream watermark", err)
	}

	messages, err := e.messages.FetchLatestMessages(ctx, e.batchSize)
	if errors.Is(err, platform.ErrRateLimited) {
		e.logger.Info("rate limit reached")
		return defaultRateLimitMultiplier
	}
	if err != nil {
		return e.iterationFailed("failed to fetch messages", err)
	}

	fresh := make([]platform.InboundMessage, 0, len(messages))
	maxID := watermark
	for _, message := range messages {
		if message.ID <= watermark {
			continue
		}
		fresh = append(fresh, message)
		if message.ID > maxID {
			maxID = message.ID
		}
	}

	if len(fresh) > 0 {
		// The watermark moves before the batch is processed: a crash mid-batch
		// skips the remainder instead of reprocessing the whole batch.
		if err := e.cursor.Advance(ctx, maxID); err != nil {
			return e.iterationFailed("failed to advance stream watermark", err)
		}
		e.logger.Info("stream watermark advanced", zap.Int64("message_id", maxID))
	}

	for _, message := range fresh {
		select {
		case <-ctx.Done():
			return 1
		default:
		}

		if err := e.processMessage(ctx, message); err != nil {
			e.logger.Error("processing inbound message failed",
				zap.Int64("message_id", message.ID),
				zap.Error(err))
		}
	}

	return 1
}

func (e *Engine) iterationFailed(reason string, err error) int {
	e.logger.Error(reason, zap.Error(err))
	if e.reauth != nil {
		if reauthErr := e.reauth.Reauthenticate(); reauthErr != nil {
			e.logger.Error("credential re-establishment failed", zap.Error(reauthErr))
		}
	}
	return defaultFailureMultiplier
}

func (e *Engine) processMessage(ctx context.Context, message platform.InboundMessage) error {
	postID, ok := linkedPostID(message.LinkedPostURL)
	if !ok {
		return nil
	}

	post, err := e.posts.FetchPost(ctx, postID)
	if err != nil {
		return fmt.Errorf("fetch post %d: %w", postID, err)
	}
	if post == nil {
		return nil
	}

	e.logger.Info("received claim post",
		zap.Int64("post_id", post.ID),
		zap.Int64("account_id", post.AuthorID),
		zap.String("handle", post.AuthorHandle))

	decision, err := e.pipeline.Process(ctx, post)
	if err != nil {
		return fmt.Errorf("evaluate post %d: %w", post.ID, err)
	}

	directText := fmt.Sprintf("Response to post (%d) - %s", post.ID, decision.Reply)
	if err := e.replies.PublishDirectMessage(ctx, post.AuthorID, directText); err != nil {
		e.logger.Error("failed to publish direct message",
			zap.Int64("account_id", post.AuthorID),
			zap.Error(err))
	}

	if decision.Rewarded {
		if err := e.replies.PublishReply(ctx, post.ID, decision.Reply); err != nil {
			e.logger.Error("failed to publish public reply",
				zap.Int64("post_id", post.ID),
				zap.Error(err))
		}
		e.logFaucetBalance(ctx)
	}

	if decision.BlockAccount && e.moderator != nil {
		if err := e.moderator.BlockAccount(ctx, post.AuthorID); err != nil {
			e.logger.Error("failed to block account",
				zap.Int64("account_id", post.AuthorID),
				zap.Error(err))
		}
	}

	e.logger.Info("post handled",
		zap.Int64("post_id", post.ID),
		zap.String("outcome", string(decision.Outcome)),
		zap.String("reply", decision.Reply))
	return nil
}

// followBack follows every follower the bot does not follow yet. Best effort.
func (e *Engine) followBack(ctx context.Context) {
	if e.social == nil {
		return
	}

	followers, err := e.social.FollowerIDs(ctx)
	if err != nil {
		e.logger.Warn("failed to list followers", zap.Error(err))
		return
	}
	friends, err := e.social.FriendIDs(ctx)
	if err != nil {
		e.logger.Warn("failed to list friends", zap.Error(err))
		return
	}

	known := make(map[int64]struct{}, len(friends))
	for _, id := range friends {
		known[id] = struct{}{}
	}
	for _, id := range followers {
		if _, ok := known[id]; ok {
			continue
		}
		if err := e.social.Follow(ctx, id); err != nil {
			e.logger.Warn("failed to follow account", zap.Int64("account_id", id), zap.Error(err))
		}
	}
}

func (e *Engine) logFaucetBalance(ctx context.Context) {
	if e.balance == nil {
		return
	}
	balance, err := e.balance.GetBalance(ctx)
	if err != nil {
		e.logger.Warn("failed to query faucet balance", zap.Error(err))
		return
	}
	e.logger.Info("faucet balance", zap.Float64("balance", balance))
}

// linkedPostID extracts the post id from the last path segment of the linked
// URL.
func linkedPostID(rawURL string) (int64, bool) {
	if rawURL == "" {
		return 0, false
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return 0, false
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(segments) == 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(segments[len(segments)-1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func sleepWithContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
