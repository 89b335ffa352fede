package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dghubble/oauth1"
	"go.uber.org/zap"
)

const (
	defaultAPIBaseURL  = "https://api.twitter.com/1.1"
	defaultHTTPTimeout = 30 * time.Second
	followListPageSize = 5000
)

var errMissingCredentials = errors.New("twitter: consumer and access credentials are required")

// TwitterConfig holds the OAuth1 application and user credentials.
type TwitterConfig struct {
	ConsumerKey       string
	ConsumerSecret    string
	AccessToken       string
	AccessTokenSecret string
	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string
	Timeout time.Duration
	Logger  *zap.Logger
}

// TwitterClient implements the platform contracts against the REST v1.1 API.
type TwitterClient struct {
	config  TwitterConfig
	baseURL string
	timeout time.Duration
	logger  *zap.Logger

	mu         sync.Mutex
	httpClient *http.Client
}

// NewTwitterClient constructs an authenticated client.
func NewTwitterClient(cfg TwitterConfig) (*TwitterClient, error) {
	if cfg.ConsumerKey == "" || cfg.ConsumerSecret == "" || cfg.AccessToken == "" || cfg.AccessTokenSecret == "" {
		return nil, errMissingCredentials
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultAPIBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	client := &TwitterClient{
		config:  cfg,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		logger:  logger,
	}
	if err := client.Reauthenticate(); err != nil {
		return nil, err
	}
	return client, nil
}

// Reauthenticate rebuilds the signed HTTP client from the configured
// credentials.
func (c *TwitterClient) Reauthenticate() error {
	oauthConfig := oauth1.NewConfig(c.config.ConsumerKey, c.config.ConsumerSecret)
	token := oauth1.NewToken(c.config.AccessToken, c.config.AccessTokenSecret)
	httpClient := oauthConfig.Client(oauth1.NoContext, token)
	httpClient.Timeout = c.timeout

	c.mu.Lock()
	c.httpClient = httpClient
	c.mu.Unlock()
	return nil
}

func (c *TwitterClient) client() *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.httpClient
}

type directMessagePayload struct {
	Events []struct {
		ID               string `json:"id"`
		CreatedTimestamp string `json:"created_timestamp"`
		MessageCreate    struct {
			SenderID    string `json:"sender_id"`
			MessageData struct {
				Text     string `json:"text"`
				Entities struct {
					URLs []struct {
						ExpandedURL string `json:"expanded_url"`
					} `json:"urls"`
				} `json:"entities"`
			} `json:"message_data"`
		} `json:"message_create"`
	} `json:"events"`
}

// FetchLatestMessages lists the most recent direct message events addressed to
// the bot. Returns ErrRateLimited when the API throttles the call.
func (c *TwitterClient) FetchLatestMessages(ctx context.Context, maxCount int) ([]InboundMessage, error) {
	query := url.Values{}
	query.Set("count", strconv.Itoa(maxCount))

	var payload directMessagePayload
	if err := c.get(ctx, "/direct_messages/events/list.json", query, &payload); err != nil {
		return nil, err
	}

	messages := make([]InboundMessage, 0, len(payload.Events))
	for _, event := range payload.Events {
		id, err := strconv.ParseInt(event.ID, 10, 64)
		if err != nil {
			c.logger.Warn("skipping direct message with unparsable id", zap.String("id", event.ID))
			continue
		}
		senderID, _ := strconv.ParseInt(event.MessageCreate.SenderID, 10, 64)
		createdAt := time.Time{}
		if millis, err := strconv.ParseInt(event.CreatedTimestamp, 10, 64); err == nil {
			createdAt = time.UnixMilli(millis).UTC()
		}

		linkedURL := ""
		if urls := event.MessageCreate.MessageData.Entities.URLs; len(urls) > 0 {
			linkedURL = urls[0].ExpandedURL
		}

		messages = append(messages, InboundMessage{
			ID:            id,
			SenderID:      senderID,
			CreatedAt:     createdAt,
			LinkedPostURL: linkedURL,
		})
	}
	return messages, nil
}

type tweetPayload struct {
	ID                int64  `json:"id"`
	FullText          string `json:"full_text"`
	Text              string `json:"text"`
	InReplyToStatusID *int64 `json:"in_reply_to_status_id"`
	User              struct {
		ID                  int64  `json:"id"`
		ScreenName          string `json:"screen_name"`
		CreatedAt           string `json:"created_at"`
		DefaultProfileImage bool   `json:"default_profile_image"`
		FollowersCount      int    `json:"followers_count"`
	} `json:"user"`
	Entities struct {
		Hashtags []struct {
			Text string `json:"text"`
		} `json:"hashtags"`
		UserMentions []struct {
			ID int64 `json:"id"`
		} `json:"user_mentions"`
	} `json:"entities"`
}

// FetchPost resolves one tweet with its author attributes. A deleted tweet
// yields a nil post.
func (c *TwitterClient) FetchPost(ctx context.Context, postID int64) (*Post, error) {
	query := url.Values{}
	query.Set("id", strconv.FormatInt(postID, 10))
	query.Set("tweet_mode", "extended")
	query.Set("include_entities", "true")

	var payload tweetPayload
	err := c.get(ctx, "/statuses/show.json", query, &payload)
	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	text := payload.FullText
	if text == "" {
		text = payload.Text
	}

	authorCreatedAt, err := time.Parse(time.RubyDate, payload.User.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("twitter: parse author creation time %q: %w", payload.User.CreatedAt, err)
	}

	tags := make([]string, 0, len(payload.Entities.Hashtags))
	for _, hashtag := range payload.Entities.Hashtags {
		tags = append(tags, hashtag.Text)
	}
	mentions := make([]int64, 0, len(payload.Entities.UserMentions))
	for _, mention := range payload.Entities.UserMentions {
		mentions = append(mentions, mention.ID)
	}

	return &Post{
		ID:                    payload.ID,
		AuthorID:              payload.User.ID,
		AuthorHandle:          payload.User.ScreenName,
		AuthorCreatedAt:       authorCreatedAt.UTC(),
		AuthorHasDefaultImage: payload.User.DefaultProfileImage,
		AuthorFollowerCount:   payload.User.FollowersCount,
		Text:                  text,
		Tags:                  tags,
		IsReply:               payload.InReplyToStatusID != nil,
		MentionedAccountIDs:   mentions,
	}, nil
}

// PublishReply posts a public status in reply to the given tweet.
func (c *TwitterClient) PublishReply(ctx context.Context, postID int64, text string) error {
	form := url.Values{}
	form.Set("status", text)
	form.Set("in_reply_to_status_id", strconv.FormatInt(postID, 10))
	form.Set("auto_populate_reply_metadata", "true")
	return c.postForm(ctx, "/statuses/update.json", form)
}

// PublishDirectMessage sends a direct message to the account.
func (c *TwitterClient) PublishDirectMessage(ctx context.Context, accountID int64, text string) error {
	body := map[string]interface{}{
		"event": map[string]interface{}{
			"type": "message_create",
			"message_create": map[string]interface{}{
				"target":       map[string]string{"recipient_id": strconv.FormatInt(accountID, 10)},
				"message_data": map[string]string{"text": text},
			},
		},
	}
	return c.postJSON(ctx, "/direct_messages/events/new.json", body)
}

// BlockAccount blocks the account on behalf of the bot user.
func (c *TwitterClient) BlockAccount(ctx context.Context, accountID int64) error {
	form := url.Values{}
	form.Set("user_id", strconv.FormatInt(accountID, 10))
	return c.postForm(ctx, "/blocks/create.json", form)
}

// FollowerIDs lists accounts following the bot.
func (c *TwitterClient) FollowerIDs(ctx context.Context) ([]int64, error) {
	return c.fetchIDList(ctx, "/followers/ids.json")
}

// FriendIDs lists accounts the bot follows.
func (c *TwitterClient) FriendIDs(ctx context.Context) ([]int64, error) {
	return c.fetchIDList(ctx, "/friends/ids.json")
}

// Follow makes the bot follow the account.
func (c *TwitterClient) Follow(ctx context.Context, accountID int64) error {
	form := url.Values{}
	form.Set("user_id", strconv.FormatInt(accountID, 10))
	return c.postForm(ctx, "/friendships/create.json", form)
}

func (c *TwitterClient) fetchIDList(ctx context.Context, path string) ([]int64, error) {
	query := url.Values{}
	query.Set("count", strconv.Itoa(followListPageSize))

	var payload struct {
		IDs []int64 `json:"ids"`
	}
	if err := c.get(ctx, path, query, &payload); err != nil {
		return nil, err
	}
	return payload.IDs, nil
}

type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("twitter: api status %d: %s", e.status, e.body)
}

func (c *TwitterClient) get(ctx context.Context, path string, query url.Values, result interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("twitter: build request %s: %w", path, err)
	}
	return c.do(request, result)
}

func (c *TwitterClient) postForm(ctx context.Context, path string, form url.Values) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("twitter: build request %s: %w", path, err)
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(request, nil)
}

func (c *TwitterClient) postJSON(ctx context.Context, path string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("twitter: encode request %s: %w", path, err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("twitter: build request %s: %w", path, err)
	}
	request.Header.Set("Content-Type", "application/json")
	return c.do(request, nil)
}

func (c *TwitterClient) do(request *http.Request, result interface{}) error {
	response, err := c.client().Do(request)
	if err != nil {
		return fmt.Errorf("twitter: %s %s: %w", request.Method, request.URL.Path, err)
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}

	body, err := io.ReadAll(io.LimitReader(response.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("twitter: read response %s: %w", request.URL.Path, err)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return &apiError{status: response.StatusCode, body: strings.TrimSpace(string(body))}
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("twitter: decode response %s: %w", request.URL.Path, err)
	}
	return nil
}
