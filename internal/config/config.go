package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "XSG"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "xsg-faucet.db"
	defaultLogLevel     = "info"

	defaultTokenTTLMinutes = 60
	defaultPollSeconds     = 60
	defaultBatchSize       = 50
	defaultMinTextLength   = 40
	defaultRequiredTags    = "XSG,Snowgem"

	defaultAmountTag           = 5
	defaultAmountFriendMention = 10

	defaultMessageRewarded      = "@%s Congratulations! You have been rewarded %v XSG. Follow us to keep up to date with the latest news."
	defaultMessageFaucetDrained = "@%s The faucet is out of funds for now, please come back later."
	defaultMessageLifetimeLimit = "@%s You have reached the reward limit for your follower count."
	defaultMessageDailyLimit    = "@%s You have already been rewarded today. %s"
)

// AppConfig captures runtime configuration for the faucet bot and its admin
// API.
type AppConfig struct {
	HTTPAddress   string
	DatabasePath  string
	LogLevel      string
	SigningSecret string
	AdminSecret   string
	TokenTTL      time.Duration

	TwitterConsumerKey       string
	TwitterConsumerSecret    string
	TwitterAccessToken       string
	TwitterAccessTokenSecret string

	NodeURL      string
	NodeUsername string
	NodePassword string

	RequiredTags        []string
	MinTextLength       int
	InitialMessageID    int64
	PollInterval        time.Duration
	BatchSize           int
	AmountTag           float64
	AmountFriendMention float64

	MessageRewarded      string
	MessageFaucetDrained string
	MessageLifetimeLimit string
	MessageDailyLimit    string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)

	configViper.SetDefault("bot.required_tags", defaultRequiredTags)
	configViper.SetDefault("bot.min_text_length", defaultMinTextLength)
	configViper.SetDefault("bot.initial_message_id", 0)
	configViper.SetDefault("bot.poll_seconds", defaultPollSeconds)
	configViper.SetDefault("bot.batch_size", defaultBatchSize)
	configViper.SetDefault("bot.amount_tag", defaultAmountTag)
	configViper.SetDefault("bot.amount_friend_mention", defaultAmountFriendMention)

	configViper.SetDefault("bot.message_rewarded", defaultMessageRewarded)
	configViper.SetDefault("bot.message_faucet_drained", defaultMessageFaucetDrained)
	configViper.SetDefault("bot.message_lifetime_limit", defaultMessageLifetimeLimit)
	configViper.SetDefault("bot.message_daily_limit", defaultMessageDailyLimit)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		DatabasePath:  configViper.GetString("database.path"),
		LogLevel:      configViper.GetString("log.level"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		AdminSecret:   configViper.GetString("auth.admin_secret"),
		TokenTTL:      time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,

		TwitterConsumerKey:       configViper.GetString("twitter.consumer_key"),
		TwitterConsumerSecret:    configViper.GetString("twitter.consumer_secret"),
		TwitterAccessToken:       configViper.GetString("twitter.access_token"),
		TwitterAccessTokenSecret: configViper.GetString("twitter.access_token_secret"),

		NodeURL:      configViper.GetString("node.url"),
		NodeUsername: configViper.GetString("node.username"),
		NodePassword: configViper.GetString("node.password"),

		RequiredTags:        splitTags(configViper.GetString("bot.required_tags")),
		MinTextLength:       configViper.GetInt("bot.min_text_length"),
		InitialMessageID:    configViper.GetInt64("bot.initial_message_id"),
		PollInterval:        time.Duration(configViper.GetInt("bot.poll_seconds")) * time.Second,
		BatchSize:           configViper.GetInt("bot.batch_size"),
		AmountTag:           configViper.GetFloat64("bot.amount_tag"),
		AmountFriendMention: configViper.GetFloat64("bot.amount_friend_mention"),

		MessageRewarded:      configViper.GetString("bot.message_rewarded"),
		MessageFaucetDrained: configViper.GetString("bot.message_faucet_drained"),
		MessageLifetimeLimit: configViper.GetString("bot.message_lifetime_limit"),
		MessageDailyLimit:    configViper.GetString("bot.message_daily_limit"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.AdminSecret) == "" {
		return fmt.Errorf("auth.admin_secret is required")
	}
	if strings.TrimSpace(c.TwitterConsumerKey) == "" ||
		strings.TrimSpace(c.TwitterConsumerSecret) == "" ||
		strings.TrimSpace(c.TwitterAccessToken) == "" ||
		strings.TrimSpace(c.TwitterAccessTokenSecret) == "" {
		return fmt.Errorf("twitter credentials are required")
	}
	if strings.TrimSpace(c.NodeURL) == "" {
		return fmt.Errorf("node.url is required")
	}
	if len(c.RequiredTags) == 0 {
		return fmt.Errorf("bot.required_tags is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("bot.poll_seconds must be positive")
	}
	if c.AmountTag <= 0 || c.AmountFriendMention <= 0 {
		return fmt.Errorf("bot reward amounts must be positive")
	}
	return nil
}

func splitTags(raw string) []string {
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			tags = append(tags, trimmed)
		}
	}
	return tags
}
