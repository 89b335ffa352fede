package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Snowgem/XsgTwitterFaucet/internal/auth"
	"github.com/Snowgem/XsgTwitterFaucet/internal/config"
	"github.com/Snowgem/XsgTwitterFaucet/internal/database"
	"github.com/Snowgem/XsgTwitterFaucet/internal/engine"
	"github.com/Snowgem/XsgTwitterFaucet/internal/faucet"
	"github.com/Snowgem/XsgTwitterFaucet/internal/logging"
	"github.com/Snowgem/XsgTwitterFaucet/internal/node"
	"github.com/Snowgem/XsgTwitterFaucet/internal/platform"
	"github.com/Snowgem/XsgTwitterFaucet/internal/stats"
	"github.com/Snowgem/XsgTwitterFaucet/internal/wallet"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "xsg-faucet",
		Short: "XSG Twitter faucet bot",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "Admin API listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("node-url", "", "Coin daemon RPC endpoint")
	cmd.PersistentFlags().String("required-tags", defaults.GetString("bot.required_tags"), "Comma-separated tags a claim post must carry")
	cmd.PersistentFlags().Int("poll-seconds", defaults.GetInt("bot.poll_seconds"), "Seconds between message polls")
	cmd.PersistentFlags().Int64("initial-message-id", defaults.GetInt64("bot.initial_message_id"), "Message id to resume from when no watermark exists")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "node.url", "node-url")
	bindFlag(cmd, "bot.required_tags", "required-tags")
	bindFlag(cmd, "bot.poll_seconds", "poll-seconds")
	bindFlag(cmd, "bot.initial_message_id", "initial-message-id")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runBot(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	twitterClient, err := platform.NewTwitterClient(platform.TwitterConfig{
		ConsumerKey:       appConfig.TwitterConsumerKey,
		ConsumerSecret:    appConfig.TwitterConsumerSecret,
		AccessToken:       appConfig.TwitterAccessToken,
		AccessTokenSecret: appConfig.TwitterAccessTokenSecret,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	nodeClient, err := node.NewClient(node.Config{
		URL:      appConfig.NodeURL,
		Username: appConfig.NodeUsername,
		Password: appConfig.NodePassword,
	})
	if err != nil {
		return err
	}

	gateway, err := wallet.NewGateway(wallet.GatewayConfig{
		Node: nodeClient,
		Amounts: map[faucet.RewardTier]float64{
			faucet.RewardTierTag:           appConfig.AmountTag,
			faucet.RewardTierFriendMention: appConfig.AmountFriendMention,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	duplicates, err := faucet.NewDuplicateClaimGuard(db)
	if err != nil {
		return err
	}
	addresses, err := faucet.NewAddressOwnershipGuard(db)
	if err != nil {
		return err
	}
	mentions, err := faucet.NewFriendMentionGuard(db)
	if err != nil {
		return err
	}
	ledger, err := faucet.NewLedger(faucet.LedgerConfig{
		Database: db,
		Clock:    time.Now,
	})
	if err != nil {
		return err
	}
	cursor, err := faucet.NewStreamCursor(db, appConfig.InitialMessageID)
	if err != nil {
		return err
	}

	statsService, err := stats.NewService(db)
	if err != nil {
		return err
	}

	pipeline, err := faucet.NewPipeline(faucet.PipelineConfig{
		Duplicates:    duplicates,
		Addresses:     addresses,
		Mentions:      mentions,
		Ledger:        ledger,
		Gateway:       gateway,
		Stats:         statsService,
		Clock:         time.Now,
		Logger:        logger,
		RequiredTags:  appConfig.RequiredTags,
		MinTextLength: appConfig.MinTextLength,
		Messages: faucet.Messages{
			Rewarded:      appConfig.MessageRewarded,
			FaucetDrained: appConfig.MessageFaucetDrained,
			LifetimeLimit: appConfig.MessageLifetimeLimit,
			DailyLimit:    appConfig.MessageDailyLimit,
		},
	})
	if err != nil {
		return err
	}

	tokenIssuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		AdminSecret:   appConfig.AdminSecret,
		Issuer:        "xsg-faucet",
		Audience:      "xsg-faucet-admin",
		TokenTTL:      appConfig.TokenTTL,
	})

	handler, err := stats.NewHTTPHandler(stats.Dependencies{
		Tokens:  tokenIssuer,
		Stats:   statsService,
		Balance: gateway,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	botEngine, err := engine.New(engine.Config{
		Messages:     twitterClient,
		Posts:        twitterClient,
		Replies:      twitterClient,
		Moderator:    twitterClient,
		Social:       twitterClient,
		Reauth:       twitterClient,
		Cursor:       cursor,
		Pipeline:     pipeline,
		Balance:      gateway,
		Logger:       logger,
		PollInterval: appConfig.PollInterval,
		BatchSize:    appConfig.BatchSize,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin api starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	engineErrCh := make(chan error, 1)
	go func() {
		logger.Info("bot engine starting",
			zap.Duration("poll_interval", appConfig.PollInterval),
			zap.Int("batch_size", appConfig.BatchSize))
		engineErrCh <- botEngine.Run(signalCtx)
	}()

	select {
	case <-signalCtx.Done():
	case err := <-errCh:
		if err != nil {
			stop()
			<-engineErrCh
			return err
		}
	case err := <-engineErrCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			shutdownHTTP(httpServer)
			return err
		}
	}

	shutdownErr := shutdownHTTP(httpServer)
	if err := <-engineErrCh; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return shutdownErr
}

func shutdownHTTP(server *http.Server) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
