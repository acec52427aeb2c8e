package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	authx "github.com/deylak/chirpgram/internal/auth/x"
	"github.com/deylak/chirpgram/internal/bot"
	"github.com/deylak/chirpgram/internal/compose"
	"github.com/deylak/chirpgram/internal/config"
	"github.com/deylak/chirpgram/internal/httpapi"
	"github.com/deylak/chirpgram/internal/logging"
	"github.com/deylak/chirpgram/internal/poster"
	"github.com/deylak/chirpgram/internal/store"
	"github.com/deylak/chirpgram/internal/version"
)

func main() {
	cfg, err := config.Load(os.Getenv("CHIRPGRAM_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.JSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting chirpgram",
		zap.String("version", version.Version),
		zap.String("env", cfg.Env),
		zap.String("addr", cfg.Addr()))

	accounts, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		logger.Fatal("failed to open account store", zap.Error(err))
	}

	chatClient := bot.NewClient(cfg.Telegram.Token, cfg.Telegram.APIBaseURL, logger)
	correlator := authx.NewCorrelator(accounts, authx.Config{
		ClientID:     cfg.X.ClientID,
		ClientSecret: cfg.X.ClientSecret,
		CallbackURL:  cfg.X.CallbackURL,
		APIBaseURL:   cfg.X.APIBaseURL,
	}, logger)
	postClient := poster.NewClient(cfg.X.APIBaseURL, logger)
	composer := compose.NewClient(cfg.Compose.APIKey, cfg.Compose.BaseURL, cfg.Compose.Model, logger)

	dispatcher := bot.NewDispatcher(chatClient, accounts, correlator, postClient, composer, logger)
	server := httpapi.NewServer(dispatcher, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	if err := server.ListenAndServe(ctx, cfg.Addr()); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
	logger.Info("stopped")
}
