package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rowpledge/internal/auth"
	"github.com/rowpledge/internal/chat"
	"github.com/rowpledge/internal/handler"
	"github.com/rowpledge/internal/kafka"
	"github.com/rowpledge/internal/websocket"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server, webhook ingestion, scheduled sync and chat bot",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	cfg := loadConfig(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	a.leaderboard.SetBroadcaster(wsHub)

	// Start sync worker
	if cfg.Sync.Enabled {
		if err := a.syncWorker.Start(ctx); err != nil {
			return fmt.Errorf("starting sync worker: %w", err)
		}
	}

	// Kafka relay for webhook events
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, a.ingestor, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else if err := kafkaConsumer.Start(); err != nil {
			logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
			kafkaConsumer.Stop()
			kafkaConsumer = nil
		}
	}

	// Chat bot
	var notifier handler.ConnectNotifier
	var bot *chat.Telegram
	if cfg.Telegram.Enabled {
		commands := chat.NewCommands(a.participants, a.tokens, a.syncWorker, a.verifier, a.leaderboard, logger)
		bot, err = chat.NewTelegram(&cfg.Telegram, commands, logger)
		if err != nil {
			return fmt.Errorf("starting telegram bot: %w", err)
		}
		bot.Start(ctx)
		notifier = bot
	}

	opts := handler.Options{
		Leaderboard:   a.leaderboard,
		Events:        a.ingestor,
		Credentials:   a.tokens,
		Sync:          a.syncWorker,
		Verifier:      a.verifier,
		Notifier:      notifier,
		Hub:           wsHub,
		Store:         a.store,
		Auth:          auth.FromAdminConfig(&cfg.Admin),
		WebhookPath:   cfg.Webhook.Path,
		WebhookSecret: cfg.Webhook.Secret,
		CampaignName:  cfg.Campaign.Name,
	}
	if a.cache != nil {
		opts.Cache = a.cache
	}
	httpHandler := handler.NewHandler(opts, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server",
			"port", cfg.Server.Port,
			"campaign", cfg.Campaign.Name,
			"window", a.window.String(),
			"webhook_path", cfg.Webhook.Path,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	if bot != nil {
		bot.Stop()
	}

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	if err := a.syncWorker.Stop(); err != nil {
		logger.Error("failed to stop sync worker", "error", err)
	}

	wsHub.Stop()

	logger.Info("server stopped")
	return nil
}
