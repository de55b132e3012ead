package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rowpledge/internal/auth"
	"github.com/rowpledge/internal/concept2"
	"github.com/rowpledge/internal/config"
	"github.com/rowpledge/internal/domain"
	"github.com/rowpledge/internal/postgres"
	"github.com/rowpledge/internal/redis"
	"github.com/rowpledge/internal/service"
	"github.com/rowpledge/internal/sqlite"
	"github.com/rowpledge/internal/store"
	"github.com/rowpledge/internal/token"
	"github.com/rowpledge/internal/verification"
	"github.com/rowpledge/internal/webhook"
	"github.com/rowpledge/internal/worker"
)

// app holds the services shared by every subcommand
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	window domain.Window

	store        store.Store
	cache        *redis.SnapshotCache
	tokens       *token.Manager
	leaderboard  *service.LeaderboardService
	participants *service.ParticipantService
	ingestor     *webhook.Ingestor
	verifier     *verification.Service
	syncWorker   *worker.SyncWorker
}

// newApp validates cfg, opens the store and wires the services together
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	window, err := cfg.Campaign.Window()
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, window: window, store: st}

	if cfg.Redis.Enabled {
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		cache, err := redis.NewSnapshotCache(&cfg.Redis, logger)
		if err != nil {
			logger.Warn("failed to connect to Redis, continuing without leaderboard cache", "error", err)
		} else {
			a.cache = cache
		}
	}

	client := concept2.NewClient(&cfg.Concept2, logger)
	states := auth.NewStateCodec(auth.FromAdminConfig(&cfg.Admin), cfg.Admin.StateTTL)
	a.tokens = token.NewManager(&cfg.Concept2, st, client, states, logger)

	a.leaderboard = service.NewLeaderboardService(st, st, window, &cfg.Leaderboard, logger)
	if a.cache != nil {
		a.leaderboard.SetCache(a.cache)
	}

	a.participants = service.NewParticipantService(st, logger)
	a.participants.SetNotifier(a.leaderboard)

	a.ingestor = webhook.NewIngestor(st, st, window, logger)
	a.ingestor.SetNotifier(a.leaderboard)

	a.verifier = verification.NewService(st, st, logger)
	a.verifier.SetNotifier(a.leaderboard)

	a.syncWorker = worker.NewSyncWorker(st, st, client, a.tokens, window, &cfg.Sync, logger)
	a.syncWorker.SetNotifier(a.leaderboard)

	return a, nil
}

// openStore opens the configured backend and brings its schema up to date
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		repo, err := postgres.NewRepository(&cfg.Postgres, logger)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		if err := repo.RunMigrations(ctx); err != nil {
			repo.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		return repo, nil
	default:
		logger.Info("opening SQLite store", "path", cfg.Store.SQLitePath)
		st, err := sqlite.Open(cfg.Store.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite: %w", err)
		}
		return st, nil
	}
}

// Close releases the store and cache connections
func (a *app) Close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("failed to close Redis", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close store", "error", err)
	}
}
