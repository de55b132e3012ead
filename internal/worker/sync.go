package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/rowpledge/internal/concept2"
	"github.com/rowpledge/internal/config"
	"github.com/rowpledge/internal/domain"
	"github.com/rowpledge/internal/observability"
	"github.com/rowpledge/internal/store"
)

// ResultFetcher reads an account's logbook results
type ResultFetcher interface {
	FetchResults(ctx context.Context, accessToken string, window domain.Window) ([]concept2.Result, error)
}

// TokenSource hands out and refreshes access tokens
type TokenSource interface {
	ValidToken(ctx context.Context, account *domain.Account) (string, error)
	Refresh(ctx context.Context, account *domain.Account) (string, error)
}

// LedgerNotifier is told when a sync run may have changed the ledger
type LedgerNotifier interface {
	LedgerChanged(ctx context.Context)
}

// SyncWorker polls the logbook for every linked account and writes the
// results into the activity ledger
type SyncWorker struct {
	accounts store.AccountStore
	ledger   store.ActivityLedger
	fetcher  ResultFetcher
	tokens   TokenSource
	notifier LedgerNotifier
	window   domain.Window
	config   *config.SyncConfig
	logger   *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewSyncWorker creates a new sync worker for the campaign window
func NewSyncWorker(
	accounts store.AccountStore,
	ledger store.ActivityLedger,
	fetcher ResultFetcher,
	tokens TokenSource,
	window domain.Window,
	cfg *config.SyncConfig,
	logger *slog.Logger,
) *SyncWorker {
	return &SyncWorker{
		accounts: accounts,
		ledger:   ledger,
		fetcher:  fetcher,
		tokens:   tokens,
		window:   window,
		config:   cfg,
		logger:   logger,
	}
}

// SetNotifier registers a listener for ledger changes
func (w *SyncWorker) SetNotifier(n LedgerNotifier) {
	w.notifier = n
}

// Start schedules sync runs. A scheduled run that is still in progress when
// the next one is due causes that next run to be skipped.
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(w.config.Schedule, func() { w.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("scheduling sync %q: %w", w.config.Schedule, err)
	}
	c.Start()

	w.cron = c
	w.running = true
	w.logger.Info("sync worker started", "schedule", w.config.Schedule, "window", w.window.String())

	go func() {
		<-ctx.Done()
		w.Stop()
	}()
	return nil
}

// Stop stops scheduling and waits for an in-flight run to finish
func (w *SyncWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	c := w.cron
	w.cron = nil
	w.running = false
	w.mu.Unlock()

	<-c.Stop().Done()
	w.logger.Info("sync worker stopped")
	return nil
}

// IsRunning returns whether the worker is currently scheduled
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce runs a single sync cycle over the campaign window
func (w *SyncWorker) RunOnce(ctx context.Context) (int, error) {
	return w.RunSync(ctx, w.window)
}

// RunSync fetches and stores results for every linked account. It returns
// the number of accounts whose fetch completed. Per-account failures are
// logged and never abort the run.
func (w *SyncWorker) RunSync(ctx context.Context, window domain.Window) (int, error) {
	w.logger.Info("starting sync cycle", "window", window.String())
	startTime := time.Now()

	accounts, err := w.accounts.ListLinkedAccounts(ctx)
	if err != nil {
		w.logger.Error("failed to list accounts for sync", "error", err)
		return 0, fmt.Errorf("listing linked accounts: %w", err)
	}

	var synced, failed, written atomic.Int64

	concurrency := w.config.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	var g errgroup.Group
	g.SetLimit(concurrency)

	for i := range accounts {
		acct := accounts[i]
		g.Go(func() error {
			n, err := w.syncAccount(ctx, &acct, window)
			if err != nil {
				failed.Add(1)
				if domain.IsTransient(err) {
					w.logger.Warn("skipping account after transient failure",
						"account_id", acct.ID,
						"error", err,
					)
					return nil
				}
				w.logger.Error("failed to sync account",
					"account_id", acct.ID,
					"error", err,
				)
				return nil
			}
			synced.Add(1)
			written.Add(int64(n))
			return nil
		})
	}
	_ = g.Wait()

	duration := time.Since(startTime)
	observability.RecordSyncRun(int(synced.Load()), int(failed.Load()), duration)
	w.logger.Info("sync cycle completed",
		"duration", duration,
		"synced", synced.Load(),
		"errors", failed.Load(),
		"activities", written.Load(),
	)

	if written.Load() > 0 && w.notifier != nil {
		w.notifier.LedgerChanged(ctx)
	}
	return int(synced.Load()), nil
}

// syncAccount fetches one account's results, refreshing its token once on a
// 401, and upserts them. It returns the number of activities written.
func (w *SyncWorker) syncAccount(ctx context.Context, acct *domain.Account, window domain.Window) (int, error) {
	token, err := w.tokens.ValidToken(ctx, acct)
	if err != nil {
		return 0, err
	}

	results, err := w.fetcher.FetchResults(ctx, token, window)
	if errors.Is(err, domain.ErrUnauthorized) {
		w.logger.Info("access token rejected, refreshing", "account_id", acct.ID)
		token, err = w.tokens.Refresh(ctx, acct)
		if err != nil {
			return 0, err
		}
		results, err = w.fetcher.FetchResults(ctx, token, window)
		if err != nil {
			return 0, fmt.Errorf("retry after refresh: %w", err)
		}
	} else if err != nil {
		return 0, err
	}

	written := 0
	for i := range results {
		rec, err := results[i].Record(acct.ID, window.Location())
		if err != nil {
			w.logger.Warn("skipping result with bad date",
				"account_id", acct.ID,
				"result_id", results[i].ID.String(),
				"error", err,
			)
			continue
		}
		if err := w.ledger.UpsertActivity(ctx, rec); err != nil {
			w.logger.Error("failed to store activity",
				"account_id", acct.ID,
				"result_id", rec.ExternalID,
				"error", err,
			)
			continue
		}
		written++
	}

	w.logger.Debug("synced account",
		"account_id", acct.ID,
		"results", len(results),
		"written", written,
	)
	return written, nil
}
