package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/rowpledge/internal/config"
	"github.com/rowpledge/internal/domain"
	"github.com/rowpledge/internal/store"
)

// SnapshotCache stores computed leaderboards between ledger changes.
// Invalidate advances the generation; snapshots are keyed by the generation
// read before they were computed.
type SnapshotCache interface {
	Generation(ctx context.Context) (int64, error)
	Get(ctx context.Context, window domain.Window, generation int64) (*domain.Leaderboard, bool, error)
	Set(ctx context.Context, window domain.Window, generation int64, lb *domain.Leaderboard, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

// Broadcaster pushes leaderboard updates to live viewers
type Broadcaster interface {
	BroadcastLeaderboard(lb *domain.Leaderboard)
}

// LeaderboardService aggregates the verified ledger into campaign standings
type LeaderboardService struct {
	accounts store.AccountStore
	ledger   store.ActivityLedger
	window   domain.Window
	cache    SnapshotCache
	hub      Broadcaster
	config   *config.LeaderboardConfig
	logger   *slog.Logger
}

// NewLeaderboardService creates a new leaderboard service for the campaign window
func NewLeaderboardService(
	accounts store.AccountStore,
	ledger store.ActivityLedger,
	window domain.Window,
	cfg *config.LeaderboardConfig,
	logger *slog.Logger,
) *LeaderboardService {
	return &LeaderboardService{
		accounts: accounts,
		ledger:   ledger,
		window:   window,
		config:   cfg,
		logger:   logger,
	}
}

// SetCache enables snapshot caching
func (s *LeaderboardService) SetCache(cache SnapshotCache) {
	s.cache = cache
}

// SetBroadcaster enables live updates
func (s *LeaderboardService) SetBroadcaster(hub Broadcaster) {
	s.hub = hub
}

// Window returns the campaign window
func (s *LeaderboardService) Window() domain.Window {
	return s.window
}

// Compute builds the leaderboard for window from verified activities only.
// Entries are ordered by total meters, highest first, then by account ID.
func (s *LeaderboardService) Compute(ctx context.Context, window domain.Window) (*domain.Leaderboard, error) {
	accounts, err := s.accounts.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}

	activities, err := s.ledger.ListVerifiedActivities(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("listing verified activities: %w", err)
	}

	byAccount := make(map[int64][]domain.Activity, len(accounts))
	for _, act := range activities {
		if !act.Verified || !window.Contains(act.Date) {
			continue
		}
		byAccount[act.AccountID] = append(byAccount[act.AccountID], act)
	}

	lb := &domain.Leaderboard{
		Start:           window.FirstDay(),
		End:             window.LastDay(),
		Entries:         make([]domain.LeaderboardEntry, 0, len(accounts)),
		ClubDailyTotals: make(map[string]int64),
		GeneratedAt:     time.Now().UTC(),
	}

	for _, acct := range accounts {
		entry := domain.LeaderboardEntry{
			AccountID:   acct.ID,
			DisplayName: acct.DisplayName,
			Pledge:      acct.Pledge,
			Daily:       make(map[string]int64),
			Activities:  byAccount[acct.ID],
		}
		if entry.Activities == nil {
			entry.Activities = []domain.Activity{}
		}
		for _, act := range entry.Activities {
			day := window.DayKey(act.Date)
			entry.TotalMeters += act.Meters
			entry.Daily[day] += act.Meters
			lb.ClubDailyTotals[day] += act.Meters
		}

		lb.ClubTotalMeters += entry.TotalMeters
		lb.ClubTotalPledge += entry.Pledge
		lb.Entries = append(lb.Entries, entry)
	}

	sort.SliceStable(lb.Entries, func(i, j int) bool {
		a, b := lb.Entries[i], lb.Entries[j]
		if a.TotalMeters != b.TotalMeters {
			return a.TotalMeters > b.TotalMeters
		}
		return a.AccountID < b.AccountID
	})
	for i := range lb.Entries {
		lb.Entries[i].Rank = int64(i + 1)
	}

	return lb, nil
}

// Current returns the campaign leaderboard, served from cache when possible.
// The generation is read before computing so a snapshot that raced a ledger
// change is stored under a generation that is already stale.
func (s *LeaderboardService) Current(ctx context.Context) (*domain.Leaderboard, error) {
	var generation int64
	useCache := s.cache != nil
	if useCache {
		gen, err := s.cache.Generation(ctx)
		if err != nil {
			s.logger.Warn("failed to read leaderboard cache generation", "error", err)
			useCache = false
		} else {
			generation = gen
			lb, ok, err := s.cache.Get(ctx, s.window, generation)
			if err != nil {
				s.logger.Warn("failed to read leaderboard cache", "error", err)
			} else if ok {
				return lb, nil
			}
		}
	}

	lb, err := s.Compute(ctx, s.window)
	if err != nil {
		return nil, err
	}

	if useCache {
		if err := s.cache.Set(ctx, s.window, generation, lb, s.config.CacheTTL); err != nil {
			s.logger.Warn("failed to store leaderboard cache", "error", err)
		}
	}
	return lb, nil
}

// Standing returns a participant's entry in the campaign leaderboard
func (s *LeaderboardService) Standing(ctx context.Context, chatID string) (*domain.LeaderboardEntry, error) {
	acct, err := s.accounts.GetByChatID(ctx, chatID)
	if err != nil {
		return nil, err
	}

	lb, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}

	entry, ok := lb.Entry(acct.ID)
	if !ok {
		// joined after the cached snapshot was taken
		return &domain.LeaderboardEntry{
			AccountID:   acct.ID,
			DisplayName: acct.DisplayName,
			Pledge:      acct.Pledge,
			Daily:       map[string]int64{},
		}, nil
	}
	return entry, nil
}

// LedgerChanged drops cached snapshots and pushes the fresh leaderboard to
// live viewers. Failures are logged only.
func (s *LeaderboardService) LedgerChanged(ctx context.Context) {
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			s.logger.Warn("failed to invalidate leaderboard cache", "error", err)
		}
	}
	if s.hub == nil {
		return
	}

	lb, err := s.Current(ctx)
	if err != nil {
		s.logger.Error("failed to recompute leaderboard", "error", err)
		return
	}
	s.hub.BroadcastLeaderboard(lb)
}
