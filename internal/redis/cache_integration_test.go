//go:build integration

package redis

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/rowpledge/internal/domain"
)

func startRedis(ctx context.Context, t *testing.T) *redis.Client {
	t.Helper()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	require.Eventually(t, func() bool { return client.Ping(ctx).Err() == nil }, 10*time.Second, 200*time.Millisecond)
	return client
}

func TestSnapshotCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := startRedis(ctx, t)
	cache := NewSnapshotCacheFromClient(client, "rowpledge-test", slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { _ = cache.Close() })

	window, err := domain.NewWindow("2024-01-01", "2024-01-14", time.UTC)
	require.NoError(t, err)

	gen, err := cache.Generation(ctx)
	require.NoError(t, err)
	require.Zero(t, gen)

	_, ok, err := cache.Get(ctx, window, gen)
	require.NoError(t, err)
	require.False(t, ok)

	lb := &domain.Leaderboard{
		Start:           window.FirstDay(),
		End:             window.LastDay(),
		Entries:         []domain.LeaderboardEntry{{Rank: 1, AccountID: 7, TotalMeters: 5000, Daily: map[string]int64{"2024-01-05": 5000}}},
		ClubTotalMeters: 5000,
		ClubTotalPledge: 50000,
		ClubDailyTotals: map[string]int64{"2024-01-05": 5000},
	}
	require.NoError(t, cache.Set(ctx, window, gen, lb, time.Minute))

	got, ok, err := cache.Get(ctx, window, gen)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(5000), got.ClubTotalMeters)
	require.Equal(t, int64(7), got.Entries[0].AccountID)

	require.NoError(t, cache.Invalidate(ctx))
	next, err := cache.Generation(ctx)
	require.NoError(t, err)
	require.Equal(t, gen+1, next)
	_, ok, err = cache.Get(ctx, window, next)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSnapshotCacheIgnoresSnapshotsFromBeforeInvalidation(t *testing.T) {
	ctx := context.Background()
	client := startRedis(ctx, t)
	cache := NewSnapshotCacheFromClient(client, "rowpledge-test", slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { _ = cache.Close() })

	window, err := domain.NewWindow("2024-01-01", "2024-01-14", time.UTC)
	require.NoError(t, err)

	readerGen, err := cache.Generation(ctx)
	require.NoError(t, err)

	// a write lands while the reader is still computing
	require.NoError(t, cache.Invalidate(ctx))
	require.NoError(t, cache.Set(ctx, window, readerGen, &domain.Leaderboard{ClubTotalMeters: 0}, time.Minute))

	gen, err := cache.Generation(ctx)
	require.NoError(t, err)
	_, ok, err := cache.Get(ctx, window, gen)
	require.NoError(t, err)
	require.False(t, ok)
}
