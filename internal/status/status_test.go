package status

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/realdoomsman/BTC500/internal/logging"
)

func testCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	cache, err := NewCache(context.Background(), "redis://"+mr.Addr(), logging.New(slog.LevelError, "text"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	return cache, mr
}

func TestSetGetRoundTrip(t *testing.T) {
	cache, _ := testCache(t)
	ctx := context.Background()

	in := BotStatus{
		State:              "idle",
		LastCycleAt:        time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		LastCycleOutcome:   "distributed",
		SpendableBalance:   150_000_000,
		LastDistributionID: "dist-abc",
	}
	require.NoError(t, cache.Set(ctx, in))

	out, err := cache.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, in, *out)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	cache, _ := testCache(t)

	_, err := cache.Get(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStatusExpires(t *testing.T) {
	cache, mr := testCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, BotStatus{State: "idle"}))

	mr.FastForward(2 * time.Hour)

	_, err := cache.Get(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInvalidURLRejected(t *testing.T) {
	_, err := NewCache(context.Background(), "http://nope", logging.New(slog.LevelError, "text"))
	assert.Error(t, err)
}
