// Package status maintains a small cached summary of the daemon's most
// recent cycle, served to dashboards without touching Postgres.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/realdoomsman/BTC500/internal/logging"
)

const (
	statusKey = "btc500:bot-status"
	statusTTL = 1 * time.Hour
)

// ErrNotFound is returned when no status has been recorded yet or the
// cached entry expired.
var ErrNotFound = errors.New("bot status not found")

// BotStatus is the dashboard-facing summary of the last cycle.
type BotStatus struct {
	State              string    `json:"state"`
	LastCycleAt        time.Time `json:"last_cycle_at"`
	LastCycleOutcome   string    `json:"last_cycle_outcome"`
	SpendableBalance   int64     `json:"spendable_balance"`
	LastDistributionID string    `json:"last_distribution_id,omitempty"`
	LastError          string    `json:"last_error,omitempty"`
}

// Cache stores the bot status in Redis with a TTL so a dead daemon's
// status eventually disappears instead of reading as healthy.
type Cache struct {
	client *redis.Client
	log    *logging.Logger
}

// NewCache parses the Redis URL and verifies connectivity.
func NewCache(ctx context.Context, url string, log *logging.Logger) (*Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &Cache{client: client, log: log.Component("status")}, nil
}

// Set records the current status.
func (c *Cache) Set(ctx context.Context, s BotStatus) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	if err := c.client.Set(ctx, statusKey, payload, statusTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache status: %w", err)
	}

	return nil
}

// Get returns the cached status, or ErrNotFound when absent.
func (c *Cache) Get(ctx context.Context) (*BotStatus, error) {
	payload, err := c.client.Get(ctx, statusKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read status: %w", err)
	}

	var s BotStatus
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status: %w", err)
	}

	return &s, nil
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}
