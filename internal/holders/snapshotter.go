// Package holders builds eligibility-filtered, weighted snapshots of
// token holders for distribution.
package holders

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/realdoomsman/BTC500/internal/config"
	"github.com/realdoomsman/BTC500/internal/indexer"
	"github.com/realdoomsman/BTC500/internal/logging"
)

// Holder is an eligible account with its effective (capped) balance and
// normalized share of the next payout.
type Holder struct {
	Address string  `json:"address"`
	Balance int64   `json:"balance"`
	Share   float64 `json:"share"`
}

// Snapshot is the holder set at a point in time. Shares across Holders
// sum to 1 within floating-point tolerance.
type Snapshot struct {
	Timestamp            time.Time `json:"timestamp"`
	TotalWeightedBalance float64   `json:"total_weighted_balance"`
	Holders              []Holder  `json:"holders"`
}

// Snapshotter enumerates the holder index and applies eligibility and
// weighting rules.
type Snapshotter struct {
	index indexer.Client
	cfg   config.SnapshotConfig
	mint  string
	log   *logging.Logger
	sleep func(context.Context, time.Duration) error
}

// NewSnapshotter creates a snapshotter for the given mint.
func NewSnapshotter(index indexer.Client, cfg config.SnapshotConfig, mint string, log *logging.Logger) *Snapshotter {
	return &Snapshotter{
		index: index,
		cfg:   cfg,
		mint:  mint,
		log:   log.Component("holders"),
		sleep: sleepCtx,
	}
}

// Snapshot drains the holder index and returns the eligible, weighted
// holder set. A page failure aborts the whole snapshot: partial holder
// sets are never returned. An empty set is a valid result.
func (s *Snapshotter) Snapshot(ctx context.Context) (*Snapshot, error) {
	accounts, err := s.fetchAllAccounts(ctx)
	if err != nil {
		return nil, err
	}

	snapshot := &Snapshot{
		Timestamp: time.Now().UTC(),
		Holders:   []Holder{},
	}

	for _, account := range accounts {
		if account.Amount <= 0 || account.Amount < s.cfg.MinHolderBalance {
			continue
		}

		// Anti-whale cap: clip before weighting so a single account's
		// share is bounded.
		effective := account.Amount
		if s.cfg.MaxHolderBalance > 0 && effective > s.cfg.MaxHolderBalance {
			effective = s.cfg.MaxHolderBalance
		}

		snapshot.Holders = append(snapshot.Holders, Holder{
			Address: account.Owner,
			Balance: effective,
		})
		snapshot.TotalWeightedBalance += s.weight(effective)
	}

	// Shares recompute the weight from each holder's capped balance so
	// the normalization pass and the share pass cannot drift apart.
	for i := range snapshot.Holders {
		snapshot.Holders[i].Share = s.weight(snapshot.Holders[i].Balance) / snapshot.TotalWeightedBalance
	}

	s.log.Info("holder snapshot complete",
		"eligible_holders", len(snapshot.Holders),
		"total_weighted_balance", snapshot.TotalWeightedBalance,
		"weighting", string(s.cfg.Weighting),
	)

	return snapshot, nil
}

// fetchAllAccounts drains index pagination until no cursor is returned,
// pausing between pages to respect rate limits.
func (s *Snapshotter) fetchAllAccounts(ctx context.Context) ([]indexer.TokenAccount, error) {
	var accounts []indexer.TokenAccount
	cursor := ""

	for {
		page, err := s.index.TokenAccounts(ctx, s.mint, s.cfg.PageSize, cursor)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch holder page: %w", err)
		}

		accounts = append(accounts, page.Accounts...)
		s.log.Debug("fetched holder page", "accounts", len(accounts), "has_more", page.NextCursor != "")

		if page.NextCursor == "" {
			return accounts, nil
		}
		cursor = page.NextCursor

		if err := s.sleep(ctx, s.cfg.PageDelay); err != nil {
			return nil, err
		}
	}
}

func (s *Snapshotter) weight(balance int64) float64 {
	if s.cfg.Weighting == config.WeightingSqrt {
		return math.Sqrt(float64(balance))
	}
	return float64(balance)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
