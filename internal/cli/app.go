package cli

import (
	"context"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/realdoomsman/BTC500/internal/chain"
	"github.com/realdoomsman/BTC500/internal/config"
	"github.com/realdoomsman/BTC500/internal/engine"
	"github.com/realdoomsman/BTC500/internal/events"
	"github.com/realdoomsman/BTC500/internal/holders"
	"github.com/realdoomsman/BTC500/internal/indexer"
	"github.com/realdoomsman/BTC500/internal/logging"
	"github.com/realdoomsman/BTC500/internal/status"
	"github.com/realdoomsman/BTC500/internal/store"
	"github.com/realdoomsman/BTC500/internal/swap"
)

// app holds the wired components shared by the run and retry commands.
type app struct {
	cfg    *config.Config
	log    *logging.Logger
	store  store.Store
	chain  *chain.HTTPClient
	swap   *swap.HTTPClient
	snap   *holders.Snapshotter
	engine *engine.Engine
	status *status.Cache
	pub    events.Publisher
}

// buildApp runs migrations and constructs every component. Optional
// backends (Redis, NATS) degrade to nil/no-op when disabled or
// unreachable rather than failing startup.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log := logging.New(logging.ParseLevel(cfg.Log.Level), cfg.Log.Format)

	connString := cfg.Database.Postgres.ConnString()

	log.Info("running database migrations")
	m, err := migrate.New("file://migrations", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize migrations: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	st, err := store.NewPostgresStore(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	var statusCache *status.Cache
	if cfg.Redis.Enabled {
		statusCache, err = status.NewCache(ctx, cfg.Redis.URL, log)
		if err != nil {
			log.Warn("status cache unavailable; continuing without it", "error", err)
			statusCache = nil
		}
	}

	var pub events.Publisher = events.NopPublisher{}
	if cfg.NATS.Enabled {
		natsPub, err := events.NewNATSPublisher(cfg.NATS.URL, log)
		if err != nil {
			log.Warn("event publishing unavailable; continuing without it", "error", err)
		} else {
			pub = natsPub
		}
	}

	treasury := chain.NewHTTPClient(cfg.Chain.TreasuryURL, cfg.Chain.RewardMint, cfg.Treasury.SafetyFloor, log)
	swapper := swap.NewHTTPClient(cfg.Swap, chain.NativeMint, cfg.Chain.RewardMint, cfg.Distribution.DryRun, log)
	index := indexer.NewHTTPClient(cfg.Chain.RPCURL)
	snap := holders.NewSnapshotter(index, cfg.Snapshot, cfg.Chain.TokenMint, log)
	eng := engine.New(cfg.Distribution, st, treasury, pub, log)

	return &app{
		cfg:    cfg,
		log:    log,
		store:  st,
		chain:  treasury,
		swap:   swapper,
		snap:   snap,
		engine: eng,
		status: statusCache,
		pub:    pub,
	}, nil
}

func (a *app) close() {
	if a.status != nil {
		_ = a.status.Close()
	}
	_ = a.pub.Close()
	_ = a.store.Close()
}
