// Package orchestrator drives the periodic reward cycle: check the
// treasury balance, convert spendable funds into the reward asset,
// snapshot holders, and hand the proceeds to the distribution engine.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/realdoomsman/BTC500/internal/config"
	"github.com/realdoomsman/BTC500/internal/engine"
	"github.com/realdoomsman/BTC500/internal/events"
	"github.com/realdoomsman/BTC500/internal/holders"
	"github.com/realdoomsman/BTC500/internal/logging"
	"github.com/realdoomsman/BTC500/internal/metrics"
	"github.com/realdoomsman/BTC500/internal/models"
	"github.com/realdoomsman/BTC500/internal/status"
	"github.com/realdoomsman/BTC500/internal/store"
	"github.com/realdoomsman/BTC500/internal/swap"
)

// Outcome classifies how a cycle ended.
type Outcome string

const (
	OutcomeBelowThreshold     Outcome = "below_threshold"
	OutcomeConversionFailed   Outcome = "conversion_failed"
	OutcomeSnapshotFailed     Outcome = "snapshot_failed"
	OutcomeNoHolders          Outcome = "no_holders"
	OutcomeDistributionFailed Outcome = "distribution_failed"
	OutcomeDistributed        Outcome = "distributed"
)

// Treasury is the balance and account surface the orchestrator needs.
type Treasury interface {
	Spendable(ctx context.Context) (int64, error)
	RewardBalance(ctx context.Context) (int64, error)
	EnsureRewardAccount(ctx context.Context) error
}

// Snapshotter produces holder snapshots.
type Snapshotter interface {
	Snapshot(ctx context.Context) (*holders.Snapshot, error)
}

// Distributor pays a total out to a snapshot.
type Distributor interface {
	Distribute(ctx context.Context, totalAmount int64, snapshot []holders.Holder) (*engine.Result, error)
}

// StatusCache records the dashboard-facing cycle summary.
type StatusCache interface {
	Set(ctx context.Context, s status.BotStatus) error
}

// Orchestrator runs reward cycles on a fixed interval.
type Orchestrator struct {
	treasuryCfg config.TreasuryConfig
	interval    time.Duration

	treasury    Treasury
	swapper     swap.Client
	snapshotter Snapshotter
	distributor Distributor
	store       store.Store
	statusCache StatusCache
	pub         events.Publisher
	log         *logging.Logger

	now func() time.Time
}

// New wires an orchestrator. statusCache and pub may be nil.
func New(
	treasuryCfg config.TreasuryConfig,
	interval time.Duration,
	treasury Treasury,
	swapper swap.Client,
	snapshotter Snapshotter,
	distributor Distributor,
	st store.Store,
	statusCache StatusCache,
	pub events.Publisher,
	log *logging.Logger,
) *Orchestrator {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Orchestrator{
		treasuryCfg: treasuryCfg,
		interval:    interval,
		treasury:    treasury,
		swapper:     swapper,
		snapshotter: snapshotter,
		distributor: distributor,
		store:       st,
		statusCache: statusCache,
		pub:         pub,
		log:         log.Component("orchestrator"),
		now:         time.Now,
	}
}

// Run executes one cycle immediately, then one per interval until the
// context is cancelled. Cycle errors are logged and never stop the loop.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.log.Info("orchestrator started", "interval", o.interval)

	o.cycle(ctx)

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.log.Info("orchestrator stopped")
			return ctx.Err()
		case <-ticker.C:
			o.cycle(ctx)
		}
	}
}

func (o *Orchestrator) cycle(ctx context.Context) {
	outcome, distributionID, err := o.RunCycle(ctx)
	metrics.CyclesTotal.WithLabelValues(string(outcome)).Inc()

	var errText string
	if err != nil {
		errText = err.Error()
		o.log.Error("cycle failed", "outcome", outcome, "error", err)
	}

	o.recordStatus(ctx, outcome, distributionID, errText)
}

// RunCycle performs one pass of the reward pipeline and reports how it
// ended. An error is returned only for failures; short-circuit outcomes
// such as a balance below the threshold are not errors.
func (o *Orchestrator) RunCycle(ctx context.Context) (Outcome, string, error) {
	spendable, err := o.treasury.Spendable(ctx)
	if err != nil {
		return OutcomeConversionFailed, "", fmt.Errorf("failed to read spendable balance: %w", err)
	}
	metrics.SpendableBalance.Set(float64(spendable))

	if spendable < o.treasuryCfg.SwapThreshold {
		o.log.Info("balance below threshold",
			"spendable", spendable,
			"threshold", o.treasuryCfg.SwapThreshold,
		)
		return OutcomeBelowThreshold, "", nil
	}

	output, err := o.convert(ctx, spendable)
	if err != nil {
		return OutcomeConversionFailed, "", err
	}

	snapshot, err := o.snapshotter.Snapshot(ctx)
	if err != nil {
		return OutcomeSnapshotFailed, "", fmt.Errorf("failed to snapshot holders: %w", err)
	}
	metrics.SnapshotHolders.Set(float64(len(snapshot.Holders)))

	if len(snapshot.Holders) == 0 {
		// Converted funds stay in the treasury; they are not lost, just
		// not yet distributable.
		o.log.Warn("no eligible holders; skipping distribution", "output", output)
		return OutcomeNoHolders, "", nil
	}

	result, err := o.distributor.Distribute(ctx, output, snapshot.Holders)
	if err != nil {
		id := ""
		if result != nil {
			id = result.DistributionID
		}
		return OutcomeDistributionFailed, id, fmt.Errorf("distribution failed: %w", err)
	}

	o.log.Info("cycle completed",
		"distribution_id", result.DistributionID,
		"total", result.TotalAmount,
		"successful", result.Successful,
		"failed", result.Failed,
	)

	return OutcomeDistributed, result.DistributionID, nil
}

// convert swaps the spendable balance into the reward asset, recording
// the attempt before execution so a crash mid-swap is visible in the
// ledger.
func (o *Orchestrator) convert(ctx context.Context, inputAmount int64) (int64, error) {
	// The payer's reward account must exist before the swap output has
	// anywhere to land.
	if err := o.treasury.EnsureRewardAccount(ctx); err != nil {
		return 0, fmt.Errorf("failed to ensure reward account: %w", err)
	}

	conversion := &models.ConversionEvent{
		Timestamp:   o.now(),
		InputAmount: inputAmount,
		Status:      models.ConversionPending,
	}
	id, err := o.store.InsertConversion(ctx, conversion)
	if err != nil {
		return 0, fmt.Errorf("failed to record conversion: %w", err)
	}

	quote, err := o.swapper.Quote(ctx, inputAmount)
	if err != nil {
		o.resolveConversionFailed(ctx, id, err)
		return 0, fmt.Errorf("quote failed: %w", err)
	}

	result, err := o.swapper.Execute(ctx, quote)
	if err != nil {
		o.resolveConversionFailed(ctx, id, err)
		return 0, fmt.Errorf("swap failed: %w", err)
	}

	if err := o.store.ResolveConversion(ctx, id, result.OutputAmount, result.TxReference, models.ConversionSuccess, ""); err != nil {
		return 0, fmt.Errorf("failed to resolve conversion %d: %w", id, err)
	}
	metrics.ConversionsTotal.WithLabelValues(string(models.ConversionSuccess)).Inc()
	metrics.ConvertedOutputTotal.Add(float64(result.OutputAmount))

	if balance, err := o.treasury.RewardBalance(ctx); err != nil {
		o.log.Warn("failed to read reward balance after swap", "error", err)
	} else {
		o.log.Info("conversion completed",
			"input", inputAmount,
			"output", result.OutputAmount,
			"reward_balance", balance,
		)
	}

	if err := o.pub.PublishJSON(ctx, events.SubjectConversionCompleted, events.ConversionCompleted{
		ConversionID: id,
		InputAmount:  inputAmount,
		OutputAmount: result.OutputAmount,
		TxReference:  result.TxReference,
		Status:       string(models.ConversionSuccess),
		Timestamp:    o.now(),
	}); err != nil {
		o.log.Warn("failed to publish conversion event", "error", err)
	}

	return result.OutputAmount, nil
}

func (o *Orchestrator) resolveConversionFailed(ctx context.Context, id int64, cause error) {
	metrics.ConversionsTotal.WithLabelValues(string(models.ConversionFailed)).Inc()
	if err := o.store.ResolveConversion(ctx, id, 0, "", models.ConversionFailed, cause.Error()); err != nil {
		o.log.Error("failed to resolve conversion as failed", "conversion_id", id, "error", err)
	}
}

func (o *Orchestrator) recordStatus(ctx context.Context, outcome Outcome, distributionID, errText string) {
	if o.statusCache == nil {
		return
	}

	spendable, err := o.treasury.Spendable(ctx)
	if err != nil {
		spendable = 0
	}

	s := status.BotStatus{
		State:              "idle",
		LastCycleAt:        o.now(),
		LastCycleOutcome:   string(outcome),
		SpendableBalance:   spendable,
		LastDistributionID: distributionID,
		LastError:          errText,
	}
	if err := o.statusCache.Set(ctx, s); err != nil {
		o.log.Warn("failed to cache bot status", "error", err)
	}
}
