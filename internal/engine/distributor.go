// Package engine executes distributions: it turns a holder snapshot and
// a total reward amount into persisted allocations and batched on-chain
// transfers, with bounded retry and crash-safe resumption.
package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/realdoomsman/BTC500/internal/chain"
	"github.com/realdoomsman/BTC500/internal/config"
	"github.com/realdoomsman/BTC500/internal/events"
	"github.com/realdoomsman/BTC500/internal/holders"
	"github.com/realdoomsman/BTC500/internal/logging"
	"github.com/realdoomsman/BTC500/internal/metrics"
	"github.com/realdoomsman/BTC500/internal/models"
	"github.com/realdoomsman/BTC500/internal/store"
)

// Executor is the subset of the treasury client the engine needs.
type Executor interface {
	PrepareTransfer(ctx context.Context, destination string, amount int64) ([]chain.Instruction, error)
	SubmitBatch(ctx context.Context, instructions []chain.Instruction) (string, error)
}

// Result summarizes one distribution run.
type Result struct {
	DistributionID string
	TotalAmount    int64
	Planned        int
	Successful     int
	Failed         int
	Skipped        int
	TxReferences   []string
	Errors         []string
}

// Engine pays out reward amounts to holder snapshots.
type Engine struct {
	cfg   config.DistributionConfig
	store store.Store
	chain Executor
	pub   events.Publisher
	log   *logging.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
	newID func() string
}

// New creates a distribution engine.
func New(cfg config.DistributionConfig, st store.Store, exec Executor, pub events.Publisher, log *logging.Logger) *Engine {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Engine{
		cfg:   cfg,
		store: st,
		chain: exec,
		pub:   pub,
		log:   log.Component("engine"),
		sleep: sleepCtx,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Distribute pays totalAmount out to the snapshot proportionally to each
// holder's share. Every planned payment is persisted as a pending
// allocation before any funds move, so a crash mid-run leaves a
// resumable ledger rather than untracked payments.
func (e *Engine) Distribute(ctx context.Context, totalAmount int64, snapshot []holders.Holder) (*Result, error) {
	if totalAmount <= 0 {
		return nil, fmt.Errorf("distribution total must be positive, got %d", totalAmount)
	}

	result := &Result{
		DistributionID: e.newID(),
		TotalAmount:    totalAmount,
	}

	// The event row lands before any allocation is computed so a crash
	// mid-run is detectable. HolderCount is the full snapshot size;
	// dust-skipped holders are still part of the headline count.
	event := &models.DistributionEvent{
		DistributionID: result.DistributionID,
		Timestamp:      e.now(),
		TotalAmount:    totalAmount,
		HolderCount:    len(snapshot),
		Status:         models.DistributionInProgress,
	}
	if _, err := e.store.InsertDistribution(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to record distribution %s: %w", result.DistributionID, err)
	}

	// Shares are floored so the sum of payouts never exceeds the total;
	// dust below one unit stays with the payer.
	var allocations []*models.TransferAllocation
	for _, h := range snapshot {
		amount := int64(math.Floor(float64(totalAmount) * h.Share))
		if amount <= 0 {
			result.Skipped++
			continue
		}
		allocations = append(allocations, &models.TransferAllocation{
			DistributionID: result.DistributionID,
			HolderAddress:  h.Address,
			Amount:         amount,
			Status:         models.AllocationPending,
		})
	}
	result.Planned = len(allocations)

	if len(allocations) == 0 {
		e.log.Warn("no payable allocations", "distribution_id", result.DistributionID, "total", totalAmount)
		if err := e.store.UpdateDistributionStatus(ctx, result.DistributionID, models.DistributionSuccess, ""); err != nil {
			return nil, err
		}
		return result, nil
	}

	for _, a := range allocations {
		id, err := e.store.InsertAllocation(ctx, a)
		if err != nil {
			return nil, fmt.Errorf("failed to record allocation for %s: %w", a.HolderAddress, err)
		}
		a.ID = id
	}

	e.log.Info("distribution started",
		"distribution_id", result.DistributionID,
		"total", totalAmount,
		"allocations", len(allocations),
		"dry_run", e.cfg.DryRun,
	)

	if err := e.execute(ctx, result, allocations); err != nil {
		// Context cancellation mid-run: leave remaining allocations
		// pending for RetryPending to pick up.
		_ = e.store.UpdateDistributionStatus(ctx, result.DistributionID, models.DistributionFailed, err.Error())
		metrics.DistributionsTotal.WithLabelValues(string(models.DistributionFailed)).Inc()
		return result, err
	}

	// A completed run is a success even when allocations failed; the
	// allocation rows are the source of truth for completeness.
	status := models.DistributionSuccess
	var errText string
	if result.Failed > 0 {
		errText = fmt.Sprintf("%d of %d transfers failed", result.Failed, result.Planned)
	}
	if err := e.store.UpdateDistributionStatus(ctx, result.DistributionID, status, errText); err != nil {
		return result, fmt.Errorf("failed to finalize distribution %s: %w", result.DistributionID, err)
	}
	metrics.DistributionsTotal.WithLabelValues(string(status)).Inc()

	e.log.Info("distribution finished",
		"distribution_id", result.DistributionID,
		"status", status,
		"successful", result.Successful,
		"failed", result.Failed,
		"skipped", result.Skipped,
	)

	if err := e.pub.PublishJSON(ctx, events.SubjectDistributionCompleted, events.DistributionCompleted{
		DistributionID: result.DistributionID,
		TotalAmount:    totalAmount,
		HolderCount:    len(snapshot),
		Successful:     result.Successful,
		Failed:         result.Failed,
		Status:         string(status),
		Timestamp:      e.now(),
	}); err != nil {
		e.log.Warn("failed to publish distribution event", "error", err)
	}

	return result, nil
}

// RetryPending re-attempts the pending allocations of a previous
// distribution. A fresh distribution is created covering only the unpaid
// amounts, with shares rebuilt from the recorded amounts; old rows the
// new run re-attempted are closed as superseded, while rows it could not
// re-attempt stay pending. With nothing pending it returns a zero-total
// result and writes no new rows.
func (e *Engine) RetryPending(ctx context.Context, distributionID string) (*Result, error) {
	if _, err := e.store.DistributionByID(ctx, distributionID); err != nil {
		return nil, err
	}

	pending, err := e.store.PendingAllocations(ctx, distributionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending allocations for %s: %w", distributionID, err)
	}
	if len(pending) == 0 {
		e.log.Info("nothing pending to retry", "distribution_id", distributionID)
		return &Result{DistributionID: distributionID}, nil
	}

	var total int64
	for _, a := range pending {
		total += a.Amount
	}

	snapshot := make([]holders.Holder, 0, len(pending))
	for _, a := range pending {
		snapshot = append(snapshot, holders.Holder{
			Address: a.HolderAddress,
			Balance: a.Amount,
			Share:   float64(a.Amount) / float64(total),
		})
	}

	e.log.Info("retrying pending allocations",
		"distribution_id", distributionID,
		"pending", len(pending),
		"total", total,
	)

	result, err := e.Distribute(ctx, total, snapshot)
	if err != nil {
		return result, err
	}

	// Close out only the rows the new run actually re-attempted. A
	// holder the share round-trip floored to zero got no new row; its
	// old row must stay pending so the amount remains replayable.
	reattempted := make(map[string]bool, result.Planned)
	newAllocations, err := e.store.AllocationsByDistribution(ctx, result.DistributionID)
	if err != nil {
		return result, fmt.Errorf("failed to load retry allocations for %s: %w", result.DistributionID, err)
	}
	for _, a := range newAllocations {
		reattempted[a.HolderAddress] = true
	}

	for _, a := range pending {
		if !reattempted[a.HolderAddress] {
			e.log.Warn("allocation not re-attempted; left pending",
				"distribution_id", distributionID,
				"holder", a.HolderAddress,
				"amount", a.Amount,
			)
			continue
		}
		superseded := fmt.Sprintf("superseded by distribution %s", result.DistributionID)
		if err := e.store.UpdateAllocationStatus(ctx, a.ID, models.AllocationFailed, "", superseded); err != nil {
			return result, fmt.Errorf("failed to supersede allocation %d: %w", a.ID, err)
		}
	}

	return result, nil
}

// execute pays allocations out in fixed-size batches, in order. A batch
// failure never aborts the run; later batches still execute.
func (e *Engine) execute(ctx context.Context, result *Result, allocations []*models.TransferAllocation) error {
	for start := 0; start < len(allocations); start += e.cfg.BatchSize {
		end := min(start+e.cfg.BatchSize, len(allocations))
		if err := e.executeBatch(ctx, result, allocations[start:end]); err != nil {
			return err
		}

		if end < len(allocations) && e.cfg.BatchDelay > 0 {
			if err := e.sleep(ctx, e.cfg.BatchDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) executeBatch(ctx context.Context, result *Result, batch []*models.TransferAllocation) error {
	var instructions []chain.Instruction
	var payable []*models.TransferAllocation

	for _, a := range batch {
		instrs, err := e.chain.PrepareTransfer(ctx, a.HolderAddress, a.Amount)
		if err != nil {
			// An unpayable destination fails alone; the rest of the
			// batch still goes out.
			e.log.Warn("allocation unpayable", "holder", a.HolderAddress, "error", err)
			if err := e.markBatch(ctx, result, []*models.TransferAllocation{a}, models.AllocationFailed, "", err.Error()); err != nil {
				return err
			}
			continue
		}
		instructions = append(instructions, instrs...)
		payable = append(payable, a)
	}

	if len(payable) == 0 {
		return nil
	}

	if e.cfg.DryRun {
		return e.markBatch(ctx, result, payable, models.AllocationSuccess, models.DryRunReference, "")
	}

	txRef, err := e.submitWithRetry(ctx, instructions)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return e.markBatch(ctx, result, payable, models.AllocationFailed, "", err.Error())
	}

	return e.markBatch(ctx, result, payable, models.AllocationSuccess, txRef, "")
}

// submitWithRetry submits the batch up to MaxRetries times. Backoff
// grows linearly with the attempt number.
func (e *Engine) submitWithRetry(ctx context.Context, instructions []chain.Instruction) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		start := time.Now()
		txRef, err := e.chain.SubmitBatch(ctx, instructions)
		metrics.BatchSubmitDuration.Observe(time.Since(start).Seconds())
		if err == nil {
			return txRef, nil
		}
		lastErr = err

		e.log.Warn("batch submission failed",
			"attempt", attempt,
			"max_retries", e.cfg.MaxRetries,
			"error", err,
		)

		if attempt < e.cfg.MaxRetries {
			metrics.BatchRetriesTotal.Inc()
			if err := e.sleep(ctx, e.cfg.RetryBaseDelay*time.Duration(attempt)); err != nil {
				return "", err
			}
		}
	}
	return "", fmt.Errorf("batch failed after %d attempts: %w", e.cfg.MaxRetries, lastErr)
}

func (e *Engine) markBatch(ctx context.Context, result *Result, batch []*models.TransferAllocation, status models.AllocationStatus, txRef, errText string) error {
	for _, a := range batch {
		if err := e.store.UpdateAllocationStatus(ctx, a.ID, status, txRef, errText); err != nil {
			return fmt.Errorf("failed to update allocation %d: %w", a.ID, err)
		}
		metrics.AllocationsTotal.WithLabelValues(string(status)).Inc()
		if status == models.AllocationSuccess {
			result.Successful++
		} else {
			result.Failed++
		}
	}
	if status == models.AllocationSuccess && txRef != "" {
		result.TxReferences = append(result.TxReferences, txRef)
	}
	if errText != "" {
		result.Errors = append(result.Errors, errText)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
