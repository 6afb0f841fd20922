package engine

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/realdoomsman/BTC500/internal/chain"
	"github.com/realdoomsman/BTC500/internal/config"
	"github.com/realdoomsman/BTC500/internal/holders"
	"github.com/realdoomsman/BTC500/internal/logging"
	"github.com/realdoomsman/BTC500/internal/models"
	"github.com/realdoomsman/BTC500/internal/store"
)

type mockExecutor struct {
	prepareFn func(ctx context.Context, destination string, amount int64) ([]chain.Instruction, error)
	submitFn  func(ctx context.Context, instructions []chain.Instruction) (string, error)

	submitted [][]chain.Instruction
}

func (m *mockExecutor) PrepareTransfer(ctx context.Context, destination string, amount int64) ([]chain.Instruction, error) {
	if m.prepareFn != nil {
		return m.prepareFn(ctx, destination, amount)
	}
	return []chain.Instruction{{Type: chain.InstructionTransfer, Destination: destination, Amount: amount}}, nil
}

func (m *mockExecutor) SubmitBatch(ctx context.Context, instructions []chain.Instruction) (string, error) {
	m.submitted = append(m.submitted, instructions)
	if m.submitFn != nil {
		return m.submitFn(ctx, instructions)
	}
	return fmt.Sprintf("sig-%d", len(m.submitted)), nil
}

type testEngine struct {
	*Engine
	store  *store.MemoryStore
	exec   *mockExecutor
	sleeps []time.Duration
}

func newTestEngine(t *testing.T, cfg config.DistributionConfig) *testEngine {
	t.Helper()

	st := store.NewMemoryStore()
	exec := &mockExecutor{}

	te := &testEngine{store: st, exec: exec}
	eng := New(cfg, st, exec, nil, logging.New(slog.LevelError, "text"))
	eng.sleep = func(_ context.Context, d time.Duration) error {
		te.sleeps = append(te.sleeps, d)
		return nil
	}
	var seq int
	eng.newID = func() string {
		seq++
		return fmt.Sprintf("dist-%d", seq)
	}
	te.Engine = eng

	return te
}

func defaultConfig() config.DistributionConfig {
	return config.DistributionConfig{
		BatchSize:      5,
		MaxRetries:     3,
		RetryBaseDelay: 2 * time.Second,
		BatchDelay:     500 * time.Millisecond,
	}
}

func TestDistributeProportionalAmounts(t *testing.T) {
	te := newTestEngine(t, defaultConfig())
	ctx := context.Background()

	result, err := te.Distribute(ctx, 100, []holders.Holder{
		{Address: "holder-a", Share: 0.3},
		{Address: "holder-b", Share: 0.7},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Planned)
	assert.Equal(t, 2, result.Successful)
	assert.Zero(t, result.Failed)

	allocs, err := te.store.AllocationsByDistribution(ctx, result.DistributionID)
	require.NoError(t, err)
	require.Len(t, allocs, 2)
	assert.Equal(t, int64(30), allocs[0].Amount)
	assert.Equal(t, int64(70), allocs[1].Amount)
	for _, a := range allocs {
		assert.Equal(t, models.AllocationSuccess, a.Status)
		assert.Equal(t, "sig-1", a.TxReference) // one batch, shared reference
	}

	event, err := te.store.DistributionByID(ctx, result.DistributionID)
	require.NoError(t, err)
	assert.Equal(t, models.DistributionSuccess, event.Status)
	assert.Equal(t, 2, event.HolderCount)
}

func TestDistributeFloorsFractionalShares(t *testing.T) {
	te := newTestEngine(t, defaultConfig())

	result, err := te.Distribute(context.Background(), 10, []holders.Holder{
		{Address: "a", Share: 0.15},
		{Address: "b", Share: 0.15},
		{Address: "c", Share: 0.7},
	})
	require.NoError(t, err)

	allocs, err := te.store.AllocationsByDistribution(context.Background(), result.DistributionID)
	require.NoError(t, err)
	require.Len(t, allocs, 3)

	var sum int64
	for _, a := range allocs {
		sum += a.Amount
	}
	assert.Equal(t, int64(1), allocs[0].Amount)
	assert.Equal(t, int64(1), allocs[1].Amount)
	assert.Equal(t, int64(7), allocs[2].Amount)
	assert.LessOrEqual(t, sum, int64(10))
}

func TestDistributeSkipsDustShares(t *testing.T) {
	te := newTestEngine(t, defaultConfig())

	result, err := te.Distribute(context.Background(), 10, []holders.Holder{
		{Address: "whale", Share: 0.99},
		{Address: "dust", Share: 0.01}, // floors to zero
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Planned)
	assert.Equal(t, 1, result.Skipped)

	allocs, err := te.store.AllocationsByDistribution(context.Background(), result.DistributionID)
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	assert.Equal(t, "whale", allocs[0].HolderAddress)

	// The headline count covers the whole snapshot, skipped dust
	// included.
	event, err := te.store.DistributionByID(context.Background(), result.DistributionID)
	require.NoError(t, err)
	assert.Equal(t, 2, event.HolderCount)
}

func TestDistributeRejectsNonPositiveTotal(t *testing.T) {
	te := newTestEngine(t, defaultConfig())

	_, err := te.Distribute(context.Background(), 0, nil)
	assert.Error(t, err)
}

func TestBatchRetrySucceedsWithBackoff(t *testing.T) {
	te := newTestEngine(t, defaultConfig())

	var attempts int
	te.exec.submitFn = func(context.Context, []chain.Instruction) (string, error) {
		attempts++
		if attempts < 3 {
			return "", fmt.Errorf("blockhash expired")
		}
		return "sig-final", nil
	}

	result, err := te.Distribute(context.Background(), 100, []holders.Holder{
		{Address: "a", Share: 0.5},
		{Address: "b", Share: 0.5},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2, result.Successful)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, te.sleeps)

	allocs, err := te.store.AllocationsByDistribution(context.Background(), result.DistributionID)
	require.NoError(t, err)
	require.Len(t, allocs, 2) // retries never duplicate rows
	for _, a := range allocs {
		assert.Equal(t, "sig-final", a.TxReference)
	}
}

func TestBatchRetriesExhaustedLaterBatchesStillRun(t *testing.T) {
	te := newTestEngine(t, defaultConfig())

	// First batch (attempts 1-3) never lands; second batch succeeds.
	var attempts int
	te.exec.submitFn = func(context.Context, []chain.Instruction) (string, error) {
		attempts++
		if attempts <= 3 {
			return "", fmt.Errorf("node unreachable")
		}
		return "sig-batch-2", nil
	}

	snapshot := make([]holders.Holder, 6)
	for i := range snapshot {
		snapshot[i] = holders.Holder{Address: fmt.Sprintf("holder-%d", i), Share: 1.0 / 6.0}
	}

	result, err := te.Distribute(context.Background(), 600, snapshot)
	require.NoError(t, err)

	assert.Equal(t, 5, result.Failed)
	assert.Equal(t, 1, result.Successful)

	allocs, err := te.store.AllocationsByDistribution(context.Background(), result.DistributionID)
	require.NoError(t, err)
	require.Len(t, allocs, 6)
	for _, a := range allocs[:5] {
		assert.Equal(t, models.AllocationFailed, a.Status)
		assert.Contains(t, a.Error, "node unreachable")
	}
	assert.Equal(t, models.AllocationSuccess, allocs[5].Status)
	assert.Equal(t, "sig-batch-2", allocs[5].TxReference)

	// Partial success still finishes the distribution.
	event, err := te.store.DistributionByID(context.Background(), result.DistributionID)
	require.NoError(t, err)
	assert.Equal(t, models.DistributionSuccess, event.Status)
	assert.Contains(t, event.Error, "5 of 6 transfers failed")
}

func TestAllTransfersFailedStillCompletesRun(t *testing.T) {
	te := newTestEngine(t, defaultConfig())
	te.exec.submitFn = func(context.Context, []chain.Instruction) (string, error) {
		return "", fmt.Errorf("node unreachable")
	}

	result, err := te.Distribute(context.Background(), 100, []holders.Holder{{Address: "a", Share: 1}})
	require.NoError(t, err)
	assert.Zero(t, result.Successful)
	assert.NotEmpty(t, result.Errors)

	// The run completed, so the event reads success; the failed
	// allocation rows carry the real outcome.
	event, err := te.store.DistributionByID(context.Background(), result.DistributionID)
	require.NoError(t, err)
	assert.Equal(t, models.DistributionSuccess, event.Status)
	assert.Contains(t, event.Error, "1 of 1 transfers failed")
}

func TestPrepareFailureIsolatedFromBatch(t *testing.T) {
	te := newTestEngine(t, defaultConfig())
	te.exec.prepareFn = func(_ context.Context, destination string, amount int64) ([]chain.Instruction, error) {
		if destination == "bad" {
			return nil, fmt.Errorf("invalid address")
		}
		return []chain.Instruction{{Type: chain.InstructionTransfer, Destination: destination, Amount: amount}}, nil
	}

	result, err := te.Distribute(context.Background(), 100, []holders.Holder{
		{Address: "good-1", Share: 0.4},
		{Address: "bad", Share: 0.2},
		{Address: "good-2", Share: 0.4},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Successful)
	assert.Equal(t, 1, result.Failed)

	// The submitted batch excludes the unpayable destination.
	require.Len(t, te.exec.submitted, 1)
	for _, instr := range te.exec.submitted[0] {
		assert.NotEqual(t, "bad", instr.Destination)
	}
}

func TestDryRunSkipsSubmission(t *testing.T) {
	cfg := defaultConfig()
	cfg.DryRun = true
	te := newTestEngine(t, cfg)

	result, err := te.Distribute(context.Background(), 100, []holders.Holder{
		{Address: "a", Share: 0.5},
		{Address: "b", Share: 0.5},
	})
	require.NoError(t, err)

	assert.Empty(t, te.exec.submitted)
	assert.Equal(t, 2, result.Successful)

	allocs, err := te.store.AllocationsByDistribution(context.Background(), result.DistributionID)
	require.NoError(t, err)
	for _, a := range allocs {
		assert.Equal(t, models.AllocationSuccess, a.Status)
		assert.Equal(t, models.DryRunReference, a.TxReference)
	}
}

func TestRetryPendingPaysUnpaidAmounts(t *testing.T) {
	te := newTestEngine(t, defaultConfig())
	ctx := context.Background()

	// A crashed run: distribution stuck in progress, two unpaid rows.
	_, err := te.store.InsertDistribution(ctx, &models.DistributionEvent{
		DistributionID: "crashed",
		Timestamp:      time.Now(),
		TotalAmount:    100,
		HolderCount:    2,
		Status:         models.DistributionInProgress,
	})
	require.NoError(t, err)
	for _, a := range []*models.TransferAllocation{
		{DistributionID: "crashed", HolderAddress: "a", Amount: 30, Status: models.AllocationPending},
		{DistributionID: "crashed", HolderAddress: "b", Amount: 70, Status: models.AllocationPending},
	} {
		_, err := te.store.InsertAllocation(ctx, a)
		require.NoError(t, err)
	}

	result, err := te.RetryPending(ctx, "crashed")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.NotEqual(t, "crashed", result.DistributionID)
	assert.Equal(t, int64(100), result.TotalAmount)
	assert.Equal(t, 2, result.Successful)

	allocs, err := te.store.AllocationsByDistribution(ctx, result.DistributionID)
	require.NoError(t, err)
	require.Len(t, allocs, 2)
	assert.Equal(t, int64(30), allocs[0].Amount)
	assert.Equal(t, int64(70), allocs[1].Amount)

	// The old rows are closed out so they cannot be retried twice.
	pending, err := te.store.PendingAllocations(ctx, "crashed")
	require.NoError(t, err)
	assert.Empty(t, pending)

	// A second retry finds nothing pending: zero totals, no new rows.
	distributionsBefore, err := te.store.RecentDistributions(ctx, 100)
	require.NoError(t, err)

	again, err := te.RetryPending(ctx, "crashed")
	require.NoError(t, err)
	assert.Equal(t, "crashed", again.DistributionID)
	assert.Zero(t, again.TotalAmount)
	assert.Zero(t, again.Planned)

	distributionsAfter, err := te.store.RecentDistributions(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, distributionsAfter, len(distributionsBefore))
}

func TestRetryPendingLeavesUnattemptedRowsPending(t *testing.T) {
	te := newTestEngine(t, defaultConfig())
	ctx := context.Background()

	// 49 one-unit rows: share = 1/49, and 49 * (1/49) lands just below
	// 1.0 in float64, so every rebuilt amount floors to zero and no row
	// is re-attempted.
	_, err := te.store.InsertDistribution(ctx, &models.DistributionEvent{
		DistributionID: "crashed",
		Timestamp:      time.Now(),
		TotalAmount:    49,
		HolderCount:    49,
		Status:         models.DistributionInProgress,
	})
	require.NoError(t, err)
	for i := 0; i < 49; i++ {
		_, err := te.store.InsertAllocation(ctx, &models.TransferAllocation{
			DistributionID: "crashed",
			HolderAddress:  fmt.Sprintf("holder-%d", i),
			Amount:         1,
			Status:         models.AllocationPending,
		})
		require.NoError(t, err)
	}

	result, err := te.RetryPending(ctx, "crashed")
	require.NoError(t, err)
	assert.Zero(t, result.Planned)
	assert.Equal(t, 49, result.Skipped)

	// Nothing was paid, so nothing may be closed as superseded: the owed
	// amounts must stay replayable.
	pending, err := te.store.PendingAllocations(ctx, "crashed")
	require.NoError(t, err)
	assert.Len(t, pending, 49)
}

func TestRetryPendingUnknownDistribution(t *testing.T) {
	te := newTestEngine(t, defaultConfig())

	_, err := te.RetryPending(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrDistributionNotFound)
}
