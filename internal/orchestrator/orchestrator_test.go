package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/realdoomsman/BTC500/internal/config"
	"github.com/realdoomsman/BTC500/internal/engine"
	"github.com/realdoomsman/BTC500/internal/holders"
	"github.com/realdoomsman/BTC500/internal/logging"
	"github.com/realdoomsman/BTC500/internal/models"
	"github.com/realdoomsman/BTC500/internal/status"
	"github.com/realdoomsman/BTC500/internal/store"
	"github.com/realdoomsman/BTC500/internal/swap"
)

type mockTreasury struct {
	spendable     int64
	err           error
	calls         atomic.Int64
	rewardBalance int64
	ensureErr     error
	ensureCalls   atomic.Int64
}

func (m *mockTreasury) Spendable(context.Context) (int64, error) {
	m.calls.Add(1)
	return m.spendable, m.err
}

func (m *mockTreasury) RewardBalance(context.Context) (int64, error) {
	return m.rewardBalance, nil
}

func (m *mockTreasury) EnsureRewardAccount(context.Context) error {
	m.ensureCalls.Add(1)
	return m.ensureErr
}

type mockSwap struct {
	quoteFn   func(ctx context.Context, inputAmount int64) (*swap.Quote, error)
	executeFn func(ctx context.Context, quote *swap.Quote) (*swap.Result, error)
}

func (m *mockSwap) Quote(ctx context.Context, inputAmount int64) (*swap.Quote, error) {
	if m.quoteFn != nil {
		return m.quoteFn(ctx, inputAmount)
	}
	return &swap.Quote{InputAmount: inputAmount, ExpectedOutput: inputAmount / 1000}, nil
}

func (m *mockSwap) Execute(ctx context.Context, quote *swap.Quote) (*swap.Result, error) {
	if m.executeFn != nil {
		return m.executeFn(ctx, quote)
	}
	return &swap.Result{OutputAmount: quote.ExpectedOutput, TxReference: "sig-swap"}, nil
}

type mockSnapshotter struct {
	snapshot *holders.Snapshot
	err      error
}

func (m *mockSnapshotter) Snapshot(context.Context) (*holders.Snapshot, error) {
	return m.snapshot, m.err
}

type mockDistributor struct {
	result *engine.Result
	err    error

	gotTotal    int64
	gotSnapshot []holders.Holder
	calls       int
}

func (m *mockDistributor) Distribute(_ context.Context, totalAmount int64, snapshot []holders.Holder) (*engine.Result, error) {
	m.calls++
	m.gotTotal = totalAmount
	m.gotSnapshot = snapshot
	return m.result, m.err
}

type mockStatusCache struct {
	last *status.BotStatus
}

func (m *mockStatusCache) Set(_ context.Context, s status.BotStatus) error {
	m.last = &s
	return nil
}

type fixture struct {
	orch        *Orchestrator
	treasury    *mockTreasury
	swapper     *mockSwap
	snapshotter *mockSnapshotter
	distributor *mockDistributor
	statusCache *mockStatusCache
	store       *store.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		treasury: &mockTreasury{spendable: 150_000_000},
		swapper:  &mockSwap{},
		snapshotter: &mockSnapshotter{snapshot: &holders.Snapshot{
			Holders: []holders.Holder{
				{Address: "a", Share: 0.4},
				{Address: "b", Share: 0.6},
			},
		}},
		distributor: &mockDistributor{result: &engine.Result{
			DistributionID: "dist-1",
			Successful:     2,
		}},
		statusCache: &mockStatusCache{},
		store:       store.NewMemoryStore(),
	}

	f.orch = New(
		config.TreasuryConfig{SafetyFloor: 50_000_000, SwapThreshold: 100_000_000},
		10*time.Millisecond,
		f.treasury,
		f.swapper,
		f.snapshotter,
		f.distributor,
		f.store,
		f.statusCache,
		nil,
		logging.New(slog.LevelError, "text"),
	)

	return f
}

func TestCycleBelowThreshold(t *testing.T) {
	f := newFixture(t)
	f.treasury.spendable = 50_000_000

	outcome, _, err := f.orch.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeBelowThreshold, outcome)
	assert.Zero(t, f.distributor.calls)

	conversions, err := f.store.RecentConversions(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, conversions)
}

func TestCycleFullPipeline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	outcome, distributionID, err := f.orch.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDistributed, outcome)
	assert.Equal(t, "dist-1", distributionID)

	// The swap output, not the spendable input, is what gets distributed.
	assert.Equal(t, int64(150_000), f.distributor.gotTotal)
	assert.Len(t, f.distributor.gotSnapshot, 2)

	conversions, err := f.store.RecentConversions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, conversions, 1)
	assert.Equal(t, models.ConversionSuccess, conversions[0].Status)
	assert.Equal(t, int64(150_000_000), conversions[0].InputAmount)
	assert.Equal(t, int64(150_000), conversions[0].OutputAmount)
	assert.Equal(t, "sig-swap", conversions[0].TxReference)
}

func TestCycleEnsuresRewardAccountBeforeSwap(t *testing.T) {
	f := newFixture(t)
	f.swapper.quoteFn = func(_ context.Context, inputAmount int64) (*swap.Quote, error) {
		// The payer account must exist before any quote is requested.
		require.Equal(t, int64(1), f.treasury.ensureCalls.Load())
		return &swap.Quote{InputAmount: inputAmount, ExpectedOutput: inputAmount / 1000}, nil
	}

	_, _, err := f.orch.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.treasury.ensureCalls.Load())
}

func TestCycleEnsureRewardAccountFailure(t *testing.T) {
	f := newFixture(t)
	f.treasury.ensureErr = fmt.Errorf("treasury unavailable")

	outcome, _, err := f.orch.RunCycle(context.Background())
	require.Error(t, err)
	assert.Equal(t, OutcomeConversionFailed, outcome)
	assert.Zero(t, f.distributor.calls)

	// The failure happened before the swap was attempted, so no
	// conversion row exists.
	conversions, err := f.store.RecentConversions(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, conversions)
}

func TestCycleSwapFailureRecorded(t *testing.T) {
	f := newFixture(t)
	f.swapper.executeFn = func(context.Context, *swap.Quote) (*swap.Result, error) {
		return nil, fmt.Errorf("slippage tolerance exceeded")
	}

	outcome, _, err := f.orch.RunCycle(context.Background())
	require.Error(t, err)
	assert.Equal(t, OutcomeConversionFailed, outcome)
	assert.Zero(t, f.distributor.calls)

	conversions, err := f.store.RecentConversions(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, conversions, 1)
	assert.Equal(t, models.ConversionFailed, conversions[0].Status)
	assert.Contains(t, conversions[0].Error, "slippage")
}

func TestCycleNoHoldersSkipsDistribution(t *testing.T) {
	f := newFixture(t)
	f.snapshotter.snapshot = &holders.Snapshot{}

	outcome, _, err := f.orch.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoHolders, outcome)
	assert.Zero(t, f.distributor.calls)

	// The conversion still happened; funds wait for the next snapshot.
	conversions, err := f.store.RecentConversions(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, conversions, 1)
	assert.Equal(t, models.ConversionSuccess, conversions[0].Status)
}

func TestCycleSnapshotFailure(t *testing.T) {
	f := newFixture(t)
	f.snapshotter.snapshot = nil
	f.snapshotter.err = fmt.Errorf("rpc unavailable")

	outcome, _, err := f.orch.RunCycle(context.Background())
	require.Error(t, err)
	assert.Equal(t, OutcomeSnapshotFailed, outcome)
	assert.Zero(t, f.distributor.calls)
}

func TestCycleDistributionFailure(t *testing.T) {
	f := newFixture(t)
	f.distributor.result = &engine.Result{DistributionID: "dist-1"}
	f.distributor.err = fmt.Errorf("context canceled")

	outcome, distributionID, err := f.orch.RunCycle(context.Background())
	require.Error(t, err)
	assert.Equal(t, OutcomeDistributionFailed, outcome)
	assert.Equal(t, "dist-1", distributionID)
}

func TestCycleRecordsBotStatus(t *testing.T) {
	f := newFixture(t)

	f.orch.cycle(context.Background())

	require.NotNil(t, f.statusCache.last)
	assert.Equal(t, string(OutcomeDistributed), f.statusCache.last.LastCycleOutcome)
	assert.Equal(t, "dist-1", f.statusCache.last.LastDistributionID)
	assert.Equal(t, int64(150_000_000), f.statusCache.last.SpendableBalance)
	assert.Empty(t, f.statusCache.last.LastError)
}

func TestRunCyclesUntilCancelled(t *testing.T) {
	f := newFixture(t)
	f.treasury.spendable = 0 // short-circuit each cycle

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.orch.Run(ctx) }()

	// Each cycle reads the balance twice (pipeline + status). Waiting
	// for four reads proves the immediate cycle plus at least one tick.
	assert.Eventually(t, func() bool {
		return f.treasury.calls.Load() >= 4
	}, time.Second, 5*time.Millisecond)

	cancel()
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
}
