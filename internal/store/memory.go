package store

import (
	"context"
	"sort"
	"sync"

	"github.com/realdoomsman/BTC500/internal/models"
)

// MemoryStore implements Store in memory. It backs tests and dry-run
// experiments where no database is available; the engine is oblivious to
// which backend it talks to.
type MemoryStore struct {
	mu sync.RWMutex

	conversions   []*models.ConversionEvent
	distributions []*models.DistributionEvent
	allocations   []*models.TransferAllocation

	nextConversionID   int64
	nextDistributionID int64
	nextAllocationID   int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextConversionID:   1,
		nextDistributionID: 1,
		nextAllocationID:   1,
	}
}

func (s *MemoryStore) InsertConversion(_ context.Context, c *models.ConversionEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *c
	stored.ID = s.nextConversionID
	s.nextConversionID++
	s.conversions = append(s.conversions, &stored)

	return stored.ID, nil
}

func (s *MemoryStore) ResolveConversion(_ context.Context, id int64, outputAmount int64, txRef string, status models.ConversionStatus, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.conversions {
		if c.ID == id {
			c.OutputAmount = outputAmount
			c.TxReference = txRef
			c.Status = status
			c.Error = errText
			return nil
		}
	}

	return ErrConversionNotFound
}

func (s *MemoryStore) RecentConversions(_ context.Context, limit int) ([]*models.ConversionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.ConversionEvent, 0, len(s.conversions))
	for _, c := range s.conversions {
		copied := *c
		out = append(out, &copied)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

func (s *MemoryStore) TotalConverted(_ context.Context) (*ConversionTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := &ConversionTotals{}
	for _, c := range s.conversions {
		if c.Status == models.ConversionSuccess {
			t.TotalInput += c.InputAmount
			t.TotalOutput += c.OutputAmount
		}
	}

	return t, nil
}

func (s *MemoryStore) InsertDistribution(_ context.Context, d *models.DistributionEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.distributions {
		if existing.DistributionID == d.DistributionID {
			return 0, ErrDuplicateDistribution
		}
	}

	stored := *d
	stored.ID = s.nextDistributionID
	s.nextDistributionID++
	s.distributions = append(s.distributions, &stored)

	return stored.ID, nil
}

func (s *MemoryStore) UpdateDistributionStatus(_ context.Context, distributionID string, status models.DistributionStatus, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range s.distributions {
		if d.DistributionID == distributionID {
			d.Status = status
			d.Error = errText
			return nil
		}
	}

	return ErrDistributionNotFound
}

func (s *MemoryStore) DistributionByID(_ context.Context, distributionID string) (*models.DistributionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.distributions {
		if d.DistributionID == distributionID {
			copied := *d
			return &copied, nil
		}
	}

	return nil, ErrDistributionNotFound
}

func (s *MemoryStore) RecentDistributions(_ context.Context, limit int) ([]*models.DistributionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.DistributionEvent, 0, len(s.distributions))
	for _, d := range s.distributions {
		copied := *d
		out = append(out, &copied)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

func (s *MemoryStore) LastDistribution(ctx context.Context) (*models.DistributionEvent, error) {
	recent, err := s.RecentDistributions(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(recent) == 0 {
		return nil, ErrDistributionNotFound
	}

	return recent[0], nil
}

func (s *MemoryStore) TotalDistributed(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, d := range s.distributions {
		if d.Status == models.DistributionSuccess {
			total += d.TotalAmount
		}
	}

	return total, nil
}

func (s *MemoryStore) InsertAllocation(_ context.Context, a *models.TransferAllocation) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *a
	stored.ID = s.nextAllocationID
	s.nextAllocationID++
	s.allocations = append(s.allocations, &stored)

	return stored.ID, nil
}

func (s *MemoryStore) UpdateAllocationStatus(_ context.Context, id int64, status models.AllocationStatus, txRef, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.allocations {
		if a.ID == id {
			a.Status = status
			if txRef != "" {
				a.TxReference = txRef
			}
			a.Error = errText
			return nil
		}
	}

	return ErrAllocationNotFound
}

func (s *MemoryStore) AllocationsByDistribution(_ context.Context, distributionID string) ([]*models.TransferAllocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*models.TransferAllocation{}
	for _, a := range s.allocations {
		if a.DistributionID == distributionID {
			copied := *a
			out = append(out, &copied)
		}
	}

	return out, nil
}

func (s *MemoryStore) AllocationsByHolder(_ context.Context, holderAddress string) ([]*models.TransferAllocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*models.TransferAllocation{}
	for i := len(s.allocations) - 1; i >= 0; i-- {
		a := s.allocations[i]
		if a.HolderAddress == holderAddress && a.Status == models.AllocationSuccess {
			copied := *a
			out = append(out, &copied)
		}
	}

	return out, nil
}

func (s *MemoryStore) PendingAllocations(_ context.Context, distributionID string) ([]*models.TransferAllocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*models.TransferAllocation{}
	for _, a := range s.allocations {
		if a.DistributionID == distributionID && a.Status == models.AllocationPending {
			copied := *a
			out = append(out, &copied)
		}
	}

	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
