// Package store owns persistence of the distribution ledger. Rows are
// append/update-only: nothing is ever physically removed, so the tables
// double as the audit trail.
package store

import (
	"context"
	"errors"

	"github.com/realdoomsman/BTC500/internal/models"
)

var (
	ErrConversionNotFound    = errors.New("conversion not found")
	ErrDistributionNotFound  = errors.New("distribution not found")
	ErrAllocationNotFound    = errors.New("allocation not found")
	ErrDuplicateDistribution = errors.New("distribution id already exists")
)

// ConversionTotals aggregates resolved conversions for reporting.
type ConversionTotals struct {
	TotalInput  int64
	TotalOutput int64
}

// Store defines the interface for ledger persistence. Backend choice
// (Postgres or in-memory) is a construction-time decision; engine logic
// never branches on it.
type Store interface {
	// Conversions
	InsertConversion(ctx context.Context, c *models.ConversionEvent) (int64, error)
	ResolveConversion(ctx context.Context, id int64, outputAmount int64, txRef string, status models.ConversionStatus, errText string) error
	RecentConversions(ctx context.Context, limit int) ([]*models.ConversionEvent, error)
	TotalConverted(ctx context.Context) (*ConversionTotals, error)

	// Distributions
	InsertDistribution(ctx context.Context, d *models.DistributionEvent) (int64, error)
	UpdateDistributionStatus(ctx context.Context, distributionID string, status models.DistributionStatus, errText string) error
	DistributionByID(ctx context.Context, distributionID string) (*models.DistributionEvent, error)
	RecentDistributions(ctx context.Context, limit int) ([]*models.DistributionEvent, error)
	LastDistribution(ctx context.Context) (*models.DistributionEvent, error)
	TotalDistributed(ctx context.Context) (int64, error)

	// Allocations
	InsertAllocation(ctx context.Context, a *models.TransferAllocation) (int64, error)
	UpdateAllocationStatus(ctx context.Context, id int64, status models.AllocationStatus, txRef, errText string) error
	AllocationsByDistribution(ctx context.Context, distributionID string) ([]*models.TransferAllocation, error)
	AllocationsByHolder(ctx context.Context, holderAddress string) ([]*models.TransferAllocation, error)
	PendingAllocations(ctx context.Context, distributionID string) ([]*models.TransferAllocation, error)

	// Utility
	Close() error
}
