package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/realdoomsman/BTC500/internal/models"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// InsertConversion records a new conversion attempt and returns its row id.
func (s *PostgresStore) InsertConversion(ctx context.Context, c *models.ConversionEvent) (int64, error) {
	query := `
		INSERT INTO conversions (timestamp, input_amount, output_amount, tx_reference, status, error)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		c.Timestamp, c.InputAmount, c.OutputAmount, c.TxReference, c.Status, nullable(c.Error),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert conversion: %w", err)
	}

	return id, nil
}

// ResolveConversion finalizes a pending conversion with its outcome.
func (s *PostgresStore) ResolveConversion(ctx context.Context, id int64, outputAmount int64, txRef string, status models.ConversionStatus, errText string) error {
	query := `
		UPDATE conversions
		SET output_amount = $1, tx_reference = $2, status = $3, error = $4
		WHERE id = $5
	`

	result, err := s.pool.Exec(ctx, query, outputAmount, txRef, status, nullable(errText), id)
	if err != nil {
		return fmt.Errorf("failed to resolve conversion: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrConversionNotFound
	}

	return nil
}

// RecentConversions returns the newest conversions first.
func (s *PostgresStore) RecentConversions(ctx context.Context, limit int) ([]*models.ConversionEvent, error) {
	query := `
		SELECT id, timestamp, input_amount, output_amount, tx_reference, status, COALESCE(error, '')
		FROM conversions
		ORDER BY timestamp DESC
		LIMIT $1
	`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversions: %w", err)
	}
	defer rows.Close()

	conversions := []*models.ConversionEvent{}
	for rows.Next() {
		c := &models.ConversionEvent{}
		if err := rows.Scan(&c.ID, &c.Timestamp, &c.InputAmount, &c.OutputAmount, &c.TxReference, &c.Status, &c.Error); err != nil {
			return nil, fmt.Errorf("failed to scan conversion: %w", err)
		}
		conversions = append(conversions, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return conversions, nil
}

// TotalConverted sums successful conversions.
func (s *PostgresStore) TotalConverted(ctx context.Context) (*ConversionTotals, error) {
	query := `
		SELECT COALESCE(SUM(input_amount), 0), COALESCE(SUM(output_amount), 0)
		FROM conversions
		WHERE status = 'success'
	`

	t := &ConversionTotals{}
	if err := s.pool.QueryRow(ctx, query).Scan(&t.TotalInput, &t.TotalOutput); err != nil {
		return nil, fmt.Errorf("failed to total conversions: %w", err)
	}

	return t, nil
}

// InsertDistribution records a new distribution event and returns its row id.
func (s *PostgresStore) InsertDistribution(ctx context.Context, d *models.DistributionEvent) (int64, error) {
	query := `
		INSERT INTO distributions (distribution_id, timestamp, total_amount, holder_count, status, error)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		d.DistributionID, d.Timestamp, d.TotalAmount, d.HolderCount, d.Status, nullable(d.Error),
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateDistribution
		}
		return 0, fmt.Errorf("failed to insert distribution: %w", err)
	}

	return id, nil
}

// UpdateDistributionStatus updates the top-level status of a distribution.
func (s *PostgresStore) UpdateDistributionStatus(ctx context.Context, distributionID string, status models.DistributionStatus, errText string) error {
	query := `
		UPDATE distributions
		SET status = $1, error = $2
		WHERE distribution_id = $3
	`

	result, err := s.pool.Exec(ctx, query, status, nullable(errText), distributionID)
	if err != nil {
		return fmt.Errorf("failed to update distribution status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrDistributionNotFound
	}

	return nil
}

// DistributionByID retrieves a distribution by its public identifier.
func (s *PostgresStore) DistributionByID(ctx context.Context, distributionID string) (*models.DistributionEvent, error) {
	query := `
		SELECT id, distribution_id, timestamp, total_amount, holder_count, status, COALESCE(error, '')
		FROM distributions
		WHERE distribution_id = $1
	`

	d := &models.DistributionEvent{}
	err := s.pool.QueryRow(ctx, query, distributionID).Scan(
		&d.ID, &d.DistributionID, &d.Timestamp, &d.TotalAmount, &d.HolderCount, &d.Status, &d.Error,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDistributionNotFound
		}
		return nil, fmt.Errorf("failed to get distribution: %w", err)
	}

	return d, nil
}

// RecentDistributions returns the newest distributions first.
func (s *PostgresStore) RecentDistributions(ctx context.Context, limit int) ([]*models.DistributionEvent, error) {
	query := `
		SELECT id, distribution_id, timestamp, total_amount, holder_count, status, COALESCE(error, '')
		FROM distributions
		ORDER BY timestamp DESC
		LIMIT $1
	`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list distributions: %w", err)
	}
	defer rows.Close()

	distributions := []*models.DistributionEvent{}
	for rows.Next() {
		d := &models.DistributionEvent{}
		if err := rows.Scan(&d.ID, &d.DistributionID, &d.Timestamp, &d.TotalAmount, &d.HolderCount, &d.Status, &d.Error); err != nil {
			return nil, fmt.Errorf("failed to scan distribution: %w", err)
		}
		distributions = append(distributions, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return distributions, nil
}

// LastDistribution returns the most recent distribution, or
// ErrDistributionNotFound if none exist yet.
func (s *PostgresStore) LastDistribution(ctx context.Context) (*models.DistributionEvent, error) {
	query := `
		SELECT id, distribution_id, timestamp, total_amount, holder_count, status, COALESCE(error, '')
		FROM distributions
		ORDER BY timestamp DESC
		LIMIT 1
	`

	d := &models.DistributionEvent{}
	err := s.pool.QueryRow(ctx, query).Scan(
		&d.ID, &d.DistributionID, &d.Timestamp, &d.TotalAmount, &d.HolderCount, &d.Status, &d.Error,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDistributionNotFound
		}
		return nil, fmt.Errorf("failed to get last distribution: %w", err)
	}

	return d, nil
}

// TotalDistributed sums completed distributions.
func (s *PostgresStore) TotalDistributed(ctx context.Context) (int64, error) {
	query := `
		SELECT COALESCE(SUM(total_amount), 0)
		FROM distributions
		WHERE status = 'success'
	`

	var total int64
	if err := s.pool.QueryRow(ctx, query).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to total distributions: %w", err)
	}

	return total, nil
}

// InsertAllocation records a planned transfer and returns its row id.
func (s *PostgresStore) InsertAllocation(ctx context.Context, a *models.TransferAllocation) (int64, error) {
	query := `
		INSERT INTO allocations (distribution_id, holder_address, amount, tx_reference, status, error)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		a.DistributionID, a.HolderAddress, a.Amount, nullable(a.TxReference), a.Status, nullable(a.Error),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert allocation: %w", err)
	}

	return id, nil
}

// UpdateAllocationStatus overwrites an allocation's status in place. An
// empty txRef preserves any previously recorded reference.
func (s *PostgresStore) UpdateAllocationStatus(ctx context.Context, id int64, status models.AllocationStatus, txRef, errText string) error {
	query := `
		UPDATE allocations
		SET status = $1, tx_reference = COALESCE(NULLIF($2, ''), tx_reference), error = $3
		WHERE id = $4
	`

	result, err := s.pool.Exec(ctx, query, status, txRef, nullable(errText), id)
	if err != nil {
		return fmt.Errorf("failed to update allocation status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrAllocationNotFound
	}

	return nil
}

// AllocationsByDistribution returns all allocations of a distribution in
// insertion order.
func (s *PostgresStore) AllocationsByDistribution(ctx context.Context, distributionID string) ([]*models.TransferAllocation, error) {
	return s.queryAllocations(ctx, `
		SELECT id, distribution_id, holder_address, amount, COALESCE(tx_reference, ''), status, COALESCE(error, '')
		FROM allocations
		WHERE distribution_id = $1
		ORDER BY id
	`, distributionID)
}

// AllocationsByHolder returns the successful payouts a holder received,
// newest first.
func (s *PostgresStore) AllocationsByHolder(ctx context.Context, holderAddress string) ([]*models.TransferAllocation, error) {
	return s.queryAllocations(ctx, `
		SELECT id, distribution_id, holder_address, amount, COALESCE(tx_reference, ''), status, COALESCE(error, '')
		FROM allocations
		WHERE holder_address = $1 AND status = 'success'
		ORDER BY id DESC
	`, holderAddress)
}

// PendingAllocations returns the allocations of a distribution still
// awaiting execution, in insertion order.
func (s *PostgresStore) PendingAllocations(ctx context.Context, distributionID string) ([]*models.TransferAllocation, error) {
	return s.queryAllocations(ctx, `
		SELECT id, distribution_id, holder_address, amount, COALESCE(tx_reference, ''), status, COALESCE(error, '')
		FROM allocations
		WHERE distribution_id = $1 AND status = 'pending'
		ORDER BY id
	`, distributionID)
}

func (s *PostgresStore) queryAllocations(ctx context.Context, query string, arg any) ([]*models.TransferAllocation, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	allocations := []*models.TransferAllocation{}
	for rows.Next() {
		a := &models.TransferAllocation{}
		if err := rows.Scan(&a.ID, &a.DistributionID, &a.HolderAddress, &a.Amount, &a.TxReference, &a.Status, &a.Error); err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		allocations = append(allocations, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return allocations, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// nullable maps "" to NULL so empty strings are not persisted as values.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
