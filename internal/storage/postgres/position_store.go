package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"equity-auto-trader/internal/domain"
	"equity-auto-trader/internal/storage"
)

// PositionStore implements storage.PositionStore using PostgreSQL.
// A partial unique index on (instrument) WHERE status <> 'Closed' enforces
// the one-open-position-per-instrument invariant at the database level, so
// concurrent creates cannot both succeed.
type PositionStore struct {
	pool *Pool
}

// NewPositionStore creates a new PositionStore.
func NewPositionStore(pool *Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PositionStore = (*PositionStore)(nil)

const positionColumns = `
	id, instrument, side, entry_price, entry_qty, remaining_qty,
	status, peak_price, trailing_stop_price, opened_at, closed_at
`

// Create inserts a new position. Returns ErrDuplicateKey if the id exists
// or the instrument already has a non-Closed position.
func (s *PositionStore) Create(ctx context.Context, p *domain.Position) error {
	if p == nil || p.ID == "" || p.Instrument == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO positions (` + positionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := s.pool.Exec(ctx, query,
		p.ID,
		p.Instrument,
		string(p.Side),
		p.EntryPrice,
		p.EntryQty,
		p.RemainingQty,
		string(p.Status),
		p.PeakPrice,
		p.TrailingStopPrice,
		p.OpenedAt,
		p.ClosedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert position: %w", err)
	}
	return nil
}

// Update replaces the stored record for p.ID.
func (s *PositionStore) Update(ctx context.Context, p *domain.Position) error {
	if p == nil || p.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		UPDATE positions SET
			remaining_qty = $2,
			status = $3,
			peak_price = $4,
			trailing_stop_price = $5,
			closed_at = $6
		WHERE id = $1
	`

	tag, err := s.pool.Exec(ctx, query,
		p.ID,
		p.RemainingQty,
		string(p.Status),
		p.PeakPrice,
		p.TrailingStopPrice,
		p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetByID retrieves a position by id. Returns ErrNotFound if not exists.
func (s *PositionStore) GetByID(ctx context.Context, id string) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE id = $1`

	row := s.pool.QueryRow(ctx, query, id)
	p, err := scanPosition(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get position by id: %w", err)
	}
	return p, nil
}

// GetOpenByInstrument retrieves the single non-Closed position for an instrument.
func (s *PositionStore) GetOpenByInstrument(ctx context.Context, instrument string) (*domain.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE instrument = $1 AND status <> $2
	`

	row := s.pool.QueryRow(ctx, query, instrument, string(domain.StatusClosed))
	p, err := scanPosition(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get open position: %w", err)
	}
	return p, nil
}

// ListOpen retrieves all non-Closed positions, ordered by OpenedAt ASC.
func (s *PositionStore) ListOpen(ctx context.Context) ([]*domain.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE status <> $1
		ORDER BY opened_at ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, string(domain.StatusClosed))
	if err != nil {
		return nil, fmt.Errorf("list open positions: %w", err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

// ListByInstrument retrieves the full history for an instrument, ordered by OpenedAt ASC.
func (s *PositionStore) ListByInstrument(ctx context.Context, instrument string) ([]*domain.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE instrument = $1
		ORDER BY opened_at ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, instrument)
	if err != nil {
		return nil, fmt.Errorf("list positions by instrument: %w", err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

// scanPosition scans a single position row.
func scanPosition(row pgx.Row) (*domain.Position, error) {
	var p domain.Position
	var side, status string

	err := row.Scan(
		&p.ID,
		&p.Instrument,
		&side,
		&p.EntryPrice,
		&p.EntryQty,
		&p.RemainingQty,
		&status,
		&p.PeakPrice,
		&p.TrailingStopPrice,
		&p.OpenedAt,
		&p.ClosedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Side = domain.PositionSide(side)
	p.Status = domain.PositionStatus(status)
	return &p, nil
}

// scanPositions scans all position rows.
func scanPositions(rows pgx.Rows) ([]*domain.Position, error) {
	var result []*domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate positions: %w", err)
	}
	return result, nil
}
