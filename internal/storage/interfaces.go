package storage

import (
	"context"

	"equity-auto-trader/internal/domain"
)

// PositionStore is the durable, authoritative record of all positions.
// The position engine is the only writer; every other component reads
// snapshots. Implementations must enforce at most one non-Closed position
// per instrument.
type PositionStore interface {
	// Create inserts a new position. Returns ErrDuplicateKey if the id
	// exists or the instrument already has a non-Closed position.
	Create(ctx context.Context, p *domain.Position) error

	// Update replaces the stored record for p.ID. Returns ErrNotFound if
	// the position does not exist.
	Update(ctx context.Context, p *domain.Position) error

	// GetByID retrieves a position by id. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.Position, error)

	// GetOpenByInstrument retrieves the single non-Closed position for an
	// instrument. Returns ErrNotFound if the instrument has none.
	GetOpenByInstrument(ctx context.Context, instrument string) (*domain.Position, error)

	// ListOpen retrieves all non-Closed positions, ordered by OpenedAt ASC.
	ListOpen(ctx context.Context) ([]*domain.Position, error)

	// ListByInstrument retrieves the full history for an instrument,
	// ordered by OpenedAt ASC. Closed positions are retained for audit.
	ListByInstrument(ctx context.Context, instrument string) ([]*domain.Position, error)
}

// SignalStore keeps the audit trail of accepted signals.
type SignalStore interface {
	// Insert adds a signal record. Returns ErrDuplicateKey if the dedup
	// key exists.
	Insert(ctx context.Context, r *domain.SignalRecord) error

	// ListByInstrument retrieves records for an instrument key, ordered by
	// ReceivedAt ASC.
	ListByInstrument(ctx context.Context, instrumentKey string) ([]*domain.SignalRecord, error)
}

// CandleStore archives closed candles for later analysis. Closed candles
// are immutable, so the store is append-only.
type CandleStore interface {
	// InsertBulk appends closed candles.
	InsertBulk(ctx context.Context, candles []*domain.Candle) error

	// GetByInstrument retrieves candles for an instrument within
	// [start, end] (inclusive), ordered by IntervalStart ASC.
	GetByInstrument(ctx context.Context, instrument string, start, end int64) ([]*domain.Candle, error)
}
