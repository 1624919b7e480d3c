package postgres

import (
	"context"
	"fmt"

	"equity-auto-trader/internal/domain"
	"equity-auto-trader/internal/storage"
)

// SignalStore implements storage.SignalStore using PostgreSQL.
type SignalStore struct {
	pool *Pool
}

// NewSignalStore creates a new SignalStore.
func NewSignalStore(pool *Pool) *SignalStore {
	return &SignalStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SignalStore = (*SignalStore)(nil)

// Insert adds a signal record. Returns ErrDuplicateKey if the dedup key exists.
func (s *SignalStore) Insert(ctx context.Context, r *domain.SignalRecord) error {
	if r == nil || r.DedupKey == "" || r.InstrumentKey == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO signal_records (dedup_key, instrument_key, strategy_tag, received_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := s.pool.Exec(ctx, query, r.DedupKey, r.InstrumentKey, r.StrategyTag, r.ReceivedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert signal record: %w", err)
	}
	return nil
}

// ListByInstrument retrieves records for an instrument key, ordered by ReceivedAt ASC.
func (s *SignalStore) ListByInstrument(ctx context.Context, instrumentKey string) ([]*domain.SignalRecord, error) {
	query := `
		SELECT dedup_key, instrument_key, strategy_tag, received_at
		FROM signal_records
		WHERE instrument_key = $1
		ORDER BY received_at ASC, dedup_key ASC
	`

	rows, err := s.pool.Query(ctx, query, instrumentKey)
	if err != nil {
		return nil, fmt.Errorf("list signal records: %w", err)
	}
	defer rows.Close()

	var result []*domain.SignalRecord
	for rows.Next() {
		var r domain.SignalRecord
		if err := rows.Scan(&r.DedupKey, &r.InstrumentKey, &r.StrategyTag, &r.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan signal record: %w", err)
		}
		result = append(result, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate signal records: %w", err)
	}
	return result, nil
}
