package clickhouse

import (
	"context"
	"fmt"
	"time"

	"equity-auto-trader/internal/domain"
	"equity-auto-trader/internal/storage"
)

// CandleStore archives closed candles in ClickHouse. Closed candles are
// immutable so the store is append-only; duplicates are left to the
// MergeTree engine to collapse on merge.
type CandleStore struct {
	conn *Conn
}

// NewCandleStore creates a new CandleStore.
func NewCandleStore(conn *Conn) *CandleStore {
	return &CandleStore{conn: conn}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

// InsertBulk appends closed candles.
func (s *CandleStore) InsertBulk(ctx context.Context, candles []*domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO candles (
			instrument, interval_ms, interval_start, open, high, low, close, volume, tick_count
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, c := range candles {
		err = batch.Append(
			c.Instrument,
			uint64(c.Interval.Milliseconds()),
			uint64(c.IntervalStart.UnixMilli()),
			c.Open, c.High, c.Low, c.Close,
			c.Volume,
			uint32(c.TickCount),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByInstrument retrieves candles for an instrument within [start, end]
// (inclusive, unix milliseconds), ordered by IntervalStart ASC.
func (s *CandleStore) GetByInstrument(ctx context.Context, instrument string, start, end int64) ([]*domain.Candle, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT instrument, interval_ms, interval_start, open, high, low, close, volume, tick_count
		FROM candles
		WHERE instrument = ? AND interval_start >= ? AND interval_start <= ?
		ORDER BY interval_start ASC
	`, instrument, uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer rows.Close()

	var result []*domain.Candle
	for rows.Next() {
		var (
			c             domain.Candle
			intervalMs    uint64
			intervalStart uint64
			tickCount     uint32
		)
		if err := rows.Scan(
			&c.Instrument, &intervalMs, &intervalStart,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &tickCount,
		); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.Interval = time.Duration(intervalMs) * time.Millisecond
		c.IntervalStart = time.UnixMilli(int64(intervalStart)).UTC()
		c.TickCount = int(tickCount)
		result = append(result, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candles: %w", err)
	}
	return result, nil
}
