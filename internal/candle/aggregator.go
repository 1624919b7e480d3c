// Package candle folds ticks into fixed-interval OHLCV bars.
package candle

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"equity-auto-trader/internal/domain"
	"equity-auto-trader/internal/observability"
)

// Aggregator maintains one open candle per instrument for a fixed
// interval. State is in-memory only; after a restart the first tick per
// instrument starts a fresh candle.
type Aggregator struct {
	interval time.Duration
	logger   *zap.Logger
	metrics  *observability.Metrics

	mu   sync.Mutex
	open map[string]*domain.Candle
}

// New creates an aggregator for one interval.
func New(interval time.Duration, logger *zap.Logger, metrics *observability.Metrics) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		interval: interval,
		logger:   logger,
		metrics:  metrics,
		open:     make(map[string]*domain.Candle),
	}
}

// Observe folds one tick. If the tick starts a later interval, the
// previously open candle is closed and returned; the returned candle is a
// detached copy and immutable from the caller's point of view.
//
// Ticks older than the open interval are dropped and counted; a closed
// candle is never reopened.
func (a *Aggregator) Observe(tick domain.Tick) (*domain.Candle, bool) {
	start := tick.EventTime.Truncate(a.interval)

	a.mu.Lock()
	defer a.mu.Unlock()

	current, ok := a.open[tick.Instrument]
	if !ok {
		a.open[tick.Instrument] = seed(tick, a.interval, start)
		return nil, false
	}

	if start.Before(current.IntervalStart) {
		if a.metrics != nil {
			a.metrics.StaleTicksDropped.Inc()
		}
		a.logger.Debug("dropping stale tick",
			zap.String("instrument", tick.Instrument),
			zap.Time("event_time", tick.EventTime),
			zap.Time("open_interval", current.IntervalStart),
		)
		return nil, false
	}

	if start.Equal(current.IntervalStart) {
		if tick.Price > current.High {
			current.High = tick.Price
		}
		if tick.Price < current.Low {
			current.Low = tick.Price
		}
		current.Close = tick.Price
		current.Volume += tick.Size
		current.TickCount++
		return nil, false
	}

	// Tick belongs to a later interval: close the current candle and seed
	// the next one with this tick.
	closed := *current
	a.open[tick.Instrument] = seed(tick, a.interval, start)

	if a.metrics != nil {
		a.metrics.CandlesClosed.Inc()
	}
	return &closed, true
}

// Snapshot returns a copy of the currently open candle for an instrument.
func (a *Aggregator) Snapshot(instrument string) (*domain.Candle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	current, ok := a.open[instrument]
	if !ok {
		return nil, false
	}
	cp := *current
	return &cp, true
}

func seed(tick domain.Tick, interval time.Duration, start time.Time) *domain.Candle {
	return &domain.Candle{
		Instrument:    tick.Instrument,
		Interval:      interval,
		IntervalStart: start,
		Open:          tick.Price,
		High:          tick.Price,
		Low:           tick.Price,
		Close:         tick.Price,
		Volume:        tick.Size,
		TickCount:     1,
	}
}
