package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"equity-auto-trader/internal/storage"
)

// PriceSource supplies a price snapshot for an instrument.
type PriceSource interface {
	CurrentPrice(ctx context.Context, instrument string) (float64, error)
}

// Monitor polls the price of every open position between realtime
// ticks, so exits still fire when the feed is quiet or down.
type Monitor struct {
	engine   *Engine
	store    storage.PositionStore
	prices   PriceSource
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewMonitor(engine *Engine, store storage.PositionStore, prices PriceSource, interval time.Duration, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{
		engine:   engine,
		store:    store,
		prices:   prices,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Run polls until the context is cancelled. An in-flight sweep
// finishes before Run returns, which keeps shutdown from interrupting
// a position mutation mid-way.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *Monitor) sweep(ctx context.Context) {
	positions, err := m.store.ListOpen(ctx)
	if err != nil {
		m.logger.Warn("open position sweep failed", zap.Error(err))
		return
	}
	for _, pos := range positions {
		price, err := m.prices.CurrentPrice(ctx, pos.Instrument)
		if err != nil {
			m.logger.Warn("price snapshot failed",
				zap.String("instrument", pos.Instrument),
				zap.Error(err))
			continue
		}
		if err := m.engine.Observe(ctx, pos.Instrument, price, m.now()); err != nil {
			m.logger.Warn("observation failed",
				zap.String("instrument", pos.Instrument),
				zap.Error(err))
		}
	}
}
