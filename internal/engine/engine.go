package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"equity-auto-trader/internal/broker"
	"equity-auto-trader/internal/domain"
	"equity-auto-trader/internal/notify"
	"equity-auto-trader/internal/observability"
	"equity-auto-trader/internal/storage"
)

// ErrDuplicatePosition is returned by EnterPosition when the instrument
// already has an open position.
var ErrDuplicatePosition = errors.New("instrument already has an open position")

// Rules are the exit parameters applied to every position.
type Rules struct {
	// ProfitTargetRate triggers the partial exit, e.g. 0.03 for +3%.
	ProfitTargetRate float64
	// TrailingStopRate is the giveback from the peak after the partial
	// exit, e.g. 0.02 for 2%.
	TrailingStopRate float64
	// StopLossRate is the hard stop below entry, e.g. 0.025 for -2.5%.
	StopLossRate float64
	// PartialExitFraction of the remaining quantity sold at the profit
	// target, floored to whole shares.
	PartialExitFraction float64
	// MinOrderQty is the smallest sell the venue accepts.
	MinOrderQty int64
}

// DefaultRules mirrors the production configuration.
func DefaultRules() Rules {
	return Rules{
		ProfitTargetRate:    0.03,
		TrailingStopRate:    0.02,
		StopLossRate:        0.025,
		PartialExitFraction: 0.5,
		MinOrderQty:         1,
	}
}

func (r Rules) Validate() error {
	if r.ProfitTargetRate <= 0 || r.TrailingStopRate <= 0 || r.StopLossRate <= 0 {
		return fmt.Errorf("exit rates must be positive: %+v", r)
	}
	if r.PartialExitFraction <= 0 || r.PartialExitFraction > 1 {
		return fmt.Errorf("partial exit fraction %v out of (0, 1]", r.PartialExitFraction)
	}
	if r.MinOrderQty < 1 {
		return fmt.Errorf("min order qty %d below 1", r.MinOrderQty)
	}
	return nil
}

// Engine owns every position mutation. Entries and price observations
// for one instrument are serialized on a per-instrument lock, so two
// concurrent triggers can never double-sell.
type Engine struct {
	rules    Rules
	store    storage.PositionStore
	gateway  broker.Gateway
	notifier notify.Notifier
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	lastObs map[string]time.Time
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(rules Rules, store storage.PositionStore, gateway broker.Gateway, notifier notify.Notifier, opts ...Option) *Engine {
	e := &Engine{
		rules:    rules,
		store:    store,
		gateway:  gateway,
		notifier: notifier,
		logger:   zap.NewNop(),
		now:      time.Now,
		locks:    make(map[string]*sync.Mutex),
		lastObs:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) instrumentLock(instrument string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[instrument]
	if !ok {
		l = &sync.Mutex{}
		e.locks[instrument] = l
	}
	return l
}

// EnterPosition buys and records a new position for the signal's
// instrument. The instrument lock covers the open-position check, the
// buy and the insert, so a concurrent duplicate signal waits and then
// fails the check.
func (e *Engine) EnterPosition(ctx context.Context, instrument string, notional float64) (*domain.Position, error) {
	lock := e.instrumentLock(instrument)
	lock.Lock()
	defer lock.Unlock()

	existing, err := e.store.GetOpenByInstrument(ctx, instrument)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("enter %s: %w", instrument, err)
	}
	if existing.Open() {
		return nil, ErrDuplicatePosition
	}

	fill, err := e.gateway.Buy(ctx, broker.BuyRequest{
		Instrument:       instrument,
		Notional:         notional,
		Type:             broker.OrderMarket,
		IdempotencyToken: uuid.NewString(),
	})
	if err != nil {
		e.orderFailed(ctx, instrument, 0, err)
		return nil, fmt.Errorf("enter %s: %w", instrument, err)
	}

	now := e.now()
	pos := &domain.Position{
		ID:           uuid.NewString(),
		Instrument:   instrument,
		Side:         domain.SideLong,
		EntryPrice:   fill.Price,
		EntryQty:     fill.Quantity,
		RemainingQty: fill.Quantity,
		Status:       domain.StatusActive,
		PeakPrice:    fill.Price,
		OpenedAt:     now,
	}
	if err := e.store.Create(ctx, pos); err != nil {
		// The buy already went through; an unrecorded position must be
		// resolved by the operator.
		e.logger.Error("position insert failed after fill",
			zap.String("instrument", instrument),
			zap.String("order_id", fill.OrderID),
			zap.Error(err))
		if errors.Is(err, storage.ErrDuplicateKey) {
			return nil, ErrDuplicatePosition
		}
		return nil, fmt.Errorf("enter %s: %w", instrument, err)
	}

	if e.metrics != nil {
		e.metrics.OpenPositions.Inc()
		e.metrics.Transitions.WithLabelValues(string(domain.EventEntered)).Inc()
	}
	e.notifier.Notify(ctx, domain.Event{
		Type:       domain.EventEntered,
		Instrument: instrument,
		Price:      fill.Price,
		Quantity:   fill.Quantity,
		At:         now,
	})
	e.logger.Info("position entered",
		zap.String("instrument", instrument),
		zap.Float64("price", fill.Price),
		zap.Int64("quantity", fill.Quantity))
	return pos, nil
}

// Observe applies one price observation to the instrument's open
// position, if any. Observations older than the last applied one for
// the instrument are dropped; the exit decision sequence must never
// run backwards in event time.
func (e *Engine) Observe(ctx context.Context, instrument string, price float64, eventTime time.Time) error {
	if price <= 0 {
		return fmt.Errorf("observe %s: price %v", instrument, price)
	}

	lock := e.instrumentLock(instrument)
	lock.Lock()
	defer lock.Unlock()

	if last, ok := e.lastObs[instrument]; ok && eventTime.Before(last) {
		if e.metrics != nil {
			e.metrics.StaleObservations.Inc()
		}
		return nil
	}
	e.lastObs[instrument] = eventTime

	pos, err := e.store.GetOpenByInstrument(ctx, instrument)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("observe %s: %w", instrument, err)
	}

	// The hard stop outranks every other rule, in both states.
	rate := pos.RealizedRate(price)
	if rate <= -e.rules.StopLossRate {
		return e.exitAll(ctx, pos, price, domain.EventStoppedOut)
	}

	switch pos.Status {
	case domain.StatusActive:
		if rate >= e.rules.ProfitTargetRate {
			return e.partialExit(ctx, pos, price)
		}
	case domain.StatusPartiallyExited:
		if price > pos.PeakPrice {
			pos.PeakPrice = price
			pos.TrailingStopPrice = price * (1 - e.rules.TrailingStopRate)
			if err := e.store.Update(ctx, pos); err != nil {
				return fmt.Errorf("observe %s: raise trailing stop: %w", instrument, err)
			}
		}
		if price <= pos.TrailingStopPrice {
			return e.exitAll(ctx, pos, price, domain.EventTrailingStopHit)
		}
	}
	return nil
}

// partialExit sells the configured fraction of the remaining quantity
// and arms the trailing stop.
func (e *Engine) partialExit(ctx context.Context, pos *domain.Position, price float64) error {
	qty := int64(math.Floor(float64(pos.RemainingQty) * e.rules.PartialExitFraction))
	if qty < e.rules.MinOrderQty {
		qty = e.rules.MinOrderQty
	}
	if qty > pos.RemainingQty {
		qty = pos.RemainingQty
	}

	fill, err := e.gateway.Sell(ctx, broker.SellRequest{
		Instrument:       pos.Instrument,
		Quantity:         qty,
		Type:             broker.OrderMarket,
		IdempotencyToken: uuid.NewString(),
	})
	if err != nil {
		e.orderFailed(ctx, pos.Instrument, qty, err)
		return nil
	}

	pos.RemainingQty -= fill.Quantity
	pos.PeakPrice = price
	pos.TrailingStopPrice = price * (1 - e.rules.TrailingStopRate)
	eventType := domain.EventPartialExit
	if pos.RemainingQty == 0 {
		now := e.now()
		pos.Status = domain.StatusClosed
		pos.ClosedAt = &now
		if e.metrics != nil {
			e.metrics.OpenPositions.Dec()
		}
	} else {
		pos.Status = domain.StatusPartiallyExited
	}
	if err := e.store.Update(ctx, pos); err != nil {
		return fmt.Errorf("partial exit %s: %w", pos.Instrument, err)
	}

	rate := pos.RealizedRate(price)
	e.transition(ctx, pos, eventType, price, fill.Quantity, &rate)
	return nil
}

// exitAll sells the entire remaining quantity and closes the position.
func (e *Engine) exitAll(ctx context.Context, pos *domain.Position, price float64, eventType domain.EventType) error {
	fill, err := e.gateway.Sell(ctx, broker.SellRequest{
		Instrument:       pos.Instrument,
		Quantity:         pos.RemainingQty,
		Type:             broker.OrderMarket,
		IdempotencyToken: uuid.NewString(),
	})
	if err != nil {
		e.orderFailed(ctx, pos.Instrument, pos.RemainingQty, err)
		return nil
	}

	now := e.now()
	pos.RemainingQty = 0
	pos.Status = domain.StatusClosed
	pos.ClosedAt = &now
	if err := e.store.Update(ctx, pos); err != nil {
		return fmt.Errorf("exit %s: %w", pos.Instrument, err)
	}

	if e.metrics != nil {
		e.metrics.OpenPositions.Dec()
	}
	rate := pos.RealizedRate(price)
	e.transition(ctx, pos, eventType, price, fill.Quantity, &rate)
	return nil
}

func (e *Engine) transition(ctx context.Context, pos *domain.Position, eventType domain.EventType, price float64, qty int64, rate *float64) {
	if e.metrics != nil {
		e.metrics.Transitions.WithLabelValues(string(eventType)).Inc()
	}
	e.notifier.Notify(ctx, domain.Event{
		Type:         eventType,
		Instrument:   pos.Instrument,
		Price:        price,
		Quantity:     qty,
		RealizedRate: rate,
		At:           e.now(),
	})
	e.logger.Info(string(eventType),
		zap.String("instrument", pos.Instrument),
		zap.Float64("price", price),
		zap.Int64("quantity", qty),
		zap.Int64("remaining", pos.RemainingQty))
}

// orderFailed reports a sell or buy that the venue rejected. The
// position is left untouched so the next observation re-evaluates.
func (e *Engine) orderFailed(ctx context.Context, instrument string, qty int64, err error) {
	if e.metrics != nil {
		e.metrics.Transitions.WithLabelValues(string(domain.EventOrderFailed)).Inc()
	}
	e.notifier.Notify(ctx, domain.Event{
		Type:       domain.EventOrderFailed,
		Instrument: instrument,
		Quantity:   qty,
		Reason:     err.Error(),
		At:         e.now(),
	})
	e.logger.Warn("order failed",
		zap.String("instrument", instrument),
		zap.Int64("quantity", qty),
		zap.Error(err))
}
