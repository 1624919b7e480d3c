package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"equity-auto-trader/internal/domain"
	"equity-auto-trader/internal/engine"
	"equity-auto-trader/internal/notify"
	"equity-auto-trader/internal/observability"
	"equity-auto-trader/internal/storage"
)

// RejectError carries the rejection reason for a refused signal.
type RejectError struct {
	Reason string
	Detail string
}

func (e *RejectError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("signal rejected: %s", e.Reason)
	}
	return fmt.Sprintf("signal rejected: %s: %s", e.Reason, e.Detail)
}

// Intake validates inbound signals and hands accepted buys to the
// position engine. The engine's per-instrument lock is the final
// authority on duplicates; the checks here only reject early.
type Intake struct {
	engine          *engine.Engine
	signals         storage.SignalStore
	positions       storage.PositionStore
	notifier        notify.Notifier
	notional        float64
	disabledMarkets map[string]bool
	logger          *zap.Logger
	metrics         *observability.Metrics
	now             func() time.Time
}

type Options struct {
	Engine          *engine.Engine
	Signals         storage.SignalStore
	Positions       storage.PositionStore
	Notifier        notify.Notifier
	OrderNotional   float64
	DisabledMarkets map[string]bool
	Logger          *zap.Logger
	Metrics         *observability.Metrics
	Clock           func() time.Time
}

func New(opts Options) *Intake {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Intake{
		engine:          opts.Engine,
		signals:         opts.Signals,
		positions:       opts.Positions,
		notifier:        opts.Notifier,
		notional:        opts.OrderNotional,
		disabledMarkets: opts.DisabledMarkets,
		logger:          logger,
		metrics:         opts.Metrics,
		now:             now,
	}
}

// Accept processes one inbound signal. On success the position has
// been entered and recorded. Rejections return *RejectError; order
// failures pass through from the engine.
func (i *Intake) Accept(ctx context.Context, sig domain.Signal) (*domain.Position, error) {
	if err := i.validate(sig); err != nil {
		return nil, i.reject(ctx, sig, err)
	}

	// Fast path: refuse without touching the venue when the instrument
	// already holds. The engine re-checks under its lock.
	if existing, err := i.positions.GetOpenByInstrument(ctx, sig.Instrument); err == nil && existing.Open() {
		return nil, i.reject(ctx, sig, &RejectError{Reason: domain.RejectDuplicatePosition})
	}

	pos, err := i.engine.EnterPosition(ctx, sig.Instrument, i.notional)
	if errors.Is(err, engine.ErrDuplicatePosition) {
		return nil, i.reject(ctx, sig, &RejectError{Reason: domain.RejectDuplicatePosition})
	}
	if err != nil {
		return nil, err
	}

	record := &domain.SignalRecord{
		InstrumentKey: instrumentKey(sig),
		StrategyTag:   sig.Action,
		ReceivedAt:    sig.ReceivedAt,
		DedupKey:      uuid.NewString(),
	}
	if err := i.signals.Insert(ctx, record); err != nil {
		// The position is already open; the lost audit row is logged,
		// not propagated.
		i.logger.Warn("signal record insert failed",
			zap.String("instrument", sig.Instrument),
			zap.Error(err))
	}
	if i.metrics != nil {
		i.metrics.SignalsAccepted.Inc()
	}
	return pos, nil
}

func (i *Intake) validate(sig domain.Signal) *RejectError {
	if sig.Action != domain.SignalActionBuy {
		return &RejectError{Reason: domain.RejectMalformed, Detail: fmt.Sprintf("action %q", sig.Action)}
	}
	if strings.TrimSpace(sig.Instrument) == "" {
		return &RejectError{Reason: domain.RejectMalformed, Detail: "empty instrument"}
	}
	market := sig.Market
	if market == "" {
		market = domain.MarketDomestic
	}
	if market != domain.MarketDomestic && market != domain.MarketOverseas {
		return &RejectError{Reason: domain.RejectMalformed, Detail: fmt.Sprintf("market %q", market)}
	}
	if i.disabledMarkets[market] {
		return &RejectError{Reason: domain.RejectTradingDisabled, Detail: fmt.Sprintf("market %q disabled", market)}
	}
	return nil
}

func (i *Intake) reject(ctx context.Context, sig domain.Signal, rerr *RejectError) error {
	if i.metrics != nil {
		i.metrics.SignalsRejected.WithLabelValues(rerr.Reason).Inc()
	}
	if i.notifier != nil {
		i.notifier.Notify(ctx, domain.Event{
			Type:       domain.EventSignalRejected,
			Instrument: sig.Instrument,
			Reason:     rerr.Reason,
			At:         i.now(),
		})
	}
	i.logger.Info("signal rejected",
		zap.String("instrument", sig.Instrument),
		zap.String("reason", rerr.Reason))
	return rerr
}

func instrumentKey(sig domain.Signal) string {
	market := sig.Market
	if market == "" {
		market = domain.MarketDomestic
	}
	if market == domain.MarketOverseas && sig.Exchange != "" {
		return market + ":" + sig.Exchange + ":" + sig.Instrument
	}
	return market + ":" + sig.Instrument
}
