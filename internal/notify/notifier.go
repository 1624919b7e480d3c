package notify

import (
	"context"

	"go.uber.org/zap"

	"equity-auto-trader/internal/domain"
	"equity-auto-trader/internal/observability"
)

// Notifier receives exactly one call per lifecycle event.
type Notifier interface {
	Notify(ctx context.Context, event domain.Event)
}

// LogNotifier renders events to the structured log.
type LogNotifier struct {
	logger  *zap.Logger
	metrics *observability.Metrics
}

func NewLogNotifier(logger *zap.Logger, metrics *observability.Metrics) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger, metrics: metrics}
}

func (n *LogNotifier) Notify(_ context.Context, event domain.Event) {
	fields := []zap.Field{
		zap.String("instrument", event.Instrument),
		zap.Float64("price", event.Price),
		zap.Int64("quantity", event.Quantity),
		zap.Time("at", event.At),
	}
	if event.RealizedRate != nil {
		fields = append(fields, zap.Float64("realized_rate", *event.RealizedRate))
	}
	if event.Reason != "" {
		fields = append(fields, zap.String("reason", event.Reason))
	}
	n.logger.Info(string(event.Type), fields...)
	if n.metrics != nil {
		n.metrics.EventsEmitted.WithLabelValues(string(event.Type)).Inc()
	}
}

// ChannelNotifier forwards events to a channel for an external
// collaborator (a chat relay, a recorder). When the buffer is full the
// event is dropped rather than blocking the trading path.
type ChannelNotifier struct {
	next   Notifier
	events chan domain.Event
	logger *zap.Logger
}

func NewChannelNotifier(next Notifier, buffer int, logger *zap.Logger) *ChannelNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelNotifier{
		next:   next,
		events: make(chan domain.Event, buffer),
		logger: logger,
	}
}

// Events exposes the forwarded stream.
func (n *ChannelNotifier) Events() <-chan domain.Event {
	return n.events
}

func (n *ChannelNotifier) Notify(ctx context.Context, event domain.Event) {
	if n.next != nil {
		n.next.Notify(ctx, event)
	}
	select {
	case n.events <- event:
	default:
		n.logger.Warn("event channel full, dropping forwarded copy",
			zap.String("type", string(event.Type)),
			zap.String("instrument", event.Instrument))
	}
}
