// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Stream metrics
	FramesDecoded    *prometheus.CounterVec // by result: tick, control, unrecognized, error
	TicksDecoded     prometheus.Counter
	StreamReconnects prometheus.Counter

	// Candle metrics
	CandlesClosed     prometheus.Counter
	StaleTicksDropped prometheus.Counter

	// Order metrics
	OrdersSubmitted *prometheus.CounterVec // by side, outcome
	OrderRetries    prometheus.Counter

	// Signal metrics
	SignalsAccepted prometheus.Counter
	SignalsRejected *prometheus.CounterVec // by reason

	// Engine metrics
	Transitions       *prometheus.CounterVec // by type
	StaleObservations prometheus.Counter
	OpenPositions     prometheus.Gauge

	// Credential metrics
	CredentialRefreshes     *prometheus.CounterVec // by kind
	CredentialRefreshErrors *prometheus.CounterVec // by kind

	// Notification metrics
	EventsEmitted *prometheus.CounterVec // by type
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "equity_auto_trader"
	}

	return &Metrics{
		FramesDecoded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "frames_decoded_total",
			Help:      "Total frames decoded, by result",
		}, []string{"result"}),
		TicksDecoded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "ticks_decoded_total",
			Help:      "Total ticks decoded from the feed",
		}),
		StreamReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "reconnects_total",
			Help:      "Total websocket reconnect attempts",
		}),

		CandlesClosed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "candle",
			Name:      "closed_total",
			Help:      "Total candles closed by the aggregator",
		}),
		StaleTicksDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "candle",
			Name:      "stale_ticks_dropped_total",
			Help:      "Total out-of-order ticks dropped by the aggregator",
		}),

		OrdersSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "orders_total",
			Help:      "Total orders submitted, by side and outcome",
		}, []string{"side", "outcome"}),
		OrderRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "order_retries_total",
			Help:      "Total rate-limited order retries",
		}),

		SignalsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intake",
			Name:      "signals_accepted_total",
			Help:      "Total accepted buy signals",
		}),
		SignalsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intake",
			Name:      "signals_rejected_total",
			Help:      "Total rejected buy signals, by reason",
		}, []string{"reason"}),

		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "transitions_total",
			Help:      "Total committed position transitions, by type",
		}, []string{"type"}),
		StaleObservations: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "stale_observations_dropped_total",
			Help:      "Total out-of-order price observations dropped",
		}),
		OpenPositions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "open_positions",
			Help:      "Number of currently open positions",
		}),

		CredentialRefreshes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "credential_refreshes_total",
			Help:      "Total successful credential refreshes, by kind",
		}, []string{"kind"}),
		CredentialRefreshErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "credential_refresh_errors_total",
			Help:      "Total failed credential refreshes, by kind",
		}, []string{"kind"}),

		EventsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "events_emitted_total",
			Help:      "Total notification events emitted, by type",
		}, []string{"type"}),
	}
}

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
