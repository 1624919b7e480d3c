package broker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"equity-auto-trader/internal/auth"
	"equity-auto-trader/internal/observability"
)

// BuyRequest sizes an entry by notional: quantity is the floor of
// Notional divided by the current price.
type BuyRequest struct {
	Instrument       string
	Notional         float64
	Type             OrderType
	Price            float64 // limit price, required for limit orders
	IdempotencyToken string
}

// SellRequest exits an explicit quantity.
type SellRequest struct {
	Instrument       string
	Quantity         int64
	Type             OrderType
	Price            float64
	IdempotencyToken string
}

// FillResult describes an accepted order. Price is the price the
// quantity was computed against, not a confirmed execution price.
type FillResult struct {
	OrderID    string
	Instrument string
	Side       Side
	Quantity   int64
	Price      float64
	FilledAt   time.Time
}

// Gateway submits orders with rate-limit retry and idempotent replay.
type Gateway interface {
	Buy(ctx context.Context, req BuyRequest) (*FillResult, error)
	Sell(ctx context.Context, req SellRequest) (*FillResult, error)
}

const (
	defaultMaxRetries   = 4
	defaultInitialDelay = 500 * time.Millisecond
)

// pending holds the outcome of one idempotency token. A second call
// with the same token either waits for the in-flight attempt or
// replays the stored outcome; the venue is never hit twice.
type pending struct {
	done chan struct{}
	res  *FillResult
	err  error
}

// KISGateway is the Gateway implementation backed by a KIS venue
// client and the credential store.
type KISGateway struct {
	venue Venue
	creds *auth.Store

	maxRetries   uint64
	initialDelay time.Duration
	logger       *zap.Logger
	metrics      *observability.Metrics

	mu     sync.Mutex
	orders map[string]*pending
}

type GatewayOption func(*KISGateway)

func WithRetryPolicy(maxRetries uint64, initialDelay time.Duration) GatewayOption {
	return func(g *KISGateway) {
		g.maxRetries = maxRetries
		g.initialDelay = initialDelay
	}
}

func WithGatewayLogger(l *zap.Logger) GatewayOption {
	return func(g *KISGateway) { g.logger = l }
}

func WithGatewayMetrics(m *observability.Metrics) GatewayOption {
	return func(g *KISGateway) { g.metrics = m }
}

func NewKISGateway(venue Venue, creds *auth.Store, opts ...GatewayOption) *KISGateway {
	g := &KISGateway{
		venue:        venue,
		creds:        creds,
		maxRetries:   defaultMaxRetries,
		initialDelay: defaultInitialDelay,
		logger:       zap.NewNop(),
		orders:       make(map[string]*pending),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Buy sizes and submits a buy order. A quantity below one whole share
// fails with InsufficientFunds before the venue is contacted.
func (g *KISGateway) Buy(ctx context.Context, req BuyRequest) (*FillResult, error) {
	return g.submit(ctx, req.IdempotencyToken, SideBuy, func(ctx context.Context, token string) (*FillResult, error) {
		price := req.Price
		if price <= 0 {
			var err error
			price, err = g.venue.CurrentPrice(ctx, token, req.Instrument)
			if err != nil {
				return nil, fmt.Errorf("buy %s: %w", req.Instrument, err)
			}
		}
		qty := int64(math.Floor(req.Notional / price))
		if qty < 1 {
			return nil, &OrderError{
				Code: FailInsufficientFunds,
				Msg:  fmt.Sprintf("notional %.0f buys no whole share at %.0f", req.Notional, price),
			}
		}
		ack, err := g.submitWithRetry(ctx, token, OrderRequest{
			Instrument: req.Instrument,
			Side:       SideBuy,
			Type:       req.Type,
			Quantity:   qty,
			Price:      req.Price,
		})
		if err != nil {
			return nil, err
		}
		return &FillResult{
			OrderID:    ack.OrderID,
			Instrument: req.Instrument,
			Side:       SideBuy,
			Quantity:   qty,
			Price:      price,
			FilledAt:   ack.At,
		}, nil
	})
}

// Sell submits a sell for an explicit quantity.
func (g *KISGateway) Sell(ctx context.Context, req SellRequest) (*FillResult, error) {
	return g.submit(ctx, req.IdempotencyToken, SideSell, func(ctx context.Context, token string) (*FillResult, error) {
		if req.Quantity < 1 {
			return nil, &OrderError{Code: FailUnknown, Msg: fmt.Sprintf("sell quantity %d", req.Quantity)}
		}
		price := req.Price
		if price <= 0 {
			if p, err := g.venue.CurrentPrice(ctx, token, req.Instrument); err == nil {
				price = p
			}
		}
		ack, err := g.submitWithRetry(ctx, token, OrderRequest{
			Instrument: req.Instrument,
			Side:       SideSell,
			Type:       req.Type,
			Quantity:   req.Quantity,
			Price:      req.Price,
		})
		if err != nil {
			return nil, err
		}
		return &FillResult{
			OrderID:    ack.OrderID,
			Instrument: req.Instrument,
			Side:       SideSell,
			Quantity:   req.Quantity,
			Price:      price,
			FilledAt:   ack.At,
		}, nil
	})
}

// CurrentPrice resolves a trading credential and asks the venue for
// the latest traded price.
func (g *KISGateway) CurrentPrice(ctx context.Context, instrument string) (float64, error) {
	cred, err := g.creds.TradingCredential(ctx)
	if err != nil {
		return 0, err
	}
	return g.venue.CurrentPrice(ctx, cred.Value, instrument)
}

// submit deduplicates on the idempotency token and runs fn once.
func (g *KISGateway) submit(ctx context.Context, token string, side Side, fn func(context.Context, string) (*FillResult, error)) (*FillResult, error) {
	if token == "" {
		token = uuid.NewString()
	}

	g.mu.Lock()
	if p, ok := g.orders[token]; ok {
		g.mu.Unlock()
		select {
		case <-p.done:
			return p.res, p.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p := &pending{done: make(chan struct{})}
	g.orders[token] = p
	g.mu.Unlock()

	cred, err := g.creds.TradingCredential(ctx)
	if err == nil {
		p.res, p.err = fn(ctx, cred.Value)
	} else {
		p.err = err
	}
	if g.metrics != nil {
		outcome := "accepted"
		if p.err != nil {
			outcome = "failed"
		}
		g.metrics.OrdersSubmitted.WithLabelValues(string(side), outcome).Inc()
	}
	close(p.done)
	return p.res, p.err
}

// submitWithRetry retries only rate-limited failures. Any other
// failure is permanent: a retry could double-execute.
func (g *KISGateway) submitWithRetry(ctx context.Context, token string, req OrderRequest) (*OrderAck, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = g.initialDelay
	wrapped := backoff.WithContext(backoff.WithMaxRetries(policy, g.maxRetries), ctx)

	var ack *OrderAck
	operation := func() error {
		var err error
		ack, err = g.venue.SubmitOrder(ctx, token, req)
		if err == nil {
			return nil
		}
		if oe, ok := err.(*OrderError); ok && oe.Retryable() {
			if g.metrics != nil {
				g.metrics.OrderRetries.Inc()
			}
			g.logger.Warn("order rate limited, retrying",
				zap.String("instrument", req.Instrument),
				zap.String("side", string(req.Side)))
			return err
		}
		return backoff.Permanent(err)
	}
	if err := backoff.Retry(operation, wrapped); err != nil {
		return nil, err
	}
	return ack, nil
}
