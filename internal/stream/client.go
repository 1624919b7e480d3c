package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"equity-auto-trader/internal/auth"
	"equity-auto-trader/internal/observability"
)

// ClientConfig configures feed client behavior.
type ClientConfig struct {
	// ReconnectDelay is the initial delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is the maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// ReadTimeout is the timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is the timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultClientConfig returns default feed client configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// Handler consumes decoded feed messages. Decode errors are counted and
// dropped before reaching it.
type Handler func(Message)

// Client maintains the feed connection: it obtains the streaming
// credential, subscribes tracked instruments, decodes frames and
// resubscribes after reconnect.
type Client struct {
	endpoint string
	config   ClientConfig
	creds    *auth.Store
	handler  Handler
	logger   *zap.Logger
	metrics  *observability.Metrics

	conn   *websocket.Conn
	connMu sync.Mutex

	// subs holds instrument codes to keep subscribed across reconnects.
	subs   map[string]struct{}
	subsMu sync.Mutex
}

// ClientOptions configures a Client.
type ClientOptions struct {
	Endpoint    string
	Credentials *auth.Store
	Handler     Handler
	Config      *ClientConfig
	Logger      *zap.Logger
	Metrics     *observability.Metrics
}

// NewClient creates a feed client. It does not connect; call Run.
func NewClient(opts ClientOptions) *Client {
	cfg := DefaultClientConfig()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		endpoint: opts.Endpoint,
		config:   cfg,
		creds:    opts.Credentials,
		handler:  opts.Handler,
		logger:   logger,
		metrics:  opts.Metrics,
		subs:     make(map[string]struct{}),
	}
}

// Subscribe tracks an instrument's tick feed. If connected, the subscribe
// request is sent immediately; either way the instrument is resubscribed
// after every reconnect.
func (c *Client) Subscribe(instrument string) error {
	c.subsMu.Lock()
	c.subs[instrument] = struct{}{}
	c.subsMu.Unlock()

	return c.sendSubscribe(instrument, true)
}

// Unsubscribe stops tracking an instrument.
func (c *Client) Unsubscribe(instrument string) error {
	c.subsMu.Lock()
	delete(c.subs, instrument)
	c.subsMu.Unlock()

	return c.sendSubscribe(instrument, false)
}

// Run connects and consumes the feed until ctx is cancelled, reconnecting
// with exponential backoff on connection loss.
func (c *Client) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.config.ReconnectDelay
	bo.MaxInterval = c.config.MaxReconnectDelay
	bo.MaxElapsedTime = 0 // retry until cancelled

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := c.runOnce(ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			return ctx.Err()
		}

		if c.metrics != nil {
			c.metrics.StreamReconnects.Inc()
		}
		delay := bo.NextBackOff()
		c.logger.Warn("feed connection lost, reconnecting",
			zap.Error(err),
			zap.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// runOnce performs one connect/read session.
func (c *Client) runOnce(ctx context.Context) error {
	cred, err := c.creds.StreamingCredential(ctx)
	if err != nil {
		return fmt.Errorf("streaming credential: %w", err)
	}

	decoder, err := NewDecoder(cred.Value)
	if err != nil {
		return fmt.Errorf("build decoder: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	defer func() {
		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
		conn.Close()
	}()

	// Close the connection when ctx is cancelled so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if err := c.resubscribe(cred.Value); err != nil {
		return err
	}
	c.logger.Info("feed connected", zap.String("endpoint", c.endpoint))

	for {
		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read frame: %w", err)
		}

		msg, err := decoder.Decode(raw)
		if err != nil {
			if c.metrics != nil {
				c.metrics.FramesDecoded.WithLabelValues("error").Inc()
			}
			c.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}

		switch m := msg.(type) {
		case Heartbeat:
			// Liveness: echo the heartbeat back as-is.
			if c.metrics != nil {
				c.metrics.FramesDecoded.WithLabelValues("control").Inc()
			}
			if err := c.write([]byte(m.Raw)); err != nil {
				return fmt.Errorf("heartbeat echo: %w", err)
			}
		case ControlAck:
			if c.metrics != nil {
				c.metrics.FramesDecoded.WithLabelValues("control").Inc()
			}
			c.logger.Debug("control ack",
				zap.String("tr_id", m.TRID),
				zap.String("msg_cd", m.MsgCode),
			)
		case Unrecognized:
			if c.metrics != nil {
				c.metrics.FramesDecoded.WithLabelValues("unrecognized").Inc()
			}
			c.logger.Debug("unrecognized message tag", zap.String("tr_id", m.TRID))
		case TickMessage:
			if c.metrics != nil {
				c.metrics.FramesDecoded.WithLabelValues("tick").Inc()
				c.metrics.TicksDecoded.Inc()
			}
			c.handler(msg)
		default:
			c.handler(msg)
		}
	}
}

// subscribeRequest is the venue's subscribe/unsubscribe control message.
type subscribeRequest struct {
	Header struct {
		ApprovalKey string `json:"approval_key"`
		CustType    string `json:"custtype"`
		TRType      string `json:"tr_type"`
		ContentType string `json:"content-type"`
	} `json:"header"`
	Body struct {
		Input struct {
			TRID  string `json:"tr_id"`
			TRKey string `json:"tr_key"`
		} `json:"input"`
	} `json:"body"`
}

func newSubscribeRequest(approvalKey, trID, trKey string, subscribe bool) subscribeRequest {
	var req subscribeRequest
	req.Header.ApprovalKey = approvalKey
	req.Header.CustType = "P"
	if subscribe {
		req.Header.TRType = "1"
	} else {
		req.Header.TRType = "2"
	}
	req.Header.ContentType = "utf-8"
	req.Body.Input.TRID = trID
	req.Body.Input.TRKey = trKey
	return req
}

func (c *Client) sendSubscribe(instrument string, subscribe bool) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		// Not connected; Run will subscribe on the next connect.
		return nil
	}

	cred, err := c.creds.StreamingCredential(context.Background())
	if err != nil {
		return err
	}
	payload, err := json.Marshal(newSubscribeRequest(cred.Value, TRTickDomestic, instrument, subscribe))
	if err != nil {
		return fmt.Errorf("marshal subscribe: %w", err)
	}
	return c.write(payload)
}

func (c *Client) resubscribe(approvalKey string) error {
	c.subsMu.Lock()
	instruments := make([]string, 0, len(c.subs))
	for code := range c.subs {
		instruments = append(instruments, code)
	}
	c.subsMu.Unlock()

	for _, code := range instruments {
		payload, err := json.Marshal(newSubscribeRequest(approvalKey, TRTickDomestic, code, true))
		if err != nil {
			return fmt.Errorf("marshal subscribe: %w", err)
		}
		if err := c.write(payload); err != nil {
			return fmt.Errorf("subscribe %s: %w", code, err)
		}
	}
	return nil
}

func (c *Client) write(payload []byte) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}
