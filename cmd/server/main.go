// Package main runs the auto-trading service:
// - Webhook intake: inbound buy signals from the charting collaborator
// - Realtime feed: decoded ticks drive candles and exit decisions
// - Poll monitor: price snapshots cover gaps in the feed
// - Metrics endpoint: prometheus scrape surface
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"equity-auto-trader/internal/auth"
	"equity-auto-trader/internal/broker"
	"equity-auto-trader/internal/candle"
	"equity-auto-trader/internal/config"
	"equity-auto-trader/internal/domain"
	"equity-auto-trader/internal/engine"
	"equity-auto-trader/internal/intake"
	"equity-auto-trader/internal/notify"
	"equity-auto-trader/internal/observability"
	"equity-auto-trader/internal/storage"
	chstore "equity-auto-trader/internal/storage/clickhouse"
	"equity-auto-trader/internal/storage/memory"
	"equity-auto-trader/internal/storage/migrations"
	pgstore "equity-auto-trader/internal/storage/postgres"
	"equity-auto-trader/internal/stream"
)

const shutdownTimeout = 15 * time.Second

type stores struct {
	positions storage.PositionStore
	signals   storage.SignalStore
	candles   storage.CandleStore // nil when no clickhouse is configured

	pgPool *pgstore.Pool
	chConn *chstore.Conn
}

func (s *stores) close() {
	if s.pgPool != nil {
		s.pgPool.Close()
	}
	if s.chConn != nil {
		s.chConn.Close()
	}
}

func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	s := &stores{}
	if cfg.Storage.UseMemory {
		logger.Warn("using in-memory stores, positions will not survive a restart")
		s.positions = memory.NewPositionStore()
		s.signals = memory.NewSignalStore()
	} else {
		pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("run postgres migrations: %w", err)
		}
		s.pgPool = pool
		s.positions = pgstore.NewPositionStore(pool)
		s.signals = pgstore.NewSignalStore(pool)
	}

	if cfg.Storage.ClickhouseDSN != "" {
		conn, err := chstore.NewConn(ctx, cfg.Storage.ClickhouseDSN)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("connect clickhouse: %w", err)
		}
		if err := migrations.RunClickhouseMigrations(ctx, conn); err != nil {
			conn.Close()
			s.close()
			return nil, fmt.Errorf("run clickhouse migrations: %w", err)
		}
		s.chConn = conn
		s.candles = chstore.NewCandleStore(conn)
	}
	return s, nil
}

func run() error {
	var (
		configPath  = flag.String("config", "", "path to YAML config file")
		metricsAddr = flag.String("metrics-addr", ":9090", "prometheus metrics listen address")
		devLogging  = flag.Bool("dev-logging", false, "human-readable log output")
	)
	flag.Parse()

	logger, err := newLogger(*devLogging)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics("")

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	creds := auth.NewStore(auth.StoreOptions{
		Issuer:  auth.NewClient(cfg.Venue.BaseURL, cfg.Venue.AppKey, cfg.Venue.AppSecret),
		Logger:  logger,
		Metrics: metrics,
	})

	venue := broker.NewClient(
		cfg.Venue.BaseURL,
		cfg.Venue.AppKey,
		cfg.Venue.AppSecret,
		cfg.Venue.AccountNo,
		cfg.Venue.AccountProductCode,
		cfg.Venue.Paper,
		broker.WithClientLogger(logger),
	)
	gateway := broker.NewKISGateway(venue, creds,
		broker.WithGatewayLogger(logger),
		broker.WithGatewayMetrics(metrics),
	)

	notifier := notify.NewChannelNotifier(notify.NewLogNotifier(logger, metrics), 256, logger)

	rules := engine.Rules{
		ProfitTargetRate:    cfg.Trading.ProfitTargetRate,
		TrailingStopRate:    cfg.Trading.TrailingStopRate,
		StopLossRate:        cfg.Trading.StopLossRate,
		PartialExitFraction: cfg.Trading.PartialExitFraction,
		MinOrderQty:         cfg.Trading.MinOrderQty,
	}
	if err := rules.Validate(); err != nil {
		return err
	}
	eng := engine.New(rules, st.positions, gateway, notifier,
		engine.WithLogger(logger),
		engine.WithMetrics(metrics),
	)

	aggregator := candle.New(cfg.Trading.CandleInterval, logger, metrics)

	feed := stream.NewClient(stream.ClientOptions{
		Endpoint:    cfg.Venue.WSURL,
		Credentials: creds,
		Handler: func(msg stream.Message) {
			switch m := msg.(type) {
			case stream.TickMessage:
				if closed, ok := aggregator.Observe(m.Tick); ok && st.candles != nil {
					archiveCandle(ctx, st.candles, closed, logger)
				}
				if err := eng.Observe(ctx, m.Tick.Instrument, m.Tick.Price, m.Tick.EventTime); err != nil {
					logger.Warn("tick observation failed",
						zap.String("instrument", m.Tick.Instrument),
						zap.Error(err))
				}
			case stream.ExecutionNotice:
				logger.Info("execution notice",
					zap.String("instrument", m.Instrument),
					zap.Int64("quantity", m.Quantity),
					zap.Float64("price", m.Price),
					zap.Bool("filled", m.Filled))
			}
		},
		Logger:  logger,
		Metrics: metrics,
	})

	in := intake.New(intake.Options{
		Engine:          eng,
		Signals:         st.signals,
		Positions:       st.positions,
		Notifier:        notifier,
		OrderNotional:   cfg.Trading.OrderNotional,
		DisabledMarkets: cfg.DisabledMarketSet(),
		Logger:          logger,
		Metrics:         metrics,
	})

	router := mux.NewRouter()
	intake.NewWebhookHandler(in, cfg.Webhook.SecretToken, logger).Register(router, cfg.Webhook.Path)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	webhookSrv := &http.Server{Addr: cfg.Webhook.Addr, Handler: router}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", observability.Handler())
	metricsSrv := &http.Server{Addr: *metricsAddr, Handler: metricsMux}

	monitor := engine.NewMonitor(eng, st.positions, gateway, cfg.Trading.PollInterval, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("webhook server listening", zap.String("addr", cfg.Webhook.Addr), zap.String("path", cfg.Webhook.Path))
		if err := webhookSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("webhook server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("metrics server listening", zap.String("addr", *metricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := feed.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("feed client: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := monitor.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("poll monitor: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		// Track feed subscriptions off the event stream: entries start
		// tick flow for the instrument, closes stop it.
		for {
			select {
			case <-gctx.Done():
				return nil
			case event := <-notifier.Events():
				switch event.Type {
				case domain.EventEntered:
					if err := feed.Subscribe(event.Instrument); err != nil {
						logger.Warn("subscribe failed", zap.String("instrument", event.Instrument), zap.Error(err))
					}
				case domain.EventTrailingStopHit, domain.EventStoppedOut:
					if err := feed.Unsubscribe(event.Instrument); err != nil {
						logger.Warn("unsubscribe failed", zap.String("instrument", event.Instrument), zap.Error(err))
					}
				}
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		webhookSrv.Shutdown(shutdownCtx)
		metricsSrv.Shutdown(shutdownCtx)
		return nil
	})

	// Resubscribe open positions so their ticks flow immediately.
	if open, err := st.positions.ListOpen(ctx); err == nil {
		for _, pos := range open {
			if err := feed.Subscribe(pos.Instrument); err != nil {
				logger.Warn("resubscribe failed", zap.String("instrument", pos.Instrument), zap.Error(err))
			}
		}
		logger.Info("service started",
			zap.Int("open_positions", len(open)),
			zap.Bool("paper", cfg.Venue.Paper))
	} else {
		logger.Warn("open position listing failed at startup", zap.Error(err))
	}

	err = g.Wait()
	logger.Info("service stopped")
	return err
}

func archiveCandle(ctx context.Context, store storage.CandleStore, c *domain.Candle, logger *zap.Logger) {
	archiveCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.InsertBulk(archiveCtx, []*domain.Candle{c}); err != nil {
		logger.Warn("candle archive failed",
			zap.String("instrument", c.Instrument),
			zap.Error(err))
	}
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
