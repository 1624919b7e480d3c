// Package main replays a recorded realtime feed capture through the
// decoder and candle aggregator. Useful for checking a capture offline
// and for backfilling the candle archive.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"equity-auto-trader/internal/candle"
	"equity-auto-trader/internal/domain"
	chstore "equity-auto-trader/internal/storage/clickhouse"
	"equity-auto-trader/internal/storage/migrations"
	"equity-auto-trader/internal/stream"
)

func run() error {
	var (
		inputPath     = flag.String("input", "", "capture file, one raw frame per line")
		streamingKey  = flag.String("key", "", "streaming credential used during capture, required for encrypted frames")
		interval      = flag.Duration("interval", time.Minute, "candle interval")
		clickhouseDSN = flag.String("clickhouse-dsn", "", "archive closed candles to this clickhouse instance")
	)
	flag.Parse()

	if *inputPath == "" {
		return fmt.Errorf("-input is required")
	}
	key := *streamingKey
	if key == "" {
		// Plain frames decode without a cipher; pad so the decoder
		// constructor accepts the key.
		key = string(make([]byte, 32))
	}
	decoder, err := stream.NewDecoder(key)
	if err != nil {
		return fmt.Errorf("build decoder: %w", err)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	var archive *chstore.CandleStore
	if *clickhouseDSN != "" {
		conn, err := chstore.NewConn(ctx, *clickhouseDSN)
		if err != nil {
			return fmt.Errorf("connect clickhouse: %w", err)
		}
		defer conn.Close()
		if err := migrations.RunClickhouseMigrations(ctx, conn); err != nil {
			return fmt.Errorf("run clickhouse migrations: %w", err)
		}
		archive = chstore.NewCandleStore(conn)
	}

	file, err := os.Open(*inputPath)
	if err != nil {
		return fmt.Errorf("open capture: %w", err)
	}
	defer file.Close()

	aggregator := candle.New(*interval, logger, nil)
	var frames, ticks, decodeErrs int
	var closed []*domain.Candle

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		frames++
		msg, err := decoder.Decode(line)
		if err != nil {
			decodeErrs++
			continue
		}
		tick, ok := msg.(stream.TickMessage)
		if !ok {
			continue
		}
		ticks++
		if c, done := aggregator.Observe(tick.Tick); done {
			closed = append(closed, c)
			printCandle(c)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read capture: %w", err)
	}

	if archive != nil && len(closed) > 0 {
		if err := archive.InsertBulk(ctx, closed); err != nil {
			return fmt.Errorf("archive candles: %w", err)
		}
	}

	fmt.Printf("\nframes=%d ticks=%d candles=%d decode_errors=%d\n", frames, ticks, len(closed), decodeErrs)
	return nil
}

func printCandle(c *domain.Candle) {
	fmt.Printf("%s %s O=%.0f H=%.0f L=%.0f C=%.0f V=%d n=%d\n",
		c.Instrument,
		c.IntervalStart.Format("15:04:05"),
		c.Open, c.High, c.Low, c.Close, c.Volume, c.TickCount)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
