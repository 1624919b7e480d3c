package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"equity-auto-trader/internal/domain"
	"equity-auto-trader/internal/storage"
)

type staticPrices struct {
	price float64
}

func (p *staticPrices) CurrentPrice(context.Context, string) (float64, error) {
	return p.price, nil
}

func TestMonitorSweepAppliesSnapshotPrices(t *testing.T) {
	f := newFixture(t, 60000)
	f.enter(t, "005930", 600_000)

	m := NewMonitor(f.engine, f.store, &staticPrices{price: 58500}, time.Second, nil)
	m.sweep(context.Background())

	_, err := f.store.GetOpenByInstrument(context.Background(), "005930")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("open lookup after sweep = %v, want ErrNotFound", err)
	}
	if events := f.notifier.byType(domain.EventStoppedOut); len(events) != 1 {
		t.Errorf("stopped out events = %d, want 1", len(events))
	}
}

func TestMonitorRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, 60000)
	m := NewMonitor(f.engine, f.store, &staticPrices{price: 60000}, time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
