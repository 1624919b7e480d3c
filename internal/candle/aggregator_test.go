package candle

import (
	"testing"
	"time"

	"equity-auto-trader/internal/domain"
)

var base = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func tick(instrument string, offset time.Duration, price float64, size int64) domain.Tick {
	return domain.Tick{
		Instrument: instrument,
		Price:      price,
		Size:       size,
		EventTime:  base.Add(offset),
	}
}

func TestAggregator_FoldsOHLCV(t *testing.T) {
	agg := New(time.Minute, nil, nil)

	if closed, ok := agg.Observe(tick("005930", 0, 100, 10)); ok {
		t.Fatalf("first tick must not close a candle: %+v", closed)
	}
	agg.Observe(tick("005930", 10*time.Second, 105, 5))
	agg.Observe(tick("005930", 20*time.Second, 95, 7))
	agg.Observe(tick("005930", 30*time.Second, 101, 3))

	// Next interval closes the candle.
	closed, ok := agg.Observe(tick("005930", time.Minute, 102, 1))
	if !ok {
		t.Fatal("expected a closed candle")
	}

	if closed.Open != 100 {
		t.Errorf("open: got %f, want 100 (first tick in interval)", closed.Open)
	}
	if closed.High != 105 {
		t.Errorf("high: got %f, want 105", closed.High)
	}
	if closed.Low != 95 {
		t.Errorf("low: got %f, want 95", closed.Low)
	}
	if closed.Close != 101 {
		t.Errorf("close: got %f, want 101 (last tick before interval end)", closed.Close)
	}
	if closed.Volume != 25 {
		t.Errorf("volume: got %d, want 25", closed.Volume)
	}
	if !closed.IntervalStart.Equal(base) {
		t.Errorf("interval start: got %s", closed.IntervalStart)
	}

	// New candle seeded by the closing tick.
	snap, ok := agg.Snapshot("005930")
	if !ok {
		t.Fatal("expected an open candle")
	}
	if snap.Open != 102 || snap.Volume != 1 {
		t.Errorf("new candle not seeded by tick: %+v", snap)
	}
}

func TestAggregator_InstrumentsAreIndependent(t *testing.T) {
	agg := New(time.Minute, nil, nil)

	agg.Observe(tick("005930", 0, 100, 1))
	agg.Observe(tick("000660", 5*time.Second, 200, 2))

	closed, ok := agg.Observe(tick("005930", time.Minute, 101, 1))
	if !ok || closed.Instrument != "005930" {
		t.Fatalf("expected 005930 close, got %v %v", closed, ok)
	}

	// 000660's candle is still open.
	if _, ok := agg.Observe(tick("000660", 30*time.Second, 205, 1)); ok {
		t.Error("000660 candle should still be open")
	}
}

func TestAggregator_DropsStaleTicks(t *testing.T) {
	agg := New(time.Minute, nil, nil)

	agg.Observe(tick("005930", 2*time.Minute, 100, 1))

	// A tick from an earlier interval must be dropped, not reopen anything.
	if _, ok := agg.Observe(tick("005930", 0, 999, 1)); ok {
		t.Error("stale tick must not close a candle")
	}

	snap, _ := agg.Snapshot("005930")
	if snap.High == 999 || snap.Volume != 1 {
		t.Errorf("stale tick mutated open candle: %+v", snap)
	}
}

func TestAggregator_ClosedCandleIsDetached(t *testing.T) {
	agg := New(time.Minute, nil, nil)

	agg.Observe(tick("005930", 0, 100, 1))
	closed, ok := agg.Observe(tick("005930", time.Minute, 110, 1))
	if !ok {
		t.Fatal("expected close")
	}

	closed.High = 9999 // mutating the returned candle must not affect state
	agg.Observe(tick("005930", time.Minute+time.Second, 111, 1))

	snap, _ := agg.Snapshot("005930")
	if snap.High == 9999 {
		t.Error("closed candle shares memory with aggregator state")
	}
}
