package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"equity-auto-trader/internal/domain"
	"equity-auto-trader/internal/storage"
)

func newTestPosition(id, instrument string) *domain.Position {
	return &domain.Position{
		ID:           id,
		Instrument:   instrument,
		Side:         domain.SideLong,
		EntryPrice:   60000,
		EntryQty:     10,
		RemainingQty: 10,
		Status:       domain.StatusActive,
		OpenedAt:     time.Now(),
	}
}

func TestPositionStore_CreateAndGet(t *testing.T) {
	store := NewPositionStore()
	ctx := context.Background()

	if err := store.Create(ctx, newTestPosition("p1", "005930")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.GetByID(ctx, "p1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.EntryPrice != 60000 {
		t.Errorf("EntryPrice mismatch: got %f, want %f", got.EntryPrice, 60000.0)
	}

	open, err := store.GetOpenByInstrument(ctx, "005930")
	if err != nil {
		t.Fatalf("GetOpenByInstrument failed: %v", err)
	}
	if open.ID != "p1" {
		t.Errorf("open position id mismatch: got %s, want p1", open.ID)
	}
}

func TestPositionStore_OneOpenPerInstrument(t *testing.T) {
	store := NewPositionStore()
	ctx := context.Background()

	if err := store.Create(ctx, newTestPosition("p1", "005930")); err != nil {
		t.Fatalf("first Create failed: %v", err)
	}

	err := store.Create(ctx, newTestPosition("p2", "005930"))
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}

	// A different instrument is fine.
	if err := store.Create(ctx, newTestPosition("p3", "000660")); err != nil {
		t.Errorf("Create for other instrument failed: %v", err)
	}
}

func TestPositionStore_CloseReleasesInstrument(t *testing.T) {
	store := NewPositionStore()
	ctx := context.Background()

	p := newTestPosition("p1", "005930")
	if err := store.Create(ctx, p); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	now := time.Now()
	p.RemainingQty = 0
	p.Status = domain.StatusClosed
	p.ClosedAt = &now
	if err := store.Update(ctx, p); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if _, err := store.GetOpenByInstrument(ctx, "005930"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound after close, got %v", err)
	}

	// Closed record retained for audit.
	hist, err := store.ListByInstrument(ctx, "005930")
	if err != nil {
		t.Fatalf("ListByInstrument failed: %v", err)
	}
	if len(hist) != 1 || hist[0].Status != domain.StatusClosed {
		t.Errorf("expected one closed record, got %+v", hist)
	}

	// A new position may now open.
	if err := store.Create(ctx, newTestPosition("p2", "005930")); err != nil {
		t.Errorf("Create after close failed: %v", err)
	}
}

func TestPositionStore_UpdateNotFound(t *testing.T) {
	store := NewPositionStore()
	ctx := context.Background()

	err := store.Update(ctx, newTestPosition("missing", "005930"))
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPositionStore_SnapshotIsolation(t *testing.T) {
	store := NewPositionStore()
	ctx := context.Background()

	if err := store.Create(ctx, newTestPosition("p1", "005930")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	snap, _ := store.GetByID(ctx, "p1")
	snap.RemainingQty = 1 // mutating the snapshot must not touch the store

	got, _ := store.GetByID(ctx, "p1")
	if got.RemainingQty != 10 {
		t.Errorf("store mutated through snapshot: got %d, want 10", got.RemainingQty)
	}
}

func TestPositionStore_ListOpenOrdering(t *testing.T) {
	store := NewPositionStore()
	ctx := context.Background()

	base := time.Now()
	for i, code := range []string{"005930", "000660", "035720"} {
		p := newTestPosition("p"+code, code)
		p.OpenedAt = base.Add(time.Duration(-i) * time.Minute)
		if err := store.Create(ctx, p); err != nil {
			t.Fatalf("Create %s failed: %v", code, err)
		}
	}

	open, err := store.ListOpen(ctx)
	if err != nil {
		t.Fatalf("ListOpen failed: %v", err)
	}
	if len(open) != 3 {
		t.Fatalf("expected 3 open positions, got %d", len(open))
	}
	for i := 1; i < len(open); i++ {
		if open[i].OpenedAt.Before(open[i-1].OpenedAt) {
			t.Errorf("ListOpen not ordered by OpenedAt ASC")
		}
	}
}
