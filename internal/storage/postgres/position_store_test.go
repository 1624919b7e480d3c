package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"equity-auto-trader/internal/domain"
	"equity-auto-trader/internal/storage"
	"equity-auto-trader/internal/storage/postgres"
)

func testPosition(id, instrument string) *domain.Position {
	return &domain.Position{
		ID:           id,
		Instrument:   instrument,
		Side:         domain.SideLong,
		EntryPrice:   60000,
		EntryQty:     10,
		RemainingQty: 10,
		Status:       domain.StatusActive,
		OpenedAt:     time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestPositionStore_CreateGetUpdate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewPositionStore(pool)
	ctx := context.Background()

	p := testPosition("p1", "005930")
	require.NoError(t, store.Create(ctx, p))

	got, err := store.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "005930", got.Instrument)
	assert.Equal(t, domain.StatusActive, got.Status)
	assert.Equal(t, int64(10), got.RemainingQty)

	// Partial exit commit
	p.RemainingQty = 5
	p.Status = domain.StatusPartiallyExited
	p.PeakPrice = 61800
	p.TrailingStopPrice = 60564
	require.NoError(t, store.Update(ctx, p))

	got, err = store.GetOpenByInstrument(ctx, "005930")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPartiallyExited, got.Status)
	assert.InDelta(t, 60564, got.TrailingStopPrice, 1e-9)
}

func TestPositionStore_OpenUniquenessEnforcedByIndex(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewPositionStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, testPosition("p1", "005930")))

	err := store.Create(ctx, testPosition("p2", "005930"))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	// Closing the first releases the instrument.
	p, err := store.GetByID(ctx, "p1")
	require.NoError(t, err)
	now := time.Now().UTC().Truncate(time.Microsecond)
	p.RemainingQty = 0
	p.Status = domain.StatusClosed
	p.ClosedAt = &now
	require.NoError(t, store.Update(ctx, p))

	require.NoError(t, store.Create(ctx, testPosition("p2", "005930")))

	hist, err := store.ListByInstrument(ctx, "005930")
	require.NoError(t, err)
	assert.Len(t, hist, 2)
}

func TestPositionStore_UpdateNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewPositionStore(pool)

	err := store.Update(context.Background(), testPosition("missing", "005930"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPositionStore_ListOpen(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewPositionStore(pool)
	ctx := context.Background()

	first := testPosition("p1", "005930")
	first.OpenedAt = time.Now().UTC().Add(-time.Hour).Truncate(time.Microsecond)
	require.NoError(t, store.Create(ctx, first))
	require.NoError(t, store.Create(ctx, testPosition("p2", "000660")))

	open, err := store.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "p1", open[0].ID, "expected OpenedAt ASC ordering")
}
