package memory

import (
	"context"
	"sort"
	"sync"

	"equity-auto-trader/internal/domain"
	"equity-auto-trader/internal/storage"
)

// PositionStore is an in-memory implementation of storage.PositionStore.
// Used by tests and -use-memory runs; it does not survive restart.
type PositionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Position // keyed by id
	open map[string]string           // instrument -> open position id
}

// NewPositionStore creates a new in-memory position store.
func NewPositionStore() *PositionStore {
	return &PositionStore{
		data: make(map[string]*domain.Position),
		open: make(map[string]string),
	}
}

var _ storage.PositionStore = (*PositionStore)(nil)

// Create inserts a new position. Returns ErrDuplicateKey if the id exists
// or the instrument already has a non-Closed position.
func (s *PositionStore) Create(_ context.Context, p *domain.Position) error {
	if p == nil || p.ID == "" || p.Instrument == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.ID]; exists {
		return storage.ErrDuplicateKey
	}
	if _, exists := s.open[p.Instrument]; exists {
		return storage.ErrDuplicateKey
	}

	cp := *p
	s.data[p.ID] = &cp
	if cp.Status != domain.StatusClosed {
		s.open[p.Instrument] = p.ID
	}
	return nil
}

// Update replaces the stored record for p.ID.
func (s *PositionStore) Update(_ context.Context, p *domain.Position) error {
	if p == nil || p.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, exists := s.data[p.ID]
	if !exists {
		return storage.ErrNotFound
	}

	cp := *p
	s.data[p.ID] = &cp

	if cp.Status == domain.StatusClosed {
		if id, ok := s.open[prev.Instrument]; ok && id == p.ID {
			delete(s.open, prev.Instrument)
		}
	} else {
		s.open[cp.Instrument] = p.ID
	}
	return nil
}

// GetByID retrieves a position by id.
func (s *PositionStore) GetByID(_ context.Context, id string) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// GetOpenByInstrument retrieves the single non-Closed position for an instrument.
func (s *PositionStore) GetOpenByInstrument(_ context.Context, instrument string) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.open[instrument]
	if !exists {
		return nil, storage.ErrNotFound
	}
	cp := *s.data[id]
	return &cp, nil
}

// ListOpen retrieves all non-Closed positions, ordered by OpenedAt ASC.
func (s *PositionStore) ListOpen(_ context.Context) ([]*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Position
	for _, id := range s.open {
		cp := *s.data[id]
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].OpenedAt.Before(result[j].OpenedAt)
	})
	return result, nil
}

// ListByInstrument retrieves the full history for an instrument, ordered by OpenedAt ASC.
func (s *PositionStore) ListByInstrument(_ context.Context, instrument string) ([]*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Position
	for _, p := range s.data {
		if p.Instrument == instrument {
			cp := *p
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].OpenedAt.Before(result[j].OpenedAt)
	})
	return result, nil
}
