package memory

import (
	"context"
	"sort"
	"sync"

	"equity-auto-trader/internal/domain"
	"equity-auto-trader/internal/storage"
)

// SignalStore is an in-memory implementation of storage.SignalStore.
type SignalStore struct {
	mu   sync.RWMutex
	data map[string]*domain.SignalRecord // keyed by dedup key
}

// NewSignalStore creates a new in-memory signal store.
func NewSignalStore() *SignalStore {
	return &SignalStore{
		data: make(map[string]*domain.SignalRecord),
	}
}

var _ storage.SignalStore = (*SignalStore)(nil)

// Insert adds a signal record. Returns ErrDuplicateKey if the dedup key exists.
func (s *SignalStore) Insert(_ context.Context, r *domain.SignalRecord) error {
	if r == nil || r.DedupKey == "" || r.InstrumentKey == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.DedupKey]; exists {
		return storage.ErrDuplicateKey
	}

	cp := *r
	s.data[r.DedupKey] = &cp
	return nil
}

// ListByInstrument retrieves records for an instrument key, ordered by ReceivedAt ASC.
func (s *SignalStore) ListByInstrument(_ context.Context, instrumentKey string) ([]*domain.SignalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SignalRecord
	for _, r := range s.data {
		if r.InstrumentKey == instrumentKey {
			cp := *r
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ReceivedAt.Before(result[j].ReceivedAt)
	})
	return result, nil
}
