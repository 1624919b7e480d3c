// Package auth manages the venue's short-lived credentials. The store
// refreshes proactively inside a safety margin so an expired credential
// never reaches the order path, and coalesces concurrent refreshes into a
// single network call.
package auth

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"equity-auto-trader/internal/domain"
	"equity-auto-trader/internal/observability"
)

// DefaultRefreshMargin is the window before expiry inside which a
// credential is already treated as expired.
const DefaultRefreshMargin = 5 * time.Minute

// Issuer obtains fresh credentials from the venue.
type Issuer interface {
	IssueAccessToken(ctx context.Context) (*domain.Credential, error)
	IssueApprovalKey(ctx context.Context) (*domain.Credential, error)
}

// Store caches one live credential per kind and refreshes on demand.
type Store struct {
	issuer  Issuer
	margin  time.Duration
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time

	mu    sync.RWMutex
	cache map[domain.CredentialKind]*domain.Credential

	group singleflight.Group
}

// StoreOptions configures a Store.
type StoreOptions struct {
	Issuer        Issuer
	RefreshMargin time.Duration
	Logger        *zap.Logger
	Metrics       *observability.Metrics
	Clock         func() time.Time
}

// NewStore creates a credential store.
func NewStore(opts StoreOptions) *Store {
	margin := opts.RefreshMargin
	if margin == 0 {
		margin = DefaultRefreshMargin
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	return &Store{
		issuer:  opts.Issuer,
		margin:  margin,
		logger:  logger,
		metrics: opts.Metrics,
		now:     now,
		cache:   make(map[domain.CredentialKind]*domain.Credential),
	}
}

// TradingCredential returns a currently valid trading bearer token,
// refreshing it first if missing or inside the safety margin.
func (s *Store) TradingCredential(ctx context.Context) (*domain.Credential, error) {
	return s.credential(ctx, domain.CredentialTrading)
}

// StreamingCredential returns a currently valid streaming access key.
func (s *Store) StreamingCredential(ctx context.Context) (*domain.Credential, error) {
	return s.credential(ctx, domain.CredentialStreaming)
}

// Invalidate drops the cached credential of a kind so the next call
// refreshes. Used when the venue rejects a credential it issued.
func (s *Store) Invalidate(kind domain.CredentialKind) {
	s.mu.Lock()
	delete(s.cache, kind)
	s.mu.Unlock()
}

func (s *Store) credential(ctx context.Context, kind domain.CredentialKind) (*domain.Credential, error) {
	s.mu.RLock()
	cached := s.cache[kind]
	s.mu.RUnlock()

	if cached.ValidAt(s.now(), s.margin) {
		return cached, nil
	}

	// Coalesce: one in-flight refresh per kind, other callers await it.
	v, err, _ := s.group.Do(string(kind), func() (any, error) {
		// Another caller may have finished a refresh while we waited.
		s.mu.RLock()
		current := s.cache[kind]
		s.mu.RUnlock()
		if current.ValidAt(s.now(), s.margin) {
			return current, nil
		}
		return s.refresh(ctx, kind)
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.CredentialRefreshErrors.WithLabelValues(string(kind)).Inc()
		}
		return nil, &AuthError{Kind: kind, Err: err}
	}
	return v.(*domain.Credential), nil
}

func (s *Store) refresh(ctx context.Context, kind domain.CredentialKind) (*domain.Credential, error) {
	var (
		cred *domain.Credential
		err  error
	)
	switch kind {
	case domain.CredentialStreaming:
		cred, err = s.issuer.IssueApprovalKey(ctx)
	default:
		cred, err = s.issuer.IssueAccessToken(ctx)
	}
	if err != nil {
		return nil, err
	}

	// Replace wholesale; credentials are never mutated in place.
	s.mu.Lock()
	s.cache[kind] = cred
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.CredentialRefreshes.WithLabelValues(string(kind)).Inc()
	}
	s.logger.Info("credential refreshed",
		zap.String("kind", string(kind)),
		zap.Time("expires_at", cred.ExpiresAt),
	)
	return cred, nil
}
