package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"equity-auto-trader/internal/domain"
)

type fakeIssuer struct {
	mu          sync.Mutex
	tokenCalls  atomic.Int64
	keyCalls    atomic.Int64
	tokenErr    error
	delay       time.Duration
	ttl         time.Duration
	tokenSerial int
}

func (f *fakeIssuer) IssueAccessToken(_ context.Context) (*domain.Credential, error) {
	f.tokenCalls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.tokenErr != nil {
		return nil, f.tokenErr
	}
	f.mu.Lock()
	f.tokenSerial++
	serial := f.tokenSerial
	f.mu.Unlock()

	ttl := f.ttl
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	now := time.Now()
	return &domain.Credential{
		Value:     "token-" + string(rune('0'+serial)),
		Kind:      domain.CredentialTrading,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

func (f *fakeIssuer) IssueApprovalKey(_ context.Context) (*domain.Credential, error) {
	f.keyCalls.Add(1)
	now := time.Now()
	return &domain.Credential{
		Value:     "approval-key",
		Kind:      domain.CredentialStreaming,
		IssuedAt:  now,
		ExpiresAt: now.Add(24 * time.Hour),
	}, nil
}

func TestStore_RefreshOnFirstUse(t *testing.T) {
	issuer := &fakeIssuer{}
	store := NewStore(StoreOptions{Issuer: issuer})

	cred, err := store.TradingCredential(context.Background())
	if err != nil {
		t.Fatalf("TradingCredential failed: %v", err)
	}
	if cred.Value == "" || cred.Kind != domain.CredentialTrading {
		t.Errorf("unexpected credential: %+v", cred)
	}
	if got := issuer.tokenCalls.Load(); got != 1 {
		t.Errorf("expected 1 refresh, got %d", got)
	}

	// Second call served from cache.
	if _, err := store.TradingCredential(context.Background()); err != nil {
		t.Fatalf("second call failed: %v", err)
	}
	if got := issuer.tokenCalls.Load(); got != 1 {
		t.Errorf("cache miss on valid credential: %d refreshes", got)
	}
}

func TestStore_ProactiveRefreshInsideMargin(t *testing.T) {
	issuer := &fakeIssuer{ttl: time.Minute}
	store := NewStore(StoreOptions{Issuer: issuer, RefreshMargin: 5 * time.Minute})

	ctx := context.Background()
	if _, err := store.TradingCredential(ctx); err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	// TTL < margin, so the cached credential is already inside the margin
	// and the next call must refresh again rather than hand it out.
	if _, err := store.TradingCredential(ctx); err != nil {
		t.Fatalf("second call failed: %v", err)
	}
	if got := issuer.tokenCalls.Load(); got != 2 {
		t.Errorf("expected proactive refresh, got %d calls", got)
	}
}

func TestStore_CoalescesConcurrentRefreshes(t *testing.T) {
	issuer := &fakeIssuer{delay: 50 * time.Millisecond}
	store := NewStore(StoreOptions{Issuer: issuer})

	const callers = 16
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.TradingCredential(context.Background())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent call failed: %v", err)
		}
	}
	if got := issuer.tokenCalls.Load(); got != 1 {
		t.Errorf("refresh not coalesced: %d network calls", got)
	}
}

func TestStore_RefreshFailureIsAuthError(t *testing.T) {
	issuer := &fakeIssuer{tokenErr: errors.New("connection refused")}
	store := NewStore(StoreOptions{Issuer: issuer})

	_, err := store.TradingCredential(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %T: %v", err, err)
	}
	if authErr.Kind != domain.CredentialTrading {
		t.Errorf("wrong kind: %s", authErr.Kind)
	}

	// Recovery after the issuer comes back.
	issuer.tokenErr = nil
	if _, err := store.TradingCredential(context.Background()); err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
}

func TestStore_StreamingKindRoutesToApproval(t *testing.T) {
	issuer := &fakeIssuer{}
	store := NewStore(StoreOptions{Issuer: issuer})

	cred, err := store.StreamingCredential(context.Background())
	if err != nil {
		t.Fatalf("StreamingCredential failed: %v", err)
	}
	if cred.Kind != domain.CredentialStreaming {
		t.Errorf("wrong kind: %s", cred.Kind)
	}
	if issuer.keyCalls.Load() != 1 || issuer.tokenCalls.Load() != 0 {
		t.Errorf("wrong issuer path: token=%d key=%d", issuer.tokenCalls.Load(), issuer.keyCalls.Load())
	}
}

func TestStore_InvalidateForcesRefresh(t *testing.T) {
	issuer := &fakeIssuer{}
	store := NewStore(StoreOptions{Issuer: issuer})

	ctx := context.Background()
	if _, err := store.TradingCredential(ctx); err != nil {
		t.Fatal(err)
	}
	store.Invalidate(domain.CredentialTrading)
	if _, err := store.TradingCredential(ctx); err != nil {
		t.Fatal(err)
	}
	if got := issuer.tokenCalls.Load(); got != 2 {
		t.Errorf("expected refresh after invalidate, got %d calls", got)
	}
}
