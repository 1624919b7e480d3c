package domain

import "time"

// CredentialKind distinguishes the two short-lived venue credentials.
type CredentialKind string

const (
	// CredentialTrading is the OAuth bearer token used on REST order calls.
	CredentialTrading CredentialKind = "trading"
	// CredentialStreaming is the approval key used to open the realtime feed.
	CredentialStreaming CredentialKind = "streaming"
)

// Credential is an immutable snapshot of one venue credential.
// Refresh replaces the whole value; fields are never mutated in place.
type Credential struct {
	Value     string
	Kind      CredentialKind
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ValidAt reports whether the credential is still usable at t with the
// given safety margin. A credential inside the margin window is treated
// as expired so refresh happens before a request races actual expiry.
func (c *Credential) ValidAt(t time.Time, margin time.Duration) bool {
	if c == nil || c.Value == "" {
		return false
	}
	return t.Add(margin).Before(c.ExpiresAt)
}
