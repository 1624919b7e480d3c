package auth

import (
	"fmt"

	"equity-auto-trader/internal/domain"
)

// AuthError reports a failed credential refresh. Any call that needed the
// credential fails with this error; callers must not proceed with a stale
// credential.
type AuthError struct {
	Kind domain.CredentialKind
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("refresh %s credential: %v", e.Kind, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}
