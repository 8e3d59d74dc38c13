// Package credential defines the narrow capability the mail engine needs
// from its host: a bearer token, refreshed on demand. The engine never
// stores long-term credentials; everything in this package
// beyond the Port interface itself is host-side example code, not part of
// the engine's own call graph.
package credential

import (
	"context"
	"time"

	"github.com/hunterclarke/cosmos/lib/model"
)

// Token is a short-lived bearer credential for one account.
type Token struct {
	Bearer    string
	ExpiresAt time.Time
}

// Expired reports whether the token is no longer usable as of now.
func (t Token) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// Port is the credential capability the engine consumes. Implementations
// are supplied by the host: a keychain-backed OAuth client on desktop, a
// platform credential manager on mobile, or (for tests) a static fake.
// Tokens are cached in memory for the lifetime of a call chain and
// refreshed at most once per 401.
type Port interface {
	GetToken(ctx context.Context, account model.AccountID) (Token, error)
	Refresh(ctx context.Context, account model.AccountID) (Token, error)
}

// StaticToken is a Port fake that always returns the same token. Used by
// tests and by hosts bridging a credential system that has no refresh
// concept of its own.
type StaticToken struct {
	Token Token
}

func (s StaticToken) GetToken(ctx context.Context, account model.AccountID) (Token, error) {
	return s.Token, nil
}

func (s StaticToken) Refresh(ctx context.Context, account model.AccountID) (Token, error) {
	return s.Token, nil
}
