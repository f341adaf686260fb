package auth

import (
	"context"
	"slices"

	"github.com/go-faster/errors"
)

// ScopeStaff grants access to other users' orders and to status updates.
const ScopeStaff = "staff"

// ErrUnauthorized is returned when an API key does not resolve to a user.
var ErrUnauthorized = errors.New("unauthorized")

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	UserID  string
	Email   string
	Scopes  []string
}

// Principal is the authenticated caller of a shop operation.
type Principal struct {
	UserID string
	Email  string
	Scopes []string
}

// IsStaff reports whether the principal may act on other users' orders.
func (p Principal) IsStaff() bool {
	return slices.Contains(p.Scopes, ScopeStaff)
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

type principalKey struct{}

// WithPrincipal stores the principal in the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored in ctx, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
