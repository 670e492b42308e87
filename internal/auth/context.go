package auth

import (
	"context"

	"github.com/authz-engine/tokenauth/pkg/types"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

// PrincipalContextKey is the context key for the authenticated principal
const PrincipalContextKey contextKey = "principal"

// WithPrincipal returns a context carrying the authenticated principal
func WithPrincipal(ctx context.Context, p *types.Principal) context.Context {
	return context.WithValue(ctx, PrincipalContextKey, p)
}

// PrincipalFromContext returns the authenticated principal, if any
func PrincipalFromContext(ctx context.Context) (*types.Principal, bool) {
	p, ok := ctx.Value(PrincipalContextKey).(*types.Principal)
	return p, ok && p != nil
}

// GetPrincipal extracts the Principal from a request context
func GetPrincipal(ctx context.Context) (*types.Principal, error) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return nil, ErrUnauthorized
	}
	return p, nil
}
