// ABOUTME: Request context propagation for the authenticated principal
// ABOUTME: Provides WithPrincipal/PrincipalFromContext used by middleware and handlers

package auth

import "context"

// principalKey is the context key type for the authenticated principal.
type principalKey struct{}

// WithPrincipal returns a new context with the principal attached.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext retrieves the authenticated principal, or nil if the
// request never passed the session verifier.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	if !ok {
		return nil
	}
	return p
}

// MustPrincipal retrieves the principal and panics if it is absent. Only
// for handlers that are always mounted behind the session verifier.
func MustPrincipal(ctx context.Context) *Principal {
	p := PrincipalFromContext(ctx)
	if p == nil {
		panic("auth: principal not found in context")
	}
	return p
}
