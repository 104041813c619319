// Package identity carries the authenticated caller through request
// contexts as explicit data. It is populated once at the HTTP boundary
// by the gateway-trusting middleware; nothing downstream reads ambient
// auth state.
package identity

import "context"

// Identity is the authenticated caller of a request
type Identity struct {
	UserID string
}

type contextKey struct{}

// NewContext returns ctx carrying the identity
func NewContext(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext extracts the identity placed by the boundary middleware
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}
