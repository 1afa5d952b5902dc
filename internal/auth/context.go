// ABOUTME: Authenticated identity propagation through request handlers
// ABOUTME: Provides WithIdentity/FromContext for carrying identity via context

package auth

import (
	"context"
)

// Identity is the authenticated caller extracted from a request. Populated by
// the HTTP middleware and retrieved from context in handlers.
type Identity struct {
	UserID string
	Admin  bool // responder role: may claim open requests
}

// identityKey is the key type for storing Identity in context.Context.
type identityKey struct{}

// WithIdentity returns a new context with the Identity attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext retrieves the Identity from the context, returning nil if not
// present.
func FromContext(ctx context.Context) *Identity {
	val := ctx.Value(identityKey{})
	if val == nil {
		return nil
	}
	id, ok := val.(*Identity)
	if !ok {
		return nil
	}
	return id
}

// MustFromContext retrieves the Identity from the context, panicking if not
// present. For handlers mounted strictly behind the auth middleware.
func MustFromContext(ctx context.Context) *Identity {
	id := FromContext(ctx)
	if id == nil {
		panic("auth: Identity not found in context")
	}
	return id
}
