// Package auth implements spec.md §4.2: validating caller credentials
// (static API keys with optional service identity, optional signed bearer
// tokens), issuing and revoking per-cluster executor tokens, and the
// request-level authentication middleware.
package auth

import "context"

// Method identifies how a caller authenticated, per spec.md §4.2.
type Method string

const (
	MethodAPIKey Method = "api_key"
	MethodJWT    Method = "jwt"
)

// Identity is the authenticated caller, attached to the request context by
// the middleware and consulted by downstream handlers for audit purposes.
type Identity struct {
	// Subject is the bearer token's subject/email, or the api key's
	// service identity (possibly empty for an unlabeled key).
	Subject string
	// Method records which credential type authenticated the caller.
	Method Method
}

type contextKey struct{}

// NewContext returns a context carrying identity.
func NewContext(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, identity)
}

// FromContext retrieves the Identity stored by the middleware, if any.
func FromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(contextKey{}).(*Identity)
	return identity, ok
}
