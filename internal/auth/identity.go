package auth

import (
	"context"
	"errors"
)

// ErrInvalidToken is returned by resolvers when a token is malformed,
// expired, badly signed, or rejected by the identity provider.
var ErrInvalidToken = errors.New("auth: invalid token")

// Identity is the resolved caller: the provider's user ID and email.
type Identity struct {
	UserID string `json:"id"`
	Email  string `json:"email"`
}

// Resolver turns a raw session token into an Identity.
//
// Implementations return an error wrapping ErrInvalidToken when the token
// itself is bad, and any other error when the provider could not be reached.
// RequireAuth answers 401 in both cases.
type Resolver interface {
	Resolve(ctx context.Context, token string) (*Identity, error)
}

// contextKey is an unexported type used for context keys in this package.
//
// WHY A CUSTOM TYPE FOR CONTEXT KEYS?
// context.WithValue uses any as the key type. A plain string key could be
// read or shadowed by any package that knows the string. Only this package
// can create a value of type contextKey, so only it can read or write the
// identity.
type contextKey string

const identityKey contextKey = "identity"

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext retrieves the authenticated caller from the request
// context. It returns (nil, false) when RequireAuth did not run or rejected
// the request.
//
// Usage in handlers:
//
//	id, ok := auth.IdentityFromContext(r.Context())
//	if !ok {
//	    // unauthorized
//	}
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey).(*Identity)
	return id, ok && id != nil && id.UserID != ""
}
