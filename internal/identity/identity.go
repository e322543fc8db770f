// Package identity carries the authenticated caller through the request
// pipeline and defines the resolver collaborator that produces it.
package identity

import (
	"context"
	"errors"
)

// Fail-closed security model: a request without a resolvable identity never
// reaches rate limiting, quota, or the search engine.
var (
	// ErrUnauthenticated is returned when no identity can be resolved.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrMissingIdentity is returned when identity is missing from context.
	ErrMissingIdentity = errors.New("identity missing from context")

	// ErrInvalidIdentity is returned when an identity has empty identifiers.
	ErrInvalidIdentity = errors.New("invalid identity")
)

// identityContextKey is the context key for Identity.
type identityContextKey struct{}

// Identity is the authenticated caller: the user and the organization the
// request is billed and isolated against.
type Identity struct {
	// UserID identifies the individual caller (required).
	UserID string

	// OrgID identifies the tenant organization (required).
	OrgID string
}

// Validate checks that required fields are present.
func (id *Identity) Validate() error {
	if id.UserID == "" || id.OrgID == "" {
		return ErrInvalidIdentity
	}
	return nil
}

// ContextWithIdentity adds an Identity to a context.
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// FromContext extracts the Identity from a context.
// Returns ErrMissingIdentity if not present - fail closed.
func FromContext(ctx context.Context) (*Identity, error) {
	val := ctx.Value(identityContextKey{})
	if val == nil {
		return nil, ErrMissingIdentity
	}
	id, ok := val.(*Identity)
	if !ok || id == nil {
		return nil, ErrMissingIdentity
	}
	if err := id.Validate(); err != nil {
		return nil, err
	}
	return id, nil
}

// Resolver resolves a bearer credential to an Identity.
//
// This is the boundary to the external identity provider. Implementations
// must be safe for concurrent use.
type Resolver interface {
	// Resolve maps a credential to an identity.
	// Returns ErrUnauthenticated when the credential is unknown or expired.
	Resolve(ctx context.Context, credential string) (*Identity, error)
}
