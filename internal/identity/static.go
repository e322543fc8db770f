package identity

import (
	"context"
	"fmt"
	"sync"
)

// StaticResolver resolves credentials from an in-memory token table.
//
// It backs development and test deployments where no external identity
// provider is configured. Tokens map to fixed user/org pairs.
type StaticResolver struct {
	mu     sync.RWMutex
	tokens map[string]Identity
}

// NewStaticResolver creates a resolver from a token table.
func NewStaticResolver(tokens map[string]Identity) (*StaticResolver, error) {
	for token, id := range tokens {
		if token == "" {
			return nil, fmt.Errorf("%w: empty token", ErrInvalidIdentity)
		}
		if err := id.Validate(); err != nil {
			return nil, fmt.Errorf("token %q: %w", token, err)
		}
	}
	copied := make(map[string]Identity, len(tokens))
	for k, v := range tokens {
		copied[k] = v
	}
	return &StaticResolver{tokens: copied}, nil
}

// Resolve implements Resolver.
func (r *StaticResolver) Resolve(_ context.Context, credential string) (*Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.tokens[credential]
	if !ok {
		return nil, ErrUnauthenticated
	}
	return &Identity{UserID: id.UserID, OrgID: id.OrgID}, nil
}

// AddToken registers a credential at runtime. Used by tests.
func (r *StaticResolver) AddToken(token string, id Identity) error {
	if err := id.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[token] = id
	return nil
}
