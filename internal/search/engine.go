package search

import "context"

// Engine is the external search/ranking collaborator.
//
// The pipeline never calls it directly; the orchestrator wraps it in the
// cache's compute function, scoped to the requesting organization. The
// engine must honor context cancellation - the orchestrator applies the
// compute timeout through ctx.
type Engine interface {
	// Search ranks content for the organization against the normalized
	// request and returns up to req.Limit results, best first.
	Search(ctx context.Context, orgID string, req Request) ([]Result, error)
}

// EngineFunc adapts a function to the Engine interface.
type EngineFunc func(ctx context.Context, orgID string, req Request) ([]Result, error)

// Search implements Engine.
func (f EngineFunc) Search(ctx context.Context, orgID string, req Request) ([]Result, error) {
	return f(ctx, orgID, req)
}
