// Package vectorstore defines the interface for the content store behind
// the search engine, and its embedded chromem-go implementation.
package vectorstore

import (
	"context"
	"errors"
)

// Sentinel errors for vector store operations.
var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyDocuments indicates empty or nil documents.
	ErrEmptyDocuments = errors.New("empty or nil documents")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("failed to generate embeddings")

	// ErrInvalidOrg indicates an empty or malformed organization ID.
	ErrInvalidOrg = errors.New("invalid organization identifier")
)

// Document is content to index for one organization.
type Document struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SearchResult is one ranked match.
type SearchResult struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Score    float32           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Embedder generates vector embeddings from text.
//
// Implementations can use a local model or an external service (TEI).
type Embedder interface {
	// EmbedDocuments generates embeddings for multiple texts.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query.
	// Some models optimize differently for queries vs documents.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Store is an org-isolated similarity store.
//
// Isolation model: every organization gets its own collection; orgID is
// mandatory on every call and there is no cross-collection query path, so
// one tenant's content can never appear in another tenant's results.
type Store interface {
	// AddDocuments embeds and indexes documents for the organization.
	// Returns the IDs of added documents.
	AddDocuments(ctx context.Context, orgID string, docs []Document) ([]string, error)

	// Search returns up to k results for the organization ordered by
	// similarity (highest first), dropping matches below threshold.
	// Filters are exact-match constraints on document metadata.
	Search(ctx context.Context, orgID, query string, k int, threshold float32, filters map[string]string) ([]SearchResult, error)

	// Close releases store resources.
	Close() error
}
