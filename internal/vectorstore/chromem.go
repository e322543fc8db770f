package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fernwehlabs/searchgate/internal/logging"
)

// orgIDPattern bounds collection-name inputs; anything else is rejected
// rather than sanitized, since collection names map to directories on disk.
var orgIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// ChromemConfig holds configuration for the embedded chromem-go store.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	Path string `koanf:"path"`

	// Compress enables gzip compression for stored data.
	Compress bool `koanf:"compress"`
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "~/.local/share/searchgate/vectorstore"
	}
}

// ChromemStore implements Store using chromem-go.
//
// chromem-go is an embeddable vector database with zero third-party
// dependencies: pure Go, no external service, persistence to gob files.
// One collection per organization (org_{id}_documents) is the isolation
// boundary.
type ChromemStore struct {
	db       *chromem.DB
	embedder Embedder
	config   ChromemConfig
	logger   *logging.Logger

	// collections guards lazy per-org collection creation.
	mu          sync.Mutex
	collections map[string]*chromem.Collection
}

// NewChromemStore creates a ChromemStore with the given configuration.
func NewChromemStore(config ChromemConfig, embedder Embedder, logger *logging.Logger) (*ChromemStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	config.ApplyDefaults()

	path, err := expandPath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}

	db, err := chromem.NewPersistentDB(path, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	return &ChromemStore{
		db:          db,
		embedder:    embedder,
		config:      config,
		logger:      logger.Named("vectorstore"),
		collections: make(map[string]*chromem.Collection),
	}, nil
}

// AddDocuments implements Store.
func (s *ChromemStore) AddDocuments(ctx context.Context, orgID string, docs []Document) ([]string, error) {
	if len(docs) == 0 {
		return nil, ErrEmptyDocuments
	}
	col, err := s.collection(orgID)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Content
	}
	embeddings, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(embeddings) != len(docs) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d documents",
			ErrEmbeddingFailed, len(embeddings), len(docs))
	}

	ids := make([]string, len(docs))
	chromemDocs := make([]chromem.Document, len(docs))
	for i, doc := range docs {
		if doc.ID == "" {
			doc.ID = uuid.NewString()
		}
		ids[i] = doc.ID
		chromemDocs[i] = chromem.Document{
			ID:        doc.ID,
			Content:   doc.Content,
			Metadata:  doc.Metadata,
			Embedding: embeddings[i],
		}
	}

	if err := col.AddDocuments(ctx, chromemDocs, 1); err != nil {
		return nil, fmt.Errorf("adding documents: %w", err)
	}

	s.logger.Debug(ctx, "indexed documents",
		zap.String("org_id", orgID),
		zap.Int("count", len(docs)))
	return ids, nil
}

// Search implements Store.
func (s *ChromemStore) Search(ctx context.Context, orgID, query string, k int, threshold float32, filters map[string]string) ([]SearchResult, error) {
	col, err := s.collection(orgID)
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults > collection size.
	if count := col.Count(); k > count {
		k = count
	}
	if k == 0 {
		return []SearchResult{}, nil
	}

	embedding, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	matches, err := col.QueryEmbedding(ctx, embedding, k, filters, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	results := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		if m.Similarity < threshold {
			continue
		}
		results = append(results, SearchResult{
			ID:       m.ID,
			Content:  m.Content,
			Score:    m.Similarity,
			Metadata: m.Metadata,
		})
	}
	return results, nil
}

// Close implements Store. chromem persists synchronously, so there is
// nothing to flush.
func (s *ChromemStore) Close() error {
	return nil
}

// collection returns the organization's collection, creating it lazily.
func (s *ChromemStore) collection(orgID string) (*chromem.Collection, error) {
	if !orgIDPattern.MatchString(orgID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOrg, orgID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if col, ok := s.collections[orgID]; ok {
		return col, nil
	}

	name := fmt.Sprintf("org_%s_documents", orgID)
	// Embeddings are supplied explicitly on every call; the collection's own
	// embedding func must never run.
	col, err := s.db.GetOrCreateCollection(name, nil, rejectEmbedding)
	if err != nil {
		return nil, fmt.Errorf("collection %s: %w", name, err)
	}
	s.collections[orgID] = col
	return col, nil
}

func rejectEmbedding(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("implicit embedding disabled, supply embeddings explicitly")
}

// expandPath resolves a leading ~ to the user home directory.
func expandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
