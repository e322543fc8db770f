package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fernwehlabs/searchgate/internal/cache"
	"github.com/fernwehlabs/searchgate/internal/identity"
	"github.com/fernwehlabs/searchgate/internal/quota"
	"github.com/fernwehlabs/searchgate/internal/ratelimit"
	"github.com/fernwehlabs/searchgate/internal/search"
	"github.com/fernwehlabs/searchgate/internal/tracking"
	"github.com/fernwehlabs/searchgate/internal/vectorstore"
)

// stubStore is an in-memory vectorstore.Store for transport tests.
type stubStore struct {
	docs      map[string][]vectorstore.Document
	searchErr error
}

func newStubStore() *stubStore {
	return &stubStore{docs: make(map[string][]vectorstore.Document)}
}

func (s *stubStore) AddDocuments(_ context.Context, orgID string, docs []vectorstore.Document) ([]string, error) {
	ids := make([]string, len(docs))
	for i, d := range docs {
		if d.ID == "" {
			d.ID = fmt.Sprintf("doc-%d", len(s.docs[orgID])+i+1)
		}
		ids[i] = d.ID
		s.docs[orgID] = append(s.docs[orgID], d)
	}
	return ids, nil
}

func (s *stubStore) Search(_ context.Context, orgID, query string, k int, _ float32, _ map[string]string) ([]vectorstore.SearchResult, error) {
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	var out []vectorstore.SearchResult
	for _, d := range s.docs[orgID] {
		if len(out) == k {
			break
		}
		if strings.Contains(strings.ToLower(d.Content), strings.ToLower(query)) {
			out = append(out, vectorstore.SearchResult{ID: d.ID, Content: d.Content, Score: 0.9})
		}
	}
	return out, nil
}

func (s *stubStore) Close() error { return nil }

type serverOpts struct {
	searchConfig search.Config
	limits       quota.Limits
	store        *stubStore
}

func newTestServer(t *testing.T, opts serverOpts) (*Server, *stubStore) {
	t.Helper()

	store := opts.store
	if store == nil {
		store = newStubStore()
	}

	limits := opts.limits
	if limits.Default == 0 {
		limits.Default = 1000
	}
	quotas, err := quota.NewManager(quota.NewMemoryStore(), limits, nil)
	require.NoError(t, err)

	resultCache, err := cache.NewMultiLayer[[]search.Result](cache.Config{}, cache.NewMemoryLayer(), nil)
	require.NoError(t, err)

	tracker, err := tracking.NewTracker(tracking.Config{}, tracking.NewMemorySink(), nil)
	require.NoError(t, err)
	t.Cleanup(tracker.Close)

	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryCounterStore(), nil)

	engine, err := vectorstore.NewEngine(vectorstore.EngineConfig{}, store)
	require.NoError(t, err)

	orchestrator, err := search.NewOrchestrator(opts.searchConfig, limiter, quotas, resultCache, tracker, engine, nil)
	require.NoError(t, err)

	resolver, err := identity.NewStaticResolver(map[string]identity.Identity{
		"token-org1": {UserID: "user-1", OrgID: "org-1"},
		"token-org2": {UserID: "user-2", OrgID: "org-2"},
	})
	require.NoError(t, err)

	srv, err := NewServer(orchestrator, store, resolver, zap.NewNop(), nil)
	require.NoError(t, err)
	return srv, store
}

func doJSON(srv *Server, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

func seedDocuments(t *testing.T, srv *Server, token string, contents ...string) {
	t.Helper()
	docs := make([]string, len(contents))
	for i, c := range contents {
		docs[i] = fmt.Sprintf(`{"content":%q}`, c)
	}
	body := fmt.Sprintf(`{"documents":[%s]}`, strings.Join(docs, ","))
	rec := doJSON(srv, http.MethodPost, "/api/v1/documents", token, body)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t, serverOpts{})

	rec := doJSON(srv, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_Metrics(t *testing.T) {
	srv, _ := newTestServer(t, serverOpts{})

	rec := doJSON(srv, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServer_Search(t *testing.T) {
	t.Run("answers with results and rate limit headers", func(t *testing.T) {
		srv, _ := newTestServer(t, serverOpts{})
		seedDocuments(t, srv, "token-org1", "deploy runbook for the api", "billing faq")

		rec := doJSON(srv, http.MethodPost, "/api/v1/search", "token-org1", `{"query":"deploy runbook"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp SearchResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Results, 1)
		assert.Contains(t, resp.Results[0].Content, "deploy runbook")
		assert.False(t, resp.CacheHit)
		assert.Equal(t, int64(1), resp.Quota.Used)

		assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	})

	t.Run("repeat searches hit the cache", func(t *testing.T) {
		srv, _ := newTestServer(t, serverOpts{})
		seedDocuments(t, srv, "token-org1", "incident postmortem")

		rec := doJSON(srv, http.MethodPost, "/api/v1/search", "token-org1", `{"query":"incident"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = doJSON(srv, http.MethodPost, "/api/v1/search", "token-org1", `{"query":"incident"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp SearchResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.CacheHit)
	})

	t.Run("empty result set is 200 with an empty array", func(t *testing.T) {
		srv, _ := newTestServer(t, serverOpts{})

		rec := doJSON(srv, http.MethodPost, "/api/v1/search", "token-org1", `{"query":"nothing matches this"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp SearchResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotNil(t, resp.Results)
		assert.Empty(t, resp.Results)
	})

	t.Run("400 on validation failure", func(t *testing.T) {
		srv, _ := newTestServer(t, serverOpts{})

		rec := doJSON(srv, http.MethodPost, "/api/v1/search", "token-org1", `{"query":"   "}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "validation failed", resp.Error)
		assert.Contains(t, resp.Detail, "query")
	})

	t.Run("400 on malformed body", func(t *testing.T) {
		srv, _ := newTestServer(t, serverOpts{})

		rec := doJSON(srv, http.MethodPost, "/api/v1/search", "token-org1", `{"query":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("401 without a token", func(t *testing.T) {
		srv, _ := newTestServer(t, serverOpts{})

		rec := doJSON(srv, http.MethodPost, "/api/v1/search", "", `{"query":"q"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("401 with an unknown token", func(t *testing.T) {
		srv, _ := newTestServer(t, serverOpts{})

		rec := doJSON(srv, http.MethodPost, "/api/v1/search", "token-bogus", `{"query":"q"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("402 when quota is exhausted", func(t *testing.T) {
		srv, _ := newTestServer(t, serverOpts{limits: quota.Limits{Default: 1}})

		rec := doJSON(srv, http.MethodPost, "/api/v1/search", "token-org1", `{"query":"first"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = doJSON(srv, http.MethodPost, "/api/v1/search", "token-org1", `{"query":"second"}`)
		require.Equal(t, http.StatusPaymentRequired, rec.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "quota exceeded", resp.Error)
	})

	t.Run("429 with backoff headers when rate limited", func(t *testing.T) {
		srv, _ := newTestServer(t, serverOpts{
			searchConfig: search.Config{UserLimit: 1, UserWindow: time.Minute},
		})

		rec := doJSON(srv, http.MethodPost, "/api/v1/search", "token-org1", `{"query":"first"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = doJSON(srv, http.MethodPost, "/api/v1/search", "token-org1", `{"query":"second"}`)
		require.Equal(t, http.StatusTooManyRequests, rec.Code)

		retryAfter, err := strconv.Atoi(rec.Header().Get("Retry-After"))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, retryAfter, 1)
		assert.LessOrEqual(t, retryAfter, 60)
		assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	})

	t.Run("500 when the engine fails", func(t *testing.T) {
		store := newStubStore()
		store.searchErr = errors.New("index corrupted")
		srv, _ := newTestServer(t, serverOpts{store: store})

		rec := doJSON(srv, http.MethodPost, "/api/v1/search", "token-org1", `{"query":"q"}`)
		require.Equal(t, http.StatusInternalServerError, rec.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "internal error", resp.Error)
	})

	t.Run("organizations are isolated end to end", func(t *testing.T) {
		srv, _ := newTestServer(t, serverOpts{})
		seedDocuments(t, srv, "token-org1", "org one secret roadmap")

		rec := doJSON(srv, http.MethodPost, "/api/v1/search", "token-org2", `{"query":"secret roadmap"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp SearchResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Empty(t, resp.Results)
	})
}

func TestServer_AddDocuments(t *testing.T) {
	t.Run("indexes for the caller's organization", func(t *testing.T) {
		srv, store := newTestServer(t, serverOpts{})

		rec := doJSON(srv, http.MethodPost, "/api/v1/documents", "token-org1",
			`{"documents":[{"id":"d1","content":"hello"},{"content":"world"}]}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp AddDocumentsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Len(t, resp.IDs, 2)
		assert.Equal(t, "d1", resp.IDs[0])
		assert.Len(t, store.docs["org-1"], 2)
		assert.Empty(t, store.docs["org-2"])
	})

	t.Run("400 on an empty batch", func(t *testing.T) {
		srv, _ := newTestServer(t, serverOpts{})

		rec := doJSON(srv, http.MethodPost, "/api/v1/documents", "token-org1", `{"documents":[]}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("401 without a token", func(t *testing.T) {
		srv, _ := newTestServer(t, serverOpts{})

		rec := doJSON(srv, http.MethodPost, "/api/v1/documents", "", `{"documents":[{"content":"x"}]}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestNewServer(t *testing.T) {
	t.Run("rejects missing components", func(t *testing.T) {
		_, err := NewServer(nil, nil, nil, nil, nil)
		assert.Error(t, err)
	})
}
