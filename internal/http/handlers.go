package http

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fernwehlabs/searchgate/internal/identity"
	"github.com/fernwehlabs/searchgate/internal/ratelimit"
	"github.com/fernwehlabs/searchgate/internal/search"
	"github.com/fernwehlabs/searchgate/internal/vectorstore"
)

// SearchRequest is the request body for POST /api/v1/search.
type SearchRequest struct {
	Query     string            `json:"query"`
	Limit     int               `json:"limit"`
	Threshold float64           `json:"threshold"`
	Filters   map[string]string `json:"filters"`
}

// SearchResponse is the response body for POST /api/v1/search.
type SearchResponse struct {
	Results   []search.Result `json:"results"`
	CacheHit  bool            `json:"cache_hit"`
	LatencyMS int64           `json:"latency_ms"`
	Quota     QuotaInfo       `json:"quota"`
}

// QuotaInfo is the quota snapshot returned with every successful search.
type QuotaInfo struct {
	Used      int64 `json:"used"`
	Limit     int64 `json:"limit"`
	Remaining int64 `json:"remaining"`
}

// ErrorResponse is the body for every non-2xx outcome.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleSearch runs one request through the pipeline and maps its outcome
// onto the HTTP contract.
func (s *Server) handleSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}

	resp, err := s.orchestrator.Search(c.Request().Context(), search.Request{
		Query:     req.Query,
		Limit:     req.Limit,
		Threshold: req.Threshold,
		Filters:   req.Filters,
	})
	if err != nil {
		return s.searchError(c, err)
	}

	setRateLimitHeaders(c, resp.RateLimit)
	return c.JSON(http.StatusOK, SearchResponse{
		Results:   resp.Results,
		CacheHit:  resp.CacheHit,
		LatencyMS: resp.LatencyMS,
		Quota: QuotaInfo{
			Used:      resp.Quota.Used,
			Limit:     resp.Quota.Limit,
			Remaining: resp.Quota.Remaining,
		},
	})
}

// searchError translates the pipeline error taxonomy to status codes:
// 400 validation, 401 unauthenticated, 402 quota, 429 rate limit,
// 500 everything else.
func (s *Server) searchError(c echo.Context, err error) error {
	var validationErr *search.ValidationError
	if errors.As(err, &validationErr) {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:  "validation failed",
			Detail: validationErr.Error(),
		})
	}

	if errors.Is(err, identity.ErrUnauthenticated) {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthenticated"})
	}

	var rateLimitErr *search.RateLimitError
	if errors.As(err, &rateLimitErr) {
		setRateLimitHeaders(c, rateLimitErr.Decision)
		retryAfter := int(math.Ceil(rateLimitErr.Decision.RetryAfter.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
		return c.JSON(http.StatusTooManyRequests, ErrorResponse{
			Error:  "rate limit exceeded",
			Detail: rateLimitErr.Error(),
		})
	}

	var quotaErr *search.QuotaExceededError
	if errors.As(err, &quotaErr) {
		return c.JSON(http.StatusPaymentRequired, ErrorResponse{
			Error:  "quota exceeded",
			Detail: quotaErr.Error(),
		})
	}

	s.logger.Error("search request failed", zap.Error(err))
	return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}

func setRateLimitHeaders(c echo.Context, d ratelimit.Decision) {
	h := c.Response().Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
}

// AddDocumentsRequest is the request body for POST /api/v1/documents.
type AddDocumentsRequest struct {
	Documents []vectorstore.Document `json:"documents"`
}

// AddDocumentsResponse is the response body for POST /api/v1/documents.
type AddDocumentsResponse struct {
	IDs []string `json:"ids"`
}

// handleAddDocuments indexes content for the caller's organization.
func (s *Server) handleAddDocuments(c echo.Context) error {
	id, err := identity.FromContext(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthenticated"})
	}

	var req AddDocumentsRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}
	if len(req.Documents) == 0 {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "documents field is required"})
	}

	ids, err := s.store.AddDocuments(c.Request().Context(), id.OrgID, req.Documents)
	if err != nil {
		s.logger.Error("document indexing failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}

	return c.JSON(http.StatusOK, AddDocumentsResponse{IDs: ids})
}
