package search

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Validation bounds for inbound requests.
const (
	MaxQueryLength = 500
	MaxLimit       = 100
	DefaultLimit   = 20
	MaxFilters     = 16
	maxFilterLen   = 128
)

// ValidationError describes a rejected request. It is produced before any
// pipeline component is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Normalize canonicalizes the request in place: the query is trimmed and
// inner whitespace collapsed, and the result limit gets its default.
// Normalization happens before validation and before fingerprinting, so
// equivalent requests share a cache entry.
func (r *Request) Normalize() {
	r.Query = strings.Join(strings.Fields(r.Query), " ")
	if r.Limit == 0 {
		r.Limit = DefaultLimit
	}
}

// Validate checks the normalized request against the input contract.
func (r *Request) Validate() error {
	if r.Query == "" {
		return &ValidationError{Field: "query", Reason: "must not be empty"}
	}
	if !utf8.ValidString(r.Query) {
		return &ValidationError{Field: "query", Reason: "must be valid UTF-8"}
	}
	if utf8.RuneCountInString(r.Query) > MaxQueryLength {
		return &ValidationError{
			Field:  "query",
			Reason: fmt.Sprintf("must be at most %d characters", MaxQueryLength),
		}
	}
	if r.Limit < 1 || r.Limit > MaxLimit {
		return &ValidationError{
			Field:  "limit",
			Reason: fmt.Sprintf("must be between 1 and %d", MaxLimit),
		}
	}
	if r.Threshold < 0 || r.Threshold > 1 {
		return &ValidationError{Field: "threshold", Reason: "must be within [0, 1]"}
	}
	if len(r.Filters) > MaxFilters {
		return &ValidationError{
			Field:  "filters",
			Reason: fmt.Sprintf("at most %d filters allowed", MaxFilters),
		}
	}
	for k, v := range r.Filters {
		if k == "" {
			return &ValidationError{Field: "filters", Reason: "filter keys must not be empty"}
		}
		if len(k) > maxFilterLen || len(v) > maxFilterLen {
			return &ValidationError{
				Field:  "filters",
				Reason: fmt.Sprintf("filter keys and values must be at most %d bytes", maxFilterLen),
			}
		}
	}
	return nil
}
