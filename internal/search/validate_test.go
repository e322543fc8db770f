package search

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequest_Normalize(t *testing.T) {
	t.Run("collapses whitespace", func(t *testing.T) {
		req := Request{Query: "  how   to\trotate\n credentials  "}
		req.Normalize()
		assert.Equal(t, "how to rotate credentials", req.Query)
	})

	t.Run("defaults the limit", func(t *testing.T) {
		req := Request{Query: "q"}
		req.Normalize()
		assert.Equal(t, DefaultLimit, req.Limit)
	})

	t.Run("keeps an explicit limit", func(t *testing.T) {
		req := Request{Query: "q", Limit: 7}
		req.Normalize()
		assert.Equal(t, 7, req.Limit)
	})

	t.Run("whitespace-only query normalizes to empty", func(t *testing.T) {
		req := Request{Query: "   \t\n  "}
		req.Normalize()
		assert.Equal(t, "", req.Query)
	})
}

func TestRequest_Validate(t *testing.T) {
	valid := func() Request {
		return Request{Query: "how to rotate credentials", Limit: 20, Threshold: 0.5}
	}

	t.Run("accepts a valid request", func(t *testing.T) {
		req := valid()
		assert.NoError(t, req.Validate())
	})

	tests := []struct {
		name   string
		mutate func(*Request)
		field  string
	}{
		{"empty query", func(r *Request) { r.Query = "" }, "query"},
		{"invalid utf-8", func(r *Request) { r.Query = string([]byte{0xff, 0xfe}) }, "query"},
		{"query too long", func(r *Request) { r.Query = strings.Repeat("a", MaxQueryLength+1) }, "query"},
		{"zero limit", func(r *Request) { r.Limit = 0 }, "limit"},
		{"negative limit", func(r *Request) { r.Limit = -1 }, "limit"},
		{"limit too large", func(r *Request) { r.Limit = MaxLimit + 1 }, "limit"},
		{"negative threshold", func(r *Request) { r.Threshold = -0.1 }, "threshold"},
		{"threshold above one", func(r *Request) { r.Threshold = 1.1 }, "threshold"},
		{"empty filter key", func(r *Request) { r.Filters = map[string]string{"": "v"} }, "filters"},
		{"oversized filter value", func(r *Request) {
			r.Filters = map[string]string{"k": strings.Repeat("v", maxFilterLen+1)}
		}, "filters"},
		{"too many filters", func(r *Request) {
			r.Filters = make(map[string]string)
			for i := 0; i <= MaxFilters; i++ {
				r.Filters[strings.Repeat("k", i+1)] = "v"
			}
		}, "filters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(&req)

			err := req.Validate()
			require.Error(t, err)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	t.Run("boundary values are accepted", func(t *testing.T) {
		req := valid()
		req.Query = strings.Repeat("q", MaxQueryLength)
		req.Limit = MaxLimit
		req.Threshold = 1.0
		assert.NoError(t, req.Validate())

		req.Limit = 1
		req.Threshold = 0
		assert.NoError(t, req.Validate())
	})

	t.Run("multibyte queries are measured in runes", func(t *testing.T) {
		req := valid()
		req.Query = strings.Repeat("ü", MaxQueryLength)
		assert.NoError(t, req.Validate())
	})
}
