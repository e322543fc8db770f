package search

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Fingerprint derives the deterministic cache key for a normalized request.
//
// Every input that affects the result set participates: the organization
// (hard tenant isolation - two orgs can never share an entry), the
// normalized query, the result limit, the score threshold, and all filters
// in sorted key order. Filter map iteration order therefore cannot change
// the key.
func Fingerprint(orgID string, req Request) string {
	var b strings.Builder
	b.WriteString("org=")
	b.WriteString(orgID)
	b.WriteString("\x00q=")
	b.WriteString(strings.ToLower(req.Query))
	fmt.Fprintf(&b, "\x00limit=%d\x00threshold=%.6f", req.Limit, req.Threshold)

	if len(req.Filters) > 0 {
		keys := make([]string, 0, len(req.Filters))
		for k := range req.Filters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "\x00f:%s=%s", k, req.Filters[k])
		}
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
