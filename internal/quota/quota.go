// Package quota provides metered usage accounting per (organization,
// resource) pair.
//
// Checking is side-effect-free; consumption is an atomic compare-and-add
// that can never push usage past the limit, regardless of concurrency.
// Unlike rate limiting, quota never fails open: a broken ledger store is a
// hard error, because admitting unmetered work is a billing defect.
package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/fernwehlabs/searchgate/internal/logging"
)

// ErrQuotaExceeded is returned by Consume when the requested amount does
// not fit under the limit. The ledger is left untouched.
var ErrQuotaExceeded = errors.New("quota exceeded")

// Snapshot is a point-in-time view of one ledger entry.
type Snapshot struct {
	// Available reports whether at least one more unit fits under the limit.
	Available bool

	// Used is the amount consumed so far in the current period.
	Used int64

	// Limit is the configured ceiling.
	Limit int64

	// Remaining is Limit - Used, never negative.
	Remaining int64
}

// Limits resolves the quota ceiling for an organization and resource.
type Limits struct {
	// Default applies when no resource-specific limit is configured.
	Default int64 `koanf:"default"`

	// Resources maps a resource name to its per-organization limit.
	Resources map[string]int64 `koanf:"resources"`

	// Overrides maps "orgID/resource" to an organization-specific limit.
	Overrides map[string]int64 `koanf:"overrides"`
}

// LimitFor returns the effective limit for (orgID, resource).
func (l Limits) LimitFor(orgID, resource string) int64 {
	if limit, ok := l.Overrides[orgID+"/"+resource]; ok {
		return limit
	}
	if limit, ok := l.Resources[resource]; ok {
		return limit
	}
	return l.Default
}

// Manager is the quota ledger front-end.
type Manager struct {
	store  Store
	limits Limits
	logger *logging.Logger
}

// NewManager creates a manager over the given ledger store.
func NewManager(store Store, limits Limits, logger *logging.Logger) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if limits.Default <= 0 && len(limits.Resources) == 0 {
		return nil, fmt.Errorf("no quota limits configured")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{store: store, limits: limits, logger: logger.Named("quota")}, nil
}

// Check returns the current snapshot without mutating the ledger.
//
// A passing check reserves nothing: two racing requests can both observe
// availability and one of them still fail the later Consume.
func (m *Manager) Check(ctx context.Context, orgID, resource string) (Snapshot, error) {
	limit := m.limits.LimitFor(orgID, resource)

	used, err := m.store.Usage(ctx, ledgerKey(orgID, resource))
	if err != nil {
		return Snapshot{}, fmt.Errorf("read usage for %s/%s: %w", orgID, resource, err)
	}
	return snapshot(used, limit), nil
}

// Consume atomically adds amount to the ledger entry if and only if the
// post-increment value stays at or under the limit.
//
// On ErrQuotaExceeded the returned snapshot reflects the untouched ledger.
func (m *Manager) Consume(ctx context.Context, orgID, resource string, amount int64) (Snapshot, error) {
	if amount <= 0 {
		return Snapshot{}, fmt.Errorf("consume amount must be positive, got %d", amount)
	}
	limit := m.limits.LimitFor(orgID, resource)

	used, ok, err := m.store.Add(ctx, ledgerKey(orgID, resource), amount, limit)
	if err != nil {
		return Snapshot{}, fmt.Errorf("consume %d for %s/%s: %w", amount, orgID, resource, err)
	}

	snap := snapshot(used, limit)
	if !ok {
		consumeTotal.WithLabelValues("exceeded").Inc()
		return snap, ErrQuotaExceeded
	}
	consumeTotal.WithLabelValues("ok").Inc()
	return snap, nil
}

func snapshot(used, limit int64) Snapshot {
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return Snapshot{
		Available: used < limit,
		Used:      used,
		Limit:     limit,
		Remaining: remaining,
	}
}

func ledgerKey(orgID, resource string) string {
	return orgID + "/" + resource
}
