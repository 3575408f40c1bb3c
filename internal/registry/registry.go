// Package registry is the process-global typed descriptor table of
// data sources described in spec.md §4.7: each source belongs to
// exactly one tier and one freshness category, and its timeout bounds
// how long the orchestrator will wait on it.
package registry

import (
	"context"
	"time"

	"github.com/vladimir-ks/statusline-broker/internal/freshness"
	"github.com/vladimir-ks/statusline-broker/internal/health"
)

// Tier is a data source's latency class.
type Tier int

const (
	Tier1 Tier = 1 // synchronous, from already-available input
	Tier2 Tier = 2 // per-session I/O, parallel, deadline-bounded
	Tier3 Tier = 3 // global/shared, single-flight coordinated
)

// GatherContext carries everything a single gatherAll invocation needs
// to pass down to sources: spec.md §4.13 step 1.
type GatherContext struct {
	SessionID       string
	TranscriptPath  string
	ConfigDir       string
	KeychainService string
	ProjectPath     string
	JSONInput       map[string]any
	Deadline        time.Time
	ExistingHealth  *health.SessionHealth
}

// Remaining returns the time left until the gather deadline, floored
// at zero.
func (g GatherContext) Remaining() time.Duration {
	d := time.Until(g.Deadline)
	if d < 0 {
		return 0
	}
	return d
}

// FetchFunc retrieves a source's raw data. It must be side-effect-free
// with respect to the final SessionHealth record: all mutation happens
// in the paired MergeFunc.
type FetchFunc func(ctx context.Context, gc GatherContext) (any, error)

// MergeFunc applies previously-fetched data onto health. Merge
// functions from different descriptors must write disjoint fields so
// they can run in any order.
type MergeFunc func(h *health.SessionHealth, data any)

// Descriptor is one data source: spec.md §3 DataSourceDescriptor.
type Descriptor struct {
	ID        string
	Tier      Tier
	Category  freshness.Category
	TimeoutMs int64
	Fetch     FetchFunc
	Merge     MergeFunc

	// UsesCache marks Tier-3 descriptors that participate in
	// GlobalCacheStore; Tier-3 descriptors that don't (there are none
	// in the base set, but the registry allows it) call Fetch directly
	// after the cache-merge pass, per spec.md §4.13 step 5.
	UsesCache bool
}

// Timeout returns the descriptor's timeout as a time.Duration.
func (d Descriptor) Timeout() time.Duration {
	return time.Duration(d.TimeoutMs) * time.Millisecond
}

// Registry is the process-global map of id -> descriptor, preserving
// registration order so tier iteration is deterministic (spec.md §9's
// "descriptor order determinism" open question, resolved in favor of
// insertion order).
type Registry struct {
	order []string
	byID  map[string]Descriptor
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{byID: map[string]Descriptor{}}
}

// Register adds or overwrites d. Re-registering an existing id keeps
// its original position in iteration order, matching the teacher's
// idempotent-registration convention for process-global tables.
func (r *Registry) Register(d Descriptor) {
	if _, exists := r.byID[d.ID]; !exists {
		r.order = append(r.order, d.ID)
	}
	r.byID[d.ID] = d
}

// GetByTier returns descriptors for tier in registration order.
func (r *Registry) GetByTier(tier Tier) []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		d := r.byID[id]
		if d.Tier == tier {
			out = append(out, d)
		}
	}
	return out
}

// Get returns the descriptor registered under id, if any.
func (r *Registry) Get(id string) (Descriptor, bool) {
	d, ok := r.byID[id]
	return d, ok
}

// All returns every registered descriptor in registration order.
func (r *Registry) All() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}
