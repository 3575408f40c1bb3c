// Package sources is where every concrete data-source descriptor
// named in spec.md §4.13 step 4/5 gets registered: model and context
// from the stdin contract (Tier 1), transcript health, secret scanning,
// local cost, git, and auth-profile detection (Tier 2), and the
// quota/billing read-through caches an external collaborator maintains
// (Tier 3). internal/registry and internal/broker know nothing about
// any of these; this package is the only thing that wires them
// together.
package sources

import (
	"encoding/json"
	"time"

	"github.com/vladimir-ks/statusline-broker/internal/registry"
)

// Deps carries the directories every descriptor needs to do its I/O.
// All paths are rooted under the broker's base directory.
type Deps struct {
	BaseDir                string // e.g. ~/.claude/session-health
	TranscriptOffsetDir    string // <base>/transcript-offsets
	TranscriptCeilingBytes int64
}

// Register builds every descriptor and adds it to reg.
func Register(reg *registry.Registry, d Deps) {
	if d.TranscriptCeilingBytes <= 0 {
		d.TranscriptCeilingBytes = 8 << 20
	}

	reg.Register(modelDescriptor())
	reg.Register(contextDescriptor())

	reg.Register(transcriptDescriptor(d))
	reg.Register(secretsDescriptor(d))
	reg.Register(localCostDescriptor(d))
	reg.Register(gitDescriptor())
	reg.Register(authProfileDescriptor())

	reg.Register(billingDescriptor(d))
	reg.Register(weeklyQuotaDescriptor(d))
}

const (
	tier2Timeout = 1500 * time.Millisecond
	tier3Timeout = 1000 * time.Millisecond
)

// jsonField looks up a dotted path inside a map[string]any tree,
// returning the zero value and false if any segment is missing or not
// a nested object.
func jsonField(m map[string]any, path ...string) (any, bool) {
	var cur any = m
	for _, seg := range path {
		mm, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := mm[seg]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func jsonString(m map[string]any, path ...string) string {
	v, ok := jsonField(m, path...)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// decodeAny re-marshals data (whatever concrete shape it currently
// has) and decodes it into T. Tier-3 merge functions need this because
// the global cache round-trips every entry through JSON on disk: the
// value a descriptor's own Fetch produced this gather and the value
// read back from data-cache.json a moment later are never the same Go
// type (the latter is a bare map[string]any), so merge must tolerate
// both rather than type-asserting directly.
func decodeAny[T any](data any) (T, bool) {
	var out T
	raw, err := json.Marshal(data)
	if err != nil {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false
	}
	return out, true
}

func jsonInt(m map[string]any, path ...string) int {
	v, ok := jsonField(m, path...)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}
