package sources

import (
	"context"

	"github.com/vladimir-ks/statusline-broker/internal/freshness"
	"github.com/vladimir-ks/statusline-broker/internal/health"
	"github.com/vladimir-ks/statusline-broker/internal/registry"
)

// modelData is what the model descriptor's fetch hands its merge.
type modelData struct {
	value string
}

// modelDescriptor resolves Model.Value straight from the stdin
// contract's model.{display_name,id,model_id,name} fields, per spec.md
// §6. This is the primary source; the transcript descriptor (Tier 2)
// only fills Model in if this one found nothing, since a background
// sweep invocation carries no jsonInput at all.
func modelDescriptor() registry.Descriptor {
	return registry.Descriptor{
		ID:        "model-input",
		Tier:      registry.Tier1,
		Category:  freshness.CategoryModel,
		TimeoutMs: 0,
		Fetch: func(_ context.Context, gc registry.GatherContext) (any, error) {
			m, ok := jsonField(gc.JSONInput, "model")
			if !ok {
				return modelData{}, nil
			}
			mm, _ := m.(map[string]any)
			value := firstNonEmpty(
				stringField(mm, "display_name"),
				stringField(mm, "id"),
				stringField(mm, "model_id"),
				stringField(mm, "name"),
			)
			return modelData{value: value}, nil
		},
		Merge: func(h *health.SessionHealth, data any) {
			d, _ := data.(modelData)
			if d.value == "" {
				return
			}
			h.Model = health.Model{Value: d.value, Source: health.ModelSourceInput, Confidence: 100}
		},
	}
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// contextData is what the context descriptor's fetch hands its merge.
type contextData struct {
	windowSize int
	tokensUsed int
	present    bool
}

// contextDescriptor resolves the context-window block from the stdin
// contract's context_window fields. The clamps themselves (invariants 2
// and 3: window-size range, 1.5x usage ceiling, 78% compaction
// threshold) live in health.ComputeContext so Tier 1 and any other
// caller derive the exact same Context from raw window/usage numbers.
func contextDescriptor() registry.Descriptor {
	return registry.Descriptor{
		ID:        "context-input",
		Tier:      registry.Tier1,
		Category:  freshness.CategoryContext,
		TimeoutMs: 0,
		Fetch: func(_ context.Context, gc registry.GatherContext) (any, error) {
			if _, ok := jsonField(gc.JSONInput, "context_window"); !ok {
				return contextData{}, nil
			}

			windowSize := jsonInt(gc.JSONInput, "context_window", "context_window_size")
			usage := jsonInt(gc.JSONInput, "context_window", "current_usage", "input_tokens") +
				jsonInt(gc.JSONInput, "context_window", "current_usage", "output_tokens") +
				jsonInt(gc.JSONInput, "context_window", "current_usage", "cache_read_input_tokens") +
				jsonInt(gc.JSONInput, "context_window", "current_usage", "cache_creation_input_tokens")

			return contextData{windowSize: windowSize, tokensUsed: usage, present: true}, nil
		},
		Merge: func(h *health.SessionHealth, data any) {
			d, _ := data.(contextData)
			if !d.present {
				return
			}
			h.Context = health.ComputeContext(d.windowSize, d.tokensUsed)
		},
	}
}
