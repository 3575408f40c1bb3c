package sources

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/vladimir-ks/statusline-broker/internal/atomicfile"
	"github.com/vladimir-ks/statusline-broker/internal/cost"
	"github.com/vladimir-ks/statusline-broker/internal/freshness"
	"github.com/vladimir-ks/statusline-broker/internal/health"
	"github.com/vladimir-ks/statusline-broker/internal/registry"
	"github.com/vladimir-ks/statusline-broker/internal/sanitize"
	"github.com/vladimir-ks/statusline-broker/internal/secrets"
	"github.com/vladimir-ks/statusline-broker/internal/transcript"
)

const previewMaxLen = 200

// scanState is the persisted cursor + accumulated derivative a
// per-session incremental reader keeps between gathers. transcript and
// secrets each keep their own copy (different freshness categories,
// same underlying file) rather than sharing one, so a slow secrets
// scan can never stall the transcript descriptor or vice versa.
type scanState struct {
	Offset        int64  `json:"offset"`
	MtimeUnixNano int64  `json:"mtimeUnixNano"`
	MessageCount  int    `json:"messageCount,omitempty"`
	LastMessage   string `json:"lastMessage,omitempty"`
	LastModel     string `json:"lastModel,omitempty"`
}

func loadScanState(path string) scanState {
	return atomicfile.ReadOrDefault(path, scanState{})
}

func saveScanState(path string, s scanState) {
	_ = atomicfile.WriteJSON(path, s)
}

func offsetPath(dir, sessionID, suffix string) string {
	return filepath.Join(dir, sanitize.SessionID(sessionID)+suffix)
}

// contentText extracts display text from a transcript line's message
// content field, which is either a plain string or a list of content
// blocks (the "{"type":"text","text":"..."}" shape).
func contentText(obj map[string]any) string {
	msg, ok := jsonField(obj, "message")
	if !ok {
		return jsonString(obj, "content")
	}
	mm, _ := msg.(map[string]any)
	if s, ok := mm["content"].(string); ok {
		return s
	}
	blocks, _ := mm["content"].([]any)
	var b strings.Builder
	for _, blk := range blocks {
		bm, ok := blk.(map[string]any)
		if !ok {
			continue
		}
		if t, _ := bm["type"].(string); t == "text" {
			if s, ok := bm["text"].(string); ok {
				if b.Len() > 0 {
					b.WriteString(" ")
				}
				b.WriteString(s)
			}
		}
	}
	return b.String()
}

func messageRole(obj map[string]any) string {
	if r := jsonString(obj, "message", "role"); r != "" {
		return r
	}
	return jsonString(obj, "type")
}

// --- transcript descriptor -------------------------------------------------

type transcriptData struct {
	exists       bool
	sizeBytes    int64
	lastModified time.Time
	messageCount int
	lastMessage  string
	lastModel    string
}

// transcriptDescriptor resolves the transcript-health block from an
// incremental tail read, spec.md §4.8: existence, size, mtime, a
// running message count, and a truncated, system-tag-filtered preview
// of the last message.
func transcriptDescriptor(d Deps) registry.Descriptor {
	return registry.Descriptor{
		ID:        "transcript",
		Tier:      registry.Tier2,
		Category:  freshness.CategoryTranscript,
		TimeoutMs: int64(tier2Timeout / time.Millisecond),
		Fetch: func(_ context.Context, gc registry.GatherContext) (any, error) {
			info, err := os.Stat(gc.TranscriptPath)
			if err != nil {
				return transcriptData{}, nil
			}

			statePath := offsetPath(d.TranscriptOffsetDir, gc.SessionID, ".transcript.json")
			st := loadScanState(statePath)

			prev := transcript.Offset{Offset: st.Offset, Mtime: time.Unix(0, st.MtimeUnixNano)}
			res := transcript.Scan(gc.TranscriptPath, prev, d.TranscriptCeilingBytes)

			if res.Size < st.Offset {
				st.MessageCount = 0
				st.LastMessage = ""
			}

			transcript.ParseLines(res.NewBytes, func(obj map[string]any) {
				st.MessageCount++
				if text := contentText(obj); text != "" {
					st.LastMessage = transcript.PreviewLine(text, previewMaxLen)
				}
				if messageRole(obj) == "assistant" {
					if m := jsonString(obj, "message", "model"); m != "" {
						st.LastModel = m
					}
				}
			})

			st.Offset = res.NewOffset
			st.MtimeUnixNano = res.Mtime.UnixNano()
			saveScanState(statePath, st)

			return transcriptData{
				exists:       true,
				sizeBytes:    info.Size(),
				lastModified: info.ModTime(),
				messageCount: st.MessageCount,
				lastMessage:  st.LastMessage,
				lastModel:    st.LastModel,
			}, nil
		},
		Merge: func(h *health.SessionHealth, data any) {
			td, _ := data.(transcriptData)
			h.Transcript = health.Transcript{
				Exists:       td.exists,
				SizeBytes:    td.sizeBytes,
				LastModified: td.lastModified,
				MessageCount: td.messageCount,
				LastMessage:  td.lastMessage,
				IsSynced:     td.exists && time.Since(td.lastModified) < 60*time.Second,
			}
			// model-input (Tier 1) is the primary model source; this
			// only fills the gap it leaves for invocations with no
			// jsonInput at all (e.g. a background sweep).
			if h.Model.Value == "" && td.lastModel != "" {
				h.Model = health.Model{Value: td.lastModel, Source: health.ModelSourceTranscript, Confidence: 80}
			}
		},
	}
}

// --- secrets descriptor -----------------------------------------------------

// secretsDescriptor applies SecretScanner, spec.md §4.9, to the bytes
// newly appended to the transcript since this descriptor's own last
// look (an independent cursor from the transcript descriptor's, so a
// slow or paused secrets scan never blocks transcript-health freshness).
func secretsDescriptor(d Deps) registry.Descriptor {
	return registry.Descriptor{
		ID:        "secrets",
		Tier:      registry.Tier2,
		Category:  freshness.CategorySecrets,
		TimeoutMs: int64(tier2Timeout / time.Millisecond),
		Fetch: func(_ context.Context, gc registry.GatherContext) (any, error) {
			statePath := offsetPath(d.TranscriptOffsetDir, gc.SessionID, ".secrets.json")
			st := loadScanState(statePath)

			prev := transcript.Offset{Offset: st.Offset, Mtime: time.Unix(0, st.MtimeUnixNano)}
			res := transcript.Scan(gc.TranscriptPath, prev, d.TranscriptCeilingBytes)

			alerts := secrets.Scan(res.NewBytes)

			st.Offset = res.NewOffset
			st.MtimeUnixNano = res.Mtime.UnixNano()
			saveScanState(statePath, st)

			return alerts, nil
		},
		Merge: func(h *health.SessionHealth, data any) {
			alerts, _ := data.([]secrets.Alert)
			if len(alerts) == 0 {
				return
			}
			h.Alerts.SecretsDetected = true
			for _, a := range alerts {
				h.Alerts.Secrets = append(h.Alerts.Secrets, health.SecretAlert{Type: a.Type, TruncatedSample: a.TruncatedSample})
			}
		},
	}
}

// --- local cost descriptor ---------------------------------------------------

// localCostDescriptor implements LocalCostCalculator, spec.md §4.10: a
// from-scratch parse of the whole transcript (bounded by the same read
// ceiling every other transcript reader respects) used as the billing
// fallback, since it is local and therefore always fresh. It sets
// Billing's session-scoped fields only; Tier-3's billing descriptor
// overwrites them with the external source's numbers when that source
// succeeds, per the primary/secondary rule in spec.md §4.13.
func localCostDescriptor(d Deps) registry.Descriptor {
	return registry.Descriptor{
		ID:        "local-cost",
		Tier:      registry.Tier2,
		Category:  freshness.CategoryLocalCost,
		TimeoutMs: int64(tier2Timeout / time.Millisecond),
		Fetch: func(_ context.Context, gc registry.GatherContext) (any, error) {
			if !atomicfile.Exists(gc.TranscriptPath) {
				return cost.Totals{}, nil
			}
			res := transcript.Scan(gc.TranscriptPath, transcript.Offset{}, d.TranscriptCeilingBytes)

			calc := cost.NewCalculator()
			transcript.ParseLines(res.NewBytes, func(obj map[string]any) {
				if messageRole(obj) != "assistant" {
					return
				}
				usage, ok := jsonField(obj, "message", "usage")
				if !ok {
					return
				}
				um, _ := usage.(map[string]any)
				u := cost.Usage{
					InputTokens:              intField(um, "input_tokens"),
					OutputTokens:             intField(um, "output_tokens"),
					CacheCreationInputTokens: intField(um, "cache_creation_input_tokens"),
					CacheReadInputTokens:     intField(um, "cache_read_input_tokens"),
				}
				modelID := jsonString(obj, "message", "model")
				calc.AddMessage(modelID, u, parseTimestamp(jsonString(obj, "timestamp")))
			})
			return calc.Totals(), nil
		},
		Merge: func(h *health.SessionHealth, data any) {
			t, _ := data.(cost.Totals)
			if t.MessageCount == 0 {
				return
			}
			h.Billing.SessionCost = t.TotalCost
			h.Billing.TotalTokens = t.TotalTokens
			h.Billing.TokensPerMinute = t.TokensPerMinute()
			h.Billing.BurnRatePerHour = t.CostPerHour()
			h.Billing.LastFetched = time.Now()
		},
	}
}

func intField(m map[string]any, key string) int {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// --- git descriptor ----------------------------------------------------------

type gitData struct {
	branch string
	ahead  int
	behind int
	dirty  bool
}

// gitDescriptor shells out to git the way the teacher's own CLI reports
// repo state, bounded by the same deadline-aware context every Tier-2
// fetch respects: a hung git process is abandoned at the timeout, not
// waited out.
func gitDescriptor() registry.Descriptor {
	return registry.Descriptor{
		ID:        "git",
		Tier:      registry.Tier2,
		Category:  freshness.CategoryGit,
		TimeoutMs: int64(tier2Timeout / time.Millisecond),
		Fetch: func(ctx context.Context, gc registry.GatherContext) (any, error) {
			if gc.ProjectPath == "" {
				return gitData{}, nil
			}
			branch, err := runGit(ctx, gc.ProjectPath, "rev-parse", "--abbrev-ref", "HEAD")
			if err != nil {
				return gitData{}, nil // not a git repo: nothing to report, not a failure
			}
			d := gitData{branch: strings.TrimSpace(branch)}

			if status, err := runGit(ctx, gc.ProjectPath, "status", "--porcelain"); err == nil {
				d.dirty = strings.TrimSpace(status) != ""
			}

			if counts, err := runGit(ctx, gc.ProjectPath, "rev-list", "--left-right", "--count", "HEAD...@{upstream}"); err == nil {
				fields := strings.Fields(strings.TrimSpace(counts))
				if len(fields) == 2 {
					d.ahead, _ = strconv.Atoi(fields[0])
					d.behind, _ = strconv.Atoi(fields[1])
				}
			}

			return d, nil
		},
		Merge: func(h *health.SessionHealth, data any) {
			d, _ := data.(gitData)
			if d.branch == "" {
				return
			}
			h.Git = health.Git{Branch: d.branch, Ahead: d.ahead, Behind: d.behind, Dirty: d.dirty, LastChecked: time.Now()}
		},
	}
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...) // #nosec G204 - args are a fixed internal set, never user input
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// --- auth profile descriptor --------------------------------------------------

type authProfileData struct {
	profile string
	method  health.DetectionMethod
}

// authProfileDescriptor resolves which auth profile launched this
// session: env var first (fastest, most explicit), then a profile
// marker file under configDir, else the default profile. The external
// "hot-swap" account manager owns rotating profiles in and out; this
// descriptor only reports whichever one is currently active.
//
// There is no dedicated freshness category for launch-context
// resolution in spec.md §4.3's table; CategoryModel is reused since
// both resolve slow-changing per-session identity at a similar cadence,
// and Tier-2 descriptors never consult FreshnessAuthority for cooldown
// or single-flight grouping (only Tier-3 does), so the category here is
// bookkeeping, not a behavioral knob.
func authProfileDescriptor() registry.Descriptor {
	return registry.Descriptor{
		ID:        "auth-profile",
		Tier:      registry.Tier2,
		Category:  freshness.CategoryModel,
		TimeoutMs: int64(tier2Timeout / time.Millisecond),
		Fetch: func(_ context.Context, gc registry.GatherContext) (any, error) {
			if v := os.Getenv("ANTHROPIC_AUTH_PROFILE"); v != "" {
				return authProfileData{profile: v, method: health.DetectionEnv}, nil
			}
			if gc.ConfigDir != "" {
				if data, err := os.ReadFile(filepath.Join(gc.ConfigDir, "active-profile")); err == nil { // #nosec G304 - fixed filename under the configured config dir
					if p := strings.TrimSpace(string(data)); p != "" {
						return authProfileData{profile: p, method: health.DetectionPath}, nil
					}
				}
			}
			return authProfileData{profile: "default", method: health.DetectionDefault}, nil
		},
		Merge: func(h *health.SessionHealth, data any) {
			d, _ := data.(authProfileData)
			h.Launch.AuthProfile = d.profile
			h.Launch.DetectionMethod = d.method
		},
	}
}
