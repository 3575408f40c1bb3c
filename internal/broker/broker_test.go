package broker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vladimir-ks/statusline-broker/internal/freshness"
	"github.com/vladimir-ks/statusline-broker/internal/globalcache"
	"github.com/vladimir-ks/statusline-broker/internal/health"
	"github.com/vladimir-ks/statusline-broker/internal/refreshintent"
	"github.com/vladimir-ks/statusline-broker/internal/registry"
)

func newTestBroker(t *testing.T) (*Broker, string) {
	t.Helper()
	dir := t.TempDir()
	reg := registry.New()
	fa := freshness.New(filepath.Join(dir, "cooldowns"))
	rs := refreshintent.New(filepath.Join(dir, "refresh-intents"))
	sf := refreshintent.NewSingleFlight(rs)
	gc := globalcache.New(dir)
	return New(reg, fa, rs, sf, gc, nil), dir
}

func TestGatherAllMissingTranscriptIsUnknownStatus(t *testing.T) {
	b, _ := newTestBroker(t)

	h := b.GatherAll("sess-1", filepath.Join(t.TempDir(), "absent.jsonl"), "", "", "", nil, nil, Options{})

	if h.Transcript.Exists {
		t.Errorf("expected transcript.Exists = false for a missing file")
	}
	if h.Status != health.StatusUnknown {
		t.Errorf("Status = %q, want %q (missing transcript has no basis for a critical/healthy verdict)", h.Status, health.StatusUnknown)
	}
	if h.Alerts.DataLossRisk {
		t.Errorf("expected dataLossRisk = false with no jsonInput (inactive session)")
	}
}

func TestGatherAllPreservesFirstSeenAcrossInvocations(t *testing.T) {
	b, _ := newTestBroker(t)
	transcriptPath := filepath.Join(t.TempDir(), "t.jsonl")
	if err := os.WriteFile(transcriptPath, []byte(`{"type":"user"}`+"\n"), 0o600); err != nil {
		t.Fatalf("write transcript fixture: %v", err)
	}

	first := b.GatherAll("sess-2", transcriptPath, "", "", "", nil, nil, Options{})
	time.Sleep(5 * time.Millisecond)
	second := b.GatherAll("sess-2", transcriptPath, "", "", "", nil, &first, Options{})

	if !second.Identity.FirstSeen.Equal(first.Identity.FirstSeen) {
		t.Errorf("FirstSeen changed across gathers: %v -> %v", first.Identity.FirstSeen, second.Identity.FirstSeen)
	}
	if second.Identity.SessionDuration <= first.Identity.SessionDuration {
		t.Errorf("SessionDuration did not grow: %v -> %v", first.Identity.SessionDuration, second.Identity.SessionDuration)
	}
}

func TestRunTier3MergesOnlyAcquiredSingleFlightCategory(t *testing.T) {
	b, dir := newTestBroker(t)

	calls := 0
	b.Registry.Register(registry.Descriptor{
		ID: "thing", Tier: registry.Tier3, Category: freshness.CategoryBilling,
		TimeoutMs: 1000, UsesCache: true,
		Fetch: func(_ context.Context, _ registry.GatherContext) (any, error) {
			calls++
			return "ok", nil
		},
		Merge: func(h *health.SessionHealth, data any) {},
	})

	gc := registry.GatherContext{SessionID: "s", Deadline: time.Now().Add(time.Second)}
	var h health.SessionHealth
	b.runTier3(gc, &h)

	if calls != 1 {
		t.Errorf("expected exactly one fetch on first run, got %d", calls)
	}

	snap := b.GlobalCache.Read()
	if _, ok := snap.Entries["thing"]; !ok {
		t.Errorf("expected global cache to contain the fetched entry")
	}

	_ = dir
}

func TestMinDuration(t *testing.T) {
	cases := []struct {
		a, b, want time.Duration
	}{
		{time.Second, 2 * time.Second, time.Second},
		{2 * time.Second, time.Second, time.Second},
		{0, time.Second, 0},
	}
	for _, c := range cases {
		if got := minDuration(c.a, c.b); got != c.want {
			t.Errorf("minDuration(%v, %v) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}
