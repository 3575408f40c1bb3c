// Package broker implements UnifiedBroker, spec.md §4.13: the one
// orchestration method that turns a session invocation into a complete
// SessionHealth record by running every registered data source through
// its tier's concurrency and deadline rules.
package broker

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vladimir-ks/statusline-broker/internal/formatter"
	"github.com/vladimir-ks/statusline-broker/internal/freshness"
	"github.com/vladimir-ks/statusline-broker/internal/globalcache"
	"github.com/vladimir-ks/statusline-broker/internal/health"
	"github.com/vladimir-ks/statusline-broker/internal/logging"
	"github.com/vladimir-ks/statusline-broker/internal/refreshintent"
	"github.com/vladimir-ks/statusline-broker/internal/registry"
)

// DefaultDeadline is the orchestrator-wide gather deadline, spec.md §4.13
// step 1.
const DefaultDeadline = 20 * time.Second

// Options overrides the broker's defaults for one gatherAll call.
type Options struct {
	DeadlineMs                int64
	StalenessThresholdMinutes float64
}

func (o Options) deadline() time.Duration {
	if o.DeadlineMs <= 0 {
		return DefaultDeadline
	}
	return time.Duration(o.DeadlineMs) * time.Millisecond
}

func (o Options) stalenessThreshold() time.Duration {
	if o.StalenessThresholdMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(o.StalenessThresholdMinutes * float64(time.Minute))
}

// Broker is the UnifiedBroker. It holds no per-session state; every
// field is either process-global coordination (registry, single-flight,
// global cache) or a dependency injected once at process startup.
type Broker struct {
	Registry     *registry.Registry
	Freshness    *freshness.Authority
	RefreshStore *refreshintent.Store
	SingleFlight *refreshintent.SingleFlight
	GlobalCache  *globalcache.Store
	Logger       *logging.Logger
}

// New wires a Broker from its dependencies.
func New(reg *registry.Registry, fa *freshness.Authority, rs *refreshintent.Store, sf *refreshintent.SingleFlight, gc *globalcache.Store, logger *logging.Logger) *Broker {
	return &Broker{Registry: reg, Freshness: fa, RefreshStore: rs, SingleFlight: sf, GlobalCache: gc, Logger: logger}
}

// GatherAll is the UnifiedBroker's single entrypoint, spec.md §4.13.
func (b *Broker) GatherAll(sessionID, transcriptPath, configDir, keychainService, projectPath string, jsonInput map[string]any, existing *health.SessionHealth, opts Options) health.SessionHealth {
	now := time.Now()
	deadline := now.Add(opts.deadline())

	gc := registry.GatherContext{
		SessionID:       sessionID,
		TranscriptPath:  transcriptPath,
		ConfigDir:       configDir,
		KeychainService: keychainService,
		ProjectPath:     projectPath,
		JSONInput:       jsonInput,
		Deadline:        deadline,
		ExistingHealth:  existing,
	}

	h := health.New(now, existing)
	h.Identity.SessionID = sessionID
	h.Identity.TranscriptPath = transcriptPath
	h.Identity.ProjectPath = projectPath
	h.Launch.ConfigDir = configDir
	h.Launch.KeychainService = keychainService

	b.runTier1(gc, &h)
	b.runTier2(gc, &h)
	b.runTier3(gc, &h)

	b.postProcess(&h, jsonInput, opts.stalenessThreshold())
	h.FormattedOutput = formatter.Materialize(&h)
	return h
}

func (b *Broker) logWarn(format string, args ...any) {
	if b.Logger != nil {
		b.Logger.Warnf(format, args...)
	}
}

// runTier1 executes every Tier-1 descriptor in registration order,
// synchronously: spec.md §4.13 step 3. Failures are logged and skipped.
func (b *Broker) runTier1(gc registry.GatherContext, h *health.SessionHealth) {
	ctx := context.Background()
	for _, d := range b.Registry.GetByTier(registry.Tier1) {
		data, err := d.Fetch(ctx, gc)
		if err != nil {
			b.logWarn("tier1 source %s failed: %v", d.ID, err)
			continue
		}
		d.Merge(h, data)
	}
}

// raceResult is what a single deadline-bounded fetch produces.
type raceResult struct {
	id   string
	data any
	ok   bool
}

// raceFetch runs fetch in its own goroutine and returns its result only
// if it completes before timeout or ctx's deadline, whichever is
// sooner. A fetch that loses the race keeps running to completion in
// the background but its result is discarded: merge never observes it,
// so it cannot mutate shared state after the fact, per spec.md §4.13
// step 4's cancellation note.
func raceFetch(parent context.Context, d registry.Descriptor, gc registry.GatherContext, timeout time.Duration) raceResult {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	done := make(chan raceResult, 1)
	go func() {
		data, err := d.Fetch(ctx, gc)
		if err != nil {
			done <- raceResult{id: d.ID, ok: false}
			return
		}
		done <- raceResult{id: d.ID, data: data, ok: true}
	}()

	select {
	case r := <-done:
		return r
	case <-ctx.Done():
		return raceResult{id: d.ID, ok: false}
	}
}

// runTier2 fans every Tier-2 descriptor out in parallel, each bounded by
// min(descriptor.timeoutMs, deadlineRemaining): spec.md §4.13 step 4. An
// errgroup.Group drives the fan-out rather than a hand-rolled
// WaitGroup: every goroutine here does the same "race one fetch"
// shape, which is exactly what errgroup.Go collapses into one line per
// task, and raceFetch already swallows its own errors into ok=false so
// the group's own error return stays unused.
func (b *Broker) runTier2(gc registry.GatherContext, h *health.SessionHealth) {
	descs := b.Registry.GetByTier(registry.Tier2)
	results := make([]raceResult, len(descs))

	var g errgroup.Group
	for i, d := range descs {
		i, d := i, d
		g.Go(func() error {
			timeout := minDuration(d.Timeout(), gc.Remaining())
			results[i] = raceFetch(context.Background(), d, gc, timeout)
			return nil
		})
	}
	_ = g.Wait()

	for i, r := range results {
		if !r.ok {
			continue
		}
		descs[i].Merge(h, r.data)
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// runTier3 implements the single-flight-coordinated global-source pass,
// spec.md §4.13 step 5.
func (b *Broker) runTier3(gc registry.GatherContext, h *health.SessionHealth) {
	descs := b.Registry.GetByTier(registry.Tier3)
	if len(descs) == 0 {
		return
	}

	snap := b.GlobalCache.Read()

	byCategory := make(map[freshness.Category]registry.Descriptor, len(descs))
	var staleCats []freshness.Category
	for _, d := range descs {
		if !d.UsesCache {
			continue
		}
		byCategory[d.Category] = d

		entry, ok := snap.Entries[d.ID]
		var ts time.Time
		if ok && entry.FetchedAt > 0 {
			ts = time.UnixMilli(entry.FetchedAt)
		}
		if freshness.Classify(ts, d.Category) != freshness.Fresh {
			staleCats = append(staleCats, d.Category)
		}
	}

	acquired := b.SingleFlight.TryAcquireMany(staleCats)

	pending := make(map[string]globalcache.Entry)
	var mu sync.Mutex
	var g errgroup.Group
	outcomes := make(map[freshness.Category]bool, len(acquired))
	var outcomesMu sync.Mutex

	for _, cat := range acquired {
		d, ok := byCategory[cat]
		if !ok {
			continue
		}
		d := d
		g.Go(func() error {
			timeout := minDuration(d.Timeout(), gc.Remaining())
			r := raceFetch(context.Background(), d, gc, timeout)

			outcomesMu.Lock()
			outcomes[d.Category] = r.ok
			outcomesMu.Unlock()

			if !r.ok {
				return nil
			}
			mu.Lock()
			pending[d.ID] = globalcache.Entry{Data: r.data, FetchedAt: time.Now().UnixMilli(), FetchedBy: os.Getpid()}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(pending) > 0 {
		if err := b.GlobalCache.Update(pending); err != nil {
			b.logWarn("tier3 global cache update failed: %v", err)
		}
	}
	for cat, success := range outcomes {
		b.SingleFlight.Release(cat, success)
		_ = b.Freshness.RecordFetch(cat, success)
	}

	// Merge whatever is now present, fresh or not: stale display beats
	// missing display.
	snap2 := b.GlobalCache.Read()
	for _, d := range descs {
		if !d.UsesCache {
			continue
		}
		entry, ok := snap2.Entries[d.ID]
		if !ok {
			continue
		}
		d.Merge(h, entry.Data)
	}

	// Tier-3 descriptors that opt out of the cache entirely fetch
	// directly, once, after the cache-merge pass.
	for _, d := range descs {
		if d.UsesCache {
			continue
		}
		timeout := minDuration(d.Timeout(), gc.Remaining())
		r := raceFetch(context.Background(), d, gc, timeout)
		if r.ok {
			d.Merge(h, r.data)
		}
	}
}

// sessionActive reports whether jsonInput reflects a live interactive
// invocation (as opposed to a background sweep with no stdin payload).
func sessionActive(jsonInput map[string]any) bool {
	return len(jsonInput) > 0
}

// postProcess computes isFresh, alerts, and overall status, spec.md
// §4.13 step 6.
func (b *Broker) postProcess(h *health.SessionHealth, jsonInput map[string]any, stalenessThreshold time.Duration) {
	h.Billing.IsFresh = freshness.IsFresh(h.Billing.LastFetched, freshness.CategoryBilling)

	h.Alerts.TranscriptStale = freshness.Age(h.Transcript.LastModified) > stalenessThreshold
	h.Alerts.DataLossRisk = h.Alerts.TranscriptStale && sessionActive(jsonInput)

	var issues []string
	status := health.StatusHealthy

	// A missing transcript file yields StatusUnknown, not StatusCritical:
	// see DESIGN.md's "transcript-missing status" Open Question
	// resolution. There is simply no basis yet to diagnose the session
	// as critical versus healthy when the one artifact everything else
	// derives from has never been observed.
	if !h.Transcript.Exists {
		status = health.StatusUnknown
		issues = append(issues, "transcript file missing")
	}
	if h.Alerts.SecretsDetected {
		status = health.StatusCritical
		issues = append(issues, fmt.Sprintf("%d leaked secret(s) detected", len(h.Alerts.Secrets)))
	}

	if status != health.StatusCritical && status != health.StatusUnknown {
		if h.Alerts.DataLossRisk {
			status = health.StatusWarning
			issues = append(issues, "transcript stale while session is active")
		}
		if h.Context.NearCompaction {
			status = health.StatusWarning
			issues = append(issues, "context window nearing compaction")
		}
		if !h.Billing.IsFresh {
			status = health.StatusWarning
			issues = append(issues, "billing data is stale")
		}
	}

	h.Status = status
	h.Issues = issues
}
