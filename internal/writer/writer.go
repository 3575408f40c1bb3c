// Package writer implements the ordered, best-effort output stage that
// runs after UnifiedBroker.GatherAll, spec.md §4.14: per-session health
// JSON, a debug snapshot, the outbound publish contract, the telemetry
// dashboard, an invocation-grained SQLite row, and the global summary.
// Every step is independent and its failure never propagates to the
// next — a broken telemetry write must never cost the session its
// health JSON.
package writer

import (
	"path/filepath"
	"sort"
	"time"

	"github.com/vladimir-ks/statusline-broker/internal/atomicfile"
	"github.com/vladimir-ks/statusline-broker/internal/health"
)

const (
	publishInactiveCutoff   = time.Hour
	telemetryInactiveCutoff = 2 * time.Hour
	fetchHistoryDepth       = 20
)

// FetchAttempt is one ring-buffer entry in a session's debug snapshot.
type FetchAttempt struct {
	SourceID    string        `json:"sourceId"`
	At          time.Time     `json:"at"`
	Duration    time.Duration `json:"durationMs"`
	Success     bool          `json:"success"`
	RedactedErr string        `json:"error,omitempty"`
}

// DebugSnapshot is <sessionId>.debug.json.
type DebugSnapshot struct {
	SessionID    string         `json:"sessionId"`
	GeneratedAt  time.Time      `json:"generatedAt"`
	Freshness    map[string]any `json:"freshness"`
	FetchHistory []FetchAttempt `json:"fetchHistory"`
	DataQuality  string         `json:"dataQuality"`
}

// FetchHistoryRing is a fixed-capacity ring buffer of FetchAttempt,
// keeping only the most recent fetchHistoryDepth entries.
type FetchHistoryRing struct {
	entries []FetchAttempt
}

// Push appends a and evicts the oldest entry if the ring is full.
func (r *FetchHistoryRing) Push(a FetchAttempt) {
	r.entries = append(r.entries, a)
	if len(r.entries) > fetchHistoryDepth {
		r.entries = r.entries[len(r.entries)-fetchHistoryDepth:]
	}
}

// Entries returns the ring's current contents, oldest first.
func (r *FetchHistoryRing) Entries() []FetchAttempt {
	return r.entries
}

// Writer bundles the base directory every §6 filesystem-layout path is
// relative to.
type Writer struct {
	dir string
	now func() time.Time
}

// New returns a Writer rooted at dir.
func New(dir string) *Writer {
	return &Writer{dir: dir, now: time.Now}
}

func (w *Writer) path(name string) string {
	return filepath.Join(w.dir, name)
}

// WriteSessionHealth writes <sessionId>.json, the authoritative record.
func (w *Writer) WriteSessionHealth(h *health.SessionHealth) error {
	return atomicfile.WriteJSON(w.path(h.Identity.SessionID+".json"), h)
}

func dataQuality(h *health.SessionHealth) string {
	switch h.Status {
	case health.StatusCritical:
		return "poor"
	case health.StatusWarning:
		return "degraded"
	case health.StatusHealthy:
		return "good"
	default:
		return "unknown"
	}
}

// WriteDebugSnapshot writes <sessionId>.debug.json.
func (w *Writer) WriteDebugSnapshot(h *health.SessionHealth, freshnessReport map[string]any, history *FetchHistoryRing) error {
	snap := DebugSnapshot{
		SessionID:    h.Identity.SessionID,
		GeneratedAt:  w.now(),
		Freshness:    freshnessReport,
		FetchHistory: history.Entries(),
		DataQuality:  dataQuality(h),
	}
	return atomicfile.WriteJSON(w.path(h.Identity.SessionID+".debug.json"), snap)
}

// PublishEntry is one session's row in the outbound publish contract.
type PublishEntry struct {
	SessionID   string    `json:"sessionId"`
	Status      string    `json:"status"`
	Urgency     int       `json:"urgency"` // 0-100, derived from status + alerts
	LastUpdated time.Time `json:"lastUpdated"`
}

// PublishRecord is publish-health.json.
type PublishRecord struct {
	Sessions    []PublishEntry `json:"sessions"`
	GeneratedAt time.Time      `json:"generatedAt"`
}

func urgencyFor(h *health.SessionHealth) int {
	switch h.Status {
	case health.StatusCritical:
		return 100
	case health.StatusWarning:
		return 50
	case health.StatusHealthy:
		return 0
	default:
		return 10
	}
}

// WritePublish reads the existing publish record, upserts h's entry,
// drops entries inactive more than an hour, and writes the result.
func (w *Writer) WritePublish(h *health.SessionHealth) error {
	path := w.path("publish-health.json")
	rec := atomicfile.ReadOrDefault(path, PublishRecord{})

	now := w.now()
	byID := make(map[string]PublishEntry, len(rec.Sessions)+1)
	for _, e := range rec.Sessions {
		if now.Sub(e.LastUpdated) <= publishInactiveCutoff {
			byID[e.SessionID] = e
		}
	}
	byID[h.Identity.SessionID] = PublishEntry{
		SessionID:   h.Identity.SessionID,
		Status:      string(h.Status),
		Urgency:     urgencyFor(h),
		LastUpdated: now,
	}

	rec.Sessions = rec.Sessions[:0]
	for _, e := range byID {
		rec.Sessions = append(rec.Sessions, e)
	}
	sort.Slice(rec.Sessions, func(i, j int) bool { return rec.Sessions[i].SessionID < rec.Sessions[j].SessionID })
	rec.GeneratedAt = now

	return atomicfile.WriteJSON(path, rec)
}

// TelemetryEntry is one session's row in the telemetry dashboard.
type TelemetryEntry struct {
	SessionID    string            `json:"sessionId"`
	OneLine      string            `json:"oneLine"` // ANSI-stripped
	Freshness    map[string]string `json:"freshness"`
	PendingIntents []string        `json:"pendingIntents,omitempty"`
	ActiveCooldowns []string       `json:"activeCooldowns,omitempty"`
	LastUpdated  time.Time         `json:"lastUpdated"`
}

// TelemetryDashboard is telemetry.json.
type TelemetryDashboard struct {
	Sessions    []TelemetryEntry `json:"sessions"`
	GeneratedAt time.Time        `json:"generatedAt"`
}

// WriteTelemetryDashboard upserts entry and prunes sessions inactive
// more than two hours.
func (w *Writer) WriteTelemetryDashboard(entry TelemetryEntry) error {
	path := w.path("telemetry.json")
	dash := atomicfile.ReadOrDefault(path, TelemetryDashboard{})

	now := w.now()
	byID := make(map[string]TelemetryEntry, len(dash.Sessions)+1)
	for _, e := range dash.Sessions {
		if now.Sub(e.LastUpdated) <= telemetryInactiveCutoff {
			byID[e.SessionID] = e
		}
	}
	entry.LastUpdated = now
	byID[entry.SessionID] = entry

	dash.Sessions = dash.Sessions[:0]
	for _, e := range byID {
		dash.Sessions = append(dash.Sessions, e)
	}
	sort.Slice(dash.Sessions, func(i, j int) bool { return dash.Sessions[i].SessionID < dash.Sessions[j].SessionID })
	dash.GeneratedAt = now

	return atomicfile.WriteJSON(path, dash)
}

// SummaryEntry is one session's row in the global summary.
type SummaryEntry struct {
	SessionID string   `json:"sessionId"`
	Status    string   `json:"status"`
	Alerts    []string `json:"alerts,omitempty"`
}

// GlobalSummary is sessions.json.
type GlobalSummary struct {
	Sessions    []SummaryEntry `json:"sessions"`
	GeneratedAt time.Time      `json:"generatedAt"`
}

// WriteGlobalSummary upserts h's entry into sessions.json.
func (w *Writer) WriteGlobalSummary(h *health.SessionHealth) error {
	path := w.path("sessions.json")
	summary := atomicfile.ReadOrDefault(path, GlobalSummary{})

	var alerts []string
	if h.Alerts.SecretsDetected {
		alerts = append(alerts, "secrets")
	}
	if h.Alerts.TranscriptStale {
		alerts = append(alerts, "transcript_stale")
	}
	if h.Alerts.DataLossRisk {
		alerts = append(alerts, "data_loss_risk")
	}

	byID := make(map[string]SummaryEntry, len(summary.Sessions)+1)
	for _, e := range summary.Sessions {
		byID[e.SessionID] = e
	}
	byID[h.Identity.SessionID] = SummaryEntry{SessionID: h.Identity.SessionID, Status: string(h.Status), Alerts: alerts}

	summary.Sessions = summary.Sessions[:0]
	for _, e := range byID {
		summary.Sessions = append(summary.Sessions, e)
	}
	sort.Slice(summary.Sessions, func(i, j int) bool { return summary.Sessions[i].SessionID < summary.Sessions[j].SessionID })
	summary.GeneratedAt = w.now()

	return atomicfile.WriteJSON(path, summary)
}
