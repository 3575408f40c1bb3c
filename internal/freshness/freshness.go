// Package freshness is the single authority for turning a timestamp and
// a freshness category into a staleness verdict, and for tracking the
// cooldown that follows a fetch failure. All state is file-backed
// (mtime-is-the-value) so any process on the host agrees on cooldown
// state without talking to any other process directly.
package freshness

import (
	"os"
	"path/filepath"
	"time"
)

// Status is the verdict FreshnessAuthority assigns to a category's age.
type Status string

const (
	Fresh    Status = "fresh"
	Stale    Status = "stale"
	Critical Status = "critical"
	Unknown  Status = "unknown"
)

// Indicator is the glyph surfaced to the user for a Status.
type Indicator string

const (
	IndicatorNone     Indicator = ""
	IndicatorWarn     Indicator = "⚠"
	IndicatorCritical Indicator = "🔺"
)

// Thresholds carries the three windows that define a freshness
// category: below FreshMs is fresh, between FreshMs and StaleMs (if
// set) is stale, at or above StaleMs is critical.
type Thresholds struct {
	FreshMs    int64
	CooldownMs int64
	StaleMs    int64 // 0 means "no distinct critical threshold"; see Status.
}

// Category names the fixed freshness buckets defined by spec.md §4.3.
type Category string

const (
	CategoryBilling     Category = "billing"
	CategoryLocalCost   Category = "local-cost"
	CategoryQuota       Category = "quota"
	CategoryGit         Category = "git"
	CategoryTranscript  Category = "transcript"
	CategoryModel       Category = "model"
	CategorySecrets     Category = "secrets"
	CategoryContext     Category = "context"
	CategoryVersion     Category = "version"
	CategoryWeeklyQuota Category = "weekly-quota"
)

// table holds the static category -> thresholds mapping from spec.md
// §4.3. Values are milliseconds.
var table = map[Category]Thresholds{
	CategoryBilling:     {FreshMs: 120_000, CooldownMs: 120_000, StaleMs: 600_000},
	CategoryLocalCost:   {FreshMs: 300_000, CooldownMs: 120_000},
	CategoryQuota:       {FreshMs: 120_000, CooldownMs: 120_000},
	CategoryGit:         {FreshMs: 30_000, CooldownMs: 30_000, StaleMs: 300_000},
	CategoryTranscript:  {FreshMs: 300_000, CooldownMs: 120_000, StaleMs: 600_000},
	CategoryModel:       {FreshMs: 300_000, CooldownMs: 120_000},
	CategorySecrets:     {FreshMs: 300_000, CooldownMs: 120_000},
	CategoryContext:     {FreshMs: 5_000, CooldownMs: 30_000},
	CategoryVersion:     {FreshMs: 4 * 3600_000, CooldownMs: 3600_000},
	CategoryWeeklyQuota: {FreshMs: 300_000, CooldownMs: 300_000, StaleMs: 24 * 3600_000},
}

// Quota's freshness window in spec.md is given as a 30-300s range
// rather than one number; 120s sits in the middle and matches the
// billing category's own cooldown, which is the pairing the sources
// that use quota (external billing fetchers) actually share.

// Thresholds returns the configured thresholds for cat, or the zero
// value if cat is unregistered.
func ThresholdsFor(cat Category) Thresholds {
	return table[cat]
}

// Authority evaluates freshness against the wall clock. Its zero value
// is ready to use; cooldownDir is where cooldown files live.
type Authority struct {
	cooldownDir string
	now         func() time.Time
}

// New returns an Authority whose cooldown files live under cooldownDir.
func New(cooldownDir string) *Authority {
	return &Authority{cooldownDir: cooldownDir, now: time.Now}
}

// Age returns the duration since ts, or a very large duration if ts is
// non-positive (treated as "never fetched").
func Age(ts time.Time) time.Duration {
	if ts.IsZero() || ts.Unix() <= 0 {
		return time.Duration(1<<62 - 1)
	}
	return time.Since(ts)
}

// IsFresh reports whether ts is within cat's fresh window.
func IsFresh(ts time.Time, cat Category) bool {
	return Classify(ts, cat) == Fresh
}

// Classify is the total classification function: unknown for ts <= 0,
// otherwise fresh / stale / critical by age against cat's thresholds.
func Classify(ts time.Time, cat Category) Status {
	if ts.IsZero() || ts.Unix() <= 0 {
		return Unknown
	}
	th := table[cat]
	age := time.Since(ts)

	if age < time.Duration(th.FreshMs)*time.Millisecond {
		return Fresh
	}
	if th.StaleMs > 0 {
		if age < time.Duration(th.StaleMs)*time.Millisecond {
			return Stale
		}
		return Critical
	}
	return Stale
}

// BasicIndicator maps a Status directly to a glyph, ignoring intent and
// cooldown state. Most callers want ContextIndicator instead.
func BasicIndicator(s Status) Indicator {
	switch s {
	case Critical:
		return IndicatorCritical
	case Stale, Unknown:
		return IndicatorNone
	default:
		return IndicatorNone
	}
}

// IntentState is the subset of refresh-intent information the context-
// aware indicator needs; it is passed in rather than read here so this
// package stays free of a dependency on internal/refreshintent.
type IntentState struct {
	HasIntent bool
	IntentAge time.Duration
}

// ContextIndicator implements the decision table from spec.md §4.3:
// fresh data shows nothing; critical age always escalates; an intent
// overdue more than 5 minutes escalates even if age alone would not;
// an intent younger than that but present shows a soft warning; absent
// an intent, an active cooldown shows the same soft warning; otherwise
// (stale, no intent, no cooldown) the system assumes the next daemon
// tick will refresh it and stays silent.
func (a *Authority) ContextIndicator(ts time.Time, cat Category, intent IntentState) Indicator {
	status := Classify(ts, cat)
	if status == Fresh {
		return IndicatorNone
	}
	if status == Critical {
		return IndicatorCritical
	}
	if intent.HasIntent {
		if intent.IntentAge > 5*time.Minute {
			return IndicatorCritical
		}
		if intent.IntentAge > 30*time.Second {
			return IndicatorWarn
		}
		return IndicatorNone
	}
	if a.InCooldown(cat) {
		return IndicatorWarn
	}
	return IndicatorNone
}

func (a *Authority) cooldownPath(cat Category) string {
	return filepath.Join(a.cooldownDir, "fm-"+string(cat)+".cooldown")
}

// RecordFetch touches the category's cooldown file on failure, or
// removes it on success.
func (a *Authority) RecordFetch(cat Category, success bool) error {
	path := a.cooldownPath(cat)
	if success {
		err := os.Remove(path)
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}

	if err := os.MkdirAll(a.cooldownDir, 0o700); err != nil {
		return err
	}
	now := a.clock()
	if err := os.Chtimes(path, now, now); err != nil {
		// File doesn't exist yet; create it. Content is irrelevant,
		// the mtime is the value.
		if f, ferr := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600); ferr == nil {
			_ = f.Close()
			return os.Chtimes(path, now, now)
		}
		return err
	}
	return nil
}

// InCooldown reports whether cat currently has an active cooldown.
func (a *Authority) InCooldown(cat Category) bool {
	info, err := os.Stat(a.cooldownPath(cat))
	if err != nil {
		return false
	}
	th := table[cat]
	return time.Since(info.ModTime()) < time.Duration(th.CooldownMs)*time.Millisecond
}

// ShouldRefetch reports whether cat's cooldown file is absent, or
// older than its cooldown window.
func (a *Authority) ShouldRefetch(cat Category) bool {
	return !a.InCooldown(cat)
}

func (a *Authority) clock() time.Time {
	if a.now != nil {
		return a.now()
	}
	return time.Now()
}
