// Package durable implements the lossy compaction of a full
// SessionHealth record into the small DurableSessionState used for
// optional external sync, per spec.md §3/§8 scenario 6. Target size is
// under 5KB; precision is deliberately reduced (cost in cents, model
// confidence as a byte, alerts as a bitmask, issues capped to 3 entries
// of 50 characters each).
package durable

import (
	"encoding/json"
	"strings"

	"github.com/vladimir-ks/statusline-broker/internal/changehash"
	"github.com/vladimir-ks/statusline-broker/internal/health"
)

const (
	maxIssues    = 3
	maxIssueLen  = 50
)

// Alert bitmask flags.
const (
	AlertSecretsDetected uint8 = 1 << iota
	AlertTranscriptStale
	AlertDataLossRisk
)

// WeeklyState is the compacted weekly-budget block.
type WeeklyState struct {
	Percent      int    `json:"p"`
	RemainingHrs int    `json:"r"` // rounded hours
	ResetDay     string `json:"d"`
	Stale        bool   `json:"s"`
}

// GitState is the compacted git block.
type GitState struct {
	Branch string `json:"b"`
	Ahead  int    `json:"a"`
	Behind int    `json:"x"`
	Dirty  bool   `json:"d"`
}

// State is the DurableSessionState record, spec.md §3.
type State struct {
	SessionID       string       `json:"id"`
	AuthProfile     string       `json:"auth"`
	Status          string       `json:"status"`
	Issues          []string     `json:"issues,omitempty"`
	CostTodayCents  int64        `json:"costCents"`
	SessionCostCents int64       `json:"sessCents"`
	BurnRateCentsPerHr int64     `json:"burnCents"`
	MessageCount    int          `json:"msgs"`
	LastActiveMs    int64        `json:"lastMs"`
	ModelValue      string       `json:"model"`
	ModelConfidence uint8        `json:"conf"` // 0-255, byte-packed from 0-100
	TokensUsed      int          `json:"tu"`
	WindowSize      int          `json:"ws"`
	AlertBitmask    uint8        `json:"alerts"`
	Weekly          *WeeklyState `json:"w,omitempty"`
	Git             *GitState    `json:"g,omitempty"`
	Hash            string       `json:"hash"`
	UpdatedAtMs     int64        `json:"updatedAt"`
}

func truncateIssue(s string) string {
	r := []rune(s)
	if len(r) <= maxIssueLen {
		return s
	}
	return string(r[:maxIssueLen-1]) + "…"
}

func capIssues(issues []string) []string {
	if len(issues) > maxIssues {
		issues = issues[:maxIssues]
	}
	out := make([]string, len(issues))
	for i, s := range issues {
		out[i] = truncateIssue(s)
	}
	return out
}

func confidenceByte(pct int) uint8 {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return uint8(pct * 255 / 100)
}

func bitmask(a health.Alerts) uint8 {
	var b uint8
	if a.SecretsDetected {
		b |= AlertSecretsDetected
	}
	if a.TranscriptStale {
		b |= AlertTranscriptStale
	}
	if a.DataLossRisk {
		b |= AlertDataLossRisk
	}
	return b
}

// Serialize compacts h into a State and stamps its content hash,
// computed over the same significant fields the hash excludes from
// itself (UpdatedAtMs and Hash are never fed in).
func Serialize(h *health.SessionHealth, updatedAtMs int64) State {
	s := State{
		SessionID:          h.Identity.SessionID,
		AuthProfile:        h.Launch.AuthProfile,
		Status:             string(h.Status),
		Issues:             capIssues(h.Issues),
		CostTodayCents:     int64(h.Billing.CostToday*100 + 0.5),
		SessionCostCents:   int64(h.Billing.SessionCost*100 + 0.5),
		BurnRateCentsPerHr: int64(h.Billing.BurnRatePerHour*100 + 0.5),
		MessageCount:       h.Transcript.MessageCount,
		LastActiveMs:       h.Transcript.LastModified.UnixMilli(),
		ModelValue:         h.Model.Value,
		ModelConfidence:    confidenceByte(h.Model.Confidence),
		TokensUsed:         h.Context.TokensUsed,
		WindowSize:         h.Context.WindowSize,
		AlertBitmask:       bitmask(h.Alerts),
		UpdatedAtMs:        updatedAtMs,
	}

	if h.Billing.Weekly != nil {
		s.Weekly = &WeeklyState{
			Percent:      h.Billing.Weekly.Percent,
			RemainingHrs: int(h.Billing.Weekly.RemainingHrs + 0.5),
			ResetDay:     h.Billing.Weekly.ResetDay,
			Stale:        h.Billing.Weekly.Stale,
		}
	}
	if h.Git.Branch != "" {
		s.Git = &GitState{Branch: h.Git.Branch, Ahead: h.Git.Ahead, Behind: h.Git.Behind, Dirty: h.Git.Dirty}
	}

	s.Hash = computeHash(s)
	return s
}

// computeHash builds the canonical field set per spec.md §4.11, always
// excluding UpdatedAtMs and the Hash field itself.
func computeHash(s State) string {
	fb := changehash.NewFields().
		AddString(s.SessionID).
		AddString(s.AuthProfile).
		AddString(s.Status).
		AddString(strings.Join(s.Issues, ";")).
		AddInt(s.CostTodayCents).
		AddInt(s.SessionCostCents).
		AddInt(s.BurnRateCentsPerHr).
		AddInt(int64(s.MessageCount)).
		AddInt(s.LastActiveMs).
		AddString(s.ModelValue).
		AddInt(int64(s.ModelConfidence)).
		AddInt(int64(s.TokensUsed)).
		AddInt(int64(s.WindowSize)).
		AddInt(int64(s.AlertBitmask))

	if s.Weekly != nil {
		fb.AddInt(int64(s.Weekly.Percent)).AddInt(int64(s.Weekly.RemainingHrs)).AddString(s.Weekly.ResetDay).AddBool(s.Weekly.Stale)
	}
	if s.Git != nil {
		fb.AddString(s.Git.Branch).AddInt(int64(s.Git.Ahead)).AddInt(int64(s.Git.Behind)).AddBool(s.Git.Dirty)
	}

	return changehash.Compute(fb)
}

// Stamp recomputes s's hash and reports whether it changed relative to
// the previous value, then updates s.Hash in place.
func Stamp(s *State) (changed bool) {
	newHash := computeHash(*s)
	changed = newHash != s.Hash
	s.Hash = newHash
	return changed
}

// Size returns the marshaled JSON size in bytes, used to verify the
// <5KB budget in tests.
func Size(s State) (int, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}
