// Package formatter implements StatuslineFormatter, spec.md §4.15: it
// precomputes, for a fixed set of terminal-width classes, the display
// lines a front-end can print verbatim. All width arithmetic is done in
// terminal columns (ANSI escapes stripped, emoji counted as 2 columns
// via go-runewidth), not bytes or runes.
package formatter

import (
	"fmt"
	"math"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/vladimir-ks/statusline-broker/internal/health"
)

// widthClasses is the fixed set of terminal-width buckets, spec.md
// §4.15. 75% of each is the effective rendering width, leaving margin
// for a tmux status bar or similar chrome.
var widthClasses = []int{40, 60, 80, 100, 120, 150, 200}

const singleLineClass = 240

func effectiveWidth(class int) int {
	return class * 75 / 100
}

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// VisibleWidth returns s's on-screen column count: ANSI SGR sequences
// are stripped before measuring, and go-runewidth accounts for
// double-width runes (most emoji included) as 2 columns.
func VisibleWidth(s string) int {
	return runewidth.StringWidth(ansiEscape.ReplaceAllString(s, ""))
}

func truncateToWidth(s string, maxCols int) string {
	if VisibleWidth(s) <= maxCols {
		return s
	}
	if maxCols <= 1 {
		return runewidth.Truncate(s, maxCols, "")
	}
	return runewidth.Truncate(s, maxCols-1, "") + "…"
}

// Materialize computes the width-class -> display-lines map for h, the
// orchestrator's final gather step.
func Materialize(h *health.SessionHealth) map[string][]string {
	out := make(map[string][]string, len(widthClasses)+1)
	for _, w := range widthClasses {
		out[fmt.Sprintf("%d", w)] = buildLines(h, w, false)
	}
	out["single"] = buildLines(h, singleLineClass, true)
	return out
}

func buildLines(h *health.SessionHealth, class int, singleLine bool) []string {
	eff := effectiveWidth(class)

	glyph := statusGlyph(h.Status)
	dir := collapseHome(h.Identity.ProjectPath)
	branchMaxLen := 15
	if class >= 100 {
		branchMaxLen = 30
	}
	git := gitFragment(h, branchMaxLen)

	modelContext, line2Overflow := modelContextFragment(h, eff, glyph, dir, git)

	line1 := joinNonEmpty(" ", glyph, dir, git, modelContext)
	line1 = truncateToWidth(line1, eff)

	line2Parts := buildLine2(h, eff, line2Overflow)
	line2 := truncateToWidth(strings.Join(line2Parts, "  "), eff)

	line3 := lastMessageLine(h, eff)

	if singleLine {
		joined := joinNonEmpty(" | ", line1, line2, line3)
		return []string{truncateToWidth(joined, eff)}
	}

	lines := []string{line1}
	if line2 != "" {
		lines = append(lines, line2)
	}
	if line3 != "" {
		lines = append(lines, line3)
	}
	return lines
}

func joinNonEmpty(sep string, parts ...string) string {
	var nonEmpty []string
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, sep)
}

func statusGlyph(s health.Status) string {
	switch s {
	case health.StatusCritical:
		return "🔺"
	case health.StatusWarning:
		return "⚠"
	case health.StatusHealthy:
		return ""
	default:
		return "?"
	}
}

func collapseHome(path string) string {
	home, err := os.UserHomeDir()
	if err == nil && home != "" && strings.HasPrefix(path, home) {
		rest := strings.TrimPrefix(path, home)
		if rest == "" {
			return "~"
		}
		if strings.HasPrefix(rest, string(os.PathSeparator)) {
			return "~" + rest
		}
	}
	return path
}

func gitFragment(h *health.SessionHealth, maxBranchLen int) string {
	if h.Git.Branch == "" {
		return ""
	}
	branch := h.Git.Branch
	if runewidth.StringWidth(branch) > maxBranchLen {
		branch = truncateToWidth(branch, maxBranchLen)
	}

	var suffix strings.Builder
	if h.Git.Ahead != 0 {
		fmt.Fprintf(&suffix, " +%d", h.Git.Ahead)
	}
	if h.Git.Behind != 0 {
		fmt.Fprintf(&suffix, " -%d", h.Git.Behind)
	}
	if h.Git.Dirty {
		suffix.WriteString(" *")
	}
	return branch + suffix.String()
}

var abbrevs = []struct {
	substr string
	short  string
}{
	{"opus", "o-"},
	{"sonnet", "s-"},
	{"haiku", "h-"},
	{"claude", "c"},
}

func abbreviateModel(model string) string {
	lower := strings.ToLower(model)
	for _, a := range abbrevs {
		if strings.Contains(lower, a.substr) {
			return a.short
		}
	}
	if len(model) > 8 {
		return model[:8]
	}
	return model
}

// contextBar renders the token-budget bar at one of four detail levels:
// 0 full bar + free-tokens annotation, 1 medium bar + free annotation,
// 2 short bar, 3 minimal (tokens only).
func contextBar(c health.Context, level int) string {
	free := c.TokensLeft
	switch level {
	case 0:
		return fmt.Sprintf("[%s] %d%% (%dk free)", bar(c.PercentUsed, 10), c.PercentUsed, free/1000)
	case 1:
		return fmt.Sprintf("[%s] %d%% (%dk free)", bar(c.PercentUsed, 5), c.PercentUsed, free/1000)
	case 2:
		return fmt.Sprintf("[%s] %d%%", bar(c.PercentUsed, 5), c.PercentUsed)
	default:
		return fmt.Sprintf("%dk/%dk", c.TokensUsed/1000, c.WindowSize/1000)
	}
}

func bar(percent, slots int) string {
	filled := percent * slots / 100
	if filled > slots {
		filled = slots
	}
	return strings.Repeat("=", filled) + strings.Repeat("-", slots-filled)
}

// modelContextFragment implements the shrink cascade from spec.md
// §4.15: it returns the Line-1 fragment that fits within eff, and
// whether the whole model/context pair spilled to Line 2 (level 8).
func modelContextFragment(h *health.SessionHealth, eff int, already ...string) (string, bool) {
	usedSoFar := VisibleWidth(joinNonEmpty(" ", already...))
	remaining := eff - usedSoFar
	if remaining < 0 {
		remaining = 0
	}

	model := h.Model.Value
	ctx := h.Context

	candidates := []string{
		fmt.Sprintf("%s %s", model, contextBar(ctx, 0)),
		fmt.Sprintf("%s %s", model, contextBar(ctx, 1)),
		fmt.Sprintf("%s %s", model, contextBar(ctx, 2)),
		fmt.Sprintf("%s %s", model, contextBar(ctx, 3)),
		fmt.Sprintf("%s %s", abbreviateModel(model), contextBar(ctx, 2)),
		fmt.Sprintf("%s %s", abbreviateModel(model), contextBar(ctx, 3)),
		abbreviateModel(model),
	}
	for _, c := range candidates {
		if VisibleWidth(c) <= remaining {
			return c, false
		}
	}
	return "", true
}

// buildLine2 assembles the time/budget/weekly + cost/usage/turns
// fragments, applying the drop cascade (usage, then turns, then burn
// rate, finally cost) when the line doesn't fit eff. Time/budget/weekly
// is never dropped.
func buildLine2(h *health.SessionHealth, eff int, contextOverflow bool) []string {
	var always []string
	if contextOverflow {
		always = append(always, fmt.Sprintf("%s %s", h.Model.Value, contextBar(h.Context, 0)))
	}
	always = append(always, budgetFragment(h))

	optional := []string{
		usageFragment(h),
		turnsFragment(h),
		burnRateFragment(h),
		costFragment(h),
	}

	// Drop from the tail of `optional` (cost is checked last so it drops
	// first) until the joined line fits, per the cascade order in
	// spec.md §4.15: usage, then turns, then burn rate, finally cost.
	dropOrder := []int{0, 1, 2, 3}
	dropped := map[int]bool{}
	for {
		parts := append([]string{}, always...)
		for i, frag := range optional {
			if dropped[i] || frag == "" {
				continue
			}
			parts = append(parts, frag)
		}
		if VisibleWidth(strings.Join(parts, "  ")) <= eff {
			return parts
		}

		next := -1
		for _, i := range dropOrder {
			if !dropped[i] {
				next = i
				break
			}
		}
		if next == -1 {
			return parts
		}
		dropped[next] = true
	}
}

func budgetFragment(h *health.SessionHealth) string {
	raw := h.Billing.BudgetRemainingMin
	ageMin := 0.0
	if !h.Billing.LastFetched.IsZero() {
		ageMin = time.Since(h.Billing.LastFetched).Minutes()
	}

	display := raw - ageMin
	if display < 0 {
		display = 0
	}

	marker := ""
	if display == 0 && raw > 10 && ageMin > raw {
		display = raw
		marker = "‼"
	}

	frag := fmt.Sprintf("budget %dm", int(math.Round(display)))
	if marker != "" {
		frag = marker + " " + frag
	}
	if h.Billing.Weekly != nil {
		frag += fmt.Sprintf(" wk%d%%", h.Billing.Weekly.Percent)
	}
	return frag
}

func usageFragment(h *health.SessionHealth) string {
	if h.Billing.TotalTokens <= 0 {
		return ""
	}
	return fmt.Sprintf("%dk tok", h.Billing.TotalTokens/1000)
}

func turnsFragment(h *health.SessionHealth) string {
	if h.Transcript.MessageCount < 1000 {
		return ""
	}
	return fmt.Sprintf("%d turns", h.Transcript.MessageCount)
}

func burnRateFragment(h *health.SessionHealth) string {
	if h.Billing.BurnRatePerHour <= 0 {
		return ""
	}
	return fmt.Sprintf("$%.2f/hr", h.Billing.BurnRatePerHour)
}

func costFragment(h *health.SessionHealth) string {
	return fmt.Sprintf("$%.2f today", h.Billing.CostToday)
}

func lastMessageLine(h *health.SessionHealth, eff int) string {
	if h.Transcript.LastMessage == "" {
		return ""
	}
	age := time.Since(h.Transcript.LastModified)
	ageStr := formatAge(age)
	line := fmt.Sprintf("%s (%s)", h.Transcript.LastMessage, ageStr)
	return truncateToWidth(line, eff)
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
}
