package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vladimir-ks/statusline-broker/internal/freshness"
	"github.com/vladimir-ks/statusline-broker/internal/lockfile"
	"github.com/vladimir-ks/statusline-broker/internal/term"
)

// doctorReport summarizes the base directory's coordination state: the
// same files an operator would otherwise have to grep for by hand.
type doctorReport struct {
	BaseDir        string              `json:"baseDir"`
	Cooldowns      []cooldownStatus    `json:"cooldowns"`
	RefreshIntents []refreshIntentInfo `json:"refreshIntents"`
	SessionLocks   []string            `json:"sessionLocks"`
}

type cooldownStatus struct {
	Category   string `json:"category"`
	InCooldown bool   `json:"inCooldown"`
}

type refreshIntentInfo struct {
	Category      string `json:"category"`
	HasIntent     bool   `json:"hasIntent"`
	InProgress    bool   `json:"inProgress"`
	InProgressPID int    `json:"inProgressPid,omitempty"`
	PIDAlive      bool   `json:"pidAlive,omitempty"`
}

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Report freshness, lock, and cooldown state across the base directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			lo := newLayout(flags.baseDir)
			report := runDoctor(lo)
			printDoctorReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
}

func runDoctor(lo layout) doctorReport {
	report := doctorReport{BaseDir: lo.base}

	fa := freshness.New(lo.cooldowns)
	for _, cat := range []freshness.Category{
		freshness.CategoryBilling, freshness.CategoryLocalCost, freshness.CategoryQuota,
		freshness.CategoryGit, freshness.CategoryTranscript, freshness.CategoryModel,
		freshness.CategorySecrets, freshness.CategoryContext, freshness.CategoryVersion,
		freshness.CategoryWeeklyQuota,
	} {
		report.Cooldowns = append(report.Cooldowns, cooldownStatus{
			Category:   string(cat),
			InCooldown: fa.InCooldown(cat),
		})
	}

	entries, err := os.ReadDir(lo.refreshIntents)
	if err == nil {
		byCategory := map[string]*refreshIntentInfo{}
		for _, e := range entries {
			name := e.Name()
			switch {
			case strings.HasSuffix(name, ".intent"):
				cat := strings.TrimSuffix(name, ".intent")
				info := infoFor(byCategory, cat)
				info.HasIntent = true
			case strings.HasSuffix(name, ".inprogress"):
				cat := strings.TrimSuffix(name, ".inprogress")
				info := infoFor(byCategory, cat)
				info.InProgress = true
				if data, err := os.ReadFile(filepath.Join(lo.refreshIntents, name)); err == nil { // #nosec G304 - fixed subdirectory listing
					if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil {
						info.InProgressPID = pid
						info.PIDAlive = lockfile.ProcessAlive(pid)
					}
				}
			}
		}
		var cats []string
		for cat := range byCategory {
			cats = append(cats, cat)
		}
		sort.Strings(cats)
		for _, cat := range cats {
			report.RefreshIntents = append(report.RefreshIntents, *byCategory[cat])
		}
	}

	if entries, err := os.ReadDir(lo.base); err == nil {
		for _, e := range entries {
			if strings.HasSuffix(e.Name(), ".lock") {
				report.SessionLocks = append(report.SessionLocks, strings.TrimSuffix(e.Name(), ".lock"))
			}
		}
		sort.Strings(report.SessionLocks)
	}

	return report
}

func infoFor(m map[string]*refreshIntentInfo, cat string) *refreshIntentInfo {
	info, ok := m[cat]
	if !ok {
		info = &refreshIntentInfo{Category: cat}
		m[cat] = info
	}
	return info
}

func printDoctorReport(w io.Writer, report doctorReport) {
	if flags.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
		return
	}

	useColor := term.ShouldUseColor(os.Stdout.Fd())
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	paint := func(f func(a ...any) string, s string) string {
		if !useColor {
			return s
		}
		return f(s)
	}

	fmt.Fprintf(w, "base directory: %s\n\n", report.BaseDir)

	fmt.Fprintln(w, "cooldowns:")
	for _, c := range report.Cooldowns {
		state := paint(green, "clear")
		if c.InCooldown {
			state = paint(yellow, "active")
		}
		fmt.Fprintf(w, "  %-14s %s\n", c.Category, state)
	}

	fmt.Fprintln(w, "\nrefresh intents:")
	if len(report.RefreshIntents) == 0 {
		fmt.Fprintln(w, "  none")
	}
	for _, ri := range report.RefreshIntents {
		status := paint(green, "idle")
		switch {
		case ri.InProgress && ri.PIDAlive:
			status = paint(green, fmt.Sprintf("in progress (pid %d, alive)", ri.InProgressPID))
		case ri.InProgress:
			status = paint(red, fmt.Sprintf("in progress (pid %d, dead — stale)", ri.InProgressPID))
		case ri.HasIntent:
			status = paint(yellow, "intent filed, not yet claimed")
		}
		fmt.Fprintf(w, "  %-14s %s\n", ri.Category, status)
	}

	fmt.Fprintln(w, "\nsession locks:")
	if len(report.SessionLocks) == 0 {
		fmt.Fprintln(w, "  none")
	}
	for _, s := range report.SessionLocks {
		fmt.Fprintf(w, "  %s\n", s)
	}
}
