package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vladimir-ks/statusline-broker/internal/atomicfile"
	"github.com/vladimir-ks/statusline-broker/internal/broker"
	"github.com/vladimir-ks/statusline-broker/internal/cleanup"
	"github.com/vladimir-ks/statusline-broker/internal/config"
	"github.com/vladimir-ks/statusline-broker/internal/freshness"
	"github.com/vladimir-ks/statusline-broker/internal/globalcache"
	"github.com/vladimir-ks/statusline-broker/internal/health"
	"github.com/vladimir-ks/statusline-broker/internal/logging"
	"github.com/vladimir-ks/statusline-broker/internal/refreshintent"
	"github.com/vladimir-ks/statusline-broker/internal/registry"
	"github.com/vladimir-ks/statusline-broker/internal/sanitize"
	"github.com/vladimir-ks/statusline-broker/internal/sessionlock"
	"github.com/vladimir-ks/statusline-broker/internal/sources"
	"github.com/vladimir-ks/statusline-broker/internal/term"
	"github.com/vladimir-ks/statusline-broker/internal/writer"
)

// layout is the fixed set of sub-paths under the base directory, spec.md
// §6. Every component that needs one of these is handed an already-
// joined path rather than the base dir itself, so this is the only
// place the layout is spelled out.
type layout struct {
	base              string
	cooldowns         string
	refreshIntents    string
	transcriptOffsets string
	daemonLog         string
	telemetryDB       string
}

func newLayout(base string) layout {
	return layout{
		base:              base,
		cooldowns:         filepath.Join(base, "cooldowns"),
		refreshIntents:    filepath.Join(base, "refresh-intents"),
		transcriptOffsets: filepath.Join(base, "transcript-offsets"),
		daemonLog:         filepath.Join(base, "daemon.log"),
		telemetryDB:       filepath.Join(base, "telemetry.db"),
	}
}

func newGatherCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gather",
		Short: "Read the stdin statusline contract, gather session health, and print formatted output",
		RunE: func(cmd *cobra.Command, args []string) error {
			runGather(cmd.InOrStdin(), cmd.OutOrStdout())
			return nil
		},
	}
}

// runGather is the whole of spec.md §4.13/§4.14 glued together. It never
// returns an error to its caller: every failure is logged and the
// command still exits 0, per §6's exit-code contract.
func runGather(stdin io.Reader, stdout io.Writer) {
	lo := newLayout(flags.baseDir)

	logger, closer, err := logging.NewFile(lo.daemonLog)
	if err != nil {
		logger = logging.New(os.Stderr)
	} else {
		defer func() { _ = closer.Close() }()
	}

	input := readJSONInput(stdin, logger)

	sessionID := sanitize.SessionID(firstString(input, "session_id"))
	if sessionID == "" || sessionID == "unknown-session" {
		logger.Warnf("gather: missing or unusable session_id, skipping")
		return
	}

	transcriptPath, _ := input["transcript_path"].(string)
	projectPath, _ := input["start_directory"].(string)
	configDir := filepath.Dir(flags.baseDir)
	keychainService := "claude-code"

	cfg := config.LoadWithEnv(lo.base)

	reg := registry.New()
	sources.Register(reg, sources.Deps{
		BaseDir:                lo.base,
		TranscriptOffsetDir:    lo.transcriptOffsets,
		TranscriptCeilingBytes: cfg.TranscriptReadCeilingBytes,
	})

	fa := freshness.New(lo.cooldowns)
	rs := refreshintent.New(lo.refreshIntents)
	sf := refreshintent.NewSingleFlight(rs)
	gcache := globalcache.New(lo.base)

	br := broker.New(reg, fa, rs, sf, gcache, logger)

	w := writer.New(lo.base)

	existingPath := filepath.Join(lo.base, sessionID+".json")
	existing := atomicfile.ReadOrDefault[*health.SessionHealth](existingPath, nil)

	start := time.Now()
	h := br.GatherAll(sessionID, transcriptPath, configDir, keychainService, projectPath, input, existing, broker.Options{
		DeadlineMs:                cfg.DeadlineMs,
		StalenessThresholdMinutes: cfg.StalenessThresholdMinutes,
	})
	duration := time.Since(start)

	locks := sessionlock.New(lo.base)
	if _, err := locks.GetOrCreate(sessionID, "", configDir, keychainService, "", transcriptPath, os.Getenv("TMUX")); err != nil {
		logger.Warnf("gather: session lock: %v", err)
	}

	if err := w.WriteSessionHealth(&h); err != nil {
		logger.Warnf("gather: write session health: %v", err)
	}

	freshnessReport := buildFreshnessReport(fa, &h)
	history := &writer.FetchHistoryRing{}
	history.Push(writer.FetchAttempt{SourceID: "gather", At: start, Duration: duration, Success: true})
	if err := w.WriteDebugSnapshot(&h, freshnessReport, history); err != nil {
		logger.Warnf("gather: write debug snapshot: %v", err)
	}
	if err := w.WritePublish(&h); err != nil {
		logger.Warnf("gather: write publish: %v", err)
	}
	if err := w.WriteTelemetryDashboard(buildTelemetryEntry(&h, fa, rs)); err != nil {
		logger.Warnf("gather: write telemetry dashboard: %v", err)
	}
	if err := w.WriteGlobalSummary(&h); err != nil {
		logger.Warnf("gather: write global summary: %v", err)
	}

	recordTelemetryRow(lo.telemetryDB, &h, duration, logger)

	sweeper := cleanup.New(lo.base, lo.cooldowns, lo.refreshIntents)
	if err := sweeper.Sweep(); err != nil {
		logger.Warnf("gather: cleanup sweep: %v", err)
	}

	printOutput(stdout, &h)
}

func readJSONInput(r io.Reader, logger *logging.Logger) map[string]any {
	data, err := io.ReadAll(r)
	if err != nil {
		logger.Warnf("gather: read stdin: %v", err)
		return map[string]any{}
	}
	var input map[string]any
	if err := json.Unmarshal(data, &input); err != nil {
		logger.Warnf("gather: parse stdin JSON: %v", err)
		return map[string]any{}
	}
	return input
}

func firstString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func buildFreshnessReport(fa *freshness.Authority, h *health.SessionHealth) map[string]any {
	return map[string]any{
		"billing":            freshness.Classify(h.Billing.LastFetched, freshness.CategoryBilling),
		"billingCooldown":    fa.InCooldown(freshness.CategoryBilling),
		"transcript":         freshness.Classify(h.Transcript.LastModified, freshness.CategoryTranscript),
		"transcriptCooldown": fa.InCooldown(freshness.CategoryTranscript),
		"git":                freshness.Classify(h.Git.LastChecked, freshness.CategoryGit),
		"gitCooldown":        fa.InCooldown(freshness.CategoryGit),
	}
}

func buildTelemetryEntry(h *health.SessionHealth, fa *freshness.Authority, rs *refreshintent.Store) writer.TelemetryEntry {
	var oneLine string
	if lines := h.FormattedOutput["single"]; len(lines) > 0 {
		oneLine = lines[0]
	}

	var pending []string
	for _, cat := range []freshness.Category{freshness.CategoryBilling, freshness.CategoryWeeklyQuota, freshness.CategoryQuota} {
		if _, ok := rs.IntentAge(cat); ok {
			pending = append(pending, string(cat))
		}
	}

	var cooldowns []string
	for _, cat := range []freshness.Category{freshness.CategoryBilling, freshness.CategoryGit, freshness.CategoryTranscript} {
		if fa.InCooldown(cat) {
			cooldowns = append(cooldowns, string(cat))
		}
	}

	return writer.TelemetryEntry{
		SessionID: h.Identity.SessionID,
		OneLine:   oneLine,
		Freshness: map[string]string{
			"billing":    string(freshness.Classify(h.Billing.LastFetched, freshness.CategoryBilling)),
			"transcript": string(freshness.Classify(h.Transcript.LastModified, freshness.CategoryTranscript)),
		},
		PendingIntents:  pending,
		ActiveCooldowns: cooldowns,
	}
}

func recordTelemetryRow(path string, h *health.SessionHealth, duration time.Duration, logger *logging.Logger) {
	db, err := writer.OpenTelemetryDB(path)
	if err != nil {
		logger.Warnf("gather: open telemetry db: %v", err)
		return
	}
	defer func() { _ = db.Close() }()

	var flagParts []string
	if h.Alerts.SecretsDetected {
		flagParts = append(flagParts, "secrets")
	}
	if h.Alerts.TranscriptStale {
		flagParts = append(flagParts, "transcript_stale")
	}
	if h.Alerts.DataLossRisk {
		flagParts = append(flagParts, "data_loss_risk")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	row := writer.TelemetryRow{
		SessionID:  h.Identity.SessionID,
		Status:     string(h.Status),
		DurationMs: duration.Milliseconds(),
		CostCents:  int64(h.Billing.SessionCost * 100),
		Flags:      strings.Join(flagParts, ","),
		RecordedAt: time.Now(),
	}
	if err := db.InsertInvocation(ctx, row); err != nil {
		logger.Warnf("gather: insert telemetry row: %v", err)
	}
	if err := db.CleanupOld(ctx); err != nil {
		logger.Warnf("gather: telemetry cleanup: %v", err)
	}
}

// statusColor maps a session's overall status to the color the teacher's
// own CLI commands use for the same severity (yellow for a warning, red
// for a critical failure, green once it's healthy again).
func statusColor(s health.Status) func(format string, a ...any) string {
	switch s {
	case health.StatusCritical:
		return color.New(color.FgRed).SprintfFunc()
	case health.StatusWarning:
		return color.New(color.FgYellow).SprintfFunc()
	case health.StatusHealthy:
		return color.New(color.FgGreen).SprintfFunc()
	default:
		return fmt.Sprintf
	}
}

func printOutput(stdout io.Writer, h *health.SessionHealth) {
	if flags.json {
		enc := json.NewEncoder(stdout)
		_ = enc.Encode(h)
		return
	}

	width := os.Getenv("COLUMNS")
	class := pickWidthClass(width)
	lines := h.FormattedOutput[class]

	if !term.ShouldUseColor(os.Stdout.Fd()) {
		for _, l := range lines {
			fmt.Fprintln(stdout, l)
		}
		return
	}

	paint := statusColor(h.Status)
	for i, l := range lines {
		if i == 0 {
			fmt.Fprintln(stdout, paint("%s", l))
			continue
		}
		fmt.Fprintln(stdout, l)
	}
}

func pickWidthClass(columns string) string {
	if columns == "" {
		return "single"
	}
	n := 0
	for _, r := range columns {
		if r < '0' || r > '9' {
			return "single"
		}
		n = n*10 + int(r-'0')
	}
	for _, class := range []int{40, 60, 80, 100, 120, 150, 200} {
		if n <= class {
			return fmt.Sprintf("%d", class)
		}
	}
	return "200"
}
