// Package cleanup implements CleanupSweeper, spec.md §4.14 item 7: a
// gated housekeeping pass that runs at most once per 24 hours and
// removes the filesystem debris that accumulates from 10-30 sessions
// writing for days at a time — old session records, orphaned cooldown
// files, oversized logs, abandoned temp files, and stale refresh
// intents.
package cleanup

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vladimir-ks/statusline-broker/internal/lockfile"
)

const (
	sweepCooldown       = 24 * time.Hour
	sessionFileMaxAge   = 7 * 24 * time.Hour
	tmpFileMaxAge       = time.Hour
	staleIntentMaxAge   = 10 * time.Minute
	logTruncateSizeMax  = 200 * 1024
	logTruncateKeepLines = 500
	sweepCooldownFile   = "cleanup.cooldown"
	sweepLockFile       = "sweep.lock"
)

// Sweeper runs the sweep described above, rooted at baseDir (the same
// directory every other component writes session files under) with its
// coordination files under cooldownDir and refreshDir.
type Sweeper struct {
	baseDir     string
	cooldownDir string
	refreshDir  string
	now         func() time.Time
}

// New returns a Sweeper. cooldownDir holds per-category freshness
// cooldown files as well as this sweeper's own 24h gate file;
// refreshDir holds .intent/.inprogress files.
func New(baseDir, cooldownDir, refreshDir string) *Sweeper {
	return &Sweeper{baseDir: baseDir, cooldownDir: cooldownDir, refreshDir: refreshDir, now: time.Now}
}

func (s *Sweeper) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// Due reports whether enough time has passed since the last sweep to
// run another one.
func (s *Sweeper) Due() bool {
	info, err := os.Stat(filepath.Join(s.cooldownDir, sweepCooldownFile))
	if err != nil {
		return true
	}
	return s.clock().Sub(info.ModTime()) >= sweepCooldown
}

// Sweep runs the full housekeeping pass if Due reports true; otherwise
// it is a no-op. It always attempts every step even if an earlier one
// fails, since this is best-effort maintenance, not a critical path.
func (s *Sweeper) Sweep() error {
	if !s.Due() {
		return nil
	}
	return s.runSweep()
}

// ForceSweep runs the full housekeeping pass unconditionally, ignoring
// the 24h gate. This is what the CLI's "sweep" subcommand calls so an
// operator can force a pass by hand without waiting out the cooldown.
func (s *Sweeper) ForceSweep() error {
	return s.runSweep()
}

// runSweep serializes the actual housekeeping pass with a non-blocking
// flock on sweepLockFile: with 10-30 broker invocations a second across
// a host, two processes can each observe Due()==true in the same
// instant, and without this lock both would walk and mutate baseDir
// concurrently (deleting the same file twice, racing two truncations of
// the same log). If another process already holds the lock, this
// process just skips the sweep for this invocation — the next one will
// either get the lock or find the cooldown file already refreshed.
func (s *Sweeper) runSweep() error {
	if err := os.MkdirAll(s.cooldownDir, 0o700); err != nil {
		return err
	}
	lockPath := filepath.Join(s.cooldownDir, sweepLockFile)
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600) // #nosec G304 - fixed path under our own cooldown directory
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if err := lockfile.TryExclusive(f); err != nil {
		if lockfile.IsHeld(err) {
			return nil
		}
		return fmt.Errorf("cleanup: acquire sweep lock: %w", err)
	}
	defer func() { _ = lockfile.Unlock(f) }()

	existingSessions := s.removeOldSessionFiles()
	s.removeOrphanedCooldowns(existingSessions)
	s.truncateOversizedLogs()
	s.removeOldTmpFiles()
	s.removeStaleIntents()

	return s.touchCooldownFile()
}

func (s *Sweeper) touchCooldownFile() error {
	if err := os.MkdirAll(s.cooldownDir, 0o700); err != nil {
		return err
	}
	path := filepath.Join(s.cooldownDir, sweepCooldownFile)
	now := s.clock()
	if err := os.Chtimes(path, now, now); err != nil {
		f, ferr := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600)
		if ferr != nil {
			return ferr
		}
		_ = f.Close()
		return os.Chtimes(path, now, now)
	}
	return nil
}

// removeOldSessionFiles deletes <sessionId>.json/.debug.json/.lock
// files untouched for more than 7 days, and returns the set of session
// ids whose health record still exists afterward.
func (s *Sweeper) removeOldSessionFiles() map[string]bool {
	survivors := map[string]bool{}

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return survivors
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		sessionID, ok := sessionIDFromFilename(name)
		if !ok {
			continue
		}

		info, err := e.Info()
		if err != nil {
			continue
		}
		if s.clock().Sub(info.ModTime()) > sessionFileMaxAge {
			_ = os.Remove(filepath.Join(s.baseDir, name))
			continue
		}
		if strings.HasSuffix(name, ".json") && !strings.HasSuffix(name, ".debug.json") {
			survivors[sessionID] = true
		}
	}
	return survivors
}

func sessionIDFromFilename(name string) (string, bool) {
	switch {
	case strings.HasSuffix(name, ".debug.json"):
		return strings.TrimSuffix(name, ".debug.json"), true
	case strings.HasSuffix(name, ".lock"):
		return strings.TrimSuffix(name, ".lock"), true
	case strings.HasSuffix(name, ".json") && name != "sessions.json" && name != "publish-health.json" &&
		name != "telemetry.json" && name != "notifications.json" && name != "data-cache.json" &&
		name != "hot-swap-quota.json" && name != "merged-quota-cache.json" && name != "slot-recommendation.json":
		return strings.TrimSuffix(name, ".json"), true
	default:
		return "", false
	}
}

// removeOrphanedCooldowns deletes per-session cooldown files
// (cooldowns/<sessionId>-<name>.cooldown) whose session no longer has a
// surviving health record.
func (s *Sweeper) removeOrphanedCooldowns(existingSessions map[string]bool) {
	entries, err := os.ReadDir(s.cooldownDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".cooldown") || strings.HasPrefix(name, "fm-") {
			continue
		}
		base := strings.TrimSuffix(name, ".cooldown")
		idx := strings.Index(base, "-")
		if idx <= 0 {
			continue
		}
		sessionID := base[:idx]
		if !existingSessions[sessionID] {
			_ = os.Remove(filepath.Join(s.cooldownDir, name))
		}
	}
}

// truncateOversizedLogs truncates any *.log file under baseDir larger
// than 200KB down to its last 500 lines.
func (s *Sweeper) truncateOversizedLogs() {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		path := filepath.Join(s.baseDir, e.Name())
		info, err := e.Info()
		if err != nil || info.Size() <= logTruncateSizeMax {
			continue
		}
		_ = truncateToLastLines(path, logTruncateKeepLines)
	}
}

func truncateToLastLines(path string, keep int) error {
	f, err := os.Open(path) // #nosec G304 - path is derived from an internal directory listing
	if err != nil {
		return err
	}
	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > keep {
			lines = lines[1:]
		}
	}
	_ = f.Close()

	tmp := path + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(out)
	for _, l := range lines {
		_, _ = w.WriteString(l)
		_, _ = w.WriteString("\n")
	}
	if err := w.Flush(); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// removeOldTmpFiles deletes *.tmp files under baseDir older than 1
// hour: the debris atomicfile leaves behind if a process crashed
// between writing and renaming its temp file.
func (s *Sweeper) removeOldTmpFiles() {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if s.clock().Sub(info.ModTime()) > tmpFileMaxAge {
			_ = os.Remove(filepath.Join(s.baseDir, e.Name()))
		}
	}
}

// removeStaleIntents deletes .intent files older than 10 minutes: a
// process that signalled intent and then exited without ever
// refreshing the category leaves one of these behind indefinitely
// otherwise.
func (s *Sweeper) removeStaleIntents() {
	entries, err := os.ReadDir(s.refreshDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".intent") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if s.clock().Sub(info.ModTime()) > staleIntentMaxAge {
			_ = os.Remove(filepath.Join(s.refreshDir, e.Name()))
		}
	}
}
