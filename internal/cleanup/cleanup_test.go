package cleanup

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vladimir-ks/statusline-broker/internal/lockfile"
)

func touch(t *testing.T, path string, age time.Duration) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	mtime := time.Now().Add(-age)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

func TestDueWithNoCooldownFile(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, filepath.Join(dir, "cooldowns"), filepath.Join(dir, "refresh"))
	if !s.Due() {
		t.Errorf("expected Due() true when no cooldown file exists yet")
	}
}

func TestSweepSkippedWithinCooldown(t *testing.T) {
	dir := t.TempDir()
	cooldownDir := filepath.Join(dir, "cooldowns")
	_ = os.MkdirAll(cooldownDir, 0o700)
	touch(t, filepath.Join(cooldownDir, "cleanup.cooldown"), time.Hour)

	s := New(dir, cooldownDir, filepath.Join(dir, "refresh"))
	oldSession := filepath.Join(dir, "old-session.json")
	touch(t, oldSession, 10*24*time.Hour)

	if err := s.Sweep(); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if _, err := os.Stat(oldSession); err != nil {
		t.Errorf("expected old session file to survive a cooldown-gated sweep")
	}
}

func TestSweepRemovesOldSessionFiles(t *testing.T) {
	dir := t.TempDir()
	cooldownDir := filepath.Join(dir, "cooldowns")
	refreshDir := filepath.Join(dir, "refresh")
	s := New(dir, cooldownDir, refreshDir)

	oldSession := filepath.Join(dir, "old-session.json")
	touch(t, oldSession, 10*24*time.Hour)
	freshSession := filepath.Join(dir, "fresh-session.json")
	touch(t, freshSession, time.Hour)

	if err := s.Sweep(); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if _, err := os.Stat(oldSession); err == nil {
		t.Errorf("expected old session file removed")
	}
	if _, err := os.Stat(freshSession); err != nil {
		t.Errorf("expected fresh session file to survive")
	}
}

func TestSweepRemovesOrphanedCooldowns(t *testing.T) {
	dir := t.TempDir()
	cooldownDir := filepath.Join(dir, "cooldowns")
	_ = os.MkdirAll(cooldownDir, 0o700)
	s := New(dir, cooldownDir, filepath.Join(dir, "refresh"))

	touch(t, filepath.Join(dir, "keep-session.json"), time.Hour)
	touch(t, filepath.Join(cooldownDir, "keep-session-billing.cooldown"), time.Hour)
	touch(t, filepath.Join(cooldownDir, "gone-session-billing.cooldown"), time.Hour)
	// fm-<category> cooldowns are process-global, never session-scoped.
	touch(t, filepath.Join(cooldownDir, "fm-billing.cooldown"), time.Hour)

	if err := s.Sweep(); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cooldownDir, "keep-session-billing.cooldown")); err != nil {
		t.Errorf("expected cooldown for surviving session to remain")
	}
	if _, err := os.Stat(filepath.Join(cooldownDir, "gone-session-billing.cooldown")); err == nil {
		t.Errorf("expected orphaned cooldown removed")
	}
	if _, err := os.Stat(filepath.Join(cooldownDir, "fm-billing.cooldown")); err != nil {
		t.Errorf("expected global freshness cooldown untouched")
	}
}

func TestSweepTruncatesOversizedLogs(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, filepath.Join(dir, "cooldowns"), filepath.Join(dir, "refresh"))

	logPath := filepath.Join(dir, "daemon.log")
	var b strings.Builder
	for i := 0; i < 10000; i++ {
		b.WriteString("this is a log line padded to be reasonably long for size\n")
	}
	if err := os.WriteFile(logPath, []byte(b.String()), 0o600); err != nil {
		t.Fatalf("write log: %v", err)
	}

	if err := s.Sweep(); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Count(string(data), "\n")
	if lines > logTruncateKeepLines {
		t.Errorf("expected at most %d lines after truncation, got %d", logTruncateKeepLines, lines)
	}
}

func TestSweepRemovesOldTmpFiles(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, filepath.Join(dir, "cooldowns"), filepath.Join(dir, "refresh"))

	oldTmp := filepath.Join(dir, "sess.json.1234.tmp")
	touch(t, oldTmp, 2*time.Hour)
	freshTmp := filepath.Join(dir, "sess2.json.5678.tmp")
	touch(t, freshTmp, time.Minute)

	if err := s.Sweep(); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if _, err := os.Stat(oldTmp); err == nil {
		t.Errorf("expected old tmp file removed")
	}
	if _, err := os.Stat(freshTmp); err != nil {
		t.Errorf("expected fresh tmp file to survive")
	}
}

func TestSweepSkipsWhenAnotherProcessHoldsTheLock(t *testing.T) {
	dir := t.TempDir()
	cooldownDir := filepath.Join(dir, "cooldowns")
	_ = os.MkdirAll(cooldownDir, 0o700)
	s := New(dir, cooldownDir, filepath.Join(dir, "refresh"))

	oldSession := filepath.Join(dir, "old-session.json")
	touch(t, oldSession, 10*24*time.Hour)

	lockPath := filepath.Join(cooldownDir, sweepLockFile)
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		t.Fatalf("open lock file: %v", err)
	}
	defer func() { _ = f.Close() }()
	if err := lockfile.TryExclusive(f); err != nil {
		t.Fatalf("acquire lock: %v", err)
	}
	defer func() { _ = lockfile.Unlock(f) }()

	if err := s.Sweep(); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if _, err := os.Stat(oldSession); err != nil {
		t.Errorf("expected old session file to survive a sweep that lost the lock race")
	}
}

func TestSweepRemovesStaleIntents(t *testing.T) {
	dir := t.TempDir()
	refreshDir := filepath.Join(dir, "refresh")
	_ = os.MkdirAll(refreshDir, 0o700)
	s := New(dir, filepath.Join(dir, "cooldowns"), refreshDir)

	staleIntent := filepath.Join(refreshDir, "billing.intent")
	touch(t, staleIntent, 20*time.Minute)
	freshIntent := filepath.Join(refreshDir, "git.intent")
	touch(t, freshIntent, time.Minute)

	if err := s.Sweep(); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if _, err := os.Stat(staleIntent); err == nil {
		t.Errorf("expected stale intent removed")
	}
	if _, err := os.Stat(freshIntent); err != nil {
		t.Errorf("expected fresh intent to survive")
	}
}
