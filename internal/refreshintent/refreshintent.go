// Package refreshintent implements the two-file-per-category protocol
// that lets many cooperating processes agree on "someone wants this
// refreshed" (intent) separately from "someone is doing it right now"
// (in-progress), without any of them needing to clean up after a
// crash. Liveness of the in-progress holder is established with a
// signal-0 probe (internal/lockfile.ProcessAlive), the same mechanism
// the teacher repo uses to decide whether a daemon lock is abandoned.
package refreshintent

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/vladimir-ks/statusline-broker/internal/atomicfile"
	"github.com/vladimir-ks/statusline-broker/internal/freshness"
	"github.com/vladimir-ks/statusline-broker/internal/lockfile"
)

// Store manages refresh-intent and refresh-in-progress files under dir.
type Store struct {
	dir string
}

// New returns a Store rooted at dir (created on first write).
func New(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) intentPath(cat freshness.Category) string {
	return filepath.Join(s.dir, string(cat)+".intent")
}

func (s *Store) inProgressPath(cat freshness.Category) string {
	return filepath.Join(s.dir, string(cat)+".inprogress")
}

// SignalRefreshNeeded writes (or overwrites) cat's intent file with the
// current timestamp.
func (s *Store) SignalRefreshNeeded(cat freshness.Category) error {
	return atomicfile.WriteAtomic(s.intentPath(cat), []byte(strconv.FormatInt(time.Now().UnixMilli(), 10)))
}

// SignalRefreshInProgress writes the caller's PID into cat's
// in-progress file.
func (s *Store) SignalRefreshInProgress(cat freshness.Category) error {
	return atomicfile.WriteAtomic(s.inProgressPath(cat), []byte(strconv.Itoa(os.Getpid())))
}

// IntentAge returns how long ago cat's intent was signalled, and
// whether an intent file exists at all.
func (s *Store) IntentAge(cat freshness.Category) (age time.Duration, ok bool) {
	data, err := os.ReadFile(s.intentPath(cat))
	if err != nil {
		return 0, false
	}
	ms, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, false
	}
	return time.Since(time.UnixMilli(ms)), true
}

// IsRefreshInProgress reads cat's in-progress file and probes the
// stamped PID for liveness. A dead PID causes the file to be deleted
// and false to be returned, per spec.md invariant 5.
func (s *Store) IsRefreshInProgress(cat freshness.Category) bool {
	path := s.inProgressPath(cat)
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil {
		_ = os.Remove(path)
		return false
	}
	if lockfile.ProcessAlive(pid) {
		return true
	}
	_ = os.Remove(path)
	return false
}

// ClearIntent deletes both the intent and in-progress files for cat,
// called after a successful refresh.
func (s *Store) ClearIntent(cat freshness.Category) {
	_ = os.Remove(s.intentPath(cat))
	_ = os.Remove(s.inProgressPath(cat))
}

// ClearInProgress deletes only cat's in-progress file, leaving the
// intent in place so the next process retries.
func (s *Store) ClearInProgress(cat freshness.Category) {
	_ = os.Remove(s.inProgressPath(cat))
}
