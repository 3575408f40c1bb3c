// Package sessionlock manages the per-session identity record: an
// immutable tail set once at first gather, and a small mutable head
// updated in place on every subsequent gather. It is the closest
// analogue in this repo to the teacher's own daemon lock file, minus
// the flock: a SessionLock is advisory state, not mutual exclusion.
package sessionlock

import (
	"fmt"
	"path/filepath"
	"regexp"
	"time"

	"github.com/vladimir-ks/statusline-broker/internal/atomicfile"
)

var validSessionID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Lock is the full per-session identity record: spec.md §3 SessionLock.
type Lock struct {
	// Immutable tail, set once at creation.
	SessionID      string `json:"sessionId"`
	LaunchedAt     int64  `json:"launchedAt"` // epoch ms
	SlotID         string `json:"slotId"`
	ConfigDir      string `json:"configDir"`
	KeychainService string `json:"keychainService"`
	Email          string `json:"email,omitempty"`
	TranscriptPath string `json:"transcriptPath"`
	Tmux           string `json:"tmux,omitempty"`

	// Mutable head, merged in place by Update.
	ClaudeVersion    string `json:"claudeVersion,omitempty"`
	LastVersionCheck int64  `json:"lastVersionCheck,omitempty"`
	LastIdleCheck    int64  `json:"lastIdleCheck,omitempty"`
	UpdatedAt        int64  `json:"updatedAt"`
	LockFileVersion  int    `json:"lockFileVersion"`
}

// MutableFields is the whitelist of fields Update is allowed to touch.
type MutableFields struct {
	ClaudeVersion    *string
	LastVersionCheck *int64
	LastIdleCheck    *int64
}

// Store manages Lock files under dir.
type Store struct {
	dir string
	now func() time.Time
}

// New returns a Store rooted at dir.
func New(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

func (s *Store) path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".lock")
}

// GetOrCreate returns the existing lock for sessionID unchanged, or
// creates a new one with the given immutable tuple if none exists.
// sessionID must already be sanitized; an invalid id is rejected here
// as a second boundary check.
func (s *Store) GetOrCreate(sessionID, slotID, configDir, keychainService, email, transcriptPath, tmux string) (*Lock, error) {
	if !validSessionID.MatchString(sessionID) {
		return nil, fmt.Errorf("sessionlock: invalid session id %q", sessionID)
	}

	existing := atomicfile.ReadOrDefault[*Lock](s.path(sessionID), nil)
	if existing != nil {
		return existing, nil
	}

	now := s.now().UnixMilli()
	lock := &Lock{
		SessionID:       sessionID,
		LaunchedAt:      now,
		SlotID:          slotID,
		ConfigDir:       configDir,
		KeychainService: keychainService,
		Email:           email,
		TranscriptPath:  transcriptPath,
		Tmux:            tmux,
		UpdatedAt:       now,
		LockFileVersion: 1,
	}
	if err := atomicfile.WriteJSON(s.path(sessionID), lock); err != nil {
		return nil, fmt.Errorf("sessionlock: create %s: %w", sessionID, err)
	}
	return lock, nil
}

// Update reads the current lock, merges only the whitelisted mutable
// fields, bumps UpdatedAt, and writes the result back atomically. It
// is a no-op (returns nil, nil) if no lock exists yet for sessionID.
func (s *Store) Update(sessionID string, fields MutableFields) (*Lock, error) {
	if !validSessionID.MatchString(sessionID) {
		return nil, fmt.Errorf("sessionlock: invalid session id %q", sessionID)
	}

	lock := atomicfile.ReadOrDefault[*Lock](s.path(sessionID), nil)
	if lock == nil {
		return nil, nil
	}

	if fields.ClaudeVersion != nil {
		lock.ClaudeVersion = *fields.ClaudeVersion
	}
	if fields.LastVersionCheck != nil {
		lock.LastVersionCheck = *fields.LastVersionCheck
	}
	if fields.LastIdleCheck != nil {
		lock.LastIdleCheck = *fields.LastIdleCheck
	}
	lock.UpdatedAt = s.now().UnixMilli()

	if err := atomicfile.WriteJSON(s.path(sessionID), lock); err != nil {
		return nil, fmt.Errorf("sessionlock: update %s: %w", sessionID, err)
	}
	return lock, nil
}

// Abandoned reports whether sessionID's lock has not been updated in
// more than maxAge; the caller (CleanupSweeper) uses this to decide
// whether to remove it.
func (s *Store) Abandoned(sessionID string, maxAge time.Duration) bool {
	lock := atomicfile.ReadOrDefault[*Lock](s.path(sessionID), nil)
	if lock == nil {
		return false
	}
	return s.now().Sub(time.UnixMilli(lock.UpdatedAt)) > maxAge
}
