// Package globalcache is the single shared cache for Tier-3 data: the
// one file every session-gathering process on the host reads and
// writes through. A short-lived in-memory layer sits in front of the
// file so that N gathers started within the same second don't each
// pay a filesystem round trip; the file itself is still the source of
// truth, and writes always bypass the memory layer.
package globalcache

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/vladimir-ks/statusline-broker/internal/atomicfile"
)

const (
	schemaVersion = 2
	memoryTTL     = 10 * time.Second
)

// Entry is one source's cached payload: spec.md §3 GlobalDataCache value.
type Entry struct {
	Data       any    `json:"data"`
	FetchedAt  int64  `json:"fetchedAt"` // epoch ms
	FetchedBy  int    `json:"fetchedBy"` // pid
}

// Snapshot is the on-disk shape of data-cache.json.
type Snapshot struct {
	Version   int              `json:"version"`
	Entries   map[string]Entry `json:"entries"`
	UpdatedAt int64            `json:"updatedAt"`
}

func emptySnapshot() Snapshot {
	return Snapshot{Version: schemaVersion, Entries: map[string]Entry{}}
}

// Store is the GlobalDataCache described in spec.md §3/§4.6.
type Store struct {
	path string

	mu        sync.Mutex
	memo      Snapshot
	memoAt    time.Time
	hasMemo   bool
}

// New returns a Store backed by <dir>/data-cache.json.
func New(dir string) *Store {
	return &Store{path: filepath.Join(dir, "data-cache.json")}
}

// Read returns the merged view of the cache, served from the 10s
// in-memory layer when it is still warm.
func (s *Store) Read() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasMemo && time.Since(s.memoAt) < memoryTTL {
		return s.memo
	}

	snap := s.readFromDisk()
	s.memo = snap
	s.memoAt = time.Now()
	s.hasMemo = true
	return snap
}

func (s *Store) readFromDisk() Snapshot {
	return atomicfile.ReadOrDefault(s.path, emptySnapshot())
}

// Update reads the latest snapshot directly from disk (bypassing the
// memory layer, since a concurrent writer may have changed it since
// this process last read), merges in entries, bumps UpdatedAt, writes
// atomically, and invalidates the memory layer so the next Read
// re-observes the file.
func (s *Store) Update(entries map[string]Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.readFromDisk()
	if snap.Entries == nil {
		snap.Entries = map[string]Entry{}
	}
	for id, e := range entries {
		snap.Entries[id] = e
	}
	snap.Version = schemaVersion
	snap.UpdatedAt = time.Now().UnixMilli()

	if err := atomicfile.WriteJSON(s.path, snap); err != nil {
		return err
	}

	s.hasMemo = false
	return nil
}

// GetSourceAge returns the age of sourceId's entry, or an effectively
// infinite duration if the source has never been fetched.
func (s *Store) GetSourceAge(sourceID string) time.Duration {
	snap := s.Read()
	entry, ok := snap.Entries[sourceID]
	if !ok || entry.FetchedAt <= 0 {
		return time.Duration(1<<62 - 1)
	}
	return time.Since(time.UnixMilli(entry.FetchedAt))
}
