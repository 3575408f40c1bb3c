// Package notification implements NotificationStore, spec.md §4.12: a
// per-type display cycle (show 30s, hide 5min, repeat) backed by a
// single JSON file under the session's state directory.
package notification

import (
	"path/filepath"
	"sort"
	"time"

	"github.com/vladimir-ks/statusline-broker/internal/atomicfile"
)

// Type enumerates the notification kinds the broker ever emits.
type Type string

const (
	TypeVersionUpdate Type = "version_update"
	TypeSlotSwitch    Type = "slot_switch"
	TypeRestartReady  Type = "restart_ready"
)

const (
	showWindow    = 30 * time.Second
	hideWindow    = 5 * time.Minute
	cycleLength   = showWindow + hideWindow
	dismissedTTL  = 24 * time.Hour
	storeFileName = "notifications.json"
)

// Record is one NotificationRecord, spec.md §3.
type Record struct {
	Type       Type      `json:"type"`
	Message    string    `json:"message"`
	Priority   int       `json:"priority"` // 1-10
	CreatedAt  time.Time `json:"createdAt"`
	LastShownAt time.Time `json:"lastShownAt,omitempty"`
	ShowCount  int       `json:"showCount"`
	Dismissed  bool      `json:"dismissed"`
}

type fileFormat struct {
	Records map[Type]Record `json:"records"`
}

// Store manages notifications.json within dir.
type Store struct {
	path string
	now  func() time.Time
}

// New returns a Store rooted at dir.
func New(dir string) *Store {
	return &Store{path: filepath.Join(dir, storeFileName), now: time.Now}
}

func (s *Store) load() fileFormat {
	f := atomicfile.ReadOrDefault(s.path, fileFormat{})
	if f.Records == nil {
		f.Records = make(map[Type]Record)
	}
	return f
}

func (s *Store) save(f fileFormat) error {
	return atomicfile.WriteJSON(s.path, f)
}

// Register upserts a notification of typ, clearing any prior dismissal.
// Priority is clamped to [1, 10].
func (s *Store) Register(typ Type, message string, priority int) error {
	if priority < 1 {
		priority = 1
	}
	if priority > 10 {
		priority = 10
	}

	f := s.load()
	rec, existed := f.Records[typ]
	if !existed {
		rec = Record{CreatedAt: s.now()}
	}
	rec.Type = typ
	rec.Message = message
	rec.Priority = priority
	rec.Dismissed = false
	f.Records[typ] = rec
	return s.save(f)
}

// cyclePhase classifies where rec sits in the show/hide cycle relative
// to now, per spec.md §4.12.
type cyclePhase int

const (
	phaseReadyToShow cyclePhase = iota
	phaseShowing
	phaseHiding
)

func (rec Record) phase(now time.Time) cyclePhase {
	if rec.LastShownAt.IsZero() {
		return phaseReadyToShow
	}
	elapsed := now.Sub(rec.LastShownAt)
	switch {
	case elapsed < showWindow:
		return phaseShowing
	case elapsed < cycleLength:
		return phaseHiding
	default:
		return phaseReadyToShow
	}
}

// RecordShown updates lastShownAt and increments showCount, but only
// when typ is transitioning into a new show cycle (i.e. it was not
// already in the "showing" phase).
func (s *Store) RecordShown(typ Type) error {
	f := s.load()
	rec, ok := f.Records[typ]
	if !ok {
		return nil
	}

	now := s.now()
	if rec.phase(now) == phaseShowing {
		return nil
	}

	rec.LastShownAt = now
	rec.ShowCount++
	f.Records[typ] = rec
	return s.save(f)
}

// Dismiss marks typ dismissed so it is excluded from GetActive until
// re-registered.
func (s *Store) Dismiss(typ Type) error {
	f := s.load()
	rec, ok := f.Records[typ]
	if !ok {
		return nil
	}
	rec.Dismissed = true
	f.Records[typ] = rec
	return s.save(f)
}

// GetActive returns non-dismissed notifications currently in their show
// phase, sorted by priority descending (ties broken by type name for
// determinism).
func (s *Store) GetActive() []Record {
	f := s.load()
	now := s.now()

	var active []Record
	for _, rec := range f.Records {
		if rec.Dismissed {
			continue
		}
		if rec.phase(now) != phaseShowing {
			continue
		}
		active = append(active, rec)
	}

	sort.Slice(active, func(i, j int) bool {
		if active[i].Priority != active[j].Priority {
			return active[i].Priority > active[j].Priority
		}
		return active[i].Type < active[j].Type
	})
	return active
}

// ActivateDue transitions any non-dismissed, ready-to-show records into
// their show cycle (recording them as shown) and returns the full set
// of records now in their showing phase, sorted by priority descending.
// This is what the broker calls once per gather to decide which
// notifications belong in this invocation's output.
func (s *Store) ActivateDue() ([]Record, error) {
	f := s.load()
	now := s.now()

	changed := false
	for typ, rec := range f.Records {
		if rec.Dismissed {
			continue
		}
		if rec.phase(now) == phaseReadyToShow {
			rec.LastShownAt = now
			rec.ShowCount++
			f.Records[typ] = rec
			changed = true
		}
	}
	if changed {
		if err := s.save(f); err != nil {
			return nil, err
		}
	}

	return s.GetActive(), nil
}

// Cleanup removes dismissed entries older than 24 hours.
func (s *Store) Cleanup() error {
	f := s.load()
	now := s.now()

	changed := false
	for typ, rec := range f.Records {
		if rec.Dismissed && now.Sub(rec.CreatedAt) > dismissedTTL {
			delete(f.Records, typ)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.save(f)
}
