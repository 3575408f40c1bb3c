package globalcache

import (
	"testing"
	"time"
)

func TestUpdateThenRead(t *testing.T) {
	s := New(t.TempDir())

	err := s.Update(map[string]Entry{
		"billing_ccusage": {Data: map[string]any{"cost": 1.5}, FetchedAt: time.Now().UnixMilli(), FetchedBy: 1234},
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	snap := s.Read()
	if snap.Version != schemaVersion {
		t.Errorf("Version = %d, want %d", snap.Version, schemaVersion)
	}
	entry, ok := snap.Entries["billing_ccusage"]
	if !ok {
		t.Fatalf("expected entry to be present")
	}
	if entry.FetchedBy != 1234 {
		t.Errorf("FetchedBy = %d, want 1234", entry.FetchedBy)
	}
}

func TestReadEmptyReturnsEmptyShape(t *testing.T) {
	s := New(t.TempDir())
	snap := s.Read()
	if snap.Entries == nil {
		t.Errorf("expected non-nil empty entries map")
	}
	if len(snap.Entries) != 0 {
		t.Errorf("expected empty entries, got %v", snap.Entries)
	}
}

func TestGetSourceAgeMissingIsInfinite(t *testing.T) {
	s := New(t.TempDir())
	age := s.GetSourceAge("never-fetched")
	if age < 365*24*time.Hour {
		t.Errorf("expected a very large age, got %v", age)
	}
}

func TestUpdateMergesRatherThanReplaces(t *testing.T) {
	s := New(t.TempDir())
	if err := s.Update(map[string]Entry{"a": {FetchedAt: 1}}); err != nil {
		t.Fatalf("Update a: %v", err)
	}
	if err := s.Update(map[string]Entry{"b": {FetchedAt: 2}}); err != nil {
		t.Fatalf("Update b: %v", err)
	}

	snap := s.Read()
	if _, ok := snap.Entries["a"]; !ok {
		t.Errorf("expected entry 'a' to survive a later unrelated update")
	}
	if _, ok := snap.Entries["b"]; !ok {
		t.Errorf("expected entry 'b' present")
	}
}

func TestUpdateInvalidatesMemoryLayer(t *testing.T) {
	s := New(t.TempDir())
	if err := s.Update(map[string]Entry{"a": {FetchedAt: 1}}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	_ = s.Read() // warms the memo

	if err := s.Update(map[string]Entry{"b": {FetchedAt: 2}}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	snap := s.Read()
	if _, ok := snap.Entries["b"]; !ok {
		t.Errorf("expected fresh read to see the second update, got %v", snap.Entries)
	}
}
