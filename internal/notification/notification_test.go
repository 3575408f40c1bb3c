package notification

import (
	"testing"
	"time"
)

func newTestStore(t *testing.T, now time.Time) (*Store, *time.Time) {
	t.Helper()
	clock := now
	s := New(t.TempDir())
	s.now = func() time.Time { return clock }
	return s, &clock
}

func TestRegisterThenActivateDueShowsImmediately(t *testing.T) {
	s, _ := newTestStore(t, time.Now())
	if err := s.Register(TypeVersionUpdate, "new version available", 5); err != nil {
		t.Fatalf("Register: %v", err)
	}

	active, err := s.ActivateDue()
	if err != nil {
		t.Fatalf("ActivateDue: %v", err)
	}
	if len(active) != 1 || active[0].Type != TypeVersionUpdate {
		t.Fatalf("expected version_update active, got %+v", active)
	}
	if active[0].ShowCount != 1 {
		t.Errorf("ShowCount = %d, want 1", active[0].ShowCount)
	}
}

func TestCyclePhaseTransitions(t *testing.T) {
	s, clock := newTestStore(t, time.Now())
	if err := s.Register(TypeSlotSwitch, "slot switched", 3); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := s.ActivateDue(); err != nil {
		t.Fatalf("ActivateDue: %v", err)
	}

	// Still within the 30s show window.
	*clock = clock.Add(10 * time.Second)
	active := s.GetActive()
	if len(active) != 1 {
		t.Fatalf("expected still showing at +10s, got %d active", len(active))
	}

	// Past show window, within hide window: suppressed.
	*clock = clock.Add(40 * time.Second)
	active = s.GetActive()
	if len(active) != 0 {
		t.Fatalf("expected hidden at +50s total, got %d active", len(active))
	}

	// Past hide window: ready to show again, but GetActive alone does not
	// re-trigger a show cycle.
	*clock = clock.Add(5 * time.Minute)
	active = s.GetActive()
	if len(active) != 0 {
		t.Fatalf("GetActive should not auto-activate ready records, got %d", len(active))
	}

	active, err := s.ActivateDue()
	if err != nil {
		t.Fatalf("ActivateDue: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected ActivateDue to re-show the ready record, got %d", len(active))
	}
	if active[0].ShowCount != 2 {
		t.Errorf("ShowCount = %d, want 2 after second show cycle", active[0].ShowCount)
	}
}

func TestRecordShownNoOpWithinSameShowCycle(t *testing.T) {
	s, clock := newTestStore(t, time.Now())
	_ = s.Register(TypeRestartReady, "restart ready", 8)
	if _, err := s.ActivateDue(); err != nil {
		t.Fatalf("ActivateDue: %v", err)
	}

	*clock = clock.Add(5 * time.Second)
	if err := s.RecordShown(TypeRestartReady); err != nil {
		t.Fatalf("RecordShown: %v", err)
	}

	f := s.load()
	if f.Records[TypeRestartReady].ShowCount != 1 {
		t.Errorf("RecordShown within the same show cycle should not bump ShowCount again")
	}
}

func TestGetActiveSortsByPriorityDescending(t *testing.T) {
	s, _ := newTestStore(t, time.Now())
	_ = s.Register(TypeSlotSwitch, "low", 2)
	_ = s.Register(TypeVersionUpdate, "high", 9)
	_ = s.Register(TypeRestartReady, "mid", 5)
	active, err := s.ActivateDue()
	if err != nil {
		t.Fatalf("ActivateDue: %v", err)
	}
	if len(active) != 3 {
		t.Fatalf("expected 3 active, got %d", len(active))
	}
	if active[0].Type != TypeVersionUpdate || active[1].Type != TypeRestartReady || active[2].Type != TypeSlotSwitch {
		t.Errorf("unexpected priority order: %+v", active)
	}
}

func TestDismissExcludesFromActive(t *testing.T) {
	s, _ := newTestStore(t, time.Now())
	_ = s.Register(TypeVersionUpdate, "new version", 5)
	_, _ = s.ActivateDue()

	if err := s.Dismiss(TypeVersionUpdate); err != nil {
		t.Fatalf("Dismiss: %v", err)
	}
	active := s.GetActive()
	if len(active) != 0 {
		t.Errorf("expected dismissed record excluded from GetActive, got %d", len(active))
	}
}

func TestRegisterClearsDismissed(t *testing.T) {
	s, _ := newTestStore(t, time.Now())
	_ = s.Register(TypeVersionUpdate, "v1", 5)
	_ = s.Dismiss(TypeVersionUpdate)

	_ = s.Register(TypeVersionUpdate, "v2", 5)
	f := s.load()
	if f.Records[TypeVersionUpdate].Dismissed {
		t.Errorf("re-registering should clear dismissed")
	}
}

func TestCleanupRemovesOldDismissedEntries(t *testing.T) {
	s, clock := newTestStore(t, time.Now())
	_ = s.Register(TypeSlotSwitch, "old", 1)
	_ = s.Dismiss(TypeSlotSwitch)

	*clock = clock.Add(25 * time.Hour)
	if err := s.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	f := s.load()
	if _, ok := f.Records[TypeSlotSwitch]; ok {
		t.Errorf("expected old dismissed record removed by Cleanup")
	}
}

func TestCleanupKeepsRecentDismissedEntries(t *testing.T) {
	s, clock := newTestStore(t, time.Now())
	_ = s.Register(TypeSlotSwitch, "recent", 1)
	_ = s.Dismiss(TypeSlotSwitch)

	*clock = clock.Add(1 * time.Hour)
	if err := s.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	f := s.load()
	if _, ok := f.Records[TypeSlotSwitch]; !ok {
		t.Errorf("recent dismissed record should survive cleanup")
	}
}

func TestPriorityClamped(t *testing.T) {
	s, _ := newTestStore(t, time.Now())
	_ = s.Register(TypeVersionUpdate, "x", 50)
	_ = s.Register(TypeSlotSwitch, "y", -3)

	f := s.load()
	if f.Records[TypeVersionUpdate].Priority != 10 {
		t.Errorf("expected priority clamped to 10, got %d", f.Records[TypeVersionUpdate].Priority)
	}
	if f.Records[TypeSlotSwitch].Priority != 1 {
		t.Errorf("expected priority clamped to 1, got %d", f.Records[TypeSlotSwitch].Priority)
	}
}
