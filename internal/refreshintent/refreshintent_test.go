package refreshintent

import (
	"os"
	"sync"
	"testing"

	"github.com/vladimir-ks/statusline-broker/internal/freshness"
)

func TestSignalAndClearIntent(t *testing.T) {
	s := New(t.TempDir())
	const cat = freshness.CategoryGit

	if _, ok := s.IntentAge(cat); ok {
		t.Fatalf("expected no intent initially")
	}

	if err := s.SignalRefreshNeeded(cat); err != nil {
		t.Fatalf("SignalRefreshNeeded: %v", err)
	}
	if _, ok := s.IntentAge(cat); !ok {
		t.Fatalf("expected intent to exist after signalling")
	}

	s.ClearIntent(cat)
	if _, ok := s.IntentAge(cat); ok {
		t.Fatalf("expected intent cleared")
	}
}

func TestIsRefreshInProgressDeadPIDExpires(t *testing.T) {
	s := New(t.TempDir())
	const cat = freshness.CategoryBilling

	// A PID that is very unlikely to be alive.
	if err := os.WriteFile(s.inProgressPath(cat), []byte("999999999"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if s.IsRefreshInProgress(cat) {
		t.Fatalf("expected dead PID to report not-in-progress")
	}
	if _, err := os.Stat(s.inProgressPath(cat)); !os.IsNotExist(err) {
		t.Fatalf("expected in-progress file to be removed after dead-PID probe")
	}
}

func TestIsRefreshInProgressLivePID(t *testing.T) {
	s := New(t.TempDir())
	const cat = freshness.CategoryBilling

	if err := s.SignalRefreshInProgress(cat); err != nil {
		t.Fatalf("SignalRefreshInProgress: %v", err)
	}
	if !s.IsRefreshInProgress(cat) {
		t.Fatalf("expected our own live PID to report in-progress")
	}
}

func TestSingleFlightExactlyOneAcquires(t *testing.T) {
	store := New(t.TempDir())
	sf := NewSingleFlight(store)
	const cat = freshness.CategoryBilling

	const n = 30
	results := make([]bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = sf.TryAcquire(cat).Acquired
		}(i)
	}
	wg.Wait()

	acquiredCount := 0
	for _, r := range results {
		if r {
			acquiredCount++
		}
	}
	if acquiredCount != 1 {
		t.Fatalf("expected exactly 1 acquire, got %d", acquiredCount)
	}

	sf.Release(cat, true)
	if !sf.TryAcquire(cat).Acquired {
		t.Fatalf("expected a caller to acquire again after release")
	}
}

func TestReleaseFailureLeavesIntent(t *testing.T) {
	store := New(t.TempDir())
	sf := NewSingleFlight(store)
	const cat = freshness.CategoryGit

	res := sf.TryAcquire(cat)
	if !res.Acquired {
		t.Fatalf("expected acquire to succeed")
	}
	sf.Release(cat, false)

	if _, ok := store.IntentAge(cat); !ok {
		t.Fatalf("expected intent to survive a failed release")
	}
	if store.IsRefreshInProgress(cat) {
		t.Fatalf("expected in-progress cleared after failed release")
	}
}

func TestTryAcquireManyReturnsOnlyAcquiredSubset(t *testing.T) {
	storeA := New(t.TempDir())
	dir := storeA.dir
	storeB := New(dir)
	sfA := NewSingleFlight(storeA)
	sfB := NewSingleFlight(storeB)

	cats := []freshness.Category{freshness.CategoryGit, freshness.CategoryBilling}
	gotA := sfA.TryAcquireMany(cats)
	if len(gotA) != 2 {
		t.Fatalf("expected sfA to acquire both, got %v", gotA)
	}

	gotB := sfB.TryAcquireMany(cats)
	if len(gotB) != 0 {
		t.Fatalf("expected sfB to acquire none while sfA holds them, got %v", gotB)
	}
}
