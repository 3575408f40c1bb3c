package refreshintent

import "github.com/vladimir-ks/statusline-broker/internal/freshness"

// AcquireResult is the outcome of a single tryAcquire call.
type AcquireResult struct {
	Acquired bool
	Reason   string // "already_in_progress" when Acquired is false
}

// SingleFlight coalesces concurrent refresh attempts across processes
// into at most one actual fetch per category, using Store as its
// coordination primitive.
type SingleFlight struct {
	store *Store
}

// NewSingleFlight wraps store in single-flight semantics.
func NewSingleFlight(store *Store) *SingleFlight {
	return &SingleFlight{store: store}
}

// TryAcquire signals intent for cat, then checks whether another live
// process already holds the in-progress claim. If not, it claims it
// for the caller.
func (sf *SingleFlight) TryAcquire(cat freshness.Category) AcquireResult {
	_ = sf.store.SignalRefreshNeeded(cat)

	if sf.store.IsRefreshInProgress(cat) {
		return AcquireResult{Acquired: false, Reason: "already_in_progress"}
	}

	if err := sf.store.SignalRefreshInProgress(cat); err != nil {
		return AcquireResult{Acquired: false, Reason: "signal_failed"}
	}
	return AcquireResult{Acquired: true}
}

// Release clears the in-progress claim for cat. On success it also
// clears the intent (the data is now fresh); on failure it leaves the
// intent in place so the next process retries.
func (sf *SingleFlight) Release(cat freshness.Category, success bool) {
	if success {
		sf.store.ClearIntent(cat)
		return
	}
	sf.store.ClearInProgress(cat)
}

// TryAcquireMany returns the subset of cats this process successfully
// acquired. The caller owns releasing exactly that subset.
func (sf *SingleFlight) TryAcquireMany(cats []freshness.Category) []freshness.Category {
	acquired := make([]freshness.Category, 0, len(cats))
	for _, cat := range cats {
		if sf.TryAcquire(cat).Acquired {
			acquired = append(acquired, cat)
		}
	}
	return acquired
}
