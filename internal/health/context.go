package health

const (
	defaultWindowSize   = 200_000
	minWindowSize       = 10_000
	maxWindowSize       = 500_000
	compactionThreshold = 0.78
)

// ComputeContext implements spec.md invariants 2 and 3: windowSize
// outside [10_000, 500_000] is replaced by the default; tokensUsed
// beyond 1.5x windowSize is clamped to windowSize; tokensLeft and
// percentUsed are derived from the 78% compaction threshold.
func ComputeContext(windowSize, tokensUsed int) Context {
	if windowSize < minWindowSize || windowSize > maxWindowSize {
		windowSize = defaultWindowSize
	}

	if tokensUsed > int(float64(windowSize)*1.5) {
		tokensUsed = windowSize
	}
	if tokensUsed < 0 {
		tokensUsed = 0
	}

	threshold := int(float64(windowSize) * compactionThreshold)

	tokensLeft := threshold - tokensUsed
	if tokensLeft < 0 {
		tokensLeft = 0
	}

	percentUsed := 0
	if threshold > 0 {
		percentUsed = tokensUsed * 100 / threshold
		if percentUsed > 100 {
			percentUsed = 100
		}
	}

	return Context{
		TokensUsed:     tokensUsed,
		WindowSize:     windowSize,
		TokensLeft:     tokensLeft,
		PercentUsed:    percentUsed,
		NearCompaction: percentUsed >= 70,
	}
}
