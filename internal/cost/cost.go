// Package cost implements the local, transcript-derived cost
// calculator described in spec.md §4.10: a fallback for when the
// external billing source is unavailable, since parsing the transcript
// is local and always fresh.
package cost

import (
	"strings"
	"time"
)

// Pricing is one model's per-million-token rates, in USD.
type Pricing struct {
	Model       string
	InputPerM   float64
	OutputPerM  float64
}

// table is the static per-model pricing table. Entries are checked in
// order: exact id match, then substring match on family keyword; the
// last entry is the default used when nothing else matches, and it is
// deliberately the highest-priced entry so an unrecognized model never
// silently under-counts spend.
var table = []Pricing{
	{Model: "claude-haiku", InputPerM: 0.80, OutputPerM: 4.00},
	{Model: "claude-sonnet", InputPerM: 3.00, OutputPerM: 15.00},
	{Model: "claude-opus", InputPerM: 15.00, OutputPerM: 75.00},
}

var defaultPricing = table[len(table)-1]

// ResolvePricing finds the pricing entry for modelID: exact match
// first, then substring-on-family-keyword, then the default.
func ResolvePricing(modelID string) Pricing {
	lower := strings.ToLower(modelID)
	for _, p := range table {
		if lower == p.Model {
			return p
		}
	}
	for _, p := range table {
		if strings.Contains(lower, p.Model) || strings.Contains(lower, strings.TrimPrefix(p.Model, "claude-")) {
			return p
		}
	}
	return defaultPricing
}

// Usage is one assistant message's token usage block.
type Usage struct {
	InputTokens             int
	OutputTokens            int
	CacheCreationInputTokens int
	CacheReadInputTokens    int
}

func clampNonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// MessageCost computes the cost of one usage block against a model's
// pricing, per spec.md §4.10's formula. Cache-creation tokens are
// priced at 1.25x the input rate; cache-read tokens at 0.10x.
func MessageCost(u Usage, p Pricing) float64 {
	in := float64(clampNonNegative(u.InputTokens))
	out := float64(clampNonNegative(u.OutputTokens))
	cacheCreate := float64(clampNonNegative(u.CacheCreationInputTokens))
	cacheRead := float64(clampNonNegative(u.CacheReadInputTokens))

	return in*p.InputPerM/1e6 +
		out*p.OutputPerM/1e6 +
		cacheCreate*p.InputPerM*1.25/1e6 +
		cacheRead*p.InputPerM*0.10/1e6
}

// Totals aggregates cost across an entire transcript.
type Totals struct {
	TotalCost       float64
	TotalTokens     int64
	FirstTimestamp  time.Time
	LastTimestamp   time.Time
	MessageCount    int
}

// CostPerHour derives an hourly burn rate from t's span, or 0 if the
// span is under a minute (too short a sample to be meaningful).
func (t Totals) CostPerHour() float64 {
	d := t.duration()
	if d < time.Minute {
		return 0
	}
	return t.TotalCost / d.Hours()
}

// TokensPerMinute derives a token burn rate from t's span, or 0 if the
// span is under a minute.
func (t Totals) TokensPerMinute() float64 {
	d := t.duration()
	if d < time.Minute {
		return 0
	}
	return float64(t.TotalTokens) / d.Minutes()
}

func (t Totals) duration() time.Duration {
	if t.FirstTimestamp.IsZero() || t.LastTimestamp.IsZero() {
		return 0
	}
	return t.LastTimestamp.Sub(t.FirstTimestamp)
}

// Calculator accumulates Totals across a stream of assistant messages.
type Calculator struct {
	totals Totals
}

// NewCalculator returns an empty Calculator.
func NewCalculator() *Calculator {
	return &Calculator{}
}

// AddMessage folds one assistant message's usage into the running
// totals, resolving pricing from modelID.
func (c *Calculator) AddMessage(modelID string, u Usage, ts time.Time) {
	p := ResolvePricing(modelID)
	c.totals.TotalCost += MessageCost(u, p)
	c.totals.TotalTokens += int64(clampNonNegative(u.InputTokens)) +
		int64(clampNonNegative(u.OutputTokens)) +
		int64(clampNonNegative(u.CacheCreationInputTokens)) +
		int64(clampNonNegative(u.CacheReadInputTokens))
	c.totals.MessageCount++

	if ts.IsZero() {
		return
	}
	if c.totals.FirstTimestamp.IsZero() || ts.Before(c.totals.FirstTimestamp) {
		c.totals.FirstTimestamp = ts
	}
	if ts.After(c.totals.LastTimestamp) {
		c.totals.LastTimestamp = ts
	}
}

// Totals returns the accumulated totals.
func (c *Calculator) Totals() Totals {
	return c.totals
}
