package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vladimir-ks/statusline-broker/internal/freshness"
	"github.com/vladimir-ks/statusline-broker/internal/health"
	"github.com/vladimir-ks/statusline-broker/internal/registry"
)

// readJSONFile reads and decodes path into T, returning an error (never
// swallowed, unlike atomicfile.ReadOrDefault) so a Tier-3 Fetch can
// report "this source failed" distinctly from "this source succeeded
// with zero values" — the distinction the FreshnessAuthority's cooldown
// depends on.
func readJSONFile[T any](path string) (T, error) {
	var out T
	data, err := os.ReadFile(path) // #nosec G304 - path is a fixed filename under the configured base dir
	if err != nil {
		return out, fmt.Errorf("sources: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("sources: parse %s: %w", path, err)
	}
	return out, nil
}

// billingFile is the schema of merged-quota-cache.json, spec.md §6: a
// read-through cache the external hot-swap account manager maintains.
// This descriptor's "fetch" is reading and validating that file, not a
// network call — the real billing/quota network clients are explicitly
// out of scope (spec.md §1) and modeled only at this filesystem
// interface.
type billingFile struct {
	CostToday          float64   `json:"costToday"`
	SessionCost        float64   `json:"sessionCost"`
	BurnRatePerHour    float64   `json:"burnRatePerHour"`
	BudgetRemainingMin float64   `json:"budgetRemainingMinutes"`
	BudgetPercentUsed  int       `json:"budgetPercentUsed"`
	ResetTime          time.Time `json:"resetTime"`
	TotalTokens        int64     `json:"totalTokens"`
	TokensPerMinute    float64   `json:"tokensPerMinute"`
}

func (b billingFile) valid() bool {
	return b.CostToday >= 0 && b.BudgetPercentUsed >= 0 && b.BudgetPercentUsed <= 100
}

// billingDescriptor is the primary billing source: Tier-3, single-flight
// coordinated, cached in GlobalDataCache so the 10-30 sessions on a host
// share one read-and-validate pass per freshness window instead of each
// re-parsing the file. internal/sources/tier2.go's local-cost descriptor
// is the fallback this one overrides on success, per spec.md §4.13's
// primary/secondary merge rule.
func billingDescriptor(d Deps) registry.Descriptor {
	path := filepath.Join(d.BaseDir, "merged-quota-cache.json")
	return registry.Descriptor{
		ID:        "billing",
		Tier:      registry.Tier3,
		Category:  freshness.CategoryBilling,
		TimeoutMs: int64(tier3Timeout / time.Millisecond),
		UsesCache: true,
		Fetch: func(_ context.Context, _ registry.GatherContext) (any, error) {
			b, err := readJSONFile[billingFile](path)
			if err != nil {
				return nil, err
			}
			if !b.valid() {
				return nil, fmt.Errorf("sources: %s failed validation", path)
			}
			return b, nil
		},
		Merge: func(h *health.SessionHealth, data any) {
			b, ok := decodeAny[billingFile](data)
			if !ok {
				return
			}
			h.Billing.CostToday = b.CostToday
			h.Billing.SessionCost = b.SessionCost
			h.Billing.BurnRatePerHour = b.BurnRatePerHour
			h.Billing.BudgetRemainingMin = b.BudgetRemainingMin
			h.Billing.BudgetPercentUsed = b.BudgetPercentUsed
			h.Billing.ResetTime = b.ResetTime
			h.Billing.TotalTokens = b.TotalTokens
			h.Billing.TokensPerMinute = b.TokensPerMinute
			h.Billing.LastFetched = time.Now()
		},
	}
}

// weeklyFile is the schema of hot-swap-quota.json, spec.md §6.
type weeklyFile struct {
	Percent      int       `json:"weeklyPercent"`
	RemainingHrs float64   `json:"weeklyRemainingHours"`
	ResetDay     string    `json:"weeklyResetDay"`
	LastModified time.Time `json:"lastModified"`
}

func (w weeklyFile) valid() bool {
	return w.Percent >= 0 && w.Percent <= 100
}

// weeklyQuotaDescriptor is the optional weekly-budget sub-block,
// independently fresh/stale from the daily billing descriptor (spec.md
// §4.3's weekly-quota category has its own, much longer, critical
// window: 24h vs billing's 10 minutes).
func weeklyQuotaDescriptor(d Deps) registry.Descriptor {
	path := filepath.Join(d.BaseDir, "hot-swap-quota.json")
	return registry.Descriptor{
		ID:        "weekly-quota",
		Tier:      registry.Tier3,
		Category:  freshness.CategoryWeeklyQuota,
		TimeoutMs: int64(tier3Timeout / time.Millisecond),
		UsesCache: true,
		Fetch: func(_ context.Context, _ registry.GatherContext) (any, error) {
			w, err := readJSONFile[weeklyFile](path)
			if err != nil {
				return nil, err
			}
			if !w.valid() {
				return nil, fmt.Errorf("sources: %s failed validation", path)
			}
			return w, nil
		},
		Merge: func(h *health.SessionHealth, data any) {
			w, ok := decodeAny[weeklyFile](data)
			if !ok {
				return
			}
			h.Billing.Weekly = &health.Weekly{
				Percent:      w.Percent,
				RemainingHrs: w.RemainingHrs,
				ResetDay:     w.ResetDay,
				LastModified: w.LastModified,
				Stale:        !freshness.IsFresh(w.LastModified, freshness.CategoryWeeklyQuota),
			}
		},
	}
}
