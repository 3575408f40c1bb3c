package formatter

import (
	"strings"
	"testing"
	"time"

	"github.com/vladimir-ks/statusline-broker/internal/health"
)

func sampleHealth() *health.SessionHealth {
	h := health.New(time.Now(), nil)
	h.Identity.ProjectPath = "/home/user/project"
	h.Status = health.StatusHealthy
	h.Model.Value = "claude-sonnet-4"
	h.Context = health.Context{TokensUsed: 50000, WindowSize: 200000, TokensLeft: 106000, PercentUsed: 32}
	h.Git = health.Git{Branch: "main", Ahead: 2, Dirty: true}
	h.Billing.CostToday = 3.45
	h.Billing.BudgetRemainingMin = 45
	h.Billing.BurnRatePerHour = 1.2
	h.Transcript.LastMessage = "implementing the new formatter"
	h.Transcript.LastModified = time.Now().Add(-90 * time.Second)
	return &h
}

func TestMaterializeProducesAllWidthClasses(t *testing.T) {
	out := Materialize(sampleHealth())
	for _, w := range []string{"40", "60", "80", "100", "120", "150", "200", "single"} {
		if _, ok := out[w]; !ok {
			t.Errorf("missing width class %q in output", w)
		}
	}
}

func TestNarrowClassesRespectEffectiveWidth(t *testing.T) {
	out := Materialize(sampleHealth())
	for _, w := range []int{40, 60, 80} {
		lines := out[itoa(w)]
		eff := effectiveWidth(w)
		for _, l := range lines {
			if VisibleWidth(l) > eff {
				t.Errorf("width class %d: line %q exceeds effective width %d (visible=%d)", w, l, eff, VisibleWidth(l))
			}
		}
	}
}

func TestSingleLineVariantIsOneLine(t *testing.T) {
	out := Materialize(sampleHealth())
	if len(out["single"]) != 1 {
		t.Fatalf("expected single-line variant to produce exactly one line, got %d", len(out["single"]))
	}
}

func TestCollapseHome(t *testing.T) {
	// Only verifies the "/" prefix form; a sandboxed UserHomeDir value
	// may not match the literal path, so this checks the no-match path
	// leaves the string untouched rather than asserting a specific home.
	got := collapseHome("/definitely/not/a/home/dir")
	if got != "/definitely/not/a/home/dir" {
		t.Errorf("collapseHome altered a path outside the home directory: %q", got)
	}
}

func TestGitFragmentOmitsZeroCounters(t *testing.T) {
	h := sampleHealth()
	h.Git = health.Git{Branch: "feature/x"}
	frag := gitFragment(h, 30)
	if strings.Contains(frag, "+") || strings.Contains(frag, "-") || strings.Contains(frag, "*") {
		t.Errorf("expected no ahead/behind/dirty markers for a clean branch, got %q", frag)
	}
}

func TestGitFragmentTruncatesLongBranch(t *testing.T) {
	h := sampleHealth()
	h.Git = health.Git{Branch: "a-very-long-branch-name-that-exceeds-limits"}
	frag := gitFragment(h, 15)
	if VisibleWidth(strings.TrimRight(frag, " +-*0123456789")) > 15 {
		t.Errorf("expected branch portion truncated to 15 cols, got %q", frag)
	}
}

func TestAbbreviateModel(t *testing.T) {
	cases := map[string]string{
		"claude-opus-4":   "o-",
		"claude-sonnet-4": "s-",
		"claude-haiku-4":  "h-",
	}
	for in, want := range cases {
		if got := abbreviateModel(in); got != want {
			t.Errorf("abbreviateModel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBudgetFragmentAgeAdjusts(t *testing.T) {
	h := sampleHealth()
	h.Billing.BudgetRemainingMin = 20
	h.Billing.LastFetched = time.Now().Add(-5 * time.Minute)
	frag := budgetFragment(h)
	if !strings.Contains(frag, "budget 15m") {
		t.Errorf("expected age-adjusted budget of ~15m, got %q", frag)
	}
}

func TestBudgetFragmentEscalatesWhenAgeExceedsRaw(t *testing.T) {
	h := sampleHealth()
	h.Billing.BudgetRemainingMin = 20
	h.Billing.LastFetched = time.Now().Add(-25 * time.Minute)
	frag := budgetFragment(h)
	if !strings.Contains(frag, "‼") {
		t.Errorf("expected escalated double-warning marker, got %q", frag)
	}
	if !strings.Contains(frag, "budget 20m") {
		t.Errorf("expected raw value shown on escalation, got %q", frag)
	}
}

func TestVisibleWidthStripsAnsiAndCountsEmojiDouble(t *testing.T) {
	plain := VisibleWidth("abc")
	colored := VisibleWidth("\x1b[31mabc\x1b[0m")
	if plain != colored {
		t.Errorf("ANSI escapes should not affect visible width: %d vs %d", plain, colored)
	}
	if VisibleWidth("🔺") < 2 {
		t.Errorf("expected emoji to occupy at least 2 columns")
	}
}

func TestLastMessageLineReplacesAgeFormat(t *testing.T) {
	h := sampleHealth()
	line := lastMessageLine(h, 200)
	if !strings.Contains(line, "ago") {
		t.Errorf("expected age annotation in last message line, got %q", line)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}
