package durable

import (
	"strings"
	"testing"
	"time"

	"github.com/vladimir-ks/statusline-broker/internal/health"
)

func sampleHealth() *health.SessionHealth {
	h := health.New(time.Now(), nil)
	h.Identity.SessionID = "sess-1"
	h.Launch.AuthProfile = "default"
	h.Status = health.StatusWarning
	h.Issues = []string{"transcript stale", "billing unreachable"}
	h.Billing.CostToday = 1.2345
	h.Billing.SessionCost = 0.5
	h.Billing.BurnRatePerHour = 2.0
	h.Billing.Weekly = &health.Weekly{Percent: 42, RemainingHrs: 10.6, ResetDay: "Monday"}
	h.Transcript.MessageCount = 120
	h.Transcript.LastModified = time.Now()
	h.Model.Value = "claude-sonnet"
	h.Model.Confidence = 90
	h.Context.TokensUsed = 1000
	h.Context.WindowSize = 200000
	h.Git = health.Git{Branch: "main", Ahead: 1, Behind: 0, Dirty: true}
	h.Alerts.SecretsDetected = true
	return &h
}

func TestSerializeStampsHash(t *testing.T) {
	s := Serialize(sampleHealth(), 1234)
	if s.Hash == "" {
		t.Fatal("expected non-empty hash")
	}
	if s.AlertBitmask&AlertSecretsDetected == 0 {
		t.Errorf("expected secrets bit set")
	}
}

func TestSerializeUnderSizeBudget(t *testing.T) {
	s := Serialize(sampleHealth(), 1234)
	n, err := Size(s)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if n >= 5*1024 {
		t.Errorf("State size = %d bytes, want under 5KB", n)
	}
}

func TestSerializeCapsIssuesToThreeAndFiftyChars(t *testing.T) {
	h := sampleHealth()
	h.Issues = []string{
		"issue one",
		"issue two",
		"issue three",
		"issue four should be dropped",
		strings.Repeat("x", 100),
	}
	s := Serialize(h, 0)
	if len(s.Issues) != 3 {
		t.Fatalf("expected 3 issues retained, got %d", len(s.Issues))
	}
	for _, iss := range s.Issues {
		if len([]rune(iss)) > maxIssueLen {
			t.Errorf("issue %q exceeds %d runes", iss, maxIssueLen)
		}
	}
}

func TestConfidenceByteClampsAndScales(t *testing.T) {
	if confidenceByte(100) != 255 {
		t.Errorf("confidenceByte(100) = %d, want 255", confidenceByte(100))
	}
	if confidenceByte(0) != 0 {
		t.Errorf("confidenceByte(0) = %d, want 0", confidenceByte(0))
	}
	if confidenceByte(-5) != 0 {
		t.Errorf("confidenceByte(-5) should clamp to 0")
	}
	if confidenceByte(150) != 255 {
		t.Errorf("confidenceByte(150) should clamp to 255")
	}
}

func TestStampDetectsChange(t *testing.T) {
	s := Serialize(sampleHealth(), 1000)
	orig := s.Hash

	changed := Stamp(&s)
	if changed {
		t.Errorf("Stamp on unchanged state reported changed")
	}
	if s.Hash != orig {
		t.Errorf("hash drifted on unchanged state")
	}

	s.CostTodayCents += 500
	changed = Stamp(&s)
	if !changed {
		t.Errorf("expected Stamp to detect a content change")
	}
	if s.Hash == orig {
		t.Errorf("expected hash to differ after content change")
	}
}

func TestStampIgnoresUpdatedAtMsChanges(t *testing.T) {
	s := Serialize(sampleHealth(), 1000)
	orig := s.Hash
	s.UpdatedAtMs = 9999999
	changed := Stamp(&s)
	if changed {
		t.Errorf("UpdatedAtMs must not affect the content hash")
	}
	if s.Hash != orig {
		t.Errorf("hash changed from an UpdatedAtMs-only edit")
	}
}

func TestSerializeOmitsNilWeeklyAndGit(t *testing.T) {
	h := health.New(time.Now(), nil)
	h.Identity.SessionID = "sess-2"
	s := Serialize(&h, 0)
	if s.Weekly != nil {
		t.Errorf("expected nil Weekly when source has none")
	}
	if s.Git != nil {
		t.Errorf("expected nil Git when branch is empty")
	}
}
