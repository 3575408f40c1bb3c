package writer

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestTelemetryDBInsertAndCleanup(t *testing.T) {
	dir := t.TempDir()
	db, err := OpenTelemetryDB(filepath.Join(dir, "telemetry.db"))
	if err != nil {
		t.Fatalf("OpenTelemetryDB: %v", err)
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	row := TelemetryRow{
		SessionID:  "sess-1",
		SlotID:     "slot-a",
		Status:     "healthy",
		DurationMs: 42,
		CostCents:  150,
		Flags:      "",
		RecordedAt: time.Now(),
	}
	if err := db.InsertInvocation(ctx, row); err != nil {
		t.Fatalf("InsertInvocation: %v", err)
	}

	var count int
	if err := db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM invocations`).Scan(&count); err != nil {
		t.Fatalf("count query: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 row, got %d", count)
	}

	if err := db.CleanupOld(ctx); err != nil {
		t.Fatalf("CleanupOld: %v", err)
	}
	if err := db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM invocations`).Scan(&count); err != nil {
		t.Fatalf("count query after cleanup: %v", err)
	}
	if count != 1 {
		t.Errorf("expected recent row to survive cleanup, got count=%d", count)
	}
}

func TestTelemetryDBCleanupRemovesOldRows(t *testing.T) {
	dir := t.TempDir()
	db, err := OpenTelemetryDB(filepath.Join(dir, "telemetry.db"))
	if err != nil {
		t.Fatalf("OpenTelemetryDB: %v", err)
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	old := TelemetryRow{SessionID: "sess-old", Status: "healthy", RecordedAt: time.Now().Add(-40 * 24 * time.Hour)}
	if err := db.InsertInvocation(ctx, old); err != nil {
		t.Fatalf("InsertInvocation: %v", err)
	}
	if err := db.CleanupOld(ctx); err != nil {
		t.Fatalf("CleanupOld: %v", err)
	}

	var count int
	if err := db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM invocations`).Scan(&count); err != nil {
		t.Fatalf("count query: %v", err)
	}
	if count != 0 {
		t.Errorf("expected old row removed by retention cleanup, got count=%d", count)
	}
}
