package writer

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite"
)

const telemetryRetention = 30 * 24 * time.Hour

// telemetryTracer/telemetryMetrics mirror the teacher's own
// internal/storage/dolt/store.go instrumentation of its identical
// BEGIN-IMMEDIATE-with-retry path: instruments are registered against
// the global OTel provider at init time, which is a no-op until (and
// unless) an operator wires a real SDK/exporter pair into the process,
// exactly the "doltTracer"/"doltMetrics" pattern, renamed for this
// repo's own telemetry DB.
var telemetryTracer = otel.Tracer("github.com/vladimir-ks/statusline-broker/writer")

var telemetryMetrics struct {
	retryCount metric.Int64Counter
}

func init() {
	m := otel.Meter("github.com/vladimir-ks/statusline-broker/writer")
	telemetryMetrics.retryCount, _ = m.Int64Counter("statusline.telemetrydb.retry_count",
		metric.WithDescription("BEGIN IMMEDIATE attempts retried due to SQLITE_BUSY contention"),
		metric.WithUnit("{retry}"),
	)
}

// TelemetryRow is one invocation-grained record, spec.md §4.14 item 5.
type TelemetryRow struct {
	SessionID  string
	SlotID     string
	Status     string
	DurationMs int64
	CostCents  int64
	Flags      string // comma-joined alert flags
	RecordedAt time.Time
}

// TelemetryDB is the embedded per-host SQLite log backing telemetry.db.
// It uses modernc.org/sqlite, a pure-Go driver, in WAL mode: the teacher
// repo's own storage layer (internal/storage/sqlite) uses the same
// BEGIN-IMMEDIATE-with-retry idiom against a cgo sqlite driver; this
// package swaps in the pure-Go one so the broker binary stays a single
// static executable.
type TelemetryDB struct {
	db *sql.DB
}

// OpenTelemetryDB opens (creating if absent) the database at path, sets
// WAL journaling and a busy timeout, and ensures the schema exists.
func OpenTelemetryDB(path string) (*TelemetryDB, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path))
	if err != nil {
		return nil, fmt.Errorf("writer: open telemetry db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("writer: enable WAL: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS invocations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	slot_id TEXT,
	status TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	cost_cents INTEGER NOT NULL,
	flags TEXT,
	recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_invocations_recorded_at ON invocations(recorded_at);
`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("writer: create schema: %w", err)
	}

	return &TelemetryDB{db: db}, nil
}

// Close closes the underlying connection pool.
func (t *TelemetryDB) Close() error {
	return t.db.Close()
}

// beginImmediateWithRetry acquires a dedicated connection and starts a
// raw "BEGIN IMMEDIATE" transaction on it, retrying under SQLITE_BUSY
// contention from concurrent broker invocations. database/sql's BeginTx
// cannot express SQLite's transaction modes, so the raw statement runs
// directly on the connection rather than through *sql.Tx — the same
// workaround the teacher's own beginImmediateWithRetry helper in
// internal/storage/sqlite/queries.go uses, grounded on the same GH#1272
// rationale: a DEFERRED transaction that later escalates to a write can
// deadlock against another writer doing the same thing concurrently.
func beginImmediateWithRetry(ctx context.Context, db *sql.DB) (*sql.Conn, error) {
	ctx, span := telemetryTracer.Start(ctx, "telemetrydb.begin_immediate",
		trace.WithAttributes(attribute.String("db.system", "sqlite")))
	defer span.End()

	conn, err := db.Conn(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	attempts := 0
	op := func() error {
		attempts++
		_, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE")
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	if err := backoff.Retry(op, b); err != nil {
		if attempts > 1 {
			telemetryMetrics.retryCount.Add(ctx, int64(attempts-1))
		}
		span.RecordError(err)
		_ = conn.Close()
		return nil, err
	}
	if attempts > 1 {
		telemetryMetrics.retryCount.Add(ctx, int64(attempts-1))
		span.SetAttributes(attribute.Int("db.retry_count", attempts-1))
	}
	return conn, nil
}

// InsertInvocation records one invocation-grained telemetry row under a
// retried IMMEDIATE transaction.
func (t *TelemetryDB) InsertInvocation(ctx context.Context, row TelemetryRow) error {
	conn, err := beginImmediateWithRetry(ctx, t.db)
	if err != nil {
		return fmt.Errorf("writer: begin immediate: %w", err)
	}
	defer func() { _ = conn.Close() }()

	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	_, err = conn.ExecContext(ctx,
		`INSERT INTO invocations (session_id, slot_id, status, duration_ms, cost_cents, flags, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.SessionID, row.SlotID, row.Status, row.DurationMs, row.CostCents, row.Flags, row.RecordedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("writer: insert invocation: %w", err)
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("writer: commit: %w", err)
	}
	committed = true
	return nil
}

// CleanupOld deletes rows older than the 30-day retention window and
// reclaims space with VACUUM, per spec.md §4.14 item 5.
func (t *TelemetryDB) CleanupOld(ctx context.Context) error {
	cutoff := time.Now().Add(-telemetryRetention).UnixMilli()
	if _, err := t.db.ExecContext(ctx, `DELETE FROM invocations WHERE recorded_at < ?`, cutoff); err != nil {
		return fmt.Errorf("writer: delete old invocations: %w", err)
	}
	if _, err := t.db.ExecContext(ctx, `VACUUM`); err != nil {
		return fmt.Errorf("writer: vacuum: %w", err)
	}
	return nil
}
