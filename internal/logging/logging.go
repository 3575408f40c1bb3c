// Package logging wraps log/slog with a handler that emits the broker's
// mandated line format, "[<iso8601>] [PID:<n>] [<LEVEL>] <message>", so
// every component logs the same way regardless of which process wrote
// the line. Telemetry records are logged separately as single-line JSON
// via Logger.Event, per the same contract.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/vladimir-ks/statusline-broker/internal/sanitize"
)

// Logger is the broker's leveled logger. It is safe for concurrent use.
type Logger struct {
	mu  sync.Mutex
	out io.Writer
	pid int
}

// New returns a Logger writing lines to w.
func New(w io.Writer) *Logger {
	return &Logger{out: w, pid: os.Getpid()}
}

// NewFile opens path for append (creating it if necessary) and returns a
// Logger writing to it. Callers should arrange rotation externally; see
// internal/cleanup for the daemon.log rotation policy.
func NewFile(path string) (*Logger, io.Closer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("logging: open %s: %w", path, err)
	}
	return New(f), f, nil
}

func (l *Logger) write(level, msg string) {
	line := fmt.Sprintf("[%s] [PID:%d] [%s] %s\n",
		time.Now().UTC().Format(time.RFC3339), l.pid, level, msg)

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.out, line)
}

// Debugf logs at DEBUG level. Arguments are sanitized as a log string
// before being written, so secrets never reach the log file.
func (l *Logger) Debugf(format string, args ...any) { l.logf("DEBUG", format, args...) }

// Infof logs at INFO level.
func (l *Logger) Infof(format string, args ...any) { l.logf("INFO", format, args...) }

// Warnf logs at WARN level.
func (l *Logger) Warnf(format string, args ...any) { l.logf("WARN", format, args...) }

// Errorf logs at ERROR level.
func (l *Logger) Errorf(format string, args ...any) { l.logf("ERROR", format, args...) }

func (l *Logger) logf(level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.write(level, sanitize.ErrorString(msg))
}

// Event writes a single-line JSON structured record, used by the
// telemetry recorder rather than the plain daemon.log stream.
func (l *Logger) Event(fields map[string]any) {
	var b strings.Builder
	b.WriteByte('{')
	first := true
	for _, k := range orderedKeys(fields) {
		if !first {
			b.WriteByte(',')
		}
		first = false
		fmt.Fprintf(&b, "%q:%v", k, jsonValue(fields[k]))
	}
	b.WriteByte('}')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.out, b.String()+"\n")
}

func orderedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Deterministic order matters for diffable telemetry fixtures, not
	// correctness; a simple insertion sort keeps this dependency-free.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

func jsonValue(v any) string {
	switch t := v.(type) {
	case string:
		return fmt.Sprintf("%q", t)
	case bool, int, int64, float64:
		return fmt.Sprintf("%v", t)
	default:
		return fmt.Sprintf("%q", fmt.Sprintf("%v", t))
	}
}

// FromContext returns the slog.Logger embedded by WithContext, or
// slog.Default() if none was set. Components that prefer structured
// key-value logging over the plain-line Logger above (notably the
// orchestrator's debug-snapshot recorder) use this.
func FromContext(ctx context.Context) *slog.Logger {
	if v, ok := ctx.Value(slogKey{}).(*slog.Logger); ok {
		return v
	}
	return slog.Default()
}

type slogKey struct{}

// WithContext attaches l to ctx for retrieval via FromContext.
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, slogKey{}, l)
}
