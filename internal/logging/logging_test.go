package logging

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestLogLineFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	l.Infof("hello %s", "world")

	line := buf.String()
	if !strings.HasPrefix(line, "[") {
		t.Fatalf("line = %q, want leading [<iso8601>]", line)
	}
	if !strings.Contains(line, "] [PID:") {
		t.Errorf("line = %q, want a [PID:<n>] segment", line)
	}
	if !strings.Contains(line, "[INFO]") {
		t.Errorf("line = %q, want an [INFO] level segment", line)
	}
	if !strings.Contains(line, "hello world") {
		t.Errorf("line = %q, want the formatted message", line)
	}
}

func TestLogLevelsDistinguished(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	l.Debugf("d")
	l.Warnf("w")
	l.Errorf("e")

	out := buf.String()
	for _, level := range []string{"[DEBUG]", "[WARN]", "[ERROR]"} {
		if !strings.Contains(out, level) {
			t.Errorf("output missing %s: %q", level, out)
		}
	}
}

func TestLogfSanitizesMessage(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	l.Warnf("token=%s leaked", "sk-abcdefghijklmnopqrstuvwxyz0123")

	if strings.Contains(buf.String(), "sk-abcdefghijklmnopqrstuvwxyz0123") {
		t.Errorf("log line still contains the raw secret: %q", buf.String())
	}
}

func TestEventEmitsSingleLineJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	l.Event(map[string]any{"b": 2, "a": "x"})

	line := strings.TrimSpace(buf.String())
	if !strings.HasPrefix(line, "{") || !strings.HasSuffix(line, "}") {
		t.Fatalf("Event line = %q, want a single JSON object", line)
	}
	if strings.Count(buf.String(), "\n") != 1 {
		t.Errorf("Event wrote %d lines, want exactly 1", strings.Count(buf.String(), "\n"))
	}
	// orderedKeys sorts lexically, so "a" must precede "b".
	if strings.Index(line, `"a"`) > strings.Index(line, `"b"`) {
		t.Errorf("Event fields not in sorted key order: %q", line)
	}
}

func TestNewFileOpensForAppend(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/daemon.log"

	l1, c1, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	l1.Infof("first")
	_ = c1.Close()

	l2, c2, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile (reopen): %v", err)
	}
	l2.Infof("second")
	_ = c2.Close()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	data := string(raw)
	if strings.Count(data, "\n") != 2 {
		t.Errorf("expected 2 appended lines, got %d: %q", strings.Count(data, "\n"), data)
	}
}
