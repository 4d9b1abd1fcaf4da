package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func decodeLine(t *testing.T, line []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(line, &m); err != nil {
		t.Fatalf("invalid json line %q: %v", line, err)
	}
	return m
}

func TestLoggerWithFieldsAndCaller(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "DEBUG").With(String("comp", "stream"))

	log.Info("frame received", String("kind", "text"), Int("size", 42), Err(errors.New("boom")))

	m := decodeLine(t, bytes.TrimSpace(buf.Bytes()))
	if m["message"] != "frame received" {
		t.Fatalf("message=%v", m["message"])
	}
	if m["comp"] != "stream" || m["kind"] != "text" {
		t.Fatalf("missing fields: %v", m)
	}
	if m["size"].(float64) != 42 {
		t.Fatalf("size=%v", m["size"])
	}
	if m["err"] != "boom" {
		t.Fatalf("err=%v", m["err"])
	}
	caller, _ := m["caller"].(string)
	if !strings.HasPrefix(caller, "logging_test.go:") {
		t.Fatalf("caller=%q", caller)
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "WARN")
	log.Info("hidden")
	log.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %q", buf.String())
	}
	if log.Enabled(LevelInfo) {
		t.Fatalf("info should be disabled")
	}
	log.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("warn line missing: %q", buf.String())
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var log Logger
	if !log.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	log.Error("nothing happens")
	Nop().With(String("a", "b")).Info("nothing either")
}

func TestServiceFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")
	svc, log := New(Config{Level: "INFO", File: FileConfig{Enabled: true, Path: path}})
	t.Cleanup(func() { _ = svc.Close() })

	log.Info("hello file", String("k", "v"))
	log.Debug("filtered")

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := bytes.Split(bytes.TrimSpace(b), []byte("\n"))
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), b)
	}
	m := decodeLine(t, lines[0])
	if m["message"] != "hello file" || m["k"] != "v" {
		t.Fatalf("unexpected line: %v", m)
	}

	// Raising the level at runtime must affect loggers derived before Apply.
	svc.Apply(Config{Level: "ERROR", File: FileConfig{Enabled: true, Path: path}})
	log.Warn("after apply")
	b, _ = os.ReadFile(path)
	if bytes.Contains(b, []byte("after apply")) {
		t.Fatalf("warn should be filtered after Apply(ERROR)")
	}
	if got := svc.Config().Level; got != "ERROR" {
		t.Fatalf("config level=%q", got)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"trace":   LevelTrace,
		" Debug ": LevelDebug,
		"warning": LevelWarn,
		"ERROR":   LevelError,
		"bogus":   LevelInfo,
		"":        LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q)=%v want %v", in, got, want)
		}
	}
}

func TestServiceCreatesLogDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "agent.log")
	svc, log := New(Config{Level: "DEBUG", File: FileConfig{Enabled: true, Path: path}})
	t.Cleanup(func() { _ = svc.Close() })

	log.Debug("created", Err(nil))
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	m := decodeLine(t, bytes.TrimSpace(b))
	if _, ok := m["err"]; ok {
		t.Fatalf("nil error must not add a key: %v", m)
	}
}

func TestServiceCloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")
	svc, _ := New(Config{File: FileConfig{Enabled: true, Path: path}})
	if err := svc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
