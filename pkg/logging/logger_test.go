package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLogger_WritesJSONL(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)

	l.Info(CategoryDispatch, "publish", "fanned out to 2 subscribers", map[string]any{"matched": 2})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}

	var ev Event
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if ev.Level != LevelInfo {
		t.Errorf("Level = %v, want %v", ev.Level, LevelInfo)
	}
	if ev.Category != CategoryDispatch {
		t.Errorf("Category = %v, want %v", ev.Category, CategoryDispatch)
	}
	if ev.EventType != "publish" {
		t.Errorf("EventType = %v, want publish", ev.EventType)
	}
	if ev.Timestamp.IsZero() {
		t.Error("expected Timestamp to be set")
	}
}

func TestLogger_MinLevelFiltersEvents(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	l.SetMinLevel(LevelWarn)

	l.Debug(CategoryConnection, "connect", "noise", nil)
	l.Info(CategoryConnection, "connect", "still noise", nil)
	l.Warn(CategoryConnection, "connect", "matters", nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line after filtering, got %d: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "matters") {
		t.Errorf("expected the warn event to survive filtering, got %q", lines[0])
	}
}

func TestLogger_NilWriterDiscards(t *testing.T) {
	l := New(nil)
	// Must not panic even with nothing backing the writer.
	l.Error(CategoryDispatch, "drop", "mailbox full", map[string]any{"policy": "reject_newest"})
}

func TestNew_DefaultMinLevelIsInfo(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)

	l.Debug(CategoryEndpoint, "bind", "suppressed", nil)
	if buf.Len() != 0 {
		t.Errorf("expected debug event suppressed by default min level, got %q", buf.String())
	}
}
