package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" INFO ", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetupLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := WithComponent(SetupLogger("warn", "json", &buf), "grader")

	logger.Info("hidden")
	logger.Warn("batch finished", slog.Int("timeouts", 2))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if entry["component"] != "grader" {
		t.Errorf("component = %v, want grader", entry["component"])
	}
	if entry["timeouts"] != float64(2) {
		t.Errorf("timeouts = %v, want 2", entry["timeouts"])
	}
	source, ok := entry["source"].(map[string]any)
	if !ok {
		t.Fatalf("missing source: %v", entry)
	}
	if file, _ := source["file"].(string); strings.Contains(file, "/") && !strings.HasPrefix(file, "internal/") {
		t.Errorf("source file not shortened: %s", file)
	}
}

func TestSetupLogger_TextHasNoColourWhenNotATerminal(t *testing.T) {
	var buf bytes.Buffer
	SetupLogger("debug", "text", &buf).Debug("compiling", "project", "smith")

	out := buf.String()
	if !strings.Contains(out, "compiling") || !strings.Contains(out, "project=smith") {
		t.Errorf("unexpected output: %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("unexpected colour codes: %q", out)
	}
}
