package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestInit(t *testing.T) {
	logger := Init("test-service", slog.LevelInfo)
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestInitWriter_EmbedsServiceAndComponent(t *testing.T) {
	var buf bytes.Buffer
	base := InitWriter(&buf, "autotrader", slog.LevelDebug)
	Component(base, "risk").Info("denied", slog.String("reason", "wash"))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected JSON record, got %q: %v", buf.String(), err)
	}
	if rec["service"] != "autotrader" {
		t.Errorf("expected service=autotrader, got %v", rec["service"])
	}
	if rec["component"] != "risk" {
		t.Errorf("expected component=risk, got %v", rec["component"])
	}
	if rec["reason"] != "wash" {
		t.Errorf("expected reason=wash, got %v", rec["reason"])
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{" warn ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := ParseLevel(tc.in); got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
