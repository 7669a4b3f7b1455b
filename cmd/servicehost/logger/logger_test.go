package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/HatiCode/gridservices/cmd/servicehost/config"
)

func TestNew_LogLevels(t *testing.T) {
	tests := []struct {
		logLevel string
		enabled  slog.Level
		disabled slog.Level
	}{
		{"debug", slog.LevelDebug, slog.LevelDebug - 4},
		{"info", slog.LevelInfo, slog.LevelDebug},
		{"warn", slog.LevelWarn, slog.LevelInfo},
		{"error", slog.LevelError, slog.LevelWarn},
		{"DEBUG", slog.LevelDebug, slog.LevelDebug - 4},
		{"", slog.LevelInfo, slog.LevelDebug},
		{"invalid", slog.LevelInfo, slog.LevelDebug},
	}

	for _, tt := range tests {
		t.Run(tt.logLevel, func(t *testing.T) {
			l := New(&config.Config{LogFormat: "text", LogLevel: tt.logLevel})
			if !l.Enabled(context.TODO(), tt.enabled) {
				t.Errorf("level %v disabled", tt.enabled)
			}
			if l.Enabled(context.TODO(), tt.disabled) {
				t.Errorf("level %v enabled", tt.disabled)
			}
		})
	}
}

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&config.Config{LogFormat: "JSON", LogLevel: "info"}, &buf)
	l.Info("service created", "id", "svc-1")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v: %s", err, buf.String())
	}
	if entry["msg"] != "service created" || entry["id"] != "svc-1" {
		t.Errorf("entry = %v", entry)
	}
}

func TestNewWithWriter_Text(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&config.Config{LogFormat: "text", LogLevel: "info"}, &buf)
	l.Debug("hidden")
	l.Info("visible", "tick", 1000)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug entry written at info level: %s", out)
	}
	if !strings.Contains(out, "msg=visible") || !strings.Contains(out, "tick=1000") {
		t.Errorf("output = %q", out)
	}
}
