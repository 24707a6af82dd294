package applog

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/cognicore/zhcorpus/pkg/zhcorpus/config"
)

func TestNewSetsDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	logger := New(config.LogConfig{Level: "info", Format: "json"})

	if slog.Default().Handler() != logger.Handler() {
		t.Error("New should install the logger as slog default")
	}
}

func TestLevels(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"Warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run("level_"+tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewWithWriter(&buf, config.LogConfig{Level: tt.level, Format: "text"})

			logger.Log(context.TODO(), tt.want, "should appear")
			if buf.Len() == 0 {
				t.Errorf("expected output at level %v", tt.want)
			}

			buf.Reset()
			logger.Log(context.TODO(), tt.want-1, "should be suppressed")
			if buf.Len() != 0 {
				t.Errorf("level %v should suppress %v, got: %s", tt.want, tt.want-1, buf.String())
			}
		})
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, config.LogConfig{Level: "info", Format: "JSON"})
	logger.Info("stage computed", "stage", "sentences", "count", 2)

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("JSON handler should produce valid JSON: %v", err)
	}
	if m["stage"] != "sentences" {
		t.Errorf("stage = %v", m["stage"])
	}
	if _, ok := m["source"]; ok {
		t.Error("source is only added at debug level")
	}
}

func TestDebugAddsSource(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, config.LogConfig{Level: "debug", Format: "text"})
	logger.Debug("file extracted")

	if !strings.Contains(buf.String(), "source=") {
		t.Errorf("debug output should include source, got %s", buf.String())
	}
}
