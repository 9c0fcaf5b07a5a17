package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		format string
		level  string
	}{
		{"JSON Info", "json", "info"},
		{"JSON Debug", "json", "debug"},
		{"JSON Error", "json", "error"},
		{"Console Info", "console", "info"},
		{"Console Debug", "console", "debug"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(Config{Format: tt.format, Level: tt.level})
			require.NoError(t, err)
			logger.Info("heartbeat")
		})
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, err := NewLogger(Config{Format: "json", Level: "invalid"})
	assert.Error(t, err)
}

func TestStructuredLogging(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{
		Format: "json",
		Level:  "info",
		Output: zapcore.AddSync(&buf),
	})
	require.NoError(t, err)

	logger.Info("warmup complete", zap.String("query", "marina"), zap.Int("cached", 3))
	require.NoError(t, logger.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warmup complete", entry["msg"])
	assert.Equal(t, "marina", entry["query"])
	assert.Equal(t, float64(3), entry["cached"])
	assert.Contains(t, entry, "timestamp")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{
		Format: "json",
		Level:  "error",
		Output: zapcore.AddSync(&buf),
	})
	require.NoError(t, err)

	logger.Info("suppressed")
	logger.Error("surfaced")
	require.NoError(t, logger.Sync())

	assert.NotContains(t, buf.String(), "suppressed")
	assert.Contains(t, buf.String(), "surfaced")
}
