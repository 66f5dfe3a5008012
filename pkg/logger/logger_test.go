package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{" DEBUG ", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"Warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

func TestZapLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, zapLevel(slog.LevelDebug))
	assert.Equal(t, zapcore.InfoLevel, zapLevel(slog.LevelInfo))
	assert.Equal(t, zapcore.WarnLevel, zapLevel(slog.LevelWarn))
	assert.Equal(t, zapcore.ErrorLevel, zapLevel(slog.LevelError))
}

func TestNewWithWriter_Text(t *testing.T) {
	t.Setenv("GO_ENV", "")
	t.Setenv("LOG_LEVEL", "warn")

	var buf bytes.Buffer
	log := NewWithWriter(&buf)
	assert.False(t, log.Enabled(context.Background(), slog.LevelInfo))

	log.Warn("reciprocal missing", Scope("consistency.auditor"), Error(errors.New("gone")))
	out := buf.String()
	assert.Contains(t, out, "scope=consistency.auditor")
	assert.Contains(t, out, "error=gone")
}

func TestNewWithWriter_JSONInProduction(t *testing.T) {
	t.Setenv("GO_ENV", "production")
	t.Setenv("LOG_LEVEL", "")

	var buf bytes.Buffer
	NewWithWriter(&buf).Info("edge accepted", Scope("relationships.svc"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "edge accepted", line["msg"])
	assert.Equal(t, "relationships.svc", line["scope"])
}

func TestBuildZap(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	log, err := BuildZap()
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.WarnLevel))
	assert.True(t, log.Core().Enabled(zapcore.ErrorLevel))
}
