// Package logger builds the process slog.Logger and provides attribute helpers
// shared by every domain package.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Module provides *slog.Logger for the application and a *zap.Logger for
// components that log through zap (the migrator).
var Module = fx.Module("logger",
	fx.Provide(
		NewLogger,
		NewZapLogger,
	),
)

// NewLogger creates the application logger.
// LOG_LEVEL selects the level (debug, info, warn|warning, error; default info).
// GO_ENV=production switches to JSON output.
func NewLogger() *slog.Logger {
	return NewWithWriter(os.Stdout)
}

// NewWithWriter is NewLogger writing to w. CLIs pass os.Stderr so that
// stdout carries only command output.
func NewWithWriter(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(os.Getenv("LOG_LEVEL"))}

	var handler slog.Handler
	if os.Getenv("GO_ENV") == "production" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// NewZapLogger creates a zap logger honouring the same LOG_LEVEL / GO_ENV settings.
func NewZapLogger(lc fx.Lifecycle) (*zap.Logger, error) {
	log, err := BuildZap()
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			_ = log.Sync()
			return nil
		},
	})
	return log, nil
}

// BuildZap builds the zap logger without lifecycle management. It writes to
// stderr.
func BuildZap() (*zap.Logger, error) {
	var cfg zap.Config
	if os.Getenv("GO_ENV") == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel(parseLevel(os.Getenv("LOG_LEVEL"))))
	return cfg.Build()
}

// Scope returns the attribute used to tag a component's log lines.
func Scope(name string) slog.Attr {
	return slog.String("scope", name)
}

// Error returns an attribute carrying err.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func zapLevel(l slog.Level) zapcore.Level {
	switch {
	case l <= slog.LevelDebug:
		return zapcore.DebugLevel
	case l >= slog.LevelError:
		return zapcore.ErrorLevel
	case l >= slog.LevelWarn:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}
