// Package obslog builds the structured logger every kvsync component and
// the CLI share.
package obslog

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects a logger's level and the component field it is pre-tagged
// with, so every line a subsystem (engine, merge, the CLI itself) writes
// can be filtered by component without each call site repeating the field.
type Config struct {
	// Level is the minimum severity logged: debug, info, warn, or error.
	// An unrecognized or empty value defaults to info.
	Level string
	// Component names the subsystem this logger belongs to. Left empty,
	// no component field is added.
	Component string
}

// New returns a zap logger configured per cfg.
func New(cfg Config) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(levelFor(cfg.Level))

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}
	if cfg.Component != "" {
		logger = logger.With(zap.String("component", cfg.Component))
	}
	return logger, nil
}

func levelFor(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
