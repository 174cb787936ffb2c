// Package logging builds the zap loggers used by the CLI and handed to the
// SDK client and session.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap.Logger. Development mode targets a human at a terminal:
// colored console output with wall-clock timestamps and no caller noise.
// Production mode emits JSON for log shippers.
func New(development bool) (*zap.Logger, error) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.DisableCaller = true
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	} else {
		cfg = zap.NewProductionConfig()
		// A short-lived CLI never emits enough volume to sample.
		cfg.Sampling = nil
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	// Stack traces on warnings drown the itinerary output.
	cfg.DisableStacktrace = true

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// Named returns a child logger scoped to a component, tolerating a nil
// parent so callers can skip wiring checks.
func Named(logger *zap.Logger, component string) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger.Named(component)
}
