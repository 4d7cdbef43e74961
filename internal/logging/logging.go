// Package logging constructs the process-wide zap.Logger, matching the
// zap.NewProduction()/zap.NewDevelopment() split the teacher's cmd/*/main.go
// entry points use.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a logger for level ("debug", "info", "warn", "error"). "debug"
// selects the development console encoder; everything else selects the
// production JSON encoder at the requested level.
func New(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("logging: unknown level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	return cfg.Build()
}
