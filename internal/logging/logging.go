// Package logging builds the categorized zap loggers used across narrowd.
// Each subsystem gets a named child logger so log lines carry their origin
// (scan, classify, replace, checker, monitor, store, history).
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names for subsystem loggers.
const (
	CategoryScan     = "scan"
	CategoryClassify = "classify"
	CategoryStrategy = "strategy"
	CategoryReplace  = "replace"
	CategoryChecker  = "checker"
	CategoryAnalysis = "analysis"
	CategoryMonitor  = "monitor"
	CategoryStore    = "store"
	CategoryHistory  = "history"
)

// New builds the root logger. level is one of debug, info, warn, error;
// jsonFormat switches from console to JSON encoding.
func New(level string, jsonFormat bool) (*zap.Logger, error) {
	var lvl zapcore.Level
	switch level {
	case "", "info":
		lvl = zapcore.InfoLevel
	case "debug":
		lvl = zapcore.DebugLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}

	cfg := zap.NewProductionConfig()
	if !jsonFormat {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}

// For returns the named child logger for a subsystem category.
func For(root *zap.Logger, category string) *zap.Logger {
	if root == nil {
		return zap.NewNop()
	}
	return root.Named(category)
}
