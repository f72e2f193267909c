// Package observability holds the process-wide logger and metrics used by
// the gcpal CLI and server.
package observability

import (
	"fmt"
	"strings"

	"github.com/blendle/zapdriver"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logging profiles accepted by NewLogger.
const (
	ProfileStructured = "structured"
	ProfileConsole    = "console"
	ProfileGCP        = "gcp"
)

// CLILogger is the logger used by commands. It is a no-op logger until
// InitCLILogger runs, so packages can log unconditionally.
var CLILogger = zap.NewNop()

// InitCLILogger replaces CLILogger with a console logger named after the
// service. Verbose lowers the level to debug.
func InitCLILogger(service string, verbose bool) {
	level := "info"
	if verbose {
		level = "debug"
	}
	logger, err := NewLogger(ProfileConsole, level)
	if err != nil {
		return
	}
	CLILogger = logger.Named(service)
}

// NewLogger builds a zap logger for a profile and level.
//
// The gcp profile uses the zapdriver encoder so entries carry the severity
// and message keys Cloud Logging expects when gcpal runs on Cloud Run or
// Cloud Functions.
func NewLogger(profile, level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch strings.ToLower(profile) {
	case ProfileStructured, "":
		cfg = zap.NewProductionConfig()
	case ProfileConsole:
		cfg = zap.NewDevelopmentConfig()
		cfg.DisableStacktrace = true
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case ProfileGCP:
		cfg = zapdriver.NewProductionConfig()
	default:
		return nil, fmt.Errorf("unknown logging profile %q", profile)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	// Logs go to stderr so stdout stays clean for JSONL records.
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}
