package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/abcdqfr/rtl433-ha/config"
)

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// setupLogger builds the daemon logger from the config file's log
// section with any CLI/env overrides applied on top. Unrecognized
// values fall back to info level and JSON output.
func setupLogger(cliCfg *CLIConfig, logCfg config.LogConfig) *slog.Logger {
	level := logCfg.Level
	if cliCfg.LogLevel != "" {
		level = cliCfg.LogLevel
	}
	format := logCfg.Format
	if cliCfg.LogFormat != "" {
		format = cliCfg.LogFormat
	}

	logLevel, ok := logLevels[strings.ToLower(level)]
	if !ok {
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
	}

	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if strings.ToLower(format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler).With(
		"service", appName,
		"version", Version,
		"pid", os.Getpid(),
	)
}
