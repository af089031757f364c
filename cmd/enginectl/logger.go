package main

import (
	"fmt"
	"os"

	"github.com/ecoachlabs/ideamind-sub006/pkg/logger"
)

// initLogger resolves level/file/format from CLI flags (with env var
// fallback) and initializes the package-wide slog logger. It returns a
// cleanup func that closes the log file, or nil when logging to stderr.
func initLogger(cliLevel, cliFile, cliFormat string) (func(), error) {
	level := cliLevel
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	if level == "" {
		level = "info"
	}

	file := cliFile
	if file == "" {
		file = os.Getenv("LOG_FILE")
	}

	format := cliFormat
	if format == "" {
		format = os.Getenv("LOG_FORMAT")
	}
	if format == "" {
		format = "simple"
	}

	parsed, err := logger.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var output *os.File
	var cleanup func()
	if file != "" {
		f, cleanupFn, err := logger.OpenLogFile(file)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		output, cleanup = f, cleanupFn
	} else {
		output = os.Stderr
	}

	logger.Init(parsed, output, format)
	return cleanup, nil
}
