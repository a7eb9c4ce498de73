// Package sysutil holds small process-level helpers shared by cmd
// binaries: logger setup independent of domain or transport concerns.
package sysutil

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// SetLogLevel configures the global zerolog level based on a string value.
// Supported values (case-insensitive): debug, info, warn, error, fatal, panic.
func SetLogLevel(lvl string) {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info", "":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "fatal":
		zerolog.SetGlobalLevel(zerolog.FatalLevel)
	case "panic":
		zerolog.SetGlobalLevel(zerolog.PanicLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// LogWriter returns the writer the root logger should use: pretty console
// output for development when pretty is true, raw JSON to stderr otherwise.
func LogWriter(pretty bool) io.Writer {
	if pretty {
		return zerolog.ConsoleWriter{Out: os.Stderr}
	}
	return os.Stderr
}
