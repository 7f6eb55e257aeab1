// Package logging provides the process-wide structured logger.
package logging

import (
	"os"

	"github.com/charmbracelet/log"
)

var std = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
	TimeFormat:      "15:04:05.000",
})

// Default returns the process-wide logger.
func Default() *log.Logger {
	return std
}

// SetVerbose raises the logger to debug level.
func SetVerbose(verbose bool) {
	if verbose {
		std.SetLevel(log.DebugLevel)
		return
	}
	std.SetLevel(log.InfoLevel)
}

// Quiet silences the logger, for use in tests.
func Quiet() {
	std.SetLevel(log.FatalLevel + 1)
}

// With returns a child logger carrying the given key-value fields.
func With(keyvals ...interface{}) *log.Logger {
	return std.With(keyvals...)
}
