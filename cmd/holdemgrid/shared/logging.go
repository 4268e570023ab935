package shared

import (
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// SetupLogger returns the process logger. Production output is JSON; text
// is for people reading a terminal.
func SetupLogger(debug bool, format string) *log.Logger {
	return NewLogger(os.Stderr, debug, format)
}

// NewLogger builds a logger writing to w.
func NewLogger(w io.Writer, debug bool, format string) *log.Logger {
	level := log.InfoLevel
	if debug {
		level = log.DebugLevel
	}

	formatter := log.JSONFormatter
	if format == "text" {
		formatter = log.TextFormatter
	}

	return log.NewWithOptions(w, log.Options{
		Level:           level,
		Formatter:       formatter,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339Nano,
	})
}
