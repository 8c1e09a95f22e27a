// Package monitoring configures the process log streams.
//
// Every runtime package logs to three streams: ops (actionable warnings,
// errors and lifecycle events), diag (day-to-day diagnostics, including the
// per-tick "Distance: <v> m" record) and trace (per-poll and per-frame
// detail). The level selected by LOG_LEVEL decides which streams are live.
package monitoring

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// LogWriters holds the io.Writers for each logging stream. A nil writer
// disables the stream.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

// Level is a coarse verbosity selector mapped onto the three streams.
type Level int

const (
	LevelError Level = iota
	LevelWarning
	LevelInfo
	LevelDebug
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelWarning:
		return "WARNING"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// ParseLevel converts a LOG_LEVEL value into a Level. Matching is case
// insensitive and accepts the common aliases WARN and TRACE.
func ParseLevel(value string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "ERROR", "CRITICAL", "FATAL":
		return LevelError, nil
	case "WARNING", "WARN":
		return LevelWarning, nil
	case "INFO", "":
		return LevelInfo, nil
	case "DEBUG", "TRACE":
		return LevelDebug, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", value)
	}
}

// WritersForLevel returns the stream configuration for level with every live
// stream writing to w.
func WritersForLevel(level Level, w io.Writer) LogWriters {
	lw := LogWriters{Ops: w}
	if level >= LevelInfo {
		lw.Diag = w
	}
	if level >= LevelDebug {
		lw.Trace = w
	}
	return lw
}

// NewLogger creates a *log.Logger for a given writer, or returns nil if w is nil.
func NewLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

// LogFileName is the file created inside the configured log directory.
const LogFileName = "companion.log"

// OpenLogFile creates dir if needed and opens dir/companion.log for
// appending. The caller owns the returned file.
func OpenLogFile(dir string) (*os.File, error) {
	if dir == "" {
		return nil, fmt.Errorf("log directory not set")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	path := filepath.Join(filepath.Clean(dir), LogFileName)
	//nolint:gosec // path is built from operator configuration
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}
