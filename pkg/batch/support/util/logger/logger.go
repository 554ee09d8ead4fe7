// Package logger provides the leveled logging used throughout the risk batch writer.
// It wraps the standard `log` package and drops messages below the configured level.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
)

// LogLevel is a type representing the logging level.
type LogLevel int32

const (
	// LevelDebug is used for detailed diagnostics such as per-row cache misses.
	LevelDebug LogLevel = iota
	// LevelInfo is used for run lifecycle transitions.
	LevelInfo
	// LevelWarn is used for recoverable anomalies (e.g. a dimension reselect retry).
	LevelWarn
	// LevelError is used for failed writes and rolled back transactions.
	LevelError
	// LevelFatal terminates the process after logging.
	LevelFatal
)

var (
	logLevel atomic.Int32
	std      = log.New(os.Stderr, "", log.LstdFlags)
)

func init() {
	logLevel.Store(int32(LevelInfo))
}

// String returns the upper-case name of the level.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	}
	return fmt.Sprintf("LogLevel(%d)", int32(l))
}

// ParseLevel converts a level name ("DEBUG", "INFO", "WARN", "ERROR", "FATAL", case-insensitive)
// into a LogLevel. Unknown names yield LevelInfo and ok=false.
func ParseLevel(level string) (LogLevel, bool) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return LevelDebug, true
	case "INFO", "":
		return LevelInfo, true
	case "WARN", "WARNING":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	case "FATAL":
		return LevelFatal, true
	}
	return LevelInfo, false
}

// SetLogLevel sets the global log level.
// If an invalid value is specified, INFO is used and a warning is written to the log output.
func SetLogLevel(level string) {
	lvl, ok := ParseLevel(level)
	if !ok {
		std.Printf("[WARN] Unknown log level '%s' specified. Defaulting to INFO level.", level)
	}
	logLevel.Store(int32(lvl))
}

// CurrentLevel returns the active log level.
func CurrentLevel() LogLevel {
	return LogLevel(logLevel.Load())
}

// SetOutput redirects log output. Tests use it to capture messages.
func SetOutput(w io.Writer) {
	std.SetOutput(w)
}

// Enabled reports whether messages at lvl are currently written.
func Enabled(lvl LogLevel) bool {
	return CurrentLevel() <= lvl
}

func logf(lvl LogLevel, format string, v ...interface{}) {
	if Enabled(lvl) {
		std.Printf("["+lvl.String()+"] "+format, v...)
	}
}

// Debugf formats and outputs a DEBUG level log message.
func Debugf(format string, v ...interface{}) { logf(LevelDebug, format, v...) }

// Infof formats and outputs an INFO level log message.
func Infof(format string, v ...interface{}) { logf(LevelInfo, format, v...) }

// Warnf formats and outputs a WARN level log message.
func Warnf(format string, v ...interface{}) { logf(LevelWarn, format, v...) }

// Errorf formats and outputs an ERROR level log message.
func Errorf(format string, v ...interface{}) { logf(LevelError, format, v...) }

// Fatalf formats and outputs a FATAL level log message,
// then terminates the program by calling os.Exit(1).
func Fatalf(format string, v ...interface{}) {
	std.Fatalf("[FATAL] "+format, v...)
}
