// Package logging provides the leveled, component-tagged logging interface
// used throughout txnmap.
//
// Design: four-level interface (Error, Warn, Info, Debug), adapted from the
// five-level Logger convention common to embedded-storage engines (Badger,
// Pebble, RocksDB), minus Fatalf: the gate and shadow never own the process
// and have nothing useful to do beyond returning an error, so there is no
// fatal-handler concept here.
//
// Log format: YYYY/MM/DD HH:MM:SS LEVEL [component] message
//
// Example: 2026/08/01 18:45:13 DEBUG [gate] lock granted immediately txn=a1b2c3d4
//
// Component tags:
//   - [gate]   — TransactionGate acquisition/release
//   - [shadow] — TransactionShadow 2PC callbacks
//   - [map]    — Façade registry churn
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"reflect"

	"github.com/zeebo/xxh3"
)

// Level represents the logging level.
type Level int

const (
	// LevelError logs only errors.
	LevelError Level = iota
	// LevelWarn logs warnings and errors.
	LevelWarn
	// LevelInfo logs info, warnings, and errors.
	LevelInfo
	// LevelDebug logs everything including debug messages.
	LevelDebug
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// Logger defines the interface for txnmap logging.
//
// Concurrency: DefaultLogger and Discard are safe for concurrent use.
// User-provided Logger implementations MUST be safe for concurrent use,
// since the gate and shadow may log from multiple goroutines at once.
type Logger interface {
	Errorf(format string, args ...any)
	Warnf(format string, args ...any)
	Infof(format string, args ...any)
	Debugf(format string, args ...any)
}

// DefaultLogger writes leveled, formatted lines to an io.Writer.
// It is stateless beyond the embedded *log.Logger and is safe for
// concurrent use (log.Logger is thread-safe). Level is read-only after
// construction — create a new logger to change it.
type DefaultLogger struct {
	logger *log.Logger
	level  Level
}

// NewDefaultLogger creates a logger at the given level that writes to stderr.
func NewDefaultLogger(level Level) *DefaultLogger {
	return &DefaultLogger{
		logger: log.New(os.Stderr, "", log.LstdFlags),
		level:  level,
	}
}

// NewLogger creates a logger at the given level writing to w.
func NewLogger(w io.Writer, level Level) *DefaultLogger {
	return &DefaultLogger{
		logger: log.New(w, "", log.LstdFlags),
		level:  level,
	}
}

// Level returns the logger's configured level.
func (l *DefaultLogger) Level() Level {
	return l.level
}

// Errorf logs a formatted error message.
func (l *DefaultLogger) Errorf(format string, args ...any) {
	if l.level >= LevelError {
		_ = l.logger.Output(2, "ERROR "+fmt.Sprintf(format, args...))
	}
}

// Warnf logs a formatted warning message.
func (l *DefaultLogger) Warnf(format string, args ...any) {
	if l.level >= LevelWarn {
		_ = l.logger.Output(2, "WARN "+fmt.Sprintf(format, args...))
	}
}

// Infof logs a formatted informational message.
func (l *DefaultLogger) Infof(format string, args ...any) {
	if l.level >= LevelInfo {
		_ = l.logger.Output(2, "INFO "+fmt.Sprintf(format, args...))
	}
}

// Debugf logs a formatted debug message.
func (l *DefaultLogger) Debugf(format string, args ...any) {
	if l.level >= LevelDebug {
		_ = l.logger.Output(2, "DEBUG "+fmt.Sprintf(format, args...))
	}
}

// Namespace prefixes for log messages, used with fmt.Sprintf-style calls.
const (
	// NSGate is the namespace for TransactionGate operations.
	NSGate = "[gate] "
	// NSShadow is the namespace for TransactionShadow 2PC callbacks.
	NSShadow = "[shadow] "
	// NSMap is the namespace for façade/registry operations.
	NSMap = "[map] "
)

// TxnTag returns a short, stable correlation tag for an arbitrary
// transaction handle, for use in log lines. It has no bearing on gate or
// shadow semantics — it exists only so that log lines for the same
// transaction can be grepped together without printing a possibly large
// or sensitive handle value in full.
func TxnTag(txn any) string {
	h := xxh3.HashString(fmt.Sprint(txn))
	return fmt.Sprintf("%08x", uint32(h))
}

// IsNil returns true if the logger is nil or a typed-nil.
// A typed-nil occurs when a nil pointer is assigned to an interface:
//
//	var l *DefaultLogger = nil
//	opts.Logger = l  // interface is not nil, but underlying pointer is
//
// Calling methods on a typed-nil panics, so this function detects both cases.
func IsNil(l Logger) bool {
	if l == nil {
		return true
	}
	v := reflect.ValueOf(l)
	return v.Kind() == reflect.Ptr && v.IsNil()
}

// OrDefault returns l if it is valid (non-nil and not typed-nil), otherwise
// the package-level Discard logger.
func OrDefault(l Logger) Logger {
	if IsNil(l) {
		return Discard
	}
	return l
}
