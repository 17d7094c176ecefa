// logging.go - Structured Logging Interface for the core toolkit
//
// Package-level configuration for structured logging, shared by every
// subsystem (hazard, ebr, future, netcount, combiningtree, ratelimit).
// Trimmed from the teacher's general-purpose event-loop logger
// (eventloop/logging.go) down to the surface this toolkit's six
// specialty helpers actually exercise: a Logger interface, the
// LogEntry shape they fill in, a NoOpLogger default, and a
// WriterLogger for capturing entries in tests. The teacher's
// request-scoped features (correlation/trace IDs, a fluent
// LogEntryBuilder, colorized terminal vs. JSON file output) belong to
// an HTTP-request-shaped event loop, not a hazard-pointer manager or a
// combining tree, so they are not carried here.
package concore

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

var globalLogger struct {
	sync.RWMutex
	logger Logger
}

// SetStructuredLogger sets the global logger used by the package-level
// Log* helpers below. The default is a [NoOpLogger].
func SetStructuredLogger(logger Logger) {
	globalLogger.Lock()
	defer globalLogger.Unlock()
	globalLogger.logger = logger
}

// getGlobalLogger safely retrieves the global logger.
func getGlobalLogger() Logger {
	globalLogger.RLock()
	defer globalLogger.RUnlock()
	if globalLogger.logger != nil {
		return globalLogger.logger
	}
	return NewNoOpLogger()
}

// resolveLogger returns logger if non-nil, else the global logger —
// the fallback used by every specialty helper that takes a per-
// instance [Logger] (e.g. from a manager's WithLogger option).
func resolveLogger(logger Logger) Logger {
	if logger != nil {
		return logger
	}
	return getGlobalLogger()
}

// LogLevel represents the severity of a log message.
type LogLevel int32

const (
	// LevelDebug for detailed diagnostic information.
	LevelDebug LogLevel = iota

	// LevelInfo for general informational messages.
	LevelInfo

	// LevelWarn for warning conditions.
	LevelWarn

	// LevelError for error conditions.
	LevelError
)

// String returns the log level's name.
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
	default:
		return fmt.Sprintf("UNKNOWN(%d)", l)
	}
}

// LogEntry is a structured log entry emitted by one of the core
// subsystems.
type LogEntry struct {
	Level     LogLevel
	Category  string // "hazard", "ebr", "future", "netcount", "combiningtree", "ratelimit"
	LoopID    int64  // subsystem instance id, where applicable
	TaskID    int64  // per-operation id (e.g. the promise id for future)
	Context   map[string]interface{}
	Message   string
	Err       error
	Timestamp time.Time
}

// Logger is the structured logging interface every subsystem logs
// through instead of calling fmt/log directly.
type Logger interface {
	Log(entry LogEntry)
	IsEnabled(level LogLevel) bool
}

// NoOpLogger discards every entry; it is the default global logger.
type NoOpLogger struct{}

func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (l *NoOpLogger) Log(entry LogEntry) {}

func (l *NoOpLogger) IsEnabled(level LogLevel) bool {
	return false
}

// WriterLogger implements Logger over any io.Writer, for tests that
// want to assert on what a subsystem logged without a real terminal
// or file.
type WriterLogger struct {
	level atomic.Int32
	mu    sync.Mutex
	out   io.Writer
}

// NewWriterLogger creates a logger writing to out, emitting entries
// at level or above.
func NewWriterLogger(level LogLevel, out io.Writer) *WriterLogger {
	l := &WriterLogger{out: out}
	l.level.Store(int32(level))
	return l
}

// SetLevel dynamically changes the minimum log level.
func (l *WriterLogger) SetLevel(level LogLevel) {
	l.level.Store(int32(level))
}

// IsEnabled reports whether level would be logged.
func (l *WriterLogger) IsEnabled(level LogLevel) bool {
	return level >= LogLevel(l.level.Load())
}

// Log writes entry as a line of plain text.
func (l *WriterLogger) Log(entry LogEntry) {
	if !l.IsEnabled(entry.Level) {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.logText(entry)
}

func (l *WriterLogger) logText(entry LogEntry) {
	fmt.Fprintf(l.out, "[%s] [%s] [%-10s] %s",
		entry.Level.String(),
		entry.Timestamp.Format("15:04:05.000"),
		entry.Category,
		entry.Message,
	)

	if len(entry.Context) > 0 || entry.LoopID != 0 || entry.TaskID != 0 {
		if entry.LoopID != 0 {
			fmt.Fprintf(l.out, " loop=%d", entry.LoopID)
		}
		if entry.TaskID != 0 {
			fmt.Fprintf(l.out, " task=%d", entry.TaskID)
		}
		for k, v := range entry.Context {
			fmt.Fprintf(l.out, " %s=%v", k, v)
		}
	}

	if entry.Err != nil {
		fmt.Fprintf(l.out, " err=%v\n", entry.Err)
	} else {
		fmt.Fprintln(l.out)
	}
}

// Specialty helper functions for the core subsystems. LogHazardScan,
// LogEBRAdvance and LogRateLimiterRescale log through the logger they
// are given when it is non-nil; otherwise, and for the other three
// helpers, entries go to the global logger (see
// [SetStructuredLogger]), which defaults to a [NoOpLogger].

// LogHazardScan logs completion of a hazard-pointer Scan/HelpScan
// pass, through logger if non-nil (a manager's own configured
// logger), else the global logger.
func LogHazardScan(logger Logger, managerID int64, reclaimed, survived int) {
	logger = resolveLogger(logger)
	if !logger.IsEnabled(LevelDebug) {
		return
	}
	logger.Log(LogEntry{
		Level:     LevelDebug,
		Category:  "hazard",
		LoopID:    managerID,
		Message:   "hazard scan complete",
		Timestamp: time.Now(),
		Context: map[string]interface{}{
			"reclaimed": reclaimed,
			"survived":  survived,
		},
	})
}

// LogEBRAdvance logs an epoch advance in the EBR manager, through
// logger if non-nil (a manager's own configured logger), else the
// global logger.
func LogEBRAdvance(logger Logger, managerID int64, fromEpoch, toEpoch int, freed int) {
	logger = resolveLogger(logger)
	if !logger.IsEnabled(LevelDebug) {
		return
	}
	logger.Log(LogEntry{
		Level:     LevelDebug,
		Category:  "ebr",
		LoopID:    managerID,
		Message:   "epoch advanced",
		Timestamp: time.Now(),
		Context: map[string]interface{}{
			"from":  fromEpoch,
			"to":    toEpoch,
			"freed": freed,
		},
	})
}

// LogPromiseSettled logs when a promise transitions from empty to
// value or exception.
func LogPromiseSettled(promiseID int64, exception bool) {
	logger := getGlobalLogger()
	if !logger.IsEnabled(LevelDebug) {
		return
	}
	logger.Log(LogEntry{
		Level:     LevelDebug,
		Category:  "future",
		TaskID:    promiseID,
		Message:   "promise settled",
		Timestamp: time.Now(),
		Context: map[string]interface{}{
			"exception": exception,
		},
	})
}

// LogContinuationPanicked logs a panic that escaped a continuation's
// dispatch and was swallowed so the satisfying goroutine keeps
// running. A panic inside a Then/ThenFuture fn is not logged here; it
// becomes the downstream future's UserException.
func LogContinuationPanicked(promiseID int64, panicMsg interface{}) {
	logger := getGlobalLogger()
	if !logger.IsEnabled(LevelWarn) {
		return
	}
	logger.Log(LogEntry{
		Level:     LevelWarn,
		Category:  "future",
		TaskID:    promiseID,
		Message:   "continuation panicked",
		Timestamp: time.Now(),
		Context: map[string]interface{}{
			"panic": panicMsg,
		},
	})
}

// LogCombiningTreeFault logs an unexpected combining-tree node state,
// the one case the protocol treats as a LogicError.
func LogCombiningTreeFault(treeID int64, node int, state string) {
	logger := getGlobalLogger()
	if !logger.IsEnabled(LevelError) {
		return
	}
	logger.Log(LogEntry{
		Level:     LevelError,
		Category:  "combiningtree",
		LoopID:    treeID,
		Message:   "node state desync",
		Timestamp: time.Now(),
		Context: map[string]interface{}{
			"node":  node,
			"state": state,
		},
	})
}

// LogRateLimiterRescale logs a SetRate call rescaling stored permits,
// through logger if non-nil (a limiter's own configured logger), else
// the global logger.
func LogRateLimiterRescale(logger Logger, limiterID int64, oldMax, newMax, storedBefore, storedAfter float64) {
	logger = resolveLogger(logger)
	if !logger.IsEnabled(LevelDebug) {
		return
	}
	logger.Log(LogEntry{
		Level:     LevelDebug,
		Category:  "ratelimit",
		LoopID:    limiterID,
		Message:   "rate rescaled",
		Timestamp: time.Now(),
		Context: map[string]interface{}{
			"old_max":       oldMax,
			"new_max":       newMax,
			"stored_before": storedBefore,
			"stored_after":  storedAfter,
		},
	})
}
