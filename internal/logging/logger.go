// Package logging provides categorized file-based logging. Logs are written
// under <profile-dir>/logs/ with separate files per category; warnings and
// errors are additionally mirrored into error.log, which the diagnostic
// reporter scans for stack blocks.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/system.
type Category string

const (
	CategoryBoot      Category = "boot"      // Startup, config, profiles
	CategoryAPI       Category = "api"       // Portal API requests
	CategoryOAuth     Category = "oauth"     // Token exchange and refresh
	CategoryStore     Category = "store"     // SQLite repositories
	CategoryApply     Category = "apply"     // Apply engine
	CategoryReply     Category = "reply"     // Reply engine
	CategoryClear     Category = "clear"     // Clear/sync/refresh engines
	CategoryTelemetry Category = "telemetry" // Diagnostic reporter
)

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Logger wraps a standard logger with category and file output.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	logLevel  = LevelInfo
	errFile   *os.File
	errLogger *log.Logger
)

// Initialize sets up the logging directory. Should be called once at startup
// with the active profile's directory.
func Initialize(profileDir string, level int) error {
	if profileDir == "" {
		return fmt.Errorf("profile directory required")
	}

	logsDir = filepath.Join(profileDir, "logs")
	logLevel = level

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	f, err := os.OpenFile(ErrorLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open error log: %w", err)
	}
	errFile = f
	errLogger = log.New(f, "", 0)

	Boot("logging initialized, level=%d", level)
	return nil
}

// ErrorLogPath returns the path of the shared warning/error log.
func ErrorLogPath() string {
	return filepath.Join(logsDir, "error.log")
}

// Get returns (or creates) a logger for the given category. Returns a no-op
// logger before Initialize has been called.
func Get(category Category) *Logger {
	if logsDir == "" {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	if l, ok := loggers[category]; ok {
		return l
	}

	// Date prefix keeps files small without a rotation daemon.
	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(logsDir, fmt.Sprintf("%s_%s.log", date, category))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime),
	}
	loggers[category] = l
	return l
}

func (l *Logger) printf(level int, tag, format string, args ...interface{}) {
	if logLevel > level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if l.logger != nil {
		l.logger.Printf("[%s] %s", tag, msg)
	}
	if level >= LevelWarn && errLogger != nil {
		errLogger.Printf("%s [%s] [%s] %s",
			time.Now().Format("2006-01-02 15:04:05"), tag, l.category, msg)
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.printf(LevelDebug, "DEBUG", format, args...)
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.printf(LevelInfo, "INFO", format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.printf(LevelWarn, "WARN", format, args...)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...interface{}) {
	l.printf(LevelError, "ERROR", format, args...)
}

// ErrorBlock writes a timestamped multi-line block to error.log, in the shape
// the traceback collector extracts.
func ErrorBlock(header string, lines []string) {
	if errLogger == nil {
		return
	}
	errLogger.Printf("%s [ERROR] %s", time.Now().Format("2006-01-02 15:04:05"), header)
	for _, line := range lines {
		errLogger.Print(line)
	}
}

// CloseAll closes all open log files (call at shutdown).
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
	if errFile != nil {
		errFile.Close()
		errFile = nil
		errLogger = nil
	}
	logsDir = ""
}

// Convenience helpers mirroring the categories above.

func Boot(format string, args ...interface{})  { Get(CategoryBoot).Info(format, args...) }
func API(format string, args ...interface{})   { Get(CategoryAPI).Info(format, args...) }
func OAuth(format string, args ...interface{}) { Get(CategoryOAuth).Info(format, args...) }
func Store(format string, args ...interface{}) { Get(CategoryStore).Info(format, args...) }
func Apply(format string, args ...interface{}) { Get(CategoryApply).Info(format, args...) }
func Reply(format string, args ...interface{}) { Get(CategoryReply).Info(format, args...) }
func Clear(format string, args ...interface{}) { Get(CategoryClear).Info(format, args...) }
func Telemetry(format string, args ...interface{}) {
	Get(CategoryTelemetry).Info(format, args...)
}

func APIDebug(format string, args ...interface{})   { Get(CategoryAPI).Debug(format, args...) }
func APIWarn(format string, args ...interface{})    { Get(CategoryAPI).Warn(format, args...) }
func APIError(format string, args ...interface{})   { Get(CategoryAPI).Error(format, args...) }
func OAuthDebug(format string, args ...interface{}) { Get(CategoryOAuth).Debug(format, args...) }
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }
func StoreError(format string, args ...interface{}) { Get(CategoryStore).Error(format, args...) }
func ApplyDebug(format string, args ...interface{}) { Get(CategoryApply).Debug(format, args...) }
func ApplyWarn(format string, args ...interface{})  { Get(CategoryApply).Warn(format, args...) }
func ReplyDebug(format string, args ...interface{}) { Get(CategoryReply).Debug(format, args...) }
func ReplyWarn(format string, args ...interface{})  { Get(CategoryReply).Warn(format, args...) }
func ClearDebug(format string, args ...interface{}) { Get(CategoryClear).Debug(format, args...) }
func TelemetryDebug(format string, args ...interface{}) {
	Get(CategoryTelemetry).Debug(format, args...)
}
func TelemetryWarn(format string, args ...interface{}) {
	Get(CategoryTelemetry).Warn(format, args...)
}
