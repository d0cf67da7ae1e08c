// Package logger provides a simple levelled logging interface backed by
// zerolog.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Level represents the logging level.
type Level int

// Log levels.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelNone
)

// String returns the string representation of the level.
func (l Level) String() string {
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
		return ""
	}
}

// ParseLevel parses a level name; unknown names yield LevelInfo and false.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, true
	case "info", "":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	case "none", "off", "disabled":
		return LevelNone, true
	}
	return LevelInfo, false
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.Disabled
	}
}

// Logger provides logging functionality.
type Logger struct {
	mu    sync.RWMutex
	zl    zerolog.Logger
	level Level
}

var defaultLogger = New(os.Stderr, LevelInfo)

// Default returns the default logger.
func Default() *Logger {
	return defaultLogger
}

// SetDefault sets the default logger.
func SetDefault(l *Logger) {
	defaultLogger = l
}

// New creates a logger writing JSON lines to output.
func New(output io.Writer, level Level) *Logger {
	return FromZerolog(zerolog.New(output).With().Timestamp().Str("component", "rulecheck").Logger(), level)
}

// NewConsole creates a logger with human-friendly console output.
func NewConsole(output io.Writer, level Level) *Logger {
	w := zerolog.ConsoleWriter{Out: output, TimeFormat: "15:04:05"}
	return FromZerolog(zerolog.New(w).With().Timestamp().Logger(), level)
}

// FromZerolog wraps an existing zerolog logger.
func FromZerolog(zl zerolog.Logger, level Level) *Logger {
	return &Logger{zl: zl.Level(level.zerolog()), level: level}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return FromZerolog(zerolog.Nop(), LevelNone)
}

// SetLevel sets the logging level.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
	l.zl = l.zl.Level(level.zerolog())
}

// Level returns the current level.
func (l *Logger) Level() Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

// With returns a child logger that adds key=value to every event.
func (l *Logger) With(key string, value any) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &Logger{zl: l.zl.With().Interface(key, value).Logger(), level: l.level}
}

// Zerolog exposes the underlying logger for structured events.
func (l *Logger) Zerolog() zerolog.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.zl
}

func (l *Logger) log(level Level, format string, args ...any) {
	l.mu.RLock()
	zl := l.zl
	l.mu.RUnlock()

	var ev *zerolog.Event
	switch level {
	case LevelDebug:
		ev = zl.Debug()
	case LevelInfo:
		ev = zl.Info()
	case LevelWarn:
		ev = zl.Warn()
	default:
		ev = zl.Error()
	}
	if ev == nil {
		return
	}
	ev.Msg(fmt.Sprintf(format, args...))
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...any) {
	l.log(LevelDebug, format, args...)
}

// Info logs an info message.
func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}

// Package-level convenience functions.

// Debug logs a debug message using the default logger.
func Debug(format string, args ...any) {
	defaultLogger.Debug(format, args...)
}

// Info logs an info message using the default logger.
func Info(format string, args ...any) {
	defaultLogger.Info(format, args...)
}

// Warn logs a warning message using the default logger.
func Warn(format string, args ...any) {
	defaultLogger.Warn(format, args...)
}

// Error logs an error message using the default logger.
func Error(format string, args ...any) {
	defaultLogger.Error(format, args...)
}

// SetLevel sets the level of the default logger.
func SetLevel(level Level) {
	defaultLogger.SetLevel(level)
}

// Disable silences the default logger.
func Disable() {
	defaultLogger.SetLevel(LevelNone)
}
