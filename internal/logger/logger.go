// Package logger provides the daemon's process-wide zap logger.
package logger

import (
	"sync"
)

// Log levels accepted by --log-level.
const (
	DebugLevel = "debug"
	InfoLevel  = "info"
	WarnLevel  = "warn"
	ErrorLevel = "error"
)

var (
	globalLogger *Logger
	once         sync.Once
)

// Get returns the process logger. The first call fixes the level; later
// calls return the same instance and ignore their argument.
func Get(level string) *Logger {
	once.Do(func() {
		globalLogger = New(level, nil)
	})
	return globalLogger
}

// ValidLevel reports whether level is one of the names above.
func ValidLevel(level string) bool {
	switch level {
	case DebugLevel, InfoLevel, WarnLevel, ErrorLevel:
		return true
	}
	return false
}
