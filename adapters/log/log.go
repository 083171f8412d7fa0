package stdlogadapter

import (
	"log"
)

// Level filters StdLogger output.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelError
)

// StdLogger implements ratelimiter.Logger using Go standard library log
type StdLogger struct {
	logger *log.Logger
	level  Level
}

// New creates a new StdLogger that logs every level. If nil is passed, uses
// the default logger.
func New(l *log.Logger) *StdLogger {
	return NewWithLevel(l, LevelDebug)
}

// NewWithLevel creates a StdLogger that drops messages below level.
func NewWithLevel(l *log.Logger, level Level) *StdLogger {
	if l == nil {
		l = log.Default()
	}
	return &StdLogger{
		logger: l,
		level:  level,
	}
}

// Debugf logs a debug-level message (same as Printf in std log)
func (s *StdLogger) Debugf(format string, args ...interface{}) {
	if s.level <= LevelDebug {
		s.logger.Printf("[DEBUG] "+format, args...)
	}
}

// Infof logs an info-level message
func (s *StdLogger) Infof(format string, args ...interface{}) {
	if s.level <= LevelInfo {
		s.logger.Printf("[INFO] "+format, args...)
	}
}

// Errorf logs an error-level message
func (s *StdLogger) Errorf(format string, args ...interface{}) {
	s.logger.Printf("[ERROR] "+format, args...)
}
