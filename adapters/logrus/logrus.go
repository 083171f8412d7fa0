package logrusadapter

import (
	"github.com/sirupsen/logrus"
)

// LogrusLogger implements ratelimiter.Logger using logrus
type LogrusLogger struct {
	logger *logrus.Entry
}

// New creates a new LogrusLogger. If nil is passed, a new logrus logger is used.
func New(l *logrus.Logger) *LogrusLogger {
	if l == nil {
		l = logrus.New()
	}
	return &LogrusLogger{
		logger: logrus.NewEntry(l),
	}
}

// WithField returns a logger that adds field to every entry.
func (l *LogrusLogger) WithField(key string, value interface{}) *LogrusLogger {
	return &LogrusLogger{logger: l.logger.WithField(key, value)}
}

// Debugf logs a debug-level message
func (l *LogrusLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

// Infof logs an info-level message
func (l *LogrusLogger) Infof(format string, args ...interface{}) {
	l.logger.Infof(format, args...)
}

// Errorf logs an error-level message
func (l *LogrusLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}
