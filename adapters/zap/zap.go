package zapadapter

import (
	"go.uber.org/zap"
)

// ZapLogger is an adapter that implements the ratelimiter.Logger interface
// using a zap.SugaredLogger internally.
type ZapLogger struct {
	logger *zap.SugaredLogger
}

// New creates a new ZapLogger from a zap.Logger.
//
// If a nil logger is provided, it uses zap.NewNop() internally, which
// is a no-op logger that discards all messages.
//
// Example:
//
//	proxyLogger := zapadapter.New(logger.Named("finproxy"))
func New(l *zap.Logger) *ZapLogger {
	if l == nil {
		l = zap.NewNop()
	}
	return &ZapLogger{logger: l.Sugar()}
}

// Debugf logs a debug-level message with formatting.
//
// Example:
//
//	zapLogger.Debugf("cache hit for %s", host)
func (z *ZapLogger) Debugf(format string, args ...interface{}) {
	z.logger.Debugf(format, args...)
}

// Infof logs an info-level message with formatting.
func (z *ZapLogger) Infof(format string, args ...interface{}) {
	z.logger.Infof(format, args...)
}

// Errorf logs an error-level message with formatting.
//
// Example:
//
//	zapLogger.Errorf("upstream error for %s: %d", host, status)
func (z *ZapLogger) Errorf(format string, args ...interface{}) {
	z.logger.Errorf(format, args...)
}

// Sync flushes buffered log entries.
func (z *ZapLogger) Sync() error {
	return z.logger.Sync()
}
