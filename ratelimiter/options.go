package ratelimiter

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"
)

// Logger is the interface used for logging across the proxy.
//
// Implement this interface to provide your own logging backend. The adapters
// package ships wrappers for zap, zerolog, logrus and the standard log package.
//
// Example:
//
//	type MyLogger struct{}
//	func (l *MyLogger) Debugf(format string, args ...interface{}) { ... }
//	func (l *MyLogger) Infof(format string, args ...interface{}) { ... }
//	func (l *MyLogger) Errorf(format string, args ...interface{}) { ... }
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger {
	return &noopLogger{}
}

// ErrorExceeded is returned when a client exceeds the rate limit.
//
// Users can use errors.Is(err, ratelimiter.ErrorExceeded) to detect
// this specific condition.
var ErrorExceeded = errors.New("rate limit exceeded")

// KeyFunc defines a function type that extracts a unique identifier
// from an HTTP request.
//
// The identifier is used to track individual clients for rate limiting.
// See ForwardedIP and RemoteIP.
type KeyFunc func(r *http.Request) (string, error)

// ErrorHandler defines a function type that handles a client request
// after a rate limit is exceeded.
//
// This allows custom responses, e.g., JSON, headers, or logging.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error, result Result)

// Config holds all configurable options for the rate limiter middleware.
//
// Users typically create a Config via NewConfig and provide functional options.
type Config struct {
	KeyFunc      KeyFunc
	ErrorHandler ErrorHandler
	Logger       Logger
}

// Option defines a functional option type for configuring the rate limiter.
//
// Example:
//
//	cfg := NewConfig(
//	    WithLogger(myLogger),
//	    WithKeyFunc(ratelimiter.ForwardedIP),
//	)
type Option func(*Config)

// NewConfig creates a Config with default settings, then applies
// any provided functional options.
func NewConfig(opts ...Option) *Config {
	cfg := &Config{
		KeyFunc: RemoteIP,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error, result Result) {
			w.Header().Set("Retry-After", RetryAfterSeconds(result.ResetAfter))
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		},
		Logger: &noopLogger{},
	}

	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithKeyFunc returns an Option to set a custom KeyFunc.
func WithKeyFunc(f KeyFunc) Option {
	return func(c *Config) {
		if f != nil {
			c.KeyFunc = f
		}
	}
}

// WithErrorHandler returns an Option to set a custom ErrorHandler.
func WithErrorHandler(f ErrorHandler) Option {
	return func(c *Config) {
		if f != nil {
			c.ErrorHandler = f
		}
	}
}

// WithLogger returns an Option to set a custom Logger.
func WithLogger(l Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// RetryAfterSeconds formats d as a Retry-After header value: whole seconds,
// rounded up, never less than one.
func RetryAfterSeconds(d time.Duration) string {
	retryAfter := int(math.Ceil(d.Seconds()))
	if retryAfter <= 0 {
		retryAfter = 1
	}
	return strconv.Itoa(retryAfter)
}

// SetHeaders writes the X-RateLimit-* headers for result.
func SetHeaders(h http.Header, result Result, now time.Time) {
	h.Set("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(now.Add(result.ResetAfter).Unix(), 10))
}

// noopLogger is a private default logger that does nothing.
type noopLogger struct{}

func (l *noopLogger) Debugf(format string, args ...interface{}) {}
func (l *noopLogger) Infof(format string, args ...interface{})  {}
func (l *noopLogger) Errorf(format string, args ...interface{}) {}
