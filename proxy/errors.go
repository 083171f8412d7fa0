package proxy

import (
	"fmt"
	"net/http"
	"time"

	"github.com/jassus213/go-finance-proxy/ratelimiter"
)

// Kind classifies a proxy failure.
type Kind int

const (
	KindInternal Kind = iota
	KindMissingURL
	KindInvalidURL
	KindBlockedHost
	KindRateLimited
	KindUpstream
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindMissingURL:
		return "missing_url"
	case KindInvalidURL:
		return "invalid_url"
	case KindBlockedHost:
		return "blocked_host"
	case KindRateLimited:
		return "rate_limited"
	case KindUpstream:
		return "upstream"
	case KindTimeout:
		return "timeout"
	default:
		return "internal"
	}
}

// Error is a terminal proxy failure. Every failure the proxy reports to a
// caller is an *Error; match it with errors.As.
type Error struct {
	Kind    Kind
	Message string
	Details string
	// UpstreamStatus is the upstream HTTP status for KindUpstream.
	UpstreamStatus int
	// RateLimit is the limiter decision for KindRateLimited.
	RateLimit ratelimiter.Result
	Cause     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the status code sent to the caller.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindMissingURL, KindInvalidURL, KindBlockedHost:
		return http.StatusBadRequest
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstream:
		if e.UpstreamStatus >= 100 && e.UpstreamStatus <= 599 {
			return e.UpstreamStatus
		}
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the machine-readable error code sent to the caller.
func (e *Error) Code() string {
	switch e.Kind {
	case KindMissingURL:
		return "MISSING_URL"
	case KindInvalidURL, KindBlockedHost:
		return "INVALID_URL"
	case KindRateLimited:
		return "RATE_LIMIT_EXCEEDED"
	case KindUpstream:
		return "UPSTREAM_ERROR"
	case KindTimeout:
		return "TIMEOUT"
	default:
		return "INTERNAL_ERROR"
	}
}

// RetryAfter returns how long a rate-limited caller should wait.
func (e *Error) RetryAfter() time.Duration {
	if e.Kind != KindRateLimited {
		return 0
	}
	return e.RateLimit.ResetAfter
}

func internalError(cause error) *Error {
	return &Error{
		Kind:    KindInternal,
		Message: fmt.Sprintf("Proxy failed: %v", cause),
		Cause:   cause,
	}
}
