package ratelimiter

import (
	"net"
	"net/http"
	"strings"
)

// UnknownKey identifies callers whose address cannot be determined. All such
// callers share one bucket per scope.
const UnknownKey = "unknown"

// BucketID joins a scope (an upstream hostname) and a caller key into the
// identity of one bucket.
func BucketID(scope, key string) string {
	return scope + ":" + key
}

// ForwardedIP identifies the caller from X-Forwarded-For (first hop), then
// X-Real-IP, and falls back to UnknownKey. Use it when the proxy sits behind a
// trusted load balancer that sets those headers.
func ForwardedIP(r *http.Request) (string, error) {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip, nil
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip, nil
	}
	return UnknownKey, nil
}

// RemoteIP identifies the caller by the host part of the connection's remote
// address, falling back to UnknownKey.
func RemoteIP(r *http.Request) (string, error) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		return UnknownKey, nil
	}
	return host, nil
}
