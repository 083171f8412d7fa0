// Package allowlist decides which upstream URLs the proxy may fetch.
//
// Each allowed host carries its provider and its rate-limit bucket, so the
// allowlist is the single table the proxy consults per request.
package allowlist

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/jassus213/go-finance-proxy/provider"
	"github.com/jassus213/go-finance-proxy/ratelimiter"
)

var (
	// ErrInvalidURL covers malformed URLs and non-HTTP(S) schemes.
	ErrInvalidURL = errors.New("invalid url")
	// ErrBlockedHost means the hostname is not in the allowlist.
	ErrBlockedHost = errors.New("host not allowed")
	// ErrSuspiciousPath means the path contains ".." or "//".
	ErrSuspiciousPath = errors.New("suspicious path")
)

// ValidationError describes why a URL was rejected. It wraps one of
// ErrInvalidURL, ErrBlockedHost or ErrSuspiciousPath.
type ValidationError struct {
	Reason  error
	Host    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Reason
}

// Host is one allowed upstream host.
type Host struct {
	Name     string
	Provider provider.Provider
	Bucket   ratelimiter.BucketConfig
}

// Default returns the built-in table of financial data hosts.
func Default() []Host {
	return []Host{
		{Name: "www.alphavantage.co", Provider: provider.AlphaVantage, Bucket: ratelimiter.RefillEvery(5, 12*time.Second)},
		{Name: "finnhub.io", Provider: provider.Finnhub, Bucket: ratelimiter.RefillEvery(60, time.Second)},
		{Name: "api.polygon.io", Provider: provider.Polygon, Bucket: ratelimiter.RefillEvery(5, 12*time.Second)},
		{Name: "api.twelvedata.com", Provider: provider.TwelveData, Bucket: ratelimiter.RefillEvery(8, time.Minute)},
	}
}

// Allowlist is an immutable set of allowed hosts.
type Allowlist struct {
	hosts map[string]Host
}

// New builds an Allowlist. Host names are matched exactly and
// case-insensitively; a later duplicate replaces an earlier one.
func New(hosts []Host) *Allowlist {
	a := &Allowlist{hosts: make(map[string]Host, len(hosts))}
	for _, h := range hosts {
		h.Name = strings.ToLower(h.Name)
		a.hosts[h.Name] = h
	}
	return a
}

// Lookup returns the Host record for name.
func (a *Allowlist) Lookup(name string) (Host, bool) {
	h, ok := a.hosts[strings.ToLower(name)]
	return h, ok
}

// Hosts returns every host sorted by name.
func (a *Allowlist) Hosts() []Host {
	out := make([]Host, 0, len(a.hosts))
	for _, h := range a.hosts {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Buckets returns the rate-limit configuration of every host, keyed by name.
func (a *Allowlist) Buckets() map[string]ratelimiter.BucketConfig {
	out := make(map[string]ratelimiter.BucketConfig, len(a.hosts))
	for name, h := range a.hosts {
		out[name] = h.Bucket
	}
	return out
}

// Validate parses raw and checks it against the allowlist. It has no side
// effects.
func (a *Allowlist) Validate(raw string) (*url.URL, Host, error) {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		return nil, Host{}, &ValidationError{Reason: ErrInvalidURL, Message: "Invalid URL format"}
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, Host{}, &ValidationError{Reason: ErrInvalidURL, Message: "Only HTTP and HTTPS protocols are allowed"}
	}
	if u.Host == "" {
		return nil, Host{}, &ValidationError{Reason: ErrInvalidURL, Message: "Invalid URL format"}
	}

	hostname := strings.ToLower(u.Hostname())
	h, ok := a.hosts[hostname]
	if !ok {
		return nil, Host{}, &ValidationError{
			Reason:  ErrBlockedHost,
			Host:    hostname,
			Message: fmt.Sprintf("Host %s is not in the allowlist", hostname),
		}
	}

	if suspicious(u.Path) || suspicious(u.EscapedPath()) {
		return nil, Host{}, &ValidationError{Reason: ErrSuspiciousPath, Host: hostname, Message: "Invalid path detected"}
	}

	return u, h, nil
}

func suspicious(path string) bool {
	return strings.Contains(path, "..") || strings.Contains(path, "//")
}
