// Package proxy implements the finance proxy: it validates an upstream URL
// against the allowlist, rate-limits the caller per upstream host, injects
// provider API keys, serves short-lived cached responses and fetches misses
// from the upstream API.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jassus213/go-finance-proxy/allowlist"
	"github.com/jassus213/go-finance-proxy/cache"
	"github.com/jassus213/go-finance-proxy/provider"
	"github.com/jassus213/go-finance-proxy/ratelimiter"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxBodyBytes = 10 << 20
	DefaultUserAgent    = "FinDashboard/1.0"

	defaultAccept   = "application/json, text/plain;q=0.9,*/*;q=0.1"
	maxErrorDetails = 64 << 10
)

// RateChecker decides whether a caller may issue one more request to a host.
// *ratelimiter.ScopedLimiter implements it.
type RateChecker interface {
	CheckLimit(ctx context.Context, key, scope string) (ratelimiter.Result, error)
}

// Entry is an upstream response as stored in the cache.
type Entry struct {
	Status      int
	ContentType string
	Body        []byte
}

// Request is one proxied fetch.
type Request struct {
	RawURL    string
	CallerKey string
	RequestID string
}

// Response is a successful proxied fetch.
type Response struct {
	Entry
	FromCache bool
	Host      string
	RateLimit ratelimiter.Result
}

// LimiterStats describes the rate limiter state.
type LimiterStats struct {
	Buckets int `json:"buckets"`
}

// Stats is the payload of the stats endpoint.
type Stats struct {
	Cache   cache.Stats  `json:"cache"`
	Limiter LimiterStats `json:"limiter"`
}

// Service runs the proxy pipeline. It is safe for concurrent use.
type Service struct {
	allow     *allowlist.Allowlist
	limiter   RateChecker
	responses *cache.Cache[Entry]

	client       *http.Client
	keys         provider.Keys
	timeout      time.Duration
	cacheTTL     time.Duration
	maxBodyBytes int64
	userAgent    string
	coalesce     bool
	bucketCount  func() int
	logger       ratelimiter.Logger

	inflight singleflight.Group
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithHTTPClient sets the client used for upstream requests. The service uses
// a copy that never follows redirects.
func WithHTTPClient(c *http.Client) ServiceOption {
	return func(s *Service) {
		if c != nil {
			s.client = c
		}
	}
}

// WithKeys sets the provider API keys injected into upstream URLs.
func WithKeys(keys provider.Keys) ServiceOption {
	return func(s *Service) {
		s.keys = keys
	}
}

// WithTimeout bounds each upstream request.
func WithTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithCacheTTL sets how long successful responses are cached. Zero uses the
// cache's default TTL.
func WithCacheTTL(d time.Duration) ServiceOption {
	return func(s *Service) {
		s.cacheTTL = d
	}
}

// WithMaxBodyBytes caps the size of upstream response bodies.
func WithMaxBodyBytes(n int64) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// WithUserAgent sets the User-Agent sent upstream.
func WithUserAgent(ua string) ServiceOption {
	return func(s *Service) {
		if ua != "" {
			s.userAgent = ua
		}
	}
}

// WithCoalescing controls whether concurrent misses for the same upstream URL
// share one upstream request. It is on by default.
func WithCoalescing(enabled bool) ServiceOption {
	return func(s *Service) {
		s.coalesce = enabled
	}
}

// WithBucketCount reports the number of live rate-limit buckets in Stats.
func WithBucketCount(fn func() int) ServiceOption {
	return func(s *Service) {
		s.bucketCount = fn
	}
}

// WithServiceLogger sets the logger.
func WithServiceLogger(l ratelimiter.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService wires the proxy pipeline.
func NewService(allow *allowlist.Allowlist, limiter RateChecker, responses *cache.Cache[Entry], opts ...ServiceOption) *Service {
	s := &Service{
		allow:        allow,
		limiter:      limiter,
		responses:    responses,
		client:       &http.Client{},
		keys:         provider.Keys{},
		timeout:      DefaultTimeout,
		maxBodyBytes: DefaultMaxBodyBytes,
		userAgent:    DefaultUserAgent,
		coalesce:     true,
		logger:       ratelimiter.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.client = noRedirects(s.client)
	return s
}

// noRedirects returns a copy of c that hands 3xx responses back instead of
// following them, so a fetch never leaves the validated host.
func noRedirects(c *http.Client) *http.Client {
	out := *c
	out.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &out
}

// Do runs one request through validate, rate limit, normalize, cache lookup
// and upstream fetch. Failures are always *Error.
func (s *Service) Do(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.RawURL) == "" {
		return nil, &Error{Kind: KindMissingURL, Message: "Missing url parameter"}
	}

	u, host, err := s.allow.Validate(req.RawURL)
	if err != nil {
		kind := KindInvalidURL
		if errors.Is(err, allowlist.ErrBlockedHost) {
			kind = KindBlockedHost
		}
		return nil, &Error{Kind: kind, Message: err.Error(), Cause: err}
	}

	key := req.CallerKey
	if key == "" {
		key = ratelimiter.UnknownKey
	}
	decision, err := s.limiter.CheckLimit(ctx, key, host.Name)
	if err != nil {
		s.logger.Errorf("[%s] rate limiter failed for %s: %v", req.RequestID, host.Name, err)
		return nil, internalError(err)
	}
	if !decision.Allowed {
		s.logger.Infof("[%s] rate limit exceeded for %s on %s", req.RequestID, key, host.Name)
		return nil, &Error{
			Kind:      KindRateLimited,
			Message:   "Rate limit exceeded",
			Details:   fmt.Sprintf("Too many requests to %s", host.Name),
			RateLimit: decision,
		}
	}

	upstream := provider.Build(u, host.Provider, s.keys)

	if entry, ok := s.responses.Get(upstream.FinalURL); ok {
		s.logger.Debugf("[%s] cache hit for %s", req.RequestID, host.Name)
		return &Response{Entry: entry, FromCache: true, Host: host.Name, RateLimit: decision}, nil
	}

	entry, err := s.fetchOnce(ctx, upstream, host.Name, req.RequestID)
	if err != nil {
		return nil, err
	}
	return &Response{Entry: entry, Host: host.Name, RateLimit: decision}, nil
}

// Stats returns cache and limiter statistics.
func (s *Service) Stats() Stats {
	stats := Stats{Cache: s.responses.Stats()}
	if s.bucketCount != nil {
		stats.Limiter.Buckets = s.bucketCount()
	}
	return stats
}

func (s *Service) fetchOnce(ctx context.Context, upstream provider.Request, host, requestID string) (Entry, error) {
	if !s.coalesce {
		return s.fetch(ctx, upstream, host, requestID)
	}

	v, err, shared := s.inflight.Do(upstream.FinalURL, func() (interface{}, error) {
		return s.fetch(ctx, upstream, host, requestID)
	})
	if shared {
		s.logger.Debugf("[%s] joined in-flight request to %s", requestID, host)
	}
	if err != nil {
		return Entry{}, err
	}
	return v.(Entry), nil
}

// fetch performs the upstream GET. It is detached from the caller's
// cancellation so a coalesced fetch survives its first caller leaving; only
// the upstream timeout bounds it.
func (s *Service) fetch(ctx context.Context, upstream provider.Request, host, requestID string) (Entry, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, upstream.FinalURL, nil)
	if err != nil {
		return Entry{}, internalError(err)
	}
	httpReq.Header.Set("Accept", defaultAccept)
	httpReq.Header.Set("User-Agent", s.userAgent)
	for name, values := range upstream.Headers {
		httpReq.Header[name] = values
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return Entry{}, s.transportError(err, host, requestID)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		details, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorDetails))
		s.logger.Errorf("[%s] upstream error for %s: %d", requestID, host, resp.StatusCode)
		return Entry{}, &Error{
			Kind:           KindUpstream,
			Message:        fmt.Sprintf("Upstream error: %d", resp.StatusCode),
			Details:        string(details),
			UpstreamStatus: resp.StatusCode,
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBodyBytes+1))
	if err != nil {
		return Entry{}, s.transportError(err, host, requestID)
	}
	if int64(len(body)) > s.maxBodyBytes {
		return Entry{}, internalError(fmt.Errorf("upstream response exceeds %d bytes", s.maxBodyBytes))
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	entry := Entry{Status: resp.StatusCode, ContentType: contentType, Body: body}
	if isJSON(contentType) {
		s.responses.Set(upstream.FinalURL, entry, s.cacheTTL)
		s.logger.Debugf("[%s] cached response for %s", requestID, host)
	}
	return entry, nil
}

func (s *Service) transportError(err error, host, requestID string) *Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) && netErr.Timeout() {
		s.logger.Errorf("[%s] upstream timeout for %s", requestID, host)
		return &Error{Kind: KindTimeout, Message: "Request timeout", Cause: err}
	}
	s.logger.Errorf("[%s] upstream request to %s failed: %v", requestID, host, err)
	return internalError(err)
}

// isJSON reports whether a content type is application/json or a +json type.
func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
