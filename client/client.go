// Package client fetches JSON through the finance proxy.
//
// Example:
//
//	c := client.New("http://localhost:8080")
//	quote, err := c.FetchJSON(ctx, "https://finnhub.io/api/v1/quote?symbol=AAPL")
//	var perr *client.Error
//	if errors.As(err, &perr) && perr.Code == "RATE_LIMIT_EXCEEDED" {
//	    // back off for perr.RetryAfter
//	}
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/jassus213/go-finance-proxy/ratelimiter"
)

const (
	DefaultMaxRetries = 2
	DefaultBaseDelay  = 250 * time.Millisecond
	DefaultMaxDelay   = 4 * time.Second
	DefaultPath       = "/api/proxy"
)

// DefaultMaxBodyBytes matches the proxy's upstream body cap.
const DefaultMaxBodyBytes = 10 << 20

// Error is a failed proxy call. Status is zero for transport failures.
type Error struct {
	Status     int
	Code       string
	Message    string
	Details    string
	RetryAfter time.Duration
	Cause      error
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("proxy request failed: %s", e.Message)
	}
	if e.Code != "" {
		return fmt.Sprintf("proxy error %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("proxy error: %d", e.Status)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Temporary reports whether retrying the same request may succeed. Rate
// limiting is not temporary in this sense: retrying only burns more budget.
func (e *Error) Temporary() bool {
	return e.Status == 0 || e.Status == http.StatusRequestTimeout || e.Status >= 500
}

// Client calls the proxy's fetch endpoint.
type Client struct {
	base       *url.URL
	path       string
	http       *http.Client
	maxRetries int
	maxBody    int64
	baseDelay  time.Duration
	maxDelay   time.Duration
	logger     ratelimiter.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithRetries sets how many times a temporary failure is retried.
func WithRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithMaxBodyBytes caps the size of response bodies read from the proxy.
func WithMaxBodyBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// WithBackoff sets the first retry delay and the cap for later ones.
func WithBackoff(base, max time.Duration) Option {
	return func(c *Client) {
		if base > 0 {
			c.baseDelay = base
		}
		if max >= base {
			c.maxDelay = max
		}
	}
}

// WithPath sets the proxy route. Defaults to /api/proxy.
func WithPath(p string) Option {
	return func(c *Client) {
		if p != "" {
			c.path = p
		}
	}
}

// WithLogger sets the logger used to report retries.
func WithLogger(l ratelimiter.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Client for the proxy at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url %q: %w", baseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid proxy url %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		base:       base,
		path:       DefaultPath,
		http:       &http.Client{Timeout: 35 * time.Second},
		maxRetries: DefaultMaxRetries,
		maxBody:    DefaultMaxBodyBytes,
		baseDelay:  DefaultBaseDelay,
		maxDelay:   DefaultMaxDelay,
		logger:     ratelimiter.NopLogger(),
		sleep:      sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchJSON fetches upstreamURL through the proxy and decodes the body.
// Bodies that are not JSON come back as map[string]any{"text": body}.
func (c *Client) FetchJSON(ctx context.Context, upstreamURL string) (any, error) {
	body, err := c.Fetch(ctx, upstreamURL)
	if err != nil {
		return nil, err
	}
	return body.Value()
}

// Decode fetches upstreamURL through the proxy and unmarshals the JSON body
// into v.
func (c *Client) Decode(ctx context.Context, upstreamURL string, v any) error {
	body, err := c.Fetch(ctx, upstreamURL)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body.Raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", upstreamURL, err)
	}
	return nil
}

// Body is a successful proxy response.
type Body struct {
	Raw         []byte
	ContentType string
	FromCache   bool
}

// Value parses the body as JSON, falling back to {"text": body}.
func (b Body) Value() (any, error) {
	if isJSON(b.ContentType) || gjson.ValidBytes(b.Raw) {
		var v any
		err := json.Unmarshal(b.Raw, &v)
		if err == nil {
			return v, nil
		}
		if isJSON(b.ContentType) {
			return nil, fmt.Errorf("decode json body: %w", err)
		}
	}
	return map[string]any{"text": string(b.Raw)}, nil
}

// Fetch fetches upstreamURL through the proxy, retrying temporary failures
// with exponential backoff.
func (c *Client) Fetch(ctx context.Context, upstreamURL string) (Body, error) {
	var lastErr *Error
	for attempt := 0; ; attempt++ {
		body, err := c.fetchOnce(ctx, upstreamURL)
		if err == nil {
			return body, nil
		}
		if !errors.As(err, &lastErr) || !lastErr.Temporary() || attempt >= c.maxRetries {
			return Body{}, err
		}
		if ctx.Err() != nil {
			return Body{}, err
		}

		delay := c.backoff(attempt)
		c.logger.Debugf("retrying %s in %s after: %v", upstreamURL, delay, err)
		if err := c.sleep(ctx, delay); err != nil {
			return Body{}, lastErr
		}
	}
}

func (c *Client) fetchOnce(ctx context.Context, upstreamURL string) (Body, error) {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + c.path
	u.RawQuery = url.Values{"url": {upstreamURL}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Body{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Body{}, &Error{Message: err.Error(), Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return Body{}, &Error{Status: resp.StatusCode, Message: err.Error(), Cause: err}
	}
	if int64(len(raw)) > c.maxBody {
		return Body{}, &Error{Status: resp.StatusCode, Message: fmt.Sprintf("response exceeds %d bytes", c.maxBody)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Body{}, errorFromResponse(resp, raw)
	}

	return Body{
		Raw:         raw,
		ContentType: resp.Header.Get("Content-Type"),
		FromCache:   resp.Header.Get("X-Proxy-Cache") == "HIT",
	}, nil
}

func errorFromResponse(resp *http.Response, raw []byte) *Error {
	e := &Error{Status: resp.StatusCode}

	parsed := gjson.ParseBytes(raw)
	if parsed.IsObject() {
		e.Code = parsed.Get("code").String()
		e.Message = parsed.Get("error").String()
		e.Details = parsed.Get("details").String()
	}
	if e.Message == "" {
		e.Message = http.StatusText(resp.StatusCode)
	}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		e.RetryAfter = time.Duration(secs) * time.Second
	}
	return e
}

// backoff returns the delay before retry number attempt+1: base * 2^attempt,
// capped, with up to 20% jitter.
func (c *Client) backoff(attempt int) time.Duration {
	d := c.baseDelay << attempt
	if d <= 0 || d > c.maxDelay {
		d = c.maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d)/5 + 1))
	return d - jitter
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
