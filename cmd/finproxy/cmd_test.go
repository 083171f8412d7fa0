package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jassus213/go-finance-proxy/config"
	"github.com/jassus213/go-finance-proxy/provider"
	"github.com/jassus213/go-finance-proxy/ratelimiter"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "finproxy.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestHostsCmd(t *testing.T) {
	t.Setenv("FINNHUB_TOKEN", "secret-token")
	t.Setenv("POLYGON_API_KEY", "")

	out, err := runCmd(t, "hosts")
	require.NoError(t, err)

	assert.Contains(t, out, "HOST")
	assert.Regexp(t, `finnhub\.io\s+finnhub\s+60\s+1 per 1s\s+set \(FINNHUB_TOKEN\)`, out)
	assert.Regexp(t, `api\.polygon\.io\s+polygon\s+5\s+1 per 12s\s+missing \(POLYGON_API_KEY\)`, out)
	assert.NotContains(t, out, "secret-token")
}

func TestHostsCmd_FromConfigFile(t *testing.T) {
	path := writeConfig(t, `
[[hosts]]
name = "data.example.com"
capacity = 3
refill_every = "10s"
`)
	out, err := runCmd(t, "hosts", "--config", path)
	require.NoError(t, err)
	assert.Regexp(t, `data\.example\.com\s+none\s+3\s+1 per 10s\s+-`, out)
	assert.NotContains(t, out, "finnhub.io")
}

func TestCheckCmd(t *testing.T) {
	t.Setenv("FINNHUB_TOKEN", "secret-token")

	out, err := runCmd(t, "check", "https://finnhub.io/api/v1/quote?symbol=AAPL")
	require.NoError(t, err)

	assert.Contains(t, out, "allowed:  finnhub.io")
	assert.Contains(t, out, "provider: finnhub")
	assert.Contains(t, out, "api key:  set (FINNHUB_TOKEN)")
	assert.Contains(t, out, "upstream: https://finnhub.io/api/v1/quote?symbol=AAPL")
	assert.NotContains(t, out, "secret-token")
}

func TestCheckCmd_Rejected(t *testing.T) {
	tests := []struct {
		url    string
		errMsg string
	}{
		{"https://evil.example.com/x", "Host evil.example.com is not in the allowlist"},
		{"ftp://finnhub.io/quote", "Only HTTP and HTTPS protocols are allowed"},
		{"https://finnhub.io/../etc/passwd", "Invalid path detected"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			_, err := runCmd(t, "check", tt.url)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestFetchCmd_Fields(t *testing.T) {
	var gotURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.Query().Get("url")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"c":189.5,"dp":0.0125,"name":"Apple"}`))
	}))
	defer srv.Close()

	out, err := runCmd(t, "fetch", "https://finnhub.io/api/v1/quote?symbol=AAPL",
		"--proxy", srv.URL, "--field", "c", "--format", "currency")
	require.NoError(t, err)
	assert.Equal(t, "c\t$189.50\n", out)
	assert.Equal(t, "https://finnhub.io/api/v1/quote?symbol=AAPL", gotURL)

	out, err = runCmd(t, "fetch", "https://finnhub.io/api/v1/quote?symbol=AAPL",
		"--proxy", srv.URL, "--field", "dp", "--format", "percent")
	require.NoError(t, err)
	assert.Equal(t, "dp\t1.25%\n", out)
}

func TestFetchCmd_Paths(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"quote":{"price":1,"symbol":"MSFT"}}`))
	}))
	defer srv.Close()

	out, err := runCmd(t, "fetch", "https://api.twelvedata.com/quote?symbol=MSFT", "--proxy", srv.URL, "--paths")
	require.NoError(t, err)
	assert.Equal(t, "quote\nquote.price\nquote.symbol\n", out)
}

func TestFetchCmd_MissingFieldSuggests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"quote":{"price":1}}`))
	}))
	defer srv.Close()

	_, err := runCmd(t, "fetch", "https://api.twelvedata.com/quote", "--proxy", srv.URL, "--field", "price")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `field "price" not found (did you mean quote.price?)`)
}

func TestFetchCmd_ProxyError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"Host evil.example.com is not in the allowlist","code":"BLOCKED_HOST"}`))
	}))
	defer srv.Close()

	_, err := runCmd(t, "fetch", "https://evil.example.com/", "--proxy", srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in the allowlist")
}

func TestFetchCmd_InvalidFormat(t *testing.T) {
	_, err := runCmd(t, "fetch", "https://finnhub.io/", "--format", "roman")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown format "roman"`)
}

func TestNewLogger(t *testing.T) {
	for _, backend := range []string{"zap", "zerolog", "logrus", "std"} {
		t.Run(backend, func(t *testing.T) {
			var buf bytes.Buffer
			logger, flush, err := newLogger(config.LogConfig{Backend: backend, Level: "info"}, &buf)
			require.NoError(t, err)

			logger.Debugf("hidden %d", 1)
			logger.Infof("listening on %s", ":8080")
			logger.Errorf("upstream timeout for %s", "finnhub.io")
			flush()

			out := buf.String()
			assert.NotContains(t, out, "hidden")
			assert.Contains(t, out, "listening on :8080")
			assert.Contains(t, out, "upstream timeout for finnhub.io")
		})
	}

	_, _, err := newLogger(config.LogConfig{Backend: "syslog"}, &bytes.Buffer{})
	assert.Error(t, err)
}

// upstreamConfig allowlists the loopback test server with a small bucket.
func upstreamConfig(t *testing.T, upstream *httptest.Server) (*config.Config, string) {
	t.Helper()
	u, err := url.Parse(upstream.URL)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Server.TrustForwardedHeaders = false
	cfg.Hosts = []config.HostConfig{{Name: u.Hostname(), Capacity: 2, RefillEvery: time.Hour}}
	require.NoError(t, cfg.Validate())
	return cfg, upstream.URL + "/quote?symbol=AAPL"
}

func proxyGet(h http.Handler, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/proxy?url="+url.QueryEscape(target), nil)
	req.RemoteAddr = "198.51.100.7:52000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewApp_MemoryBackend(t *testing.T) {
	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"c":189.5}`))
	}))
	defer upstream.Close()

	cfg, target := upstreamConfig(t, upstream)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, ratelimiter.NopLogger(), provider.Keys{})
	require.NoError(t, err)
	defer a.Close()

	h := a.server.Handler()

	first := proxyGet(h, target)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	assert.Equal(t, "MISS", first.Header().Get("X-Proxy-Cache"))
	assert.JSONEq(t, `{"c":189.5}`, first.Body.String())

	second := proxyGet(h, target)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get("X-Proxy-Cache"))
	assert.Equal(t, int32(1), calls.Load())

	third := proxyGet(h, target)
	assert.Equal(t, http.StatusTooManyRequests, third.Code)
	assert.Equal(t, "3600", third.Header().Get("Retry-After"))

	stats := a.service.Stats()
	assert.Equal(t, 1, stats.Limiter.Buckets)
	assert.Equal(t, int64(1), stats.Cache.Hits)
}

func TestNewApp_RedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	cfg, target := upstreamConfig(t, upstream)
	cfg.Limiter.Backend = "redis"
	cfg.Limiter.Redis.Addr = mr.Addr()
	cfg.Upstream.Coalesce = false

	a, err := newApp(context.Background(), cfg, ratelimiter.NopLogger(), provider.Keys{})
	require.NoError(t, err)
	defer a.Close()

	rec := proxyGet(a.server.Handler(), target)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, mr.Keys())
}

func TestNewApp_RedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := config.Default()
	cfg.Limiter.Backend = "redis"
	cfg.Limiter.Redis.Addr = addr

	_, err := newApp(context.Background(), cfg, ratelimiter.NopLogger(), provider.Keys{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect to redis")
}

func TestNewApp_GlobalLimit(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	cfg, target := upstreamConfig(t, upstream)
	cfg.GlobalLimit = config.GlobalLimitConfig{Enabled: true, Requests: 1, Window: time.Minute}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := newApp(ctx, cfg, ratelimiter.NopLogger(), provider.Keys{})
	require.NoError(t, err)
	defer a.Close()

	h := a.server.Handler()
	require.Equal(t, http.StatusOK, proxyGet(h, target).Code)

	rec := proxyGet(h, target)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"error":"Rate limit exceeded","code":"RATE_LIMIT_EXCEEDED","details":"Too many requests from this client"}`, rec.Body.String())
}
