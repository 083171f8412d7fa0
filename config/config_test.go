package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jassus213/go-finance-proxy/allowlist"
	"github.com/jassus213/go-finance-proxy/provider"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "finproxy.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault_MatchesBuiltInAllowlist(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	want := allowlist.Default()
	got := cfg.Allowlist().Hosts()
	require.Len(t, got, len(want))

	for _, h := range want {
		host, ok := cfg.Allowlist().Lookup(h.Name)
		require.True(t, ok, h.Name)
		assert.Equal(t, h.Provider, host.Provider)
		assert.Equal(t, h.Bucket.Capacity, host.Bucket.Capacity)
		assert.InDelta(t, h.Bucket.RefillPerMs, host.Bucket.RefillPerMs, 1e-12)
	}
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := load("", nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
[server]
addr = "127.0.0.1:9090"
trust_forwarded_headers = false

[log]
backend = "zerolog"
level = "debug"

[limiter]
backend = "redis"

[limiter.redis]
addr = "redis:6379"
db = 2

[cache]
ttl = "5s"

[upstream]
timeout = "3s"
coalesce = false

[[hosts]]
name = "FinnHub.io"
provider = "finnhub"
capacity = 30
refill_every = "2s"

[[hosts]]
name = "example.com"
capacity = 10
refill_every = "1m"
`)

	cfg, err := load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr)
	assert.False(t, cfg.Server.TrustForwardedHeaders)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "zerolog", cfg.Log.Backend)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "redis", cfg.Limiter.Backend)
	assert.Equal(t, "redis:6379", cfg.Limiter.Redis.Addr)
	assert.Equal(t, 2, cfg.Limiter.Redis.DB)
	assert.Equal(t, 5*time.Second, cfg.Cache.TTL)
	assert.Equal(t, 1000, cfg.Cache.MaxSize)
	assert.Equal(t, 3*time.Second, cfg.Upstream.Timeout)
	assert.False(t, cfg.Upstream.Coalesce)

	require.Len(t, cfg.Hosts, 2)
	allow := cfg.Allowlist()

	finnhub, ok := allow.Lookup("finnhub.io")
	require.True(t, ok)
	assert.Equal(t, provider.Finnhub, finnhub.Provider)
	assert.Equal(t, int64(30), finnhub.Bucket.Capacity)
	assert.InDelta(t, 0.5, finnhub.Bucket.Rate(), 1e-9)

	example, ok := allow.Lookup("example.com")
	require.True(t, ok)
	assert.Equal(t, provider.None, example.Provider)

	_, ok = allow.Lookup("www.alphavantage.co")
	assert.False(t, ok, "a hosts list replaces the built-in allowlist")
}

func TestLoad_KeepsDefaultHostsWhenOmitted(t *testing.T) {
	path := writeConfig(t, `
[server]
addr = ":9000"
`)
	cfg, err := load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, Default().Hosts, cfg.Hosts)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{
			name:    "unknown key",
			content: "[server]\nport = 8080\n",
			errMsg:  "unknown keys: server.port",
		},
		{
			name:    "unknown provider",
			content: "[[hosts]]\nname = \"a.com\"\nprovider = \"yahoo\"\ncapacity = 1\nrefill_every = \"1s\"\n",
			errMsg:  "yahoo",
		},
		{
			name:    "duplicate host",
			content: "[[hosts]]\nname = \"a.com\"\ncapacity = 1\nrefill_every = \"1s\"\n[[hosts]]\nname = \"A.com\"\ncapacity = 1\nrefill_every = \"1s\"\n",
			errMsg:  `duplicate host "a.com"`,
		},
		{
			name:    "zero capacity",
			content: "[[hosts]]\nname = \"a.com\"\ncapacity = 0\nrefill_every = \"1s\"\n",
			errMsg:  "capacity and refill_every must be positive",
		},
		{
			name:    "host with scheme",
			content: "[[hosts]]\nname = \"https://a.com\"\ncapacity = 1\nrefill_every = \"1s\"\n",
			errMsg:  "must be a bare hostname",
		},
		{
			name:    "unknown log backend",
			content: "[log]\nbackend = \"slog\"\n",
			errMsg:  `unknown backend "slog"`,
		},
		{
			name:    "unknown limiter backend",
			content: "[limiter]\nbackend = \"memcached\"\n",
			errMsg:  `unknown backend "memcached"`,
		},
		{
			name:    "global limit without window",
			content: "[global_limit]\nenabled = true\nwindow = \"0s\"\n",
			errMsg:  "global_limit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(writeConfig(t, tt.content), nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := load(filepath.Join(t.TempDir(), "missing.toml"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg, err := load("", []string{
		"FINPROXY_ADDR=:7070",
		"FINPROXY_TRUST_FORWARDED_HEADERS=false",
		"FINPROXY_LOG_BACKEND=Logrus",
		"FINPROXY_LOG_LEVEL=error",
		"FINPROXY_LIMITER_BACKEND=redis",
		"FINPROXY_REDIS_ADDR=cache:6380",
		"FINPROXY_CACHE_TTL=30s",
		"FINPROXY_UPSTREAM_TIMEOUT=2s",
		"FINPROXY_COALESCE=0",
		"FINPROXY_GLOBAL_LIMIT=100",
		"UNRELATED=1",
		"malformed",
	})
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.False(t, cfg.Server.TrustForwardedHeaders)
	assert.Equal(t, "logrus", cfg.Log.Backend)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, "redis", cfg.Limiter.Backend)
	assert.Equal(t, "cache:6380", cfg.Limiter.Redis.Addr)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.Equal(t, 2*time.Second, cfg.Upstream.Timeout)
	assert.False(t, cfg.Upstream.Coalesce)
	assert.True(t, cfg.GlobalLimit.Enabled)
	assert.Equal(t, int64(100), cfg.GlobalLimit.Requests)
}

func TestApplyEnvOverrides_InvalidValues(t *testing.T) {
	for _, env := range []string{
		"FINPROXY_TRUST_FORWARDED_HEADERS=maybe",
		"FINPROXY_CACHE_TTL=soon",
		"FINPROXY_GLOBAL_LIMIT=lots",
	} {
		t.Run(env, func(t *testing.T) {
			_, err := load("", []string{env})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid env value")
		})
	}
}
