// Package config loads the finance proxy configuration from a TOML file,
// environment overrides and built-in defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/jassus213/go-finance-proxy/allowlist"
	"github.com/jassus213/go-finance-proxy/provider"
	"github.com/jassus213/go-finance-proxy/ratelimiter"
)

// Config is the complete proxy configuration.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Log         LogConfig         `toml:"log"`
	Limiter     LimiterConfig     `toml:"limiter"`
	Cache       CacheConfig       `toml:"cache"`
	Upstream    UpstreamConfig    `toml:"upstream"`
	GlobalLimit GlobalLimitConfig `toml:"global_limit"`
	Hosts       []HostConfig      `toml:"hosts"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
	// TrustForwardedHeaders identifies callers by X-Forwarded-For / X-Real-IP
	// instead of the connection address. Enable it only behind a proxy that
	// sets those headers.
	TrustForwardedHeaders bool          `toml:"trust_forwarded_headers"`
	ReadHeaderTimeout     time.Duration `toml:"read_header_timeout"`
	ShutdownTimeout       time.Duration `toml:"shutdown_timeout"`
}

type LogConfig struct {
	// Backend is one of zap, zerolog, logrus or std.
	Backend string `toml:"backend"`
	// Level is debug, info or error.
	Level string `toml:"level"`
	// Format is console or json. The std backend ignores it.
	Format string `toml:"format"`
}

type LimiterConfig struct {
	// Backend is memory or redis.
	Backend    string `toml:"backend"`
	MaxBuckets int    `toml:"max_buckets"`
	// IdleTimeout is how long an unused in-memory bucket survives.
	IdleTimeout time.Duration `toml:"idle_timeout"`
	// DefaultCapacity and DefaultRefillEvery apply to hosts without their
	// own bucket settings.
	DefaultCapacity    int64         `toml:"default_capacity"`
	DefaultRefillEvery time.Duration `toml:"default_refill_every"`
	Redis              RedisConfig   `toml:"redis"`
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

type CacheConfig struct {
	TTL             time.Duration `toml:"ttl"`
	MaxSize         int           `toml:"max_size"`
	CleanupInterval time.Duration `toml:"cleanup_interval"`
}

type UpstreamConfig struct {
	Timeout      time.Duration `toml:"timeout"`
	MaxBodyBytes int64         `toml:"max_body_bytes"`
	UserAgent    string        `toml:"user_agent"`
	Coalesce     bool          `toml:"coalesce"`
}

// GlobalLimitConfig caps each caller's requests across all hosts.
type GlobalLimitConfig struct {
	Enabled  bool          `toml:"enabled"`
	Requests int64         `toml:"requests"`
	Window   time.Duration `toml:"window"`
}

// HostConfig is one allowlisted upstream host.
type HostConfig struct {
	Name        string            `toml:"name"`
	Provider    provider.Provider `toml:"provider"`
	Capacity    int64             `toml:"capacity"`
	RefillEvery time.Duration     `toml:"refill_every"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Addr:                  ":8080",
			TrustForwardedHeaders: true,
			ReadHeaderTimeout:     10 * time.Second,
			ShutdownTimeout:       15 * time.Second,
		},
		Log: LogConfig{Backend: "zap", Level: "info", Format: "console"},
		Limiter: LimiterConfig{
			Backend:            "memory",
			MaxBuckets:         1000,
			IdleTimeout:        5 * time.Minute,
			DefaultCapacity:    ratelimiter.DefaultBucket.Capacity,
			DefaultRefillEvery: time.Second,
			Redis:              RedisConfig{Addr: "localhost:6379"},
		},
		Cache: CacheConfig{
			TTL:             10 * time.Second,
			MaxSize:         1000,
			CleanupInterval: 30 * time.Second,
		},
		Upstream: UpstreamConfig{
			Timeout:      30 * time.Second,
			MaxBodyBytes: 10 << 20,
			UserAgent:    "FinDashboard/1.0",
			Coalesce:     true,
		},
		GlobalLimit: GlobalLimitConfig{Requests: 600, Window: time.Minute},
	}
	for _, h := range allowlist.Default() {
		cfg.Hosts = append(cfg.Hosts, HostConfig{
			Name:        h.Name,
			Provider:    h.Provider,
			Capacity:    h.Bucket.Capacity,
			RefillEvery: time.Duration(float64(time.Millisecond) / h.Bucket.RefillPerMs).Round(time.Millisecond),
		})
	}
	return cfg
}

// Load reads path (if non-empty) over the defaults, then applies environment
// overrides and validates the result. A [[hosts]] list in the file replaces
// the built-in allowlist.
func Load(path string) (*Config, error) {
	return load(path, os.Environ())
}

func load(path string, environ []string) (*Config, error) {
	cfg := Default()

	if path != "" {
		defaultHosts := cfg.Hosts
		cfg.Hosts = nil

		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, errors.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
		}
		if !md.IsDefined("hosts") {
			cfg.Hosts = defaultHosts
		}
	}

	if err := applyEnvOverrides(cfg, environ); err != nil {
		return nil, errors.Wrap(err, "apply environment overrides")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the proxy cannot run with.
func (c *Config) Validate() error {
	switch c.Log.Backend {
	case "zap", "zerolog", "logrus", "std":
	default:
		return fmt.Errorf("log.backend: unknown backend %q", c.Log.Backend)
	}
	switch c.Log.Level {
	case "debug", "info", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", c.Log.Level)
	}
	switch c.Limiter.Backend {
	case "memory":
	case "redis":
		if c.Limiter.Redis.Addr == "" {
			return fmt.Errorf("limiter.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("limiter.backend: unknown backend %q", c.Limiter.Backend)
	}
	if !c.DefaultBucket().Valid() {
		return fmt.Errorf("limiter: default_capacity and default_refill_every must be positive")
	}
	if c.Cache.TTL <= 0 || c.Cache.MaxSize <= 0 {
		return fmt.Errorf("cache: ttl and max_size must be positive")
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream.timeout must be positive")
	}
	if c.GlobalLimit.Enabled && (c.GlobalLimit.Requests <= 0 || c.GlobalLimit.Window <= 0) {
		return fmt.Errorf("global_limit: requests and window must be positive")
	}
	if len(c.Hosts) == 0 {
		return fmt.Errorf("hosts: at least one host is required")
	}

	seen := make(map[string]bool, len(c.Hosts))
	for i, h := range c.Hosts {
		name := strings.ToLower(strings.TrimSpace(h.Name))
		if name == "" {
			return fmt.Errorf("hosts[%d]: name is required", i)
		}
		if strings.ContainsAny(name, "/:*") {
			return fmt.Errorf("hosts[%d]: %q must be a bare hostname", i, h.Name)
		}
		if seen[name] {
			return fmt.Errorf("hosts[%d]: duplicate host %q", i, name)
		}
		seen[name] = true
		if h.Capacity <= 0 || h.RefillEvery < time.Millisecond {
			return fmt.Errorf("hosts[%d] %s: capacity and refill_every must be positive", i, name)
		}
	}
	return nil
}

// DefaultBucket is the bucket used for hosts without their own settings.
func (c *Config) DefaultBucket() ratelimiter.BucketConfig {
	if c.Limiter.DefaultCapacity <= 0 || c.Limiter.DefaultRefillEvery < time.Millisecond {
		return ratelimiter.BucketConfig{}
	}
	return ratelimiter.RefillEvery(c.Limiter.DefaultCapacity, c.Limiter.DefaultRefillEvery)
}

// Allowlist builds the allowlist from the configured hosts.
func (c *Config) Allowlist() *allowlist.Allowlist {
	hosts := make([]allowlist.Host, 0, len(c.Hosts))
	for _, h := range c.Hosts {
		hosts = append(hosts, allowlist.Host{
			Name:     strings.TrimSpace(h.Name),
			Provider: h.Provider,
			Bucket:   ratelimiter.RefillEvery(h.Capacity, h.RefillEvery),
		})
	}
	return allowlist.New(hosts)
}
