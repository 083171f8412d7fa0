package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/jassus213/go-finance-proxy/cache"
	"github.com/jassus213/go-finance-proxy/config"
	"github.com/jassus213/go-finance-proxy/provider"
	"github.com/jassus213/go-finance-proxy/proxy"
	"github.com/jassus213/go-finance-proxy/ratelimiter"
	"github.com/jassus213/go-finance-proxy/store"
)

// app is a fully wired proxy: limiter store, response cache, service and
// HTTP server.
type app struct {
	server  *proxy.Server
	service *proxy.Service
	closers []func() error
}

// newApp wires the proxy from cfg. Background cleanup goroutines stop when
// ctx is canceled; Close releases the remaining resources.
func newApp(ctx context.Context, cfg *config.Config, logger ratelimiter.Logger, keys provider.Keys) (*app, error) {
	a := &app{}
	allow := cfg.Allowlist()

	var (
		limiterStore ratelimiter.Store
		bucketCount  func() int
	)
	switch cfg.Limiter.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Limiter.Redis.Addr,
			Password: cfg.Limiter.Redis.Password,
			DB:       cfg.Limiter.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Limiter.Redis.Addr, err)
		}
		rs := store.NewRedis(client)
		limiterStore = rs
		a.closers = append(a.closers, rs.Close)
		logger.Infof("rate limits shared through redis at %s", cfg.Limiter.Redis.Addr)
	default:
		ms := store.NewMemory(ctx, store.MemoryOptions{
			MaxBuckets:  cfg.Limiter.MaxBuckets,
			IdleTimeout: cfg.Limiter.IdleTimeout,
		})
		limiterStore = ms
		bucketCount = ms.Len
		a.closers = append(a.closers, ms.Close)
	}

	responses := cache.New[proxy.Entry](ctx, cache.Options{
		TTL:             cfg.Cache.TTL,
		MaxSize:         cfg.Cache.MaxSize,
		CleanupInterval: cfg.Cache.CleanupInterval,
	})
	a.closers = append(a.closers, func() error {
		responses.Close()
		return nil
	})

	serviceOpts := []proxy.ServiceOption{
		proxy.WithKeys(keys),
		proxy.WithTimeout(cfg.Upstream.Timeout),
		proxy.WithCacheTTL(cfg.Cache.TTL),
		proxy.WithMaxBodyBytes(cfg.Upstream.MaxBodyBytes),
		proxy.WithUserAgent(cfg.Upstream.UserAgent),
		proxy.WithCoalescing(cfg.Upstream.Coalesce),
		proxy.WithServiceLogger(logger),
	}
	if bucketCount != nil {
		serviceOpts = append(serviceOpts, proxy.WithBucketCount(bucketCount))
	}
	limiter := ratelimiter.NewScoped(limiterStore, allow.Buckets(), cfg.DefaultBucket())
	a.service = proxy.NewService(allow, limiter, responses, serviceOpts...)

	keyFunc := ratelimiter.RemoteIP
	if cfg.Server.TrustForwardedHeaders {
		keyFunc = ratelimiter.ForwardedIP
	}

	var global ratelimiter.Limiter
	if cfg.GlobalLimit.Enabled {
		global = ratelimiter.NewFixedWindow(limiterStore, cfg.GlobalLimit.Requests, cfg.GlobalLimit.Window)
		logger.Infof("global limit: %d requests per %s per client", cfg.GlobalLimit.Requests, cfg.GlobalLimit.Window)
	}

	a.server = proxy.NewServer(proxy.ServerConfig{
		Addr:              cfg.Server.Addr,
		KeyFunc:           keyFunc,
		GlobalLimiter:     global,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		Logger:            logger,
	}, a.service)

	for _, h := range allow.Hosts() {
		if h.Provider != provider.None && !keys.Configured(h.Provider) {
			logger.Infof("%s is not set; requests to %s are forwarded without a key", h.Provider.KeyEnv(), h.Name)
		}
	}
	return a, nil
}

// Close releases the limiter store and the response cache.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
