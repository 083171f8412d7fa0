package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const envPrefix = "FINPROXY_"

func applyEnvOverrides(cfg *Config, environ []string) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	values := envMap(environ)

	if value, ok := values[envPrefix+"ADDR"]; ok {
		cfg.Server.Addr = value
	}
	if value, ok := values[envPrefix+"TRUST_FORWARDED_HEADERS"]; ok {
		parsed, err := parseBoolEnv(envPrefix+"TRUST_FORWARDED_HEADERS", value)
		if err != nil {
			return err
		}
		cfg.Server.TrustForwardedHeaders = parsed
	}
	if value, ok := values[envPrefix+"LOG_BACKEND"]; ok {
		cfg.Log.Backend = strings.ToLower(strings.TrimSpace(value))
	}
	if value, ok := values[envPrefix+"LOG_LEVEL"]; ok {
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(value))
	}
	if value, ok := values[envPrefix+"LOG_FORMAT"]; ok {
		cfg.Log.Format = strings.ToLower(strings.TrimSpace(value))
	}
	if value, ok := values[envPrefix+"LIMITER_BACKEND"]; ok {
		cfg.Limiter.Backend = strings.ToLower(strings.TrimSpace(value))
	}
	if value, ok := values[envPrefix+"REDIS_ADDR"]; ok {
		cfg.Limiter.Redis.Addr = value
	}
	if value, ok := values[envPrefix+"REDIS_PASSWORD"]; ok {
		cfg.Limiter.Redis.Password = value
	}
	if value, ok := values[envPrefix+"CACHE_TTL"]; ok {
		parsed, err := parseDurationEnv(envPrefix+"CACHE_TTL", value)
		if err != nil {
			return err
		}
		cfg.Cache.TTL = parsed
	}
	if value, ok := values[envPrefix+"UPSTREAM_TIMEOUT"]; ok {
		parsed, err := parseDurationEnv(envPrefix+"UPSTREAM_TIMEOUT", value)
		if err != nil {
			return err
		}
		cfg.Upstream.Timeout = parsed
	}
	if value, ok := values[envPrefix+"COALESCE"]; ok {
		parsed, err := parseBoolEnv(envPrefix+"COALESCE", value)
		if err != nil {
			return err
		}
		cfg.Upstream.Coalesce = parsed
	}
	if value, ok := values[envPrefix+"GLOBAL_LIMIT"]; ok {
		parsed, err := parseIntEnv(envPrefix+"GLOBAL_LIMIT", value)
		if err != nil {
			return err
		}
		cfg.GlobalLimit.Enabled = parsed > 0
		if parsed > 0 {
			cfg.GlobalLimit.Requests = parsed
		}
	}
	return nil
}

func envMap(environ []string) map[string]string {
	values := make(map[string]string)
	for _, entry := range environ {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		values[key] = parts[1]
	}
	return values
}

func parseBoolEnv(name, value string) (bool, error) {
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return false, errors.New("invalid env value for " + name)
	}
	return parsed, nil
}

func parseIntEnv(name, value string) (int64, error) {
	parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, errors.New("invalid env value for " + name)
	}
	return parsed, nil
}

func parseDurationEnv(name, value string) (time.Duration, error) {
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, errors.New("invalid env value for " + name)
	}
	return parsed, nil
}
