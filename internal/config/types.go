package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds every option the proxy reads at startup.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Upstream UpstreamConfig `koanf:"upstream"`
	Session  SessionConfig  `koanf:"session"`
	Cache    CacheConfig    `koanf:"cache"`
}

// ServerConfig collects the listener and logging knobs owned by the lifecycle server.
type ServerConfig struct {
	Listen  ListenConfig  `koanf:"listen"`
	Logging LoggingConfig `koanf:"logging"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level, format, and correlation ID wiring.
type LoggingConfig struct {
	Level             string `koanf:"level"`
	Format            string `koanf:"format"`
	CorrelationHeader string `koanf:"correlationHeader"`
}

// UpstreamConfig describes the journal portal being proxied.
type UpstreamConfig struct {
	BaseURL              string   `koanf:"baseURL"`
	LoginPath            string   `koanf:"loginPath"`
	APIPath              string   `koanf:"apiPath"`
	UserAgent            string   `koanf:"userAgent"`
	SchoolCode           string   `koanf:"schoolCode"`
	LoginLengthThreshold int      `koanf:"loginLengthThreshold"`
	TimeoutSeconds       int      `koanf:"timeoutSeconds"`
	FailureMarkers       []string `koanf:"failureMarkers"`
	ResolveUserInfo      bool     `koanf:"resolveUserInfo"`
	DefaultStudentID     int64    `koanf:"defaultStudentId"`
	DefaultClassID       int64    `koanf:"defaultClassId"`
}

// Timeout converts TimeoutSeconds into a duration.
func (u UpstreamConfig) Timeout() time.Duration {
	return time.Duration(u.TimeoutSeconds) * time.Second
}

// SessionConfig controls session token issue and retention.
type SessionConfig struct {
	Backend        string      `koanf:"backend"`
	CookieName     string      `koanf:"cookieName"`
	SecureCookie   bool        `koanf:"secureCookie"`
	Retention      string      `koanf:"retention"`
	SweepThreshold int         `koanf:"sweepThreshold"`
	Redis          RedisConfig `koanf:"redis"`
}

// RetentionDuration parses Retention; callers run Validate first.
func (s SessionConfig) RetentionDuration() time.Duration {
	d, _ := time.ParseDuration(s.Retention)
	return d
}

// CacheConfig controls payload caching.
type CacheConfig struct {
	Backend        string      `koanf:"backend"`
	TTL            string      `koanf:"ttl"`
	Retention      string      `koanf:"retention"`
	SweepThreshold int         `koanf:"sweepThreshold"`
	Redis          RedisConfig `koanf:"redis"`
}

// TTLDuration parses TTL; callers run Validate first.
func (c CacheConfig) TTLDuration() time.Duration {
	d, _ := time.ParseDuration(c.TTL)
	return d
}

// RetentionDuration parses Retention; callers run Validate first.
func (c CacheConfig) RetentionDuration() time.Duration {
	d, _ := time.ParseDuration(c.Retention)
	return d
}

// RedisConfig is shared by the session and cache redis backends.
type RedisConfig struct {
	Address  string         `koanf:"address"`
	Username string         `koanf:"username"`
	Password string         `koanf:"password"`
	DB       int            `koanf:"db"`
	TLS      RedisTLSConfig `koanf:"tls"`
}

type RedisTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// Validate enforces invariants that keep the runtime predictable before serving traffic.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}

	base, err := url.Parse(strings.TrimSpace(c.Upstream.BaseURL))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return fmt.Errorf("config: upstream.baseURL invalid: %q", c.Upstream.BaseURL)
	}
	if c.Upstream.TimeoutSeconds <= 0 {
		return fmt.Errorf("config: upstream.timeoutSeconds invalid: %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.LoginLengthThreshold < 0 {
		return fmt.Errorf("config: upstream.loginLengthThreshold invalid: %d", c.Upstream.LoginLengthThreshold)
	}

	if strings.TrimSpace(c.Session.CookieName) == "" {
		return errors.New("config: session.cookieName required")
	}
	if err := validatePositiveDuration("session.retention", c.Session.Retention); err != nil {
		return err
	}
	if c.Session.SweepThreshold < 0 {
		return fmt.Errorf("config: session.sweepThreshold invalid: %d", c.Session.SweepThreshold)
	}
	if err := validateBackend("session", c.Session.Backend, c.Session.Redis); err != nil {
		return err
	}

	if err := validatePositiveDuration("cache.ttl", c.Cache.TTL); err != nil {
		return err
	}
	if err := validatePositiveDuration("cache.retention", c.Cache.Retention); err != nil {
		return err
	}
	if c.Cache.RetentionDuration() < c.Cache.TTLDuration() {
		return fmt.Errorf("config: cache.retention %s shorter than cache.ttl %s", c.Cache.Retention, c.Cache.TTL)
	}
	if c.Cache.SweepThreshold < 0 {
		return fmt.Errorf("config: cache.sweepThreshold invalid: %d", c.Cache.SweepThreshold)
	}
	return validateBackend("cache", c.Cache.Backend, c.Cache.Redis)
}

func validatePositiveDuration(name, value string) error {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("config: %s invalid: %w", name, err)
	}
	if d <= 0 {
		return fmt.Errorf("config: %s must be positive: %s", name, value)
	}
	return nil
}

func validateBackend(section, backend string, redis RedisConfig) error {
	switch strings.TrimSpace(strings.ToLower(backend)) {
	case "", "memory":
		return nil
	case "redis":
		if strings.TrimSpace(redis.Address) == "" {
			return fmt.Errorf("config: %s.redis.address required for redis backend", section)
		}
		return nil
	default:
		return fmt.Errorf("config: %s.backend unsupported: %s", section, backend)
	}
}

// DefaultConfig returns the baseline values matching the portal's observed behavior.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:             "info",
				Format:            "json",
				CorrelationHeader: "X-Request-ID",
			},
		},
		Upstream: UpstreamConfig{
			BaseURL:              "https://journal.school28-kirov.ru",
			LoginPath:            "/auth",
			APIPath:              "/act/",
			UserAgent:            "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
			SchoolCode:           "28",
			LoginLengthThreshold: 10,
			TimeoutSeconds:       10,
			FailureMarkers:       []string{"Неверный логин", "Ошибка"},
			DefaultStudentID:     4477,
			DefaultClassID:       1000,
		},
		Session: SessionConfig{
			Backend:        "memory",
			CookieName:     "session",
			Retention:      "24h",
			SweepThreshold: 100,
		},
		Cache: CacheConfig{
			Backend:        "memory",
			TTL:            "5m",
			Retention:      "30m",
			SweepThreshold: 100,
		},
	}
}
