package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the runtime configuration while respecting env > file > default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator that honors the env-first contract before touching files or defaults.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// envCanonical maps lowercased env-derived keys back to their camelCase koanf paths.
var envCanonical = map[string]string{
	"server.logging.correlationheader": "server.logging.correlationHeader",
	"upstream.baseurl":                 "upstream.baseURL",
	"upstream.loginpath":               "upstream.loginPath",
	"upstream.apipath":                 "upstream.apiPath",
	"upstream.useragent":               "upstream.userAgent",
	"upstream.schoolcode":              "upstream.schoolCode",
	"upstream.loginlengththreshold":    "upstream.loginLengthThreshold",
	"upstream.timeoutseconds":          "upstream.timeoutSeconds",
	"upstream.failuremarkers":          "upstream.failureMarkers",
	"upstream.resolveuserinfo":         "upstream.resolveUserInfo",
	"upstream.defaultstudentid":        "upstream.defaultStudentId",
	"upstream.defaultclassid":          "upstream.defaultClassId",
	"session.cookiename":               "session.cookieName",
	"session.securecookie":             "session.secureCookie",
	"session.sweepthreshold":           "session.sweepThreshold",
	"session.redis.tls.cafile":         "session.redis.tls.caFile",
	"cache.sweepthreshold":             "cache.sweepThreshold",
	"cache.redis.tls.cafile":           "cache.redis.tls.caFile",
}

// Load assembles the effective snapshot using the documented precedence rules.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(DefaultConfig()), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		parser, err := parserFor(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		transform := func(s string) string {
			// Double underscores signal a nested path (UPSTREAM__BASEURL -> upstream.baseURL).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			key = strings.ReplaceAll(key, "_", "")
			lower := strings.ToLower(key)
			if mapped, ok := envCanonical[lower]; ok {
				return mapped
			}
			return lower
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", "":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	case ".toml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported file format %s", filepath.Ext(path))
	}
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":             cfg.Server.Logging.Level,
				"format":            cfg.Server.Logging.Format,
				"correlationHeader": cfg.Server.Logging.CorrelationHeader,
			},
		},
		"upstream": map[string]any{
			"baseURL":              cfg.Upstream.BaseURL,
			"loginPath":            cfg.Upstream.LoginPath,
			"apiPath":              cfg.Upstream.APIPath,
			"userAgent":            cfg.Upstream.UserAgent,
			"schoolCode":           cfg.Upstream.SchoolCode,
			"loginLengthThreshold": cfg.Upstream.LoginLengthThreshold,
			"timeoutSeconds":       cfg.Upstream.TimeoutSeconds,
			"failureMarkers":       append([]string(nil), cfg.Upstream.FailureMarkers...),
			"resolveUserInfo":      cfg.Upstream.ResolveUserInfo,
			"defaultStudentId":     cfg.Upstream.DefaultStudentID,
			"defaultClassId":       cfg.Upstream.DefaultClassID,
		},
		"session": map[string]any{
			"backend":        cfg.Session.Backend,
			"cookieName":     cfg.Session.CookieName,
			"secureCookie":   cfg.Session.SecureCookie,
			"retention":      cfg.Session.Retention,
			"sweepThreshold": cfg.Session.SweepThreshold,
			"redis":          redisToMap(cfg.Session.Redis),
		},
		"cache": map[string]any{
			"backend":        cfg.Cache.Backend,
			"ttl":            cfg.Cache.TTL,
			"retention":      cfg.Cache.Retention,
			"sweepThreshold": cfg.Cache.SweepThreshold,
			"redis":          redisToMap(cfg.Cache.Redis),
		},
	}
}

func redisToMap(cfg RedisConfig) map[string]any {
	return map[string]any{
		"address":  cfg.Address,
		"username": cfg.Username,
		"password": cfg.Password,
		"db":       cfg.DB,
		"tls": map[string]any{
			"enabled": cfg.TLS.Enabled,
			"caFile":  cfg.TLS.CAFile,
		},
	}
}
