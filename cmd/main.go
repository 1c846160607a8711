package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/l0p7/journalgate/internal/cache"
	"github.com/l0p7/journalgate/internal/config"
	"github.com/l0p7/journalgate/internal/logging"
	"github.com/l0p7/journalgate/internal/metrics"
	"github.com/l0p7/journalgate/internal/proxy"
	"github.com/l0p7/journalgate/internal/redisconn"
	"github.com/l0p7/journalgate/internal/server"
	"github.com/l0p7/journalgate/internal/session"
	"github.com/l0p7/journalgate/internal/upstream"
)

type configLoader interface {
	Load(context.Context) (config.Config, error)
}

type runnableServer interface {
	Run(context.Context) error
}

var (
	newConfigLoader = func(envPrefix, configFile string) configLoader {
		return config.NewLoader(envPrefix, configFile)
	}
	newHTTPServer = func(cfg config.Config, logger *slog.Logger, handler http.Handler) (runnableServer, error) {
		return server.New(cfg, logger, handler)
	}
)

func main() {
	var (
		configFile = flag.String("config", "", "path to configuration file (yaml, json or toml)")
		envPrefix  = flag.String("env-prefix", "JOURNALGATE", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *envPrefix, *configFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, envPrefix, configFile string) error {
	cfg, err := newConfigLoader(envPrefix, configFile).Load(ctx)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}

	recorder := metrics.NewRecorder(prometheus.NewRegistry())
	handler, closeApp, err := buildApp(cfg, logger, recorder)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := closeApp(shutdownCtx); err != nil {
			logger.Error("store shutdown failed", slog.Any("error", err))
		}
	}()

	srv, err := newHTTPServer(cfg, logger, handler)
	if err != nil {
		return fmt.Errorf("construct server: %w", err)
	}
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server terminated: %w", err)
	}
	logger.Info("server shutdown complete")
	return nil
}

// buildApp assembles the portal client, stores and routes. The returned closer
// releases the stores.
func buildApp(cfg config.Config, logger *slog.Logger, recorder *metrics.Recorder) (http.Handler, func(context.Context) error, error) {
	portal, err := upstream.New(upstream.Config{
		BaseURL:              cfg.Upstream.BaseURL,
		LoginPath:            cfg.Upstream.LoginPath,
		APIPath:              cfg.Upstream.APIPath,
		UserAgent:            cfg.Upstream.UserAgent,
		SchoolCode:           cfg.Upstream.SchoolCode,
		LoginLengthThreshold: cfg.Upstream.LoginLengthThreshold,
		FailureMarkers:       cfg.Upstream.FailureMarkers,
		Timeout:              cfg.Upstream.Timeout(),
	}, logger, upstream.WithMetrics(recorder))
	if err != nil {
		return nil, nil, fmt.Errorf("build upstream client: %w", err)
	}

	factoryLogger := logger.With(slog.String("agent", "store_factory"))
	sessions := buildSessionStore(factoryLogger, cfg.Session, recorder)
	payloads := buildPayloadCache(factoryLogger, cfg.Cache, recorder)

	h, err := proxy.New(logger, proxy.Options{
		Portal:   portal,
		Sessions: sessions,
		Cache:    payloads,
		Metrics:  recorder,
		Cookie: proxy.CookieOptions{
			Name:   cfg.Session.CookieName,
			Secure: cfg.Session.SecureCookie,
			MaxAge: cfg.Session.RetentionDuration(),
		},
		Identity: upstream.IdentityDefaults{
			StudentID: cfg.Upstream.DefaultStudentID,
			ClassID:   cfg.Upstream.DefaultClassID,
		},
		ResolveUserInfo:   cfg.Upstream.ResolveUserInfo,
		CorrelationHeader: cfg.Server.Logging.CorrelationHeader,
	})
	if err != nil {
		_ = sessions.Close(context.Background())
		_ = payloads.Close(context.Background())
		return nil, nil, fmt.Errorf("build proxy: %w", err)
	}

	return server.NewProxyHandler(h, proxy.WithDataType, recorder.Handler()), h.Close, nil
}

func redisConn(cfg config.RedisConfig) redisconn.Config {
	return redisconn.Config{
		Address:  cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
		TLS: redisconn.TLSConfig{
			Enabled: cfg.TLS.Enabled,
			CAFile:  cfg.TLS.CAFile,
		},
	}
}

func buildSessionStore(logger *slog.Logger, cfg config.SessionConfig, recorder *metrics.Recorder) session.Store {
	retention := cfg.RetentionDuration()
	memory := func() session.Store {
		return session.NewMemory(session.MemoryOptions{
			Retention:      retention,
			SweepThreshold: cfg.SweepThreshold,
			OnSweep:        func(removed int) { recorder.ObserveSweep("session", removed) },
		})
	}

	switch strings.TrimSpace(strings.ToLower(cfg.Backend)) {
	case "", "memory":
		logger.Info("using memory session store", slog.Duration("retention", retention))
		return memory()
	case "redis":
		store, err := session.NewRedis(redisConn(cfg.Redis), session.RedisOptions{Retention: retention})
		if err != nil {
			logger.Error("redis session store initialization failed", slog.Any("error", err))
			logger.Info("falling back to memory session store")
			return memory()
		}
		logger.Info("using redis session store", slog.String("address", cfg.Redis.Address))
		return store
	default:
		logger.Warn("unsupported session backend, defaulting to memory", slog.String("backend", cfg.Backend))
		return memory()
	}
}

func buildPayloadCache(logger *slog.Logger, cfg config.CacheConfig, recorder *metrics.Recorder) cache.PayloadCache {
	ttl, retention := cfg.TTLDuration(), cfg.RetentionDuration()
	memory := func() cache.PayloadCache {
		return cache.NewMemory(cache.MemoryOptions{
			TTL:            ttl,
			Retention:      retention,
			SweepThreshold: cfg.SweepThreshold,
			OnSweep:        func(removed int) { recorder.ObserveSweep("cache", removed) },
		})
	}

	switch strings.TrimSpace(strings.ToLower(cfg.Backend)) {
	case "", "memory":
		logger.Info("using memory payload cache", slog.Duration("ttl", ttl), slog.Duration("retention", retention))
		return memory()
	case "redis":
		payloads, err := cache.NewRedis(redisConn(cfg.Redis), cache.RedisOptions{TTL: ttl, Retention: retention})
		if err != nil {
			logger.Error("redis payload cache initialization failed", slog.Any("error", err))
			logger.Info("falling back to memory payload cache")
			return memory()
		}
		logger.Info("using redis payload cache", slog.String("address", cfg.Redis.Address))
		return payloads
	default:
		logger.Warn("unsupported cache backend, defaulting to memory", slog.String("backend", cfg.Backend))
		return memory()
	}
}
