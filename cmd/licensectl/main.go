// Command licensectl administers the licenses, API keys and dashboard of a
// license API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/coder/quartz"
	"github.com/joho/godotenv"
	"github.com/kiranshivaraju/licensectl/internal/apiclient"
	"github.com/kiranshivaraju/licensectl/internal/cache"
	"github.com/kiranshivaraju/licensectl/internal/cli"
	"github.com/kiranshivaraju/licensectl/internal/config"
	"github.com/kiranshivaraju/licensectl/internal/logger"
	"github.com/kiranshivaraju/licensectl/internal/querycache"
	"github.com/kiranshivaraju/licensectl/internal/service"
	"github.com/kiranshivaraju/licensectl/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx, builder(os.Stderr), os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// builder returns the cli.Builder wiring the console. Diagnostics are logged
// to logOut.
func builder(logOut io.Writer) cli.Builder {
	return func(ctx context.Context, configPath string) (*cli.App, error) {
		return build(ctx, configPath, logOut)
	}
}

func build(ctx context.Context, configPath string, logOut io.Writer) (app *cli.App, err error) {
	// 1. Environment and config. A missing .env file is fine.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.Log.Level, logOut)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	var closers []func() error
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		closers = nil
		return errors.Join(errs...)
	}
	defer func() {
		if err != nil {
			_ = closeAll()
		}
	}()
	closers = append(closers, func() error {
		_ = log.Sync()
		return nil
	})

	// 2. Caches. Redis when configured, memory otherwise.
	var store cache.Cache = cache.NewMemoryCache()
	var redisCache *cache.RedisCache
	if cfg.Redis.URL != "" {
		redisCache, err = cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("create redis cache: %w", err)
		}
		closers = append(closers, redisCache.Close)
		if err := redisCache.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		store = redisCache
		log.Debug("redis connected")
	}

	// 3. Session.
	var persister session.Persister
	switch cfg.Session.Backend {
	case config.SessionBackendRedis:
		persister = session.NewCachePersister(redisCache, cfg.Session.Name)
	default:
		persister = session.NewFilePersister(cfg.Session.File)
	}
	sessions := session.NewStore(persister, log.Named("session"))
	// A session that cannot be restored is logged and leaves the console
	// signed out.
	_ = sessions.Rehydrate(ctx)

	var (
		creds    apiclient.CredentialProvider = sessions
		provider *session.OIDCProvider
	)
	if cfg.Auth.Mode == config.AuthModeOIDC {
		provider, err = session.NewOIDCProvider(ctx, session.OIDCConfig{
			Issuer:    cfg.OIDC.Issuer,
			ClientID:  cfg.OIDC.ClientID,
			ProjectID: cfg.OIDC.ProjectID,
		}, sessions, log.Named("oidc"))
		if err != nil {
			return nil, fmt.Errorf("create oidc provider: %w", err)
		}
		creds = provider
	}

	// 4. API client and services.
	reg := prometheus.NewRegistry()
	api, err := apiclient.New(cfg.API.URL, creds, apiclient.Options{
		Timeout:    cfg.API.Timeout,
		Logger:     log.Named("api"),
		Registerer: reg,
	})
	if err != nil {
		return nil, fmt.Errorf("create api client: %w", err)
	}
	if path := cfg.Metrics.Textfile; path != "" {
		closers = append(closers, func() error {
			if err := prometheus.WriteToTextfile(path, reg); err != nil {
				return fmt.Errorf("write metrics: %w", err)
			}
			return nil
		})
	}

	services := service.New(
		api,
		querycache.New(store, log.Named("querycache")),
		sessions,
		service.Config{TTL: cfg.Cache.TTL, APIKeysTTL: cfg.Cache.APIKeysTTL},
		log.Named("service"),
	)

	log.Debug("console ready",
		zap.String("api", cfg.API.URL),
		zap.String("auth_mode", cfg.Auth.Mode),
		zap.String("session_backend", cfg.Session.Backend),
	)

	return &cli.App{
		Config:   cfg,
		Services: services,
		Store:    sessions,
		OIDC:     provider,
		Log:      log,
		Clock:    quartz.NewReal(),
		Close:    closeAll,
	}, nil
}
