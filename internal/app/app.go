package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/surrealdb/canvassync/internal/config"
	"github.com/surrealdb/canvassync/pkg/assets"
	"github.com/surrealdb/canvassync/pkg/backend"
	"github.com/surrealdb/canvassync/pkg/backend/memory"
	"github.com/surrealdb/canvassync/pkg/backend/surreal"
	"github.com/surrealdb/canvassync/pkg/backend/wsrelay"
	"github.com/surrealdb/canvassync/pkg/localcache"
	"github.com/surrealdb/canvassync/pkg/logger"
	"github.com/surrealdb/canvassync/pkg/ratelimit"
)

// App wires the configured components together. Everything it opens is
// released by Close.
type App struct {
	cfg     *config.Config
	log     logger.Logger
	logData *logger.LogData

	mem     *memory.Server
	closers []func() error
}

func New(cfg *config.Config, o Options) (*App, error) {
	level := cfg.LogLevel
	if o.LogLevel != "" {
		level = o.LogLevel
	}
	build := logger.NewBuild().WithLevel(level)
	if o.LogFile != "" {
		build = build.FromPath(o.LogFile)
	}
	logData, err := build.Make()
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}

	a := &App{cfg: cfg, log: logData.AsLogger(), logData: logData}
	a.log.Debug("app: configuration loaded", "config", cfg.String())
	return a, nil
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases components in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	errs = append(errs, a.logData.Close())
	return errors.Join(errs...)
}

// dataDir holds the local cache and the device id.
func (a *App) dataDir() (string, error) {
	dir := a.cfg.CachePath
	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return "", fmt.Errorf("locate cache dir: %w", err)
		}
		dir = filepath.Join(base, "canvassync")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	return dir, nil
}

func (a *App) memoryServer() *memory.Server {
	if a.mem == nil {
		a.mem = memory.NewServer(memory.WithLogger(a.log))
	}
	return a.mem
}

// Backend connects to the configured backend.
func (a *App) Backend(ctx context.Context) (backend.Backend, error) {
	var (
		b   backend.Backend
		err error
	)
	switch a.cfg.Backend {
	case config.BackendMemory:
		b = a.memoryServer().Connect()
	case config.BackendRelay:
		b, err = wsrelay.Dial(ctx, a.cfg.RelayURL,
			wsrelay.WithLogger(a.log),
			wsrelay.WithRetryer(wsrelay.NewExponentialBackoffRetryer()),
		)
	case config.BackendSurrealDB:
		b, err = surreal.Connect(ctx, surreal.Config{
			URL:       a.cfg.SurrealURL,
			Namespace: a.cfg.SurrealNS,
			Database:  a.cfg.SurrealDB,
			Username:  a.cfg.SurrealUser,
			Password:  a.cfg.SurrealPass,
		}, surreal.WithLogger(a.log))
	default:
		err = fmt.Errorf("unknown backend %q", a.cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("connect %s backend: %w", a.cfg.Backend, err)
	}
	a.onClose(b.Close)
	a.log.Info("app: backend connected", "backend", a.cfg.Backend)
	return b, nil
}

// RateLimitStore is redis when REDIS_ADDR is set, memory otherwise.
func (a *App) RateLimitStore(ctx context.Context) (ratelimit.Store, error) {
	if a.cfg.RedisAddr == "" {
		return ratelimit.NewMemoryStore(), nil
	}
	store := ratelimit.NewRedisStore(ratelimit.RedisConfig{
		Addr:     a.cfg.RedisAddr,
		DB:       a.cfg.RedisDB,
		Password: a.cfg.RedisPassword,
	}, a.log)
	if err := store.Ping(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("redis %s: %w", a.cfg.RedisAddr, err)
	}
	return store, nil
}

// Limiter keys its checks by this machine's fingerprint.
func (a *App) Limiter(ctx context.Context) (*ratelimit.Limiter, error) {
	store, err := a.RateLimitStore(ctx)
	if err != nil {
		return nil, err
	}
	dir, err := a.dataDir()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	id, err := ratelimit.Fingerprint(filepath.Join(dir, "device-id"))
	if err != nil {
		a.log.Warn("app: no device fingerprint, limits are shared", "error", err)
		id = "anonymous"
	}
	l := ratelimit.New(store, ratelimit.WithIdentity(id), ratelimit.WithLogger(a.log))
	a.onClose(l.Close)
	return l, nil
}

func (a *App) Cache() (localcache.Cache, error) {
	dir, err := a.dataDir()
	if err != nil {
		return nil, err
	}
	var c localcache.Cache
	switch a.cfg.CacheDriver {
	case config.CacheSQLite:
		c, err = localcache.NewSQLiteCache(filepath.Join(dir, "cache.db"))
	default:
		c, err = localcache.NewFileCache(filepath.Join(dir, "canvases"))
	}
	if err != nil {
		return nil, err
	}
	a.onClose(c.Close)
	return c, nil
}

// Assets is nil when no S3 endpoint is configured.
func (a *App) Assets() (assets.Store, error) {
	if a.cfg.S3Endpoint == "" {
		return nil, nil
	}
	store, err := assets.NewMinioStore(assets.S3Config{
		Endpoint:  a.cfg.S3Endpoint,
		Region:    a.cfg.S3Region,
		Bucket:    a.cfg.S3Bucket,
		AccessKey: a.cfg.S3AccessKey,
		SecretKey: a.cfg.S3SecretKey,
		UseSSL:    a.cfg.S3UseSSL,
		PathStyle: a.cfg.S3PathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("asset store: %w", err)
	}
	return store, nil
}
