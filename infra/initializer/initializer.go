// Package initializer wires configuration into a ready persistence stack.
package initializer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/amirasaad/persistence/infra/cache"
	"github.com/amirasaad/persistence/infra/repository/memory"
	"github.com/amirasaad/persistence/infra/repository/relational"
	"github.com/amirasaad/persistence/pkg/clock"
	"github.com/amirasaad/persistence/pkg/config"
	"github.com/amirasaad/persistence/pkg/pagination"
	"github.com/amirasaad/persistence/pkg/repository"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Deps holds the infrastructure built from configuration.
type Deps struct {
	Logger  *slog.Logger
	Config  *config.App
	Factory repository.Factory
	// DB is nil for the memory driver.
	DB *gorm.DB
	// Cache is nil when caching is disabled.
	Cache   cache.Cache
	closers []func() error
}

// InitializeDependencies initializes all the application dependencies
func InitializeDependencies(cfg *config.App) (*Deps, error) {
	deps := &Deps{Config: cfg, Logger: SetupLogger(cfg.Log)}
	if err := deps.init(); err != nil {
		return nil, err
	}
	return deps, nil
}

func (d *Deps) init() (err error) {
	cfg := d.Config
	defer func() {
		if err != nil {
			_ = d.Close()
		}
	}()

	var codec *pagination.Codec
	if cfg.Cursor.Secret != "" {
		if codec, err = pagination.NewCodec([]byte(cfg.Cursor.Secret)); err != nil {
			return fmt.Errorf("failed to build cursor codec: %w", err)
		}
	} else {
		d.Logger.Warn("No cursor secret configured, cursors will not survive a restart")
	}
	limits := repository.Limits{Default: cfg.Paging.DefaultLimit, Max: cfg.Paging.MaxLimit}

	if cfg.DB.Driver == "memory" {
		opts := []memory.Option{memory.WithLimits(limits), memory.WithLogger(d.Logger), memory.WithClock(clock.System)}
		if codec != nil {
			opts = append(opts, memory.WithCodec(codec))
		}
		d.Factory = memory.NewStore(opts...)
		d.Logger.Info("Using in-memory store")
	} else {
		if d.DB, err = NewDBConnection(cfg.DB, cfg.Env); err != nil {
			d.Logger.Error("Failed to initialize database", "error", err)
			return err
		}
		sqlDB, err := d.DB.DB()
		if err != nil {
			return err
		}
		d.closers = append(d.closers, sqlDB.Close)

		level, err := IsolationLevel(cfg.DB.Isolation)
		if err != nil {
			return err
		}
		// SQLite transactions are always serializable.
		if cfg.DB.Driver == "sqlite" {
			level = sql.LevelDefault
		}
		opts := []relational.Option{
			relational.WithLimits(limits),
			relational.WithLogger(d.Logger),
			relational.WithIsolation(level),
			relational.WithClock(clock.System),
		}
		if codec != nil {
			opts = append(opts, relational.WithCodec(codec))
		}
		d.Factory = relational.NewFactory(d.DB, opts...)
		d.Logger.Info("Using relational store", "driver", cfg.DB.Driver, "isolation", level)
	}

	return d.initCache()
}

func (d *Deps) initCache() error {
	cfg := d.Config
	switch cfg.Cache.Driver {
	case "", "none":
		return nil
	case "memory":
		mc := cache.NewMemoryCache(clock.System, cfg.Cache.SweepInterval)
		d.closers = append(d.closers, func() error { mc.Close(); return nil })
		d.Cache = mc
		d.Logger.Info("Using in-memory read cache", "ttl", cfg.Cache.TTL)
		return nil
	case "redis":
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			d.Logger.Error("Invalid Redis URL", "error", err)
			return err
		}
		opt.PoolSize = cfg.Redis.PoolSize
		opt.DialTimeout = cfg.Redis.DialTimeout
		opt.ReadTimeout = cfg.Redis.ReadTimeout
		opt.WriteTimeout = cfg.Redis.WriteTimeout

		rc := cache.NewRedisCache(redis.NewClient(opt), cfg.Cache.Prefix, d.Logger)
		d.closers = append(d.closers, rc.Close)
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Redis.DialTimeout+time.Second)
		defer cancel()
		if err := rc.Ping(ctx); err != nil {
			return fmt.Errorf("failed to reach redis: %w", err)
		}
		d.Cache = rc
		d.Logger.Info("Using Redis read cache", "ttl", cfg.Cache.TTL, "prefix", cfg.Cache.Prefix)
		return nil
	}
	return fmt.Errorf("unsupported cache driver %q", cfg.Cache.Driver)
}

// Migrate creates or updates the tables of models. It is a no-op for the
// memory driver.
func (d *Deps) Migrate(models ...any) error {
	if d.DB == nil {
		return nil
	}
	return d.DB.AutoMigrate(models...)
}

// Close releases connections in reverse order of acquisition.
func (d *Deps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i]())
	}
	d.closers = nil
	return errors.Join(errs...)
}
