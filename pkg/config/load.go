package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	dbDrivers    = []string{"memory", "sqlite", "postgres"}
	cacheDrivers = []string{"none", "memory", "redis"}
	isolations   = []string{"default", "read_committed", "repeatable_read", "serializable"}
)

func Load(envFilePath ...string) (*App, error) {
	logger := slog.Default()
	logger.Info("Loading environment variables")

	// If no specific paths provided, try default .env
	if len(envFilePath) == 0 {
		logger.Debug("No environment file specified, trying default .env")
		if err := godotenv.Load(); err != nil {
			logger.Warn("No .env file found in current directory")
		}
		return loadFromEnv()
	}

	for _, path := range envFilePath {
		logger.Debug("Looking for environment file", "path", path)
		foundPath, err := lookupEnvFile(path)
		if err != nil {
			logger.Debug("Environment file not found", "path", path, "error", err)
			continue
		}

		logger.Info("Loading environment from file", "path", foundPath)
		if err := godotenv.Load(foundPath); err != nil {
			logger.Error("Failed to load environment file", "path", foundPath, "error", err)
			continue
		}
		return loadFromEnv()
	}

	logger.Info("No valid environment files found, using default .env")
	if err := godotenv.Load(); err != nil {
		logger.Warn("No .env file found in current directory")
	}
	return loadFromEnv()
}

func loadFromEnv() (*App, error) {
	var cfg App
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	slog.Default().Info("App config loaded",
		"env", cfg.Env,
		"db_driver", cfg.DB.Driver,
		"db", maskValue(cfg.DB.Url),
		"isolation", cfg.DB.Isolation,
		"cursor_secret", maskValue(cfg.Cursor.Secret),
		"cache_driver", cfg.Cache.Driver,
		"cache_ttl", cfg.Cache.TTL,
		"redis", maskValue(cfg.Redis.URL),
		"paging_default", cfg.Paging.DefaultLimit,
		"paging_max", cfg.Paging.MaxLimit,
	)
	return &cfg, nil
}

// Validate rejects unknown drivers and inconsistent limits.
func (a *App) Validate() error {
	if !slices.Contains(dbDrivers, a.DB.Driver) {
		return fmt.Errorf("config: unknown database driver %q", a.DB.Driver)
	}
	if !slices.Contains(isolations, a.DB.Isolation) {
		return fmt.Errorf("config: unknown isolation level %q", a.DB.Isolation)
	}
	if !slices.Contains(cacheDrivers, a.Cache.Driver) {
		return fmt.Errorf("config: unknown cache driver %q", a.Cache.Driver)
	}
	if a.Cursor.Secret != "" && len(a.Cursor.Secret) < 16 {
		return fmt.Errorf("config: cursor secret must be at least 16 bytes")
	}
	if a.Paging.DefaultLimit <= 0 || a.Paging.MaxLimit < a.Paging.DefaultLimit {
		return fmt.Errorf("config: invalid paging limits %d/%d", a.Paging.DefaultLimit, a.Paging.MaxLimit)
	}
	return nil
}

func maskValue(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 6 {
		return "****"
	}
	return key[:2] + "****" + key[len(key)-4:]
}

// lookupEnvFile resolves name against the working directory and then each of
// its ancestors. Absolute names are only checked in place.
func lookupEnvFile(name string) (string, error) {
	if name == "" {
		name = ".env"
	}
	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err != nil {
			return "", err
		}
		return name, nil
	}
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err == nil && !info.IsDir() {
			return path, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		up := filepath.Dir(dir)
		if up == dir {
			return "", fmt.Errorf("config: %s: %w", name, fs.ErrNotExist)
		}
		dir = up
	}
}
