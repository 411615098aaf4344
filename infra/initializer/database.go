package initializer

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/amirasaad/persistence/pkg/config"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDBConnection opens the database named by cfg. Duplicate-key errors are
// translated so the relational backend can report conflicts.
func NewDBConnection(cfg *config.DB, appEnv string) (*gorm.DB, error) {
	if cfg.Url == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.Url)
	case "sqlite":
		dialector = sqlite.Open(cfg.Url)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	logMode := logger.Silent
	if cfg.Debug || appEnv == "development" {
		logMode = logger.Warn
	}
	if cfg.Debug {
		logMode = logger.Info
	}

	connection, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 logger.Default.LogMode(logMode),
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := connection.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.MaxLifetime)

	return connection, nil
}

// IsolationLevel maps the configured name to a database/sql level.
func IsolationLevel(name string) (sql.IsolationLevel, error) {
	switch name {
	case "default":
		return sql.LevelDefault, nil
	case "", "read_committed":
		return sql.LevelReadCommitted, nil
	case "repeatable_read":
		return sql.LevelRepeatableRead, nil
	case "serializable":
		return sql.LevelSerializable, nil
	}
	return 0, fmt.Errorf("unknown isolation level %q", name)
}
