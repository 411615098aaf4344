package config

import (
	"time"
)

type Log struct {
	Level      int    `envconfig:"LEVEL" default:"0"`
	Format     string `envconfig:"FORMAT" default:"text"`
	TimeFormat string `envconfig:"TIME_FORMAT" default:"2006-01-02 15:04:05"`
	Prefix     string `envconfig:"PREFIX" default:"[persistence]"`
}

// DB selects the relational backend. Driver "memory" skips the database.
type DB struct {
	Driver       string        `envconfig:"DRIVER" default:"sqlite"`
	Url          string        `envconfig:"URL" default:"file:persistence.db?_journal_mode=WAL&_busy_timeout=5000"`
	Isolation    string        `envconfig:"ISOLATION" default:"read_committed"`
	MaxOpenConns int           `envconfig:"MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns int           `envconfig:"MAX_IDLE_CONNS" default:"5"`
	MaxLifetime  time.Duration `envconfig:"CONN_MAX_LIFETIME" default:"30m"`
	Debug        bool          `envconfig:"DEBUG" default:"false"`
}

// Cursor configures the cursor signing key. An empty secret makes cursors
// valid for the lifetime of the process only.
type Cursor struct {
	Secret string `envconfig:"SECRET"`
}

// Cache configures the read cache in front of Get. Driver is one of none,
// memory or redis.
type Cache struct {
	Driver        string        `envconfig:"DRIVER" default:"none"`
	TTL           time.Duration `envconfig:"TTL" default:"5m"`
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m"`
	Prefix        string        `envconfig:"PREFIX" default:"persistence:"`
}

type Redis struct {
	URL          string        `envconfig:"URL" default:"redis://localhost:6379/0"`
	PoolSize     int           `envconfig:"POOL_SIZE" default:"10"`
	DialTimeout  time.Duration `envconfig:"DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"3s"`
}

type Paging struct {
	DefaultLimit int `envconfig:"DEFAULT_LIMIT" default:"50"`
	MaxLimit     int `envconfig:"MAX_LIMIT" default:"500"`
}

type App struct {
	Env    string  `envconfig:"APP_ENV" default:"development"`
	Log    *Log    `envconfig:"LOG"`
	DB     *DB     `envconfig:"DATABASE"`
	Cursor *Cursor `envconfig:"CURSOR"`
	Cache  *Cache  `envconfig:"CACHE"`
	Redis  *Redis  `envconfig:"REDIS"`
	Paging *Paging `envconfig:"PAGING"`
}
