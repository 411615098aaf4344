package initializer

import (
	"bytes"
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/amirasaad/persistence/infra/cache"
	"github.com/amirasaad/persistence/infra/repository/memory"
	"github.com/amirasaad/persistence/infra/repository/relational"
	"github.com/amirasaad/persistence/internal/fixtures"
	"github.com/amirasaad/persistence/pkg/config"
	"github.com/amirasaad/persistence/pkg/repository"
	"github.com/amirasaad/persistence/pkg/result"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(driver, dsn, cacheDriver string) *config.App {
	return &config.App{
		Env:    "test",
		Log:    &config.Log{Level: 8, Format: "text"},
		DB:     &config.DB{Driver: driver, Url: dsn, Isolation: "read_committed", MaxOpenConns: 1, MaxIdleConns: 1, MaxLifetime: time.Minute},
		Cursor: &config.Cursor{Secret: "initializer-test-secret"},
		Cache:  &config.Cache{Driver: cacheDriver, TTL: time.Minute, Prefix: "t:"},
		Redis:  &config.Redis{URL: "redis://localhost:6379/0", DialTimeout: time.Second},
		Paging: &config.Paging{DefaultLimit: 10, MaxLimit: 20},
	}
}

// roundTrip stores a note through deps and reads it back in a new unit.
func roundTrip(t *testing.T, deps *Deps) {
	t.Helper()
	ctx := context.Background()
	notes, err := Provide[fixtures.Note, *fixtures.Note](deps, fixtures.NoteSchema())
	require.NoError(t, err)

	var created *fixtures.Note
	_, err = result.Unpack(repository.Do(ctx, deps.Factory, func(ctx context.Context, u repository.UnitOfWork) error {
		repo, err := result.Unpack(notes(u))
		if err != nil {
			return err
		}
		created, err = result.Unpack(repo.Create(ctx, fixtures.NoteCreate{Title: "wired", Slug: "wired"}))
		return err
	}))
	require.NoError(t, err)

	_, err = result.Unpack(repository.Do(ctx, deps.Factory, func(ctx context.Context, u repository.UnitOfWork) error {
		repo, err := result.Unpack(notes(u))
		if err != nil {
			return err
		}
		got, err := result.Unpack(repo.Get(ctx, created.ID))
		require.NotNil(t, got)
		assert.Equal(t, "wired", got.Title)
		return err
	}))
	require.NoError(t, err)
}

func TestInitializeMemoryWithCache(t *testing.T) {
	deps, err := InitializeDependencies(testConfig("memory", "", "memory"))
	require.NoError(t, err)
	defer deps.Close()

	assert.Nil(t, deps.DB)
	assert.IsType(t, &memory.Store{}, deps.Factory)
	require.IsType(t, &cache.MemoryCache{}, deps.Cache)
	require.NoError(t, deps.Migrate(&fixtures.Note{}))

	roundTrip(t, deps)
	assert.Equal(t, 1, deps.Cache.(*cache.MemoryCache).Len())
}

func TestInitializeSQLite(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "init.db") + "?_busy_timeout=5000"
	deps, err := InitializeDependencies(testConfig("sqlite", dsn, "none"))
	require.NoError(t, err)
	defer deps.Close()

	require.NotNil(t, deps.DB)
	assert.IsType(t, &relational.Factory{}, deps.Factory)
	assert.Nil(t, deps.Cache)
	require.NoError(t, deps.Migrate(&fixtures.Note{}, &fixtures.Tag{}))

	roundTrip(t, deps)
}

func TestInitializeRejectsBadSettings(t *testing.T) {
	cfg := testConfig("memory", "", "memcached")
	_, err := InitializeDependencies(cfg)
	assert.Error(t, err)

	cfg = testConfig("memory", "", "none")
	cfg.Cursor.Secret = "short"
	_, err = InitializeDependencies(cfg)
	assert.Error(t, err)

	cfg = testConfig("postgres", "", "none")
	_, err = InitializeDependencies(cfg)
	assert.Error(t, err)

	cfg = testConfig("memory", "", "redis")
	cfg.Redis.URL = "not a url"
	_, err = InitializeDependencies(cfg)
	assert.Error(t, err)
}

func TestIsolationLevel(t *testing.T) {
	tests := map[string]sql.IsolationLevel{
		"default":         sql.LevelDefault,
		"read_committed":  sql.LevelReadCommitted,
		"":                sql.LevelReadCommitted,
		"repeatable_read": sql.LevelRepeatableRead,
		"serializable":    sql.LevelSerializable,
	}
	for name, want := range tests {
		got, err := IsolationLevel(name)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
	_, err := IsolationLevel("chaos")
	assert.Error(t, err)
}

func TestSetupLoggerHonoursFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(&buf, &config.Log{Level: 4, Format: "json", Prefix: "[test]"})

	logger.Info("hidden")
	logger.Warn("shown", "entity", "notes")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"entity":"notes"`)
}
