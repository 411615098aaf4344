package relational_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/amirasaad/persistence/infra/repository/relational"
	"github.com/amirasaad/persistence/internal/fixtures"
	"github.com/amirasaad/persistence/pkg/clock"
	"github.com/amirasaad/persistence/pkg/domain"
	"github.com/amirasaad/persistence/pkg/pagination"
	"github.com/amirasaad/persistence/pkg/repository"
	"github.com/amirasaad/persistence/pkg/result"
	"github.com/amirasaad/persistence/pkg/specification"
	"github.com/amirasaad/persistence/pkg/testutils"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// openSQLite creates a migrated database file private to the test. maxConns
// caps the pool when positive.
func openSQLite(t *testing.T, maxConns int) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "store.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if maxConns > 0 {
		sqlDB.SetMaxOpenConns(maxConns)
	}
	require.NoError(t, db.AutoMigrate(&fixtures.Note{}, &fixtures.Tag{}))
	return db
}

func backendFor(t *testing.T, f repository.Factory) testutils.Backend {
	t.Helper()
	notes, err := relational.Provide[fixtures.Note, *fixtures.Note](fixtures.NoteSchema())
	require.NoError(t, err)
	tags, err := relational.Provide[fixtures.Tag, *fixtures.Tag](fixtures.TagSchema())
	require.NoError(t, err)
	return testutils.Backend{Factory: f, Notes: notes, Tags: tags}
}

// SQLite only offers serializable transactions.
func sqliteFactory(db *gorm.DB, c clock.Clock, codec *pagination.Codec) *relational.Factory {
	return relational.NewFactory(db,
		relational.WithClock(c),
		relational.WithCodec(codec),
		relational.WithIsolation(sql.LevelDefault),
	)
}

func TestSQLiteContract(t *testing.T) {
	suite.Run(t, &testutils.ContractSuite{
		NewBackend: func(t *testing.T, c clock.Clock, codec *pagination.Codec) testutils.Backend {
			return backendFor(t, sqliteFactory(openSQLite(t, 0), c, codec))
		},
	})
}

func TestConcurrentUnitsCommitIndependently(t *testing.T) {
	codec, err := pagination.NewCodec(testutils.CursorSecret)
	require.NoError(t, err)
	// One connection serializes the transactions at the pool.
	factory := sqliteFactory(openSQLite(t, 1), clock.NewStepping(testutils.Epoch, time.Millisecond), codec)
	b := backendFor(t, factory)
	ctx := context.Background()

	g, gctx := errgroup.WithContext(ctx)
	for i := range 8 {
		g.Go(func() error {
			res := repository.Do(gctx, factory, func(ctx context.Context, u repository.UnitOfWork) error {
				notes, err := result.Unpack(b.Notes(u))
				if err != nil {
					return err
				}
				_, err = result.Unpack(notes.Create(ctx, fixtures.NoteCreate{
					Title: fmt.Sprintf("worker %d", i),
					Slug:  fmt.Sprintf("worker-%d", i),
				}))
				return err
			})
			_, err := result.Unpack(res)
			return err
		})
	}
	require.NoError(t, g.Wait())

	u, err := factory.BeginUnit(ctx)
	require.NoError(t, err)
	defer u.Rollback(ctx)
	notes, err := result.Unpack(b.Notes(u))
	require.NoError(t, err)
	n, err := result.Unpack(notes.Count(ctx, specification.All[fixtures.Note]()))
	require.NoError(t, err)
	assert.Equal(t, int64(8), n)
}

func TestRawStatementsShareTheTransaction(t *testing.T) {
	db := openSQLite(t, 0)
	codec, err := pagination.NewCodec(testutils.CursorSecret)
	require.NoError(t, err)
	factory := sqliteFactory(db, clock.System, codec)
	ctx := context.Background()

	u, err := factory.BeginUnit(ctx)
	require.NoError(t, err)
	require.NoError(t, u.DB(ctx).Exec(
		`INSERT INTO tags (id, created_at, updated_at, deleted, label) VALUES (?, ?, ?, ?, ?)`,
		"tag_raw", time.Now().UTC(), time.Now().UTC(), false, "raw").Error)
	_, err = result.Unpack(u.Rollback(ctx))
	require.NoError(t, err)

	var n int64
	require.NoError(t, db.Model(&fixtures.Tag{}).Count(&n).Error)
	assert.Zero(t, n)
}

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDb, mock, err := sqlmock.New()
	require.NoError(t, err)
	dialector := postgres.New(postgres.Config{
		Conn:       mockDb,
		DriverName: "postgres",
	})
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	return db, mock
}

func TestQueryFailureRollsBackTheUnit(t *testing.T) {
	require := require.New(t)
	db, mock := newMockDB(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "notes"`).WillReturnError(errors.New("connection reset by peer"))
	mock.ExpectRollback()

	u, err := relational.NewFactory(db).BeginUnit(ctx)
	require.NoError(err)
	notes, err := relational.NewRepository[fixtures.Note, *fixtures.Note](u, fixtures.NoteSchema())
	require.NoError(err)

	_, err = result.Unpack(notes.Get(ctx, uuid.New()))
	require.Error(err)
	assert.ErrorIs(t, err, domain.ErrInfrastructure)

	_, err = result.Unpack(u.Commit(ctx))
	assert.ErrorIs(t, err, repository.ErrRolledBack)
	assert.ErrorIs(t, err, domain.ErrInfrastructure)
	assert.Equal(t, repository.RolledBack, u.State())
	require.NoError(mock.ExpectationsWereMet())
}

func TestCountFailureIsInfrastructure(t *testing.T) {
	require := require.New(t)
	db, mock := newMockDB(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT count\(\*\) FROM "notes" WHERE`).WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	u, err := relational.NewFactory(db).BeginUnit(ctx)
	require.NoError(err)
	notes, err := relational.NewRepository[fixtures.Note, *fixtures.Note](u, fixtures.NoteSchema())
	require.NoError(err)

	_, err = result.Unpack(notes.Count(ctx, fixtures.NotePriority.Gt(1)))
	assert.ErrorIs(t, err, domain.ErrInfrastructure)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = result.Unpack(u.Rollback(ctx))
	require.NoError(err)
	require.NoError(mock.ExpectationsWereMet())
}

func TestCommitFailure(t *testing.T) {
	require := require.New(t)
	db, mock := newMockDB(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("could not serialize access"))

	u, err := relational.NewFactory(db).BeginUnit(ctx)
	require.NoError(err)
	var hooked bool
	u.AfterCommit(func(context.Context) { hooked = true })

	_, err = result.Unpack(u.Commit(ctx))
	assert.ErrorIs(t, err, domain.ErrInfrastructure)
	assert.Equal(t, repository.RolledBack, u.State())
	assert.False(t, hooked)
	require.NoError(mock.ExpectationsWereMet())
}

func noteRow(id uuid.UUID, version int64) *sqlmock.Rows {
	at := testutils.Epoch
	return sqlmock.NewRows([]string{
		"id", "created_at", "updated_at", "deleted", "deleted_at", "version",
		"created_by", "updated_by", "title", "slug", "priority", "body", "archived",
	}).AddRow(id.String(), at, at, false, nil, version, "", "", "Plan", "plan", 0, nil, false)
}

func TestVersionGuardedUpdateConflicts(t *testing.T) {
	require := require.New(t)
	db, mock := newMockDB(t)
	ctx := context.Background()
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "notes"`).WillReturnRows(noteRow(id, 3))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "notes"`).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	// A concurrent commit moved the version past 3.
	mock.ExpectExec(`UPDATE "notes" SET .* WHERE .*"version" = `).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	u, err := relational.NewFactory(db).BeginUnit(ctx)
	require.NoError(err)
	notes, err := relational.NewRepository[fixtures.Note, *fixtures.Note](u, fixtures.NoteSchema())
	require.NoError(err)

	_, err = result.Unpack(notes.Update(ctx, id, fixtures.NoteUpdate{Title: fixtures.Ptr("Renamed")}))
	require.Error(err)
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = result.Unpack(u.Commit(ctx))
	assert.ErrorIs(t, err, repository.ErrRolledBack)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, repository.RolledBack, u.State())
	require.NoError(mock.ExpectationsWereMet())
}

func TestSoftDeleteOfChangedRowConflicts(t *testing.T) {
	require := require.New(t)
	db, mock := newMockDB(t)
	ctx := context.Background()
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "notes"`).WillReturnRows(noteRow(id, 1))
	mock.ExpectExec(`UPDATE "notes" SET .* WHERE .*"version" = `).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	u, err := relational.NewFactory(db).BeginUnit(ctx)
	require.NoError(err)
	notes, err := relational.NewRepository[fixtures.Note, *fixtures.Note](u, fixtures.NoteSchema())
	require.NoError(err)

	_, err = result.Unpack(notes.Delete(ctx, id, repository.SoftDelete))
	assert.ErrorIs(t, err, domain.ErrConflict)
	_, err = result.Unpack(u.Rollback(ctx))
	require.NoError(err)
	require.NoError(mock.ExpectationsWereMet())
}

func TestStampsKeepMicrosecondPrecision(t *testing.T) {
	codec, err := pagination.NewCodec(testutils.CursorSecret)
	require.NoError(t, err)
	fine := clock.NewStepping(testutils.Epoch.Add(123456789*time.Nanosecond), 1001*time.Nanosecond)
	factory := sqliteFactory(openSQLite(t, 0), fine, codec)
	b := backendFor(t, factory)
	ctx := context.Background()

	var created *fixtures.Note
	_, err = result.Unpack(repository.Do(ctx, factory, func(ctx context.Context, u repository.UnitOfWork) error {
		notes, err := result.Unpack(b.Notes(u))
		if err != nil {
			return err
		}
		created, err = result.Unpack(notes.Create(ctx, fixtures.NoteCreate{Title: "Fine", Slug: "fine"}))
		return err
	}))
	require.NoError(t, err)
	want := testutils.Epoch.Add(123456 * time.Microsecond)
	assert.True(t, created.CreatedAt.Equal(want), "created_at %v", created.CreatedAt)
	assert.Zero(t, created.UpdatedAt.Nanosecond()%int(time.Microsecond))
}

func TestBeginFailure(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	_, err := result.Unpack(relational.NewFactory(db).Begin(context.Background()))
	assert.ErrorIs(t, err, domain.ErrInfrastructure)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProvideRejectsForeignUnit(t *testing.T) {
	notes, err := relational.Provide[fixtures.Note, *fixtures.Note](fixtures.NoteSchema())
	require.NoError(t, err)

	_, err = result.Unpack(notes(&foreignUnit{}))
	assert.ErrorIs(t, err, domain.ErrInfrastructure)
}

type foreignUnit struct{ repository.Lifecycle }

func (f *foreignUnit) Commit(ctx context.Context) result.Result[repository.TxState, error] {
	f.Finish(ctx, repository.Committed)
	return result.Ok[repository.TxState, error](repository.Committed)
}

func (f *foreignUnit) Rollback(ctx context.Context) result.Result[repository.TxState, error] {
	f.Finish(ctx, repository.RolledBack)
	return result.Ok[repository.TxState, error](repository.RolledBack)
}
