// Package relational is the GORM backend. A unit of work owns one database
// transaction; every repository bound to the unit issues its statements on it.
//
// Declared isolation is read-committed. Drivers that only offer a stricter
// level, such as SQLite, are opened with WithIsolation(sql.LevelDefault).
package relational

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/amirasaad/persistence/pkg/clock"
	"github.com/amirasaad/persistence/pkg/domain"
	"github.com/amirasaad/persistence/pkg/pagination"
	"github.com/amirasaad/persistence/pkg/repository"
	"github.com/amirasaad/persistence/pkg/result"
	"gorm.io/gorm"
)

// Factory opens units of work on a *gorm.DB.
type Factory struct {
	db        *gorm.DB
	clock     clock.Clock
	codec     *pagination.Codec
	limits    repository.Limits
	logger    *slog.Logger
	isolation sql.IsolationLevel
	seq       atomic.Uint64
}

var _ repository.Factory = (*Factory)(nil)

// Option configures a Factory.
type Option func(*Factory)

// WithClock sets the timestamp source.
func WithClock(c clock.Clock) Option { return func(f *Factory) { f.clock = c } }

// WithCodec sets the cursor codec. Without one, a random per-process secret is used.
func WithCodec(c *pagination.Codec) Option { return func(f *Factory) { f.codec = c } }

// WithLimits sets page size bounds.
func WithLimits(l repository.Limits) Option { return func(f *Factory) { f.limits = l } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(f *Factory) { f.logger = l } }

// WithIsolation overrides the transaction isolation level.
func WithIsolation(level sql.IsolationLevel) Option {
	return func(f *Factory) { f.isolation = level }
}

// NewFactory creates a Factory for db.
func NewFactory(db *gorm.DB, opts ...Option) *Factory {
	f := &Factory{
		db:        db,
		clock:     clock.System,
		limits:    repository.DefaultLimits,
		logger:    slog.Default(),
		isolation: sql.LevelReadCommitted,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.codec == nil {
		secret := make([]byte, 32)
		_, _ = rand.Read(secret)
		f.codec, _ = pagination.NewCodec(secret)
	}
	return f
}

// now reads the clock at the precision Postgres keeps for timestamps, so a
// stamped entity equals the row read back.
func (f *Factory) now() time.Time {
	return f.clock.Now().Truncate(time.Microsecond)
}

// Begin opens a unit of work. It implements repository.Factory.
func (f *Factory) Begin(ctx context.Context) result.Result[repository.UnitOfWork, error] {
	u, err := f.BeginUnit(ctx)
	if err != nil {
		return result.Fail[repository.UnitOfWork](err)
	}
	return result.Ok[repository.UnitOfWork, error](u)
}

// BeginUnit starts a transaction and returns the concrete unit.
func (f *Factory) BeginUnit(ctx context.Context) (*UnitOfWork, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Infrastructure("begin", "", err)
	}
	tx := f.db.WithContext(ctx).Begin(&sql.TxOptions{Isolation: f.isolation})
	if tx.Error != nil {
		return nil, MapGormErrorToDomain("begin", "", tx.Error)
	}
	u := &UnitOfWork{factory: f, tx: tx, id: f.seq.Add(1)}
	f.logger.Debug("unit of work started", "backend", "relational", "unit", u.id, "isolation", f.isolation.String())
	return u, nil
}

// UnitOfWork wraps one GORM transaction. It is not safe for concurrent use.
type UnitOfWork struct {
	repository.Lifecycle
	factory *Factory
	tx      *gorm.DB
	id      uint64
	saves   int
}

var _ repository.UnitOfWork = (*UnitOfWork)(nil)

// DB returns the transaction session for statements the repositories do not cover.
func (u *UnitOfWork) DB(ctx context.Context) *gorm.DB {
	u.Ensure()
	return u.tx.WithContext(ctx)
}

// Commit commits the transaction, or rolls it back when a repository call
// failed or the context is done.
func (u *UnitOfWork) Commit(ctx context.Context) result.Result[repository.TxState, error] {
	u.Ensure()
	if u.Failure() != nil {
		err := u.RolledBackErr()
		u.abort(ctx, err)
		return result.Fail[repository.TxState](err)
	}
	if err := ctx.Err(); err != nil {
		err = domain.Infrastructure("commit", "", err)
		u.abort(ctx, err)
		return result.Fail[repository.TxState](err)
	}
	if err := u.tx.Commit().Error; err != nil {
		err = MapGormErrorToDomain("commit", "", err)
		u.factory.logger.Warn("unit of work commit failed", "backend", "relational", "unit", u.id, "error", err)
		u.tx.Rollback()
		u.Finish(ctx, repository.RolledBack)
		return result.Fail[repository.TxState](err)
	}
	u.factory.logger.Debug("unit of work committed", "backend", "relational", "unit", u.id)
	u.Finish(ctx, repository.Committed)
	return result.Ok[repository.TxState, error](repository.Committed)
}

// Rollback discards the transaction.
func (u *UnitOfWork) Rollback(ctx context.Context) result.Result[repository.TxState, error] {
	u.Ensure()
	if err := u.abort(ctx, nil); err != nil {
		return result.Fail[repository.TxState](err)
	}
	return result.Ok[repository.TxState, error](repository.RolledBack)
}

func (u *UnitOfWork) abort(ctx context.Context, cause error) error {
	err := u.tx.Rollback().Error
	if errors.Is(err, sql.ErrTxDone) {
		err = nil
	}
	if err != nil {
		err = MapGormErrorToDomain("rollback", "", err)
	}
	if cause != nil {
		u.factory.logger.Warn("unit of work rolled back", "backend", "relational", "unit", u.id, "error", cause)
	} else {
		u.factory.logger.Debug("unit of work rolled back", "backend", "relational", "unit", u.id)
	}
	u.Finish(ctx, repository.RolledBack)
	return err
}

// savepoint runs fn inside a savepoint and rolls back to it when fn fails, so
// the enclosing transaction stays usable.
func (u *UnitOfWork) savepoint(ctx context.Context, fn func(db *gorm.DB) error) error {
	u.saves++
	name := "sp_" + strconv.Itoa(u.saves)
	db := u.tx.WithContext(ctx)
	if err := db.SavePoint(name).Error; err != nil {
		return err
	}
	if err := fn(db); err != nil {
		db.RollbackTo(name)
		return err
	}
	return nil
}
