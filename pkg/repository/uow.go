package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/amirasaad/persistence/pkg/domain"
	"github.com/amirasaad/persistence/pkg/result"
)

// TxState is the state of a unit of work.
type TxState int

const (
	Active TxState = iota
	Committed
	RolledBack
)

func (s TxState) String() string {
	switch s {
	case Active:
		return "active"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled_back"
	default:
		return fmt.Sprintf("TxState(%d)", int(s))
	}
}

// Terminal reports whether no further operation is allowed.
func (s TxState) Terminal() bool { return s != Active }

// ErrRolledBack is wrapped by the Err returned from Commit when a recorded
// failure forced a rollback. The first failure is wrapped alongside it.
var ErrRolledBack = errors.New("unit of work rolled back")

// UnitOfWork is a transactional scope shared by the repositories bound to it.
//
// All repositories obtained from one unit observe each other's staged writes;
// nothing is visible outside until Commit succeeds. A unit is confined to one
// caller and is discarded once terminal: any call after Commit or Rollback
// panics with domain.ErrUnitOfWorkClosed.
type UnitOfWork interface {
	// State returns the current state.
	State() TxState

	// Commit flushes staged writes. If any repository operation failed since
	// the unit was opened it rolls back instead and returns an Err wrapping
	// ErrRolledBack and the first failure.
	Commit(ctx context.Context) result.Result[TxState, error]

	// Rollback discards staged writes.
	Rollback(ctx context.Context) result.Result[TxState, error]

	// Fail records a failure observed outside a repository call so Commit rolls back.
	Fail(err error)

	// AfterCommit registers fn to run after a successful commit.
	AfterCommit(fn func(ctx context.Context))

	// Registered lists the entity names of repositories bound to the unit.
	Registered() []string
}

// Factory opens units of work against one backend.
type Factory interface {
	Begin(ctx context.Context) result.Result[UnitOfWork, error]
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context) result.Result[UnitOfWork, error]

func (f FactoryFunc) Begin(ctx context.Context) result.Result[UnitOfWork, error] { return f(ctx) }

// Do runs fn inside a fresh unit of work. The unit commits when fn returns nil
// and rolls back when fn returns an error or panics; panics are re-raised after
// the rollback.
func Do(ctx context.Context, f Factory, fn func(ctx context.Context, uow UnitOfWork) error) result.Result[TxState, error] {
	begun := f.Begin(ctx)
	uow, err, ok := begun.Get()
	if !ok {
		return result.Fail[TxState](err)
	}

	defer func() {
		if p := recover(); p != nil {
			if uow.State() == Active {
				uow.Rollback(ctx)
			}
			panic(p)
		}
	}()

	if err := fn(ctx, uow); err != nil {
		if uow.State() == Active {
			uow.Rollback(ctx)
		}
		return result.Fail[TxState](err)
	}
	if uow.State() != Active {
		return result.Ok[TxState, error](uow.State())
	}
	return uow.Commit(ctx)
}

// Lifecycle is the state machine shared by unit of work implementations. It is
// not safe for concurrent use, matching the confinement of a unit.
type Lifecycle struct {
	state   TxState
	failure error
	repos   []string
	hooks   []func(context.Context)
}

// State returns the current state.
func (l *Lifecycle) State() TxState { return l.state }

// Ensure panics with domain.ErrUnitOfWorkClosed when the unit is terminal.
func (l *Lifecycle) Ensure() {
	if l.state != Active {
		panic(fmt.Errorf("%w (%s)", domain.ErrUnitOfWorkClosed, l.state))
	}
}

// Fail records err. Only the first failure is kept.
func (l *Lifecycle) Fail(err error) {
	if err != nil && l.failure == nil {
		l.failure = err
	}
}

// Failure returns the first recorded failure.
func (l *Lifecycle) Failure() error { return l.failure }

// Observe records the Err of r, if any, and returns r unchanged.
func Observe[T any](l *Lifecycle, r result.Result[T, error]) result.Result[T, error] {
	if err, failed := r.Err(); failed {
		l.Fail(err)
	}
	return r
}

// Register notes that a repository for entity was bound to the unit.
func (l *Lifecycle) Register(entity string) {
	l.Ensure()
	for _, r := range l.repos {
		if r == entity {
			return
		}
	}
	l.repos = append(l.repos, entity)
}

// Registered lists bound entity names in registration order.
func (l *Lifecycle) Registered() []string {
	return append([]string(nil), l.repos...)
}

// AfterCommit queues fn for Finish(Committed).
func (l *Lifecycle) AfterCommit(fn func(context.Context)) {
	l.Ensure()
	if fn != nil {
		l.hooks = append(l.hooks, fn)
	}
}

// RolledBackErr wraps the first recorded failure for Commit.
func (l *Lifecycle) RolledBackErr() error {
	return fmt.Errorf("%w: %w", ErrRolledBack, l.failure)
}

// Finish moves the unit into a terminal state. Hooks run only on Committed.
func (l *Lifecycle) Finish(ctx context.Context, state TxState) {
	l.Ensure()
	l.state = state
	hooks := l.hooks
	l.hooks = nil
	if state != Committed {
		return
	}
	for _, fn := range hooks {
		fn(ctx)
	}
}
