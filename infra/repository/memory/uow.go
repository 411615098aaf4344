package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"

	"github.com/amirasaad/persistence/pkg/domain"
	"github.com/amirasaad/persistence/pkg/repository"
	"github.com/amirasaad/persistence/pkg/result"
)

// overlay holds the writes a unit staged against one table.
type overlay struct {
	rows    map[any]any  // id -> staged value
	removed map[any]bool // hard deleted ids
	bases   map[any]any  // id -> committed value the first write was based on
	created map[any]bool
	// unique re-checks staged ids against the merged table at commit.
	unique func(table map[any]any, ids []any) error
}

func newOverlay() *overlay {
	return &overlay{
		rows:    make(map[any]any),
		removed: make(map[any]bool),
		bases:   make(map[any]any),
		created: make(map[any]bool),
	}
}

func (o *overlay) touched() []any {
	ids := make([]any, 0, len(o.rows))
	for id := range o.rows {
		ids = append(ids, id)
	}
	return ids
}

// UnitOfWork stages writes for one caller. It is not safe for concurrent use.
type UnitOfWork struct {
	repository.Lifecycle
	store  *Store
	id     uint64
	staged map[string]*overlay
}

var _ repository.UnitOfWork = (*UnitOfWork)(nil)

func (u *UnitOfWork) table(name string) *overlay {
	ov, ok := u.staged[name]
	if !ok {
		ov = newOverlay()
		u.staged[name] = ov
	}
	return ov
}

// lookup reads one row through the overlay.
func (u *UnitOfWork) lookup(table string, id any) (any, bool) {
	if ov, ok := u.staged[table]; ok {
		if ov.removed[id] {
			return nil, false
		}
		if v, ok := ov.rows[id]; ok {
			return v, true
		}
	}
	return u.store.committed(table, id)
}

// scan visits every visible row: committed rows not shadowed by the overlay,
// then staged rows.
func (u *UnitOfWork) scan(table string, fn func(id, v any)) {
	ov := u.staged[table]
	u.store.mu.RLock()
	for id, v := range u.store.tables[table] {
		if ov != nil {
			if _, staged := ov.rows[id]; staged || ov.removed[id] {
				continue
			}
		}
		fn(id, v)
	}
	u.store.mu.RUnlock()
	if ov == nil {
		return
	}
	for id, v := range ov.rows {
		fn(id, v)
	}
}

func (u *UnitOfWork) stageCreate(table string, id, v any) {
	ov := u.table(table)
	ov.rows[id] = v
	ov.created[id] = true
	delete(ov.removed, id)
}

func (u *UnitOfWork) stageWrite(table string, id, v any) {
	ov := u.table(table)
	u.remember(ov, table, id)
	ov.rows[id] = v
}

func (u *UnitOfWork) stageRemove(table string, id any) {
	ov := u.table(table)
	u.remember(ov, table, id)
	delete(ov.rows, id)
	if ov.created[id] {
		delete(ov.created, id)
		return
	}
	ov.removed[id] = true
}

func (u *UnitOfWork) remember(ov *overlay, table string, id any) {
	if ov.created[id] {
		return
	}
	if _, ok := ov.bases[id]; ok {
		return
	}
	base, _ := u.store.committed(table, id)
	ov.bases[id] = base
}

var errStale = errors.New("row changed by a concurrent unit of work")

// Commit merges staged writes into the store, or rolls back when a repository
// call failed, the context is done, or a concurrent commit invalidated the
// unit's writes.
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

	if err := u.merge(); err != nil {
		u.abort(ctx, err)
		return result.Fail[repository.TxState](err)
	}
	u.store.logger.Debug("unit of work committed", "backend", "memory", "unit", u.id, "tables", len(u.staged))
	u.staged = nil
	u.Finish(ctx, repository.Committed)
	return result.Ok[repository.TxState, error](repository.Committed)
}

func (u *UnitOfWork) merge() error {
	s := u.store
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := make(map[string]map[any]any, len(u.staged))
	for _, name := range slices.Sorted(maps.Keys(u.staged)) {
		ov := u.staged[name]
		current := s.tables[name]
		for id, base := range ov.bases {
			if now := current[id]; !reflect.DeepEqual(base, now) {
				return domain.Conflict("commit", name, fmt.Errorf("%w: id %v", errStale, id))
			}
		}

		next := make(map[any]any, len(current)+len(ov.rows))
		maps.Copy(next, current)
		for id := range ov.removed {
			delete(next, id)
		}
		maps.Copy(next, ov.rows)
		if ov.unique != nil {
			if err := ov.unique(next, ov.touched()); err != nil {
				return err
			}
		}
		merged[name] = next
	}
	maps.Copy(s.tables, merged)
	return nil
}

// Rollback discards staged writes.
func (u *UnitOfWork) Rollback(ctx context.Context) result.Result[repository.TxState, error] {
	u.Ensure()
	u.abort(ctx, nil)
	return result.Ok[repository.TxState, error](repository.RolledBack)
}

func (u *UnitOfWork) abort(ctx context.Context, cause error) {
	u.staged = nil
	if cause != nil {
		u.store.logger.Warn("unit of work rolled back", "backend", "memory", "unit", u.id, "error", cause)
	} else {
		u.store.logger.Debug("unit of work rolled back", "backend", "memory", "unit", u.id)
	}
	u.Finish(ctx, repository.RolledBack)
}
