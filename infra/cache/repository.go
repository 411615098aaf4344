package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/amirasaad/persistence/pkg/domain"
	"github.com/amirasaad/persistence/pkg/repository"
	"github.com/amirasaad/persistence/pkg/result"
	"golang.org/x/sync/singleflight"
)

// Options configures a cached provider.
type Options struct {
	// Entity names the key space, e.g. "notes".
	Entity string
	TTL    time.Duration
	// LoadTimeout bounds a lookup that fills the cache.
	LoadTimeout time.Duration
	Logger      *slog.Logger
}

// loader fills the cache for every repository a cached provider hands out.
// Lookups for the same key are coalesced and run in a unit of work of their
// own, detached from the caller's cancellation.
type loader[T any, C any, U any, ID comparable] struct {
	inner    repository.Provider[T, C, U, ID]
	factory  repository.Factory
	cache    Cache
	opts     Options
	inflight singleflight.Group
}

func (l *loader[T, C, U, ID]) key(id ID) string {
	return fmt.Sprintf("%s:%v", l.opts.Entity, id)
}

// load reads the committed row for id, stores its encoding and returns it.
// An absent row yields nil and is not stored.
func (l *loader[T, C, U, ID]) load(ctx context.Context, id ID, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.opts.LoadTimeout)
	defer cancel()

	var t *T
	res := repository.Do(ctx, l.factory, func(ctx context.Context, u repository.UnitOfWork) error {
		repo, err := result.Unpack(l.inner(u))
		if err != nil {
			return err
		}
		t, err = result.Unpack(repo.Get(ctx, id))
		return err
	})
	if _, err := result.Unpack(res); err != nil {
		return nil, err
	}
	if t == nil {
		return nil, nil
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	if err := l.cache.Set(ctx, key, raw, l.opts.TTL); err != nil {
		l.opts.Logger.Warn("cache write failed", "key", key, "error", err)
	}
	return raw, nil
}

// Provide wraps inner so that Get by id is served from c. Misses are loaded
// through units opened by factory. Entries are dropped after a unit that
// changed them commits. Reads inside a unit that already wrote an id bypass
// the cache so they see the unit's own writes.
func Provide[T any, C any, U any, ID comparable](
	inner repository.Provider[T, C, U, ID],
	factory repository.Factory,
	c Cache,
	opts Options,
) repository.Provider[T, C, U, ID] {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 5 * time.Second
	}
	l := &loader[T, C, U, ID]{inner: inner, factory: factory, cache: c, opts: opts}
	return func(uow repository.UnitOfWork) result.Result[repository.Repository[T, C, U, ID], error] {
		return result.Map(inner(uow), func(r repository.Repository[T, C, U, ID]) repository.Repository[T, C, U, ID] {
			return &Repository[T, C, U, ID]{Repository: r, uow: uow, l: l, dirty: make(map[ID]struct{})}
		})
	}
}

// Repository is a read-through caching decorator bound to one unit of work.
// Writes are tracked per handle: a unit must not mix cached and uncached
// handles for the same entity.
type Repository[T any, C any, U any, ID comparable] struct {
	repository.Repository[T, C, U, ID]
	uow   repository.UnitOfWork
	l     *loader[T, C, U, ID]
	dirty map[ID]struct{}
}

func (r *Repository[T, C, U, ID]) Get(ctx context.Context, id ID, opts ...repository.ReadOption) result.Result[*T, error] {
	if r.bypass(ctx, id, opts) {
		return r.Repository.Get(ctx, id, opts...)
	}
	key := r.l.key(id)
	logger := r.l.opts.Logger

	raw, found, err := r.l.cache.Get(ctx, key)
	if err != nil {
		logger.Warn("cache read failed", "key", key, "error", err)
	}
	if found {
		if t, err := decode[T](raw); err == nil {
			logger.Debug("cache hit", "key", key)
			return result.Ok[*T, error](t)
		}
		logger.Warn("cache entry undecodable", "key", key)
		_ = r.l.cache.Delete(ctx, key)
	}

	loaded := r.l.inflight.DoChan(key, func() (any, error) {
		return r.l.load(ctx, id, key)
	})
	select {
	case <-ctx.Done():
		return r.Repository.Get(ctx, id)
	case res := <-loaded:
		if res.Err != nil {
			logger.Warn("cache fill failed", "key", key, "error", res.Err)
			return r.Repository.Get(ctx, id)
		}
		raw, _ := res.Val.([]byte)
		if raw == nil {
			return result.Ok[*T, error](nil)
		}
		t, err := decode[T](raw)
		if err != nil {
			return r.Repository.Get(ctx, id)
		}
		return result.Ok[*T, error](t)
	}
}

// decode gives every caller its own copy of a cached row.
func decode[T any](raw []byte) (*T, error) {
	var t T
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *Repository[T, C, U, ID]) Create(ctx context.Context, data C) result.Result[*T, error] {
	res := r.Repository.Create(ctx, data)
	if t, ok := res.Value(); ok {
		r.touchCreated(t)
	}
	return res
}

func (r *Repository[T, C, U, ID]) CreateMany(ctx context.Context, data []C) result.Result[[]*T, error] {
	res := r.Repository.CreateMany(ctx, data)
	if ts, ok := res.Value(); ok {
		for _, t := range ts {
			r.touchCreated(t)
		}
	}
	return res
}

func (r *Repository[T, C, U, ID]) Update(ctx context.Context, id ID, data U) result.Result[*T, error] {
	r.touch(id)
	return r.Repository.Update(ctx, id, data)
}

func (r *Repository[T, C, U, ID]) Delete(ctx context.Context, id ID, mode repository.DeleteMode) result.Result[bool, error] {
	r.touch(id)
	return r.Repository.Delete(ctx, id, mode)
}

// bypass reports whether Get must go straight to the backend. Closed units and
// cancelled contexts are left for the backend to reject.
func (r *Repository[T, C, U, ID]) bypass(ctx context.Context, id ID, opts []repository.ReadOption) bool {
	if r.uow.State() != repository.Active || ctx.Err() != nil {
		return true
	}
	if _, written := r.dirty[id]; written {
		return true
	}
	return repository.ResolveReadOptions(opts...).IncludeDeleted
}

// touch marks id as written by this unit and, on the first write, arranges
// for the cached entries to be dropped once the unit commits.
func (r *Repository[T, C, U, ID]) touch(id ID) {
	if len(r.dirty) == 0 {
		r.uow.AfterCommit(r.invalidate)
	}
	r.dirty[id] = struct{}{}
}

// touchCreated keeps staged entities out of the cache until their unit commits.
func (r *Repository[T, C, U, ID]) touchCreated(t *T) {
	if rec, ok := any(t).(domain.Record[ID]); ok {
		r.touch(rec.Meta().ID)
	}
}

func (r *Repository[T, C, U, ID]) invalidate(ctx context.Context) {
	keys := make([]string, 0, len(r.dirty))
	for id := range r.dirty {
		keys = append(keys, r.l.key(id))
	}
	if err := r.l.cache.Delete(ctx, keys...); err != nil {
		r.l.opts.Logger.Warn("cache invalidation failed", "keys", keys, "error", err)
	}
}
