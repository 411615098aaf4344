package memory

import (
	"context"
	"fmt"
	"slices"

	"github.com/amirasaad/persistence/pkg/domain"
	"github.com/amirasaad/persistence/pkg/pagination"
	"github.com/amirasaad/persistence/pkg/repository"
	"github.com/amirasaad/persistence/pkg/result"
	"github.com/amirasaad/persistence/pkg/specification"
)

// Repository implements repository.Repository over a memory unit of work.
type Repository[T any, C any, U any, ID comparable] struct {
	uow *UnitOfWork
	m   *repository.Mapping[T, C, U, ID]
}

var _ repository.Repository[struct{ domain.Entity[int] }, struct{}, struct{}, int] = (*Repository[struct{ domain.Entity[int] }, struct{}, struct{}, int])(nil)

// NewRepository binds schema to uow.
func NewRepository[T any, PT domain.Model[T, ID], C any, U any, ID comparable](
	uow *UnitOfWork,
	schema repository.Schema[T, C, U, ID],
) (*Repository[T, C, U, ID], error) {
	m, err := repository.NewMapping[T, PT](schema)
	if err != nil {
		return nil, err
	}
	return Bind(uow, m), nil
}

// Bind attaches a prepared mapping to uow.
func Bind[T any, C any, U any, ID comparable](uow *UnitOfWork, m *repository.Mapping[T, C, U, ID]) *Repository[T, C, U, ID] {
	uow.Register(m.Name())
	r := &Repository[T, C, U, ID]{uow: uow, m: m}
	uow.table(m.Name()).unique = r.uniqueAt
	return r
}

// Provide returns a repository.Provider for units opened by a Store.
func Provide[T any, PT domain.Model[T, ID], C any, U any, ID comparable](
	schema repository.Schema[T, C, U, ID],
) (repository.Provider[T, C, U, ID], error) {
	m, err := repository.NewMapping[T, PT](schema)
	if err != nil {
		return nil, err
	}
	return func(uow repository.UnitOfWork) result.Result[repository.Repository[T, C, U, ID], error] {
		mu, ok := uow.(*UnitOfWork)
		if !ok {
			return result.Fail[repository.Repository[T, C, U, ID]](
				domain.Infrastructure("bind", m.Name(), fmt.Errorf("memory repository needs a memory unit of work, got %T", uow)))
		}
		return result.Ok[repository.Repository[T, C, U, ID], error](Bind(mu, m))
	}, nil
}

// begin guards every call: the unit must be active and the context live.
func (r *Repository[T, C, U, ID]) begin(ctx context.Context, op string) error {
	r.uow.Ensure()
	if err := ctx.Err(); err != nil {
		return domain.Infrastructure(op, r.m.Name(), err)
	}
	r.uow.store.logger.Debug("repository call", "backend", "memory", "entity", r.m.Name(), "op", op, "unit", r.uow.id)
	return nil
}

func fail[X any](u *UnitOfWork, err error) result.Result[X, error] {
	return repository.Observe(&u.Lifecycle, result.Fail[X](err))
}

func ok[X any](v X) result.Result[X, error] {
	return result.Ok[X, error](v)
}

func (r *Repository[T, C, U, ID]) get(id ID) (T, bool) {
	v, found := r.uow.lookup(r.m.Name(), id)
	if !found {
		var zero T
		return zero, false
	}
	return v.(T), true
}

// filter returns visible rows matching spec.
func (r *Repository[T, C, U, ID]) filter(spec specification.Spec[T]) []T {
	var out []T
	r.uow.scan(r.m.Name(), func(_, v any) {
		if t := v.(T); spec.IsSatisfiedBy(t) {
			out = append(out, t)
		}
	})
	return out
}

// unique reports the first declared unique set candidate shares with another row.
func (r *Repository[T, C, U, ID]) unique(op string, candidate T, others []T) error {
	self := r.m.Meta(&candidate).ID
	for _, c := range r.m.UniqueConstraints(candidate) {
		for _, o := range others {
			if r.m.Meta(&o).ID == self {
				continue
			}
			if c.Match.IsSatisfiedBy(o) {
				return r.m.DuplicateError(op, c.Fields)
			}
		}
	}
	return nil
}

func (r *Repository[T, C, U, ID]) uniqueAt(table map[any]any, ids []any) error {
	rows := make([]T, 0, len(table))
	for _, v := range table {
		rows = append(rows, v.(T))
	}
	for _, id := range ids {
		if v, found := table[id]; found {
			if err := r.unique("commit", v.(T), rows); err != nil {
				return err
			}
		}
	}
	return nil
}

// copies detaches rows from the unit's tables before they reach a caller.
func (r *Repository[T, C, U, ID]) copies(op string, rows []T) ([]T, error) {
	out := make([]T, len(rows))
	for i, t := range rows {
		c, err := r.m.Clone(op, t)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

func (r *Repository[T, C, U, ID]) all() []T {
	return r.filter(specification.All[T]())
}

func (r *Repository[T, C, U, ID]) Get(ctx context.Context, id ID, opts ...repository.ReadOption) result.Result[*T, error] {
	if err := r.begin(ctx, "get"); err != nil {
		return fail[*T](r.uow, err)
	}
	t, found := r.get(id)
	if !found || (r.m.Meta(&t).Deleted && !repository.ResolveReadOptions(opts...).IncludeDeleted) {
		return ok[*T](nil)
	}
	c, err := r.m.Clone("get", t)
	if err != nil {
		return fail[*T](r.uow, err)
	}
	return ok(&c)
}

func (r *Repository[T, C, U, ID]) Exists(ctx context.Context, id ID) result.Result[bool, error] {
	if err := r.begin(ctx, "exists"); err != nil {
		return fail[bool](r.uow, err)
	}
	t, found := r.get(id)
	return ok(found && !r.m.Meta(&t).Deleted)
}

func (r *Repository[T, C, U, ID]) List(ctx context.Context, spec specification.Spec[T], opts repository.ListOptions) result.Result[repository.ListResult[T], error] {
	const op = "list"
	if err := r.begin(ctx, op); err != nil {
		return fail[repository.ListResult[T]](r.uow, err)
	}
	if err := r.m.Check(op, spec); err != nil {
		return fail[repository.ListResult[T]](r.uow, err)
	}
	if opts.Skip < 0 {
		return fail[repository.ListResult[T]](r.uow, domain.Validation(op, r.m.Name(), fmt.Errorf("negative skip %d", opts.Skip)))
	}
	sorts, err := r.m.ResolveSort(op, opts.Sort)
	if err != nil {
		return fail[repository.ListResult[T]](r.uow, err)
	}
	if !opts.IncludeDeleted {
		spec = r.m.Live(spec)
	}

	items := r.filter(spec)
	slices.SortFunc(items, func(a, b T) int { return r.m.Compare(a, b, sorts) })
	total := int64(len(items))
	limit := r.uow.store.limits.Clamp(opts.Limit)
	lo := min(opts.Skip, len(items))
	hi := min(lo+limit, len(items))
	page, err := r.copies(op, items[lo:hi])
	if err != nil {
		return fail[repository.ListResult[T]](r.uow, err)
	}
	return ok(repository.ListResult[T]{Items: page, Total: total})
}

func (r *Repository[T, C, U, ID]) GetPage(ctx context.Context, cursor string, limit int, spec specification.Spec[T], sort ...repository.Sort) result.Result[pagination.Page[T], error] {
	const op = "get_page"
	if err := r.begin(ctx, op); err != nil {
		return fail[pagination.Page[T]](r.uow, err)
	}
	if err := r.m.Check(op, spec); err != nil {
		return fail[pagination.Page[T]](r.uow, err)
	}
	sorts, err := r.m.ResolveSort(op, sort)
	if err != nil {
		return fail[pagination.Page[T]](r.uow, err)
	}
	after, err := r.m.DecodeCursor(r.uow.store.codec, op, cursor, sorts)
	if err != nil {
		return fail[pagination.Page[T]](r.uow, err)
	}
	limit = r.uow.store.limits.Clamp(limit)

	items := r.filter(r.m.Live(spec).And(after))
	slices.SortFunc(items, func(a, b T) int { return r.m.Compare(a, b, sorts) })
	page := pagination.Page[T]{Items: items[:min(limit, len(items))]}
	if len(items) > limit {
		next, err := r.m.EncodeCursor(r.uow.store.codec, op, page.Items[limit-1], sorts)
		if err != nil {
			return fail[pagination.Page[T]](r.uow, err)
		}
		page.NextCursor = &next
	}
	if page.Items, err = r.copies(op, page.Items); err != nil {
		return fail[pagination.Page[T]](r.uow, err)
	}
	return ok(page)
}

func (r *Repository[T, C, U, ID]) Count(ctx context.Context, spec specification.Spec[T]) result.Result[int64, error] {
	const op = "count"
	if err := r.begin(ctx, op); err != nil {
		return fail[int64](r.uow, err)
	}
	if err := r.m.Check(op, spec); err != nil {
		return fail[int64](r.uow, err)
	}
	return ok(int64(len(r.filter(r.m.Live(spec)))))
}

func (r *Repository[T, C, U, ID]) Create(ctx context.Context, data C) result.Result[*T, error] {
	created := r.CreateMany(ctx, []C{data})
	return result.Map(created, func(ts []*T) *T { return ts[0] })
}

func (r *Repository[T, C, U, ID]) CreateMany(ctx context.Context, data []C) result.Result[[]*T, error] {
	op := "create_many"
	if len(data) == 1 {
		op = "create"
	}
	if err := r.begin(ctx, op); err != nil {
		return fail[[]*T](r.uow, err)
	}

	existing := r.all()
	built := make([]T, 0, len(data))
	stored := make([]T, 0, len(data))
	for _, d := range data {
		t, err := r.m.NewEntity(ctx, op, d, r.uow.store.clock.Now())
		if err != nil {
			return fail[[]*T](r.uow, err)
		}
		if err := r.unique(op, *t, existing); err != nil {
			return fail[[]*T](r.uow, err)
		}
		if err := r.unique(op, *t, built); err != nil {
			return fail[[]*T](r.uow, err)
		}
		c, err := r.m.Clone(op, *t)
		if err != nil {
			return fail[[]*T](r.uow, err)
		}
		built = append(built, *t)
		stored = append(stored, c)
	}

	out := make([]*T, len(built))
	for i := range built {
		r.uow.stageCreate(r.m.Name(), r.m.Meta(&stored[i]).ID, stored[i])
		out[i] = &built[i]
	}
	return ok(out)
}

func (r *Repository[T, C, U, ID]) Update(ctx context.Context, id ID, data U) result.Result[*T, error] {
	const op = "update"
	if err := r.begin(ctx, op); err != nil {
		return fail[*T](r.uow, err)
	}
	current, found := r.get(id)
	if !found || r.m.Meta(&current).Deleted {
		return fail[*T](r.uow, domain.NotFound(op, r.m.Name(), id))
	}
	t, err := r.m.Clone(op, current)
	if err != nil {
		return fail[*T](r.uow, err)
	}
	cols, err := r.m.ApplyUpdate(ctx, op, &t, data, r.uow.store.clock.Now())
	if err != nil {
		return fail[*T](r.uow, err)
	}
	if len(cols) == 0 {
		return ok(&t)
	}
	if err := r.unique(op, t, r.all()); err != nil {
		return fail[*T](r.uow, err)
	}
	stored, err := r.m.Clone(op, t)
	if err != nil {
		return fail[*T](r.uow, err)
	}
	r.uow.stageWrite(r.m.Name(), id, stored)
	return ok(&t)
}

func (r *Repository[T, C, U, ID]) Delete(ctx context.Context, id ID, mode repository.DeleteMode) result.Result[bool, error] {
	const op = "delete"
	if err := r.begin(ctx, op); err != nil {
		return fail[bool](r.uow, err)
	}
	if !mode.Valid() {
		return fail[bool](r.uow, domain.Validation(op, r.m.Name(), fmt.Errorf("delete mode %s", mode)))
	}
	t, found := r.get(id)
	switch {
	case !found && mode == repository.HardDelete:
		return fail[bool](r.uow, domain.NotFound(op, r.m.Name(), id))
	case !found:
		return ok(false)
	case mode == repository.HardDelete:
		r.uow.stageRemove(r.m.Name(), id)
		return ok(true)
	case r.m.Meta(&t).Deleted:
		return ok(true)
	}
	t, err := r.m.Clone(op, t)
	if err != nil {
		return fail[bool](r.uow, err)
	}
	r.m.MarkDeleted(ctx, &t, r.uow.store.clock.Now())
	r.uow.stageWrite(r.m.Name(), id, t)
	return ok(true)
}
