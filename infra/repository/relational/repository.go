package relational

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/amirasaad/persistence/pkg/domain"
	"github.com/amirasaad/persistence/pkg/pagination"
	"github.com/amirasaad/persistence/pkg/repository"
	"github.com/amirasaad/persistence/pkg/result"
	"github.com/amirasaad/persistence/pkg/specification"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errStale = errors.New("row changed by a concurrent transaction")

// Repository implements repository.Repository on a GORM transaction. T must be
// a GORM model whose table holds the mapping's columns.
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
	return &Repository[T, C, U, ID]{uow: uow, m: m}
}

// Provide returns a repository.Provider for units opened by a Factory.
func Provide[T any, PT domain.Model[T, ID], C any, U any, ID comparable](
	schema repository.Schema[T, C, U, ID],
) (repository.Provider[T, C, U, ID], error) {
	m, err := repository.NewMapping[T, PT](schema)
	if err != nil {
		return nil, err
	}
	return func(uow repository.UnitOfWork) result.Result[repository.Repository[T, C, U, ID], error] {
		ru, ok := uow.(*UnitOfWork)
		if !ok {
			return result.Fail[repository.Repository[T, C, U, ID]](
				domain.Infrastructure("bind", m.Name(), fmt.Errorf("relational repository needs a relational unit of work, got %T", uow)))
		}
		return result.Ok[repository.Repository[T, C, U, ID], error](Bind(ru, m))
	}, nil
}

// session guards every call and returns the transaction bound to ctx. The
// returned session is reusable: every chain starts from a clean statement.
func (r *Repository[T, C, U, ID]) session(ctx context.Context, op string) (*gorm.DB, error) {
	r.uow.Ensure()
	if err := ctx.Err(); err != nil {
		return nil, domain.Infrastructure(op, r.m.Name(), err)
	}
	r.uow.factory.logger.Debug("repository call", "backend", "relational", "entity", r.m.Name(), "op", op, "unit", r.uow.id)
	return r.uow.tx.WithContext(ctx), nil
}

func fail[X any](u *UnitOfWork, err error) result.Result[X, error] {
	return repository.Observe(&u.Lifecycle, result.Fail[X](err))
}

func ok[X any](v X) result.Result[X, error] {
	return result.Ok[X, error](v)
}

func (r *Repository[T, C, U, ID]) dbErr(op string, err error) error {
	return MapGormErrorToDomain(op, r.m.Name(), err)
}

// where translates spec into a WHERE clause.
func (r *Repository[T, C, U, ID]) where(op string, spec specification.Spec[T]) (clause.Where, error) {
	cond, err := specification.Translate(spec, r.m, Conditions{})
	if err != nil {
		return clause.Where{}, domain.Validation(op, r.m.Name(), err)
	}
	return clause.Where{Exprs: []clause.Expression{cond}}, nil
}

func (r *Repository[T, C, U, ID]) byID(id ID) clause.Where {
	return clause.Where{Exprs: []clause.Expression{predicate{column: "id", op: specification.OpEq, value: id}}}
}

func (r *Repository[T, C, U, ID]) orderBy(sorts []repository.Sort) clause.OrderBy {
	cols := make([]clause.OrderByColumn, len(sorts))
	for i, s := range sorts {
		col, _ := r.m.Column(s.Field)
		cols[i] = clause.OrderByColumn{Column: clause.Column{Name: col}, Desc: s.Desc}
	}
	return clause.OrderBy{Columns: cols}
}

// load reads one row by id, soft deleted or not.
func (r *Repository[T, C, U, ID]) load(db *gorm.DB, op string, id ID) (*T, error) {
	var rows []T
	if err := db.Clauses(r.byID(id)).Limit(1).Find(&rows).Error; err != nil {
		return nil, r.dbErr(op, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// duplicate reports the first declared unique set candidate shares with a
// stored row other than itself. Soft deleted rows count, as they do for the
// database index.
func (r *Repository[T, C, U, ID]) duplicate(db *gorm.DB, op string, candidate T) error {
	self := r.m.Meta(&candidate).ID
	for _, c := range r.m.UniqueConstraints(candidate) {
		w, err := r.where(op, c.Match)
		if err != nil {
			return err
		}
		var n int64
		err = db.Model(new(T)).
			Clauses(w, clause.Where{Exprs: []clause.Expression{predicate{column: "id", op: specification.OpNe, value: self}}}).
			Count(&n).Error
		if err != nil {
			return r.dbErr(op, err)
		}
		if n > 0 {
			return r.m.DuplicateError(op, c.Fields)
		}
	}
	return nil
}

// write persists cols of t, guarded by the version it was read at.
func (r *Repository[T, C, U, ID]) write(db *gorm.DB, op string, t *T, cols []string, version any) error {
	q := db.Model(t).Select(cols)
	if version != nil {
		q = q.Clauses(clause.Where{Exprs: []clause.Expression{predicate{column: "version", op: specification.OpEq, value: version}}})
	}
	res := q.Updates(t)
	if res.Error != nil {
		return r.dbErr(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.Conflict(op, r.m.Name(), fmt.Errorf("%w: id %v", errStale, r.m.Meta(t).ID))
	}
	return nil
}

func (r *Repository[T, C, U, ID]) version(t *T) any {
	get, ok := r.m.Accessor("version")
	if !ok {
		return nil
	}
	return get(*t)
}

func (r *Repository[T, C, U, ID]) Get(ctx context.Context, id ID, opts ...repository.ReadOption) result.Result[*T, error] {
	const op = "get"
	db, err := r.session(ctx, op)
	if err != nil {
		return fail[*T](r.uow, err)
	}
	t, err := r.load(db, op, id)
	if err != nil {
		return fail[*T](r.uow, err)
	}
	if t == nil || (r.m.Meta(t).Deleted && !repository.ResolveReadOptions(opts...).IncludeDeleted) {
		return ok[*T](nil)
	}
	return ok(t)
}

func (r *Repository[T, C, U, ID]) Exists(ctx context.Context, id ID) result.Result[bool, error] {
	const op = "exists"
	db, err := r.session(ctx, op)
	if err != nil {
		return fail[bool](r.uow, err)
	}
	w, err := r.where(op, r.m.Live(specification.All[T]()))
	if err != nil {
		return fail[bool](r.uow, err)
	}
	var n int64
	if err := db.Model(new(T)).Clauses(w, r.byID(id)).Count(&n).Error; err != nil {
		return fail[bool](r.uow, r.dbErr(op, err))
	}
	return ok(n > 0)
}

func (r *Repository[T, C, U, ID]) List(ctx context.Context, spec specification.Spec[T], opts repository.ListOptions) result.Result[repository.ListResult[T], error] {
	const op = "list"
	db, err := r.session(ctx, op)
	if err != nil {
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
	w, err := r.where(op, spec)
	if err != nil {
		return fail[repository.ListResult[T]](r.uow, err)
	}

	var total int64
	if err := db.Model(new(T)).Clauses(w).Count(&total).Error; err != nil {
		return fail[repository.ListResult[T]](r.uow, r.dbErr(op, err))
	}
	items := []T{}
	err = db.Clauses(w, r.orderBy(sorts)).
		Offset(opts.Skip).
		Limit(r.uow.factory.limits.Clamp(opts.Limit)).
		Find(&items).Error
	if err != nil {
		return fail[repository.ListResult[T]](r.uow, r.dbErr(op, err))
	}
	return ok(repository.ListResult[T]{Items: items, Total: total})
}

func (r *Repository[T, C, U, ID]) GetPage(ctx context.Context, cursor string, limit int, spec specification.Spec[T], sort ...repository.Sort) result.Result[pagination.Page[T], error] {
	const op = "get_page"
	db, err := r.session(ctx, op)
	if err != nil {
		return fail[pagination.Page[T]](r.uow, err)
	}
	if err := r.m.Check(op, spec); err != nil {
		return fail[pagination.Page[T]](r.uow, err)
	}
	sorts, err := r.m.ResolveSort(op, sort)
	if err != nil {
		return fail[pagination.Page[T]](r.uow, err)
	}
	after, err := r.m.DecodeCursor(r.uow.factory.codec, op, cursor, sorts)
	if err != nil {
		return fail[pagination.Page[T]](r.uow, err)
	}
	limit = r.uow.factory.limits.Clamp(limit)
	w, err := r.where(op, r.m.Live(spec).And(after))
	if err != nil {
		return fail[pagination.Page[T]](r.uow, err)
	}

	items := []T{}
	if err := db.Clauses(w, r.orderBy(sorts)).Limit(limit + 1).Find(&items).Error; err != nil {
		return fail[pagination.Page[T]](r.uow, r.dbErr(op, err))
	}
	page := pagination.Page[T]{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		next, err := r.m.EncodeCursor(r.uow.factory.codec, op, page.Items[limit-1], sorts)
		if err != nil {
			return fail[pagination.Page[T]](r.uow, err)
		}
		page.NextCursor = &next
	}
	return ok(page)
}

func (r *Repository[T, C, U, ID]) Count(ctx context.Context, spec specification.Spec[T]) result.Result[int64, error] {
	const op = "count"
	db, err := r.session(ctx, op)
	if err != nil {
		return fail[int64](r.uow, err)
	}
	if err := r.m.Check(op, spec); err != nil {
		return fail[int64](r.uow, err)
	}
	w, err := r.where(op, r.m.Live(spec))
	if err != nil {
		return fail[int64](r.uow, err)
	}
	var n int64
	if err := db.Model(new(T)).Clauses(w).Count(&n).Error; err != nil {
		return fail[int64](r.uow, r.dbErr(op, err))
	}
	return ok(n)
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
	db, err := r.session(ctx, op)
	if err != nil {
		return fail[[]*T](r.uow, err)
	}
	if len(data) == 0 {
		return ok([]*T{})
	}

	built := make([]T, 0, len(data))
	for _, d := range data {
		t, err := r.m.NewEntity(ctx, op, d, r.uow.factory.now())
		if err != nil {
			return fail[[]*T](r.uow, err)
		}
		for _, c := range r.m.UniqueConstraints(*t) {
			if slices.ContainsFunc(built, c.Match.IsSatisfiedBy) {
				return fail[[]*T](r.uow, r.m.DuplicateError(op, c.Fields))
			}
		}
		if err := r.duplicate(db, op, *t); err != nil {
			return fail[[]*T](r.uow, err)
		}
		built = append(built, *t)
	}

	err = r.uow.savepoint(ctx, func(tx *gorm.DB) error {
		return tx.Create(&built).Error
	})
	if err != nil {
		return fail[[]*T](r.uow, r.dbErr(op, err))
	}
	out := make([]*T, len(built))
	for i := range built {
		out[i] = &built[i]
	}
	return ok(out)
}

func (r *Repository[T, C, U, ID]) Update(ctx context.Context, id ID, data U) result.Result[*T, error] {
	const op = "update"
	db, err := r.session(ctx, op)
	if err != nil {
		return fail[*T](r.uow, err)
	}
	t, err := r.load(db, op, id)
	if err != nil {
		return fail[*T](r.uow, err)
	}
	if t == nil || r.m.Meta(t).Deleted {
		return fail[*T](r.uow, domain.NotFound(op, r.m.Name(), id))
	}
	read := r.version(t)
	cols, err := r.m.ApplyUpdate(ctx, op, t, data, r.uow.factory.now())
	if err != nil {
		return fail[*T](r.uow, err)
	}
	if len(cols) == 0 {
		return ok(t)
	}
	if err := r.duplicate(db, op, *t); err != nil {
		return fail[*T](r.uow, err)
	}
	if err := r.write(db, op, t, cols, read); err != nil {
		return fail[*T](r.uow, err)
	}
	return ok(t)
}

func (r *Repository[T, C, U, ID]) Delete(ctx context.Context, id ID, mode repository.DeleteMode) result.Result[bool, error] {
	const op = "delete"
	db, err := r.session(ctx, op)
	if err != nil {
		return fail[bool](r.uow, err)
	}
	if !mode.Valid() {
		return fail[bool](r.uow, domain.Validation(op, r.m.Name(), fmt.Errorf("delete mode %s", mode)))
	}

	if mode == repository.HardDelete {
		res := db.Clauses(r.byID(id)).Delete(new(T))
		if res.Error != nil {
			return fail[bool](r.uow, r.dbErr(op, res.Error))
		}
		if res.RowsAffected == 0 {
			return fail[bool](r.uow, domain.NotFound(op, r.m.Name(), id))
		}
		return ok(true)
	}

	t, err := r.load(db, op, id)
	switch {
	case err != nil:
		return fail[bool](r.uow, err)
	case t == nil:
		return ok(false)
	case r.m.Meta(t).Deleted:
		return ok(true)
	}
	read := r.version(t)
	cols := r.m.MarkDeleted(ctx, t, r.uow.factory.now())
	if err := r.write(db, op, t, cols, read); err != nil {
		return fail[bool](r.uow, err)
	}
	return ok(true)
}
