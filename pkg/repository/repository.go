package repository

import (
	"context"

	"github.com/amirasaad/persistence/pkg/pagination"
	"github.com/amirasaad/persistence/pkg/result"
	"github.com/amirasaad/persistence/pkg/specification"
)

// Reader defines the query side of a repository.
type Reader[T any, ID comparable] interface {
	// Get returns the entity with the given id, or a nil value when it does not
	// exist or was soft deleted. Absence is not an error.
	Get(ctx context.Context, id ID, opts ...ReadOption) result.Result[*T, error]

	// Exists reports whether a live (not soft deleted) entity has the given id.
	Exists(ctx context.Context, id ID) result.Result[bool, error]

	// List filters by spec and returns one offset page together with the size of
	// the whole filtered set.
	List(ctx context.Context, spec specification.Spec[T], opts ListOptions) result.Result[ListResult[T], error]

	// GetPage returns the page following cursor under a stable keyset order. An
	// empty cursor starts from the beginning.
	GetPage(ctx context.Context, cursor string, limit int, spec specification.Spec[T], sort ...Sort) result.Result[pagination.Page[T], error]

	// Count returns the number of live entities matching spec.
	Count(ctx context.Context, spec specification.Spec[T]) result.Result[int64, error]
}

// Writer defines the command side of a repository.
type Writer[T any, C any, U any, ID comparable] interface {
	// Create validates data, assigns identity and timestamps and stages the new entity.
	Create(ctx context.Context, data C) result.Result[*T, error]

	// CreateMany stages every entity or none of them.
	CreateMany(ctx context.Context, data []C) result.Result[[]*T, error]

	// Update applies the fields present in data to the entity with the given id.
	Update(ctx context.Context, id ID, data U) result.Result[*T, error]

	// Delete removes the entity with the given id. mode has no default.
	Delete(ctx context.Context, id ID, mode DeleteMode) result.Result[bool, error]
}

// Repository is the generic persistence contract for entity type T with
// creation payload C, update payload U and identifier ID. Every operation
// reports expected failures as an Err carrying a *domain.Error.
type Repository[T any, C any, U any, ID comparable] interface {
	Reader[T, ID]
	Writer[T, C, U, ID]
}

// ListResult is one offset page and the size of the filtered set.
type ListResult[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
}

// Provider binds a repository to a unit of work. Backends hand out providers
// so callers can stay agnostic of the concrete unit type.
type Provider[T any, C any, U any, ID comparable] func(uow UnitOfWork) result.Result[Repository[T, C, U, ID], error]
