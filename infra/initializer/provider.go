package initializer

import (
	"github.com/amirasaad/persistence/infra/cache"
	"github.com/amirasaad/persistence/infra/repository/memory"
	"github.com/amirasaad/persistence/infra/repository/relational"
	"github.com/amirasaad/persistence/pkg/domain"
	"github.com/amirasaad/persistence/pkg/repository"
)

// Provide returns a repository provider for schema on the configured backend,
// behind the read cache when one is configured.
func Provide[T any, PT domain.Model[T, ID], C any, U any, ID comparable](
	d *Deps,
	schema repository.Schema[T, C, U, ID],
) (repository.Provider[T, C, U, ID], error) {
	var (
		p   repository.Provider[T, C, U, ID]
		err error
	)
	if d.DB == nil {
		p, err = memory.Provide[T, PT](schema)
	} else {
		p, err = relational.Provide[T, PT](schema)
	}
	if err != nil {
		return nil, err
	}
	if d.Cache == nil {
		return p, nil
	}

	d.Logger.Debug("Caching repository", "entity", schema.Name)
	return cache.Provide(p, d.Factory, d.Cache, cache.Options{
		Entity: schema.Name,
		TTL:    d.Config.Cache.TTL,
		Logger: d.Logger,
	}), nil
}
