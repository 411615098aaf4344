package relational

import (
	"errors"

	"github.com/amirasaad/persistence/pkg/domain"
	"gorm.io/gorm"
)

// MapGormErrorToDomain converts GORM errors to domain errors.
// Duplicate keys become Conflict and missing records NotFound; anything else,
// including context cancellation, is an Infrastructure failure. The GORM
// session must be opened with TranslateError for duplicate keys to be seen.
func MapGormErrorToDomain(op, entity string, err error) error {
	if err == nil {
		return nil
	}
	var derr *domain.Error
	if errors.As(err, &derr) {
		return err
	}
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return domain.Conflict(op, entity, err)
	case errors.Is(err, gorm.ErrRecordNotFound):
		return domain.NewError(domain.ErrNotFound, op, entity, err)
	}
	return domain.Infrastructure(op, entity, err)
}
