package domain

import (
	"context"
	"fmt"
	"time"
)

// Entity is the base record shared by every persisted type. It is embedded by value:
//
//	type Note struct {
//		domain.Entity[uuid.UUID]
//		Title string
//	}
//
// Identity and timestamps are owned by the repository. Callers never assign them.
type Entity[ID comparable] struct {
	ID        ID         `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time  `gorm:"not null;autoCreateTime:false" json:"created_at"`
	UpdatedAt time.Time  `gorm:"not null;autoUpdateTime:false" json:"updated_at"`
	Deleted   bool       `gorm:"not null;default:false;index" json:"deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Meta gives repositories access to the embedded base record.
func (e *Entity[ID]) Meta() *Entity[ID] { return e }

// Detach replaces DeletedAt with a private copy.
func (e *Entity[ID]) Detach() {
	if e.DeletedAt != nil {
		at := *e.DeletedAt
		e.DeletedAt = &at
	}
}

// Identity returns the entity id.
func (e Entity[ID]) Identity() ID { return e.ID }

// IsDeleted reports whether the entity was soft deleted.
func (e Entity[ID]) IsDeleted() bool { return e.Deleted }

// Record is implemented by any pointer to a struct embedding Entity.
type Record[ID comparable] interface {
	Meta() *Entity[ID]
}

// Model constrains repository type parameters: T is the stored struct, and *T
// exposes the embedded Entity.
type Model[T any, ID comparable] interface {
	*T
	Record[ID]
}

// Versioned adds an optimistic-concurrency counter. Each successful update
// increments Version.
type Versioned struct {
	Version int64 `gorm:"not null;default:1" json:"version"`
}

// VersionRef exposes the counter to repositories.
func (v *Versioned) VersionRef() *int64 { return &v.Version }

// Versioner is implemented by entities embedding Versioned.
type Versioner interface {
	VersionRef() *int64
}

// VersionExpectation is implemented by update payloads that carry the version
// the caller last read. A mismatch is reported as ErrConflict.
type VersionExpectation interface {
	ExpectedVersion() (int64, bool)
}

// Auditable records who created and last changed an entity.
type Auditable struct {
	CreatedBy string `gorm:"size:128" json:"created_by,omitempty"`
	UpdatedBy string `gorm:"size:128" json:"updated_by,omitempty"`
}

// AuditRef exposes the audit fields to repositories.
func (a *Auditable) AuditRef() *Auditable { return a }

// Auditor is implemented by entities embedding Auditable.
type Auditor interface {
	AuditRef() *Auditable
}

type actorKey struct{}

// WithActor stores the acting principal used to fill Auditable fields.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the actor stored by WithActor, or "".
func ActorFrom(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}

// Stamp fills the base record and optional capabilities of a freshly built entity.
func Stamp[ID comparable](ctx context.Context, e Record[ID], id ID, now time.Time) {
	meta := e.Meta()
	meta.ID = id
	meta.CreatedAt = now
	meta.UpdatedAt = now
	meta.Deleted = false
	meta.DeletedAt = nil
	if v, ok := any(e).(Versioner); ok {
		*v.VersionRef() = 1
	}
	if a, ok := any(e).(Auditor); ok {
		actor := ActorFrom(ctx)
		a.AuditRef().CreatedBy = actor
		a.AuditRef().UpdatedBy = actor
	}
}

// Touch records a modification at now. UpdatedAt never moves before CreatedAt.
func Touch[ID comparable](ctx context.Context, e Record[ID], now time.Time) {
	meta := e.Meta()
	if now.Before(meta.CreatedAt) {
		now = meta.CreatedAt
	}
	meta.UpdatedAt = now
	if v, ok := any(e).(Versioner); ok {
		*v.VersionRef()++
	}
	if a, ok := any(e).(Auditor); ok {
		if actor := ActorFrom(ctx); actor != "" {
			a.AuditRef().UpdatedBy = actor
		}
	}
}

// CheckVersion compares the stored version of e with the expectation carried by
// an update payload.
func CheckVersion(e any, payload any) error {
	exp, ok := payload.(VersionExpectation)
	if !ok {
		return nil
	}
	want, set := exp.ExpectedVersion()
	if !set {
		return nil
	}
	v, ok := e.(Versioner)
	if !ok {
		return nil
	}
	if got := *v.VersionRef(); got != want {
		return fmt.Errorf("version mismatch: expected %d, stored %d", want, got)
	}
	return nil
}
