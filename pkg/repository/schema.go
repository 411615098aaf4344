package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/amirasaad/persistence/pkg/domain"
	"github.com/amirasaad/persistence/pkg/pagination"
	"github.com/amirasaad/persistence/pkg/specification"
	"github.com/go-playground/validator/v10"
)

// Schema describes how one entity type is built, patched, queried and
// constrained. Backends consume it through a Mapping.
type Schema[T any, C any, U any, ID comparable] struct {
	// Name identifies the entity in errors, logs and the memory store. Relational
	// backends use the GORM table name instead.
	Name string

	// NewID mints identifiers. It is the only source of ids.
	NewID func() ID

	// Fields whitelists the fields specifications and sorts may reference.
	// id, created_at, updated_at and deleted are always present.
	Fields map[string]specification.Accessor[T]

	// Columns maps field names to storage columns. Unmapped fields use their name.
	Columns map[string]string

	// Unique lists field sets that must not repeat across stored entities.
	Unique [][]string

	// Build turns a validated creation payload into an entity.
	Build func(C) (T, error)

	// Apply patches an entity with the fields present in the payload and reports
	// the names of the fields it changed.
	Apply func(*T, U) ([]string, error)

	// Clone copies an entity so the copy shares no pointers, slices or maps with
	// it. Without Clone entities are copied through encoding/json, which drops
	// fields hidden from JSON.
	Clone func(T) T
}

var baseColumns = []string{"id", "created_at", "updated_at", "deleted", "deleted_at"}

// Mapping is a Schema bound to the concrete entity pointer type. It owns the
// behaviour every backend shares: payload validation, stamping, field
// whitelisting, uniqueness specs, sort resolution and keyset cursors.
type Mapping[T any, C any, U any, ID comparable] struct {
	schema    Schema[T, C, U, ID]
	record    func(*T) domain.Record[ID]
	fields    map[string]specification.Accessor[T]
	columns   map[string]string
	versioned bool
	audited   bool
	validate  *validator.Validate
}

// NewMapping checks s and binds it to PT.
func NewMapping[T any, PT domain.Model[T, ID], C any, U any, ID comparable](s Schema[T, C, U, ID]) (*Mapping[T, C, U, ID], error) {
	switch {
	case s.Name == "":
		return nil, errors.New("schema: name is required")
	case s.NewID == nil:
		return nil, fmt.Errorf("schema %s: NewID is required", s.Name)
	case s.Build == nil:
		return nil, fmt.Errorf("schema %s: Build is required", s.Name)
	case s.Apply == nil:
		return nil, fmt.Errorf("schema %s: Apply is required", s.Name)
	}

	m := &Mapping[T, C, U, ID]{
		schema:   s,
		record:   func(t *T) domain.Record[ID] { return PT(t) },
		fields:   make(map[string]specification.Accessor[T], len(s.Fields)+len(baseColumns)),
		columns:  make(map[string]string, len(s.Fields)+len(baseColumns)),
		validate: validator.New(),
	}
	meta := func(t T) *domain.Entity[ID] { return PT(&t).Meta() }
	m.fields["id"] = func(t T) any { return meta(t).ID }
	m.fields["created_at"] = func(t T) any { return meta(t).CreatedAt }
	m.fields["updated_at"] = func(t T) any { return meta(t).UpdatedAt }
	m.fields["deleted"] = func(t T) any { return meta(t).Deleted }
	m.fields["deleted_at"] = func(t T) any { return meta(t).DeletedAt }
	for _, c := range baseColumns {
		m.columns[c] = c
	}

	var zero T
	if _, ok := any(PT(&zero)).(domain.Versioner); ok {
		m.versioned = true
		m.fields["version"] = func(t T) any { return *any(PT(&t)).(domain.Versioner).VersionRef() }
		m.columns["version"] = "version"
	}
	if _, ok := any(PT(&zero)).(domain.Auditor); ok {
		m.audited = true
		m.fields["created_by"] = func(t T) any { return any(PT(&t)).(domain.Auditor).AuditRef().CreatedBy }
		m.fields["updated_by"] = func(t T) any { return any(PT(&t)).(domain.Auditor).AuditRef().UpdatedBy }
		m.columns["created_by"] = "created_by"
		m.columns["updated_by"] = "updated_by"
	}

	for name, get := range s.Fields {
		if get == nil {
			return nil, fmt.Errorf("schema %s: field %q has no accessor", s.Name, name)
		}
		if _, base := m.fields[name]; base {
			return nil, fmt.Errorf("schema %s: field %q shadows a base field", s.Name, name)
		}
		m.fields[name] = get
		m.columns[name] = name
		if col, ok := s.Columns[name]; ok && col != "" {
			m.columns[name] = col
		}
	}
	for _, set := range s.Unique {
		for _, f := range set {
			if _, ok := m.fields[f]; !ok {
				return nil, fmt.Errorf("schema %s: unique field %q is not declared", s.Name, f)
			}
		}
	}
	return m, nil
}

// Name returns the entity name.
func (m *Mapping[T, C, U, ID]) Name() string { return m.schema.Name }

// NewID mints an identifier.
func (m *Mapping[T, C, U, ID]) NewID() ID { return m.schema.NewID() }

// Meta exposes the base record of t.
func (m *Mapping[T, C, U, ID]) Meta(t *T) *domain.Entity[ID] { return m.record(t).Meta() }

// Clone returns a copy of t that shares no memory with it. Backends holding
// entities in process copy on the way in and on the way out.
func (m *Mapping[T, C, U, ID]) Clone(op string, t T) (T, error) {
	if m.schema.Clone != nil {
		c := m.schema.Clone(t)
		m.Meta(&c).Detach()
		return c, nil
	}
	var c T
	raw, err := json.Marshal(t)
	if err == nil {
		err = json.Unmarshal(raw, &c)
	}
	if err != nil {
		return c, domain.Infrastructure(op, m.Name(), fmt.Errorf("copy entity: %w", err))
	}
	return c, nil
}

// Column implements specification.Schema.
func (m *Mapping[T, C, U, ID]) Column(field string) (string, bool) {
	col, ok := m.columns[field]
	return col, ok
}

// Accessor returns the reader of a declared field.
func (m *Mapping[T, C, U, ID]) Accessor(field string) (specification.Accessor[T], bool) {
	get, ok := m.fields[field]
	return get, ok
}

// Field returns a typed field handle for building specifications.
func (m *Mapping[T, C, U, ID]) Field(name string) (specification.Field[T], bool) {
	get, ok := m.fields[name]
	if !ok {
		return specification.Field[T]{}, false
	}
	return specification.NewField(name, get), true
}

// Live restricts spec to entities that are not soft deleted.
func (m *Mapping[T, C, U, ID]) Live(spec specification.Spec[T]) specification.Spec[T] {
	live := specification.Compare("deleted", m.fields["deleted"], specification.OpEq, false)
	if spec.IsAll() {
		return live
	}
	return live.And(spec)
}

// Check rejects spec when it references undeclared fields.
func (m *Mapping[T, C, U, ID]) Check(op string, spec specification.Spec[T]) error {
	var bad string
	spec.Walk(func(c specification.Comparison[T]) bool {
		if _, ok := m.fields[c.Field]; !ok {
			bad = c.Field
			return false
		}
		return true
	})
	if bad != "" {
		return domain.Validation(op, m.Name(), fmt.Errorf("%w: %q", specification.ErrUnknownField, bad))
	}
	return nil
}

// Validate runs the validate struct tags of a payload. Payloads that are not
// structs pass unchecked.
func (m *Mapping[T, C, U, ID]) Validate(op string, payload any) error {
	if payload == nil {
		return nil
	}
	err := m.validate.Struct(payload)
	if err == nil {
		return nil
	}
	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return nil
	}
	return domain.Validation(op, m.Name(), err)
}

// NewEntity validates data, builds the entity and stamps identity, timestamps
// and capabilities.
func (m *Mapping[T, C, U, ID]) NewEntity(ctx context.Context, op string, data C, now time.Time) (*T, error) {
	if err := m.Validate(op, data); err != nil {
		return nil, err
	}
	entity, err := m.schema.Build(data)
	if err != nil {
		return nil, domain.Validation(op, m.Name(), err)
	}
	domain.Stamp(ctx, m.record(&entity), m.NewID(), now)
	return &entity, nil
}

// ApplyUpdate patches current in place and returns the storage columns that
// changed. No columns means nothing changed and nothing should be written.
func (m *Mapping[T, C, U, ID]) ApplyUpdate(ctx context.Context, op string, current *T, data U, now time.Time) ([]string, error) {
	if err := m.Validate(op, data); err != nil {
		return nil, err
	}
	if err := domain.CheckVersion(m.record(current), data); err != nil {
		return nil, domain.Conflict(op, m.Name(), err)
	}
	changed, err := m.schema.Apply(current, data)
	if err != nil {
		return nil, domain.Validation(op, m.Name(), err)
	}
	if len(changed) == 0 {
		return nil, nil
	}
	cols := make([]string, 0, len(changed)+3)
	for _, f := range changed {
		col, ok := m.columns[f]
		if !ok {
			return nil, domain.Validation(op, m.Name(), fmt.Errorf("%w: %q", specification.ErrUnknownField, f))
		}
		cols = append(cols, col)
	}
	domain.Touch(ctx, m.record(current), now)
	return m.touched(cols), nil
}

// MarkDeleted flags t as soft deleted at now and returns the changed columns.
func (m *Mapping[T, C, U, ID]) MarkDeleted(ctx context.Context, t *T, now time.Time) []string {
	domain.Touch(ctx, m.record(t), now)
	meta := m.Meta(t)
	at := meta.UpdatedAt
	meta.Deleted = true
	meta.DeletedAt = &at
	return m.touched([]string{"deleted", "deleted_at"})
}

func (m *Mapping[T, C, U, ID]) touched(cols []string) []string {
	cols = append(cols, "updated_at")
	if m.versioned {
		cols = append(cols, "version")
	}
	if m.audited {
		cols = append(cols, "updated_by")
	}
	return cols
}

// UniqueConstraint is one declared unique field set resolved against a candidate.
type UniqueConstraint[T any] struct {
	Fields []string
	Match  specification.Spec[T]
}

// UniqueConstraints returns a matching spec per declared unique set. Sets where
// the candidate holds a null are skipped, as SQL unique indexes do.
func (m *Mapping[T, C, U, ID]) UniqueConstraints(candidate T) []UniqueConstraint[T] {
	out := make([]UniqueConstraint[T], 0, len(m.schema.Unique))
next:
	for _, set := range m.schema.Unique {
		parts := make([]specification.Spec[T], 0, len(set))
		for _, f := range set {
			get := m.fields[f]
			v := specification.Indirect(get(candidate))
			if v == nil {
				continue next
			}
			parts = append(parts, specification.Compare(f, get, specification.OpEq, v))
		}
		out = append(out, UniqueConstraint[T]{Fields: set, Match: specification.AllOf(parts...)})
	}
	return out
}

// DuplicateError builds the Conflict reported for a unique violation.
func (m *Mapping[T, C, U, ID]) DuplicateError(op string, fields []string) error {
	return domain.Conflict(op, m.Name(), fmt.Errorf("duplicate value for %v", fields))
}

// ResolveSort validates sorts and appends the id tie-breaker. An empty order
// sorts by creation time.
func (m *Mapping[T, C, U, ID]) ResolveSort(op string, sorts []Sort) ([]Sort, error) {
	if len(sorts) == 0 {
		sorts = []Sort{Asc("created_at")}
	}
	out := make([]Sort, 0, len(sorts)+1)
	seen := make(map[string]bool, len(sorts))
	for _, s := range sorts {
		if _, ok := m.fields[s.Field]; !ok {
			return nil, domain.Validation(op, m.Name(), fmt.Errorf("%w: sort by %q", specification.ErrUnknownField, s.Field))
		}
		if seen[s.Field] {
			continue
		}
		seen[s.Field] = true
		out = append(out, s)
		if s.Field == "id" {
			return out, nil
		}
	}
	return append(out, Asc("id")), nil
}

// Compare orders a against b under sorts. Nulls sort first.
func (m *Mapping[T, C, U, ID]) Compare(a, b T, sorts []Sort) int {
	for _, s := range sorts {
		get := m.fields[s.Field]
		va, vb := get(a), get(b)
		c, ok := specification.Order(va, vb)
		if !ok {
			na, nb := specification.Indirect(va) == nil, specification.Indirect(vb) == nil
			switch {
			case na && !nb:
				c = -1
			case !na && nb:
				c = 1
			default:
				c = 0
			}
		}
		if s.Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

// After returns the keyset predicate selecting entities strictly after the
// position values under sorts:
//
//	k1 > v1 OR (k1 = v1 AND k2 > v2) OR ...
//
// with > replaced by < for descending keys.
func (m *Mapping[T, C, U, ID]) After(sorts []Sort, values []any) specification.Spec[T] {
	branches := make([]specification.Spec[T], 0, len(sorts))
	for i, s := range sorts {
		parts := make([]specification.Spec[T], 0, i+1)
		for j := 0; j < i; j++ {
			parts = append(parts, specification.Compare(sorts[j].Field, m.fields[sorts[j].Field], specification.OpEq, values[j]))
		}
		op := specification.OpGt
		if s.Desc {
			op = specification.OpLt
		}
		parts = append(parts, specification.Compare(s.Field, m.fields[s.Field], op, values[i]))
		branches = append(branches, specification.AllOf(parts...))
	}
	return specification.AnyOf(branches...)
}

// DecodeCursor verifies token and returns the keyset predicate it encodes. An
// empty token selects everything. Tokens minted under another order fail closed.
func (m *Mapping[T, C, U, ID]) DecodeCursor(codec *pagination.Codec, op, token string, sorts []Sort) (specification.Spec[T], error) {
	if token == "" {
		return specification.All[T](), nil
	}
	key, err := codec.Decode(token)
	if err != nil {
		return specification.Spec[T]{}, domain.Validation(op, m.Name(), err)
	}
	if want := Fingerprint(sorts); key.Order != want || len(key.Values) != len(sorts) {
		return specification.Spec[T]{}, domain.Validation(op, m.Name(),
			fmt.Errorf("%w: minted for order %q, requested %q", pagination.ErrInvalidCursor, key.Order, want))
	}
	return m.After(sorts, key.Values), nil
}

// EncodeCursor mints the token pointing just past last.
func (m *Mapping[T, C, U, ID]) EncodeCursor(codec *pagination.Codec, op string, last T, sorts []Sort) (string, error) {
	values := make([]any, len(sorts))
	for i, s := range sorts {
		v := specification.Indirect(m.fields[s.Field](last))
		if v == nil {
			return "", domain.Validation(op, m.Name(), fmt.Errorf("sort field %q is null and cannot anchor a cursor", s.Field))
		}
		values[i] = v
	}
	token, err := codec.Encode(pagination.Key{Order: Fingerprint(sorts), Values: values})
	if err != nil {
		return "", domain.Validation(op, m.Name(), err)
	}
	return token, nil
}
