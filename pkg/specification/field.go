package specification

import "reflect"

// Field names an attribute of T together with the accessor used to read it.
// Declare fields once per entity type and build comparisons from them:
//
//	var Title = specification.FieldOf("title", func(n Note) string { return n.Title })
//	open := Title.HasPrefix("draft").Not()
type Field[T any] struct {
	name string
	get  Accessor[T]
}

// NewField declares a field with an untyped accessor.
func NewField[T any](name string, get Accessor[T]) Field[T] {
	return Field[T]{name: name, get: get}
}

// FieldOf declares a field from a typed accessor.
func FieldOf[T, V any](name string, get func(T) V) Field[T] {
	return Field[T]{name: name, get: func(t T) any { return get(t) }}
}

// Name returns the field name used for schema lookups.
func (f Field[T]) Name() string { return f.name }

// Accessor returns the accessor reading the field.
func (f Field[T]) Accessor() Accessor[T] { return f.get }

func (f Field[T]) Eq(v any) Spec[T]  { return Compare(f.name, f.get, OpEq, v) }
func (f Field[T]) Ne(v any) Spec[T]  { return Compare(f.name, f.get, OpNe, v) }
func (f Field[T]) Gt(v any) Spec[T]  { return Compare(f.name, f.get, OpGt, v) }
func (f Field[T]) Gte(v any) Spec[T] { return Compare(f.name, f.get, OpGte, v) }
func (f Field[T]) Lt(v any) Spec[T]  { return Compare(f.name, f.get, OpLt, v) }
func (f Field[T]) Lte(v any) Spec[T] { return Compare(f.name, f.get, OpLte, v) }

// In matches when the field equals one of values. A single slice argument is
// expanded.
func (f Field[T]) In(values ...any) Spec[T] { return Compare(f.name, f.get, OpIn, spread(values)) }

// NotIn matches when the field equals none of values.
func (f Field[T]) NotIn(values ...any) Spec[T] {
	return Compare(f.name, f.get, OpNotIn, spread(values))
}

// Contains matches string fields containing substr.
func (f Field[T]) Contains(substr string) Spec[T] {
	return Compare(f.name, f.get, OpContains, substr)
}

// HasPrefix matches string fields starting with prefix.
func (f Field[T]) HasPrefix(prefix string) Spec[T] {
	return Compare(f.name, f.get, OpHasPrefix, prefix)
}

func (f Field[T]) IsNull() Spec[T]  { return Compare(f.name, f.get, OpIsNull, nil) }
func (f Field[T]) NotNull() Spec[T] { return Compare(f.name, f.get, OpNotNull, nil) }

func spread(values []any) []any {
	if len(values) != 1 || values[0] == nil {
		return values
	}
	rv := reflect.ValueOf(values[0])
	if rv.Kind() != reflect.Slice || rv.Type().Elem().Kind() == reflect.Uint8 {
		return values
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}
