package specification

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	// ErrUnknownField is returned when a specification references a field the
	// schema does not expose.
	ErrUnknownField = errors.New("specification: unknown field")
	// ErrInvalidOperand is returned when an operator receives a value it cannot use.
	ErrInvalidOperand = errors.New("specification: invalid operand")
)

// Schema maps specification field names to backend columns. Only mapped fields
// can be translated, which keeps caller-supplied names out of query text.
type Schema interface {
	Column(field string) (string, bool)
}

// Columns is a map-backed Schema.
type Columns map[string]string

func (c Columns) Column(field string) (string, bool) {
	col, ok := c[field]
	return col, ok
}

// Builder produces backend conditions. Compare must bind value as a parameter,
// never interpolate it.
type Builder[C any] interface {
	True() C
	False() C
	Compare(column string, op Operator, value any) (C, error)
	And(left, right C) C
	Or(left, right C) C
	Not(inner C) C
}

// Translate walks s and builds the equivalent backend condition.
func Translate[T, C any](s Spec[T], schema Schema, b Builder[C]) (C, error) {
	var zero C
	switch s.kind {
	case kindAll:
		return b.True(), nil
	case kindNone:
		return b.False(), nil
	case kindComparison:
		return translateComparison(s.cmp, schema, b)
	case kindAnd, kindOr:
		left, err := Translate(*s.left, schema, b)
		if err != nil {
			return zero, err
		}
		right, err := Translate(*s.right, schema, b)
		if err != nil {
			return zero, err
		}
		if s.kind == kindAnd {
			return b.And(left, right), nil
		}
		return b.Or(left, right), nil
	case kindNot:
		inner, err := Translate(*s.left, schema, b)
		if err != nil {
			return zero, err
		}
		return b.Not(inner), nil
	}
	return zero, fmt.Errorf("specification: unknown node kind %d", s.kind)
}

func translateComparison[T, C any](c *Comparison[T], schema Schema, b Builder[C]) (C, error) {
	var zero C
	column, ok := schema.Column(c.Field)
	if !ok {
		return zero, fmt.Errorf("%w: %q", ErrUnknownField, c.Field)
	}
	value := deref(c.Value)
	switch c.Op {
	case OpIn, OpNotIn:
		values, err := flatten(value)
		if err != nil {
			return zero, err
		}
		if len(values) == 0 {
			if c.Op == OpIn {
				return b.False(), nil
			}
			return b.True(), nil
		}
		value = values
	case OpContains, OpHasPrefix:
		if _, ok := value.(string); !ok {
			return zero, fmt.Errorf("%w: %s needs a string, got %T", ErrInvalidOperand, c.Op, c.Value)
		}
	case OpIsNull, OpNotNull:
		value = nil
	default:
		if value == nil {
			return zero, fmt.Errorf("%w: %s needs a value", ErrInvalidOperand, c.Op)
		}
	}
	return b.Compare(column, c.Op, value)
}

func flatten(v any) ([]any, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("%w: expected a list, got %T", ErrInvalidOperand, v)
	}
	out := make([]any, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out = append(out, deref(rv.Index(i).Interface()))
	}
	return out, nil
}
