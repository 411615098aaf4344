// Package specification implements composable, side-effect free predicates over
// entity types. A Spec is an immutable tree of comparisons joined by AND, OR and
// NOT; it can be evaluated in memory with IsSatisfiedBy or translated into a
// backend query condition with Translate.
package specification

import (
	"fmt"
	"strings"
)

// Operator is a comparison operator.
type Operator string

const (
	OpEq        Operator = "eq"
	OpNe        Operator = "ne"
	OpGt        Operator = "gt"
	OpGte       Operator = "gte"
	OpLt        Operator = "lt"
	OpLte       Operator = "lte"
	OpIn        Operator = "in"
	OpNotIn     Operator = "not_in"
	OpContains  Operator = "contains"
	OpHasPrefix Operator = "has_prefix"
	OpIsNull    Operator = "is_null"
	OpNotNull   Operator = "not_null"
)

// Accessor reads a field value from a candidate.
type Accessor[T any] func(T) any

// Comparison is a leaf node: Field Op Value.
type Comparison[T any] struct {
	Field string
	Op    Operator
	Value any
	get   Accessor[T]
}

type kind uint8

const (
	kindAll kind = iota
	kindNone
	kindComparison
	kindAnd
	kindOr
	kindNot
)

// Spec is a predicate over T. The zero Spec matches every candidate. Specs are
// values; composing never mutates an operand, so they may be shared freely.
type Spec[T any] struct {
	kind        kind
	cmp         *Comparison[T]
	left, right *Spec[T]
}

// All matches every candidate.
func All[T any]() Spec[T] { return Spec[T]{kind: kindAll} }

// None matches no candidate.
func None[T any]() Spec[T] { return Spec[T]{kind: kindNone} }

// Compare builds a leaf from an explicit accessor.
func Compare[T any](field string, get Accessor[T], op Operator, value any) Spec[T] {
	switch {
	case op == OpEq && isNull(value):
		op, value = OpIsNull, nil
	case op == OpNe && isNull(value):
		op, value = OpNotNull, nil
	}
	return Spec[T]{kind: kindComparison, cmp: &Comparison[T]{Field: field, Op: op, Value: value, get: get}}
}

// And returns s AND other.
func (s Spec[T]) And(other Spec[T]) Spec[T] {
	l, r := s, other
	return Spec[T]{kind: kindAnd, left: &l, right: &r}
}

// Or returns s OR other.
func (s Spec[T]) Or(other Spec[T]) Spec[T] {
	l, r := s, other
	return Spec[T]{kind: kindOr, left: &l, right: &r}
}

// Not returns the negation of s.
func (s Spec[T]) Not() Spec[T] {
	inner := s
	return Spec[T]{kind: kindNot, left: &inner}
}

// AllOf folds specs with AND. An empty list matches everything.
func AllOf[T any](specs ...Spec[T]) Spec[T] {
	if len(specs) == 0 {
		return All[T]()
	}
	out := specs[0]
	for _, s := range specs[1:] {
		out = out.And(s)
	}
	return out
}

// AnyOf folds specs with OR. An empty list matches nothing.
func AnyOf[T any](specs ...Spec[T]) Spec[T] {
	if len(specs) == 0 {
		return None[T]()
	}
	out := specs[0]
	for _, s := range specs[1:] {
		out = out.Or(s)
	}
	return out
}

// IsAll reports whether s is the bare match-everything node.
func (s Spec[T]) IsAll() bool { return s.kind == kindAll }

// IsSatisfiedBy evaluates the tree against candidate. And and Or short-circuit
// from left to right.
func (s Spec[T]) IsSatisfiedBy(candidate T) bool {
	switch s.kind {
	case kindAll:
		return true
	case kindNone:
		return false
	case kindComparison:
		return s.cmp.matches(candidate)
	case kindAnd:
		return s.left.IsSatisfiedBy(candidate) && s.right.IsSatisfiedBy(candidate)
	case kindOr:
		return s.left.IsSatisfiedBy(candidate) || s.right.IsSatisfiedBy(candidate)
	case kindNot:
		return !s.left.IsSatisfiedBy(candidate)
	}
	return false
}

func (c *Comparison[T]) matches(candidate T) bool {
	if c.get == nil {
		return false
	}
	actual := c.get(candidate)
	switch c.Op {
	case OpIsNull:
		return isNull(actual)
	case OpNotNull:
		return !isNull(actual)
	case OpIn:
		return contains(c.Value, actual)
	case OpNotIn:
		return !contains(c.Value, actual)
	case OpContains, OpHasPrefix:
		a, okA := deref(actual).(string)
		v, okV := deref(c.Value).(string)
		if !okA || !okV {
			return false
		}
		if c.Op == OpContains {
			return strings.Contains(a, v)
		}
		return strings.HasPrefix(a, v)
	}

	order, ok := compareValues(actual, c.Value)
	if !ok {
		return false
	}
	switch c.Op {
	case OpEq:
		return order == 0
	case OpNe:
		return order != 0
	case OpGt:
		return order > 0
	case OpGte:
		return order >= 0
	case OpLt:
		return order < 0
	case OpLte:
		return order <= 0
	}
	return false
}

// Walk visits every comparison leaf from left to right. It stops early when fn
// returns false.
func (s Spec[T]) Walk(fn func(Comparison[T]) bool) bool {
	switch s.kind {
	case kindComparison:
		return fn(*s.cmp)
	case kindAnd, kindOr:
		return s.left.Walk(fn) && s.right.Walk(fn)
	case kindNot:
		return s.left.Walk(fn)
	}
	return true
}

// String renders the tree for logs.
func (s Spec[T]) String() string {
	var b strings.Builder
	s.write(&b)
	return b.String()
}

func (s Spec[T]) write(b *strings.Builder) {
	switch s.kind {
	case kindAll:
		b.WriteString("TRUE")
	case kindNone:
		b.WriteString("FALSE")
	case kindComparison:
		if s.cmp.Op == OpIsNull || s.cmp.Op == OpNotNull {
			fmt.Fprintf(b, "%s %s", s.cmp.Field, s.cmp.Op)
			return
		}
		fmt.Fprintf(b, "%s %s %v", s.cmp.Field, s.cmp.Op, s.cmp.Value)
	case kindAnd, kindOr:
		b.WriteString("(")
		s.left.write(b)
		if s.kind == kindAnd {
			b.WriteString(" AND ")
		} else {
			b.WriteString(" OR ")
		}
		s.right.write(b)
		b.WriteString(")")
	case kindNot:
		b.WriteString("NOT ")
		s.left.write(b)
	}
}
