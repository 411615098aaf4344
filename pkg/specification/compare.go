package specification

import (
	"cmp"
	"reflect"
	"strings"
	"time"
)

func deref(v any) any {
	for v != nil {
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Pointer {
			return v
		}
		if rv.IsNil() {
			return nil
		}
		v = rv.Elem().Interface()
	}
	return nil
}

func isNull(v any) bool {
	return deref(v) == nil
}

// compareValues orders a against b. ok is false when the values are null or of
// kinds that cannot be ordered against each other.
func compareValues(a, b any) (int, bool) {
	a, b = deref(a), deref(b)
	if a == nil || b == nil {
		return 0, false
	}

	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return ta.Compare(tb), true
	}

	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	switch {
	case isInt(ra) && isInt(rb):
		return cmp.Compare(ra.Int(), rb.Int()), true
	case isUint(ra) && isUint(rb):
		return cmp.Compare(ra.Uint(), rb.Uint()), true
	case isNumber(ra) && isNumber(rb):
		return cmp.Compare(toFloat(ra), toFloat(rb)), true
	case ra.Kind() == reflect.String && rb.Kind() == reflect.String:
		return strings.Compare(ra.String(), rb.String()), true
	case ra.Kind() == reflect.Bool && rb.Kind() == reflect.Bool:
		return cmpBool(ra.Bool(), rb.Bool()), true
	}

	// Identifiers such as uuid.UUID order by their canonical text form.
	if sa, ok := a.(interface{ String() string }); ok {
		switch sb := b.(type) {
		case interface{ String() string }:
			if ra.Type() == rb.Type() {
				return strings.Compare(sa.String(), sb.String()), true
			}
		case string:
			return strings.Compare(sa.String(), sb), true
		}
	}
	if sb, ok := b.(interface{ String() string }); ok && ra.Kind() == reflect.String {
		return strings.Compare(ra.String(), sb.String()), true
	}
	return 0, false
}

func contains(set any, v any) bool {
	rs := reflect.ValueOf(set)
	if rs.Kind() != reflect.Slice && rs.Kind() != reflect.Array {
		return false
	}
	for i := 0; i < rs.Len(); i++ {
		if order, ok := compareValues(v, rs.Index(i).Interface()); ok && order == 0 {
			return true
		}
	}
	return false
}

func isInt(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func isUint(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func isNumber(v reflect.Value) bool {
	return isInt(v) || isUint(v) || v.Kind() == reflect.Float32 || v.Kind() == reflect.Float64
}

func toFloat(v reflect.Value) float64 {
	switch {
	case isInt(v):
		return float64(v.Int())
	case isUint(v):
		return float64(v.Uint())
	}
	return v.Float()
}

func cmpBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}

// Indirect follows pointers and returns the underlying value, or nil for a nil
// pointer.
func Indirect(v any) any { return deref(v) }

// Order compares two field values with the same rules IsSatisfiedBy uses. ok is
// false when either value is null or the pair cannot be ordered.
func Order(a, b any) (int, bool) { return compareValues(a, b) }
