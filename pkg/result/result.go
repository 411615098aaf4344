// Package result provides an explicit two-variant outcome type used across the
// repository boundary instead of panics or bare error pairs.
package result

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Result holds either a success value (Ok) or an error value (Err). Exactly one
// variant is active and neither can be changed after construction. The zero
// Result is an Err carrying the zero E; build values with Ok and Err.
type Result[T any, E any] struct {
	value T
	err   E
	ok    bool
}

// Ok wraps a success value.
func Ok[T any, E any](value T) Result[T, E] {
	return Result[T, E]{value: value, ok: true}
}

// Err wraps an error value.
func Err[T any, E any](err E) Result[T, E] {
	return Result[T, E]{err: err}
}

// Of converts a Go (value, error) pair: a nil error yields Ok.
func Of[T any](value T, err error) Result[T, error] {
	if err != nil {
		return Err[T](err)
	}
	return Ok[T, error](value)
}

// Fail is Err specialised to the error interface.
func Fail[T any](err error) Result[T, error] {
	return Err[T](err)
}

// IsOk reports whether the Ok variant is active.
func (r Result[T, E]) IsOk() bool { return r.ok }

// IsErr reports whether the Err variant is active.
func (r Result[T, E]) IsErr() bool { return !r.ok }

// Value returns the success value and true, or the zero T and false.
func (r Result[T, E]) Value() (T, bool) {
	return r.value, r.ok
}

// Err returns the error value and true, or the zero E and false.
func (r Result[T, E]) Err() (E, bool) {
	if r.ok {
		var zero E
		return zero, false
	}
	return r.err, true
}

// Get returns both slots and whether the Ok variant is active.
func (r Result[T, E]) Get() (T, E, bool) {
	return r.value, r.err, r.ok
}

// Unwrap returns the success value. On Err it panics with the wrapped error; use
// it only where an Err is a broken invariant, never inside the persistence core.
func (r Result[T, E]) Unwrap() T {
	if r.ok {
		return r.value
	}
	if err, ok := any(r.err).(error); ok && err != nil {
		panic(fmt.Errorf("result: unwrap on Err: %w", err))
	}
	panic(fmt.Errorf("result: unwrap on Err: %v", r.err))
}

// UnwrapOr returns the success value, or def on Err.
func (r Result[T, E]) UnwrapOr(def T) T {
	if r.ok {
		return r.value
	}
	return def
}

// Unpack turns a Result back into the conventional Go pair.
func Unpack[T any](r Result[T, error]) (T, error) {
	if r.ok {
		return r.value, nil
	}
	if r.err == nil {
		return r.value, errors.New("result: Err without error value")
	}
	return r.value, r.err
}

// Map transforms the Ok value and passes Err through unchanged.
func Map[T, U, E any](r Result[T, E], fn func(T) U) Result[U, E] {
	if !r.ok {
		return Err[U](r.err)
	}
	return Ok[U, E](fn(r.value))
}

// MapErr transforms the Err value and passes Ok through unchanged.
func MapErr[T, E, F any](r Result[T, E], fn func(E) F) Result[T, F] {
	if r.ok {
		return Ok[T, F](r.value)
	}
	return Err[T](fn(r.err))
}

// Bind chains a fallible step: fn runs only on Ok and its Result is returned as is.
func Bind[T, U, E any](r Result[T, E], fn func(T) Result[U, E]) Result[U, E] {
	if !r.ok {
		return Err[U](r.err)
	}
	return fn(r.value)
}

// Collect returns Ok with every value when all inputs are Ok, otherwise the first
// Err in input order.
func Collect[T, E any](results []Result[T, E]) Result[[]T, E] {
	values := make([]T, 0, len(results))
	for _, r := range results {
		if !r.ok {
			return Err[[]T](r.err)
		}
		values = append(values, r.value)
	}
	return Ok[[]T, E](values)
}

// Variant discriminator values used by ToDict and JSON encoding.
const (
	VariantOk  = "ok"
	VariantErr = "err"
)

// ToDict returns {"variant":"ok","value":v} or {"variant":"err","error":e}.
// Errors that are not json.Marshalers are carried as {"message": err.Error()}.
func (r Result[T, E]) ToDict() map[string]any {
	if r.ok {
		return map[string]any{"variant": VariantOk, "value": r.value}
	}
	return map[string]any{"variant": VariantErr, "error": errorPayload(r.err)}
}

func errorPayload(e any) any {
	if _, ok := e.(json.Marshaler); ok {
		return e
	}
	if err, ok := e.(error); ok {
		if err == nil {
			return nil
		}
		return map[string]string{"message": err.Error()}
	}
	return e
}

// ErrorDecoder rebuilds an E from its serialized payload.
type ErrorDecoder[E any] func(raw json.RawMessage) (E, error)

// FromDict is the inverse of ToDict. The map may come straight from ToDict or from
// a JSON decode. decode may be nil, in which case the payload is unmarshaled into E,
// falling back to a plain error built from "message" when E is the error interface.
func FromDict[T, E any](m map[string]any, decode ErrorDecoder[E]) (Result[T, E], error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return Result[T, E]{}, fmt.Errorf("result: encode dict: %w", err)
	}
	return decodeEnvelope[T, E](raw, decode)
}

type envelope struct {
	Variant string          `json:"variant"`
	Value   json.RawMessage `json:"value,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

func decodeEnvelope[T, E any](raw []byte, decode ErrorDecoder[E]) (Result[T, E], error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Result[T, E]{}, fmt.Errorf("result: decode envelope: %w", err)
	}
	switch env.Variant {
	case VariantOk:
		var v T
		if len(env.Value) > 0 {
			if err := json.Unmarshal(env.Value, &v); err != nil {
				return Result[T, E]{}, fmt.Errorf("result: decode value: %w", err)
			}
		}
		return Ok[T, E](v), nil
	case VariantErr:
		if decode == nil {
			decode = defaultDecoder[E]
		}
		e, err := decode(env.Error)
		if err != nil {
			return Result[T, E]{}, fmt.Errorf("result: decode error: %w", err)
		}
		return Err[T](e), nil
	default:
		return Result[T, E]{}, fmt.Errorf("result: unknown variant %q", env.Variant)
	}
}

func defaultDecoder[E any](raw json.RawMessage) (E, error) {
	var e E
	if target, ok := any(&e).(*error); ok {
		var p struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(raw, &p); err != nil {
			return e, err
		}
		*target = errors.New(p.Message)
		return e, nil
	}
	err := json.Unmarshal(raw, &e)
	return e, err
}

// MarshalJSON encodes the ToDict shape.
func (r Result[T, E]) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ToDict())
}

// UnmarshalJSON decodes the ToDict shape using the default error decoder.
func (r *Result[T, E]) UnmarshalJSON(data []byte) error {
	decoded, err := decodeEnvelope[T, E](data, nil)
	if err != nil {
		return err
	}
	*r = decoded
	return nil
}

func (r Result[T, E]) String() string {
	if r.ok {
		return fmt.Sprintf("Ok(%v)", r.value)
	}
	return fmt.Sprintf("Err(%v)", r.err)
}
