package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Common domain errors
var (
	// ErrNotFound is returned when a requested entity is not found
	ErrNotFound = errors.New("resource not found")
	// ErrValidation is returned when a create or update payload is malformed
	ErrValidation = errors.New("validation error")
	// ErrConflict is returned on uniqueness or optimistic version violations
	ErrConflict = errors.New("conflict")
	// ErrInfrastructure is returned when the backend is unreachable, times out or
	// returns data that cannot be decoded
	ErrInfrastructure = errors.New("infrastructure error")
	// ErrUnitOfWorkClosed is the panic value raised when a committed or rolled back
	// unit of work is used again. It is a programming error, never returned.
	ErrUnitOfWorkClosed = errors.New("unit of work is closed")
)

// ErrAlreadyExists is kept for callers that match on the older name.
var ErrAlreadyExists = ErrConflict

var kindNames = map[error]string{
	ErrNotFound:       "not_found",
	ErrValidation:     "validation",
	ErrConflict:       "conflict",
	ErrInfrastructure: "infrastructure",
}

// Error is the error value crossing the repository boundary. Kind is one of the
// sentinels above; errors.Is matches both the kind and the wrapped cause.
type Error struct {
	Kind   error
	Op     string
	Entity string
	Err    error
}

// NewError builds an *Error. A nil kind is treated as ErrInfrastructure.
func NewError(kind error, op, entity string, err error) *Error {
	if kind == nil {
		kind = ErrInfrastructure
	}
	return &Error{Kind: kind, Op: op, Entity: entity, Err: err}
}

// NotFound reports a missing entity.
func NotFound(op, entity string, id any) *Error {
	return NewError(ErrNotFound, op, entity, fmt.Errorf("id %v", id))
}

// Validation reports a rejected payload.
func Validation(op, entity string, err error) *Error {
	return NewError(ErrValidation, op, entity, err)
}

// Conflict reports a uniqueness or version violation.
func Conflict(op, entity string, err error) *Error {
	return NewError(ErrConflict, op, entity, err)
}

// Infrastructure reports a backend failure.
func Infrastructure(op, entity string, err error) *Error {
	return NewError(ErrInfrastructure, op, entity, err)
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Entity != "" {
		msg = e.Entity + ": " + msg
	}
	if e.Op != "" {
		msg = e.Op + " " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindName returns the wire name of the error kind.
func (e *Error) KindName() string {
	return KindName(e.Kind)
}

// KindName returns the wire name of the first taxonomy sentinel found in err's chain.
func KindName(err error) string {
	for kind, name := range kindNames {
		if errors.Is(err, kind) {
			return name
		}
	}
	return "unknown"
}

type errorPayload struct {
	Kind    string `json:"kind"`
	Op      string `json:"op,omitempty"`
	Entity  string `json:"entity,omitempty"`
	Message string `json:"message"`
}

// MarshalJSON encodes the error as {"kind","op","entity","message"}.
func (e *Error) MarshalJSON() ([]byte, error) {
	p := errorPayload{Kind: e.KindName(), Op: e.Op, Entity: e.Entity}
	if e.Err != nil {
		p.Message = e.Err.Error()
	}
	return json.Marshal(p)
}

// DecodeError rebuilds an error serialized by (*Error).MarshalJSON. Payloads that
// only carry a message come back as plain errors.
func DecodeError(raw json.RawMessage) (error, error) {
	var p errorPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode error payload: %w", err)
	}
	for kind, name := range kindNames {
		if name == p.Kind {
			var cause error
			if p.Message != "" {
				cause = errors.New(p.Message)
			}
			return &Error{Kind: kind, Op: p.Op, Entity: p.Entity, Err: cause}, nil
		}
	}
	return errors.New(p.Message), nil
}
