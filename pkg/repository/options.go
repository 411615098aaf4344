package repository

import (
	"fmt"
	"strings"
)

// Sort orders results by one field.
type Sort struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

// Asc sorts by field ascending.
func Asc(field string) Sort { return Sort{Field: field} }

// Desc sorts by field descending.
func Desc(field string) Sort { return Sort{Field: field, Desc: true} }

func (s Sort) String() string {
	if s.Desc {
		return s.Field + ":desc"
	}
	return s.Field + ":asc"
}

// Fingerprint renders a sort order as "field:dir,field:dir". Cursors carry it so
// a token minted for one order is rejected under another.
func Fingerprint(sorts []Sort) string {
	parts := make([]string, len(sorts))
	for i, s := range sorts {
		parts[i] = s.String()
	}
	return strings.Join(parts, ",")
}

// ListOptions controls offset listing.
type ListOptions struct {
	Skip           int
	Limit          int
	Sort           []Sort
	IncludeDeleted bool
}

// ReadOptions is the resolved form of ReadOption values.
type ReadOptions struct {
	IncludeDeleted bool
}

// ReadOption tunes a single Get call.
type ReadOption func(*ReadOptions)

// IncludeDeleted makes Get return soft deleted entities.
func IncludeDeleted() ReadOption {
	return func(o *ReadOptions) { o.IncludeDeleted = true }
}

// ResolveReadOptions applies opts over the defaults.
func ResolveReadOptions(opts ...ReadOption) ReadOptions {
	var o ReadOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// DeleteMode selects logical or physical removal. The zero value is invalid so
// every call site states its intent.
type DeleteMode int

const (
	SoftDelete DeleteMode = iota + 1
	HardDelete
)

func (m DeleteMode) String() string {
	switch m {
	case SoftDelete:
		return "soft"
	case HardDelete:
		return "hard"
	default:
		return fmt.Sprintf("DeleteMode(%d)", int(m))
	}
}

// Valid reports whether m is SoftDelete or HardDelete.
func (m DeleteMode) Valid() bool {
	return m == SoftDelete || m == HardDelete
}

// Limits bounds page sizes for List and GetPage.
type Limits struct {
	Default int
	Max     int
}

// DefaultLimits is used when a backend is built without explicit limits.
var DefaultLimits = Limits{Default: 50, Max: 500}

// Clamp resolves a requested page size. Non-positive requests use the default.
func (l Limits) Clamp(n int) int {
	if l.Default <= 0 {
		l.Default = DefaultLimits.Default
	}
	if l.Max <= 0 {
		l.Max = DefaultLimits.Max
	}
	if n <= 0 {
		n = l.Default
	}
	if n > l.Max {
		n = l.Max
	}
	return n
}
