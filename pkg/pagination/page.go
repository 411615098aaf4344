package pagination

// Page is one slice of a keyset-paginated result. NextCursor is nil on the last
// page.
type Page[T any] struct {
	Items      []T     `json:"items"`
	NextCursor *string `json:"next_cursor,omitempty"`
}

// HasMore reports whether another page follows.
func (p Page[T]) HasMore() bool { return p.NextCursor != nil }
