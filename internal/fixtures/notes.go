// Package fixtures holds sample entities used by the demo CLI and by backend
// tests.
package fixtures

import (
	"errors"
	"strings"

	"github.com/amirasaad/persistence/pkg/domain"
	"github.com/amirasaad/persistence/pkg/repository"
	"github.com/amirasaad/persistence/pkg/specification"
	"github.com/google/uuid"
)

// Note is a versioned, audited entity keyed by uuid.
type Note struct {
	domain.Entity[uuid.UUID]
	domain.Versioned
	domain.Auditable
	Title    string  `gorm:"size:200;not null" json:"title"`
	Slug     string  `gorm:"size:200;not null;uniqueIndex" json:"slug"`
	Priority int     `gorm:"not null;default:0" json:"priority"`
	Body     *string `json:"body,omitempty"`
	Archived bool    `gorm:"not null;default:false" json:"archived"`
}

// NoteCreate is the creation payload for Note.
type NoteCreate struct {
	Title    string  `validate:"required,max=200"`
	Slug     string  `validate:"required,max=200"`
	Priority int     `validate:"gte=0,lte=5"`
	Body     *string `validate:"omitempty,max=2000"`
}

// NoteUpdate carries the fields to change. Nil fields are left untouched.
type NoteUpdate struct {
	Title    *string `validate:"omitempty,min=1,max=200"`
	Priority *int    `validate:"omitempty,gte=0,lte=5"`
	Body     *string `validate:"omitempty,max=2000"`
	Archived *bool
	// Version, when set, must match the stored version.
	Version *int64
}

// ExpectedVersion implements domain.VersionExpectation.
func (u NoteUpdate) ExpectedVersion() (int64, bool) {
	if u.Version == nil {
		return 0, false
	}
	return *u.Version, true
}

// Note fields for building specifications and sorts.
var (
	NoteTitle    = specification.FieldOf("title", func(n Note) string { return n.Title })
	NoteSlug     = specification.FieldOf("slug", func(n Note) string { return n.Slug })
	NotePriority = specification.FieldOf("priority", func(n Note) int { return n.Priority })
	NoteBody     = specification.FieldOf("body", func(n Note) *string { return n.Body })
	NoteArchived = specification.FieldOf("archived", func(n Note) bool { return n.Archived })
)

// NoteSchema describes Note to the repositories.
func NoteSchema() repository.Schema[Note, NoteCreate, NoteUpdate, uuid.UUID] {
	return repository.Schema[Note, NoteCreate, NoteUpdate, uuid.UUID]{
		Name:  "notes",
		NewID: uuid.New,
		Fields: map[string]specification.Accessor[Note]{
			NoteTitle.Name():    NoteTitle.Accessor(),
			NoteSlug.Name():     NoteSlug.Accessor(),
			NotePriority.Name(): NotePriority.Accessor(),
			NoteBody.Name():     NoteBody.Accessor(),
			NoteArchived.Name(): NoteArchived.Accessor(),
		},
		Unique: [][]string{{"slug"}},
		Build: func(c NoteCreate) (Note, error) {
			return Note{
				Title:    strings.TrimSpace(c.Title),
				Slug:     strings.ToLower(c.Slug),
				Priority: c.Priority,
				Body:     c.Body,
			}, nil
		},
		Apply: func(n *Note, u NoteUpdate) ([]string, error) {
			var changed []string
			if u.Title != nil {
				title := strings.TrimSpace(*u.Title)
				if title == "" {
					return nil, errors.New("title must not be blank")
				}
				n.Title = title
				changed = append(changed, "title")
			}
			if u.Priority != nil {
				n.Priority = *u.Priority
				changed = append(changed, "priority")
			}
			if u.Body != nil {
				body := *u.Body
				n.Body = &body
				changed = append(changed, "body")
			}
			if u.Archived != nil {
				n.Archived = *u.Archived
				changed = append(changed, "archived")
			}
			return changed, nil
		},
		Clone: func(n Note) Note {
			if n.Body != nil {
				body := *n.Body
				n.Body = &body
			}
			return n
		},
	}
}

// Tag is a plain entity keyed by string.
type Tag struct {
	domain.Entity[string]
	Label string `gorm:"size:64;not null;uniqueIndex" json:"label"`
}

// TagCreate is the creation payload for Tag.
type TagCreate struct {
	Label string `validate:"required,max=64"`
}

// TagUpdate renames a tag.
type TagUpdate struct {
	Label *string `validate:"omitempty,min=1,max=64"`
}

// TagLabel is the label field.
var TagLabel = specification.FieldOf("label", func(t Tag) string { return t.Label })

// TagSchema describes Tag to the repositories. Tags are copied through JSON.
func TagSchema() repository.Schema[Tag, TagCreate, TagUpdate, string] {
	return repository.Schema[Tag, TagCreate, TagUpdate, string]{
		Name:   "tags",
		NewID:  func() string { return "tag_" + uuid.NewString() },
		Fields: map[string]specification.Accessor[Tag]{TagLabel.Name(): TagLabel.Accessor()},
		Unique: [][]string{{"label"}},
		Build: func(c TagCreate) (Tag, error) {
			return Tag{Label: c.Label}, nil
		},
		Apply: func(t *Tag, u TagUpdate) ([]string, error) {
			if u.Label == nil {
				return nil, nil
			}
			t.Label = *u.Label
			return []string{"label"}, nil
		},
	}
}

// Ptr returns a pointer to v.
func Ptr[V any](v V) *V { return &v }
