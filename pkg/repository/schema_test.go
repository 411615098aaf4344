package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/amirasaad/persistence/internal/fixtures"
	"github.com/amirasaad/persistence/pkg/domain"
	"github.com/amirasaad/persistence/pkg/pagination"
	"github.com/amirasaad/persistence/pkg/repository"
	"github.com/amirasaad/persistence/pkg/specification"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noteMapping = repository.Mapping[fixtures.Note, fixtures.NoteCreate, fixtures.NoteUpdate, uuid.UUID]

func newNoteMapping(t *testing.T) *noteMapping {
	t.Helper()
	m, err := repository.NewMapping[fixtures.Note, *fixtures.Note](fixtures.NoteSchema())
	require.NoError(t, err)
	return m
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestNewMappingRejectsIncompleteSchema(t *testing.T) {
	base := fixtures.NoteSchema()

	noName := base
	noName.Name = ""
	_, err := repository.NewMapping[fixtures.Note, *fixtures.Note](noName)
	assert.Error(t, err)

	noID := base
	noID.NewID = nil
	_, err = repository.NewMapping[fixtures.Note, *fixtures.Note](noID)
	assert.Error(t, err)

	shadow := base
	shadow.Fields = map[string]specification.Accessor[fixtures.Note]{"id": func(fixtures.Note) any { return nil }}
	_, err = repository.NewMapping[fixtures.Note, *fixtures.Note](shadow)
	assert.Error(t, err)

	badUnique := base
	badUnique.Unique = [][]string{{"nope"}}
	_, err = repository.NewMapping[fixtures.Note, *fixtures.Note](badUnique)
	assert.Error(t, err)
}

func TestMappingColumns(t *testing.T) {
	m := newNoteMapping(t)
	for _, f := range []string{"id", "created_at", "updated_at", "deleted", "title", "slug", "version", "created_by", "updated_by"} {
		col, ok := m.Column(f)
		assert.True(t, ok, f)
		assert.Equal(t, f, col)
	}
	_, ok := m.Column("password")
	assert.False(t, ok)

	tags, err := repository.NewMapping[fixtures.Tag, *fixtures.Tag](fixtures.TagSchema())
	require.NoError(t, err)
	_, ok = tags.Column("version")
	assert.False(t, ok, "tags are not versioned")
}

func TestNewEntityStampsAndValidates(t *testing.T) {
	m := newNoteMapping(t)
	ctx := domain.WithActor(context.Background(), "alice")

	n, err := m.NewEntity(ctx, "create", fixtures.NoteCreate{Title: " A ", Slug: "A"}, t0)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, n.ID)
	assert.Equal(t, t0, n.CreatedAt)
	assert.Equal(t, t0, n.UpdatedAt)
	assert.Equal(t, int64(1), n.Version)
	assert.Equal(t, "alice", n.CreatedBy)
	assert.Equal(t, "A", n.Title)
	assert.Equal(t, "a", n.Slug)

	_, err = m.NewEntity(ctx, "create", fixtures.NoteCreate{Slug: "x"}, t0)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = m.NewEntity(ctx, "create", fixtures.NoteCreate{Title: "x", Slug: "x", Priority: 9}, t0)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestApplyUpdate(t *testing.T) {
	m := newNoteMapping(t)
	ctx := context.Background()
	n, err := m.NewEntity(ctx, "create", fixtures.NoteCreate{Title: "A", Slug: "a"}, t0)
	require.NoError(t, err)

	cols, err := m.ApplyUpdate(ctx, "update", n, fixtures.NoteUpdate{}, t0.Add(time.Second))
	require.NoError(t, err)
	assert.Empty(t, cols)
	assert.Equal(t, t0, n.UpdatedAt)
	assert.Equal(t, int64(1), n.Version)

	cols, err = m.ApplyUpdate(ctx, "update", n, fixtures.NoteUpdate{Title: fixtures.Ptr("B")}, t0.Add(time.Second))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"title", "updated_at", "version", "updated_by"}, cols)
	assert.Equal(t, "B", n.Title)
	assert.Equal(t, "a", n.Slug)
	assert.Equal(t, int64(2), n.Version)
	assert.Equal(t, t0.Add(time.Second), n.UpdatedAt)

	// A clock running behind never moves updated_at before created_at.
	_, err = m.ApplyUpdate(ctx, "update", n, fixtures.NoteUpdate{Priority: fixtures.Ptr(3)}, t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, t0, n.UpdatedAt)

	_, err = m.ApplyUpdate(ctx, "update", n, fixtures.NoteUpdate{Title: fixtures.Ptr("C"), Version: fixtures.Ptr(int64(1))}, t0)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, "B", n.Title)

	_, err = m.ApplyUpdate(ctx, "update", n, fixtures.NoteUpdate{Title: fixtures.Ptr("   ")}, t0)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestResolveSort(t *testing.T) {
	m := newNoteMapping(t)

	sorts, err := m.ResolveSort("list", nil)
	require.NoError(t, err)
	assert.Equal(t, "created_at:asc,id:asc", repository.Fingerprint(sorts))

	sorts, err = m.ResolveSort("list", []repository.Sort{repository.Desc("priority"), repository.Asc("priority"), repository.Asc("title")})
	require.NoError(t, err)
	assert.Equal(t, "priority:desc,title:asc,id:asc", repository.Fingerprint(sorts))

	sorts, err = m.ResolveSort("list", []repository.Sort{repository.Desc("id"), repository.Asc("title")})
	require.NoError(t, err)
	assert.Equal(t, "id:desc", repository.Fingerprint(sorts))

	_, err = m.ResolveSort("list", []repository.Sort{repository.Asc("secret")})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.ErrorIs(t, err, specification.ErrUnknownField)
}

func TestCheckRejectsUnknownFields(t *testing.T) {
	m := newNoteMapping(t)
	assert.NoError(t, m.Check("list", fixtures.NoteTitle.Eq("x")))

	rogue := specification.FieldOf("password", func(n fixtures.Note) string { return "" })
	err := m.Check("list", fixtures.NoteTitle.Eq("x").Or(rogue.Eq("y")))
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.ErrorIs(t, err, specification.ErrUnknownField)
}

func TestLiveExcludesSoftDeleted(t *testing.T) {
	m := newNoteMapping(t)
	live := fixtures.Note{Title: "a"}
	gone := fixtures.Note{Title: "a"}
	gone.Deleted = true

	all := m.Live(specification.All[fixtures.Note]())
	assert.True(t, all.IsSatisfiedBy(live))
	assert.False(t, all.IsSatisfiedBy(gone))

	titled := m.Live(fixtures.NoteTitle.Eq("b"))
	assert.False(t, titled.IsSatisfiedBy(live))
}

func TestUniqueConstraints(t *testing.T) {
	m := newNoteMapping(t)
	a := fixtures.Note{Slug: "same"}
	b := fixtures.Note{Slug: "same"}
	c := fixtures.Note{Slug: "other"}

	cs := m.UniqueConstraints(a)
	require.Len(t, cs, 1)
	assert.Equal(t, []string{"slug"}, cs[0].Fields)
	assert.True(t, cs[0].Match.IsSatisfiedBy(b))
	assert.False(t, cs[0].Match.IsSatisfiedBy(c))

	err := m.DuplicateError("create", cs[0].Fields)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestKeysetAfter(t *testing.T) {
	m := newNoteMapping(t)
	sorts := []repository.Sort{repository.Desc("priority"), repository.Asc("title"), repository.Asc("id")}
	id := uuid.MustParse("00000000-0000-0000-0000-000000000005")

	after := m.After(sorts, []any{int64(3), "m", id})

	mk := func(prio int, title string, id string) fixtures.Note {
		n := fixtures.Note{Priority: prio, Title: title}
		n.ID = uuid.MustParse(id)
		return n
	}
	assert.True(t, after.IsSatisfiedBy(mk(2, "a", "00000000-0000-0000-0000-000000000001")), "lower priority follows in desc order")
	assert.False(t, after.IsSatisfiedBy(mk(4, "z", "00000000-0000-0000-0000-000000000009")))
	assert.True(t, after.IsSatisfiedBy(mk(3, "n", "00000000-0000-0000-0000-000000000001")))
	assert.False(t, after.IsSatisfiedBy(mk(3, "l", "00000000-0000-0000-0000-000000000009")))
	assert.True(t, after.IsSatisfiedBy(mk(3, "m", "00000000-0000-0000-0000-000000000006")))
	assert.False(t, after.IsSatisfiedBy(mk(3, "m", "00000000-0000-0000-0000-000000000005")), "anchor itself is excluded")
}

func TestCursorRoundTripAndOrderBinding(t *testing.T) {
	m := newNoteMapping(t)
	codec, err := pagination.NewCodec([]byte("0123456789abcdef0123"))
	require.NoError(t, err)

	sorts, err := m.ResolveSort("page", []repository.Sort{repository.Asc("title")})
	require.NoError(t, err)

	anchor := fixtures.Note{Title: "m"}
	anchor.ID = uuid.New()
	token, err := m.EncodeCursor(codec, "page", anchor, sorts)
	require.NoError(t, err)

	after, err := m.DecodeCursor(codec, "page", token, sorts)
	require.NoError(t, err)
	next := fixtures.Note{Title: "n"}
	assert.True(t, after.IsSatisfiedBy(next))
	assert.False(t, after.IsSatisfiedBy(anchor))

	other, err := m.ResolveSort("page", []repository.Sort{repository.Desc("title")})
	require.NoError(t, err)
	_, err = m.DecodeCursor(codec, "page", token, other)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.ErrorIs(t, err, pagination.ErrInvalidCursor)

	_, err = m.DecodeCursor(codec, "page", token+"x", sorts)
	assert.ErrorIs(t, err, pagination.ErrInvalidCursor)

	all, err := m.DecodeCursor(codec, "page", "", sorts)
	require.NoError(t, err)
	assert.True(t, all.IsAll())

	bodySorts, err := m.ResolveSort("page", []repository.Sort{repository.Asc("body")})
	require.NoError(t, err)
	_, err = m.EncodeCursor(codec, "page", anchor, bodySorts)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCompareOrdersByKeys(t *testing.T) {
	m := newNoteMapping(t)
	sorts := []repository.Sort{repository.Desc("priority"), repository.Asc("title")}
	a := fixtures.Note{Priority: 2, Title: "b"}
	b := fixtures.Note{Priority: 2, Title: "a"}
	c := fixtures.Note{Priority: 5, Title: "z"}
	assert.Positive(t, m.Compare(a, b, sorts))
	assert.Negative(t, m.Compare(c, a, sorts))
	assert.Zero(t, m.Compare(a, a, sorts))

	withBody := fixtures.Note{Body: fixtures.Ptr("x")}
	assert.Negative(t, m.Compare(fixtures.Note{}, withBody, []repository.Sort{repository.Asc("body")}), "nulls first")
}

func TestLimitsClamp(t *testing.T) {
	l := repository.Limits{Default: 10, Max: 20}
	assert.Equal(t, 10, l.Clamp(0))
	assert.Equal(t, 10, l.Clamp(-3))
	assert.Equal(t, 15, l.Clamp(15))
	assert.Equal(t, 20, l.Clamp(99))
	assert.Equal(t, repository.DefaultLimits.Default, repository.Limits{}.Clamp(0))
}

func TestDeleteModeAndReadOptions(t *testing.T) {
	var zero repository.DeleteMode
	assert.False(t, zero.Valid())
	assert.True(t, repository.SoftDelete.Valid())
	assert.True(t, repository.HardDelete.Valid())
	assert.Equal(t, "soft", repository.SoftDelete.String())

	assert.False(t, repository.ResolveReadOptions().IncludeDeleted)
	assert.True(t, repository.ResolveReadOptions(nil, repository.IncludeDeleted()).IncludeDeleted)
}

func TestMarkDeleted(t *testing.T) {
	m := newNoteMapping(t)
	ctx := context.Background()
	n, err := m.NewEntity(ctx, "create", fixtures.NoteCreate{Title: "A", Slug: "a"}, t0)
	require.NoError(t, err)

	cols := m.MarkDeleted(ctx, n, t0.Add(time.Minute))
	assert.ElementsMatch(t, []string{"deleted", "deleted_at", "updated_at", "version", "updated_by"}, cols)
	assert.True(t, n.Deleted)
	require.NotNil(t, n.DeletedAt)
	assert.Equal(t, t0.Add(time.Minute), *n.DeletedAt)
	assert.Equal(t, int64(2), n.Version)
}
