// Package testutils holds the behavioural contract every repository backend
// must pass. Backend packages run ContractSuite from their own tests.
package testutils

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/amirasaad/persistence/internal/fixtures"
	"github.com/amirasaad/persistence/pkg/clock"
	"github.com/amirasaad/persistence/pkg/domain"
	"github.com/amirasaad/persistence/pkg/pagination"
	"github.com/amirasaad/persistence/pkg/repository"
	"github.com/amirasaad/persistence/pkg/result"
	"github.com/amirasaad/persistence/pkg/specification"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
)

// NoteRepository is the repository type exercised by the suite.
type NoteRepository = repository.Repository[fixtures.Note, fixtures.NoteCreate, fixtures.NoteUpdate, uuid.UUID]

// TagRepository is the second repository used for cross-repository atomicity.
type TagRepository = repository.Repository[fixtures.Tag, fixtures.TagCreate, fixtures.TagUpdate, string]

// Backend is one freshly initialised storage backend.
type Backend struct {
	Factory repository.Factory
	Notes   repository.Provider[fixtures.Note, fixtures.NoteCreate, fixtures.NoteUpdate, uuid.UUID]
	Tags    repository.Provider[fixtures.Tag, fixtures.TagCreate, fixtures.TagUpdate, string]
}

// Epoch is the first instant handed out by the suite clock.
var Epoch = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

// CursorSecret signs cursors in tests.
var CursorSecret = []byte("contract-suite-cursor-secret-0001")

// ContractSuite checks the repository and unit of work contract.
type ContractSuite struct {
	suite.Suite

	// NewBackend builds empty storage using the given clock and codec.
	NewBackend func(t *testing.T, c clock.Clock, codec *pagination.Codec) Backend

	backend Backend
	codec   *pagination.Codec
	ctx     context.Context
}

func (s *ContractSuite) SetupTest() {
	codec, err := pagination.NewCodec(CursorSecret)
	s.Require().NoError(err)
	s.ctx = context.Background()
	s.codec = codec
	s.backend = s.NewBackend(s.T(), clock.NewStepping(Epoch, time.Second), codec)
}

func (s *ContractSuite) begin() repository.UnitOfWork {
	u, err := result.Unpack(s.backend.Factory.Begin(s.ctx))
	s.Require().NoError(err)
	return u
}

func (s *ContractSuite) repos(u repository.UnitOfWork) (NoteRepository, TagRepository) {
	notes, err := result.Unpack(s.backend.Notes(u))
	s.Require().NoError(err)
	tags, err := result.Unpack(s.backend.Tags(u))
	s.Require().NoError(err)
	return notes, tags
}

// do runs fn in a unit of work and requires the commit to succeed.
func (s *ContractSuite) do(fn func(notes NoteRepository, tags TagRepository)) {
	s.T().Helper()
	res := repository.Do(s.ctx, s.backend.Factory, func(_ context.Context, u repository.UnitOfWork) error {
		fn(s.repos(u))
		return nil
	})
	state, err := result.Unpack(res)
	s.Require().NoError(err)
	s.Require().Equal(repository.Committed, state)
}

// read runs fn in a unit of work that is rolled back afterwards.
func (s *ContractSuite) read(fn func(notes NoteRepository, tags TagRepository)) {
	s.T().Helper()
	u := s.begin()
	defer u.Rollback(s.ctx)
	fn(s.repos(u))
}

func (s *ContractSuite) seed(creates ...fixtures.NoteCreate) []*fixtures.Note {
	var out []*fixtures.Note
	s.do(func(notes NoteRepository, _ TagRepository) {
		created, err := result.Unpack(notes.CreateMany(s.ctx, creates))
		s.Require().NoError(err)
		out = created
	})
	return out
}

func (s *ContractSuite) seedNumbered(n int, priority func(i int) int) []*fixtures.Note {
	creates := make([]fixtures.NoteCreate, n)
	for i := range creates {
		creates[i] = fixtures.NoteCreate{
			Title:    fmt.Sprintf("n%02d", i),
			Slug:     fmt.Sprintf("note-%02d", i),
			Priority: priority(i),
		}
	}
	return s.seed(creates...)
}

func (s *ContractSuite) requireErrKind(err error, kind error) {
	s.T().Helper()
	s.Require().Error(err)
	s.Require().ErrorIs(err, kind, "got %v", err)
	var derr *domain.Error
	s.Require().True(errors.As(err, &derr), "expected *domain.Error, got %T", err)
}

func (s *ContractSuite) sameNote(want, got *fixtures.Note) {
	s.T().Helper()
	s.Require().NotNil(got)
	s.Equal(want.ID, got.ID)
	s.Equal(want.Title, got.Title)
	s.Equal(want.Slug, got.Slug)
	s.Equal(want.Priority, got.Priority)
	s.Equal(want.Body, got.Body)
	s.Equal(want.Archived, got.Archived)
	s.Equal(want.Version, got.Version)
	s.Equal(want.Deleted, got.Deleted)
	s.Equal(want.CreatedBy, got.CreatedBy)
	s.Equal(want.UpdatedBy, got.UpdatedBy)
	s.True(want.CreatedAt.Equal(got.CreatedAt), "created_at %v != %v", want.CreatedAt, got.CreatedAt)
	s.True(want.UpdatedAt.Equal(got.UpdatedAt), "updated_at %v != %v", want.UpdatedAt, got.UpdatedAt)
}

func ids(notes []fixtures.Note) []uuid.UUID {
	out := make([]uuid.UUID, len(notes))
	for i, n := range notes {
		out[i] = n.ID
	}
	return out
}

func (s *ContractSuite) TestConcreteScenario() {
	var id uuid.UUID
	s.do(func(notes NoteRepository, _ TagRepository) {
		a, err := result.Unpack(notes.Create(s.ctx, fixtures.NoteCreate{Title: "A", Slug: "a"}))
		s.Require().NoError(err)
		s.NotEqual(uuid.Nil, a.ID)
		id = a.ID
	})

	s.do(func(notes NoteRepository, _ TagRepository) {
		_, err := result.Unpack(notes.Update(s.ctx, id, fixtures.NoteUpdate{Title: fixtures.Ptr("B")}))
		s.Require().NoError(err)
	})
	s.read(func(notes NoteRepository, _ TagRepository) {
		got, err := result.Unpack(notes.Get(s.ctx, id))
		s.Require().NoError(err)
		s.Require().NotNil(got)
		s.Equal("B", got.Title)
	})

	s.do(func(notes NoteRepository, _ TagRepository) {
		deleted, err := result.Unpack(notes.Delete(s.ctx, id, repository.SoftDelete))
		s.Require().NoError(err)
		s.True(deleted)
	})
	var snapshot *fixtures.Note
	s.read(func(notes NoteRepository, _ TagRepository) {
		hidden, err := result.Unpack(notes.Get(s.ctx, id))
		s.Require().NoError(err)
		s.Nil(hidden)

		snapshot, err = result.Unpack(notes.Get(s.ctx, id, repository.IncludeDeleted()))
		s.Require().NoError(err)
		s.Require().NotNil(snapshot)
		s.Equal("B", snapshot.Title)
		s.True(snapshot.Deleted)
		s.NotNil(snapshot.DeletedAt)

		listed, err := result.Unpack(notes.List(s.ctx, specification.All[fixtures.Note](), repository.ListOptions{}))
		s.Require().NoError(err)
		s.Empty(listed.Items)
		s.Zero(listed.Total)
	})

	s.do(func(notes NoteRepository, _ TagRepository) {
		deleted, err := result.Unpack(notes.Delete(s.ctx, id, repository.SoftDelete))
		s.Require().NoError(err)
		s.True(deleted)
	})
	s.read(func(notes NoteRepository, _ TagRepository) {
		again, err := result.Unpack(notes.Get(s.ctx, id, repository.IncludeDeleted()))
		s.Require().NoError(err)
		s.sameNote(snapshot, again)
	})
}

func (s *ContractSuite) TestRoundTrip() {
	body := "first draft"
	ctx := domain.WithActor(s.ctx, "alice")
	var created *fixtures.Note
	s.do(func(notes NoteRepository, _ TagRepository) {
		var err error
		created, err = result.Unpack(notes.Create(ctx, fixtures.NoteCreate{Title: "Plan", Slug: "plan", Priority: 2, Body: &body}))
		s.Require().NoError(err)
	})
	s.Equal(int64(1), created.Version)
	s.Equal("alice", created.CreatedBy)
	s.True(created.CreatedAt.Equal(created.UpdatedAt))

	s.read(func(notes NoteRepository, _ TagRepository) {
		got, err := result.Unpack(notes.Get(s.ctx, created.ID))
		s.Require().NoError(err)
		s.sameNote(created, got)
	})

	var updated *fixtures.Note
	s.do(func(notes NoteRepository, _ TagRepository) {
		var err error
		updated, err = result.Unpack(notes.Update(domain.WithActor(s.ctx, "bob"), created.ID, fixtures.NoteUpdate{Priority: fixtures.Ptr(4)}))
		s.Require().NoError(err)
	})
	s.read(func(notes NoteRepository, _ TagRepository) {
		got, err := result.Unpack(notes.Get(s.ctx, created.ID))
		s.Require().NoError(err)
		s.sameNote(updated, got)
		s.Equal(4, got.Priority)
		s.Equal(created.Title, got.Title)
		s.Equal(created.Slug, got.Slug)
		s.Equal(created.Body, got.Body)
		s.Equal(int64(2), got.Version)
		s.Equal("alice", got.CreatedBy)
		s.Equal("bob", got.UpdatedBy)
		s.True(got.UpdatedAt.After(got.CreatedAt))
		s.True(got.CreatedAt.Equal(created.CreatedAt))
	})
}

// TestRoundTripWithFineClock stamps entities below microsecond precision.
func (s *ContractSuite) TestRoundTripWithFineClock() {
	fine := clock.NewStepping(Epoch.Add(123456789*time.Nanosecond), 1001*time.Nanosecond)
	s.backend = s.NewBackend(s.T(), fine, s.codec)
	s.TestRoundTrip()
}

// TestEntitiesDoNotAliasStorage changes payloads and returned entities in
// place and expects stored rows to stay as written.
func (s *ContractSuite) TestEntitiesDoNotAliasStorage() {
	body := "original"
	var created *fixtures.Note
	s.do(func(notes NoteRepository, _ TagRepository) {
		var err error
		created, err = result.Unpack(notes.Create(s.ctx, fixtures.NoteCreate{Title: "Alias", Slug: "alias", Body: &body}))
		s.Require().NoError(err)
	})
	body = "changed payload"
	s.Require().NotNil(created.Body)
	*created.Body = "changed created"

	s.read(func(notes NoteRepository, _ TagRepository) {
		got, err := result.Unpack(notes.Get(s.ctx, created.ID))
		s.Require().NoError(err)
		s.Require().NotNil(got.Body)
		s.Equal("original", *got.Body)
		*got.Body = "changed read"

		listed, err := result.Unpack(notes.List(s.ctx, specification.All[fixtures.Note](), repository.ListOptions{}))
		s.Require().NoError(err)
		s.Require().Len(listed.Items, 1)
		s.Equal("original", *listed.Items[0].Body)
		*listed.Items[0].Body = "changed listed"
	})

	var updated *fixtures.Note
	s.do(func(notes NoteRepository, _ TagRepository) {
		var err error
		updated, err = result.Unpack(notes.Update(s.ctx, created.ID, fixtures.NoteUpdate{Priority: fixtures.Ptr(3)}))
		s.Require().NoError(err)
	})
	*updated.Body = "changed updated"

	s.read(func(notes NoteRepository, _ TagRepository) {
		page, err := result.Unpack(notes.GetPage(s.ctx, "", 10, specification.All[fixtures.Note]()))
		s.Require().NoError(err)
		s.Require().Len(page.Items, 1)
		s.Equal("original", *page.Items[0].Body)
		s.Equal(3, page.Items[0].Priority)
	})

	var tag *fixtures.Tag
	s.do(func(_ NoteRepository, tags TagRepository) {
		var err error
		tag, err = result.Unpack(tags.Create(s.ctx, fixtures.TagCreate{Label: "alias"}))
		s.Require().NoError(err)
		_, err = result.Unpack(tags.Delete(s.ctx, tag.ID, repository.SoftDelete))
		s.Require().NoError(err)
	})
	s.read(func(_ NoteRepository, tags TagRepository) {
		got, err := result.Unpack(tags.Get(s.ctx, tag.ID, repository.IncludeDeleted()))
		s.Require().NoError(err)
		s.Require().NotNil(got.DeletedAt)
		deletedAt := *got.DeletedAt
		*got.DeletedAt = deletedAt.Add(time.Hour)

		again, err := result.Unpack(tags.Get(s.ctx, tag.ID, repository.IncludeDeleted()))
		s.Require().NoError(err)
		s.True(again.DeletedAt.Equal(deletedAt))
	})
}

func (s *ContractSuite) TestIdentityIsAssigned() {
	notes := s.seedNumbered(3, func(int) int { return 0 })
	seen := map[uuid.UUID]bool{}
	for _, n := range notes {
		s.NotEqual(uuid.Nil, n.ID)
		s.False(seen[n.ID])
		seen[n.ID] = true
	}

	s.do(func(_ NoteRepository, tags TagRepository) {
		tag, err := result.Unpack(tags.Create(s.ctx, fixtures.TagCreate{Label: "go"}))
		s.Require().NoError(err)
		s.Contains(tag.ID, "tag_")
	})
}

func (s *ContractSuite) TestGetMissingIsAbsent() {
	s.read(func(notes NoteRepository, _ TagRepository) {
		got, err := result.Unpack(notes.Get(s.ctx, uuid.New()))
		s.Require().NoError(err)
		s.Nil(got)

		exists, err := result.Unpack(notes.Exists(s.ctx, uuid.New()))
		s.Require().NoError(err)
		s.False(exists)
	})
}

func (s *ContractSuite) TestValidationFailsTheUnit() {
	u := s.begin()
	notes, _ := s.repos(u)
	_, err := result.Unpack(notes.Create(s.ctx, fixtures.NoteCreate{Slug: "untitled"}))
	s.requireErrKind(err, domain.ErrValidation)

	_, err = result.Unpack(notes.Create(s.ctx, fixtures.NoteCreate{Title: "ok", Slug: "ok"}))
	s.Require().NoError(err)

	_, err = result.Unpack(u.Commit(s.ctx))
	s.ErrorIs(err, repository.ErrRolledBack)
	s.ErrorIs(err, domain.ErrValidation)
	s.Equal(repository.RolledBack, u.State())

	s.read(func(notes NoteRepository, _ TagRepository) {
		n, err := result.Unpack(notes.Count(s.ctx, specification.All[fixtures.Note]()))
		s.Require().NoError(err)
		s.Zero(n)
	})
}

func (s *ContractSuite) TestUniqueConflict() {
	s.seed(fixtures.NoteCreate{Title: "one", Slug: "dup"})

	u := s.begin()
	notes, _ := s.repos(u)
	_, err := result.Unpack(notes.Create(s.ctx, fixtures.NoteCreate{Title: "two", Slug: "DUP"}))
	s.requireErrKind(err, domain.ErrConflict)
	_, err = result.Unpack(u.Commit(s.ctx))
	s.ErrorIs(err, domain.ErrConflict)
}

func (s *ContractSuite) TestCreateManyIsAllOrNothing() {
	u := s.begin()
	notes, _ := s.repos(u)
	_, err := result.Unpack(notes.CreateMany(s.ctx, []fixtures.NoteCreate{
		{Title: "x", Slug: "x"},
		{Title: "y", Slug: "y"},
		{Title: "x again", Slug: "x"},
	}))
	s.requireErrKind(err, domain.ErrConflict)

	n, err := result.Unpack(notes.Count(s.ctx, specification.All[fixtures.Note]()))
	s.Require().NoError(err)
	s.Zero(n, "a failed batch stages nothing")
	_, err = result.Unpack(u.Commit(s.ctx))
	s.Error(err)

	created := s.seed(
		fixtures.NoteCreate{Title: "x", Slug: "x"},
		fixtures.NoteCreate{Title: "y", Slug: "y"},
		fixtures.NoteCreate{Title: "z", Slug: "z"},
	)
	s.Len(created, 3)
	s.read(func(notes NoteRepository, _ TagRepository) {
		n, err := result.Unpack(notes.Count(s.ctx, specification.All[fixtures.Note]()))
		s.Require().NoError(err)
		s.Equal(int64(3), n)
	})
}

func (s *ContractSuite) TestAtomicityAcrossRepositories() {
	u := s.begin()
	notes, tags := s.repos(u)
	s.ElementsMatch([]string{"notes", "tags"}, u.Registered())

	_, err := result.Unpack(tags.Create(s.ctx, fixtures.TagCreate{Label: "ops"}))
	s.Require().NoError(err)
	_, err = result.Unpack(notes.Create(s.ctx, fixtures.NoteCreate{Title: "kept?", Slug: "kept"}))
	s.Require().NoError(err)
	_, err = result.Unpack(notes.Update(s.ctx, uuid.New(), fixtures.NoteUpdate{Title: fixtures.Ptr("ghost")}))
	s.requireErrKind(err, domain.ErrNotFound)

	_, err = result.Unpack(u.Commit(s.ctx))
	s.ErrorIs(err, repository.ErrRolledBack)
	s.ErrorIs(err, domain.ErrNotFound)

	s.read(func(notes NoteRepository, tags TagRepository) {
		n, err := result.Unpack(notes.Count(s.ctx, specification.All[fixtures.Note]()))
		s.Require().NoError(err)
		s.Zero(n)
		t, err := result.Unpack(tags.Count(s.ctx, specification.All[fixtures.Tag]()))
		s.Require().NoError(err)
		s.Zero(t)
	})

	s.do(func(notes NoteRepository, tags TagRepository) {
		_, err := result.Unpack(tags.Create(s.ctx, fixtures.TagCreate{Label: "ops"}))
		s.Require().NoError(err)
		_, err = result.Unpack(notes.Create(s.ctx, fixtures.NoteCreate{Title: "kept", Slug: "kept"}))
		s.Require().NoError(err)
	})
	s.read(func(notes NoteRepository, tags TagRepository) {
		n, err := result.Unpack(notes.Count(s.ctx, specification.All[fixtures.Note]()))
		s.Require().NoError(err)
		s.Equal(int64(1), n)
		t, err := result.Unpack(tags.Count(s.ctx, fixtures.TagLabel.Eq("ops")))
		s.Require().NoError(err)
		s.Equal(int64(1), t)
	})
}

func (s *ContractSuite) TestRollbackDiscards() {
	u := s.begin()
	notes, _ := s.repos(u)
	_, err := result.Unpack(notes.Create(s.ctx, fixtures.NoteCreate{Title: "draft", Slug: "draft"}))
	s.Require().NoError(err)

	state, err := result.Unpack(u.Rollback(s.ctx))
	s.Require().NoError(err)
	s.Equal(repository.RolledBack, state)

	s.read(func(notes NoteRepository, _ TagRepository) {
		n, err := result.Unpack(notes.Count(s.ctx, specification.All[fixtures.Note]()))
		s.Require().NoError(err)
		s.Zero(n)
	})
}

func (s *ContractSuite) TestReadYourWritesAndIsolation() {
	writer := s.begin()
	wnotes, _ := s.repos(writer)
	reader := s.begin()
	rnotes, _ := s.repos(reader)

	n, err := result.Unpack(wnotes.Create(s.ctx, fixtures.NoteCreate{Title: "mine", Slug: "mine"}))
	s.Require().NoError(err)

	own, err := result.Unpack(wnotes.Get(s.ctx, n.ID))
	s.Require().NoError(err)
	s.NotNil(own, "writes are visible inside the unit")
	count, err := result.Unpack(wnotes.Count(s.ctx, specification.All[fixtures.Note]()))
	s.Require().NoError(err)
	s.Equal(int64(1), count)

	other, err := result.Unpack(rnotes.Get(s.ctx, n.ID))
	s.Require().NoError(err)
	s.Nil(other, "uncommitted writes are invisible outside the unit")

	_, err = result.Unpack(reader.Rollback(s.ctx))
	s.Require().NoError(err)
	_, err = result.Unpack(writer.Commit(s.ctx))
	s.Require().NoError(err)

	s.read(func(notes NoteRepository, _ TagRepository) {
		got, err := result.Unpack(notes.Get(s.ctx, n.ID))
		s.Require().NoError(err)
		s.NotNil(got)
	})
}

func (s *ContractSuite) TestTerminalUnitPanics() {
	for _, finish := range []func(repository.UnitOfWork){
		func(u repository.UnitOfWork) { u.Commit(s.ctx) },
		func(u repository.UnitOfWork) { u.Rollback(s.ctx) },
	} {
		u := s.begin()
		notes, _ := s.repos(u)
		finish(u)
		s.True(u.State().Terminal())

		s.closedPanic(func() { notes.Get(s.ctx, uuid.New()) })
		s.closedPanic(func() { notes.Create(s.ctx, fixtures.NoteCreate{Title: "t", Slug: "t"}) })
		s.closedPanic(func() { u.Commit(s.ctx) })
		s.closedPanic(func() { u.Rollback(s.ctx) })
		s.closedPanic(func() { s.backend.Notes(u) })
	}
}

func (s *ContractSuite) closedPanic(fn func()) {
	s.T().Helper()
	defer func() {
		p := recover()
		s.Require().NotNil(p, "expected panic")
		err, ok := p.(error)
		s.Require().True(ok, "panic value %v", p)
		s.ErrorIs(err, domain.ErrUnitOfWorkClosed)
	}()
	fn()
}

func (s *ContractSuite) TestDeleteModes() {
	created := s.seedNumbered(2, func(int) int { return 0 })
	soft, hard := created[0].ID, created[1].ID

	s.do(func(notes NoteRepository, _ TagRepository) {
		missing, err := result.Unpack(notes.Delete(s.ctx, uuid.New(), repository.SoftDelete))
		s.Require().NoError(err)
		s.False(missing)

		ok, err := result.Unpack(notes.Delete(s.ctx, soft, repository.SoftDelete))
		s.Require().NoError(err)
		s.True(ok)
		ok, err = result.Unpack(notes.Delete(s.ctx, soft, repository.SoftDelete))
		s.Require().NoError(err)
		s.True(ok, "soft delete is idempotent")

		ok, err = result.Unpack(notes.Delete(s.ctx, hard, repository.HardDelete))
		s.Require().NoError(err)
		s.True(ok)
	})

	s.read(func(notes NoteRepository, _ TagRepository) {
		got, err := result.Unpack(notes.Get(s.ctx, soft, repository.IncludeDeleted()))
		s.Require().NoError(err)
		s.NotNil(got)
		gone, err := result.Unpack(notes.Get(s.ctx, hard, repository.IncludeDeleted()))
		s.Require().NoError(err)
		s.Nil(gone, "hard delete is physical")

		exists, err := result.Unpack(notes.Exists(s.ctx, soft))
		s.Require().NoError(err)
		s.False(exists, "exists ignores soft deleted rows")
	})

	u := s.begin()
	notes, _ := s.repos(u)
	_, err := result.Unpack(notes.Delete(s.ctx, hard, repository.HardDelete))
	s.requireErrKind(err, domain.ErrNotFound)
	u.Rollback(s.ctx)

	u = s.begin()
	notes, _ = s.repos(u)
	_, err = result.Unpack(notes.Delete(s.ctx, soft, repository.DeleteMode(0)))
	s.requireErrKind(err, domain.ErrValidation)
	u.Rollback(s.ctx)
}

func (s *ContractSuite) TestUpdateSemantics() {
	n := s.seed(fixtures.NoteCreate{Title: "v", Slug: "v"})[0]

	s.do(func(notes NoteRepository, _ TagRepository) {
		same, err := result.Unpack(notes.Update(s.ctx, n.ID, fixtures.NoteUpdate{}))
		s.Require().NoError(err)
		s.sameNote(n, same)

		bumped, err := result.Unpack(notes.Update(s.ctx, n.ID, fixtures.NoteUpdate{Archived: fixtures.Ptr(true), Version: fixtures.Ptr(int64(1))}))
		s.Require().NoError(err)
		s.Equal(int64(2), bumped.Version)
		s.True(bumped.Archived)
	})

	u := s.begin()
	notes, _ := s.repos(u)
	_, err := result.Unpack(notes.Update(s.ctx, n.ID, fixtures.NoteUpdate{Title: fixtures.Ptr("stale"), Version: fixtures.Ptr(int64(1))}))
	s.requireErrKind(err, domain.ErrConflict)
	u.Rollback(s.ctx)

	s.do(func(notes NoteRepository, _ TagRepository) {
		_, err := result.Unpack(notes.Delete(s.ctx, n.ID, repository.SoftDelete))
		s.Require().NoError(err)
	})
	u = s.begin()
	notes, _ = s.repos(u)
	_, err = result.Unpack(notes.Update(s.ctx, n.ID, fixtures.NoteUpdate{Title: fixtures.Ptr("zombie")}))
	s.requireErrKind(err, domain.ErrNotFound)
	u.Rollback(s.ctx)
}

func (s *ContractSuite) TestListFiltersSortsAndCounts() {
	created := s.seedNumbered(10, func(i int) int { return i % 3 })
	prio1 := fixtures.NotePriority.Eq(1)

	s.read(func(notes NoteRepository, _ TagRepository) {
		page, err := result.Unpack(notes.List(s.ctx, prio1, repository.ListOptions{
			Skip: 1, Limit: 1, Sort: []repository.Sort{repository.Desc("title")},
		}))
		s.Require().NoError(err)
		s.Equal(int64(3), page.Total, "total counts the filtered set")
		s.Require().Len(page.Items, 1)
		s.Equal("n04", page.Items[0].Title)

		all, err := result.Unpack(notes.List(s.ctx, prio1.Or(fixtures.NoteTitle.HasPrefix("n0")).And(fixtures.NoteTitle.Ne("n09")), repository.ListOptions{}))
		s.Require().NoError(err)
		s.Equal(int64(9), all.Total)
		s.Equal("n00", all.Items[0].Title, "default order is creation time")

		past, err := result.Unpack(notes.List(s.ctx, prio1, repository.ListOptions{Skip: 50}))
		s.Require().NoError(err)
		s.Empty(past.Items)
		s.Equal(int64(3), past.Total)

		count, err := result.Unpack(notes.Count(s.ctx, prio1.Not()))
		s.Require().NoError(err)
		s.Equal(int64(7), count)
	})

	s.do(func(notes NoteRepository, _ TagRepository) {
		_, err := result.Unpack(notes.Delete(s.ctx, created[4].ID, repository.SoftDelete))
		s.Require().NoError(err)
	})
	s.read(func(notes NoteRepository, _ TagRepository) {
		live, err := result.Unpack(notes.List(s.ctx, prio1, repository.ListOptions{}))
		s.Require().NoError(err)
		s.Equal(int64(2), live.Total)
		withDeleted, err := result.Unpack(notes.List(s.ctx, prio1, repository.ListOptions{IncludeDeleted: true}))
		s.Require().NoError(err)
		s.Equal(int64(3), withDeleted.Total)
	})
}

func (s *ContractSuite) TestQueriesRejectUnknownFields() {
	rogue := specification.FieldOf("password", func(fixtures.Note) string { return "" })
	u := s.begin()
	defer u.Rollback(s.ctx)
	notes, _ := s.repos(u)

	_, err := result.Unpack(notes.List(s.ctx, rogue.Eq("x"), repository.ListOptions{}))
	s.requireErrKind(err, domain.ErrValidation)
	_, err = result.Unpack(notes.List(s.ctx, specification.All[fixtures.Note](), repository.ListOptions{Sort: []repository.Sort{repository.Asc("password")}}))
	s.requireErrKind(err, domain.ErrValidation)
	_, err = result.Unpack(notes.List(s.ctx, specification.All[fixtures.Note](), repository.ListOptions{Skip: -1}))
	s.requireErrKind(err, domain.ErrValidation)
	_, err = result.Unpack(notes.Count(s.ctx, rogue.IsNull()))
	s.requireErrKind(err, domain.ErrValidation)
	_, err = result.Unpack(notes.GetPage(s.ctx, "", 5, rogue.Eq("x")))
	s.requireErrKind(err, domain.ErrValidation)
}

func (s *ContractSuite) collectPages(notes NoteRepository, limit int, spec specification.Spec[fixtures.Note], sort ...repository.Sort) ([]fixtures.Note, int) {
	var out []fixtures.Note
	cursor, pages := "", 0
	for {
		page, err := result.Unpack(notes.GetPage(s.ctx, cursor, limit, spec, sort...))
		s.Require().NoError(err)
		pages++
		s.Require().LessOrEqual(len(page.Items), limit)
		out = append(out, page.Items...)
		if !page.HasMore() {
			return out, pages
		}
		cursor = *page.NextCursor
		s.Require().Less(pages, 100, "pagination does not terminate")
	}
}

func (s *ContractSuite) TestPaginationIsExhaustive() {
	s.seedNumbered(23, func(i int) int { return (i * 7) % 4 })

	cases := []struct {
		name string
		spec specification.Spec[fixtures.Note]
		sort []repository.Sort
	}{
		{"default order", specification.All[fixtures.Note](), nil},
		{"priority desc with ties", specification.All[fixtures.Note](), []repository.Sort{repository.Desc("priority")}},
		{"filtered by priority", fixtures.NotePriority.Gte(2), []repository.Sort{repository.Asc("priority"), repository.Desc("title")}},
		{"by id", specification.All[fixtures.Note](), []repository.Sort{repository.Asc("id")}},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.read(func(notes NoteRepository, _ TagRepository) {
				want, err := result.Unpack(notes.List(s.ctx, tc.spec, repository.ListOptions{Limit: 100, Sort: tc.sort}))
				s.Require().NoError(err)

				got, pages := s.collectPages(notes, 5, tc.spec, tc.sort...)
				s.Equal(ids(want.Items), ids(got), "pages concatenate to the sorted set")
				s.Equal(int(want.Total), len(got))
				s.Equal((len(got)+4)/5, pages)

				seen := map[uuid.UUID]bool{}
				for _, n := range got {
					s.False(seen[n.ID], "duplicate %s", n.ID)
					seen[n.ID] = true
				}
			})
		})
	}
}

func (s *ContractSuite) TestPaginationSkipsSoftDeleted() {
	created := s.seedNumbered(6, func(int) int { return 0 })
	s.do(func(notes NoteRepository, _ TagRepository) {
		_, err := result.Unpack(notes.Delete(s.ctx, created[2].ID, repository.SoftDelete))
		s.Require().NoError(err)
	})
	s.read(func(notes NoteRepository, _ TagRepository) {
		got, _ := s.collectPages(notes, 2, specification.All[fixtures.Note]())
		s.Len(got, 5)
		for _, n := range got {
			s.NotEqual(created[2].ID, n.ID)
		}
	})
}

func (s *ContractSuite) TestCursorFailsClosed() {
	s.seedNumbered(4, func(int) int { return 1 })
	s.read(func(notes NoteRepository, _ TagRepository) {
		first, err := result.Unpack(notes.GetPage(s.ctx, "", 2, specification.All[fixtures.Note](), repository.Asc("title")))
		s.Require().NoError(err)
		s.Require().True(first.HasMore())
		token := *first.NextCursor

		flip := "f"
		if token[0] == 'f' {
			flip = "g"
		}
		tampered := flip + token[1:]
		_, err = result.Unpack(notes.GetPage(s.ctx, tampered, 2, specification.All[fixtures.Note](), repository.Asc("title")))
		s.requireErrKind(err, domain.ErrValidation)
		s.ErrorIs(err, pagination.ErrInvalidCursor)

		_, err = result.Unpack(notes.GetPage(s.ctx, token, 2, specification.All[fixtures.Note](), repository.Desc("title")))
		s.requireErrKind(err, domain.ErrValidation)
		s.ErrorIs(err, pagination.ErrInvalidCursor)

		_, err = result.Unpack(notes.GetPage(s.ctx, "garbage", 2, specification.All[fixtures.Note]()))
		s.ErrorIs(err, pagination.ErrInvalidCursor)
	})
}

func (s *ContractSuite) TestCancelledContextFailsTheUnit() {
	u := s.begin()
	notes, _ := s.repos(u)
	cctx, cancel := context.WithCancel(s.ctx)
	cancel()

	_, err := result.Unpack(notes.Get(cctx, uuid.New()))
	s.requireErrKind(err, domain.ErrInfrastructure)
	s.ErrorIs(err, context.Canceled)

	_, err = result.Unpack(u.Commit(s.ctx))
	s.ErrorIs(err, repository.ErrRolledBack)
	s.Equal(repository.RolledBack, u.State())
}

func (s *ContractSuite) TestAfterCommitHooks() {
	var fired []string
	s.do(func(notes NoteRepository, _ TagRepository) {
		_, err := result.Unpack(notes.Create(s.ctx, fixtures.NoteCreate{Title: "h", Slug: "h"}))
		s.Require().NoError(err)
	})

	u := s.begin()
	u.AfterCommit(func(context.Context) { fired = append(fired, "committed") })
	_, err := result.Unpack(u.Commit(s.ctx))
	s.Require().NoError(err)

	rolled := s.begin()
	rolled.AfterCommit(func(context.Context) { fired = append(fired, "rolled back") })
	rolled.Rollback(s.ctx)

	s.Equal([]string{"committed"}, fired)
}

func (s *ContractSuite) TestTagsUseStringIDs() {
	s.do(func(_ NoteRepository, tags TagRepository) {
		_, err := result.Unpack(tags.CreateMany(s.ctx, []fixtures.TagCreate{{Label: "b"}, {Label: "a"}, {Label: "c"}}))
		s.Require().NoError(err)
	})
	s.read(func(_ NoteRepository, tags TagRepository) {
		listed, err := result.Unpack(tags.List(s.ctx, specification.All[fixtures.Tag](), repository.ListOptions{Sort: []repository.Sort{repository.Asc("label")}}))
		s.Require().NoError(err)
		s.Require().Len(listed.Items, 3)
		s.Equal([]string{"a", "b", "c"}, []string{listed.Items[0].Label, listed.Items[1].Label, listed.Items[2].Label})

		a := listed.Items[0]
		got, err := result.Unpack(tags.Get(s.ctx, a.ID))
		s.Require().NoError(err)
		s.Require().NotNil(got)
		s.Equal("a", got.Label)
	})
}
