package memory_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/amirasaad/persistence/infra/repository/memory"
	"github.com/amirasaad/persistence/internal/fixtures"
	"github.com/amirasaad/persistence/pkg/clock"
	"github.com/amirasaad/persistence/pkg/domain"
	"github.com/amirasaad/persistence/pkg/pagination"
	"github.com/amirasaad/persistence/pkg/repository"
	"github.com/amirasaad/persistence/pkg/result"
	"github.com/amirasaad/persistence/pkg/specification"
	"github.com/amirasaad/persistence/pkg/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"
)

func newBackend(t *testing.T, c clock.Clock, codec *pagination.Codec) (*memory.Store, testutils.Backend) {
	t.Helper()
	store := memory.NewStore(memory.WithClock(c), memory.WithCodec(codec))
	notes, err := memory.Provide[fixtures.Note, *fixtures.Note](fixtures.NoteSchema())
	require.NoError(t, err)
	tags, err := memory.Provide[fixtures.Tag, *fixtures.Tag](fixtures.TagSchema())
	require.NoError(t, err)
	return store, testutils.Backend{Factory: store, Notes: notes, Tags: tags}
}

func TestMemoryContract(t *testing.T) {
	suite.Run(t, &testutils.ContractSuite{
		NewBackend: func(t *testing.T, c clock.Clock, codec *pagination.Codec) testutils.Backend {
			_, b := newBackend(t, c, codec)
			return b
		},
	})
}

func fresh(t *testing.T) (*memory.Store, testutils.Backend) {
	codec, err := pagination.NewCodec(testutils.CursorSecret)
	require.NoError(t, err)
	return newBackend(t, clock.NewStepping(testutils.Epoch, time.Millisecond), codec)
}

func TestConcurrentUnitsCommitIndependently(t *testing.T) {
	store, b := fresh(t)
	ctx := context.Background()

	g, gctx := errgroup.WithContext(ctx)
	for i := range 16 {
		g.Go(func() error {
			res := repository.Do(gctx, store, func(ctx context.Context, u repository.UnitOfWork) error {
				notes, err := result.Unpack(b.Notes(u))
				if err != nil {
					return err
				}
				_, err = result.Unpack(notes.Create(ctx, fixtures.NoteCreate{
					Title: fmt.Sprintf("worker %d", i),
					Slug:  fmt.Sprintf("worker-%d", i),
				}))
				return err
			})
			_, err := result.Unpack(res)
			return err
		})
	}
	require.NoError(t, g.Wait())

	u, err := store.BeginUnit(ctx)
	require.NoError(t, err)
	defer u.Rollback(ctx)
	notes, err := result.Unpack(b.Notes(u))
	require.NoError(t, err)
	n, err := result.Unpack(notes.Count(ctx, specification.All[fixtures.Note]()))
	require.NoError(t, err)
	assert.Equal(t, int64(16), n)
}

func TestStaleWriteIsRejected(t *testing.T) {
	store, b := fresh(t)
	ctx := context.Background()

	var id = func() fixtures.Note {
		u, err := store.BeginUnit(ctx)
		require.NoError(t, err)
		notes, _ := result.Unpack(b.Notes(u))
		n, err := result.Unpack(notes.Create(ctx, fixtures.NoteCreate{Title: "shared", Slug: "shared"}))
		require.NoError(t, err)
		_, err = result.Unpack(u.Commit(ctx))
		require.NoError(t, err)
		return *n
	}().ID

	first, err := store.BeginUnit(ctx)
	require.NoError(t, err)
	second, err := store.BeginUnit(ctx)
	require.NoError(t, err)
	n1, _ := result.Unpack(b.Notes(first))
	n2, _ := result.Unpack(b.Notes(second))

	_, err = result.Unpack(n1.Update(ctx, id, fixtures.NoteUpdate{Title: fixtures.Ptr("first")}))
	require.NoError(t, err)
	_, err = result.Unpack(n2.Update(ctx, id, fixtures.NoteUpdate{Title: fixtures.Ptr("second")}))
	require.NoError(t, err)

	_, err = result.Unpack(first.Commit(ctx))
	require.NoError(t, err)
	_, err = result.Unpack(second.Commit(ctx))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, repository.RolledBack, second.State())

	check, err := store.BeginUnit(ctx)
	require.NoError(t, err)
	defer check.Rollback(ctx)
	notes, _ := result.Unpack(b.Notes(check))
	got, err := result.Unpack(notes.Get(ctx, id))
	require.NoError(t, err)
	assert.Equal(t, "first", got.Title)
}

func TestUniqueRaceIsCaughtAtCommit(t *testing.T) {
	store, b := fresh(t)
	ctx := context.Background()

	a, err := store.BeginUnit(ctx)
	require.NoError(t, err)
	c, err := store.BeginUnit(ctx)
	require.NoError(t, err)
	na, _ := result.Unpack(b.Notes(a))
	nc, _ := result.Unpack(b.Notes(c))

	_, err = result.Unpack(na.Create(ctx, fixtures.NoteCreate{Title: "a", Slug: "race"}))
	require.NoError(t, err)
	_, err = result.Unpack(nc.Create(ctx, fixtures.NoteCreate{Title: "c", Slug: "race"}))
	require.NoError(t, err, "neither unit sees the other's staged row")

	_, err = result.Unpack(a.Commit(ctx))
	require.NoError(t, err)
	_, err = result.Unpack(c.Commit(ctx))
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestProvideRejectsForeignUnit(t *testing.T) {
	notes, err := memory.Provide[fixtures.Note, *fixtures.Note](fixtures.NoteSchema())
	require.NoError(t, err)

	_, err = result.Unpack(notes(&foreignUnit{}))
	assert.ErrorIs(t, err, domain.ErrInfrastructure)
}

func TestBeginWithCancelledContext(t *testing.T) {
	store := memory.NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := result.Unpack(store.Begin(ctx))
	assert.ErrorIs(t, err, domain.ErrInfrastructure)
}

func TestNewRepositoryRejectsBadSchema(t *testing.T) {
	store := memory.NewStore()
	u, err := store.BeginUnit(context.Background())
	require.NoError(t, err)
	schema := fixtures.NoteSchema()
	schema.Name = ""
	_, err = memory.NewRepository[fixtures.Note, *fixtures.Note](u, schema)
	assert.Error(t, err)
}

type foreignUnit struct{ repository.Lifecycle }

func (f *foreignUnit) Commit(ctx context.Context) result.Result[repository.TxState, error] {
	f.Finish(ctx, repository.Committed)
	return result.Ok[repository.TxState, error](repository.Committed)
}

func (f *foreignUnit) Rollback(ctx context.Context) result.Result[repository.TxState, error] {
	f.Finish(ctx, repository.RolledBack)
	return result.Ok[repository.TxState, error](repository.RolledBack)
}
