// Package memory is the in-process reference backend. Committed tables live in
// a Store guarded by a sync.RWMutex; each unit of work stages its writes in a
// private overlay that is merged into the store on commit.
//
// Declared isolation is read-committed: every read sees the latest committed
// state plus the unit's own staged writes. Commit additionally rejects a unit
// whose written rows were changed by another unit after it read them.
package memory

import (
	"context"
	"crypto/rand"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/amirasaad/persistence/pkg/clock"
	"github.com/amirasaad/persistence/pkg/domain"
	"github.com/amirasaad/persistence/pkg/pagination"
	"github.com/amirasaad/persistence/pkg/repository"
	"github.com/amirasaad/persistence/pkg/result"
)

// Store holds committed tables keyed by entity name.
type Store struct {
	mu     sync.RWMutex
	tables map[string]map[any]any

	clock  clock.Clock
	codec  *pagination.Codec
	limits repository.Limits
	logger *slog.Logger
	seq    atomic.Uint64
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the timestamp source.
func WithClock(c clock.Clock) Option { return func(s *Store) { s.clock = c } }

// WithCodec sets the cursor codec. Without one, a random per-process secret is used.
func WithCodec(c *pagination.Codec) Option { return func(s *Store) { s.codec = c } }

// WithLimits sets page size bounds.
func WithLimits(l repository.Limits) Option { return func(s *Store) { s.limits = l } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		tables: make(map[string]map[any]any),
		clock:  clock.System,
		limits: repository.DefaultLimits,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.codec == nil {
		secret := make([]byte, 32)
		_, _ = rand.Read(secret)
		s.codec, _ = pagination.NewCodec(secret)
	}
	return s
}

// Begin opens a unit of work. It implements repository.Factory.
func (s *Store) Begin(ctx context.Context) result.Result[repository.UnitOfWork, error] {
	u, err := s.BeginUnit(ctx)
	if err != nil {
		return result.Fail[repository.UnitOfWork](err)
	}
	return result.Ok[repository.UnitOfWork, error](u)
}

// BeginUnit opens a unit of work and returns the concrete type.
func (s *Store) BeginUnit(ctx context.Context) (*UnitOfWork, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Infrastructure("begin", "", err)
	}
	u := &UnitOfWork{
		store:  s,
		id:     s.seq.Add(1),
		staged: make(map[string]*overlay),
	}
	s.logger.Debug("unit of work started", "backend", "memory", "unit", u.id)
	return u, nil
}

// committed returns a stored row. Callers must not hold s.mu.
func (s *Store) committed(table string, id any) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.tables[table][id]
	return v, ok
}
