package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/amirasaad/persistence/pkg/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// manualClock is advanced by hand.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	clk := &manualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewMemoryCache(clk, 0)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), time.Hour))

	v, found, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("1"), v)

	clk.advance(time.Minute)
	_, found, err = c.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, found, "entries expire at their deadline")
	assert.Equal(t, 2, c.Len(), "expired entries stay until swept")

	c.Sweep()
	assert.Equal(t, 1, c.Len())
	_, found, _ = c.Get(ctx, "b")
	assert.True(t, found)
}

func TestMemoryCacheCopiesValues(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(clock.Fixed(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)), 0)

	buf := []byte("abc")
	require.NoError(t, c.Set(ctx, "k", buf, time.Minute))
	buf[0] = 'x'

	v, _, _ := c.Get(ctx, "k")
	assert.Equal(t, []byte("abc"), v)
	v[1] = 'y'
	again, _, _ := c.Get(ctx, "k")
	assert.Equal(t, []byte("abc"), again)
}

func TestMemoryCacheDelete(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(nil, 0)

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, c.Set(ctx, k, []byte(k), time.Minute))
	}
	require.NoError(t, c.Delete(ctx, "a", "c", "missing"))
	assert.Equal(t, 1, c.Len())
}

func TestMemoryCacheSweeperStopsOnClose(t *testing.T) {
	ctx := context.Background()
	clk := &manualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewMemoryCache(clk, time.Millisecond)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Second))
	clk.advance(time.Second)
	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, time.Millisecond)

	c.Close()
	c.Close()
}
