package cache

import (
	"context"
	"errors"
	"path"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/searcher/query"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memBackend struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
}

func newMemBackend() *memBackend {
	return &memBackend{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *memBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, redis.Nil
	}
	return v, nil
}

func (m *memBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *memBackend) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k := range m.data {
		if ok, _ := path.Match(pattern, k); ok {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func TestKey(t *testing.T) {
	pq := parser.Parse("foo bar")
	u1 := query.Viewer{UserID: "u1", GroupIDs: []string{"g2", "g1"}}

	assert.Equal(t, Key(pq, u1, query.Options{}), Key(parser.Parse("  foo   bar "), query.Viewer{UserID: "u1", GroupIDs: []string{"g1", "g2"}}, query.Options{}))
	assert.NotEqual(t, Key(pq, u1, query.Options{}), Key(pq, query.Viewer{UserID: "u2"}, query.Options{}))
	assert.NotEqual(t, Key(pq, u1, query.Options{}), Key(pq, u1, query.Options{Offset: 50}))
	assert.NotEqual(t, Key(pq, u1, query.Options{}), Key(pq, u1, query.Options{Type: query.TypeUser}))
	assert.Contains(t, Key(pq, u1, query.Options{}), keyPrefix)
}

func TestGetOrCompute(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	c := New(backend, time.Minute)
	key := Key(parser.Parse("foo"), query.Viewer{}, query.Options{})

	var calls atomic.Int32
	compute := func() (*query.Result, error) {
		calls.Add(1)
		return query.NewResult(3, 1, []query.Hit{{ID: "p1", Score: 1.5}}), nil
	}

	res, hit, err := c.GetOrCompute(ctx, key, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "p1", res.Data[0].ID)
	assert.Equal(t, time.Minute, backend.ttls[storageKey(key, 0)])

	res, hit, err = c.GetOrCompute(ctx, key, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.EqualValues(t, 1, res.Meta.Total)
	assert.EqualValues(t, 1, calls.Load())

	hits, misses := c.Stats()
	assert.EqualValues(t, 1, hits)
	assert.EqualValues(t, 2, misses)
}

func TestGetOrCompute_ErrorIsNotCached(t *testing.T) {
	ctx := context.Background()
	c := New(newMemBackend(), time.Minute)
	boom := errors.New("engine down")

	_, _, err := c.GetOrCompute(ctx, "search:x", func() (*query.Result, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
	_, ok := c.Get(ctx, "search:x")
	assert.False(t, ok)
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	c := New(backend, time.Minute)
	c.Set(ctx, "search:a", query.NewResult(0, 0, nil))
	c.Set(ctx, "search:b", query.NewResult(0, 0, nil))
	backend.data["other"] = []byte("keep")

	require.NoError(t, c.Invalidate(ctx))
	_, ok := c.Get(ctx, "search:a")
	assert.False(t, ok)
	assert.Contains(t, backend.data, "other")
}

func TestGetOrCompute_InvalidateDuringCompute(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	c := New(backend, time.Minute)
	key := Key(parser.Parse("foo"), query.Viewer{UserID: "u1"}, query.Options{})

	stale, hit, err := c.GetOrCompute(ctx, key, func() (*query.Result, error) {
		require.NoError(t, c.Invalidate(ctx))
		return query.NewResult(1, 1, []query.Hit{{ID: "narrowed"}}), nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "narrowed", stale.Data[0].ID)

	_, ok := c.Get(ctx, key)
	assert.False(t, ok)

	fresh, hit, err := c.GetOrCompute(ctx, key, func() (*query.Result, error) {
		return query.NewResult(1, 0, nil), nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Empty(t, fresh.Data)

	cached, ok := c.Get(ctx, key)
	require.True(t, ok)
	assert.Empty(t, cached.Data)
}
