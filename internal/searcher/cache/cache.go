// Package cache keeps recent search results in Redis. Entries are keyed by
// the normalized query, the viewer's identity and the paging options. The
// whole cache is dropped whenever the index changes, and stored keys carry a
// generation so a result computed before an invalidation is never visible
// after it.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/searcher/query"
	pkgredis "github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/redis"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "search:"

// Backend is the part of the Redis client the cache uses.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type QueryCache struct {
	backend Backend
	ttl     time.Duration
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
	gen     atomic.Uint64
}

func New(backend Backend, ttl time.Duration) *QueryCache {
	return &QueryCache{
		backend: backend,
		ttl:     ttl,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

// storageKey scopes key to generation gen.
func storageKey(key string, gen uint64) string {
	return fmt.Sprintf("%s%d:%s", keyPrefix, gen, strings.TrimPrefix(key, keyPrefix))
}

func (c *QueryCache) Get(ctx context.Context, key string) (*query.Result, bool) {
	return c.get(ctx, storageKey(key, c.gen.Load()))
}

func (c *QueryCache) get(ctx context.Context, key string) (*query.Result, bool) {
	data, err := c.backend.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.misses.Add(1)
		return nil, false
	}
	var result query.Result
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.logger.Debug("cache hit", "key", key)
	return &result, true
}

func (c *QueryCache) Set(ctx context.Context, key string, result *query.Result) {
	c.set(ctx, storageKey(key, c.gen.Load()), result)
}

func (c *QueryCache) set(ctx context.Context, key string, result *query.Result) {
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.backend.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result for key or runs computeFn once for
// all concurrent callers of the same key. The bool reports a cache hit. The
// result is stored under the generation current when the lookup started, so
// an Invalidate that lands during computeFn leaves it unreachable.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	key string,
	computeFn func() (*query.Result, error),
) (*query.Result, bool, error) {
	stored := storageKey(key, c.gen.Load())
	if result, ok := c.get(ctx, stored); ok {
		return result, true, nil
	}
	val, err, _ := c.group.Do(stored, func() (interface{}, error) {
		if result, ok := c.get(ctx, stored); ok {
			return result, nil
		}
		result, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.set(ctx, stored, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*query.Result), false, nil
}

func (c *QueryCache) Invalidate(ctx context.Context) error {
	gen := c.gen.Add(1)
	deleted, err := c.backend.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidate", "keys_deleted", deleted, "generation", gen)
	return nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Key derives the cache key for one search. Group order does not matter.
func Key(pq *parser.ParsedQuery, viewer query.Viewer, opts query.Options) string {
	groups := append([]string(nil), viewer.GroupIDs...)
	sort.Strings(groups)
	raw := fmt.Sprintf("%s|user=%s|groups=%s|type=%s|offset=%d|limit=%d",
		pq.CacheKey(), viewer.UserID, strings.Join(groups, ","), opts.Type, opts.Offset, opts.Limit)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}
