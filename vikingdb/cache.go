package vikingdb

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/apex/log"
	"github.com/bytedance/sonic"
	"github.com/go-redis/redis/v8"
)

// cacheBackend is the subset of redis.Cmdable the cache needs.
type cacheBackend interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// CachedSearcher serves repeated searches from Redis.
//
// The cache is best effort: a Redis failure is logged and the search goes
// to the underlying Searcher. Errors from the underlying Searcher are never
// cached.
type CachedSearcher struct {
	next   Searcher
	cache  cacheBackend
	ttl    time.Duration
	prefix string
	logger log.Interface
}

// NewCachedSearcher wraps next with a Redis cache holding results for ttl.
func NewCachedSearcher(next Searcher, rdb redis.Cmdable, ttl time.Duration, logger log.Interface) *CachedSearcher {
	if logger == nil {
		logger = log.Log
	}
	return &CachedSearcher{
		next:   next,
		cache:  rdb,
		ttl:    ttl,
		prefix: "insight:vkdb:",
		logger: logger,
	}
}

// Search implements Searcher.
func (c *CachedSearcher) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	key, err := c.key(req)
	if err != nil {
		return c.next.Search(ctx, req)
	}

	cached, err := c.cache.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var result SearchResult
		if uerr := sonic.Unmarshal(cached, &result); uerr == nil {
			c.logger.WithField("key", key).Debug("search cache hit")
			return &result, nil
		}
	case err != redis.Nil:
		c.logger.WithError(err).Warn("search cache read failed")
	}

	result, err := c.next.Search(ctx, req)
	if err != nil {
		return nil, err
	}

	if data, merr := sonic.Marshal(result); merr == nil {
		if serr := c.cache.Set(ctx, key, data, c.ttl).Err(); serr != nil {
			c.logger.WithError(serr).Warn("search cache write failed")
		}
	}
	return result, nil
}

func (c *CachedSearcher) key(req SearchRequest) (string, error) {
	data, err := sonic.Marshal(req)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return c.prefix + hex.EncodeToString(sum[:]), nil
}
