package vikingdb

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	mu      sync.Mutex
	data    map[string]string
	ttls    map[string]time.Duration
	failGet error
	failSet error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet != nil {
		return redis.NewStringResult("", f.failGet)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSet != nil {
		return redis.NewStatusResult("", f.failSet)
	}
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	f.ttls[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func newCached(next Searcher, backend cacheBackend) *CachedSearcher {
	return &CachedSearcher{
		next:   next,
		cache:  backend,
		ttl:    5 * time.Minute,
		prefix: "insight:vkdb:",
		logger: log.Log,
	}
}

func sampleResult() *SearchResult {
	return &SearchResult{Records: []Record{{
		Fields: map[string]any{"influencer": "李诞", "landscape_video": "https://tos.example.com/v/100234.mp4"},
		Score:  0.9,
	}}}
}

func TestCachedSearcher_HitAfterMiss(t *testing.T) {
	next := &countingSearcher{result: sampleResult()}
	backend := newFakeRedis()
	c := newCached(next, backend)
	req := SearchRequest{Query: "李诞", Influencer: "李诞"}

	first, err := c.Search(context.Background(), req)
	require.NoError(t, err)
	second, err := c.Search(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int32(1), next.calls.Load())
	assert.Equal(t, first.Records[0].String("landscape_video"), second.Records[0].String("landscape_video"))
	require.Len(t, backend.data, 1)
	for key, ttl := range backend.ttls {
		assert.Contains(t, key, "insight:vkdb:")
		assert.Equal(t, 5*time.Minute, ttl)
	}

	_, err = c.Search(context.Background(), SearchRequest{Query: "王五"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), next.calls.Load(), "different request must miss")
}

func TestCachedSearcher_ErrorsNotCached(t *testing.T) {
	next := &countingSearcher{err: errors.New("HTTP 500: boom")}
	backend := newFakeRedis()
	c := newCached(next, backend)

	_, err := c.Search(context.Background(), SearchRequest{Query: "q"})
	require.Error(t, err)
	assert.Empty(t, backend.data)
}

func TestCachedSearcher_BackendFailureFallsThrough(t *testing.T) {
	next := &countingSearcher{result: sampleResult()}
	backend := newFakeRedis()
	backend.failGet = errors.New("connection refused")
	backend.failSet = errors.New("connection refused")
	c := newCached(next, backend)

	result, err := c.Search(context.Background(), SearchRequest{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Returned())

	_, err = c.Search(context.Background(), SearchRequest{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), next.calls.Load())
}
