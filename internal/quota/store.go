package quota

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// cacheCounterStore backs the counters with an in-process go-cache instance.
// go-cache serializes increments under its lock, which gives the atomic
// check-then-act semantics the tracker relies on.
type cacheCounterStore struct {
	c *cache.Cache
}

// NewCacheCounterStore creates a CounterStore backed by go-cache. The store
// holds counters for at most a month (the longest window), with expired
// counters purged hourly.
func NewCacheCounterStore() CounterStore {
	return &cacheCounterStore{
		c: cache.New(cache.NoExpiration, time.Hour),
	}
}

func (s *cacheCounterStore) Ensure(key string, ttl time.Duration) error {
	// Add is a no-op when the counter already exists; its error only signals
	// that, which is not a failure here.
	_ = s.c.Add(key, int64(0), ttl)
	return nil
}

func (s *cacheCounterStore) Increment(key string, delta int64) (int64, error) {
	return s.c.IncrementInt64(key, delta)
}

func (s *cacheCounterStore) Get(key string) (int64, bool, error) {
	v, found := s.c.Get(key)
	if !found {
		return 0, false, nil
	}
	count, ok := v.(int64)
	if !ok {
		return 0, false, nil
	}
	return count, true, nil
}
