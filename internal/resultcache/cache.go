// Package resultcache provides the content-addressed cache for provider
// responses. Identical images with identical request parameters yield
// identical provider responses, so replaying a cached entry is a
// correctness-safe optimization, not an approximation.
package resultcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/floraid/floraid-go/internal/logging"
	"github.com/floraid/floraid-go/internal/observability/metrics"
	"github.com/floraid/floraid-go/internal/provider"
)

var logger *slog.Logger

func init() {
	var err error
	logger, _, err = logging.NewFileLogger("logs/resultcache.log", "resultcache", slog.LevelInfo)
	if err != nil || logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil)).With("service", "resultcache")
	}
}

// Entry is the cached outcome of one provider call. Health is only present
// for diagnosis-capable providers.
type Entry struct {
	Suggestions []provider.Suggestion
	Health      *provider.HealthAssessment
	StoredAt    time.Time
}

// Key derives the deterministic cache key for one provider call: a content
// hash of the image bytes plus every parameter that affects the response,
// tagged with the provider's API version so a version bump invalidates
// stale entries without manual purging.
func Key(providerID, apiVersion string, image []byte, params map[string]string) string {
	h := sha256.New()
	h.Write(image)
	io.WriteString(h, providerID)
	io.WriteString(h, apiVersion)

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%s;", k, params[k])
	}

	return hex.EncodeToString(h.Sum(nil))
}

// Cache stores provider responses keyed by content hash, with a long TTL.
type Cache struct {
	store   *cache.Cache
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.CacheMetrics
}

// New creates a result cache with the given TTL.
func New(ttl time.Duration, cacheMetrics *metrics.CacheMetrics) *Cache {
	return &Cache{
		store:   cache.New(ttl, 10*time.Minute),
		ttl:     ttl,
		metrics: cacheMetrics,
	}
}

// Get returns the cached entry for key, if present and unexpired.
// The providerID parameter is only used for metrics labeling.
func (c *Cache) Get(providerID, key string) (*Entry, bool) {
	v, found := c.store.Get(key)
	if !found {
		if c.metrics != nil {
			c.metrics.Misses.WithLabelValues(providerID).Inc()
		}
		return nil, false
	}

	entry, ok := v.(*Entry)
	if !ok {
		// A corrupted entry is treated as a miss.
		logger.Warn("dropping cache entry with unexpected type", "service", providerID)
		c.store.Delete(key)
		if c.metrics != nil {
			c.metrics.Misses.WithLabelValues(providerID).Inc()
		}
		return nil, false
	}

	if c.metrics != nil {
		c.metrics.Hits.WithLabelValues(providerID).Inc()
	}
	logger.Debug("result cache hit", "service", providerID, "age", time.Since(entry.StoredAt))
	return entry, true
}

// Put stores a provider response under key for the configured TTL.
func (c *Cache) Put(providerID, key string, entry *Entry) {
	if entry == nil {
		return
	}
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now()
	}
	c.store.Set(key, entry, c.ttl)
	if c.metrics != nil {
		c.metrics.Stores.WithLabelValues(providerID).Inc()
	}
}

// Fetch returns the cached entry for key, or invokes fill exactly once for
// concurrent callers sharing the same key and caches the result. A fill
// error is returned to every waiting caller and nothing is cached.
func (c *Cache) Fetch(providerID, key string, fill func() (*Entry, error)) (*Entry, error) {
	if entry, ok := c.Get(providerID, key); ok {
		return entry, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check under the singleflight lock: another caller may have
		// filled the entry while we waited.
		if entry, ok := c.Get(providerID, key); ok {
			return entry, nil
		}
		entry, err := fill()
		if err != nil {
			return nil, err
		}
		c.Put(providerID, key, entry)
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Entry), nil
}
