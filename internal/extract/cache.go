package extract

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/roach88/oproxy/internal/ir"
)

const (
	DefaultCacheTTL     = 10 * time.Minute
	defaultCleanupEvery = 30 * time.Minute
)

// compiledCache keeps parsed sources keyed by a digest of locator and
// text, so an edited source is never served stale.
type compiledCache[V any] struct {
	cache *gocache.Cache
}

func newCompiledCache[V any](ttl time.Duration) *compiledCache[V] {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &compiledCache[V]{cache: gocache.New(ttl, defaultCleanupEvery)}
}

func sourceKey(locator, text string) string {
	return ir.Digest(ir.DomainSource, []byte(locator), []byte(text))
}

func (c *compiledCache[V]) get(key string) (V, bool) {
	var zero V
	v, ok := c.cache.Get(key)
	if !ok {
		return zero, false
	}
	typed, ok := v.(V)
	if !ok {
		return zero, false
	}
	return typed, true
}

func (c *compiledCache[V]) set(key string, v V) {
	c.cache.SetDefault(key, v)
}

func (c *compiledCache[V]) len() int {
	return c.cache.ItemCount()
}

func (c *compiledCache[V]) flush() {
	c.cache.Flush()
}
