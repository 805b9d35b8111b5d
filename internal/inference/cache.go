package inference

import (
	"encoding/binary"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/couchcryptid/drought-forecast-service/internal/domain"
	"github.com/couchcryptid/drought-forecast-service/internal/observability"
)

// Inferer evaluates a scaled window.
type Inferer interface {
	Infer(t domain.ScaledTensor) (float64, error)
}

// CachedEngine wraps an Inferer with an in-memory LRU cache keyed by the
// exact tensor contents. Overlapping uploads of the same history hit it.
type CachedEngine struct {
	inner   Inferer
	cache   *lru.Cache[string, float64]
	metrics *observability.Metrics
}

// NewCachedEngine creates a cache decorator around an inferer. It holds at
// least one entry.
func NewCachedEngine(inner Inferer, maxEntries int) *CachedEngine {
	// lru.New only fails for a non-positive size.
	cache, _ := lru.New[string, float64](max(maxEntries, 1))
	return &CachedEngine{
		inner: inner,
		cache: cache,
	}
}

// WithMetrics counts cache hits and misses on m.
func (c *CachedEngine) WithMetrics(m *observability.Metrics) *CachedEngine {
	c.metrics = m
	return c
}

func (c *CachedEngine) Infer(t domain.ScaledTensor) (float64, error) {
	key := tensorKey(t)
	if v, ok := c.cache.Get(key); ok {
		c.observe("hit")
		return v, nil
	}
	c.observe("miss")
	v, err := c.inner.Infer(t)
	if err != nil {
		return v, err
	}
	c.cache.Add(key, v)
	return v, nil
}

func (c *CachedEngine) observe(result string) {
	if c.metrics != nil {
		c.metrics.InferenceCache.WithLabelValues(result).Inc()
	}
}

// Loaded reports whether the wrapped inferer has a model.
func (c *CachedEngine) Loaded() bool {
	if l, ok := c.inner.(interface{ Loaded() bool }); ok {
		return l.Loaded()
	}
	return c.inner != nil
}

// Len returns the number of cached outputs.
func (c *CachedEngine) Len() int {
	return c.cache.Len()
}

func tensorKey(t domain.ScaledTensor) string {
	shape := t.Shape()
	data := t.Data()
	buf := make([]byte, 0, 12+4*len(data))
	for _, d := range shape {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(d))
	}
	for _, v := range data {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	return string(buf)
}
