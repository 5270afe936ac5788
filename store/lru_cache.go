package store

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/willf/bloom"
)

// LRUCache keeps recently read values in memory. A Bloom filter in front of
// the LRU answers most misses for keys that were never added.
type LRUCache[V any] struct {
	cache       *lru.Cache[string, V]
	bloomFilter *bloom.BloomFilter
	mutex       sync.RWMutex
}

// NewLRUCache creates a new LRU cache with a Bloom filter
func NewLRUCache[V any](size int, expectedItems uint, falsePositiveRate float64) (*LRUCache[V], error) {
	c, err := lru.New[string, V](size)
	if err != nil {
		return nil, err
	}

	return &LRUCache[V]{
		cache:       c,
		bloomFilter: bloom.NewWithEstimates(expectedItems, falsePositiveRate),
	}, nil
}

// Get retrieves a value from the cache
func (c *LRUCache[V]) Get(key string) (V, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if !c.bloomFilter.TestString(key) {
		var zero V
		return zero, false
	}
	return c.cache.Get(key)
}

// Add adds a value to the cache
func (c *LRUCache[V]) Add(key string, value V) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.bloomFilter.AddString(key)
	c.cache.Add(key, value)
}

// Remove removes a value from the cache. The key stays in the Bloom filter
// until the next Purge; Get still misses through the LRU.
func (c *LRUCache[V]) Remove(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.cache.Remove(key)
}

func (c *LRUCache[V]) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.cache.Len()
}

// Purge clears all items from the cache
func (c *LRUCache[V]) Purge() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.cache.Purge()
	c.bloomFilter.ClearAll()
}
