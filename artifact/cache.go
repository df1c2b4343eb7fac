package artifact

import (
	"fmt"
	"path/filepath"
	"strconv"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

const DefaultCacheSize = 8

// Cache 制品缓存
//
// Decoded artifacts are shared read-only between callers. Concurrent first
// loads of one path are collapsed into a single read.
type Cache struct {
	load    func(path string, v any) error
	entries *lru.Cache[string, any]
	group   singleflight.Group

	// epoch and generations only grow. A load that started under an older
	// generation is returned to its callers but never cached.
	mu          sync.Mutex
	epoch       uint64
	generations map[string]uint64
}

func NewCache(store *Store, size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[string, any](size)
	if err != nil {
		return nil, err
	}
	return &Cache{load: store.Load, entries: entries, generations: make(map[string]uint64)}, nil
}

// LoadCached returns the decoded artifact at path, reading it from the store
// only when it is not cached. The returned value must not be modified.
func LoadCached[T any](c *Cache, path string) (*T, error) {
	key := cacheKey(path)
	if v, ok := c.entries.Get(key); ok {
		return asType[T](v, path)
	}
	gen := c.generation(key)
	v, err, _ := c.group.Do(key+"@"+strconv.FormatUint(gen, 10), func() (any, error) {
		if v, ok := c.entries.Get(key); ok {
			return v, nil
		}
		obj := new(T)
		if err := c.load(path, obj); err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.epoch+c.generations[key] == gen {
			c.entries.Add(key, obj)
		}
		c.mu.Unlock()
		return obj, nil
	})
	if err != nil {
		return nil, err
	}
	return asType[T](v, path)
}

// Invalidate drops path from the cache. Objects already handed out stay
// valid; the next load reads a fresh copy.
func (c *Cache) Invalidate(path string) bool {
	key := cacheKey(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[key]++
	return c.entries.Remove(key)
}

func (c *Cache) generation(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch + c.generations[key]
}

func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.entries.Purge()
}

func (c *Cache) Len() int { return c.entries.Len() }

func (c *Cache) Contains(path string) bool { return c.entries.Contains(cacheKey(path)) }

func asType[T any](v any, path string) (*T, error) {
	obj, ok := v.(*T)
	if !ok {
		return nil, fmt.Errorf("artifact %s cached as %T", path, v)
	}
	return obj, nil
}

func cacheKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
