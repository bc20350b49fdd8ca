// Package pxcache wraps a [pxstore.KV] with a bounded LRU cache.
//
// The cache holds both values and known-absent keys.
// A bloom filter of cached keys is consulted before the LRU itself,
// so lookups of keys that were never cached skip the LRU entirely.
package pxcache

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gordian-engine/gproxy/px/pxstore"
	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/willf/bloom"
)

const bloomFalsePositiveRate = 0.01

// KV is a caching [pxstore.KV].
type KV struct {
	inner pxstore.KV
	cfg   pxstore.CacheConfig

	// Held across a write to inner and the matching cache update,
	// so the cache applies writes in the same order as inner.
	writeMu sync.Mutex

	mu      sync.Mutex
	lru     *simplelru.LRU[string, entry]
	bytes   int
	version uint64 // Incremented after every write to inner.

	bf       *bloom.BloomFilter
	bloomAdd uint // Additions since the filter was last rebuilt.

	hits, misses atomic.Uint64
}

type entry struct {
	value   []byte
	present bool
}

func (e entry) size(key string) int {
	return len(key) + len(e.value)
}

// Stats is a snapshot of cache effectiveness.
type Stats struct {
	Hits, Misses uint64
	Entries      int
	Bytes        int
}

// Wrap returns inner wrapped in a cache bounded by cfg.
// If cfg allows no entries or no bytes, inner is returned unchanged.
func Wrap(inner pxstore.KV, cfg pxstore.CacheConfig) (pxstore.KV, error) {
	if cfg.MaxCacheEntries <= 0 || cfg.MaxCacheSize <= 0 {
		return inner, nil
	}
	return New(inner, cfg)
}

// New returns a caching KV over inner.
func New(inner pxstore.KV, cfg pxstore.CacheConfig) (*KV, error) {
	c := &KV{
		inner: inner,
		cfg:   cfg,
		bf:    newBloom(cfg.MaxCacheEntries),
	}
	l, err := simplelru.NewLRU[string, entry](cfg.MaxCacheEntries, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU: %w", err)
	}
	c.lru = l
	return c, nil
}

func newBloom(entries int) *bloom.BloomFilter {
	return bloom.NewWithEstimates(uint(entries)*2, bloomFalsePositiveRate)
}

// onEvict is called by the LRU with c.mu held.
func (c *KV) onEvict(key string, e entry) {
	c.bytes -= e.size(key)
}

// lookup returns the cached entry for key, if any.
func (c *KV) lookup(key string) (entry, bool) {
	if !c.bf.TestString(key) {
		return entry{}, false
	}
	return c.lru.Get(key)
}

// store caches e at key, or drops any cached entry if e is too large.
// c.mu must be held.
func (c *KV) store(key string, e entry) {
	if len(e.value) > c.cfg.MaxEntrySize || e.size(key) > c.cfg.MaxCacheSize {
		c.lru.Remove(key)
		return
	}

	if old, ok := c.lru.Peek(key); ok {
		// Replacing a value does not call onEvict.
		c.bytes -= old.size(key)
	}
	c.lru.Add(key, e)
	c.bytes += e.size(key)
	for c.bytes > c.cfg.MaxCacheSize {
		c.lru.RemoveOldest()
	}

	c.bf.AddString(key)
	c.bloomAdd++
	if c.bloomAdd > uint(4*c.cfg.MaxCacheEntries) {
		// Rebuild from live keys so evicted keys stop passing the filter.
		c.bf = newBloom(c.cfg.MaxCacheEntries)
		for _, k := range c.lru.Keys() {
			c.bf.AddString(k)
		}
		c.bloomAdd = uint(c.lru.Len())
	}
}

// fill caches results read from inner,
// unless a write happened since version was observed.
func (c *KV) fill(version uint64, keys [][]byte, entries []entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.version != version {
		return
	}
	for i, k := range keys {
		c.store(string(k), entries[i])
	}
}

func (c *KV) Get(ctx context.Context, key []byte) ([]byte, error) {
	c.mu.Lock()
	e, ok := c.lookup(string(key))
	version := c.version
	c.mu.Unlock()

	if ok {
		c.hits.Add(1)
		return bytes.Clone(e.value), nil
	}
	c.misses.Add(1)

	v, err := c.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	c.fill(version, [][]byte{key}, []entry{{value: bytes.Clone(v), present: v != nil}})
	return v, nil
}

func (c *KV) GetMulti(ctx context.Context, keys [][]byte) ([][]byte, error) {
	out := make([][]byte, len(keys))
	var missIdx []int
	var missKeys [][]byte

	c.mu.Lock()
	for i, k := range keys {
		if e, ok := c.lookup(string(k)); ok {
			out[i] = bytes.Clone(e.value)
			continue
		}
		missIdx = append(missIdx, i)
		missKeys = append(missKeys, k)
	}
	version := c.version
	c.mu.Unlock()

	c.hits.Add(uint64(len(keys) - len(missKeys)))
	if len(missKeys) == 0 {
		return out, nil
	}
	c.misses.Add(uint64(len(missKeys)))

	vals, err := c.inner.GetMulti(ctx, missKeys)
	if err != nil {
		return nil, err
	}
	entries := make([]entry, len(vals))
	for j, v := range vals {
		out[missIdx[j]] = v
		entries[j] = entry{value: bytes.Clone(v), present: v != nil}
	}
	c.fill(version, missKeys, entries)
	return out, nil
}

func (c *KV) Contains(ctx context.Context, key []byte) (bool, error) {
	found, err := c.ContainsMulti(ctx, [][]byte{key})
	if err != nil {
		return false, err
	}
	return found[0], nil
}

func (c *KV) ContainsMulti(ctx context.Context, keys [][]byte) ([]bool, error) {
	out := make([]bool, len(keys))
	var missIdx []int
	var missKeys [][]byte

	c.mu.Lock()
	for i, k := range keys {
		if e, ok := c.lookup(string(k)); ok {
			out[i] = e.present
			continue
		}
		missIdx = append(missIdx, i)
		missKeys = append(missKeys, k)
	}
	version := c.version
	c.mu.Unlock()

	c.hits.Add(uint64(len(keys) - len(missKeys)))
	if len(missKeys) == 0 {
		return out, nil
	}
	c.misses.Add(uint64(len(missKeys)))

	found, err := c.inner.ContainsMulti(ctx, missKeys)
	if err != nil {
		return nil, err
	}

	// Only absence can be cached without the value.
	var absentKeys [][]byte
	for j, ok := range found {
		out[missIdx[j]] = ok
		if !ok {
			absentKeys = append(absentKeys, missKeys[j])
		}
	}
	c.fill(version, absentKeys, make([]entry, len(absentKeys)))
	return out, nil
}

func (c *KV) Write(ctx context.Context, b *pxstore.Batch) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.inner.Write(ctx, b); err != nil {
		// The inner state is unknown, so forget what the batch touched.
		c.mu.Lock()
		for _, op := range b.Ops {
			c.lru.Remove(string(op.Key))
		}
		c.version++
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, op := range b.Ops {
		if op.IsDelete() {
			c.store(string(op.Key), entry{})
			continue
		}
		c.store(string(op.Key), entry{value: bytes.Clone(op.Value), present: true})
	}
	c.version++
	return nil
}

// Stats returns the current hit and miss counts and cache occupancy.
func (c *KV) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.lru.Len(),
		Bytes:   c.bytes,
	}
}

func (c *KV) Close() error {
	c.mu.Lock()
	c.lru.Purge()
	c.bf.ClearAll()
	c.mu.Unlock()

	return c.inner.Close()
}
