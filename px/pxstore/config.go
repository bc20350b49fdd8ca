package pxstore

import (
	"errors"
	"fmt"
)

// CacheConfig bounds the LRU cache in front of a KV backend.
type CacheConfig struct {
	// Total bytes of cached values.
	MaxCacheSize int

	// Values larger than this are never cached.
	MaxEntrySize int

	MaxCacheEntries int
}

// CommonConfig holds the settings shared by every storage backend.
type CommonConfig struct {
	// Zero means unlimited.
	MaxConcurrentQueries int

	// Bound on parallel chunked reads within one multi-key query.
	MaxStreamQueries int

	Cache CacheConfig
}

// DefaultCommonConfig returns the defaults used when no flag overrides them.
func DefaultCommonConfig() CommonConfig {
	return CommonConfig{
		MaxStreamQueries: 10,
		Cache: CacheConfig{
			MaxCacheSize:    10_000_000,
			MaxEntrySize:    1_000_000,
			MaxCacheEntries: 1000,
		},
	}
}

// Validate reports every problem with c, joined.
func (c CommonConfig) Validate() error {
	var errs []error
	if c.MaxConcurrentQueries < 0 {
		errs = append(errs, fmt.Errorf("max concurrent queries must not be negative; got %d", c.MaxConcurrentQueries))
	}
	if c.MaxStreamQueries <= 0 {
		errs = append(errs, fmt.Errorf("max stream queries must be positive; got %d", c.MaxStreamQueries))
	}
	if c.Cache.MaxCacheSize < 0 || c.Cache.MaxEntrySize < 0 || c.Cache.MaxCacheEntries < 0 {
		errs = append(errs, errors.New("cache limits must not be negative"))
	}
	if c.Cache.MaxEntrySize > c.Cache.MaxCacheSize {
		errs = append(errs, fmt.Errorf(
			"max entry size %d exceeds max cache size %d",
			c.Cache.MaxEntrySize, c.Cache.MaxCacheSize,
		))
	}
	return errors.Join(errs...)
}
