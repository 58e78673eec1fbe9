package cache

import (
	"context"
	"time"
)

// Cache is a bounded, TTL-aware in-memory key/value cache.
// All methods are safe for concurrent use by multiple goroutines.
//
// Expected misses never produce errors: Get and Has report absence with a
// boolean, and every mutating method is a silent no-op once the cache is
// closed.
type Cache[K comparable, V any] interface {
	// Add inserts k→v only if k is not present, using DefaultTTL.
	// Returns false if the key already exists or the cache is closed.
	Add(k K, v V) bool

	// Set inserts or overwrites k→v using DefaultTTL. An overwrite is a
	// fresh insertion: the entry gets a new creation time and expiry.
	// If the cache is full and k is new, exactly one entry is evicted.
	Set(k K, v V)

	// SetWithTTL is Set with a per-entry TTL.
	// A non-positive ttl disables expiration for this entry.
	SetWithTTL(k K, v V, ttl time.Duration)

	// Get returns the value for k. Expired entries are removed and
	// reported as absent.
	Get(k K) (V, bool)

	// Has reports whether k is present and not expired.
	Has(k K) bool

	// Delete removes k and cancels its expiry timer.
	// Returns true if the entry existed.
	Delete(k K) bool

	// Clear removes every entry and cancels all expiry timers.
	Clear()

	// Len returns the number of resident entries.
	Len() int

	// Stats returns a snapshot of size and hit/miss counters.
	Stats() Stats

	// GetOrLoad returns the value for k, loading it via Options.Loader on
	// a miss. Concurrent loads for the same key are coalesced.
	// Returns ErrNoLoader without a Loader and ErrClosed after Close.
	GetOrLoad(ctx context.Context, k K) (V, error)

	// Close stops the sweeper and all expiry timers and empties the
	// cache. It is idempotent and always returns nil.
	Close() error
}

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Size      int
	Hits      int64
	Misses    int64
	Evictions int64
	// HitRate is Hits/(Hits+Misses), or 0 before the first lookup.
	HitRate float64
}

// StatsReporter is implemented by caches that can report Stats.
// Manager uses it to build per-cache reports.
type StatsReporter interface {
	Stats() Stats
}
