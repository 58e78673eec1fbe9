package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/IvanBrykalov/cachekit/policy"
)

// Defaults applied by New for zero-valued Options fields.
const (
	DefaultMaxSize         = 1000
	DefaultCleanupInterval = time.Minute
)

// EvictReason explains why an entry was removed without an explicit Delete.
type EvictReason int

const (
	// EvictPolicy: removed to make room for a new key.
	EvictPolicy EvictReason = iota
	// EvictTTL: expired, found by a read, a timer or the sweeper.
	EvictTTL
	// EvictCapacity: removed while shrinking to MaxSize.
	EvictCapacity
	// EvictCleared: removed by Clear. Reported to OnEvict only; it is not
	// counted as an eviction.
	EvictCleared
)

func (r EvictReason) String() string {
	switch r {
	case EvictTTL:
		return "ttl"
	case EvictCapacity:
		return "capacity"
	case EvictCleared:
		return "cleared"
	default:
		return "policy"
	}
}

// Metrics exposes cache-level observability hooks.
// NoopMetrics is used when none is configured.
type Metrics interface {
	Hit()
	Miss()
	Evict(reason EvictReason)
	Size(entries int)
}

// Clock provides time in UnixNano; useful for deterministic tests.
type Clock interface{ NowUnixNano() int64 }

// Options configures a cache. Zero values are safe:
//   - MaxSize <= 0          => DefaultMaxSize
//   - DefaultTTL <= 0       => entries never expire unless SetWithTTL says so
//   - CleanupInterval == 0  => DefaultCleanupInterval; < 0 disables the sweeper
//   - nil Policy            => fifo (insertion order)
//   - nil Metrics           => NoopMetrics
//   - nil Logger            => discard
type Options[K comparable, V any] struct {
	// MaxSize bounds the number of resident entries.
	MaxSize int

	// DefaultTTL applies to Add/Set.
	DefaultTTL time.Duration

	// CleanupInterval is the period of the background sweep that removes
	// expired entries nobody reads.
	CleanupInterval time.Duration

	// Policy orders entries for eviction.
	Policy policy.Policy[K, V]

	// Loader fetches a value on a miss in GetOrLoad.
	Loader func(ctx context.Context, k K) (V, error)

	// OnEvict is called under the cache lock for every eviction and expiry,
	// and with EvictCleared for every entry dropped by Clear;
	// keep it lightweight and do not call back into the cache.
	OnEvict func(k K, v V, reason EvictReason)

	Metrics Metrics

	// Clock overrides the time source used for expiry checks. Expiry
	// timers run on wall time but only remove an entry the Clock reports
	// as expired.
	Clock Clock

	Logger *slog.Logger
}
