// Package cache provides a generic, bounded, TTL-aware in-memory cache and
// a Manager that groups named caches for bulk invalidation and teardown.
//
// Design
//
//   - Storage: a map[K]*node for lookups plus an intrusive doubly linked
//     list for eviction order, guarded by one mutex. Operations are O(1)
//     expected, except the periodic sweep which is O(n).
//
//   - Eviction: when a new key arrives at MaxSize, exactly one entry is
//     evicted from the back of the list. The default policy (policy/fifo)
//     keeps the list in insertion order, so the entry with the oldest
//     creation time goes first; reads never protect an entry. policy/lru
//     is available when access order is wanted.
//
//   - TTL: every entry with a deadline owns a timer that removes it on
//     time. Overwrite, Delete, Clear and Close stop the timer, and a timer
//     that still fires for a replaced entry does nothing. Reads also check
//     the deadline, and a background sweep every CleanupInterval removes
//     anything left behind.
//
//   - Close: stops the sweeper and all timers and empties the store. After
//     Close, Get misses and every other method is a no-op.
//
//   - GetOrLoad: coalesces concurrent loads for the same key.
//
//   - Metrics: Options.Metrics receives Hit/Miss/Evict/Size signals. The
//     metrics/prom package exports them to Prometheus.
//
// Basic usage
//
//	c := cache.New[string, []byte](cache.Options[string, []byte]{
//	    MaxSize:    10_000,
//	    DefaultTTL: 5 * time.Minute,
//	})
//	defer c.Close()
//
//	c.Set("a", []byte("1"))
//	if v, ok := c.Get("a"); ok {
//	    _ = v
//	}
//	c.Delete("a")
//
// Managing several caches
//
//	m := cache.NewManager(log)
//	_ = m.Register("files", files)
//	_ = m.Register("dirs", dirs)
//	m.InvalidateAll(ctx) // clears both, one failure never blocks the other
//	for _, s := range m.Stats() {
//	    log.Info("cache", "name", s.Name, "size", s.Size, "hit_rate", s.HitRate)
//	}
//	_ = m.Close() // closes every registered cache
package cache
