package cache

import "time"

// node is a cache entry linked into the cache's eviction list.
// The front of the list is the youngest entry; the back is the next
// eviction victim as decided by the policy.
type node[K comparable, V any] struct {
	key K
	val V

	prev *node[K, V]
	next *node[K, V]

	// created and exp are UnixNano; exp == 0 means no TTL.
	created int64
	exp     int64

	// timer removes the entry at exp. It is stopped whenever the node
	// leaves the cache. When it fires it checks node identity and gen,
	// which every re-arm bumps.
	timer *time.Timer
	gen   uint64
}

func (n *node[K, V]) Key() K    { return n.key }
func (n *node[K, V]) Value() *V { return &n.val }

func (n *node[K, V]) stopTimer() {
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
}
