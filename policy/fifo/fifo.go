// Package fifo implements insertion-order eviction.
//
// The oldest inserted entry is evicted first. Reads never reorder entries;
// an overwrite counts as a fresh insertion, so the overwritten key becomes
// the youngest entry.
package fifo

import "github.com/IvanBrykalov/cachekit/policy"

type fifo[K comparable, V any] struct {
	l policy.List[K, V]
}

type fifoPolicy[K comparable, V any] struct{}

// New returns a Policy factory for insertion-order eviction.
func New[K comparable, V any]() policy.Policy[K, V] { return fifoPolicy[K, V]{} }

func (fifoPolicy[K, V]) New(l policy.List[K, V]) policy.Ordering[K, V] {
	return &fifo[K, V]{l: l}
}

func (p *fifo[K, V]) OnAdd(n policy.Node[K, V]) { p.l.PushFront(n) }

// OnGet leaves the order untouched: hits do not protect an entry.
func (p *fifo[K, V]) OnGet(policy.Node[K, V]) {}

// OnUpdate treats the overwrite as a new insertion.
func (p *fifo[K, V]) OnUpdate(n policy.Node[K, V]) { p.l.MoveToFront(n) }

func (p *fifo[K, V]) OnRemove(policy.Node[K, V]) {}
