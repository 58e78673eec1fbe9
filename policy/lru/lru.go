// Package lru implements least-recently-used eviction.
package lru

import "github.com/IvanBrykalov/cachekit/policy"

// lru moves every touched node to the front of the cache list, so the
// back is always the least recently used entry.
type lru[K comparable, V any] struct {
	l policy.List[K, V]
}

type lruPolicy[K comparable, V any] struct{}

// New returns a Policy factory for LRU ordering.
func New[K comparable, V any]() policy.Policy[K, V] { return lruPolicy[K, V]{} }

func (lruPolicy[K, V]) New(l policy.List[K, V]) policy.Ordering[K, V] {
	return &lru[K, V]{l: l}
}

func (p *lru[K, V]) OnAdd(n policy.Node[K, V])    { p.l.PushFront(n) }
func (p *lru[K, V]) OnGet(n policy.Node[K, V])    { p.l.MoveToFront(n) }
func (p *lru[K, V]) OnUpdate(n policy.Node[K, V]) { p.l.MoveToFront(n) }
func (p *lru[K, V]) OnRemove(policy.Node[K, V])   {}
