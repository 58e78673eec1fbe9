// Package policy defines how a cache orders its entries for eviction.
//
// A cache keeps its entries on an intrusive list: the front holds the
// youngest (or most recently promoted) entry, the back holds the next
// eviction victim. A policy decides where entries land on admission and
// whether reads or overwrites move them.
package policy

// Node is the minimal contract a cache entry satisfies for a policy.
type Node[K comparable, V any] interface {
	Key() K
	Value() *V
}

// List exposes O(1) list operations to a policy. The cache provides the
// implementation; all calls happen under the cache lock.
// The list does not own the key->node map.
type List[K comparable, V any] interface {
	// PushFront inserts the node at the young end (used on admission).
	PushFront(Node[K, V])
	// MoveToFront moves the node to the young end.
	MoveToFront(Node[K, V])
	// Back returns the next eviction victim, or nil if empty.
	Back() Node[K, V]
	// Len returns the number of resident nodes.
	Len() int
}

// Ordering is a policy instance bound to one cache's list.
// All methods are invoked under the cache lock.
type Ordering[K comparable, V any] interface {
	// OnAdd places a new node on the list.
	OnAdd(Node[K, V])
	// OnGet is called on every hit.
	OnGet(Node[K, V])
	// OnUpdate is called when a resident key is overwritten.
	OnUpdate(Node[K, V])
	// OnRemove notifies the policy before the cache unlinks a node.
	OnRemove(Node[K, V])
}

// Policy is a factory that binds an Ordering to a cache list.
type Policy[K comparable, V any] interface {
	New(List[K, V]) Ordering[K, V]
}
