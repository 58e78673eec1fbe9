package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/IvanBrykalov/cachekit/internal/logger"
	"github.com/IvanBrykalov/cachekit/internal/singleflight"
	"github.com/IvanBrykalov/cachekit/internal/util"
	"github.com/IvanBrykalov/cachekit/policy"
	"github.com/IvanBrykalov/cachekit/policy/fifo"
)

var (
	// ErrNoLoader is returned by GetOrLoad when no Loader was configured.
	ErrNoLoader = errors.New("cache: no Loader provided")
	// ErrClosed is returned by GetOrLoad after Close.
	ErrClosed = errors.New("cache: closed")
)

// cache keeps a map for lookups and an intrusive list for eviction order,
// both guarded by mu.
type cache[K comparable, V any] struct {
	// ---- guarded by mu ----
	mu     sync.Mutex
	m      map[K]*node[K, V]
	head   *node[K, V]
	tail   *node[K, V]
	len    int
	closed bool

	maxSize int
	pol     policy.Ordering[K, V]
	opt     Options[K, V]
	log     *slog.Logger

	sf singleflight.Group[K, V]
	// loads holds the keys with a load in flight; true once the key was
	// written, deleted or evicted after the load began.
	loads map[K]bool

	stop chan struct{}
	wg   sync.WaitGroup

	hits   util.Counter
	misses util.Counter
	evicts util.Counter
}

// New constructs a cache and starts its background sweeper unless
// opt.CleanupInterval is negative.
func New[K comparable, V any](opt Options[K, V]) Cache[K, V] {
	if opt.MaxSize <= 0 {
		opt.MaxSize = DefaultMaxSize
	}
	if opt.CleanupInterval == 0 {
		opt.CleanupInterval = DefaultCleanupInterval
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Policy == nil {
		opt.Policy = fifo.New[K, V]()
	}

	c := &cache[K, V]{
		m:       make(map[K]*node[K, V]),
		loads:   make(map[K]bool),
		maxSize: opt.MaxSize,
		opt:     opt,
		log:     logger.OrDiscard(opt.Logger).With(logger.Component("cache")),
		stop:    make(chan struct{}),
	}
	c.pol = opt.Policy.New(listHooks[K, V]{c: c})

	if opt.CleanupInterval > 0 {
		c.wg.Add(1)
		go c.sweepLoop(opt.CleanupInterval)
	}
	return c
}

func (c *cache[K, V]) Add(k K, v V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	if n, ok := c.m[k]; ok && !c.expiredLocked(n) {
		return false
	}
	c.setLocked(k, v, c.opt.DefaultTTL)
	return true
}

func (c *cache[K, V]) Set(k K, v V) {
	c.SetWithTTL(k, v, c.opt.DefaultTTL)
}

func (c *cache[K, V]) SetWithTTL(k K, v V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.setLocked(k, v, ttl)
}

func (c *cache[K, V]) Get(k K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	if c.closed {
		return zero, false
	}
	n, ok := c.m[k]
	if !ok {
		c.misses.Add(1)
		c.opt.Metrics.Miss()
		return zero, false
	}
	if c.expiredLocked(n) {
		c.evictLocked(n, EvictTTL)
		c.misses.Add(1)
		c.opt.Metrics.Miss()
		return zero, false
	}
	c.pol.OnGet(n)
	c.hits.Add(1)
	c.opt.Metrics.Hit()
	return n.val, true
}

func (c *cache[K, V]) Has(k K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	n, ok := c.m[k]
	if !ok {
		return false
	}
	if c.expiredLocked(n) {
		c.evictLocked(n, EvictTTL)
		return false
	}
	return true
}

func (c *cache[K, V]) Delete(k K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.touchLocked(k)
	n, ok := c.m[k]
	if !ok {
		return false
	}
	c.removeLocked(n)
	c.opt.Metrics.Size(c.len)
	return true
}

func (c *cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if cb := c.opt.OnEvict; cb != nil {
		for k, n := range c.m {
			cb(k, n.val, EvictCleared)
		}
	}
	c.clearLocked()
}

func (c *cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.len
}

func (c *cache[K, V]) Stats() Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	return Stats{
		Size:      c.Len(),
		Hits:      hits,
		Misses:    misses,
		Evictions: c.evicts.Load(),
		HitRate:   util.Ratio(hits, misses),
	}
}

func (c *cache[K, V]) GetOrLoad(ctx context.Context, k K) (V, error) {
	var zero V
	if c.isClosed() {
		return zero, ErrClosed
	}
	if v, ok := c.Get(k); ok {
		return v, nil
	}
	if c.opt.Loader == nil {
		return zero, ErrNoLoader
	}

	return c.sf.Do(ctx, k, func() (V, error) {
		c.beginLoad(k)
		// Another leader may have stored the value while we waited.
		if v, ok := c.Get(k); ok {
			c.finishLoad(k, v, false)
			return v, nil
		}
		v, err := c.opt.Loader(ctx, k)
		if err != nil {
			c.finishLoad(k, v, false)
			return v, err
		}
		return c.finishLoad(k, v, true), nil
	})
}

func (c *cache[K, V]) beginLoad(k K) {
	c.mu.Lock()
	c.loads[k] = false
	c.mu.Unlock()
}

// finishLoad stores v unless k was written, deleted or evicted while the
// load ran. In that case the loaded value is stale: the resident value is
// returned instead, if there is one.
func (c *cache[K, V]) finishLoad(k K, v V, store bool) V {
	c.mu.Lock()
	defer c.mu.Unlock()
	dirty := c.loads[k]
	delete(c.loads, k)
	if !store || c.closed {
		return v
	}
	if !dirty {
		c.setLocked(k, v, c.opt.DefaultTTL)
		return v
	}
	if n, ok := c.m[k]; ok && !c.expiredLocked(n) {
		return n.val
	}
	return v
}

// touchLocked marks an in-flight load of k as stale.
func (c *cache[K, V]) touchLocked(k K) {
	if _, ok := c.loads[k]; ok {
		c.loads[k] = true
	}
}

func (c *cache[K, V]) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.clearLocked()
	close(c.stop)
	c.mu.Unlock()

	c.wg.Wait()
	c.log.Debug("cache closed")
	return nil
}

// -------------------- internals (mu held) --------------------

func (c *cache[K, V]) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// setLocked inserts or overwrites k. An overwrite keeps the node but
// resets its creation time, deadline and timer.
func (c *cache[K, V]) setLocked(k K, v V, ttl time.Duration) {
	now := c.now()
	var exp int64
	if ttl > 0 {
		exp = now + int64(ttl)
	}

	c.touchLocked(k)
	if n, ok := c.m[k]; ok {
		n.stopTimer()
		n.val = v
		n.created = now
		n.exp = exp
		c.armLocked(n, ttl)
		c.pol.OnUpdate(n)
		return
	}

	if c.len >= c.maxSize {
		if victim := c.tail; victim != nil {
			c.evictLocked(victim, EvictPolicy)
		}
	}

	n := &node[K, V]{key: k, val: v, created: now, exp: exp}
	c.m[k] = n
	c.pol.OnAdd(n)
	c.armLocked(n, ttl)

	// A policy that does not evict on admission still cannot overflow.
	for c.len > c.maxSize && c.tail != nil {
		c.evictLocked(c.tail, EvictCapacity)
	}
	c.opt.Metrics.Size(c.len)
}

// armLocked starts a new timer generation for n, so a timer from an
// earlier generation that already fired becomes a no-op.
func (c *cache[K, V]) armLocked(n *node[K, V], ttl time.Duration) {
	n.gen++
	if ttl <= 0 {
		return
	}
	gen := n.gen
	n.timer = time.AfterFunc(ttl, func() { c.expire(n, gen) })
}

// expire runs on the timer goroutine. It only acts if n is still the
// resident node for its key, was not re-armed since, and is expired by
// the cache clock.
func (c *cache[K, V]) expire(n *node[K, V], gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if cur, ok := c.m[n.key]; !ok || cur != n || n.gen != gen {
		return
	}
	if !c.expiredLocked(n) {
		// Wall time can trail the timer slightly. An injected Clock is left
		// to reads and the sweeper.
		if c.opt.Clock == nil {
			n.timer = time.AfterFunc(time.Duration(n.exp-c.now()+1), func() { c.expire(n, gen) })
		}
		return
	}
	c.evictLocked(n, EvictTTL)
}

func (c *cache[K, V]) expiredLocked(n *node[K, V]) bool {
	return n.exp != 0 && c.now() > n.exp
}

func (c *cache[K, V]) now() int64 {
	if c.opt.Clock != nil {
		return c.opt.Clock.NowUnixNano()
	}
	return time.Now().UnixNano()
}

// removeLocked unlinks n without counting an eviction.
func (c *cache[K, V]) removeLocked(n *node[K, V]) {
	c.touchLocked(n.key)
	n.stopTimer()
	c.pol.OnRemove(n)
	c.unlink(n)
	delete(c.m, n.key)
}

func (c *cache[K, V]) evictLocked(n *node[K, V], reason EvictReason) {
	c.removeLocked(n)
	c.evicts.Add(1)
	c.opt.Metrics.Evict(reason)
	c.opt.Metrics.Size(c.len)
	if cb := c.opt.OnEvict; cb != nil {
		cb(n.key, n.val, reason)
	}
}

func (c *cache[K, V]) clearLocked() {
	for k := range c.loads {
		c.loads[k] = true
	}
	for _, n := range c.m {
		n.stopTimer()
		n.prev, n.next = nil, nil
	}
	c.m = make(map[K]*node[K, V])
	c.head, c.tail = nil, nil
	c.len = 0
	c.opt.Metrics.Size(0)
}

// sweepLocked removes every expired entry and returns how many it removed.
func (c *cache[K, V]) sweepLocked() int {
	removed := 0
	for n := c.tail; n != nil; {
		prev := n.prev
		if c.expiredLocked(n) {
			c.evictLocked(n, EvictTTL)
			removed++
		}
		n = prev
	}
	return removed
}

// -------------------- intrusive list --------------------

func (c *cache[K, V]) pushFront(n *node[K, V]) {
	n.prev = nil
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
	c.len++
}

func (c *cache[K, V]) moveToFront(n *node[K, V]) {
	if n == c.head {
		return
	}
	c.unlink(n)
	c.pushFront(n)
}

func (c *cache[K, V]) unlink(n *node[K, V]) {
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if c.head == n {
		c.head = n.next
	}
	if c.tail == n {
		c.tail = n.prev
	}
	n.prev, n.next = nil, nil
	c.len--
}

// listHooks adapts the cache list to policy.List.
type listHooks[K comparable, V any] struct{ c *cache[K, V] }

func (h listHooks[K, V]) PushFront(x policy.Node[K, V])   { h.c.pushFront(x.(*node[K, V])) }
func (h listHooks[K, V]) MoveToFront(x policy.Node[K, V]) { h.c.moveToFront(x.(*node[K, V])) }
func (h listHooks[K, V]) Len() int                        { return h.c.len }
func (h listHooks[K, V]) Back() policy.Node[K, V] {
	// Avoid returning a typed nil inside the interface.
	if h.c.tail == nil {
		return nil
	}
	return h.c.tail
}
