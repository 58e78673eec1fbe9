package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/cachekit/internal/logger"
)

// ErrManagerClosed is returned by Register after the manager is closed.
var ErrManagerClosed = errors.New("cache: manager closed")

// Managed is the part of a cache a Manager needs for bulk invalidation
// and teardown. Every Cache[K, V] satisfies it.
type Managed interface {
	Clear()
	Close() error
}

// NamedStats is one row of Manager.Stats.
type NamedStats struct {
	Name    string
	Size    int
	HitRate float64
}

// Manager is a named registry of caches of any key/value types.
// It is safe for concurrent use.
type Manager struct {
	mu     sync.RWMutex
	caches map[string]Managed
	closed bool
	log    *slog.Logger
}

// NewManager returns an empty registry. A nil logger discards output.
func NewManager(log *slog.Logger) *Manager {
	return &Manager{
		caches: make(map[string]Managed),
		log:    logger.OrDiscard(log).With(logger.Component("cache_manager")),
	}
}

// Register stores c under name, replacing any previous registration.
// The replaced cache is not closed.
func (m *Manager) Register(name string, c Managed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	if _, ok := m.caches[name]; ok {
		m.log.Debug("replacing registered cache", logger.Name(name))
	}
	m.caches[name] = c
	return nil
}

// Unregister removes name from the registry without closing the cache.
func (m *Manager) Unregister(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.caches[name]; !ok {
		return false
	}
	delete(m.caches, name)
	return true
}

// Get returns the cache registered under name.
func (m *Manager) Get(name string) (Managed, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.caches[name]
	return c, ok
}

// Names returns the registered names in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.caches))
	for name := range m.caches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InvalidateAll clears every registered cache concurrently. A failure in
// one cache is logged and does not stop the others.
func (m *Manager) InvalidateAll(ctx context.Context) {
	snapshot := m.snapshot()

	var g errgroup.Group
	for name, c := range snapshot {
		g.Go(func() error {
			if err := safeClear(c); err != nil {
				m.log.ErrorContext(ctx, "failed to clear cache", logger.Name(name), logger.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	m.log.DebugContext(ctx, "invalidated caches", logger.Count(len(snapshot)))
}

// Invalidate clears the cache registered under name, if any.
func (m *Manager) Invalidate(name string) {
	c, ok := m.Get(name)
	if !ok {
		return
	}
	if err := safeClear(c); err != nil {
		m.log.Error("failed to clear cache", logger.Name(name), logger.Error(err))
	}
}

// Stats reports size and hit rate for every registered cache, sorted by
// name. Caches that do not implement StatsReporter report zeros.
func (m *Manager) Stats() []NamedStats {
	snapshot := m.snapshot()
	out := make([]NamedStats, 0, len(snapshot))
	for name, c := range snapshot {
		row := NamedStats{Name: name}
		if r, ok := c.(StatsReporter); ok {
			s := r.Stats()
			row.Size, row.HitRate = s.Size, s.HitRate
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close closes every registered cache and empties the registry.
// Individual failures are logged; Close is idempotent and returns nil.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	caches := m.caches
	m.caches = make(map[string]Managed)
	m.mu.Unlock()

	for name, c := range caches {
		if err := safeClose(c); err != nil {
			m.log.Error("failed to close cache", logger.Name(name), logger.Error(err))
		}
	}
	m.log.Debug("cache manager closed", logger.Count(len(caches)))
	return nil
}

func (m *Manager) snapshot() map[string]Managed {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Managed, len(m.caches))
	for k, v := range m.caches {
		out[k] = v
	}
	return out
}

func safeClear(c Managed) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("clear panicked: %v", r)
		}
	}()
	c.Clear()
	return nil
}

func safeClose(c Managed) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("close panicked: %v", r)
		}
	}()
	return c.Close()
}
