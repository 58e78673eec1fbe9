package cache_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/cachekit/cache"
)

// faultyCache panics on Clear and fails on Close.
type faultyCache struct {
	closed atomic.Bool
}

func (f *faultyCache) Clear() { panic("clear exploded") }
func (f *faultyCache) Close() error {
	f.closed.Store(true)
	return errors.New("close failed")
}

// syncBuffer lets concurrent goroutines log into one buffer.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newLogger(buf *syncBuffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestManager_RegisterAndGet(t *testing.T) {
	m := cache.NewManager(nil)
	t.Cleanup(func() { _ = m.Close() })

	files := cache.New[string, []byte](cache.Options[string, []byte]{})
	require.NoError(t, m.Register("files", files))

	got, ok := m.Get("files")
	require.True(t, ok)
	assert.Same(t, files, got)

	_, ok = m.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, []string{"files"}, m.Names())

	assert.True(t, m.Unregister("files"))
	assert.False(t, m.Unregister("files"))
	_ = files.Close()
}

func TestManager_InvalidateAllIsolatesFailures(t *testing.T) {
	var logs syncBuffer
	m := cache.NewManager(newLogger(&logs))
	t.Cleanup(func() { _ = m.Close() })

	a := cache.New[string, int](cache.Options[string, int]{})
	b := cache.New[int, string](cache.Options[int, string]{})
	a.Set("x", 1)
	b.Set(1, "y")

	require.NoError(t, m.Register("a", a))
	require.NoError(t, m.Register("bad", &faultyCache{}))
	require.NoError(t, m.Register("b", b))

	assert.NotPanics(t, func() { m.InvalidateAll(context.Background()) })

	assert.Zero(t, a.Len())
	assert.Zero(t, b.Len())
	assert.Contains(t, logs.String(), "failed to clear cache")
	assert.Contains(t, logs.String(), "name=bad")
}

func TestManager_Invalidate(t *testing.T) {
	m := cache.NewManager(nil)
	t.Cleanup(func() { _ = m.Close() })

	a := cache.New[string, int](cache.Options[string, int]{})
	b := cache.New[string, int](cache.Options[string, int]{})
	a.Set("x", 1)
	b.Set("x", 1)
	require.NoError(t, m.Register("a", a))
	require.NoError(t, m.Register("b", b))

	m.Invalidate("a")
	m.Invalidate("missing")

	assert.Zero(t, a.Len())
	assert.Equal(t, 1, b.Len())
}

func TestManager_Stats(t *testing.T) {
	m := cache.NewManager(nil)
	t.Cleanup(func() { _ = m.Close() })

	a := cache.New[string, int](cache.Options[string, int]{})
	a.Set("x", 1)
	a.Get("x")
	a.Get("y")
	require.NoError(t, m.Register("a", a))
	require.NoError(t, m.Register("opaque", &faultyCache{}))

	stats := m.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, cache.NamedStats{Name: "a", Size: 1, HitRate: 0.5}, stats[0])
	assert.Equal(t, cache.NamedStats{Name: "opaque"}, stats[1])
}

func TestManager_CloseCascadesAndIsIdempotent(t *testing.T) {
	var logs syncBuffer
	m := cache.NewManager(newLogger(&logs))

	a := cache.New[string, int](cache.Options[string, int]{})
	a.Set("x", 1)
	bad := &faultyCache{}
	require.NoError(t, m.Register("bad", bad))
	require.NoError(t, m.Register("a", a))

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	assert.True(t, bad.closed.Load())
	a.Set("y", 2)
	assert.Zero(t, a.Len(), "registered cache must be closed")
	assert.Contains(t, logs.String(), "failed to close cache")

	assert.ErrorIs(t, m.Register("late", a), cache.ErrManagerClosed)
	assert.Empty(t, m.Names())
}
