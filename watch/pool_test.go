package watch_test

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/cachekit/watch"
)

// fakeWatcher records whether it was closed and lets tests emit events.
type fakeWatcher struct {
	kind    watch.Kind
	path    string
	handler watch.Handler
	closed  bool
}

func (w *fakeWatcher) Close() error {
	w.closed = true
	return nil
}

func (w *fakeWatcher) emit(op watch.Op) { w.handler(watch.Event{Path: w.path, Op: op}) }

type fakeSource struct {
	mu       sync.Mutex
	watchers []*fakeWatcher
	fail     error
}

func (s *fakeSource) add(kind watch.Kind, path string, h watch.Handler) (io.Closer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	w := &fakeWatcher{kind: kind, path: path, handler: h}
	s.watchers = append(s.watchers, w)
	return w, nil
}

func (s *fakeSource) WatchFile(path string, h watch.Handler) (io.Closer, error) {
	return s.add(watch.KindFile, path, h)
}

func (s *fakeSource) WatchDirectory(path string, h watch.Handler) (io.Closer, error) {
	return s.add(watch.KindDir, path, h)
}

func (s *fakeSource) created() []*fakeWatcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeWatcher(nil), s.watchers...)
}

func TestPool_SharesOneWatcherPerPath(t *testing.T) {
	src := &fakeSource{}
	pool := watch.NewPool(src, nil)
	t.Cleanup(func() { _ = pool.Close() })

	var gotA, gotB []watch.Event
	subA, err := pool.WatchFile("/tmp/a", func(ev watch.Event) { gotA = append(gotA, ev) })
	require.NoError(t, err)
	subB, err := pool.WatchFile("/tmp/a", func(ev watch.Event) { gotB = append(gotB, ev) })
	require.NoError(t, err)

	require.Len(t, src.created(), 1)
	assert.Equal(t, 2, pool.RefCount(watch.KindFile, "/tmp/a"))
	assert.NotEqual(t, subA.ID(), subB.ID())

	w := src.created()[0]
	w.emit(watch.Write)
	assert.Equal(t, []watch.Event{{Path: "/tmp/a", Op: watch.Write}}, gotA)
	assert.Equal(t, []watch.Event{{Path: "/tmp/a", Op: watch.Write}}, gotB)

	require.NoError(t, subA.Close())
	assert.False(t, w.closed, "one remaining subscription keeps the watcher alive")
	assert.Equal(t, 1, pool.RefCount(watch.KindFile, "/tmp/a"))

	w.emit(watch.Remove)
	assert.Len(t, gotA, 1, "released handler must not receive events")
	assert.Len(t, gotB, 2)

	require.NoError(t, subB.Close())
	assert.True(t, w.closed)
	assert.Zero(t, pool.Len())
	assert.Zero(t, pool.RefCount(watch.KindFile, "/tmp/a"))
}

func TestPool_FileAndDirectoryAreDistinctKeys(t *testing.T) {
	src := &fakeSource{}
	pool := watch.NewPool(src, nil)
	t.Cleanup(func() { _ = pool.Close() })

	_, err := pool.WatchFile("/tmp/x", func(watch.Event) {})
	require.NoError(t, err)
	_, err = pool.WatchDirectory("/tmp/x", func(watch.Event) {})
	require.NoError(t, err)

	created := src.created()
	require.Len(t, created, 2)
	assert.Equal(t, watch.KindFile, created[0].kind)
	assert.Equal(t, watch.KindDir, created[1].kind)
	assert.Equal(t, 2, pool.Len())
}

// After the last release, a new subscription gets a brand-new watcher.
func TestPool_ResubscribeCreatesFreshWatcher(t *testing.T) {
	src := &fakeSource{}
	pool := watch.NewPool(src, nil)
	t.Cleanup(func() { _ = pool.Close() })

	sub, err := pool.WatchFile("/tmp/a", func(watch.Event) {})
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close(), "double close is a no-op")

	var got int
	_, err = pool.WatchFile("/tmp/a", func(watch.Event) { got++ })
	require.NoError(t, err)

	created := src.created()
	require.Len(t, created, 2)
	assert.True(t, created[0].closed)
	assert.False(t, created[1].closed)

	created[1].emit(watch.Write)
	assert.Equal(t, 1, got)
	assert.Equal(t, 1, pool.RefCount(watch.KindFile, "/tmp/a"))
}

func TestPool_PanickingHandlerIsIsolated(t *testing.T) {
	var logs bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logs, nil))
	src := &fakeSource{}
	pool := watch.NewPool(src, log)
	t.Cleanup(func() { _ = pool.Close() })

	var order []string
	_, err := pool.WatchFile("/tmp/a", func(watch.Event) { order = append(order, "first") })
	require.NoError(t, err)
	_, err = pool.WatchFile("/tmp/a", func(watch.Event) { panic("handler bug") })
	require.NoError(t, err)
	_, err = pool.WatchFile("/tmp/a", func(watch.Event) { order = append(order, "third") })
	require.NoError(t, err)

	assert.NotPanics(t, func() { src.created()[0].emit(watch.Write) })
	assert.Equal(t, []string{"first", "third"}, order)
	assert.Contains(t, logs.String(), "watch handler panicked")
}

func TestPool_SourceFailureLeavesNoEntry(t *testing.T) {
	src := &fakeSource{fail: errors.New("inotify limit")}
	pool := watch.NewPool(src, nil)
	t.Cleanup(func() { _ = pool.Close() })

	_, err := pool.WatchFile("/tmp/a", func(watch.Event) {})
	require.Error(t, err)
	assert.ErrorIs(t, err, src.fail)
	assert.Zero(t, pool.Len())
}

func TestPool_Close(t *testing.T) {
	src := &fakeSource{}
	pool := watch.NewPool(src, nil)

	sub, err := pool.WatchFile("/tmp/a", func(watch.Event) {})
	require.NoError(t, err)
	_, err = pool.WatchDirectory("/tmp", func(watch.Event) {})
	require.NoError(t, err)

	require.NoError(t, pool.Close())
	require.NoError(t, pool.Close())
	for _, w := range src.created() {
		assert.True(t, w.closed)
	}
	assert.Zero(t, pool.Len())

	// Releasing a subscription after Close must not touch the closed watcher again.
	require.NoError(t, sub.Close())

	_, err = pool.WatchFile("/tmp/a", func(watch.Event) {})
	assert.ErrorIs(t, err, watch.ErrClosed)
	_, err = pool.WatchDirectory("/tmp", func(watch.Event) {})
	assert.EqualError(t, err, "watch: pool is disposed")
}

func TestOp_String(t *testing.T) {
	assert.Equal(t, "WRITE", watch.Write.String())
	assert.Equal(t, "CREATE|REMOVE", (watch.Create | watch.Remove).String())
	assert.Equal(t, "NONE", watch.Op(0).String())
}
