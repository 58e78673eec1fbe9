// Package cachedfs layers caching and request batching over an
// fsys.FileSystem.
//
// Reads go through a cache whose loader submits the path to a batch
// processor, so a burst of distinct misses becomes one grouped read.
// Writes are batched the same way and then written through to the cache.
// With InvalidateOnChange, every cached path is watched through a
// watch.Pool and dropped from the cache when it changes on disk.
package cachedfs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/IvanBrykalov/cachekit/batch"
	"github.com/IvanBrykalov/cachekit/cache"
	"github.com/IvanBrykalov/cachekit/fsys"
	"github.com/IvanBrykalov/cachekit/internal/logger"
	"github.com/IvanBrykalov/cachekit/perf"
	"github.com/IvanBrykalov/cachekit/watch"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("cachedfs: closed")

// DefaultParallelism bounds concurrent file-system calls inside one batch.
const DefaultParallelism = 4

// Options configures an FS. Zero values fall back to the defaults of the
// cache and batch packages.
type Options struct {
	// Name registers the cache with Manager. Defaults to "files".
	Name    string
	Manager *cache.Manager

	MaxSize         int
	TTL             time.Duration
	CleanupInterval time.Duration

	BatchSize   int
	BatchDelay  time.Duration
	Parallelism int

	// InvalidateOnChange watches every cached path and evicts it on change.
	InvalidateOnChange bool
	// Pool is used for watches. If nil and InvalidateOnChange is set, FS
	// creates and owns a pool over the underlying file system.
	Pool *watch.Pool

	Monitor      *perf.Monitor
	CacheMetrics cache.Metrics
	BatchMetrics batch.Metrics
	Logger       *slog.Logger
}

type readResult struct {
	data []byte
	err  error
}

type writeReq struct {
	path string
	data []byte
}

// FS is an fsys.FileSystem with a read cache and batched I/O.
// It is safe for concurrent use.
type FS struct {
	base fsys.FileSystem
	opt  Options
	log  *slog.Logger
	mon  *perf.Monitor

	files  cache.Cache[string, []byte]
	reader *batch.Processor[string, readResult]
	writer *batch.Processor[writeReq, struct{}]

	pool       *watch.Pool
	ownsPool   bool
	registered bool

	mu     sync.Mutex
	subs   map[string]*watch.Subscription
	closed bool
}

var _ fsys.FileSystem = (*FS)(nil)

// New wraps base. It fails only if the cache cannot be registered with
// opt.Manager.
func New(base fsys.FileSystem, opt Options) (*FS, error) {
	if opt.Name == "" {
		opt.Name = "files"
	}
	if opt.Parallelism <= 0 {
		opt.Parallelism = DefaultParallelism
	}
	log := logger.OrDiscard(opt.Logger).With(logger.Component("cachedfs"), logger.Name(opt.Name))

	f := &FS{
		base: base,
		opt:  opt,
		log:  log,
		mon:  opt.Monitor,
		pool: opt.Pool,
		subs: make(map[string]*watch.Subscription),
	}
	if f.mon == nil {
		f.mon = perf.New(log)
	}

	batchOpt := batch.Options{
		BatchSize: opt.BatchSize,
		Delay:     opt.BatchDelay,
		Metrics:   opt.BatchMetrics,
		Logger:    log,
	}
	f.reader = batch.New(f.readBatch, batchOpt)
	f.writer = batch.New(f.writeBatch, batchOpt)

	f.files = cache.New(cache.Options[string, []byte]{
		MaxSize:         opt.MaxSize,
		DefaultTTL:      opt.TTL,
		CleanupInterval: opt.CleanupInterval,
		Loader:          f.load,
		OnEvict:         f.onEvict,
		Metrics:         opt.CacheMetrics,
		Logger:          log,
	})

	if opt.InvalidateOnChange && f.pool == nil {
		f.pool = watch.NewPool(base, log)
		f.ownsPool = true
	}

	if opt.Manager != nil {
		if err := opt.Manager.Register(opt.Name, f.files); err != nil {
			_ = f.Close()
			return nil, err
		}
		f.registered = true
	}
	return f, nil
}

// ReadFile returns the contents of path, from the cache when possible.
// The returned slice is a copy.
func (f *FS) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if f.isClosed() {
		return nil, ErrClosed
	}
	data, err := perf.MeasureValue(f.mon, "read", func() ([]byte, error) {
		return f.files.GetOrLoad(ctx, path)
	})
	if err != nil {
		return nil, closedAs(err)
	}
	if f.opt.InvalidateOnChange {
		f.watchPath(path)
	}
	return bytes.Clone(data), nil
}

// WriteFile writes data through the batched writer, then caches it.
func (f *FS) WriteFile(ctx context.Context, path string, data []byte) error {
	if f.isClosed() {
		return ErrClosed
	}
	data = bytes.Clone(data)
	return f.mon.MeasureContext(ctx, "write", func(ctx context.Context) error {
		if _, err := f.writer.Do(ctx, writeReq{path: path, data: data}); err != nil {
			return closedAs(err)
		}
		f.files.Set(path, data)
		return nil
	})
}

// Exists reports a cached path as present without touching the file system.
func (f *FS) Exists(ctx context.Context, path string) (bool, error) {
	if f.isClosed() {
		return false, ErrClosed
	}
	if f.files.Has(path) {
		return true, nil
	}
	return perf.MeasureValue(f.mon, "exists", func() (bool, error) {
		return f.base.Exists(ctx, path)
	})
}

func (f *FS) ReadDirectory(ctx context.Context, path string) ([]fs.DirEntry, error) {
	if f.isClosed() {
		return nil, ErrClosed
	}
	return perf.MeasureValue(f.mon, "read_directory", func() ([]fs.DirEntry, error) {
		return f.base.ReadDirectory(ctx, path)
	})
}

// WatchFile and WatchDirectory share the pool's watchers when FS has one.
func (f *FS) WatchFile(path string, h watch.Handler) (io.Closer, error) {
	if f.pool == nil {
		return f.base.WatchFile(path, h)
	}
	sub, err := f.pool.WatchFile(path, h)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (f *FS) WatchDirectory(path string, h watch.Handler) (io.Closer, error) {
	if f.pool == nil {
		return f.base.WatchDirectory(path, h)
	}
	sub, err := f.pool.WatchDirectory(path, h)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Invalidate drops path from the cache and releases its watch.
func (f *FS) Invalidate(path string) bool {
	f.releaseWatch(path)
	return f.files.Delete(path)
}

// Stats reports the read cache counters.
func (f *FS) Stats() cache.Stats { return f.files.Stats() }

// QueuedReads returns the number of cache misses waiting for a read batch.
func (f *FS) QueuedReads() int { return f.reader.Len() }

// Close fails queued reads and writes, releases watches and closes the
// cache. A batch already in flight finishes first. Close is idempotent.
func (f *FS) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	subs := f.subs
	f.subs = nil
	f.mu.Unlock()

	_ = f.reader.Close()
	_ = f.writer.Close()
	f.reader.Wait()
	f.writer.Wait()

	for _, s := range subs {
		_ = s.Close()
	}
	var err error
	if f.ownsPool {
		err = f.pool.Close()
	}
	if f.registered {
		f.opt.Manager.Unregister(f.opt.Name)
	}
	_ = f.files.Close()
	f.log.Debug("closed")
	return err
}

// -------------------- internals --------------------

func (f *FS) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// closedAs reports shutdown errors of the inner components as ErrClosed.
func closedAs(err error) error {
	if errors.Is(err, cache.ErrClosed) || errors.Is(err, batch.ErrClosed) || errors.Is(err, batch.ErrDisposed) {
		return ErrClosed
	}
	return err
}

// load is the cache Loader: one miss becomes one item of a read batch.
func (f *FS) load(ctx context.Context, path string) ([]byte, error) {
	res, err := f.reader.Do(ctx, path)
	if err != nil {
		return nil, err
	}
	return res.data, res.err
}

// watchPath subscribes to path once; any change evicts it from the cache.
func (f *FS) watchPath(path string) {
	f.mu.Lock()
	if f.closed || f.subs[path] != nil {
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()

	// Release before Delete: any read in between subscribes again.
	sub, err := f.pool.WatchFile(path, func(ev watch.Event) {
		f.releaseWatch(path)
		if f.files.Delete(path) {
			f.log.Debug("invalidated on change", logger.Path(path), slog.String("op", ev.Op.String()))
		}
	})
	if err != nil {
		f.log.Warn("cannot watch cached file", logger.Path(path), logger.Error(err))
		return
	}

	f.mu.Lock()
	if f.closed || f.subs[path] != nil {
		f.mu.Unlock()
		_ = sub.Close()
		return
	}
	f.subs[path] = sub
	f.mu.Unlock()
}

// releaseWatch closes the watch of a path that is no longer cached. The
// next successful read subscribes again.
func (f *FS) releaseWatch(path string) {
	if sub := f.takeSub(path); sub != nil {
		_ = sub.Close()
	}
}

func (f *FS) takeSub(path string) *watch.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := f.subs[path]
	delete(f.subs, path)
	return sub
}

// onEvict releases the watch of a path that left the cache by eviction,
// expiry or Clear. It runs under the cache lock, so the release happens
// on its own goroutine.
func (f *FS) onEvict(path string, _ []byte, _ cache.EvictReason) {
	if sub := f.takeSub(path); sub != nil {
		go func() { _ = sub.Close() }()
	}
}
