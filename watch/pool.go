package watch

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/IvanBrykalov/cachekit/internal/logger"
)

// ErrClosed is returned by WatchFile and WatchDirectory after Close.
var ErrClosed = errors.New("watch: pool is disposed")

// Op describes what happened to a watched path.
type Op uint32

const (
	Create Op = 1 << iota
	Write
	Remove
	Rename
	Chmod
)

func (o Op) String() string {
	names := []struct {
		op   Op
		name string
	}{{Create, "CREATE"}, {Write, "WRITE"}, {Remove, "REMOVE"}, {Rename, "RENAME"}, {Chmod, "CHMOD"}}
	s := ""
	for _, n := range names {
		if o&n.op != 0 {
			if s != "" {
				s += "|"
			}
			s += n.name
		}
	}
	if s == "" {
		return "NONE"
	}
	return s
}

// Event is one change notification.
type Event struct {
	Path string
	Op   Op
}

// Handler receives events for a subscription.
type Handler func(Event)

// Source creates real watchers. Each returned io.Closer stops its watcher.
type Source interface {
	WatchFile(path string, h Handler) (io.Closer, error)
	WatchDirectory(path string, h Handler) (io.Closer, error)
}

// Kind distinguishes file watchers from directory watchers in pool keys.
type Kind string

const (
	KindFile Kind = "file"
	KindDir  Kind = "dir"
)

func poolKey(kind Kind, path string) string { return string(kind) + ":" + path }

// pooled is one real watcher shared by every subscription to its key.
type pooled struct {
	key     string
	watcher io.Closer

	// listeners is guarded by mu; refCount == len(listeners).
	mu        sync.Mutex
	listeners []*Subscription
}

func (e *pooled) refCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

// Pool deduplicates watch subscriptions: all subscriptions to the same
// (kind, path) share one real watcher, which is closed when the last
// subscription is released.
type Pool struct {
	src Source
	log *slog.Logger

	mu      sync.Mutex
	entries map[string]*pooled
	closed  bool
}

// NewPool returns a Pool creating real watchers through src.
// A nil logger discards output.
func NewPool(src Source, log *slog.Logger) *Pool {
	return &Pool{
		src:     src,
		log:     logger.OrDiscard(log).With(logger.Component("watch_pool")),
		entries: make(map[string]*pooled),
	}
}

// WatchFile subscribes h to changes of the file at path.
func (p *Pool) WatchFile(path string, h Handler) (*Subscription, error) {
	return p.getOrCreate(KindFile, path, h)
}

// WatchDirectory subscribes h to changes inside the directory at path.
func (p *Pool) WatchDirectory(path string, h Handler) (*Subscription, error) {
	return p.getOrCreate(KindDir, path, h)
}

// Len returns the number of live real watchers.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// RefCount returns the number of subscriptions sharing the watcher for
// (kind, path), or 0 if none exists.
func (p *Pool) RefCount(kind Kind, path string) int {
	p.mu.Lock()
	e, ok := p.entries[poolKey(kind, path)]
	p.mu.Unlock()
	if !ok {
		return 0
	}
	return e.refCount()
}

// Close closes every real watcher regardless of outstanding
// subscriptions and empties the pool. Close is idempotent.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	entries := p.entries
	p.entries = make(map[string]*pooled)
	p.mu.Unlock()

	var errs []error
	for key, e := range entries {
		if err := e.watcher.Close(); err != nil {
			p.log.Warn("failed to close watcher", slog.String("key", key), logger.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// -------------------- internals --------------------

func (p *Pool) getOrCreate(kind Kind, path string, h Handler) (*Subscription, error) {
	if h == nil {
		return nil, errors.New("watch: nil handler")
	}
	key := poolKey(kind, path)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}

	e, ok := p.entries[key]
	if !ok {
		e = &pooled{key: key}
		var (
			w   io.Closer
			err error
		)
		if kind == KindDir {
			w, err = p.src.WatchDirectory(path, e.dispatcher(p.log))
		} else {
			w, err = p.src.WatchFile(path, e.dispatcher(p.log))
		}
		if err != nil {
			return nil, fmt.Errorf("watch %s: %w", key, err)
		}
		e.watcher = w
		p.entries[key] = e
		p.log.Debug("created watcher", logger.Path(path), slog.String("kind", string(kind)))
	}

	s := &Subscription{id: uuid.New(), handler: h, pool: p, entry: e}
	e.mu.Lock()
	e.listeners = append(e.listeners, s)
	e.mu.Unlock()
	return s, nil
}

// release drops s from its entry and closes the real watcher when s was
// the last subscription. An entry already replaced or closed by
// Pool.Close is left alone.
func (p *Pool) release(s *Subscription) {
	p.mu.Lock()
	e := s.entry
	e.mu.Lock()
	for i, l := range e.listeners {
		if l == s {
			e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
			break
		}
	}
	remaining := len(e.listeners)
	e.mu.Unlock()

	if remaining > 0 || p.entries[e.key] != e {
		p.mu.Unlock()
		return
	}
	delete(p.entries, e.key)
	p.mu.Unlock()

	if err := e.watcher.Close(); err != nil {
		p.log.Warn("failed to close watcher", slog.String("key", e.key), logger.Error(err))
		return
	}
	p.log.Debug("closed idle watcher", slog.String("key", e.key))
}

// dispatcher returns the single handler registered with the real watcher.
// It fans every event out to the listeners present at dispatch time; a
// panicking listener is logged and skipped.
func (e *pooled) dispatcher(log *slog.Logger) Handler {
	return func(ev Event) {
		e.mu.Lock()
		listeners := append([]*Subscription(nil), e.listeners...)
		e.mu.Unlock()

		for _, s := range listeners {
			s.deliver(ev, log)
		}
	}
}

// Subscription is the handle returned by WatchFile and WatchDirectory.
type Subscription struct {
	id      uuid.UUID
	handler Handler
	pool    *Pool
	entry   *pooled
	once    sync.Once
}

// ID uniquely identifies the subscription.
func (s *Subscription) ID() uuid.UUID { return s.id }

// Close releases the subscription. It is idempotent and always returns nil.
func (s *Subscription) Close() error {
	s.once.Do(func() { s.pool.release(s) })
	return nil
}

func (s *Subscription) deliver(ev Event, log *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("watch handler panicked",
				logger.Path(ev.Path),
				slog.String("subscription", s.id.String()),
				logger.Panic(r))
		}
	}()
	s.handler(ev)
}
