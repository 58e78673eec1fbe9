package fsys

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/IvanBrykalov/cachekit/internal/logger"
	"github.com/IvanBrykalov/cachekit/watch"
)

// OS is a FileSystem backed by the local disk. Watchers use fsnotify;
// a file is watched through its parent directory and events are filtered
// by name, so replacing the file by rename keeps the watch alive.
type OS struct {
	log  *slog.Logger
	perm fs.FileMode
}

var _ FileSystem = (*OS)(nil)

// NewOS returns an OS file system. A nil logger discards output.
func NewOS(log *slog.Logger) *OS {
	return &OS{
		log:  logger.OrDiscard(log).With(logger.Component("fsys")),
		perm: 0o644,
	}
}

func (o *OS) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// WriteFile writes data to path, creating missing parent directories.
func (o *OS) WriteFile(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, o.perm)
}

func (o *OS) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

func (o *OS) ReadDirectory(ctx context.Context, path string) ([]fs.DirEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadDir(path)
}

// WatchFile reports changes to the file at path. The file itself need not
// exist yet, but its parent directory must.
func (o *OS) WatchFile(path string, h watch.Handler) (io.Closer, error) {
	path = filepath.Clean(path)
	return o.watch(filepath.Dir(path), path, h)
}

// WatchDirectory reports changes to direct children of the directory at
// path. Subdirectories are not watched.
func (o *OS) WatchDirectory(path string, h watch.Handler) (io.Closer, error) {
	return o.watch(filepath.Clean(path), "", h)
}

func (o *OS) watch(dir, only string, h watch.Handler) (io.Closer, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsys: new watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("fsys: watch %s: %w", dir, err)
	}

	w := &osWatcher{fw: fw, only: only, handler: h, log: o.log.With(logger.Path(dir))}
	go w.run()
	return w, nil
}

type osWatcher struct {
	fw      *fsnotify.Watcher
	only    string
	handler watch.Handler
	log     *slog.Logger

	once sync.Once
	err  error
}

// run forwards fsnotify events until the watcher is closed.
func (w *osWatcher) run() {
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			name := filepath.Clean(ev.Name)
			if w.only != "" && name != w.only {
				continue
			}
			op := convertOp(ev.Op)
			if op == 0 {
				continue
			}
			w.handler(watch.Event{Path: name, Op: op})
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", logger.Error(err))
		}
	}
}

// Close stops the watcher. It may be called from the handler itself, so it
// does not wait for the event loop; an event already being delivered
// finishes normally.
func (w *osWatcher) Close() error {
	w.once.Do(func() { w.err = w.fw.Close() })
	return w.err
}

func convertOp(op fsnotify.Op) watch.Op {
	var out watch.Op
	if op.Has(fsnotify.Create) {
		out |= watch.Create
	}
	if op.Has(fsnotify.Write) {
		out |= watch.Write
	}
	if op.Has(fsnotify.Remove) {
		out |= watch.Remove
	}
	if op.Has(fsnotify.Rename) {
		out |= watch.Rename
	}
	if op.Has(fsnotify.Chmod) {
		out |= watch.Chmod
	}
	return out
}
