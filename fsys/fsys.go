// Package fsys is the file-system collaborator consumed by cachedfs and
// watch: plain reads and writes plus change notification.
package fsys

import (
	"context"
	"io"
	"io/fs"

	"github.com/IvanBrykalov/cachekit/watch"
)

// FileSystem reads, writes and watches files. WatchFile and WatchDirectory
// make every FileSystem a watch.Source.
type FileSystem interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) error
	Exists(ctx context.Context, path string) (bool, error)
	ReadDirectory(ctx context.Context, path string) ([]fs.DirEntry, error)

	WatchFile(path string, h watch.Handler) (io.Closer, error)
	WatchDirectory(path string, h watch.Handler) (io.Closer, error)
}

var _ watch.Source = FileSystem(nil)
