package logger

import (
	"fmt"
	"log/slog"
	"time"
)

// Component records the component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Error records err under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Panic records a recovered panic value under the key "panic".
func Panic(v any) slog.Attr {
	return slog.String("panic", fmt.Sprint(v))
}

// Key records a cache key under the key "key".
func Key(k any) slog.Attr {
	return slog.Any("key", k)
}

// Name records a registry name under the key "name".
func Name(name string) slog.Attr {
	return slog.String("name", name)
}

// Path records a file-system path under the key "path".
func Path(p string) slog.Attr {
	return slog.String("path", p)
}

// Operation records a measured operation under the key "operation".
func Operation(op string) slog.Attr {
	return slog.String("operation", op)
}

// Duration records d under the key "duration".
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Count records n under the key "count".
func Count(n int) slog.Attr {
	return slog.Int("count", n)
}
