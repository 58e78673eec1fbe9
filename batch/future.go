package batch

import (
	"context"
	"sync"
)

// Future is the pending result of one item added to a Processor.
type Future[R any] struct {
	once sync.Once
	done chan struct{}
	val  R
	err  error
}

func newFuture[R any]() *Future[R] {
	return &Future[R]{done: make(chan struct{})}
}

// Done is closed once the result is available.
func (f *Future[R]) Done() <-chan struct{} { return f.done }

// Await blocks until the result is available or ctx is done.
// Cancelling ctx does not remove the item from its batch.
func (f *Future[R]) Await(ctx context.Context) (R, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

func (f *Future[R]) resolve(v R) {
	f.once.Do(func() {
		f.val = v
		close(f.done)
	})
}

func (f *Future[R]) reject(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}
