package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IvanBrykalov/cachekit/internal/logger"
)

var (
	// ErrClosed fails every Add made after Close.
	ErrClosed = errors.New("batch: processor is disposed")
	// ErrDisposed fails items that were still queued when Close ran.
	ErrDisposed = errors.New("batch: processor disposed")
	// ErrNoResult fails an item whose position is missing from the results.
	ErrNoResult = errors.New("batch: no result for batch item")
)

// Defaults applied by New for zero-valued Options fields.
const (
	DefaultBatchSize = 10
	DefaultDelay     = 100 * time.Millisecond
)

// ProcessFunc handles one batch. The i-th result belongs to the i-th item.
// A returned error fails every item of the batch.
type ProcessFunc[T, R any] func(ctx context.Context, items []T) ([]R, error)

// Metrics receives batch-level signals. NoopMetrics is used by default.
type Metrics interface {
	// Batch is called after every processed batch.
	Batch(size int, took time.Duration, err error)
	// Queued reports the queue length after every change.
	Queued(n int)
}

// NoopMetrics is a Metrics implementation that does nothing.
type NoopMetrics struct{}

func (NoopMetrics) Batch(int, time.Duration, error) {}
func (NoopMetrics) Queued(int)                      {}

// Options configures a Processor. Zero values are safe:
//   - BatchSize <= 0 => DefaultBatchSize
//   - Delay <= 0     => DefaultDelay
//   - nil Context    => context.Background()
type Options struct {
	// BatchSize is both the largest batch and the queue length that
	// starts processing without waiting for Delay.
	BatchSize int
	// Delay is the quiet period after the last Add that flushes a
	// partial batch.
	Delay time.Duration
	// Context is passed to every ProcessFunc call. Close does not cancel it.
	Context context.Context
	Metrics Metrics
	Logger  *slog.Logger
}

type pending[T, R any] struct {
	item T
	fut  *Future[R]
}

// Processor coalesces individually added items into batches handed to a
// ProcessFunc. A batch starts when the queue reaches BatchSize, or when
// Delay passes without a new Add. Only one batch runs at a time; items
// keep FIFO order within and across batches.
type Processor[T, R any] struct {
	fn  ProcessFunc[T, R]
	opt Options
	log *slog.Logger

	mu         sync.Mutex
	queue      []pending[T, R]
	timer      *time.Timer
	timerGen   uint64
	processing bool
	closed     bool
	wg         sync.WaitGroup
}

// New returns a Processor that hands batches to fn.
func New[T, R any](fn ProcessFunc[T, R], opt Options) *Processor[T, R] {
	if opt.BatchSize <= 0 {
		opt.BatchSize = DefaultBatchSize
	}
	if opt.Delay <= 0 {
		opt.Delay = DefaultDelay
	}
	if opt.Context == nil {
		opt.Context = context.Background()
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	return &Processor[T, R]{
		fn:  fn,
		opt: opt,
		log: logger.OrDiscard(opt.Logger).With(logger.Component("batch")),
	}
}

// Add queues item and returns its Future. After Close the Future fails
// immediately with ErrClosed.
func (p *Processor[T, R]) Add(item T) *Future[R] {
	f := newFuture[R]()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		f.reject(ErrClosed)
		return f
	}

	p.queue = append(p.queue, pending[T, R]{item: item, fut: f})
	p.opt.Metrics.Queued(len(p.queue))

	if len(p.queue) >= p.opt.BatchSize {
		p.stopTimerLocked()
		p.startLocked()
		return f
	}
	// Debounce: every Add pushes the deadline back.
	p.stopTimerLocked()
	p.timerGen++
	gen := p.timerGen
	p.timer = time.AfterFunc(p.opt.Delay, func() { p.onTimer(gen) })
	return f
}

// Do adds item and waits for its result.
func (p *Processor[T, R]) Do(ctx context.Context, item T) (R, error) {
	return p.Add(item).Await(ctx)
}

// Flush starts a batch now if items are queued and none is in flight.
func (p *Processor[T, R]) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopTimerLocked()
	if p.closed {
		return
	}
	p.startLocked()
}

// Len returns the number of queued items not yet taken into a batch.
func (p *Processor[T, R]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Close stops the processor and fails all queued items with ErrDisposed.
// A batch already in flight completes normally. Close is idempotent.
func (p *Processor[T, R]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.stopTimerLocked()
	dropped := p.queue
	p.queue = nil
	p.opt.Metrics.Queued(0)
	p.mu.Unlock()

	for _, it := range dropped {
		it.fut.reject(ErrDisposed)
	}
	if len(dropped) > 0 {
		p.log.Debug("dropped queued items on close", logger.Count(len(dropped)))
	}
	return nil
}

// Wait blocks until no batch is in flight. It is mainly useful after
// Close to let the last batch settle.
func (p *Processor[T, R]) Wait() { p.wg.Wait() }

// -------------------- internals --------------------

// onTimer ignores fires from a timer that was stopped or re-armed after
// it had already expired.
func (p *Processor[T, R]) onTimer(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.timer == nil || gen != p.timerGen {
		return
	}
	p.timer = nil
	p.startLocked()
}

func (p *Processor[T, R]) stopTimerLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// startLocked takes the next batch off the queue and runs it on its own
// goroutine, unless a batch is already in flight or the queue is empty.
func (p *Processor[T, R]) startLocked() {
	if p.processing || len(p.queue) == 0 {
		return
	}
	n := min(len(p.queue), p.opt.BatchSize)
	batch := make([]pending[T, R], n)
	copy(batch, p.queue[:n])
	// Drop references held by the backing array.
	clear(p.queue[:n])
	p.queue = p.queue[n:]
	if len(p.queue) == 0 {
		p.queue = nil
	}
	p.opt.Metrics.Queued(len(p.queue))

	p.processing = true
	p.wg.Add(1)
	go p.run(batch)
}

func (p *Processor[T, R]) run(batch []pending[T, R]) {
	defer p.wg.Done()

	items := make([]T, len(batch))
	for i := range batch {
		items[i] = batch[i].item
	}

	start := time.Now()
	results, err := p.call(items)
	took := time.Since(start)
	p.opt.Metrics.Batch(len(batch), took, err)

	if err != nil {
		p.log.Warn("batch failed", logger.Count(len(batch)), logger.Duration(took), logger.Error(err))
		for _, it := range batch {
			it.fut.reject(err)
		}
	} else {
		for i, it := range batch {
			if i < len(results) {
				it.fut.resolve(results[i])
			} else {
				it.fut.reject(ErrNoResult)
			}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.processing = false
	if !p.closed {
		p.startLocked()
	}
}

// call invokes the ProcessFunc, turning a panic into an error scoped to
// this batch.
func (p *Processor[T, R]) call(items []T) (results []R, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("process function panicked", logger.Panic(r))
			err = fmt.Errorf("batch: process function panicked: %v", r)
		}
	}()
	return p.fn(p.opt.Context, items)
}
