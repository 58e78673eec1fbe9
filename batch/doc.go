// Package batch coalesces many small asynchronous requests into grouped
// calls.
//
// A Processor queues items and hands them, in arrival order, to a
// ProcessFunc in slices of at most BatchSize. Two triggers start a batch:
//
//   - size: the Add that brings the queue to BatchSize starts processing
//     at once and cancels the pending delay timer;
//   - delay: otherwise every Add re-arms a timer, and a quiet period of
//     Delay flushes whatever is queued.
//
// Only one batch is in flight at a time. When it finishes, the next batch
// starts immediately if items are waiting. A ProcessFunc error fails only
// the items of that batch; queued items are processed normally afterwards.
//
//	p := batch.New(func(ctx context.Context, keys []string) ([]string, error) {
//	    return store.GetMany(ctx, keys)
//	}, batch.Options{BatchSize: 3, Delay: 50 * time.Millisecond})
//	defer p.Close()
//
//	v, err := p.Do(ctx, "a")
//
// Close fails every still-queued item with ErrDisposed; an Add after Close
// fails with ErrClosed.
package batch
