package batch_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/cachekit/batch"
)

// recorder is a ProcessFunc that upper-cases items and remembers batches.
type recorder struct {
	mu      sync.Mutex
	batches [][]string
}

func (r *recorder) process(_ context.Context, items []string) ([]string, error) {
	r.mu.Lock()
	r.batches = append(r.batches, append([]string(nil), items...))
	r.mu.Unlock()

	out := make([]string, len(items))
	for i, it := range items {
		out[i] = strings.ToUpper(it)
	}
	return out, nil
}

func (r *recorder) snapshot() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.batches...)
}

func await[R any](t *testing.T, f *batch.Future[R]) (R, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return f.Await(ctx)
}

// batchSize=3, delay=50ms: three adds flush at once, a lone add waits for the delay.
func TestProcessor_SizeAndDelayTriggers(t *testing.T) {
	rec := &recorder{}
	p := batch.New(rec.process, batch.Options{BatchSize: 3, Delay: 50 * time.Millisecond})
	t.Cleanup(func() { _ = p.Close() })

	start := time.Now()
	fa, fb, fc := p.Add("a"), p.Add("b"), p.Add("c")
	for want, f := range map[string]*batch.Future[string]{"A": fa, "B": fb, "C": fc} {
		v, err := await(t, f)
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}
	assert.Less(t, time.Since(start), 40*time.Millisecond, "full batch must not wait for the delay")

	start = time.Now()
	v, err := await(t, p.Add("d"))
	require.NoError(t, err)
	assert.Equal(t, "D", v)
	assert.GreaterOrEqual(t, time.Since(start), 45*time.Millisecond, "partial batch must wait for the delay")

	assert.Equal(t, [][]string{{"a", "b", "c"}, {"d"}}, rec.snapshot())
}

// Every Add re-arms the delay timer.
func TestProcessor_DelayIsDebounced(t *testing.T) {
	rec := &recorder{}
	p := batch.New(rec.process, batch.Options{BatchSize: 100, Delay: 40 * time.Millisecond})
	t.Cleanup(func() { _ = p.Close() })

	f1 := p.Add("a")
	time.Sleep(25 * time.Millisecond)
	f2 := p.Add("b")
	time.Sleep(25 * time.Millisecond)

	select {
	case <-f1.Done():
		t.Fatal("first item must still wait: the second Add re-armed the timer")
	default:
	}

	_, err := await(t, f2)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}}, rec.snapshot())
}

func TestProcessor_FailureIsScopedToBatch(t *testing.T) {
	boom := errors.New("backend down")
	release := make(chan struct{})
	var calls int

	p := batch.New(func(_ context.Context, items []int) ([]int, error) {
		calls++
		if calls == 1 {
			<-release
			return nil, boom
		}
		out := make([]int, len(items))
		for i, it := range items {
			out[i] = it * 10
		}
		return out, nil
	}, batch.Options{BatchSize: 2, Delay: 10 * time.Millisecond})
	t.Cleanup(func() { _ = p.Close() })

	f1, f2 := p.Add(1), p.Add(2) // first batch, blocked
	f3 := p.Add(3)               // queued behind it
	close(release)

	_, err1 := await(t, f1)
	_, err2 := await(t, f2)
	assert.ErrorIs(t, err1, boom)
	assert.ErrorIs(t, err2, boom)

	v3, err3 := await(t, f3)
	require.NoError(t, err3)
	assert.Equal(t, 30, v3)

	v4, err4 := await(t, p.Add(4))
	require.NoError(t, err4)
	assert.Equal(t, 40, v4)
}

func TestProcessor_PanicIsScopedToBatch(t *testing.T) {
	p := batch.New(func(_ context.Context, items []string) ([]string, error) {
		if items[0] == "bad" {
			panic("kaboom")
		}
		return items, nil
	}, batch.Options{BatchSize: 1, Delay: time.Millisecond})
	t.Cleanup(func() { _ = p.Close() })

	_, err := await(t, p.Add("bad"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")

	v, err := await(t, p.Add("good"))
	require.NoError(t, err)
	assert.Equal(t, "good", v)
}

func TestProcessor_MissingResult(t *testing.T) {
	p := batch.New(func(_ context.Context, items []string) ([]string, error) {
		return []string{"only-first"}, nil
	}, batch.Options{BatchSize: 2, Delay: time.Second})
	t.Cleanup(func() { _ = p.Close() })

	f1, f2 := p.Add("a"), p.Add("b")
	v, err := await(t, f1)
	require.NoError(t, err)
	assert.Equal(t, "only-first", v)

	_, err = await(t, f2)
	assert.ErrorIs(t, err, batch.ErrNoResult)
}

// Items keep FIFO order within and across batches, with one batch in flight.
func TestProcessor_FIFOAcrossBatches(t *testing.T) {
	rec := &recorder{}
	p := batch.New(rec.process, batch.Options{BatchSize: 2, Delay: 5 * time.Millisecond})
	t.Cleanup(func() { _ = p.Close() })

	items := []string{"a", "b", "c", "d", "e"}
	futures := make([]*batch.Future[string], len(items))
	for i, it := range items {
		futures[i] = p.Add(it)
	}
	for _, f := range futures {
		_, err := await(t, f)
		require.NoError(t, err)
	}

	var flat []string
	for _, b := range rec.snapshot() {
		assert.LessOrEqual(t, len(b), 2)
		flat = append(flat, b...)
	}
	assert.Equal(t, items, flat)
}

func TestProcessor_Flush(t *testing.T) {
	rec := &recorder{}
	p := batch.New(rec.process, batch.Options{BatchSize: 10, Delay: time.Hour})
	t.Cleanup(func() { _ = p.Close() })

	p.Flush() // empty queue: no-op
	f := p.Add("a")
	p.Flush()

	v, err := await(t, f)
	require.NoError(t, err)
	assert.Equal(t, "A", v)
	assert.Zero(t, p.Len())
}

func TestProcessor_CloseRejectsQueuedAndLaterAdds(t *testing.T) {
	rec := &recorder{}
	p := batch.New(rec.process, batch.Options{BatchSize: 10, Delay: time.Hour})

	queued := []*batch.Future[string]{p.Add("a"), p.Add("b")}
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	for _, f := range queued {
		_, err := await(t, f)
		assert.ErrorIs(t, err, batch.ErrDisposed)
		assert.EqualError(t, err, "batch: processor disposed")
	}

	_, err := await(t, p.Add("late"))
	assert.ErrorIs(t, err, batch.ErrClosed)
	assert.EqualError(t, err, "batch: processor is disposed")
	assert.Empty(t, rec.snapshot())
}

// A batch in flight when Close runs still settles with its results.
func TestProcessor_CloseLetsInFlightBatchFinish(t *testing.T) {
	release := make(chan struct{})
	p := batch.New(func(_ context.Context, items []string) ([]string, error) {
		<-release
		return items, nil
	}, batch.Options{BatchSize: 1, Delay: time.Hour})

	inflight := p.Add("a")
	queued := p.Add("b")
	require.Eventually(t, func() bool { return p.Len() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, p.Close())
	close(release)
	p.Wait()

	v, err := await(t, inflight)
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	_, err = await(t, queued)
	assert.ErrorIs(t, err, batch.ErrDisposed)
}

func TestProcessor_DoRespectsContext(t *testing.T) {
	p := batch.New((&recorder{}).process, batch.Options{BatchSize: 10, Delay: time.Hour})
	t.Cleanup(func() { _ = p.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := p.Do(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type countingMetrics struct {
	mu      sync.Mutex
	batches []int
	failed  int
}

func (m *countingMetrics) Batch(size int, _ time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, size)
	if err != nil {
		m.failed++
	}
}

func (m *countingMetrics) Queued(int) {}

func TestProcessor_Metrics(t *testing.T) {
	m := &countingMetrics{}
	rec := &recorder{}
	p := batch.New(rec.process, batch.Options{BatchSize: 2, Delay: 5 * time.Millisecond, Metrics: m})
	t.Cleanup(func() { _ = p.Close() })

	for _, f := range []*batch.Future[string]{p.Add("a"), p.Add("b"), p.Add("c")} {
		_, err := await(t, f)
		require.NoError(t, err)
	}
	p.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, []int{2, 1}, m.batches)
	assert.Zero(t, m.failed)
}
