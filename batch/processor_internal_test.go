package batch

import (
	"context"
	"testing"
	"time"
)

// Dispatched items must not stay reachable through the queue's backing array.
func TestProcessor_DispatchReleasesQueueSlots(t *testing.T) {
	p := New(func(_ context.Context, items []int) ([]int, error) {
		return items, nil
	}, Options{BatchSize: 2, Delay: time.Hour})
	t.Cleanup(func() { _ = p.Close() })

	// Hold dispatch so three items share one backing array.
	p.mu.Lock()
	p.processing = true
	p.queue = make([]pending[int, int], 0, 8)
	p.mu.Unlock()

	f1 := p.Add(1)
	p.Add(2)
	f3 := p.Add(3)

	p.mu.Lock()
	backing := p.queue[:cap(p.queue)]
	p.processing = false
	p.stopTimerLocked()
	p.startLocked()
	for i := 0; i < 2; i++ {
		if backing[i].fut != nil {
			p.mu.Unlock()
			t.Fatalf("slot %d still references a dispatched future", i)
		}
	}
	if len(p.queue) != 1 || p.queue[0].fut != f3 {
		p.mu.Unlock()
		t.Fatal("the undispatched item must stay queued")
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if v, err := f1.Await(ctx); err != nil || v != 1 {
		t.Fatalf("dispatched item: v=%d err=%v", v, err)
	}
	if v, err := f3.Await(ctx); err != nil || v != 3 {
		t.Fatalf("remaining item: v=%d err=%v", v, err)
	}
}
