package engine

import (
	"context"
	"sync"
	"testing"
)

func TestMemoryLeaseExclusion(t *testing.T) {
	l := NewMemoryLease()
	ctx := context.Background()

	ok, err := l.Acquire(ctx, "ORD-1")
	if err != nil || !ok {
		t.Fatalf("first acquire: %v %v", ok, err)
	}
	if ok, _ := l.Acquire(ctx, "ORD-1"); ok {
		t.Fatalf("held lease acquired twice")
	}
	if ok, _ := l.Acquire(ctx, "ORD-2"); !ok {
		t.Fatalf("unrelated order blocked")
	}

	l.Release(ctx, "ORD-1")
	if ok, _ := l.Acquire(ctx, "ORD-1"); !ok {
		t.Fatalf("released lease not reacquirable")
	}
}

func TestMemoryLeaseConcurrent(t *testing.T) {
	l := NewMemoryLease()
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	var winners int64
	results := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.Acquire(ctx, "ORD-1")
			if err != nil {
				t.Errorf("acquire: %v", err)
			}
			results <- ok
		}()
	}
	wg.Wait()
	close(results)
	for ok := range results {
		if ok {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", winners)
	}
}

func TestMemoryBrokerFanout(t *testing.T) {
	b := NewMemoryBroker()
	a := b.Subscribe()
	c := b.Subscribe()
	defer b.Unsubscribe(a)

	b.Publish(Event{Type: EventOrderCompleted, Data: map[string]any{"orderId": "ORD-1"}})

	for _, ch := range []chan Event{a, c} {
		select {
		case evt := <-ch:
			if evt.Type != EventOrderCompleted {
				t.Fatalf("wrong event: %+v", evt)
			}
		default:
			t.Fatalf("subscriber missed event")
		}
	}

	b.Unsubscribe(c)
	if _, open := <-c; open {
		t.Fatalf("unsubscribed channel left open")
	}
	// Unsubscribing twice must not panic on the closed channel.
	b.Unsubscribe(c)
}
