package queue_test

import (
	"context"
	"testing"
	"time"

	"pkt.systems/mqsession/internal/queue"
)

func TestQueueFIFOAcrossGrowth(t *testing.T) {
	t.Parallel()

	q := queue.New[int](64)
	for i := 0; i < 20; i++ {
		if !q.Enqueue(i) {
			t.Fatalf("enqueue %d rejected", i)
		}
	}
	for i := 0; i < 20; i++ {
		v, ok := q.Dequeue()
		if !ok || v != i {
			t.Fatalf("dequeue = (%d, %v), want (%d, true)", v, ok, i)
		}
	}
	if _, ok := q.Dequeue(); ok {
		t.Fatal("dequeue on empty queue succeeded")
	}
}

func TestQueueBounded(t *testing.T) {
	t.Parallel()

	q := queue.New[int](2)
	if !q.Enqueue(1) || !q.Enqueue(2) {
		t.Fatal("enqueue within capacity rejected")
	}
	if q.Enqueue(3) {
		t.Fatal("enqueue beyond capacity accepted")
	}
	if got := q.Len(); got != 2 {
		t.Fatalf("len = %d, want 2", got)
	}
}

func TestQueueInterleavedWrap(t *testing.T) {
	t.Parallel()

	q := queue.New[int](8)
	next := 0
	expect := 0
	for round := 0; round < 5; round++ {
		for i := 0; i < 3; i++ {
			q.Enqueue(next)
			next++
		}
		for i := 0; i < 2; i++ {
			v, ok := q.Dequeue()
			if !ok || v != expect {
				t.Fatalf("dequeue = (%d, %v), want (%d, true)", v, ok, expect)
			}
			expect++
		}
	}
}

func TestQueueNextBlocksUntilEnqueue(t *testing.T) {
	t.Parallel()

	q := queue.New[string](4)
	got := make(chan string, 1)
	go func() {
		for v := range q.Next(context.Background()) {
			got <- v
			return
		}
	}()

	time.Sleep(10 * time.Millisecond)
	q.Enqueue("hello")

	select {
	case v := <-got:
		if v != "hello" {
			t.Fatalf("next yielded %q", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not observe enqueue")
	}
}

func TestQueueNextStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	q := queue.New[int](4)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range q.Next(ctx) {
		}
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Next did not stop on cancel")
	}
}

func TestQueueDrainPreservesOrder(t *testing.T) {
	t.Parallel()

	q := queue.New[int](8)
	for i := 0; i < 5; i++ {
		q.Enqueue(i)
	}
	out := q.Drain()
	if len(out) != 5 {
		t.Fatalf("drained %d items, want 5", len(out))
	}
	for i, v := range out {
		if v != i {
			t.Fatalf("drain[%d] = %d", i, v)
		}
	}
	if got := q.Len(); got != 0 {
		t.Fatalf("len after drain = %d", got)
	}
}

func TestHandlerListAppendRemove(t *testing.T) {
	t.Parallel()

	l := queue.NewHandlerList[int]()
	removeA := l.Append(1)
	l.Append(2)
	removeC := l.Append(3)

	removeA()
	removeC()
	removeC() // idempotent

	var got []int
	for v := range l.All() {
		got = append(got, v)
	}
	if len(got) != 1 || got[0] != 2 {
		t.Fatalf("remaining entries = %v, want [2]", got)
	}
}

func TestHandlerListOrder(t *testing.T) {
	t.Parallel()

	l := queue.NewHandlerList[string]()
	for _, v := range []string{"a", "b", "c"} {
		l.Append(v)
	}
	var got []string
	for v := range l.All() {
		got = append(got, v)
	}
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("iteration order = %v", got)
	}
}

func TestSetAddRemoveContains(t *testing.T) {
	t.Parallel()

	s := queue.NewSet[uint16]()
	if !s.Add(7) {
		t.Fatal("first add reported duplicate")
	}
	if s.Add(7) {
		t.Fatal("duplicate add reported new")
	}
	if !s.Contains(7) {
		t.Fatal("contains after add is false")
	}
	s.Remove(7)
	if s.Contains(7) {
		t.Fatal("contains after remove is true")
	}
	s.Add(1)
	s.Add(2)
	s.Clear()
	if got := s.Len(); got != 0 {
		t.Fatalf("len after clear = %d", got)
	}
}
