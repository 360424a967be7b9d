package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestInsertGetRemove(t *testing.T) {
	ctx := context.Background()
	p := New[int, string]()

	prev, err := p.Insert(ctx, 1, "a")
	if err != nil || prev != nil {
		t.Fatalf("first insert: prev=%v err=%v", prev, err)
	}
	prev, _ = p.Insert(ctx, 1, "b")
	if prev == nil {
		t.Fatal("expected previous occupant on second insert")
	}
	if v, _ := prev.Load(ctx); v != "a" {
		t.Errorf("previous occupant = %q, want a", v)
	}

	h, _ := p.Get(ctx, 1)
	if v, _ := h.Load(ctx); v != "b" {
		t.Errorf("Get = %q, want b", v)
	}
	if h, _ := p.Get(ctx, 2); h != nil {
		t.Error("expected nil handle for missing key")
	}

	removed, _ := p.Remove(ctx, 1)
	if removed != h {
		t.Error("Remove should return the stored handle")
	}
	if n, _ := p.Len(ctx); n != 0 {
		t.Errorf("Len = %d after remove, want 0", n)
	}
	if removed, _ := p.Remove(ctx, 1); removed != nil {
		t.Error("second remove should return nil")
	}
}

func TestRemovedHandleStaysUsable(t *testing.T) {
	ctx := context.Background()
	p := New[int, int]()
	p.Insert(ctx, 7, 1)
	h, _ := p.Get(ctx, 7)

	p.Remove(ctx, 7)
	if err := h.Write(ctx, func(v *int) { *v += 41 }); err != nil {
		t.Fatalf("write through detached handle: %v", err)
	}
	if v, _ := h.Load(ctx); v != 42 {
		t.Errorf("detached handle value = %d, want 42", v)
	}
	if got, _ := p.Get(ctx, 7); got != nil {
		t.Error("removed key should not be reachable")
	}
}

func TestKeysAndEntriesOrdered(t *testing.T) {
	ctx := context.Background()
	p := New[int, int]()
	for _, k := range []int{5, 1, 4, 2, 3} {
		p.Insert(ctx, k, k*10)
	}
	keys, _ := p.Keys(ctx)
	for i, k := range keys {
		if k != i+1 {
			t.Fatalf("keys not sorted: %v", keys)
		}
	}
	entries, err := p.Entries(ctx)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	for i, e := range entries {
		if e.Key != i+1 || e.Value != e.Key*10 {
			t.Errorf("entry %d = %+v", i, e)
		}
	}

	rebuilt := FromEntries(entries)
	if n, _ := rebuilt.Len(ctx); n != len(entries) {
		t.Errorf("FromEntries len = %d, want %d", n, len(entries))
	}
}

func TestIndependentValuesDoNotBlock(t *testing.T) {
	ctx := context.Background()
	p := New[int, int]()
	p.Insert(ctx, 1, 0)
	p.Insert(ctx, 2, 0)
	a, _ := p.Get(ctx, 1)
	b, _ := p.Get(ctx, 2)

	release := make(chan struct{})
	held := make(chan struct{})
	go a.Write(ctx, func(v *int) {
		close(held)
		<-release
	})
	<-held

	tctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := b.Write(tctx, func(v *int) { *v = 1 }); err != nil {
		t.Errorf("writing an independent value blocked: %v", err)
	}
	// Map operations are also unaffected by a held value lock.
	if _, err := p.Insert(tctx, 3, 3); err != nil {
		t.Errorf("insert blocked by value lock: %v", err)
	}
	close(release)
}

func TestWriteWaitIsCancellable(t *testing.T) {
	ctx := context.Background()
	h := NewHandle(0)

	release := make(chan struct{})
	held := make(chan struct{})
	go h.Read(ctx, func(v *int) {
		close(held)
		<-release
	})
	<-held

	tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	called := false
	err := h.Write(tctx, func(v *int) { called = true; *v = 99 })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if called {
		t.Error("write callback ran without the lock")
	}
	close(release)

	if v, _ := h.Load(ctx); v != 0 {
		t.Errorf("cancelled write left value %d", v)
	}
}

func TestConcurrentWritersSerialise(t *testing.T) {
	ctx := context.Background()
	p := New[string, int]()
	p.Insert(ctx, "counter", 0)
	h, _ := p.Get(ctx, "counter")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h.Write(ctx, func(v *int) { *v++ })
			}
		}()
	}
	wg.Wait()
	if v, _ := h.Load(ctx); v != 5000 {
		t.Errorf("counter = %d, want 5000", v)
	}
}

func TestRangeBlocksStructuralChanges(t *testing.T) {
	ctx := context.Background()
	p := New[int, int]()
	p.Insert(ctx, 1, 1)

	inside := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		p.Range(ctx, func(k int, h *Handle[int]) bool {
			close(inside)
			<-release
			return true
		})
		close(done)
	}()
	<-inside

	tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := p.Insert(tctx, 2, 2); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("insert during range: expected deadline exceeded, got %v", err)
	}
	close(release)
	<-done

	if _, err := p.Insert(ctx, 2, 2); err != nil {
		t.Errorf("insert after range: %v", err)
	}
}
