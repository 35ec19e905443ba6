package heap

import (
	"testing"

	"github.com/kristofer/littletalk/pkg/oop"
)

func newTestHeap(t *testing.T, capacity int) (*Heap, oop.Ref) {
	t.Helper()
	h := New(capacity, 64)
	nilRef, err := h.Alloc(oop.NewSmallInt(0), 0, oop.NewSmallInt(0))
	if err != nil {
		t.Fatalf("alloc nil object: %v", err)
	}
	return h, nilRef
}

func TestAllocFitsExactly(t *testing.T) {
	h, nilRef := newTestHeap(t, 4)
	// One slot already used for the nil object; three remain.
	for i := 0; i < 3; i++ {
		if _, err := h.Alloc(nilRef, 2, nilRef); err != nil {
			t.Fatalf("alloc %d: unexpected error %v", i, err)
		}
	}
	if h.stats.Collections != 0 {
		t.Fatalf("allocating exactly to capacity must not trigger GC, got %d collections", h.stats.Collections)
	}
}

func TestAllocBeyondCapacityTriggersGC(t *testing.T) {
	h, nilRef := newTestHeap(t, 2)
	var root oop.Ref = nilRef
	if err := h.PushRoot(&root); err != nil {
		t.Fatal(err)
	}
	defer h.PopRoot()

	if _, err := h.Alloc(nilRef, 0, nilRef); err != nil {
		t.Fatalf("fill capacity: %v", err)
	}
	if _, err := h.Alloc(nilRef, 0, nilRef); err != nil {
		t.Fatalf("allocation beyond capacity should succeed after GC frees garbage: %v", err)
	}
	if h.stats.Collections == 0 {
		t.Fatal("expected a collection to have run")
	}
}

func TestAllocFatalWhenStillFull(t *testing.T) {
	h, nilRef := newTestHeap(t, 2)
	roots := make([]oop.Ref, 0, 2)
	for i := 0; i < 2; i++ {
		r, err := h.Alloc(nilRef, 0, nilRef)
		if err != nil {
			t.Fatal(err)
		}
		roots = append(roots, r)
	}
	for i := range roots {
		if err := h.PushRoot(&roots[i]); err != nil {
			t.Fatal(err)
		}
	}
	_, err := h.Alloc(nilRef, 0, nilRef)
	if err == nil {
		t.Fatal("expected fatal allocation failure when all objects remain live")
	}
	if _, ok := err.(*FatalError); !ok {
		t.Fatalf("expected *FatalError, got %T", err)
	}
}

func TestCollectPreservesSharedIdentity(t *testing.T) {
	h, nilRef := newTestHeap(t, 16)
	shared, err := h.Alloc(nilRef, 0, nilRef)
	if err != nil {
		t.Fatal(err)
	}

	container, err := h.Alloc(nilRef, 2, nilRef)
	if err != nil {
		t.Fatal(err)
	}
	h.At(container).Fields[0] = shared
	h.At(container).Fields[1] = shared

	if err := h.PushRoot(&container); err != nil {
		t.Fatal(err)
	}
	defer h.PopRoot()

	h.Collect()

	obj := h.At(container)
	if obj.Fields[0] != obj.Fields[1] {
		t.Fatalf("sharing not preserved across GC: %v != %v", obj.Fields[0], obj.Fields[1])
	}
}

func TestCollectFlushesCacheHook(t *testing.T) {
	h, _ := newTestHeap(t, 4)
	called := false
	h.OnCollect(func() { called = true })
	h.Collect()
	if !called {
		t.Fatal("expected collect hook to run")
	}
}

func TestRootStackOverflowIsFatal(t *testing.T) {
	h := New(8, 1)
	var a, b oop.Ref
	if err := h.PushRoot(&a); err != nil {
		t.Fatal(err)
	}
	if err := h.PushRoot(&b); err == nil {
		t.Fatal("expected root stack overflow to be reported")
	}
}

func TestIdempotentCollections(t *testing.T) {
	h, nilRef := newTestHeap(t, 16)
	live, err := h.Alloc(nilRef, 1, nilRef)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.PushRoot(&live); err != nil {
		t.Fatal(err)
	}
	defer h.PopRoot()

	h.Collect()
	first := h.Stats().LastLiveCount
	h.Collect()
	second := h.Stats().LastLiveCount
	if first != second {
		t.Fatalf("two consecutive GCs should report the same live count, got %d then %d", first, second)
	}
}
