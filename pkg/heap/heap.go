package heap

import (
	"fmt"

	"github.com/kristofer/littletalk/pkg/oop"
)

// FatalError marks a heap condition spec.md §4.1/§7 classifies as
// unrecoverable: the embedder may print diagnostics and terminate, but
// there is no retry path (no space growth, no compaction beyond one GC).
type FatalError struct{ Message string }

func (e *FatalError) Error() string { return e.Message }

func fatalf(format string, args ...interface{}) error {
	return &FatalError{Message: fmt.Sprintf(format, args...)}
}

// Stats accumulates the collector statistics spec.md §4.1 requires:
// collection count, cumulative and max pause duration, and bytes copied.
type Stats struct {
	Collections   int
	TotalPauseNs  int64
	MaxPauseNs    int64
	BytesCopied   int64
	LastLiveCount int
}

// Heap is the two-space object memory. One of the two equal-sized object
// tables is active at any time; allocation fills it until exhausted, at
// which point Collect runs and the roles swap (spec.md §4.1).
type Heap struct {
	capacity int
	spaces   [2][]*Object
	active   int // 0 or 1: index into spaces of the currently active half
	used     int // slots filled in the active half

	dynamicRoots []*oop.Ref
	rootCapacity int
	staticRoots  []*oop.Ref

	collectHooks []func()
	stats        Stats
}

// New creates a heap with room for capacity objects per half-space and a
// dynamic root stack bounded at rootCapacity entries (spec.md §4.2: "a
// bounded stack ... overflow is fatal").
func New(capacity, rootCapacity int) *Heap {
	h := &Heap{capacity: capacity, rootCapacity: rootCapacity}
	h.spaces[0] = make([]*Object, capacity)
	h.spaces[1] = make([]*Object, capacity)
	return h
}

// Capacity returns the number of object slots in one half-space.
func (h *Heap) Capacity() int { return h.capacity }

// Used returns the number of slots filled in the active half-space.
func (h *Heap) Used() int { return h.used }

// Restore rebuilds a heap directly from a compacted object table, as the
// image loader does (pkg/image): objs[i] occupies slot i of a fresh active
// space, in slot order, with no forwarding state. capacity is grown to fit
// len(objs) plus any requested extra headroom for subsequent allocation.
func Restore(objs []*Object, capacity, rootCapacity int) *Heap {
	if capacity < len(objs) {
		capacity = len(objs)
	}
	h := &Heap{capacity: capacity, rootCapacity: rootCapacity, used: len(objs)}
	h.spaces[0] = make([]*Object, capacity)
	h.spaces[1] = make([]*Object, capacity)
	copy(h.spaces[0], objs)
	return h
}

// Stats returns a snapshot of the collector's running statistics.
func (h *Heap) Stats() Stats { return h.stats }

// At resolves a heap Ref to its Object. Small-integer refs panic; callers
// must branch on ref.IsSmallInt() first, exactly as spec.md's CLASS(x)
// macro does in the original source.
func (h *Heap) At(ref oop.Ref) *Object {
	if ref.IsSmallInt() {
		panic("heap: At called with a small-integer ref")
	}
	return h.spaces[h.active][ref.Index()]
}

// Alloc reserves a new pointer object of the given class with numFields
// fields, all initialized to nilRef. If the active half-space is
// exhausted, a full collection runs first (spec.md §4.1); if the
// collection does not free enough room, Alloc returns a *FatalError.
func (h *Heap) Alloc(class oop.Ref, numFields int, nilRef oop.Ref) (oop.Ref, error) {
	if h.used >= h.capacity {
		// class and nilRef are host-local values, not registered root
		// slots, so a Collect here would otherwise leave them addressing
		// whatever now occupies their old index post-swap (spec.md §5).
		if err := h.PushRoot(&class); err != nil {
			return 0, err
		}
		if err := h.PushRoot(&nilRef); err != nil {
			h.PopRoot()
			return 0, err
		}
		h.Collect()
		h.PopRoot()
		h.PopRoot()
		if h.used >= h.capacity {
			return 0, fatalf("heap: out of memory allocating %d fields after collection", numFields)
		}
	}
	fields := make([]oop.Ref, numFields)
	for i := range fields {
		fields[i] = nilRef
	}
	obj := &Object{Header: oop.MakeHeader(numFields, false), Class: class, Fields: fields}
	return h.place(obj)
}

// AllocBytes reserves a new byte object of the given class carrying data
// (copied, not aliased).
func (h *Heap) AllocBytes(class oop.Ref, data []byte) (oop.Ref, error) {
	if h.used >= h.capacity {
		// class is a host-local value here too; see the matching comment
		// in Alloc.
		if err := h.PushRoot(&class); err != nil {
			return 0, err
		}
		h.Collect()
		h.PopRoot()
		if h.used >= h.capacity {
			return 0, fatalf("heap: out of memory allocating %d bytes after collection", len(data))
		}
	}
	obj := &Object{Header: oop.MakeHeader(len(data), true), Class: class, Bytes: append([]byte(nil), data...)}
	return h.place(obj)
}

func (h *Heap) place(obj *Object) (oop.Ref, error) {
	idx := h.used
	h.spaces[h.active][idx] = obj
	h.used++
	return oop.RefForIndex(idx), nil
}

// PushRoot registers the address of a Go-local Ref variable as a dynamic
// root: the collector will rewrite *slot in place whenever it moves the
// object *slot currently addresses. Callers must PopRoot in the reverse
// order once the value no longer needs protecting (spec.md §4.2/§5).
func (h *Heap) PushRoot(slot *oop.Ref) error {
	if len(h.dynamicRoots) >= h.rootCapacity {
		return fatalf("heap: dynamic root stack overflow (capacity %d)", h.rootCapacity)
	}
	h.dynamicRoots = append(h.dynamicRoots, slot)
	return nil
}

// PopRoot removes the most recently pushed dynamic root.
func (h *Heap) PopRoot() {
	h.dynamicRoots = h.dynamicRoots[:len(h.dynamicRoots)-1]
}

// RootDepth reports the number of dynamic roots currently pushed, for
// tests that assert push/pop discipline is balanced.
func (h *Heap) RootDepth() int { return len(h.dynamicRoots) }

// RegisterStaticRoot adds slot to the static root table (spec.md §4.2):
// pointer-to-pointer globals that live outside the managed heap (the
// well-known class variables, the initial method, ...) but still hold
// live references into it. Registering the same slot pointer twice is
// silently ignored, per spec.md.
func (h *Heap) RegisterStaticRoot(slot *oop.Ref) {
	for _, s := range h.staticRoots {
		if s == slot {
			return
		}
	}
	h.staticRoots = append(h.staticRoots, slot)
}
