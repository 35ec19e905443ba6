package heap

import (
	"time"

	"github.com/kristofer/littletalk/pkg/oop"
)

// OnCollect registers a callback invoked after every collection completes,
// before Collect returns. The interpreter uses this to flush its inline
// cache (spec.md §4.5: "flushed ... at the end of every garbage
// collection — stale addresses would otherwise dangle").
func (h *Heap) OnCollect(fn func()) { h.collectHooks = append(h.collectHooks, fn) }

// Collect runs a full Cheney-style copying collection (spec.md §4.1):
// the active and reserve spaces swap roles, every root is moved into the
// new active space, and newly-copied objects are scanned breadth-first
// until no unscanned object remains. Byte objects are copied by raw bytes
// and only their class reference is traced.
func (h *Heap) Collect() {
	start := time.Now()

	from := h.spaces[h.active]
	to := h.spaces[1-h.active]
	for i := range to {
		to[i] = nil
	}

	scanner := &cheneyScan{from: from, to: to, capacity: h.capacity}

	for _, slot := range h.dynamicRoots {
		*slot = scanner.move(*slot)
	}
	for _, slot := range h.staticRoots {
		*slot = scanner.move(*slot)
	}

	for scanner.scan < scanner.free {
		obj := to[scanner.scan]
		obj.Class = scanner.move(obj.Class)
		if !obj.IsBinary() {
			for i, f := range obj.Fields {
				obj.Fields[i] = scanner.move(f)
			}
		}
		scanner.scan++
	}

	// Old objects are no longer needed; clear forwarding state so the
	// from-space slice (which becomes next collection's to-space) starts
	// clean. Go's own GC reclaims the old Object values once dereferenced.
	for i := range from {
		from[i] = nil
	}

	h.active = 1 - h.active
	h.used = scanner.free

	pause := time.Since(start)
	h.stats.Collections++
	h.stats.TotalPauseNs += pause.Nanoseconds()
	if pause.Nanoseconds() > h.stats.MaxPauseNs {
		h.stats.MaxPauseNs = pause.Nanoseconds()
	}
	h.stats.BytesCopied += scanner.wordsCopied * 8
	h.stats.LastLiveCount = scanner.free

	for _, hook := range h.collectHooks {
		hook()
	}
}

// cheneyScan holds the transient state of a single collection: the
// from-space being evacuated, the to-space being filled, and the
// classic two-finger scan/free cursors (scan = next object to trace,
// free = next empty slot to copy into).
type cheneyScan struct {
	from, to    []*Object
	capacity    int
	scan, free  int
	wordsCopied int64
}

// move resolves ref to its new-space address, copying the referent on
// first visit and returning the cached forwarding address on subsequent
// visits — spec.md §4.1's forwarding-pointer protocol. Small integers and
// the implicit "not yet allocated" zero fields pass through unchanged.
func (s *cheneyScan) move(ref oop.Ref) oop.Ref {
	if ref.IsSmallInt() {
		return ref
	}
	idx := ref.Index()
	if idx < 0 || idx >= len(s.from) || s.from[idx] == nil {
		// Reference into a space this scan doesn't own (e.g. a Ref that
		// was never written, left at its zero value). Treat as already
		// resolved rather than panic: matches the original's tolerance
		// of zero fields recovered "for free" during forwarding.
		return ref
	}
	old := s.from[idx]
	if old.forwarded {
		return old.forward
	}
	copy := cloneObject(old)
	s.to[s.free] = copy
	old.forwarded = true
	old.Header = old.Header.WithGCDone()
	old.forward = oop.RefForIndex(s.free)
	s.wordsCopied += int64(copy.wordFootprint())
	s.free++
	return old.forward
}
