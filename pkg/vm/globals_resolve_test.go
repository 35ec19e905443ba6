package vm

import (
	"testing"

	"github.com/kristofer/littletalk/pkg/heap"
	"github.com/kristofer/littletalk/pkg/oop"
)

// newEmptyDictionary builds a zero-entry Dictionary object directly on h,
// without going through pkg/bootstrap, so LookupGlobal's miss path can be
// exercised in isolation.
func newEmptyDictionary(t *testing.T, h *heap.Heap, nilRef oop.Ref) oop.Ref {
	t.Helper()
	keys, err := h.Alloc(nilRef, 0, nilRef)
	if err != nil {
		t.Fatalf("Alloc keys: %v", err)
	}
	values, err := h.Alloc(nilRef, 0, nilRef)
	if err != nil {
		t.Fatalf("Alloc values: %v", err)
	}
	dict, err := h.Alloc(nilRef, oop.DictionaryFieldCount, nilRef)
	if err != nil {
		t.Fatalf("Alloc dict: %v", err)
	}
	fields := h.At(dict).Fields
	fields[oop.DictionaryKeys] = keys
	fields[oop.DictionaryValues] = values
	return dict
}

// TestLookupGlobalMiss exercises LookupGlobal's miss path against an
// empty dictionary.
func TestLookupGlobalMiss(t *testing.T) {
	h := heap.New(32, 8)
	nilRef, err := h.Alloc(0, 0, 0)
	if err != nil {
		t.Fatalf("Alloc nil: %v", err)
	}
	dict := newEmptyDictionary(t, h, nilRef)

	if _, ok := LookupGlobal(h, dict, "Object"); ok {
		t.Fatalf("LookupGlobal found %q in an empty dictionary", "Object")
	}
}

// TestObjectClassMissing exercises ObjectClass's error path when the
// dictionary carries no "Object" entry, the condition a malformed image
// would trigger.
func TestObjectClassMissing(t *testing.T) {
	h := heap.New(32, 8)
	nilRef, err := h.Alloc(0, 0, 0)
	if err != nil {
		t.Fatalf("Alloc nil: %v", err)
	}
	dict := newEmptyDictionary(t, h, nilRef)

	if _, err := ObjectClass(h, Globals{Dictionary: dict}); err == nil {
		t.Fatalf("ObjectClass succeeded against a dictionary with no Object entry")
	}
}
