package vm

import (
	"bytes"

	"github.com/kristofer/littletalk/pkg/heap"
	"github.com/kristofer/littletalk/pkg/oop"
)

func compareSymbols(h *heap.Heap, a, b oop.Ref) int {
	return bytes.Compare(h.At(a).Bytes, h.At(b).Bytes)
}

// lookupInClass binary-searches one class's methods dictionary, which
// spec.md §3 requires kept sorted ascending by the symbol comparator.
func lookupInClass(h *heap.Heap, class, selector oop.Ref) (oop.Ref, bool) {
	dict := h.At(class).Fields[oop.ClassMethods]
	keys := h.At(dict).Fields[oop.DictionaryKeys]
	values := h.At(dict).Fields[oop.DictionaryValues]
	keyFields := h.At(keys).Fields

	lo, hi := 0, len(keyFields)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		switch c := compareSymbols(h, keyFields[mid], selector); {
		case c == 0:
			return h.At(values).Fields[mid], true
		case c < 0:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return 0, false
}

// LookupGlobal binary-searches a sorted globals dictionary by name,
// matching spec.md §6's bootstrap contract (every class name, plus "nil",
// "true", "false", and "Smalltalk", map to their values). An embedder
// reconstructing the well-known roots after an image load uses this: the
// image header only carries offsets for the globals dictionary itself,
// initialMethod, the three cached symbols and doesNotUnderstand:
// (spec.md §4.3) — everything
// else is an ordinary dictionary entry, recovered the same way the
// original bootstrap's lookupGlobal does.
func LookupGlobal(h *heap.Heap, dict oop.Ref, name string) (oop.Ref, bool) {
	keys := h.At(dict).Fields[oop.DictionaryKeys]
	values := h.At(dict).Fields[oop.DictionaryValues]
	keyFields := h.At(keys).Fields

	lo, hi := 0, len(keyFields)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		switch c := bytes.Compare(h.At(keyFields[mid]).Bytes, []byte(name)); {
		case c == 0:
			return h.At(values).Fields[mid], true
		case c < 0:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return 0, false
}

// lookup walks the class chain starting at class, per spec.md §4.5.
func (v *VM) lookup(class, selector oop.Ref) (oop.Ref, bool) {
	for class != v.Globals.Nil {
		if m, ok := lookupInClass(v.Heap, class, selector); ok {
			return m, true
		}
		class = v.Heap.At(class).Fields[oop.ClassParent]
	}
	return 0, false
}

// resolve returns the method to run for (class, selector), consulting and
// maintaining the inline cache (spec.md §4.5).
func (v *VM) resolve(class, selector oop.Ref) (oop.Ref, bool) {
	if m, ok := v.Cache.lookup(class, selector); ok {
		v.CacheHits++
		return m, true
	}
	v.CacheMisses++
	m, ok := v.lookup(class, selector)
	if ok {
		v.Cache.insert(class, selector, m)
	}
	return m, ok
}

// InstallMethod writes selector → method into class's methods dictionary,
// keeping keys sorted, and flushes the inline cache: spec.md §4.5/§9
// require any structural change to a methods dictionary to invalidate
// cached lookups immediately, not just at the next GC.
func (v *VM) InstallMethod(class, selector, method oop.Ref) error {
	h := v.Heap
	dict := h.At(class).Fields[oop.ClassMethods]
	keys := h.At(dict).Fields[oop.DictionaryKeys]
	values := h.At(dict).Fields[oop.DictionaryValues]
	keyFields := h.At(keys).Fields
	valueFields := h.At(values).Fields

	insertAt := len(keyFields)
	for i, k := range keyFields {
		c := compareSymbols(h, k, selector)
		if c == 0 {
			valueFields[i] = method
			v.Cache.flush()
			return nil
		}
		if c > 0 {
			insertAt = i
			break
		}
	}

	newKeys := append(append([]oop.Ref{}, keyFields[:insertAt]...), append([]oop.Ref{selector}, keyFields[insertAt:]...)...)
	newValues := append(append([]oop.Ref{}, valueFields[:insertAt]...), append([]oop.Ref{method}, valueFields[insertAt:]...)...)
	keysObj := h.At(keys)
	valuesObj := h.At(values)
	keysObj.Fields = newKeys
	keysObj.Header = oop.MakeHeader(len(newKeys), false)
	valuesObj.Fields = newValues
	valuesObj.Header = oop.MakeHeader(len(newValues), false)
	v.Cache.flush()
	return nil
}
