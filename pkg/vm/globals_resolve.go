package vm

import (
	"github.com/kristofer/littletalk/pkg/heap"
	"github.com/kristofer/littletalk/pkg/image"
	"github.com/kristofer/littletalk/pkg/oop"
)

// ResolveGlobals reconstructs a full Globals from a heap just restored by
// pkg/image.Load and the Roots it returned. The image header only reserves
// offsets for the globals dictionary, initialMethod, the three cached
// binary-selector symbols and the doesNotUnderstand: symbol (spec.md
// §4.3); nil, true, false and the eight built-in classes (SmallInt through
// Symbol) are ordinary entries of that dictionary instead, put
// there by the bootstrap compiler (spec.md §6) and recovered here by name
// via LookupGlobal, exactly as the original source's lookupGlobal does at
// image-load time. Every resolved slot is registered as a static GC root
// before returning, since a collection run immediately afterwards would
// otherwise have no way to keep them current.
func ResolveGlobals(h *heap.Heap, roots image.Roots) (Globals, error) {
	g := Globals{
		Dictionary:     roots.Globals,
		InitialMethod:  roots.InitialMethod,
		LessThanSym:    roots.LessThan,
		LessOrEqualSym: roots.LessOrEqual,
		PlusSym:        roots.Plus,
		BadMethodSym:   roots.BadMethodSym,
	}

	named := []struct {
		dst  *oop.Ref
		name string
	}{
		{&g.Nil, "nil"}, {&g.True, "true"}, {&g.False, "false"},
		{&g.SmallIntClass, "SmallInt"}, {&g.IntegerClass, "Integer"}, {&g.ArrayClass, "Array"},
		{&g.BlockClass, "Block"}, {&g.ContextClass, "Context"},
		{&g.StringClass, "String"}, {&g.ByteArrayClass, "ByteArray"}, {&g.SymbolClass, "Symbol"},
	}
	for _, n := range named {
		ref, ok := LookupGlobal(h, roots.Globals, n.name)
		if !ok {
			return Globals{}, fatalf("image: missing well-known global %q", n.name)
		}
		*n.dst = ref
	}

	// The image format (pkg/image) has no slot for the symbol table root:
	// it is rebuilt empty on every load, exactly as bootstrap.New starts
	// it empty, and repopulates as asSymbol: interns text during this
	// session (pkg/vm.InternSymbol). Leaving it at its Go zero value would
	// alias whatever object the loader happened to place at index 0.
	g.SymbolTable = g.Nil

	for _, slot := range []*oop.Ref{
		&g.Nil, &g.True, &g.False,
		&g.SmallIntClass, &g.IntegerClass, &g.ArrayClass,
		&g.BlockClass, &g.ContextClass,
		&g.StringClass, &g.ByteArrayClass, &g.SymbolClass,
		&g.Dictionary, &g.InitialMethod,
		&g.LessThanSym, &g.LessOrEqualSym, &g.PlusSym, &g.BadMethodSym,
		&g.SymbolTable,
	} {
		h.RegisterStaticRoot(slot)
	}
	return g, nil
}

// ObjectClass looks up the root "Object" class by name, for embedders that
// need to allocate a plain receiver (e.g. the CLI's run command building a
// top-level process around an entry method that expects one).
func ObjectClass(h *heap.Heap, g Globals) (oop.Ref, error) {
	ref, ok := LookupGlobal(h, g.Dictionary, "Object")
	if !ok {
		return 0, fatalf("image: missing well-known global %q", "Object")
	}
	return ref, nil
}
