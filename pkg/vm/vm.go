package vm

import (
	"os"

	"github.com/kristofer/littletalk/pkg/heap"
	"github.com/kristofer/littletalk/pkg/oop"
)

// Config carries the few knobs the interpreter exposes to an embedder,
// grounded on the teacher's plain-struct Config in cmd/smog/main.go rather
// than an env/YAML layer spec.md never calls for (SPEC_FULL.md §10.3).
type Config struct {
	// CacheSize is the inline cache's slot count. Must be a power of two
	// (spec.md §4.5, §9's open question). Zero selects DefaultCacheSize.
	CacheSize int
	// RootStackDepth is stored (zero selects 256) but does not resize the
	// heap: the dynamic root stack (spec.md §4.2) is bounded by the depth
	// given to heap.New or image.Load.
	RootStackDepth int
}

// DefaultCacheSize is used when Config.CacheSize is zero.
const DefaultCacheSize = 1024

// Globals bundles the well-known objects the interpreter resolves by name
// from the image's globals dictionary at load time (spec.md §4.3's load
// procedure): nil, true, false, and the eight built-in classes, plus the
// roots carried directly in the image header.
type Globals struct {
	Nil, True, False oop.Ref

	SmallIntClass, IntegerClass, ArrayClass  oop.Ref
	BlockClass, ContextClass                 oop.Ref
	StringClass, ByteArrayClass, SymbolClass oop.Ref

	Dictionary    oop.Ref // the "Smalltalk" globals dictionary itself
	InitialMethod oop.Ref // the entry method invoked at startup (spec.md §4.3/§6)

	LessThanSym, LessOrEqualSym, PlusSym oop.Ref
	BadMethodSym                         oop.Ref

	// SymbolTable is the root of the symbol-interning binary tree (spec.md
	// §3's "the symbol table is a binary tree"), a Node object or Nil if
	// the image carries none. asSymbol (primitive 29) walks and grows it.
	SymbolTable oop.Ref
}

// VM bundles the heap, the well-known globals, the inline cache, and the
// tunable configuration into one value threaded through every interpreter
// function, exactly as spec.md §9 recommends in place of package-level
// mutable globals.
type VM struct {
	Heap    *heap.Heap
	Globals Globals
	Cache   *inlineCache
	Config  Config

	// CacheHits/CacheMisses are exposed for the boundary-behavior tests in
	// spec.md §8 ("observable via cache-hit counter").
	CacheHits   int64
	CacheMisses int64

	// openFiles backs the file-I/O primitives (SPEC_FULL.md §12, 100-108):
	// a Smalltalk-side handle is just a small integer key into this map.
	openFiles     map[int32]*os.File
	nextFileHandle int32
}

// New builds a VM over an already-populated heap and globals table. Callers
// typically obtain both from pkg/image.Load or pkg/bootstrap.
func New(h *heap.Heap, g Globals, cfg Config) *VM {
	if cfg.CacheSize == 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.RootStackDepth == 0 {
		cfg.RootStackDepth = 256
	}
	v := &VM{Heap: h, Globals: g, Config: cfg, openFiles: make(map[int32]*os.File)}
	v.Cache = newInlineCache(cfg.CacheSize)
	h.OnCollect(v.Cache.flush)
	return v
}

// classOf returns the class of ref, handling the small-integer special
// case spec.md §3 calls out: "the class of a small integer is a known
// global."
func (v *VM) classOf(ref oop.Ref) oop.Ref {
	if ref.IsSmallInt() {
		return v.Globals.SmallIntClass
	}
	return v.Heap.At(ref).Class
}
