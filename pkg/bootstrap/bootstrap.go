// Package bootstrap assembles minimal, valid heap images directly —
// classes, methods, literal arrays, compiled bytecode — without a source
// parser. spec.md §1 scopes the real bootstrap compiler out of the core
// as an external collaborator ("its output, the image format, is
// specified here; its parser/codegen are not"); this package plays that
// collaborator's role just far enough to produce the fixtures the core's
// own tests exercise, and to give cmd/littletalk something to run before
// a real compiler exists.
//
// The class/metaclass wiring and instance-shape population follow
// spec.md §6's "Bootstrap compiler to core" contract exactly: a globals
// dictionary with a "Smalltalk" self-entry, every class's parentClass/
// methods/instanceSize/variables/name populated, and metaclasses
// special-cased at the root.
package bootstrap

import (
	"io"

	"github.com/kristofer/littletalk/pkg/heap"
	"github.com/kristofer/littletalk/pkg/image"
	"github.com/kristofer/littletalk/pkg/oop"
	"github.com/kristofer/littletalk/pkg/vm"
)

// Builder accumulates classes, symbols and methods on a live heap, the
// way the real compiler's code generator would, then hands the result to
// vm.New or pkg/image.Save.
type Builder struct {
	Heap    *heap.Heap
	Globals vm.Globals

	classes map[string]oop.Ref
	symbols map[string]oop.Ref

	rootsRegistered bool
}

// New allocates the handful of objects every image needs before any class
// bodies can be compiled: nil/true/false, the seven built-in classes plus
// Symbol, and the globals dictionary with its "Smalltalk" self-entry.
// None of the builder's objects are registered as GC roots until VM or
// SaveImage is called, so capacity must hold everything assembled before
// then; a collection during assembly does not preserve them.
func New(capacity, rootDepth int) *Builder {
	h := heap.New(capacity, rootDepth)
	b := &Builder{Heap: h, classes: make(map[string]oop.Ref), symbols: make(map[string]oop.Ref)}

	// The nil object is class-less at this point; it is patched to point
	// at Object once Object exists, mirroring the original bootstrap's
	// two-pass class creation.
	nilRef, _ := h.Alloc(0, 0, 0)
	b.Globals.Nil = nilRef
	// SymbolTable starts empty (rooted at Nil, not at its Go zero value,
	// which only happens to equal Nil's ref because Nil is allocated
	// first); intern grows it into a real tree as symbols are created.
	b.Globals.SymbolTable = nilRef

	object := b.declareClass("Object", nilRef, 0, nil)
	b.Globals.True = b.newInstance(b.declareClass("True", object, 0, nil))
	b.Globals.False = b.newInstance(b.declareClass("False", object, 0, nil))

	b.Globals.SmallIntClass = b.declareClass("SmallInt", object, 0, nil)
	b.Globals.IntegerClass = b.declareClass("Integer", object, 0, nil)
	b.Globals.ArrayClass = b.declareClass("Array", object, 0, nil)
	b.Globals.BlockClass = b.declareClass("Block", object, int(oop.BlockFieldCount), nil)
	b.Globals.ContextClass = b.declareClass("Context", object, int(oop.ContextFieldCount), nil)
	b.Globals.StringClass = b.declareClass("String", object, 0, nil)
	b.Globals.ByteArrayClass = b.declareClass("ByteArray", object, 0, nil)
	b.Globals.SymbolClass = b.declareClass("Symbol", object, 0, nil)

	h.At(nilRef).Class = object

	b.Globals.LessThanSym = b.intern("<")
	b.Globals.LessOrEqualSym = b.intern("<=")
	b.Globals.PlusSym = b.intern("+")
	b.Globals.BadMethodSym = b.intern("doesNotUnderstand:")

	b.Globals.Dictionary = b.newDictionary()
	b.dictPut(b.Globals.Dictionary, b.intern("Smalltalk"), b.Globals.Dictionary)
	b.dictPut(b.Globals.Dictionary, b.intern("nil"), b.Globals.Nil)
	b.dictPut(b.Globals.Dictionary, b.intern("true"), b.Globals.True)
	b.dictPut(b.Globals.Dictionary, b.intern("false"), b.Globals.False)
	for name, class := range b.classes {
		b.dictPut(b.Globals.Dictionary, b.intern(name), class)
	}
	return b
}

func (b *Builder) newInstance(class oop.Ref) oop.Ref {
	ref, err := b.Heap.Alloc(class, 0, b.Globals.Nil)
	if err != nil {
		panic(err)
	}
	return ref
}

// intern returns the canonical Symbol for text, allocating it once per
// distinct string and linking it into the same SymbolTable tree the
// asSymbol: primitive searches at runtime (spec.md §3: "textual equality
// implies pointer equality"). The local b.symbols map is just a fast path
// over the same data; vm.InternSymbol is the single source of truth for
// which Symbol object a given text maps to.
func (b *Builder) intern(text string) oop.Ref {
	if sym, ok := b.symbols[text]; ok {
		return sym
	}
	sym, err := vm.InternSymbol(b.Heap, &b.Globals.SymbolTable, b.Globals.Nil, b.Globals.SymbolClass, []byte(text))
	if err != nil {
		panic(err)
	}
	b.symbols[text] = sym
	return sym
}

func (b *Builder) newDictionary() oop.Ref {
	keys, err := b.Heap.Alloc(b.Globals.ArrayClass, 0, b.Globals.Nil)
	if err != nil {
		panic(err)
	}
	values, err := b.Heap.Alloc(b.Globals.ArrayClass, 0, b.Globals.Nil)
	if err != nil {
		panic(err)
	}
	dict, err := b.Heap.Alloc(b.Globals.Nil, oop.DictionaryFieldCount, b.Globals.Nil)
	if err != nil {
		panic(err)
	}
	fields := b.Heap.At(dict).Fields
	fields[oop.DictionaryKeys] = keys
	fields[oop.DictionaryValues] = values
	return dict
}

// dictPut inserts key/value, keeping keys sorted ascending by symbol byte
// content (spec.md §3's dictionary invariant). Intended for bootstrap-time
// construction only; once a VM exists, mutate methods dictionaries through
// vm.VM.InstallMethod instead, which also flushes the inline cache.
func (b *Builder) dictPut(dict, key, value oop.Ref) {
	h := b.Heap
	keys := h.At(dict).Fields[oop.DictionaryKeys]
	values := h.At(dict).Fields[oop.DictionaryValues]
	keyFields := h.At(keys).Fields
	valueFields := h.At(values).Fields

	insertAt := len(keyFields)
	for i, k := range keyFields {
		c := compareBytes(h.At(k).Bytes, h.At(key).Bytes)
		if c == 0 {
			valueFields[i] = value
			return
		}
		if c > 0 {
			insertAt = i
			break
		}
	}
	newKeys := append(append([]oop.Ref{}, keyFields[:insertAt]...), append([]oop.Ref{key}, keyFields[insertAt:]...)...)
	newValues := append(append([]oop.Ref{}, valueFields[:insertAt]...), append([]oop.Ref{value}, valueFields[insertAt:]...)...)
	h.At(keys).Fields = newKeys
	h.At(keys).Header = oop.MakeHeader(len(newKeys), false)
	h.At(values).Fields = newValues
	h.At(values).Header = oop.MakeHeader(len(newValues), false)
}

func compareBytes(a, b []byte) int {
	switch {
	case string(a) < string(b):
		return -1
	case string(a) > string(b):
		return 1
	default:
		return 0
	}
}

// declareClass allocates a Class object (and registers it by name for the
// final globals-dictionary population), with an initially empty methods
// dictionary.
func (b *Builder) declareClass(name string, parent oop.Ref, instanceSize int, variables []string) oop.Ref {
	h := b.Heap
	class, err := h.Alloc(b.Globals.Nil, oop.ClassFieldCount, b.Globals.Nil)
	if err != nil {
		panic(err)
	}
	varsArr, err := h.Alloc(b.Globals.ArrayClass, len(variables), b.Globals.Nil)
	if err != nil {
		panic(err)
	}
	for i, v := range variables {
		h.At(varsArr).Fields[i] = b.intern(v)
	}

	fields := h.At(class).Fields
	fields[oop.ClassName] = b.intern(name)
	fields[oop.ClassParent] = parent
	fields[oop.ClassMethods] = b.newDictionary()
	fields[oop.ClassInstanceSize] = oop.NewSmallInt(int32(instanceSize))
	fields[oop.ClassVariables] = varsArr
	b.classes[name] = class
	return class
}

// Class looks up a previously declared class by name.
func (b *Builder) Class(name string) oop.Ref { return b.classes[name] }

// DeclareClass declares a new class with parent as its superclass, no
// instance variables, and an empty methods dictionary. Exposed for
// callers assembling fixtures outside this package.
func (b *Builder) DeclareClass(name string, parent oop.Ref) oop.Ref {
	return b.declareClass(name, parent, 0, nil)
}

// NewInstance allocates a plain instance of class with no fields beyond
// whatever instanceSize the class declares.
func (b *Builder) NewInstance(class oop.Ref) oop.Ref {
	size := int(b.Heap.At(class).Fields[oop.ClassInstanceSize].SmallIntValue())
	ref, err := b.Heap.Alloc(class, size, b.Globals.Nil)
	if err != nil {
		panic(err)
	}
	return ref
}

// Method describes one compiled method ready to install; bytecodes and
// literals are produced by hand (or by a real compiler standing in for
// this package) following spec.md §4.4's encoding.
type Method struct {
	Selector      string
	Bytecodes     []byte
	Literals      []oop.Ref
	StackSize     int
	TemporarySize int
}

// AddMethod compiles m into class's methods dictionary, populating the
// Method object's full instance shape (spec.md §3).
func (b *Builder) AddMethod(class oop.Ref, m Method) oop.Ref {
	h := b.Heap
	code, err := h.AllocBytes(b.Globals.Nil, m.Bytecodes)
	if err != nil {
		panic(err)
	}
	literals, err := h.Alloc(b.Globals.ArrayClass, len(m.Literals), b.Globals.Nil)
	if err != nil {
		panic(err)
	}
	copy(h.At(literals).Fields, m.Literals)

	text, err := h.AllocBytes(b.Globals.StringClass, nil)
	if err != nil {
		panic(err)
	}

	method, err := h.Alloc(b.Globals.Nil, oop.MethodFieldCount, b.Globals.Nil)
	if err != nil {
		panic(err)
	}
	fields := h.At(method).Fields
	fields[oop.MethodName] = b.intern(m.Selector)
	fields[oop.MethodByteCodes] = code
	fields[oop.MethodLiterals] = literals
	fields[oop.MethodStackSize] = oop.NewSmallInt(int32(m.StackSize))
	fields[oop.MethodTemporarySize] = oop.NewSmallInt(int32(m.TemporarySize))
	fields[oop.MethodClass] = class
	fields[oop.MethodText] = text

	b.dictPut(h.At(class).Fields[oop.ClassMethods], b.intern(m.Selector), method)
	return method
}

// Intern exposes symbol interning to callers assembling literal arrays.
func (b *Builder) Intern(text string) oop.Ref { return b.intern(text) }

// NewProcess allocates a Process whose top-level context runs method with
// receiver as arguments[0], ready for vm.VM.Execute. If receiver is the
// zero Ref, a fresh plain Object instance is used.
func (b *Builder) NewProcess(method, receiver oop.Ref) oop.Ref {
	if receiver == 0 {
		receiver = b.newInstance(b.Class("Object"))
	}
	proc, err := vm.NewProcess(b.Heap, b.Globals, method, receiver)
	if err != nil {
		panic(err)
	}
	return proc
}

// VM builds a *vm.VM over the builder's heap and globals, registering the
// well-known static roots the collector must walk.
func (b *Builder) VM(cfg vm.Config) *vm.VM {
	b.ensureRoots()
	return vm.New(b.Heap, b.Globals, cfg)
}

// ensureRoots registers the builder's well-known globals as static GC roots
// exactly once. Both VM and SaveImage need this done before any collection
// runs (the globals are otherwise unreachable bootstrap-time locals, and a
// collection would sweep them away); calling it from either entry point, in
// either order, is safe.
func (b *Builder) ensureRoots() {
	if b.rootsRegistered {
		return
	}
	for _, slot := range b.rootSlots() {
		b.Heap.RegisterStaticRoot(slot)
	}
	b.rootsRegistered = true
}

func (b *Builder) rootSlots() []*oop.Ref {
	g := &b.Globals
	return []*oop.Ref{
		&g.Nil, &g.True, &g.False,
		&g.SmallIntClass, &g.IntegerClass, &g.ArrayClass,
		&g.BlockClass, &g.ContextClass,
		&g.StringClass, &g.ByteArrayClass, &g.SymbolClass,
		&g.Dictionary, &g.InitialMethod,
		&g.LessThanSym, &g.LessOrEqualSym, &g.PlusSym, &g.BadMethodSym,
		&g.SymbolTable,
	}
}

// SaveImage writes the builder's current heap out in format v3. Safe to
// call whether or not VM has been called first.
func (b *Builder) SaveImage(w io.Writer) error {
	b.ensureRoots()
	roots := image.Roots{
		Globals:       b.Globals.Dictionary,
		InitialMethod: b.Globals.InitialMethod,
		LessThan:      b.Globals.LessThanSym,
		LessOrEqual:   b.Globals.LessOrEqualSym,
		Plus:          b.Globals.PlusSym,
		BadMethodSym:  b.Globals.BadMethodSym,
	}
	return image.Save(b.Heap, roots, w)
}
