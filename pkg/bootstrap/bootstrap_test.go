package bootstrap

import (
	"bytes"
	"testing"

	"github.com/kristofer/littletalk/pkg/oop"
	"github.com/kristofer/littletalk/pkg/vm"
)

// TestInternDeduplicates exercises spec.md §3's "textual equality implies
// pointer equality": interning the same text twice must return the same
// Symbol object.
func TestInternDeduplicates(t *testing.T) {
	b := New(256, 16)
	a := b.Intern("foo")
	c := b.Intern("foo")
	if a != c {
		t.Fatalf("Intern(%q) returned distinct refs %v and %v", "foo", a, c)
	}
	if d := b.Intern("bar"); d == a {
		t.Fatalf("Intern(%q) and Intern(%q) collided on %v", "foo", "bar", d)
	}
}

// TestDictPutKeepsKeysSorted exercises the dictionary invariant spec.md §8
// requires: keys stay sorted by symbol byte content regardless of
// insertion order.
func TestDictPutKeepsKeysSorted(t *testing.T) {
	b := New(256, 16)
	dict := b.newDictionary()
	for _, name := range []string{"zebra", "apple", "mango", "banana"} {
		b.dictPut(dict, b.intern(name), oop.NewSmallInt(1))
	}

	keys := b.Heap.At(dict).Fields[oop.DictionaryKeys]
	keyFields := b.Heap.At(keys).Fields
	for i := 1; i < len(keyFields); i++ {
		prev := b.Heap.At(keyFields[i-1]).Bytes
		cur := b.Heap.At(keyFields[i]).Bytes
		if bytes.Compare(prev, cur) >= 0 {
			t.Fatalf("keys not sorted: %q before %q", prev, cur)
		}
	}
}

// TestDeclareClassRegistersByName exercises class declaration: the new
// class must be retrievable by Class and carry the right parent link.
func TestDeclareClassRegistersByName(t *testing.T) {
	b := New(256, 16)
	object := b.Class("Object")
	widget := b.DeclareClass("Widget", object)

	if got := b.Class("Widget"); got != widget {
		t.Fatalf("Class(%q) = %v, want %v", "Widget", got, widget)
	}
	if parent := b.Heap.At(widget).Fields[oop.ClassParent]; parent != object {
		t.Fatalf("Widget's parent = %v, want Object (%v)", parent, object)
	}
}

// TestGlobalsDictionaryHasWellKnownEntries exercises the bootstrap
// contract spec.md §6 describes: every built-in class name, plus nil,
// true, false and Smalltalk itself, resolve through the globals
// dictionary by name.
func TestGlobalsDictionaryHasWellKnownEntries(t *testing.T) {
	b := New(256, 16)

	for _, name := range []string{
		"Object", "True", "False", "SmallInt", "Integer", "Array",
		"Block", "Context", "String", "ByteArray", "Symbol", "Smalltalk",
		"nil", "true", "false",
	} {
		if _, ok := vm.LookupGlobal(b.Heap, b.Globals.Dictionary, name); !ok {
			t.Fatalf("globals dictionary missing well-known entry %q", name)
		}
	}

	nilRef, _ := vm.LookupGlobal(b.Heap, b.Globals.Dictionary, "nil")
	if nilRef != b.Globals.Nil {
		t.Fatalf("globals[\"nil\"] = %v, want %v", nilRef, b.Globals.Nil)
	}
}

// TestEnsureRootsIdempotent exercises that calling VM (or SaveImage)
// more than once never registers a static root slot twice: a prior bug
// let SaveImage force a collection with zero roots registered if VM had
// never been called first, wiping the heap.
func TestEnsureRootsIdempotent(t *testing.T) {
	b := New(256, 16)
	method := b.AddMethod(b.Class("Object"), Method{
		Selector:  "run",
		Bytecodes: []byte{0x40, 0xF2}, // push literal 0, ^stack
		Literals:  []oop.Ref{oop.NewSmallInt(9)},
		StackSize: 1,
	})
	b.Globals.InitialMethod = method

	b.VM(vm.Config{})
	b.VM(vm.Config{})

	var buf bytes.Buffer
	if err := b.SaveImage(&buf); err != nil {
		t.Fatalf("SaveImage: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatalf("SaveImage produced an empty stream")
	}
}

// TestSaveImageWithoutPriorVM exercises SaveImage called before VM is
// ever constructed, the path that previously collected with no roots
// registered at all.
func TestSaveImageWithoutPriorVM(t *testing.T) {
	b := New(256, 16)
	method := b.AddMethod(b.Class("Object"), Method{
		Selector:  "run",
		Bytecodes: []byte{0x40, 0xF2},
		Literals:  []oop.Ref{oop.NewSmallInt(9)},
		StackSize: 1,
	})
	b.Globals.InitialMethod = method

	var buf bytes.Buffer
	if err := b.SaveImage(&buf); err != nil {
		t.Fatalf("SaveImage without a prior VM call: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatalf("SaveImage produced an empty stream")
	}
}
