package vm_test

import (
	"bytes"
	"testing"

	"github.com/kristofer/littletalk/pkg/bootstrap"
	"github.com/kristofer/littletalk/pkg/image"
	"github.com/kristofer/littletalk/pkg/oop"
	"github.com/kristofer/littletalk/pkg/vm"
)

// TestIntegerAddition exercises end-to-end scenario 1: `^ 3 + 4` returns 7.
func TestIntegerAddition(t *testing.T) {
	b := bootstrap.New(256, 64)
	method := b.AddMethod(b.Class("Object"), bootstrap.Method{
		Selector:  "run",
		Bytecodes: []byte{0x53, 0x54, 0xB2, 0xF2}, // push 3, push 4, + , ^stack
		StackSize: 2,
	})
	proc := b.NewProcess(method, 0)
	machine := b.VM(vm.Config{})

	outcome, err := machine.Execute(proc, 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome != vm.Returned {
		t.Fatalf("expected Returned, got %v", outcome)
	}
	result := b.Heap.At(proc).Fields[oop.ProcessResult]
	if !result.IsSmallInt() || result.SmallIntValue() != 7 {
		t.Fatalf("expected 7, got %v", result)
	}
}

// TestClassChainDispatch exercises scenario 2: B inherits from A; A
// defines m; an instance of B sent m invokes A's method.
func TestClassChainDispatch(t *testing.T) {
	b := bootstrap.New(256, 64)
	classA := b.DeclareClass("A", b.Class("Object"))
	classB := b.DeclareClass("B", classA)

	b.AddMethod(classA, bootstrap.Method{
		Selector:  "m",
		Bytecodes: []byte{0x40, 0xF2}, // push literal 0 (42), ^stack
		Literals:  []oop.Ref{oop.NewSmallInt(42)},
		StackSize: 1,
	})

	mSym := b.Intern("m")
	driver := b.AddMethod(b.Class("Object"), bootstrap.Method{
		Selector:  "callM",
		Bytecodes: []byte{0x20, 0x81, 0x90, 0xF2}, // push arg0, mark 1, send lit0, ^stack
		Literals:  []oop.Ref{mSym},
		StackSize: 2,
	})

	receiver := b.NewInstance(classB)

	proc := b.NewProcess(driver, receiver)
	machine := b.VM(vm.Config{})

	outcome, err := machine.Execute(proc, 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome != vm.Returned {
		t.Fatalf("expected Returned, got %v", outcome)
	}
	result := b.Heap.At(proc).Fields[oop.ProcessResult]
	if !result.IsSmallInt() || result.SmallIntValue() != 42 {
		t.Fatalf("expected 42 via inherited method, got %v", result)
	}
}

// TestDoesNotUnderstand exercises scenario 3: an unresolved selector
// invokes doesNotUnderstand: with the original selector as argument.
func TestDoesNotUnderstand(t *testing.T) {
	b := bootstrap.New(256, 64)

	// doesNotUnderstand: just returns its selector argument unchanged, so
	// the test can observe it was actually invoked.
	b.AddMethod(b.Class("Object"), bootstrap.Method{
		Selector:  "doesNotUnderstand:",
		Bytecodes: []byte{0x21, 0xF2}, // push arg1 (the failed selector), ^stack
		StackSize: 1,
	})

	zzz := b.Intern("zzz")
	driver := b.AddMethod(b.Class("Object"), bootstrap.Method{
		Selector:  "callZzz",
		Bytecodes: []byte{0x20, 0x81, 0x90, 0xF2},
		Literals:  []oop.Ref{zzz},
		StackSize: 2,
	})

	proc := b.NewProcess(driver, 0)
	machine := b.VM(vm.Config{})

	outcome, err := machine.Execute(proc, 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome != vm.Returned {
		t.Fatalf("expected Returned (handled via doesNotUnderstand:), got %v", outcome)
	}
	result := b.Heap.At(proc).Fields[oop.ProcessResult]
	if result != zzz {
		t.Fatalf("expected doesNotUnderstand: to receive the zzz selector, got %v", result)
	}
}

// TestNonLocalReturn exercises scenario 4: a method evaluates a block
// that performs a non-local return; the method itself returns that value
// to its caller.
func TestNonLocalReturn(t *testing.T) {
	b := bootstrap.New(256, 64)

	// m's body: push a block (arg count 0) whose body is [^ 42], then
	// invoke it via the block-activate primitive, then (unreached)
	// self-return.
	//
	// PushBlock argCount=0, target = end of block body.
	// Block body: PushLiteral 0 (42), DoSpecial BlockReturn.
	// After the block body: DoPrimitive argCount=1 number=PrimBlockActivate,
	// which pops the block pushed by PushBlock as its args[0].
	blockBody := []byte{0x40, 0xF3} // push literal 42, ^^ (block return)
	pushBlock := []byte{0xC0, 0x00, byte(3 + len(blockBody))}
	bytecodes := append([]byte{}, pushBlock...)
	bytecodes = append(bytecodes, blockBody...)
	bytecodes = append(bytecodes, 0xD1, byte(vm.PrimBlockActivate), 0xF1) // primitive 1 arg, self-return

	method := b.AddMethod(b.Class("Object"), bootstrap.Method{
		Selector:  "m",
		Bytecodes: bytecodes,
		Literals:  []oop.Ref{oop.NewSmallInt(42)},
		StackSize: 2,
	})

	proc := b.NewProcess(method, 0)
	machine := b.VM(vm.Config{})

	outcome, err := machine.Execute(proc, 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome != vm.Returned {
		t.Fatalf("expected Returned, got %v", outcome)
	}
	result := b.Heap.At(proc).Fields[oop.ProcessResult]
	if !result.IsSmallInt() || result.SmallIntValue() != 42 {
		t.Fatalf("expected 42 via non-local return, got %v", result)
	}
}

// TestImageRoundTrip exercises scenario 5: save then load yields the same
// observable result from invoking the entry method.
func TestImageRoundTrip(t *testing.T) {
	b := bootstrap.New(256, 64)
	method := b.AddMethod(b.Class("Object"), bootstrap.Method{
		Selector:  "run",
		Bytecodes: []byte{0x53, 0x54, 0xB2, 0xF2}, // push 3, push 4, + , ^stack
		StackSize: 2,
	})
	b.Globals.InitialMethod = method

	proc1 := b.NewProcess(method, 0)
	machine1 := b.VM(vm.Config{})
	if outcome, err := machine1.Execute(proc1, 0); err != nil || outcome != vm.Returned {
		t.Fatalf("original Execute: outcome=%v err=%v", outcome, err)
	}
	want := b.Heap.At(proc1).Fields[oop.ProcessResult]

	var buf bytes.Buffer
	if err := b.SaveImage(&buf); err != nil {
		t.Fatalf("SaveImage: %v", err)
	}

	h2, roots, err := image.Load(&buf, 64, 64)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// The image header only reserves offsets for the globals dictionary,
	// initialMethod, the three cached binary symbols and the
	// doesNotUnderstand: symbol (spec.md §4.3);
	// nil/true/false and the built-in classes are ordinary entries of the
	// restored globals dictionary, recovered by ResolveGlobals exactly as
	// an embedder would after a real image load.
	g2, err := vm.ResolveGlobals(h2, roots)
	if err != nil {
		t.Fatalf("ResolveGlobals: %v", err)
	}

	// Build a fresh top-level process, the way an embedder would after
	// loading an image (spec.md §4.3's "Runtime CLI contract").
	objectClass, err := vm.ObjectClass(h2, g2)
	if err != nil {
		t.Fatalf("ObjectClass: %v", err)
	}
	receiver, err := h2.Alloc(objectClass, 0, g2.Nil)
	if err != nil {
		t.Fatalf("Alloc receiver: %v", err)
	}
	proc2, err := vm.NewProcess(h2, g2, g2.InitialMethod, receiver)
	if err != nil {
		t.Fatalf("NewProcess: %v", err)
	}

	machine2 := vm.New(h2, g2, vm.Config{})
	outcome, err := machine2.Execute(proc2, 0)
	if err != nil {
		t.Fatalf("reloaded Execute: %v", err)
	}
	if outcome != vm.Returned {
		t.Fatalf("expected Returned, got %v", outcome)
	}
	got := h2.At(proc2).Fields[oop.ProcessResult]
	if got != want {
		t.Fatalf("reloaded result %v does not match original %v", got, want)
	}
}
