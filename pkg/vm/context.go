package vm

import (
	"github.com/kristofer/littletalk/pkg/heap"
	"github.com/kristofer/littletalk/pkg/oop"
)

// The accessors below read and write the fixed field indices spec.md §3
// defines for Context, Block, Process and Method. bytePointer and stackTop
// are stored as tagged small integers in the field array, matching the
// original source's memory layout (there is no separate scalar storage).

func smallIntField(h *heap.Heap, obj oop.Ref, field int) int {
	return int(h.At(obj).Fields[field].SmallIntValue())
}

func setSmallIntField(h *heap.Heap, obj oop.Ref, field int, v int) {
	h.At(obj).Fields[field] = oop.NewSmallInt(int32(v))
}

func contextMethod(h *heap.Heap, ctx oop.Ref) oop.Ref {
	return h.At(ctx).Fields[oop.ContextMethod]
}

func contextArguments(h *heap.Heap, ctx oop.Ref) oop.Ref {
	return h.At(ctx).Fields[oop.ContextArguments]
}

func contextTemporaries(h *heap.Heap, ctx oop.Ref) oop.Ref {
	return h.At(ctx).Fields[oop.ContextTemporaries]
}

func contextStack(h *heap.Heap, ctx oop.Ref) oop.Ref {
	return h.At(ctx).Fields[oop.ContextStack]
}

func contextBytePointer(h *heap.Heap, ctx oop.Ref) int {
	return smallIntField(h, ctx, oop.ContextBytePointer)
}

func setContextBytePointer(h *heap.Heap, ctx oop.Ref, bp int) {
	setSmallIntField(h, ctx, oop.ContextBytePointer, bp)
}

func contextStackTop(h *heap.Heap, ctx oop.Ref) int {
	return smallIntField(h, ctx, oop.ContextStackTop)
}

func setContextStackTop(h *heap.Heap, ctx oop.Ref, top int) {
	setSmallIntField(h, ctx, oop.ContextStackTop, top)
}

func contextPrevious(h *heap.Heap, ctx oop.Ref) oop.Ref {
	return h.At(ctx).Fields[oop.ContextPreviousContext]
}

func setContextPrevious(h *heap.Heap, ctx, prev oop.Ref) {
	h.At(ctx).Fields[oop.ContextPreviousContext] = prev
}

// isBlock reports whether ctx carries the block extension fields, by
// comparing the object's class to the well-known Block class. A plain
// Context never carries argumentLocation/creatingContext/blockBytePointer.
func (v *VM) isBlock(ctx oop.Ref) bool {
	return v.Heap.At(ctx).Class == v.Globals.BlockClass
}

func blockArgumentLocation(h *heap.Heap, blk oop.Ref) int {
	return smallIntField(h, blk, oop.BlockArgumentLocation)
}

func blockCreatingContext(h *heap.Heap, blk oop.Ref) oop.Ref {
	return h.At(blk).Fields[oop.BlockCreatingContext]
}

func blockBytePointer(h *heap.Heap, blk oop.Ref) int {
	return smallIntField(h, blk, oop.BlockBytePointer)
}

// push and pop operate on a context's (or block's) shared stack array,
// tracking stackTop as a tagged small int field on the context itself.
func push(h *heap.Heap, ctx oop.Ref, value oop.Ref) {
	top := contextStackTop(h, ctx)
	h.At(contextStack(h, ctx)).Fields[top] = value
	setContextStackTop(h, ctx, top+1)
}

func pop(h *heap.Heap, ctx oop.Ref) oop.Ref {
	top := contextStackTop(h, ctx) - 1
	setContextStackTop(h, ctx, top)
	return h.At(contextStack(h, ctx)).Fields[top]
}

func top(h *heap.Heap, ctx oop.Ref) oop.Ref {
	return h.At(contextStack(h, ctx)).Fields[contextStackTop(h, ctx)-1]
}

// newContext allocates a fresh activation record for method, to be run
// with the given argument array. stackSize/temporarySize come from the
// method object (spec.md §4.6's "message send" procedure). method,
// arguments and previous are root-pinned here across the three
// allocations this call makes (stack, temporaries, context).
func (v *VM) newContext(method, arguments, previous oop.Ref) (oop.Ref, error) {
	h := v.Heap
	stackSize := int(h.At(method).Fields[oop.MethodStackSize].SmallIntValue())
	tempSize := int(h.At(method).Fields[oop.MethodTemporarySize].SmallIntValue())

	if err := h.PushRoot(&method); err != nil {
		return 0, err
	}
	defer h.PopRoot()
	if err := h.PushRoot(&arguments); err != nil {
		return 0, err
	}
	defer h.PopRoot()
	if err := h.PushRoot(&previous); err != nil {
		return 0, err
	}
	defer h.PopRoot()

	stack, err := h.Alloc(v.Globals.ArrayClass, stackSize, v.Globals.Nil)
	if err != nil {
		return 0, err
	}
	if err := h.PushRoot(&stack); err != nil {
		return 0, err
	}
	defer h.PopRoot()

	temps, err := h.Alloc(v.Globals.ArrayClass, tempSize, v.Globals.Nil)
	if err != nil {
		return 0, err
	}
	if err := h.PushRoot(&temps); err != nil {
		return 0, err
	}
	defer h.PopRoot()

	ctx, err := h.Alloc(v.Globals.ContextClass, oop.ContextFieldCount, v.Globals.Nil)
	if err != nil {
		return 0, err
	}
	fields := h.At(ctx).Fields
	fields[oop.ContextMethod] = method
	fields[oop.ContextArguments] = arguments
	fields[oop.ContextTemporaries] = temps
	fields[oop.ContextStack] = stack
	fields[oop.ContextBytePointer] = oop.NewSmallInt(0)
	fields[oop.ContextStackTop] = oop.NewSmallInt(0)
	fields[oop.ContextPreviousContext] = previous
	return ctx, nil
}

// newBlock allocates a Block object sharing the creating context's method,
// arguments, temporaries and stack (spec.md §4.6's "block creation").
func (v *VM) newBlock(creating oop.Ref, argLocation, bodyStart int) (oop.Ref, error) {
	h := v.Heap
	if err := h.PushRoot(&creating); err != nil {
		return 0, err
	}
	defer h.PopRoot()

	blk, err := h.Alloc(v.Globals.BlockClass, oop.BlockFieldCount, v.Globals.Nil)
	if err != nil {
		return 0, err
	}
	fields := h.At(blk).Fields
	fields[oop.ContextMethod] = contextMethod(h, creating)
	fields[oop.ContextArguments] = contextArguments(h, creating)
	fields[oop.ContextTemporaries] = contextTemporaries(h, creating)
	fields[oop.ContextStack] = contextStack(h, creating)
	fields[oop.ContextBytePointer] = oop.NewSmallInt(0)
	fields[oop.ContextStackTop] = oop.NewSmallInt(0)
	fields[oop.ContextPreviousContext] = v.Globals.Nil
	fields[oop.BlockArgumentLocation] = oop.NewSmallInt(int32(argLocation))
	fields[oop.BlockCreatingContext] = creating
	fields[oop.BlockBytePointer] = oop.NewSmallInt(int32(bodyStart))
	return blk, nil
}

// NewProcess allocates a top-level Process whose context runs method with
// receiver as arguments[0] and no previousContext (spec.md §4.3's "Runtime
// CLI contract": build a Process referring to initialMethod, seat it in a
// root-pinned variable, and invoke the interpreter"). A package-level
// function rather than a *VM method so the bootstrap assembler can call it
// before a VM exists yet, and an image-loading embedder can call it right
// after resolving Globals from a loaded heap (see ResolveGlobals).
func NewProcess(h *heap.Heap, g Globals, method, receiver oop.Ref) (oop.Ref, error) {
	if err := h.PushRoot(&method); err != nil {
		return 0, err
	}
	defer h.PopRoot()
	if err := h.PushRoot(&receiver); err != nil {
		return 0, err
	}
	defer h.PopRoot()

	args, err := h.Alloc(g.ArrayClass, 1, g.Nil)
	if err != nil {
		return 0, err
	}
	h.At(args).Fields[0] = receiver

	if err := h.PushRoot(&args); err != nil {
		return 0, err
	}
	defer h.PopRoot()

	stackSize := int(h.At(method).Fields[oop.MethodStackSize].SmallIntValue())
	tempSize := int(h.At(method).Fields[oop.MethodTemporarySize].SmallIntValue())
	stack, err := h.Alloc(g.ArrayClass, stackSize, g.Nil)
	if err != nil {
		return 0, err
	}
	if err := h.PushRoot(&stack); err != nil {
		return 0, err
	}
	defer h.PopRoot()

	temps, err := h.Alloc(g.ArrayClass, tempSize, g.Nil)
	if err != nil {
		return 0, err
	}
	if err := h.PushRoot(&temps); err != nil {
		return 0, err
	}
	defer h.PopRoot()

	ctx, err := h.Alloc(g.ContextClass, oop.ContextFieldCount, g.Nil)
	if err != nil {
		return 0, err
	}
	if err := h.PushRoot(&ctx); err != nil {
		return 0, err
	}
	defer h.PopRoot()
	cfields := h.At(ctx).Fields
	cfields[oop.ContextMethod] = method
	cfields[oop.ContextArguments] = args
	cfields[oop.ContextTemporaries] = temps
	cfields[oop.ContextStack] = stack
	cfields[oop.ContextBytePointer] = oop.NewSmallInt(0)
	cfields[oop.ContextStackTop] = oop.NewSmallInt(0)
	cfields[oop.ContextPreviousContext] = g.Nil

	proc, err := h.Alloc(g.Nil, oop.ProcessFieldCount, g.Nil)
	if err != nil {
		return 0, err
	}
	pfields := h.At(proc).Fields
	pfields[oop.ProcessContext] = ctx
	pfields[oop.ProcessStatus] = oop.NewSmallInt(oop.ProcessRunnable)
	pfields[oop.ProcessResult] = g.Nil
	return proc, nil
}

func processContext(h *heap.Heap, proc oop.Ref) oop.Ref {
	return h.At(proc).Fields[oop.ProcessContext]
}

func setProcessContext(h *heap.Heap, proc, ctx oop.Ref) {
	h.At(proc).Fields[oop.ProcessContext] = ctx
}

func setProcessStatus(h *heap.Heap, proc oop.Ref, status int32) {
	h.At(proc).Fields[oop.ProcessStatus] = oop.NewSmallInt(status)
}

func setProcessResult(h *heap.Heap, proc, result oop.Ref) {
	h.At(proc).Fields[oop.ProcessResult] = result
}
