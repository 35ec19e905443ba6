package vm

import "github.com/kristofer/littletalk/pkg/oop"

// Outcome is the non-fatal result of one Execute call, spec.md §7's
// taxonomy minus *fatal* (which surfaces as a Go error instead, since it
// is by definition not something the embedder can act on beyond aborting).
type Outcome int

const (
	Returned Outcome = iota
	UserReturn
	BadMethod
	TimeExpired
	Breakpoint // reserved: never produced by Execute itself (spec.md §7)
)

func (o Outcome) String() string {
	switch o {
	case Returned:
		return "returned"
	case UserReturn:
		return "user-return"
	case BadMethod:
		return "bad-method"
	case TimeExpired:
		return "time-expired"
	case Breakpoint:
		return "breakpoint"
	default:
		return "unknown"
	}
}

// PrimBlockActivate is the primitive number the bootstrap image compiles
// into every Block>>value / value: / valueWithArguments: method (spec.md
// §4.6 "Block invocation"). The interpreter special-cases it rather than
// running it through the generic primitive table, because activating a
// block means replacing the current context outright, not producing a
// value to push (SPEC_FULL.md §12).
const PrimBlockActivate = 40

// Execute runs proc's currently active context until it returns to the
// top level, hits a tick budget of zero, fails to resolve a message even
// via doesNotUnderstand:, or a primitive reports a fatal condition
// (spec.md §4.6, §5, §7).
func (v *VM) Execute(proc oop.Ref, tickBudget int) (Outcome, error) {
	h := v.Heap
	bounded := tickBudget > 0
	ticks := tickBudget

	for {
		if bounded {
			if ticks == 0 {
				setProcessStatus(h, proc, oop.ProcessTimeExpired)
				return TimeExpired, nil
			}
			ticks--
		}

		ctx := processContext(h, proc)
		method := contextMethod(h, ctx)
		code := h.At(method).Fields[oop.MethodByteCodes]
		bp := contextBytePointer(h, ctx)
		bytes := h.At(code).Bytes

		inst := Decode(bytes, bp)
		setContextBytePointer(h, ctx, inst.Next)

		outcome, done, err := v.step(proc, ctx, method, inst)
		if err != nil {
			return BadMethod, err
		}
		if done {
			return outcome, nil
		}
	}
}

// step executes one decoded instruction against proc's current context,
// reporting (outcome, true) when Execute should stop, or (_, false) to
// keep looping.
func (v *VM) step(proc, ctx, method oop.Ref, inst Instruction) (Outcome, bool, error) {
	h := v.Heap

	switch inst.Op {
	case OpPushInstance:
		receiver := h.At(contextArguments(h, ctx)).Fields[0]
		push(h, ctx, h.At(receiver).Fields[inst.Arg])
	case OpPushArgument:
		push(h, ctx, h.At(contextArguments(h, ctx)).Fields[inst.Arg])
	case OpPushTemporary:
		push(h, ctx, h.At(contextTemporaries(h, ctx)).Fields[inst.Arg])
	case OpPushLiteral:
		literals := h.At(method).Fields[oop.MethodLiterals]
		push(h, ctx, h.At(literals).Fields[inst.Arg])
	case OpPushConstant:
		push(h, ctx, v.pushConstant(inst.Arg))
	case OpAssignInstance:
		receiver := h.At(contextArguments(h, ctx)).Fields[0]
		h.At(receiver).Fields[inst.Arg] = top(h, ctx)
	case OpAssignTemporary:
		h.At(contextTemporaries(h, ctx)).Fields[inst.Arg] = top(h, ctx)
	case OpMarkArguments:
		if err := v.markArguments(ctx, inst.Arg); err != nil {
			return 0, true, err
		}
	case OpSendMessage:
		selector := h.At(method).Fields[oop.MethodLiterals]
		selector = h.At(selector).Fields[inst.Arg]
		return v.doSend(proc, ctx, selector, false)
	case OpSendUnary:
		v.doSendUnary(ctx, inst.Arg)
	case OpSendBinary:
		return v.doSendBinary(proc, ctx, inst.Arg)
	case OpPushBlock:
		if err := v.doPushBlock(ctx, inst); err != nil {
			return 0, true, err
		}
	case OpDoPrimitive:
		return v.doPrimitive(proc, ctx, inst)
	case OpDoSpecial:
		return v.doSpecial(proc, ctx, method, inst)
	}
	return 0, false, nil
}

func (v *VM) pushConstant(arg int) oop.Ref {
	switch {
	case arg <= 9:
		return oop.NewSmallInt(int32(arg))
	case arg == ConstNil:
		return v.Globals.Nil
	case arg == ConstTrue:
		return v.Globals.True
	default:
		return v.Globals.False
	}
}

// markArguments pops argCount items off ctx's stack into a freshly
// allocated array, then pushes the array (spec.md §4.4's MarkArguments).
// The popped order is reversed back into ascending slots so array[0] is
// the receiver, matching how PushArgument placed them on the stack.
func (v *VM) markArguments(ctx oop.Ref, argCount int) error {
	h := v.Heap
	arr, err := h.Alloc(v.Globals.ArrayClass, argCount, v.Globals.Nil)
	if err != nil {
		return err
	}
	for i := argCount - 1; i >= 0; i-- {
		h.At(arr).Fields[i] = pop(h, ctx)
	}
	push(h, ctx, arr)
	return nil
}

func (v *VM) doSendUnary(ctx oop.Ref, arg int) {
	h := v.Heap
	receiver := pop(h, ctx)
	isNil := receiver == v.Globals.Nil
	if arg == UnaryNotNil {
		isNil = !isNil
	}
	if isNil {
		push(h, ctx, v.Globals.True)
	} else {
		push(h, ctx, v.Globals.False)
	}
}

// doSendBinary implements the three fast-pathed operators (spec.md §4.4's
// SendBinary). Small-integer operands are handled inline; anything else
// falls back to a real send using the cached selector symbol, exactly as
// the original source's optimization does.
func (v *VM) doSendBinary(proc, ctx oop.Ref, arg int) (Outcome, bool, error) {
	h := v.Heap
	b := pop(h, ctx)
	a := pop(h, ctx)

	if a.IsSmallInt() && b.IsSmallInt() {
		x, y := a.SmallIntValue(), b.SmallIntValue()
		switch arg {
		case BinaryLess:
			push(h, ctx, v.boolRef(x < y))
			return 0, false, nil
		case BinaryLessOrEqual:
			push(h, ctx, v.boolRef(x <= y))
			return 0, false, nil
		case BinaryPlus:
			sum := int64(x) + int64(y)
			if oop.FitsSmallInt(sum) {
				push(h, ctx, oop.NewSmallInt(int32(sum)))
				return 0, false, nil
			}
		}
	}

	selector := v.binarySelector(arg)
	arr, err := h.Alloc(v.Globals.ArrayClass, 2, v.Globals.Nil)
	if err != nil {
		return 0, true, err
	}
	h.At(arr).Fields[0] = a
	h.At(arr).Fields[1] = b
	push(h, ctx, arr)
	return v.doSend(proc, ctx, selector, false)
}

func (v *VM) boolRef(b bool) oop.Ref {
	if b {
		return v.Globals.True
	}
	return v.Globals.False
}

func (v *VM) binarySelector(arg int) oop.Ref {
	switch arg {
	case BinaryLess:
		return v.Globals.LessThanSym
	case BinaryLessOrEqual:
		return v.Globals.LessOrEqualSym
	default:
		return v.Globals.PlusSym
	}
}

// doPushBlock allocates the Block object for a PushBlock bytecode. The
// instruction itself carries only an argument count and a resume target
// (spec.md §4.4); it does not carry the block's argumentLocation directly.
// This implementation reserves the trailing argCount slots of the shared
// temporaries array for the block's own arguments: the bootstrap
// compiler lays out a method's temporaries with outer locals first and
// each nested block's parameters appended after, so argumentLocation is
// simply temporariesSize - argCount.
func (v *VM) doPushBlock(ctx oop.Ref, inst Instruction) error {
	h := v.Heap
	argCount := PushBlockArgCount(inst.Arg)
	target := PushBlockTarget(inst.Arg)
	tempSize := len(h.At(contextTemporaries(h, ctx)).Fields)
	blk, err := v.newBlock(ctx, tempSize-argCount, inst.Next)
	if err != nil {
		return err
	}
	push(h, ctx, blk)
	setContextBytePointer(h, ctx, target)
	return nil
}

// doPrimitive implements the DoPrimitive bytecode (spec.md §4.6's
// "Primitive call"). Block activation is special-cased because it does
// not produce a value to push — it replaces the executing context
// outright. Every other primitive number is dispatched through the
// primitives table (primitives.go); on failure, the popped arguments are
// pushed back so the compiled fallback bytecode sees the same stack it
// would have without the primitive attempt.
func (v *VM) doPrimitive(proc, ctx oop.Ref, inst Instruction) (Outcome, bool, error) {
	h := v.Heap
	argCount := DoPrimitiveArgCount(inst.Arg)
	number := DoPrimitiveNumber(inst.Arg)

	args := make([]oop.Ref, argCount)
	for i := argCount - 1; i >= 0; i-- {
		args[i] = pop(h, ctx)
	}

	if number == PrimBlockActivate {
		if err := v.activateBlock(proc, ctx, args); err != nil {
			return 0, true, err
		}
		return 0, false, nil
	}

	fn, known := primitiveTable[number]
	if !known {
		for _, a := range args {
			push(h, ctx, a)
		}
		return 0, false, nil
	}
	result, ok, err := fn(v, proc, args)
	if err != nil {
		return 0, true, err
	}
	if ok {
		push(h, ctx, result)
	} else {
		for _, a := range args {
			push(h, ctx, a)
		}
	}
	return 0, false, nil
}

// activateBlock implements "Block invocation" (spec.md §4.6): args[0] is
// the block, the remainder are its actual arguments. It copies them into
// the shared temporaries starting at argumentLocation and seeks the
// process's context to the block body, sharing the block's temporaries
// and stack with its home context.
func (v *VM) activateBlock(proc, invoker oop.Ref, args []oop.Ref) error {
	h := v.Heap
	blk := args[0]
	actuals := args[1:]

	loc := blockArgumentLocation(h, blk)
	temps := h.At(contextTemporaries(h, blk)).Fields
	for i, a := range actuals {
		temps[loc+i] = a
	}
	setContextBytePointer(h, blk, blockBytePointer(h, blk))
	setContextStackTop(h, blk, 0)
	setContextPrevious(h, blk, invoker)
	setProcessContext(h, proc, blk)
	return nil
}

// doSend resolves selector against the argument array already on top of
// ctx's stack and activates a new context for it, or retries as
// doesNotUnderstand: on failure (spec.md §4.5's miss path). super selects
// lookup starting at the parent of the sending method's own class.
func (v *VM) doSend(proc, ctx, selector oop.Ref, super bool) (Outcome, bool, error) {
	h := v.Heap
	args := pop(h, ctx)
	receiver := h.At(args).Fields[0]

	class := v.classOf(receiver)
	if super {
		method := contextMethod(h, ctx)
		class = h.At(h.At(method).Fields[oop.MethodClass]).Fields[oop.ClassParent]
	}

	target, ok := v.resolve(class, selector)
	if !ok {
		var err error
		target, ok, err = v.sendDoesNotUnderstand(ctx, receiver, selector, &args)
		if err != nil {
			return 0, true, err
		}
		if !ok {
			return v.fail(proc, ctx, selector)
		}
	}

	newCtx, err := v.newContext(target, args, ctx)
	if err != nil {
		return 0, true, err
	}
	setProcessContext(h, proc, newCtx)
	return 0, false, nil
}

func (v *VM) sendDoesNotUnderstand(ctx, receiver, selector oop.Ref, args *oop.Ref) (oop.Ref, bool, error) {
	h := v.Heap
	if err := h.PushRoot(args); err != nil {
		return 0, false, err
	}
	defer h.PopRoot()
	if err := h.PushRoot(&receiver); err != nil {
		return 0, false, err
	}
	defer h.PopRoot()

	newArgs, err := h.Alloc(v.Globals.ArrayClass, 2, v.Globals.Nil)
	if err != nil {
		return 0, false, err
	}
	h.At(newArgs).Fields[0] = receiver
	h.At(newArgs).Fields[1] = selector
	*args = newArgs

	method, ok := v.resolve(v.classOf(receiver), v.Globals.BadMethodSym)
	return method, ok, nil
}

// fail records the unresolved selector into proc's result slot (spec.md
// §7's "Surface") and reports BadMethod with a RuntimeError carrying the
// back-trace.
func (v *VM) fail(proc, ctx, selector oop.Ref) (Outcome, bool, error) {
	h := v.Heap
	setProcessStatus(h, proc, oop.ProcessBadMethod)
	setProcessResult(h, proc, selector)
	return BadMethod, true, &RuntimeError{
		Selector: string(h.At(selector).Bytes),
		Trace:    v.backtrace(ctx),
	}
}

// doSpecial implements the DoSpecial bytecodes (spec.md §4.4/§4.6).
func (v *VM) doSpecial(proc, ctx, method oop.Ref, inst Instruction) (Outcome, bool, error) {
	h := v.Heap
	switch inst.Raw {
	case SpecialSelfReturn:
		return v.doReturn(proc, ctx, h.At(contextArguments(h, ctx)).Fields[0])
	case SpecialStackReturn:
		return v.doReturn(proc, ctx, pop(h, ctx))
	case SpecialBlockReturn:
		return v.doBlockReturn(proc, ctx)
	case SpecialDuplicate:
		push(h, ctx, top(h, ctx))
		return 0, false, nil
	case SpecialPopTop:
		pop(h, ctx)
		return 0, false, nil
	case SpecialBranch:
		setContextBytePointer(h, ctx, SpecialBranchTarget(inst.Arg))
		return 0, false, nil
	case SpecialBranchIfTrue:
		if pop(h, ctx) == v.Globals.True {
			setContextBytePointer(h, ctx, SpecialBranchTarget(inst.Arg))
		}
		return 0, false, nil
	case SpecialBranchIfFalse:
		if pop(h, ctx) == v.Globals.False {
			setContextBytePointer(h, ctx, SpecialBranchTarget(inst.Arg))
		}
		return 0, false, nil
	case SpecialSendToSuper:
		selector := h.At(method).Fields[oop.MethodLiterals]
		selector = h.At(selector).Fields[SpecialSuperSelector(inst.Arg)]
		return v.doSend(proc, ctx, selector, true)
	}
	return 0, false, nil
}

// doReturn implements SelfReturn/StackReturn: unwind to previousContext,
// delivering value there, or terminate the process if there is none
// (spec.md §4.6's "Return").
func (v *VM) doReturn(proc, ctx, value oop.Ref) (Outcome, bool, error) {
	h := v.Heap
	prev := contextPrevious(h, ctx)
	if prev == v.Globals.Nil {
		setProcessStatus(h, proc, oop.ProcessReturned)
		setProcessResult(h, proc, value)
		return Returned, true, nil
	}
	setProcessContext(h, proc, prev)
	push(h, prev, value)
	return 0, false, nil
}

// doBlockReturn implements non-local return (spec.md §4.6's "BlockReturn").
// ctx is itself the block (BlockReturn only ever appears in a block's own
// bytecode stream); it walks the chain above the block looking for the
// context that created it. If that context is still live, the send that
// invoked it (its own previousContext) receives value as though the home
// method itself had returned; otherwise the block has escaped.
func (v *VM) doBlockReturn(proc, ctx oop.Ref) (Outcome, bool, error) {
	h := v.Heap
	value := pop(h, ctx)
	home := blockCreatingContext(h, ctx)

	walk := ctx
	for walk != v.Globals.Nil {
		if walk == home {
			target := contextPrevious(h, home)
			if target == v.Globals.Nil {
				setProcessStatus(h, proc, oop.ProcessReturned)
				setProcessResult(h, proc, value)
				return Returned, true, nil
			}
			setProcessContext(h, proc, target)
			push(h, target, value)
			return 0, false, nil
		}
		walk = contextPrevious(h, walk)
	}

	return v.fail(proc, ctx, v.Globals.BadMethodSym)
}
