// Interactive debugger. Grounded on the teacher's pkg/vm/debugger.go
// (breakpoint set, step mode, an interactive command loop with the same
// short command names); the line reader is github.com/chzyer/readline
// instead of a bare bufio.Scanner, since this debugger runs as its own
// cobra subcommand (SPEC_FULL.md §10.4) rather than inline with program
// output.
package vm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/kristofer/littletalk/pkg/oop"
)

// Debugger wraps a VM with breakpoints (by method byte-pointer) and a
// step mode, running the process one tick at a time through Execute so it
// can inspect state between bytecodes.
type Debugger struct {
	vm          *VM
	breakpoints map[int]bool
	stepMode    bool
}

// NewDebugger creates a debugger over vm.
func NewDebugger(vm *VM) *Debugger {
	return &Debugger{vm: vm, breakpoints: make(map[int]bool)}
}

// AddBreakpoint stops execution when the current context's bytePointer
// equals bp.
func (d *Debugger) AddBreakpoint(bp int) { d.breakpoints[bp] = true }

// RemoveBreakpoint clears a previously set breakpoint.
func (d *Debugger) RemoveBreakpoint(bp int) { delete(d.breakpoints, bp) }

func (d *Debugger) shouldPause(ctx oop.Ref) bool {
	if d.stepMode {
		return true
	}
	return d.breakpoints[contextBytePointer(d.vm.Heap, ctx)]
}

// Run drives proc to completion (or a fatal error), opening an
// interactive prompt every time shouldPause reports true.
func (d *Debugger) Run(proc oop.Ref) (Outcome, error) {
	rl, err := readline.New("debug> ")
	if err != nil {
		return 0, fmt.Errorf("vm: opening debugger prompt: %w", err)
	}
	defer rl.Close()

	for {
		ctx := processContext(d.vm.Heap, proc)
		if d.shouldPause(ctx) {
			d.showInstruction(ctx)
			if !d.prompt(rl, proc) {
				// Detached: run the rest unbounded, with no further prompts.
				return d.vm.Execute(proc, 0)
			}
		}

		outcome, err := d.vm.Execute(proc, 1)
		if err != nil {
			return outcome, err
		}
		if outcome != TimeExpired {
			return outcome, nil
		}
	}
}

func (d *Debugger) showInstruction(ctx oop.Ref) {
	h := d.vm.Heap
	method := contextMethod(h, ctx)
	code := h.At(method).Fields[oop.MethodByteCodes]
	bp := contextBytePointer(h, ctx)
	inst := Decode(h.At(code).Bytes, bp)
	fmt.Printf("  %4d: opcode=%d arg=%d\n", bp, inst.Op, inst.Arg)
}

func (d *Debugger) prompt(rl *readline.Instance, proc oop.Ref) (continueExecution bool) {
	for {
		line, err := rl.Readline()
		if err != nil {
			return false
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Fields(line)

		switch parts[0] {
		case "help", "h", "?":
			d.printHelp()
		case "continue", "c":
			d.stepMode = false
			return true
		case "step", "s", "next", "n":
			d.stepMode = true
			return true
		case "stack", "st":
			d.showStack(proc)
		case "backtrace", "bt":
			d.showBacktrace(proc)
		case "breakpoint", "b":
			if len(parts) < 2 {
				fmt.Println("usage: breakpoint <bytePointer>")
				continue
			}
			bp, err := strconv.Atoi(parts[1])
			if err != nil {
				fmt.Println("invalid byte pointer")
				continue
			}
			d.AddBreakpoint(bp)
		case "delete", "d":
			if len(parts) < 2 {
				fmt.Println("usage: delete <bytePointer>")
				continue
			}
			bp, err := strconv.Atoi(parts[1])
			if err != nil {
				fmt.Println("invalid byte pointer")
				continue
			}
			d.RemoveBreakpoint(bp)
		case "quit", "q":
			return false
		default:
			fmt.Printf("unknown command: %s (type 'help' for commands)\n", parts[0])
		}
	}
}

func (d *Debugger) showStack(proc oop.Ref) {
	h := d.vm.Heap
	ctx := processContext(h, proc)
	top := contextStackTop(h, ctx)
	stack := h.At(contextStack(h, ctx)).Fields
	fmt.Println("stack (top to bottom):")
	if top == 0 {
		fmt.Println("  (empty)")
		return
	}
	for i := top - 1; i >= 0; i-- {
		fmt.Printf("  [%d] %v\n", i, stack[i])
	}
}

func (d *Debugger) showBacktrace(proc oop.Ref) {
	ctx := processContext(d.vm.Heap, proc)
	for _, f := range d.vm.backtrace(ctx) {
		fmt.Printf("  %s (receiver: %s) [bp %d]\n", f.MethodName, f.ReceiverClass, f.BytePointer)
	}
}

func (d *Debugger) printHelp() {
	fmt.Println("debugger commands:")
	fmt.Println("  help, h, ?          show this help")
	fmt.Println("  continue, c         resume until the next breakpoint")
	fmt.Println("  step, s, next, n    execute a single bytecode")
	fmt.Println("  stack, st           show the current context's stack")
	fmt.Println("  backtrace, bt       show the context chain")
	fmt.Println("  breakpoint <n>, b   break when bytePointer reaches n")
	fmt.Println("  delete <n>, d       remove a breakpoint")
	fmt.Println("  quit, q             detach and let the process run to completion")
}
