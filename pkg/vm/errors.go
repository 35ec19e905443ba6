// Errors and back-trace formatting. Grounded on the teacher's
// pkg/vm/errors.go: a StackFrame/RuntimeError pair with an Error() method
// that renders a back-trace, generalized here to spec.md §7's taxonomy
// (bad method, fatal) and built from the context chain rather than a
// host-language call stack, since contexts are themselves heap objects.
package vm

import (
	"fmt"
	"strings"

	"github.com/kristofer/littletalk/pkg/heap"
	"github.com/kristofer/littletalk/pkg/oop"
)

// StackFrame describes one context in a back-trace: the method's name, the
// receiver's class name, the class names of the remaining arguments, and
// the byte pointer, per spec.md §7's
// "Back-trace formatting prints method name plus receiver-class names of
// arguments for each context up the chain."
type StackFrame struct {
	MethodName     string
	ReceiverClass  string
	ArgumentClasses []string
	BytePointer    int
}

// RuntimeError reports a bad-method failure: a selector unresolved even
// after the doesNotUnderstand: retry, or a non-local return that escaped
// its home method (spec.md §7).
type RuntimeError struct {
	Selector string
	Trace    []StackFrame
}

func (e *RuntimeError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "did not understand #%s", e.Selector)
	for _, f := range e.Trace {
		fmt.Fprintf(&b, "\n  at %s (receiver: %s", f.MethodName, f.ReceiverClass)
		if len(f.ArgumentClasses) > 0 {
			fmt.Fprintf(&b, ", args: %s", strings.Join(f.ArgumentClasses, ", "))
		}
		fmt.Fprintf(&b, ") [bp %d]", f.BytePointer)
	}
	return b.String()
}

// FatalError reports an unrecoverable condition (spec.md §7) detected by
// this package itself, such as a well-known global missing from a loaded
// image. Allocation failure after compacting and root-stack overflow come
// from pkg/heap as *heap.FatalError instead.
type FatalError struct{ Message string }

func (e *FatalError) Error() string { return e.Message }

func fatalf(format string, args ...interface{}) error {
	return &FatalError{Message: fmt.Sprintf(format, args...)}
}

// className resolves a class reference to a display name by reading its
// name symbol's bytes, falling back to a placeholder for nil.
func className(h *heap.Heap, class oop.Ref) string {
	if class == 0 {
		return "nil"
	}
	nameSym := h.At(class).Fields[oop.ClassName]
	return string(h.At(nameSym).Bytes)
}

// backtrace walks previousContext links from ctx, building one StackFrame
// per activation, for reporting on the interpreter's bad-method path.
func (v *VM) backtrace(ctx oop.Ref) []StackFrame {
	h := v.Heap
	var frames []StackFrame
	for ctx != v.Globals.Nil {
		method := contextMethod(h, ctx)
		nameSym := h.At(method).Fields[oop.MethodName]
		args := h.At(contextArguments(h, ctx)).Fields

		var receiver string
		var argClasses []string
		if len(args) > 0 {
			receiver = className(h, v.classOf(args[0]))
			for _, a := range args[1:] {
				argClasses = append(argClasses, className(h, v.classOf(a)))
			}
		}
		frames = append(frames, StackFrame{
			MethodName:      string(h.At(nameSym).Bytes),
			ReceiverClass:   receiver,
			ArgumentClasses: argClasses,
			BytePointer:     contextBytePointer(h, ctx),
		})
		ctx = contextPrevious(h, ctx)
	}
	return frames
}
