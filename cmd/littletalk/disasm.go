package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/kristofer/littletalk/pkg/heap"
	"github.com/kristofer/littletalk/pkg/oop"
	"github.com/kristofer/littletalk/pkg/vm"
)

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#4682B4"))
	selectorStyle = lipgloss.NewStyle().Bold(true)
	opcodeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

func newDisasmCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "disasm <image>",
		Short: "print the class table and decoded bytecode of every method",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return disasmImage(args[0])
		},
	}
	return cmd
}

// disasmImage walks the globals dictionary for class entries and prints
// each one's method table, modeled on the teacher's disassembleFile but
// driven by the object heap's own Class/Method shapes instead of a flat
// constant pool (cmd/smog/main.go, SPEC_FULL.md §10.4).
func disasmImage(path string) error {
	h, g, err := openImage(path, 64, 0)
	if err != nil {
		return err
	}

	keys := h.At(g.Dictionary).Fields[oop.DictionaryKeys]
	values := h.At(g.Dictionary).Fields[oop.DictionaryValues]
	keyFields := h.At(keys).Fields
	valueFields := h.At(values).Fields

	for i, keyRef := range keyFields {
		name := string(h.At(keyRef).Bytes)
		class := valueFields[i]
		if class.IsSmallInt() || !isClass(h, g, class) {
			continue
		}
		printClass(h, name, class)
	}
	return nil
}

// isClass reports whether ref itself carries the Class shape: a pointer
// object with the Class field count whose methods field holds a
// Dictionary-shaped object. littletalk's bootstrap-built globals dictionary mixes class
// entries with nil/true/false and symbols, so disasm must filter.
func isClass(h *heap.Heap, g vm.Globals, ref oop.Ref) bool {
	obj := h.At(ref)
	if obj.IsBinary() || len(obj.Fields) != oop.ClassFieldCount {
		return false
	}
	methods := obj.Fields[oop.ClassMethods]
	if methods == g.Nil || methods.IsSmallInt() {
		return false
	}
	return len(h.At(methods).Fields) == oop.DictionaryFieldCount
}

func printClass(h *heap.Heap, name string, class oop.Ref) {
	fmt.Println(headerStyle.Render(fmt.Sprintf("=== %s ===", name)))

	fields := h.At(class).Fields
	methods := fields[oop.ClassMethods]
	selectors := h.At(methods).Fields[oop.DictionaryKeys]
	bodies := h.At(methods).Fields[oop.DictionaryValues]

	for i, selRef := range h.At(selectors).Fields {
		method := h.At(bodies).Fields[i]
		selector := string(h.At(selRef).Bytes)
		fmt.Println(selectorStyle.Render(selector))
		printMethod(h, method)
	}
	fmt.Println()
}

func printMethod(h *heap.Heap, method oop.Ref) {
	code := h.At(method).Fields[oop.MethodByteCodes]
	bytes := h.At(code).Bytes

	bp := 0
	for bp < len(bytes) {
		inst := vm.Decode(bytes, bp)
		fmt.Printf("  %s  %s\n", opcodeStyle.Render(fmt.Sprintf("%4d", inst.Byte)), inst.Disassemble())
		bp = inst.Next
	}
}
