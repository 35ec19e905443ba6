package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kristofer/littletalk/pkg/heap"
	"github.com/kristofer/littletalk/pkg/vm"
)

func newRunCommand() *cobra.Command {
	var rootStackDepth, extraCapacity int
	cmd := &cobra.Command{
		Use:   "run <image>",
		Short: "load an image and run its initial method to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImage(args[0], rootStackDepth, extraCapacity)
		},
	}
	cmd.Flags().IntVar(&rootStackDepth, "root-stack-depth", 64, "dynamic root stack depth")
	cmd.Flags().IntVar(&extraCapacity, "extra-capacity", 1024, "extra object slots reserved beyond the image's own cell count")
	return cmd
}

// runImage builds a top-level Process around initialMethod and drives it
// to completion with an unbounded tick budget (spec.md §6's "Runtime CLI
// contract"), then maps the interpreter's terminal outcome to a process
// exit code (spec.md §7).
func runImage(path string, rootStackDepth, extraCapacity int) error {
	h, g, err := openImage(path, rootStackDepth, extraCapacity)
	if err != nil {
		return err
	}

	objectClass, err := vm.ObjectClass(h, g)
	if err != nil {
		return err
	}
	receiver, err := h.Alloc(objectClass, 0, g.Nil)
	if err != nil {
		return err
	}
	proc, err := vm.NewProcess(h, g, g.InitialMethod, receiver)
	if err != nil {
		return err
	}

	machine := vm.New(h, g, vm.Config{})
	outcome, err := machine.Execute(proc, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "littletalk: %v\n", err)
		switch err.(type) {
		case *vm.FatalError, *heap.FatalError:
			os.Exit(3)
		}
		os.Exit(1)
	}

	switch outcome {
	case vm.Returned, vm.UserReturn:
		os.Exit(0)
	case vm.BadMethod:
		os.Exit(1)
	case vm.TimeExpired:
		os.Exit(2)
	default:
		os.Exit(1)
	}
	return nil
}
