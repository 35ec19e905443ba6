package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kristofer/littletalk/pkg/vm"
)

func newDebugCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "debug <image>",
		Short: "load an image and step its initial method under an interactive debugger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return debugImage(args[0])
		},
	}
	return cmd
}

// debugImage builds the same top-level Process run does, then hands it to
// pkg/vm.Debugger instead of driving Execute directly (SPEC_FULL.md
// §10.4), opening an interactive chzyer/readline prompt where the
// teacher's own debugger reads lines with bufio.Scanner.
func debugImage(path string) error {
	h, g, err := openImage(path, 64, 1024)
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
	debugger := vm.NewDebugger(machine)

	outcome, err := debugger.Run(proc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "littletalk: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("finished: %s\n", outcome)
	return nil
}
