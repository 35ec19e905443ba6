// Command littletalk is the runtime CLI over the image format and
// interpreter: load a saved heap, run its entry method, inspect its
// bytecode, or step it under a debugger. Grounded on the teacher's
// cmd/smog/main.go, rebuilt as a github.com/spf13/cobra command tree
// instead of a hand-rolled os.Args switch (SPEC_FULL.md §10.4).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

func main() {
	root := &cobra.Command{
		Use:     "littletalk",
		Short:   "littletalk is a small Smalltalk-style object memory and bytecode interpreter",
		Version: version,
	}
	root.AddCommand(newRunCommand())
	root.AddCommand(newSaveCommand())
	root.AddCommand(newDisasmCommand())
	root.AddCommand(newDebugCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
