package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kristofer/littletalk/pkg/image"
)

func newSaveCommand() *cobra.Command {
	var rootStackDepth, extraCapacity int
	cmd := &cobra.Command{
		Use:   "save <image-in> <image-out>",
		Short: "load an image and immediately re-save it, compacting the heap",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return saveImage(args[0], args[1], rootStackDepth, extraCapacity)
		},
	}
	cmd.Flags().IntVar(&rootStackDepth, "root-stack-depth", 64, "dynamic root stack depth")
	cmd.Flags().IntVar(&extraCapacity, "extra-capacity", 0, "extra object slots reserved beyond the image's own cell count")
	return cmd
}

// saveImage exercises the "force a full collection, then write" path
// standalone, useful for compacting or migrating an image without
// running it (SPEC_FULL.md §10.4).
func saveImage(inPath, outPath string, rootStackDepth, extraCapacity int) error {
	in, err := os.Open(inPath)
	if err != nil {
		return fmt.Errorf("littletalk: opening %s: %w", inPath, err)
	}
	heap, loadedRoots, err := image.Load(in, rootStackDepth, extraCapacity)
	in.Close()
	if err != nil {
		return fmt.Errorf("littletalk: loading %s: %w", inPath, err)
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("littletalk: creating %s: %w", outPath, err)
	}
	defer out.Close()

	if err := image.Save(heap, loadedRoots, out); err != nil {
		return fmt.Errorf("littletalk: saving %s: %w", outPath, err)
	}
	fmt.Printf("saved %s -> %s\n", inPath, outPath)
	return nil
}
