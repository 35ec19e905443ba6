package main

import (
	"fmt"
	"os"

	"github.com/kristofer/littletalk/pkg/heap"
	"github.com/kristofer/littletalk/pkg/image"
	"github.com/kristofer/littletalk/pkg/vm"
)

// openImage loads a v3 image from path and resolves its well-known
// globals, the same two-step sequence every subcommand needs before it
// can touch the heap (image.Load only carries the six header-persisted
// roots; everything else is an ordinary dictionary entry, see
// vm.ResolveGlobals).
func openImage(path string, rootStackDepth, extraCapacity int) (*heap.Heap, vm.Globals, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, vm.Globals{}, fmt.Errorf("littletalk: opening %s: %w", path, err)
	}
	defer f.Close()

	h, roots, err := image.Load(f, rootStackDepth, extraCapacity)
	if err != nil {
		return nil, vm.Globals{}, fmt.Errorf("littletalk: loading %s: %w", path, err)
	}
	g, err := vm.ResolveGlobals(h, roots)
	if err != nil {
		return nil, vm.Globals{}, fmt.Errorf("littletalk: resolving globals in %s: %w", path, err)
	}
	return h, g, nil
}
