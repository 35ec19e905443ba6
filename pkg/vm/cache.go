package vm

import "github.com/kristofer/littletalk/pkg/oop"

// inlineCache is the fixed-size open-addressed (selector, class) → method
// table spec.md §4.5 describes. Size must be a power of two; Config.CacheSize
// lets an embedder tune it while keeping that constraint (SPEC_FULL.md §13.4
// records this as the resolution of the source's "hard-coded cache size"
// open question).
type inlineCache struct {
	mask    uint32
	entries []cacheEntry
}

type cacheEntry struct {
	valid    bool
	class    oop.Ref
	selector oop.Ref
	method   oop.Ref
}

func newInlineCache(size int) *inlineCache {
	if size&(size-1) != 0 || size <= 0 {
		panic("vm: inline cache size must be a power of two")
	}
	return &inlineCache{mask: uint32(size - 1), entries: make([]cacheEntry, size)}
}

// hash combines the two reference values the way a small open-addressed
// table typically does: multiply-mix then mask, cheap and well-distributed
// enough for the (class, selector) pairs a running image actually sees.
func (c *inlineCache) hash(class, selector oop.Ref) uint32 {
	h := uint32(class)*2654435761 ^ uint32(selector)*40503
	return h & c.mask
}

func (c *inlineCache) lookup(class, selector oop.Ref) (oop.Ref, bool) {
	e := &c.entries[c.hash(class, selector)]
	if e.valid && e.class == class && e.selector == selector {
		return e.method, true
	}
	return 0, false
}

func (c *inlineCache) insert(class, selector, method oop.Ref) {
	c.entries[c.hash(class, selector)] = cacheEntry{valid: true, class: class, selector: selector, method: method}
}

// flush clears every slot. Registered as a heap collect-hook (spec.md
// §4.5: "flushed ... at the end of every garbage collection") and also
// called directly whenever the methods dictionary is mutated (§4.5, §9).
func (c *inlineCache) flush() {
	for i := range c.entries {
		c.entries[i] = cacheEntry{}
	}
}
