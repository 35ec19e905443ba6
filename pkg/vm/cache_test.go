package vm

import (
	"testing"

	"github.com/kristofer/littletalk/pkg/oop"
)

func TestInlineCacheHitAndFlush(t *testing.T) {
	c := newInlineCache(16)
	class, selector, method := oop.Ref(10), oop.Ref(12), oop.Ref(14)

	if _, ok := c.lookup(class, selector); ok {
		t.Fatal("expected a miss before insert")
	}
	c.insert(class, selector, method)
	got, ok := c.lookup(class, selector)
	if !ok || got != method {
		t.Fatalf("expected cache hit, got %v %v", got, ok)
	}

	c.flush()
	if _, ok := c.lookup(class, selector); ok {
		t.Fatal("expected a miss after flush")
	}
}

func TestNewInlineCacheRejectsNonPowerOfTwo(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic for a non-power-of-two size")
		}
	}()
	newInlineCache(100)
}
