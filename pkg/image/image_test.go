package image

import (
	"bytes"
	"testing"

	"github.com/kristofer/littletalk/pkg/heap"
	"github.com/kristofer/littletalk/pkg/oop"
)

// buildSample constructs a tiny heap: a nil object, a symbol byte object,
// and a pointer object whose two fields both reference the same symbol,
// to exercise identity preservation across the round trip.
func buildSample(t *testing.T) (*heap.Heap, Roots, oop.Ref) {
	t.Helper()
	h := heap.New(32, 32)

	nilRef, err := h.Alloc(0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	sym, err := h.AllocBytes(nilRef, []byte("doesNotUnderstand:"))
	if err != nil {
		t.Fatal(err)
	}
	container, err := h.Alloc(nilRef, 2, nilRef)
	if err != nil {
		t.Fatal(err)
	}
	h.At(container).Fields[0] = sym
	h.At(container).Fields[1] = sym

	roots := Roots{
		Globals:       nilRef,
		InitialMethod: container,
		LessThan:      sym,
		LessOrEqual:   sym,
		Plus:          sym,
		BadMethodSym:  sym,
	}
	return h, roots, container
}

func TestSaveLoadRoundTrip(t *testing.T) {
	h, roots, container := buildSample(t)

	var buf bytes.Buffer
	if err := Save(h, roots, &buf); err != nil {
		t.Fatalf("Save: %v", err)
	}

	h2, roots2, err := Load(&buf, 64, 16)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if roots2.InitialMethod.Index() >= h2.Used() {
		t.Fatalf("initialMethod root out of range after load")
	}
	obj := h2.At(roots2.InitialMethod)
	if len(obj.Fields) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(obj.Fields))
	}
	if obj.Fields[0] != obj.Fields[1] {
		t.Fatalf("shared reference not preserved: %v != %v", obj.Fields[0], obj.Fields[1])
	}

	sym := h2.At(obj.Fields[0])
	if string(sym.Bytes) != "doesNotUnderstand:" {
		t.Fatalf("symbol bytes not preserved: %q", sym.Bytes)
	}
	if roots2.BadMethodSym != obj.Fields[0] {
		t.Fatalf("badMethodSym root should alias the same symbol object")
	}
	_ = container
}

func TestLoadRejectsBadMagic(t *testing.T) {
	buf := bytes.NewBufferString("nope")
	if _, _, err := Load(buf, 8, 8); err == nil {
		t.Fatal("expected an error for bad magic")
	}
}

func TestLoadRejectsOldVersion(t *testing.T) {
	h, roots, _ := buildSample(t)
	var buf bytes.Buffer
	if err := Save(h, roots, &buf); err != nil {
		t.Fatal(err)
	}
	raw := buf.Bytes()
	// Version field follows the 4-byte magic.
	raw[4] = 2
	raw[5], raw[6], raw[7] = 0, 0, 0

	_, _, err := Load(bytes.NewReader(raw), 8, 8)
	if err == nil {
		t.Fatal("expected version 2 to be rejected")
	}
	if _, ok := err.(*UnsupportedVersionError); !ok {
		t.Fatalf("expected *UnsupportedVersionError, got %T: %v", err, err)
	}
}
