// Package image implements the v3 portable heap image format from
// spec.md §4.3/§6: saving the live heap to a position-independent binary
// stream and restoring it on a later run, preserving object identity and
// the well-known root linkage the interpreter needs to resume.
//
// Encoding style (magic + version header, little-endian fixed-width
// fields via encoding/binary, %w-wrapped errors) is grounded on the
// teacher's own .sg bytecode codec, pkg/bytecode/format.go.
package image

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/kristofer/littletalk/pkg/heap"
	"github.com/kristofer/littletalk/pkg/oop"
)

// Magic is the four-byte file signature, "lst!" (spec.md §4.3/§6).
var Magic = [4]byte{'l', 's', 't', '!'}

// Version is the only image format this package reads or writes. Older
// formats (v0-2) relied on host-pointer-sized addresses and are refused
// outright, per spec.md §9's own recommendation (SPEC_FULL.md §13.1).
const Version = 3

// Roots bundles the well-known objects the image header carries by
// position, one field per header offset, six in all: globals,
// initialMethod, the three cached binary-selector symbols, and
// doesNotUnderstand:.
type Roots struct {
	Globals       oop.Ref
	InitialMethod oop.Ref
	LessThan      oop.Ref
	LessOrEqual   oop.Ref
	Plus          oop.Ref
	BadMethodSym  oop.Ref
}

func (r *Roots) slots() []*oop.Ref {
	return []*oop.Ref{&r.Globals, &r.InitialMethod, &r.LessThan, &r.LessOrEqual, &r.Plus, &r.BadMethodSym}
}

// UnsupportedVersionError reports an image whose version this package
// does not implement.
type UnsupportedVersionError struct{ Version uint32 }

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("image: unsupported version %d, only version %d is supported", e.Version, Version)
}

// Save forces a full collection (compacting the heap and dropping any
// interpreter-side cache via the heap's collect hooks), then writes the
// entire live object graph to w in format v3.
//
// Because every reference is written as an index into the post-collection
// object table — itself the post-collection table is written out in slot
// order — the stream is position-independent: reloading it rebuilds an
// isomorphic graph regardless of where in memory (or in the file) any
// given object ends up.
func Save(h *heap.Heap, roots Roots, w io.Writer) error {
	// roots is a copy, not a registered root slot: pin its fields so the
	// collection rewrites them to the compacted indices written below.
	slots := roots.slots()
	for i, slot := range slots {
		if err := h.PushRoot(slot); err != nil {
			for ; i > 0; i-- {
				h.PopRoot()
			}
			return fmt.Errorf("image: pinning roots: %w", err)
		}
	}
	h.Collect()
	for range slots {
		h.PopRoot()
	}

	if _, err := w.Write(Magic[:]); err != nil {
		return fmt.Errorf("image: writing magic: %w", err)
	}
	if err := writeU32(w, Version); err != nil {
		return fmt.Errorf("image: writing version: %w", err)
	}
	if err := writeU32(w, uint32(h.Used())); err != nil {
		return fmt.Errorf("image: writing cell count: %w", err)
	}
	for _, slot := range roots.slots() {
		if err := writeU32(w, uint32(*slot)); err != nil {
			return fmt.Errorf("image: writing root offset: %w", err)
		}
	}

	for i := 0; i < h.Used(); i++ {
		obj := h.At(oop.RefForIndex(i))
		if err := writeObject(w, obj); err != nil {
			return fmt.Errorf("image: writing object %d: %w", i, err)
		}
	}
	return nil
}

func writeObject(w io.Writer, obj *heap.Object) error {
	if err := writeU32(w, uint32(obj.Header)); err != nil {
		return err
	}
	if err := writeU32(w, uint32(obj.Class)); err != nil {
		return err
	}
	if obj.IsBinary() {
		_, err := w.Write(obj.Bytes)
		return err
	}
	for _, f := range obj.Fields {
		if err := writeU32(w, uint32(f)); err != nil {
			return err
		}
	}
	return nil
}

// Load reads a v3 image from r, rebuilding the heap and resolving the
// six well-known roots against the freshly restored object table
// (spec.md §4.3's load procedure). rootStackDepth sizes the new heap's
// dynamic root stack; extraCapacity reserves extra object slots beyond
// the image's own cell count so the interpreter can allocate immediately
// without forcing a collection on its very first bytecode.
func Load(r io.Reader, rootStackDepth, extraCapacity int) (*heap.Heap, Roots, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, Roots{}, fmt.Errorf("image: reading magic: %w", err)
	}
	if magic != Magic {
		return nil, Roots{}, fmt.Errorf("image: bad magic %q, expected %q", magic, Magic)
	}

	version, err := readU32(r)
	if err != nil {
		return nil, Roots{}, fmt.Errorf("image: reading version: %w", err)
	}
	if version != Version {
		return nil, Roots{}, &UnsupportedVersionError{Version: version}
	}

	cellCount, err := readU32(r)
	if err != nil {
		return nil, Roots{}, fmt.Errorf("image: reading cell count: %w", err)
	}

	var roots Roots
	for _, slot := range roots.slots() {
		v, err := readU32(r)
		if err != nil {
			return nil, Roots{}, fmt.Errorf("image: reading root offset: %w", err)
		}
		*slot = oop.Ref(int32(v))
	}

	objects := make([]*heap.Object, cellCount)
	for i := range objects {
		obj, err := readObject(r)
		if err != nil {
			return nil, Roots{}, fmt.Errorf("image: reading object %d: %w", i, err)
		}
		objects[i] = obj
	}

	h := heap.Restore(objects, int(cellCount)+extraCapacity, rootStackDepth)
	for _, slot := range roots.slots() {
		h.RegisterStaticRoot(slot)
	}
	return h, roots, nil
}

func readObject(r io.Reader) (*heap.Object, error) {
	headerWord, err := readU32(r)
	if err != nil {
		return nil, err
	}
	header := oop.HeaderWord(headerWord).WithGCDoneCleared()

	classWord, err := readU32(r)
	if err != nil {
		return nil, err
	}
	class := oop.Ref(int32(classWord))

	obj := &heap.Object{Header: header, Class: class}
	if header.IsBinary() {
		buf := make([]byte, header.Size())
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		obj.Bytes = buf
		return obj, nil
	}

	fields := make([]oop.Ref, header.Size())
	for i := range fields {
		v, err := readU32(r)
		if err != nil {
			return nil, err
		}
		fields[i] = oop.Ref(int32(v))
	}
	obj.Fields = fields
	return obj, nil
}

func writeU32(w io.Writer, v uint32) error {
	return binary.Write(w, binary.LittleEndian, v)
}

func readU32(r io.Reader) (uint32, error) {
	var v uint32
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}
