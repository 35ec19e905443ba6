// Package heap implements the two-space copying object memory described in
// spec.md §4.1: a uniform tagged-object heap, a Cheney-style collector, and
// the dynamic/static root set the collector walks (§4.2).
//
// Objects live in an object table (a fixed-capacity []*Object) rather than
// a raw byte arena; oop.Ref addresses a slot in whichever half of the table
// is presently active. This is the adaptation recorded in SPEC_FULL.md §13.3:
// Go gives no safe equivalent of the original C source's raw pointer
// arithmetic over a malloc'd block, so identity and position-independence
// are expressed as object-table indices instead of byte offsets. Every
// externally observable property spec.md asks for — round-trip fidelity,
// forwarding during GC, root-set discipline — holds under this scheme.
package heap

import "github.com/kristofer/littletalk/pkg/oop"

// Object is one heap object: a header word, a class reference, and either
// pointer fields or raw bytes depending on the header's binary flag. This
// mirrors struct object / struct byteObject from memory.h, minus the flags
// that only make sense for literal memory layout.
type Object struct {
	Header oop.HeaderWord
	Class  oop.Ref
	Fields []oop.Ref // non-nil only for pointer objects
	Bytes  []byte    // non-nil only for byte objects

	forwarded bool
	forward   oop.Ref
}

// IsBinary reports whether o is a byte object.
func (o *Object) IsBinary() bool { return o.Header.IsBinary() }

// Size is the field count (pointer objects) or byte count (byte objects),
// i.e. spec.md's header "size" — field index 0 of any object is its class
// pointer per §3, which is why Size never counts the class slot.
func (o *Object) Size() int { return o.Header.Size() }

// wordFootprint approximates the number of machine words o occupies, for
// GC statistics (spec.md §4.1's "bytes copied"): header + class + payload.
func (o *Object) wordFootprint() int {
	if o.IsBinary() {
		return 2 + (len(o.Bytes)+7)/8
	}
	return 2 + len(o.Fields)
}

func cloneObject(o *Object) *Object {
	c := &Object{Header: o.Header.WithGCDoneCleared(), Class: o.Class}
	if o.IsBinary() {
		c.Bytes = append([]byte(nil), o.Bytes...)
	} else {
		c.Fields = append([]oop.Ref(nil), o.Fields...)
	}
	return c
}
