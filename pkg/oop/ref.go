// Package oop defines the tagged-value layer shared by the heap, the
// interpreter, and the image codec: the distinction between small integers
// (carried inline, never heap-allocated) and references to heap objects,
// plus the object header word every heap object begins with.
//
// This mirrors memory.h from the original Little Smalltalk C sources
// (IS_SMALLINT/newInteger/integerValue, SIZE/SETSIZE, FLAG_GCDONE/FLAG_BIN),
// adapted to Go: a Ref is not a raw pointer but a tagged 32-bit value that is
// either a small integer or an index into whichever heap half is currently
// active (see pkg/heap). Index-based addressing plays the role the C source
// gives to pointer arithmetic, without resorting to unsafe.Pointer.
package oop

import "fmt"

// Ref is an oop: either a small integer or a reference to a heap object.
//
// Tag bit (bit 0):
//   1 -> small integer, value = int32(ref) >> 1 (arithmetic shift, sign preserved)
//   0 -> index into the active half of the heap's object table
//
// The zero Ref is a valid object-table index (slot 0); there is no sentinel
// "null" value. nil, true and false are ordinary heap objects reached
// through well-known globals, exactly as spec.md's data model requires.
type Ref int32

// MinSmallInt and MaxSmallInt bound the range a Ref can carry tagged: the
// signed 31-bit range left beside the tag bit, so that doubling during
// the tag shift never overflows int32.
const (
	MaxSmallInt = 1<<30 - 1
	MinSmallInt = -(1 << 30)
)

// NewSmallInt tags v as a small integer Ref. Panics if v does not fit;
// callers at the bytecode/primitive boundary are expected to check
// FitsSmallInt first and fall back to bignum primitives otherwise, per
// spec.md §9 ("overflow ... must return a heap-allocated large-integer
// ... or fail").
func NewSmallInt(v int32) Ref {
	if v < MinSmallInt || v > MaxSmallInt {
		panic(fmt.Sprintf("oop: %d does not fit in a small integer", v))
	}
	return Ref(v<<1 | 1)
}

// FitsSmallInt reports whether v can be tagged without truncation.
func FitsSmallInt(v int64) bool {
	return v >= MinSmallInt && v <= MaxSmallInt
}

// IsSmallInt reports whether r carries an inline integer.
func (r Ref) IsSmallInt() bool { return r&1 == 1 }

// SmallIntValue returns the integer carried by r. Undefined if !r.IsSmallInt().
func (r Ref) SmallIntValue() int32 { return int32(r) >> 1 }

// Index returns the object-table slot r addresses. Undefined if r.IsSmallInt().
func (r Ref) Index() int { return int(r >> 1) }

// RefForIndex builds a heap-object Ref addressing slot i.
func RefForIndex(i int) Ref { return Ref(i << 1) }

// HeaderWord is the one-word object header: size in the high bits, two flag
// bits low, matching memory.h's SIZE/SETSIZE/FLAG_GCDONE/FLAG_BIN layout
// (size = header/4, flags = header&0x3).
type HeaderWord uint32

const (
	// FlagGCDone marks an object as already forwarded during the
	// collection currently in progress.
	FlagGCDone HeaderWord = 0x01
	// FlagBinary marks an object as a byte object (string/symbol/bytecodes)
	// rather than a pointer object.
	FlagBinary HeaderWord = 0x02
)

// MakeHeader packs a field/byte count and flags into a header word.
func MakeHeader(size int, binary bool) HeaderWord {
	h := HeaderWord(size) << 2
	if binary {
		h |= FlagBinary
	}
	return h
}

// Size returns the field count (pointer objects) or byte count (byte objects).
func (h HeaderWord) Size() int { return int(h >> 2) }

// IsBinary reports whether the object is a byte object.
func (h HeaderWord) IsBinary() bool { return h&FlagBinary != 0 }

// GCDone reports whether the object has already been forwarded this collection.
func (h HeaderWord) GCDone() bool { return h&FlagGCDone != 0 }

// WithGCDone returns h with the forwarded flag set.
func (h HeaderWord) WithGCDone() HeaderWord { return h | FlagGCDone }

// WithGCDoneCleared returns h with the forwarded flag cleared, used when an
// object is copied into a fresh space where it starts unforwarded again.
func (h HeaderWord) WithGCDoneCleared() HeaderWord { return h &^ FlagGCDone }
