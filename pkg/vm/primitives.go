// Primitive dispatch (spec.md §4.7): a single numbered entry point the
// DoPrimitive bytecode calls, receiving the arguments already popped off
// the stack and returning either a result or a failure signal for the
// bytecode fallback to handle. The primitive numbers themselves are
// supplemented from original_source/'s prim.c, per SPEC_FULL.md §12; the
// teacher has no primitive layer of its own (its built-ins are ordinary Go
// functions called from the tree-walker), so the "one primitive, one case"
// switch style here is modeled on prim.c's own dispatch shape instead.
package vm

import (
	"bytes"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kristofer/littletalk/pkg/heap"
	"github.com/kristofer/littletalk/pkg/image"
	"github.com/kristofer/littletalk/pkg/oop"
)

// PrimitiveFunc receives the primitive's already-popped arguments (args[0]
// is the receiver for every primitive below) and returns (result, ok,
// err). ok false means "primitive failed," the protocol spec.md §4.6
// describes as falling back to bytecode; err non-nil is a fatal VM
// condition (a primitive usage bug), never a normal Smalltalk-level
// failure.
type PrimitiveFunc func(v *VM, proc oop.Ref, args []oop.Ref) (oop.Ref, bool, error)

var primitiveTable = map[int]PrimitiveFunc{
	10: primAdd,
	11: primSub,
	12: primMul,
	13: primDiv,
	14: primMod,
	15: primLessThan,
	16: primLessOrEqual,
	17: primEqual,
	18: primNotEqual,
	19: primBitAnd,
	20: primBitOr,
	21: primBitXor,
	22: primBitShift,
	23: primIdentity,
	24: primClass,
	25: primIsKindOf,
	26: primBasicNew,
	27: primBasicNewColon,
	28: primHash,
	29: primAsSymbol,

	30: primAt,
	31: primAtPut,
	32: primSize,

	48: primProcessNew,
	// 49 (primProcessRun) is registered in init below: it calls Execute,
	// which reads this table, so a literal entry would form an
	// initialization cycle.

	100: primFileOpen,
	101: primFileReadChar,
	102: primFileWriteChar,
	103: primFileClose,
	104: primFileOutImage,
	105: primFileReadBytes,
	106: primFileWriteBytes,
	107: primFileSeek,

	150: primSubstringMatch,
	151: primURLEncode,
	152: primURLDecode,

	160: primDebugTimestamp,
}

func init() { primitiveTable[49] = primProcessRun }

func requireSmallInts(args ...oop.Ref) bool {
	for _, a := range args {
		if !a.IsSmallInt() {
			return false
		}
	}
	return true
}

// --- 10-29: core primitives -------------------------------------------------

func primAdd(v *VM, proc oop.Ref, args []oop.Ref) (oop.Ref, bool, error) {
	if !requireSmallInts(args...) {
		return 0, false, nil
	}
	sum := int64(args[0].SmallIntValue()) + int64(args[1].SmallIntValue())
	if !oop.FitsSmallInt(sum) {
		return 0, false, nil
	}
	return oop.NewSmallInt(int32(sum)), true, nil
}

func primSub(v *VM, proc oop.Ref, args []oop.Ref) (oop.Ref, bool, error) {
	if !requireSmallInts(args...) {
		return 0, false, nil
	}
	diff := int64(args[0].SmallIntValue()) - int64(args[1].SmallIntValue())
	if !oop.FitsSmallInt(diff) {
		return 0, false, nil
	}
	return oop.NewSmallInt(int32(diff)), true, nil
}

func primMul(v *VM, proc oop.Ref, args []oop.Ref) (oop.Ref, bool, error) {
	if !requireSmallInts(args...) {
		return 0, false, nil
	}
	product := int64(args[0].SmallIntValue()) * int64(args[1].SmallIntValue())
	if !oop.FitsSmallInt(product) {
		return 0, false, nil
	}
	return oop.NewSmallInt(int32(product)), true, nil
}

func primDiv(v *VM, proc oop.Ref, args []oop.Ref) (oop.Ref, bool, error) {
	if !requireSmallInts(args...) || args[1].SmallIntValue() == 0 {
		return 0, false, nil
	}
	return oop.NewSmallInt(args[0].SmallIntValue() / args[1].SmallIntValue()), true, nil
}

func primMod(v *VM, proc oop.Ref, args []oop.Ref) (oop.Ref, bool, error) {
	if !requireSmallInts(args...) || args[1].SmallIntValue() == 0 {
		return 0, false, nil
	}
	return oop.NewSmallInt(args[0].SmallIntValue() % args[1].SmallIntValue()), true, nil
}

func primLessThan(v *VM, proc oop.Ref, args []oop.Ref) (oop.Ref, bool, error) {
	if !requireSmallInts(args...) {
		return 0, false, nil
	}
	return v.boolRef(args[0].SmallIntValue() < args[1].SmallIntValue()), true, nil
}

func primLessOrEqual(v *VM, proc oop.Ref, args []oop.Ref) (oop.Ref, bool, error) {
	if !requireSmallInts(args...) {
		return 0, false, nil
	}
	return v.boolRef(args[0].SmallIntValue() <= args[1].SmallIntValue()), true, nil
}

func primEqual(v *VM, proc oop.Ref, args []oop.Ref) (oop.Ref, bool, error) {
	return v.boolRef(args[0] == args[1]), true, nil
}

func primNotEqual(v *VM, proc oop.Ref, args []oop.Ref) (oop.Ref, bool, error) {
	return v.boolRef(args[0] != args[1]), true, nil
}

func primBitAnd(v *VM, proc oop.Ref, args []oop.Ref) (oop.Ref, bool, error) {
	if !requireSmallInts(args...) {
		return 0, false, nil
	}
	return oop.NewSmallInt(args[0].SmallIntValue() & args[1].SmallIntValue()), true, nil
}

func primBitOr(v *VM, proc oop.Ref, args []oop.Ref) (oop.Ref, bool, error) {
	if !requireSmallInts(args...) {
		return 0, false, nil
	}
	return oop.NewSmallInt(args[0].SmallIntValue() | args[1].SmallIntValue()), true, nil
}

func primBitXor(v *VM, proc oop.Ref, args []oop.Ref) (oop.Ref, bool, error) {
	if !requireSmallInts(args...) {
		return 0, false, nil
	}
	return oop.NewSmallInt(args[0].SmallIntValue() ^ args[1].SmallIntValue()), true, nil
}

func primBitShift(v *VM, proc oop.Ref, args []oop.Ref) (oop.Ref, bool, error) {
	if !requireSmallInts(args...) {
		return 0, false, nil
	}
	shift := args[1].SmallIntValue()
	var result int32
	if shift >= 0 {
		result = args[0].SmallIntValue() << uint(shift)
	} else {
		result = args[0].SmallIntValue() >> uint(-shift)
	}
	if !oop.FitsSmallInt(int64(result)) {
		return 0, false, nil
	}
	return oop.NewSmallInt(result), true, nil
}

func primIdentity(v *VM, proc oop.Ref, args []oop.Ref) (oop.Ref, bool, error) {
	return v.boolRef(args[0] == args[1]), true, nil
}

func primClass(v *VM, proc oop.Ref, args []oop.Ref) (oop.Ref, bool, error) {
	return v.classOf(args[0]), true, nil
}

func primIsKindOf(v *VM, proc oop.Ref, args []oop.Ref) (oop.Ref, bool, error) {
	class := v.classOf(args[0])
	target := args[1]
	for class != v.Globals.Nil {
		if class == target {
			return v.Globals.True, true, nil
		}
		class = v.Heap.At(class).Fields[oop.ClassParent]
	}
	return v.Globals.False, true, nil
}

func primBasicNew(v *VM, proc oop.Ref, args []oop.Ref) (oop.Ref, bool, error) {
	class := args[0]
	size := int(v.Heap.At(class).Fields[oop.ClassInstanceSize].SmallIntValue())
	ref, err := v.Heap.Alloc(class, size, v.Globals.Nil)
	if err != nil {
		return 0, false, err
	}
	return ref, true, nil
}

func primBasicNewColon(v *VM, proc oop.Ref, args []oop.Ref) (oop.Ref, bool, error) {
	class := args[0]
	if !args[1].IsSmallInt() {
		return 0, false, nil
	}
	size := int(args[1].SmallIntValue())
	if class == v.Globals.StringClass || class == v.Globals.ByteArrayClass || class == v.Globals.SymbolClass {
		ref, err := v.Heap.AllocBytes(class, make([]byte, size))
		if err != nil {
			return 0, false, err
		}
		return ref, true, nil
	}
	ref, err := v.Heap.Alloc(class, size, v.Globals.Nil)
	if err != nil {
		return 0, false, err
	}
	return ref, true, nil
}

// primHash derives a stable small-integer hash: byte objects hash their
// content (so equal symbols/strings hash equal, matching spec.md §8's
// identity invariant), pointer objects hash their table identity.
func primHash(v *VM, proc oop.Ref, args []oop.Ref) (oop.Ref, bool, error) {
	recv := args[0]
	if recv.IsSmallInt() {
		return oop.NewSmallInt(recv.SmallIntValue()), true, nil
	}
	obj := v.Heap.At(recv)
	var h uint32 = 2166136261
	if obj.IsBinary() {
		for _, b := range obj.Bytes {
			h = (h ^ uint32(b)) * 16777619
		}
	} else {
		h = uint32(recv) * 2654435761
	}
	return oop.NewSmallInt(int32(h & oop.MaxSmallInt)), true, nil
}

// primAsSymbol interns args[0] (a String byte object) into the symbol
// table tree rooted at v.Globals.SymbolTable, returning the canonical
// symbol so textual equality implies pointer equality (spec.md §3, §8).
func primAsSymbol(v *VM, proc oop.Ref, args []oop.Ref) (oop.Ref, bool, error) {
	text := v.Heap.At(args[0]).Bytes
	sym, err := InternSymbol(v.Heap, &v.Globals.SymbolTable, v.Globals.Nil, v.Globals.SymbolClass, text)
	if err != nil {
		return 0, false, err
	}
	return sym, true, nil
}

// InternSymbol looks up text in the binary search tree rooted at *table,
// returning the existing Symbol object if one is already there. On a
// miss it allocates a new Symbol and links a new Node into the tree at
// the right spot, so every later lookup of the same text (from either
// the bootstrap assembler or the asSymbol: primitive) returns the same
// object — spec.md §3/§8's "textual equality implies pointer equality"
// applied to the symbol table itself, not just to interning within a
// single pass.
func InternSymbol(h *heap.Heap, table *oop.Ref, nilRef, symbolClass oop.Ref, text []byte) (oop.Ref, error) {
	node := *table
	parent := nilRef
	wentRight := false
	for node != nilRef {
		value := h.At(node).Fields[oop.NodeValue]
		c := bytes.Compare(h.At(value).Bytes, text)
		if c == 0 {
			return value, nil
		}
		parent = node
		if c < 0 {
			wentRight = true
			node = h.At(node).Fields[oop.NodeRight]
		} else {
			wentRight = false
			node = h.At(node).Fields[oop.NodeLeft]
		}
	}

	if err := h.PushRoot(table); err != nil {
		return 0, err
	}
	defer h.PopRoot()
	if err := h.PushRoot(&parent); err != nil {
		return 0, err
	}
	defer h.PopRoot()

	sym, err := h.AllocBytes(symbolClass, text)
	if err != nil {
		return 0, err
	}
	if err := h.PushRoot(&sym); err != nil {
		return 0, err
	}
	defer h.PopRoot()

	newNode, err := h.Alloc(nilRef, oop.NodeFieldCount, nilRef)
	if err != nil {
		return 0, err
	}
	fields := h.At(newNode).Fields
	fields[oop.NodeValue] = sym
	fields[oop.NodeLeft] = nilRef
	fields[oop.NodeRight] = nilRef

	switch {
	case parent == nilRef:
		*table = newNode
	case wentRight:
		h.At(parent).Fields[oop.NodeRight] = newNode
	default:
		h.At(parent).Fields[oop.NodeLeft] = newNode
	}
	return sym, nil
}

// --- 30-39: array / byte-array access --------------------------------------

// primAt implements at: for both pointer and byte-indexable objects, with
// 1-based Smalltalk indexing. Out-of-range is a primitive failure, not a
// panic, so bytecode fallback can raise a proper error (SPEC_FULL.md §12).
func primAt(v *VM, proc oop.Ref, args []oop.Ref) (oop.Ref, bool, error) {
	if !args[1].IsSmallInt() {
		return 0, false, nil
	}
	h := v.Heap
	obj := h.At(args[0])
	idx := int(args[1].SmallIntValue()) - 1
	if obj.IsBinary() {
		if idx < 0 || idx >= len(obj.Bytes) {
			return 0, false, nil
		}
		return oop.NewSmallInt(int32(obj.Bytes[idx])), true, nil
	}
	if idx < 0 || idx >= len(obj.Fields) {
		return 0, false, nil
	}
	return obj.Fields[idx], true, nil
}

func primAtPut(v *VM, proc oop.Ref, args []oop.Ref) (oop.Ref, bool, error) {
	if !args[1].IsSmallInt() {
		return 0, false, nil
	}
	h := v.Heap
	obj := h.At(args[0])
	idx := int(args[1].SmallIntValue()) - 1
	if obj.IsBinary() {
		if !args[2].IsSmallInt() || idx < 0 || idx >= len(obj.Bytes) {
			return 0, false, nil
		}
		obj.Bytes[idx] = byte(args[2].SmallIntValue())
		return args[2], true, nil
	}
	if idx < 0 || idx >= len(obj.Fields) {
		return 0, false, nil
	}
	obj.Fields[idx] = args[2]
	return args[2], true, nil
}

func primSize(v *VM, proc oop.Ref, args []oop.Ref) (oop.Ref, bool, error) {
	return oop.NewSmallInt(int32(v.Heap.At(args[0]).Size())), true, nil
}

// --- 40-49: block / process primitives -------------------------------------
//
// Block activation (primitive number PrimBlockActivate, 40) is handled
// directly in interp.go's doPrimitive, because it replaces the current
// context rather than returning a value; it is deliberately absent from
// this table.

func primProcessNew(v *VM, proc oop.Ref, args []oop.Ref) (oop.Ref, bool, error) {
	h := v.Heap
	class := args[0]
	p, err := h.Alloc(class, oop.ProcessFieldCount, v.Globals.Nil)
	if err != nil {
		return 0, false, err
	}
	setProcessStatus(h, p, oop.ProcessRunnable)
	return p, true, nil
}

func primProcessRun(v *VM, proc oop.Ref, args []oop.Ref) (oop.Ref, bool, error) {
	target := args[0]
	if _, err := v.Execute(target, 0); err != nil {
		return 0, false, err
	}
	return v.Heap.At(target).Fields[oop.ProcessResult], true, nil
}

// --- 100-108: file I/O, following prim.c's case numbers exactly -----------

func primFileOpen(v *VM, proc oop.Ref, args []oop.Ref) (oop.Ref, bool, error) {
	h := v.Heap
	name := string(h.At(args[0]).Bytes)
	mode := string(h.At(args[1]).Bytes)

	var flag int
	switch mode {
	case "r":
		flag = os.O_RDONLY
	case "w":
		flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	default:
		flag = os.O_RDWR | os.O_CREATE
	}
	f, err := os.OpenFile(name, flag, 0o644)
	if err != nil {
		return 0, false, nil
	}
	handle := v.nextFileHandle
	v.nextFileHandle++
	v.openFiles[handle] = f
	return oop.NewSmallInt(handle), true, nil
}

func primFileReadChar(v *VM, proc oop.Ref, args []oop.Ref) (oop.Ref, bool, error) {
	if !args[0].IsSmallInt() {
		return 0, false, nil
	}
	f, ok := v.openFiles[args[0].SmallIntValue()]
	if !ok {
		return 0, false, nil
	}
	var buf [1]byte
	if _, err := f.Read(buf[:]); err != nil {
		if err == io.EOF {
			return v.Globals.Nil, true, nil
		}
		return 0, false, nil
	}
	return oop.NewSmallInt(int32(buf[0])), true, nil
}

func primFileWriteChar(v *VM, proc oop.Ref, args []oop.Ref) (oop.Ref, bool, error) {
	if !args[0].IsSmallInt() || !args[1].IsSmallInt() {
		return 0, false, nil
	}
	f, ok := v.openFiles[args[0].SmallIntValue()]
	if !ok {
		return 0, false, nil
	}
	if _, err := f.Write([]byte{byte(args[1].SmallIntValue())}); err != nil {
		return 0, false, nil
	}
	return args[1], true, nil
}

func primFileClose(v *VM, proc oop.Ref, args []oop.Ref) (oop.Ref, bool, error) {
	if !args[0].IsSmallInt() {
		return 0, false, nil
	}
	f, ok := v.openFiles[args[0].SmallIntValue()]
	if !ok {
		return 0, false, nil
	}
	delete(v.openFiles, args[0].SmallIntValue())
	if err := f.Close(); err != nil {
		return 0, false, nil
	}
	return v.Globals.True, true, nil
}

// primFileOutImage is the only primitive that touches the image writer
// (SPEC_FULL.md §12): it lets the running language file-out its own live
// heap, exactly as the original bootstrap's doit loop does via prim.c 104.
func primFileOutImage(v *VM, proc oop.Ref, args []oop.Ref) (oop.Ref, bool, error) {
	h := v.Heap
	path := string(h.At(args[0]).Bytes)
	f, err := os.Create(path)
	if err != nil {
		return 0, false, nil
	}
	defer f.Close()

	roots := image.Roots{
		Globals:       v.Globals.Dictionary,
		InitialMethod: v.Globals.InitialMethod,
		LessThan:      v.Globals.LessThanSym,
		LessOrEqual:   v.Globals.LessOrEqualSym,
		Plus:          v.Globals.PlusSym,
		BadMethodSym:  v.Globals.BadMethodSym,
	}
	if err := image.Save(h, roots, f); err != nil {
		return 0, false, nil
	}
	return v.Globals.True, true, nil
}

func primFileReadBytes(v *VM, proc oop.Ref, args []oop.Ref) (oop.Ref, bool, error) {
	if !args[0].IsSmallInt() {
		return 0, false, nil
	}
	f, ok := v.openFiles[args[0].SmallIntValue()]
	if !ok {
		return 0, false, nil
	}
	h := v.Heap
	dest := h.At(args[1])
	n, err := f.Read(dest.Bytes)
	if err != nil && err != io.EOF {
		return 0, false, nil
	}
	return oop.NewSmallInt(int32(n)), true, nil
}

func primFileWriteBytes(v *VM, proc oop.Ref, args []oop.Ref) (oop.Ref, bool, error) {
	if !args[0].IsSmallInt() {
		return 0, false, nil
	}
	f, ok := v.openFiles[args[0].SmallIntValue()]
	if !ok {
		return 0, false, nil
	}
	h := v.Heap
	src := h.At(args[1])
	n, err := f.Write(src.Bytes)
	if err != nil {
		return 0, false, nil
	}
	return oop.NewSmallInt(int32(n)), true, nil
}

func primFileSeek(v *VM, proc oop.Ref, args []oop.Ref) (oop.Ref, bool, error) {
	if !args[0].IsSmallInt() || !args[1].IsSmallInt() {
		return 0, false, nil
	}
	f, ok := v.openFiles[args[0].SmallIntValue()]
	if !ok {
		return 0, false, nil
	}
	if _, err := f.Seek(int64(args[1].SmallIntValue()), io.SeekStart); err != nil {
		return 0, false, nil
	}
	return args[1], true, nil
}

// --- 150-152: string primitives --------------------------------------------

func primSubstringMatch(v *VM, proc oop.Ref, args []oop.Ref) (oop.Ref, bool, error) {
	h := v.Heap
	haystack := string(h.At(args[0]).Bytes)
	needle := string(h.At(args[1]).Bytes)
	idx := strings.Index(haystack, needle)
	return oop.NewSmallInt(int32(idx + 1)), true, nil
}

func primURLEncode(v *VM, proc oop.Ref, args []oop.Ref) (oop.Ref, bool, error) {
	h := v.Heap
	src := string(h.At(args[0]).Bytes)
	var b strings.Builder
	for _, r := range []byte(src) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-' || r == '_' || r == '.' || r == '~':
			b.WriteByte(r)
		default:
			b.WriteString("%")
			b.WriteString(strings.ToUpper(byteHex(r)))
		}
	}
	ref, err := h.AllocBytes(v.Globals.StringClass, []byte(b.String()))
	if err != nil {
		return 0, false, err
	}
	return ref, true, nil
}

func byteHex(b byte) string {
	const hex = "0123456789abcdef"
	return string([]byte{hex[b>>4], hex[b&0xF]})
}

func primURLDecode(v *VM, proc oop.Ref, args []oop.Ref) (oop.Ref, bool, error) {
	h := v.Heap
	src := h.At(args[0]).Bytes
	var out []byte
	for i := 0; i < len(src); i++ {
		if src[i] == '%' && i+2 < len(src) {
			hi := hexVal(src[i+1])
			lo := hexVal(src[i+2])
			if hi >= 0 && lo >= 0 {
				out = append(out, byte(hi<<4|lo))
				i += 2
				continue
			}
		}
		out = append(out, src[i])
	}
	ref, err := h.AllocBytes(v.Globals.StringClass, out)
	if err != nil {
		return 0, false, err
	}
	return ref, true, nil
}

func hexVal(b byte) int {
	switch {
	case b >= '0' && b <= '9':
		return int(b - '0')
	case b >= 'a' && b <= 'f':
		return int(b-'a') + 10
	case b >= 'A' && b <= 'F':
		return int(b-'A') + 10
	default:
		return -1
	}
}

// --- 160: debug timestamp ---------------------------------------------------

func primDebugTimestamp(v *VM, proc oop.Ref, args []oop.Ref) (oop.Ref, bool, error) {
	micros := time.Now().UnixMicro()
	if !oop.FitsSmallInt(micros) {
		micros = micros % (oop.MaxSmallInt)
	}
	return oop.NewSmallInt(int32(micros)), true, nil
}

// 200+: sockets are out of scope (spec.md §1's Non-goals say only the
// primitive-call protocol is specified). No entries are registered for
// this range; the dispatcher's "unknown number" path in doPrimitive
// already reports failure, which is the correct behavior for an
// unimplemented extension point. See prim.c's socket cases (200-210) for
// anyone wiring a real implementation.
