// Package vm implements the bytecode interpreter, method lookup with its
// inline cache, context/block activation, non-local return, and primitive
// dispatch described in spec.md §4.4-§4.7. The fetch/decode/execute shape
// of Execute (pkg/vm/interp.go) and the per-selector error style of
// primitives.go are grounded on the teacher's pkg/vm/vm.go Run/send loop;
// the data model itself (a uniform tagged heap walked through pkg/heap)
// replaces the teacher's interface{}-typed stack machine, because spec.md
// requires a real object memory and copying collector, which the teacher
// does not have.
package vm

import "fmt"

// Opcode is one bytecode's major opcode, spec.md §4.4: one byte, high
// nibble major, low nibble immediate argument, with major 0 reserved as
// an "extended" prefix carrying a wider immediate in the following byte.
type Opcode byte

const (
	OpExtended       Opcode = 0
	OpPushInstance   Opcode = 1
	OpPushArgument   Opcode = 2
	OpPushTemporary  Opcode = 3
	OpPushLiteral    Opcode = 4
	OpPushConstant   Opcode = 5
	OpAssignInstance Opcode = 6
	OpAssignTemporary Opcode = 7
	OpMarkArguments  Opcode = 8
	OpSendMessage    Opcode = 9
	OpSendUnary      Opcode = 10
	OpSendBinary     Opcode = 11
	OpPushBlock      Opcode = 12
	OpDoPrimitive    Opcode = 13
	_                Opcode = 14 // unused major, reserved
	OpDoSpecial      Opcode = 15
)

// PushConstant immediate arguments (spec.md §4.4).
const (
	ConstReceiver = iota // unused placeholder to keep 0..9 literal below aligned
)

const (
	ConstNil  = 10
	ConstTrue = 11
	ConstFalse = 12
)

// SendUnary immediate arguments.
const (
	UnaryIsNil = iota
	UnaryNotNil
)

// SendBinary immediate arguments: the three selectors cached at well-known
// image offsets (spec.md §4.3's binary[0..2]).
const (
	BinaryLess = iota
	BinaryLessOrEqual
	BinaryPlus
)

// DoSpecial immediate arguments.
const (
	SpecialSelfReturn = 1
	SpecialStackReturn = 2
	SpecialBlockReturn = 3
	SpecialDuplicate   = 4
	SpecialPopTop      = 5
	SpecialBranch      = 6
	SpecialBranchIfTrue  = 7
	SpecialBranchIfFalse = 8
	SpecialSendToSuper   = 11
)

// Instruction is one decoded bytecode: its major opcode and effective
// argument (already widened through the extended-prefix mechanism if
// needed). Byte is the offset of the opcode byte in the method, used by
// branch targets and back-traces.
type Instruction struct {
	Op   Opcode
	Arg  int
	Raw  int // the original 4-bit immediate, before PushBlock/DoPrimitive/DoSpecial repacking
	Byte int
	Next int // byte pointer to resume after this instruction (and its operands)
}

// Decode reads one instruction from code starting at bp, handling the
// major-0 extended-prefix form (spec.md §4.4: "followed by a single byte
// carrying the real argument").
func Decode(code []byte, bp int) Instruction {
	start := bp
	b := code[bp]
	bp++
	major := Opcode(b >> 4)
	arg := int(b & 0x0F)

	if major == OpExtended {
		major = Opcode(arg)
		arg = int(code[bp])
		bp++
	}

	inst := Instruction{Op: major, Arg: arg, Raw: arg, Byte: start, Next: bp}
	switch major {
	case OpPushBlock:
		// Argument count is in arg; two more bytes give the resume offset.
		hi, lo := code[bp], code[bp+1]
		inst.Next = bp + 2
		inst.Arg = arg<<16 | int(hi)<<8 | int(lo)
	case OpDoPrimitive:
		primitive := code[bp]
		inst.Next = bp + 1
		inst.Arg = arg<<8 | int(primitive)
	case OpDoSpecial:
		switch arg {
		case SpecialBranch, SpecialBranchIfTrue, SpecialBranchIfFalse:
			hi, lo := code[bp], code[bp+1]
			inst.Next = bp + 2
			inst.Arg = arg<<16 | int(hi)<<8 | int(lo)
		case SpecialSendToSuper:
			sel := code[bp]
			inst.Next = bp + 1
			inst.Arg = arg<<8 | int(sel)
		}
	}
	return inst
}

// PushBlockArgCount/PushBlockTarget unpack OpPushBlock's packed argument.
func PushBlockArgCount(arg int) int  { return arg >> 16 }
func PushBlockTarget(arg int) int    { return arg & 0xFFFF }

// DoPrimitiveArgCount/Number unpack OpDoPrimitive's packed argument.
func DoPrimitiveArgCount(arg int) int { return arg >> 8 }
func DoPrimitiveNumber(arg int) int   { return arg & 0xFF }

// SpecialBranchTarget unpacks a Branch/BranchIfTrue/BranchIfFalse argument.
func SpecialBranchTarget(arg int) int { return arg & 0xFFFF }

// SpecialSuperSelector unpacks a SendToSuper argument.
func SpecialSuperSelector(arg int) int { return arg & 0xFF }

// String renders an opcode's mnemonic, for disassembly output.
func (o Opcode) String() string {
	switch o {
	case OpPushInstance:
		return "PushInstance"
	case OpPushArgument:
		return "PushArgument"
	case OpPushTemporary:
		return "PushTemporary"
	case OpPushLiteral:
		return "PushLiteral"
	case OpPushConstant:
		return "PushConstant"
	case OpAssignInstance:
		return "AssignInstance"
	case OpAssignTemporary:
		return "AssignTemporary"
	case OpMarkArguments:
		return "MarkArguments"
	case OpSendMessage:
		return "SendMessage"
	case OpSendUnary:
		return "SendUnary"
	case OpSendBinary:
		return "SendBinary"
	case OpPushBlock:
		return "PushBlock"
	case OpDoPrimitive:
		return "DoPrimitive"
	case OpDoSpecial:
		return "DoSpecial"
	default:
		return "Unknown"
	}
}

// specialName renders a DoSpecial sub-code's mnemonic.
func specialName(raw int) string {
	switch raw {
	case SpecialSelfReturn:
		return "SelfReturn"
	case SpecialStackReturn:
		return "StackReturn"
	case SpecialBlockReturn:
		return "BlockReturn"
	case SpecialDuplicate:
		return "Duplicate"
	case SpecialPopTop:
		return "PopTop"
	case SpecialBranch:
		return "Branch"
	case SpecialBranchIfTrue:
		return "BranchIfTrue"
	case SpecialBranchIfFalse:
		return "BranchIfFalse"
	case SpecialSendToSuper:
		return "SendToSuper"
	default:
		return "Unknown"
	}
}

// Disassemble renders one decoded instruction as a human-readable mnemonic
// line, resolving DoSpecial sub-codes and PushBlock/DoPrimitive's packed
// operands (cmd/littletalk's disasm subcommand, SPEC_FULL.md §10.4).
func (inst Instruction) Disassemble() string {
	switch inst.Op {
	case OpPushBlock:
		return fmt.Sprintf("%s argCount=%d target=%d", inst.Op, PushBlockArgCount(inst.Arg), PushBlockTarget(inst.Arg))
	case OpDoPrimitive:
		return fmt.Sprintf("%s argCount=%d number=%d", inst.Op, DoPrimitiveArgCount(inst.Arg), DoPrimitiveNumber(inst.Arg))
	case OpDoSpecial:
		switch inst.Raw {
		case SpecialBranch, SpecialBranchIfTrue, SpecialBranchIfFalse:
			return fmt.Sprintf("%s -> %d", specialName(inst.Raw), SpecialBranchTarget(inst.Arg))
		case SpecialSendToSuper:
			return fmt.Sprintf("%s literal[%d]", specialName(inst.Raw), SpecialSuperSelector(inst.Arg))
		default:
			return specialName(inst.Raw)
		}
	default:
		return fmt.Sprintf("%s %d", inst.Op, inst.Arg)
	}
}
