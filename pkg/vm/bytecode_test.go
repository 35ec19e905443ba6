package vm

import "testing"

func TestDecodeSimpleOpcode(t *testing.T) {
	code := []byte{0x53} // PushConstant 3
	inst := Decode(code, 0)
	if inst.Op != OpPushConstant || inst.Arg != 3 || inst.Next != 1 {
		t.Fatalf("got %+v", inst)
	}
}

func TestDecodeExtendedPrefix(t *testing.T) {
	// major 0 (extended), immediate selects PushTemporary (3), real arg 200.
	code := []byte{0x03, 200}
	inst := Decode(code, 0)
	if inst.Op != OpPushTemporary || inst.Arg != 200 || inst.Next != 2 {
		t.Fatalf("got %+v", inst)
	}
}

func TestDecodePushBlock(t *testing.T) {
	// argCount=1, target=0x0105
	code := []byte{0xC1, 0x01, 0x05}
	inst := Decode(code, 0)
	if inst.Op != OpPushBlock {
		t.Fatalf("wrong opcode: %+v", inst)
	}
	if PushBlockArgCount(inst.Arg) != 1 {
		t.Fatalf("wrong arg count: %d", PushBlockArgCount(inst.Arg))
	}
	if PushBlockTarget(inst.Arg) != 0x0105 {
		t.Fatalf("wrong target: %d", PushBlockTarget(inst.Arg))
	}
	if inst.Next != 3 {
		t.Fatalf("wrong next: %d", inst.Next)
	}
}

func TestDecodeDoPrimitive(t *testing.T) {
	code := []byte{0xD2, 42} // argCount=2, primitive 42
	inst := Decode(code, 0)
	if DoPrimitiveArgCount(inst.Arg) != 2 || DoPrimitiveNumber(inst.Arg) != 42 {
		t.Fatalf("got %+v", inst)
	}
}

func TestDecodeBranch(t *testing.T) {
	code := []byte{0xF6, 0x00, 0x0A} // DoSpecial Branch, target 10
	inst := Decode(code, 0)
	if inst.Op != OpDoSpecial || inst.Raw != SpecialBranch {
		t.Fatalf("wrong raw: %+v", inst)
	}
	if SpecialBranchTarget(inst.Arg) != 10 {
		t.Fatalf("wrong target: %d", SpecialBranchTarget(inst.Arg))
	}
}

func TestDecodeSendToSuper(t *testing.T) {
	code := []byte{0xFB, 0x03} // DoSpecial SendToSuper, selector literal 3
	inst := Decode(code, 0)
	if inst.Raw != SpecialSendToSuper {
		t.Fatalf("wrong raw: %d", inst.Raw)
	}
	if SpecialSuperSelector(inst.Arg) != 3 {
		t.Fatalf("wrong selector index: %d", SpecialSuperSelector(inst.Arg))
	}
}
