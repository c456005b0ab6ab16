package opcode

import "testing"

func TestEveryOpcodeHasInfo(t *testing.T) {
	seen := map[string]Op{}
	for _, op := range All() {
		info, ok := Lookup(op)
		if !ok {
			t.Fatalf("Lookup(%d) failed", op)
		}
		if prev, dup := seen[info.Name]; dup {
			t.Errorf("name %s shared by 0x%02X and 0x%02X", info.Name, byte(prev), byte(op))
		}
		seen[info.Name] = op
		if op.Width() != 1+info.OperandLen {
			t.Errorf("%s: Width() = %d", op, op.Width())
		}
	}
}

func TestUnknownOpcode(t *testing.T) {
	op := Op(0xEE)
	if _, ok := Lookup(op); ok {
		t.Fatal("0xEE should be undefined")
	}
	if op.Width() != 0 {
		t.Errorf("undefined opcode width = %d, want 0", op.Width())
	}
	if op.String() != "UNKNOWN(0xEE)" {
		t.Errorf("String() = %q", op.String())
	}
}

func TestU16RoundTrip(t *testing.T) {
	code := make([]byte, 4)
	for _, v := range []uint16{0, 1, 0x1234, 0xFFFF} {
		PutU16(code, 1, v)
		if got := ReadU16(code, 1); got != v {
			t.Errorf("ReadU16 after PutU16(%#x) = %#x", v, got)
		}
	}
	PutU16(code, 0, 0x0102)
	if code[0] != 0x01 || code[1] != 0x02 {
		t.Errorf("operands must be big-endian, got % x", code[:2])
	}
}
