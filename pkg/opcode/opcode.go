// Package opcode defines the instruction set shared by the compiler and the VM.
// The compiler emits these as a flat byte stream; the VM decodes and executes
// them. Multi-byte operands are big-endian.
package opcode

import (
	"encoding/binary"
	"fmt"
)

// Op is a single instruction byte.
type Op byte

const (
	// Nop does nothing.
	Nop Op = 0x00
	// Pop discards the top of the stack.
	Pop Op = 0x01
	// Const pushes a constant from the pool.
	// Operands: index:u16
	Const Op = 0x02
	// Null pushes the null sentinel of a type.
	// Operands: type:u16
	Null Op = 0x03

	// LoadGlobal pushes a script global.
	// Operands: slot:u16
	LoadGlobal Op = 0x10
	// StoreGlobal pops into a script global.
	// Operands: slot:u16
	StoreGlobal Op = 0x11
	// LoadLocal pushes a local or parameter of the current frame.
	// Operands: slot:u16
	LoadLocal Op = 0x12
	// StoreLocal pops into a local of the current frame.
	// Operands: slot:u16
	StoreLocal Op = 0x13
	// LoadExternal reads an engine variable through its getter.
	// Operands: symbol:u16
	LoadExternal Op = 0x14
	// StoreExternal pops and writes an engine variable through its setter.
	// Operands: symbol:u16
	StoreExternal Op = 0x15
	// LoadMember pops an object and pushes one of its members.
	// Operands: symbol:u16
	LoadMember Op = 0x16
	// StoreMember pops a value then an object and writes the member.
	// Operands: symbol:u16
	StoreMember Op = 0x17
	// LoadArray pops one int index per dimension (the last on top) and pushes
	// the element of a global array.
	// Operands: array:u16
	LoadArray Op = 0x18
	// StoreArray pops a value then the indices and stores the element.
	// Operands: array:u16
	StoreArray Op = 0x19

	// Add through Mod pop two ints (b on top) and push a op b.
	Add Op = 0x20
	Sub Op = 0x21
	Mul Op = 0x22
	Div Op = 0x23
	Mod Op = 0x24
	// Neg negates an int.
	Neg Op = 0x25

	// Not inverts a bool.
	Not Op = 0x30
	// And and Or combine two bools. Both sides are always evaluated.
	And Op = 0x31
	Or  Op = 0x32

	// Eq and Ne compare any two values of compatible type.
	Eq Op = 0x38
	Ne Op = 0x39
	// Lt through Ge compare two ints.
	Lt Op = 0x3A
	Le Op = 0x3B
	Gt Op = 0x3C
	Ge Op = 0x3D

	// Jump continues at an absolute offset.
	// Operands: target:u16
	Jump Op = 0x40
	// JumpIfFalse pops a bool and jumps when it is false.
	// Operands: target:u16
	JumpIfFalse Op = 0x41

	// CallNative pops argc arguments and calls a native function. The result,
	// if any, is pushed first, then the final value of every by-reference
	// argument in parameter order.
	// Operands: symbol:u16 argc:u8
	CallNative Op = 0x50
	// Call invokes a script function.
	// Operands: function:u16
	Call Op = 0x51
	// Return pops the result and leaves the current script function.
	Return Op = 0x52
	// ReturnVoid leaves the current script function.
	ReturnVoid Op = 0x53

	// Exit ends the running event.
	Exit Op = 0x60
	// Pause pops a tick count and suspends the running event until then.
	Pause Op = 0x61
	// SetTrigger rebinds an event.
	// Operands: event:u16 trigger:u16
	SetTrigger Op = 0x62
	// Halt ends initialiser and trigger-condition code. A condition leaves its
	// result on the stack.
	Halt Op = 0x63
)

// Trigger operands of SetTrigger that do not name a declared trigger.
const (
	TriggerInactive uint16 = 0xFFFF
	TriggerInit     uint16 = 0xFFFE
)

// Info describes an opcode for decoding and disassembly.
type Info struct {
	Name       string
	OperandLen int
}

var infoTable = map[Op]Info{
	Nop:           {"NOP", 0},
	Pop:           {"POP", 0},
	Const:         {"CONST", 2},
	Null:          {"NULL", 2},
	LoadGlobal:    {"LOAD_GLOBAL", 2},
	StoreGlobal:   {"STORE_GLOBAL", 2},
	LoadLocal:     {"LOAD_LOCAL", 2},
	StoreLocal:    {"STORE_LOCAL", 2},
	LoadExternal:  {"LOAD_EXTERNAL", 2},
	StoreExternal: {"STORE_EXTERNAL", 2},
	LoadMember:    {"LOAD_MEMBER", 2},
	StoreMember:   {"STORE_MEMBER", 2},
	LoadArray:     {"LOAD_ARRAY", 2},
	StoreArray:    {"STORE_ARRAY", 2},
	Add:           {"ADD", 0},
	Sub:           {"SUB", 0},
	Mul:           {"MUL", 0},
	Div:           {"DIV", 0},
	Mod:           {"MOD", 0},
	Neg:           {"NEG", 0},
	Not:           {"NOT", 0},
	And:           {"AND", 0},
	Or:            {"OR", 0},
	Eq:            {"EQ", 0},
	Ne:            {"NE", 0},
	Lt:            {"LT", 0},
	Le:            {"LE", 0},
	Gt:            {"GT", 0},
	Ge:            {"GE", 0},
	Jump:          {"JUMP", 2},
	JumpIfFalse:   {"JUMP_IF_FALSE", 2},
	CallNative:    {"CALL_NATIVE", 3},
	Call:          {"CALL", 2},
	Return:        {"RETURN", 0},
	ReturnVoid:    {"RETURN_VOID", 0},
	Exit:          {"EXIT", 0},
	Pause:         {"PAUSE", 0},
	SetTrigger:    {"SET_TRIGGER", 4},
	Halt:          {"HALT", 0},
}

// Lookup returns the metadata of op and whether op is defined.
func Lookup(op Op) (Info, bool) {
	info, ok := infoTable[op]
	return info, ok
}

func (op Op) String() string {
	if info, ok := infoTable[op]; ok {
		return info.Name
	}
	return fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))
}

// Width is the full instruction length including operands, or 0 if op is undefined.
func (op Op) Width() int {
	info, ok := infoTable[op]
	if !ok {
		return 0
	}
	return 1 + info.OperandLen
}

// IsJump reports whether op carries a jump target.
func (op Op) IsJump() bool { return op == Jump || op == JumpIfFalse }

// All returns every defined opcode.
func All() []Op {
	ops := make([]Op, 0, len(infoTable))
	for op := range infoTable {
		ops = append(ops, op)
	}
	return ops
}

// ReadU16 decodes the big-endian operand at code[at].
func ReadU16(code []byte, at int) uint16 {
	return binary.BigEndian.Uint16(code[at:])
}

// PutU16 encodes v at code[at].
func PutU16(code []byte, at int, v uint16) {
	binary.BigEndian.PutUint16(code[at:], v)
}
