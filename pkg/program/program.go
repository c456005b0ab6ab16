// Package program defines the compiled form of one script: a flat instruction
// stream plus the tables the VM and dispatcher need to run it.
package program

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"

	"github.com/zurustar/missionscript/pkg/opcode"
	"github.com/zurustar/missionscript/pkg/types"
	"github.com/zurustar/missionscript/pkg/value"
)

// MaxOperand is the largest index or offset a u16 operand can hold.
const MaxOperand = 0xFFFF

// SymbolKind says which binding table a SymbolRef points into.
type SymbolKind uint8

const (
	SymFunction SymbolKind = iota
	SymExternal
	SymMember
)

func (k SymbolKind) String() string {
	switch k {
	case SymFunction:
		return "function"
	case SymExternal:
		return "external"
	case SymMember:
		return "member"
	default:
		return fmt.Sprintf("SymbolKind(%d)", uint8(k))
	}
}

// SymbolRef names a native symbol used by the code. Instructions refer to
// natives by their index in Program.Symbols; the VM binds the names to the
// live tables when the program is loaded.
type SymbolRef struct {
	Kind  SymbolKind `cbor:"1,keyasint"`
	Name  string     `cbor:"2,keyasint"`
	Owner types.ID   `cbor:"3,keyasint,omitempty"`
}

// Slot is a named, typed storage location.
type Slot struct {
	Name string   `cbor:"1,keyasint"`
	Type types.ID `cbor:"2,keyasint"`
}

// MaxDimensions is the most dimensions a global array may have.
const MaxDimensions = 4

// Array is a fixed-size global array. Its elements occupy the consecutive
// global slots from Base in row-major order.
type Array struct {
	Name string   `cbor:"1,keyasint"`
	Type types.ID `cbor:"2,keyasint"`
	Dims []int    `cbor:"3,keyasint"`
	Base int      `cbor:"4,keyasint"`
	Line int      `cbor:"5,keyasint"`
}

// Len is the number of elements.
func (a *Array) Len() int {
	n := 1
	for _, d := range a.Dims {
		n *= d
	}
	return n
}

// Slot returns the global slot of the element at indices, or false when the
// index count is wrong or an index is out of range.
func (a *Array) Slot(indices []int64) (int, bool) {
	if len(indices) != len(a.Dims) {
		return 0, false
	}
	off := 0
	for i, idx := range indices {
		if idx < 0 || idx >= int64(a.Dims[i]) {
			return 0, false
		}
		off = off*a.Dims[i] + int(idx)
	}
	return a.Base + off, true
}

// ElementName is the name of the global slot holding the element at indices.
func ElementName(name string, indices []int) string {
	var b strings.Builder
	b.WriteString(name)
	for _, i := range indices {
		fmt.Fprintf(&b, "[%d]", i)
	}
	return b.String()
}

// Function is a script-defined function. Its first len(Params) locals are the parameters.
type Function struct {
	Name   string   `cbor:"1,keyasint"`
	Entry  int      `cbor:"2,keyasint"`
	Return types.ID `cbor:"3,keyasint"`
	Params int      `cbor:"4,keyasint"`
	Locals []Slot   `cbor:"5,keyasint"`
	Line   int      `cbor:"6,keyasint"`
}

// TriggerKind is the schedule of a trigger.
type TriggerKind uint8

const (
	// TriggerCode tests a condition every Interval ticks.
	TriggerCode TriggerKind = iota
	// TriggerEvery fires every Interval ticks.
	TriggerEvery
	// TriggerWait fires once, Interval ticks after it is bound.
	TriggerWait
	// TriggerInit fires once on the first tick after loading.
	TriggerInit
	// TriggerCallback fires when the engine raises the named callback.
	TriggerCallback
)

func (k TriggerKind) String() string {
	switch k {
	case TriggerCode:
		return "code"
	case TriggerEvery:
		return "every"
	case TriggerWait:
		return "wait"
	case TriggerInit:
		return "init"
	case TriggerCallback:
		return "callback"
	default:
		return fmt.Sprintf("TriggerKind(%d)", uint8(k))
	}
}

// Trigger is a declared trigger.
type Trigger struct {
	Name     string      `cbor:"1,keyasint"`
	Kind     TriggerKind `cbor:"2,keyasint"`
	Interval int         `cbor:"3,keyasint,omitempty"`
	// Cond is the entry offset of the condition code of a TriggerCode.
	Cond int `cbor:"4,keyasint,omitempty"`
	// Level makes a TriggerCode fire on every true test rather than on a rising edge.
	Level    bool   `cbor:"5,keyasint,omitempty"`
	Callback string `cbor:"6,keyasint,omitempty"`
	// CallbackID is the callback's event id when the program was compiled.
	CallbackID int `cbor:"7,keyasint,omitempty"`
	// Filters holds one value per callback parameter; by-reference positions are unused.
	Filters []value.Value `cbor:"8,keyasint,omitempty"`
	// RefGlobals holds, per callback parameter, the global slot that receives
	// the engine's argument, or -1 for by-value positions.
	RefGlobals []int `cbor:"9,keyasint,omitempty"`
	Line       int   `cbor:"10,keyasint"`
}

// Event trigger bindings that do not name a declared trigger.
const (
	BindInactive = -1
	BindInit     = -2
)

// Event is a handler body bound to a trigger.
type Event struct {
	Name    string `cbor:"1,keyasint"`
	Entry   int    `cbor:"2,keyasint"`
	Locals  []Slot `cbor:"3,keyasint,omitempty"`
	Trigger int    `cbor:"4,keyasint"`
	Line    int    `cbor:"5,keyasint"`
}

// LineEntry maps the instruction at Offset and those after it to a source line.
type LineEntry struct {
	Offset int `cbor:"1,keyasint"`
	Line   int `cbor:"2,keyasint"`
}

// Program is one compiled script.
type Program struct {
	Name      string        `cbor:"1,keyasint"`
	Code      []byte        `cbor:"2,keyasint"`
	Constants []value.Value `cbor:"3,keyasint"`
	Symbols   []SymbolRef   `cbor:"4,keyasint"`
	Globals   []Slot        `cbor:"5,keyasint"`
	Functions []Function    `cbor:"6,keyasint"`
	Triggers  []Trigger     `cbor:"7,keyasint"`
	Events    []Event       `cbor:"8,keyasint"`
	// InitEntry is the offset of the static initialiser code.
	InitEntry int         `cbor:"9,keyasint"`
	Lines     []LineEntry `cbor:"10,keyasint"`
	Arrays    []Array     `cbor:"11,keyasint,omitempty"`
}

// New returns an empty program.
func New(name string) *Program {
	return &Program{
		Name: name,
		Code: make([]byte, 0, 256),
	}
}

// Offset is the offset of the next emitted instruction.
func (p *Program) Offset() int { return len(p.Code) }

// Emit appends an instruction with raw operand bytes and returns its offset.
func (p *Program) Emit(op opcode.Op, operands ...byte) int {
	at := len(p.Code)
	p.Code = append(p.Code, byte(op))
	p.Code = append(p.Code, operands...)
	return at
}

// EmitU16 appends an instruction with one u16 operand.
func (p *Program) EmitU16(op opcode.Op, v int) int {
	return p.Emit(op, byte(v>>8), byte(v))
}

// EmitJump appends a jump with a placeholder target and returns the operand
// offset for PatchJump.
func (p *Program) EmitJump(op opcode.Op) int {
	at := p.Emit(op, 0xFF, 0xFF)
	return at + 1
}

// PatchJump points the jump whose operand is at `at` to the current offset.
func (p *Program) PatchJump(at int) {
	opcode.PutU16(p.Code, at, uint16(len(p.Code)))
}

// AddConstant interns v in the constant pool.
func (p *Program) AddConstant(v value.Value) int {
	for i, c := range p.Constants {
		if c == v {
			return i
		}
	}
	p.Constants = append(p.Constants, v)
	return len(p.Constants) - 1
}

// AddSymbol interns a native symbol reference.
func (p *Program) AddSymbol(ref SymbolRef) int {
	for i, s := range p.Symbols {
		if s == ref {
			return i
		}
	}
	p.Symbols = append(p.Symbols, ref)
	return len(p.Symbols) - 1
}

// MarkLine records that code emitted from now on comes from line.
func (p *Program) MarkLine(line int) {
	if n := len(p.Lines); n > 0 {
		last := &p.Lines[n-1]
		if last.Line == line {
			return
		}
		if last.Offset == len(p.Code) {
			last.Line = line
			return
		}
	}
	p.Lines = append(p.Lines, LineEntry{Offset: len(p.Code), Line: line})
}

// LineAt returns the source line of the instruction at offset, or 0.
func (p *Program) LineAt(offset int) int {
	i := sort.Search(len(p.Lines), func(i int) bool { return p.Lines[i].Offset > offset })
	if i == 0 {
		return 0
	}
	return p.Lines[i-1].Line
}

// Digest fingerprints what saved dispatch state depends on: the code and the
// global, event and trigger tables.
func (p *Program) Digest() [32]byte {
	h := sha256.New()
	h.Write(p.Code)
	for _, g := range p.Globals {
		fmt.Fprintf(h, "g%q:%d;", g.Name, g.Type)
	}
	for _, e := range p.Events {
		fmt.Fprintf(h, "e%q:%d:%d:%d;", e.Name, e.Entry, e.Trigger, len(e.Locals))
		for _, l := range e.Locals {
			fmt.Fprintf(h, "l%d;", l.Type)
		}
	}
	for _, t := range p.Triggers {
		fmt.Fprintf(h, "t%q:%d:%d;", t.Name, t.Kind, t.Interval)
	}
	var sum [32]byte
	h.Sum(sum[:0])
	return sum
}

// EventIndex finds an event by name.
func (p *Program) EventIndex(name string) (int, bool) {
	for i, e := range p.Events {
		if e.Name == name {
			return i, true
		}
	}
	return 0, false
}

// TriggerIndex finds a trigger by name.
func (p *Program) TriggerIndex(name string) (int, bool) {
	for i, t := range p.Triggers {
		if t.Name == name {
			return i, true
		}
	}
	return 0, false
}

// ArrayIndex finds a global array by name.
func (p *Program) ArrayIndex(name string) (int, bool) {
	for i, a := range p.Arrays {
		if a.Name == name {
			return i, true
		}
	}
	return 0, false
}

// FunctionIndex finds a script function by name.
func (p *Program) FunctionIndex(name string) (int, bool) {
	for i, f := range p.Functions {
		if f.Name == name {
			return i, true
		}
	}
	return 0, false
}

// Validate checks that every instruction decodes and every operand is in range.
func (p *Program) Validate() error {
	for pc := 0; pc < len(p.Code); {
		op := opcode.Op(p.Code[pc])
		w := op.Width()
		if w == 0 {
			return fmt.Errorf("offset %d: invalid opcode 0x%02X", pc, byte(op))
		}
		if pc+w > len(p.Code) {
			return fmt.Errorf("offset %d: truncated %s", pc, op)
		}
		if err := p.checkOperands(pc, op); err != nil {
			return fmt.Errorf("offset %d: %s: %w", pc, op, err)
		}
		pc += w
	}
	for _, e := range p.Events {
		if e.Entry < 0 || e.Entry >= len(p.Code) {
			return fmt.Errorf("event %s: entry %d out of range", e.Name, e.Entry)
		}
		if e.Trigger >= len(p.Triggers) || e.Trigger < BindInit {
			return fmt.Errorf("event %s: trigger %d out of range", e.Name, e.Trigger)
		}
	}
	for _, f := range p.Functions {
		if f.Entry < 0 || f.Entry >= len(p.Code) || f.Params > len(f.Locals) {
			return fmt.Errorf("function %s: bad entry or frame", f.Name)
		}
	}
	for _, a := range p.Arrays {
		if len(a.Dims) == 0 || len(a.Dims) > MaxDimensions {
			return fmt.Errorf("array %s: %d dimensions", a.Name, len(a.Dims))
		}
		for _, d := range a.Dims {
			if d <= 0 {
				return fmt.Errorf("array %s: bad dimension %d", a.Name, d)
			}
		}
		if a.Base < 0 || a.Base+a.Len() > len(p.Globals) {
			return fmt.Errorf("array %s: elements out of range", a.Name)
		}
	}
	for _, t := range p.Triggers {
		if t.Kind == TriggerCode && (t.Cond < 0 || t.Cond >= len(p.Code)) {
			return fmt.Errorf("trigger %s: condition %d out of range", t.Name, t.Cond)
		}
		for _, g := range t.RefGlobals {
			if g >= len(p.Globals) {
				return fmt.Errorf("trigger %s: global %d out of range", t.Name, g)
			}
		}
	}
	return nil
}

func (p *Program) checkOperands(pc int, op opcode.Op) error {
	arg := func(n int) int { return int(opcode.ReadU16(p.Code, pc+1+n)) }
	inRange := func(v, n int, what string) error {
		if v >= n {
			return fmt.Errorf("%s %d out of range", what, v)
		}
		return nil
	}
	switch op {
	case opcode.Const:
		return inRange(arg(0), len(p.Constants), "constant")
	case opcode.LoadGlobal, opcode.StoreGlobal:
		return inRange(arg(0), len(p.Globals), "global")
	case opcode.LoadArray, opcode.StoreArray:
		return inRange(arg(0), len(p.Arrays), "array")
	case opcode.LoadExternal, opcode.StoreExternal, opcode.LoadMember, opcode.StoreMember, opcode.CallNative:
		return inRange(arg(0), len(p.Symbols), "symbol")
	case opcode.Call:
		return inRange(arg(0), len(p.Functions), "function")
	case opcode.Jump, opcode.JumpIfFalse:
		return inRange(arg(0), len(p.Code)+1, "target")
	case opcode.SetTrigger:
		if err := inRange(arg(0), len(p.Events), "event"); err != nil {
			return err
		}
		if t := arg(2); t != int(opcode.TriggerInactive) && t != int(opcode.TriggerInit) {
			return inRange(t, len(p.Triggers), "trigger")
		}
	}
	return nil
}
