package program

import (
	"fmt"
	"strings"

	"github.com/zurustar/missionscript/pkg/opcode"
)

// Disassemble returns a human-readable listing of the program.
func (p *Program) Disassemble() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "; === %s ===\n", p.Name)
	fmt.Fprintf(&sb, "; %d bytes, %d constants, %d symbols\n", len(p.Code), len(p.Constants), len(p.Symbols))

	if len(p.Globals) > 0 {
		sb.WriteString("; Globals:\n")
		for i, g := range p.Globals {
			fmt.Fprintf(&sb, ";   [%3d] %s (type %d)\n", i, g.Name, g.Type)
		}
	}
	if len(p.Arrays) > 0 {
		sb.WriteString("; Arrays:\n")
		for i, a := range p.Arrays {
			fmt.Fprintf(&sb, ";   [%3d] %s (type %d) dims=%v base=%d\n", i, a.Name, a.Type, a.Dims, a.Base)
		}
	}
	if len(p.Triggers) > 0 {
		sb.WriteString("; Triggers:\n")
		for i, t := range p.Triggers {
			fmt.Fprintf(&sb, ";   [%3d] %s %s", i, t.Name, t.Kind)
			switch t.Kind {
			case TriggerCode:
				fmt.Fprintf(&sb, " cond=%04d every=%d", t.Cond, t.Interval)
				if t.Level {
					sb.WriteString(" level")
				}
			case TriggerEvery, TriggerWait:
				fmt.Fprintf(&sb, " ticks=%d", t.Interval)
			case TriggerCallback:
				fmt.Fprintf(&sb, " %s(#%d)", t.Callback, t.CallbackID)
			}
			sb.WriteString("\n")
		}
	}
	sb.WriteString("\n")

	labels := p.labels()
	for pc := 0; pc < len(p.Code); {
		for _, l := range labels[pc] {
			fmt.Fprintf(&sb, "%s:\n", l)
		}
		line, next := p.disassembleInstruction(pc)
		sb.WriteString(line)
		sb.WriteString("\n")
		pc = next
	}
	return sb.String()
}

func (p *Program) labels() map[int][]string {
	labels := map[int][]string{}
	add := func(at int, name string) { labels[at] = append(labels[at], name) }
	if len(p.Code) > 0 {
		add(p.InitEntry, "<init>")
	}
	for _, f := range p.Functions {
		add(f.Entry, "function "+f.Name)
	}
	for _, t := range p.Triggers {
		if t.Kind == TriggerCode {
			add(t.Cond, "trigger "+t.Name)
		}
	}
	for _, e := range p.Events {
		add(e.Entry, "event "+e.Name)
	}
	return labels
}

// DisassembleInstruction renders the single instruction at offset.
func (p *Program) DisassembleInstruction(offset int) string {
	line, _ := p.disassembleInstruction(offset)
	return line
}

func (p *Program) disassembleInstruction(pc int) (string, int) {
	op := opcode.Op(p.Code[pc])
	w := op.Width()
	if w == 0 || pc+w > len(p.Code) {
		return fmt.Sprintf("%04d  %-4s %s", pc, p.lineCol(pc), op), pc + 1
	}

	u16 := func(n int) int { return int(opcode.ReadU16(p.Code, pc+1+n)) }
	var operand string
	switch op {
	case opcode.Const:
		idx := u16(0)
		operand = fmt.Sprintf("%d", idx)
		if idx < len(p.Constants) {
			operand += " ; " + p.Constants[idx].String()
		}
	case opcode.Null:
		operand = fmt.Sprintf("type %d", u16(0))
	case opcode.LoadGlobal, opcode.StoreGlobal:
		idx := u16(0)
		operand = fmt.Sprintf("%d", idx)
		if idx < len(p.Globals) {
			operand += " ; " + p.Globals[idx].Name
		}
	case opcode.LoadArray, opcode.StoreArray:
		idx := u16(0)
		operand = fmt.Sprintf("%d", idx)
		if idx < len(p.Arrays) {
			operand += " ; " + p.Arrays[idx].Name
		}
	case opcode.LoadLocal, opcode.StoreLocal:
		operand = fmt.Sprintf("%d", u16(0))
	case opcode.LoadExternal, opcode.StoreExternal, opcode.LoadMember, opcode.StoreMember:
		operand = p.symbolOperand(u16(0))
	case opcode.CallNative:
		operand = fmt.Sprintf("%s argc=%d", p.symbolOperand(u16(0)), p.Code[pc+3])
	case opcode.Call:
		idx := u16(0)
		operand = fmt.Sprintf("%d", idx)
		if idx < len(p.Functions) {
			operand += " ; " + p.Functions[idx].Name
		}
	case opcode.Jump, opcode.JumpIfFalse:
		operand = fmt.Sprintf("-> %04d", u16(0))
	case opcode.SetTrigger:
		ev, tr := u16(0), u16(2)
		evName, trName := fmt.Sprint(ev), fmt.Sprint(tr)
		if ev < len(p.Events) {
			evName = p.Events[ev].Name
		}
		switch {
		case tr == int(opcode.TriggerInactive):
			trName = "inactive"
		case tr == int(opcode.TriggerInit):
			trName = "init"
		case tr < len(p.Triggers):
			trName = p.Triggers[tr].Name
		}
		operand = evName + " <- " + trName
	}

	text := fmt.Sprintf("%04d  %-4s %-14s %s", pc, p.lineCol(pc), op, operand)
	return strings.TrimRight(text, " "), pc + w
}

func (p *Program) symbolOperand(idx int) string {
	if idx >= len(p.Symbols) {
		return fmt.Sprintf("%d", idx)
	}
	s := p.Symbols[idx]
	return fmt.Sprintf("%d ; %s %s", idx, s.Kind, s.Name)
}

func (p *Program) lineCol(pc int) string {
	if n := p.LineAt(pc); n > 0 {
		return fmt.Sprintf("L%d", n)
	}
	return ""
}
