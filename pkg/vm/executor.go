package vm

import (
	"context"
	"errors"
	"fmt"

	"github.com/zurustar/missionscript/pkg/opcode"
	"github.com/zurustar/missionscript/pkg/program"
	"github.com/zurustar/missionscript/pkg/symbols"
	"github.com/zurustar/missionscript/pkg/types"
	"github.com/zurustar/missionscript/pkg/value"
)

// ctxCheckInterval is how many instructions run between context checks.
const ctxCheckInterval = 1024

type stopKind uint8

const (
	stopHalt stopKind = iota
	stopExit
	stopReturn
	stopPause
)

type outcome struct {
	stop   stopKind
	value  value.Value
	pc     int
	ticks  int
	locals []value.Value
}

// errUnderflow marks a pop from an empty stack.
var errUnderflow = errors.New("stack underflow")

func (vm *VM) push(v value.Value) {
	vm.stack = append(vm.stack, v)
}

func (vm *VM) pop() value.Value {
	n := len(vm.stack)
	if n == 0 {
		panic(errUnderflow)
	}
	v := vm.stack[n-1]
	vm.stack = vm.stack[:n-1]
	return v
}

func (vm *VM) frame() *StackFrame {
	return vm.frames[len(vm.frames)-1]
}

// runtimeError builds an error located at the current instruction.
func (vm *VM) runtimeError(t ErrorType, format string, args ...any) *RuntimeError {
	return &RuntimeError{
		Type:    t,
		Program: vm.prog.Name,
		Offset:  vm.pc,
		Line:    vm.prog.LineAt(vm.pc),
		Message: fmt.Sprintf(format, args...),
	}
}

// warn logs a non-fatal error and lets execution continue.
func (vm *VM) warn(err *RuntimeError) {
	vm.log.Warn("Runtime error", "program", err.Program, "type", err.Type,
		"offset", err.Offset, "line", err.Line, "message", err.Message, "error", err.Err)
}

// unwind releases everything the run still holds.
func (vm *VM) unwind() {
	vm.releaseAll(vm.stack)
	vm.stack = vm.stack[:0]
	for _, f := range vm.frames {
		vm.releaseAll(f.Locals)
	}
	vm.frames = vm.frames[:0]
}

// execute runs from pc in a base frame holding locals until the code halts,
// exits, returns from the base frame or pauses.
func (vm *VM) execute(ctx context.Context, pc int, locals []value.Value) (out outcome, err error) {
	vm.frames = append(vm.frames[:0], &StackFrame{Function: -1, Locals: locals})
	vm.stack = vm.stack[:0]

	defer func() {
		if r := recover(); r != nil {
			if r != errUnderflow {
				panic(r)
			}
			err = vm.runtimeError(ErrorInvalidInstruction, "stack underflow")
		}
		if err != nil || out.stop != stopPause {
			vm.unwind()
		}
	}()

	code := vm.prog.Code
	for n := 0; ; n++ {
		if n >= vm.limits.MaxInstructions {
			return outcome{}, vm.runtimeError(ErrorBudgetExceeded, "more than %d instructions in one run", vm.limits.MaxInstructions)
		}
		if n%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return outcome{}, fmt.Errorf("%s: %w", vm.prog.Name, err)
			}
		}
		if pc < 0 || pc >= len(code) {
			vm.pc = pc
			return outcome{}, vm.runtimeError(ErrorInvalidInstruction, "execution left the code")
		}

		vm.pc = pc
		op := opcode.Op(code[pc])
		w := op.Width()
		if w == 0 || pc+w > len(code) {
			return outcome{}, vm.runtimeError(ErrorInvalidInstruction, "invalid opcode 0x%02X", byte(op))
		}
		arg := func() int { return int(opcode.ReadU16(code, pc+1)) }
		next := pc + w

		switch op {
		case opcode.Nop:

		case opcode.Pop:
			vm.life.Release(vm.pop())

		case opcode.Const:
			vm.push(vm.prog.Constants[arg()])

		case opcode.Null:
			vm.push(value.Null(types.ID(arg())))

		case opcode.LoadGlobal:
			v := vm.life.Read(vm.globals[arg()])
			vm.life.Retain(v)
			vm.push(v)

		case opcode.StoreGlobal:
			i := arg()
			old := vm.globals[i]
			vm.globals[i] = vm.pop()
			vm.life.Release(old)

		case opcode.LoadArray:
			slot, err := vm.element(op, arg())
			if err != nil {
				return outcome{}, err
			}
			v := vm.life.Read(vm.globals[slot])
			vm.life.Retain(v)
			vm.push(v)

		case opcode.StoreArray:
			v := vm.pop()
			slot, err := vm.element(op, arg())
			if err != nil {
				vm.life.Release(v)
				return outcome{}, err
			}
			old := vm.globals[slot]
			vm.globals[slot] = v
			vm.life.Release(old)

		case opcode.LoadLocal:
			i := arg()
			f := vm.frame()
			if i >= len(f.Locals) {
				return outcome{}, vm.runtimeError(ErrorInvalidInstruction, "local %d out of range", i)
			}
			v := vm.life.Read(f.Locals[i])
			vm.life.Retain(v)
			vm.push(v)

		case opcode.StoreLocal:
			i := arg()
			f := vm.frame()
			if i >= len(f.Locals) {
				return outcome{}, vm.runtimeError(ErrorInvalidInstruction, "local %d out of range", i)
			}
			old := f.Locals[i]
			f.Locals[i] = vm.pop()
			vm.life.Release(old)

		case opcode.LoadExternal:
			vm.loadVariable(vm.bound[arg()].v, value.Void)

		case opcode.StoreExternal:
			v := vm.pop()
			if err := vm.storeVariable(vm.bound[arg()].v, value.Void, v); err != nil {
				return outcome{}, err
			}

		case opcode.LoadMember:
			obj := vm.life.Read(vm.pop())
			vm.loadVariable(vm.bound[arg()].v, obj)
			vm.life.Release(obj)

		case opcode.StoreMember:
			v := vm.pop()
			obj := vm.life.Read(vm.pop())
			err := vm.storeVariable(vm.bound[arg()].v, obj, v)
			vm.life.Release(obj)
			if err != nil {
				return outcome{}, err
			}

		case opcode.Add, opcode.Sub, opcode.Mul, opcode.Div, opcode.Mod:
			b, a := vm.pop(), vm.pop()
			if err := vm.wantInts(op, a, b); err != nil {
				return outcome{}, err
			}
			r, err := value.Arith(arithOps[op], a.Int, b.Int)
			if err != nil {
				return outcome{}, vm.runtimeError(ErrorDivisionByZero, "%s: %d %s 0", op, a.Int, op)
			}
			vm.push(value.IntValue(r))

		case opcode.Neg:
			a := vm.pop()
			if err := vm.wantInts(op, a); err != nil {
				return outcome{}, err
			}
			vm.push(value.IntValue(value.Negate(a.Int)))

		case opcode.Not:
			a := vm.pop()
			if err := vm.wantBools(op, a); err != nil {
				return outcome{}, err
			}
			vm.push(value.BoolValue(!a.Bool()))

		case opcode.And, opcode.Or:
			b, a := vm.pop(), vm.pop()
			if err := vm.wantBools(op, a, b); err != nil {
				return outcome{}, err
			}
			if op == opcode.And {
				vm.push(value.BoolValue(a.Bool() && b.Bool()))
			} else {
				vm.push(value.BoolValue(a.Bool() || b.Bool()))
			}

		case opcode.Eq, opcode.Ne:
			b, a := vm.pop(), vm.pop()
			eq := a.Equal(b)
			vm.life.Release(a)
			vm.life.Release(b)
			vm.push(value.BoolValue(eq == (op == opcode.Eq)))

		case opcode.Lt, opcode.Le, opcode.Gt, opcode.Ge:
			b, a := vm.pop(), vm.pop()
			if err := vm.wantInts(op, a, b); err != nil {
				return outcome{}, err
			}
			vm.push(value.BoolValue(compare(op, a.Int, b.Int)))

		case opcode.Jump:
			next = arg()

		case opcode.JumpIfFalse:
			c := vm.pop()
			if err := vm.wantBools(op, c); err != nil {
				return outcome{}, err
			}
			if !c.Bool() {
				next = arg()
			}

		case opcode.CallNative:
			b := vm.bound[arg()]
			if err := vm.callNative(b.fn, int(code[pc+3])); err != nil {
				return outcome{}, err
			}

		case opcode.Call:
			if err := vm.callScript(arg(), next); err != nil {
				return outcome{}, err
			}
			next = vm.prog.Functions[arg()].Entry

		case opcode.Return, opcode.ReturnVoid:
			ret := value.Void
			if op == opcode.Return {
				ret = vm.pop()
			}
			f := vm.frame()
			vm.releaseAll(f.Locals)
			f.Locals = nil
			if len(vm.frames) == 1 {
				return outcome{stop: stopReturn, value: ret}, nil
			}
			vm.frames = vm.frames[:len(vm.frames)-1]
			next = f.ReturnPC
			if op == opcode.Return {
				vm.push(ret)
			}

		case opcode.Exit:
			return outcome{stop: stopExit}, nil

		case opcode.Pause:
			t := vm.pop()
			if err := vm.wantInts(op, t); err != nil {
				return outcome{}, err
			}
			if len(vm.frames) != 1 || len(vm.stack) != 0 {
				return outcome{}, vm.runtimeError(ErrorInvalidInstruction, "pause outside an event body")
			}
			base := vm.frames[0]
			vm.frames = vm.frames[:0]
			return outcome{stop: stopPause, pc: next, ticks: int(t.Int), locals: base.Locals}, nil

		case opcode.SetTrigger:
			vm.setTrigger(arg(), int(opcode.ReadU16(code, pc+3)))

		case opcode.Halt:
			out := outcome{stop: stopHalt}
			if len(vm.stack) > 0 {
				out.value = vm.pop()
			}
			return out, nil

		default:
			return outcome{}, vm.runtimeError(ErrorInvalidInstruction, "unhandled opcode %s", op)
		}

		if len(vm.stack) > vm.limits.MaxStack {
			return outcome{}, vm.runtimeError(ErrorStackOverflow, "value stack depth %d exceeds maximum %d", len(vm.stack), vm.limits.MaxStack)
		}
		pc = next
	}
}

var arithOps = map[opcode.Op]value.ArithOp{
	opcode.Add: value.OpAdd,
	opcode.Sub: value.OpSub,
	opcode.Mul: value.OpMul,
	opcode.Div: value.OpDiv,
	opcode.Mod: value.OpMod,
}

func compare(op opcode.Op, a, b int64) bool {
	switch op {
	case opcode.Lt:
		return a < b
	case opcode.Le:
		return a <= b
	case opcode.Gt:
		return a > b
	default:
		return a >= b
	}
}

// element pops the indices of an array access and returns the global slot
// they select.
func (vm *VM) element(op opcode.Op, array int) (int, error) {
	arr := &vm.prog.Arrays[array]
	var buf [program.MaxDimensions]int64
	indices := buf[:len(arr.Dims)]
	for k := len(indices) - 1; k >= 0; k-- {
		v := vm.pop()
		if err := vm.wantInts(op, v); err != nil {
			return 0, err
		}
		indices[k] = v.Int
	}
	slot, ok := arr.Slot(indices)
	if !ok {
		return 0, vm.runtimeError(ErrorArrayBounds, "index %v out of range for %s%v", indices, arr.Name, arr.Dims)
	}
	return slot, nil
}

func (vm *VM) wantInts(op opcode.Op, vals ...value.Value) error {
	for _, v := range vals {
		if v.Type != types.Int {
			return vm.runtimeError(ErrorTypeMismatch, "%s on %s, want int", op, vm.types.Name(v.Type))
		}
	}
	return nil
}

func (vm *VM) wantBools(op opcode.Op, vals ...value.Value) error {
	for _, v := range vals {
		if v.Type != types.Bool {
			return vm.runtimeError(ErrorTypeMismatch, "%s on %s, want bool", op, vm.types.Name(v.Type))
		}
	}
	return nil
}

// callScript enters a script function. Arguments move from the stack into
// the new frame.
func (vm *VM) callScript(idx, returnPC int) error {
	if len(vm.frames) >= vm.limits.MaxCallDepth {
		return vm.runtimeError(ErrorCallDepth, "call depth exceeds maximum %d", vm.limits.MaxCallDepth)
	}
	fn := vm.prog.Functions[idx]
	if len(vm.stack) < fn.Params {
		return vm.runtimeError(ErrorInvalidInstruction, "call to %s with %d values on the stack", fn.Name, len(vm.stack))
	}
	locals := newLocals(fn.Locals)
	base := len(vm.stack) - fn.Params
	copy(locals, vm.stack[base:])
	vm.stack = vm.stack[:base]
	vm.frames = append(vm.frames, &StackFrame{Function: idx, Locals: locals, ReturnPC: returnPC})
	return nil
}

// callNative pops argc arguments, calls f and pushes its result followed by
// every by-reference argument.
func (vm *VM) callNative(f *symbols.Function, argc int) error {
	if len(vm.stack) < argc {
		return vm.runtimeError(ErrorInvalidInstruction, "call to %s with %d values on the stack", f.Name, len(vm.stack))
	}
	base := len(vm.stack) - argc
	in := make([]value.Value, argc)
	copy(in, vm.stack[base:])
	vm.stack = vm.stack[:base]

	for i, p := range f.Params {
		if !vm.types.IsAssignable(p.Type, in[i].Type) {
			vm.releaseAll(in)
			return vm.runtimeError(ErrorNativeContract, "argument %d to %s is %s, want %s",
				i+1, f.Name, vm.types.Name(in[i].Type), vm.types.Name(p.Type))
		}
	}

	args := make([]value.Value, argc)
	copy(args, in)
	ret, err := f.Call(vm, args)
	if err != nil {
		rt := vm.runtimeError(ErrorNative, "%s failed", f.Name)
		rt.Err = err
		vm.warn(rt)
		copy(args, in)
		ret = value.Null(f.Return)
	}
	if vm.tracer != nil {
		vm.tracer(f.Name, in, ret)
	}

	if f.Return != types.Void {
		if !vm.types.IsAssignable(f.Return, ret.Type) {
			vm.life.Release(ret)
			for i, p := range f.Params {
				if p.ByRef && args[i] != in[i] {
					vm.life.Release(args[i])
				}
			}
			vm.releaseAll(in)
			return vm.runtimeError(ErrorNativeContract, "%s returned %s, want %s",
				f.Name, vm.types.Name(ret.Type), vm.types.Name(f.Return))
		}
		vm.push(ret)
	}
	for i, p := range f.Params {
		if !p.ByRef {
			vm.life.Release(in[i])
			continue
		}
		out := args[i]
		if !vm.types.IsAssignable(p.Type, out.Type) {
			return vm.runtimeError(ErrorNativeContract, "%s wrote %s to by-reference argument %d, want %s",
				f.Name, vm.types.Name(out.Type), i+1, vm.types.Name(p.Type))
		}
		if out != in[i] {
			vm.life.Release(in[i])
		}
		vm.push(out)
	}
	return nil
}

// loadVariable pushes an external or member. Getter errors and members of
// null objects yield the type's null value.
func (vm *VM) loadVariable(v *symbols.Variable, obj value.Value) {
	if v.Storage == symbols.Member && obj.IsNull() {
		vm.warn(vm.runtimeError(ErrorNative, "read of %s on a null %s", v.Name, vm.types.Name(obj.Type)))
		vm.push(value.Null(v.Type))
		return
	}
	got, err := v.Get(vm, obj, v.Index)
	if err != nil {
		rt := vm.runtimeError(ErrorNative, "reading %s failed", v.Name)
		rt.Err = err
		vm.warn(rt)
		got = value.Null(v.Type)
	}
	if !vm.types.IsAssignable(v.Type, got.Type) {
		vm.warn(vm.runtimeError(ErrorNative, "%s produced %s, want %s", v.Name, vm.types.Name(got.Type), vm.types.Name(v.Type)))
		got = value.Null(v.Type)
	}
	vm.push(got)
}

// storeVariable writes an external or member and releases the stored copy.
func (vm *VM) storeVariable(v *symbols.Variable, obj, val value.Value) error {
	defer vm.life.Release(val)
	if v.Set == nil {
		return vm.runtimeError(ErrorNativeContract, "%s is read-only", v.Name)
	}
	if v.Storage == symbols.Member && obj.IsNull() {
		vm.warn(vm.runtimeError(ErrorNative, "write of %s on a null %s", v.Name, vm.types.Name(obj.Type)))
		return nil
	}
	if err := v.Set(vm, obj, v.Index, val); err != nil {
		rt := vm.runtimeError(ErrorNative, "writing %s failed", v.Name)
		rt.Err = err
		vm.warn(rt)
	}
	return nil
}

func (vm *VM) setTrigger(event, trigger int) {
	binding := trigger
	switch uint16(trigger) {
	case opcode.TriggerInactive:
		binding = program.BindInactive
	case opcode.TriggerInit:
		binding = program.BindInit
	}
	vm.log.Debug("Event trigger set", "program", vm.prog.Name, "event", vm.prog.Events[event].Name, "trigger", binding)
	if vm.hook != nil {
		vm.hook(event, binding)
	}
}
