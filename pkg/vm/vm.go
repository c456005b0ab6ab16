// Package vm executes compiled programs.
//
// One VM runs one Program. It owns the program's globals and the value stack,
// calls natives through the bound symbol tables and routes every object value
// through the lifecycle manager. Execution is single threaded and driven by
// the caller: Init once, then RunEvent, Resume and Eval as the dispatcher
// decides.
//
// Object values follow one ownership rule: every copy held in a global, a
// local or on the stack owns one reference. Loads retain, stores move and
// overwritten or discarded values are released. Natives that return objects
// or replace a by-reference object argument must produce the new value with
// Env.Acquire.
package vm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zurustar/missionscript/pkg/lifecycle"
	"github.com/zurustar/missionscript/pkg/logger"
	"github.com/zurustar/missionscript/pkg/opcode"
	"github.com/zurustar/missionscript/pkg/program"
	"github.com/zurustar/missionscript/pkg/symbols"
	"github.com/zurustar/missionscript/pkg/types"
	"github.com/zurustar/missionscript/pkg/value"
)

// State is the execution state of a VM.
type State uint8

const (
	Idle State = iota
	Running
	// Suspended means the last run ended normally and the program waits for
	// the dispatcher to start it again.
	Suspended
	// Faulted is sticky.
	Faulted
	// Completed means the static initialisers have run.
	Completed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Suspended:
		return "suspended"
	case Faulted:
		return "faulted"
	case Completed:
		return "completed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Limits bound a single run.
type Limits struct {
	MaxStack        int
	MaxInstructions int
	MaxCallDepth    int
}

// DefaultLimits are used when no WithLimits option is given.
var DefaultLimits = Limits{
	MaxStack:        1000,
	MaxInstructions: 300000,
	MaxCallDepth:    300,
}

// Tracer observes every native call after it returns.
type Tracer func(name string, args []value.Value, ret value.Value)

// TriggerHook receives setEventTrigger rebinds. trigger is a trigger index,
// program.BindInactive or program.BindInit.
type TriggerHook func(event, trigger int)

// Continuation is the saved state of a paused event.
type Continuation struct {
	Event  int
	PC     int
	Locals []value.Value
	// Ticks is the pause length the script asked for.
	Ticks int
}

type binding struct {
	fn  *symbols.Function
	v   *symbols.Variable
	ref program.SymbolRef
}

// StackFrame is one active call.
type StackFrame struct {
	Function int // index into Program.Functions, -1 for the entry code
	Locals   []value.Value
	ReturnPC int
}

// VM runs one program.
type VM struct {
	prog      *program.Program
	reg       *symbols.Registry
	types     *types.Registry
	life      *lifecycle.Manager
	bound     []binding
	callbacks []*symbols.Callback

	globals []value.Value
	stack   []value.Value
	frames  []*StackFrame
	pc      int

	state       State
	initialized bool
	closed      bool
	fault       *RuntimeError
	tick        int64

	limits Limits
	tracer Tracer
	hook   TriggerHook
	log    *slog.Logger
}

// Option is a functional option for configuring the VM.
type Option func(*VM)

// WithLogger sets a custom logger.
func WithLogger(log *slog.Logger) Option {
	return func(vm *VM) {
		vm.log = log
	}
}

// WithLimits sets the stack, instruction and call depth limits. Zero fields
// keep their defaults.
func WithLimits(l Limits) Option {
	return func(vm *VM) {
		if l.MaxStack > 0 {
			vm.limits.MaxStack = l.MaxStack
		}
		if l.MaxInstructions > 0 {
			vm.limits.MaxInstructions = l.MaxInstructions
		}
		if l.MaxCallDepth > 0 {
			vm.limits.MaxCallDepth = l.MaxCallDepth
		}
	}
}

// WithTracer installs a native call observer.
func WithTracer(t Tracer) Option {
	return func(vm *VM) {
		vm.tracer = t
	}
}

// WithTriggerHook receives setEventTrigger rebinds.
func WithTriggerHook(h TriggerHook) Option {
	return func(vm *VM) {
		vm.hook = h
	}
}

// New binds prog against reg. A nil life gets a private manager.
func New(prog *program.Program, reg *symbols.Registry, life *lifecycle.Manager, opts ...Option) (*VM, error) {
	vm := &VM{
		prog:   prog,
		reg:    reg,
		types:  reg.Types,
		life:   life,
		stack:  make([]value.Value, 0, 64),
		frames: make([]*StackFrame, 0, 16),
		limits: DefaultLimits,
		log:    logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(vm)
	}
	if vm.life == nil {
		vm.life = lifecycle.New(reg.Types, lifecycle.WithLogger(vm.log))
	}
	if err := vm.bind(); err != nil {
		return nil, err
	}
	return vm, nil
}

// bind resolves the program's symbol references and callback triggers.
func (vm *VM) bind() error {
	vm.bound = make([]binding, len(vm.prog.Symbols))
	for i, ref := range vm.prog.Symbols {
		b := binding{ref: ref}
		switch ref.Kind {
		case program.SymFunction:
			f, ok := vm.reg.Functions.Find(ref.Name)
			if !ok {
				return fmt.Errorf("%w %s: function %s is not registered", ErrBind, vm.prog.Name, ref.Name)
			}
			b.fn = f
		case program.SymExternal:
			v, ok := vm.reg.Variables.Find(ref.Name)
			if !ok || v.Storage != symbols.External {
				return fmt.Errorf("%w %s: external %s is not registered", ErrBind, vm.prog.Name, ref.Name)
			}
			b.v = v
		case program.SymMember:
			v, ok := vm.reg.MemberOf(ref.Owner, ref.Name)
			if !ok {
				return fmt.Errorf("%w %s: member %s.%s is not registered", ErrBind, vm.prog.Name, vm.types.Name(ref.Owner), ref.Name)
			}
			b.v = v
		default:
			return fmt.Errorf("%w %s: bad symbol kind %s", ErrBind, vm.prog.Name, ref.Kind)
		}
		vm.bound[i] = b
	}

	vm.callbacks = make([]*symbols.Callback, len(vm.prog.Triggers))
	for i, t := range vm.prog.Triggers {
		if t.Kind != program.TriggerCallback {
			continue
		}
		cb, ok := vm.reg.Callbacks.Find(t.Callback)
		if !ok {
			return fmt.Errorf("%w %s: callback %s is not registered", ErrBind, vm.prog.Name, t.Callback)
		}
		if len(cb.Params) != len(t.Filters) {
			return fmt.Errorf("%w %s: callback %s takes %d arguments, trigger %s has %d",
				ErrBind, vm.prog.Name, cb.Name, len(cb.Params), t.Name, len(t.Filters))
		}
		vm.callbacks[i] = cb
	}
	return vm.checkNativeArity()
}

// checkNativeArity verifies that every CallNative passes the argument count
// the bound function declares.
func (vm *VM) checkNativeArity() error {
	code := vm.prog.Code
	for pc := 0; pc < len(code); {
		op := opcode.Op(code[pc])
		w := op.Width()
		if w == 0 || pc+w > len(code) {
			return fmt.Errorf("%w %s: invalid instruction at offset %d", ErrBind, vm.prog.Name, pc)
		}
		if op == opcode.CallNative {
			sym := int(code[pc+1])<<8 | int(code[pc+2])
			argc := int(code[pc+3])
			if sym >= len(vm.bound) || vm.bound[sym].fn == nil {
				return fmt.Errorf("%w %s: offset %d calls a non-function symbol", ErrBind, vm.prog.Name, pc)
			}
			if f := vm.bound[sym].fn; len(f.Params) != argc {
				return fmt.Errorf("%w %s: %s takes %d arguments, code passes %d",
					ErrBind, vm.prog.Name, f.Name, len(f.Params), argc)
			}
		}
		pc += w
	}
	return nil
}

// Program returns the program this VM runs.
func (vm *VM) Program() *program.Program { return vm.prog }

// State returns the execution state.
func (vm *VM) State() State { return vm.state }

// Fault returns the error that faulted the program, or nil.
func (vm *VM) Fault() *RuntimeError { return vm.fault }

// SetTick sets the simulation tick natives observe.
func (vm *VM) SetTick(tick int64) { vm.tick = tick }

// TriggerCallback returns the callback bound to a callback trigger.
func (vm *VM) TriggerCallback(trigger int) (*symbols.Callback, bool) {
	if trigger < 0 || trigger >= len(vm.callbacks) || vm.callbacks[trigger] == nil {
		return nil, false
	}
	return vm.callbacks[trigger], true
}

// Acquire implements symbols.Env.
func (vm *VM) Acquire(t types.ID, obj lifecycle.Object) value.Value {
	return vm.life.Acquire(t, obj)
}

// Resolve implements symbols.Env.
func (vm *VM) Resolve(v value.Value) (lifecycle.Object, bool) {
	return vm.life.Resolve(v)
}

// Tick implements symbols.Env.
func (vm *VM) Tick() int64 { return vm.tick }

// Logger implements symbols.Env.
func (vm *VM) Logger() *slog.Logger { return vm.log }

// GlobalIndex finds a script global by name.
func (vm *VM) GlobalIndex(name string) (int, bool) {
	for i, g := range vm.prog.Globals {
		if g.Name == name {
			return i, true
		}
	}
	return 0, false
}

// Global reads a script global. Destroyed objects read as null.
func (vm *VM) Global(i int) value.Value {
	if i < 0 || i >= len(vm.globals) {
		return value.Void
	}
	return vm.life.Read(vm.globals[i])
}

// SetGlobal stores a copy of v into a script global.
func (vm *VM) SetGlobal(i int, v value.Value) error {
	if i < 0 || i >= len(vm.globals) {
		return fmt.Errorf("global %d out of range", i)
	}
	g := vm.prog.Globals[i]
	if !vm.types.IsAssignable(g.Type, v.Type) {
		return fmt.Errorf("cannot store %s in global %s of type %s", v, g.Name, vm.types.Name(g.Type))
	}
	vm.life.Retain(v)
	old := vm.globals[i]
	vm.globals[i] = v
	vm.life.Release(old)
	return nil
}

// Discard releases the locals held by a continuation that will never resume.
func (vm *VM) Discard(c *Continuation) {
	if c == nil {
		return
	}
	vm.releaseAll(c.Locals)
	c.Locals = nil
}

// CheckContinuation reports whether a paused event with locals of the given
// types may resume at pc. pc must follow a pause in the program's code.
func (vm *VM) CheckContinuation(event, pc int, locals []types.ID) error {
	if event < 0 || event >= len(vm.prog.Events) {
		return fmt.Errorf("event %d out of range", event)
	}
	ev := vm.prog.Events[event]
	if pc <= 0 || pc >= len(vm.prog.Code) || opcode.Op(vm.prog.Code[pc-1]) != opcode.Pause {
		return fmt.Errorf("event %s: %d is not a resume point", ev.Name, pc)
	}
	if len(locals) != len(ev.Locals) {
		return fmt.Errorf("event %s has %d locals, got %d", ev.Name, len(ev.Locals), len(locals))
	}
	for i, t := range locals {
		if !vm.types.IsAssignable(ev.Locals[i].Type, t) {
			return fmt.Errorf("event %s: cannot use %s as local %s of type %s",
				ev.Name, vm.types.Name(t), ev.Locals[i].Name, vm.types.Name(ev.Locals[i].Type))
		}
	}
	return nil
}

// Teardown releases every value the VM owns. The VM cannot run afterwards.
func (vm *VM) Teardown() {
	if vm.closed {
		return
	}
	vm.releaseAll(vm.stack)
	vm.stack = vm.stack[:0]
	for _, f := range vm.frames {
		vm.releaseAll(f.Locals)
	}
	vm.frames = vm.frames[:0]
	vm.releaseAll(vm.globals)
	vm.globals = nil
	vm.closed = true
	vm.log.Debug("Program torn down", "program", vm.prog.Name)
}

func (vm *VM) releaseAll(vals []value.Value) {
	for _, v := range vals {
		vm.life.Release(v)
	}
}

// newLocals returns the null value of every slot.
func newLocals(slots []program.Slot) []value.Value {
	locals := make([]value.Value, len(slots))
	for i, s := range slots {
		locals[i] = value.Null(s.Type)
	}
	return locals
}

// begin checks that a run may start and marks the VM running.
func (vm *VM) begin(needInit bool) error {
	switch {
	case vm.closed:
		return ErrClosed
	case vm.state == Faulted:
		return fmt.Errorf("%w: %s", ErrFaulted, vm.fault)
	case vm.state == Running:
		return ErrBusy
	case needInit && !vm.initialized:
		return ErrNotInitialized
	}
	vm.state = Running
	return nil
}

// end records the outcome of a run.
func (vm *VM) end(err error) error {
	if rt, ok := err.(*RuntimeError); ok && rt.IsFatal() {
		vm.state = Faulted
		vm.fault = rt
		vm.log.Error("Program faulted",
			"program", vm.prog.Name, "type", rt.Type, "offset", rt.Offset, "line", rt.Line, "message", rt.Message)
		return rt
	}
	vm.state = Suspended
	return err
}

// Init runs the static initialisers.
func (vm *VM) Init(ctx context.Context) error {
	if vm.initialized {
		return nil
	}
	if err := vm.begin(false); err != nil {
		return err
	}
	vm.globals = newLocals(vm.prog.Globals)
	_, err := vm.execute(ctx, vm.prog.InitEntry, nil)
	if err != nil {
		return vm.end(err)
	}
	vm.initialized = true
	vm.state = Completed
	vm.log.Debug("Program initialized", "program", vm.prog.Name, "globals", len(vm.globals))
	return nil
}

// Result is the outcome of Run.
type Result struct {
	// Value is the function result or condition result, if any.
	Value value.Value
	// Paused is set when an event paused.
	Paused *Continuation
}

// Run executes code at entry in a fresh frame with the given locals.
func (vm *VM) Run(ctx context.Context, entry int, locals []value.Value) (Result, error) {
	if err := vm.begin(true); err != nil {
		vm.releaseAll(locals)
		return Result{}, err
	}
	out, err := vm.execute(ctx, entry, locals)
	if err != nil {
		return Result{}, vm.end(err)
	}
	vm.end(nil)
	res := Result{Value: out.value}
	if out.stop == stopPause {
		res.Paused = &Continuation{PC: out.pc, Locals: out.locals, Ticks: out.ticks}
	}
	return res, nil
}

// RunEvent runs an event body from the start. It returns a continuation when
// the event paused.
func (vm *VM) RunEvent(ctx context.Context, event int) (*Continuation, error) {
	if event < 0 || event >= len(vm.prog.Events) {
		return nil, fmt.Errorf("event %d out of range", event)
	}
	ev := vm.prog.Events[event]
	res, err := vm.Run(ctx, ev.Entry, newLocals(ev.Locals))
	if res.Paused != nil {
		res.Paused.Event = event
	}
	return res.Paused, err
}

// Resume continues a paused event. c must not be used again.
func (vm *VM) Resume(ctx context.Context, c *Continuation) (*Continuation, error) {
	locals := c.Locals
	c.Locals = nil
	res, err := vm.Run(ctx, c.PC, locals)
	if res.Paused != nil {
		res.Paused.Event = c.Event
	}
	return res.Paused, err
}

// Eval runs trigger condition code and returns its result.
func (vm *VM) Eval(ctx context.Context, entry int) (bool, error) {
	res, err := vm.Run(ctx, entry, nil)
	if err != nil {
		return false, err
	}
	if res.Value.Type != types.Bool {
		return false, vm.end(&RuntimeError{
			Type: ErrorTypeMismatch, Program: vm.prog.Name, Offset: entry, Line: vm.prog.LineAt(entry),
			Message: fmt.Sprintf("condition produced %s, want bool", res.Value),
		})
	}
	return res.Value.Bool(), nil
}

// CallFunction calls a script function by name with by-value arguments.
func (vm *VM) CallFunction(ctx context.Context, name string, args ...value.Value) (value.Value, error) {
	idx, ok := vm.prog.FunctionIndex(name)
	if !ok {
		return value.Void, fmt.Errorf("%s: no function %s", vm.prog.Name, name)
	}
	fn := vm.prog.Functions[idx]
	if len(args) != fn.Params {
		return value.Void, fmt.Errorf("%s: %s takes %d arguments, got %d", vm.prog.Name, name, fn.Params, len(args))
	}
	locals := newLocals(fn.Locals)
	for i, a := range args {
		if !vm.types.IsAssignable(fn.Locals[i].Type, a.Type) {
			vm.releaseAll(locals[:i])
			return value.Void, fmt.Errorf("%s: argument %d to %s: cannot use %s as %s",
				vm.prog.Name, i+1, name, a, vm.types.Name(fn.Locals[i].Type))
		}
		vm.life.Retain(a)
		locals[i] = a
	}
	res, err := vm.Run(ctx, fn.Entry, locals)
	return res.Value, err
}
