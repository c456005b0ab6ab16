package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/zurustar/missionscript/pkg/lifecycle"
	"github.com/zurustar/missionscript/pkg/logger"
	"github.com/zurustar/missionscript/pkg/program"
	"github.com/zurustar/missionscript/pkg/symbols"
	"github.com/zurustar/missionscript/pkg/value"
	"github.com/zurustar/missionscript/pkg/vm"
)

var (
	ErrDuplicateProgram = errors.New("program already loaded")
	ErrUnknownProgram   = errors.New("program not loaded")
	ErrUnknownCallback  = errors.New("unknown callback")
	ErrBadArguments     = errors.New("callback arguments do not match its signature")
)

// eventState is the dispatch state of one event of one program.
type eventState struct {
	// binding is a trigger index, program.BindInactive or program.BindInit.
	binding int
	// next is the tick at which a scheduled binding is tested.
	next int64
	// last is the previous result of a code trigger's condition.
	last bool
	// tested is the tick of the last condition test.
	tested int64

	paused   *vm.Continuation
	resumeAt int64
}

type loaded struct {
	name   string
	seq    int
	vm     *vm.VM
	events []eventState
}

// ProgramInfo describes a loaded program.
type ProgramInfo struct {
	Name   string
	State  vm.State
	Paused int
}

// Dispatcher runs loaded programs from the engine's tick.
type Dispatcher struct {
	reg      *symbols.Registry
	life     *lifecycle.Manager
	queue    *EventQueue
	programs []*loaded
	seq      int
	tick     int64
	vmOpts   []vm.Option
	log      *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.log = log
	}
}

// WithQueueSize bounds the callback queue.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		d.queue = NewEventQueueWithSize(n)
	}
}

// WithVMOptions are applied to every program's VM.
func WithVMOptions(opts ...vm.Option) Option {
	return func(d *Dispatcher) {
		d.vmOpts = append(d.vmOpts, opts...)
	}
}

// New creates a dispatcher. Every program shares reg and life.
func New(reg *symbols.Registry, life *lifecycle.Manager, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		reg:   reg,
		life:  life,
		queue: NewEventQueue(),
		log:   logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// CurrentTick returns the last tick the dispatcher ran.
func (d *Dispatcher) CurrentTick() int64 { return d.tick }

// Load binds prog, runs its initialisers and makes it eligible for dispatch.
func (d *Dispatcher) Load(ctx context.Context, name string, prog *program.Program) error {
	if d.find(name) != nil {
		return fmt.Errorf("%w: %s", ErrDuplicateProgram, name)
	}

	p := &loaded{name: name, seq: d.seq, events: make([]eventState, len(prog.Events))}
	opts := append([]vm.Option{vm.WithLogger(d.log)}, d.vmOpts...)
	opts = append(opts, vm.WithTriggerHook(func(event, trigger int) {
		d.bind(p, event, trigger)
	}))
	m, err := vm.New(prog, d.reg, d.life, opts...)
	if err != nil {
		return err
	}
	p.vm = m
	m.SetTick(d.tick)
	if err := m.Init(ctx); err != nil {
		m.Teardown()
		return fmt.Errorf("initializing %s: %w", name, err)
	}

	for i, ev := range prog.Events {
		d.bind(p, i, ev.Trigger)
	}
	d.seq++
	d.programs = append(d.programs, p)
	d.log.Info("Program loaded", "program", name, "events", len(prog.Events), "triggers", len(prog.Triggers), "tick", d.tick)
	return nil
}

// Unload removes a program from dispatch and releases everything it holds.
func (d *Dispatcher) Unload(name string) error {
	for i, p := range d.programs {
		if p.name != name {
			continue
		}
		d.programs = append(d.programs[:i], d.programs[i+1:]...)
		for j := range p.events {
			p.vm.Discard(p.events[j].paused)
			p.events[j].paused = nil
		}
		p.vm.Teardown()
		d.log.Info("Program unloaded", "program", name, "tick", d.tick)
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownProgram, name)
}

// UnloadAll unloads every program, newest first.
func (d *Dispatcher) UnloadAll() {
	for len(d.programs) > 0 {
		d.Unload(d.programs[len(d.programs)-1].name)
	}
}

// Programs lists loaded programs in registration order.
func (d *Dispatcher) Programs() []ProgramInfo {
	out := make([]ProgramInfo, 0, len(d.programs))
	for _, p := range d.programs {
		info := ProgramInfo{Name: p.name, State: p.vm.State()}
		for _, st := range p.events {
			if st.paused != nil {
				info.Paused++
			}
		}
		out = append(out, info)
	}
	return out
}

// VM returns the VM running a loaded program.
func (d *Dispatcher) VM(name string) (*vm.VM, bool) {
	if p := d.find(name); p != nil {
		return p.vm, true
	}
	return nil, false
}

func (d *Dispatcher) find(name string) *loaded {
	for _, p := range d.programs {
		if p.name == name {
			return p
		}
	}
	return nil
}

// bind points an event at a trigger and restarts the trigger's schedule.
func (d *Dispatcher) bind(p *loaded, event, trigger int) {
	st := &p.events[event]
	st.binding = trigger
	st.last = false
	switch {
	case trigger == program.BindInit:
		st.next = d.tick + 1
	case trigger >= 0:
		st.next = d.tick + int64(interval(p.vm.Program().Triggers[trigger]))
	}
}

// interval is the test period of a scheduled trigger. Zero means every tick.
func interval(t program.Trigger) int {
	if t.Interval <= 0 {
		return 1
	}
	return t.Interval
}

// scheduled reports whether a binding is tested on a tick schedule.
func (p *loaded) scheduled(binding int) bool {
	if binding == program.BindInit {
		return true
	}
	if binding < 0 {
		return false
	}
	return p.vm.Program().Triggers[binding].Kind != program.TriggerCallback
}

func (p *loaded) live() bool {
	return p.vm.State() != vm.Faulted
}

// NotifyEvent queues a callback raised by the engine. The dispatcher takes
// over the caller's references in args and releases them after delivery.
func (d *Dispatcher) NotifyEvent(callback int, args ...value.Value) error {
	cb, ok := d.reg.CallbackByID(callback)
	if !ok {
		d.releaseAll(args)
		return fmt.Errorf("%w: id %d", ErrUnknownCallback, callback)
	}
	if len(args) != len(cb.Params) {
		d.releaseAll(args)
		return fmt.Errorf("%w: %s takes %d arguments, got %d", ErrBadArguments, cb.Name, len(cb.Params), len(args))
	}
	for i, p := range cb.Params {
		if !d.reg.Types.IsAssignable(p.Type, args[i].Type) {
			d.releaseAll(args)
			return fmt.Errorf("%w: argument %d of %s is %s, want %s",
				ErrBadArguments, i+1, cb.Name, d.reg.Types.Name(args[i].Type), d.reg.Types.Name(p.Type))
		}
	}

	if dropped := d.queue.Push(&Event{Callback: callback, Args: args, Tick: d.tick}); dropped != nil {
		d.log.Warn("Event queue full, dropping oldest event", "callback", dropped.Callback, "raised", dropped.Tick)
		d.releaseAll(dropped.Args)
	}
	return nil
}

// NotifyEventByName is NotifyEvent for a callback name.
func (d *Dispatcher) NotifyEventByName(name string, args ...value.Value) error {
	cb, ok := d.reg.Callbacks.Find(name)
	if !ok {
		d.releaseAll(args)
		return fmt.Errorf("%w: %s", ErrUnknownCallback, name)
	}
	return d.NotifyEvent(cb.ID, args...)
}

func (d *Dispatcher) releaseAll(args []value.Value) {
	for _, a := range args {
		d.life.Release(a)
	}
}

// Tick advances one simulation tick: queued callbacks are delivered first,
// then triggers are polled.
func (d *Dispatcher) Tick(ctx context.Context) error {
	d.setTick(d.tick + 1)
	if err := d.flushEvents(ctx); err != nil {
		return err
	}
	return d.PollTriggers(ctx, d.tick)
}

// setTick moves the dispatcher and every program's VM to tick. Pauses and
// trigger schedules are counted from it.
func (d *Dispatcher) setTick(tick int64) {
	d.tick = tick
	for _, p := range d.programs {
		p.vm.SetTick(tick)
	}
}

func (d *Dispatcher) flushEvents(ctx context.Context) error {
	events := d.queue.Drain()
	for i, ev := range events {
		err := d.deliver(ctx, ev)
		d.releaseAll(ev.Args)
		if err != nil {
			for _, rest := range events[i+1:] {
				d.releaseAll(rest.Args)
			}
			return err
		}
	}
	return nil
}

// deliver runs every handler of ev, programs in registration order and
// events in declaration order.
func (d *Dispatcher) deliver(ctx context.Context, ev *Event) error {
	for _, p := range append([]*loaded(nil), d.programs...) {
		for i := range p.events {
			if !p.live() || d.find(p.name) != p {
				break
			}
			st := &p.events[i]
			if st.paused != nil || st.binding < 0 {
				continue
			}
			cb, ok := p.vm.TriggerCallback(st.binding)
			if !ok || cb.ID != ev.Callback {
				continue
			}
			trig := p.vm.Program().Triggers[st.binding]
			accept, err := d.accepts(p, cb, trig, ev.Args)
			if err != nil {
				d.log.Warn("Pre-dispatch failed", "program", p.name, "callback", cb.Name, "error", err)
				continue
			}
			if !accept {
				continue
			}
			for j, g := range trig.RefGlobals {
				if g < 0 {
					continue
				}
				if err := p.vm.SetGlobal(g, ev.Args[j]); err != nil {
					d.log.Warn("Cannot store callback argument", "program", p.name, "callback", cb.Name, "error", err)
				}
			}
			d.log.Debug("Callback dispatched", "program", p.name, "callback", cb.Name, "event", p.vm.Program().Events[i].Name, "tick", d.tick)
			if err := d.run(ctx, p, i, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// accepts applies the callback's pre-dispatch function, or else requires
// every by-value filter to equal the engine's argument.
func (d *Dispatcher) accepts(p *loaded, cb *symbols.Callback, trig program.Trigger, args []value.Value) (bool, error) {
	if cb.PreDispatch != nil {
		return cb.PreDispatch(p.vm, trig.Filters, args)
	}
	for i, param := range cb.Params {
		if param.ByRef {
			continue
		}
		if !trig.Filters[i].Equal(args[i]) {
			return false, nil
		}
	}
	return true, nil
}

type due struct {
	at     int64
	p      *loaded
	event  int
	resume bool
}

// PollTriggers tests every scheduled trigger due at tick and resumes paused
// events whose time has come. Work runs in order of due tick, then program
// registration, then event declaration. tick becomes the current tick.
func (d *Dispatcher) PollTriggers(ctx context.Context, tick int64) error {
	if tick != d.tick {
		d.setTick(tick)
	}
	var work []due
	for _, p := range d.programs {
		if !p.live() {
			continue
		}
		for i, st := range p.events {
			switch {
			case st.paused != nil:
				if st.resumeAt <= tick {
					work = append(work, due{at: st.resumeAt, p: p, event: i, resume: true})
				}
			case p.scheduled(st.binding) && st.next <= tick:
				work = append(work, due{at: st.next, p: p, event: i})
			}
		}
	}
	sort.SliceStable(work, func(i, j int) bool { return work[i].at < work[j].at })

	for _, w := range work {
		p := w.p
		if !p.live() || d.find(p.name) != p {
			continue
		}
		st := &p.events[w.event]
		if w.resume {
			if st.paused == nil {
				continue
			}
			c := st.paused
			st.paused = nil
			if err := d.run(ctx, p, w.event, c); err != nil {
				return err
			}
			continue
		}
		if st.paused != nil || !p.scheduled(st.binding) || st.next > tick {
			continue
		}
		if err := d.fire(ctx, p, w.event, tick); err != nil {
			return err
		}
	}
	return nil
}

// fire tests a due scheduled binding and runs the event if it triggers.
func (d *Dispatcher) fire(ctx context.Context, p *loaded, event int, tick int64) error {
	st := &p.events[event]
	if st.binding == program.BindInit {
		st.binding = program.BindInactive
		return d.run(ctx, p, event, nil)
	}

	trig := p.vm.Program().Triggers[st.binding]
	switch trig.Kind {
	case program.TriggerInit, program.TriggerWait:
		st.binding = program.BindInactive
	case program.TriggerEvery:
		st.next = tick + int64(interval(trig))
	case program.TriggerCode:
		ok, err := p.vm.Eval(ctx, trig.Cond)
		if err != nil {
			return d.failed(p, event, err)
		}
		fire := ok && (trig.Level || !st.last)
		st.last = ok
		st.tested = tick
		st.next = tick + int64(interval(trig))
		if !fire {
			return nil
		}
	}
	d.log.Debug("Trigger fired", "program", p.name, "trigger", trig.Name, "event", p.vm.Program().Events[event].Name, "tick", tick)
	return d.run(ctx, p, event, nil)
}

// run starts or resumes an event and records a pause.
func (d *Dispatcher) run(ctx context.Context, p *loaded, event int, resume *vm.Continuation) error {
	var c *vm.Continuation
	var err error
	if resume != nil {
		c, err = p.vm.Resume(ctx, resume)
	} else {
		c, err = p.vm.RunEvent(ctx, event)
	}
	if err != nil {
		return d.failed(p, event, err)
	}
	if c != nil {
		ticks := int64(c.Ticks)
		if ticks < 1 {
			ticks = 1
		}
		st := &p.events[event]
		st.paused = c
		st.resumeAt = d.tick + ticks
	}
	return nil
}

// failed absorbs program faults; anything else stops the tick.
func (d *Dispatcher) failed(p *loaded, event int, err error) error {
	if p.vm.State() == vm.Faulted {
		d.log.Warn("Program faulted, skipping it from now on",
			"program", p.name, "event", p.vm.Program().Events[event].Name, "tick", d.tick, "error", err)
		return nil
	}
	return err
}
