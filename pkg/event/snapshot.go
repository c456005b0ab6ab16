package event

import (
	"errors"
	"fmt"

	"github.com/zurustar/missionscript/pkg/lifecycle"
	"github.com/zurustar/missionscript/pkg/program"
	"github.com/zurustar/missionscript/pkg/types"
	"github.com/zurustar/missionscript/pkg/value"
	"github.com/zurustar/missionscript/pkg/vm"
)

var (
	// ErrStateMismatch is returned when a saved state does not fit the loaded programs.
	ErrStateMismatch = errors.New("saved state does not match the loaded program")
)

// SavedValue is a script value with object handles replaced by engine ids.
type SavedValue struct {
	Type types.ID `cbor:"1,keyasint"`
	Int  int64    `cbor:"2,keyasint,omitempty"`
	Str  string   `cbor:"3,keyasint,omitempty"`
	// Object is the engine id of a non-null object reference.
	Object lifecycle.ObjectID `cbor:"4,keyasint,omitempty"`
	Live   bool               `cbor:"5,keyasint,omitempty"`
}

// PausedEvent is a paused event body.
type PausedEvent struct {
	PC       int          `cbor:"1,keyasint"`
	Locals   []SavedValue `cbor:"2,keyasint,omitempty"`
	Ticks    int          `cbor:"3,keyasint"`
	ResumeAt int64        `cbor:"4,keyasint"`
}

// EventSnapshot is the dispatch state of one event.
type EventSnapshot struct {
	Binding int          `cbor:"1,keyasint"`
	Next    int64        `cbor:"2,keyasint,omitempty"`
	Last    bool         `cbor:"3,keyasint,omitempty"`
	Tested  int64        `cbor:"4,keyasint,omitempty"`
	Paused  *PausedEvent `cbor:"5,keyasint,omitempty"`
}

// ProgramSnapshot is the state of one loaded program.
type ProgramSnapshot struct {
	Name    string          `cbor:"1,keyasint"`
	Digest  [32]byte        `cbor:"2,keyasint"`
	Globals []SavedValue    `cbor:"3,keyasint"`
	Events  []EventSnapshot `cbor:"4,keyasint"`
}

// PendingEvent is a raised callback not yet delivered.
type PendingEvent struct {
	Callback string       `cbor:"1,keyasint"`
	Args     []SavedValue `cbor:"2,keyasint,omitempty"`
	Tick     int64        `cbor:"3,keyasint"`
}

// Snapshot is everything the dispatcher needs to continue a run later:
// script globals, event bindings and schedules, paused events and queued
// callbacks.
type Snapshot struct {
	Tick     int64             `cbor:"1,keyasint"`
	Programs []ProgramSnapshot `cbor:"2,keyasint"`
	Pending  []PendingEvent    `cbor:"3,keyasint,omitempty"`
}

// Snapshot captures the state of every live program. Faulted programs are
// left out.
func (d *Dispatcher) Snapshot() *Snapshot {
	snap := &Snapshot{Tick: d.tick}
	for _, p := range d.programs {
		if !p.live() {
			d.log.Warn("Faulted program left out of the saved state", "program", p.name)
			continue
		}
		prog := p.vm.Program()
		ps := ProgramSnapshot{
			Name:    p.name,
			Digest:  prog.Digest(),
			Globals: make([]SavedValue, len(prog.Globals)),
			Events:  make([]EventSnapshot, len(p.events)),
		}
		for i := range prog.Globals {
			ps.Globals[i] = d.save(p.vm.Global(i))
		}
		for i, st := range p.events {
			es := EventSnapshot{Binding: st.binding, Next: st.next, Last: st.last, Tested: st.tested}
			if c := st.paused; c != nil {
				es.Paused = &PausedEvent{PC: c.PC, Locals: d.saveAll(c.Locals), Ticks: c.Ticks, ResumeAt: st.resumeAt}
			}
			ps.Events[i] = es
		}
		snap.Programs = append(snap.Programs, ps)
	}

	for _, ev := range d.queue.Events() {
		cb, ok := d.reg.CallbackByID(ev.Callback)
		if !ok {
			continue
		}
		snap.Pending = append(snap.Pending, PendingEvent{Callback: cb.Name, Args: d.saveAll(ev.Args), Tick: ev.Tick})
	}
	return snap
}

func (d *Dispatcher) save(v value.Value) SavedValue {
	v = d.life.Read(v)
	if !d.life.Tracks(v.Type) {
		return SavedValue{Type: v.Type, Int: v.Int, Str: v.Str}
	}
	sv := SavedValue{Type: v.Type}
	if id, ok := d.life.Identify(v); ok {
		sv.Object, sv.Live = id, true
	}
	return sv
}

func (d *Dispatcher) saveAll(vals []value.Value) []SavedValue {
	if len(vals) == 0 {
		return nil
	}
	out := make([]SavedValue, len(vals))
	for i, v := range vals {
		out[i] = d.save(v)
	}
	return out
}

// revive turns a saved value back into a script value that owns one
// reference. An object that no longer exists comes back as null.
func (d *Dispatcher) revive(sv SavedValue) value.Value {
	if !d.life.Tracks(sv.Type) {
		return value.Value{Type: sv.Type, Int: sv.Int, Str: sv.Str}
	}
	if !sv.Live {
		return value.Null(sv.Type)
	}
	v, ok := d.life.Reacquire(sv.Type, sv.Object)
	if !ok {
		d.log.Warn("Saved object no longer exists, restoring null", "object", sv.Object, "type", d.reg.Types.Name(sv.Type))
	}
	return v
}

func (d *Dispatcher) reviveAll(saved []SavedValue) []value.Value {
	out := make([]value.Value, len(saved))
	for i, sv := range saved {
		out[i] = d.revive(sv)
	}
	return out
}

// Restore puts the loaded programs back into a saved state. Every program in
// snap must be loaded from the same compiled code; the whole snapshot is
// checked before anything changes. Programs loaded but not in snap keep their
// state. Queued callbacks are replaced by the saved ones.
func (d *Dispatcher) Restore(snap *Snapshot) error {
	for _, ps := range snap.Programs {
		p := d.find(ps.Name)
		if p == nil {
			return fmt.Errorf("%w: %s", ErrUnknownProgram, ps.Name)
		}
		if err := d.checkProgram(p, ps); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrStateMismatch, ps.Name, err)
		}
	}
	for _, pe := range snap.Pending {
		cb, ok := d.reg.Callbacks.Find(pe.Callback)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownCallback, pe.Callback)
		}
		if len(pe.Args) != len(cb.Params) {
			return fmt.Errorf("%w: %s takes %d arguments, got %d", ErrBadArguments, cb.Name, len(cb.Params), len(pe.Args))
		}
	}

	d.setTick(snap.Tick)
	for _, ps := range snap.Programs {
		p := d.find(ps.Name)
		for i, sv := range ps.Globals {
			v := d.revive(sv)
			if err := p.vm.SetGlobal(i, v); err != nil {
				d.log.Warn("Cannot restore global", "program", p.name, "global", p.vm.Program().Globals[i].Name, "error", err)
			}
			d.life.Release(v)
		}
		for i, es := range ps.Events {
			st := &p.events[i]
			p.vm.Discard(st.paused)
			*st = eventState{binding: es.Binding, next: es.Next, last: es.Last, tested: es.Tested}
			if es.Paused != nil {
				st.paused = &vm.Continuation{
					Event:  i,
					PC:     es.Paused.PC,
					Locals: d.reviveAll(es.Paused.Locals),
					Ticks:  es.Paused.Ticks,
				}
				st.resumeAt = es.Paused.ResumeAt
			}
		}
	}

	for _, ev := range d.queue.Drain() {
		d.releaseAll(ev.Args)
	}
	for _, pe := range snap.Pending {
		if err := d.NotifyEventByName(pe.Callback, d.reviveAll(pe.Args)...); err != nil {
			d.log.Warn("Cannot requeue saved callback", "callback", pe.Callback, "error", err)
		}
	}
	d.log.Info("State restored", "programs", len(snap.Programs), "pending", len(snap.Pending), "tick", d.tick)
	return nil
}

func (d *Dispatcher) checkProgram(p *loaded, ps ProgramSnapshot) error {
	if !p.live() {
		return errors.New("program is faulted")
	}
	prog := p.vm.Program()
	if prog.Digest() != ps.Digest {
		return errors.New("compiled code differs")
	}
	if len(ps.Globals) != len(prog.Globals) || len(ps.Events) != len(prog.Events) {
		return fmt.Errorf("%d globals and %d events saved, program has %d and %d",
			len(ps.Globals), len(ps.Events), len(prog.Globals), len(prog.Events))
	}
	for i, sv := range ps.Globals {
		g := prog.Globals[i]
		if !d.reg.Types.IsAssignable(g.Type, sv.Type) {
			return fmt.Errorf("global %s: cannot restore %s into %s", g.Name, d.reg.Types.Name(sv.Type), d.reg.Types.Name(g.Type))
		}
	}
	for i, es := range ps.Events {
		if es.Binding < program.BindInit || es.Binding >= len(prog.Triggers) {
			return fmt.Errorf("event %s: binding %d out of range", prog.Events[i].Name, es.Binding)
		}
		if es.Paused == nil {
			continue
		}
		locals := make([]types.ID, len(es.Paused.Locals))
		for j, sv := range es.Paused.Locals {
			locals[j] = sv.Type
		}
		if err := p.vm.CheckContinuation(i, es.Paused.PC, locals); err != nil {
			return err
		}
	}
	return nil
}
