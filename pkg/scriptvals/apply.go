package scriptvals

import (
	"fmt"
	"log/slog"

	"github.com/zurustar/missionscript/pkg/lifecycle"
	"github.com/zurustar/missionscript/pkg/logger"
	"github.com/zurustar/missionscript/pkg/symbols"
	"github.com/zurustar/missionscript/pkg/types"
	"github.com/zurustar/missionscript/pkg/value"
	"github.com/zurustar/missionscript/pkg/vm"
)

// RecordFunc resolves the name of a simple engine record, such as a
// structure stat, to its handle.
type RecordFunc func(t types.ID, name string) (int64, bool)

type options struct {
	records RecordFunc
	log     *slog.Logger
}

// Option configures Apply.
type Option func(*options)

// WithRecords resolves quoted values given for simple engine types.
func WithRecords(fn RecordFunc) Option {
	return func(o *options) {
		o.records = fn
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// Apply sets the globals of m from b. Every value is checked before any is
// set, so a block with a bad value leaves m unchanged.
func Apply(m *vm.VM, reg *symbols.Registry, life *lifecycle.Manager, file string, b Block, opts ...Option) error {
	o := options{log: logger.GetLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	if b.Store != "" {
		return fmt.Errorf("%s:%d: %s: %w", file, b.Line, b.Store, ErrStoreBlock)
	}

	type set struct {
		slot int
		v    value.Value
	}
	sets := make([]set, 0, len(b.Inits))
	release := func() {
		for _, s := range sets {
			life.Release(s.v)
		}
	}

	for _, in := range b.Inits {
		fail := func(format string, args ...any) error {
			release()
			return &Error{File: file, Line: in.Line, Message: fmt.Sprintf(format, args...)}
		}

		slot, err := globalSlot(m, in)
		if err != nil {
			return fail("%v", err)
		}
		info, ok := reg.Types.Lookup(in.Type)
		if !ok {
			return fail("unknown type %s", in.Type)
		}
		g := m.Program().Globals[slot]
		if !reg.Types.IsAssignable(g.Type, info.ID) {
			return fail("%s is %s, cannot set it to %s", in.Name(), reg.Types.Name(g.Type), info.Name)
		}
		v, err := makeValue(reg, life, o.records, info, in.Value)
		if err != nil {
			return fail("%s: %v", in.Name(), err)
		}
		sets = append(sets, set{slot, v})
	}

	for _, s := range sets {
		if err := m.SetGlobal(s.slot, s.v); err != nil {
			release()
			return fmt.Errorf("%s: %w", file, err)
		}
	}
	release()
	o.log.Debug("Script values applied", "file", file, "program", m.Program().Name, "values", len(sets))
	return nil
}

func globalSlot(m *vm.VM, in Init) (int, error) {
	prog := m.Program()
	if len(in.Indices) == 0 {
		if _, ok := prog.ArrayIndex(in.Var); ok {
			return 0, fmt.Errorf("array %s needs an index", in.Var)
		}
		slot, ok := m.GlobalIndex(in.Var)
		if !ok {
			return 0, fmt.Errorf("%s has no global %s", prog.Name, in.Var)
		}
		return slot, nil
	}
	ai, ok := prog.ArrayIndex(in.Var)
	if !ok {
		return 0, fmt.Errorf("%s has no global array %s", prog.Name, in.Var)
	}
	arr := &prog.Arrays[ai]
	slot, ok := arr.Slot(in.Indices)
	if !ok {
		return 0, fmt.Errorf("%s is out of range for %s%v", in.Name(), arr.Name, arr.Dims)
	}
	return slot, nil
}

// makeValue builds a value of type info that owns one reference.
func makeValue(reg *symbols.Registry, life *lifecycle.Manager, records RecordFunc, info *types.Info, lit Literal) (value.Value, error) {
	want := func(k Kind) error {
		if lit.Kind != k {
			return fmt.Errorf("%s needs %s", info.Name, k)
		}
		return nil
	}

	switch {
	case info.ID == types.Int:
		if err := want(IntLit); err != nil {
			return value.Value{}, err
		}
		return value.IntValue(lit.Int), nil
	case info.ID == types.Bool:
		if err := want(BoolLit); err != nil {
			return value.Value{}, err
		}
		return value.BoolValue(lit.Int != 0), nil
	case info.ID == types.String:
		if err := want(StringLit); err != nil {
			return value.Value{}, err
		}
		return value.StringValue(lit.Str), nil
	case life.Tracks(info.ID):
		if err := want(IntLit); err != nil {
			return value.Value{}, err
		}
		if lit.Int > 0 {
			if v, ok := life.Reacquire(info.ID, lifecycle.ObjectID(lit.Int)); ok {
				return v, nil
			}
		}
		return value.Value{}, fmt.Errorf("no %s with id %d", info.Name, lit.Int)
	case info.Kind == types.Simple && !info.Placeholder:
		if err := want(StringLit); err != nil {
			return value.Value{}, err
		}
		if records == nil {
			return value.Value{}, fmt.Errorf("%s values cannot be given by name", info.Name)
		}
		n, ok := records(info.ID, lit.Str)
		if !ok {
			return value.Value{}, fmt.Errorf("no %s named %q", info.Name, lit.Str)
		}
		return value.RecordValue(info.ID, n), nil
	}
	return value.Value{}, fmt.Errorf("%s values cannot be set from a value file", reg.Types.Name(info.ID))
}
