package symbols

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/zurustar/missionscript/pkg/types"
	"github.com/zurustar/missionscript/pkg/value"
)

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("symbols: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// Table is an ordered, name-indexed collection of symbols.
type Table[S any] struct {
	items  []*S
	byName map[string]int
	name   func(*S) string
}

func newTable[S any](name func(*S) string) *Table[S] {
	return &Table[S]{byName: make(map[string]int), name: name}
}

func (t *Table[S]) add(s *S) error {
	n := t.name(s)
	if _, ok := t.byName[n]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateSymbol, n)
	}
	t.byName[n] = len(t.items)
	t.items = append(t.items, s)
	return nil
}

// Find looks a symbol up by name.
func (t *Table[S]) Find(name string) (*S, bool) {
	i, ok := t.byName[name]
	if !ok {
		return nil, false
	}
	return t.items[i], true
}

// All returns the symbols in registration order.
func (t *Table[S]) All() []*S { return t.items }

// Len returns the number of symbols.
func (t *Table[S]) Len() int { return len(t.items) }

// Registry is the frozen set of binding tables shared by every program.
type Registry struct {
	Types     *types.Registry
	Functions *Table[Function]
	Variables *Table[Variable]
	Constants *Table[Constant]
	Callbacks *Table[Callback]

	// members are keyed by name, then scanned for an owner the object type fits.
	members     map[string][]*Variable
	memberList  []*Variable
	callbackIDs map[int]*Callback
	fingerprint [32]byte
}

// FindMember finds the member variable name on an object of type owner.
func (r *Registry) FindMember(owner types.ID, name string) (*Variable, bool) {
	for _, v := range r.members[name] {
		if r.Types.IsAssignable(v.Owner, owner) {
			return v, true
		}
	}
	return nil, false
}

// MemberOf finds the member registered exactly on owner.
func (r *Registry) MemberOf(owner types.ID, name string) (*Variable, bool) {
	for _, v := range r.members[name] {
		if v.Owner == owner {
			return v, true
		}
	}
	return nil, false
}

// Members returns every member variable in registration order.
func (r *Registry) Members() []*Variable { return r.memberList }

// CallbackByID finds a callback by its event id.
func (r *Registry) CallbackByID(id int) (*Callback, bool) {
	cb, ok := r.callbackIDs[id]
	return cb, ok
}

// Fingerprint identifies the table layout. Programs compiled against one
// layout must not be loaded against another.
func (r *Registry) Fingerprint() [32]byte { return r.fingerprint }

// Builder collects registrations and produces a Registry.
type Builder struct {
	types     *types.Registry
	functions *Table[Function]
	variables *Table[Variable]
	constants *Table[Constant]
	callbacks *Table[Callback]
	members   map[string][]*Variable
	ordered   []*Variable
	errs      []error
}

// NewBuilder starts a set of binding tables over reg.
func NewBuilder(reg *types.Registry) *Builder {
	return &Builder{
		types:     reg,
		functions: newTable(func(f *Function) string { return f.Name }),
		variables: newTable(func(v *Variable) string { return v.Name }),
		constants: newTable(func(c *Constant) string { return c.Name }),
		callbacks: newTable(func(c *Callback) string { return c.Name }),
		members:   make(map[string][]*Variable),
	}
}

func (b *Builder) checkType(what string, t types.ID) bool {
	if _, ok := b.types.Info(t); !ok {
		b.errs = append(b.errs, fmt.Errorf("%w: %s uses type %d", ErrUnknownType, what, t))
		return false
	}
	return true
}

func (b *Builder) checkParams(what string, params []Param) {
	for _, p := range params {
		b.checkType(what, p.Type)
	}
}

// Function registers a native function.
func (b *Builder) Function(name string, ret types.ID, params []Param, call Native) *Builder {
	what := "function " + name
	if call == nil {
		b.errs = append(b.errs, fmt.Errorf("%w: %s has no entry point", ErrInvalidSymbol, what))
	}
	b.checkType(what, ret)
	b.checkParams(what, params)
	if err := b.functions.add(&Function{Name: name, Return: ret, Params: params, Call: call}); err != nil {
		b.errs = append(b.errs, fmt.Errorf("function table: %w", err))
	}
	return b
}

// External registers an engine variable. A nil set makes it read-only.
func (b *Builder) External(name string, t types.ID, index int, get Getter, set Setter) *Builder {
	what := "variable " + name
	if get == nil {
		b.errs = append(b.errs, fmt.Errorf("%w: %s has no getter", ErrInvalidSymbol, what))
	}
	b.checkType(what, t)
	v := &Variable{Name: name, Type: t, Storage: External, Index: index, Get: get, Set: set}
	if err := b.variables.add(v); err != nil {
		b.errs = append(b.errs, fmt.Errorf("variable table: %w", err))
	}
	return b
}

// Member registers a member variable on objects of type owner. Members of
// different owners may share a name; several members usually share one
// accessor pair and are told apart by index.
func (b *Builder) Member(owner types.ID, name string, t types.ID, index int, get Getter, set Setter) *Builder {
	what := "member " + name
	if get == nil {
		b.errs = append(b.errs, fmt.Errorf("%w: %s has no getter", ErrInvalidSymbol, what))
	}
	b.checkType(what, t)
	if b.checkType(what, owner) && b.types.Kind(owner) != types.Object {
		b.errs = append(b.errs, fmt.Errorf("%w: %s owner %s is not an object type", ErrInvalidSymbol, what, b.types.Name(owner)))
	}
	for _, v := range b.members[name] {
		if v.Owner == owner {
			b.errs = append(b.errs, fmt.Errorf("variable table: %w: member %s.%s", ErrDuplicateSymbol, b.types.Name(owner), name))
			return b
		}
	}
	v := &Variable{Name: name, Type: t, Storage: Member, Owner: owner, Index: index, Get: get, Set: set}
	b.members[name] = append(b.members[name], v)
	b.ordered = append(b.ordered, v)
	return b
}

// Constant registers a named literal.
func (b *Builder) Constant(name string, v value.Value) *Builder {
	b.checkType("constant "+name, v.Type)
	if err := b.constants.add(&Constant{Name: name, Value: v}); err != nil {
		b.errs = append(b.errs, fmt.Errorf("constant table: %w", err))
	}
	return b
}

// Callback registers an engine event. Ids are assigned in registration order from 1.
func (b *Builder) Callback(name string, pre PreDispatch, params []Param) *Builder {
	b.checkParams("callback "+name, params)
	cb := &Callback{Name: name, ID: b.callbacks.Len() + 1, PreDispatch: pre, Params: params}
	if err := b.callbacks.add(cb); err != nil {
		b.errs = append(b.errs, fmt.Errorf("callback table: %w", err))
	}
	return b
}

// Build freezes the type registry and returns the tables. Any registration
// error is fatal; all of them are reported together.
func (b *Builder) Build() (*Registry, error) {
	if len(b.errs) > 0 {
		return nil, fmt.Errorf("binding tables: %w", errors.Join(b.errs...))
	}
	b.types.Freeze()

	r := &Registry{
		Types:       b.types,
		Functions:   b.functions,
		Variables:   b.variables,
		Constants:   b.constants,
		Callbacks:   b.callbacks,
		members:     b.members,
		memberList:  b.ordered,
		callbackIDs: make(map[int]*Callback),
	}
	for _, cb := range b.callbacks.All() {
		r.callbackIDs[cb.ID] = cb
	}
	fp, err := fingerprint(r)
	if err != nil {
		return nil, fmt.Errorf("binding tables: fingerprint: %w", err)
	}
	r.fingerprint = fp
	return r, nil
}
