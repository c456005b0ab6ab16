// Package types holds the registry of script value types and the
// equivalence table that widens parameter checks.
package types

import (
	"errors"
	"fmt"
	"sort"
)

// ID identifies a value type.
type ID uint16

// Built-in simple types. Engine types are registered from FirstUserID upward.
const (
	Void ID = iota
	Int
	Bool
	String

	FirstUserID ID = 16
)

// AccessKind decides whether the lifecycle manager is involved when a value
// of the type is stored, overwritten or dropped.
type AccessKind uint8

const (
	Simple AccessKind = iota
	Object
)

func (k AccessKind) String() string {
	switch k {
	case Simple:
		return "simple"
	case Object:
		return "object"
	default:
		return fmt.Sprintf("AccessKind(%d)", uint8(k))
	}
}

var (
	ErrDuplicateType    = errors.New("duplicate type")
	ErrUnknownType      = errors.New("unknown type")
	ErrEquivalenceCycle = errors.New("equivalence cycle")
	ErrFrozen           = errors.New("type registry is frozen")
)

// Info describes one registered type.
type Info struct {
	ID          ID
	Name        string
	Kind        AccessKind
	Placeholder bool
}

// Registry maps type ids to their descriptions and equivalence groups.
// It is built once at start-up and is read-only after Freeze.
type Registry struct {
	byID   map[ID]*Info
	byName map[string]*Info
	order  []ID
	groups map[ID][]ID
	frozen bool
}

// NewRegistry returns a registry holding the built-in simple types.
func NewRegistry() *Registry {
	r := &Registry{
		byID:   make(map[ID]*Info),
		byName: make(map[string]*Info),
		groups: make(map[ID][]ID),
	}
	for _, b := range []struct {
		id   ID
		name string
	}{{Void, "void"}, {Int, "int"}, {Bool, "bool"}, {String, "string"}} {
		// built-ins cannot collide
		_ = r.add(&Info{ID: b.id, Name: b.name, Kind: Simple})
	}
	return r
}

func (r *Registry) add(info *Info) error {
	if r.frozen {
		return ErrFrozen
	}
	if _, ok := r.byID[info.ID]; ok {
		return fmt.Errorf("%w: id %d", ErrDuplicateType, info.ID)
	}
	if _, ok := r.byName[info.Name]; ok {
		return fmt.Errorf("%w: name %q", ErrDuplicateType, info.Name)
	}
	r.byID[info.ID] = info
	r.byName[info.Name] = info
	r.order = append(r.order, info.ID)
	return nil
}

// RegisterType adds a type. A duplicate id or display name is a fatal
// configuration error.
func (r *Registry) RegisterType(id ID, kind AccessKind, name string) error {
	return r.add(&Info{ID: id, Name: name, Kind: kind})
}

// RegisterPlaceholder adds a generic-pointer type used for null values of a
// type family.
func (r *Registry) RegisterPlaceholder(id ID, kind AccessKind, name string) error {
	return r.add(&Info{ID: id, Name: name, Kind: kind, Placeholder: true})
}

// RegisterEquivalence declares that every member is accepted where base is
// expected. Registering the same base twice extends its group.
func (r *Registry) RegisterEquivalence(base ID, members []ID) error {
	if r.frozen {
		return ErrFrozen
	}
	if _, ok := r.byID[base]; !ok {
		return fmt.Errorf("%w: base %d", ErrUnknownType, base)
	}
	for _, m := range members {
		if _, ok := r.byID[m]; !ok {
			return fmt.Errorf("%w: member %d of %s", ErrUnknownType, m, r.Name(base))
		}
		if m == base || r.reaches(m, base) {
			return fmt.Errorf("%w: %s -> %s", ErrEquivalenceCycle, r.Name(base), r.Name(m))
		}
	}
	for _, m := range members {
		if !contains(r.groups[base], m) {
			r.groups[base] = append(r.groups[base], m)
		}
	}
	return nil
}

// Freeze forbids further registration.
func (r *Registry) Freeze() { r.frozen = true }

// Frozen reports whether Freeze was called.
func (r *Registry) Frozen() bool { return r.frozen }

// reaches reports whether to is in the transitive group of from. It is only
// used to reject cycles; assignability looks at direct members.
func (r *Registry) reaches(from, to ID) bool {
	seen := map[ID]bool{}
	stack := []ID{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, m := range r.groups[cur] {
			if m == to {
				return true
			}
			if !seen[m] {
				seen[m] = true
				stack = append(stack, m)
			}
		}
	}
	return false
}

// IsAssignable reports whether a value of type actual may be used where
// declared is expected. Equivalence only widens and does not chain: actual
// must be a registered member of declared's own group. Placeholders
// additionally accept any type whose group lists them directly.
func (r *Registry) IsAssignable(declared, actual ID) bool {
	if declared == actual {
		return true
	}
	if contains(r.groups[declared], actual) {
		return true
	}
	if info, ok := r.byID[declared]; ok && info.Placeholder {
		return contains(r.groups[actual], declared)
	}
	return false
}

// Lookup finds a type by display name.
func (r *Registry) Lookup(name string) (*Info, bool) {
	info, ok := r.byName[name]
	return info, ok
}

// Info returns the description of id.
func (r *Registry) Info(id ID) (*Info, bool) {
	info, ok := r.byID[id]
	return info, ok
}

// Kind returns the access kind of id. Unknown ids are simple.
func (r *Registry) Kind(id ID) AccessKind {
	if info, ok := r.byID[id]; ok {
		return info.Kind
	}
	return Simple
}

// Name returns the display name of id.
func (r *Registry) Name(id ID) string {
	if info, ok := r.byID[id]; ok {
		return info.Name
	}
	return fmt.Sprintf("type(%d)", id)
}

// Members returns the direct members registered for base, sorted by id.
func (r *Registry) Members(base ID) []ID {
	out := append([]ID(nil), r.groups[base]...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// All returns every registered type in registration order.
func (r *Registry) All() []*Info {
	out := make([]*Info, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Groups returns the equivalence table as base -> sorted members, bases sorted.
func (r *Registry) Groups() []Group {
	bases := make([]ID, 0, len(r.groups))
	for b := range r.groups {
		bases = append(bases, b)
	}
	sort.Slice(bases, func(i, j int) bool { return bases[i] < bases[j] })
	out := make([]Group, 0, len(bases))
	for _, b := range bases {
		out = append(out, Group{Base: b, Members: r.Members(b)})
	}
	return out
}

// Group is one row of the equivalence table.
type Group struct {
	Base    ID
	Members []ID
}

func contains(ids []ID, id ID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
