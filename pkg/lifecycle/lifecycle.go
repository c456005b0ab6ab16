// Package lifecycle tracks script-held references to engine objects.
//
// Script values never hold engine pointers. They hold a value.Handle that
// names an arena slot and the slot's generation at the time the reference was
// made. When the engine reports that an object is gone the slot's generation is
// bumped, so every outstanding copy of the handle reads back as the null
// sentinel of its type without anyone having to find those copies.
package lifecycle

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zurustar/missionscript/pkg/logger"
	"github.com/zurustar/missionscript/pkg/types"
	"github.com/zurustar/missionscript/pkg/value"
)

// ObjectID is the engine's identity for a game object.
type ObjectID uint64

// Object is a raw engine object that scripts may reference.
type Object interface {
	ObjectID() ObjectID
}

// Policy selects how a type's references are owned.
type Policy uint8

const (
	// Weak references observe engine-owned objects.
	Weak Policy = iota
	// Counted references own the object; it is freed when the last one is released.
	Counted
)

// Hooks are the per-type callbacks run as references come and go.
type Hooks struct {
	Policy    Policy
	OnAcquire func(obj Object)
	OnRelease func(obj Object)
	// OnFree runs when a Counted object's count reaches zero.
	OnFree func(obj Object)
	// Find looks an object up by id. Reacquire needs it for objects no
	// script currently references.
	Find func(id ObjectID) (Object, bool)
}

var (
	ErrNotObjectType = errors.New("type is not an object type")
	ErrHooksExist    = errors.New("hooks already registered")
)

type slot struct {
	gen  uint32
	obj  Object
	refs int
	live bool
}

// Manager owns the handle arena.
type Manager struct {
	mu       sync.Mutex
	types    *types.Registry
	hooks    map[types.ID]Hooks
	slots    []slot
	free     []uint32
	byObject map[ObjectID]uint32
	log      *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

// New creates a manager for the object types of reg.
func New(reg *types.Registry, opts ...Option) *Manager {
	m := &Manager{
		types:    reg,
		hooks:    make(map[types.ID]Hooks),
		slots:    make([]slot, 1), // index 0 is the null handle
		byObject: make(map[ObjectID]uint32),
		log:      logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register installs hooks for an object type.
func (m *Manager) Register(t types.ID, h Hooks) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.types.Kind(t) != types.Object {
		return fmt.Errorf("%w: %s", ErrNotObjectType, m.types.Name(t))
	}
	if _, ok := m.hooks[t]; ok {
		return fmt.Errorf("%w: %s", ErrHooksExist, m.types.Name(t))
	}
	m.hooks[t] = h
	return nil
}

// Tracks reports whether values of type t pass through the manager.
func (m *Manager) Tracks(t types.ID) bool {
	return m.types.Kind(t) == types.Object
}

// Acquire wraps obj as a value of type t and takes one reference to it.
// A nil obj yields the null sentinel of t.
func (m *Manager) Acquire(t types.ID, obj Object) value.Value {
	if obj == nil {
		return value.Null(t)
	}

	m.mu.Lock()
	idx, ok := m.byObject[obj.ObjectID()]
	if !ok {
		idx = m.alloc(obj)
	}
	s := &m.slots[idx]
	s.refs++
	h := value.Handle{Index: idx, Gen: s.gen}
	hook := m.hooks[t].OnAcquire
	m.mu.Unlock()

	if hook != nil {
		hook(obj)
	}
	return value.ObjectValue(t, h)
}

func (m *Manager) alloc(obj Object) uint32 {
	var idx uint32
	if n := len(m.free); n > 0 {
		idx = m.free[n-1]
		m.free = m.free[:n-1]
	} else {
		m.slots = append(m.slots, slot{gen: 1})
		idx = uint32(len(m.slots) - 1)
	}
	s := &m.slots[idx]
	s.obj = obj
	s.refs = 0
	s.live = true
	m.byObject[obj.ObjectID()] = idx
	return idx
}

// lookup returns the live slot behind v. Callers hold m.mu.
func (m *Manager) lookup(v value.Value) (*slot, bool) {
	h := v.Ref
	if h.IsNull() || int(h.Index) >= len(m.slots) {
		return nil, false
	}
	s := &m.slots[h.Index]
	if !s.live || s.gen != h.Gen {
		return nil, false
	}
	return s, true
}

// Retain takes an extra reference for a copy of v.
func (m *Manager) Retain(v value.Value) {
	if !m.Tracks(v.Type) {
		return
	}
	m.mu.Lock()
	s, ok := m.lookup(v)
	if !ok {
		m.mu.Unlock()
		return
	}
	s.refs++
	obj := s.obj
	hook := m.hooks[v.Type].OnAcquire
	m.mu.Unlock()

	if hook != nil {
		hook(obj)
	}
}

// Release drops one reference. Stale and null values are ignored.
func (m *Manager) Release(v value.Value) {
	if !m.Tracks(v.Type) {
		return
	}
	m.mu.Lock()
	s, ok := m.lookup(v)
	if !ok {
		m.mu.Unlock()
		return
	}
	h := m.hooks[v.Type]
	obj := s.obj
	if s.refs > 0 {
		s.refs--
	}
	freed := h.Policy == Counted && s.refs == 0
	if freed {
		m.retire(v.Ref.Index)
	}
	m.mu.Unlock()

	if h.OnRelease != nil {
		h.OnRelease(obj)
	}
	if freed {
		m.log.Debug("Counted object freed", "object", obj.ObjectID(), "type", m.types.Name(v.Type))
		if h.OnFree != nil {
			h.OnFree(obj)
		}
	}
}

// retire invalidates a slot and returns it to the free list. Callers hold m.mu.
func (m *Manager) retire(idx uint32) {
	s := &m.slots[idx]
	delete(m.byObject, s.obj.ObjectID())
	s.gen++
	s.obj = nil
	s.refs = 0
	s.live = false
	m.free = append(m.free, idx)
}

// NotifyDestroyed invalidates every reference to the object. It reports
// whether any script still referenced it.
func (m *Manager) NotifyDestroyed(id ObjectID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.byObject[id]
	if !ok {
		return false
	}
	m.log.Debug("Object destroyed, invalidating handles", "object", id, "refs", m.slots[idx].refs)
	m.retire(idx)
	return true
}

// Resolve returns the engine object behind v, or false if v is null or stale.
func (m *Manager) Resolve(v value.Value) (Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.lookup(v)
	if !ok {
		return nil, false
	}
	return s.obj, true
}

// Identify returns the engine id of the object behind v.
func (m *Manager) Identify(v value.Value) (ObjectID, bool) {
	obj, ok := m.Resolve(v)
	if !ok {
		return 0, false
	}
	return obj.ObjectID(), true
}

// Reacquire takes a new reference of type t to the object with engine id id,
// asking the type's Find hook when no handle to it exists. It returns false
// and the null sentinel of t when the object cannot be found.
func (m *Manager) Reacquire(t types.ID, id ObjectID) (value.Value, bool) {
	m.mu.Lock()
	var obj Object
	if idx, ok := m.byObject[id]; ok {
		obj = m.slots[idx].obj
	}
	find := m.hooks[t].Find
	m.mu.Unlock()

	if obj == nil && find != nil {
		if found, ok := find(id); ok && found != nil && found.ObjectID() == id {
			obj = found
		}
	}
	if obj == nil {
		return value.Null(t), false
	}
	return m.Acquire(t, obj), true
}

// Read returns v, or the null sentinel of v's type if the object is gone.
func (m *Manager) Read(v value.Value) value.Value {
	if !m.Tracks(v.Type) || v.Ref.IsNull() {
		return v
	}
	if _, ok := m.Resolve(v); !ok {
		return value.Null(v.Type)
	}
	return v
}

// RefCount returns the number of live references to v's object.
func (m *Manager) RefCount(v value.Value) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.lookup(v)
	if !ok {
		return 0
	}
	return s.refs
}

// Live returns the number of objects currently wrapped.
func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byObject)
}
