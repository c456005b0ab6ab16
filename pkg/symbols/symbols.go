// Package symbols holds the native binding tables the compiler checks scripts
// against and the VM calls through.
package symbols

import (
	"errors"
	"log/slog"

	"github.com/zurustar/missionscript/pkg/lifecycle"
	"github.com/zurustar/missionscript/pkg/types"
	"github.com/zurustar/missionscript/pkg/value"
)

var (
	ErrDuplicateSymbol = errors.New("duplicate symbol")
	ErrUnknownType     = errors.New("symbol uses unknown type")
	ErrInvalidSymbol   = errors.New("invalid symbol")
)

// Env is what natives see of the running VM.
type Env interface {
	// Acquire wraps an engine object as a script value.
	Acquire(t types.ID, obj lifecycle.Object) value.Value
	// Resolve returns the engine object behind v, if it still exists.
	Resolve(v value.Value) (lifecycle.Object, bool)
	// Tick is the current simulation tick.
	Tick() int64
	Logger() *slog.Logger
}

// Native is an engine entry point. By-reference arguments are written back
// from args after the call returns.
type Native func(env Env, args []value.Value) (value.Value, error)

// Getter reads a variable. obj is the owning object for members and the zero
// value for externals.
type Getter func(env Env, obj value.Value, index int) (value.Value, error)

// Setter writes a variable.
type Setter func(env Env, obj value.Value, index int, v value.Value) error

// PreDispatch runs before a callback's scripted handlers. filters holds the
// script's trigger arguments; args holds what the engine raised. Returning
// false vetoes delivery to that handler.
type PreDispatch func(env Env, filters, args []value.Value) (bool, error)

// Param is one entry of a parameter list: ByValue(t) or ByRef(t).
type Param struct {
	Type  types.ID `cbor:"1,keyasint"`
	ByRef bool     `cbor:"2,keyasint,omitempty"`
}

// ByValue is an input parameter of type t.
func ByValue(t types.ID) Param { return Param{Type: t} }

// ByRef is an out parameter of type t; the argument must be a storage location.
func ByRef(t types.ID) Param { return Param{Type: t, ByRef: true} }

// Storage is the storage class of a variable symbol.
type Storage uint8

const (
	External Storage = iota
	Member
)

func (s Storage) String() string {
	if s == Member {
		return "member"
	}
	return "external"
}

// Function is a callable native operation.
type Function struct {
	Name   string
	Return types.ID
	Params []Param
	Call   Native
}

// Variable is an engine variable or an object member.
type Variable struct {
	Name    string
	Type    types.ID
	Storage Storage
	// Owner is the object type a Member belongs to.
	Owner types.ID
	Index int
	Get   Getter
	Set   Setter
}

// ReadOnly reports whether the variable has no setter.
func (v *Variable) ReadOnly() bool { return v.Set == nil }

// Constant is a named literal.
type Constant struct {
	Name  string
	Value value.Value
}

// Callback is a named engine-raised event.
type Callback struct {
	Name        string
	ID          int
	PreDispatch PreDispatch
	Params      []Param
}
