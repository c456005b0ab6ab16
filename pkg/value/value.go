// Package value defines the tagged runtime value carried on the VM stack and
// in script variables.
package value

import (
	"fmt"
	"strconv"

	"github.com/zurustar/missionscript/pkg/types"
)

// Handle is an arena slot plus generation. The zero Handle is null.
type Handle struct {
	Index uint32 `cbor:"1,keyasint"`
	Gen   uint32 `cbor:"2,keyasint"`
}

// IsNull reports whether h refers to nothing.
func (h Handle) IsNull() bool { return h.Index == 0 }

func (h Handle) String() string {
	if h.IsNull() {
		return "null"
	}
	return fmt.Sprintf("#%d.%d", h.Index, h.Gen)
}

// Value is a script value. Int carries int, bool (0/1) and opaque engine
// record handles; Str carries strings; Ref carries object references.
type Value struct {
	Type types.ID `cbor:"1,keyasint"`
	Int  int64    `cbor:"2,keyasint,omitempty"`
	Str  string   `cbor:"3,keyasint,omitempty"`
	Ref  Handle   `cbor:"4,keyasint,omitempty"`
}

// Void is the value of a call that returns nothing.
var Void = Value{Type: types.Void}

func IntValue(n int64) Value { return Value{Type: types.Int, Int: n} }

func BoolValue(b bool) Value {
	if b {
		return Value{Type: types.Bool, Int: 1}
	}
	return Value{Type: types.Bool}
}

func StringValue(s string) Value { return Value{Type: types.String, Str: s} }

// ObjectValue wraps a lifecycle handle as a value of type t.
func ObjectValue(t types.ID, h Handle) Value { return Value{Type: t, Ref: h} }

// RecordValue wraps an opaque engine record index, such as a structure stat.
func RecordValue(t types.ID, n int64) Value { return Value{Type: t, Int: n} }

// Null is the null sentinel of type t.
func Null(t types.ID) Value { return Value{Type: t} }

// Bool returns the truth of v. Ints are true when non-zero.
func (v Value) Bool() bool { return v.Int != 0 }

// IsNull reports whether v is a null object reference.
func (v Value) IsNull() bool { return v.Ref.IsNull() && v.Int == 0 && v.Str == "" }

// Equal compares payloads. Types are not compared so that a null placeholder
// equals a null reference of any object type.
func (v Value) Equal(o Value) bool {
	return v.Int == o.Int && v.Str == o.Str && v.Ref == o.Ref
}

func (v Value) String() string {
	switch v.Type {
	case types.Void:
		return "void"
	case types.Int:
		return strconv.FormatInt(v.Int, 10)
	case types.Bool:
		if v.Bool() {
			return "true"
		}
		return "false"
	case types.String:
		return strconv.Quote(v.Str)
	}
	if !v.Ref.IsNull() {
		return fmt.Sprintf("obj(%d)%s", v.Type, v.Ref)
	}
	if v.Int != 0 {
		return fmt.Sprintf("rec(%d)#%d", v.Type, v.Int)
	}
	return fmt.Sprintf("null(%d)", v.Type)
}
