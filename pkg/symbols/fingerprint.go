package symbols

import (
	"crypto/sha256"

	"github.com/zurustar/missionscript/pkg/types"
	"github.com/zurustar/missionscript/pkg/value"
)

// layout is the shape of the tables that compiled code depends on. Entry
// points are not part of it, so re-linking natives does not invalidate
// saved programs.
type layout struct {
	Types     []typeEntry     `cbor:"1,keyasint"`
	Groups    []types.Group   `cbor:"2,keyasint"`
	Functions []funcEntry     `cbor:"3,keyasint"`
	Variables []varEntry      `cbor:"4,keyasint"`
	Members   []varEntry      `cbor:"5,keyasint"`
	Constants []constEntry    `cbor:"6,keyasint"`
	Callbacks []callbackEntry `cbor:"7,keyasint"`
}

type typeEntry struct {
	ID          types.ID         `cbor:"1,keyasint"`
	Name        string           `cbor:"2,keyasint"`
	Kind        types.AccessKind `cbor:"3,keyasint"`
	Placeholder bool             `cbor:"4,keyasint"`
}

type funcEntry struct {
	Name   string   `cbor:"1,keyasint"`
	Return types.ID `cbor:"2,keyasint"`
	Params []Param  `cbor:"3,keyasint"`
}

type varEntry struct {
	Name     string   `cbor:"1,keyasint"`
	Type     types.ID `cbor:"2,keyasint"`
	Owner    types.ID `cbor:"3,keyasint"`
	Index    int      `cbor:"4,keyasint"`
	Writable bool     `cbor:"5,keyasint"`
}

type constEntry struct {
	Name  string      `cbor:"1,keyasint"`
	Value value.Value `cbor:"2,keyasint"`
}

type callbackEntry struct {
	Name   string  `cbor:"1,keyasint"`
	ID     int     `cbor:"2,keyasint"`
	Params []Param `cbor:"3,keyasint"`
}

func fingerprint(r *Registry) ([32]byte, error) {
	var l layout
	for _, t := range r.Types.All() {
		l.Types = append(l.Types, typeEntry{ID: t.ID, Name: t.Name, Kind: t.Kind, Placeholder: t.Placeholder})
	}
	l.Groups = r.Types.Groups()
	for _, f := range r.Functions.All() {
		l.Functions = append(l.Functions, funcEntry{Name: f.Name, Return: f.Return, Params: f.Params})
	}
	for _, v := range r.Variables.All() {
		l.Variables = append(l.Variables, varEntry{Name: v.Name, Type: v.Type, Index: v.Index, Writable: !v.ReadOnly()})
	}
	for _, v := range r.memberList {
		l.Members = append(l.Members, varEntry{Name: v.Name, Type: v.Type, Owner: v.Owner, Index: v.Index, Writable: !v.ReadOnly()})
	}
	for _, c := range r.Constants.All() {
		l.Constants = append(l.Constants, constEntry{Name: c.Name, Value: c.Value})
	}
	for _, c := range r.Callbacks.All() {
		l.Callbacks = append(l.Callbacks, callbackEntry{Name: c.Name, ID: c.ID, Params: c.Params})
	}

	data, err := encMode.Marshal(&l)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(data), nil
}
