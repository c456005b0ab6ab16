package compiler

import (
	"github.com/zurustar/missionscript/pkg/program"
	"github.com/zurustar/missionscript/pkg/types"
)

type scopeKind int

const (
	scopeTrigger scopeKind = iota
	scopeEvent
	scopeFunction
)

// scope is the frame of the body being compiled.
type scope struct {
	kind   scopeKind
	name   string
	ret    types.ID
	locals map[string]int
	slots  []program.Slot
	// assigned holds the slots written on every path so far. Simple locals
	// and parameters start out assigned.
	assigned map[int]bool
}

func newScope(kind scopeKind, name string, ret types.ID) *scope {
	return &scope{
		kind:     kind,
		name:     name,
		ret:      ret,
		locals:   make(map[string]int),
		assigned: make(map[int]bool),
	}
}

func (s *scope) add(name string, t types.ID) int {
	slot := len(s.slots)
	s.locals[name] = slot
	s.slots = append(s.slots, program.Slot{Name: name, Type: t})
	return slot
}

func (s *scope) snapshot() map[int]bool {
	out := make(map[int]bool, len(s.assigned))
	for k, v := range s.assigned {
		out[k] = v
	}
	return out
}

// intersect keeps the slots assigned on both branches.
func intersect(a, b map[int]bool) map[int]bool {
	out := make(map[int]bool)
	for k := range a {
		if b[k] {
			out[k] = true
		}
	}
	return out
}
