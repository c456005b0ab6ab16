package types

import (
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

const (
	tDroid ID = FirstUserID + iota
	tStructure
	tFeature
	tBaseObj
	tGroup
	tPointer
	tStat
	tStatPointer
)

func worldRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("setup: %v", err)
		}
	}
	must(r.RegisterType(tDroid, Object, "DROID"))
	must(r.RegisterType(tStructure, Object, "STRUCTURE"))
	must(r.RegisterType(tFeature, Object, "FEATURE"))
	must(r.RegisterType(tBaseObj, Object, "BASEOBJ"))
	must(r.RegisterType(tGroup, Object, "GROUP"))
	must(r.RegisterPlaceholder(tPointer, Object, "POINTER_O"))
	must(r.RegisterType(tStat, Simple, "STRUCTURESTAT"))
	must(r.RegisterPlaceholder(tStatPointer, Simple, "POINTER_STRUCTSTAT"))
	must(r.RegisterEquivalence(tBaseObj, []ID{tDroid, tStructure, tFeature}))
	for _, id := range []ID{tDroid, tStructure, tFeature, tBaseObj, tGroup} {
		must(r.RegisterEquivalence(id, []ID{tPointer}))
	}
	must(r.RegisterEquivalence(tStat, []ID{tStatPointer}))
	return r
}

func TestRegisterType_Duplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterType(tDroid, Object, "DROID"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name string
		id   ID
		tn   string
	}{
		{"same id", tDroid, "OTHER"},
		{"same name", tStructure, "DROID"},
		{"builtin id", Int, "INTEGER"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.RegisterType(tt.id, Simple, tt.tn)
			if !errors.Is(err, ErrDuplicateType) {
				t.Errorf("expected ErrDuplicateType, got %v", err)
			}
		})
	}
}

func TestRegisterEquivalence_Cycle(t *testing.T) {
	r := worldRegistry(t)

	if err := r.RegisterEquivalence(tDroid, []ID{tBaseObj}); !errors.Is(err, ErrEquivalenceCycle) {
		t.Errorf("expected ErrEquivalenceCycle for BASEOBJ under DROID, got %v", err)
	}
	if err := r.RegisterEquivalence(tGroup, []ID{tGroup}); !errors.Is(err, ErrEquivalenceCycle) {
		t.Errorf("expected ErrEquivalenceCycle for self member, got %v", err)
	}
	if err := r.RegisterEquivalence(tGroup, []ID{999}); !errors.Is(err, ErrUnknownType) {
		t.Errorf("expected ErrUnknownType, got %v", err)
	}
}

func TestFreeze(t *testing.T) {
	r := worldRegistry(t)
	r.Freeze()

	if err := r.RegisterType(100, Simple, "LATE"); !errors.Is(err, ErrFrozen) {
		t.Errorf("expected ErrFrozen, got %v", err)
	}
	if err := r.RegisterEquivalence(tGroup, []ID{tDroid}); !errors.Is(err, ErrFrozen) {
		t.Errorf("expected ErrFrozen, got %v", err)
	}
}

func TestIsAssignable(t *testing.T) {
	r := worldRegistry(t)

	tests := []struct {
		name     string
		declared ID
		actual   ID
		want     bool
	}{
		{"identity", tDroid, tDroid, true},
		{"member widens to base", tBaseObj, tDroid, true},
		{"base does not narrow", tDroid, tBaseObj, false},
		{"siblings", tDroid, tStructure, false},
		{"null pointer to object", tDroid, tPointer, true},
		{"null pointer via base", tBaseObj, tPointer, true},
		{"placeholder accepts owner", tPointer, tGroup, true},
		{"stat null", tStat, tStatPointer, true},
		{"object null not a stat", tStat, tPointer, false},
		{"int vs bool", Int, Bool, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.IsAssignable(tt.declared, tt.actual); got != tt.want {
				t.Errorf("IsAssignable(%s, %s) = %v, want %v",
					r.Name(tt.declared), r.Name(tt.actual), got, tt.want)
			}
		})
	}
}

func TestLookup(t *testing.T) {
	r := worldRegistry(t)

	info, ok := r.Lookup("GROUP")
	if !ok || info.ID != tGroup || info.Kind != Object {
		t.Fatalf("Lookup(GROUP) = %+v, %v", info, ok)
	}
	if _, ok := r.Lookup("TANK"); ok {
		t.Error("Lookup(TANK) should fail")
	}
	if r.Kind(tStat) != Simple {
		t.Error("STRUCTURESTAT should be simple")
	}
	if got := len(r.All()); got != 12 {
		t.Errorf("All() returned %d types, want 12", got)
	}
}

// Every registered group member is assignable to its base, and nothing
// outside the base's own member list is.
func TestProperty_EquivalenceGroups(t *testing.T) {
	r := worldRegistry(t)
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	all := r.All()

	properties.Property("members assignable, outsiders not", prop.ForAll(
		func(bi, ai int) bool {
			base := all[bi%len(all)]
			actual := all[ai%len(all)].ID
			inGroup := actual == base.ID
			for _, m := range r.Members(base.ID) {
				if m == actual {
					inGroup = true
				}
			}
			if !inGroup && base.Placeholder {
				return true
			}
			return r.IsAssignable(base.ID, actual) == inGroup
		},
		gen.IntRange(0, 1000),
		gen.IntRange(0, 1000),
	))

	properties.Property("direct members always accepted", prop.ForAll(
		func(i int) bool {
			groups := r.Groups()
			g := groups[i%len(groups)]
			for _, m := range g.Members {
				if !r.IsAssignable(g.Base, m) {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}

func TestIsAssignable_NestedGroups(t *testing.T) {
	const (
		tA = FirstUserID + iota
		tB
		tC
	)
	r := NewRegistry()
	for i, name := range []string{"A", "B", "C"} {
		if err := r.RegisterType(tA+ID(i), Object, name); err != nil {
			t.Fatalf("RegisterType(%s) error: %v", name, err)
		}
	}
	if err := r.RegisterEquivalence(tA, []ID{tB}); err != nil {
		t.Fatalf("RegisterEquivalence(A) error: %v", err)
	}
	if err := r.RegisterEquivalence(tB, []ID{tC}); err != nil {
		t.Fatalf("RegisterEquivalence(B) error: %v", err)
	}

	if !r.IsAssignable(tA, tB) || !r.IsAssignable(tB, tC) {
		t.Error("direct members are not assignable")
	}
	if r.IsAssignable(tA, tC) {
		t.Error("IsAssignable(A, C) = true, but C is only a member of B")
	}
	if err := r.RegisterEquivalence(tC, []ID{tA}); !errors.Is(err, ErrEquivalenceCycle) {
		t.Errorf("RegisterEquivalence(C, A) error = %v, want ErrEquivalenceCycle", err)
	}
}
