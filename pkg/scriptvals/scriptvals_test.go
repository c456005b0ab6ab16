package scriptvals

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/zurustar/missionscript/pkg/compiler"
	"github.com/zurustar/missionscript/pkg/headless"
	"github.com/zurustar/missionscript/pkg/logger"
	"github.com/zurustar/missionscript/pkg/vm"
)

func TestParse(t *testing.T) {
	src := `
// values for the first mission
script "cam1.slo" run
{
	target   DROID  12
	waves[2] int    -3
	grid[1][0x2] int 7
	label    string "alpha"
	armed    bool   TRUE
}
script "cam1ai.slo" store "ai"
{
}
`
	f, err := Parse("cam1.vlo", src)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	want := []Block{
		{Script: "cam1.slo", Line: 3, Inits: []Init{
			{Var: "target", Type: "DROID", Value: Literal{Kind: IntLit, Int: 12}, Line: 5},
			{Var: "waves", Indices: []int64{2}, Type: "int", Value: Literal{Kind: IntLit, Int: -3}, Line: 6},
			{Var: "grid", Indices: []int64{1, 2}, Type: "int", Value: Literal{Kind: IntLit, Int: 7}, Line: 7},
			{Var: "label", Type: "string", Value: Literal{Kind: StringLit, Str: "alpha"}, Line: 8},
			{Var: "armed", Type: "bool", Value: Literal{Kind: BoolLit, Int: 1}, Line: 9},
		}},
		{Script: "cam1ai.slo", Store: "ai", Line: 11},
	}
	if !reflect.DeepEqual(f.Blocks, want) {
		t.Errorf("Parse() = %+v, want %+v", f.Blocks, want)
	}
	if got := f.Blocks[0].Inits[2].Name(); got != "grid[1][2]" {
		t.Errorf("Name() = %q, want grid[1][2]", got)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"missing script keyword", `"cam1.slo" run {}`, `expected "script"`},
		{"unquoted script", `script cam1 run {}`, "expected a quoted script name"},
		{"no mode", `script "cam1.slo" {}`, `expected "run" or "store"`},
		{"store without name", `script "a.slo" store {}`, "expected a quoted store name"},
		{"unclosed block", `script "a.slo" run { n int 1`, "is not closed"},
		{"missing type", `script "a.slo" run { n 1 }`, "expected a type name"},
		{"missing value", `script "a.slo" run { n int }`, "expected a value"},
		{"variable index", `script "a.slo" run { a[i] int 1 }`, "expected an array index"},
		{"unclosed index", `script "a.slo" run { a[1 int 1 }`, `expected "]"`},
		{"too many dimensions", `script "a.slo" run { a[0][0][0][0][0] int 1 }`, "too many dimensions"},
		{"number too large", `script "a.slo" run { n int 99999999999 }`, "32-bit"},
		{"bad character", `script "a.slo" run { n int 1 @ }`, "unexpected character"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("bad.vlo", tt.src)
			if err == nil {
				t.Fatal("Parse() succeeded")
			}
			var pe *Error
			if !errors.As(err, &pe) || pe.File != "bad.vlo" || pe.Line != 1 {
				t.Errorf("error = %#v, want an *Error on bad.vlo line 1", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

const mission = `
public int waves[3], score;
public bool armed;
public string label;
public DROID target;
public BASEOBJ anything;
public STRUCTURESTAT factory;
`

func setup(t *testing.T) (*headless.World, *vm.VM) {
	t.Helper()
	w, err := headless.New(headless.WithLogger(logger.Discard()))
	if err != nil {
		t.Fatalf("headless.New() error: %v", err)
	}
	prog, err := compiler.Compile("cam1", mission, w.Registry(), compiler.WithLogger(logger.Discard()))
	if err != nil {
		t.Fatalf("Compile() error:\n%v", err)
	}
	m, err := vm.New(prog, w.Registry(), w.Lifecycle(), vm.WithLogger(logger.Discard()))
	if err != nil {
		t.Fatalf("vm.New() error: %v", err)
	}
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	t.Cleanup(m.Teardown)
	return w, m
}

func block(t *testing.T, body string) Block {
	t.Helper()
	f, err := Parse("cam1.vlo", `script "cam1.slo" run {`+body+`}`)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	return f.Blocks[0]
}

func global(t *testing.T, m *vm.VM, name string) int {
	t.Helper()
	i, ok := m.GlobalIndex(name)
	if !ok {
		t.Fatalf("global %s not found", name)
	}
	return i
}

func TestApply(t *testing.T) {
	w, m := setup(t)
	droid := w.BuildDroid(0, 5, 5)
	b := block(t, `
	waves[1] int 4
	score    int -2
	armed    bool TRUE
	label    string "alpha"
	target   DROID 1
	anything DROID 1
	factory  STRUCTURESTAT "A0LightFactory"
`)
	opts := []Option{WithLogger(logger.Discard()), WithRecords(w.Record)}
	if err := Apply(m, w.Registry(), w.Lifecycle(), "cam1.vlo", b, opts...); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}

	if got := m.Global(global(t, m, "waves[1]")).Int; got != 4 {
		t.Errorf("waves[1] = %d, want 4", got)
	}
	if got := m.Global(global(t, m, "score")).Int; got != -2 {
		t.Errorf("score = %d, want -2", got)
	}
	if !m.Global(global(t, m, "armed")).Bool() {
		t.Error("armed is false")
	}
	if got := m.Global(global(t, m, "label")).Str; got != "alpha" {
		t.Errorf("label = %q, want alpha", got)
	}
	for _, name := range []string{"target", "anything"} {
		obj, ok := w.Lifecycle().Resolve(m.Global(global(t, m, name)))
		if !ok || obj.ObjectID() != droid.ID {
			t.Errorf("%s = %v, %v, want droid %d", name, obj, ok, droid.ID)
		}
	}
	if got := m.Global(global(t, m, "factory")).Int; got != 2 {
		t.Errorf("factory = %d, want record 2", got)
	}
}

func TestApplyErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown global", `missing int 1`, "no global missing"},
		{"array without index", `waves int 1`, "needs an index"},
		{"index on a scalar", `score[0] int 1`, "no global array score"},
		{"index out of range", `waves[3] int 1`, "out of range"},
		{"unknown type", `score INTEGER 1`, "unknown type INTEGER"},
		{"wrong declared type", `score bool TRUE`, "cannot set it to bool"},
		{"literal of another kind", `score int "1"`, "int needs a number"},
		{"missing droid", `target DROID 9`, "no DROID with id 9"},
		{"null droid", `target DROID 0`, "no DROID with id 0"},
		{"structure as droid", `anything STRUCTURE 1`, "no STRUCTURE with id 1"},
		{"unknown record", `factory STRUCTURESTAT "Nowhere"`, `no STRUCTURESTAT named "Nowhere"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, m := setup(t)
			w.BuildDroid(0, 1, 1)
			before := m.Global(global(t, m, "armed"))
			b := block(t, "armed bool TRUE\n"+tt.body)
			err := Apply(m, w.Registry(), w.Lifecycle(), "cam1.vlo", b, WithLogger(logger.Discard()), WithRecords(w.Record))
			if err == nil {
				t.Fatal("Apply() succeeded")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
			if got := m.Global(global(t, m, "armed")); got != before {
				t.Errorf("armed = %v after a failed Apply, want it unchanged", got)
			}
		})
	}

	t.Run("store block", func(t *testing.T) {
		w, m := setup(t)
		err := Apply(m, w.Registry(), w.Lifecycle(), "cam1.vlo", Block{Script: "cam1.slo", Store: "ai"}, WithLogger(logger.Discard()))
		if !errors.Is(err, ErrStoreBlock) {
			t.Errorf("error = %v, want ErrStoreBlock", err)
		}
	})

	t.Run("record without a resolver", func(t *testing.T) {
		w, m := setup(t)
		err := Apply(m, w.Registry(), w.Lifecycle(), "cam1.vlo", block(t, `factory STRUCTURESTAT "A0PowerGen"`), WithLogger(logger.Discard()))
		if err == nil || !strings.Contains(err.Error(), "cannot be given by name") {
			t.Errorf("error = %v", err)
		}
	})
}

func TestApplyHoldsOneReference(t *testing.T) {
	w, m := setup(t)
	w.BuildDroid(0, 1, 1)
	if err := Apply(m, w.Registry(), w.Lifecycle(), "cam1.vlo", block(t, "target DROID 1"), WithLogger(logger.Discard())); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if got := w.Lifecycle().RefCount(m.Global(global(t, m, "target"))); got != 1 {
		t.Errorf("RefCount() = %d, want 1", got)
	}
}
