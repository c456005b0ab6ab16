package vm

import (
	"context"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/zurustar/missionscript/pkg/lifecycle"
	"github.com/zurustar/missionscript/pkg/opcode"
	"github.com/zurustar/missionscript/pkg/value"
)

func TestRuntimeFaults(t *testing.T) {
	tests := []struct {
		name   string
		source string
		limits Limits
		want   ErrorType
	}{
		{
			name:   "division by zero",
			source: "public int x, y;\nevent e(inactive)\n{\n\ty = 10 / x;\n}\n",
			want:   ErrorDivisionByZero,
		},
		{
			name:   "modulo by zero",
			source: "public int x, y;\nevent e(inactive) { y = 10 % x; }",
			want:   ErrorDivisionByZero,
		},
		{
			name:   "call depth",
			source: "function int f(int n) { return f(n + 1); }\nevent e(inactive) { f(0); }",
			limits: Limits{MaxCallDepth: 10},
			want:   ErrorCallDepth,
		},
		{
			name:   "value stack",
			source: "function int f(int n) { return n + f(n + 1); }\nevent e(inactive) { f(0); }",
			limits: Limits{MaxStack: 20},
			want:   ErrorStackOverflow,
		},
		{
			name:   "array index out of range",
			source: "public int a[3], i;\nevent e(inactive) { i = 3; a[i] = 1; }",
			want:   ErrorArrayBounds,
		},
		{
			name:   "negative array index",
			source: "public int a[2][2], i, x;\nevent e(inactive) { i = -1; x = a[0][i]; }",
			want:   ErrorArrayBounds,
		},
		{
			name:   "instruction budget",
			source: "event e(inactive) { while (true) { } }",
			limits: Limits{MaxInstructions: 1000},
			want:   ErrorBudgetExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWorld(t)
			m := w.load(t, tt.source, WithLimits(tt.limits))
			idx, _ := m.Program().EventIndex("e")

			_, err := m.RunEvent(context.Background(), idx)
			var rt *RuntimeError
			if !errors.As(err, &rt) {
				t.Fatalf("RunEvent() error = %v, want *RuntimeError", err)
			}
			if rt.Type != tt.want {
				t.Errorf("Type = %s, want %s", rt.Type, tt.want)
			}
			if !rt.IsFatal() {
				t.Error("IsFatal() = false")
			}
			if rt.Program != "test" {
				t.Errorf("Program = %q, want test", rt.Program)
			}
			if m.State() != Faulted || m.Fault() != rt {
				t.Errorf("State() = %v, Fault() = %v", m.State(), m.Fault())
			}

			if _, err := m.RunEvent(context.Background(), idx); !errors.Is(err, ErrFaulted) {
				t.Errorf("second RunEvent() error = %v, want ErrFaulted", err)
			}
		})
	}
}

func TestFaultCarriesLine(t *testing.T) {
	w := newWorld(t)
	m := w.load(t, "public int x, y;\nevent e(inactive)\n{\n\ty = 1;\n\ty = 10 / x;\n}\n")

	_, err := m.RunEvent(context.Background(), 0)
	var rt *RuntimeError
	if !errors.As(err, &rt) {
		t.Fatalf("RunEvent() error = %v, want *RuntimeError", err)
	}
	if rt.Line != 5 {
		t.Errorf("Line = %d, want 5", rt.Line)
	}
	if op := opcode.Op(m.Program().Code[rt.Offset]); op != opcode.Div {
		t.Errorf("Offset %d does not point at DIV", rt.Offset)
	}
}

func TestNativeErrorIsNotFatal(t *testing.T) {
	w := newWorld(t)
	m := w.load(t, `
public int r, h;
public DROID d;
event e(inactive)
{
	r = fail();
	r = r + 1;
	h = d.health;
}
`)
	runEvent(t, m, "e")
	if m.State() != Suspended {
		t.Errorf("State() = %v, want suspended", m.State())
	}
	if got := global(t, m, "r"); got.Int != 1 {
		t.Errorf("r = %v, want 1", got)
	}
	if got := global(t, m, "h"); got.Int != 0 {
		t.Errorf("h = %v, want 0", got)
	}
}

func TestRefArgumentWriteBack(t *testing.T) {
	w := newWorld(t)
	m := w.load(t, `
public BASEOBJ target;
public bool found;
event e(inactive) { found = objectInRange(3, ref target); }
`)
	runEvent(t, m, "e")
	if global(t, m, "found").Bool() {
		t.Fatal("found = true with nothing in range")
	}
	if !global(t, m, "target").IsNull() {
		t.Fatal("target set without an object in range")
	}

	w.nearest = w.newObject()
	runEvent(t, m, "e")
	if !global(t, m, "found").Bool() {
		t.Fatal("found = false, want true")
	}
	target := global(t, m, "target")
	obj, ok := w.life.Resolve(target)
	if !ok || obj.ObjectID() != w.nearest.id {
		t.Fatalf("target = %v, want object %d", target, w.nearest.id)
	}
	if n := w.life.RefCount(target); n != 1 {
		t.Errorf("RefCount(target) = %d, want 1", n)
	}
	last := w.calls[len(w.calls)-1]
	if !last.args[1].IsNull() {
		t.Errorf("native saw %v as the by-reference input, want null", last.args[1])
	}
}

func TestDestroyedObjectReadsNull(t *testing.T) {
	w := newWorld(t)
	m := w.load(t, `
public DROID d;
public bool gone;
event make(inactive) { d = buildDroid(0); }
event check(inactive) { gone = d == NULLOBJECT; }
`)
	runEvent(t, m, "make")
	runEvent(t, m, "check")
	if global(t, m, "gone").Bool() {
		t.Fatal("live droid compared equal to NULLOBJECT")
	}

	if !w.life.NotifyDestroyed(1) {
		t.Fatal("NotifyDestroyed(1) = false")
	}
	runEvent(t, m, "check")
	if !global(t, m, "gone").Bool() {
		t.Error("destroyed droid did not read as NULLOBJECT")
	}
	if got := global(t, m, "d"); got != value.Null(tDroid) {
		t.Errorf("d = %v, want null", got)
	}
}

func TestCountedReferences(t *testing.T) {
	t.Run("overwrite frees the old group", func(t *testing.T) {
		w := newWorld(t)
		m := w.load(t, `public GROUP g; event e(inactive) { g = newGroup(); g = newGroup(); }`)
		runEvent(t, m, "e")
		if len(w.freed) != 1 || w.freed[0] != 1 {
			t.Fatalf("freed = %v, want [1]", w.freed)
		}
		m.Teardown()
		if len(w.freed) != 2 || w.life.Live() != 0 {
			t.Errorf("after Teardown freed = %v, live = %d", w.freed, w.life.Live())
		}
	})

	t.Run("event locals are released at exit", func(t *testing.T) {
		w := newWorld(t)
		m := w.load(t, `event e(inactive) { local GROUP tmp; tmp = newGroup(); }`)
		runEvent(t, m, "e")
		if len(w.freed) != 1 {
			t.Errorf("freed = %v, want one group", w.freed)
		}
	})

	t.Run("paused locals are kept until discarded", func(t *testing.T) {
		w := newWorld(t)
		m := w.load(t, `event e(inactive) { local GROUP tmp; tmp = newGroup(); pause(1); }`)
		c := runEvent(t, m, "e")
		if c == nil {
			t.Fatal("event did not pause")
		}
		if len(w.freed) != 0 {
			t.Fatalf("freed = %v while paused", w.freed)
		}
		m.Discard(c)
		if len(w.freed) != 1 {
			t.Errorf("freed = %v after Discard, want one group", w.freed)
		}
	})

	t.Run("loads and comparisons balance", func(t *testing.T) {
		w := newWorld(t)
		m := w.load(t, `
public GROUP g, h;
public bool same;
event e(inactive) { g = newGroup(); h = g; same = g == h; }
`)
		runEvent(t, m, "e")
		g := global(t, m, "g")
		if n := w.life.RefCount(g); n != 2 {
			t.Errorf("RefCount(g) = %d, want 2", n)
		}
		if !global(t, m, "same").Bool() {
			t.Error("same = false")
		}
	})
}

func TestArrayElementReferences(t *testing.T) {
	w := newWorld(t)
	m := w.load(t, `
public GROUP squads[2];
public int i;
event e(inactive) { squads[0] = newGroup(); squads[1] = squads[0]; squads[i] = newGroup(); }
`)
	runEvent(t, m, "e")

	if len(w.freed) != 0 {
		t.Fatalf("freed = %v, want nothing while squads[1] holds the first group", w.freed)
	}
	first := global(t, m, "squads[1]")
	if n := w.life.RefCount(first); n != 1 {
		t.Errorf("RefCount(squads[1]) = %d, want 1", n)
	}
	m.Teardown()
	if w.life.Live() != 0 || len(w.freed) != 2 {
		t.Errorf("after Teardown live = %d, freed = %v", w.life.Live(), w.freed)
	}
}

func TestReleaseOnRejectedValues(t *testing.T) {
	t.Run("native returns the wrong type", func(t *testing.T) {
		w := newWorld(t)
		m := w.load(t, `public DROID d; event e(inactive) { d = brokenDroid(); }`)
		_, err := m.RunEvent(context.Background(), 0)
		var rt *RuntimeError
		if !errors.As(err, &rt) || rt.Type != ErrorNativeContract {
			t.Fatalf("RunEvent() error = %v, want a native contract fault", err)
		}
		if len(w.freed) != 1 {
			t.Errorf("freed = %v, want the returned group", w.freed)
		}
	})

	t.Run("script function argument of the wrong type", func(t *testing.T) {
		w := newWorld(t)
		m := w.load(t, `function int f(GROUP g, int n) { return n; }`)
		g := w.life.Acquire(tGroup, &testObject{id: 7})
		if _, err := m.CallFunction(context.Background(), "f", g, value.BoolValue(true)); err == nil {
			t.Fatal("CallFunction() accepted a bool for an int parameter")
		}
		if n := w.life.RefCount(g); n != 1 {
			t.Errorf("RefCount = %d after the rejected call, want 1", n)
		}
		w.life.Release(g)
		if len(w.freed) != 1 || w.freed[0] != 7 {
			t.Errorf("freed = %v, want [7]", w.freed)
		}
	})
}

func TestSetGlobalRetains(t *testing.T) {
	w := newWorld(t)
	m := w.load(t, `public GROUP g;`)

	v := w.life.Acquire(tGroup, &testObject{id: 99})
	if err := m.SetGlobal(0, v); err != nil {
		t.Fatalf("SetGlobal() error: %v", err)
	}
	w.life.Release(v)
	if n := w.life.RefCount(v); n != 1 {
		t.Errorf("RefCount = %d, want 1", n)
	}
	if err := m.SetGlobal(0, value.IntValue(1)); err == nil {
		t.Error("SetGlobal() accepted an int for a GROUP global")
	}

	m.Teardown()
	if len(w.freed) != 1 || w.freed[0] != lifecycle.ObjectID(99) {
		t.Errorf("freed = %v, want [99]", w.freed)
	}
}

func TestProperty_ArithmeticWraps(t *testing.T) {
	w := newWorld(t)
	m := w.load(t, `function int f(int a, int b) { return a * b - a / (b * b + 1); }`)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("script arithmetic matches int32 arithmetic", prop.ForAll(
		func(a, b int32) bool {
			got, err := m.CallFunction(context.Background(), "f", value.IntValue(int64(a)), value.IntValue(int64(b)))
			if err != nil {
				return false
			}
			want := a*b - a/(b*b+1)
			return got == value.IntValue(int64(want))
		},
		gen.Int32(),
		gen.Int32(),
	))

	properties.TestingRun(t)
}
