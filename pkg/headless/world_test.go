package headless

import (
	"context"
	"errors"
	"testing"

	"github.com/zurustar/missionscript/pkg/compiler"
	"github.com/zurustar/missionscript/pkg/event"
	"github.com/zurustar/missionscript/pkg/logger"
	"github.com/zurustar/missionscript/pkg/types"
	"github.com/zurustar/missionscript/pkg/value"
	"github.com/zurustar/missionscript/pkg/vm"
)

type rig struct {
	t *testing.T
	w *World
	d *event.Dispatcher
}

func newRig(t *testing.T, opts ...Option) *rig {
	t.Helper()
	w, err := New(append([]Option{WithLogger(logger.Discard())}, opts...)...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	d := event.New(w.Registry(), w.Lifecycle(),
		event.WithLogger(logger.Discard()),
		event.WithVMOptions(vm.WithLogger(logger.Discard())))
	w.Attach(d)
	return &rig{t: t, w: w, d: d}
}

func (r *rig) load(source string) *vm.VM {
	r.t.Helper()
	prog, err := compiler.Compile("mission", source, r.w.Registry(), compiler.WithLogger(logger.Discard()))
	if err != nil {
		r.t.Fatalf("Compile() error:\n%v", err)
	}
	if err := r.d.Load(context.Background(), "mission", prog); err != nil {
		r.t.Fatalf("Load() error: %v", err)
	}
	m, _ := r.d.VM("mission")
	return m
}

func (r *rig) step(n int) {
	r.t.Helper()
	for i := 0; i < n; i++ {
		if err := r.d.Tick(context.Background()); err != nil {
			r.t.Fatalf("Tick() error: %v", err)
		}
		r.w.AfterTick(r.d.CurrentTick())
	}
}

func global(t *testing.T, m *vm.VM, name string) value.Value {
	t.Helper()
	i, ok := m.GlobalIndex(name)
	if !ok {
		t.Fatalf("global %s not found", name)
	}
	return m.Global(i)
}

func TestDestroyedCallbackSeesLiveReference(t *testing.T) {
	r := newRig(t)
	m := r.load(`
public DROID victim;
public BASEOBJ lost;
public int lostPlayer, destroyed;
public bool sawNull;
trigger killed(CALL_OBJECT_DESTROYED, CAM_HUMAN_PLAYER, ref lost);
event start(init) { victim = buildDroid(0, 10, 10); }
event kill(wait, 3) { destroyObject(victim); }
event onKilled(killed)
{
	destroyed = destroyed + 1;
	lostPlayer = lost.player;
	sawNull = lost == NULLOBJECT;
}
`)
	r.step(3)
	if global(t, m, "victim").IsNull() {
		t.Fatal("victim is null before its destruction was delivered")
	}
	r.step(1)

	if got := global(t, m, "destroyed").Int; got != 1 {
		t.Fatalf("destroyed = %d, want 1", got)
	}
	if global(t, m, "sawNull").Bool() {
		t.Error("handler saw the destroyed object as NULLOBJECT")
	}
	if got := global(t, m, "lostPlayer").Int; got != 0 {
		t.Errorf("lostPlayer = %d, want 0", got)
	}
	if !global(t, m, "victim").IsNull() || !global(t, m, "lost").IsNull() {
		t.Error("references survived the end of the tick")
	}
	if n := len(r.w.Objects()); n != 0 {
		t.Errorf("world still has %d objects", n)
	}
	if m.State() == vm.Faulted {
		t.Errorf("program faulted: %v", m.Fault())
	}
}

func TestResearchCallbackFilters(t *testing.T) {
	r := newRig(t)
	m := r.load(`
public int topic, done;
trigger researched(CALL_RESEARCH_COMPLETED, ref topic, CAM_HUMAN_PLAYER);
event onResearch(researched) { done = done + 1; }
event go(init) { completeResearch(42, 0); completeResearch(7, 1); }
`)
	r.step(2)
	if got := global(t, m, "done").Int; got != 1 {
		t.Errorf("done = %d, want 1", got)
	}
	if got := global(t, m, "topic").Int; got != 42 {
		t.Errorf("topic = %d, want 42", got)
	}
}

func TestGroupsAreCounted(t *testing.T) {
	r := newRig(t)
	m := r.load(`
public GROUP g;
public int size;
event start(init)
{
	local DROID d;
	g = newGroup();
	d = buildDroid(0, 1, 1);
	groupAdd(g, d);
	groupAdd(g, buildDroid(0, 2, 2));
	groupAdd(g, d);
}
event recount(every, 1) { size = groupSize(g); }
`)
	r.step(1)
	if got := global(t, m, "size").Int; got != 2 {
		t.Fatalf("size = %d, want 2", got)
	}

	droids := r.w.Objects()
	if err := r.w.Destroy(droids[0].ID); err != nil {
		t.Fatalf("Destroy() error: %v", err)
	}
	r.step(1)
	if got := global(t, m, "size").Int; got != 1 {
		t.Errorf("size = %d after a member was destroyed, want 1", got)
	}

	if len(r.w.groups) != 1 {
		t.Fatalf("groups = %d, want 1", len(r.w.groups))
	}
	if err := r.d.Unload("mission"); err != nil {
		t.Fatalf("Unload() error: %v", err)
	}
	if len(r.w.groups) != 0 {
		t.Error("group outlived the program that owned it")
	}
}

func TestObjectInRange(t *testing.T) {
	r := newRig(t)
	r.w.BuildDroid(1, 70, 70)
	r.w.BuildDroid(1, 55, 50)
	r.w.BuildDroid(0, 50, 50)
	m := r.load(`
public BASEOBJ found;
public bool hit;
public int fx, when;
event scan(every, 2)
{
	hit = objectInRange(1, 50, 50, 10, ref found);
	if (hit)
	{
		fx = found.x;
	}
	when = gameTime;
	selectedPlayer = 1;
}
`)
	r.step(2)
	if !global(t, m, "hit").Bool() {
		t.Fatal("hit = false")
	}
	if got := global(t, m, "fx").Int; got != 55 {
		t.Errorf("fx = %d, want 55", got)
	}
	if got := global(t, m, "when").Int; got != 2 {
		t.Errorf("when = %d, want 2", got)
	}
	if r.w.SelectedPlayer() != 1 {
		t.Errorf("SelectedPlayer() = %d, want 1", r.w.SelectedPlayer())
	}
}

func TestRandomIsSeeded(t *testing.T) {
	const src = `
public int a, b, c;
event roll(init) { a = random(1000); b = random(1000); c = random(0); }
`
	run := func() (int64, int64, *vm.VM) {
		r := newRig(t, WithSeed(42))
		m := r.load(src)
		r.step(1)
		return global(t, m, "a").Int, global(t, m, "b").Int, m
	}
	a1, b1, m := run()
	a2, b2, _ := run()
	if a1 != a2 || b1 != b2 {
		t.Errorf("same seed gave (%d, %d) and (%d, %d)", a1, b1, a2, b2)
	}
	if got := global(t, m, "c").Int; got != 0 {
		t.Errorf("c = %d, want 0", got)
	}
	if m.State() == vm.Faulted {
		t.Errorf("a native error faulted the program: %v", m.Fault())
	}
}

func TestGameInit(t *testing.T) {
	w, err := New(WithLogger(logger.Discard()))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := w.Start(); !errors.Is(err, ErrNotAttached) {
		t.Errorf("Start() before Attach error = %v, want ErrNotAttached", err)
	}

	r := newRig(t)
	m := r.load(`public bool booted; event boot(CALL_GAMEINIT) { booted = true; }`)
	if err := r.w.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	r.step(1)
	if !global(t, m, "booted").Bool() {
		t.Error("CALL_GAMEINIT was not delivered")
	}
}

func TestStructures(t *testing.T) {
	r := newRig(t)
	m := r.load(`
public STRUCTURESTAT stat;
public STRUCTURE hq;
public bool missing;
event build(init)
{
	stat = getStructureStat("A0CommandCentre");
	hq = buildStructure(stat, 0, 5, 5);
	missing = getStructureStat("Nope") == NULLSTRUCTURESTAT;
}
`)
	r.step(1)
	if !global(t, m, "missing").Bool() {
		t.Error("unknown structure stat did not read as NULLSTRUCTURESTAT")
	}
	objs := r.w.Objects()
	if len(objs) != 1 || objs[0].Type != TypeStructure || objs[0].Stat != 1 {
		t.Fatalf("Objects() = %+v, want one command centre", objs)
	}
	if global(t, m, "hq").IsNull() {
		t.Error("hq is null")
	}
}

func TestZeroHealthDestroys(t *testing.T) {
	r := newRig(t)
	r.load(`event hurt(init) { local DROID d; d = buildDroid(0, 0, 0); d.health = 0; }`)
	r.step(1)
	if n := len(r.w.Objects()); n != 0 {
		t.Errorf("Objects() has %d entries, want 0", n)
	}
}

func TestReacquireFindsWorldObjects(t *testing.T) {
	r := newRig(t)
	droid := r.w.BuildDroid(0, 3, 4)
	life := r.w.Lifecycle()

	v, ok := life.Reacquire(TypeDroid, droid.ID)
	if !ok {
		t.Fatal("Reacquire(DROID) did not find a live droid")
	}
	if obj, ok := life.Resolve(v); !ok || obj.ObjectID() != droid.ID {
		t.Errorf("Resolve() = %v, %v, want droid %d", obj, ok, droid.ID)
	}
	life.Release(v)

	tests := []struct {
		name string
		typ  types.ID
		want bool
	}{
		{"as base object", TypeBaseObj, true},
		{"as structure", TypeStructure, false},
		{"as group", TypeGroup, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := life.Reacquire(tt.typ, droid.ID)
			if ok != tt.want {
				t.Errorf("Reacquire() found = %v, want %v", ok, tt.want)
			}
			if !ok && !v.Ref.IsNull() {
				t.Errorf("Reacquire() = %v, want null", v)
			}
			life.Release(v)
		})
	}

	if err := r.w.Destroy(droid.ID); err != nil {
		t.Fatalf("Destroy() error: %v", err)
	}
	if _, ok := life.Reacquire(TypeDroid, droid.ID); ok {
		t.Error("Reacquire() found a destroyed droid")
	}
}

func TestRestoreKeepsWorldReferences(t *testing.T) {
	r := newRig(t)
	const source = `
public DROID d;
public GROUP g;
public int size;
event start(init) { d = buildDroid(0, 1, 1); g = newGroup(); groupAdd(g, d); }
event recount(every, 1) { size = groupSize(g); }
`
	r.load(source)
	r.step(2)
	snap := r.d.Snapshot()

	old := r.d
	r.d = event.New(r.w.Registry(), r.w.Lifecycle(), event.WithLogger(logger.Discard()))
	r.w.Attach(r.d)
	m := r.load(source)
	if err := r.d.Restore(snap); err != nil {
		t.Fatalf("Restore() error: %v", err)
	}
	old.UnloadAll()

	if len(r.w.groups) != 1 {
		t.Fatalf("groups = %d after the old run unloaded, want 1", len(r.w.groups))
	}
	if obj, ok := r.w.Lifecycle().Resolve(global(t, m, "d")); !ok || obj.ObjectID() != r.w.Objects()[0].ID {
		t.Errorf("restored droid reference = %v, %v", obj, ok)
	}
	r.step(1)
	if got := global(t, m, "size").Int; got != 1 {
		t.Errorf("size = %d after restore, want 1", got)
	}
}
