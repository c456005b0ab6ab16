package headless

import (
	"errors"
	"fmt"

	"github.com/zurustar/missionscript/pkg/symbols"
	"github.com/zurustar/missionscript/pkg/types"
	"github.com/zurustar/missionscript/pkg/value"
)

// Member indices on BASEOBJ.
const (
	memberX = iota
	memberY
	memberPlayer
	memberID
	memberHealth
)

var errNoObject = errors.New("object does not exist")

func (w *World) bindings() *symbols.Builder {
	in, ref := symbols.ByValue, symbols.ByRef
	ints := func(n int) []symbols.Param {
		p := make([]symbols.Param, n)
		for i := range p {
			p[i] = in(types.Int)
		}
		return p
	}

	b := symbols.NewBuilder(w.types).
		Function("add", types.Int, ints(2), add).
		Function("random", types.Int, ints(1), w.random).
		Function("debug", types.Void, []symbols.Param{in(types.String)}, w.debug).
		Function("buildDroid", TypeDroid, ints(3), w.buildDroid).
		Function("buildStructure", TypeStructure,
			[]symbols.Param{in(TypeStructureStat), in(types.Int), in(types.Int), in(types.Int)}, w.buildStructure).
		Function("addFeature", TypeFeature, ints(2), w.addFeature).
		Function("destroyObject", types.Void, []symbols.Param{in(TypeBaseObj)}, w.destroyObject).
		Function("newGroup", TypeGroup, nil, w.newGroup).
		Function("groupAdd", types.Void, []symbols.Param{in(TypeGroup), in(TypeDroid)}, w.groupAdd).
		Function("groupSize", types.Int, []symbols.Param{in(TypeGroup)}, w.groupSize).
		Function("getStructureStat", TypeStructureStat, []symbols.Param{in(types.String)}, getStructureStat).
		Function("objectInRange", types.Bool, append(ints(4), ref(TypeBaseObj)), w.objectInRange).
		Function("completeResearch", types.Void, ints(2), w.completeResearch).
		External("gameTime", types.Int, 0, gameTime, nil).
		External("selectedPlayer", types.Int, 1, w.getSelectedPlayer, w.setSelectedPlayer)

	for _, m := range []struct {
		name  string
		index int
	}{
		{"x", memberX},
		{"y", memberY},
		{"player", memberPlayer},
		{"id", memberID},
	} {
		b = b.Member(TypeBaseObj, m.name, types.Int, m.index, w.member, nil)
	}
	b = b.Member(TypeBaseObj, "health", types.Int, memberHealth, w.member, w.setHealth)

	return b.
		Constant("NULLOBJECT", value.Null(TypePointerObj)).
		Constant("NULLSTRUCTURESTAT", value.Null(TypePointerStructStat)).
		Constant("MAX_PLAYERS", value.IntValue(MaxPlayers)).
		Constant("CAM_HUMAN_PLAYER", value.IntValue(0)).
		Callback(CallObjectDestroyed, nil, []symbols.Param{in(types.Int), ref(TypeBaseObj)}).
		Callback(CallResearchCompleted, nil, []symbols.Param{ref(types.Int), in(types.Int)}).
		Callback(CallGameInit, nil, nil)
}

func add(_ symbols.Env, args []value.Value) (value.Value, error) {
	return value.IntValue(args[0].Int + args[1].Int), nil
}

func (w *World) random(_ symbols.Env, args []value.Value) (value.Value, error) {
	n := args[0].Int
	if n <= 0 {
		return value.Void, fmt.Errorf("random: range must be positive, got %d", n)
	}
	return value.IntValue(w.rng.Int64N(n)), nil
}

func (w *World) debug(env symbols.Env, args []value.Value) (value.Value, error) {
	w.messages = append(w.messages, args[0].Str)
	env.Logger().Info("Script debug", "message", args[0].Str, "tick", env.Tick())
	return value.Void, nil
}

func checkPlayer(p int64) error {
	if p < 0 || p >= MaxPlayers {
		return fmt.Errorf("player %d out of range", p)
	}
	return nil
}

func (w *World) buildDroid(env symbols.Env, args []value.Value) (value.Value, error) {
	if err := checkPlayer(args[0].Int); err != nil {
		return value.Void, err
	}
	o := w.BuildDroid(args[0].Int, args[1].Int, args[2].Int)
	return env.Acquire(TypeDroid, o), nil
}

func (w *World) buildStructure(env symbols.Env, args []value.Value) (value.Value, error) {
	stat := args[0].Int
	if stat <= 0 || stat > int64(len(StructureStats)) {
		return value.Void, errors.New("buildStructure: invalid structure stat")
	}
	if err := checkPlayer(args[1].Int); err != nil {
		return value.Void, err
	}
	o := w.spawn(TypeStructure, args[1].Int, args[2].Int, args[3].Int)
	o.Stat = stat
	return env.Acquire(TypeStructure, o), nil
}

func (w *World) addFeature(env symbols.Env, args []value.Value) (value.Value, error) {
	o := w.spawn(TypeFeature, -1, args[0].Int, args[1].Int)
	return env.Acquire(TypeFeature, o), nil
}

// object returns the world object behind v. Objects destroyed this tick are
// still returned so handlers of CALL_OBJECT_DESTROYED can inspect them.
func (w *World) object(env symbols.Env, v value.Value) (*Object, error) {
	raw, ok := env.Resolve(v)
	if !ok {
		return nil, errNoObject
	}
	o, ok := raw.(*Object)
	if !ok {
		return nil, errNoObject
	}
	return o, nil
}

func (w *World) group(env symbols.Env, v value.Value) (*Group, error) {
	raw, ok := env.Resolve(v)
	if !ok {
		return nil, errNoObject
	}
	g, ok := raw.(*Group)
	if !ok {
		return nil, errNoObject
	}
	return g, nil
}

func (w *World) destroyObject(env symbols.Env, args []value.Value) (value.Value, error) {
	o, err := w.object(env, args[0])
	if err != nil {
		return value.Void, fmt.Errorf("destroyObject: %w", err)
	}
	return value.Void, w.destroy(o, env.Tick())
}

func (w *World) newGroup(env symbols.Env, _ []value.Value) (value.Value, error) {
	w.nextID++
	g := &Group{id: w.nextID}
	w.groups[g.id] = g
	return env.Acquire(TypeGroup, g), nil
}

func (w *World) groupAdd(env symbols.Env, args []value.Value) (value.Value, error) {
	g, err := w.group(env, args[0])
	if err != nil {
		return value.Void, fmt.Errorf("groupAdd: %w", err)
	}
	o, err := w.object(env, args[1])
	if err != nil {
		return value.Void, fmt.Errorf("groupAdd: %w", err)
	}
	for _, id := range g.members {
		if id == o.ID {
			return value.Void, nil
		}
	}
	g.members = append(g.members, o.ID)
	return value.Void, nil
}

func (w *World) groupSize(env symbols.Env, args []value.Value) (value.Value, error) {
	g, err := w.group(env, args[0])
	if err != nil {
		return value.Void, fmt.Errorf("groupSize: %w", err)
	}
	n := 0
	for _, id := range g.members {
		if _, ok := w.Object(id); ok {
			n++
		}
	}
	return value.IntValue(int64(n)), nil
}

func getStructureStat(_ symbols.Env, args []value.Value) (value.Value, error) {
	if n, ok := structureStat(args[0].Str); ok {
		return value.RecordValue(TypeStructureStat, n), nil
	}
	return value.Void, fmt.Errorf("getStructureStat: unknown structure %q", args[0].Str)
}

func structureStat(name string) (int64, bool) {
	for i, s := range StructureStats {
		if s == name {
			return int64(i + 1), true
		}
	}
	return 0, false
}

// objectInRange finds the object of player nearest to (x, y) within range and
// stores it in the by-reference argument.
func (w *World) objectInRange(env symbols.Env, args []value.Value) (value.Value, error) {
	player, x, y, r := args[0].Int, args[1].Int, args[2].Int, args[3].Int
	var best *Object
	var bestDist int64
	for _, o := range w.Objects() {
		if o.Player != player {
			continue
		}
		dx, dy := o.X-x, o.Y-y
		d := dx*dx + dy*dy
		if d > r*r {
			continue
		}
		if best == nil || d < bestDist {
			best, bestDist = o, d
		}
	}
	if best == nil {
		return value.BoolValue(false), nil
	}
	args[4] = env.Acquire(best.Type, best)
	return value.BoolValue(true), nil
}

func (w *World) completeResearch(_ symbols.Env, args []value.Value) (value.Value, error) {
	if err := checkPlayer(args[1].Int); err != nil {
		return value.Void, err
	}
	return value.Void, w.CompleteResearch(args[0].Int, args[1].Int)
}

func gameTime(env symbols.Env, _ value.Value, _ int) (value.Value, error) {
	return value.IntValue(env.Tick()), nil
}

func (w *World) getSelectedPlayer(symbols.Env, value.Value, int) (value.Value, error) {
	return value.IntValue(w.selectedPlayer), nil
}

func (w *World) setSelectedPlayer(_ symbols.Env, _ value.Value, _ int, v value.Value) error {
	if err := checkPlayer(v.Int); err != nil {
		return err
	}
	w.selectedPlayer = v.Int
	return nil
}

func (w *World) member(env symbols.Env, obj value.Value, index int) (value.Value, error) {
	o, err := w.object(env, obj)
	if err != nil {
		return value.Void, err
	}
	switch index {
	case memberX:
		return value.IntValue(o.X), nil
	case memberY:
		return value.IntValue(o.Y), nil
	case memberPlayer:
		return value.IntValue(o.Player), nil
	case memberID:
		return value.IntValue(int64(o.ID)), nil
	case memberHealth:
		return value.IntValue(o.Health), nil
	}
	return value.Void, fmt.Errorf("unknown member index %d", index)
}

func (w *World) setHealth(env symbols.Env, obj value.Value, _ int, v value.Value) error {
	o, err := w.object(env, obj)
	if err != nil {
		return err
	}
	if v.Int <= 0 {
		o.Health = 0
		return w.destroy(o, env.Tick())
	}
	o.Health = v.Int
	return nil
}
