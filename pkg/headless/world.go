// Package headless is a small deterministic game world that scripts can run
// against without a renderer. It registers the object types, natives,
// variables and callbacks a mission script expects and keeps just enough
// state to make them meaningful.
package headless

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"

	"github.com/zurustar/missionscript/pkg/lifecycle"
	"github.com/zurustar/missionscript/pkg/logger"
	"github.com/zurustar/missionscript/pkg/symbols"
	"github.com/zurustar/missionscript/pkg/types"
	"github.com/zurustar/missionscript/pkg/value"
)

// Type ids registered by the world.
const (
	TypeBaseObj types.ID = types.FirstUserID + iota
	TypeDroid
	TypeStructure
	TypeFeature
	TypeGroup
	TypeStructureStat
	TypePointerObj
	TypePointerStructStat
)

// Callback names raised by the world.
const (
	CallObjectDestroyed   = "CALL_OBJECT_DESTROYED"
	CallResearchCompleted = "CALL_RESEARCH_COMPLETED"
	CallGameInit          = "CALL_GAMEINIT"
)

// MaxPlayers is the number of player slots.
const MaxPlayers = 8

// StructureStats are the structure types getStructureStat knows, in record order.
var StructureStats = []string{
	"A0CommandCentre",
	"A0LightFactory",
	"A0PowerGen",
	"A0ResearchFacility",
	"WallTower01",
}

var ErrNotAttached = errors.New("headless: world is not attached to a dispatcher")

// Notifier receives the callbacks the world raises. *event.Dispatcher satisfies it.
type Notifier interface {
	NotifyEventByName(name string, args ...value.Value) error
	CurrentTick() int64
}

// Object is a droid, structure or feature.
type Object struct {
	ID     lifecycle.ObjectID
	Type   types.ID
	Player int64
	X, Y   int64
	Health int64
	// Stat is the structure stat record of a structure.
	Stat int64

	dying bool
}

func (o *Object) ObjectID() lifecycle.ObjectID { return o.ID }

// Group is a script-owned collection of droids.
type Group struct {
	id      lifecycle.ObjectID
	members []lifecycle.ObjectID
}

func (g *Group) ObjectID() lifecycle.ObjectID { return g.id }

type pending struct {
	obj    *Object
	raised int64
}

// World is the headless game state.
type World struct {
	types *types.Registry
	reg   *symbols.Registry
	life  *lifecycle.Manager
	rng   *rand.Rand
	log   *slog.Logger

	notifier       Notifier
	nextID         lifecycle.ObjectID
	objects        map[lifecycle.ObjectID]*Object
	groups         map[lifecycle.ObjectID]*Group
	dying          []pending
	selectedPlayer int64
	messages       []string
}

type config struct {
	seed uint64
	log  *slog.Logger
}

// Option configures a World.
type Option func(*config)

// WithSeed seeds the random native.
func WithSeed(seed uint64) Option {
	return func(c *config) {
		c.seed = seed
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *config) {
		c.log = log
	}
}

// New builds the world's type registry, binding tables and lifecycle manager.
func New(opts ...Option) (*World, error) {
	cfg := config{seed: 1, log: logger.GetLogger()}
	for _, opt := range opts {
		opt(&cfg)
	}

	w := &World{
		types:   types.NewRegistry(),
		rng:     rand.New(rand.NewPCG(cfg.seed, cfg.seed^0x9e3779b97f4a7c15)),
		log:     cfg.log,
		objects: make(map[lifecycle.ObjectID]*Object),
		groups:  make(map[lifecycle.ObjectID]*Group),
	}
	if err := w.registerTypes(); err != nil {
		return nil, fmt.Errorf("headless: %w", err)
	}
	reg, err := w.bindings().Build()
	if err != nil {
		return nil, fmt.Errorf("headless: %w", err)
	}
	w.reg = reg

	w.life = lifecycle.New(w.types, lifecycle.WithLogger(cfg.log))
	for _, t := range []types.ID{TypeBaseObj, TypeDroid, TypeStructure, TypeFeature} {
		if err := w.life.Register(t, lifecycle.Hooks{Policy: lifecycle.Weak, Find: w.finder(t)}); err != nil {
			return nil, fmt.Errorf("headless: %w", err)
		}
	}
	err = w.life.Register(TypeGroup, lifecycle.Hooks{
		Policy: lifecycle.Counted,
		OnFree: func(obj lifecycle.Object) { delete(w.groups, obj.ObjectID()) },
		Find: func(id lifecycle.ObjectID) (lifecycle.Object, bool) {
			if g, ok := w.groups[id]; ok {
				return g, true
			}
			return nil, false
		},
	})
	if err != nil {
		return nil, fmt.Errorf("headless: %w", err)
	}
	return w, nil
}

func (w *World) registerTypes() error {
	r := w.types
	return errors.Join(
		r.RegisterType(TypeBaseObj, types.Object, "BASEOBJ"),
		r.RegisterType(TypeDroid, types.Object, "DROID"),
		r.RegisterType(TypeStructure, types.Object, "STRUCTURE"),
		r.RegisterType(TypeFeature, types.Object, "FEATURE"),
		r.RegisterType(TypeGroup, types.Object, "GROUP"),
		r.RegisterType(TypeStructureStat, types.Simple, "STRUCTURESTAT"),
		r.RegisterPlaceholder(TypePointerObj, types.Object, "POINTER_O"),
		r.RegisterPlaceholder(TypePointerStructStat, types.Simple, "POINTER_STRUCTSTAT"),
		r.RegisterEquivalence(TypeBaseObj, []types.ID{TypeDroid, TypeStructure, TypeFeature}),
		r.RegisterEquivalence(TypeBaseObj, []types.ID{TypePointerObj}),
		r.RegisterEquivalence(TypeDroid, []types.ID{TypePointerObj}),
		r.RegisterEquivalence(TypeStructure, []types.ID{TypePointerObj}),
		r.RegisterEquivalence(TypeFeature, []types.ID{TypePointerObj}),
		r.RegisterEquivalence(TypeGroup, []types.ID{TypePointerObj}),
		r.RegisterEquivalence(TypeStructureStat, []types.ID{TypePointerStructStat}),
	)
}

// Registry returns the frozen binding tables.
func (w *World) Registry() *symbols.Registry { return w.reg }

// Lifecycle returns the lifecycle manager scripts reference objects through.
func (w *World) Lifecycle() *lifecycle.Manager { return w.life }

// Attach sets where raised callbacks go.
func (w *World) Attach(n Notifier) { w.notifier = n }

// Start raises CALL_GAMEINIT.
func (w *World) Start() error {
	return w.raise(CallGameInit)
}

func (w *World) raise(name string, args ...value.Value) error {
	if w.notifier == nil {
		for _, a := range args {
			w.life.Release(a)
		}
		return ErrNotAttached
	}
	return w.notifier.NotifyEventByName(name, args...)
}

func (w *World) tick() int64 {
	if w.notifier == nil {
		return 0
	}
	return w.notifier.CurrentTick()
}

func (w *World) spawn(t types.ID, player, x, y int64) *Object {
	w.nextID++
	o := &Object{ID: w.nextID, Type: t, Player: player, X: x, Y: y, Health: 100}
	w.objects[o.ID] = o
	return o
}

// BuildDroid places a droid.
func (w *World) BuildDroid(player, x, y int64) *Object {
	return w.spawn(TypeDroid, player, x, y)
}

// Object returns a live object by id.
func (w *World) Object(id lifecycle.ObjectID) (*Object, bool) {
	o, ok := w.objects[id]
	if !ok || o.dying {
		return nil, false
	}
	return o, true
}

// finder looks up live objects a script of type t may refer to.
func (w *World) finder(t types.ID) func(lifecycle.ObjectID) (lifecycle.Object, bool) {
	return func(id lifecycle.ObjectID) (lifecycle.Object, bool) {
		o, ok := w.Object(id)
		if !ok || (t != TypeBaseObj && o.Type != t) {
			return nil, false
		}
		return o, true
	}
}

// Record resolves the name of a simple engine record of type t.
func (w *World) Record(t types.ID, name string) (int64, bool) {
	if t != TypeStructureStat {
		return 0, false
	}
	return structureStat(name)
}

// Objects returns every live object in id order.
func (w *World) Objects() []*Object {
	out := make([]*Object, 0, len(w.objects))
	for _, o := range w.objects {
		if !o.dying {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Destroy destroys an object. CALL_OBJECT_DESTROYED is delivered on the next
// tick while the object is still referenceable; the object disappears once
// that tick is over.
func (w *World) Destroy(id lifecycle.ObjectID) error {
	o, ok := w.Object(id)
	if !ok {
		return fmt.Errorf("headless: no object %d", id)
	}
	return w.destroy(o, w.tick())
}

func (w *World) destroy(o *Object, tick int64) error {
	if o.dying {
		return nil
	}
	o.dying = true
	w.dying = append(w.dying, pending{obj: o, raised: tick})
	w.log.Debug("Object destroyed", "object", o.ID, "type", w.types.Name(o.Type), "tick", tick)
	return w.raise(CallObjectDestroyed, value.IntValue(o.Player), w.life.Acquire(o.Type, o))
}

// AfterTick removes objects whose destruction was delivered during tick.
func (w *World) AfterTick(tick int64) {
	kept := w.dying[:0]
	for _, p := range w.dying {
		if p.raised >= tick {
			kept = append(kept, p)
			continue
		}
		delete(w.objects, p.obj.ID)
		w.life.NotifyDestroyed(p.obj.ID)
	}
	w.dying = kept
}

// CompleteResearch raises CALL_RESEARCH_COMPLETED for player.
func (w *World) CompleteResearch(topic, player int64) error {
	return w.raise(CallResearchCompleted, value.IntValue(topic), value.IntValue(player))
}

// Messages returns everything scripts passed to debug, oldest first.
func (w *World) Messages() []string { return w.messages }

// SelectedPlayer returns the selectedPlayer variable.
func (w *World) SelectedPlayer() int64 { return w.selectedPlayer }
