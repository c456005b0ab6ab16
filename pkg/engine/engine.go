// Package engine wires the scripting subsystem together: it compiles or
// loads programs, hands them to the dispatcher and drives the tick loop
// against a game world.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/text/encoding"

	"github.com/zurustar/missionscript/pkg/compiler"
	"github.com/zurustar/missionscript/pkg/config"
	"github.com/zurustar/missionscript/pkg/event"
	"github.com/zurustar/missionscript/pkg/headless"
	"github.com/zurustar/missionscript/pkg/lifecycle"
	"github.com/zurustar/missionscript/pkg/logger"
	"github.com/zurustar/missionscript/pkg/persist"
	"github.com/zurustar/missionscript/pkg/progcache"
	"github.com/zurustar/missionscript/pkg/program"
	"github.com/zurustar/missionscript/pkg/script"
	"github.com/zurustar/missionscript/pkg/scriptvals"
	"github.com/zurustar/missionscript/pkg/symbols"
	"github.com/zurustar/missionscript/pkg/types"
	"github.com/zurustar/missionscript/pkg/vm"
)

// ErrTerminated is returned when the engine is terminated.
var ErrTerminated = errors.New("engine terminated")

// World is the game side of the engine: it owns the binding tables and the
// objects scripts reference, and raises callbacks through the dispatcher.
type World interface {
	Registry() *symbols.Registry
	Lifecycle() *lifecycle.Manager
	Attach(n headless.Notifier)
	// Start raises whatever the world announces when a game begins.
	Start() error
	// AfterTick applies world changes that must wait until the dispatcher
	// has finished tick.
	AfterTick(tick int64)
}

// Engine runs mission scripts against a World.
type Engine struct {
	cfg   *config.Config
	world World
	reg   *symbols.Registry
	disp  *event.Dispatcher
	cache *progcache.Cache
	enc   encoding.Encoding
	log   *slog.Logger

	vmOpts     []vm.Option
	timeout    time.Duration
	interval   time.Duration
	startTime  time.Time
	started    bool
	resumed    bool
	terminated atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used by the engine and everything it creates.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		e.log = log
	}
}

// WithCache enables the compiled program cache.
func WithCache(c *progcache.Cache) Option {
	return func(e *Engine) {
		e.cache = c
	}
}

// WithTimeout stops Run after d of wall-clock time. Zero means no limit.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.timeout = d
	}
}

// WithTickInterval paces Run to one tick per d of wall-clock time. Zero runs
// ticks back to back.
func WithTickInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.interval = d
	}
}

// WithVMOptions are passed to every program's VM after the configured limits.
func WithVMOptions(opts ...vm.Option) Option {
	return func(e *Engine) {
		e.vmOpts = append(e.vmOpts, opts...)
	}
}

// New creates an engine for world. A nil cfg uses the defaults.
func New(cfg *config.Config, world World, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	e := &Engine{
		cfg:   cfg,
		world: world,
		reg:   world.Registry(),
		log:   logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}

	enc, err := script.ParseEncoding(cfg.Source.Encoding)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	e.enc = enc

	vmOpts := append([]vm.Option{vm.WithLogger(e.log), vm.WithLimits(cfg.Limits())}, e.vmOpts...)
	e.disp = event.New(e.reg, world.Lifecycle(),
		event.WithLogger(e.log),
		event.WithQueueSize(cfg.Dispatch.QueueSize),
		event.WithVMOptions(vmOpts...))
	world.Attach(e.disp)
	return e, nil
}

// Dispatcher returns the dispatcher programs are loaded into.
func (e *Engine) Dispatcher() *event.Dispatcher { return e.disp }

// Registry returns the binding tables programs are compiled against.
func (e *Engine) Registry() *symbols.Registry { return e.reg }

// Compile compiles source, going through the program cache when one is
// configured. cached reports whether compilation was skipped.
func (e *Engine) Compile(ctx context.Context, name, source string) (prog *program.Program, cached bool, err error) {
	key := progcache.Key([]byte(source), e.reg.Fingerprint())
	if e.cache != nil {
		if prog, ok := e.fromCache(ctx, key, name); ok {
			return prog, true, nil
		}
	}

	prog, err = compiler.Compile(name, source, e.reg, compiler.WithLogger(e.log))
	if err != nil {
		return nil, false, fmt.Errorf("compile %s: %w", name, err)
	}

	if e.cache != nil {
		blob, err := persist.Save(prog, e.reg)
		if err == nil {
			err = e.cache.Put(ctx, key, name, blob)
		}
		if err != nil {
			e.log.Warn("Failed to cache compiled program", "program", name, "error", err)
		}
	}
	return prog, false, nil
}

func (e *Engine) fromCache(ctx context.Context, key, name string) (*program.Program, bool) {
	entry, err := e.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, progcache.ErrNotFound) {
			e.log.Warn("Program cache lookup failed", "program", name, "error", err)
		}
		return nil, false
	}

	prog, err := persist.Load(entry.Blob, e.reg)
	if err != nil {
		if errors.Is(err, persist.ErrFormatMismatch) {
			e.log.Info("Cached program built for other binding tables, recompiling", "program", name)
		} else {
			e.log.Warn("Cached program is unreadable, recompiling", "program", name, "error", err)
		}
		if err := e.cache.Delete(ctx, key); err != nil {
			e.log.Warn("Failed to drop cached program", "program", name, "error", err)
		}
		return nil, false
	}
	prog.Name = name
	e.log.Debug("Program loaded from cache", "program", name, "key", key)
	return prog, true
}

// LoadSource compiles source and loads it under name.
func (e *Engine) LoadSource(ctx context.Context, name, source string) error {
	prog, _, err := e.Compile(ctx, name, source)
	if err != nil {
		return err
	}
	return e.LoadProgram(ctx, name, prog)
}

// LoadProgram loads an already compiled program.
func (e *Engine) LoadProgram(ctx context.Context, name string, prog *program.Program) error {
	if err := e.disp.Load(ctx, name, prog); err != nil {
		return fmt.Errorf("load %s: %w", name, err)
	}
	e.log.Info("Program loaded", "program", name, "events", len(prog.Events), "triggers", len(prog.Triggers))
	return nil
}

// LoadFile loads a script source or a saved program blob from path. The
// program is named after the file.
func (e *Engine) LoadFile(ctx context.Context, path string) error {
	name, prog, err := e.readProgram(ctx, path)
	if err != nil {
		return err
	}
	return e.LoadProgram(ctx, name, prog)
}

// readProgram reads a script or blob. Scripts are named after the file,
// blobs keep the name they were compiled under.
func (e *Engine) readProgram(ctx context.Context, path string) (string, *program.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("engine: %w", err)
	}
	if persist.IsBlob(data) {
		prog, err := persist.Load(data, e.reg)
		if err != nil {
			return "", nil, fmt.Errorf("load %s: %w", path, err)
		}
		return prog.Name, prog, nil
	}

	content, err := script.Decode(data, e.enc)
	if err != nil {
		return "", nil, fmt.Errorf("load %s: %w", path, err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	e.log.Debug("Script read", "path", path, "size", len(data))
	prog, _, err := e.Compile(ctx, name, content)
	if err != nil {
		return "", nil, err
	}
	return name, prog, nil
}

// RecordResolver is implemented by worlds whose simple records may be named
// in value files.
type RecordResolver interface {
	Record(t types.ID, name string) (int64, bool)
}

// LoadValues loads every script a value file names, relative to the file,
// and sets the globals it lists. A script named by more than one block is
// loaded once per block, the later ones as name#2, name#3 and so on.
func (e *Engine) LoadValues(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	content, err := script.Decode(data, e.enc)
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	file, err := scriptvals.Parse(path, content)
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	for _, b := range file.Blocks {
		if b.Store != "" {
			return fmt.Errorf("load %s: line %d: %w", path, b.Line, scriptvals.ErrStoreBlock)
		}
	}

	opts := []scriptvals.Option{scriptvals.WithLogger(e.log)}
	if r, ok := e.world.(RecordResolver); ok {
		opts = append(opts, scriptvals.WithRecords(r.Record))
	}
	dir := filepath.Dir(path)
	for _, b := range file.Blocks {
		src := b.Script
		if !filepath.IsAbs(src) {
			src = filepath.Join(dir, src)
		}
		name, prog, err := e.readProgram(ctx, src)
		if err != nil {
			return err
		}
		name = e.instanceName(name)
		if err := e.LoadProgram(ctx, name, prog); err != nil {
			return err
		}
		m, _ := e.disp.VM(name)
		if err := scriptvals.Apply(m, e.reg, e.world.Lifecycle(), path, b, opts...); err != nil {
			if uerr := e.disp.Unload(name); uerr != nil {
				e.log.Warn("Failed to unload program after bad values", "program", name, "error", uerr)
			}
			return err
		}
	}
	e.log.Info("Value file loaded", "path", path, "scripts", len(file.Blocks))
	return nil
}

func (e *Engine) instanceName(name string) string {
	if _, taken := e.disp.VM(name); !taken {
		return name
	}
	for k := 2; ; k++ {
		n := fmt.Sprintf("%s#%d", name, k)
		if _, taken := e.disp.VM(n); !taken {
			return n
		}
	}
}

// SaveState writes the run state of every loaded program to path.
func (e *Engine) SaveState(path string) error {
	if err := persist.WriteStateFile(path, e.disp.Snapshot(), e.reg); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	e.log.Info("State saved", "path", path, "tick", e.disp.CurrentTick())
	return nil
}

// LoadState restores a state written by SaveState. The programs it was taken
// from must already be loaded. A restored game is resumed, not started again.
func (e *Engine) LoadState(path string) error {
	snap, err := persist.ReadStateFile(path, e.reg)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if err := e.disp.Restore(snap); err != nil {
		return fmt.Errorf("restore %s: %w", path, err)
	}
	e.resumed = true
	return nil
}

// Unload removes a program and releases everything it holds.
func (e *Engine) Unload(name string) error {
	return e.disp.Unload(name)
}

// Start begins a game, or resumes one after LoadState.
func (e *Engine) Start() error {
	e.startTime = time.Now()
	e.started = true
	e.terminated.Store(false)
	if e.resumed {
		e.log.Info("Engine resumed", "programs", len(e.disp.Programs()), "tick", e.disp.CurrentTick())
		return nil
	}
	e.log.Info("Engine started", "programs", len(e.disp.Programs()))
	return e.world.Start()
}

// Terminate asks the tick loop to stop.
func (e *Engine) Terminate() {
	if !e.terminated.Swap(true) {
		e.log.Info("Engine termination requested")
	}
}

// IsTerminated reports whether the engine has been terminated.
func (e *Engine) IsTerminated() bool {
	return e.terminated.Load()
}

// CheckTermination reports whether the loop should stop, terminating the
// engine when the timeout has passed.
func (e *Engine) CheckTermination() bool {
	if e.terminated.Load() {
		return true
	}
	if e.timeout > 0 && e.started {
		if elapsed := time.Since(e.startTime); elapsed >= e.timeout {
			e.log.Info("Timeout exceeded", "elapsed", elapsed)
			e.Terminate()
			return true
		}
	}
	return false
}

// Update runs one simulation tick.
func (e *Engine) Update(ctx context.Context) error {
	if e.CheckTermination() {
		return ErrTerminated
	}
	if err := e.disp.Tick(ctx); err != nil {
		return err
	}
	e.world.AfterTick(e.disp.CurrentTick())
	return nil
}

// Run starts the game and runs ticks until n have run, the engine is
// terminated or ctx is done. n <= 0 runs until one of the others happens.
func (e *Engine) Run(ctx context.Context, n int) error {
	if !e.started {
		if err := e.Start(); err != nil {
			return err
		}
	}
	var pace <-chan time.Time
	if e.interval > 0 {
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		pace = ticker.C
	}
	for i := 0; n <= 0 || i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if pace != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-pace:
			}
		}
		if err := e.Update(ctx); err != nil {
			if errors.Is(err, ErrTerminated) {
				return nil
			}
			return err
		}
	}
	e.log.Info("Run finished", "tick", e.disp.CurrentTick())
	return nil
}

// Close unloads every program and closes the cache.
func (e *Engine) Close() error {
	e.disp.UnloadAll()
	if e.cache != nil {
		return e.cache.Close()
	}
	return nil
}
