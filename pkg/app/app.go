package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/zurustar/missionscript/pkg/cli"
	"github.com/zurustar/missionscript/pkg/config"
	"github.com/zurustar/missionscript/pkg/engine"
	"github.com/zurustar/missionscript/pkg/headless"
	"github.com/zurustar/missionscript/pkg/logger"
	"github.com/zurustar/missionscript/pkg/persist"
	"github.com/zurustar/missionscript/pkg/progcache"
	"github.com/zurustar/missionscript/pkg/program"
	"github.com/zurustar/missionscript/pkg/script"
)

// File extensions.
const (
	BlobExtension   = ".msc" // default for saved programs
	ValuesExtension = ".vlo"
)

// Application runs one msc command.
type Application struct {
	args   *cli.Config
	config *config.Config
	log    *slog.Logger
	out    io.Writer
	logOut io.Writer
}

// Option configures an Application.
type Option func(*Application)

// WithOutput sets where command output goes. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(app *Application) {
		app.out = w
	}
}

// WithLogOutput sets where log records go. Defaults to stderr.
func WithLogOutput(w io.Writer) Option {
	return func(app *Application) {
		app.logOut = w
	}
}

// New creates an Application.
func New(opts ...Option) *Application {
	app := &Application{out: os.Stdout, logOut: os.Stderr}
	for _, opt := range opts {
		opt(app)
	}
	return app
}

// Run parses args and executes the command they name.
func (app *Application) Run(args []string) error {
	if err := app.parseArgs(args); err != nil {
		return fmt.Errorf("failed to parse args: %w", err)
	}
	if app.args.ShowHelp {
		cli.PrintHelp(app.out)
		return nil
	}

	cfg, err := config.Resolve(app.args.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	app.config = cfg

	if err := app.initLogger(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.log.Debug("Configuration loaded", "path", cfg.Path, "encoding", cfg.Source.Encoding, "cache", cfg.Cache.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch app.args.Command {
	case cli.CommandCompile:
		return app.compile(ctx)
	case cli.CommandDisasm:
		return app.disasm(ctx)
	default:
		return app.run(ctx)
	}
}

func (app *Application) parseArgs(args []string) error {
	config, err := cli.ParseArgs(args)
	if err != nil {
		return err
	}
	app.args = config
	return nil
}

// initLogger applies the command-line level, falling back to the
// configuration file's.
func (app *Application) initLogger() error {
	level := app.args.LogLevel
	if level == "" {
		level = app.config.Log.Level
	}
	if err := logger.InitLoggerWithWriter(level, app.logOut); err != nil {
		return err
	}
	app.log = logger.GetLogger()
	return nil
}

// newEngine builds a headless world and an engine over it. The program cache
// is opened when withCache is set and the configuration enables it.
func (app *Application) newEngine(withCache bool) (*engine.Engine, *headless.World, error) {
	world, err := headless.New(headless.WithSeed(app.args.Seed), headless.WithLogger(app.log))
	if err != nil {
		return nil, nil, err
	}

	opts := []engine.Option{
		engine.WithLogger(app.log),
		engine.WithTimeout(app.args.Timeout),
		engine.WithTickInterval(app.args.Interval),
	}
	if withCache && app.config.Cache.Enabled && !app.args.NoCache {
		cache, err := progcache.Open(app.config.Cache.Path, progcache.WithLogger(app.log))
		if err != nil {
			app.log.Warn("Program cache unavailable", "path", app.config.Cache.Path, "error", err)
		} else {
			opts = append(opts, engine.WithCache(cache))
		}
	}

	e, err := engine.New(app.config, world, opts...)
	if err != nil {
		return nil, nil, err
	}
	return e, world, nil
}

// program returns the program in path, compiling it when it is a script.
func (app *Application) program(ctx context.Context, e *engine.Engine, path string) (*program.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if persist.IsBlob(data) {
		return persist.Load(data, e.Registry())
	}

	enc, err := script.ParseEncoding(app.config.Source.Encoding)
	if err != nil {
		return nil, err
	}
	source, err := script.Decode(data, enc)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prog, _, err := e.Compile(ctx, name, source)
	if err != nil {
		app.log.Error("Compilation failed", "file", path, "error", err)
		return nil, err
	}
	return prog, nil
}

func (app *Application) compile(ctx context.Context) error {
	e, _, err := app.newEngine(false)
	if err != nil {
		return err
	}
	defer e.Close()

	src := app.args.Sources[0]
	prog, err := app.program(ctx, e, src)
	if err != nil {
		return fmt.Errorf("failed to compile %s: %w", src, err)
	}

	out := app.args.Output
	if out == "" {
		out = strings.TrimSuffix(src, filepath.Ext(src)) + BlobExtension
	}
	if err := persist.WriteFile(out, prog, e.Registry()); err != nil {
		return fmt.Errorf("failed to save program: %w", err)
	}
	app.log.Info("Program compiled", "program", prog.Name, "code", len(prog.Code), "output", out)
	fmt.Fprintf(app.out, "%s -> %s\n", src, out)
	return nil
}

func (app *Application) disasm(ctx context.Context) error {
	e, _, err := app.newEngine(false)
	if err != nil {
		return err
	}
	defer e.Close()

	prog, err := app.program(ctx, e, app.args.Sources[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", app.args.Sources[0], err)
	}
	fmt.Fprint(app.out, prog.Disassemble())
	return nil
}

func (app *Application) run(ctx context.Context) error {
	e, world, err := app.newEngine(true)
	if err != nil {
		return err
	}
	defer e.Close()

	for _, path := range app.args.Sources {
		load := e.LoadFile
		if strings.EqualFold(filepath.Ext(path), ValuesExtension) {
			load = e.LoadValues
		}
		if err := load(ctx, path); err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	if app.args.LoadState != "" {
		if err := e.LoadState(app.args.LoadState); err != nil {
			return fmt.Errorf("failed to resume: %w", err)
		}
	}

	app.log.Info("Running", "programs", len(e.Dispatcher().Programs()), "ticks", app.args.Ticks, "timeout", app.args.Timeout)
	if err := e.Run(ctx, app.args.Ticks); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	if app.args.SaveState != "" {
		if err := e.SaveState(app.args.SaveState); err != nil {
			return fmt.Errorf("failed to save state: %w", err)
		}
	}

	fmt.Fprintf(app.out, "tick %d\n", e.Dispatcher().CurrentTick())
	for _, p := range e.Dispatcher().Programs() {
		line := fmt.Sprintf("%s: %s", p.Name, p.State)
		if p.Paused > 0 {
			line += fmt.Sprintf(", %d paused", p.Paused)
		}
		if m, ok := e.Dispatcher().VM(p.Name); ok && m.Fault() != nil {
			line += fmt.Sprintf(" (%v)", m.Fault())
		}
		fmt.Fprintln(app.out, line)
	}
	for _, msg := range world.Messages() {
		fmt.Fprintf(app.out, "debug: %s\n", msg)
	}
	return nil
}
