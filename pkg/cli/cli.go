package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/zurustar/missionscript/pkg/logger"
)

// Subcommands.
const (
	CommandCompile = "compile"
	CommandRun     = "run"
	CommandDisasm  = "disasm"
)

// DefaultTicks is how many ticks run executes when -ticks is not given.
const DefaultTicks = 600

var ErrUnknownCommand = errors.New("unknown command")

// Config holds what was parsed from the command line.
type Config struct {
	Command    string
	Sources    []string
	Output     string        // compile: blob path, defaults next to the source
	Ticks      int           // run: ticks to execute, 0 runs until the timeout
	Timeout    time.Duration // run: wall-clock limit, 0 is unlimited
	Interval   time.Duration // run: wall-clock time per tick, 0 runs flat out
	Seed       uint64        // run: seed for the world's random source
	NoCache    bool          // run: bypass the program cache
	LoadState  string        // run: state file to resume from
	SaveState  string        // run: state file written when the run ends
	ConfigPath string
	LogLevel   string // empty means use the configuration file's level
	ShowHelp   bool
}

// ParseArgs parses args (without the program name) into a Config.
func ParseArgs(args []string) (*Config, error) {
	config := &Config{}
	if len(args) == 0 {
		config.ShowHelp = true
		return config, nil
	}
	switch args[0] {
	case "-h", "-help", "--help", "help":
		config.ShowHelp = true
		return config, nil
	case CommandCompile, CommandRun, CommandDisasm:
		config.Command = args[0]
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, args[0])
	}

	fs := flag.NewFlagSet("msc "+config.Command, flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.ConfigPath, "config", "", "configuration file")
	fs.StringVar(&config.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.StringVar(&config.LogLevel, "l", "", "log level (short)")
	fs.BoolVar(&config.ShowHelp, "help", false, "show help")
	fs.BoolVar(&config.ShowHelp, "h", false, "show help (short)")

	var timeoutSec int
	switch config.Command {
	case CommandCompile:
		fs.StringVar(&config.Output, "o", "", "output file")
	case CommandRun:
		fs.IntVar(&config.Ticks, "ticks", DefaultTicks, "ticks to run")
		fs.IntVar(&timeoutSec, "timeout", 0, "timeout in seconds")
		fs.IntVar(&timeoutSec, "t", 0, "timeout in seconds (short)")
		fs.DurationVar(&config.Interval, "interval", 0, "wall-clock time per tick")
		fs.Uint64Var(&config.Seed, "seed", 1, "random seed")
		fs.BoolVar(&config.NoCache, "no-cache", false, "do not use the program cache")
		fs.StringVar(&config.LoadState, "load-state", "", "resume from a saved state")
		fs.StringVar(&config.SaveState, "save-state", "", "save the state when the run ends")
	}

	if err := fs.Parse(reorderArgs(args[1:])); err != nil {
		return nil, err
	}
	if config.ShowHelp {
		return config, nil
	}

	// Flags win over the environment.
	if timeoutSec == 0 {
		if timeoutEnv := os.Getenv("TIMEOUT"); timeoutEnv != "" {
			if t, err := strconv.Atoi(timeoutEnv); err == nil && t > 0 {
				timeoutSec = t
			}
		}
	}
	if config.LogLevel == "" {
		config.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	}

	if timeoutSec < 0 {
		return nil, fmt.Errorf("timeout must be non-negative, got %d", timeoutSec)
	}
	if config.Command == CommandRun {
		config.Timeout = time.Duration(timeoutSec) * time.Second
	}
	if config.Interval < 0 {
		return nil, fmt.Errorf("interval must be non-negative, got %v", config.Interval)
	}
	if config.Ticks < 0 {
		return nil, fmt.Errorf("ticks must be non-negative, got %d", config.Ticks)
	}
	if config.Command == CommandRun && config.Ticks == 0 && config.Timeout == 0 {
		return nil, errors.New("run needs -ticks or -timeout")
	}
	if config.LogLevel != "" {
		if _, err := logger.ParseLevel(config.LogLevel); err != nil {
			return nil, fmt.Errorf("%w (must be debug, info, warn, or error)", err)
		}
	}

	config.Sources = fs.Args()
	switch {
	case len(config.Sources) == 0:
		return nil, fmt.Errorf("%s: no source file given", config.Command)
	case config.Command != CommandRun && len(config.Sources) > 1:
		return nil, fmt.Errorf("%s takes one file, got %d", config.Command, len(config.Sources))
	}
	return config, nil
}

// boolFlags take no value.
var boolFlags = map[string]bool{
	"-h": true, "-help": true, "--help": true,
	"-no-cache": true, "--no-cache": true,
}

// reorderArgs moves flags in front of positional arguments so flags may
// follow the file names.
func reorderArgs(args []string) []string {
	var flags []string
	var positional []string

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			positional = append(positional, args[i+1:]...)
			break
		}
		if len(arg) > 0 && arg[0] == '-' {
			flags = append(flags, arg)
			if strings.Contains(arg, "=") || boolFlags[arg] {
				continue
			}
			if i+1 < len(args) && len(args[i+1]) > 0 && args[i+1][0] != '-' {
				i++
				flags = append(flags, args[i])
			}
		} else {
			positional = append(positional, arg)
		}
	}

	return append(flags, positional...)
}

// PrintHelp writes the usage text.
func PrintHelp(w io.Writer) {
	fmt.Fprintf(w, `msc - mission script compiler and runner

Usage:
  msc compile <script> [-o out]
  msc run <script|blob|values>... [-ticks N] [-timeout S] [-interval D] [-seed N]
          [-no-cache] [-load-state file] [-save-state file]
  msc disasm <script|blob>

Commands:
  compile     compile a script and save the program
  run         load scripts, saved programs or value files (.vlo) and run them
              in a headless world
  disasm      print the disassembly of a script or saved program

Options:
  -config <path>              configuration file (default: ./missionscript.toml)
  -l, -log-level <level>      log level: debug, info, warn, error
  -o <path>                   compile: output file (default: <script>.msc)
  -ticks <n>                  run: ticks to execute (default: %d, 0 = until timeout)
  -t, -timeout <seconds>      run: stop after this many seconds
  -interval <duration>        run: pace ticks, e.g. 50ms (default: as fast as possible)
  -seed <n>                   run: seed for random (default: 1)
  -no-cache                   run: ignore the program cache
  -load-state <path>          run: resume the loaded programs from a saved state
  -save-state <path>          run: save the state of the programs when the run ends
  -h, -help                   show this help

Environment Variables:
  MSC_CONFIG=<path>           configuration file
  TIMEOUT=<seconds>           timeout for run
  LOG_LEVEL=<level>           log level

Examples:
  msc compile cam1.slo -o cam1.msc
  msc run cam1.slo cam1ai.slo -ticks 3000
  msc run cam1.msc -timeout 10 -log-level debug
  msc run cam1.vlo -ticks 500 -save-state cam1.mss
  msc run cam1.slo -load-state cam1.mss -ticks 500
  msc disasm cam1.slo
`, DefaultTicks)
}
