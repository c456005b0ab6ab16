package cli

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("TIMEOUT", "")
}

func TestParseArgs_ValidArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected Config
	}{
		{
			name:     "no arguments shows help",
			args:     []string{},
			expected: Config{ShowHelp: true},
		},
		{
			name:     "help",
			args:     []string{"--help"},
			expected: Config{ShowHelp: true},
		},
		{
			name:     "compile",
			args:     []string{"compile", "cam1.slo"},
			expected: Config{Command: CommandCompile, Sources: []string{"cam1.slo"}},
		},
		{
			name:     "compile with output after the source",
			args:     []string{"compile", "cam1.slo", "-o", "out/cam1.msc"},
			expected: Config{Command: CommandCompile, Sources: []string{"cam1.slo"}, Output: "out/cam1.msc"},
		},
		{
			name: "run defaults",
			args: []string{"run", "cam1.slo"},
			expected: Config{
				Command: CommandRun,
				Sources: []string{"cam1.slo"},
				Ticks:   DefaultTicks,
				Seed:    1,
			},
		},
		{
			name: "run with every option",
			args: []string{"run", "a.slo", "-ticks", "50", "b.msc", "-t", "5", "-interval", "50ms", "-seed=9", "-no-cache", "-l", "debug", "-config", "x.toml"},
			expected: Config{
				Command:    CommandRun,
				Sources:    []string{"a.slo", "b.msc"},
				Ticks:      50,
				Timeout:    5 * time.Second,
				Interval:   50 * time.Millisecond,
				Seed:       9,
				NoCache:    true,
				LogLevel:   "debug",
				ConfigPath: "x.toml",
			},
		},
		{
			name: "run until timeout",
			args: []string{"run", "-ticks", "0", "--timeout", "3", "a.slo"},
			expected: Config{
				Command: CommandRun,
				Sources: []string{"a.slo"},
				Timeout: 3 * time.Second,
				Seed:    1,
			},
		},
		{
			name: "run with state files",
			args: []string{"run", "cam1.vlo", "-load-state", "a.mss", "-save-state=b.mss"},
			expected: Config{
				Command:   CommandRun,
				Sources:   []string{"cam1.vlo"},
				Ticks:     DefaultTicks,
				Seed:      1,
				LoadState: "a.mss",
				SaveState: "b.mss",
			},
		},
		{
			name:     "disasm",
			args:     []string{"disasm", "--log-level", "warn", "cam1.msc"},
			expected: Config{Command: CommandDisasm, Sources: []string{"cam1.msc"}, LogLevel: "warn"},
		},
		{
			name:     "subcommand help",
			args:     []string{"run", "-h"},
			expected: Config{Command: CommandRun, Ticks: DefaultTicks, Seed: 1, ShowHelp: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			config, err := ParseArgs(tt.args)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(*config, tt.expected) {
				t.Errorf("ParseArgs() = %+v, want %+v", *config, tt.expected)
			}
		})
	}
}

func TestParseArgs_Environment(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("TIMEOUT", "7")

	config, err := ParseArgs([]string{"run", "a.slo"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", config.LogLevel)
	}
	if config.Timeout != 7*time.Second {
		t.Errorf("Timeout = %v, want 7s", config.Timeout)
	}

	config, err = ParseArgs([]string{"run", "-l", "error", "-timeout", "2", "a.slo"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.LogLevel != "error" || config.Timeout != 2*time.Second {
		t.Errorf("flags did not override the environment: %+v", config)
	}
}

func TestParseArgs_InvalidArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "unknown command", args: []string{"play", "a.slo"}},
		{name: "negative timeout", args: []string{"run", "--timeout", "-10", "a.slo"}},
		{name: "negative interval", args: []string{"run", "-interval", "-1s", "a.slo"}},
		{name: "negative ticks", args: []string{"run", "-ticks", "-1", "a.slo"}},
		{name: "nothing bounds the run", args: []string{"run", "-ticks", "0", "a.slo"}},
		{name: "invalid log level", args: []string{"compile", "--log-level", "invalid", "a.slo"}},
		{name: "invalid log level short", args: []string{"compile", "-l", "trace", "a.slo"}},
		{name: "no source", args: []string{"compile"}},
		{name: "two sources for disasm", args: []string{"disasm", "a.slo", "b.slo"}},
		{name: "flag of another command", args: []string{"disasm", "-o", "x", "a.slo"}},
		{name: "state flag outside run", args: []string{"compile", "-save-state", "x.mss", "a.slo"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			if _, err := ParseArgs(tt.args); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}

	clearEnv(t)
	if _, err := ParseArgs([]string{"play"}); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("error = %v, want ErrUnknownCommand", err)
	}
}

func TestReorderArgs(t *testing.T) {
	got := reorderArgs([]string{"a.slo", "-no-cache", "b.slo", "-ticks", "5", "-seed=3", "--", "-odd.slo"})
	want := []string{"-no-cache", "-ticks", "5", "-seed=3", "a.slo", "b.slo", "-odd.slo"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("reorderArgs() = %v, want %v", got, want)
	}
}

func TestPrintHelp(t *testing.T) {
	var buf bytes.Buffer
	PrintHelp(&buf)
	for _, s := range []string{"msc compile", "msc run", "msc disasm", "MSC_CONFIG", "-save-state"} {
		if !strings.Contains(buf.String(), s) {
			t.Errorf("help text lacks %q", s)
		}
	}
}
