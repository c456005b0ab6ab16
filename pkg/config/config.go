// Package config loads missionscript.toml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/zurustar/missionscript/pkg/event"
	"github.com/zurustar/missionscript/pkg/logger"
	"github.com/zurustar/missionscript/pkg/script"
	"github.com/zurustar/missionscript/pkg/vm"
)

// FileName is the configuration file looked up in the working directory.
const FileName = "missionscript.toml"

// EnvPath names the environment variable that overrides the file location.
const EnvPath = "MSC_CONFIG"

// Config is the subsystem configuration.
type Config struct {
	VM       VM       `toml:"vm"`
	Dispatch Dispatch `toml:"dispatch"`
	Source   Source   `toml:"source"`
	Cache    Cache    `toml:"cache"`
	Log      Log      `toml:"log"`

	// Path is the file the configuration was read from, empty for defaults.
	Path string `toml:"-"`
}

// VM holds per-run execution limits.
type VM struct {
	MaxStack        int `toml:"max_stack"`
	MaxInstructions int `toml:"max_instructions"`
	MaxCallDepth    int `toml:"max_call_depth"`
}

type Dispatch struct {
	QueueSize int `toml:"queue_size"`
}

type Source struct {
	Encoding string `toml:"encoding"`
}

// Cache configures the compiled program cache.
type Cache struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

type Log struct {
	Level string `toml:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.VM.MaxStack == 0 {
		c.VM.MaxStack = vm.DefaultLimits.MaxStack
	}
	if c.VM.MaxInstructions == 0 {
		c.VM.MaxInstructions = vm.DefaultLimits.MaxInstructions
	}
	if c.VM.MaxCallDepth == 0 {
		c.VM.MaxCallDepth = vm.DefaultLimits.MaxCallDepth
	}
	if c.Dispatch.QueueSize == 0 {
		c.Dispatch.QueueSize = event.DefaultQueueSize
	}
	if c.Source.Encoding == "" {
		c.Source.Encoding = "utf-8"
	}
	if c.Cache.Path == "" {
		c.Cache.Path = filepath.Join(".msc", "programs.db")
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	positive("vm.max_stack", c.VM.MaxStack)
	positive("vm.max_instructions", c.VM.MaxInstructions)
	positive("vm.max_call_depth", c.VM.MaxCallDepth)
	positive("dispatch.queue_size", c.Dispatch.QueueSize)

	if _, err := script.ParseEncoding(c.Source.Encoding); err != nil {
		errs = append(errs, fmt.Errorf("source.encoding: %w", err))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}

// Limits returns the VM limits.
func (c *Config) Limits() vm.Limits {
	return vm.Limits{
		MaxStack:        c.VM.MaxStack,
		MaxInstructions: c.VM.MaxInstructions,
		MaxCallDepth:    c.VM.MaxCallDepth,
	}
}

// Parse decodes TOML data. Unknown keys are an error.
func Parse(data string) (*Config, error) {
	var c Config
	md, err := toml.Decode(data, &c)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Load reads the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	c, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	c.Path = path
	return c, nil
}

// Resolve finds the configuration to use: the explicit path if given, then
// $MSC_CONFIG, then missionscript.toml in the working directory. With none
// of those present it returns the defaults.
func Resolve(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	if env := os.Getenv(EnvPath); env != "" {
		return Load(env)
	}
	if _, err := os.Stat(FileName); err == nil {
		return Load(FileName)
	}
	return Default(), nil
}
