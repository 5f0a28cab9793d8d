// Package config handles pmachine.toml host configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "pmachine.toml"

const (
	MinStoreSize = 1024
	MaxStoreSize = 1 << 24
)

// Config represents a pmachine.toml file.
type Config struct {
	Machine Machine `toml:"machine"`
	Log     Log     `toml:"log"`
	Trace   Trace   `toml:"trace"`
	Output  Output  `toml:"output"`

	// Dir is the directory containing the file (set at load time, empty
	// for Default).
	Dir string `toml:"-"`
}

// Machine sizes the data store and the host loop.
type Machine struct {
	StoreSize int `toml:"store-size"`
	BatchSize int `toml:"batch-size"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Trace configures the snapshot stream.
type Trace struct {
	Enabled bool   `toml:"enabled"`
	Output  string `toml:"output"`
}

// Output selects the extra reports printed around a run.
type Output struct {
	Disassemble bool `toml:"disassemble"`
	Profile     bool `toml:"profile"`
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	return &Config{
		Machine: Machine{StoreSize: 65536, BatchSize: 100000},
		Log:     Log{Verbosity: 1},
		Trace:   Trace{Output: "trace.cbor"},
	}
}

// Load parses pmachine.toml from the given directory. Keys the file leaves
// out keep their defaults.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return c, nil
}

// Parse decodes and validates a configuration document.
func Parse(doc string) (*Config, error) {
	c := Default()
	md, err := toml.Decode(doc, c)
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
	if c.Trace.Output == "" {
		c.Trace.Output = "trace.cbor"
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a pmachine.toml file, then
// loads it. Returns Default if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

// Validate checks the numeric settings.
func (c *Config) Validate() error {
	var errs []error
	if s := c.Machine.StoreSize; s < MinStoreSize || s > MaxStoreSize {
		errs = append(errs, fmt.Errorf("machine.store-size %d outside [%d, %d]", s, MinStoreSize, MaxStoreSize))
	}
	if c.Machine.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("machine.batch-size must be positive, got %d", c.Machine.BatchSize))
	}
	if c.Log.Verbosity < 0 {
		errs = append(errs, fmt.Errorf("log.verbosity must not be negative, got %d", c.Log.Verbosity))
	}
	return errors.Join(errs...)
}

// TracePath returns the trace output path, relative to Dir when not
// absolute.
func (c *Config) TracePath() string {
	if filepath.IsAbs(c.Trace.Output) || c.Dir == "" {
		return c.Trace.Output
	}
	return filepath.Join(c.Dir, c.Trace.Output)
}
