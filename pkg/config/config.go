// Package config handles regvm.toml run configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/akhildatla/regvm/pkg/embed"
	"github.com/akhildatla/regvm/pkg/vm"
)

// FileName is the configuration file FindAndLoad looks for.
const FileName = "regvm.toml"

// Config represents a regvm.toml configuration.
type Config struct {
	Run    Run    `toml:"run"`
	Log    Log    `toml:"log"`
	Output Output `toml:"output"`

	// Path is the file the configuration was read from (set at load time).
	Path string `toml:"-"`
}

// Run configures the host guards of every run.
type Run struct {
	MaxSteps   int64         `toml:"max-steps"`
	MaxDepth   int           `toml:"max-depth"`
	StackLimit int           `toml:"stack-limit"`
	Timeout    time.Duration `toml:"timeout"`
	Optimize   bool          `toml:"optimize"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Output configures the report files written after a run.
type Output struct {
	Registers    string `toml:"registers"`
	AllRegisters bool   `toml:"all-registers"`
	Trace        string `toml:"trace"`
	TraceLimit   int    `toml:"trace-limit"`
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	return &Config{
		Run: Run{
			MaxDepth: vm.DefaultMaxCallDepth,
		},
	}
}

// Load parses the configuration file at path. Missing keys keep their
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	if err := toml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	c.Path, err = filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}

	return c, nil
}

// FindAndLoad walks up from startDir to find a regvm.toml file, then loads
// it. If none is found the default configuration is returned.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return Default(), nil
		}
		dir = parent
	}
}

// Validate rejects negative limits.
func (c *Config) Validate() error {
	var errs []error
	if c.Run.MaxSteps < 0 {
		errs = append(errs, fmt.Errorf("run.max-steps must not be negative, got %d", c.Run.MaxSteps))
	}
	if c.Run.MaxDepth < 0 {
		errs = append(errs, fmt.Errorf("run.max-depth must not be negative, got %d", c.Run.MaxDepth))
	}
	if c.Run.StackLimit < 0 {
		errs = append(errs, fmt.Errorf("run.stack-limit must not be negative, got %d", c.Run.StackLimit))
	}
	if c.Run.Timeout < 0 {
		errs = append(errs, fmt.Errorf("run.timeout must not be negative, got %s", c.Run.Timeout))
	}
	if c.Output.TraceLimit < 0 {
		errs = append(errs, fmt.Errorf("output.trace-limit must not be negative, got %d", c.Output.TraceLimit))
	}
	return errors.Join(errs...)
}

// EmbedOptions converts the run section into execution options.
func (c *Config) EmbedOptions() []embed.Option {
	opts := []embed.Option{
		embed.WithMaxSteps(c.Run.MaxSteps),
		embed.WithMaxCallDepth(c.Run.MaxDepth),
		embed.WithStackLimit(c.Run.StackLimit),
	}
	if c.Run.Timeout > 0 {
		opts = append(opts, embed.WithTimeout(c.Run.Timeout))
	}
	if c.Run.Optimize {
		opts = append(opts, embed.WithOptimize())
	}
	return opts
}
