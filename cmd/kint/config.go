package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v2"
)

// Config holds the settings shared by the check and query commands.
type Config struct {
	Solver  string   `yaml:"solver" toml:"solver"`
	Timeout string   `yaml:"timeout" toml:"timeout"`
	Jobs    int      `yaml:"jobs" toml:"jobs"`
	Color   bool     `yaml:"color" toml:"color"`
	Exclude []string `yaml:"exclude" toml:"exclude"`
	Dump    bool     `yaml:"dump" toml:"dump"`
	Model   bool     `yaml:"model" toml:"model"`

	Verbose bool `yaml:"-" toml:"-"`
}

// TimeoutDuration returns the parsed per query timeout. Zero means no limit.
func (c *Config) TimeoutDuration() (time.Duration, error) {
	if c.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout: %w", err)
	}
	return d, nil
}

// NewConfig returns a configuration with default settings.
func NewConfig() *Config {
	return &Config{
		Solver: DefaultSolver,
		Jobs:   1,
	}
}

// Load reads settings from a YAML or TOML file based on its extension.
// Settings missing from the file keep their current values.
func (c *Config) Load(path string) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch ext := filepath.Ext(path); ext {
	case ".yml", ".yaml":
		if err := yaml.UnmarshalStrict(buf, c); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(buf), c); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format: %q", ext)
	}
	return nil
}

// parseFlags registers the shared flags on fs, parses args and returns the
// configuration. Flags that are set explicitly override the config file.
func parseFlags(fs *flag.FlagSet, args []string) (*Config, error) {
	var flags Config
	var exclude string
	path := fs.String("config", "", "config file (.yml or .toml)")
	fs.BoolVar(&flags.Verbose, "v", false, "verbose")
	fs.StringVar(&flags.Solver, "solver", DefaultSolver, "solver backend")
	fs.StringVar(&flags.Timeout, "timeout", "", "per query timeout, e.g. 10s")
	fs.IntVar(&flags.Jobs, "j", 1, "functions checked in parallel")
	fs.BoolVar(&flags.Color, "color", false, "colorize reports")
	fs.StringVar(&exclude, "exclude", "", "comma-separated function name patterns to skip")
	fs.BoolVar(&flags.Dump, "dump", false, "log queries as SMT-LIB")
	fs.BoolVar(&flags.Model, "model", false, "log models of failed checks")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	config := NewConfig()
	if *path != "" {
		if err := config.Load(*path); err != nil {
			return nil, err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "v":
			config.Verbose = flags.Verbose
		case "solver":
			config.Solver = flags.Solver
		case "timeout":
			config.Timeout = flags.Timeout
		case "j":
			config.Jobs = flags.Jobs
		case "color":
			config.Color = flags.Color
		case "exclude":
			config.Exclude = strings.Split(exclude, ",")
		case "dump":
			config.Dump = flags.Dump
		case "model":
			config.Model = flags.Model
		}
	})

	if _, err := config.TimeoutDuration(); err != nil {
		return nil, err
	}
	return config, nil
}
