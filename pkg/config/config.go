// Package config loads dplang task files. A task file is TOML or YAML,
// chosen by extension, and describes what to run and where rows go.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/thomasrohde/dplang/pkg/history"
	"github.com/thomasrohde/dplang/pkg/rowio"
)

// Config holds a complete task configuration.
type Config struct {
	Task   Task   `toml:"task" yaml:"task"`
	Log    Log    `toml:"log" yaml:"log"`
	Sink   Sink   `toml:"sink" yaml:"sink"`
	Server Server `toml:"server" yaml:"server"`
}

// Task describes one script run.
type Task struct {
	Script       string   `toml:"script" yaml:"script"`
	Input        string   `toml:"input" yaml:"input"`
	InputFormat  string   `toml:"input_format" yaml:"input_format"`
	Output       string   `toml:"output" yaml:"output"`
	Format       string   `toml:"format" yaml:"format"`
	Window       int      `toml:"window" yaml:"window"`
	PartitionBy  string   `toml:"partition_by" yaml:"partition_by"`
	Workers      int      `toml:"workers" yaml:"workers"`
	PackagePaths []string `toml:"package_paths" yaml:"package_paths"`
	MaxRows      int      `toml:"max_rows" yaml:"max_rows"`
	Timeout      Duration `toml:"timeout" yaml:"timeout"`
	Trace        string   `toml:"trace" yaml:"trace"`
}

// Log configures logging.
type Log struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// Sink configures additional row sinks.
type Sink struct {
	SQLite SQLite `toml:"sqlite" yaml:"sqlite"`
}

// SQLite configures the SQLite sink. An empty Path disables it.
type SQLite struct {
	Path  string `toml:"path" yaml:"path"`
	Table string `toml:"table" yaml:"table"`
}

// Server configures dplang serve.
type Server struct {
	Addr string `toml:"addr" yaml:"addr"`
}

// Duration wraps time.Duration for TOML and YAML parsing
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText formats the duration as a string
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Task: Task{
			Format:  string(rowio.JSON),
			Window:  history.DefaultCapacity,
			Workers: 4,
		},
		Log: Log{
			Level:  "warn",
			Format: "console",
		},
		Sink: Sink{
			SQLite: SQLite{Table: rowio.DefaultTable},
		},
		Server: Server{
			Addr: "127.0.0.1:8765",
		},
	}
}

// Load reads a task file. Values not set in the file keep their defaults;
// relative paths in the file are resolved against its directory.
func Load(path string) (*Config, error) {
	path = os.ExpandEnv(path)
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		if _, err := toml.Decode(string(content), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

func (c *Config) resolvePaths(dir string) {
	resolve := func(p string) string {
		p = os.ExpandEnv(p)
		if p == "" || p == "-" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	c.Task.Script = resolve(c.Task.Script)
	c.Task.Input = resolve(c.Task.Input)
	c.Task.Output = resolve(c.Task.Output)
	c.Task.Trace = resolve(c.Task.Trace)
	c.Sink.SQLite.Path = resolve(c.Sink.SQLite.Path)
	for i, p := range c.Task.PackagePaths {
		c.Task.PackagePaths[i] = resolve(p)
	}
}

var logLevels = map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true, "disabled": true}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Task.Format != "" {
		if _, err := rowio.ParseFormat(c.Task.Format); err != nil {
			errs = append(errs, fmt.Errorf("task.format: %w", err))
		}
	}
	if c.Task.InputFormat != "" {
		if _, err := rowio.ParseFormat(c.Task.InputFormat); err != nil {
			errs = append(errs, fmt.Errorf("task.input_format: %w", err))
		}
	}
	if c.Task.Window < 1 {
		errs = append(errs, fmt.Errorf("task.window must be at least 1, got %d", c.Task.Window))
	}
	if c.Task.Workers < 1 {
		errs = append(errs, fmt.Errorf("task.workers must be at least 1, got %d", c.Task.Workers))
	}
	if c.Task.MaxRows < 0 {
		errs = append(errs, fmt.Errorf("task.max_rows must not be negative, got %d", c.Task.MaxRows))
	}
	if c.Task.Timeout.Duration < 0 {
		errs = append(errs, fmt.Errorf("task.timeout must not be negative, got %s", c.Task.Timeout.Duration))
	}
	if !logLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Errorf("log.level %q is not one of trace, debug, info, warn, error, disabled", c.Log.Level))
	}
	if f := strings.ToLower(c.Log.Format); f != "console" && f != "json" {
		errs = append(errs, fmt.Errorf("log.format %q is not console or json", c.Log.Format))
	}
	if c.Sink.SQLite.Path != "" && c.Sink.SQLite.Table == "" {
		errs = append(errs, errors.New("sink.sqlite.table must be set when sink.sqlite.path is"))
	}
	return errors.Join(errs...)
}
