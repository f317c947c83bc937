// Package config loads the optional quire.yml at the workspace root and
// applies QUIRE_* environment overrides. Precedence end to end is
// flags > environment > quire.yml > defaults; flags are the CLI's business,
// the rest lives here.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up at the workspace root.
const FileName = "quire.yml"

// Duration decodes YAML duration strings such as "200ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the workspace configuration.
type Config struct {
	Root    string        `yaml:"root"`
	Export  ExportConfig  `yaml:"export"`
	Watch   WatchConfig   `yaml:"watch"`
	History HistoryConfig `yaml:"history"`
	Git     GitConfig     `yaml:"git"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
	); err != nil {
		return err
	}
	if err := c.Export.Validate(); err != nil {
		return err
	}
	return c.Watch.Validate()
}

// ExportConfig holds export defaults; the audience flag still decides what a
// given run publishes.
type ExportConfig struct {
	Dest         string `yaml:"dest"`
	Audience     string `yaml:"audience"`
	KeepAudience bool   `yaml:"keep_audience"`
}

// Validate validates the export configuration.
func (c *ExportConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Dest, validation.Required),
	)
}

// WatchConfig holds the re-validation loop timing.
type WatchConfig struct {
	Debounce    Duration `yaml:"debounce"`
	MinInterval Duration `yaml:"min_interval"`
}

// Validate validates the watch configuration.
func (c *WatchConfig) Validate() error {
	if c.Debounce < 0 {
		return errors.New("watch: debounce must be non-negative")
	}
	if c.MinInterval < 0 {
		return errors.New("watch: min_interval must be non-negative")
	}
	return nil
}

// HistoryConfig holds the run log location.
type HistoryConfig struct {
	Path     string `yaml:"path"`
	Disabled bool   `yaml:"disabled"`
}

// GitConfig holds the commit identity for the versioned backend.
type GitConfig struct {
	AuthorName  string `yaml:"author_name"`
	AuthorEmail string `yaml:"author_email"`
}

// Default returns a Config with the stock values.
func Default() *Config {
	return &Config{
		Root: "index.md",
		Export: ExportConfig{
			Dest: "export",
		},
		Watch: WatchConfig{
			Debounce:    Duration(200 * time.Millisecond),
			MinInterval: Duration(time.Second),
		},
		History: HistoryConfig{
			Path: ".quire/history.jsonl",
		},
		Git: GitConfig{
			AuthorName:  "quire",
			AuthorEmail: "quire@localhost",
		},
	}
}

// Load reads quire.yml under dir when present, layers QUIRE_* environment
// overrides on top and validates the result. A missing file leaves the
// defaults in place.
func Load(dir string) (*Config, error) {
	c := Default()
	path := filepath.Join(dir, FileName)
	if err := c.applyFile(path); err != nil {
		return nil, err
	}
	if err := c.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return c, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays QUIRE_* variables on the configuration. The lookup
// parameter is os.LookupEnv in production.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("QUIRE_ROOT"); ok {
		c.Root = v
	}
	if v, ok := lookup("QUIRE_EXPORT_DEST"); ok {
		c.Export.Dest = v
	}
	if v, ok := lookup("QUIRE_EXPORT_AUDIENCE"); ok {
		c.Export.Audience = v
	}
	if v, ok := lookup("QUIRE_HISTORY_PATH"); ok {
		c.History.Path = v
	}
	if v, ok := lookup("QUIRE_WATCH_DEBOUNCE"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("QUIRE_WATCH_DEBOUNCE: %w", err)
		}
		c.Watch.Debounce = Duration(d)
	}
	if v, ok := lookup("QUIRE_GIT_AUTHOR_NAME"); ok {
		c.Git.AuthorName = v
	}
	if v, ok := lookup("QUIRE_GIT_AUTHOR_EMAIL"); ok {
		c.Git.AuthorEmail = v
	}
	return nil
}
