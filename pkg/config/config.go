// Package config loads the browser configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/meeg-cfin/studybrowser/pkg/model"
)

// DefaultPath is where the config file is looked up when no -config flag is given
var DefaultPath = filepath.Join(".sbrowse", "config.yaml")

// Config is the complete browser configuration
type Config struct {
	Query   QueryConfig   `yaml:"query"`
	Browse  BrowseConfig  `yaml:"browse"`
	Batch   BatchConfig   `yaml:"batch"`
	Panel   PanelConfig   `yaml:"panel"`
	Session SessionConfig `yaml:"session"`
	Watch   WatchConfig   `yaml:"watch"`
	Log     LogConfig     `yaml:"log"`
	Status  StatusConfig  `yaml:"status"`
}

// QueryConfig selects and tunes the query backend. A non-empty Catalog
// uses the JSONL catalog instead of the external tool.
type QueryConfig struct {
	Tool          string        `yaml:"tool"`
	Args          []string      `yaml:"args,omitempty"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	Catalog       string        `yaml:"catalog,omitempty"`
}

// BrowseConfig holds selector defaults
type BrowseConfig struct {
	DefaultModality model.Modality `yaml:"default_modality"`
	UniqueStudies   bool           `yaml:"unique_studies"`
}

// BatchConfig is the processing command prefix
type BatchConfig struct {
	Command []string `yaml:"command"`
}

// PanelConfig tunes the origin fit
type PanelConfig struct {
	ExcludeKinds []string `yaml:"exclude_kinds,omitempty"`
}

// SessionConfig configures the history store
type SessionConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Driver  string `yaml:"driver"`
}

// WatchConfig configures catalog reloads
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// LogConfig configures logging
type LogConfig struct {
	File  string `yaml:"file"`
	Level string `yaml:"level"`
}

// StatusConfig configures the optional status endpoint; empty Addr disables it
type StatusConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Query: QueryConfig{
			Tool:          "stormdb",
			Timeout:       10 * time.Second,
			MaxConcurrent: 2,
		},
		Browse: BrowseConfig{
			DefaultModality: model.DefaultModality,
		},
		Batch: BatchConfig{
			Command: []string{"maxfilter"},
		},
		Panel: PanelConfig{
			ExcludeKinds: []string{"nasion"},
		},
		Session: SessionConfig{
			Enabled: true,
			Path:    filepath.Join(".sbrowse", "history.db"),
			Driver:  "sqlite",
		},
		Watch: WatchConfig{
			Enabled:  true,
			Debounce: 200 * time.Millisecond,
		},
		Log: LogConfig{
			File:  filepath.Join(".sbrowse", "sbrowse.log"),
			Level: "info",
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for values nothing downstream can use
func (c *Config) Validate() error {
	if c.Query.Catalog == "" && strings.TrimSpace(c.Query.Tool) == "" {
		return errors.New("query.tool or query.catalog is required")
	}
	if c.Query.Timeout <= 0 {
		return fmt.Errorf("query.timeout must be positive, got %s", c.Query.Timeout)
	}
	if c.Query.MaxConcurrent < 1 {
		return fmt.Errorf("query.max_concurrent must be at least 1, got %d", c.Query.MaxConcurrent)
	}
	if !c.Browse.DefaultModality.IsValid() {
		return fmt.Errorf("browse.default_modality: invalid modality %q", c.Browse.DefaultModality)
	}
	if len(c.Batch.Command) == 0 || strings.TrimSpace(c.Batch.Command[0]) == "" {
		return errors.New("batch.command must name a program")
	}
	switch c.Session.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("session.driver must be sqlite or sqlite3, got %q", c.Session.Driver)
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative, got %s", c.Watch.Debounce)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a level name to a slog level
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return l, nil
}
