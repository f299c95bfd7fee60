// Package config loads the memclear YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nomor/memclear/internal/infra"
	"github.com/nomor/memclear/internal/store"
	"github.com/nomor/memclear/internal/usecase"
)

// DefaultPath is where Load looks when no --config flag is given.
const DefaultPath = "~/.memclear/config.yaml"

// DefaultSelfPackage is the on-device companion identifier, never force-stopped.
const DefaultSelfPackage = "com.nomor.memoryclear"

// Config is the complete memclear configuration.
type Config struct {
	ADBPath        string        `yaml:"adb_path"`
	Serial         string        `yaml:"serial"`
	SelfPackage    string        `yaml:"self_package"`
	DataDir        string        `yaml:"data_dir"`
	Store          store.Kind    `yaml:"store"`
	Exclude        []string      `yaml:"exclude"`
	Delays         Delays        `yaml:"delays"`
	Log            Log           `yaml:"log"`
	HealthInterval time.Duration `yaml:"health_interval"`
}

// Delays holds the controller delay profiles.
type Delays struct {
	Normal Profile `yaml:"normal"`
	Fast   Profile `yaml:"fast"`
}

// Profile is one set of per-package waits, written as Go durations ("1500ms").
type Profile struct {
	Settings time.Duration `yaml:"settings"`
	Confirm  time.Duration `yaml:"confirm"`
	Process  time.Duration `yaml:"process"`
}

// Log configures the daemon's rotating log file.
type Log struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Default returns the built-in configuration.
func Default() *Config {
	delays := usecase.DefaultControllerConfig()
	return &Config{
		ADBPath:     "adb",
		SelfPackage: DefaultSelfPackage,
		DataDir:     "~/.memclear",
		Store:       store.KindEncrypted,
		Delays: Delays{
			Normal: Profile(delays.Normal),
			Fast:   Profile(delays.Fast),
		},
		Log: Log{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		HealthInterval: 60 * time.Second,
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
// Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(infra.ExpandHome(path))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.DataDir = infra.ExpandHome(c.DataDir)
	if c.Log.File == "" {
		c.Log.File = infra.Layout{DataDir: c.DataDir}.LogFile()
	} else {
		c.Log.File = infra.ExpandHome(c.Log.File)
	}
	if c.Store == "" {
		c.Store = store.KindEncrypted
	}
}

// Validate rejects unusable settings.
func (c *Config) Validate() error {
	switch c.Store {
	case store.KindEncrypted, store.KindFile:
	default:
		return fmt.Errorf("unknown store kind %q (want %q or %q)", c.Store, store.KindEncrypted, store.KindFile)
	}
	if c.ADBPath == "" {
		return errors.New("adb_path must not be empty")
	}
	if c.SelfPackage == "" {
		return errors.New("self_package must not be empty")
	}
	if !filepath.IsAbs(c.DataDir) {
		return fmt.Errorf("data_dir must be absolute, got %q", c.DataDir)
	}
	for name, p := range map[string]Profile{"normal": c.Delays.Normal, "fast": c.Delays.Fast} {
		if p.Settings <= 0 || p.Confirm <= 0 || p.Process <= 0 {
			return fmt.Errorf("delays.%s must be positive", name)
		}
	}
	if c.HealthInterval <= 0 {
		return errors.New("health_interval must be positive")
	}
	return nil
}

// Controller returns the controller delay profiles.
func (c *Config) Controller() usecase.ControllerConfig {
	return usecase.ControllerConfig{
		Normal: usecase.DelayProfile(c.Delays.Normal),
		Fast:   usecase.DelayProfile(c.Delays.Fast),
	}
}

// LogConfig returns the rotation settings for infra.NewDaemonLogger.
func (c *Config) LogConfig() infra.LogConfig {
	return infra.LogConfig(c.Log)
}

// Layout returns the data directory layout.
func (c *Config) Layout() infra.Layout {
	return infra.Layout{DataDir: c.DataDir}
}
