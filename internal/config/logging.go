package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
)

// LoggingConfig holds logging configuration. Console and File inherit Level
// and Format when they leave them empty.
type LoggingConfig struct {
	Level    string         `yaml:"level"`  // debug, info, warn, error
	Format   string         `yaml:"format"` // text, json
	Dir      string         `yaml:"dir"`
	Rotation RotationConfig `yaml:"rotation"`
	Console  OutputConfig   `yaml:"console"`
	File     OutputConfig   `yaml:"file"`
}

// RotationConfig is handed to the rotating file writer as is.
type RotationConfig struct {
	MaxSize    int  `yaml:"max_size"`    // MB
	MaxBackups int  `yaml:"max_backups"` // files
	MaxAge     int  `yaml:"max_age"`     // days
	Compress   bool `yaml:"compress"`
}

// OutputConfig configures one log destination.
type OutputConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
}

func (o OutputConfig) empty() bool {
	return o == OutputConfig{}
}

var (
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"text", "json"}
)

// DefaultLoggingConfig logs to the console only; the CLI is short-lived and
// file logs are opt-in.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:    "info",
		Format:   "text",
		Dir:      "logs",
		Rotation: RotationConfig{MaxSize: 20, MaxBackups: 5, MaxAge: 14, Compress: true},
		Console:  OutputConfig{Enabled: true, Level: "info", Format: "text"},
		File:     OutputConfig{Level: "info", Format: "text"},
	}
}

func (c *LoggingConfig) ApplyDefaults() {
	d := DefaultLoggingConfig()
	if c.Level == "" {
		c.Level = d.Level
	}
	if c.Format == "" {
		c.Format = d.Format
	}
	if c.Dir == "" {
		c.Dir = d.Dir
	}
	if c.Rotation.MaxSize == 0 {
		c.Rotation.MaxSize = d.Rotation.MaxSize
	}
	if c.Rotation.MaxBackups == 0 {
		c.Rotation.MaxBackups = d.Rotation.MaxBackups
	}
	if c.Rotation.MaxAge == 0 {
		c.Rotation.MaxAge = d.Rotation.MaxAge
	}
	// Compress stays as loaded: false cannot be told apart from unset.

	c.Console = c.inherit(c.Console)
	c.File = c.inherit(c.File)
}

// inherit fills an output from the top-level settings. A section left out
// entirely counts as enabled.
func (c *LoggingConfig) inherit(o OutputConfig) OutputConfig {
	if o.empty() {
		o.Enabled = true
	}
	if o.Level == "" {
		o.Level = c.Level
	}
	if o.Format == "" {
		o.Format = c.Format
	}
	return o
}

// ApplyEnvOverrides lets BIZDATA_LOG_LEVEL raise or lower every output at once.
func (c *LoggingConfig) ApplyEnvOverrides() {
	if v := os.Getenv("BIZDATA_LOG_LEVEL"); v != "" {
		c.Level = v
		c.Console.Level = v
		c.File.Level = v
	}
}

func (c *LoggingConfig) ResolvePaths(configDir string) {
	c.Dir = resolvePath(configDir, c.Dir)
}

func (c *LoggingConfig) Validate() error {
	if !slices.Contains(logLevels, c.Level) {
		return fmt.Errorf("invalid log level: %s (must be %s)", c.Level, strings.Join(logLevels, ", "))
	}
	if !slices.Contains(logFormats, c.Format) {
		return fmt.Errorf("invalid log format: %s (must be %s)", c.Format, strings.Join(logFormats, ", "))
	}
	if c.Dir == "" {
		return fmt.Errorf("log directory cannot be empty")
	}
	if err := c.Console.validate("console"); err != nil {
		return err
	}
	return c.File.validate("file")
}

// validate checks only enabled outputs; empty values inherit and are fine.
func (o OutputConfig) validate(name string) error {
	if !o.Enabled {
		return nil
	}
	if o.Level != "" && !slices.Contains(logLevels, o.Level) {
		return fmt.Errorf("invalid %s log level: %s", name, o.Level)
	}
	if o.Format != "" && !slices.Contains(logFormats, o.Format) {
		return fmt.Errorf("invalid %s log format: %s", name, o.Format)
	}
	return nil
}
