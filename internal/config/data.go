package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// CacheConfig configures the in-memory collection cache.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{TTL: 60 * time.Second}
}

func (c *CacheConfig) ApplyDefaults() {
	if c.TTL == 0 {
		c.TTL = DefaultCacheConfig().TTL
	}
}

func (c *CacheConfig) ApplyEnvOverrides()    {}
func (c *CacheConfig) ResolvePaths(_ string) {}

func (c *CacheConfig) Validate() error {
	if c.TTL < 0 {
		return errors.New("cache.ttl must not be negative")
	}
	return nil
}

// Mirror backends.
const (
	MirrorBolt   = "bolt"
	MirrorSQLite = "sqlite"
	MirrorMemory = "memory"
)

// MirrorConfig configures the local persistence mirror.
type MirrorConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

func DefaultMirrorConfig() MirrorConfig {
	return MirrorConfig{
		Backend: MirrorBolt,
		Path:    "data/mirror.db",
	}
}

func (c *MirrorConfig) ApplyDefaults() {
	if c.Backend == "" {
		c.Backend = MirrorBolt
	}
	if c.Path == "" && c.Backend != MirrorMemory {
		if c.Backend == MirrorSQLite {
			c.Path = "data/mirror.sqlite"
		} else {
			c.Path = DefaultMirrorConfig().Path
		}
	}
}

func (c *MirrorConfig) ApplyEnvOverrides() {
	if val := os.Getenv("BIZDATA_MIRROR_PATH"); val != "" {
		c.Path = val
	}
}

func (c *MirrorConfig) ResolvePaths(configDir string) {
	if c.Backend == MirrorMemory {
		return
	}
	c.Path = resolvePath(configDir, c.Path)
}

func (c *MirrorConfig) Validate() error {
	c.Backend = strings.ToLower(c.Backend)
	switch c.Backend {
	case MirrorMemory:
	case MirrorBolt, MirrorSQLite:
		if c.Path == "" {
			return fmt.Errorf("mirror.path is required for the %s backend", c.Backend)
		}
	default:
		return fmt.Errorf("invalid mirror backend: %q (must be bolt, sqlite, or memory)", c.Backend)
	}
	return nil
}

// Event bus backends.
const (
	EventsMemory = "memory"
	EventsNATS   = "nats"
)

// EventsConfig configures the change-event bus.
type EventsConfig struct {
	Backend string `yaml:"backend"`
	NatsURL string `yaml:"nats_url"`
	Prefix  string `yaml:"prefix"`
}

func DefaultEventsConfig() EventsConfig {
	return EventsConfig{
		Backend: EventsMemory,
		NatsURL: "nats://localhost:4222",
		Prefix:  "bizdata",
	}
}

func (c *EventsConfig) ApplyDefaults() {
	d := DefaultEventsConfig()
	if c.Backend == "" {
		c.Backend = d.Backend
	}
	if c.NatsURL == "" {
		c.NatsURL = d.NatsURL
	}
	if c.Prefix == "" {
		c.Prefix = d.Prefix
	}
}

func (c *EventsConfig) ApplyEnvOverrides() {
	if val := os.Getenv("NATS_URL"); val != "" {
		c.NatsURL = val
		c.Backend = EventsNATS
	}
}

func (c *EventsConfig) ResolvePaths(_ string) {}

func (c *EventsConfig) Validate() error {
	c.Backend = strings.ToLower(c.Backend)
	switch c.Backend {
	case EventsMemory:
	case EventsNATS:
		if c.NatsURL == "" {
			return errors.New("events.nats_url is required for the nats backend")
		}
	default:
		return fmt.Errorf("invalid events backend: %q (must be memory or nats)", c.Backend)
	}
	if strings.ContainsAny(c.Prefix, "*> \t") {
		return fmt.Errorf("invalid events prefix: %q", c.Prefix)
	}
	return nil
}

// NotifyConfig configures user notifications.
type NotifyConfig struct {
	// Throttle is the minimum interval between two notifications of the
	// same category. Zero disables throttling.
	Throttle time.Duration `yaml:"throttle"`
}

func DefaultNotifyConfig() NotifyConfig {
	return NotifyConfig{Throttle: 5 * time.Second}
}

func (c *NotifyConfig) ApplyDefaults()        {}
func (c *NotifyConfig) ApplyEnvOverrides()    {}
func (c *NotifyConfig) ResolvePaths(_ string) {}

func (c *NotifyConfig) Validate() error {
	if c.Throttle < 0 {
		return errors.New("notify.throttle must not be negative")
	}
	return nil
}
