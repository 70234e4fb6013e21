package config

import (
	"log"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultDir is where config files are looked up.
const DefaultDir = "config"

// Config holds the application configuration
type Config struct {
	Logging    LoggingConfig           `yaml:"logging"`
	Store      StoreConfig             `yaml:"store"`
	Resilience ResilienceConfig        `yaml:"resilience"`
	Cache      CacheConfig             `yaml:"cache"`
	Mirror     MirrorConfig            `yaml:"mirror"`
	Events     EventsConfig            `yaml:"events"`
	Notify     NotifyConfig            `yaml:"notify"`
	Entities   map[string]EntityConfig `yaml:"entities"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Logging:    DefaultLoggingConfig(),
		Store:      DefaultStoreConfig(),
		Resilience: DefaultResilienceConfig(),
		Cache:      DefaultCacheConfig(),
		Mirror:     DefaultMirrorConfig(),
		Events:     DefaultEventsConfig(),
		Notify:     DefaultNotifyConfig(),
		Entities:   DefaultEntities(),
	}
}

// Load reads configuration from configDir and the environment.
// Order: defaults -> config.yml -> config.local.yml -> ApplyDefaults ->
// ApplyEnvOverrides -> ResolvePaths -> Validate
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultDir
	}

	// Defaults first so YAML can override them, including bool fields.
	cfg := Default()

	loadFile(filepath.Join(configDir, "config.yml"), cfg)
	loadFile(filepath.Join(configDir, "config.local.yml"), cfg)

	entities := EntitiesConfig(cfg.Entities)
	if err := ApplyServiceConfigs(configDir,
		&cfg.Logging,
		&cfg.Store,
		&cfg.Resilience,
		&cfg.Cache,
		&cfg.Mirror,
		&cfg.Events,
		&cfg.Notify,
		&entities,
	); err != nil {
		return nil, err
	}
	cfg.Entities = entities
	return cfg, nil
}

func loadFile(filename string, cfg *Config) {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		log.Printf("Warning: Error reading %s: %v", filename, err)
		return
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("Warning: Error parsing %s: %v", filename, err)
	}
}

// resolvePath makes a relative path relative to the parent of configDir, so
// data/ ends up next to config/ rather than inside it. Paths starting with
// ".." are resolved from configDir itself.
func resolvePath(configDir, path string) string {
	if path == "" || filepath.IsAbs(path) || path == ":memory:" {
		return path
	}
	if len(path) >= 2 && path[0:2] == ".." {
		return filepath.Clean(filepath.Join(configDir, path))
	}
	return filepath.Clean(filepath.Join(filepath.Dir(configDir), path))
}
