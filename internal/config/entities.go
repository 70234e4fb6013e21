package config

import (
	"fmt"
	"sort"

	"github.com/syntrixbase/bizdata/pkg/model"
)

// Access strategies.
const (
	StrategyFetch = "fetch"
	StrategyLive  = "live"
)

// EntityConfig describes how one business entity is accessed.
type EntityConfig struct {
	// Collection path; defaults to the entity name.
	Collection string `yaml:"collection"`
	Strategy   string `yaml:"strategy"`
	// Mirror keeps a local copy and queues writes made while offline.
	// Only meaningful for fetch entities.
	Mirror bool `yaml:"mirror"`
}

// EntitiesConfig maps entity names to their access configuration.
type EntitiesConfig map[string]EntityConfig

func DefaultEntities() map[string]EntityConfig {
	return map[string]EntityConfig{
		"departments":   {Collection: "departments", Strategy: StrategyFetch, Mirror: true},
		"employees":     {Collection: "employees", Strategy: StrategyFetch},
		"contracts":     {Collection: "contracts", Strategy: StrategyFetch},
		"leaveRequests": {Collection: "leaveRequests", Strategy: StrategyLive},
	}
}

// Names returns the entity names in sorted order.
func (c EntitiesConfig) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *EntitiesConfig) ApplyDefaults() {
	if len(*c) == 0 {
		*c = DefaultEntities()
		return
	}
	for name, e := range *c {
		if e.Collection == "" {
			e.Collection = name
		}
		if e.Strategy == "" {
			e.Strategy = StrategyFetch
		}
		(*c)[name] = e
	}
}

func (c *EntitiesConfig) ApplyEnvOverrides()    {}
func (c *EntitiesConfig) ResolvePaths(_ string) {}

func (c *EntitiesConfig) Validate() error {
	for _, name := range c.Names() {
		e := (*c)[name]
		if name == "" {
			return fmt.Errorf("entity name cannot be empty")
		}
		if _, err := model.ResolveCollectionPath(e.Collection); err != nil {
			return fmt.Errorf("entity %q: %w", name, err)
		}
		switch e.Strategy {
		case StrategyFetch:
		case StrategyLive:
			if e.Mirror {
				return fmt.Errorf("entity %q: mirror is only supported with the fetch strategy", name)
			}
		default:
			return fmt.Errorf("entity %q: invalid strategy %q (must be fetch or live)", name, e.Strategy)
		}
	}
	return nil
}
