package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreMongo  = "mongo"
	StoreRemote = "remote"
)

// StoreConfig selects and configures the document store.
type StoreConfig struct {
	Type   string            `yaml:"type"`
	Mongo  MongoStoreConfig  `yaml:"mongo"`
	Remote RemoteStoreConfig `yaml:"remote"`
}

// MongoStoreConfig holds MongoDB connection settings.
type MongoStoreConfig struct {
	URI            string        `yaml:"uri"`
	DatabaseName   string        `yaml:"database_name"`
	Collection     string        `yaml:"collection"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// RemoteStoreConfig points at a remote document service.
type RemoteStoreConfig struct {
	URL         string `yaml:"url"`
	RealtimeURL string `yaml:"realtime_url"`
	Token       string `yaml:"token"`
	ClientID    string `yaml:"client_id"`
}

func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type: StoreMemory,
		Mongo: MongoStoreConfig{
			URI:            "mongodb://localhost:27017",
			DatabaseName:   "bizdata",
			Collection:     "documents",
			ConnectTimeout: 10 * time.Second,
		},
	}
}

func (c *StoreConfig) ApplyDefaults() {
	defaults := DefaultStoreConfig()
	if c.Type == "" {
		c.Type = defaults.Type
	}
	if c.Mongo.URI == "" {
		c.Mongo.URI = defaults.Mongo.URI
	}
	if c.Mongo.DatabaseName == "" {
		c.Mongo.DatabaseName = defaults.Mongo.DatabaseName
	}
	if c.Mongo.Collection == "" {
		c.Mongo.Collection = defaults.Mongo.Collection
	}
	if c.Mongo.ConnectTimeout == 0 {
		c.Mongo.ConnectTimeout = defaults.Mongo.ConnectTimeout
	}
}

func (c *StoreConfig) ApplyEnvOverrides() {
	if val := os.Getenv("BIZDATA_STORE"); val != "" {
		c.Type = val
	}
	if val := os.Getenv("MONGO_URI"); val != "" {
		c.Mongo.URI = val
	}
	if val := os.Getenv("DB_NAME"); val != "" {
		c.Mongo.DatabaseName = val
	}
	if val := os.Getenv("BIZDATA_REMOTE_URL"); val != "" {
		c.Remote.URL = val
	}
	if val := os.Getenv("BIZDATA_TOKEN"); val != "" {
		c.Remote.Token = val
	}
}

func (c *StoreConfig) ResolvePaths(_ string) {}

func (c *StoreConfig) Validate() error {
	c.Type = strings.ToLower(c.Type)
	switch c.Type {
	case StoreMemory:
	case StoreMongo:
		if c.Mongo.URI == "" {
			return fmt.Errorf("store.mongo.uri is required when store.type is mongo")
		}
		if c.Mongo.DatabaseName == "" {
			return fmt.Errorf("store.mongo.database_name is required when store.type is mongo")
		}
	case StoreRemote:
		if c.Remote.URL == "" {
			return fmt.Errorf("store.remote.url is required when store.type is remote")
		}
	default:
		return fmt.Errorf("invalid store type: %q (must be memory, mongo, or remote)", c.Type)
	}
	return nil
}
