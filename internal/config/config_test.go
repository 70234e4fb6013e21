package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envVars = []string{
	"BIZDATA_STORE", "MONGO_URI", "DB_NAME", "BIZDATA_REMOTE_URL", "BIZDATA_TOKEN",
	"NATS_URL", "BIZDATA_MIRROR_PATH", "BIZDATA_LOG_LEVEL",
}

func clearEnv(t *testing.T) {
	for _, name := range envVars {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func writeConfig(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	dir := filepath.Join(t.TempDir(), "config")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, StoreMemory, cfg.Store.Type)
	assert.Equal(t, "mongodb://localhost:27017", cfg.Store.Mongo.URI)
	assert.Equal(t, "bizdata", cfg.Store.Mongo.DatabaseName)

	assert.Equal(t, 20*time.Second, cfg.Resilience.OperationTimeout)
	assert.Equal(t, 3, cfg.Resilience.MaxRetries)
	assert.Equal(t, time.Second, cfg.Resilience.BackoffBase)
	assert.Equal(t, 3, cfg.Resilience.ReconnectAttempts)
	assert.Equal(t, 3, cfg.Resilience.CircuitThreshold)
	assert.Equal(t, 30*time.Second, cfg.Resilience.CircuitCooldown)
	assert.Equal(t, 15*time.Second, cfg.Resilience.ProbeInterval)

	assert.Equal(t, 60*time.Second, cfg.Cache.TTL)
	assert.Equal(t, MirrorBolt, cfg.Mirror.Backend)
	assert.Equal(t, filepath.Join(filepath.Dir(dir), "data", "mirror.db"), cfg.Mirror.Path)
	assert.Equal(t, EventsMemory, cfg.Events.Backend)
	assert.Equal(t, "bizdata", cfg.Events.Prefix)

	assert.Equal(t, []string{"contracts", "departments", "employees", "leaveRequests"}, EntitiesConfig(cfg.Entities).Names())
	assert.True(t, cfg.Entities["departments"].Mirror)
	assert.Equal(t, StrategyLive, cfg.Entities["leaveRequests"].Strategy)
}

func TestLoad_Files(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeConfig(t, dir, "config.yml", `
store:
  type: mongo
  mongo:
    uri: "mongodb://file:27017"
    database_name: "filedb"
resilience:
  operation_timeout: 5s
  max_retries: 5
entities:
  payslips:
    strategy: live
`)
	writeConfig(t, dir, "config.local.yml", `
store:
  mongo:
    database_name: "localdb"
notify:
  throttle: 0s
`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, StoreMongo, cfg.Store.Type)
	assert.Equal(t, "mongodb://file:27017", cfg.Store.Mongo.URI)
	assert.Equal(t, "localdb", cfg.Store.Mongo.DatabaseName)
	assert.Equal(t, 5*time.Second, cfg.Resilience.OperationTimeout)
	assert.Equal(t, 5, cfg.Resilience.MaxRetries)
	assert.Equal(t, time.Duration(0), cfg.Notify.Throttle)

	// File entities are merged over the defaults.
	assert.Equal(t, EntityConfig{Collection: "payslips", Strategy: StrategyLive}, cfg.Entities["payslips"])
	assert.Contains(t, cfg.Entities, "departments")
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("BIZDATA_STORE", "remote")
	t.Setenv("BIZDATA_REMOTE_URL", "https://erp.example.com")
	t.Setenv("BIZDATA_TOKEN", "tok")
	t.Setenv("MONGO_URI", "mongodb://env:27017")
	t.Setenv("DB_NAME", "envdb")
	t.Setenv("NATS_URL", "nats://env:4222")
	t.Setenv("BIZDATA_MIRROR_PATH", "/var/lib/bizdata/mirror.db")
	t.Setenv("BIZDATA_LOG_LEVEL", "debug")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, StoreRemote, cfg.Store.Type)
	assert.Equal(t, "https://erp.example.com", cfg.Store.Remote.URL)
	assert.Equal(t, "tok", cfg.Store.Remote.Token)
	assert.Equal(t, "mongodb://env:27017", cfg.Store.Mongo.URI)
	assert.Equal(t, "envdb", cfg.Store.Mongo.DatabaseName)
	assert.Equal(t, EventsNATS, cfg.Events.Backend)
	assert.Equal(t, "nats://env:4222", cfg.Events.NatsURL)
	assert.Equal(t, "/var/lib/bizdata/mirror.db", cfg.Mirror.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "debug", cfg.Logging.Console.Level)
}

func TestLoad_InvalidConfig(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeConfig(t, dir, "config.yml", `
store:
  type: postgres
`)
	_, err := Load(dir)
	assert.ErrorContains(t, err, "invalid store type")
}

func TestLoad_FileErrorsKeepDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	// A directory where a file is expected hits the read error path.
	require.NoError(t, os.Mkdir(filepath.Join(dir, "config.yml"), 0755))
	writeConfig(t, dir, "config.local.yml", "not: [valid")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store.Type)
	assert.Equal(t, 60*time.Second, cfg.Cache.TTL)
}

func TestResolvePath(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "mirror.db")

	assert.Equal(t, filepath.Join("data", "mirror.db"), resolvePath("config", "data/mirror.db"))
	assert.Equal(t, filepath.Join("/etc", "data", "mirror.db"), resolvePath("/etc/config", "data/mirror.db"))
	assert.Equal(t, filepath.Join("/etc", "shared"), resolvePath("/etc/config", "../shared"))
	assert.Equal(t, abs, resolvePath("config", abs))
	assert.Equal(t, "", resolvePath("config", ""))
	assert.Equal(t, ":memory:", resolvePath("config", ":memory:"))
}

func TestStoreConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     StoreConfig
		wantErr string
	}{
		{"memory", StoreConfig{Type: "memory"}, ""},
		{"upper case", StoreConfig{Type: "MEMORY"}, ""},
		{"mongo", StoreConfig{Type: "mongo", Mongo: MongoStoreConfig{URI: "mongodb://x", DatabaseName: "db"}}, ""},
		{"mongo no uri", StoreConfig{Type: "mongo", Mongo: MongoStoreConfig{DatabaseName: "db"}}, "store.mongo.uri"},
		{"mongo no db", StoreConfig{Type: "mongo", Mongo: MongoStoreConfig{URI: "mongodb://x"}}, "database_name"},
		{"remote no url", StoreConfig{Type: "remote"}, "store.remote.url"},
		{"unknown", StoreConfig{Type: "redis"}, "invalid store type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestResilienceConfig(t *testing.T) {
	cfg := ResilienceConfig{MaxRetries: 5}
	cfg.ApplyDefaults()
	assert.Equal(t, 5, cfg.CircuitThreshold, "threshold follows max retries")
	assert.NoError(t, cfg.Validate())

	cfg.MaxRetries = -1
	assert.Error(t, cfg.Validate())

	cfg = DefaultResilienceConfig()
	cfg.ProbeInterval = -time.Second
	assert.Error(t, cfg.Validate())
}

func TestMirrorConfig(t *testing.T) {
	cfg := MirrorConfig{Backend: MirrorSQLite}
	cfg.ApplyDefaults()
	assert.Equal(t, "data/mirror.sqlite", cfg.Path)
	assert.NoError(t, cfg.Validate())

	cfg = MirrorConfig{Backend: MirrorMemory}
	cfg.ApplyDefaults()
	cfg.ResolvePaths("config")
	assert.Empty(t, cfg.Path)
	assert.NoError(t, cfg.Validate())

	cfg = MirrorConfig{Backend: "leveldb", Path: "x"}
	assert.ErrorContains(t, cfg.Validate(), "invalid mirror backend")
}

func TestEventsConfig_Validate(t *testing.T) {
	cfg := DefaultEventsConfig()
	assert.NoError(t, cfg.Validate())

	cfg.Prefix = "biz.*"
	assert.Error(t, cfg.Validate())

	cfg = EventsConfig{Backend: "kafka"}
	assert.ErrorContains(t, cfg.Validate(), "invalid events backend")

	cfg = EventsConfig{Backend: EventsNATS}
	assert.ErrorContains(t, cfg.Validate(), "nats_url")
}

func TestEntitiesConfig(t *testing.T) {
	cfg := EntitiesConfig{"payslips": {}}
	cfg.ApplyDefaults()
	assert.Equal(t, EntityConfig{Collection: "payslips", Strategy: StrategyFetch}, cfg["payslips"])
	assert.NoError(t, cfg.Validate())

	cfg = EntitiesConfig{"x": {Collection: "x", Strategy: StrategyLive, Mirror: true}}
	assert.ErrorContains(t, cfg.Validate(), "mirror is only supported")

	cfg = EntitiesConfig{"x": {Collection: "x", Strategy: "poll"}}
	assert.ErrorContains(t, cfg.Validate(), "invalid strategy")

	cfg = EntitiesConfig{"x": {Collection: "", Strategy: StrategyFetch}}
	assert.Error(t, cfg.Validate())

	empty := EntitiesConfig{}
	empty.ApplyDefaults()
	assert.Len(t, empty, 4)
}
