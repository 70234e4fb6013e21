package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/bizdata/pkg/model"
)

// configDir writes a config using the memory store and a bolt mirror under
// a temp dir, so consecutive runs share only the mirror.
func configDir(t *testing.T) string {
	t.Helper()
	for _, name := range []string{"BIZDATA_STORE", "BIZDATA_MIRROR_PATH", "NATS_URL", "BIZDATA_LOG_LEVEL"} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
	dir := filepath.Join(t.TempDir(), "config")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(`
logging:
  console:
    enabled: true
    level: error
resilience:
  operation_timeout: 1s
  max_retries: 1
  backoff_base: 1ms
  reconnect_base_delay: 1ms
notify:
  throttle: 0s
`), 0644))
	return dir
}

func runCmd(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Usage(t *testing.T) {
	code, _, stderr := runCmd(t)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "Usage: bizdata")

	code, _, stderr = runCmd(t, "frobnicate")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "Unknown command: frobnicate")

	code, _, stderr = runCmd(t, "delete", "departments")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "bizdata delete <entity> <id>")

	code, stdout, _ := runCmd(t, "version")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "bizdata version dev")
}

func TestRun_InvalidStoreOverride(t *testing.T) {
	code, _, stderr := runCmd(t, "-config", configDir(t), "-store", "redis", "list", "departments")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "invalid store type")
}

func TestRun_PutListFromMirror(t *testing.T) {
	dir := configDir(t)

	code, stdout, stderr := runCmd(t, "-config", dir, "put", "departments", "d1", "name=RH", "floor=2")
	require.Equal(t, 0, code, stderr)
	assert.JSONEq(t, `{"ID":"d1","Synced":true}`, stdout)

	// Every run starts with an empty memory store; the mirror remembers.
	code, stdout, stderr = runCmd(t, "-config", dir, "list", "departments")
	require.Equal(t, 0, code, stderr)
	var docs []model.Document
	require.NoError(t, json.Unmarshal([]byte(stdout), &docs))
	require.Len(t, docs, 1)
	assert.Equal(t, "RH", docs[0]["name"])
	assert.Equal(t, float64(2), docs[0]["floor"])

	code, _, stderr = runCmd(t, "-config", dir, "list", "payslips")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "unknown entity")
}

func TestRun_SyncAndLeaves(t *testing.T) {
	dir := configDir(t)

	code, stdout, stderr := runCmd(t, "-config", dir, "sync")
	require.Equal(t, 0, code, stderr)
	assert.JSONEq(t, `{}`, stdout)

	code, stdout, stderr = runCmd(t, "-config", dir, "leaves")
	require.Equal(t, 0, code, stderr)
	assert.JSONEq(t, `[]`, stdout)

	code, stdout, stderr = runCmd(t, "-config", dir, "search", "awa")
	require.Equal(t, 0, code, stderr)
	assert.JSONEq(t, `[]`, stdout)
}

func TestRun_Watch(t *testing.T) {
	dir := configDir(t)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var stdout, stderr bytes.Buffer
	code := run(ctx, []string{"-config", dir, "watch", "leaveRequests"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	var snap struct {
		Version   uint64           `json:"version"`
		Offline   bool             `json:"offline"`
		Documents []model.Document `json:"documents"`
	}
	require.NoError(t, json.NewDecoder(&stdout).Decode(&snap))
	assert.False(t, snap.Offline)
	assert.Empty(t, snap.Documents)

	code, _, stderr2 := runCmd(t, "-config", dir, "watch", "departments")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr2, "not configured for live updates")
}

func TestParseFields(t *testing.T) {
	doc, err := parseFields([]string{"name=Awa Diallo", "active=true", "days=2.5", "tags=[\"a\"]"})
	require.NoError(t, err)
	assert.Equal(t, model.Document{
		"name":   "Awa Diallo",
		"active": true,
		"days":   2.5,
		"tags":   []any{"a"},
	}, doc)

	_, err = parseFields([]string{"=x"})
	assert.Error(t, err)
	_, err = parseFields([]string{"novalue"})
	assert.Error(t, err)
}
