package boltkv

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/bizdata/internal/mirror"
	"github.com/syntrixbase/bizdata/internal/mirror/mirrortest"
)

func TestKV(t *testing.T) {
	mirrortest.RunKV(t, func(t *testing.T) mirror.KV {
		kv, err := Open(filepath.Join(t.TempDir(), "nested", "mirror.db"))
		require.NoError(t, err)
		return kv
	})
}

func TestKV_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.db")

	kv, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, kv.Set("employees_data", `[{"id":"e1"}]`))
	require.NoError(t, kv.Close())

	kv, err = Open(path)
	require.NoError(t, err)
	defer kv.Close()
	v, ok, err := kv.Get("employees_data")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `[{"id":"e1"}]`, v)
}
