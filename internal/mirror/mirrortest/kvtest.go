// Package mirrortest holds the conformance tests every mirror.KV must pass.
package mirrortest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/bizdata/internal/mirror"
	"github.com/syntrixbase/bizdata/pkg/model"
)

// RunKV exercises a KV created by newKV. Each subtest gets a fresh KV.
func RunKV(t *testing.T, newKV func(t *testing.T) mirror.KV) {
	t.Run("get missing", func(t *testing.T) {
		kv := newKV(t)
		defer kv.Close()
		_, ok, err := kv.Get("nothing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("set get overwrite delete", func(t *testing.T) {
		kv := newKV(t)
		defer kv.Close()

		require.NoError(t, kv.Set("k", "v1"))
		v, ok, err := kv.Get("k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "v1", v)

		require.NoError(t, kv.Set("k", "v2"))
		v, _, _ = kv.Get("k")
		assert.Equal(t, "v2", v)

		require.NoError(t, kv.Delete("k"))
		require.NoError(t, kv.Delete("k"))
		_, ok, err = kv.Get("k")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("empty value is present", func(t *testing.T) {
		kv := newKV(t)
		defer kv.Close()
		require.NoError(t, kv.Set("k", ""))
		v, ok, err := kv.Get("k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "", v)
	})

	t.Run("mirror layout", func(t *testing.T) {
		kv := newKV(t)
		defer kv.Close()

		m := mirror.New(kv, "departments", mirror.Options{})
		require.NoError(t, m.Apply(mirror.ActionCreate, "d1", model.Document{"name": "RH"}))
		_, err := m.Enqueue(mirror.ActionCreate, "d1", model.Document{"name": "RH"})
		require.NoError(t, err)

		for _, key := range []string{"departments_data", "departments_last_update", "departments_pending"} {
			_, ok, err := kv.Get(key)
			require.NoError(t, err)
			assert.True(t, ok, key)
		}

		docs, ok, err := m.Load()
		require.NoError(t, err)
		assert.True(t, ok)
		require.Len(t, docs, 1)
		assert.Equal(t, "RH", docs[0]["name"])
	})

	t.Run("closed", func(t *testing.T) {
		kv := newKV(t)
		require.NoError(t, kv.Close())
		_, _, err := kv.Get("k")
		assert.ErrorIs(t, err, mirror.ErrClosed)
		assert.ErrorIs(t, kv.Set("k", "v"), mirror.ErrClosed)
	})
}
