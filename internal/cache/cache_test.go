package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/bizdata/pkg/model"
)

func TestCollection_SetGetExpire(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c := New(Config{TTL: time.Minute, now: func() time.Time { return now }})

	_, ok := c.Get()
	assert.False(t, ok)

	c.Set([]model.Document{{"id": "1", "name": "Alice"}})
	docs, ok := c.Get()
	require.True(t, ok)
	assert.Len(t, docs, 1)
	assert.Equal(t, now, c.StoredAt())

	now = now.Add(59 * time.Second)
	_, ok = c.Get()
	assert.True(t, ok)

	now = now.Add(time.Second)
	_, ok = c.Get()
	assert.False(t, ok)
}

func TestCollection_CopiesOnReadAndWrite(t *testing.T) {
	c := New(Config{})
	src := []model.Document{{"id": "1", "name": "Alice"}}
	c.Set(src)

	src[0]["name"] = "Mallory"
	docs, ok := c.Get()
	require.True(t, ok)
	assert.Equal(t, "Alice", docs[0]["name"])

	docs[0]["name"] = "Eve"
	again, _ := c.Get()
	assert.Equal(t, "Alice", again[0]["name"])
}

func TestCollection_Invalidate(t *testing.T) {
	c := New(Config{})
	c.Set([]model.Document{{"id": "1"}})
	c.Invalidate()

	_, ok := c.Get()
	assert.False(t, ok)
	assert.True(t, c.StoredAt().IsZero())
}

func TestCollection_EmptySetIsFresh(t *testing.T) {
	c := New(Config{})
	c.Set(nil)
	docs, ok := c.Get()
	assert.True(t, ok)
	assert.Empty(t, docs)
	assert.Equal(t, DefaultTTL, c.TTL())
}
