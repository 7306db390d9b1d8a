package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func TestJSONCache_SetGetDel(t *testing.T) {
	c := NewJSONCache(0, 0)

	var item testItem
	assert.False(t, c.Get("item", "1", &item))

	c.Set("item", "1", testItem{ID: "1", Name: "one"})
	require.True(t, c.Get("item", "1", &item))
	assert.Equal(t, testItem{ID: "1", Name: "one"}, item)
	assert.Equal(t, int64(1), c.EntryCount())

	// same id, different kind
	var other testItem
	assert.False(t, c.Get("other", "1", &other))

	c.Del("item", "1")
	assert.False(t, c.Get("item", "1", &item))
	assert.Equal(t, int64(0), c.EntryCount())
}

func TestJSONCache_BadValue(t *testing.T) {
	c := NewJSONCache(DefaultSizeBytes, time.Minute)
	c.Set("item", "1", "not an object")

	var item testItem
	assert.False(t, c.Get("item", "1", &item))
	// undecodable entries are dropped
	assert.Equal(t, int64(0), c.EntryCount())
}

func TestJSONCache_Clear(t *testing.T) {
	c := NewJSONCache(DefaultSizeBytes, time.Minute)
	c.Set("item", "1", testItem{ID: "1"})
	c.Set("item", "2", testItem{ID: "2"})
	require.Equal(t, int64(2), c.EntryCount())

	c.Clear()
	assert.Equal(t, int64(0), c.EntryCount())
}
