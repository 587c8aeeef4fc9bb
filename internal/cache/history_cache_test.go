package cache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qachat-backend/internal/model"
)

func TestHistoryCache_PutGet(t *testing.T) {
	c, err := NewHistoryCache(4)
	require.NoError(t, err)

	messages := []model.Message{
		{ID: 1, SessionID: "s1", Role: string(model.RoleHuman), Content: "hello"},
		{ID: 2, SessionID: "s1", Role: string(model.RoleAssistant), Content: "hi"},
	}
	c.Put("s1", messages)

	got, hit := c.Get("s1")
	require.True(t, hit)
	assert.Equal(t, messages, got)

	_, hit = c.Get("unknown")
	assert.False(t, hit)
}

func TestHistoryCache_PutStoresCopy(t *testing.T) {
	c, err := NewHistoryCache(4)
	require.NoError(t, err)

	messages := []model.Message{{ID: 1, SessionID: "s1", Content: "original"}}
	c.Put("s1", messages)

	messages[0].Content = "mutated"

	got, hit := c.Get("s1")
	require.True(t, hit)
	assert.Equal(t, "original", got[0].Content)
}

func TestHistoryCache_Invalidate(t *testing.T) {
	c, err := NewHistoryCache(4)
	require.NoError(t, err)

	c.Put("s1", []model.Message{{ID: 1}})
	c.Invalidate("s1")

	_, hit := c.Get("s1")
	assert.False(t, hit)

	// Invalidating a missing key is a no-op.
	c.Invalidate("s1")
}

func TestHistoryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c, err := NewHistoryCache(2)
	require.NoError(t, err)

	c.Put("s1", []model.Message{{ID: 1}})
	c.Put("s2", []model.Message{{ID: 2}})

	// Touch s1 so s2 becomes the eviction candidate.
	_, hit := c.Get("s1")
	require.True(t, hit)

	c.Put("s3", []model.Message{{ID: 3}})

	_, hit = c.Get("s2")
	assert.False(t, hit, "least recently used entry should be evicted")
	_, hit = c.Get("s1")
	assert.True(t, hit)
	_, hit = c.Get("s3")
	assert.True(t, hit)
	assert.Equal(t, 2, c.Len())
}

func TestHistoryCache_CapacityBound(t *testing.T) {
	c, err := NewHistoryCache(10)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		c.Put(fmt.Sprintf("s%d", i), []model.Message{{ID: uint(i)}})
	}
	assert.Equal(t, 10, c.Len())
}

func TestHistoryCache_DefaultCapacity(t *testing.T) {
	c, err := NewHistoryCache(0)
	require.NoError(t, err)

	for i := 0; i < DefaultCapacity+20; i++ {
		c.Put(fmt.Sprintf("s%d", i), nil)
	}
	assert.Equal(t, DefaultCapacity, c.Len())
}
