package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_SetAndGet(t *testing.T) {
	mc, err := NewMemoryCache(16, time.Second)
	require.NoError(t, err)
	defer mc.Close()

	mc.Set("k", []byte("v"), time.Second)

	data, ok := mc.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), data)
}

func TestMemoryCache_GetNotFound(t *testing.T) {
	mc, err := NewMemoryCache(16, time.Second)
	require.NoError(t, err)
	defer mc.Close()

	_, ok := mc.Get("missing")
	assert.False(t, ok)
}

func TestMemoryCache_Expiration(t *testing.T) {
	mc, err := NewMemoryCache(16, time.Second)
	require.NoError(t, err)
	defer mc.Close()

	mc.Set("k", []byte("v"), 50*time.Millisecond)
	time.Sleep(80 * time.Millisecond)

	_, ok := mc.Get("k")
	assert.False(t, ok)
}

func TestMemoryCache_EvictsAtCapacity(t *testing.T) {
	mc, err := NewMemoryCache(2, time.Second)
	require.NoError(t, err)
	defer mc.Close()

	mc.Set("a", []byte("1"), time.Second)
	mc.Set("b", []byte("2"), time.Second)
	mc.Set("c", []byte("3"), time.Second)

	_, okA := mc.Get("a")
	_, okC := mc.Get("c")
	assert.False(t, okA)
	assert.True(t, okC)
}

func TestMemoryCache_CloseIsIdempotent(t *testing.T) {
	mc, err := NewMemoryCache(16, time.Second)
	require.NoError(t, err)
	mc.Close()
	mc.Close()
}

func TestNoopCache(t *testing.T) {
	nc := NewNoopCache()
	nc.Set("k", []byte("v"), time.Second)
	_, ok := nc.Get("k")
	assert.False(t, ok)
	nc.Close()
}
