package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		QueryTTL:  50 * time.Millisecond,
		VectorTTL: 50 * time.Millisecond,
		GraphTTL:  50 * time.Millisecond,
		EntityTTL: 50 * time.Millisecond,
	}
}

func TestCache_SetとGet(t *testing.T) {
	c := New(testConfig())

	c.Set(NamespaceQuery, "k1", "answer")

	value, found := c.Get(NamespaceQuery, "k1")
	require.True(t, found)
	assert.Equal(t, "answer", value)
}

func TestCache_期限切れはミスになる(t *testing.T) {
	c := New(testConfig())

	c.SetWithTTL(NamespaceVector, "k1", "v", 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	_, found := c.Get(NamespaceVector, "k1")
	assert.False(t, found)
}

func TestCache_名前空間は独立している(t *testing.T) {
	c := New(testConfig())

	c.Set(NamespaceQuery, "k1", "query-value")
	c.Set(NamespaceGraph, "k1", "graph-value")

	qv, found := c.Get(NamespaceQuery, "k1")
	require.True(t, found)
	assert.Equal(t, "query-value", qv)

	gv, found := c.Get(NamespaceGraph, "k1")
	require.True(t, found)
	assert.Equal(t, "graph-value", gv)

	_, found = c.Get(NamespaceEntity, "k1")
	assert.False(t, found)
}

func TestCache_同じキーへの書き込みは置き換える(t *testing.T) {
	c := New(testConfig())

	c.Set(NamespaceEntity, "k1", "old")
	c.Set(NamespaceEntity, "k1", "new")

	value, found := c.Get(NamespaceEntity, "k1")
	require.True(t, found)
	assert.Equal(t, "new", value)
}

func TestCache_InvalidateAllで全名前空間が空になる(t *testing.T) {
	c := New(testConfig())

	c.Set(NamespaceQuery, "k1", "v")
	c.Set(NamespaceVector, "k2", "v")
	c.Set(NamespaceGraph, "k3", "v")
	c.Set(NamespaceEntity, "k4", "v")

	c.InvalidateAll()

	for _, ns := range []Namespace{NamespaceQuery, NamespaceVector, NamespaceGraph, NamespaceEntity} {
		_, found := c.Get(ns, "k1")
		assert.False(t, found)
	}
}

func TestCache_統計がヒットとミスを数える(t *testing.T) {
	c := New(testConfig())

	c.Set(NamespaceQuery, "k1", "v")

	c.Get(NamespaceQuery, "k1") // hit
	c.Get(NamespaceQuery, "k1") // hit
	c.Get(NamespaceQuery, "nope") // miss

	stats := c.Stats()
	assert.Equal(t, int64(2), stats[NamespaceQuery].Hits)
	assert.Equal(t, int64(1), stats[NamespaceQuery].Misses)
	assert.Equal(t, 1, stats[NamespaceQuery].Size)
}

func TestNormalizeQueryKey_空白と大文字小文字を無視する(t *testing.T) {
	k1 := NormalizeQueryKey("What is  my   blood type?")
	k2 := NormalizeQueryKey("what is my blood type?")

	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 32)

	k3 := NormalizeQueryKey("different question")
	assert.NotEqual(t, k1, k3)
}
