package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSDStoragePutGet(t *testing.T) {
	durable := newTestStore(t)
	ssd, err := NewSSDStorage(durable, testBlockSize, 4)
	require.NoError(t, err)

	data := randBlock(t, 10)
	require.NoError(t, ssd.PutBlock(1, data))

	got, ok, err := ssd.GetBlock(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, data, got)

	// Not yet flushed: the durable tier has nothing.
	ok, err = durable.GetBlock(1, make([]byte, testBlockSize))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSSDStorageReadThrough(t *testing.T) {
	durable := newTestStore(t)
	ssd, err := NewSSDStorage(durable, testBlockSize, 4)
	require.NoError(t, err)

	data := randBlock(t, 11)
	require.NoError(t, durable.PutBlock(8, data))

	got, ok, err := ssd.GetBlock(8)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, data, got)

	_, ok, err = ssd.GetBlock(9)
	require.NoError(t, err)
	assert.False(t, ok, "absent in both tiers")
}

func TestSSDStorageEvictionFlushesToDurable(t *testing.T) {
	durable := newTestStore(t)
	ssd, err := NewSSDStorage(durable, testBlockSize, 2)
	require.NoError(t, err)

	blocks := map[BlockID][]byte{}
	for id := BlockID(0); id < 3; id++ {
		blocks[id] = randBlock(t, int64(20+id))
		require.NoError(t, ssd.PutBlock(id, blocks[id]))
	}

	// Capacity 2, three puts: block 0 was least recently used and must have
	// been written back to the durable tier on overflow.
	got := make([]byte, testBlockSize)
	ok, err := durable.GetBlock(0, got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, blocks[0], got)
}

func TestSSDStorageFlush(t *testing.T) {
	durable := newTestStore(t)
	ssd, err := NewSSDStorage(durable, testBlockSize, 8)
	require.NoError(t, err)

	blocks := map[BlockID][]byte{}
	for id := BlockID(0); id < 5; id++ {
		blocks[id] = randBlock(t, int64(30+id))
		require.NoError(t, ssd.PutBlock(id, blocks[id]))
	}
	require.NoError(t, ssd.Flush())

	for id, want := range blocks {
		got := make([]byte, testBlockSize)
		ok, err := durable.GetBlock(id, got)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestSSDStorageSizeMismatch(t *testing.T) {
	ssd, err := NewSSDStorage(newTestStore(t), testBlockSize, 2)
	require.NoError(t, err)
	assert.Error(t, ssd.PutBlock(0, make([]byte, 17)))
}
