package storage

import (
	"errors"
	"math/rand"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokyinzhao/stripe-update-go/errkit"
)

const testBlockSize = 4096

func newTestStore(t *testing.T) *BlockStore {
	t.Helper()
	bs, err := NewBlockStore(t.TempDir(), testBlockSize)
	require.NoError(t, err)
	return bs
}

func randBlock(t *testing.T, seed int64) []byte {
	t.Helper()
	data := make([]byte, testBlockSize)
	rand.New(rand.NewSource(seed)).Read(data)
	return data
}

func TestNewBlockStoreMissingRoot(t *testing.T) {
	_, err := NewBlockStore("/nonexistent/stripe-update-test", testBlockSize)
	assert.True(t, errors.Is(err, errkit.ErrIO))
}

func TestNewBlockStoreRootIsFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "not-a-dir")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	_, err = NewBlockStore(f.Name(), testBlockSize)
	assert.True(t, errors.Is(err, errkit.ErrInvalidArg))
}

func TestPutGetBlock(t *testing.T) {
	bs := newTestStore(t)
	data := randBlock(t, 1)
	require.NoError(t, bs.PutBlock(7, data))

	buf := make([]byte, testBlockSize)
	ok, err := bs.GetBlock(7, buf)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, data, buf)

	owned, ok, err := bs.GetBlockOwned(7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, data, owned)
}

func TestGetBlockAbsent(t *testing.T) {
	bs := newTestStore(t)
	buf := make([]byte, testBlockSize)
	ok, err := bs.GetBlock(42, buf)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBlockSizeMismatch(t *testing.T) {
	bs := newTestStore(t)
	err := bs.PutBlock(1, make([]byte, testBlockSize-1))
	assert.True(t, errors.Is(err, errkit.ErrRange))

	require.NoError(t, bs.PutBlock(1, randBlock(t, 2)))
	_, err = bs.GetBlock(1, make([]byte, testBlockSize+1))
	assert.True(t, errors.Is(err, errkit.ErrRange))
}

func TestPutGetSlice(t *testing.T) {
	bs := newTestStore(t)
	base := randBlock(t, 3)
	require.NoError(t, bs.PutBlock(9, base))

	patch := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	ok, err := bs.PutSlice(9, 100, patch)
	require.NoError(t, err)
	require.True(t, ok)

	got := make([]byte, 4)
	ok, err = bs.GetSlice(9, 100, got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, patch, got)

	// The rest of the block is untouched.
	full := make([]byte, testBlockSize)
	_, err = bs.GetBlock(9, full)
	require.NoError(t, err)
	assert.Equal(t, base[:100], full[:100])
	assert.Equal(t, base[104:], full[104:])
}

func TestPutSliceNeverCreates(t *testing.T) {
	bs := newTestStore(t)
	ok, err := bs.PutSlice(3, 0, []byte{1})
	require.NoError(t, err)
	assert.False(t, ok, "slice writes require a prior full block")

	ok, err = bs.GetSlice(3, 0, make([]byte, 1))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSliceBounds(t *testing.T) {
	bs := newTestStore(t)
	require.NoError(t, bs.PutBlock(5, randBlock(t, 4)))

	_, err := bs.PutSlice(5, testBlockSize-1, []byte{1, 2})
	assert.True(t, errors.Is(err, errkit.ErrRange))
	_, err = bs.PutSlice(5, -1, []byte{1})
	assert.True(t, errors.Is(err, errkit.ErrRange))
	_, err = bs.GetSlice(5, testBlockSize, make([]byte, 1))
	assert.True(t, errors.Is(err, errkit.ErrRange))
}

func TestBlockPathSplit(t *testing.T) {
	// Two different blocks must not collide, and the same id must resolve
	// to the same path every time.
	assert.Equal(t, blockPath("root", 0x1234ABCD), blockPath("root", 0x1234ABCD))
	assert.NotEqual(t, blockPath("root", 1), blockPath("root", 2))
}

func TestPurge(t *testing.T) {
	bs := newTestStore(t)
	for id := BlockID(0); id < 10; id++ {
		require.NoError(t, bs.PutBlock(id, randBlock(t, int64(id))))
	}
	require.NoError(t, bs.Purge())
	for id := BlockID(0); id < 10; id++ {
		ok, err := bs.GetBlock(id, make([]byte, testBlockSize))
		require.NoError(t, err)
		assert.False(t, ok)
	}
}
