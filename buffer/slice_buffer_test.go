package buffer

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokyinzhao/stripe-update-go/ec"
	"github.com/lokyinzhao/stripe-update-go/errkit"
	"github.com/lokyinzhao/stripe-update-go/storage/evict"
)

const testBlockSize = 4 * SegSize

func newTestBuffer(t *testing.T, policy evict.Policy) (*SliceBuffer, string) {
	t.Helper()
	dir := t.TempDir()
	b, err := NewSliceBuffer(dir, testBlockSize, policy)
	require.NoError(t, err)
	return b, dir
}

func seg(t *testing.T, seed int64) []byte {
	t.Helper()
	data := make([]byte, SegSize)
	rand.New(rand.NewSource(seed)).Read(data)
	return data
}

// presentCoverage flattens a PartialBlock into (offset, data) pairs.
func presentCoverage(pb *ec.PartialBlock) map[int][]byte {
	out := make(map[int][]byte)
	off := 0
	for _, s := range pb.Slices {
		if s.Present {
			out[off] = s.Data
			off += len(s.Data)
		} else {
			off += s.AbsentLen
		}
	}
	return out
}

func TestPushSliceAlignment(t *testing.T) {
	b, _ := newTestBuffer(t, evict.NewNonEvict())
	defer b.CleanupDev()

	_, err := b.PushSlice(1, 3, make([]byte, SegSize))
	assert.True(t, errors.Is(err, errkit.ErrRange), "misaligned offset")

	_, err = b.PushSlice(1, 0, make([]byte, SegSize-1))
	assert.True(t, errors.Is(err, errkit.ErrRange), "misaligned length")

	_, err = b.PushSlice(1, testBlockSize, make([]byte, SegSize))
	assert.True(t, errors.Is(err, errkit.ErrRange), "out of block bounds")
}

func TestPopOneCoversPushedRanges(t *testing.T) {
	b, _ := newTestBuffer(t, evict.NewNonEvict())
	defer b.CleanupDev()

	seg0 := seg(t, 1)
	seg2 := seg(t, 2)
	ev1, err := b.PushSlice(5, 0, seg0)
	require.NoError(t, err)
	assert.Nil(t, ev1)
	_, err = b.PushSlice(5, 2*SegSize, seg2)
	require.NoError(t, err)

	ev, err := b.PopOne(5)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, evict.BlockID(5), ev.ID)
	assert.Equal(t, testBlockSize, ev.Partial.Size())

	cov := presentCoverage(ev.Partial)
	require.Len(t, cov, 2)
	assert.Equal(t, seg0, cov[0])
	assert.Equal(t, seg2, cov[2*SegSize])

	// Eviction is destructive.
	again, err := b.PopOne(5)
	require.NoError(t, err)
	assert.Nil(t, again)
	assert.Equal(t, 0, b.Len())
}

func TestPushSliceOverwriteKeepsLatest(t *testing.T) {
	b, _ := newTestBuffer(t, evict.NewNonEvict())
	defer b.CleanupDev()

	// Write segment 1, then segment 0, then overwrite segment 1: record
	// order in the log differs from segment order, and the overwrite must
	// land in place rather than append.
	first := seg(t, 3)
	second := seg(t, 4)
	newer := seg(t, 5)
	_, err := b.PushSlice(9, SegSize, first)
	require.NoError(t, err)
	_, err = b.PushSlice(9, 0, second)
	require.NoError(t, err)
	_, err = b.PushSlice(9, SegSize, newer)
	require.NoError(t, err)

	ev, err := b.PopOne(9)
	require.NoError(t, err)
	require.NotNil(t, ev)
	cov := presentCoverage(ev.Partial)
	require.Len(t, cov, 2)
	assert.Equal(t, second, cov[0])
	assert.Equal(t, newer, cov[SegSize])
}

func TestMultiSegmentPush(t *testing.T) {
	b, _ := newTestBuffer(t, evict.NewNonEvict())
	defer b.CleanupDev()

	data := make([]byte, 2*SegSize)
	rand.New(rand.NewSource(6)).Read(data)
	_, err := b.PushSlice(2, SegSize, data)
	require.NoError(t, err)
	assert.Equal(t, 2*SegSize, b.Len())

	ev, err := b.PopOne(2)
	require.NoError(t, err)
	cov := presentCoverage(ev.Partial)
	require.Len(t, cov, 2)
	assert.Equal(t, data[:SegSize], cov[SegSize])
	assert.Equal(t, data[SegSize:], cov[2*SegSize])
}

func TestCapacityDrivenEviction(t *testing.T) {
	// Capacity of one segment: the second block's push must evict the
	// widest entry.
	b, dir := newTestBuffer(t, evict.NewMostModifiedBlock(SegSize))
	defer b.CleanupDev()

	data := seg(t, 7)
	ev, err := b.PushSlice(1, 0, data)
	require.NoError(t, err)
	assert.Nil(t, ev)

	ev, err = b.PushSlice(2, 0, seg(t, 8))
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, testBlockSize, ev.Partial.Size())

	// The evicted block's on-device log is gone.
	entries := 0
	require.NoError(t, filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			entries++
		}
		return nil
	}))
	assert.Equal(t, 1, entries, "only the still-buffered block keeps a log")
}

func TestPopDrainsEverything(t *testing.T) {
	b, _ := newTestBuffer(t, evict.NewNonEvict())
	defer b.CleanupDev()

	for id := evict.BlockID(0); id < 5; id++ {
		_, err := b.PushSlice(id, 0, seg(t, int64(10+id)))
		require.NoError(t, err)
	}

	seen := make(map[evict.BlockID]bool)
	for {
		ev, err := b.Pop()
		require.NoError(t, err)
		if ev == nil {
			break
		}
		require.False(t, seen[ev.ID])
		seen[ev.ID] = true
	}
	assert.Len(t, seen, 5)
}

func TestCleanupDevEmptiesRoot(t *testing.T) {
	b, dir := newTestBuffer(t, evict.NewNonEvict())
	for id := evict.BlockID(0); id < 3; id++ {
		_, err := b.PushSlice(id, 0, seg(t, int64(20+id)))
		require.NoError(t, err)
	}
	b.CleanupDev()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestNewSliceBufferMissingRoot(t *testing.T) {
	_, err := NewSliceBuffer("/nonexistent/stripe-update-buffer", testBlockSize, evict.NewNonEvict())
	assert.Error(t, err)
}
