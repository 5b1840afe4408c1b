// Package buffer implements the fast-tier slice buffer: segment-granular,
// append-log-backed, per-block coalescing storage that hands off whole
// (partially covered) blocks to an eviction policy.
package buffer

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/lokyinzhao/stripe-update-go/ec"
	"github.com/lokyinzhao/stripe-update-go/errkit"
	"github.com/lokyinzhao/stripe-update-go/internal/logging"
	"github.com/lokyinzhao/stripe-update-go/storage"
	"github.com/lokyinzhao/stripe-update-go/storage/evict"
)

// SegSize is the fixed segment granularity of the slice buffer: all pushes
// must be aligned to it in both offset and length.
const SegSize = 4096

var log = logging.For("buffer")

const component = "buffer"

// BufferEviction is the payload produced when a block is evicted from the
// buffer: the reassembled partial block plus the id it belongs to.
type BufferEviction struct {
	ID      evict.BlockID
	Partial *ec.PartialBlock
}

// segRecord is one block's in-memory segment index: seg_id -> position of
// that segment's content in the block's append log, in units of SegSize
// records.
type segRecord map[int]int

// SliceBuffer accepts segment-aligned slice writes, coalesces them per
// block in an append-only on-device log, and evicts whole blocks (in
// terms of coverage bookkeeping) according to an injected eviction Policy.
type SliceBuffer struct {
	root      string
	blockSize int
	policy    evict.Policy
	logs      map[evict.BlockID]*os.File
	segIdx    map[evict.BlockID]segRecord
}

// NewSliceBuffer opens a slice buffer rooted at dir, backed by policy. dir
// must already exist and should be purged of stale logs by the caller on a
// clean restart (see CleanupDev).
func NewSliceBuffer(dir string, blockSize int, policy evict.Policy) (*SliceBuffer, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, errkit.Wrap(errkit.IO, component, "slice buffer root does not exist", err)
	}
	if !info.IsDir() {
		return nil, errkit.New(errkit.InvalidArg, component, "slice buffer root is not a directory")
	}
	return &SliceBuffer{
		root:      dir,
		blockSize: blockSize,
		policy:    policy,
		logs:      make(map[evict.BlockID]*os.File),
		segIdx:    make(map[evict.BlockID]segRecord),
	}, nil
}

func (b *SliceBuffer) logPath(id evict.BlockID) string {
	hex := fmt.Sprintf("%016X", uint64(id))
	return filepath.Join(b.root, hex[:2], hex[2:]+".seglog")
}

func (b *SliceBuffer) segmentsInBlock() int { return b.blockSize / SegSize }

// PushSlice writes bytes at offset into block id's segment log, appending
// new segments and overwriting previously-seen ones in place, then informs
// the eviction policy of the newly covered range. If the policy evicts an
// entry as a result, the eviction is materialized and returned.
//
// Precondition: offset and len(data) are both multiples of SegSize.
func (b *SliceBuffer) PushSlice(id evict.BlockID, offset int, data []byte) (*BufferEviction, error) {
	if offset%SegSize != 0 || len(data)%SegSize != 0 {
		return nil, errkit.New(errkit.Range, component, "push_slice requires segment-aligned offset and length")
	}
	if offset < 0 || offset+len(data) > b.blockSize {
		return nil, errkit.New(errkit.Range, component, "push_slice out of block bounds")
	}

	f, err := b.logFile(id)
	if err != nil {
		return nil, err
	}
	idx, ok := b.segIdx[id]
	if !ok {
		idx = make(segRecord)
		b.segIdx[id] = idx
	}

	nSegs := len(data) / SegSize
	firstSeg := offset / SegSize
	for i := 0; i < nSegs; i++ {
		seg := firstSeg + i
		chunk := data[i*SegSize : (i+1)*SegSize]
		if recIdx, present := idx[seg]; present {
			if _, err := f.WriteAt(chunk, int64(recIdx)*SegSize); err != nil {
				return nil, errkit.Wrap(errkit.IO, component, "overwriting segment record", err)
			}
		} else {
			recIdx = len(idx)
			if _, err := f.WriteAt(chunk, int64(recIdx)*SegSize); err != nil {
				return nil, errkit.Wrap(errkit.IO, component, "appending segment record", err)
			}
			idx[seg] = recIdx
		}
	}

	evictedID, evictedRanges, didEvict := b.policy.Push(id, storage.Range{Pos: offset, Size: len(data)})
	if !didEvict {
		return nil, nil
	}
	return b.materialize(evictedID, evictedRanges)
}

func (b *SliceBuffer) logFile(id evict.BlockID) (*os.File, error) {
	if f, ok := b.logs[id]; ok {
		return f, nil
	}
	path := b.logPath(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errkit.Wrap(errkit.IO, component, "creating slice buffer directory", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errkit.Wrap(errkit.IO, component, "opening segment log", err)
	}
	b.logs[id] = f
	return f, nil
}

// materialize reads every recorded segment of id's log (in record order),
// reassembles a PartialBlock in segment-id order, deletes the on-device log
// and drops the in-memory index, and returns the resulting BufferEviction.
func (b *SliceBuffer) materialize(id evict.BlockID, ranges *storage.RangeSet) (*BufferEviction, error) {
	idx := b.segIdx[id]
	f := b.logs[id]

	segContent := make(map[int][]byte, len(idx))
	for seg, recIdx := range idx {
		buf := make([]byte, SegSize)
		if _, err := f.ReadAt(buf, int64(recIdx)*SegSize); err != nil {
			return nil, errkit.Wrap(errkit.IO, component, "reading segment record during eviction", err)
		}
		segContent[seg] = buf
	}

	total := b.segmentsInBlock()
	slices := make([]ec.SliceOpt, 0, total)
	run := 0
	flushAbsent := func() {
		if run > 0 {
			slices = append(slices, ec.SliceOpt{Present: false, AbsentLen: run * SegSize})
			run = 0
		}
	}
	for seg := 0; seg < total; seg++ {
		if content, ok := segContent[seg]; ok {
			flushAbsent()
			slices = append(slices, ec.SliceOpt{Present: true, Data: content})
		} else {
			run++
		}
	}
	flushAbsent()

	path := b.logPath(id)
	if err := f.Close(); err != nil {
		log.WithError(err).WithField("block_id", id).Warn("failed to close segment log cleanly")
	}
	delete(b.logs, id)
	delete(b.segIdx, id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.WithError(err).WithField("block_id", id).Warn("failed to remove segment log on eviction")
	}

	return &BufferEviction{ID: id, Partial: &ec.PartialBlock{Slices: slices}}, nil
}

// Pop materializes and returns one entry per the policy's own order (e.g.
// insertion order for NonEvict, LRU order for LRU), or nil if the buffer is empty.
// Used to drain the buffer at shutdown.
func (b *SliceBuffer) Pop() (*BufferEviction, error) {
	id, ranges, ok := b.policy.PopFirst()
	if !ok {
		return nil, nil
	}
	return b.materialize(id, ranges)
}

// PopOne materializes and returns the entry for a specific block, or nil if
// that block has no buffered updates.
func (b *SliceBuffer) PopOne(id evict.BlockID) (*BufferEviction, error) {
	ranges, ok := b.policy.PopWithID(id)
	if !ok {
		return nil, nil
	}
	return b.materialize(id, ranges)
}

// Len reports the policy's current accumulated-modification length.
func (b *SliceBuffer) Len() int { return b.policy.Len() }

// CleanupDev removes every on-device log under the buffer's root,
// best-effort. Call at startup (to purge logs left behind by an abnormal
// prior termination) and at clean shutdown.
func (b *SliceBuffer) CleanupDev() {
	for id, f := range b.logs {
		if err := f.Close(); err != nil {
			log.WithError(err).WithField("block_id", id).Warn("failed to close segment log during cleanup")
		}
	}
	b.logs = make(map[evict.BlockID]*os.File)
	b.segIdx = make(map[evict.BlockID]segRecord)

	entries, err := os.ReadDir(b.root)
	if err != nil {
		log.WithError(err).Warn("failed to list slice buffer root during cleanup")
		return
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(b.root, e.Name())); err != nil {
			log.WithError(err).Warn("failed to remove slice buffer entry during cleanup")
		}
	}
}
