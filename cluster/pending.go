package cluster

import (
	"sync"

	"github.com/lokyinzhao/stripe-update-go/buffer"
	"github.com/lokyinzhao/stripe-update-go/storage"
)

// pendingBytes mirrors, purely in memory, the new byte content the
// coordinator has already dispatched to workers via BufferUpdateData. The
// coordinator is the one place in the cluster topology that originates
// those bytes, so rather than asking a worker to hand them back during the
// eviction dance it keeps its own segment-granular copy and consumes it
// once the corresponding stripe is evicted. This carries no durability
// guarantee, which is fine: buffered updates are already lost on crash.
type pendingBytes struct {
	mu   sync.Mutex
	segs map[storage.BlockID]map[int][]byte
}

func newPendingBytes() *pendingBytes {
	return &pendingBytes{segs: make(map[storage.BlockID]map[int][]byte)}
}

// push records the segments covered by [offset, offset+len(data)), which
// must be segment-aligned (the same precondition SliceBuffer.PushSlice
// enforces).
func (p *pendingBytes) push(id storage.BlockID, offset int, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.segs[id]
	if !ok {
		m = make(map[int][]byte)
		p.segs[id] = m
	}
	for i := 0; i*buffer.SegSize < len(data); i++ {
		seg := offset/buffer.SegSize + i
		chunk := data[i*buffer.SegSize : (i+1)*buffer.SegSize]
		cp := append([]byte(nil), chunk...)
		m[seg] = cp
	}
}

// take concatenates and removes every recorded segment inside r (which
// must be fully covered by previously pushed segments) for id.
func (p *pendingBytes) take(id storage.BlockID, r storage.Range) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	m := p.segs[id]
	out := make([]byte, 0, r.Size)
	firstSeg := r.Pos / buffer.SegSize
	nSegs := r.Size / buffer.SegSize
	for i := 0; i < nSegs; i++ {
		seg := firstSeg + i
		out = append(out, m[seg]...)
		delete(m, seg)
	}
	if len(m) == 0 {
		delete(p.segs, id)
	}
	return out
}
