package evict

import (
	"github.com/aalpar/deheap"

	"github.com/lokyinzhao/stripe-update-go/storage"
)

// blockPrio is one heap element: a block id plus a snapshot of its
// range-set width at push time. Entries are never updated in place —
// re-pushing a key leaves stale snapshots behind, and pops discard any
// entry whose snapshot no longer matches the live width (lazy deletion).
type blockPrio struct {
	id    BlockID
	width int
}

// blockHeap orders by width; deheap's PopMax side yields the widest entry.
type blockHeap []blockPrio

func (h blockHeap) Len() int           { return len(h) }
func (h blockHeap) Less(i, j int) bool { return h[i].width < h[j].width }
func (h blockHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *blockHeap) Push(x interface{}) {
	*h = append(*h, x.(blockPrio))
}
func (h *blockHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// MostModifiedBlock evicts the block with the largest accumulated
// modification range-set.
type MostModifiedBlock struct {
	capacity int
	length   int
	heap     blockHeap
	byID     map[BlockID]*storage.RangeSet
}

// NewMostModifiedBlock builds an empty policy bounded to capacity bytes of
// accumulated modification.
func NewMostModifiedBlock(capacity int) *MostModifiedBlock {
	return &MostModifiedBlock{
		capacity: capacity,
		byID:     make(map[BlockID]*storage.RangeSet),
	}
}

func (p *MostModifiedBlock) Len() int      { return p.length }
func (p *MostModifiedBlock) Capacity() int { return p.capacity }

func (p *MostModifiedBlock) Contains(id BlockID) bool {
	_, ok := p.byID[id]
	return ok
}

func (p *MostModifiedBlock) Get(id BlockID) (*storage.RangeSet, bool) {
	rs, ok := p.byID[id]
	return rs, ok
}

func (p *MostModifiedBlock) Push(id BlockID, r storage.Range) (BlockID, *storage.RangeSet, bool) {
	rs, ok := p.byID[id]
	if !ok {
		rs = &storage.RangeSet{}
		p.byID[id] = rs
	}
	inc := rs.Insert(r)
	added := sumWidth(inc)
	p.length += added
	if added > 0 || !ok {
		deheap.Push(&p.heap, blockPrio{id: id, width: rs.Len()})
	}

	if p.length <= p.capacity {
		return 0, nil, false
	}
	id, rs, ok = p.popMax()
	if !ok {
		return 0, nil, false
	}
	return id, rs, true
}

// popMax pops heap entries until one matches the live width of a present
// key; stale snapshots left behind by re-pushes are discarded on the way.
func (p *MostModifiedBlock) popMax() (BlockID, *storage.RangeSet, bool) {
	for len(p.heap) > 0 {
		e := deheap.PopMax(&p.heap).(blockPrio)
		rs, ok := p.byID[e.id]
		if !ok || rs.Len() != e.width {
			continue
		}
		delete(p.byID, e.id)
		p.length -= rs.Len()
		return e.id, rs, true
	}
	return 0, nil, false
}

func (p *MostModifiedBlock) PopFirst() (BlockID, *storage.RangeSet, bool) {
	return p.popMax()
}

func (p *MostModifiedBlock) PopWithID(id BlockID) (*storage.RangeSet, bool) {
	rs, ok := p.byID[id]
	if !ok {
		return nil, false
	}
	delete(p.byID, id)
	p.length -= rs.Len()
	return rs, true
}

func sumWidth(rs []storage.Range) int {
	n := 0
	for _, r := range rs {
		n += r.Size
	}
	return n
}
