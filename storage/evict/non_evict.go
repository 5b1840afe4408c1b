package evict

import "github.com/lokyinzhao/stripe-update-go/storage"

// NonEvict never evicts: capacity is unbounded. Used by cluster workers,
// whose per-block buffered state is flushed explicitly via PersistUpdate
// rather than capacity-driven eviction.
type NonEvict struct {
	length int
	byID   map[BlockID]*storage.RangeSet
	order  []BlockID // insertion order, for a deterministic PopFirst
}

// NewNonEvict builds an empty, unbounded policy.
func NewNonEvict() *NonEvict {
	return &NonEvict{byID: make(map[BlockID]*storage.RangeSet)}
}

func (p *NonEvict) Len() int      { return p.length }
func (p *NonEvict) Capacity() int { return int(^uint(0) >> 1) }

func (p *NonEvict) Contains(id BlockID) bool {
	_, ok := p.byID[id]
	return ok
}

func (p *NonEvict) Get(id BlockID) (*storage.RangeSet, bool) {
	rs, ok := p.byID[id]
	return rs, ok
}

func (p *NonEvict) Push(id BlockID, r storage.Range) (BlockID, *storage.RangeSet, bool) {
	rs, ok := p.byID[id]
	if !ok {
		rs = &storage.RangeSet{}
		p.byID[id] = rs
		p.order = append(p.order, id)
	}
	inc := rs.Insert(r)
	p.length += sumWidth(inc)
	return 0, nil, false
}

func (p *NonEvict) PopFirst() (BlockID, *storage.RangeSet, bool) {
	for len(p.order) > 0 {
		id := p.order[0]
		p.order = p.order[1:]
		if rs, ok := p.byID[id]; ok {
			delete(p.byID, id)
			p.length -= rs.Len()
			return id, rs, true
		}
	}
	return 0, nil, false
}

func (p *NonEvict) PopWithID(id BlockID) (*storage.RangeSet, bool) {
	rs, ok := p.byID[id]
	if !ok {
		return nil, false
	}
	delete(p.byID, id)
	p.length -= rs.Len()
	return rs, true
}
