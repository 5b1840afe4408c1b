package evict

import (
	"container/list"

	"github.com/lokyinzhao/stripe-update-go/storage"
)

// LRU evicts the least-recently-used block once total accumulated
// modification exceeds capacity. Push refreshes recency for the updated
// key, matching the reference lru_evict semantics.
//
// Unlike MostModifiedBlock/MostModifiedStripe this needs no priority
// comparison beyond recency, so it is built directly on container/list
// rather than deheap.
type LRU struct {
	capacity int
	length   int
	order    *list.List // front = most recently used
	elems    map[BlockID]*list.Element
}

type lruEntry struct {
	id     BlockID
	ranges *storage.RangeSet
}

// NewLRU builds an empty policy bounded to capacity bytes.
func NewLRU(capacity int) *LRU {
	return &LRU{capacity: capacity, order: list.New(), elems: make(map[BlockID]*list.Element)}
}

func (p *LRU) Len() int      { return p.length }
func (p *LRU) Capacity() int { return p.capacity }

func (p *LRU) Contains(id BlockID) bool {
	_, ok := p.elems[id]
	return ok
}

func (p *LRU) Get(id BlockID) (*storage.RangeSet, bool) {
	e, ok := p.elems[id]
	if !ok {
		return nil, false
	}
	return e.Value.(*lruEntry).ranges, true
}

func (p *LRU) Push(id BlockID, r storage.Range) (BlockID, *storage.RangeSet, bool) {
	var entry *lruEntry
	if e, ok := p.elems[id]; ok {
		entry = e.Value.(*lruEntry)
		p.order.MoveToFront(e)
	} else {
		entry = &lruEntry{id: id, ranges: &storage.RangeSet{}}
		p.elems[id] = p.order.PushFront(entry)
	}
	inc := entry.ranges.Insert(r)
	p.length += sumWidth(inc)

	if p.length <= p.capacity {
		return 0, nil, false
	}
	back := p.order.Back()
	evicted := back.Value.(*lruEntry)
	p.order.Remove(back)
	delete(p.elems, evicted.id)
	p.length -= evicted.ranges.Len()
	return evicted.id, evicted.ranges, true
}

func (p *LRU) PopFirst() (BlockID, *storage.RangeSet, bool) {
	back := p.order.Back()
	if back == nil {
		return 0, nil, false
	}
	e := back.Value.(*lruEntry)
	p.order.Remove(back)
	delete(p.elems, e.id)
	p.length -= e.ranges.Len()
	return e.id, e.ranges, true
}

func (p *LRU) PopWithID(id BlockID) (*storage.RangeSet, bool) {
	e, ok := p.elems[id]
	if !ok {
		return nil, false
	}
	entry := e.Value.(*lruEntry)
	p.order.Remove(e)
	delete(p.elems, id)
	p.length -= entry.ranges.Len()
	return entry.ranges, true
}
