package evict

import (
	"github.com/aalpar/deheap"

	"github.com/lokyinzhao/stripe-update-go/storage"
)

// StripeID = BlockID / m.
type StripeID = storage.BlockID

type stripeEntry struct {
	total  int
	blocks map[int]*storage.RangeSet // relative index within the stripe -> ranges
}

// stripePrio is one heap element: a stripe id plus a snapshot of its total
// width at push time. Same lazy-deletion scheme as blockHeap: pops discard
// entries whose snapshot disagrees with the live total.
type stripePrio struct {
	stripeID StripeID
	total    int
}

type stripeHeap []stripePrio

func (h stripeHeap) Len() int           { return len(h) }
func (h stripeHeap) Less(i, j int) bool { return h[i].total < h[j].total }
func (h stripeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *stripeHeap) Push(x interface{}) {
	*h = append(*h, x.(stripePrio))
}
func (h *stripeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// MostModifiedStripe evicts a single block chosen from the stripe with the
// largest total accumulated modification across its m member blocks:
// within that stripe, the block with the largest individual range-set.
type MostModifiedStripe struct {
	m        int
	capacity int
	length   int
	heap     stripeHeap
	stripes  map[StripeID]*stripeEntry
}

// NewMostModifiedStripe builds an empty policy over stripes of m blocks,
// bounded to capacity bytes of accumulated modification.
func NewMostModifiedStripe(m, capacity int) *MostModifiedStripe {
	return &MostModifiedStripe{
		m: m, capacity: capacity,
		stripes: make(map[StripeID]*stripeEntry),
	}
}

func (p *MostModifiedStripe) Len() int      { return p.length }
func (p *MostModifiedStripe) Capacity() int { return p.capacity }

func (p *MostModifiedStripe) coords(id BlockID) (StripeID, int) {
	return StripeID(int(id) / p.m), int(id) % p.m
}

func (p *MostModifiedStripe) Contains(id BlockID) bool {
	sid, rel := p.coords(id)
	se, ok := p.stripes[sid]
	if !ok {
		return false
	}
	_, ok = se.blocks[rel]
	return ok
}

func (p *MostModifiedStripe) Get(id BlockID) (*storage.RangeSet, bool) {
	sid, rel := p.coords(id)
	se, ok := p.stripes[sid]
	if !ok {
		return nil, false
	}
	rs, ok := se.blocks[rel]
	return rs, ok
}

func (p *MostModifiedStripe) Push(id BlockID, r storage.Range) (BlockID, *storage.RangeSet, bool) {
	sid, rel := p.coords(id)
	se, ok := p.stripes[sid]
	if !ok {
		se = &stripeEntry{blocks: make(map[int]*storage.RangeSet)}
		p.stripes[sid] = se
	}
	rs, ok := se.blocks[rel]
	if !ok {
		rs = &storage.RangeSet{}
		se.blocks[rel] = rs
	}
	inc := rs.Insert(r)
	width := sumWidth(inc)
	se.total += width
	p.length += width
	deheap.Push(&p.heap, stripePrio{stripeID: sid, total: se.total})

	if p.length <= p.capacity {
		return 0, nil, false
	}
	return p.popMax()
}

// popMax pops the widest live stripe off the heap, then evicts the single
// block with the largest individual range-set within it. If the stripe
// keeps other buffered blocks, a fresh snapshot with the reduced total is
// pushed so the stripe stays reachable.
func (p *MostModifiedStripe) popMax() (BlockID, *storage.RangeSet, bool) {
	for len(p.heap) > 0 {
		e := deheap.PopMax(&p.heap).(stripePrio)
		se, ok := p.stripes[e.stripeID]
		if !ok || se.total != e.total {
			continue
		}
		rel, ranges := largestBlock(se)
		id := BlockID(int(e.stripeID)*p.m + rel)
		p.dropBlock(e.stripeID, se, rel, ranges)
		return id, ranges, true
	}
	return 0, nil, false
}

func (p *MostModifiedStripe) dropBlock(sid StripeID, se *stripeEntry, rel int, ranges *storage.RangeSet) {
	delete(se.blocks, rel)
	se.total -= ranges.Len()
	p.length -= ranges.Len()
	if len(se.blocks) == 0 {
		delete(p.stripes, sid)
		return
	}
	deheap.Push(&p.heap, stripePrio{stripeID: sid, total: se.total})
}

func largestBlock(se *stripeEntry) (rel int, ranges *storage.RangeSet) {
	best := -1
	var bestRS *storage.RangeSet
	for r, rs := range se.blocks {
		if bestRS == nil || rs.Len() > bestRS.Len() || (rs.Len() == bestRS.Len() && r < best) {
			best, bestRS = r, rs
		}
	}
	return best, bestRS
}

func (p *MostModifiedStripe) PopFirst() (BlockID, *storage.RangeSet, bool) {
	return p.popMax()
}

func (p *MostModifiedStripe) PopWithID(id BlockID) (*storage.RangeSet, bool) {
	sid, rel := p.coords(id)
	se, ok := p.stripes[sid]
	if !ok {
		return nil, false
	}
	ranges, ok := se.blocks[rel]
	if !ok {
		return nil, false
	}
	p.dropBlock(sid, se, rel, ranges)
	return ranges, true
}
