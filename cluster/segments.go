package cluster

import (
	"github.com/lokyinzhao/stripe-update-go/ec"
	"github.com/lokyinzhao/stripe-update-go/errkit"
	"github.com/lokyinzhao/stripe-update-go/storage"
)

// unionSegments holds the coordinator's working copy of every parity
// block's bytes across the union_range computed for one eviction dance,
// addressable by the contiguous sub-range ("segment") they fall in.
// DeltaUpdate calls write straight into these buffers (they back the
// PartialStripe slots handed to each call), so successive sources applied
// to the same sub-range accumulate correctly without any extra copying.
type unionSegments struct {
	ranges  []storage.Range
	offsets []int // cumulative start offset of ranges[i] within each parity buffer
	parity  [][]byte
}

func newUnionSegments(ranges []storage.Range, p int, parityData [][]byte) *unionSegments {
	offsets := make([]int, len(ranges))
	off := 0
	for i, r := range ranges {
		offsets[i] = off
		off += r.Size
	}
	parity := make([][]byte, p)
	for j := range parity {
		parity[j] = append([]byte(nil), parityData[j]...)
	}
	return &unionSegments{ranges: ranges, offsets: offsets, parity: parity}
}

// locate finds the union sub-range fully containing r, returning its index
// and r's offset relative to that sub-range's start.
func (s *unionSegments) locate(r storage.Range) (segIdx, localOffset int, err error) {
	for i, seg := range s.ranges {
		if r.Pos >= seg.Pos && r.End() <= seg.End() {
			return i, r.Pos - seg.Pos, nil
		}
	}
	return 0, 0, errkit.New(errkit.Other, component, "persisted range does not fall within any union sub-range")
}

// partialStripe builds an ephemeral PartialStripe sized to sub-range segIdx
// with every parity slot present, backed by this unionSegments' own
// buffers so DeltaUpdate's in-place XOR lands directly in them.
func (s *unionSegments) partialStripe(segIdx, k, p int) *ec.PartialStripe {
	seg := s.ranges[segIdx]
	off := s.offsets[segIdx]
	partial := ec.NewPartialStripe(k, p)
	for j := 0; j < p; j++ {
		partial.Set(k+j, ec.Block(s.parity[j][off:off+seg.Size]))
	}
	return partial
}

// applyDelta walks one source's PersistUpdate ack (disjoint persisted
// ranges plus their pre-write concatenated bytes), consumes the matching
// new bytes the coordinator cached locally, and runs one DeltaUpdate per
// persisted range.
func (s *unionSegments) applyDelta(code ec.ErasureCode, sourceIdx int, persistedRanges []storage.Range, oldData []byte, newBytesFor func(storage.Range) []byte) error {
	cursor := 0
	for _, r := range persistedRanges {
		old := oldData[cursor : cursor+r.Size]
		cursor += r.Size

		segIdx, localOffset, err := s.locate(r)
		if err != nil {
			return err
		}
		partial := s.partialStripe(segIdx, code.K(), code.P())
		// The source slot must span the whole union sub-range the parity
		// slots do; the persisted bytes land at their local offset within
		// it, the rest stays zero (DeltaUpdate never reads outside the
		// updated range).
		src := make([]byte, s.ranges[segIdx].Size)
		copy(src[localOffset:], old)
		partial.Set(sourceIdx, ec.Block(src))

		newBytes := newBytesFor(r)
		if err := code.DeltaUpdate(newBytes, sourceIdx, localOffset, partial); err != nil {
			return err
		}
	}
	return nil
}

// parityBytes returns the current (possibly delta-updated) contents of
// parity block j across the whole union_range.
func (s *unionSegments) parityBytes(j int) []byte { return s.parity[j] }
