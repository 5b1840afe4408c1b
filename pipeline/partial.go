package pipeline

import (
	"github.com/lokyinzhao/stripe-update-go/ec"
	"github.com/lokyinzhao/stripe-update-go/storage"
)

// partialBlockRanges walks a PartialBlock's segment-ordered SliceOpt list
// and returns the absolute byte ranges its Present entries cover.
func partialBlockRanges(pb *ec.PartialBlock) []storage.Range {
	var out []storage.Range
	off := 0
	for _, s := range pb.Slices {
		if s.Present {
			out = append(out, storage.Range{Pos: off, Size: len(s.Data)})
			off += len(s.Data)
		} else {
			off += s.AbsentLen
		}
	}
	return out
}

// partialBlockRangeSet is partialBlockRanges folded into canonical form.
func partialBlockRangeSet(pb *ec.PartialBlock) *storage.RangeSet {
	rs := &storage.RangeSet{}
	for _, r := range partialBlockRanges(pb) {
		rs.Insert(r)
	}
	return rs
}

// overlayWithinRange copies every Present segment of pb that falls inside
// [rangeStart, rangeStart+len(dst)) onto dst, rebased so dst[0] corresponds
// to rangeStart. Bytes outside pb's coverage are left untouched in dst, so
// the caller must have pre-seeded dst (typically with the on-disk content
// of that same range) before calling this.
func overlayWithinRange(pb *ec.PartialBlock, rangeStart int, dst []byte) {
	rangeEnd := rangeStart + len(dst)
	off := 0
	for _, s := range pb.Slices {
		if !s.Present {
			off += s.AbsentLen
			continue
		}
		segStart, segEnd := off, off+len(s.Data)
		off = segEnd
		lo, hi := segStart, segEnd
		if lo < rangeStart {
			lo = rangeStart
		}
		if hi > rangeEnd {
			hi = rangeEnd
		}
		if lo >= hi {
			continue
		}
		copy(dst[lo-rangeStart:hi-rangeStart], s.Data[lo-segStart:hi-segStart])
	}
}
