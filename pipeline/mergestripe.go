package pipeline

import (
	"fmt"
	"sort"

	"github.com/lokyinzhao/stripe-update-go/buffer"
	"github.com/lokyinzhao/stripe-update-go/ec"
	"github.com/lokyinzhao/stripe-update-go/errkit"
	"github.com/lokyinzhao/stripe-update-go/storage"
	"github.com/lokyinzhao/stripe-update-go/storage/evict"
)

// resolveMergeStripe collects every sibling buffered source block of the
// evicted block's stripe, computes the union of every present byte range
// across them, and resolves parity for the whole union in as few reads and
// writes as the current buffer occupancy allows: a full re-encode if every
// source in the stripe had buffered updates, a per-source delta-update
// otherwise.
func (u *Updater) resolveMergeStripe(ev *buffer.BufferEviction) error {
	base, rel := u.stripeCoords(storage.BlockID(ev.ID))

	updated := map[int]*ec.PartialBlock{rel: ev.Partial}
	for j := 0; j < u.k; j++ {
		if j == rel {
			continue
		}
		sibling, err := u.buf.PopOne(evict.BlockID(base + storage.BlockID(j)))
		if err != nil {
			return err
		}
		if sibling != nil {
			updated[j] = sibling.Partial
		}
	}

	sets := make([]*storage.RangeSet, 0, len(updated))
	for _, pb := range updated {
		sets = append(sets, partialBlockRangeSet(pb))
	}
	union := storage.Union(sets...)
	ranges := union.ToRanges()
	if len(ranges) == 0 {
		return nil
	}

	sourceIDs := u.sourceIDs(base)
	parityIDs := u.parityIDs(base)

	if len(updated) == u.k {
		return u.mergeEncodeFull(ranges, updated, sourceIDs, parityIDs)
	}
	return u.mergeDeltaPartial(ranges, updated, sourceIDs, parityIDs)
}

// mergeEncodeFull handles the case where every source block in the stripe
// has buffered updates: a full encode_stripe suffices, run once per
// contiguous sub-range of the union so only the touched bytes move.
func (u *Updater) mergeEncodeFull(ranges []storage.Range, updated map[int]*ec.PartialBlock, sourceIDs, parityIDs []storage.BlockID) error {
	for _, r := range ranges {
		stripe := &ec.Stripe{K: u.k, P: u.p, Blocks: make([]ec.Block, u.m)}
		for j := 0; j < u.k; j++ {
			buf := make([]byte, r.Size)
			if ok, err := u.durable.GetSlice(sourceIDs[j], r.Pos, buf); err != nil {
				return err
			} else if !ok {
				return errBlockMissing(sourceIDs[j])
			}
			overlayWithinRange(updated[j], r.Pos, buf)
			stripe.Blocks[j] = buf
		}
		for pj := range parityIDs {
			stripe.Blocks[u.k+pj] = make(ec.Block, r.Size)
		}

		timer := u.metrics.startEncode()
		err := u.code.EncodeStripe(stripe)
		timer.observe()
		if err != nil {
			return err
		}

		for j, id := range sourceIDs {
			if _, err := u.durable.PutSlice(id, r.Pos, stripe.Blocks[j]); err != nil {
				return err
			}
		}
		for pj, id := range parityIDs {
			if _, err := u.durable.PutSlice(id, r.Pos, stripe.Blocks[u.k+pj]); err != nil {
				return err
			}
		}
	}
	log.WithField("ranges", len(ranges)).Debug("merge-stripe full-encode eviction resolved")
	return nil
}

// mergeDeltaPartial handles the case where fewer than k sources in the
// stripe have buffered updates: read each contiguous union range's parity
// once, then delta-update it once per affected source's overlapping
// sub-range within that range.
func (u *Updater) mergeDeltaPartial(ranges []storage.Range, updated map[int]*ec.PartialBlock, sourceIDs, parityIDs []storage.BlockID) error {
	sortedSources := make([]int, 0, len(updated))
	for j := range updated {
		sortedSources = append(sortedSources, j)
	}
	sort.Ints(sortedSources)

	for _, r := range ranges {
		partial := ec.NewPartialStripe(u.k, u.p)
		for pj, id := range parityIDs {
			buf := make([]byte, r.Size)
			if ok, err := u.durable.GetSlice(id, r.Pos, buf); err != nil {
				return err
			} else if !ok {
				return errBlockMissing(id)
			}
			partial.Set(u.k+pj, ec.Block(buf))
		}

		for _, j := range sortedSources {
			oldBuf := make([]byte, r.Size)
			if ok, err := u.durable.GetSlice(sourceIDs[j], r.Pos, oldBuf); err != nil {
				return err
			} else if !ok {
				return errBlockMissing(sourceIDs[j])
			}
			partial.Set(j, ec.Block(oldBuf))

			for _, own := range partialBlockRanges(updated[j]) {
				sub := intersect(own, r)
				if sub.IsEmpty() {
					continue
				}
				newBuf := make([]byte, sub.Size)
				copy(newBuf, partial.Get(j)[sub.Pos-r.Pos:sub.Pos-r.Pos+sub.Size])
				overlayWithinRange(updated[j], sub.Pos, newBuf)

				timer := u.metrics.startDelta()
				err := u.code.DeltaUpdate(newBuf, j, sub.Pos-r.Pos, partial)
				timer.observe()
				if err != nil {
					return err
				}
			}
		}

		for j := range updated {
			if _, err := u.durable.PutSlice(sourceIDs[j], r.Pos, partial.Get(j)); err != nil {
				return err
			}
		}
		for pj, id := range parityIDs {
			if _, err := u.durable.PutSlice(id, r.Pos, partial.Get(u.k+pj)); err != nil {
				return err
			}
		}
	}
	log.WithField("ranges", len(ranges)).Debug("merge-stripe delta eviction resolved")
	return nil
}

func intersect(a, b storage.Range) storage.Range {
	lo := a.Pos
	if b.Pos > lo {
		lo = b.Pos
	}
	hi := a.End()
	if b.End() < hi {
		hi = b.End()
	}
	if hi <= lo {
		return storage.Range{}
	}
	return storage.Range{Pos: lo, Size: hi - lo}
}

func errBlockMissing(id storage.BlockID) error {
	return errkit.New(errkit.IO, component, fmt.Sprintf("durable block %d missing for merge-stripe resolution", id))
}
