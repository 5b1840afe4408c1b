package pipeline

import (
	"github.com/lokyinzhao/stripe-update-go/buffer"
	"github.com/lokyinzhao/stripe-update-go/ec"
	"github.com/lokyinzhao/stripe-update-go/storage"
)

// resolveBaseline reconstructs the full updated source block by overlaying
// the eviction's Present segments onto the block's current on-disk
// content, reads the stripe's p parity blocks in full, applies one
// whole-block DeltaUpdate, and writes source + parity back.
func (u *Updater) resolveBaseline(ev *buffer.BufferEviction) error {
	base, rel := u.stripeCoords(storage.BlockID(ev.ID))

	oldSrc, err := u.readFullBlock(base + storage.BlockID(rel))
	if err != nil {
		return err
	}
	newSrc := append([]byte(nil), oldSrc...)
	ev.Partial.Overlay(newSrc)

	parityIDs := u.parityIDs(base)
	partial := ec.NewPartialStripe(u.k, u.p)
	partial.Set(rel, ec.Block(oldSrc))
	for j, pid := range parityIDs {
		pdata, err := u.readFullBlock(pid)
		if err != nil {
			return err
		}
		partial.Set(u.k+j, ec.Block(pdata))
	}

	timer := u.metrics.startDelta()
	err = u.code.DeltaUpdate(newSrc, rel, 0, partial)
	timer.observe()
	if err != nil {
		return err
	}

	if err := u.durable.PutBlock(base+storage.BlockID(rel), partial.Get(rel)); err != nil {
		return err
	}
	for j, pid := range parityIDs {
		if err := u.durable.PutBlock(pid, partial.Get(u.k+j)); err != nil {
			return err
		}
	}
	log.WithField("block_id", ev.ID).Debug("baseline eviction resolved")
	return nil
}
