package pipeline

import (
	"github.com/lokyinzhao/stripe-update-go/buffer"
	"github.com/lokyinzhao/stripe-update-go/ec"
	"github.com/lokyinzhao/stripe-update-go/errkit"
	"github.com/lokyinzhao/stripe-update-go/storage"
	"github.com/lokyinzhao/stripe-update-go/storage/evict"
)

// Updater owns the slice buffer and the erasure-code handle: the only
// mutator of either, per the single-mutator design in the concurrency
// model. It drains buffer evictions into delta-encoded writes against the
// durable tier, in either Baseline or MergeStripe style.
type Updater struct {
	buf     *buffer.SliceBuffer
	durable *storage.BlockStore
	code    ec.ErasureCode
	variant Variant
	k, p, m int
	metrics *Metrics
}

// NewUpdater builds an updater over buf/durable/code, applying the given
// eviction-handling Variant.
func NewUpdater(buf *buffer.SliceBuffer, durable *storage.BlockStore, code ec.ErasureCode, variant Variant, metrics *Metrics) *Updater {
	return &Updater{
		buf:     buf,
		durable: durable,
		code:    code,
		variant: variant,
		k:       code.K(),
		p:       code.P(),
		m:       code.M(),
		metrics: metrics,
	}
}

// HandleUpdate pushes one client update into the slice buffer and, if the
// buffer reports a capacity-driven eviction, resolves it per Variant.
func (u *Updater) HandleUpdate(up Update) error {
	eviction, err := u.buf.PushSlice(evict.BlockID(up.BlockID), up.Offset, up.Data)
	if err != nil {
		return err
	}
	if eviction == nil {
		return nil
	}
	return u.resolveEviction(eviction)
}

func (u *Updater) resolveEviction(ev *buffer.BufferEviction) error {
	timer := u.metrics.startEvict()
	defer timer.observe()

	switch u.variant {
	case MergeStripe:
		return u.resolveMergeStripe(ev)
	default:
		return u.resolveBaseline(ev)
	}
}

// Drain materializes every remaining buffered block (in the policy's own
// order) and resolves each, for use at pipeline shutdown after the input
// stream has closed.
func (u *Updater) Drain() error {
	for {
		ev, err := u.buf.Pop()
		if err != nil {
			return err
		}
		if ev == nil {
			return nil
		}
		if err := u.resolveEviction(ev); err != nil {
			return err
		}
	}
}

// stripeCoords returns the absolute block id of stripe index 0 and the
// evicted block's relative index within its stripe.
func (u *Updater) stripeCoords(id storage.BlockID) (base storage.BlockID, rel int) {
	stripe := int(id) / u.m
	rel = int(id) % u.m
	return storage.BlockID(stripe * u.m), rel
}

func (u *Updater) sourceIDs(base storage.BlockID) []storage.BlockID {
	out := make([]storage.BlockID, u.k)
	for i := 0; i < u.k; i++ {
		out[i] = base + storage.BlockID(i)
	}
	return out
}

func (u *Updater) parityIDs(base storage.BlockID) []storage.BlockID {
	out := make([]storage.BlockID, u.p)
	for j := 0; j < u.p; j++ {
		out[j] = base + storage.BlockID(u.k+j)
	}
	return out
}

func (u *Updater) readFullBlock(id storage.BlockID) ([]byte, error) {
	data, ok, err := u.durable.GetBlockOwned(storage.BlockID(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errkit.New(errkit.IO, component, "durable block missing for stripe member")
	}
	return data, nil
}
