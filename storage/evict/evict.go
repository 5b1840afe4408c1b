// Package evict implements the pluggable eviction policies shared by the
// slice buffer (4-KiB segment granularity) and the cluster coordinator's
// in-memory view of buffered-but-not-yet-persisted stripes.
package evict

import "github.com/lokyinzhao/stripe-update-go/storage"

// BlockID mirrors storage.BlockID to keep this package's public surface
// free of an import cycle back into storage for callers that only need the
// policy contract.
type BlockID = storage.BlockID

// Policy is the contract every eviction strategy implements: a keyed
// container mapping BlockID -> RangeSet, bounded by a capacity measured in
// bytes of accumulated modification.
type Policy interface {
	Contains(id BlockID) bool
	Get(id BlockID) (*storage.RangeSet, bool)
	// Push inserts range into the entry for id, growing Len by the added
	// width. If Len now exceeds Capacity, exactly one entry (chosen by the
	// policy) is evicted and returned.
	Push(id BlockID, r storage.Range) (evictedID BlockID, evicted *storage.RangeSet, didEvict bool)
	// PopFirst pops one entry in the policy's own order.
	PopFirst() (id BlockID, ranges *storage.RangeSet, ok bool)
	// PopWithID removes and returns a specific entry, if present.
	PopWithID(id BlockID) (*storage.RangeSet, bool)
	Len() int
	Capacity() int
}
