// Package pipeline implements the standalone update pipeline: a generator
// feeding segment-aligned byte-range updates into a slice buffer, an
// updater draining buffer evictions into delta-encoded writes against the
// durable tier, and a drain stage that flushes the buffer at shutdown.
package pipeline

import (
	"github.com/lokyinzhao/stripe-update-go/internal/logging"
	"github.com/lokyinzhao/stripe-update-go/storage"
)

var log = logging.For("pipeline")

const component = "pipeline"

// Update is one client write: a segment-aligned byte range destined for a
// single source block.
type Update struct {
	BlockID storage.BlockID
	Offset  int
	Data    []byte
}

// Variant selects the eviction-handling strategy the Updater uses once the
// slice buffer reports an eviction.
type Variant int

const (
	// Baseline reconstructs and delta-updates one full block at a time.
	Baseline Variant = iota
	// MergeStripe coalesces every buffered source block of the evicted
	// block's stripe before touching parity, trading a wider blast
	// radius per eviction for fewer parity round-trips overall.
	MergeStripe
)

func (v Variant) String() string {
	switch v {
	case MergeStripe:
		return "merge-stripe"
	default:
		return "baseline"
	}
}
