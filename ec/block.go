package ec

import (
	"github.com/lokyinzhao/stripe-update-go/errkit"
)

const component = "ec"

var (
	errInvalidShape = errkit.New(errkit.ErasureCode, component, "matrix is not square")
	errSingular     = errkit.New(errkit.ErasureCode, component, "decode matrix is singular")
)

// Block is a fixed-size byte buffer. All blocks sharing a stripe (and, in
// practice, a whole deployment) share one block_size.
type Block []byte

// Stripe is exactly k+p blocks of equal size. Indices [0,k) are source,
// [k,k+p) are parity.
type Stripe struct {
	K, P   int
	Blocks []Block
}

// M returns k+p.
func (s *Stripe) M() int { return s.K + s.P }

// BlockSize returns the shared block size, or 0 if the stripe holds no
// blocks yet.
func (s *Stripe) BlockSize() int {
	if len(s.Blocks) == 0 {
		return 0
	}
	return len(s.Blocks[0])
}

// NewStripe allocates a stripe of k+p zero-filled blocks of the given size.
func NewStripe(k, p, blockSize int) *Stripe {
	blocks := make([]Block, k+p)
	for i := range blocks {
		blocks[i] = make(Block, blockSize)
	}
	return &Stripe{K: k, P: p, Blocks: blocks}
}

// PartialStripe is a stripe where each slot is either present (non-nil) or
// absent (nil). A present block may be mutated in place; an absent block
// has no backing storage until Decode or Repair fills it in.
type PartialStripe struct {
	K, P   int
	Blocks []*Block
}

// M returns k+p.
func (p *PartialStripe) M() int { return p.K + p.P }

// NewPartialStripe allocates an all-absent partial stripe shaped k+p.
func NewPartialStripe(k, p int) *PartialStripe {
	return &PartialStripe{K: k, P: p, Blocks: make([]*Block, k+p)}
}

// Present reports whether slot i holds a block.
func (p *PartialStripe) Present(i int) bool { return p.Blocks[i] != nil }

// Set installs a block into slot i, marking it present.
func (p *PartialStripe) Set(i int, b Block) { p.Blocks[i] = &b }

// Get returns the block at slot i, or nil if absent.
func (p *PartialStripe) Get(i int) Block {
	if p.Blocks[i] == nil {
		return nil
	}
	return *p.Blocks[i]
}

// AbsentIndexes returns the stripe indexes with no backing block, in
// ascending order.
func (p *PartialStripe) AbsentIndexes() []int {
	var out []int
	for i, b := range p.Blocks {
		if b == nil {
			out = append(out, i)
		}
	}
	return out
}

// PresentIndexes returns the stripe indexes with a backing block, in
// ascending order.
func (p *PartialStripe) PresentIndexes() []int {
	var out []int
	for i, b := range p.Blocks {
		if b != nil {
			out = append(out, i)
		}
	}
	return out
}

// BlockSize returns the shared block size among present blocks, or 0 if
// none are present.
func (p *PartialStripe) BlockSize() int {
	for _, b := range p.Blocks {
		if b != nil {
			return len(*b)
		}
	}
	return 0
}

// SliceOpt is one segment-sized entry in a PartialBlock: either present
// bytes or a run-length of absent bytes.
type SliceOpt struct {
	Present   bool
	Data      []byte
	AbsentLen int
}

// PartialBlock is the eviction payload produced by the slice buffer: a
// sequence of SliceOpt entries covering a full block in segment-id order.
type PartialBlock struct {
	Slices []SliceOpt
}

// Size returns the sum of the widths of every slice entry, i.e. the full
// block size the PartialBlock reconstructs to.
func (pb *PartialBlock) Size() int {
	n := 0
	for _, s := range pb.Slices {
		if s.Present {
			n += len(s.Data)
		} else {
			n += s.AbsentLen
		}
	}
	return n
}

// Overlay writes every Present segment of pb onto dst at its natural
// offset (segments appear in pb.Slices in block order), leaving the bytes
// underneath Absent segments untouched. dst must be at least pb.Size().
func (pb *PartialBlock) Overlay(dst []byte) {
	off := 0
	for _, s := range pb.Slices {
		if s.Present {
			copy(dst[off:off+len(s.Data)], s.Data)
			off += len(s.Data)
		} else {
			off += s.AbsentLen
		}
	}
}
