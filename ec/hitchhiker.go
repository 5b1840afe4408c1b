package ec

import "github.com/lokyinzhao/stripe-update-go/errkit"

// HitchhikerXor layers an XOR secondary code on top of two independent
// Reed-Solomon sub-stripes A and B, trading one extra XOR group per parity
// block for a repair path that avoids a full RS decode of the failed
// sub-stripe's sibling.
type HitchhikerXor struct {
	rs *ReedSolomon
}

// NewHitchhikerXor builds the embedded Reed-Solomon sub-code. Hitchhiker
// needs at least 2 parity blocks per sub-stripe, since B's first parity
// block stays a plain RS parity and only B's remaining parity blocks carry
// A's XOR groups.
func NewHitchhikerXor(k, p int) (*HitchhikerXor, error) {
	if p < 2 {
		return nil, errkit.New(errkit.ErasureCode, component, "p must be at least 2 for hitchhiker-xor")
	}
	rs, err := FromKP(k, p)
	if err != nil {
		return nil, err
	}
	return &HitchhikerXor{rs: rs}, nil
}

func (h *HitchhikerXor) K() int { return h.rs.K() }
func (h *HitchhikerXor) P() int { return h.rs.P() }
func (h *HitchhikerXor) M() int { return h.rs.M() }

// xorGroupShape returns, for p parity blocks and k source blocks, the number of
// xor groups (p-1, one per non-reserved parity slot of the B sub-stripe)
// and how many A-sources fall in each contiguous group.
func (h *HitchhikerXor) xorGroupShape() (groups, perGroup int) {
	groups = h.P() - 1
	k := h.K()
	perGroup = k / groups
	if k%groups != 0 {
		perGroup++
	}
	return
}

// EncodeStripe encodes both sub-stripes independently via RS, then folds a
// contiguous run of A's source blocks into each of B's non-reserved parity
// blocks (B.parity[1:]) via XOR. subStripes must hold exactly two k+p
// stripes, A followed by B.
func (h *HitchhikerXor) EncodeStripe(subStripes []*Stripe) error {
	if len(subStripes) != 2 {
		return errkit.New(errkit.ErasureCode, component, "hitchhiker-xor has exactly 2 sub-stripes")
	}
	for _, s := range subStripes {
		if err := h.rs.EncodeStripe(s); err != nil {
			return err
		}
	}
	a, b := subStripes[0], subStripes[1]
	_, perGroup := h.xorGroupShape()
	k := h.K()
	for groupIdx := 0; ; groupIdx++ {
		begin := groupIdx * perGroup
		if begin >= k {
			break
		}
		end := begin + perGroup
		if end > k {
			end = k
		}
		// b.parity[0] is reserved (carries B's own RS parity only); the
		// xor groups land on b.parity[1], b.parity[2], ...
		parity := b.Blocks[h.K()+1+groupIdx]
		for srcIdx := begin; srcIdx < end; srcIdx++ {
			xorInto(parity, a.Blocks[srcIdx])
		}
	}
	return nil
}

func xorInto(dst, src []byte) {
	for i := range dst {
		dst[i] ^= src[i]
	}
}

// Decode of arbitrary erasure patterns is not implemented; the only
// supported recovery path is the single-failure Repair below. Callers get
// a typed error rather than a missing method.
func (h *HitchhikerXor) Decode(partial []*PartialStripe) error {
	return errkit.New(errkit.ErasureCode, component, "hitchhiker-xor decode is not implemented")
}

// Repair reconstructs a single absent source block shared at the same
// index in both sub-stripes: it RS-decodes B, then XORs the appropriate A
// sources out of the now-repaired B parity block that covers the failed
// index.
//
// Precondition: exactly one absent block per sub-stripe, at the same index,
// and that index is a source index (repairing a parity block is not
// supported).
func (h *HitchhikerXor) Repair(partial []*PartialStripe) error {
	if len(partial) != 2 {
		return errkit.New(errkit.ErasureCode, component, "hitchhiker-xor has exactly 2 sub-stripes")
	}
	a, b := partial[0], partial[1]
	aAbsent := a.AbsentIndexes()
	bAbsent := b.AbsentIndexes()
	if len(aAbsent) != 1 || len(bAbsent) != 1 {
		return errkit.New(errkit.ErasureCode, component, "hitchhiker-xor repair requires exactly one absent block per sub-stripe")
	}
	if aAbsent[0] != bAbsent[0] {
		return errkit.New(errkit.ErasureCode, component, "absent block indexes must match across sub-stripes")
	}
	absentIdx := aAbsent[0]
	if absentIdx >= h.K() {
		return errkit.New(errkit.ErasureCode, component, "hitchhiker-xor parity repair is not supported")
	}

	if err := h.rs.Decode(b); err != nil {
		return err
	}

	// The stored parity block is B's RS parity XOR the A-source group, so
	// recovering A's source means XOR-ing out both: the clean RS parity row
	// recomputed over B's now-complete sources, and the surviving A sources
	// of the group.
	parityIdx, aSources := h.indexBXorParity(absentIdx)
	recovered := make(Block, b.BlockSize())
	copy(recovered, b.Get(h.K()+parityIdx))
	bSources := make([][]byte, h.K())
	for s := 0; s < h.K(); s++ {
		bSources[s] = b.Get(s)
	}
	cleanParity := make([]byte, b.BlockSize())
	h.rs.encodeParityRow(parityIdx, bSources, cleanParity)
	xorInto(recovered, cleanParity)
	for _, srcIdx := range aSources {
		xorInto(recovered, a.Get(srcIdx))
	}
	a.Set(absentIdx, recovered)
	return nil
}

// indexBXorParity returns, for an absent A-source index, the B parity
// slot (relative index within b.parity, i.e. b.Blocks[k+result]) that
// carries its xor group, and the sibling A-source indexes folded into that
// parity block (excluding absentIdx itself).
func (h *HitchhikerXor) indexBXorParity(absentIdx int) (parityRelIdx int, aSources []int) {
	_, perGroup := h.xorGroupShape()
	k := h.K()
	groupIdx := absentIdx / perGroup
	begin := groupIdx * perGroup
	end := begin + perGroup
	if end > k {
		end = k
	}
	for i := begin; i < end; i++ {
		if i != absentIdx {
			aSources = append(aSources, i)
		}
	}
	return groupIdx + 1, aSources
}
