package ec

import "github.com/lokyinzhao/stripe-update-go/errkit"

// ReedSolomon implements ErasureCode over GF(2^8) with a Cauchy-style
// generator matrix, the top k rows of which are the identity so that
// encode_stripe never mutates source blocks.
type ReedSolomon struct {
	k, p int
	gen  matrix // m x k generator
	// parityTables is the cached per-source, per-parity multiplication
	// table set (k * p tables of 256 bytes each), built once at
	// construction since the generator is immutable after FromKP.
	parityTables [][]byte
}

// FromKP builds the generator matrix and caches its parity-only encode
// tables. Precondition: k >= 1, p >= 1.
func FromKP(k, p int) (*ReedSolomon, error) {
	if k < 1 || p < 1 {
		return nil, errkit.New(errkit.ErasureCode, component, "k and p must each be at least 1")
	}
	if k+p > 255 {
		// The Cauchy construction indexes rows and columns as distinct
		// GF(2^8) elements, which caps the stripe width.
		return nil, errkit.New(errkit.ErasureCode, component, "k+p must not exceed 255")
	}
	gen := genRSMatrix(k, p)
	parity := newMatrix(p, k)
	for r := 0; r < p; r++ {
		copy(parity.row(r), gen.row(k+r))
	}
	return &ReedSolomon{
		k: k, p: p, gen: gen,
		parityTables: genTables(k, p, parity),
	}, nil
}

func (rs *ReedSolomon) K() int { return rs.k }
func (rs *ReedSolomon) P() int { return rs.p }
func (rs *ReedSolomon) M() int { return rs.k + rs.p }

func (rs *ReedSolomon) checkShape(stripeK, stripeP int) error {
	if stripeK != rs.k || stripeP != rs.p {
		return errkit.New(errkit.ErasureCode, component, "stripe shape does not match configured (k, p)")
	}
	return nil
}

// EncodeStripe overwrites the stripe's p parity blocks with M_parity *
// source, leaving the k source blocks untouched.
func (rs *ReedSolomon) EncodeStripe(stripe *Stripe) error {
	if err := rs.checkShape(stripe.K, stripe.P); err != nil {
		return err
	}
	size := stripe.BlockSize()
	sources := make([][]byte, rs.k)
	for i := 0; i < rs.k; i++ {
		sources[i] = stripe.Blocks[i]
	}
	outputs := make([][]byte, rs.p)
	for j := 0; j < rs.p; j++ {
		outputs[j] = make([]byte, size)
	}
	encodeData(size, rs.k, rs.p, rs.parityTables, sources, outputs)
	for j := 0; j < rs.p; j++ {
		copy(stripe.Blocks[rs.k+j], outputs[j])
	}
	return nil
}

// Decode recovers absent blocks from present ones. On any failure the
// partial stripe is left completely unmodified.
func (rs *ReedSolomon) Decode(partial *PartialStripe) error {
	if err := rs.checkShape(partial.K, partial.P); err != nil {
		return err
	}
	absent := partial.AbsentIndexes()
	if len(absent) == 0 {
		return nil
	}
	if len(absent) > rs.p {
		return errkit.New(errkit.ErasureCode, component, "too many absent blocks to decode")
	}
	present := partial.PresentIndexes()
	if len(present) < rs.k {
		return errkit.New(errkit.ErasureCode, component, "not enough present blocks to decode")
	}
	survivors := present[:rs.k]

	b := newMatrix(rs.k, rs.k)
	for row, idx := range survivors {
		copy(b.row(row), rs.gen.row(idx))
	}
	bInv, err := invertMatrix(b)
	if err != nil {
		return errkit.Wrap(errkit.ErasureCode, component, "decode matrix is singular", err)
	}

	size := partial.BlockSize()
	sources := make([][]byte, rs.k)
	for i, idx := range survivors {
		sources[i] = partial.Get(idx)
	}

	decodeCoef := newMatrix(len(absent), rs.k)
	for row, idx := range absent {
		if idx < rs.k {
			copy(decodeCoef.row(row), bInv.row(idx))
		} else {
			// decode row = M[idx] * B^-1
			for c := 0; c < rs.k; c++ {
				var acc byte
				for s := 0; s < rs.k; s++ {
					acc ^= gfMul(rs.gen.at(idx, s), bInv.at(s, c))
				}
				decodeCoef.set(row, c, acc)
			}
		}
	}
	tables := genTables(rs.k, len(absent), decodeCoef)
	outputs := make([][]byte, len(absent))
	for i := range outputs {
		outputs[i] = make([]byte, size)
	}
	encodeData(size, rs.k, len(absent), tables, sources, outputs)
	for i, idx := range absent {
		partial.Set(idx, Block(outputs[i]))
	}
	return nil
}

// encodeParityRow computes parity row j (0-based within the p parity rows)
// over the given k source blocks into out, without touching any other row.
func (rs *ReedSolomon) encodeParityRow(j int, sources [][]byte, out []byte) {
	for i := range out {
		out[i] = 0
	}
	for s := 0; s < rs.k; s++ {
		t := rs.parityTables[j*rs.k+s]
		src := sources[s]
		for i := range out {
			out[i] ^= t[src[i]]
		}
	}
}

// DeltaUpdate updates one byte range of one source block and the same byte
// range of every parity block, without reading or touching any other
// source block.
func (rs *ReedSolomon) DeltaUpdate(updateBytes []byte, sourceIdx, offset int, partial *PartialStripe) error {
	if err := rs.checkShape(partial.K, partial.P); err != nil {
		return err
	}
	if sourceIdx < 0 || sourceIdx >= rs.k {
		return errkit.New(errkit.Range, component, "source index out of range")
	}
	blockSize := partial.BlockSize()
	if offset < 0 || offset+len(updateBytes) > blockSize {
		return errkit.New(errkit.Range, component, "update range out of block bounds")
	}
	for j := rs.k; j < rs.k+rs.p; j++ {
		if !partial.Present(j) {
			return errkit.New(errkit.ErasureCode, component, "parity block absent for delta update")
		}
	}
	if !partial.Present(sourceIdx) {
		return errkit.New(errkit.ErasureCode, component, "source block absent for delta update")
	}

	oldSource := partial.Get(sourceIdx)
	delta := make([]byte, len(updateBytes))
	for b := range delta {
		delta[b] = oldSource[offset+b] ^ updateBytes[b]
	}
	for j := 0; j < rs.p; j++ {
		coef := rs.gen.at(rs.k+j, sourceIdx)
		if coef == 0 {
			continue
		}
		parity := partial.Get(rs.k + j)
		for b, d := range delta {
			parity[offset+b] ^= gfMul(d, coef)
		}
	}
	copy(oldSource[offset:], updateBytes)
	return nil
}
