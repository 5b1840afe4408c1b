package ec

// ErasureCode is implemented by ReedSolomon: encode/decode/delta-update over
// a single k+p stripe.
type ErasureCode interface {
	K() int
	P() int
	M() int
	EncodeStripe(stripe *Stripe) error
	Decode(partial *PartialStripe) error
	DeltaUpdate(updateBytes []byte, sourceIdx, offset int, partial *PartialStripe) error
}

// HitchhikerCode is implemented by HitchhikerXor: encode/repair across two
// RS sub-stripes placed back to back. It has no delta-update operation.
type HitchhikerCode interface {
	K() int
	P() int
	M() int
	EncodeStripe(subStripes []*Stripe) error
	Decode(partial []*PartialStripe) error
	Repair(partial []*PartialStripe) error
}
