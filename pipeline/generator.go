package pipeline

import (
	"math/rand"

	"github.com/lokyinzhao/stripe-update-go/buffer"
	"github.com/lokyinzhao/stripe-update-go/storage"
)

// Generator produces the next client update, or false once the benchmark
// run is complete.
type Generator interface {
	Next() (Update, bool)
}

// UniformSourceGenerator draws updates uniformly at random, restricted to
// source block ids (id mod m < k) and segment-aligned within the
// configured slice size, matching the reference benchmark's update
// distribution.
type UniformSourceGenerator struct {
	rnd       *rand.Rand
	blockNum  int
	k, m      int
	blockSize int
	sliceSize int
	remaining int
}

// NewUniformSourceGenerator builds a generator that emits count updates
// against blockNum blocks arranged in stripes of k source + (m-k) parity,
// each update sliceSize bytes wide and segment-aligned.
func NewUniformSourceGenerator(seed int64, blockNum, k, m, blockSize, sliceSize, count int) *UniformSourceGenerator {
	return &UniformSourceGenerator{
		rnd:       rand.New(rand.NewSource(seed)),
		blockNum:  blockNum,
		k:         k,
		m:         m,
		blockSize: blockSize,
		sliceSize: sliceSize,
		remaining: count,
	}
}

// Next returns the next random update, or (_, false) once count updates
// have been produced.
func (g *UniformSourceGenerator) Next() (Update, bool) {
	if g.remaining <= 0 {
		return Update{}, false
	}
	g.remaining--

	segs := g.blockSize / buffer.SegSize
	sliceSegs := g.sliceSize / buffer.SegSize
	if sliceSegs < 1 {
		sliceSegs = 1
	}
	maxStartSeg := segs - sliceSegs
	if maxStartSeg < 0 {
		maxStartSeg = 0
	}

	id := g.randomSourceID()
	startSeg := g.rnd.Intn(maxStartSeg + 1)
	offset := startSeg * buffer.SegSize
	data := make([]byte, sliceSegs*buffer.SegSize)
	g.rnd.Read(data)

	return Update{BlockID: id, Offset: offset, Data: data}, true
}

// randomSourceID picks a uniformly random stripe among blockNum/m stripes
// and a uniformly random source index within it, i.e. any block id with
// id mod m < k.
func (g *UniformSourceGenerator) randomSourceID() storage.BlockID {
	numStripes := g.blockNum / g.m
	if numStripes < 1 {
		numStripes = 1
	}
	stripe := g.rnd.Intn(numStripes)
	rel := g.rnd.Intn(g.k)
	return storage.BlockID(stripe*g.m + rel)
}
