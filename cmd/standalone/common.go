package main

import (
	"github.com/lokyinzhao/stripe-update-go/buffer"
	"github.com/lokyinzhao/stripe-update-go/config"
	"github.com/lokyinzhao/stripe-update-go/ec"
	"github.com/lokyinzhao/stripe-update-go/pipeline"
	"github.com/lokyinzhao/stripe-update-go/storage"
	"github.com/lokyinzhao/stripe-update-go/storage/evict"
)

// buildRig wires a durable block store, an erasure code, and a slice buffer
// from cfg, choosing the eviction policy that matches variant: MergeStripe
// benefits from stripe-wide coalescing (MostModifiedStripe), Baseline only
// ever resolves one block at a time (MostModifiedBlock).
func buildRig(cfg *config.Config, variant pipeline.Variant) (*storage.BlockStore, ec.ErasureCode, *buffer.SliceBuffer, error) {
	code, err := ec.FromKP(cfg.ECK, cfg.ECP)
	if err != nil {
		return nil, nil, nil, err
	}
	durable, err := storage.NewBlockStore(cfg.Standalone.BlobDevPath, cfg.BlockSize)
	if err != nil {
		return nil, nil, nil, err
	}

	capacity := cfg.SSDBlockCapacity * cfg.BlockSize
	var policy evict.Policy
	if variant == pipeline.MergeStripe {
		policy = evict.NewMostModifiedStripe(cfg.M(), capacity)
	} else {
		policy = evict.NewMostModifiedBlock(capacity)
	}

	buf, err := buffer.NewSliceBuffer(cfg.Standalone.SSDDevPath, cfg.BlockSize, policy)
	if err != nil {
		return nil, nil, nil, err
	}
	return durable, code, buf, nil
}
