package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/lokyinzhao/stripe-update-go/buffer"
	"github.com/lokyinzhao/stripe-update-go/ec"
	"github.com/lokyinzhao/stripe-update-go/storage"
)

// ChannelCapacity bounds the generator -> updater channel so a slow
// updater backpressures the generator instead of buffering unboundedly.
const ChannelCapacity = 256

// Run drives the three-stage standalone pipeline to completion: a
// generator goroutine feeds updates over a bounded channel, an updater
// goroutine drains them into the slice buffer and resolves evictions, and
// once the generator is exhausted the updater drains every remaining
// buffered block before returning. errgroup propagates the first error
// from either stage and cancels the other via ctx.
func Run(ctx context.Context, gen Generator, buf *buffer.SliceBuffer, durable *storage.BlockStore, code ec.ErasureCode, variant Variant, metrics *Metrics) error {
	updates := make(chan Update, ChannelCapacity)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(updates)
		for {
			up, ok := gen.Next()
			if !ok {
				return nil
			}
			select {
			case updates <- up:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	g.Go(func() error {
		updater := NewUpdater(buf, durable, code, variant, metrics)
		for {
			select {
			case up, ok := <-updates:
				if !ok {
					return updater.Drain()
				}
				metrics.IncUpdates()
				if err := updater.HandleUpdate(up); err != nil {
					return err
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	return g.Wait()
}
