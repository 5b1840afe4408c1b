package cluster

import (
	"context"
	"sort"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/lokyinzhao/stripe-update-go/ec"
	"github.com/lokyinzhao/stripe-update-go/errkit"
	"github.com/lokyinzhao/stripe-update-go/internal/logging"
	"github.com/lokyinzhao/stripe-update-go/pipeline"
	"github.com/lokyinzhao/stripe-update-go/storage"
	"github.com/lokyinzhao/stripe-update-go/storage/evict"
)

var logCoordinator = logging.For("cluster.coordinator")

// outboundMsg addresses a Request to a specific broker queue; the sender
// goroutine is the only one that ever calls Broker.RPush during a Run.
type outboundMsg struct {
	queue string
	req   Request
}

// Coordinator owns the cluster-wide slice buffer view (a MostModifiedStripe
// eviction policy, in-memory only) and drives the choreographed eviction
// dance across workers. It never touches block storage directly — all
// durable I/O happens inside workers, reached only over the broker.
type Coordinator struct {
	broker    Broker
	code      ec.ErasureCode
	workerNum int
	policy    evict.Policy
	promises  *promiseTable
	pending   *pendingBytes

	out chan outboundMsg
	// outstanding counts fire-and-forget requests whose ack has not yet
	// come back; Run's ack receiver drains it to zero before exiting.
	outstanding atomic.Int64
	progress    int
}

// NewCoordinator builds a coordinator over code's (k, p) shape, routing
// block id mod workerNum + 1 to the owning worker's queue.
func NewCoordinator(broker Broker, code ec.ErasureCode, workerNum, stripeCapacity int) *Coordinator {
	return &Coordinator{
		broker:    broker,
		code:      code,
		workerNum: workerNum,
		policy:    evict.NewMostModifiedStripe(code.M(), stripeCapacity),
		promises:  newPromiseTable(DefaultPromiseCapacity),
		pending:   newPendingBytes(),
		out:       make(chan outboundMsg, 256),
	}
}

func (c *Coordinator) ownerOf(id storage.BlockID) int {
	return int(id)%c.workerNum + 1
}

// Progress reports how many fire-and-forget acknowledgements the last Run
// observed.
func (c *Coordinator) Progress() int { return c.progress }

// Run drives the coordinator's four logical threads — generator, core
// handler, sender, ack receiver — until gen is exhausted, every in-flight
// eviction has been resolved and every outstanding ack has come back, or
// ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context, gen pipeline.Generator) error {
	updates := make(chan pipeline.Update, pipeline.ChannelCapacity)
	senderDone := make(chan struct{})

	g, ctx := errgroup.WithContext(ctx)

	// Request generator.
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

	// Core handler. Closing c.out once the update stream ends is what lets
	// the sender — and transitively the ack receiver — wind down.
	g.Go(func() error {
		defer close(c.out)
		for {
			select {
			case up, ok := <-updates:
				if !ok {
					return nil
				}
				if err := c.handleBufferUpdate(ctx, up); err != nil {
					return err
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	// Sender.
	g.Go(func() error {
		defer close(senderDone)
		for msg := range c.out {
			if err := c.broker.RPush(msg.queue, msg.req.Encode()); err != nil {
				return errkit.Wrap(errkit.IO, component, "coordinator sender rpush", err)
			}
		}
		return nil
	})

	// Ack receiver: resolves promises for awaited requests, counts the rest
	// toward progress, and exits once the sender is done and nothing is
	// outstanding.
	g.Go(func() error {
		for {
			_, data, ok, err := c.broker.BLPop(blpopTimeout, ResponseQueue)
			if err != nil {
				return errkit.Wrap(errkit.IO, component, "coordinator ack receiver blpop", err)
			}
			if ok {
				resp, derr := DecodeResponse(data)
				if derr != nil {
					logCoordinator.WithError(derr).Warn("dropping undecodable response")
					continue
				}
				if !c.promises.resolve(resp) {
					c.outstanding.Add(-1)
					c.progress++
				}
			}
			select {
			case <-ctx.Done():
				return nil
			case <-senderDone:
				if c.outstanding.Load() == 0 {
					return nil
				}
			default:
			}
		}
	})

	err := g.Wait()
	logCoordinator.WithField("acks", c.progress).Info("coordinator run finished")
	return err
}

// send enqueues a fire-and-forget request (no promise): used for
// BufferUpdateData and the final parity Update of the eviction dance. The
// ack still comes back and is drained before Run returns.
func (c *Coordinator) send(id storage.BlockID, head RequestHead) {
	c.outstanding.Add(1)
	c.out <- outboundMsg{queue: RequestQueue(c.ownerOf(id)), req: Request{TaskID: NewTaskID(), Head: head}}
}

// sendAwait enqueues a request and blocks for its ack, resolving to a Nak
// error if the worker reports one.
func (c *Coordinator) sendAwait(ctx context.Context, id storage.BlockID, head RequestHead) (Ack, error) {
	taskID := NewTaskID()
	p, err := c.promises.register(taskID)
	if err != nil {
		return Ack{}, err
	}
	c.out <- outboundMsg{queue: RequestQueue(c.ownerOf(id)), req: Request{TaskID: taskID, Head: head}}
	var resp Response
	select {
	case resp = <-p:
	case <-ctx.Done():
		c.promises.forget(taskID)
		return Ack{}, ctx.Err()
	}
	switch r := resp.Result.(type) {
	case Ack:
		return r, nil
	case Nak:
		msg, ok, _ := c.broker.TakePayload(r.ErrPayloadID)
		if !ok {
			msg = []byte("worker reported an error")
		}
		return Ack{}, errkit.New(errkit.Other, component, string(msg))
	default:
		return Ack{}, errkit.New(errkit.Other, component, "unrecognized response result")
	}
}

// handleBufferUpdate dispatches one generated update to its owning worker,
// remembers the bytes locally, and feeds the eviction policy; on eviction
// it runs the stripe-wide dance.
func (c *Coordinator) handleBufferUpdate(ctx context.Context, up pipeline.Update) error {
	pid, err := putPayload(c.broker, up.Data)
	if err != nil {
		return err
	}
	r := storage.Range{Pos: up.Offset, Size: len(up.Data)}
	c.send(up.BlockID, BufferUpdateDataReq{ID: up.BlockID, Ranges: []storage.Range{r}, PayloadID: pid})
	c.pending.push(up.BlockID, up.Offset, up.Data)

	evictedID, evictedRanges, didEvict := c.policy.Push(evict.BlockID(up.BlockID), r)
	if !didEvict {
		return nil
	}
	return c.resolveEviction(ctx, storage.BlockID(evictedID), evictedRanges)
}

// resolveEviction implements the stripe-wide eviction dance for the stripe
// owning evictedID, triggered by evictedID's own (block_id, range) eviction:
// pop sibling source ranges, retrieve parity across the union range, persist
// each updated source (the ack carries its pre-write bytes), delta-update
// the retrieved parity, and fire the updated parity bytes back out.
func (c *Coordinator) resolveEviction(ctx context.Context, evictedID storage.BlockID, evictedRanges *storage.RangeSet) error {
	k, m := c.code.K(), c.code.M()
	base := storage.BlockID(int(evictedID) / m * m)
	rel := int(evictedID) % m

	stripeRanges := map[int]*storage.RangeSet{rel: evictedRanges}
	for j := 0; j < k; j++ {
		if j == rel {
			continue
		}
		if rs, ok := c.policy.PopWithID(evict.BlockID(base + storage.BlockID(j))); ok {
			stripeRanges[j] = rs
		}
	}

	sets := make([]*storage.RangeSet, 0, len(stripeRanges))
	for _, rs := range stripeRanges {
		sets = append(sets, rs)
	}
	union := storage.Union(sets...)
	unionRanges := union.ToRanges()
	if len(unionRanges) == 0 {
		return nil
	}

	parityIDs := make([]storage.BlockID, c.code.P())
	for j := range parityIDs {
		parityIDs[j] = base + storage.BlockID(k+j)
	}

	// RetrieveData from every parity block, awaited.
	parityData := make([][]byte, len(parityIDs))
	for j, id := range parityIDs {
		ack, err := c.sendAwait(ctx, id, RetrieveDataReq{ID: id, Ranges: unionRanges})
		if err != nil {
			return err
		}
		parityData[j] = ack.Data
	}

	// PersistUpdate each updated source, awaited, applying delta_update
	// with the pre-write bytes the ack carries.
	sourceIdxs := make([]int, 0, len(stripeRanges))
	for j := range stripeRanges {
		sourceIdxs = append(sourceIdxs, j)
	}
	sort.Ints(sourceIdxs)

	segments := newUnionSegments(unionRanges, c.code.P(), parityData)

	for _, j := range sourceIdxs {
		id := base + storage.BlockID(j)
		ack, err := c.sendAwait(ctx, id, PersistUpdateReq{ID: id})
		if err != nil {
			return err
		}
		newBytesFor := func(r storage.Range) []byte { return c.pending.take(id, r) }
		if err := segments.applyDelta(c.code, j, ack.Ranges, ack.Data, newBytesFor); err != nil {
			return err
		}
	}

	// Fire-and-forget Update of each parity block's new bytes; per-queue
	// FIFO plus the awaited RetrieveData above make this safe.
	for j, id := range parityIDs {
		data := segments.parityBytes(j)
		pid, err := putPayload(c.broker, data)
		if err != nil {
			return err
		}
		c.send(id, UpdateReq{ID: id, Ranges: unionRanges, PayloadID: pid})
	}

	logCoordinator.WithField("stripe_base", base).WithField("ranges", len(unionRanges)).Debug("eviction dance resolved")
	return nil
}
