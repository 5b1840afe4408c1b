package cluster

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lokyinzhao/stripe-update-go/buffer"
	"github.com/lokyinzhao/stripe-update-go/ec"
	"github.com/lokyinzhao/stripe-update-go/errkit"
	"github.com/lokyinzhao/stripe-update-go/internal/logging"
	"github.com/lokyinzhao/stripe-update-go/storage"
)

var logWorker = logging.For("cluster.worker")

// blpopTimeout bounds each receiver poll so the receiver loop can observe
// ctx cancellation even while the request queue sits empty.
const blpopTimeout = 500 * time.Millisecond

// RequestQueue is the per-worker request queue key, c-<id>.
func RequestQueue(id int) string { return fmt.Sprintf("c-%d", id) }

// ResponseQueue is the single shared response queue, w-0.
const ResponseQueue = "w-0"

// Worker is a stateless request handler over local block storage: one
// durable BlockStore and one SliceBuffer (bounded by NonEvict, since the
// coordinator — not the worker — tracks stripe-wide eviction). It owns no
// cross-block state beyond what its storage holds.
type Worker struct {
	id      int
	durable *storage.BlockStore
	buf     *buffer.SliceBuffer
	broker  Broker
}

// NewWorker builds a worker identified by id (1-based, in
// [1, worker_num]).
func NewWorker(id int, durable *storage.BlockStore, buf *buffer.SliceBuffer, broker Broker) *Worker {
	return &Worker{id: id, durable: durable, buf: buf, broker: broker}
}

// Run drives the worker's three logical threads — receiver, dispatcher,
// sender — until ctx is cancelled or a Shutdown request is processed.
func (w *Worker) Run(ctx context.Context) error {
	requests := make(chan Request, 64)
	responses := make(chan Response, 64)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(requests)
		queue := RequestQueue(w.id)
		for {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			_, data, ok, err := w.broker.BLPop(blpopTimeout, queue)
			if err != nil {
				return errkit.Wrap(errkit.IO, component, "worker receiver blpop", err)
			}
			if !ok {
				continue
			}
			req, err := DecodeRequest(data)
			if err != nil {
				logWorker.WithError(err).Warn("dropping undecodable request")
				continue
			}
			select {
			case requests <- req:
			case <-ctx.Done():
				return nil
			}
			if _, isShutdown := req.Head.(ShutdownReq); isShutdown {
				return nil
			}
		}
	})

	g.Go(func() error {
		defer close(responses)
		for req := range requests {
			result := w.handle(req)
			select {
			case responses <- Response{TaskID: req.TaskID, Result: result}:
			case <-ctx.Done():
				return nil
			}
			if _, isShutdown := req.Head.(ShutdownReq); isShutdown {
				return nil
			}
		}
		return nil
	})

	g.Go(func() error {
		for resp := range responses {
			if err := w.broker.RPush(ResponseQueue, resp.Encode()); err != nil {
				return errkit.Wrap(errkit.IO, component, "worker sender rpush", err)
			}
		}
		return nil
	})

	return g.Wait()
}

// handle dispatches one request by its head type, never panicking:
// recoverable failures become a Nak carrying the textual cause.
func (w *Worker) handle(req Request) ResponseResult {
	var result ResponseResult
	var err error
	switch h := req.Head.(type) {
	case StoreBlockReq:
		err = w.handleStoreBlock(h)
		result = SimpleAck()
	case RetrieveDataReq:
		result, err = w.handleRetrieveData(h)
	case PersistUpdateReq:
		result, err = w.handlePersistUpdate(h)
	case BufferUpdateDataReq:
		err = w.handleBufferUpdateData(h)
		result = SimpleAck()
	case UpdateReq:
		err = w.handleUpdate(h)
		result = SimpleAck()
	case FlushBufReq:
		err = w.handleFlushBuf()
		result = SimpleAck()
	case DropStoreReq:
		err = w.durable.Purge()
		w.buf.CleanupDev()
		result = SimpleAck()
	case HeartBeatReq:
		result = SimpleAck()
	case ShutdownReq:
		result = SimpleAck()
	default:
		err = errkit.New(errkit.InvalidArg, component, "unknown request head")
	}
	if err != nil {
		logWorker.WithError(err).WithField("worker_id", w.id).Warn("request failed, replying nak")
		pid := NewPayloadID()
		if perr := w.broker.PutPayload(pid, []byte(err.Error())); perr != nil {
			logWorker.WithError(perr).Error("failed to stash nak payload")
		}
		return Nak{ErrPayloadID: pid}
	}
	return result
}

func (w *Worker) handleStoreBlock(h StoreBlockReq) error {
	data, ok, err := takePayload(w.broker, h.PayloadID)
	if err != nil {
		return err
	}
	if !ok {
		return errkit.New(errkit.InvalidArg, component, "store_block payload missing")
	}
	return w.durable.PutBlock(h.ID, data)
}

func (w *Worker) handleRetrieveData(h RetrieveDataReq) (ResponseResult, error) {
	var out []byte
	for _, r := range h.Ranges {
		buf := make([]byte, r.Size)
		ok, err := w.durable.GetSlice(h.ID, r.Pos, buf)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errkit.New(errkit.IO, component, "retrieve_data: block absent")
		}
		out = append(out, buf...)
	}
	return RetrieveDataAck(out), nil
}

// handlePersistUpdate flushes one buffered block's accumulated updates to
// durable storage, acking the pre-write ("delta") bytes at exactly the
// ranges just overwritten so the coordinator can run delta_update without
// a second round trip.
func (w *Worker) handlePersistUpdate(h PersistUpdateReq) (ResponseResult, error) {
	ev, err := w.buf.PopOne(h.ID)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return PersistUpdateAck(nil, nil), nil
	}

	ranges := presentRanges(ev.Partial)
	var oldData []byte
	for _, r := range ranges {
		old := make([]byte, r.Size)
		ok, err := w.durable.GetSlice(h.ID, r.Pos, old)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errkit.New(errkit.IO, component, "persist_update: block absent")
		}
		oldData = append(oldData, old...)
	}

	off := 0
	for _, s := range ev.Partial.Slices {
		if s.Present {
			if _, err := w.durable.PutSlice(h.ID, off, s.Data); err != nil {
				return nil, err
			}
			off += len(s.Data)
		} else {
			off += s.AbsentLen
		}
	}

	return PersistUpdateAck(ranges, oldData), nil
}

func (w *Worker) handleBufferUpdateData(h BufferUpdateDataReq) error {
	data, ok, err := takePayload(w.broker, h.PayloadID)
	if err != nil {
		return err
	}
	if !ok {
		return errkit.New(errkit.InvalidArg, component, "buffer_update_data payload missing")
	}
	off := 0
	for _, r := range h.Ranges {
		if off+r.Size > len(data) {
			return errkit.New(errkit.Range, component, "buffer_update_data payload shorter than ranges imply")
		}
		if _, err := w.buf.PushSlice(h.ID, r.Pos, data[off:off+r.Size]); err != nil {
			return err
		}
		off += r.Size
	}
	return nil
}

func (w *Worker) handleUpdate(h UpdateReq) error {
	data, ok, err := takePayload(w.broker, h.PayloadID)
	if err != nil {
		return err
	}
	if !ok {
		return errkit.New(errkit.InvalidArg, component, "update payload missing")
	}
	off := 0
	for _, r := range h.Ranges {
		if off+r.Size > len(data) {
			return errkit.New(errkit.Range, component, "update payload shorter than ranges imply")
		}
		ok, err := w.durable.PutSlice(h.ID, r.Pos, data[off:off+r.Size])
		if err != nil {
			return err
		}
		if !ok {
			return errkit.New(errkit.IO, component, "update: block absent")
		}
		off += r.Size
	}
	return nil
}

func (w *Worker) handleFlushBuf() error {
	for {
		ev, err := w.buf.Pop()
		if err != nil {
			return err
		}
		if ev == nil {
			return nil
		}
		old, ok, err := w.durable.GetBlockOwned(ev.ID)
		if err != nil {
			return err
		}
		if !ok {
			return errkit.New(errkit.IO, component, "flush_buf: block absent")
		}
		ev.Partial.Overlay(old)
		if err := w.durable.PutBlock(ev.ID, old); err != nil {
			return err
		}
	}
}

// presentRanges mirrors pipeline.partialBlockRanges: it is re-derived here
// because that helper is unexported.
func presentRanges(pb *ec.PartialBlock) []storage.Range {
	var out []storage.Range
	off := 0
	for _, s := range pb.Slices {
		if s.Present {
			out = append(out, storage.Range{Pos: off, Size: len(s.Data)})
			off += len(s.Data)
		} else {
			off += s.AbsentLen
		}
	}
	return out
}
