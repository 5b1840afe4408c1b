package cluster

import (
	"time"

	"github.com/lokyinzhao/stripe-update-go/errkit"
	"github.com/lokyinzhao/stripe-update-go/storage"
)

// adminAckWait bounds how long an administrative request waits for its ack
// before the worker is written off. Generous compared to the heartbeat
// window since FlushBuf and StoreBlock do real I/O.
const adminAckWait = 10 * time.Second

// awaitAck reads the shared response queue until the response for taskID
// arrives or timeout elapses. Responses for other task ids are discarded;
// the admin flows flush the broker namespace first, so the queue only ever
// carries their own acks.
func (c *Coordinator) awaitAck(taskID TaskID, timeout time.Duration) (Response, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Response{}, errkit.New(errkit.IO, component, "timed out waiting for worker ack")
		}
		_, data, ok, err := c.broker.BLPop(remaining, ResponseQueue)
		if err != nil {
			return Response{}, err
		}
		if !ok {
			continue
		}
		resp, err := DecodeResponse(data)
		if err != nil {
			logCoordinator.WithError(err).Warn("dropping undecodable response")
			continue
		}
		if resp.TaskID == taskID {
			return resp, nil
		}
	}
}

// nakError fetches a Nak's textual cause from the blob store.
func (c *Coordinator) nakError(n Nak) error {
	msg, ok, _ := c.broker.TakePayload(n.ErrPayloadID)
	if !ok {
		msg = []byte("worker reported an error")
	}
	return errkit.New(errkit.Other, component, string(msg))
}

// adminFanOut broadcasts head to every alive worker's request queue, awaits
// one ack per worker and reports nak'd workers without aborting the others —
// the shared shape behind KillAll, Purge, and BuildData's per-worker step.
func (c *Coordinator) adminFanOut(head func(id int) RequestHead) (int, error) {
	alive, err := c.heartbeat()
	if err != nil {
		return 0, err
	}
	acked := 0
	for id := range alive {
		taskID := NewTaskID()
		req := Request{TaskID: taskID, Head: head(id)}
		if err := c.broker.RPush(RequestQueue(id), req.Encode()); err != nil {
			return acked, err
		}
		resp, err := c.awaitAck(taskID, adminAckWait)
		if err != nil {
			return acked, err
		}
		if _, isNak := resp.Result.(Nak); isNak {
			logCoordinator.WithField("worker_id", id).Warn("admin request nak'd")
			continue
		}
		acked++
	}
	return acked, nil
}

// KillAll flushes the broker namespace, enumerates alive workers, and
// issues a Shutdown to each.
func (c *Coordinator) KillAll() error {
	if err := c.broker.FlushAll(); err != nil {
		return err
	}
	_, err := c.adminFanOut(func(int) RequestHead { return ShutdownReq{} })
	return err
}

// Purge flushes the broker namespace, enumerates alive workers, and tells
// each to flush its slice buffer and drop its durable store.
func (c *Coordinator) Purge() error {
	if err := c.broker.FlushAll(); err != nil {
		return err
	}
	if _, err := c.adminFanOut(func(int) RequestHead { return FlushBufReq{} }); err != nil {
		return err
	}
	_, err := c.adminFanOut(func(int) RequestHead { return DropStoreReq{} })
	return err
}

// BuildData flushes the broker namespace, enumerates alive workers, then
// fans StoreBlock requests for every block in [0, blockNum) out to its
// owning worker, zero-filled.
func (c *Coordinator) BuildData(blockNum int, blockSize int) error {
	if err := c.broker.FlushAll(); err != nil {
		return err
	}
	alive, err := c.heartbeat()
	if err != nil {
		return err
	}
	zero := make([]byte, blockSize)
	for id := 0; id < blockNum; id++ {
		bid := storage.BlockID(id)
		owner := c.ownerOf(bid)
		if !alive[owner] {
			return errkit.New(errkit.Other, component, "build_data: owning worker is not alive")
		}
		pid, err := putPayload(c.broker, zero)
		if err != nil {
			return err
		}
		taskID := NewTaskID()
		req := Request{TaskID: taskID, Head: StoreBlockReq{ID: bid, PayloadID: pid}}
		if err := c.broker.RPush(RequestQueue(owner), req.Encode()); err != nil {
			return err
		}
		resp, err := c.awaitAck(taskID, adminAckWait)
		if err != nil {
			return err
		}
		if n, isNak := resp.Result.(Nak); isNak {
			return c.nakError(n)
		}
	}
	return nil
}
