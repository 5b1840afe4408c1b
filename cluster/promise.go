package cluster

import (
	"sync"

	"github.com/lokyinzhao/stripe-update-go/errkit"
)

// DefaultPromiseCapacity bounds the coordinator's in-flight promise map;
// an unbounded map could accumulate stale entries under sustained Nak
// traffic.
const DefaultPromiseCapacity = 4096

// promise is a one-shot rendezvous cell: exactly one Response is ever sent
// on it, by the ack receiver goroutine that observes the matching TaskID.
type promise chan Response

// promiseTable tracks in-flight promises by TaskID, bounded to capacity.
type promiseTable struct {
	mu       sync.Mutex
	capacity int
	byTask   map[TaskID]promise
}

func newPromiseTable(capacity int) *promiseTable {
	if capacity <= 0 {
		capacity = DefaultPromiseCapacity
	}
	return &promiseTable{capacity: capacity, byTask: make(map[TaskID]promise)}
}

// register allocates a promise for id, failing if the table is at
// capacity so a stuck coordinator surfaces an overflow error instead of
// growing unbounded.
func (t *promiseTable) register(id TaskID) (promise, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.byTask) >= t.capacity {
		return nil, errkit.New(errkit.Other, component, "promise table at capacity, coordinator is falling behind")
	}
	p := make(promise, 1)
	t.byTask[id] = p
	return p, nil
}

// resolve delivers resp to the promise registered for its TaskID, if any.
// Returns false if no promise was waiting (a late or duplicate response).
func (t *promiseTable) resolve(resp Response) bool {
	t.mu.Lock()
	p, ok := t.byTask[resp.TaskID]
	if ok {
		delete(t.byTask, resp.TaskID)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	p <- resp
	return true
}

// forget removes a promise without resolving it, e.g. when the awaiting
// caller's context is cancelled.
func (t *promiseTable) forget(id TaskID) {
	t.mu.Lock()
	delete(t.byTask, id)
	t.mu.Unlock()
}
