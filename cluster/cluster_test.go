package cluster

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/lokyinzhao/stripe-update-go/buffer"
	"github.com/lokyinzhao/stripe-update-go/ec"
	"github.com/lokyinzhao/stripe-update-go/pipeline"
	"github.com/lokyinzhao/stripe-update-go/storage"
	"github.com/lokyinzhao/stripe-update-go/storage/evict"
)

const testBlockSize = buffer.SegSize

// testWorker bundles one worker's storage so assertions can read the
// durable tier directly after the broker traffic settles.
type testWorker struct {
	worker  *Worker
	durable *storage.BlockStore
}

func newTestWorker(t *testing.T, id int, broker Broker) *testWorker {
	t.Helper()
	durable, err := storage.NewBlockStore(t.TempDir(), testBlockSize)
	require.NoError(t, err)
	buf, err := buffer.NewSliceBuffer(t.TempDir(), testBlockSize, evict.NewNonEvict())
	require.NoError(t, err)
	return &testWorker{worker: NewWorker(id, durable, buf, broker), durable: durable}
}

// startCluster launches n workers and returns them plus the errgroup running
// them; callers KillAll the workers and then Wait on the group.
func startCluster(t *testing.T, broker Broker, n int) ([]*testWorker, *errgroup.Group) {
	t.Helper()
	workers := make([]*testWorker, n)
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < n; i++ {
		workers[i] = newTestWorker(t, i+1, broker)
		w := workers[i].worker
		g.Go(func() error { return w.Run(ctx) })
	}
	return workers, g
}

// sliceGenerator replays a fixed update list.
type sliceGenerator struct {
	updates []pipeline.Update
	next    int
}

func (g *sliceGenerator) Next() (pipeline.Update, bool) {
	if g.next >= len(g.updates) {
		return pipeline.Update{}, false
	}
	up := g.updates[g.next]
	g.next++
	return up, true
}

func TestWorkerHandlers(t *testing.T) {
	broker := NewMemoryBroker()
	tw := newTestWorker(t, 1, broker)
	w := tw.worker

	blockData := make([]byte, testBlockSize)
	rand.New(rand.NewSource(1)).Read(blockData)

	// StoreBlock.
	pid, err := putPayload(broker, blockData)
	require.NoError(t, err)
	result := w.handle(Request{TaskID: NewTaskID(), Head: StoreBlockReq{ID: 4, PayloadID: pid}})
	require.IsType(t, Ack{}, result)

	got, ok, err := tw.durable.GetBlockOwned(4)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, blockData, got)

	// RetrieveData concatenates per-range slices in order.
	result = w.handle(Request{TaskID: NewTaskID(), Head: RetrieveDataReq{
		ID:     4,
		Ranges: []storage.Range{{Pos: 100, Size: 8}, {Pos: 0, Size: 4}},
	}})
	ack, isAck := result.(Ack)
	require.True(t, isAck)
	assert.Equal(t, append(append([]byte(nil), blockData[100:108]...), blockData[:4]...), ack.Data)

	// BufferUpdateData then PersistUpdate: the persist ack carries the
	// pre-write bytes at the persisted ranges.
	update := make([]byte, testBlockSize)
	rand.New(rand.NewSource(2)).Read(update)
	pid, err = putPayload(broker, update)
	require.NoError(t, err)
	result = w.handle(Request{TaskID: NewTaskID(), Head: BufferUpdateDataReq{
		ID:        4,
		Ranges:    []storage.Range{{Pos: 0, Size: testBlockSize}},
		PayloadID: pid,
	}})
	require.IsType(t, Ack{}, result)

	result = w.handle(Request{TaskID: NewTaskID(), Head: PersistUpdateReq{ID: 4}})
	ack, isAck = result.(Ack)
	require.True(t, isAck)
	assert.Equal(t, []storage.Range{{Pos: 0, Size: testBlockSize}}, ack.Ranges)
	assert.Equal(t, blockData, ack.Data, "ack carries the overwritten bytes")

	got, _, err = tw.durable.GetBlockOwned(4)
	require.NoError(t, err)
	assert.Equal(t, update, got, "buffered bytes hit durable storage")

	// Update writes straight to durable storage.
	patch := []byte{9, 9, 9, 9}
	pid, err = putPayload(broker, patch)
	require.NoError(t, err)
	result = w.handle(Request{TaskID: NewTaskID(), Head: UpdateReq{
		ID:        4,
		Ranges:    []storage.Range{{Pos: 8, Size: 4}},
		PayloadID: pid,
	}})
	require.IsType(t, Ack{}, result)
	got, _, err = tw.durable.GetBlockOwned(4)
	require.NoError(t, err)
	assert.Equal(t, patch, got[8:12])

	// A missing payload becomes a Nak with a fetchable cause.
	result = w.handle(Request{TaskID: NewTaskID(), Head: StoreBlockReq{ID: 5, PayloadID: NewPayloadID()}})
	nak, isNak := result.(Nak)
	require.True(t, isNak)
	msg, ok, err := broker.TakePayload(nak.ErrPayloadID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, string(msg), "payload missing")
}

func TestUnionSegmentsApplyDelta(t *testing.T) {
	const k, p, width = 2, 1, 64
	code, err := ec.FromKP(k, p)
	require.NoError(t, err)

	rnd := rand.New(rand.NewSource(3))
	orig := ec.NewStripe(k, p, width)
	for i := 0; i < k; i++ {
		rnd.Read(orig.Blocks[i])
	}
	require.NoError(t, code.EncodeStripe(orig))

	// A persisted range that starts mid-way into the union sub-range.
	persisted := storage.Range{Pos: 16, Size: 24}
	newBytes := make([]byte, persisted.Size)
	rnd.Read(newBytes)

	segments := newUnionSegments(
		[]storage.Range{{Pos: 0, Size: width}},
		p,
		[][]byte{append([]byte(nil), orig.Blocks[k]...)},
	)
	old := append([]byte(nil), orig.Blocks[0][persisted.Pos:persisted.End()]...)
	err = segments.applyDelta(code, 0, []storage.Range{persisted}, old,
		func(storage.Range) []byte { return newBytes })
	require.NoError(t, err)

	want := ec.NewStripe(k, p, width)
	for i := 0; i < k; i++ {
		copy(want.Blocks[i], orig.Blocks[i])
	}
	copy(want.Blocks[0][persisted.Pos:], newBytes)
	require.NoError(t, code.EncodeStripe(want))
	assert.Equal(t, []byte(want.Blocks[k]), segments.parityBytes(0))
}

func TestClusterEndToEnd(t *testing.T) {
	const (
		k, p      = 2, 1
		m         = k + p
		workerNum = 2
		blockNum  = 2 * m
	)
	broker := NewMemoryBroker()
	code, err := ec.FromKP(k, p)
	require.NoError(t, err)

	workers, g := startCluster(t, broker, workerNum)

	// A stripe capacity of one byte forces the eviction dance on every
	// buffered update.
	coord := NewCoordinator(broker, code, workerNum, 1)
	require.NoError(t, coord.BuildData(blockNum, testBlockSize))

	rnd := rand.New(rand.NewSource(9))
	var updates []pipeline.Update
	want := make(map[storage.BlockID][]byte)
	for s := 0; s < blockNum/m; s++ {
		for i := 0; i < k; i++ {
			data := make([]byte, testBlockSize)
			rnd.Read(data)
			id := storage.BlockID(s*m + i)
			updates = append(updates, pipeline.Update{BlockID: id, Offset: 0, Data: data})
			want[id] = data
		}
	}

	require.NoError(t, coord.Run(context.Background(), &sliceGenerator{updates: updates}))
	// Every update triggers one dance, so each produces a buffer-update ack
	// plus p parity-update acks.
	assert.Equal(t, len(updates)*(1+p), coord.Progress())

	require.NoError(t, coord.KillAll())
	require.NoError(t, g.Wait())

	// Every block lives on its owning worker; read them back and check
	// source contents and parity consistency.
	read := func(id storage.BlockID) []byte {
		owner := int(id)%workerNum + 1
		data, ok, err := workers[owner-1].durable.GetBlockOwned(id)
		require.NoError(t, err)
		require.True(t, ok, "block %d on worker %d", id, owner)
		return data
	}

	for id, data := range want {
		assert.Equal(t, data, read(id), "source block %d", id)
	}
	for s := 0; s < blockNum/m; s++ {
		stripe := ec.NewStripe(k, p, testBlockSize)
		for i := 0; i < k; i++ {
			copy(stripe.Blocks[i], read(storage.BlockID(s*m+i)))
		}
		require.NoError(t, code.EncodeStripe(stripe))
		for j := 0; j < p; j++ {
			assert.Equal(t, []byte(stripe.Blocks[k+j]), read(storage.BlockID(s*m+k+j)), "stripe %d parity %d", s, j)
		}
	}
}

func TestHeartbeatEnumeratesAlive(t *testing.T) {
	broker := NewMemoryBroker()
	code, err := ec.FromKP(2, 1)
	require.NoError(t, err)

	_, g := startCluster(t, broker, 2)
	// Worker 3 is configured but never started.
	coord := NewCoordinator(broker, code, 3, 1<<20)

	alive, err := coord.heartbeat()
	require.NoError(t, err)
	assert.True(t, alive[1])
	assert.True(t, alive[2])
	assert.False(t, alive[3])

	require.NoError(t, coord.KillAll())
	require.NoError(t, g.Wait())
}

func TestPurgeDropsWorkerState(t *testing.T) {
	broker := NewMemoryBroker()
	code, err := ec.FromKP(2, 1)
	require.NoError(t, err)

	workers, g := startCluster(t, broker, 1)
	coord := NewCoordinator(broker, code, 1, 1<<20)
	require.NoError(t, coord.BuildData(3, testBlockSize))

	require.NoError(t, coord.Purge())

	_, ok, err := workers[0].durable.GetBlockOwned(0)
	require.NoError(t, err)
	assert.False(t, ok, "durable store dropped")

	require.NoError(t, coord.KillAll())
	require.NoError(t, g.Wait())
}

func TestWorkerShutdownIsAcked(t *testing.T) {
	broker := NewMemoryBroker()
	tw := newTestWorker(t, 1, broker)

	done := make(chan error, 1)
	go func() { done <- tw.worker.Run(context.Background()) }()

	taskID := NewTaskID()
	req := Request{TaskID: taskID, Head: ShutdownReq{}}
	require.NoError(t, broker.RPush(RequestQueue(1), req.Encode()))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not shut down")
	}

	_, data, ok, err := broker.BLPop(time.Second, ResponseQueue)
	require.NoError(t, err)
	require.True(t, ok)
	resp, err := DecodeResponse(data)
	require.NoError(t, err)
	assert.Equal(t, taskID, resp.TaskID)
	assert.IsType(t, Ack{}, resp.Result)
}
