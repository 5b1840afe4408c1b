package cluster

import (
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokyinzhao/stripe-update-go/storage"
)

// brokersUnderTest runs the same contract assertions against both Broker
// implementations.
func brokersUnderTest(t *testing.T) map[string]Broker {
	t.Helper()
	bolt, err := NewBoltBroker(filepath.Join(t.TempDir(), "broker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bolt.Close() })
	return map[string]Broker{
		"memory": NewMemoryBroker(),
		"bolt":   bolt,
	}
}

func TestBrokerQueueFIFO(t *testing.T) {
	for name, b := range brokersUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, b.RPush("q", []byte("one")))
			require.NoError(t, b.RPush("q", []byte("two")))
			require.NoError(t, b.RPush("q", []byte("three")))

			for _, want := range []string{"one", "two", "three"} {
				data, ok, err := b.LPop("q")
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, want, string(data))
			}
			_, ok, err := b.LPop("q")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestBrokerBLPop(t *testing.T) {
	for name, b := range brokersUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, b.RPush("a", []byte("x")))
			queue, data, ok, err := b.BLPop(time.Second, "a", "b")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "a", queue)
			assert.Equal(t, "x", string(data))

			// Empty queues time out rather than hang.
			start := time.Now()
			_, _, ok, err = b.BLPop(50*time.Millisecond, "a", "b")
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Less(t, time.Since(start), 2*time.Second)
		})
	}
}

func TestBrokerBLPopWakesOnPush(t *testing.T) {
	for name, b := range brokersUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			go func() {
				time.Sleep(30 * time.Millisecond)
				_ = b.RPush("late", []byte("y"))
			}()
			_, data, ok, err := b.BLPop(2*time.Second, "late")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "y", string(data))
		})
	}
}

func TestBrokerFlushAll(t *testing.T) {
	for name, b := range brokersUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, b.RPush("q", []byte("x")))
			pid := NewPayloadID()
			require.NoError(t, b.PutPayload(pid, []byte("blob")))

			require.NoError(t, b.FlushAll())

			_, ok, err := b.LPop("q")
			require.NoError(t, err)
			assert.False(t, ok)
			_, ok, err = b.TakePayload(pid)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestBrokerPayloadSetIfAbsentGetDel(t *testing.T) {
	for name, b := range brokersUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			pid := NewPayloadID()
			require.NoError(t, b.PutPayload(pid, []byte("first")))
			assert.Error(t, b.PutPayload(pid, []byte("second")), "set-if-absent must reject overwrite")

			data, ok, err := b.TakePayload(pid)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "first", string(data))

			_, ok, err = b.TakePayload(pid)
			require.NoError(t, err)
			assert.False(t, ok, "get-and-delete consumed the payload")
		})
	}
}

func TestPayloadEnvelopeRoundTrip(t *testing.T) {
	b := NewMemoryBroker()

	small := []byte("tiny payload")
	pid, err := putPayload(b, small)
	require.NoError(t, err)
	got, ok, err := takePayload(b, pid)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, small, got)

	// Above the threshold the envelope goes through zstd and back.
	big := make([]byte, 2*compressionThreshold)
	rand.New(rand.NewSource(1)).Read(big)
	pid, err = putPayload(b, big)
	require.NoError(t, err)
	got, ok, err = takePayload(b, pid)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, big, got)

	// A compressible payload actually shrinks on the wire.
	zeros := make([]byte, 2*compressionThreshold)
	encoded, err := encodePayload(zeros)
	require.NoError(t, err)
	assert.Less(t, len(encoded), len(zeros)/2)
}

func TestDecodePayloadRejects(t *testing.T) {
	_, err := decodePayload(nil)
	assert.Error(t, err)
	_, err = decodePayload([]byte{0xFF, 1, 2})
	assert.Error(t, err)
}

func TestPromiseTable(t *testing.T) {
	pt := newPromiseTable(2)

	id1, id2 := NewTaskID(), NewTaskID()
	p1, err := pt.register(id1)
	require.NoError(t, err)
	_, err = pt.register(id2)
	require.NoError(t, err)

	_, err = pt.register(NewTaskID())
	assert.Error(t, err, "bounded table surfaces overflow")

	resp := Response{TaskID: id1, Result: SimpleAck()}
	assert.True(t, pt.resolve(resp))
	assert.Equal(t, resp, <-p1)
	assert.False(t, pt.resolve(resp), "already resolved")

	pt.forget(id2)
	assert.False(t, pt.resolve(Response{TaskID: id2, Result: SimpleAck()}))
}

func TestPendingBytes(t *testing.T) {
	pb := newPendingBytes()
	seg := make([]byte, 4096)
	rand.New(rand.NewSource(2)).Read(seg)
	pb.push(3, 4096, seg)

	got := pb.take(3, storage.Range{Pos: 4096, Size: 4096})
	assert.Equal(t, seg, got)
}
