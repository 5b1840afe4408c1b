package cluster

import (
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/lokyinzhao/stripe-update-go/errkit"
)

var (
	queuesBucket   = []byte("queues")
	payloadsBucket = []byte("payloads")
)

// pollInterval is how often BoltBroker.BLPop re-checks its queues while
// waiting, since bbolt itself has no blocking-pop primitive.
const pollInterval = 20 * time.Millisecond

// BoltBroker is a file-backed Broker for a persistent local deployment,
// the way backend/cache uses a single bolt.DB to survive process restarts.
// Queues are sub-buckets of "queues" keyed by an auto-incrementing sequence
// so Cursor.First always yields the oldest unpopped item; payloads are
// plain key/value entries under "payloads".
type BoltBroker struct {
	db *bolt.DB
}

// NewBoltBroker opens (creating if absent) a bbolt database at path.
func NewBoltBroker(path string) (*BoltBroker, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errkit.Wrap(errkit.IO, component, "opening bolt broker db", err)
	}
	b := &BoltBroker{db: db}
	if err := b.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(queuesBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(payloadsBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, errkit.Wrap(errkit.IO, component, "initializing bolt broker buckets", err)
	}
	return b, nil
}

// Close releases the underlying bolt.DB file handle.
func (b *BoltBroker) Close() error { return b.db.Close() }

func (b *BoltBroker) RPush(queue string, data []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		qs := tx.Bucket(queuesBucket)
		q, err := qs.CreateBucketIfNotExists([]byte(queue))
		if err != nil {
			return err
		}
		seq, err := q.NextSequence()
		if err != nil {
			return err
		}
		return q.Put(seqKey(seq), data)
	})
}

func (b *BoltBroker) LPop(queue string) ([]byte, bool, error) {
	var out []byte
	found := false
	err := b.db.Update(func(tx *bolt.Tx) error {
		qs := tx.Bucket(queuesBucket)
		q := qs.Bucket([]byte(queue))
		if q == nil {
			return nil
		}
		c := q.Cursor()
		k, v := c.First()
		if k == nil {
			return nil
		}
		out = append([]byte(nil), v...)
		found = true
		return q.Delete(k)
	})
	if err != nil {
		return nil, false, errkit.Wrap(errkit.IO, component, "bolt broker lpop", err)
	}
	return out, found, nil
}

func (b *BoltBroker) BLPop(timeout time.Duration, queues ...string) (string, []byte, bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		for _, q := range queues {
			data, ok, err := b.LPop(q)
			if err != nil {
				return "", nil, false, err
			}
			if ok {
				return q, data, true, nil
			}
		}
		if time.Now().After(deadline) {
			return "", nil, false, nil
		}
		time.Sleep(pollInterval)
	}
}

func (b *BoltBroker) FlushAll() error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(queuesBucket); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		if err := tx.DeleteBucket(payloadsBucket); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		if _, err := tx.CreateBucket(queuesBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(payloadsBucket)
		return err
	})
}

func (b *BoltBroker) PutPayload(id PayloadID, data []byte) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		p := tx.Bucket(payloadsBucket)
		key := id[:]
		if p.Get(key) != nil {
			return errPayloadExists
		}
		return p.Put(key, data)
	})
	if err == errPayloadExists {
		return errkit.New(errkit.InvalidArg, component, "payload id already present")
	}
	if err != nil {
		return errkit.Wrap(errkit.IO, component, "bolt broker put payload", err)
	}
	return nil
}

func (b *BoltBroker) TakePayload(id PayloadID) ([]byte, bool, error) {
	var out []byte
	found := false
	err := b.db.Update(func(tx *bolt.Tx) error {
		p := tx.Bucket(payloadsBucket)
		key := id[:]
		v := p.Get(key)
		if v == nil {
			return nil
		}
		out = append([]byte(nil), v...)
		found = true
		return p.Delete(key)
	})
	if err != nil {
		return nil, false, errkit.Wrap(errkit.IO, component, "bolt broker take payload", err)
	}
	return out, found, nil
}

var errPayloadExists = errkit.New(errkit.InvalidArg, component, "payload id already present")

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		k[i] = byte(seq)
		seq >>= 8
	}
	return k
}
