package storage

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/lokyinzhao/stripe-update-go/errkit"
	"github.com/lokyinzhao/stripe-update-go/internal/logging"
)

var logSSD = logging.For("storage.ssd")

// SSDStorage is the fast, bounded whole-block tier sitting in front of a
// durable BlockStore: a get that misses the LRU falls through to the
// durable tier and populates the cache; a put that overflows the LRU
// evicts and writes the evicted block back to durable storage. This is
// distinct from SliceBuffer (segment-granular, coalescing) — SSDStorage
// only ever holds complete blocks.
type SSDStorage struct {
	durable   *BlockStore
	blockSize int
	cache     *lru.Cache
}

// NewSSDStorage wraps durable with an LRU cache bounded to capacity whole
// blocks.
func NewSSDStorage(durable *BlockStore, blockSize, capacity int) (*SSDStorage, error) {
	s := &SSDStorage{durable: durable, blockSize: blockSize}
	cache, err := lru.NewWithEvict(capacity, s.onEvict)
	if err != nil {
		return nil, errkit.Wrap(errkit.InvalidArg, component, "constructing ssd lru", err)
	}
	s.cache = cache
	return s, nil
}

func (s *SSDStorage) onEvict(key, value any) {
	id := key.(BlockID)
	data := value.([]byte)
	if err := s.durable.PutBlock(id, data); err != nil {
		logSSD.WithError(err).WithField("block_id", id).Error("failed to flush evicted block to durable storage")
	}
}

// GetBlock returns the block, reading through to durable storage and
// populating the cache on a miss. Returns (false, nil) if the block exists
// in neither tier.
func (s *SSDStorage) GetBlock(id BlockID) ([]byte, bool, error) {
	if v, ok := s.cache.Get(id); ok {
		return v.([]byte), true, nil
	}
	data, ok, err := s.durable.GetBlockOwned(id)
	if err != nil || !ok {
		return nil, ok, err
	}
	s.cache.Add(id, data)
	return data, true, nil
}

// PutBlock installs a full block into the cache, evicting and flushing the
// least-recently-used block if the cache is at capacity.
func (s *SSDStorage) PutBlock(id BlockID, data []byte) error {
	if len(data) != s.blockSize {
		return errkit.New(errkit.Range, component, "block data does not match configured block size")
	}
	cp := append([]byte(nil), data...)
	s.cache.Add(id, cp)
	return nil
}

// Flush writes every cached block back to durable storage without
// evicting it from the cache.
func (s *SSDStorage) Flush() error {
	for _, key := range s.cache.Keys() {
		id := key.(BlockID)
		v, ok := s.cache.Peek(id)
		if !ok {
			continue
		}
		if err := s.durable.PutBlock(id, v.([]byte)); err != nil {
			return err
		}
	}
	return nil
}
