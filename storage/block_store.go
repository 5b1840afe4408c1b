package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/lokyinzhao/stripe-update-go/errkit"
	"github.com/lokyinzhao/stripe-update-go/internal/logging"
)

var logBlockStore = logging.For("storage.blockstore")

// BlockID addresses a block. StripeID = BlockID / BlockID(m).
type BlockID uint64

// BlockStore is the durable tier: one file per block under root, at a
// deterministic two-level hex-split path that bounds directory fan-out
// (see blockPath).
type BlockStore struct {
	root      string
	blockSize int
}

// NewBlockStore opens (without scanning) a durable block store rooted at
// dir. The directory must already exist.
func NewBlockStore(dir string, blockSize int) (*BlockStore, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, errkit.Wrap(errkit.IO, component, "durable store root does not exist", err)
	}
	if !info.IsDir() {
		return nil, errkit.New(errkit.InvalidArg, component, "durable store root is not a directory")
	}
	return &BlockStore{root: dir, blockSize: blockSize}, nil
}

// blockPath splits a 64-bit block id's 16-digit zero-padded hex
// representation after its first two digits, e.g. block 0x1234ABCD ->
// root/00/0000001234ABCD, bounding the top level to at most 256
// directories.
func blockPath(root string, id BlockID) string {
	hex := fmt.Sprintf("%016X", uint64(id))
	return filepath.Join(root, hex[:2], hex[2:])
}

// PutBlock writes a full block, zero-filling and creating parent
// directories on first write. Precondition: len(data) == block_size.
func (bs *BlockStore) PutBlock(id BlockID, data []byte) error {
	if len(data) != bs.blockSize {
		return errkit.New(errkit.Range, component, "block data does not match configured block size")
	}
	path := blockPath(bs.root, id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errkit.Wrap(errkit.IO, component, "creating block directory", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return errkit.Wrap(errkit.IO, component, "opening block file", err)
	}
	defer f.Close()
	if _, err := f.WriteAt(data, 0); err != nil {
		return errkit.Wrap(errkit.IO, component, "writing block", err)
	}
	return nil
}

// GetBlock reads the full block into buf, which must be exactly
// block_size long. Returns (false, nil) if the block does not exist.
func (bs *BlockStore) GetBlock(id BlockID, buf []byte) (bool, error) {
	if len(buf) != bs.blockSize {
		return false, errkit.New(errkit.Range, component, "destination buffer does not match block size")
	}
	f, err := os.Open(blockPath(bs.root, id))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errkit.Wrap(errkit.IO, component, "opening block file", err)
	}
	defer f.Close()
	if _, err := f.ReadAt(buf, 0); err != nil {
		return false, errkit.Wrap(errkit.IO, component, "reading block", err)
	}
	return true, nil
}

// GetBlockOwned is GetBlock but allocates and returns its own buffer.
func (bs *BlockStore) GetBlockOwned(id BlockID) ([]byte, bool, error) {
	buf := make([]byte, bs.blockSize)
	ok, err := bs.GetBlock(id, buf)
	if err != nil || !ok {
		return nil, ok, err
	}
	return buf, true, nil
}

// PutSlice writes bytes at offset into an existing block. Never creates a
// block: returns (false, nil) if the block is absent.
func (bs *BlockStore) PutSlice(id BlockID, offset int, data []byte) (bool, error) {
	if offset < 0 || offset+len(data) > bs.blockSize {
		return false, errkit.New(errkit.Range, component, "slice out of block bounds")
	}
	f, err := os.OpenFile(blockPath(bs.root, id), os.O_RDWR, 0o644)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errkit.Wrap(errkit.IO, component, "opening block file", err)
	}
	defer f.Close()
	if _, err := f.WriteAt(data, int64(offset)); err != nil {
		return false, errkit.Wrap(errkit.IO, component, "writing slice", err)
	}
	return true, nil
}

// GetSlice reads len(buf) bytes at offset from an existing block. Returns
// (false, nil) if the block is absent.
func (bs *BlockStore) GetSlice(id BlockID, offset int, buf []byte) (bool, error) {
	if offset < 0 || offset+len(buf) > bs.blockSize {
		return false, errkit.New(errkit.Range, component, "slice out of block bounds")
	}
	f, err := os.Open(blockPath(bs.root, id))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errkit.Wrap(errkit.IO, component, "opening block file", err)
	}
	defer f.Close()
	if _, err := f.ReadAt(buf, int64(offset)); err != nil {
		return false, errkit.Wrap(errkit.IO, component, "reading slice", err)
	}
	return true, nil
}

// Purge removes every block file under root. Best-effort: logs and
// continues on individual removal failures rather than aborting.
func (bs *BlockStore) Purge() error {
	entries, err := os.ReadDir(bs.root)
	if err != nil {
		return errkit.Wrap(errkit.IO, component, "reading durable store root", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(bs.root, e.Name())); err != nil {
			logBlockStore.WithError(err).Warn("failed to remove durable store entry during purge")
		}
	}
	return nil
}
