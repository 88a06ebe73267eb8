// Package coordinator owns the process-wide reader-writer lock and the
// checkpoint cadence that ties the buffer pool, WAL and tree lifecycle
// together.
package coordinator

import (
	"sync"
	"time"

	"github.com/tuannm99/bptreekv/internal/btree"
	"github.com/tuannm99/bptreekv/internal/bufferpool"
	"github.com/tuannm99/bptreekv/internal/config"
	"github.com/tuannm99/bptreekv/internal/filestore"
	"github.com/tuannm99/bptreekv/internal/latch"
	"github.com/tuannm99/bptreekv/internal/overflowstore"
	"github.com/tuannm99/bptreekv/internal/pagestore"
	"github.com/tuannm99/bptreekv/internal/wal"
)

// Coordinator is the top-level lifecycle owner: it opens/replays storage,
// serializes mutations against reads with a single RW lock, and runs
// checkpoints on a configurable cadence.
type Coordinator struct {
	mu sync.RWMutex

	opts  config.Options
	fs    filestore.FileStore
	ps    *pagestore.PageStore
	pool  *bufferpool.Pool
	wal   *wal.Manager
	ovf   *overflowstore.OverflowStore
	tree  *btree.BTree
	latch *latch.Manager

	opsSinceCheckpoint int
	lastCheckpoint     time.Time
}

// Open initializes PageStore, opens and replays the WAL, builds the
// BufferPool, and reads Meta, per the coordinator's open sequence.
func Open(opts config.Options) (*Coordinator, error) {
	if err := config.Validate(opts); err != nil {
		return nil, err
	}

	var fs filestore.FileStore
	var err error
	if opts.SegmentPages > 0 {
		fs, err = filestore.OpenSegmented(opts.FilePath, opts.PageSize, uint32(opts.SegmentPages))
	} else {
		fs, err = filestore.Open(opts.FilePath, opts.PageSize)
	}
	if err != nil {
		return nil, err
	}

	ps, err := pagestore.Open(fs, opts.PageSize)
	if err != nil {
		return nil, err
	}

	walPath := opts.WalPath
	if walPath == "" {
		walPath = opts.FilePath + ".wal"
	}
	w, err := wal.Open(walPath, opts.PageSize, wal.Options{GroupCommit: opts.WalOptions.GroupCommit})
	if err != nil {
		return nil, err
	}
	if err := w.Replay(ps.FileStore()); err != nil {
		return nil, err
	}

	bufferPages := opts.BufferPages
	if bufferPages <= 0 {
		bufferPages = 256
	}
	pool := bufferpool.New(ps.FileStore(), ps.FileStore(), w, bufferPages, opts.EvictionPolicy, opts.WalOptions.GroupCommit)
	ovf := overflowstore.New(ps, pool, opts.PageSize)
	latches := latch.New()
	tree := btree.New(ps, pool, ovf, latches, opts.PageSize)

	return &Coordinator{
		opts:           opts,
		fs:             fs,
		ps:             ps,
		pool:           pool,
		wal:            w,
		ovf:            ovf,
		tree:           tree,
		latch:          latches,
		lastCheckpoint: time.Now(),
	}, nil
}

// Get acquires the shared lock and reads key.
func (c *Coordinator) Get(key uint64) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tree.Get(key)
}

// Range acquires the shared lock and scans [start, end].
func (c *Coordinator) Range(start, end uint64) ([]btree.KV, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tree.Range(start, end)
}

// Keys acquires the shared lock and lists keys in [start, end].
func (c *Coordinator) Keys(start, end uint64) ([]uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tree.Keys(start, end)
}

// Values acquires the shared lock and lists values in [start, end].
func (c *Coordinator) Values(start, end uint64) ([][]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tree.Values(start, end)
}

// Set acquires the exclusive lock, writes key/value, and runs the
// checkpoint cadence check.
func (c *Coordinator) Set(key uint64, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.tree.Set(key, value); err != nil {
		return err
	}
	return c.afterMutationLocked()
}

// Delete acquires the exclusive lock and removes key.
func (c *Coordinator) Delete(key uint64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	deleted, err := c.tree.Delete(key)
	if err != nil {
		return false, err
	}
	if err := c.afterMutationLocked(); err != nil {
		return deleted, err
	}
	return deleted, nil
}

// ConsistencyCheck acquires the shared lock and walks the tree.
func (c *Coordinator) ConsistencyCheck() (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tree.ConsistencyCheck()
}

// Defragment acquires the exclusive lock and rebuilds the tree.
func (c *Coordinator) Defragment() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.tree.Defragment(); err != nil {
		return err
	}
	return c.checkpointLocked()
}

// Vacuum acquires the exclusive lock and reclaims trailing free pages.
func (c *Coordinator) Vacuum() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.tree.Vacuum()
	if err != nil {
		return err
	}
	return c.afterMutationLocked()
}

// afterMutationLocked advances the checkpoint cadence counters and runs a
// checkpoint if either threshold is exceeded. Caller holds the write lock.
func (c *Coordinator) afterMutationLocked() error {
	c.opsSinceCheckpoint++
	dueByOps := c.opts.WalOptions.CheckpointIntervalOps > 0 && c.opsSinceCheckpoint >= c.opts.WalOptions.CheckpointIntervalOps
	dueByTime := c.opts.WalOptions.CheckpointIntervalMs > 0 && !c.lastCheckpoint.IsZero() &&
		time.Since(c.lastCheckpoint) >= time.Duration(c.opts.WalOptions.CheckpointIntervalMs)*time.Millisecond
	if dueByOps || dueByTime {
		return c.checkpointLocked()
	}
	return nil
}

func (c *Coordinator) checkpointLocked() error {
	if err := c.pool.FlushAll(); err != nil {
		return err
	}
	if err := c.wal.Checkpoint(c.ps.FileStore()); err != nil {
		return err
	}
	c.opsSinceCheckpoint = 0
	c.lastCheckpoint = time.Now()
	return nil
}

// Close acquires the exclusive lock, flushes and checkpoints, then closes
// the WAL and data files.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.pool.FlushAll(); err != nil {
		return err
	}
	if err := c.wal.Checkpoint(c.ps.FileStore()); err != nil {
		return err
	}
	if err := c.wal.Close(); err != nil {
		return err
	}
	if err := c.fs.Sync(); err != nil {
		return err
	}
	return c.fs.Close()
}
