// Package bufferpool implements the bounded, pinning cache of pages with
// dirty tracking, LRU or clock eviction, and write-through via the WAL.
package bufferpool

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/tuannm99/bptreekv/internal/kverrors"
)

// EvictionPolicy selects the replacer a Pool is built with.
type EvictionPolicy string

const (
	LRU   EvictionPolicy = "lru"
	Clock EvictionPolicy = "clock"
)

// Loader reads a page's current bytes from the layer beneath the pool.
type Loader interface {
	ReadPage(n uint32) ([]byte, error)
}

// Writer writes a page's bytes through to the layer beneath the pool.
type Writer interface {
	WritePage(n uint32, buf []byte) error
}

// WAL is the subset of the write-ahead log the pool needs to make a dirty
// flush durable before it writes back in place.
type WAL interface {
	BeginTransaction() (uint32, error)
	StagePage(txID, pageNumber uint32, buf []byte) error
	CommitTransaction(txID uint32, skipSync bool) error
}

// Frame holds one cached page and its bookkeeping.
type Frame struct {
	PageNumber uint32
	Buf        []byte
	Dirty      bool
	Pin        int32
}

// Stats accumulates lifetime pool counters.
type Stats struct {
	Loads        uint64
	Flushes      uint64
	Evictions    uint64
	MaxResident  int
}

// Pool is a bounded, pinning page cache backed by a Loader/Writer pair and
// a WAL for write-through durability.
type Pool struct {
	mu          sync.Mutex
	loader      Loader
	writer      Writer
	wal         WAL
	groupCommit bool
	capacity    int
	replacer    Replacer

	frames    []*Frame
	pageTable map[uint32]int
	stats     Stats
}

// New builds a Pool of the given capacity using the requested eviction
// policy.
func New(loader Loader, writer Writer, wal WAL, capacity int, policy EvictionPolicy, groupCommit bool) *Pool {
	if capacity <= 0 {
		capacity = 16
	}
	var r Replacer
	switch policy {
	case Clock:
		r = newClockReplacer(capacity)
	default:
		r = newLRUReplacer(capacity)
	}
	return &Pool{
		loader:      loader,
		writer:      writer,
		wal:         wal,
		groupCommit: groupCommit,
		capacity:    capacity,
		replacer:    r,
		frames:      make([]*Frame, capacity),
		pageTable:   make(map[uint32]int),
	}
}

// GetPage returns a page's buffer, pinning it. On a miss it loads from the
// Loader, evicting a victim first if the pool is full.
func (p *Pool) GetPage(n uint32) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if idx, ok := p.pageTable[n]; ok {
		f := p.frames[idx]
		f.Pin++
		p.replacer.RecordAccess(idx)
		p.replacer.SetEvictable(idx, false)
		return f.Buf, nil
	}

	idx := p.freeSlotLocked()
	if idx == -1 {
		victim, ok := p.replacer.Evict()
		if !ok {
			return nil, kverrors.PoolExhausted
		}
		if err := p.flushFrameLocked(p.frames[victim]); err != nil {
			return nil, err
		}
		delete(p.pageTable, p.frames[victim].PageNumber)
		p.stats.Evictions++
		idx = victim
		p.frames[idx] = nil
	}

	buf, err := p.loader.ReadPage(n)
	if err != nil {
		return nil, err
	}
	p.frames[idx] = &Frame{PageNumber: n, Buf: buf, Pin: 1}
	p.pageTable[n] = idx
	p.replacer.RecordAccess(idx)
	p.replacer.SetEvictable(idx, false)
	p.stats.Loads++
	if len(p.pageTable) > p.stats.MaxResident {
		p.stats.MaxResident = len(p.pageTable)
	}
	return p.frames[idx].Buf, nil
}

func (p *Pool) freeSlotLocked() int {
	for i, f := range p.frames {
		if f == nil {
			return i
		}
	}
	return -1
}

// Unpin decrements a page's pin count and ORs in the dirty flag.
func (p *Pool) Unpin(n uint32, dirty bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.pageTable[n]
	if !ok {
		return nil
	}
	f := p.frames[idx]
	if f.Pin <= 0 {
		return fmt.Errorf("%w: unpin page %d with pin count %d", kverrors.LockMisuse, n, f.Pin)
	}
	if dirty {
		f.Dirty = true
	}
	f.Pin--
	if f.Pin == 0 {
		p.replacer.SetEvictable(idx, true)
	}
	return nil
}

// FlushPage writes a dirty frame's bytes through the WAL and then to
// Writer, clearing its dirty flag.
func (p *Pool) FlushPage(n uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx, ok := p.pageTable[n]
	if !ok {
		return nil
	}
	return p.flushFrameLocked(p.frames[idx])
}

func (p *Pool) flushFrameLocked(f *Frame) error {
	if f == nil || !f.Dirty {
		return nil
	}
	img := make([]byte, len(f.Buf))
	copy(img, f.Buf)

	txID, err := p.wal.BeginTransaction()
	if err != nil {
		return err
	}
	if err := p.wal.StagePage(txID, f.PageNumber, img); err != nil {
		return err
	}
	if err := p.wal.CommitTransaction(txID, p.groupCommit); err != nil {
		return err
	}
	if err := p.writer.WritePage(f.PageNumber, img); err != nil {
		return err
	}
	f.Dirty = false
	p.stats.Flushes++
	slog.Debug("bufferpool.flush", "pageNumber", f.PageNumber)
	return nil
}

// FlushAll flushes every dirty frame.
func (p *Pool) FlushAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range p.frames {
		if err := p.flushFrameLocked(f); err != nil {
			return err
		}
	}
	return nil
}

// DropPage removes a frame without flushing; it is an error to drop a
// pinned page.
func (p *Pool) DropPage(n uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx, ok := p.pageTable[n]
	if !ok {
		return nil
	}
	f := p.frames[idx]
	if f.Pin != 0 {
		return fmt.Errorf("%w: drop pinned page %d", kverrors.LockMisuse, n)
	}
	p.replacer.Remove(idx)
	p.frames[idx] = nil
	delete(p.pageTable, n)
	return nil
}

// Reset discards all frames. The caller must have flushed first.
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = make([]*Frame, p.capacity)
	p.pageTable = make(map[uint32]int)
	switch p.replacer.(type) {
	case *clockReplacer:
		p.replacer = newClockReplacer(p.capacity)
	default:
		p.replacer = newLRUReplacer(p.capacity)
	}
}

// Stats returns a snapshot of lifetime counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
