// Package btree implements the ordered key/value map: a disk-backed B+Tree
// with B-link right-sibling chaining, crab-locked mutation, and
// borrow-then-merge rebalancing on delete.
package btree

import (
	"math"
	"sort"

	"github.com/tuannm99/bptreekv/internal/bufferpool"
	"github.com/tuannm99/bptreekv/internal/kverrors"
	"github.com/tuannm99/bptreekv/internal/latch"
	"github.com/tuannm99/bptreekv/internal/overflowstore"
	"github.com/tuannm99/bptreekv/internal/page"
	"github.com/tuannm99/bptreekv/internal/pagestore"
)

// BTree is the ordered key/value map. Callers are expected to serialize
// mutations externally (the coordinator's exclusive lock); BTree itself
// still takes per-page latches so reads tolerate an in-flight split.
type BTree struct {
	ps       *pagestore.PageStore
	pool     *bufferpool.Pool
	ovf      *overflowstore.OverflowStore
	latches  *latch.Manager
	pageSize int
}

// New builds a BTree over the given storage layers.
func New(ps *pagestore.PageStore, pool *bufferpool.Pool, ovf *overflowstore.OverflowStore, latches *latch.Manager, pageSize int) *BTree {
	return &BTree{ps: ps, pool: pool, ovf: ovf, latches: latches, pageSize: pageSize}
}

// pathEntry records one step of a root-to-leaf descent: the page visited,
// and which child index was followed to leave it (-1 for LeftChild).
type pathEntry struct {
	pageNum  uint32
	childIdx int
	release  latch.Release
}

func childAt(ip *page.InternalPage, idx int) uint32 {
	if idx == -1 {
		return ip.LeftChild
	}
	return ip.Cells[idx].Child
}

// materialize reconstructs a cell's full value, reading the overflow
// chain if the value spilled beyond the inline prefix.
func (t *BTree) materialize(c *page.LeafCell) ([]byte, error) {
	if c.OverflowHead == 0 {
		out := make([]byte, len(c.InlineValue))
		copy(out, c.InlineValue)
		return out, nil
	}
	tailLen := c.TotalValueLength - uint32(len(c.InlineValue))
	tail, err := t.ovf.ReadChain(c.OverflowHead, tailLen)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, c.TotalValueLength)
	out = append(out, c.InlineValue...)
	out = append(out, tail...)
	return out, nil
}

// buildCell splits value into an inline prefix and, if needed, an
// overflow chain for the remainder.
func (t *BTree) buildCell(key uint64, value []byte) (page.LeafCell, error) {
	if uint64(len(value)) > math.MaxUint32 {
		return page.LeafCell{}, kverrors.ValueTooLarge
	}
	inlineMax := page.MaxInlineValue(t.pageSize)
	if len(value) <= inlineMax {
		inline := make([]byte, len(value))
		copy(inline, value)
		return page.LeafCell{Key: key, InlineValue: inline, TotalValueLength: uint32(len(value))}, nil
	}
	inline := make([]byte, inlineMax)
	copy(inline, value[:inlineMax])
	head, err := t.ovf.AllocateChain(value[inlineMax:])
	if err != nil {
		return page.LeafCell{}, err
	}
	return page.LeafCell{Key: key, InlineValue: inline, TotalValueLength: uint32(len(value)), OverflowHead: head}, nil
}

func (t *BTree) readLeaf(n uint32) (*page.LeafPage, error) {
	buf, err := t.pool.GetPage(n)
	if err != nil {
		return nil, err
	}
	leaf, err := page.DecodeLeaf(buf)
	if unpinErr := t.pool.Unpin(n, false); unpinErr != nil && err == nil {
		err = unpinErr
	}
	return leaf, err
}

func (t *BTree) readInternal(n uint32) (*page.InternalPage, error) {
	buf, err := t.pool.GetPage(n)
	if err != nil {
		return nil, err
	}
	internal, err := page.DecodeInternal(buf)
	if unpinErr := t.pool.Unpin(n, false); unpinErr != nil && err == nil {
		err = unpinErr
	}
	return internal, err
}

func (t *BTree) writeLeaf(n uint32, leaf *page.LeafPage) error {
	enc, err := page.EncodeLeaf(leaf, t.pageSize)
	if err != nil {
		return err
	}
	buf, err := t.pool.GetPage(n)
	if err != nil {
		return err
	}
	copy(buf, enc)
	if err := t.pool.Unpin(n, true); err != nil {
		return err
	}
	return t.pool.FlushPage(n)
}

func (t *BTree) writeInternal(n uint32, internal *page.InternalPage) error {
	enc, err := page.EncodeInternal(internal, t.pageSize)
	if err != nil {
		return err
	}
	buf, err := t.pool.GetPage(n)
	if err != nil {
		return err
	}
	copy(buf, enc)
	if err := t.pool.Unpin(n, true); err != nil {
		return err
	}
	return t.pool.FlushPage(n)
}

// Get looks up key, returning (value, true) if present or (nil, false)
// if absent.
func (t *BTree) Get(key uint64) ([]byte, bool, error) {
	release := t.latches.AcquireShared(t.ps.ReadMeta().RootPage)
	cur := t.ps.ReadMeta().RootPage
	for {
		buf, err := t.pool.GetPage(cur)
		if err != nil {
			release()
			return nil, false, err
		}
		typ := page.PeekType(buf)
		if typ == page.TypeLeaf {
			leaf, err := page.DecodeLeaf(buf)
			t.pool.Unpin(cur, false)
			release()
			if err != nil {
				return nil, false, err
			}
			if hk, ok := leaf.HighKey(); ok && key > hk && leaf.RightSibling != 0 {
				cur = leaf.RightSibling
				release = t.latches.AcquireShared(cur)
				continue
			}
			idx := leaf.Find(key)
			if idx == -1 {
				return nil, false, nil
			}
			val, err := t.materialize(&leaf.Cells[idx])
			return val, err == nil, err
		}

		internal, err := page.DecodeInternal(buf)
		t.pool.Unpin(cur, false)
		if err != nil {
			release()
			return nil, false, err
		}
		moveRight := internal.HighestSeparator(key) && internal.RightSibling != 0
		if moveRight {
			sib, err := t.readInternal(internal.RightSibling)
			if err != nil {
				release()
				return nil, false, err
			}
			moveRight = len(sib.Cells) > 0 && key >= sib.Cells[0].Key
		}
		if moveRight {
			next := internal.RightSibling
			nextRelease := t.latches.AcquireShared(next)
			release()
			release = nextRelease
			cur = next
			continue
		}
		_, child := internal.FindChild(key)
		childRelease := t.latches.AcquireShared(child)
		release()
		release = childRelease
		cur = child
	}
}

// sortedInsertIndexLeaf returns the index at which key should be inserted to
// keep cells ascending.
func sortedInsertIndexLeaf(cells []page.LeafCell, key uint64) int {
	return sort.Search(len(cells), func(i int) bool { return cells[i].Key > key })
}

func sortedInsertIndexInternal(cells []page.InternalCell, key uint64) int {
	return sort.Search(len(cells), func(i int) bool { return cells[i].Key > key })
}
