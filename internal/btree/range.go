package btree

import "github.com/tuannm99/bptreekv/internal/page"

// KV is one key/value pair yielded by a range scan.
type KV struct {
	Key   uint64
	Value []byte
}

// Cursor iterates (key, value) pairs over [start, end] in ascending key
// order. Each leaf is copied into memory when the cursor reaches it; no
// latch or pin is held between Next calls.
type Cursor struct {
	t       *BTree
	end     uint64
	done    bool
	leaf    *page.LeafPage
	leafPos int
}

// NewCursor positions a cursor at the first key >= start, bounded by end
// inclusive. If end < start the cursor yields nothing.
func (t *BTree) NewCursor(start, end uint64) (*Cursor, error) {
	c := &Cursor{t: t, end: end}
	if end < start {
		c.done = true
		return c, nil
	}
	leaf, err := t.findLeafContaining(start)
	if err != nil {
		return nil, err
	}
	c.leaf = leaf
	pos := 0
	for pos < len(leaf.Cells) && leaf.Cells[pos].Key < start {
		pos++
	}
	c.leafPos = pos
	return c, nil
}

// findLeafContaining returns the leaf page that would hold key, applying
// the leaf-level move-right rule.
func (t *BTree) findLeafContaining(key uint64) (*page.LeafPage, error) {
	cur := t.ps.ReadMeta().RootPage
	release := t.latches.AcquireShared(cur)
	defer func() { release() }()
	for {
		buf, err := t.pool.GetPage(cur)
		if err != nil {
			return nil, err
		}
		typ := page.PeekType(buf)
		if typ == page.TypeLeaf {
			leaf, err := page.DecodeLeaf(buf)
			t.pool.Unpin(cur, false)
			if err != nil {
				return nil, err
			}
			if hk, ok := leaf.HighKey(); ok && key > hk && leaf.RightSibling != 0 {
				next := leaf.RightSibling
				nextRelease := t.latches.AcquireShared(next)
				release()
				release = nextRelease
				cur = next
				continue
			}
			return leaf, nil
		}
		internal, err := page.DecodeInternal(buf)
		t.pool.Unpin(cur, false)
		if err != nil {
			return nil, err
		}
		moveRight := internal.HighestSeparator(key) && internal.RightSibling != 0
		if moveRight {
			sib, err := t.readInternal(internal.RightSibling)
			if err != nil {
				return nil, err
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

// Next advances the cursor, returning (pair, true, nil) or (_, false, nil)
// when exhausted.
func (c *Cursor) Next() (KV, bool, error) {
	for !c.done {
		if c.leaf == nil || c.leafPos >= len(c.leaf.Cells) {
			if c.leaf == nil || c.leaf.RightSibling == 0 {
				c.done = true
				break
			}
			next, err := c.t.readLeaf(c.leaf.RightSibling)
			if err != nil {
				return KV{}, false, err
			}
			c.leaf = next
			c.leafPos = 0
			continue
		}
		cell := &c.leaf.Cells[c.leafPos]
		if cell.Key > c.end {
			c.done = true
			break
		}
		c.leafPos++
		val, err := c.t.materialize(cell)
		if err != nil {
			return KV{}, false, err
		}
		return KV{Key: cell.Key, Value: val}, true, nil
	}
	return KV{}, false, nil
}

// Range eagerly collects every pair in [start, end].
func (t *BTree) Range(start, end uint64) ([]KV, error) {
	cur, err := t.NewCursor(start, end)
	if err != nil {
		return nil, err
	}
	var out []KV
	for {
		kv, ok, err := cur.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, kv)
	}
	return out, nil
}

// Keys returns just the keys in [start, end].
func (t *BTree) Keys(start, end uint64) ([]uint64, error) {
	pairs, err := t.Range(start, end)
	if err != nil {
		return nil, err
	}
	keys := make([]uint64, len(pairs))
	for i, p := range pairs {
		keys[i] = p.Key
	}
	return keys, nil
}

// Values returns just the values in [start, end], in key order.
func (t *BTree) Values(start, end uint64) ([][]byte, error) {
	pairs, err := t.Range(start, end)
	if err != nil {
		return nil, err
	}
	values := make([][]byte, len(pairs))
	for i, p := range pairs {
		values[i] = p.Value
	}
	return values, nil
}
