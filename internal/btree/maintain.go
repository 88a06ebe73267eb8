package btree

import "github.com/tuannm99/bptreekv/internal/page"

// Vacuum reclaims trailing free pages and truncates the underlying file.
func (t *BTree) Vacuum() (pagestoreVacuumResult, error) {
	r, err := t.ps.Vacuum()
	return pagestoreVacuumResult(r), err
}

// pagestoreVacuumResult mirrors pagestore.VacuumResult so callers of this
// package don't need to import pagestore directly for the return type.
type pagestoreVacuumResult struct {
	Reclaimed     int
	RemainingFree int
}

// Defragment rebuilds the tree from scratch: collects every live pair via
// a leaf walk, resets storage to a fresh empty tree, then reinserts
// everything. From the client's perspective this is atomic (the
// coordinator holds its exclusive lock for the whole call).
func (t *BTree) Defragment() error {
	if err := t.pool.FlushAll(); err != nil {
		return err
	}

	pairs, err := t.collectAllLive()
	if err != nil {
		return err
	}

	t.pool.Reset()
	t.latches.Reset()

	fresh := page.NewMeta(uint32(t.pageSize))
	if err := t.ps.WriteMeta(fresh); err != nil {
		return err
	}
	if err := t.ps.FileStore().TruncatePages(3); err != nil {
		return err
	}
	if err := t.ps.FileStore().WritePage(page.ReservedPage1, make([]byte, t.pageSize)); err != nil {
		return err
	}
	rootLeaf := &page.LeafPage{}
	buf, err := page.EncodeLeaf(rootLeaf, t.pageSize)
	if err != nil {
		return err
	}
	if err := t.ps.FileStore().WritePage(page.RootLeafPage, buf); err != nil {
		return err
	}

	for _, p := range pairs {
		if err := t.Set(p.Key, p.Value); err != nil {
			return err
		}
	}
	return nil
}

// collectAllLive does a left-to-right leaf-chain walk from the leftmost
// leaf, returning every live (key, value) pair.
func (t *BTree) collectAllLive() ([]KV, error) {
	cur := t.ps.ReadMeta().RootPage
	for {
		buf, err := t.pool.GetPage(cur)
		if err != nil {
			return nil, err
		}
		typ := page.PeekType(buf)
		if typ == page.TypeLeaf {
			t.pool.Unpin(cur, false)
			break
		}
		internal, err := page.DecodeInternal(buf)
		t.pool.Unpin(cur, false)
		if err != nil {
			return nil, err
		}
		cur = internal.LeftChild
	}

	var out []KV
	for cur != 0 {
		leaf, err := t.readLeaf(cur)
		if err != nil {
			return nil, err
		}
		for i := range leaf.Cells {
			val, err := t.materialize(&leaf.Cells[i])
			if err != nil {
				return nil, err
			}
			out = append(out, KV{Key: leaf.Cells[i].Key, Value: val})
		}
		cur = leaf.RightSibling
	}
	return out, nil
}
