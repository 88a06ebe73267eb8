package btree

import (
	"github.com/tuannm99/bptreekv/internal/page"
)

// Set inserts or overwrites key with value.
func (t *BTree) Set(key uint64, value []byte) error {
	path, err := t.descendExclusive(key)
	if err != nil {
		return err
	}
	defer releasePath(path)

	leafNum := path[len(path)-1].pageNum
	leaf, err := t.readLeaf(leafNum)
	if err != nil {
		return err
	}

	cell, err := t.buildCell(key, value)
	if err != nil {
		return err
	}

	idx := leaf.Find(key)
	becameMin := false
	if idx >= 0 {
		old := leaf.Cells[idx]
		if old.OverflowHead != 0 {
			if err := t.ovf.FreeChain(old.OverflowHead); err != nil {
				return err
			}
		}
		leaf.Cells[idx] = cell
	} else {
		insertAt := sortedInsertIndexLeaf(leaf.Cells, key)
		leaf.Cells = append(leaf.Cells, page.LeafCell{})
		copy(leaf.Cells[insertAt+1:], leaf.Cells[insertAt:])
		leaf.Cells[insertAt] = cell
		becameMin = insertAt == 0

		meta := t.ps.ReadMeta()
		meta.KeyCount++
		if err := t.ps.WriteMeta(meta); err != nil {
			return err
		}
	}

	if _, encErr := page.EncodeLeaf(leaf, t.pageSize); encErr != nil {
		return t.splitLeaf(path, leaf)
	}
	if err := t.writeLeaf(leafNum, leaf); err != nil {
		return err
	}
	if becameMin && len(path) > 1 {
		return t.updateAncestorSeparator(path, len(path)-2, key)
	}
	return nil
}

// descendExclusive walks root-to-leaf taking exclusive latches along the
// way, recording the path for split/merge propagation.
func (t *BTree) descendExclusive(key uint64) ([]pathEntry, error) {
	var path []pathEntry
	cur := t.ps.ReadMeta().RootPage
	for {
		release := t.latches.AcquireExclusive(cur)
		buf, err := t.pool.GetPage(cur)
		if err != nil {
			release()
			releasePath(path)
			return nil, err
		}
		typ := page.PeekType(buf)
		if typ == page.TypeLeaf {
			t.pool.Unpin(cur, false)
			path = append(path, pathEntry{pageNum: cur, childIdx: 0})
			path[len(path)-1].release = release
			return path, nil
		}
		internal, err := page.DecodeInternal(buf)
		t.pool.Unpin(cur, false)
		if err != nil {
			release()
			releasePath(path)
			return nil, err
		}
		idx, child := internal.FindChild(key)
		entry := pathEntry{pageNum: cur, childIdx: idx}
		entry.release = release
		path = append(path, entry)
		cur = child
	}
}

// updateAncestorSeparator rewrites the separator key in the immediate
// parent at path[parentLevel]. If that parent routes here via LeftChild it
// has no separator to update and nothing is written; higher ancestors are
// not visited.
func (t *BTree) updateAncestorSeparator(path []pathEntry, parentLevel int, newKey uint64) error {
	if parentLevel < 0 {
		return nil
	}
	parentNum := path[parentLevel].pageNum
	childIdx := path[parentLevel].childIdx
	if childIdx == -1 {
		return nil
	}
	internal, err := t.readInternal(parentNum)
	if err != nil {
		return err
	}
	internal.Cells[childIdx].Key = newKey
	return t.writeInternal(parentNum, internal)
}

// splitLeaf splits an over-full leaf and propagates the promoted
// separator into the parent (growing the root if needed).
func (t *BTree) splitLeaf(path []pathEntry, leaf *page.LeafPage) error {
	leafNum := path[len(path)-1].pageNum

	total := 0
	sizes := make([]int, len(leaf.Cells))
	for i := range leaf.Cells {
		sizes[i] = leaf.Cells[i].CellSize()
		total += sizes[i]
	}
	splitAt := 0
	acc := 0
	half := total / 2
	for acc < half && splitAt < len(leaf.Cells)-1 {
		acc += sizes[splitAt]
		splitAt++
	}
	if splitAt == 0 {
		splitAt = len(leaf.Cells) / 2
	}

	newPageNum, err := t.ps.AllocatePage()
	if err != nil {
		return err
	}
	newLeaf := &page.LeafPage{RightSibling: leaf.RightSibling, Cells: append([]page.LeafCell(nil), leaf.Cells[splitAt:]...)}
	leaf.Cells = leaf.Cells[:splitAt]
	leaf.RightSibling = newPageNum

	if err := t.writeLeaf(newPageNum, newLeaf); err != nil {
		return err
	}
	if err := t.writeLeaf(leafNum, leaf); err != nil {
		return err
	}

	promotedKey := newLeaf.Cells[0].Key
	if len(path) == 1 {
		return t.growRoot(leafNum, promotedKey, newPageNum)
	}
	return t.insertIntoInternal(path[:len(path)-1], promotedKey, newPageNum)
}

// growRoot allocates a fresh root above oldRoot and its new right sibling.
func (t *BTree) growRoot(oldRoot uint32, promotedKey uint64, newSibling uint32) error {
	newRootNum, err := t.ps.AllocatePage()
	if err != nil {
		return err
	}
	newRoot := &page.InternalPage{
		LeftChild: oldRoot,
		Cells:     []page.InternalCell{{Key: promotedKey, Child: newSibling}},
	}
	if err := t.writeInternal(newRootNum, newRoot); err != nil {
		return err
	}
	meta := t.ps.ReadMeta()
	meta.RootPage = newRootNum
	meta.TreeDepth++
	return t.ps.WriteMeta(meta)
}

// insertIntoInternal inserts (key, child) into the internal node at the
// tail of path, splitting and propagating upward as needed.
func (t *BTree) insertIntoInternal(path []pathEntry, key uint64, child uint32) error {
	nodeNum := path[len(path)-1].pageNum
	internal, err := t.readInternal(nodeNum)
	if err != nil {
		return err
	}

	insertAt := sortedInsertIndexInternal(internal.Cells, key)
	internal.Cells = append(internal.Cells, page.InternalCell{})
	copy(internal.Cells[insertAt+1:], internal.Cells[insertAt:])
	internal.Cells[insertAt] = page.InternalCell{Key: key, Child: child}

	maxCells := page.MaxInternalCells(t.pageSize)
	if len(internal.Cells) <= maxCells {
		return t.writeInternal(nodeNum, internal)
	}

	splitIdx := (len(internal.Cells)+1)/2 - 1
	promoted := internal.Cells[splitIdx]
	rightCells := append([]page.InternalCell(nil), internal.Cells[splitIdx+1:]...)
	leftCells := internal.Cells[:splitIdx]

	newNodeNum, err := t.ps.AllocatePage()
	if err != nil {
		return err
	}
	newInternal := &page.InternalPage{LeftChild: promoted.Child, RightSibling: internal.RightSibling, Cells: rightCells}
	internal.Cells = leftCells
	internal.RightSibling = newNodeNum

	if err := t.writeInternal(newNodeNum, newInternal); err != nil {
		return err
	}
	if err := t.writeInternal(nodeNum, internal); err != nil {
		return err
	}

	if len(path) == 1 {
		return t.growRoot(nodeNum, promoted.Key, newNodeNum)
	}
	return t.insertIntoInternal(path[:len(path)-1], promoted.Key, newNodeNum)
}

func releasePath(path []pathEntry) {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i].release != nil {
			path[i].release()
		}
	}
}
