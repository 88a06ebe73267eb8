package btree

import "github.com/tuannm99/bptreekv/internal/page"

// minLeafKeys and minInternalKeys derive the fanout floor from the
// configured page size: floor(max/2).
func (t *BTree) minLeafKeys() int {
	return t.maxLeafKeysEstimate() / 2
}

func (t *BTree) minInternalKeys() int {
	return page.MaxInternalCells(t.pageSize) / 2
}

// maxLeafKeysEstimate estimates the max cell count for an all-inline leaf,
// used only to derive the MIN_LEAF_KEYS floor; real leaves may hold fewer
// cells if values are larger.
func (t *BTree) maxLeafKeysEstimate() int {
	perCell := page.KeySize + 12 + 2 // key + cell header + slot pointer, no inline bytes
	free := t.pageSize - page.HeaderSize
	if free <= 0 || perCell == 0 {
		return 1
	}
	n := free / perCell
	if n < 2 {
		n = 2
	}
	return n
}

// Delete removes key, returning whether it was present.
func (t *BTree) Delete(key uint64) (bool, error) {
	path, err := t.descendExclusive(key)
	if err != nil {
		return false, err
	}
	defer releasePath(path)

	leafNum := path[len(path)-1].pageNum
	leaf, err := t.readLeaf(leafNum)
	if err != nil {
		return false, err
	}
	idx := leaf.Find(key)
	if idx == -1 {
		return false, nil
	}
	if leaf.Cells[idx].OverflowHead != 0 {
		if err := t.ovf.FreeChain(leaf.Cells[idx].OverflowHead); err != nil {
			return false, err
		}
	}
	leaf.Cells = append(leaf.Cells[:idx], leaf.Cells[idx+1:]...)

	meta := t.ps.ReadMeta()
	meta.KeyCount--
	if err := t.ps.WriteMeta(meta); err != nil {
		return false, err
	}

	if idx == 0 && len(leaf.Cells) > 0 && len(path) > 1 {
		if err := t.updateAncestorSeparator(path, len(path)-2, leaf.Cells[0].Key); err != nil {
			return false, err
		}
	}
	if err := t.writeLeaf(leafNum, leaf); err != nil {
		return false, err
	}

	if err := t.rebalanceLeaf(path, leaf); err != nil {
		return false, err
	}
	return true, nil
}

// rebalanceLeaf restores the MIN_LEAF_KEYS invariant after a deletion,
// preferring borrow from a sibling over merge. A merge happens only when the
// combined cells fit in one page; when no sibling can lend and neither merge
// fits, the leaf is left below the minimum.
func (t *BTree) rebalanceLeaf(path []pathEntry, leaf *page.LeafPage) error {
	meta := t.ps.ReadMeta()
	if meta.TreeDepth == 1 {
		return nil
	}
	if len(leaf.Cells) >= t.minLeafKeys() {
		return nil
	}
	leafNum := path[len(path)-1].pageNum
	parentLevel := len(path) - 2
	parentNum := path[parentLevel].pageNum
	childIdx := path[parentLevel].childIdx

	parent, err := t.readInternal(parentNum)
	if err != nil {
		return err
	}

	leftIdx := childIdx - 1
	hasLeft := leftIdx >= -1 && childIdx > -1
	var leftNum uint32
	if hasLeft {
		leftNum = childAt(parent, leftIdx)
	}
	rightNum := leaf.RightSibling
	hasRight := rightNum != 0 && childIdx+1 < len(parent.Cells)

	if hasLeft {
		left, err := t.readLeaf(leftNum)
		if err != nil {
			return err
		}
		if len(left.Cells) > t.minLeafKeys() {
			moved := left.Cells[len(left.Cells)-1]
			left.Cells = left.Cells[:len(left.Cells)-1]
			leaf.Cells = append([]page.LeafCell{moved}, leaf.Cells...)
			if err := t.writeLeaf(leftNum, left); err != nil {
				return err
			}
			if err := t.writeLeaf(leafNum, leaf); err != nil {
				return err
			}
			return t.updateAncestorSeparator(path, parentLevel, leaf.Cells[0].Key)
		}
		hasLeft = left.SerializedSize()+leaf.SerializedSize()-page.HeaderSize <= t.pageSize
	}
	if hasRight {
		right, err := t.readLeaf(rightNum)
		if err != nil {
			return err
		}
		if len(right.Cells) > t.minLeafKeys() {
			moved := right.Cells[0]
			right.Cells = right.Cells[1:]
			leaf.Cells = append(leaf.Cells, moved)
			if err := t.writeLeaf(leafNum, leaf); err != nil {
				return err
			}
			if err := t.writeLeaf(rightNum, right); err != nil {
				return err
			}
			// right's separator lives in parent at childIdx+1 (its own
			// routing index from parent's perspective).
			return t.setSeparator(parentNum, childIdx+1, right.Cells[0].Key)
		}
		hasRight = leaf.SerializedSize()+right.SerializedSize()-page.HeaderSize <= t.pageSize
	}

	// From here on hasLeft/hasRight mean the merged leaf fits in one page.
	if hasLeft {
		left, err := t.readLeaf(leftNum)
		if err != nil {
			return err
		}
		left.Cells = append(left.Cells, leaf.Cells...)
		left.RightSibling = leaf.RightSibling
		if err := t.writeLeaf(leftNum, left); err != nil {
			return err
		}
		if err := t.ps.FreePage(leafNum); err != nil {
			return err
		}
		if err := t.removeInternalCell(parentNum, childIdx); err != nil {
			return err
		}
		path[parentLevel].childIdx--
		return t.rebalanceInternal(path[:parentLevel+1])
	}
	if hasRight {
		right, err := t.readLeaf(rightNum)
		if err != nil {
			return err
		}
		leaf.Cells = append(leaf.Cells, right.Cells...)
		leaf.RightSibling = right.RightSibling
		if err := t.writeLeaf(leafNum, leaf); err != nil {
			return err
		}
		if err := t.ps.FreePage(rightNum); err != nil {
			return err
		}
		if err := t.removeInternalCell(parentNum, childIdx+1); err != nil {
			return err
		}
		return t.rebalanceInternal(path[:parentLevel+1])
	}
	return nil
}

// removeInternalCell deletes the separator at cellIdx from node, handling
// the LeftChild-routed case by promoting the first remaining cell's child.
func (t *BTree) removeInternalCell(nodeNum uint32, cellIdx int) error {
	internal, err := t.readInternal(nodeNum)
	if err != nil {
		return err
	}
	if cellIdx == -1 {
		// The left-most child merged away; its successor cell's child
		// becomes the new LeftChild.
		if len(internal.Cells) == 0 {
			return t.writeInternal(nodeNum, internal)
		}
		internal.LeftChild = internal.Cells[0].Child
		internal.Cells = internal.Cells[1:]
	} else {
		internal.Cells = append(internal.Cells[:cellIdx], internal.Cells[cellIdx+1:]...)
	}
	return t.writeInternal(nodeNum, internal)
}

// rebalanceInternal restores MIN_INTERNAL_KEYS bottom-up along path,
// borrowing through the parent separator before merging, and shrinks the
// root if it empties.
func (t *BTree) rebalanceInternal(path []pathEntry) error {
	if len(path) == 0 {
		return nil
	}
	nodeNum := path[len(path)-1].pageNum
	node, err := t.readInternal(nodeNum)
	if err != nil {
		return err
	}

	if len(path) == 1 {
		if len(node.Cells) == 0 && node.LeftChild != 0 {
			meta := t.ps.ReadMeta()
			meta.RootPage = node.LeftChild
			meta.TreeDepth--
			if err := t.ps.WriteMeta(meta); err != nil {
				return err
			}
			return t.ps.FreePage(nodeNum)
		}
		return nil
	}
	if len(node.Cells) >= t.minInternalKeys() {
		return nil
	}

	parentLevel := len(path) - 2
	parentNum := path[parentLevel].pageNum
	childIdx := path[parentLevel].childIdx
	parent, err := t.readInternal(parentNum)
	if err != nil {
		return err
	}

	leftIdx := childIdx - 1
	hasLeft := childIdx > -1
	var leftNum uint32
	if hasLeft {
		leftNum = childAt(parent, leftIdx)
	}
	rightNum := node.RightSibling
	hasRight := rightNum != 0

	if hasLeft {
		left, err := t.readInternal(leftNum)
		if err != nil {
			return err
		}
		if len(left.Cells) > t.minInternalKeys() {
			parentSep := separatorFor(parent, childIdx)
			borrowed := left.Cells[len(left.Cells)-1]
			left.Cells = left.Cells[:len(left.Cells)-1]

			node.Cells = append([]page.InternalCell{{Key: parentSep, Child: node.LeftChild}}, node.Cells...)
			node.LeftChild = borrowed.Child
			if err := t.writeInternal(leftNum, left); err != nil {
				return err
			}
			if err := t.writeInternal(nodeNum, node); err != nil {
				return err
			}
			return t.setSeparator(parentNum, childIdx, borrowed.Key)
		}
	}
	if hasRight {
		right, err := t.readInternal(rightNum)
		if err != nil {
			return err
		}
		if len(right.Cells) > t.minInternalKeys() {
			parentSep := separatorFor(parent, childIdx+1)
			node.Cells = append(node.Cells, page.InternalCell{Key: parentSep, Child: right.LeftChild})
			right.LeftChild = right.Cells[0].Child
			promoted := right.Cells[0].Key
			right.Cells = right.Cells[1:]
			if err := t.writeInternal(nodeNum, node); err != nil {
				return err
			}
			if err := t.writeInternal(rightNum, right); err != nil {
				return err
			}
			return t.setSeparator(parentNum, childIdx+1, promoted)
		}
	}

	if hasLeft {
		left, err := t.readInternal(leftNum)
		if err != nil {
			return err
		}
		parentSep := separatorFor(parent, childIdx)
		left.Cells = append(left.Cells, page.InternalCell{Key: parentSep, Child: node.LeftChild})
		left.Cells = append(left.Cells, node.Cells...)
		left.RightSibling = node.RightSibling
		if err := t.writeInternal(leftNum, left); err != nil {
			return err
		}
		if err := t.ps.FreePage(nodeNum); err != nil {
			return err
		}
		if err := t.removeInternalCell(parentNum, childIdx); err != nil {
			return err
		}
		path[parentLevel].childIdx--
		return t.rebalanceInternal(path[:parentLevel+1])
	}
	if hasRight {
		right, err := t.readInternal(rightNum)
		if err != nil {
			return err
		}
		parentSep := separatorFor(parent, childIdx+1)
		node.Cells = append(node.Cells, page.InternalCell{Key: parentSep, Child: right.LeftChild})
		node.Cells = append(node.Cells, right.Cells...)
		node.RightSibling = right.RightSibling
		if err := t.writeInternal(nodeNum, node); err != nil {
			return err
		}
		if err := t.ps.FreePage(rightNum); err != nil {
			return err
		}
		if err := t.removeInternalCell(parentNum, childIdx+1); err != nil {
			return err
		}
		return t.rebalanceInternal(path[:parentLevel+1])
	}
	return nil
}

// separatorFor returns the separator key that routes to child index idx
// from parent (idx == -1 has no separator of its own; callers only use
// this for idx >= 0).
func separatorFor(parent *page.InternalPage, idx int) uint64 {
	if idx < 0 || idx >= len(parent.Cells) {
		return 0
	}
	return parent.Cells[idx].Key
}

func (t *BTree) setSeparator(nodeNum uint32, idx int, key uint64) error {
	if idx == -1 {
		return nil
	}
	internal, err := t.readInternal(nodeNum)
	if err != nil {
		return err
	}
	if idx >= len(internal.Cells) {
		return nil
	}
	internal.Cells[idx].Key = key
	return t.writeInternal(nodeNum, internal)
}
