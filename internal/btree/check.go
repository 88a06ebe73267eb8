package btree

import "github.com/tuannm99/bptreekv/internal/page"

// ConsistencyCheck walks the tree from the root, verifying the page-type
// discipline, cycle-freedom, and that the reachable leaf key count matches
// meta.KeyCount.
func (t *BTree) ConsistencyCheck() (bool, error) {
	meta := t.ps.ReadMeta()
	visited := make(map[uint32]struct{})
	var keyCount uint64

	var walk func(n uint32, depth uint32) error
	walk = func(n uint32, depth uint32) error {
		if _, ok := visited[n]; ok {
			return errCycle
		}
		visited[n] = struct{}{}

		buf, err := t.pool.GetPage(n)
		if err != nil {
			return err
		}
		typ := page.PeekType(buf)
		defer t.pool.Unpin(n, false)

		if depth == 1 {
			if typ != page.TypeLeaf {
				return errTypeMismatch
			}
			leaf, err := page.DecodeLeaf(buf)
			if err != nil {
				return err
			}
			keyCount += uint64(len(leaf.Cells))
			return nil
		}
		if typ != page.TypeInternal {
			return errTypeMismatch
		}
		internal, err := page.DecodeInternal(buf)
		if err != nil {
			return err
		}
		if err := walk(internal.LeftChild, depth-1); err != nil {
			return err
		}
		for _, c := range internal.Cells {
			if err := walk(c.Child, depth-1); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(meta.RootPage, meta.TreeDepth); err != nil {
		return false, nil
	}
	return keyCount == meta.KeyCount, nil
}

var errCycle = &checkError{"cycle detected while walking tree"}
var errTypeMismatch = &checkError{"page type mismatch at expected depth"}

type checkError struct{ msg string }

func (e *checkError) Error() string { return e.msg }
