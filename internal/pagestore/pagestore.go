// Package pagestore wraps a FileStore with the Meta page: bootstrapping,
// page allocation, the on-disk free list and vacuum.
package pagestore

import (
	"fmt"
	"log/slog"

	"github.com/tuannm99/bptreekv/internal/bx"
	"github.com/tuannm99/bptreekv/internal/filestore"
	"github.com/tuannm99/bptreekv/internal/kverrors"
	"github.com/tuannm99/bptreekv/internal/page"
)

// PageStore owns the Meta page and the free list, on top of raw FileStore
// block I/O.
type PageStore struct {
	fs       filestore.FileStore
	pageSize int
	meta     *page.Meta
}

// Open wraps an already opened FileStore and bootstraps a fresh Meta + root
// leaf if page 0 has no valid magic yet.
func Open(fs filestore.FileStore, pageSize int) (*PageStore, error) {
	ps := &PageStore{fs: fs, pageSize: pageSize}

	buf, err := fs.ReadPage(page.MetaPageNumber)
	if err != nil {
		return nil, err
	}
	if page.HasMagic(buf) {
		m, err := page.DecodeMeta(buf)
		if err != nil {
			return nil, err
		}
		ps.meta = m
		return ps, nil
	}

	slog.Info("pagestore.bootstrap", "pageSize", pageSize)
	ps.meta = page.NewMeta(uint32(pageSize))
	if err := ps.WriteMeta(ps.meta); err != nil {
		return nil, err
	}
	if err := fs.WritePage(page.ReservedPage1, make([]byte, pageSize)); err != nil {
		return nil, err
	}
	rootLeaf := &page.LeafPage{}
	leafBuf, err := page.EncodeLeaf(rootLeaf, pageSize)
	if err != nil {
		return nil, err
	}
	if err := fs.WritePage(page.RootLeafPage, leafBuf); err != nil {
		return nil, err
	}
	return ps, nil
}

// PageSize returns the configured page size.
func (ps *PageStore) PageSize() int { return ps.pageSize }

// FileStore exposes the underlying block store, e.g. for the buffer pool.
func (ps *PageStore) FileStore() filestore.FileStore { return ps.fs }

// ReadMeta returns a copy of the in-memory Meta. The Meta page is always
// cached; changes to the copy take effect only once passed to WriteMeta.
func (ps *PageStore) ReadMeta() *page.Meta {
	cp := *ps.meta
	return &cp
}

// WriteMeta persists meta immediately (not buffered through the pool) and
// updates the in-memory copy.
func (ps *PageStore) WriteMeta(meta *page.Meta) error {
	buf := page.EncodeMeta(meta, ps.pageSize)
	if err := ps.fs.WritePage(page.MetaPageNumber, buf); err != nil {
		return err
	}
	cp := *meta
	ps.meta = &cp
	return nil
}

// AllocatePage returns a free page number: either the head of the free
// list, or a fresh bump-allocated page zeroed on disk.
func (ps *PageStore) AllocatePage() (uint32, error) {
	meta := ps.ReadMeta()
	if meta.FreePageHead != 0 {
		head := meta.FreePageHead
		buf, err := ps.fs.ReadPage(head)
		if err != nil {
			return 0, err
		}
		meta.FreePageHead = bx.U32(buf)
		if err := ps.WriteMeta(meta); err != nil {
			return 0, err
		}
		return head, nil
	}

	n := meta.TotalPages
	meta.TotalPages++
	if err := ps.fs.WritePage(n, make([]byte, ps.pageSize)); err != nil {
		return 0, err
	}
	if err := ps.WriteMeta(meta); err != nil {
		return 0, err
	}
	return n, nil
}

// FreePage pushes page n onto the free list head.
func (ps *PageStore) FreePage(n uint32) error {
	meta := ps.ReadMeta()
	buf := make([]byte, ps.pageSize)
	bx.PutU32(buf, meta.FreePageHead)
	if err := ps.fs.WritePage(n, buf); err != nil {
		return err
	}
	meta.FreePageHead = n
	return ps.WriteMeta(meta)
}

// CollectFreePages walks the free list, returning the set of free page
// numbers >= 3. Detects cycles via a seen-set.
func (ps *PageStore) CollectFreePages() (map[uint32]struct{}, error) {
	meta := ps.ReadMeta()
	seen := make(map[uint32]struct{})
	cur := meta.FreePageHead
	for cur != 0 {
		if _, ok := seen[cur]; ok {
			return nil, fmt.Errorf("%w: free list cycle at page %d", kverrors.CorruptFreeList, cur)
		}
		seen[cur] = struct{}{}
		if cur < 3 {
			return nil, fmt.Errorf("%w: free list points to reserved page %d", kverrors.CorruptFreeList, cur)
		}
		buf, err := ps.fs.ReadPage(cur)
		if err != nil {
			return nil, err
		}
		cur = bx.U32(buf)
	}
	return seen, nil
}

// VacuumResult reports how many pages were reclaimed and how many remain
// free after a vacuum.
type VacuumResult struct {
	Reclaimed     int
	RemainingFree int
}

// Vacuum pops trailing free pages from the tail of the file, rewrites the
// persistent free list to exclude them, and truncates the file.
func (ps *PageStore) Vacuum() (VacuumResult, error) {
	free, err := ps.CollectFreePages()
	if err != nil {
		return VacuumResult{}, err
	}

	meta := ps.ReadMeta()
	reclaimed := 0
	total := meta.TotalPages
	for total > 3 {
		candidate := total - 1
		if _, ok := free[candidate]; !ok {
			break
		}
		delete(free, candidate)
		total--
		reclaimed++
	}
	if reclaimed == 0 {
		return VacuumResult{Reclaimed: 0, RemainingFree: len(free)}, nil
	}

	// Rewrite the remaining free list as a fresh chain over the
	// surviving pages.
	meta.TotalPages = total
	meta.FreePageHead = 0
	if err := ps.WriteMeta(meta); err != nil {
		return VacuumResult{}, err
	}
	for n := range free {
		if err := ps.FreePage(n); err != nil {
			return VacuumResult{}, err
		}
	}
	if err := ps.fs.TruncatePages(total); err != nil {
		return VacuumResult{}, err
	}
	slog.Debug("pagestore.vacuum", "reclaimed", reclaimed, "remainingFree", len(free))
	return VacuumResult{Reclaimed: reclaimed, RemainingFree: len(free)}, nil
}
