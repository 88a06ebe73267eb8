// Package overflowstore manages the chains of Overflow pages that hold the
// tail of values too large to fit inline in a leaf cell.
package overflowstore

import (
	"github.com/tuannm99/bptreekv/internal/bufferpool"
	"github.com/tuannm99/bptreekv/internal/kverrors"
	"github.com/tuannm99/bptreekv/internal/page"
	"github.com/tuannm99/bptreekv/internal/pagestore"
)

// OverflowStore allocates, reads and frees overflow chains on top of a
// PageStore for allocation and a BufferPool for page I/O.
type OverflowStore struct {
	ps       *pagestore.PageStore
	pool     *bufferpool.Pool
	pageSize int
}

// New builds an OverflowStore over the given page store and buffer pool.
func New(ps *pagestore.PageStore, pool *bufferpool.Pool, pageSize int) *OverflowStore {
	return &OverflowStore{ps: ps, pool: pool, pageSize: pageSize}
}

// AllocateChain splits data into overflow-page-sized chunks and writes
// them as a linked chain, returning the head page number. An empty input
// returns 0 (no chain).
func (o *OverflowStore) AllocateChain(data []byte) (uint32, error) {
	if len(data) == 0 {
		return 0, nil
	}
	chunkSize := page.OverflowChunkSize(o.pageSize)

	var head, prev uint32
	for off := 0; off < len(data); off += chunkSize {
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		n, err := o.ps.AllocatePage()
		if err != nil {
			return 0, err
		}
		if err := o.writeChunk(n, 0, data[off:end]); err != nil {
			return 0, err
		}
		if prev == 0 {
			head = n
		} else if err := o.linkNext(prev, n); err != nil {
			return 0, err
		}
		prev = n
	}
	return head, nil
}

func (o *OverflowStore) writeChunk(n uint32, next uint32, payload []byte) error {
	buf, err := o.pool.GetPage(n)
	if err != nil {
		return err
	}
	enc, err := page.EncodeOverflow(&page.OverflowPage{Next: next, Length: uint32(len(payload)), Payload: payload}, o.pageSize)
	if err != nil {
		return err
	}
	copy(buf, enc)
	if err := o.pool.Unpin(n, true); err != nil {
		return err
	}
	return o.pool.FlushPage(n)
}

func (o *OverflowStore) linkNext(prev, next uint32) error {
	buf, err := o.pool.GetPage(prev)
	if err != nil {
		return err
	}
	ov, err := page.DecodeOverflow(buf)
	if err != nil {
		o.pool.Unpin(prev, false)
		return err
	}
	ov.Next = next
	enc, err := page.EncodeOverflow(ov, o.pageSize)
	if err != nil {
		o.pool.Unpin(prev, false)
		return err
	}
	copy(buf, enc)
	if err := o.pool.Unpin(prev, true); err != nil {
		return err
	}
	if err := o.pool.FlushPage(prev); err != nil {
		return err
	}
	return o.pool.DropPage(prev)
}

// ReadChain concatenates chunk payloads following next pointers until
// totalLength bytes are collected, failing with TruncatedChain if the
// chain ends earlier.
func (o *OverflowStore) ReadChain(head uint32, totalLength uint32) ([]byte, error) {
	out := make([]byte, 0, totalLength)
	cur := head
	for uint32(len(out)) < totalLength {
		if cur == 0 {
			return nil, kverrors.TruncatedChain
		}
		buf, err := o.pool.GetPage(cur)
		if err != nil {
			return nil, err
		}
		ov, err := page.DecodeOverflow(buf)
		if err != nil {
			o.pool.Unpin(cur, false)
			return nil, err
		}
		out = append(out, ov.Payload...)
		if err := o.pool.Unpin(cur, false); err != nil {
			return nil, err
		}
		cur = ov.Next
	}
	if uint32(len(out)) > totalLength {
		out = out[:totalLength]
	}
	return out, nil
}

// FreeChain walks next pointers from head, freeing each page in turn.
func (o *OverflowStore) FreeChain(head uint32) error {
	cur := head
	for cur != 0 {
		buf, err := o.pool.GetPage(cur)
		if err != nil {
			return err
		}
		ov, err := page.DecodeOverflow(buf)
		if err != nil {
			o.pool.Unpin(cur, false)
			return err
		}
		next := ov.Next
		if err := o.pool.Unpin(cur, false); err != nil {
			return err
		}
		if err := o.pool.DropPage(cur); err != nil {
			return err
		}
		if err := o.ps.FreePage(cur); err != nil {
			return err
		}
		cur = next
	}
	return nil
}
