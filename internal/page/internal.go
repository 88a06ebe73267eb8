package page

import (
	"fmt"

	"github.com/tuannm99/bptreekv/internal/bx"
	"github.com/tuannm99/bptreekv/internal/kverrors"
)

// InternalCell is one (separator key, child page) pair. All keys in
// [Key, nextCell.Key) route to Child; keys below the first cell's Key route
// to LeftChild instead.
type InternalCell struct {
	Key   uint64
	Child uint32
}

// InternalPage is the decoded form of a Type=Internal page.
type InternalPage struct {
	LeftChild    uint32
	RightSibling uint32
	Cells        []InternalCell
}

// MaxInternalCells returns how many (key, child) cells fit in one internal
// page of the given size, after the leftChild pointer.
func MaxInternalCells(pageSize int) int {
	free := pageSize - HeaderSize - 4 // leftChild
	if free <= 0 {
		return 0
	}
	return free / internalCellSize
}

// EncodeInternal serializes p into a pageSize buffer.
func EncodeInternal(p *InternalPage, pageSize int) ([]byte, error) {
	if len(p.Cells) > MaxInternalCells(pageSize) {
		return nil, fmt.Errorf("%w: internal page holds %d cells, max %d", kverrors.CorruptPage, len(p.Cells), MaxInternalCells(pageSize))
	}
	buf := make([]byte, pageSize)
	putHeader(buf, TypeInternal, uint16(len(p.Cells)), p.RightSibling)
	bx.PutU32(buf[HeaderSize:], p.LeftChild)
	off := HeaderSize + 4
	for _, c := range p.Cells {
		bx.PutU64BE(buf[off:], c.Key)
		bx.PutU32(buf[off+KeySize:], c.Child)
		off += internalCellSize
	}
	return buf, nil
}

// DecodeInternal reads an Internal page back from its byte buffer.
func DecodeInternal(buf []byte) (*InternalPage, error) {
	typ, keyCount, rightSibling := readHeader(buf)
	if typ != TypeInternal {
		return nil, fmt.Errorf("%w: expected internal page, got %s", kverrors.CorruptPage, typ)
	}
	leftChild := bx.U32(buf[HeaderSize:])
	off := HeaderSize + 4
	need := off + int(keyCount)*internalCellSize
	if need > len(buf) {
		return nil, fmt.Errorf("%w: internal page cell count %d overruns page", kverrors.CorruptPage, keyCount)
	}
	cells := make([]InternalCell, keyCount)
	var prevKey uint64
	for i := range cells {
		k := bx.U64BE(buf[off:])
		c := bx.U32(buf[off+KeySize:])
		if i > 0 && k <= prevKey {
			return nil, fmt.Errorf("%w: internal cell keys not strictly increasing", kverrors.CorruptPage)
		}
		cells[i] = InternalCell{Key: k, Child: c}
		prevKey = k
		off += internalCellSize
	}
	return &InternalPage{LeftChild: leftChild, RightSibling: rightSibling, Cells: cells}, nil
}

// FindChild returns the index of the cell whose range contains key, or -1 if
// key routes to LeftChild. Assumes Cells is sorted ascending by Key.
func (p *InternalPage) FindChild(key uint64) (idx int, child uint32) {
	if len(p.Cells) == 0 || key < p.Cells[0].Key {
		return -1, p.LeftChild
	}
	// last cell whose Key <= key
	lo, hi := 0, len(p.Cells)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if p.Cells[mid].Key <= key {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo, p.Cells[lo].Child
}

// HighestSeparator reports whether every separator key is <= key. B-link
// traversal then moves right only if key is also >= the right sibling's
// first separator.
func (p *InternalPage) HighestSeparator(key uint64) bool {
	if len(p.Cells) == 0 {
		return true
	}
	return p.Cells[len(p.Cells)-1].Key <= key
}
