package page

import (
	"fmt"

	"github.com/tuannm99/bptreekv/internal/bx"
	"github.com/tuannm99/bptreekv/internal/kverrors"
)

// LeafCell is one key's stored entry: an inline value prefix plus an
// optional pointer to the overflow chain holding the remainder.
type LeafCell struct {
	Key              uint64
	InlineValue      []byte
	TotalValueLength uint32
	OverflowHead     uint32
}

// LeafPage is the decoded form of a Type=Leaf page.
type LeafPage struct {
	RightSibling uint32
	Cells        []LeafCell
}

func (c *LeafCell) serializedSize() int {
	return slotPointerSize + leafCellHeaderSize + KeySize + len(c.InlineValue)
}

// CellSize returns the on-disk byte cost of this single cell (slot pointer
// plus cell record), used by the tree to pick a split point.
func (c *LeafCell) CellSize() int {
	return c.serializedSize()
}

// SerializedSize returns the total byte size this page would occupy on
// disk, used by the tree to decide whether two leaves fit merged in one page.
func (p *LeafPage) SerializedSize() int {
	total := HeaderSize
	for i := range p.Cells {
		total += p.Cells[i].serializedSize()
	}
	return total
}

// EncodeLeaf packs slot pointers forward from the header and cell records
// backward from the end of the page, per the wire format.
func EncodeLeaf(p *LeafPage, pageSize int) ([]byte, error) {
	buf := make([]byte, pageSize)
	putHeader(buf, TypeLeaf, uint16(len(p.Cells)), p.RightSibling)

	slotOff := HeaderSize
	cellOff := pageSize
	for i := range p.Cells {
		c := &p.Cells[i]
		size := leafCellHeaderSize + KeySize + len(c.InlineValue)
		cellOff -= size
		if cellOff < slotOff+slotPointerSize {
			return nil, ErrLeafOverflow
		}
		bx.PutU16(buf[slotOff:], uint16(cellOff))
		slotOff += slotPointerSize

		w := cellOff
		bx.PutU16(buf[w:], uint16(KeySize))
		w += 2
		bx.PutU16(buf[w:], uint16(len(c.InlineValue)))
		w += 2
		bx.PutU32(buf[w:], c.TotalValueLength)
		w += 4
		bx.PutU32(buf[w:], c.OverflowHead)
		w += 4
		bx.PutU64BE(buf[w:], c.Key)
		w += KeySize
		copy(buf[w:], c.InlineValue)
	}
	return buf, nil
}

// DecodeLeaf reads a Leaf page back from its byte buffer.
func DecodeLeaf(buf []byte) (*LeafPage, error) {
	typ, keyCount, rightSibling := readHeader(buf)
	if typ != TypeLeaf {
		return nil, fmt.Errorf("%w: expected leaf page, got %s", kverrors.CorruptPage, typ)
	}
	cells := make([]LeafCell, keyCount)
	slotOff := HeaderSize
	var prevKey uint64
	for i := range cells {
		if slotOff+slotPointerSize > len(buf) {
			return nil, fmt.Errorf("%w: leaf slot array overruns page", kverrors.CorruptPage)
		}
		cellOff := int(bx.U16(buf[slotOff:]))
		slotOff += slotPointerSize

		if cellOff < HeaderSize || cellOff+leafCellHeaderSize+KeySize > len(buf) {
			return nil, fmt.Errorf("%w: leaf cell offset %d out of range", kverrors.CorruptPage, cellOff)
		}
		r := cellOff
		keyLen := bx.U16(buf[r:])
		r += 2
		inlineLen := bx.U16(buf[r:])
		r += 2
		totalLen := bx.U32(buf[r:])
		r += 4
		overflowHead := bx.U32(buf[r:])
		r += 4
		if keyLen != KeySize {
			return nil, fmt.Errorf("%w: leaf cell key length %d != %d", kverrors.CorruptPage, keyLen, KeySize)
		}
		key := bx.U64BE(buf[r:])
		r += KeySize
		if r+int(inlineLen) > len(buf) {
			return nil, fmt.Errorf("%w: leaf cell inline value overruns page", kverrors.CorruptPage)
		}
		inline := make([]byte, inlineLen)
		copy(inline, buf[r:r+int(inlineLen)])

		if i > 0 && key <= prevKey {
			return nil, fmt.Errorf("%w: leaf cell keys not strictly increasing", kverrors.CorruptPage)
		}
		prevKey = key

		cells[i] = LeafCell{
			Key:              key,
			InlineValue:      inline,
			TotalValueLength: totalLen,
			OverflowHead:     overflowHead,
		}
	}
	return &LeafPage{RightSibling: rightSibling, Cells: cells}, nil
}

// HighKey returns the maximum key in the leaf, used by move-right traversal.
func (p *LeafPage) HighKey() (uint64, bool) {
	if len(p.Cells) == 0 {
		return 0, false
	}
	return p.Cells[len(p.Cells)-1].Key, true
}

// Find returns the index of the cell with the given key, or -1.
func (p *LeafPage) Find(key uint64) int {
	lo, hi := 0, len(p.Cells)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		switch {
		case p.Cells[mid].Key == key:
			return mid
		case p.Cells[mid].Key < key:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return -1
}
