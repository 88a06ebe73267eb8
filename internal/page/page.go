// Package page implements the on-disk byte layout for every page variant
// the tree persists: Meta, Internal, Leaf and Overflow. Each decoder returns
// its own concrete variant rather than a generic node type; callers switch
// on PageType before touching the payload.
package page

import (
	"fmt"

	"github.com/tuannm99/bptreekv/internal/bx"
	"github.com/tuannm99/bptreekv/internal/kverrors"
)

// PageType tags the first byte of every non-Meta page header.
type PageType uint8

const (
	TypeMeta PageType = iota
	TypeInternal
	TypeLeaf
	TypeOverflow
)

func (t PageType) String() string {
	switch t {
	case TypeMeta:
		return "meta"
	case TypeInternal:
		return "internal"
	case TypeLeaf:
		return "leaf"
	case TypeOverflow:
		return "overflow"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

const (
	// HeaderSize is the generic header carried by Internal and Leaf pages.
	HeaderSize = 32

	// OverflowHeaderSize is the compact header carried by Overflow pages.
	OverflowHeaderSize = 16

	// Reserved page numbers.
	MetaPageNumber = uint32(0)
	ReservedPage1  = uint32(1)
	RootLeafPage   = uint32(2)

	// KeySize is the width of every key: 8-byte big-endian unsigned.
	KeySize = 8

	// leafCellHeaderSize is keyLength(2) + inlineValueLength(2) + totalValueLength(4) + overflowHead(4).
	leafCellHeaderSize = 12

	// internalCellSize is key(8, BE) + childPage(4, LE).
	internalCellSize = KeySize + 4

	// slotPointerSize is the width of one leaf slot entry.
	slotPointerSize = 2
)

// generic header field offsets shared by Internal and Leaf pages.
const (
	hdrOffType         = 0
	hdrOffKeyCount     = 2
	hdrOffRightSibling = 4
)

// ErrLeafOverflow is returned by EncodeLeaf when the requested cells cannot
// fit in a single page; the tree's insert path treats it as the signal to
// split the leaf.
var ErrLeafOverflow = fmt.Errorf("%w: leaf cells exceed page size", kverrors.CorruptPage)

// PeekType reads the type tag from a page buffer without fully decoding it.
// Only valid for page numbers >= 1; page 0 is always Meta and has no tag byte.
func PeekType(buf []byte) PageType {
	return PageType(buf[hdrOffType])
}

// MaxInlineValue returns the largest value length that can be stored inline
// in a leaf cell (alongside one key and one slot pointer) for the given
// page size. Anything beyond this spills to the overflow chain.
func MaxInlineValue(pageSize int) int {
	v := pageSize - (HeaderSize + slotPointerSize + KeySize + leafCellHeaderSize)
	if v < 0 {
		return 0
	}
	return v
}

// OverflowChunkSize returns the payload capacity of a single overflow page.
func OverflowChunkSize(pageSize int) int {
	return pageSize - OverflowHeaderSize
}

func putHeader(buf []byte, typ PageType, keyCount uint16, rightSibling uint32) {
	buf[hdrOffType] = byte(typ)
	bx.PutU16(buf[hdrOffKeyCount:], keyCount)
	bx.PutU32(buf[hdrOffRightSibling:], rightSibling)
}

func readHeader(buf []byte) (typ PageType, keyCount uint16, rightSibling uint32) {
	typ = PageType(buf[hdrOffType])
	keyCount = bx.U16(buf[hdrOffKeyCount:])
	rightSibling = bx.U32(buf[hdrOffRightSibling:])
	return
}
