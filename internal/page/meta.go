package page

import (
	"fmt"

	"github.com/tuannm99/bptreekv/internal/bx"
	"github.com/tuannm99/bptreekv/internal/kverrors"
)

const (
	metaMagic       = "BPTREE_V1"
	metaMagicSize   = 16
	metaOffMagic    = 0
	metaOffPageSize = 16
	metaOffRoot     = 20
	metaOffDepth    = 24
	metaOffTotal    = 28
	metaOffKeyCount = 32
	metaOffFreeHead = 40
	MetaStructSize  = 44
)

// Meta is the page-0 layout: magic, page size, root pointer, tree depth,
// total pages ever allocated, key count and the free-list head.
type Meta struct {
	PageSize     uint32
	RootPage     uint32
	TreeDepth    uint32
	TotalPages   uint32
	KeyCount     uint64
	FreePageHead uint32
}

// NewMeta returns the meta for a brand-new, empty store.
func NewMeta(pageSize uint32) *Meta {
	return &Meta{
		PageSize:     pageSize,
		RootPage:     RootLeafPage,
		TreeDepth:    1,
		TotalPages:   3,
		KeyCount:     0,
		FreePageHead: 0,
	}
}

// EncodeMeta serializes m into a pageSize buffer, zero-padded after the
// fixed fields.
func EncodeMeta(m *Meta, pageSize int) []byte {
	buf := make([]byte, pageSize)
	copy(buf[metaOffMagic:metaOffMagic+metaMagicSize], metaMagic)
	bx.PutU32(buf[metaOffPageSize:], m.PageSize)
	bx.PutU32(buf[metaOffRoot:], m.RootPage)
	bx.PutU32(buf[metaOffDepth:], m.TreeDepth)
	bx.PutU32(buf[metaOffTotal:], m.TotalPages)
	bx.PutU64(buf[metaOffKeyCount:], m.KeyCount)
	bx.PutU32(buf[metaOffFreeHead:], m.FreePageHead)
	return buf
}

// DecodeMeta validates the magic and unpacks the fixed fields.
func DecodeMeta(buf []byte) (*Meta, error) {
	if len(buf) < MetaStructSize {
		return nil, fmt.Errorf("%w: meta page too short", kverrors.CorruptPage)
	}
	got := string(trimZero(buf[metaOffMagic : metaOffMagic+metaMagicSize]))
	if got != metaMagic {
		return nil, fmt.Errorf("%w: bad meta magic %q", kverrors.CorruptPage, got)
	}
	m := &Meta{
		PageSize:     bx.U32(buf[metaOffPageSize:]),
		RootPage:     bx.U32(buf[metaOffRoot:]),
		TreeDepth:    bx.U32(buf[metaOffDepth:]),
		TotalPages:   bx.U32(buf[metaOffTotal:]),
		KeyCount:     bx.U64(buf[metaOffKeyCount:]),
		FreePageHead: bx.U32(buf[metaOffFreeHead:]),
	}
	if m.TreeDepth < 1 {
		return nil, fmt.Errorf("%w: tree depth %d < 1", kverrors.CorruptPage, m.TreeDepth)
	}
	if m.TotalPages < 3 {
		return nil, fmt.Errorf("%w: total pages %d < 3", kverrors.CorruptPage, m.TotalPages)
	}
	return m, nil
}

// HasMagic reports whether buf already carries a valid meta magic, used by
// PageStore.initialize to decide whether to bootstrap a fresh file.
func HasMagic(buf []byte) bool {
	if len(buf) < metaOffMagic+metaMagicSize {
		return false
	}
	return string(trimZero(buf[metaOffMagic:metaOffMagic+metaMagicSize])) == metaMagic
}

func trimZero(b []byte) []byte {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return b[:i]
}
