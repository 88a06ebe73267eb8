package page

import (
	"fmt"

	"github.com/tuannm99/bptreekv/internal/bx"
	"github.com/tuannm99/bptreekv/internal/kverrors"
)

const (
	ofOffType   = 0
	ofOffNext   = 4
	ofOffLength = 8
)

// OverflowPage is the decoded form of a Type=Overflow page: one link in the
// chain that holds the tail of an over-sized value.
type OverflowPage struct {
	Next    uint32
	Length  uint32
	Payload []byte
}

// EncodeOverflow serializes p into a pageSize buffer using the compact
// 16-byte overflow header.
func EncodeOverflow(p *OverflowPage, pageSize int) ([]byte, error) {
	maxPayload := OverflowChunkSize(pageSize)
	if len(p.Payload) > maxPayload {
		return nil, fmt.Errorf("%w: overflow payload %d exceeds chunk size %d", kverrors.CorruptPage, len(p.Payload), maxPayload)
	}
	buf := make([]byte, pageSize)
	buf[ofOffType] = byte(TypeOverflow)
	bx.PutU32(buf[ofOffNext:], p.Next)
	bx.PutU32(buf[ofOffLength:], p.Length)
	copy(buf[OverflowHeaderSize:], p.Payload)
	return buf, nil
}

// DecodeOverflow reads an Overflow page back from its byte buffer.
func DecodeOverflow(buf []byte) (*OverflowPage, error) {
	if PageType(buf[ofOffType]) != TypeOverflow {
		return nil, fmt.Errorf("%w: expected overflow page, got %s", kverrors.CorruptPage, PageType(buf[ofOffType]))
	}
	next := bx.U32(buf[ofOffNext:])
	length := bx.U32(buf[ofOffLength:])
	maxPayload := uint32(len(buf) - OverflowHeaderSize)
	if length > maxPayload {
		return nil, fmt.Errorf("%w: overflow length %d exceeds page capacity", kverrors.CorruptPage, length)
	}
	payload := make([]byte, length)
	copy(payload, buf[OverflowHeaderSize:OverflowHeaderSize+length])
	return &OverflowPage{Next: next, Length: length, Payload: payload}, nil
}
