package wal

import (
	"fmt"
	"hash/crc32"

	"github.com/tuannm99/bptreekv/internal/bx"
	"github.com/tuannm99/bptreekv/internal/kverrors"
)

// RecordType distinguishes the three kinds of records a transaction emits.
type RecordType uint32

const (
	RecordBegin  RecordType = 0
	RecordPage   RecordType = 1
	RecordCommit RecordType = 2
)

func (t RecordType) String() string {
	switch t {
	case RecordBegin:
		return "begin"
	case RecordPage:
		return "page"
	case RecordCommit:
		return "commit"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(t))
	}
}

// recordHeaderSize is recordType + txId + pageNumber + payloadLength + checksum, all u32.
const recordHeaderSize = 20

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// checksum upgrades spec.md's byte-sum to CRC-32C; the field is opaque to
// callers either way, and zero for empty payloads.
func checksum(payload []byte) uint32 {
	if len(payload) == 0 {
		return 0
	}
	return crc32.Checksum(payload, crc32cTable)
}

type recordHeader struct {
	typ           RecordType
	txID          uint32
	pageNumber    uint32
	payloadLength uint32
	checksum      uint32
}

func encodeRecord(typ RecordType, txID, pageNumber uint32, payload []byte) []byte {
	buf := make([]byte, recordHeaderSize+len(payload))
	bx.PutU32(buf[0:], uint32(typ))
	bx.PutU32(buf[4:], txID)
	bx.PutU32(buf[8:], pageNumber)
	bx.PutU32(buf[12:], uint32(len(payload)))
	bx.PutU32(buf[16:], checksum(payload))
	copy(buf[recordHeaderSize:], payload)
	return buf
}

func decodeRecordHeader(buf []byte) (recordHeader, error) {
	if len(buf) < recordHeaderSize {
		return recordHeader{}, fmt.Errorf("%w: short record header", kverrors.CorruptWal)
	}
	return recordHeader{
		typ:           RecordType(bx.U32(buf[0:])),
		txID:          bx.U32(buf[4:]),
		pageNumber:    bx.U32(buf[8:]),
		payloadLength: bx.U32(buf[12:]),
		checksum:      bx.U32(buf[16:]),
	}, nil
}
