// Package wal implements the append-only, transactional write-ahead log:
// begin/page/commit records, checksums, torn-tail tolerance, replay and
// checkpoint/truncate.
package wal

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/tuannm99/bptreekv/internal/bx"
	"github.com/tuannm99/bptreekv/internal/kverrors"
)

const (
	walMagic       = "TSWALV1"
	HeaderSize     = 32
	hdrOffMagic    = 0
	hdrOffPageSize = 16
)

// PageWriter is the subset of PageStore the WAL needs to apply redo
// without importing the page-store package.
type PageWriter interface {
	WritePage(n uint32, buf []byte) error
}

// Frame is a single staged (pageNumber, pageImage) pair inside a
// transaction, or — after replay — a committed one waiting to be applied.
type Frame struct {
	PageNumber uint32
	Image      []byte
}

// Options configures fsync behavior.
type Options struct {
	// GroupCommit skips fsync on CommitTransaction; checkpoint still fsyncs.
	GroupCommit bool
}

// Manager is the append-only transactional log file.
type Manager struct {
	mu       sync.Mutex
	f        *os.File
	path     string
	pageSize int
	opts     Options

	nextTxID uint32
	staged   map[uint32][]Frame
}

// Open creates or opens the WAL file at path, writing a fresh header if
// one is not already present.
func Open(path string, pageSize int, opts Options) (*Manager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: wal open %s: %v", kverrors.IoError, path, err)
	}
	m := &Manager{
		f:        f,
		path:     path,
		pageSize: pageSize,
		opts:     opts,
		nextTxID: 1,
		staged:   make(map[uint32][]Frame),
	}
	if err := m.ensureHeader(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return m, nil
}

func (m *Manager) ensureHeader() error {
	info, err := m.f.Stat()
	if err != nil {
		return fmt.Errorf("%w: wal stat: %v", kverrors.IoError, err)
	}
	if info.Size() >= HeaderSize {
		buf := make([]byte, HeaderSize)
		if _, err := m.f.ReadAt(buf, 0); err != nil && err != io.EOF {
			return fmt.Errorf("%w: wal read header: %v", kverrors.IoError, err)
		}
		if string(buf[hdrOffMagic:hdrOffMagic+len(walMagic)]) == walMagic {
			return nil
		}
	}
	return m.writeHeader()
}

func (m *Manager) writeHeader() error {
	buf := make([]byte, HeaderSize)
	copy(buf[hdrOffMagic:], walMagic)
	bx.PutU32(buf[hdrOffPageSize:], uint32(m.pageSize))
	if err := m.f.Truncate(HeaderSize); err != nil {
		return fmt.Errorf("%w: wal truncate header: %v", kverrors.IoError, err)
	}
	if _, err := m.f.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("%w: wal write header: %v", kverrors.IoError, err)
	}
	return nil
}

// BeginTransaction starts a new transaction, appends a Begin record and
// registers an in-memory staging list for it.
func (m *Manager) BeginTransaction() (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	txID := m.nextTxID
	m.nextTxID++

	if _, err := m.appendLocked(RecordBegin, txID, 0, nil); err != nil {
		return 0, err
	}
	m.staged[txID] = nil
	slog.Debug("wal.begin", "txID", txID)
	return txID, nil
}

// StagePage appends bytes to txID's staged list without touching disk.
func (m *Manager) StagePage(txID, pageNumber uint32, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.staged[txID]; !ok {
		return fmt.Errorf("%w: wal stage: unknown tx %d", kverrors.CorruptWal, txID)
	}
	img := make([]byte, len(buf))
	copy(img, buf)
	m.staged[txID] = append(m.staged[txID], Frame{PageNumber: pageNumber, Image: img})
	return nil
}

// CommitTransaction writes a Page record for every staged frame, then a
// Commit record, and fsyncs unless skipSync (group commit) is requested.
func (m *Manager) CommitTransaction(txID uint32, skipSync bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	frames, ok := m.staged[txID]
	if !ok {
		return fmt.Errorf("%w: wal commit: unknown tx %d", kverrors.CorruptWal, txID)
	}

	for _, fr := range frames {
		if len(fr.Image) != m.pageSize {
			return fmt.Errorf("%w: wal commit: staged page %d has %d bytes, want %d", kverrors.CorruptWal, fr.PageNumber, len(fr.Image), m.pageSize)
		}
		if _, err := m.appendLocked(RecordPage, txID, fr.PageNumber, fr.Image); err != nil {
			return err
		}
	}
	if _, err := m.appendLocked(RecordCommit, txID, 0, nil); err != nil {
		return err
	}
	delete(m.staged, txID)

	if !skipSync && !m.opts.GroupCommit {
		if err := m.f.Sync(); err != nil {
			return fmt.Errorf("%w: wal commit sync: %v", kverrors.IoError, err)
		}
	}
	slog.Debug("wal.commit", "txID", txID, "frames", len(frames), "skipSync", skipSync || m.opts.GroupCommit)
	return nil
}

// RollbackTransaction drops staged frames without touching disk. The
// Begin record remains in the log; replay ignores it since no Commit
// follows.
func (m *Manager) RollbackTransaction(txID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.staged, txID)
	return nil
}

func (m *Manager) appendLocked(typ RecordType, txID, pageNumber uint32, payload []byte) (int64, error) {
	rec := encodeRecord(typ, txID, pageNumber, payload)
	off, err := m.f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("%w: wal seek end: %v", kverrors.IoError, err)
	}
	if _, err := m.f.Write(rec); err != nil {
		return 0, fmt.Errorf("%w: wal append: %v", kverrors.IoError, err)
	}
	return off, nil
}

// Replay scans the log from the header end, tolerates a torn tail, and
// applies every fully-committed transaction's frames to writer in order.
// It then truncates the log to its 32-byte header and fsyncs.
func (m *Manager) Replay(writer PageWriter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.replayLocked(writer)
}

func (m *Manager) replayLocked(writer PageWriter) error {
	if _, err := m.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: wal seek start: %v", kverrors.IoError, err)
	}
	info, err := m.f.Stat()
	if err != nil {
		return fmt.Errorf("%w: wal stat: %v", kverrors.IoError, err)
	}
	fileEnd := info.Size()

	r := bufio.NewReaderSize(m.f, 1<<20)
	// skip header
	if _, err := io.CopyN(io.Discard, r, HeaderSize); err != nil && err != io.EOF {
		return fmt.Errorf("%w: wal skip header: %v", kverrors.IoError, err)
	}
	pos := int64(HeaderSize)

	inFlight := make(map[uint32][]Frame)
	var committed []Frame

	for {
		hdrBuf := make([]byte, recordHeaderSize)
		n, err := io.ReadFull(r, hdrBuf)
		if err != nil {
			if n == 0 {
				break // clean end
			}
			slog.Warn("wal.replay.torn_header", "pos", pos)
			break
		}
		hdr, err := decodeRecordHeader(hdrBuf)
		if err != nil {
			break
		}

		payload := make([]byte, hdr.payloadLength)
		if hdr.payloadLength > 0 {
			if _, err := io.ReadFull(r, payload); err != nil {
				slog.Warn("wal.replay.torn_payload", "pos", pos)
				break
			}
		}
		pos += int64(recordHeaderSize) + int64(hdr.payloadLength)

		switch hdr.typ {
		case RecordBegin:
			inFlight[hdr.txID] = nil
		case RecordPage:
			if int(hdr.payloadLength) != m.pageSize || pos > fileEnd {
				slog.Warn("wal.replay.torn_tail", "txID", hdr.txID, "page", hdr.pageNumber)
				goto applyCommitted
			}
			if checksum(payload) != hdr.checksum {
				slog.Warn("wal.replay.bad_checksum", "txID", hdr.txID, "page", hdr.pageNumber)
				continue
			}
			inFlight[hdr.txID] = append(inFlight[hdr.txID], Frame{PageNumber: hdr.pageNumber, Image: payload})
		case RecordCommit:
			committed = append(committed, inFlight[hdr.txID]...)
			delete(inFlight, hdr.txID)
		default:
			slog.Warn("wal.replay.unknown_record", "type", hdr.typ)
			goto applyCommitted
		}
	}

applyCommitted:
	for _, fr := range committed {
		if err := writer.WritePage(fr.PageNumber, fr.Image); err != nil {
			return err
		}
	}
	slog.Debug("wal.replay.done", "committedFrames", len(committed))

	if err := m.writeHeader(); err != nil {
		return err
	}
	if err := m.f.Sync(); err != nil {
		return fmt.Errorf("%w: wal replay sync: %v", kverrors.IoError, err)
	}
	return nil
}

// Checkpoint is semantically Replay once dirty pages have already been
// flushed through the buffer pool: it is a no-op redo pass whose purpose
// is truncating the log back to its header.
func (m *Manager) Checkpoint(writer PageWriter) error {
	return m.Replay(writer)
}

// Reset closes, recreates an empty log, and rewrites the header.
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.f != nil {
		_ = m.f.Close()
	}
	f, err := os.OpenFile(m.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: wal reset: %v", kverrors.IoError, err)
	}
	m.f = f
	m.staged = make(map[uint32][]Frame)
	return m.writeHeader()
}

// Close closes the underlying file handle.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return nil
	}
	err := m.f.Close()
	m.f = nil
	return err
}

// RawHandle exposes the underlying *os.File for crash-recovery tests.
func (m *Manager) RawHandle() *os.File {
	return m.f
}
