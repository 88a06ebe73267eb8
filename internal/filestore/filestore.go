// Package filestore provides uniform, block-addressed random I/O over one
// or more segment files: the bottom layer of the store, with no knowledge
// of page contents.
package filestore

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/tuannm99/bptreekv/internal/kverrors"
)

// FileStore is uniform random page I/O over a data file (or a segmented
// set of them). Implementations must tolerate reads/writes past the
// current end of file by padding with zeros.
type FileStore interface {
	ReadPage(n uint32) ([]byte, error)
	WritePage(n uint32, buf []byte) error
	TruncatePages(n uint32) error
	Sync() error
	PageCount() (uint32, error)
	Close() error
}

// Local is a single-file FileStore: page n lives at offset n*pageSize.
type Local struct {
	mu       sync.Mutex
	file     *os.File
	pageSize int
}

var _ FileStore = (*Local)(nil)

// Open opens or creates path as a single-file page store.
func Open(path string, pageSize int) (*Local, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("filestore: open %s: %w", path, err)
	}
	return &Local{file: f, pageSize: pageSize}, nil
}

// ReadPage returns page n's current bytes, padding the file with zeros on
// demand if it does not yet reach page n.
func (l *Local) ReadPage(n uint32) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	buf := make([]byte, l.pageSize)
	off := int64(n) * int64(l.pageSize)
	if _, err := l.file.ReadAt(buf, off); err != nil {
		if err != io.EOF {
			return nil, fmt.Errorf("%w: filestore read page %d: %v", kverrors.IoError, n, err)
		}
		if err := l.file.Truncate(off + int64(l.pageSize)); err != nil {
			return nil, fmt.Errorf("%w: filestore pad to page %d: %v", kverrors.IoError, n, err)
		}
	}
	return buf, nil
}

// WritePage writes the full page image, extending the file with zero
// padding if page n is beyond the current end of file.
func (l *Local) WritePage(n uint32, buf []byte) error {
	if len(buf) != l.pageSize {
		return fmt.Errorf("%w: filestore write page %d: buffer is %d bytes, want %d", kverrors.IoError, n, len(buf), l.pageSize)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	off := int64(n) * int64(l.pageSize)
	if _, err := l.file.WriteAt(buf, off); err != nil {
		return fmt.Errorf("%w: filestore write page %d: %v", kverrors.IoError, n, err)
	}
	return nil
}

// TruncatePages shrinks the file to exactly N pages.
func (l *Local) TruncatePages(nPages uint32) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	size := int64(nPages) * int64(l.pageSize)
	if err := l.file.Truncate(size); err != nil {
		return fmt.Errorf("%w: filestore truncate to %d pages: %v", kverrors.IoError, nPages, err)
	}
	slog.Debug("filestore.truncate", "pages", nPages)
	return nil
}

// Sync flushes OS buffers to durable media.
func (l *Local) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("%w: filestore sync: %v", kverrors.IoError, err)
	}
	return nil
}

// PageCount returns ceil(fileSize / pageSize).
func (l *Local) PageCount() (uint32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, err := l.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: filestore stat: %v", kverrors.IoError, err)
	}
	size := info.Size()
	n := size / int64(l.pageSize)
	if size%int64(l.pageSize) != 0 {
		n++
	}
	return uint32(n), nil
}

// Close closes the underlying file handle without flushing. Callers that
// want durability must Sync first.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// RawHandle exposes the underlying *os.File for crash-recovery tests that
// need to close the handle abruptly without going through Close.
func (l *Local) RawHandle() *os.File {
	return l.file
}
