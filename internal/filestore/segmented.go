package filestore

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/tuannm99/bptreekv/internal/kverrors"
)

// Segmented routes page n to segment n/segmentPages at offset
// (n mod segmentPages) within that segment's file. Segments are opened
// lazily as pages in their range are first touched.
type Segmented struct {
	mu           sync.Mutex
	basePath     string
	pageSize     int
	segmentPages uint32
	segments     map[uint32]*Local
}

var _ FileStore = (*Segmented)(nil)

// OpenSegmented returns a FileStore that spreads pages across
// "<basePath>" (segment 0), "<basePath>.seg1", "<basePath>.seg2", ...
func OpenSegmented(basePath string, pageSize int, segmentPages uint32) (*Segmented, error) {
	if segmentPages == 0 {
		return nil, fmt.Errorf("filestore: segmentPages must be >= 1")
	}
	return &Segmented{
		basePath:     basePath,
		pageSize:     pageSize,
		segmentPages: segmentPages,
		segments:     make(map[uint32]*Local),
	}, nil
}

func segmentPath(base string, segNo uint32) string {
	if segNo == 0 {
		return base
	}
	return fmt.Sprintf("%s.seg%d", base, segNo)
}

func (s *Segmented) locate(n uint32) (*Local, uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	segNo := n / s.segmentPages
	offset := n % s.segmentPages

	local, ok := s.segments[segNo]
	if !ok {
		var err error
		local, err = Open(segmentPath(s.basePath, segNo), s.pageSize)
		if err != nil {
			return nil, 0, err
		}
		s.segments[segNo] = local
		slog.Debug("filestore.segmented.open", "segment", segNo)
	}
	return local, offset, nil
}

func (s *Segmented) ReadPage(n uint32) ([]byte, error) {
	local, offset, err := s.locate(n)
	if err != nil {
		return nil, err
	}
	return local.ReadPage(offset)
}

func (s *Segmented) WritePage(n uint32, buf []byte) error {
	local, offset, err := s.locate(n)
	if err != nil {
		return err
	}
	return local.WritePage(offset, buf)
}

// TruncatePages shrinks the logical file to nPages: among the open segments,
// the one holding page nPages is truncated to its remainder and every later
// one is truncated to zero length (the segment files are not removed).
func (s *Segmented) TruncatePages(nPages uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lastFullSeg := nPages / s.segmentPages
	rem := nPages % s.segmentPages

	for segNo, local := range s.segments {
		switch {
		case segNo < lastFullSeg:
			continue
		case segNo == lastFullSeg:
			if err := local.TruncatePages(rem); err != nil {
				return err
			}
		default:
			if err := local.TruncatePages(0); err != nil {
				return err
			}
		}
	}
	return nil
}

// Sync flushes every open segment.
func (s *Segmented) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, local := range s.segments {
		if err := local.Sync(); err != nil {
			return err
		}
	}
	return nil
}

// PageCount reports the highest page number touched across all open
// segments, rounded up using each segment's own page count.
func (s *Segmented) PageCount() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var maxSeg uint32
	found := false
	for segNo := range s.segments {
		if !found || segNo > maxSeg {
			maxSeg = segNo
			found = true
		}
	}
	if !found {
		return 0, nil
	}
	local := s.segments[maxSeg]
	n, err := local.PageCount()
	if err != nil {
		return 0, err
	}
	return maxSeg*s.segmentPages + n, nil
}

// Close closes every open segment together, returning the first error.
func (s *Segmented) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for segNo, local := range s.segments {
		if err := local.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: closing segment %d: %v", kverrors.IoError, segNo, err)
		}
	}
	return firstErr
}
