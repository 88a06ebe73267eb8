package bufferpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLoader struct {
	pages map[uint32][]byte
	loads int
}

func newFakeLoader() *fakeLoader { return &fakeLoader{pages: make(map[uint32][]byte)} }

func (f *fakeLoader) ReadPage(n uint32) ([]byte, error) {
	f.loads++
	if buf, ok := f.pages[n]; ok {
		cp := make([]byte, len(buf))
		copy(cp, buf)
		return cp, nil
	}
	return make([]byte, 64), nil
}

type fakeWriter struct {
	pages map[uint32][]byte
}

func newFakeWriter() *fakeWriter { return &fakeWriter{pages: make(map[uint32][]byte)} }

func (f *fakeWriter) WritePage(n uint32, buf []byte) error {
	cp := make([]byte, len(buf))
	copy(cp, buf)
	f.pages[n] = cp
	return nil
}

type fakeWAL struct {
	nextTx  uint32
	staged  map[uint32][]stagedFrame
	commits int
}

type stagedFrame struct {
	pageNumber uint32
	buf        []byte
}

func newFakeWAL() *fakeWAL { return &fakeWAL{staged: make(map[uint32][]stagedFrame)} }

func (w *fakeWAL) BeginTransaction() (uint32, error) {
	w.nextTx++
	return w.nextTx, nil
}

func (w *fakeWAL) StagePage(txID, pageNumber uint32, buf []byte) error {
	w.staged[txID] = append(w.staged[txID], stagedFrame{pageNumber: pageNumber, buf: buf})
	return nil
}

func (w *fakeWAL) CommitTransaction(txID uint32, skipSync bool) error {
	delete(w.staged, txID)
	w.commits++
	return nil
}

func TestGetPageLoadsOnMiss(t *testing.T) {
	loader := newFakeLoader()
	loader.pages[3] = []byte("page-three-data.........")
	p := New(loader, newFakeWriter(), newFakeWAL(), 4, LRU, false)

	buf, err := p.GetPage(3)
	require.NoError(t, err)
	assert.Equal(t, loader.pages[3], buf)
	assert.Equal(t, 1, loader.loads)

	// second fetch is a cache hit, no extra load.
	_, err = p.GetPage(3)
	require.NoError(t, err)
	assert.Equal(t, 1, loader.loads)
}

func TestUnpinMarksDirtyAndEvictable(t *testing.T) {
	p := New(newFakeLoader(), newFakeWriter(), newFakeWAL(), 4, LRU, false)
	_, err := p.GetPage(1)
	require.NoError(t, err)

	require.NoError(t, p.Unpin(1, true))
	assert.True(t, p.frames[p.pageTable[1]].Dirty)
	assert.Equal(t, 1, p.replacer.Size())
}

func TestUnpinWithoutPinIsLockMisuse(t *testing.T) {
	p := New(newFakeLoader(), newFakeWriter(), newFakeWAL(), 4, LRU, false)
	_, err := p.GetPage(1)
	require.NoError(t, err)
	require.NoError(t, p.Unpin(1, false))

	err = p.Unpin(1, false)
	assert.Error(t, err)
}

func TestFlushPageWritesThroughWAL(t *testing.T) {
	writer := newFakeWriter()
	wal := newFakeWAL()
	p := New(newFakeLoader(), writer, wal, 4, LRU, false)

	_, err := p.GetPage(2)
	require.NoError(t, err)
	require.NoError(t, p.Unpin(2, true))
	require.NoError(t, p.FlushPage(2))

	assert.Equal(t, 1, wal.commits)
	assert.Contains(t, writer.pages, uint32(2))
	assert.False(t, p.frames[p.pageTable[2]].Dirty)
}

func TestEvictionFlushesDirtyVictim(t *testing.T) {
	writer := newFakeWriter()
	wal := newFakeWAL()
	p := New(newFakeLoader(), writer, wal, 1, LRU, false)

	_, err := p.GetPage(1)
	require.NoError(t, err)
	require.NoError(t, p.Unpin(1, true))

	_, err = p.GetPage(2)
	require.NoError(t, err)

	assert.Contains(t, writer.pages, uint32(1))
	assert.Equal(t, uint64(1), p.Stats().Evictions)
}

func TestPoolExhaustedWhenAllPinned(t *testing.T) {
	p := New(newFakeLoader(), newFakeWriter(), newFakeWAL(), 1, LRU, false)
	_, err := p.GetPage(1)
	require.NoError(t, err)

	_, err = p.GetPage(2)
	assert.Error(t, err)
}

func TestDropPagePinnedFails(t *testing.T) {
	p := New(newFakeLoader(), newFakeWriter(), newFakeWAL(), 4, Clock, false)
	_, err := p.GetPage(1)
	require.NoError(t, err)

	err = p.DropPage(1)
	assert.Error(t, err)

	require.NoError(t, p.Unpin(1, false))
	require.NoError(t, p.DropPage(1))
	assert.NotContains(t, p.pageTable, uint32(1))
}

func TestResetClearsFrames(t *testing.T) {
	p := New(newFakeLoader(), newFakeWriter(), newFakeWAL(), 4, LRU, false)
	_, err := p.GetPage(1)
	require.NoError(t, err)
	require.NoError(t, p.Unpin(1, false))

	p.Reset()
	assert.Empty(t, p.pageTable)
}
