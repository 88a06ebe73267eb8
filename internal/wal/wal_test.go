package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPageSize = 256

type fakeWriter struct {
	pages map[uint32][]byte
}

func newFakeWriter() *fakeWriter { return &fakeWriter{pages: make(map[uint32][]byte)} }

func (f *fakeWriter) WritePage(n uint32, buf []byte) error {
	img := make([]byte, len(buf))
	copy(img, buf)
	f.pages[n] = img
	return nil
}

func pageOf(b byte) []byte {
	buf := make([]byte, testPageSize)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func TestCommitThenReplayApplies(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(filepath.Join(dir, "wal.log"), testPageSize, Options{})
	require.NoError(t, err)
	defer m.Close()

	tx, err := m.BeginTransaction()
	require.NoError(t, err)
	require.NoError(t, m.StagePage(tx, 7, pageOf(0xAB)))
	require.NoError(t, m.CommitTransaction(tx, false))

	w := newFakeWriter()
	require.NoError(t, m.Replay(w))
	assert.Equal(t, pageOf(0xAB), w.pages[7])

	info, err := os.Stat(filepath.Join(dir, "wal.log"))
	require.NoError(t, err)
	assert.Equal(t, int64(HeaderSize), info.Size())
}

func TestRollbackLeavesNothingToApply(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(filepath.Join(dir, "wal.log"), testPageSize, Options{})
	require.NoError(t, err)
	defer m.Close()

	tx, err := m.BeginTransaction()
	require.NoError(t, err)
	require.NoError(t, m.StagePage(tx, 1, pageOf(0xFF)))
	require.NoError(t, m.RollbackTransaction(tx))

	w := newFakeWriter()
	require.NoError(t, m.Replay(w))
	assert.NotContains(t, w.pages, uint32(1))
}

func TestBeginWithoutCommitIsIgnored(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(filepath.Join(dir, "wal.log"), testPageSize, Options{})
	require.NoError(t, err)

	tx, err := m.BeginTransaction()
	require.NoError(t, err)
	require.NoError(t, m.StagePage(tx, 4, pageOf(0x11)))
	// no commit, simulate crash: close handle directly instead of Close()
	require.NoError(t, m.f.Close())

	m2, err := Open(filepath.Join(dir, "wal.log"), testPageSize, Options{})
	require.NoError(t, err)
	defer m2.Close()

	w := newFakeWriter()
	require.NoError(t, m2.Replay(w))
	assert.NotContains(t, w.pages, uint32(4))
}

func TestTornTailAfterValidCommitIsIgnored(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")
	m, err := Open(path, testPageSize, Options{})
	require.NoError(t, err)

	tx, err := m.BeginTransaction()
	require.NoError(t, err)
	require.NoError(t, m.StagePage(tx, 2, pageOf(0x22)))
	require.NoError(t, m.CommitTransaction(tx, false))
	require.NoError(t, m.f.Close())

	// Append a garbage torn record directly to the file.
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{1, 2, 3}) // shorter than a record header
	require.NoError(t, err)
	require.NoError(t, f.Close())

	m2, err := Open(path, testPageSize, Options{})
	require.NoError(t, err)
	defer m2.Close()

	w := newFakeWriter()
	require.NoError(t, m2.Replay(w))
	assert.Equal(t, pageOf(0x22), w.pages[2])
}

func TestGroupCommitSkipsFsyncButStillApplies(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(filepath.Join(dir, "wal.log"), testPageSize, Options{GroupCommit: true})
	require.NoError(t, err)
	defer m.Close()

	tx, err := m.BeginTransaction()
	require.NoError(t, err)
	require.NoError(t, m.StagePage(tx, 9, pageOf(0x99)))
	require.NoError(t, m.CommitTransaction(tx, false))

	w := newFakeWriter()
	require.NoError(t, m.Checkpoint(w))
	assert.Equal(t, pageOf(0x99), w.pages[9])
}
