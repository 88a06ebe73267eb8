package overflowstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/bptreekv/internal/bufferpool"
	"github.com/tuannm99/bptreekv/internal/filestore"
	"github.com/tuannm99/bptreekv/internal/kverrors"
	"github.com/tuannm99/bptreekv/internal/pagestore"
	"github.com/tuannm99/bptreekv/internal/wal"
)

const testPageSize = 256

func newHarness(t *testing.T) (*OverflowStore, *pagestore.PageStore) {
	t.Helper()
	dir := t.TempDir()
	fs, err := filestore.Open(filepath.Join(dir, "data.db"), testPageSize)
	require.NoError(t, err)
	ps, err := pagestore.Open(fs, testPageSize)
	require.NoError(t, err)
	w, err := wal.Open(filepath.Join(dir, "data.wal"), testPageSize, wal.Options{})
	require.NoError(t, err)
	pool := bufferpool.New(ps.FileStore(), ps.FileStore(), w, 8, bufferpool.LRU, false)
	return New(ps, pool, testPageSize), ps
}

func TestAllocateChainEmptyReturnsZero(t *testing.T) {
	o, _ := newHarness(t)
	head, err := o.AllocateChain(nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), head)
}

func TestAllocateAndReadChainRoundTrip(t *testing.T) {
	o, _ := newHarness(t)
	chunk := testPageSize - 16
	data := make([]byte, chunk*3+10)
	for i := range data {
		data[i] = byte(i)
	}

	head, err := o.AllocateChain(data)
	require.NoError(t, err)
	assert.NotZero(t, head)

	got, err := o.ReadChain(head, uint32(len(data)))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestReadChainTruncatedFails(t *testing.T) {
	o, _ := newHarness(t)
	data := make([]byte, 20)
	head, err := o.AllocateChain(data)
	require.NoError(t, err)

	_, err = o.ReadChain(head, 10_000)
	assert.ErrorIs(t, err, kverrors.TruncatedChain)
}

func TestFreeChainReclaimsPages(t *testing.T) {
	o, ps := newHarness(t)
	chunk := testPageSize - 16
	data := make([]byte, chunk*2+5)

	head, err := o.AllocateChain(data)
	require.NoError(t, err)
	before := ps.ReadMeta().TotalPages

	require.NoError(t, o.FreeChain(head))
	result, err := ps.Vacuum()
	require.NoError(t, err)
	assert.Greater(t, result.Reclaimed, 0)
	assert.Less(t, ps.ReadMeta().TotalPages, before)
}
