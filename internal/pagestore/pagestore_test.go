package pagestore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/bptreekv/internal/filestore"
)

const testPageSize = 256

func openStore(t *testing.T) *PageStore {
	t.Helper()
	fs, err := filestore.Open(filepath.Join(t.TempDir(), "data.db"), testPageSize)
	require.NoError(t, err)
	ps, err := Open(fs, testPageSize)
	require.NoError(t, err)
	return ps
}

func TestOpenBootstrapsFreshMeta(t *testing.T) {
	ps := openStore(t)
	meta := ps.ReadMeta()
	assert.Equal(t, uint32(2), meta.RootPage)
	assert.Equal(t, uint32(1), meta.TreeDepth)
	assert.Equal(t, uint32(3), meta.TotalPages)
	assert.Equal(t, uint64(0), meta.KeyCount)
}

func TestAllocatePageBumpsTotal(t *testing.T) {
	ps := openStore(t)
	n, err := ps.AllocatePage()
	require.NoError(t, err)
	assert.Equal(t, uint32(3), n)
	assert.Equal(t, uint32(4), ps.ReadMeta().TotalPages)
}

func TestFreeThenAllocateReusesPage(t *testing.T) {
	ps := openStore(t)
	n, err := ps.AllocatePage()
	require.NoError(t, err)

	require.NoError(t, ps.FreePage(n))
	assert.Equal(t, n, ps.ReadMeta().FreePageHead)

	reused, err := ps.AllocatePage()
	require.NoError(t, err)
	assert.Equal(t, n, reused)
	assert.Equal(t, uint32(0), ps.ReadMeta().FreePageHead)
}

func TestCollectFreePagesDetectsCycle(t *testing.T) {
	ps := openStore(t)
	buf := make([]byte, testPageSize)
	// page 3 points to itself: a one-node cycle.
	lePutU32 := func(b []byte, v uint32) {
		b[0] = byte(v)
		b[1] = byte(v >> 8)
		b[2] = byte(v >> 16)
		b[3] = byte(v >> 24)
	}
	lePutU32(buf, 3)
	require.NoError(t, ps.fs.WritePage(3, buf))
	meta := ps.ReadMeta()
	meta.FreePageHead = 3
	meta.TotalPages = 4
	require.NoError(t, ps.WriteMeta(meta))

	_, err := ps.CollectFreePages()
	assert.Error(t, err)
}

func TestVacuumReclaimsTrailingFreePages(t *testing.T) {
	ps := openStore(t)
	a, err := ps.AllocatePage()
	require.NoError(t, err)
	b, err := ps.AllocatePage()
	require.NoError(t, err)
	require.NoError(t, ps.FreePage(a))
	require.NoError(t, ps.FreePage(b))

	result, err := ps.Vacuum()
	require.NoError(t, err)
	assert.Equal(t, 2, result.Reclaimed)
	assert.Equal(t, uint32(3), ps.ReadMeta().TotalPages)
}

func TestVacuumIsIdempotent(t *testing.T) {
	ps := openStore(t)
	first, err := ps.Vacuum()
	require.NoError(t, err)
	assert.Equal(t, 0, first.Reclaimed)

	second, err := ps.Vacuum()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
