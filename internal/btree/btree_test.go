package btree

import (
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/bptreekv/internal/bufferpool"
	"github.com/tuannm99/bptreekv/internal/filestore"
	"github.com/tuannm99/bptreekv/internal/latch"
	"github.com/tuannm99/bptreekv/internal/overflowstore"
	"github.com/tuannm99/bptreekv/internal/pagestore"
	"github.com/tuannm99/bptreekv/internal/wal"
)

const smallPageSize = 256

func newHarness(t *testing.T, pageSize int) *BTree {
	t.Helper()
	dir := t.TempDir()
	fs, err := filestore.Open(filepath.Join(dir, "data.db"), pageSize)
	require.NoError(t, err)
	ps, err := pagestore.Open(fs, pageSize)
	require.NoError(t, err)
	w, err := wal.Open(filepath.Join(dir, "data.wal"), pageSize, wal.Options{})
	require.NoError(t, err)
	pool := bufferpool.New(ps.FileStore(), ps.FileStore(), w, 64, bufferpool.LRU, false)
	ovf := overflowstore.New(ps, pool, pageSize)
	latches := latch.New()
	return New(ps, pool, ovf, latches, pageSize)
}

func u32le(n uint64) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(n))
	return buf
}

func TestBasicSetGetDelete(t *testing.T) {
	bt := newHarness(t, 4096)

	require.NoError(t, bt.Set(1, []byte("hello")))
	require.NoError(t, bt.Set(2, []byte("world")))

	v, ok, err := bt.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", string(v))

	v, ok, err = bt.Get(2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "world", string(v))

	deleted, err := bt.Delete(1)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, ok, err = bt.Get(1)
	require.NoError(t, err)
	assert.False(t, ok)

	v, ok, err = bt.Get(2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "world", string(v))
}

func TestRangeOver200Keys(t *testing.T) {
	bt := newHarness(t, smallPageSize)
	for k := uint64(0); k < 200; k++ {
		require.NoError(t, bt.Set(k, u32le(k)))
	}

	pairs, err := bt.Range(0, 199)
	require.NoError(t, err)
	require.Len(t, pairs, 200)
	for i, p := range pairs {
		assert.Equal(t, uint64(i), p.Key)
		assert.Equal(t, uint32(i), binary.LittleEndian.Uint32(p.Value))
	}
	assert.Equal(t, uint64(200), bt.ps.ReadMeta().KeyCount)
}

func TestDeleteEveryEvenKeyPreservesOddKeys(t *testing.T) {
	bt := newHarness(t, smallPageSize)
	for k := uint64(0); k < 400; k++ {
		require.NoError(t, bt.Set(k, u32le(k)))
	}
	for k := uint64(0); k < 400; k += 2 {
		deleted, err := bt.Delete(k)
		require.NoError(t, err)
		assert.True(t, deleted)
	}

	assert.Equal(t, uint64(200), bt.ps.ReadMeta().KeyCount)
	for k := uint64(0); k < 400; k++ {
		_, ok, err := bt.Get(k)
		require.NoError(t, err)
		assert.Equal(t, k%2 == 1, ok)
	}

	pairs, err := bt.Range(1, 399)
	require.NoError(t, err)
	assert.Len(t, pairs, 200)

	ok, err := bt.ConsistencyCheck()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOverflowValueRoundTripAndVacuum(t *testing.T) {
	bt := newHarness(t, smallPageSize)
	big := make([]byte, smallPageSize*4)
	for i := range big {
		big[i] = byte(i % 251)
	}
	require.NoError(t, bt.Set(5, big))

	v, ok, err := bt.Get(5)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, big, v)

	before := bt.ps.ReadMeta().TotalPages
	deleted, err := bt.Delete(5)
	require.NoError(t, err)
	assert.True(t, deleted)

	result, err := bt.Vacuum()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.Reclaimed, 4)
	assert.Less(t, bt.ps.ReadMeta().TotalPages, before)
}

func TestIndependentRangeCursors(t *testing.T) {
	bt := newHarness(t, smallPageSize)
	for k := uint64(0); k < 1000; k++ {
		require.NoError(t, bt.Set(k, u32le(k)))
	}

	c1, err := bt.NewCursor(250, 499)
	require.NoError(t, err)
	c2, err := bt.NewCursor(500, 749)
	require.NoError(t, err)

	var got1, got2 []uint64
	for {
		kv, ok, err := c1.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got1 = append(got1, kv.Key)
	}
	for {
		kv, ok, err := c2.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got2 = append(got2, kv.Key)
	}
	assert.Len(t, got1, 250)
	assert.Len(t, got2, 250)
	assert.Equal(t, uint64(250), got1[0])
	assert.Equal(t, uint64(500), got2[0])
}

func TestDefragmentPreservesKeysAndValues(t *testing.T) {
	bt := newHarness(t, smallPageSize)
	for k := uint64(0); k < 100; k++ {
		require.NoError(t, bt.Set(k, u32le(k)))
	}
	for k := uint64(0); k < 100; k += 3 {
		_, err := bt.Delete(k)
		require.NoError(t, err)
	}

	require.NoError(t, bt.Defragment())

	for k := uint64(0); k < 100; k++ {
		v, ok, err := bt.Get(k)
		require.NoError(t, err)
		if k%3 == 0 {
			assert.False(t, ok)
			continue
		}
		require.True(t, ok)
		assert.Equal(t, uint32(k), binary.LittleEndian.Uint32(v))
	}
	ok, err := bt.ConsistencyCheck()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOverwriteLeavesKeyCountUnchanged(t *testing.T) {
	bt := newHarness(t, 4096)
	require.NoError(t, bt.Set(42, []byte("a")))
	before := bt.ps.ReadMeta().KeyCount
	require.NoError(t, bt.Set(42, []byte("b")))
	assert.Equal(t, before, bt.ps.ReadMeta().KeyCount)

	v, ok, err := bt.Get(42)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", string(v))
}
