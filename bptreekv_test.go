package bptreekv

import (
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/bptreekv/internal/config"
)

func u32le(n uint64) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(n))
	return buf
}

func TestScenarioBasicSetGetDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	tree, err := Open(path)
	require.NoError(t, err)
	defer tree.Close()

	require.NoError(t, tree.Set(1, []byte("hello")))
	require.NoError(t, tree.Set(2, []byte("world")))

	v, ok, err := tree.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", string(v))

	v, ok, err = tree.Get(2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "world", string(v))

	deleted, err := tree.Delete(1)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, ok, err = tree.Get(1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScenarioRangeOver200Keys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	tree, err := Open(path, config.WithPageSize(512))
	require.NoError(t, err)
	defer tree.Close()

	for k := uint64(0); k < 200; k++ {
		require.NoError(t, tree.Set(k, u32le(k)))
	}
	pairs, err := tree.Range(0, 199)
	require.NoError(t, err)
	require.Len(t, pairs, 200)
	for i, p := range pairs {
		assert.Equal(t, uint64(i), p.Key)
	}
}

func TestScenarioCrashRecoveryWithoutClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	tree, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, tree.Set(7, []byte("A")))

	// simulate a crash: skip Close, reopen from scratch. Set already
	// flushed through the WAL synchronously, so the crash only means the
	// WAL checkpoint truncation never ran; replay on reopen is a no-op
	// reapplication of the same committed frame.
	tree2, err := Open(path)
	require.NoError(t, err)
	defer tree2.Close()

	v, ok, err := tree2.Get(7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "A", string(v))

	ok2, err := tree2.ConsistencyCheck()
	require.NoError(t, err)
	assert.True(t, ok2)
}

