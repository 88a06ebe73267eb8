package filestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPageSize = 512

func TestLocalReadPadsWithZeros(t *testing.T) {
	dir := t.TempDir()
	fs, err := Open(filepath.Join(dir, "data"), testPageSize)
	require.NoError(t, err)
	defer fs.Close()

	buf, err := fs.ReadPage(5)
	require.NoError(t, err)
	assert.Len(t, buf, testPageSize)
	for _, b := range buf {
		assert.Equal(t, byte(0), b)
	}
}

func TestLocalWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fs, err := Open(filepath.Join(dir, "data"), testPageSize)
	require.NoError(t, err)
	defer fs.Close()

	buf := make([]byte, testPageSize)
	for i := range buf {
		buf[i] = byte(i)
	}
	require.NoError(t, fs.WritePage(3, buf))

	got, err := fs.ReadPage(3)
	require.NoError(t, err)
	assert.Equal(t, buf, got)

	n, err := fs.PageCount()
	require.NoError(t, err)
	assert.Equal(t, uint32(4), n)
}

func TestLocalTruncate(t *testing.T) {
	dir := t.TempDir()
	fs, err := Open(filepath.Join(dir, "data"), testPageSize)
	require.NoError(t, err)
	defer fs.Close()

	buf := make([]byte, testPageSize)
	require.NoError(t, fs.WritePage(9, buf))
	require.NoError(t, fs.TruncatePages(2))

	n, err := fs.PageCount()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), n)
}

func TestSegmentedRoutesAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	sfs, err := OpenSegmented(filepath.Join(dir, "data"), testPageSize, 4)
	require.NoError(t, err)
	defer sfs.Close()

	buf0 := make([]byte, testPageSize)
	buf0[0] = 1
	buf1 := make([]byte, testPageSize)
	buf1[0] = 2

	require.NoError(t, sfs.WritePage(1, buf0))   // segment 0
	require.NoError(t, sfs.WritePage(5, buf1))   // segment 1, offset 1

	got0, err := sfs.ReadPage(1)
	require.NoError(t, err)
	assert.Equal(t, buf0, got0)

	got1, err := sfs.ReadPage(5)
	require.NoError(t, err)
	assert.Equal(t, buf1, got1)

	_, err = os.Stat(filepath.Join(dir, "data.seg1"))
	require.NoError(t, err)
}
