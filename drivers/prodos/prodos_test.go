package prodos

import (
	"testing"

	"github.com/deploymenttheory/go-apple2fs/core"
	"github.com/deploymenttheory/go-apple2fs/devices/rawfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTotalBlocks = 280 // 140K floppy, room for many seedling/sapling files

func newBlankImage(t *testing.T) *rawfile.Source {
	t.Helper()
	data := make([]byte, testTotalBlocks*blockSize)
	return rawfile.New(data, false, rawfile.WithBlockGeometry(), rawfile.WithOrder(core.FileOrderProDOS))
}

func newFormattedVolume(t *testing.T) (*rawfile.Source, *Volume, *core.Filesystem) {
	t.Helper()
	src := newBlankImage(t)
	vol, err := New(src)
	require.NoError(t, err)
	fs := core.NewFilesystem(vol.gate, vol)
	require.NoError(t, fs.Format("TEST.VOL", 0, false))
	require.NoError(t, fs.PrepareFileAccess(true))
	return src, vol, fs
}

func rescan(t *testing.T, fs *core.Filesystem) {
	t.Helper()
	require.NoError(t, fs.PrepareRawAccess())
	require.NoError(t, fs.PrepareFileAccess(true))
}

func TestFormatProducesScannableVolume(t *testing.T) {
	_, vol, _ := newFormattedVolume(t)
	assert.False(t, vol.IsDubious())
	assert.Empty(t, vol.Entries())
	free, err := vol.FreeSpaceBytes()
	require.NoError(t, err)
	assert.Greater(t, free, int64(0))
}

func TestCreateWriteReadRoundTrip(t *testing.T) {
	_, vol, _ := newFormattedVolume(t)
	e, err := vol.CreateFile("HELLO", 0x06)
	require.NoError(t, err)

	fd, err := vol.Open(e.Slot, true)
	require.NoError(t, err)
	payload := []byte("HELLO PRODOS WORLD")
	n, err := fd.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	require.NoError(t, fd.Close())

	fd2, err := vol.Open(e.Slot, false)
	require.NoError(t, err)
	out := make([]byte, len(payload))
	_, err = fd2.Read(out)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

// TestSparseFirstBlockSaplingExpansion covers the ProDOS sparse-first-block
// scenario: seek to 600, write one byte, and confirm the expansion and
// block-0-always-allocated invariant survive a rescan.
func TestSparseFirstBlockSaplingExpansion(t *testing.T) {
	_, vol, fs := newFormattedVolume(t)
	e, err := vol.CreateFile("TEST", 0x06)
	require.NoError(t, err)

	fd, err := vol.Open(e.Slot, true)
	require.NoError(t, err)
	_, err = fd.Seek(600, core.SeekBegin)
	require.NoError(t, err)
	n, err := fd.Write([]byte{0x41})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, fd.Close())

	rescan(t, fs)
	entries := vol.Entries()
	require.Len(t, entries, 1)
	got := entries[0]

	assert.EqualValues(t, 601, got.DataLength)
	assert.EqualValues(t, 2, got.BlocksUsed)
	assert.Equal(t, StorageSapling, got.StorageType)
	require.Len(t, got.DataBlocks, 2)
	assert.NotEqual(t, -1, got.DataBlocks[0])
	assert.NotEqual(t, -1, got.DataBlocks[1])

	fd2, err := vol.Open(got.Slot, false)
	require.NoError(t, err)
	zero := make([]byte, 512)
	_, err = fd2.Read(zero)
	require.NoError(t, err)
	assert.True(t, core.IsAllZero(zero))

	_, err = fd2.Seek(600, core.SeekBegin)
	require.NoError(t, err)
	one := make([]byte, 1)
	_, err = fd2.Read(one)
	require.NoError(t, err)
	assert.Equal(t, byte(0x41), one[0])
}

func TestDeleteFileReleasesBlocks(t *testing.T) {
	_, vol, _ := newFormattedVolume(t)
	before, err := vol.FreeSpaceBytes()
	require.NoError(t, err)

	e, err := vol.CreateFile("GONE", 0x04)
	require.NoError(t, err)
	fd, err := vol.Open(e.Slot, true)
	require.NoError(t, err)
	_, err = fd.Write([]byte("some bytes"))
	require.NoError(t, err)
	require.NoError(t, fd.Close())

	require.NoError(t, vol.DeleteFile(e.Slot))
	assert.Empty(t, vol.Entries())

	after, err := vol.FreeSpaceBytes()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestProberDetectsFormattedVolume(t *testing.T) {
	src, _, _ := newFormattedVolume(t)
	conf, err := Prober{}.TestImage(src)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, conf, core.Good)
}

func TestProberRejectsNonBlockSource(t *testing.T) {
	src := rawfile.New(make([]byte, 256*35), false, rawfile.WithSectorGeometry(35, 16))
	conf, err := Prober{}.TestImage(src)
	require.NoError(t, err)
	assert.Equal(t, core.No, conf)
}
