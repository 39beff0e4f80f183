package mfs

import (
	"testing"

	"github.com/deploymenttheory/go-apple2fs/core"
	"github.com/deploymenttheory/go-apple2fs/devices/rawfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTotalBlocks = 800 // a classic 400K Macintosh floppy's block count

func newBlankImage(t *testing.T) *rawfile.Source {
	t.Helper()
	data := make([]byte, testTotalBlocks*logicalBlockSize)
	return rawfile.New(data, false, rawfile.WithBlockGeometry())
}

func newFormattedVolume(t *testing.T) (*rawfile.Source, *Volume, *core.Filesystem) {
	t.Helper()
	src := newBlankImage(t)
	vol, err := New(src)
	require.NoError(t, err)
	fs := core.NewFilesystem(vol.gate, vol)
	require.NoError(t, fs.Format("TESTVOL", 0, false))
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
	assert.Equal(t, "TESTVOL", vol.vi.VolumeName)
}

func TestCreateWriteReadDataFork(t *testing.T) {
	_, vol, fs := newFormattedVolume(t)
	e, err := vol.CreateFile("Hello")
	require.NoError(t, err)

	fd, err := vol.Open(e.Slot, true, core.DataFork)
	require.NoError(t, err)
	payload := []byte("hello MFS world, this is the data fork")
	n, err := fd.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	require.NoError(t, fd.Close())

	rescan(t, fs)
	entries := vol.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(len(payload)), entries[0].DataLength)

	fd2, err := vol.Open(entries[0].Slot, false, core.DataFork)
	require.NoError(t, err)
	out := make([]byte, len(payload))
	_, err = fd2.Read(out)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestCreateWriteReadResourceFork(t *testing.T) {
	_, vol, fs := newFormattedVolume(t)
	e, err := vol.CreateFile("Icon")
	require.NoError(t, err)

	fd, err := vol.Open(e.Slot, true, core.RsrcFork)
	require.NoError(t, err)
	payload := make([]byte, logicalBlockSize*3+17)
	for i := range payload {
		payload[i] = byte(i)
	}
	_, err = fd.Write(payload)
	require.NoError(t, err)
	require.NoError(t, fd.Close())

	rescan(t, fs)
	entries := vol.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(len(payload)), entries[0].RsrcLength)
	assert.True(t, entries[0].HasRsrcFork)

	fd2, err := vol.Open(entries[0].Slot, false, core.RsrcFork)
	require.NoError(t, err)
	out := make([]byte, len(payload))
	_, err = fd2.Read(out)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestDeleteFileFreesAllocationUnits(t *testing.T) {
	_, vol, fs := newFormattedVolume(t)
	freeBefore, err := vol.FreeSpaceBytes()
	require.NoError(t, err)

	e, err := vol.CreateFile("Gone")
	require.NoError(t, err)
	fd, err := vol.Open(e.Slot, true, core.DataFork)
	require.NoError(t, err)
	_, err = fd.Write(make([]byte, logicalBlockSize*5))
	require.NoError(t, err)
	require.NoError(t, fd.Close())

	require.NoError(t, vol.DeleteFile(e.Slot))
	rescan(t, fs)
	assert.Empty(t, vol.Entries())

	freeAfter, err := vol.FreeSpaceBytes()
	require.NoError(t, err)
	assert.Equal(t, freeBefore, freeAfter)
}

func TestMultipleFilesIndependentChains(t *testing.T) {
	_, vol, fs := newFormattedVolume(t)
	a, err := vol.CreateFile("A")
	require.NoError(t, err)
	b, err := vol.CreateFile("B")
	require.NoError(t, err)

	fdA, err := vol.Open(a.Slot, true, core.DataFork)
	require.NoError(t, err)
	_, err = fdA.Write([]byte("first file contents"))
	require.NoError(t, err)
	require.NoError(t, fdA.Close())

	fdB, err := vol.Open(b.Slot, true, core.DataFork)
	require.NoError(t, err)
	_, err = fdB.Write([]byte("second, unrelated file contents"))
	require.NoError(t, err)
	require.NoError(t, fdB.Close())

	rescan(t, fs)
	entries := vol.Entries()
	require.Len(t, entries, 2)
	names := map[string]int64{}
	for _, e := range entries {
		names[string(e.RawName)] = e.DataLength
	}
	assert.Equal(t, int64(len("first file contents")), names["A"])
	assert.Equal(t, int64(len("second, unrelated file contents")), names["B"])
}

func TestProberDetectsFormattedVolume(t *testing.T) {
	src, _, _ := newFormattedVolume(t)
	conf, err := Prober{}.TestImage(src)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, conf, core.Good)
}

func TestProberRejectsUnformattedImage(t *testing.T) {
	src := newBlankImage(t)
	conf, err := Prober{}.TestImage(src)
	require.NoError(t, err)
	assert.Equal(t, core.No, conf)
}
