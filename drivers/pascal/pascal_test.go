package pascal

import (
	"testing"

	"github.com/deploymenttheory/go-apple2fs/core"
	"github.com/deploymenttheory/go-apple2fs/devices/rawfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTotalBlocks = 280

func newBlankImage(t *testing.T) *rawfile.Source {
	t.Helper()
	data := make([]byte, testTotalBlocks*blockSize)
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
	free, err := vol.FreeSpaceBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(testTotalBlocks-dirEnd)*blockSize, free)
}

func TestCreateWriteReadRoundTrip(t *testing.T) {
	_, vol, _ := newFormattedVolume(t)
	e, err := vol.CreateFile("HELLO.TEXT", KindText, 4)
	require.NoError(t, err)
	assert.Equal(t, dirEnd, e.FirstBlock)

	fd, err := vol.Open(e.Slot, true)
	require.NoError(t, err)
	payload := []byte("HELLO PASCAL WORLD")
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

func TestWriteBeyondExtentFails(t *testing.T) {
	_, vol, _ := newFormattedVolume(t)
	e, err := vol.CreateFile("SMALL.TEXT", KindText, 1)
	require.NoError(t, err)
	fd, err := vol.Open(e.Slot, true)
	require.NoError(t, err)
	_, err = fd.Write(make([]byte, blockSize+1))
	require.Error(t, err)
	kind, ok := core.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, core.KindDiskFull, kind)
}

func TestDeleteFileFreesGap(t *testing.T) {
	_, vol, _ := newFormattedVolume(t)
	e, err := vol.CreateFile("GONE.TEXT", KindText, 3)
	require.NoError(t, err)
	require.NoError(t, vol.DeleteFile(e.Slot))
	assert.Empty(t, vol.Entries())
	free, err := vol.FreeSpaceBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(testTotalBlocks-dirEnd)*blockSize, free)
}

// TestContiguousDefragConstraint covers §8 scenario 6: three files are
// created, the middle one is deleted (opening a small gap), and a request
// needing more blocks than any single gap -- but fewer than the sum of all
// free space -- must fail with DiskFull rather than silently compacting.
func TestContiguousDefragConstraint(t *testing.T) {
	_, vol, _ := newFormattedVolume(t)
	_, err := vol.CreateFile("A.TEXT", KindText, 5)
	require.NoError(t, err)
	b, err := vol.CreateFile("B.TEXT", KindText, 5)
	require.NoError(t, err)
	_, err = vol.CreateFile("C.TEXT", KindText, 5)
	require.NoError(t, err)

	require.NoError(t, vol.DeleteFile(b.Slot))

	totalFree, err := vol.FreeSpaceBytes()
	require.NoError(t, err)
	// Sum of gaps: the reopened 5-block gap plus everything past file C.
	needBlocks := int(totalFree/blockSize) - 5 + 1
	require.Greater(t, needBlocks, 5, "test needs a request bigger than any single gap")

	_, err = vol.CreateFile("TOOBIG.TEXT", KindText, needBlocks)
	require.Error(t, err)
	kind, ok := core.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, core.KindDiskFull, kind)

	_, err = vol.CreateFile("FITS.TEXT", KindText, 5)
	assert.NoError(t, err)
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
