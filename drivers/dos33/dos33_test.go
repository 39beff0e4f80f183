package dos33

import (
	"testing"

	"github.com/deploymenttheory/go-apple2fs/core"
	"github.com/deploymenttheory/go-apple2fs/devices/rawfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testTracks = 35
	testSecs   = 16
)

func newBlankImage(t *testing.T) *rawfile.Source {
	t.Helper()
	data := make([]byte, testTracks*testSecs*sectorSize)
	return rawfile.New(data, false, rawfile.WithSectorGeometry(testTracks, testSecs), rawfile.WithOrder(core.FileOrderDOS))
}

func newFormattedVolume(t *testing.T) (*rawfile.Source, *Volume, *core.Filesystem) {
	t.Helper()
	src := newBlankImage(t)
	vol, err := New(src)
	require.NoError(t, err)
	fs := core.NewFilesystem(vol.gate, vol)
	require.NoError(t, fs.Format("TEST", 254, false))
	require.NoError(t, fs.PrepareFileAccess(true))
	return src, vol, fs
}

func rescan(t *testing.T, fs *core.Filesystem) {
	t.Helper()
	require.NoError(t, fs.PrepareRawAccess())
	require.NoError(t, fs.PrepareFileAccess(true))
}

func TestVTOCRoundTrip(t *testing.T) {
	v := &VTOC{
		CatalogTrack: 17, CatalogSector: 15, DOSRelease: 3, VolumeNumber: 254,
		MaxTSPairs: 122, AllocDirection: 1,
		Tracks: testTracks, SectorsPerTrack: testSecs, BytesPerSector: sectorSize,
	}
	v.freeBitsInit()
	v.SetUsed(0, 0)
	v.SetUsed(17, 0)

	buf := v.Encode()
	got, err := ParseVTOC(buf)
	require.NoError(t, err)
	assert.Equal(t, v.CatalogTrack, got.CatalogTrack)
	assert.Equal(t, v.CatalogSector, got.CatalogSector)
	assert.False(t, got.IsFree(0, 0))
	assert.False(t, got.IsFree(17, 0))
	assert.True(t, got.IsFree(1, 0))
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

	e, err := vol.CreateFile("HELLO", TypeBinary)
	require.NoError(t, err)

	fd, err := vol.Open(e.Slot, true)
	require.NoError(t, err)

	payload := []byte{0x00, 0x20, 0x05, 0x00, 1, 2, 3, 4, 5} // load=0x2000 len=5
	n, err := fd.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	require.NoError(t, fd.Close())

	fd2, err := vol.Open(e.Slot, false)
	require.NoError(t, err)
	out := make([]byte, len(payload))
	n, err = fd2.Read(out)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, out)
}

func TestDeleteFilePreservesOriginalTrack(t *testing.T) {
	_, vol, _ := newFormattedVolume(t)
	e, err := vol.CreateFile("GONE", TypeText)
	require.NoError(t, err)
	originalTrack := e.FirstTSList.Track

	require.NoError(t, vol.DeleteFile(e.Slot))
	assert.True(t, e.Deleted)
	assert.Equal(t, originalTrack, e.DeletedFromTrack)
	assert.Empty(t, vol.Entries())
}

func TestBinaryFileLengthRecovery(t *testing.T) {
	_, vol, fs := newFormattedVolume(t)
	e, err := vol.CreateFile("BIN", TypeBinary)
	require.NoError(t, err)

	fd, err := vol.Open(e.Slot, true)
	require.NoError(t, err)
	data := append([]byte{0x00, 0x30, 0x03, 0x00}, []byte{0xAA, 0xBB, 0xCC}...)
	_, err = fd.Write(data)
	require.NoError(t, err)
	require.NoError(t, fd.Close())

	rescan(t, fs)

	entries := vol.Entries()
	require.Len(t, entries, 1)
	got := entries[0]
	assert.Equal(t, uint32(0x3000), got.AuxType)
	assert.EqualValues(t, 3, got.DataLength)
}

func TestApplesoftLengthRecovery(t *testing.T) {
	_, vol, fs := newFormattedVolume(t)
	e, err := vol.CreateFile("PROG", TypeApplesoft)
	require.NoError(t, err)

	fd, err := vol.Open(e.Slot, true)
	require.NoError(t, err)
	data := append([]byte{0x07, 0x00}, []byte{1, 2, 3, 4, 5, 6, 7}...)
	_, err = fd.Write(data)
	require.NoError(t, err)
	require.NoError(t, fd.Close())

	rescan(t, fs)

	entries := vol.Entries()
	require.Len(t, entries, 1)
	assert.EqualValues(t, 7, entries[0].DataLength)
}

func TestTextFileLengthStopsAtNUL(t *testing.T) {
	_, vol, fs := newFormattedVolume(t)
	e, err := vol.CreateFile("NOTES", TypeText)
	require.NoError(t, err)

	fd, err := vol.Open(e.Slot, true)
	require.NoError(t, err)
	data := append([]byte("HELLO WORLD"), 0x00)
	data = append(data, []byte("TRAILING GARBAGE")...)
	_, err = fd.Write(data)
	require.NoError(t, err)
	require.NoError(t, fd.Close())

	rescan(t, fs)

	entries := vol.Entries()
	require.Len(t, entries, 1)
	assert.EqualValues(t, len("HELLO WORLD"), entries[0].DataLength)
}

func TestProberDetectsFormattedVolume(t *testing.T) {
	src, _, _ := newFormattedVolume(t)
	conf, err := Prober{}.TestImage(src)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, conf, core.Good)
}

func TestProberRejectsNonSectorSource(t *testing.T) {
	src := rawfile.New(make([]byte, 512*10), false, rawfile.WithBlockGeometry())
	conf, err := Prober{}.TestImage(src)
	require.NoError(t, err)
	assert.Equal(t, core.No, conf)
}

func TestScanDetectsCyclicTSListAsDamaged(t *testing.T) {
	src, vol, fs := newFormattedVolume(t)
	e, err := vol.CreateFile("CYCLE", TypeBinary)
	require.NoError(t, err)
	fd, err := vol.Open(e.Slot, true)
	require.NoError(t, err)
	_, err = fd.Write([]byte{0, 0, 4, 0, 1, 2, 3, 4})
	require.NoError(t, err)
	require.NoError(t, fd.Close())

	listT, listS := vol.vtoc.TrackSectorOf(e.ListUnits[0])

	require.NoError(t, fs.PrepareRawAccess())
	// Corrupt the T/S list to point to itself, forming a one-node cycle.
	buf := make([]byte, sectorSize)
	require.NoError(t, src.ReadSector(listT, listS, buf, 0))
	buf[0x01], buf[0x02] = byte(listT), byte(listS)
	require.NoError(t, src.WriteSector(listT, listS, buf, 0))
	require.NoError(t, fs.PrepareFileAccess(true))

	entries := vol.Entries()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].IsDamaged)
}
