package cpm

import (
	"testing"

	"github.com/deploymenttheory/go-apple2fs/core"
	"github.com/deploymenttheory/go-apple2fs/devices/rawfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testTracks  = 35
	testSecsPer = 16
)

func newBlankImage(t *testing.T) *rawfile.Source {
	t.Helper()
	data := make([]byte, testTracks*testSecsPer*sectorSize)
	return rawfile.New(data, false, rawfile.WithSectorGeometry(testTracks, testSecsPer))
}

func newFormattedVolume(t *testing.T, opts ...Option) (*rawfile.Source, *Volume, *core.Filesystem) {
	t.Helper()
	src := newBlankImage(t)
	vol, err := New(src, opts...)
	require.NoError(t, err)
	fs := core.NewFilesystem(vol.gate, vol)
	require.NoError(t, fs.Format("", 0, true))
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
}

// TestHybridDetectionReservesDOSTracks covers §8 scenario 1: a 140 KB image
// carved into a DOS 3.3 region (tracks 0-16, 17 tracks) and a CP/M data
// region starting at track 17. Reserving 17 tracks needs two chained 0x1F
// directory entries, since a single entry's pointer table holds only
// ptrsPerExtent (16) slots.
func TestHybridDetectionReservesDOSTracks(t *testing.T) {
	const dosTracks = 17
	_, vol, _ := newFormattedVolume(t, WithDirectoryTrack(dosTracks))
	assert.False(t, vol.IsDubious())

	reserved := vol.ReservedTrackMap()
	require.Len(t, reserved, testTracks)
	for track := 0; track < testTracks; track++ {
		want := track < dosTracks
		assert.Equal(t, want, reserved[track], "track %d reservation mismatch", track)
	}
}

func TestCreateWriteReadRoundTrip(t *testing.T) {
	_, vol, _ := newFormattedVolume(t)
	e, err := vol.CreateFile("HELLO", "TXT", 0)
	require.NoError(t, err)

	fd, err := vol.Open(e.Slot, true)
	require.NoError(t, err)
	payload := []byte("HELLO CP/M WORLD")
	n, err := fd.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	require.NoError(t, fd.Close())
}

func TestCreateWriteReadRoundTripRescanned(t *testing.T) {
	_, vol, fs := newFormattedVolume(t)
	e, err := vol.CreateFile("HELLO", "TXT", 0)
	require.NoError(t, err)
	fd, err := vol.Open(e.Slot, true)
	require.NoError(t, err)
	payload := []byte("HELLO CP/M WORLD, SPANNING MULTIPLE RECORDS OF CONTENT")
	_, err = fd.Write(payload)
	require.NoError(t, err)
	require.NoError(t, fd.Close())

	rescan(t, fs)

	entries := vol.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(len(payload)), entries[0].DataLength)

	fd2, err := vol.Open(entries[0].Slot, false)
	require.NoError(t, err)
	out := make([]byte, len(payload))
	_, err = fd2.Read(out)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

// TestMultiExtentFile writes enough data to cross a logical-extent boundary
// (more than ptrsPerExtent blocks), exercising chained directory entries.
func TestMultiExtentFile(t *testing.T) {
	_, vol, fs := newFormattedVolume(t)
	e, err := vol.CreateFile("BIGFILE", "DAT", 0)
	require.NoError(t, err)
	fd, err := vol.Open(e.Slot, true)
	require.NoError(t, err)

	payload := make([]byte, (ptrsPerExtent+4)*blockSize)
	for i := range payload {
		payload[i] = byte(i)
	}
	_, err = fd.Write(payload)
	require.NoError(t, err)
	require.NoError(t, fd.Close())
	require.Greater(t, len(e.extentSlots), 1)

	rescan(t, fs)
	entries := vol.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(len(payload)), entries[0].DataLength)

	fd2, err := vol.Open(entries[0].Slot, false)
	require.NoError(t, err)
	out := make([]byte, len(payload))
	_, err = fd2.Read(out)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

// TestDeleteAndReallocate covers §8 scenario 5: fill a freshly formatted
// image to roughly half capacity with one large file, delete it, then
// create a same-size replacement -- free space must match before the first
// create and after the second.
func TestDeleteAndReallocate(t *testing.T) {
	_, vol, fs := newFormattedVolume(t)

	freeBefore, err := vol.FreeSpaceBytes()
	require.NoError(t, err)

	halfBlocks := int(freeBefore/blockSize) / 2
	size := int64(halfBlocks) * blockSize

	e, err := vol.CreateFile("HALF", "DAT", 0)
	require.NoError(t, err)
	fd, err := vol.Open(e.Slot, true)
	require.NoError(t, err)
	_, err = fd.Write(make([]byte, size))
	require.NoError(t, err)
	require.NoError(t, fd.Close())

	require.NoError(t, vol.DeleteFile(e.Slot))
	rescan(t, fs)
	assert.Empty(t, vol.Entries())

	freeAfterDelete, err := vol.FreeSpaceBytes()
	require.NoError(t, err)
	assert.Equal(t, freeBefore, freeAfterDelete)

	e2, err := vol.CreateFile("HALF2", "DAT", 0)
	require.NoError(t, err)
	fd2, err := vol.Open(e2.Slot, true)
	require.NoError(t, err)
	_, err = fd2.Write(make([]byte, size))
	require.NoError(t, err)
	require.NoError(t, fd2.Close())

	rescan(t, fs)
	freeAfterRealloc, err := vol.FreeSpaceBytes()
	require.NoError(t, err)
	assert.Equal(t, freeAfterDelete, freeAfterRealloc)
}

func TestIgnoredStatusRangeNeitherGoodNorBad(t *testing.T) {
	_, vol, fs := newFormattedVolume(t)
	rec := make([]byte, entrySize)
	rec[0] = 0x15
	require.NoError(t, vol.writeDirEntry(5, rec))
	rescan(t, fs)
	assert.False(t, vol.IsDubious())
	assert.Empty(t, vol.Entries())
}

func TestProberDetectsFormattedVolume(t *testing.T) {
	src, _, _ := newFormattedVolume(t)
	conf, err := Prober{}.TestImage(src)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, conf, core.Good)
}

// TestProberOnErasedImageIsMaybe covers an image pre-filled with CP/M's
// unused-slot byte (0xE5) but never actually formatted with geometry-aware
// directory records: plausible, but not yet confirmed.
func TestProberOnErasedImageIsMaybe(t *testing.T) {
	data := make([]byte, testTracks*testSecsPer*sectorSize)
	for i := range data {
		data[i] = statusDeleted
	}
	src := rawfile.New(data, false, rawfile.WithSectorGeometry(testTracks, testSecsPer))
	conf, err := Prober{}.TestImage(src)
	require.NoError(t, err)
	assert.Equal(t, core.Maybe, conf)
}

func TestProberOnZeroedImageIsRejected(t *testing.T) {
	src := newBlankImage(t)
	conf, err := Prober{}.TestImage(src)
	require.NoError(t, err)
	assert.Equal(t, core.No, conf)
}

func TestProberRejectsBlockOnlySource(t *testing.T) {
	src := rawfile.New(make([]byte, 512*280), false, rawfile.WithBlockGeometry())
	conf, err := Prober{}.TestImage(src)
	require.NoError(t, err)
	assert.Equal(t, core.No, conf)
}
