package hfs

import (
	"fmt"
	"math/rand"
	"strconv"
	"testing"

	"github.com/deploymenttheory/go-apple2fs/core"
	"github.com/deploymenttheory/go-apple2fs/devices/rawfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fileNumber extracts the numeric suffix from an "F###" test filename.
func fileNumber(t *testing.T, name string) int {
	t.Helper()
	n, err := strconv.Atoi(name[1:])
	require.NoError(t, err)
	return n
}

// 1600 logical blocks (800K) is the classic double-sided HFS floppy size,
// and leaves enough allocation blocks for the §8 500-file scenario below.
const testTotalBlocks = 1600

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

// rootSlot finds the one entry with no resolvable parent: the volume's root
// directory, which the catalog scan always produces but which CreateFile
// needs a core.EntrySlot to address.
func rootSlot(t *testing.T, vol *Volume) core.EntrySlot {
	t.Helper()
	for _, e := range vol.Entries() {
		if e.IsDirectory && e.Parent == core.InvalidSlot {
			return e.Slot
		}
	}
	t.Fatal("no root directory entry found")
	return core.InvalidSlot
}

func TestFormatProducesScannableVolume(t *testing.T) {
	_, vol, _ := newFormattedVolume(t)
	assert.False(t, vol.IsDubious())
	entries := vol.Entries()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].IsDirectory)
	assert.Equal(t, "TESTVOL", string(entries[0].RawName))
	assert.Equal(t, "TESTVOL", vol.mdb.VolumeName)
}

func TestCreateWriteReadDataFork(t *testing.T) {
	_, vol, fs := newFormattedVolume(t)
	root := rootSlot(t, vol)
	e, err := vol.CreateFile(root, "Hello")
	require.NoError(t, err)

	fd, err := vol.Open(e.Slot, true, core.DataFork)
	require.NoError(t, err)
	payload := []byte("hello HFS world, this is the data fork")
	n, err := fd.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	require.NoError(t, fd.Close())

	rescan(t, fs)
	var found *Entry
	for _, ent := range vol.Entries() {
		if string(ent.RawName) == "Hello" {
			found = ent
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, int64(len(payload)), found.DataLength)

	fd2, err := vol.Open(found.Slot, false, core.DataFork)
	require.NoError(t, err)
	out := make([]byte, len(payload))
	_, err = fd2.Read(out)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestCreateWriteReadResourceFork(t *testing.T) {
	_, vol, fs := newFormattedVolume(t)
	root := rootSlot(t, vol)
	e, err := vol.CreateFile(root, "Icon")
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
	var found *Entry
	for _, ent := range vol.Entries() {
		if string(ent.RawName) == "Icon" {
			found = ent
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, int64(len(payload)), found.RsrcLength)
	assert.True(t, found.HasRsrcFork)

	fd2, err := vol.Open(found.Slot, false, core.RsrcFork)
	require.NoError(t, err)
	out := make([]byte, len(payload))
	_, err = fd2.Read(out)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestDeleteFileFreesAllocationBlocks(t *testing.T) {
	_, vol, fs := newFormattedVolume(t)
	root := rootSlot(t, vol)
	freeBefore, err := vol.FreeSpaceBytes()
	require.NoError(t, err)

	e, err := vol.CreateFile(root, "Gone")
	require.NoError(t, err)
	fd, err := vol.Open(e.Slot, true, core.DataFork)
	require.NoError(t, err)
	_, err = fd.Write(make([]byte, logicalBlockSize*5))
	require.NoError(t, err)
	require.NoError(t, fd.Close())

	require.NoError(t, vol.DeleteFile(e.Slot))
	rescan(t, fs)

	entries := vol.Entries()
	require.Len(t, entries, 1) // just the root directory
	assert.True(t, entries[0].IsDirectory)

	freeAfter, err := vol.FreeSpaceBytes()
	require.NoError(t, err)
	assert.Equal(t, freeBefore, freeAfter)
}

func TestMultipleFilesIndependentChains(t *testing.T) {
	_, vol, fs := newFormattedVolume(t)
	root := rootSlot(t, vol)
	a, err := vol.CreateFile(root, "A")
	require.NoError(t, err)
	b, err := vol.CreateFile(root, "B")
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
	names := map[string]int64{}
	for _, e := range vol.Entries() {
		if !e.IsDirectory {
			names[string(e.RawName)] = e.DataLength
		}
	}
	require.Len(t, names, 2)
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

// TestFiveHundredFileScenario is the catalog-scale scenario (§8): 500 empty
// files are inserted in randomized order, the root directory must enumerate
// them in HFS case-insensitive sorted order, every odd-named file is then
// deleted, and the remaining 250 must still enumerate correctly with a
// matching catalog record count.
func TestFiveHundredFileScenario(t *testing.T) {
	_, vol, fs := newFormattedVolume(t)
	root := rootSlot(t, vol)

	const fileCount = 500
	names := make([]string, fileCount)
	for i := 0; i < fileCount; i++ {
		names[i] = fmt.Sprintf("F%03d", i+1)
	}
	order := rand.New(rand.NewSource(1)).Perm(fileCount)
	for _, i := range order {
		_, err := vol.CreateFile(root, names[i])
		require.NoError(t, err)
	}

	rescan(t, fs)
	children, err := catalogChildrenSorted(vol, root)
	require.NoError(t, err)
	require.Len(t, children, fileCount)
	for i, name := range children {
		assert.Equal(t, names[i], name)
	}

	var toDelete []core.EntrySlot
	for _, e := range vol.Entries() {
		if e.IsDirectory {
			continue
		}
		if fileNumber(t, string(e.RawName))%2 == 1 {
			toDelete = append(toDelete, e.Slot)
		}
	}
	require.Len(t, toDelete, fileCount/2)
	for _, slot := range toDelete {
		require.NoError(t, vol.DeleteFile(slot))
	}

	rescan(t, fs)
	remaining, err := catalogChildrenSorted(vol, root)
	require.NoError(t, err)
	require.Len(t, remaining, fileCount/2)
	for _, name := range remaining {
		assert.Equal(t, 0, fileNumber(t, name)%2)
	}

	n, err := vol.catalog.tree.NumRecords()
	require.NoError(t, err)
	// one thread + one named record per surviving file, plus the root
	// directory's own named record and self-thread
	assert.Equal(t, fileCount/2*2+2, n)
}

// catalogChildrenSorted re-resolves root's CNID from the freshly rescanned
// arena and returns its direct children's names in catalog sort order.
func catalogChildrenSorted(vol *Volume, root core.EntrySlot) ([]string, error) {
	rootEntry, ok := vol.arena.GetBySlot(root)
	if !ok {
		return nil, fmt.Errorf("root slot no longer valid after rescan")
	}
	keys, _, err := vol.catalog.listChildren(rootEntry.CNID)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.Name
	}
	return out, nil
}
