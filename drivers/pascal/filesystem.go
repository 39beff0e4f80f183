package pascal

import "github.com/deploymenttheory/go-apple2fs/core"

// Volume is the Apple Pascal core.Driver implementation. There is no
// on-disk bitmap: free space is entirely the gaps between sorted,
// non-overlapping file extents, so unlike dos33/prodos there is no
// AllocMap/VolumeUsage reconciliation pass here -- the directory itself is
// the whole allocation model.
type Volume struct {
	gate  *core.GatedChunk
	notes *core.Notes

	header      volHeader
	totalBlocks int
	dirEndBlock int

	arena *core.Arena[Entry]

	dubious bool
}

// New wraps source as a Pascal volume. Requires block addressing.
func New(source core.ChunkSource) (*Volume, error) {
	if !source.HasBlocks() {
		return nil, &core.ErrGeometry{Want: "block-addressed (512 bytes)", Got: "no block addressing"}
	}
	return &Volume{
		gate:  core.NewGatedChunk(source),
		notes: core.NewNotes(),
	}, nil
}

// Gate exposes the volume's GatedChunk for callers constructing a
// core.Filesystem around this driver.
func (v *Volume) Gate() *core.GatedChunk { return v.gate }

func (v *Volume) Characteristics() core.Characteristics {
	return core.Characteristics{
		Name:             "Apple Pascal",
		CanWrite:         true,
		IsHierarchical:   false,
		HasResourceForks: false,
		FilenameSyntax:   "Mac-Roman, 1-15 chars",
		VolumeNameSyntax: "Mac-Roman, 1-7 chars, leading letter",
		TimestampMinYear: 1900,
		TimestampMaxYear: 2027,
	}
}

func (v *Volume) PrepareFileAccess(deep bool) error {
	return v.scanVolume()
}

func (v *Volume) PrepareRawAccess() error {
	if err := v.Flush(); err != nil {
		return err
	}
	v.arena = nil
	return nil
}

// Flush writes the in-memory file count back into the volume header entry.
// Directory entries themselves are written as soon as CreateFile,
// DeleteFile or a FileDescriptor changes them, and there is no separate
// bitmap to batch.
func (v *Volume) Flush() error {
	if v.arena == nil {
		return nil
	}
	buf, err := v.readDirRegion()
	if err != nil {
		return err
	}
	hdr := decodeVolHeader(buf[0:entrySize])
	hdr.FileCount = v.header.FileCount
	encodeVolHeader(buf[0:entrySize], hdr)
	return v.writeDirRegion(buf)
}

func (v *Volume) FreeSpaceBytes() (int64, error) {
	if v.arena == nil {
		return 0, core.NewError(core.KindInvalidArgument, "volume not in file-access mode")
	}
	total := 0
	for _, g := range v.freeGaps() {
		total += g.length
	}
	return int64(total) * blockSize, nil
}

func (v *Volume) Notes() *core.Notes { return v.notes }
func (v *Volume) IsDubious() bool    { return v.dubious }

// Entries returns every live directory entry from the last scan.
func (v *Volume) Entries() []*Entry {
	return v.liveSorted()
}

// Format zero-fills the image and writes an empty directory: a volume
// header entry claiming the whole of [dirEnd, total) as free.
func (v *Volume) Format(volumeName string, volumeNumber int, bootable bool) error {
	src := v.gate.Source()
	total := core.BlockCount(src)
	blank := core.ZeroFill(blockSize)
	err := v.gate.PrivilegedWrite(func(cs core.ChunkSource) error {
		for b := 0; b < total; b++ {
			if err := cs.WriteBlock(b, blank, 0); err != nil {
				return err
			}
		}
		dirBuf := make([]byte, dirRegionBytes)
		encodeVolHeader(dirBuf[0:entrySize], volHeader{
			VolumeName:  []byte(volumeName),
			DirEnd:      dirEnd,
			TotalBlocks: total,
			FileCount:   0,
		})
		for i := 0; i < dirBlocks; i++ {
			if err := cs.WriteBlock(dirStart+i, dirBuf[i*blockSize:(i+1)*blockSize], 0); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	v.totalBlocks = total
	v.dirEndBlock = dirEnd
	v.header = volHeader{TotalBlocks: total, DirEnd: dirEnd}
	return nil
}

var _ core.Driver = (*Volume)(nil)
