package mfs

import "github.com/deploymenttheory/go-apple2fs/core"

// Volume is the MFS core.Driver implementation.
type Volume struct {
	gate  *core.GatedChunk
	notes *core.Notes

	vi        volInfo
	nativeMap []uint16 // decoded 12-bit allocation map; index = unit, value = next unit+2 or 0/1
	dirEnd    int64

	arena *core.Arena[Entry]
	usage *core.VolumeUsage
	alloc *core.AllocMap

	dubious bool
}

// New wraps source as an MFS volume. Requires block addressing.
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
		Name:             "MFS",
		CanWrite:         true,
		IsHierarchical:   false,
		HasResourceForks: true,
		FilenameSyntax:   "Mac-Roman, 1-31 chars",
		VolumeNameSyntax: "Mac-Roman, 1-27 chars",
		TimestampMinYear: 1904,
		TimestampMaxYear: 2040,
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
	v.usage = nil
	v.alloc = nil
	v.nativeMap = nil
	return nil
}

// Flush rewrites the allocation map and MDB from current in-memory state.
func (v *Volume) Flush() error {
	if v.nativeMap == nil {
		return nil
	}
	mapBuf := encodeAllocMap(v.nativeMap)
	mapStart := int64(mdbBlock)*logicalBlockSize + mdbSize
	if err := v.writeBytesAt(mapStart, mapBuf); err != nil {
		return err
	}
	v.vi.FreeBlocks = uint16(v.alloc.FreeCount())
	return v.writeBytesAt(mdbBlock*logicalBlockSize, encodeVolInfo(v.vi))
}

func (v *Volume) FreeSpaceBytes() (int64, error) {
	if v.alloc == nil {
		return 0, core.NewError(core.KindInvalidArgument, "volume not in file-access mode")
	}
	return int64(v.alloc.FreeCount()) * int64(v.vi.AllocBlockSize), nil
}

func (v *Volume) Notes() *core.Notes { return v.notes }
func (v *Volume) IsDubious() bool    { return v.dubious }

// Entries returns every live file the last scan produced.
func (v *Volume) Entries() []*Entry {
	if v.arena == nil {
		return nil
	}
	var out []*Entry
	for i := 0; i < v.arena.Len(); i++ {
		if e, ok := v.arena.GetBySlot(core.EntrySlot(i)); ok && !e.Deleted {
			out = append(out, e)
		}
	}
	return out
}

// Format zero-fills the image and writes a fresh MDB, an all-free
// allocation map, and an empty directory. The directory is sized to 4
// blocks and allocation units are fixed at one block (512 bytes) each,
// favoring simplicity over matching real System-software clump-size
// heuristics (§4.6).
func (v *Volume) Format(volumeName string, volumeNumber int, bootable bool) error {
	src := v.gate.Source()
	total := core.BlockCount(src)
	if total < 8 {
		return &core.ErrGeometry{Want: "at least 8 blocks", Got: "too few blocks"}
	}
	blank := core.ZeroFill(logicalBlockSize)
	err := v.gate.PrivilegedWrite(func(cs core.ChunkSource) error {
		for b := 0; b < total; b++ {
			if err := cs.WriteBlock(b, blank, 0); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	const dirBlocks = 4
	dirSt := uint16(mdbBlock + 1)
	allocStart := int(dirSt) + dirBlocks
	numAlloc := total - allocStart
	if numAlloc < 1 {
		return &core.ErrGeometry{Want: "room for allocation blocks past the directory", Got: "none"}
	}

	v.vi = volInfo{
		Signature:       signature,
		DirSt:           dirSt,
		BlLen:           dirBlocks,
		NumAllocBlocks:  uint16(numAlloc),
		AllocBlockSize:  logicalBlockSize,
		ClumpSize:       logicalBlockSize,
		FirstAllocBlock: 0,
		NextFileNum:     1,
		FreeBlocks:      uint16(numAlloc),
		VolumeName:      volumeName,
	}
	mapBuf := encodeAllocMap(make([]uint16, numAlloc))
	if err := v.writeBytesAt(int64(mdbBlock)*logicalBlockSize+mdbSize, mapBuf); err != nil {
		return err
	}
	return v.writeBytesAt(mdbBlock*logicalBlockSize, encodeVolInfo(v.vi))
}

var _ core.Driver = (*Volume)(nil)
