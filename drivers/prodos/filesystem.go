package prodos

import (
	"github.com/deploymenttheory/go-apple2fs/core"
)

// Volume is the ProDOS core.Driver implementation.
type Volume struct {
	gate  *core.GatedChunk
	notes *core.Notes

	header      volumeHeader
	totalBlocks int

	arena *core.Arena[Entry]
	usage *core.VolumeUsage
	alloc *core.AllocMap

	dubious bool
}

// New wraps source as a ProDOS volume. Requires block addressing.
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
		Name:             "ProDOS",
		CanWrite:         true,
		IsHierarchical:   true,
		DirSeparator:     '/',
		HasResourceForks: true,
		FilenameSyntax:   "high-ASCII, 1-15 chars, [A-Za-z][A-Za-z0-9.]*",
		VolumeNameSyntax: "high-ASCII, 1-15 chars, leading letter",
		TimestampMinYear: 1940,
		TimestampMaxYear: 2039,
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
	return nil
}

func (v *Volume) Flush() error {
	return v.flushBitmap()
}

// flushBitmap rewrites the on-disk bitmap from v.alloc's current bits.
func (v *Volume) flushBitmap() error {
	if v.alloc == nil || v.header.BitMapPointer <= 0 {
		return nil
	}
	nBitBlocks := (v.totalBlocks + blockSize*8 - 1) / (blockSize * 8)
	return v.gate.PrivilegedWrite(func(cs core.ChunkSource) error {
		for bb := 0; bb < nBitBlocks; bb++ {
			buf := make([]byte, blockSize)
			for i := 0; i < blockSize*8; i++ {
				n := bb*blockSize*8 + i
				if n >= v.totalBlocks || !v.alloc.IsUsed(n) {
					byteIdx := i / 8
					bit := 7 - uint(i%8)
					buf[byteIdx] |= 1 << bit // 1 = free
				}
			}
			if err := cs.WriteBlock(v.header.BitMapPointer+bb, buf, 0); err != nil {
				return err
			}
		}
		return nil
	})
}

func (v *Volume) FreeSpaceBytes() (int64, error) {
	if v.alloc == nil {
		return 0, core.NewError(core.KindInvalidArgument, "volume not in file-access mode")
	}
	return int64(v.alloc.FreeCount()) * blockSize, nil
}

func (v *Volume) Notes() *core.Notes { return v.notes }
func (v *Volume) IsDubious() bool    { return v.dubious }

// Entries returns every live, non-deleted entry the last scan produced,
// root-directory and subdirectory entries alike.
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

// Format zero-fills the image, then writes boot blocks (left zero), the
// volume directory as the chained blocks 2-5, and a bitmap starting at
// block 6 in which blocks 0 through the bitmap's own blocks are marked used
// and every other block is free.
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
		nBitBlocks := (total + blockSize*8 - 1) / (blockSize * 8)
		bitmapStart := 6
		dirBuf := make([]byte, blockSize)
		encodeDirBlockHeader(dirBuf, dirBlockHeader{Prev: 0, Next: 3})
		encodeVolumeHeader(dirBuf[4:], volumeHeader{
			NameLength:      len(volumeName),
			VolumeName:      []byte(volumeName),
			EntryLength:     dirEntryLen,
			EntriesPerBlock: entriesPerBlock,
			FileCount:       0,
			BitMapPointer:   bitmapStart,
			TotalBlocks:     total,
		})
		if err := cs.WriteBlock(2, dirBuf, 0); err != nil {
			return err
		}
		for b := 3; b < bitmapStart; b++ {
			next := b + 1
			if next == bitmapStart {
				next = 0
			}
			blk := make([]byte, blockSize)
			encodeDirBlockHeader(blk, dirBlockHeader{Prev: b - 1, Next: next})
			if err := cs.WriteBlock(b, blk, 0); err != nil {
				return err
			}
		}
		reserved := bitmapStart + nBitBlocks // blocks [0, reserved) are boot/dir/bitmap
		for bb := 0; bb < nBitBlocks; bb++ {
			buf := make([]byte, blockSize)
			for i := range buf {
				buf[i] = 0xFF // everything free by default
			}
			for n := bb * blockSize * 8; n < (bb+1)*blockSize*8 && n < reserved; n++ {
				within := n - bb*blockSize*8
				byteIdx := within / 8
				bit := 7 - uint(within%8)
				buf[byteIdx] &^= 1 << bit // clear = used
			}
			if err := cs.WriteBlock(bitmapStart+bb, buf, 0); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	v.totalBlocks = total
	v.header = volumeHeader{TotalBlocks: total, BitMapPointer: 6, EntryLength: dirEntryLen, EntriesPerBlock: entriesPerBlock}
	return nil
}

var _ core.Driver = (*Volume)(nil)
