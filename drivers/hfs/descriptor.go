package hfs

import (
	"io"

	"github.com/deploymenttheory/go-apple2fs/core"
)

// FileDescriptor is an open handle on one fork of an HFS file. ext holds the
// fork's full run list (inline triple plus any extents-overflow records)
// loaded at Open and rewritten to the catalog/extents-overflow trees on
// Flush.
type FileDescriptor struct {
	vol   *Volume
	entry *Entry
	fork  core.ForkKind
	write bool
	pos   int64
	dirty bool

	ext         extentList
	staleOFKeys []extentKey
}

func (v *Volume) Open(slot core.EntrySlot, write bool, fork core.ForkKind) (*FileDescriptor, error) {
	e, ok := v.arena.GetBySlot(slot)
	if !ok || e.Deleted || e.IsDirectory {
		return nil, core.NewError(core.KindInvalidArgument, "no such file")
	}
	inline := e.DataExtents
	if fork == core.RsrcFork {
		inline = e.RsrcExtents
	}
	ext, keys, err := v.loadForkExtents(e.CNID, fork, inline)
	if err != nil {
		return nil, err
	}
	return &FileDescriptor{vol: v, entry: e, fork: fork, write: write, ext: ext, staleOFKeys: keys}, nil
}

func (d *FileDescriptor) length() int64 {
	if d.fork == core.RsrcFork {
		return d.entry.RsrcLength
	}
	return d.entry.DataLength
}

func (d *FileDescriptor) setLength(n int64) {
	if d.fork == core.RsrcFork {
		d.entry.RsrcLength = n
	} else {
		d.entry.DataLength = n
	}
}

func (d *FileDescriptor) Seek(offset int64, whence core.SeekWhence) (int64, error) {
	switch whence {
	case core.SeekBegin:
		d.pos = offset
	case core.SeekCurrent:
		d.pos += offset
	case core.SeekEnd:
		d.pos = d.length() + offset
	case core.SeekDataHole, core.SeekDataStart:
		d.pos = d.length()
	default:
		return 0, core.NewError(core.KindInvalidArgument, "unknown seek whence")
	}
	if d.pos < 0 {
		d.pos = 0
	}
	return d.pos, nil
}

func (d *FileDescriptor) allocBlockSize() int64 { return int64(d.vol.mdb.AllocBlockSize) }

func (d *FileDescriptor) Read(buf []byte) (int, error) {
	length := d.length()
	if d.pos >= length {
		return 0, io.EOF
	}
	blockSize := d.allocBlockSize()
	n := 0
	for n < len(buf) && d.pos < length {
		blockIdx := int(d.pos / blockSize)
		within := int(d.pos % blockSize)
		abs, ok := d.ext.blockAt(blockIdx)
		if !ok {
			break
		}
		want := int(blockSize) - within
		if want > len(buf)-n {
			want = len(buf) - n
		}
		if remain := length - d.pos; int64(want) > remain {
			want = int(remain)
		}
		offset := int64(int(d.vol.mdb.AllocBlockSt)+abs*int(blockSize/logicalBlockSize))*logicalBlockSize + int64(within)
		chunk, err := d.vol.readBytesAt(offset, want)
		if err != nil {
			return n, core.WrapError(core.KindIOError, err, "reading file data")
		}
		copy(buf[n:n+want], chunk)
		n += want
		d.pos += int64(want)
	}
	return n, nil
}

func (d *FileDescriptor) Write(buf []byte) (int, error) {
	if !d.write {
		return 0, core.NewError(core.KindAccessDenied, "descriptor not opened for write")
	}
	blockSize := d.allocBlockSize()
	n := 0
	for n < len(buf) {
		blockIdx := int(d.pos / blockSize)
		within := int(d.pos % blockSize)
		if err := d.ensureBlock(blockIdx); err != nil {
			return n, err
		}
		abs, _ := d.ext.blockAt(blockIdx)
		want := int(blockSize) - within
		if want > len(buf)-n {
			want = len(buf) - n
		}
		blockStart := int64(int(d.vol.mdb.AllocBlockSt)+abs*int(blockSize/logicalBlockSize)) * logicalBlockSize

		var chunk []byte
		var err error
		if within > 0 || want < int(blockSize) {
			chunk, err = d.vol.readBytesAt(blockStart, int(blockSize))
			if err != nil {
				return n, core.WrapError(core.KindIOError, err, "read-modify-write")
			}
		} else {
			chunk = make([]byte, blockSize)
		}
		copy(chunk[within:within+want], buf[n:n+want])
		if err := d.vol.writeBytesAt(blockStart, chunk); err != nil {
			return n, err
		}
		n += want
		d.pos += int64(want)
		if d.pos > d.length() {
			d.setLength(d.pos)
		}
	}
	d.dirty = true
	return n, nil
}

// ensureBlock guarantees the blockIdx-th allocation block of this fork
// exists, extending ext by one block (owned by this file's CNID-derived
// FileRef) if needed.
func (d *FileDescriptor) ensureBlock(blockIdx int) error {
	for d.ext.totalBlocks() <= blockIdx {
		ref := slotToRef(d.entry.Slot)
		runs, err := d.vol.allocateRef(ref, 1)
		if err != nil {
			return err
		}
		for _, r := range runs {
			d.ext.appendRun(int(r.StartBlock), int(r.BlockCount))
		}
	}
	return nil
}

func (d *FileDescriptor) Truncate(size int64) error {
	if !d.write {
		return core.NewError(core.KindAccessDenied, "descriptor not opened for write")
	}
	blockSize := d.allocBlockSize()
	keepBlocks := int((size + blockSize - 1) / blockSize)
	for i := keepBlocks; i < d.ext.totalBlocks(); i++ {
		if abs, ok := d.ext.blockAt(i); ok {
			d.vol.alloc.Release(abs)
			d.vol.bitmapSet(abs, false)
		}
	}
	if keepBlocks < d.ext.totalBlocks() {
		d.ext.runs = trimRuns(d.ext.runs, keepBlocks)
	}
	d.setLength(size)
	d.dirty = true
	return nil
}

func trimRuns(runs []extentDescriptor, keepBlocks int) []extentDescriptor {
	var out []extentDescriptor
	remaining := keepBlocks
	for _, r := range runs {
		if remaining <= 0 {
			break
		}
		if int(r.BlockCount) <= remaining {
			out = append(out, r)
			remaining -= int(r.BlockCount)
			continue
		}
		out = append(out, extentDescriptor{StartBlock: r.StartBlock, BlockCount: uint16(remaining)})
		remaining = 0
	}
	return out
}

func (d *FileDescriptor) Flush() error {
	if !d.dirty {
		return nil
	}
	d.dirty = false

	if d.fork == core.RsrcFork {
		d.entry.RsrcExtents = d.ext.inlineTriple()
		d.entry.HasRsrcFork = d.entry.RsrcLength > 0
	} else {
		d.entry.DataExtents = d.ext.inlineTriple()
	}
	if err := d.vol.syncForkOverflow(d.entry.CNID, d.fork, &d.ext, d.staleOFKeys); err != nil {
		return err
	}
	d.staleOFKeys = nil
	if rem := d.ext.overflowRecords(forkTypeByte(d.fork), d.entry.CNID); len(rem) > 0 {
		var keys []extentKey
		for _, r := range rem {
			keys = append(keys, r.Key)
		}
		d.staleOFKeys = keys
	}
	return d.vol.persistEntry(d.entry)
}

func (d *FileDescriptor) Close() error { return d.Flush() }
