package cpm

import (
	"io"

	"github.com/deploymenttheory/go-apple2fs/core"
)

// FileDescriptor is an open handle on a CP/M file. Extent boundaries
// (every ptrsPerExtent blocks) are transparent to the caller; ensureBlock
// reserves a new directory slot whenever the logical block index crosses
// into a fresh extent.
type FileDescriptor struct {
	vol   *Volume
	entry *Entry
	write bool
	pos   int64
	dirty bool
}

func (v *Volume) Open(slot core.EntrySlot, write bool) (*FileDescriptor, error) {
	e, ok := v.arena.GetBySlot(slot)
	if !ok || e.Deleted {
		return nil, core.NewError(core.KindInvalidArgument, "no such file")
	}
	return &FileDescriptor{vol: v, entry: e, write: write}, nil
}

func (d *FileDescriptor) Seek(offset int64, whence core.SeekWhence) (int64, error) {
	e := d.entry
	switch whence {
	case core.SeekBegin:
		d.pos = offset
	case core.SeekCurrent:
		d.pos += offset
	case core.SeekEnd:
		d.pos = e.DataLength + offset
	case core.SeekDataHole, core.SeekDataStart:
		d.pos = e.DataLength
	default:
		return 0, core.NewError(core.KindInvalidArgument, "unknown seek whence")
	}
	if d.pos < 0 {
		d.pos = 0
	}
	return d.pos, nil
}

func (d *FileDescriptor) Read(buf []byte) (int, error) {
	e := d.entry
	if d.pos >= e.DataLength {
		return 0, io.EOF
	}
	n := 0
	for n < len(buf) && d.pos < e.DataLength {
		idx := int(d.pos / blockSize)
		within := int(d.pos % blockSize)
		if idx >= len(e.Blocks) {
			break
		}
		want := blockSize - within
		if want > len(buf)-n {
			want = len(buf) - n
		}
		if remain := e.DataLength - d.pos; int64(want) > remain {
			want = int(remain)
		}
		block := e.Blocks[idx]
		if block <= 0 {
			for i := 0; i < want; i++ {
				buf[n+i] = 0
			}
		} else {
			sec, err := d.vol.readBlock(block)
			if err != nil {
				return n, core.WrapError(core.KindIOError, err, "reading file data")
			}
			copy(buf[n:n+want], sec[within:within+want])
		}
		n += want
		d.pos += int64(want)
	}
	return n, nil
}

func (d *FileDescriptor) Write(buf []byte) (int, error) {
	if !d.write {
		return 0, core.NewError(core.KindAccessDenied, "descriptor not opened for write")
	}
	if d.pos+int64(len(buf)) > maxFileBytes {
		return 0, core.NewError(core.KindDiskFull, "write exceeds CP/M's %d-byte max file length", maxFileBytes)
	}
	e := d.entry
	n := 0
	for n < len(buf) {
		idx := int(d.pos / blockSize)
		within := int(d.pos % blockSize)
		want := blockSize - within
		if want > len(buf)-n {
			want = len(buf) - n
		}
		if err := d.ensureBlock(idx); err != nil {
			return n, err
		}
		block := e.Blocks[idx]
		sec := make([]byte, blockSize)
		needReadback := within > 0 || want < blockSize
		if needReadback {
			readBack, err := d.vol.readBlock(block)
			if err != nil {
				return n, core.WrapError(core.KindIOError, err, "read-modify-write")
			}
			sec = readBack
		}
		copy(sec[within:within+want], buf[n:n+want])
		if err := d.vol.writeBlock(block, sec); err != nil {
			return n, err
		}
		n += want
		d.pos += int64(want)
		if d.pos > e.DataLength {
			e.DataLength = d.pos
		}
	}
	d.dirty = true
	return n, nil
}

// ensureBlock guarantees Blocks[idx] names an allocated block, reserving a
// fresh directory extent slot whenever idx crosses into a new
// ptrsPerExtent-sized run.
func (d *FileDescriptor) ensureBlock(idx int) error {
	e := d.entry
	extentIdx := idx / ptrsPerExtent
	for len(e.extentSlots) <= extentIdx {
		slot, err := d.vol.findFreeDirSlot()
		if err != nil {
			return err
		}
		e.extentSlots = append(e.extentSlots, slot)
	}
	for len(e.Blocks) <= idx {
		e.Blocks = append(e.Blocks, -1)
	}
	if e.Blocks[idx] > 0 {
		return nil
	}
	ref := slotToRef(e.Slot)
	n, err := d.vol.alloc.Allocate(ref)
	if err != nil {
		return err
	}
	e.Blocks[idx] = n
	return nil
}

func (d *FileDescriptor) Truncate(size int64) error {
	if !d.write {
		return core.NewError(core.KindAccessDenied, "descriptor not opened for write")
	}
	d.entry.DataLength = size
	d.dirty = true
	return nil
}

// Flush rewrites every directory extent this file's blocks touched.
func (d *FileDescriptor) Flush() error {
	if !d.dirty {
		return nil
	}
	e := d.entry
	numExtents := len(e.extentSlots)
	if need := (len(e.Blocks) + ptrsPerExtent - 1) / ptrsPerExtent; need > numExtents {
		numExtents = need
	}
	if numExtents == 0 {
		numExtents = 1
	}
	for li := 0; li < numExtents; li++ {
		if err := d.vol.writeExtentEntry(e, li); err != nil {
			return err
		}
	}
	d.dirty = false
	return nil
}

func (d *FileDescriptor) Close() error { return d.Flush() }
