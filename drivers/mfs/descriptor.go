package mfs

import (
	"io"

	"github.com/deploymenttheory/go-apple2fs/core"
)

// FileDescriptor is an open handle on one fork of an MFS file.
type FileDescriptor struct {
	vol   *Volume
	entry *Entry
	fork  core.ForkKind
	write bool
	pos   int64
	dirty bool
}

func (v *Volume) Open(slot core.EntrySlot, write bool, fork core.ForkKind) (*FileDescriptor, error) {
	e, ok := v.arena.GetBySlot(slot)
	if !ok || e.Deleted {
		return nil, core.NewError(core.KindInvalidArgument, "no such file")
	}
	return &FileDescriptor{vol: v, entry: e, fork: fork, write: write}, nil
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

func (d *FileDescriptor) startBlock() uint16 {
	if d.fork == core.RsrcFork {
		return d.entry.RsrcStartBlock
	}
	return d.entry.DataStartBlock
}

func (d *FileDescriptor) setStartBlock(b uint16) {
	if d.fork == core.RsrcFork {
		d.entry.RsrcStartBlock = b
	} else {
		d.entry.DataStartBlock = b
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

func (d *FileDescriptor) unitSize() int64 { return int64(d.vol.vi.AllocBlockSize) }

func (d *FileDescriptor) Read(buf []byte) (int, error) {
	length := d.length()
	if d.pos >= length {
		return 0, io.EOF
	}
	unitSize := d.unitSize()
	units := d.vol.chainUnits(d.startBlock())
	n := 0
	for n < len(buf) && d.pos < length {
		unitIdx := int(d.pos / unitSize)
		within := int(d.pos % unitSize)
		if unitIdx >= len(units) {
			break
		}
		want := int(unitSize) - within
		if want > len(buf)-n {
			want = len(buf) - n
		}
		if remain := length - d.pos; int64(want) > remain {
			want = int(remain)
		}
		block := d.vol.allocUnitBlock(units[unitIdx])
		blockBuf, err := d.vol.readBytesAt(int64(block)*logicalBlockSize, int(unitSize))
		if err != nil {
			return n, core.WrapError(core.KindIOError, err, "reading file data")
		}
		copy(buf[n:n+want], blockBuf[within:within+want])
		n += want
		d.pos += int64(want)
	}
	return n, nil
}

func (d *FileDescriptor) Write(buf []byte) (int, error) {
	if !d.write {
		return 0, core.NewError(core.KindAccessDenied, "descriptor not opened for write")
	}
	unitSize := d.unitSize()
	n := 0
	for n < len(buf) {
		unitIdx := int(d.pos / unitSize)
		within := int(d.pos % unitSize)
		want := int(unitSize) - within
		if want > len(buf)-n {
			want = len(buf) - n
		}
		unit, err := d.ensureUnit(unitIdx)
		if err != nil {
			return n, err
		}
		block := d.vol.allocUnitBlock(unit)
		needReadback := within > 0 || want < int(unitSize)
		var chunk []byte
		if needReadback {
			chunk, err = d.vol.readBytesAt(int64(block)*logicalBlockSize, int(unitSize))
			if err != nil {
				return n, core.WrapError(core.KindIOError, err, "read-modify-write")
			}
		} else {
			chunk = make([]byte, unitSize)
		}
		copy(chunk[within:within+want], buf[n:n+want])
		if err := d.vol.writeBytesAt(int64(block)*logicalBlockSize, chunk); err != nil {
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

// ensureUnit guarantees the unitIdx-th allocation unit of this fork's chain
// exists, extending the chain by allocating a fresh unit and linking it
// from the current tail (or as the head, if the fork was empty).
func (d *FileDescriptor) ensureUnit(unitIdx int) (int, error) {
	units := d.vol.chainUnits(d.startBlock())
	for len(units) <= unitIdx {
		ref := slotToRef(d.entry.Slot)
		newUnit, err := d.vol.alloc.Allocate(ref)
		if err != nil {
			return 0, err
		}
		d.vol.nativeMap[newUnit] = noMoreBlocks
		if len(units) == 0 {
			d.setStartBlock(uint16(newUnit + 2))
		} else {
			tail := units[len(units)-1]
			d.vol.nativeMap[tail] = uint16(newUnit + 2)
		}
		units = append(units, newUnit)
	}
	return units[unitIdx], nil
}

func (d *FileDescriptor) Truncate(size int64) error {
	if !d.write {
		return core.NewError(core.KindAccessDenied, "descriptor not opened for write")
	}
	d.setLength(size)
	d.dirty = true
	return nil
}

func (d *FileDescriptor) Flush() error {
	if !d.dirty {
		return nil
	}
	d.dirty = false
	return d.vol.writeDirectory()
}

func (d *FileDescriptor) Close() error { return d.Flush() }
