package pascal

import (
	"io"

	"github.com/deploymenttheory/go-apple2fs/core"
)

// FileDescriptor is an open handle on a Pascal file's fixed contiguous
// extent. There is no growth path: a write past the preallocated extent
// fails with DiskFull rather than relocating the file (§3).
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

func (d *FileDescriptor) capacity() int64 {
	return int64(d.entry.NextBlock-d.entry.FirstBlock) * blockSize
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
		// Pascal extents are fully contiguous and dense: no holes exist.
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
		block := e.FirstBlock + int(d.pos/blockSize)
		within := int(d.pos % blockSize)
		want := blockSize - within
		if want > len(buf)-n {
			want = len(buf) - n
		}
		if remain := e.DataLength - d.pos; int64(want) > remain {
			want = int(remain)
		}
		sec := make([]byte, blockSize)
		if err := d.vol.gate.ReadBlock(block, sec, 0); err != nil {
			return n, core.WrapError(core.KindIOError, err, "reading file data")
		}
		copy(buf[n:n+want], sec[within:within+want])
		n += want
		d.pos += int64(want)
	}
	return n, nil
}

// Write fails once pos+len(buf) would exceed the file's preallocated
// extent: Pascal files cannot grow in place (§3).
func (d *FileDescriptor) Write(buf []byte) (int, error) {
	if !d.write {
		return 0, core.NewError(core.KindAccessDenied, "descriptor not opened for write")
	}
	if d.pos+int64(len(buf)) > d.capacity() {
		return 0, core.NewError(core.KindDiskFull, "write exceeds file's preallocated %d-block extent", d.entry.NextBlock-d.entry.FirstBlock)
	}
	e := d.entry
	n := 0
	for n < len(buf) {
		block := e.FirstBlock + int(d.pos/blockSize)
		within := int(d.pos % blockSize)
		want := blockSize - within
		if want > len(buf)-n {
			want = len(buf) - n
		}
		sec := make([]byte, blockSize)
		needReadback := within > 0 || want < blockSize
		err := d.vol.gate.PrivilegedWrite(func(cs core.ChunkSource) error {
			if needReadback {
				if err := cs.ReadBlock(block, sec, 0); err != nil {
					return core.WrapError(core.KindIOError, err, "read-modify-write")
				}
			}
			copy(sec[within:within+want], buf[n:n+want])
			return cs.WriteBlock(block, sec, 0)
		})
		if err != nil {
			return n, err
		}
		n += want
		d.pos += int64(want)
		if d.pos > e.DataLength {
			e.DataLength = d.pos
			e.LastBlockBytes = int(e.DataLength % blockSize)
			if e.LastBlockBytes == 0 && e.DataLength > 0 {
				e.LastBlockBytes = blockSize
			}
		}
	}
	d.dirty = true
	return n, nil
}

// Truncate sets the length to any size within the preallocated extent;
// Pascal has no mechanism to grow a file's extent after creation.
func (d *FileDescriptor) Truncate(size int64) error {
	if !d.write {
		return core.NewError(core.KindAccessDenied, "descriptor not opened for write")
	}
	if size > d.capacity() {
		return core.NewError(core.KindDiskFull, "truncate exceeds file's preallocated extent")
	}
	d.entry.DataLength = size
	d.entry.LastBlockBytes = int(size % blockSize)
	if d.entry.LastBlockBytes == 0 && size > 0 {
		d.entry.LastBlockBytes = blockSize
	}
	d.dirty = true
	return nil
}

func (d *FileDescriptor) Flush() error {
	if !d.dirty {
		return nil
	}
	if err := d.vol.writeDirEntry(d.entry); err != nil {
		return err
	}
	d.dirty = false
	return nil
}

func (d *FileDescriptor) Close() error { return d.Flush() }
