package prodos

import (
	"io"

	"github.com/deploymenttheory/go-apple2fs/core"
)

// FileDescriptor is an open data-fork handle on a ProDOS seedling/sapling/
// tree entry. Resource forks (Extended files) are not yet exposed through a
// separate fork selector; Open always targets the data fork.
type FileDescriptor struct {
	vol   *Volume
	entry *Entry
	write bool
	pos   int64
	dirty bool
}

func (v *Volume) Open(slot core.EntrySlot, write bool) (*FileDescriptor, error) {
	e, ok := v.arena.GetBySlot(slot)
	if !ok || e.Deleted || e.IsDirectory {
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
	case core.SeekDataHole:
		d.pos = d.findHole(d.pos + offset)
	case core.SeekDataStart:
		d.pos = d.findData(d.pos + offset)
	default:
		return 0, core.NewError(core.KindInvalidArgument, "unknown seek whence")
	}
	if d.pos < 0 {
		d.pos = 0
	}
	return d.pos, nil
}

func (d *FileDescriptor) findHole(from int64) int64 {
	e := d.entry
	idx := int(from / blockSize)
	for ; idx < len(e.DataBlocks); idx++ {
		if e.DataBlocks[idx] < 0 {
			return int64(idx) * blockSize
		}
	}
	return e.DataLength
}

func (d *FileDescriptor) findData(from int64) int64 {
	e := d.entry
	idx := int(from / blockSize)
	for ; idx < len(e.DataBlocks); idx++ {
		if e.DataBlocks[idx] >= 0 {
			return int64(idx) * blockSize
		}
	}
	return e.DataLength
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
		if idx >= len(e.DataBlocks) {
			break
		}
		block := e.DataBlocks[idx]
		avail := blockSize - within
		want := len(buf) - n
		if remain := e.DataLength - d.pos; int64(want) > remain {
			want = int(remain)
		}
		if want > avail {
			want = avail
		}
		if block < 0 {
			for i := 0; i < want; i++ {
				buf[n+i] = 0
			}
		} else {
			sec := make([]byte, blockSize)
			if err := d.vol.gate.ReadBlock(block, sec, 0); err != nil {
				return n, core.WrapError(core.KindIOError, err, "reading file data")
			}
			copy(buf[n:n+want], sec[within:within+want])
		}
		n += want
		d.pos += int64(want)
	}
	return n, nil
}

// Write materializes blocks on demand. A write that exactly covers one
// block with all-zero content stores as a sparse hole (§3), except block 0
// of the file, which GS/OS and P8 tools assume is always allocated.
func (d *FileDescriptor) Write(buf []byte) (int, error) {
	if !d.write {
		return 0, core.NewError(core.KindAccessDenied, "descriptor not opened for write")
	}
	e := d.entry
	if len(e.DataBlocks) == 0 {
		if err := d.ensureUnit(0); err != nil {
			return 0, err
		}
	}
	n := 0
	for n < len(buf) {
		idx := int(d.pos / blockSize)
		within := int(d.pos % blockSize)
		want := blockSize - within
		if want > len(buf)-n {
			want = len(buf) - n
		}
		fullZeroBlock := within == 0 && want == blockSize && idx != 0 && core.IsAllZero(buf[n:n+want])
		if fullZeroBlock {
			for len(e.DataBlocks) <= idx {
				e.DataBlocks = append(e.DataBlocks, -1)
			}
			if old := e.DataBlocks[idx]; old >= 0 {
				d.vol.alloc.Release(old)
				e.BlocksUsed--
				e.DataBlocks[idx] = -1
			}
			n += want
			d.pos += int64(want)
			if d.pos > e.DataLength {
				e.DataLength = d.pos
			}
			continue
		}
		if err := d.ensureUnit(idx); err != nil {
			return n, err
		}
		block := e.DataBlocks[idx]
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
		}
	}
	d.dirty = true
	return n, nil
}

// ensureUnit guarantees DataBlocks[idx] names an allocated block, expanding
// seedling -> sapling -> tree storage as idx crosses the per-level limits
// (§3 "Storage shape expansion").
func (d *FileDescriptor) ensureUnit(idx int) error {
	e := d.entry
	if idx > 0 && e.StorageType == StorageSeedling {
		if err := d.expandToSapling(); err != nil {
			return err
		}
	}
	if idx >= maxSaplingBlocks && e.StorageType == StorageSapling {
		if err := d.expandToTree(); err != nil {
			return err
		}
	}
	if e.StorageType == StorageTree {
		for len(e.IndexBlocks) <= idx/pointersPerIndex {
			ib, err := d.vol.alloc.Allocate(slotToRef(e.Slot))
			if err != nil {
				return err
			}
			e.IndexBlocks = append(e.IndexBlocks, ib)
		}
	}
	for len(e.DataBlocks) <= idx {
		e.DataBlocks = append(e.DataBlocks, -1)
	}
	if e.DataBlocks[idx] >= 0 {
		return nil
	}
	ref := slotToRef(e.Slot)
	n, err := d.vol.alloc.Allocate(ref)
	if err != nil {
		return err
	}
	e.DataBlocks[idx] = n
	e.BlocksUsed++
	if e.StorageType == StorageSeedling {
		e.KeyBlock = n
	}
	return nil
}

func (d *FileDescriptor) expandToSapling() error {
	e := d.entry
	ref := slotToRef(e.Slot)
	idxBlock, err := d.vol.alloc.Allocate(ref)
	if err != nil {
		return err
	}
	if len(e.DataBlocks) == 0 {
		e.DataBlocks = []int{e.KeyBlock}
	} else {
		e.DataBlocks[0] = e.KeyBlock
	}
	e.IndexBlocks = []int{idxBlock}
	e.KeyBlock = idxBlock
	e.StorageType = StorageSapling
	return nil
}

func (d *FileDescriptor) expandToTree() error {
	e := d.entry
	ref := slotToRef(e.Slot)
	masterBlock, err := d.vol.alloc.Allocate(ref)
	if err != nil {
		return err
	}
	e.MasterBlock = masterBlock
	e.KeyBlock = masterBlock
	e.StorageType = StorageTree
	// The sapling's single index block becomes master slot 0; IndexBlocks
	// tracks it as the first (and so far only) index in the tree.
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

// Flush rewrites every index/master block the entry touched and its
// directory entry.
func (d *FileDescriptor) Flush() error {
	if !d.dirty {
		return nil
	}
	if err := d.vol.writeEntryStorage(d.entry); err != nil {
		return err
	}
	if err := d.vol.writeDirEntry(d.entry); err != nil {
		return err
	}
	d.dirty = false
	return nil
}

func (d *FileDescriptor) Close() error { return d.Flush() }
