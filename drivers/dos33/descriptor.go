package dos33

import (
	"io"

	"github.com/deploymenttheory/go-apple2fs/core"
)

// FileDescriptor is an open data-fork handle on a DOS 3.3 entry. DOS 3.3 has
// no resource forks, so Open takes no fork argument and every descriptor
// addresses the data fork (§4.4).
type FileDescriptor struct {
	vol   *Volume
	entry *Entry
	write bool
	pos   int64
	dirty bool
}

// Open returns a descriptor for slot. It performs no write-exclusivity
// check of its own; any number of write descriptors may be open at once.
func (v *Volume) Open(slot core.EntrySlot, write bool) (*FileDescriptor, error) {
	e, ok := v.arena.GetBySlot(slot)
	if !ok || e.Deleted {
		return nil, core.NewError(core.KindInvalidArgument, "no such file")
	}
	return &FileDescriptor{vol: v, entry: e, write: write}, nil
}

func (d *FileDescriptor) Seek(offset int64, whence core.SeekWhence) (int64, error) {
	switch whence {
	case core.SeekBegin:
		d.pos = offset
	case core.SeekCurrent:
		d.pos += offset
	case core.SeekEnd:
		d.pos = d.entry.DataLength + offset
	case core.SeekDataHole, core.SeekDataStart:
		// DOS 3.3 text files have no genuine sparse holes; collapse to EOF
		// per the §4.4 fallback for formats without hole tracking.
		d.pos = d.entry.DataLength
	default:
		return 0, core.NewError(core.KindInvalidArgument, "unknown seek whence")
	}
	if d.pos < 0 {
		d.pos = 0
	}
	return d.pos, nil
}

// Read fills buf starting at the descriptor's current position, advancing it
// by the number of bytes read. Sparse data-unit slots (never-written
// sectors within the last T/S list) read back as zero.
func (d *FileDescriptor) Read(buf []byte) (int, error) {
	e := d.entry
	if d.pos >= e.DataLength {
		return 0, io.EOF
	}
	n := 0
	for n < len(buf) && d.pos < e.DataLength {
		sectorIdx := int(d.pos / sectorSize)
		within := int(d.pos % sectorSize)
		if sectorIdx >= len(e.DataUnits) {
			break
		}
		unit := e.DataUnits[sectorIdx]
		avail := sectorSize - within
		want := len(buf) - n
		if remain := e.DataLength - d.pos; int64(want) > remain {
			want = int(remain)
		}
		if want > avail {
			want = avail
		}
		if unit < 0 {
			for i := 0; i < want; i++ {
				buf[n+i] = 0
			}
		} else {
			t, s := d.vol.vtoc.TrackSectorOf(unit)
			sec := make([]byte, sectorSize)
			if err := d.vol.gate.ReadSector(t, s, sec, 0); err != nil {
				return n, core.WrapError(core.KindIOError, err, "reading file data")
			}
			copy(buf[n:n+want], sec[within:within+want])
		}
		n += want
		d.pos += int64(want)
	}
	return n, nil
}

// Write appends/overwrites at the descriptor's current position, allocating
// new data sectors and extending the T/S list chain as needed. Changes are
// not persisted to the catalog entry until Flush or Close.
func (d *FileDescriptor) Write(buf []byte) (int, error) {
	if !d.write {
		return 0, core.NewError(core.KindAccessDenied, "descriptor not opened for write")
	}
	e := d.entry
	n := 0
	for n < len(buf) {
		sectorIdx := int(d.pos / sectorSize)
		within := int(d.pos % sectorSize)
		if err := d.ensureUnit(sectorIdx); err != nil {
			return n, err
		}
		unit := e.DataUnits[sectorIdx]
		want := sectorSize - within
		if want > len(buf)-n {
			want = len(buf) - n
		}
		t, s := d.vol.vtoc.TrackSectorOf(unit)
		sec := make([]byte, sectorSize)
		needReadback := within > 0 || want < sectorSize
		err := d.vol.gate.PrivilegedWrite(func(cs core.ChunkSource) error {
			if needReadback {
				if err := cs.ReadSector(t, s, sec, 0); err != nil {
					return core.WrapError(core.KindIOError, err, "read-modify-write")
				}
			}
			copy(sec[within:within+want], buf[n:n+want])
			return cs.WriteSector(t, s, sec, 0)
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

// ensureUnit guarantees DataUnits[idx] names an allocated sector, allocating
// one on demand. It allocates data sectors only; T/S list sectors, including
// continuation lists past 122 pointers, are allocated by writeTSListChain at
// Flush.
func (d *FileDescriptor) ensureUnit(idx int) error {
	e := d.entry
	for len(e.DataUnits) <= idx {
		e.DataUnits = append(e.DataUnits, -1)
	}
	if e.DataUnits[idx] >= 0 {
		return nil
	}
	ref := slotToRef(e.Slot)
	n, err := d.vol.alloc.Allocate(ref)
	if err != nil {
		return err
	}
	e.DataUnits[idx] = n
	e.ClaimedSectors = append(e.ClaimedSectors, n)
	return nil
}

// Truncate shortens or extends the logical length. Shrinking only lowers
// DataLength: sectors past the new length stay allocated and stay listed in
// the T/S list chain, and Flush does not release them.
func (d *FileDescriptor) Truncate(size int64) error {
	if !d.write {
		return core.NewError(core.KindAccessDenied, "descriptor not opened for write")
	}
	d.entry.DataLength = size
	d.dirty = true
	return nil
}

// Flush persists the descriptor's T/S list chain and catalog entry to disk.
func (d *FileDescriptor) Flush() error {
	if !d.dirty {
		return nil
	}
	if err := d.vol.writeTSListChain(d.entry); err != nil {
		return err
	}
	if err := d.vol.writeCatalogEntry(d.entry); err != nil {
		return err
	}
	d.dirty = false
	return nil
}

func (d *FileDescriptor) Close() error {
	return d.Flush()
}
