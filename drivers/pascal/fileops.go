package pascal

import "github.com/deploymenttheory/go-apple2fs/core"

// CreateFile reserves a single contiguous extent of blocksNeeded blocks and
// a directory slot for name. Pascal files never grow in place: the extent
// is fixed at creation (§3 "Apple Pascal" contiguous-extent model); writing
// past it fails rather than relocating the file.
func (v *Volume) CreateFile(name string, kind FileKind, blocksNeeded int) (*Entry, error) {
	if blocksNeeded < 1 {
		blocksNeeded = 1
	}
	slot, err := v.findDirSlot()
	if err != nil {
		return nil, err
	}
	start, err := v.allocateContiguous(blocksNeeded)
	if err != nil {
		return nil, err
	}
	e := Entry{
		Index:      slot,
		FirstBlock: start,
		NextBlock:  start + blocksNeeded,
		Kind:       kind,
		Parent:     core.InvalidSlot,
	}
	e.RawName = []byte(name)
	e.CookedName = core.CookMacRoman(e.RawName)
	handle := v.arena.Alloc(e)
	ent, _ := v.arena.GetBySlot(handle.Slot)
	ent.Slot = handle.Slot

	if err := v.writeDirEntry(ent); err != nil {
		return nil, err
	}
	v.header.FileCount++
	return ent, nil
}

// findDirSlot returns the lowest unused directory index (1..maxEntries-1).
func (v *Volume) findDirSlot() (int, error) {
	buf, err := v.readDirRegion()
	if err != nil {
		return 0, err
	}
	for i := 1; i < maxEntries; i++ {
		off := i * entrySize
		if buf[off+4] == byte(KindUnused) {
			return i, nil
		}
	}
	return 0, core.NewError(core.KindDiskFull, "directory full (%d entries)", maxEntries-1)
}

// writeDirEntry persists e's 26-byte record to its directory slot.
func (v *Volume) writeDirEntry(e *Entry) error {
	rec := encodeEntry(e)
	return v.gate.PrivilegedWrite(func(cs core.ChunkSource) error {
		blockIdx := (e.Index * entrySize) / blockSize
		within := (e.Index * entrySize) % blockSize
		buf := make([]byte, blockSize)
		if err := cs.ReadBlock(dirStart+blockIdx, buf, 0); err != nil {
			return err
		}
		if within+entrySize <= blockSize {
			copy(buf[within:within+entrySize], rec)
			return cs.WriteBlock(dirStart+blockIdx, buf, 0)
		}
		// Entry straddles a block boundary.
		first := blockSize - within
		copy(buf[within:], rec[:first])
		if err := cs.WriteBlock(dirStart+blockIdx, buf, 0); err != nil {
			return err
		}
		buf2 := make([]byte, blockSize)
		if err := cs.ReadBlock(dirStart+blockIdx+1, buf2, 0); err != nil {
			return err
		}
		copy(buf2[:entrySize-first], rec[first:])
		return cs.WriteBlock(dirStart+blockIdx+1, buf2, 0)
	})
}

// DeleteFile clears slot's directory entry, returning its extent to the
// free-gap pool implicitly (no bitmap to update).
func (v *Volume) DeleteFile(slot core.EntrySlot) error {
	e, ok := v.arena.GetBySlot(slot)
	if !ok {
		return core.NewError(core.KindInvalidArgument, "no such file")
	}
	e.Deleted = true
	e.Kind = KindUnused
	if err := v.gate.PrivilegedWrite(func(cs core.ChunkSource) error {
		blockIdx := (e.Index * entrySize) / blockSize
		within := (e.Index * entrySize) % blockSize
		buf := make([]byte, blockSize)
		if err := cs.ReadBlock(dirStart+blockIdx, buf, 0); err != nil {
			return err
		}
		n := entrySize
		if within+n > blockSize {
			n = blockSize - within
		}
		for i := 0; i < n; i++ {
			buf[within+i] = 0
		}
		if err := cs.WriteBlock(dirStart+blockIdx, buf, 0); err != nil {
			return err
		}
		if within+entrySize > blockSize {
			rem := entrySize - n
			buf2 := make([]byte, blockSize)
			if err := cs.ReadBlock(dirStart+blockIdx+1, buf2, 0); err != nil {
				return err
			}
			for i := 0; i < rem; i++ {
				buf2[i] = 0
			}
			return cs.WriteBlock(dirStart+blockIdx+1, buf2, 0)
		}
		return nil
	}); err != nil {
		return err
	}
	v.arena.Free(slot)
	if v.header.FileCount > 0 {
		v.header.FileCount--
	}
	return nil
}
