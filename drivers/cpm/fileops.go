package cpm

import "github.com/deploymenttheory/go-apple2fs/core"

// findFreeDirSlot scans the directory for the lowest unused (0xE5) slot.
func (v *Volume) findFreeDirSlot() (int, error) {
	for slot := 0; slot < entriesPerDir; slot++ {
		rec, err := v.readDirEntry(slot)
		if err != nil {
			return 0, err
		}
		if rec[0] == statusDeleted {
			return slot, nil
		}
	}
	return 0, core.NewError(core.KindDiskFull, "directory full (%d entries)", entriesPerDir)
}

// CreateFile registers a new zero-length file and reserves its first
// directory extent (EX=0, RC=0, no blocks); real blocks are allocated on
// demand as Write crosses extent boundaries (§3 "CP/M").
func (v *Volume) CreateFile(name, typeSuffix string, user int) (*Entry, error) {
	slot, err := v.findFreeDirSlot()
	if err != nil {
		return nil, err
	}
	e := Entry{User: user, Parent: core.InvalidSlot}
	e.RawName = []byte(name)
	e.typeSuffix = typeSuffix
	e.CookedName = core.CookHighASCII([]byte(name + "." + typeSuffix))
	e.extentSlots = []int{slot}
	handle := v.arena.Alloc(e)
	ent, _ := v.arena.GetBySlot(handle.Slot)
	ent.Slot = handle.Slot

	if err := v.writeExtentEntry(ent, 0); err != nil {
		return nil, err
	}
	return ent, nil
}

// writeExtentEntry (re)writes the on-disk record for logical extent li of
// entry e, deriving RC from DataLength and slicing e.Blocks for its
// pointer run.
func (v *Volume) writeExtentEntry(e *Entry, li int) error {
	if li >= len(e.extentSlots) {
		return core.NewError(core.KindInvalidArgument, "no directory slot reserved for extent %d", li)
	}
	totalRecords := int((e.DataLength + recordSize - 1) / recordSize)
	recordsInThis := totalRecords - li*recordsPerExtent
	if recordsInThis > recordsPerExtent {
		recordsInThis = recordsPerExtent
	}
	if recordsInThis < 0 {
		recordsInThis = 0
	}
	lo := li * ptrsPerExtent
	hi := lo + ptrsPerExtent
	var ptrs []int
	if lo < len(e.Blocks) {
		if hi > len(e.Blocks) {
			hi = len(e.Blocks)
		}
		ptrs = e.Blocks[lo:hi]
	}
	rec := encodeExtent(e, li, recordsInThis, ptrs)
	return v.writeDirEntry(e.extentSlots[li], rec)
}

// DeleteFile releases every block the file's extents claimed and marks all
// of its directory slots unused.
func (v *Volume) DeleteFile(slot core.EntrySlot) error {
	e, ok := v.arena.GetBySlot(slot)
	if !ok {
		return core.NewError(core.KindInvalidArgument, "no such file")
	}
	for _, b := range e.Blocks {
		if b > 0 {
			v.alloc.Release(b)
		}
	}
	freeRec := make([]byte, entrySize)
	for i := range freeRec {
		freeRec[i] = statusDeleted
	}
	for _, dirSlot := range e.extentSlots {
		if err := v.writeDirEntry(dirSlot, freeRec); err != nil {
			return err
		}
	}
	e.Deleted = true
	v.arena.Free(slot)
	return nil
}
