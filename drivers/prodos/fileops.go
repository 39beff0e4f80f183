package prodos

import (
	"github.com/deploymenttheory/go-apple2fs/core"
)

// dirSlot names a physical directory-entry position.
type dirSlot struct {
	block int
	index int
}

// findRootSlot walks the root directory chain for the first deleted/unused
// slot, extending the chain with a freshly-allocated block if every existing
// block is full.
func (v *Volume) findRootSlot() (dirSlot, error) {
	b := 2
	last := 2
	for b != 0 {
		buf := make([]byte, blockSize)
		if err := v.gate.ReadBlock(b, buf, 0); err != nil {
			return dirSlot{}, core.WrapError(core.KindIOError, err, "reading directory block %d", b)
		}
		start := 0
		if b == 2 {
			start = 1
		}
		for i := start; i < entriesPerBlock; i++ {
			off := 4 + i*dirEntryLen
			if buf[off]>>4 == byte(StorageDeleted) {
				return dirSlot{block: b, index: i}, nil
			}
		}
		last = b
		b = parseDirBlockHeader(buf).Next
	}
	// Chain exhausted: allocate and link a new directory block.
	if err := v.alloc.EnsureSpace(1); err != nil {
		return dirSlot{}, err
	}
	newBlock, err := v.alloc.Allocate(core.SystemRef)
	if err != nil {
		return dirSlot{}, err
	}
	if err := v.gate.PrivilegedWrite(func(cs core.ChunkSource) error {
		buf := make([]byte, blockSize)
		if err := cs.ReadBlock(last, buf, 0); err != nil {
			return err
		}
		hdr := parseDirBlockHeader(buf)
		hdr.Next = newBlock
		encodeDirBlockHeader(buf, hdr)
		if err := cs.WriteBlock(last, buf, 0); err != nil {
			return err
		}
		newBuf := make([]byte, blockSize)
		encodeDirBlockHeader(newBuf, dirBlockHeader{Prev: last, Next: 0})
		return cs.WriteBlock(newBlock, newBuf, 0)
	}); err != nil {
		return dirSlot{}, err
	}
	return dirSlot{block: newBlock, index: 0}, nil
}

// CreateFile allocates a directory slot and arena entry for name; storage is
// Seedling until the first write crosses a block boundary (§3).
func (v *Volume) CreateFile(name string, fileType byte) (*Entry, error) {
	if err := v.alloc.EnsureSpace(1); err != nil {
		return nil, err
	}
	slot, err := v.findRootSlot()
	if err != nil {
		return nil, err
	}
	e := Entry{
		StorageType: StorageSeedling,
		HeaderBlock: slot.block,
		Index:       slot.index,
		Parent:      core.InvalidSlot,
	}
	e.RawName = []byte(name)
	e.CookedName = core.CookHighASCII(e.RawName)
	e.FileType = fileType
	handle := v.arena.Alloc(e)
	ent, _ := v.arena.GetBySlot(handle.Slot)
	ent.Slot = handle.Slot

	if err := v.writeDirEntry(ent); err != nil {
		return nil, err
	}
	v.header.FileCount++
	return ent, nil
}

// writeEntryStorage persists the index/master block(s) an entry's storage
// currently references.
func (v *Volume) writeEntryStorage(e *Entry) error {
	switch e.StorageType {
	case StorageSapling:
		if len(e.IndexBlocks) == 0 {
			return nil
		}
		return v.writeIndexBlock(e.IndexBlocks[0], e.DataBlocks)
	case StorageTree:
		if e.MasterBlock == 0 {
			return nil
		}
		master := make([]int, maxMasterIndices)
		for mi := range master {
			master[mi] = 0
		}
		for i := 0; i < len(e.IndexBlocks); i++ {
			master[i] = e.IndexBlocks[i]
		}
		if err := v.writeIndexBlock(e.MasterBlock, master); err != nil {
			return err
		}
		for i, idxBlock := range e.IndexBlocks {
			lo := i * pointersPerIndex
			hi := lo + pointersPerIndex
			if hi > len(e.DataBlocks) {
				hi = len(e.DataBlocks)
			}
			if err := v.writeIndexBlock(idxBlock, e.DataBlocks[lo:hi]); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeDirEntry writes e's 39-byte record back to its directory block.
func (v *Volume) writeDirEntry(e *Entry) error {
	rec := encodeEntry(e)
	return v.gate.PrivilegedWrite(func(cs core.ChunkSource) error {
		buf := make([]byte, blockSize)
		if err := cs.ReadBlock(e.HeaderBlock, buf, 0); err != nil {
			return err
		}
		off := 4 + e.Index*dirEntryLen
		copy(buf[off:off+dirEntryLen], rec)
		return cs.WriteBlock(e.HeaderBlock, buf, 0)
	})
}

// DeleteFile marks slot's directory entry unused and releases every block
// (data, index, master) it claimed.
func (v *Volume) DeleteFile(slot core.EntrySlot) error {
	e, ok := v.arena.GetBySlot(slot)
	if !ok {
		return core.NewError(core.KindInvalidArgument, "no such file")
	}
	for _, b := range e.DataBlocks {
		if b >= 0 {
			v.alloc.Release(b)
		}
	}
	for _, b := range e.IndexBlocks {
		v.alloc.Release(b)
	}
	if e.MasterBlock != 0 {
		v.alloc.Release(e.MasterBlock)
	}
	e.Deleted = true
	e.StorageType = StorageDeleted
	if err := v.gate.PrivilegedWrite(func(cs core.ChunkSource) error {
		buf := make([]byte, blockSize)
		if err := cs.ReadBlock(e.HeaderBlock, buf, 0); err != nil {
			return err
		}
		off := 4 + e.Index*dirEntryLen
		for i := 0; i < dirEntryLen; i++ {
			buf[off+i] = 0
		}
		return cs.WriteBlock(e.HeaderBlock, buf, 0)
	}); err != nil {
		return err
	}
	v.arena.Free(slot)
	if v.header.FileCount > 0 {
		v.header.FileCount--
	}
	return nil
}
