package mfs

import "github.com/deploymenttheory/go-apple2fs/core"

// CreateFile registers a new zero-length file (both forks empty) and
// rewrites the directory region from the live entry list.
func (v *Volume) CreateFile(name string) (*Entry, error) {
	if v.arena.Len()+1 > 0xFFFF {
		return nil, core.NewError(core.KindDiskFull, "too many files")
	}
	e := Entry{FileNum: v.vi.NextFileNum, Parent: core.InvalidSlot}
	e.RawName = []byte(name)
	e.CookedName = core.CookMacRoman([]byte(name))
	handle := v.arena.Alloc(e)
	ent, _ := v.arena.GetBySlot(handle.Slot)
	ent.Slot = handle.Slot
	v.vi.NextFileNum++

	if err := v.writeDirectory(); err != nil {
		return nil, err
	}
	return ent, nil
}

// DeleteFile releases every allocation unit both forks claimed and rewrites
// the directory without this entry.
func (v *Volume) DeleteFile(slot core.EntrySlot) error {
	e, ok := v.arena.GetBySlot(slot)
	if !ok {
		return core.NewError(core.KindInvalidArgument, "no such file")
	}
	for _, u := range v.chainUnits(e.DataStartBlock) {
		v.alloc.Release(u)
		v.nativeMap[u] = freeBlockMark
	}
	for _, u := range v.chainUnits(e.RsrcStartBlock) {
		v.alloc.Release(u)
		v.nativeMap[u] = freeBlockMark
	}
	e.Deleted = true
	v.arena.Free(slot)
	return v.writeDirectory()
}

// writeDirectory serializes every live entry sequentially from DirSt and
// persists the updated file count in the MDB. MFS's directory has no
// sentinel terminator; NumberOfFiles alone bounds the scan, so trailing
// bytes after the last live entry are never read back and need not be
// cleared.
func (v *Volume) writeDirectory() error {
	pos := int64(v.vi.DirSt) * logicalBlockSize
	dirEnd := pos + int64(v.vi.BlLen)*logicalBlockSize

	live := v.Entries()
	for _, e := range live {
		dataUnits := len(v.chainUnits(e.DataStartBlock))
		rsrcUnits := len(v.chainUnits(e.RsrcStartBlock))
		d := dirEntry{
			flags:   flagUsed,
			version: 0,
			usrWds:  e.UserWords,
			flNum:   e.FileNum,
			stBlk:   e.DataStartBlock,
			lgLen:   uint32(e.DataLength),
			pyLen:   uint32(dataUnits) * v.vi.AllocBlockSize,
			rStBlk:  e.RsrcStartBlock,
			rLgLen:  uint32(e.RsrcLength),
			rPyLen:  uint32(rsrcUnits) * v.vi.AllocBlockSize,
			crDat:   macTime(e.CreateTime),
			mdDat:   macTime(e.ModifyTime),
			name:    string(e.RawName),
		}
		e.StorageSize = int64(d.pyLen) + int64(d.rPyLen)
		buf := encodeDirEntry(d)
		if pos+int64(len(buf)) > dirEnd {
			return core.NewError(core.KindDiskFull, "directory region full")
		}
		if err := v.writeBytesAt(pos, buf); err != nil {
			return err
		}
		pos += int64(len(buf))
	}

	v.vi.NumberOfFiles = uint16(len(live))
	v.dirEnd = dirEnd
	return v.writeBytesAt(mdbBlock*logicalBlockSize, encodeVolInfo(v.vi))
}
