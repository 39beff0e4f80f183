package hfs

import "github.com/deploymenttheory/go-apple2fs/core"

// CreateFile registers a new zero-length file (both forks empty) under
// parent, inserting its catalog record and file thread and allocating a
// fresh CNID.
func (v *Volume) CreateFile(parent core.EntrySlot, name string) (*Entry, error) {
	parentEntry, ok := v.arena.GetBySlot(parent)
	if !ok || !parentEntry.IsDirectory {
		return nil, core.NewError(core.KindInvalidArgument, "no such directory")
	}
	if _, found, err := v.catalog.lookup(parentEntry.CNID, name); err != nil {
		return nil, err
	} else if found {
		return nil, core.NewError(core.KindInvalidArgument, "name already exists in directory")
	}

	cnid := v.nextCNID
	v.nextCNID++

	rec := catalogFileRecord{CNID: cnid}
	if err := v.catalog.insertFile(parentEntry.CNID, name, rec); err != nil {
		v.nextCNID--
		return nil, err
	}

	e := Entry{CNID: cnid}
	e.RawName = []byte(name)
	e.CookedName = core.CookMacRoman([]byte(name))
	e.Parent = parent
	handle := v.arena.Alloc(e)
	ent, _ := v.arena.GetBySlot(handle.Slot)
	ent.Slot = handle.Slot
	parentEntry.Children = append(parentEntry.Children, handle.Slot)

	v.mdb.NextCNID = v.nextCNID
	if err := v.writeMDB(); err != nil {
		return nil, err
	}
	return ent, nil
}

// CreateDirectory registers a new empty directory under parent.
func (v *Volume) CreateDirectory(parent core.EntrySlot, name string) (*Entry, error) {
	parentEntry, ok := v.arena.GetBySlot(parent)
	if !ok || !parentEntry.IsDirectory {
		return nil, core.NewError(core.KindInvalidArgument, "no such directory")
	}
	if _, found, err := v.catalog.lookup(parentEntry.CNID, name); err != nil {
		return nil, err
	} else if found {
		return nil, core.NewError(core.KindInvalidArgument, "name already exists in directory")
	}

	cnid := v.nextCNID
	v.nextCNID++

	if err := v.catalog.insertDir(parentEntry.CNID, name, catalogDirRecord{CNID: cnid}); err != nil {
		v.nextCNID--
		return nil, err
	}

	e := Entry{CNID: cnid}
	e.RawName = []byte(name)
	e.CookedName = core.CookMacRoman([]byte(name))
	e.IsDirectory = true
	e.Parent = parent
	handle := v.arena.Alloc(e)
	ent, _ := v.arena.GetBySlot(handle.Slot)
	ent.Slot = handle.Slot
	parentEntry.Children = append(parentEntry.Children, handle.Slot)

	v.mdb.NextCNID = v.nextCNID
	return ent, v.writeMDB()
}

// DeleteFile releases every allocation block both forks claim, removes the
// catalog record and thread, and detaches the entry from its parent.
func (v *Volume) DeleteFile(slot core.EntrySlot) error {
	e, ok := v.arena.GetBySlot(slot)
	if !ok {
		return core.NewError(core.KindInvalidArgument, "no such file")
	}
	if e.IsDirectory {
		if len(e.Children) > 0 {
			return core.NewError(core.KindInvalidArgument, "directory not empty")
		}
	} else {
		forks := []struct {
			kind   core.ForkKind
			inline [maxInlineExtents]extentDescriptor
		}{{core.DataFork, e.DataExtents}, {core.RsrcFork, e.RsrcExtents}}
		for _, f := range forks {
			ext, keys, err := v.loadForkExtents(e.CNID, f.kind, f.inline)
			if err != nil {
				return err
			}
			v.releaseExtents(ext)
			if err := v.syncForkOverflow(e.CNID, f.kind, &extentList{}, keys); err != nil {
				return err
			}
		}
	}
	if err := v.catalog.deleteByCNID(e.CNID); err != nil {
		return err
	}
	if parentEntry, ok := v.arena.GetBySlot(e.Parent); ok {
		parentEntry.Children = removeSlot(parentEntry.Children, slot)
	}
	e.Deleted = true
	v.arena.Free(slot)
	return nil
}

func releaseFork(v *Volume, extents [maxInlineExtents]extentDescriptor) {
	for _, run := range extents {
		for b := int(run.StartBlock); b < int(run.StartBlock)+int(run.BlockCount); b++ {
			v.alloc.Release(b)
			v.bitmapSet(b, false)
		}
	}
}

func removeSlot(slots []core.EntrySlot, target core.EntrySlot) []core.EntrySlot {
	out := slots[:0]
	for _, s := range slots {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

// persistEntry rewrites slot's catalog record from its current in-memory
// Attrs and extents, used after a descriptor's Flush extends or shrinks a
// fork's extent list.
func (v *Volume) persistEntry(e *Entry) error {
	if e.Parent == core.InvalidSlot {
		return nil // the root directory's own record never changes shape
	}
	parentEntry, ok := v.arena.GetBySlot(e.Parent)
	if !ok {
		return core.NewError(core.KindDamaged, "entry has no resolvable parent")
	}
	name := string(e.RawName)
	if e.IsDirectory {
		rec := catalogDirRecord{CNID: e.CNID, CreateDate: macTime(e.CreateTime), ModifyDate: macTime(e.ModifyTime)}
		if err := v.catalog.tree.Delete(encodeCatalogKey(catalogKey{parentEntry.CNID, name})); err != nil {
			return err
		}
		return v.catalog.tree.Insert(encodeCatalogRecord(parentEntry.CNID, name, encodeDirRecord(rec)))
	}
	rec := catalogFileRecord{
		CNID:        e.CNID,
		CreateDate:  macTime(e.CreateTime),
		ModifyDate:  macTime(e.ModifyTime),
		DataLength:  uint32(e.DataLength),
		RsrcLength:  uint32(e.RsrcLength),
		DataExtents: e.DataExtents,
		RsrcExtents: e.RsrcExtents,
		FinderInfo:  e.FinderInfo,
		HasRsrcFork: e.HasRsrcFork,
	}
	e.StorageSize = int64(allocBlocksUsed(e.DataExtents, int(v.mdb.AllocBlockSize))+allocBlocksUsed(e.RsrcExtents, int(v.mdb.AllocBlockSize))) * int64(v.mdb.AllocBlockSize)
	if err := v.catalog.tree.Delete(encodeCatalogKey(catalogKey{parentEntry.CNID, name})); err != nil {
		return err
	}
	return v.catalog.tree.Insert(encodeCatalogRecord(parentEntry.CNID, name, encodeFileRecord(rec)))
}
