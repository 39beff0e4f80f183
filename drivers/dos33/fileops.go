package dos33

import "github.com/deploymenttheory/go-apple2fs/core"

// CreateFile allocates a fresh catalog slot and a single empty T/S list
// sector for name, failing with KindDiskFull if no catalog slot or no
// allocation unit is available. name is cooked/trimmed to DOS 3.3's 30-byte
// high-ASCII field by the catalog encoder at flush time.
func (v *Volume) CreateFile(name string, typ FileType) (*Entry, error) {
	if err := v.alloc.EnsureSpace(1); err != nil {
		return nil, err
	}
	loc, err := v.findCatalogSlot()
	if err != nil {
		return nil, err
	}

	e := &Entry{Type: typ}
	e.CookedName = name
	h := v.arena.Alloc(*e)
	entry, _ := v.arena.GetBySlot(h.Slot)
	entry.Slot = h.Slot

	ref := slotToRef(entry.Slot)
	listUnit, err := v.alloc.Allocate(ref)
	if err != nil {
		v.arena.Free(h.Slot)
		return nil, err
	}
	entry.ListUnits = []int{listUnit}
	t, s := v.vtoc.TrackSectorOf(listUnit)
	entry.FirstTSList = TrackSector{Track: byte(t), Sector: byte(s)}

	v.catalogSlotOf[entry.Slot] = loc

	if err := v.writeTSListChain(entry); err != nil {
		return nil, err
	}
	if err := v.writeCatalogEntry(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// catalogLoc pins the on-disk catalog slot a given Entry occupies, recorded
// so writeCatalogEntry can update the same slot it was scanned from (or
// allocated into) instead of re-searching the chain on every flush.
type catalogLoc struct {
	track, sector, index int
}

// findCatalogSlot walks the existing catalog chain for the first deleted or
// unused slot, extending the chain with a freshly allocated sector if every
// existing sector is full.
func (v *Volume) findCatalogSlot() (catalogLoc, error) {
	track, sector := int(v.vtoc.CatalogTrack), int(v.vtoc.CatalogSector)
	seen := map[[2]int]bool{}
	var lastTrack, lastSector int
	for count := 0; (track != 0 || sector != 0) && count < maxCatalogSectors; count++ {
		key := [2]int{track, sector}
		if seen[key] {
			break
		}
		seen[key] = true
		lastTrack, lastSector = track, sector

		buf := make([]byte, sectorSize)
		if err := v.gate.ReadSector(track, sector, buf, 0); err != nil {
			return catalogLoc{}, core.WrapError(core.KindIOError, err, "reading catalog")
		}
		for i := 0; i < entriesPerCat; i++ {
			off := 0x0B + i*catEntrySize
			if buf[off] == unusedTrackMarker || buf[off] == deletedTrackMarker {
				return catalogLoc{track: track, sector: sector, index: i}, nil
			}
		}
		track, sector = int(buf[0x01]), int(buf[0x02])
	}

	// Chain exhausted: allocate a new catalog sector and link it in.
	n, err := v.alloc.Allocate(core.SystemRef)
	if err != nil {
		return catalogLoc{}, err
	}
	nt, ns := v.vtoc.TrackSectorOf(n)
	err = v.gate.PrivilegedWrite(func(cs core.ChunkSource) error {
		if err := cs.WriteSector(nt, ns, make([]byte, sectorSize), 0); err != nil {
			return err
		}
		if lastTrack == 0 && lastSector == 0 {
			return nil
		}
		prev := make([]byte, sectorSize)
		if err := cs.ReadSector(lastTrack, lastSector, prev, 0); err != nil {
			return err
		}
		prev[0x01], prev[0x02] = byte(nt), byte(ns)
		return cs.WriteSector(lastTrack, lastSector, prev, 0)
	})
	if err != nil {
		return catalogLoc{}, err
	}
	return catalogLoc{track: nt, sector: ns, index: 0}, nil
}

// writeCatalogEntry serializes entry's current state into its pinned
// catalog slot.
func (v *Volume) writeCatalogEntry(entry *Entry) error {
	loc := v.catalogSlotOf[entry.Slot]
	return v.gate.PrivilegedWrite(func(cs core.ChunkSource) error {
		buf := make([]byte, sectorSize)
		if err := cs.ReadSector(loc.track, loc.sector, buf, 0); err != nil {
			return core.WrapError(core.KindIOError, err, "reading catalog sector")
		}
		off := 0x0B + loc.index*catEntrySize
		copy(buf[off:off+catEntrySize], encodeCatalogEntry(*entry))
		return cs.WriteSector(loc.track, loc.sector, buf, 0)
	})
}

// writeTSListChain rebuilds entry's linked T/S list sectors from ListUnits/
// DataUnits, allocating additional list sectors as DataUnits grows past
// tsPairsPerList-sized pages.
func (v *Volume) writeTSListChain(entry *Entry) error {
	ref := slotToRef(entry.Slot)
	pagesNeeded := (len(entry.DataUnits) + tsPairsPerList - 1) / tsPairsPerList
	if pagesNeeded == 0 {
		pagesNeeded = 1
	}
	for len(entry.ListUnits) < pagesNeeded {
		n, err := v.alloc.Allocate(ref)
		if err != nil {
			return err
		}
		entry.ListUnits = append(entry.ListUnits, n)
	}

	err := v.gate.PrivilegedWrite(func(cs core.ChunkSource) error {
		for page := 0; page < len(entry.ListUnits); page++ {
			list := &TSList{SectorOffset: uint16(page * tsPairsPerList)}
			if page+1 < len(entry.ListUnits) {
				nt, ns := v.vtoc.TrackSectorOf(entry.ListUnits[page+1])
				list.Next = TrackSector{Track: byte(nt), Sector: byte(ns)}
			}
			for i := 0; i < tsPairsPerList; i++ {
				idx := page*tsPairsPerList + i
				if idx >= len(entry.DataUnits) || entry.DataUnits[idx] < 0 {
					continue
				}
				t, s := v.vtoc.TrackSectorOf(entry.DataUnits[idx])
				list.Pairs[i] = TrackSector{Track: byte(t), Sector: byte(s)}
			}
			t, s := v.vtoc.TrackSectorOf(entry.ListUnits[page])
			if err := cs.WriteSector(t, s, list.Encode(), 0); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	dataSectors := 0
	for _, u := range entry.DataUnits {
		if u >= 0 {
			dataSectors++
		}
	}
	entry.SectorCount = len(entry.ListUnits) + dataSectors
	t, s := v.vtoc.TrackSectorOf(entry.ListUnits[0])
	entry.FirstTSList = TrackSector{Track: byte(t), Sector: byte(s)}
	return nil
}

// DeleteFile marks entry deleted per the §3 convention (track byte set to
// 0xFF, original track preserved at offset 0x20) and releases every sector
// it claimed back to the allocation map.
func (v *Volume) DeleteFile(slot core.EntrySlot) error {
	e, ok := v.arena.GetBySlot(slot)
	if !ok || e.Deleted {
		return core.NewError(core.KindInvalidArgument, "no such file")
	}
	e.DeletedFromTrack = e.FirstTSList.Track
	e.Deleted = true
	if err := v.writeCatalogEntry(e); err != nil {
		return err
	}
	for _, n := range e.ClaimedSectors {
		v.alloc.Release(n)
	}
	for _, n := range e.ListUnits {
		v.alloc.Release(n)
	}
	e.ClaimedSectors = nil
	e.DataUnits = nil
	e.ListUnits = nil
	return nil
}
