package dos33

import "github.com/deploymenttheory/go-apple2fs/core"

const (
	maxCatalogSectors = 64 // cycle guard for a linked catalog chain
	maxTSListChain    = 512 // cycle guard for a linked T/S list chain
)

// conflictRelay adapts Volume to core.ConflictObserver, recording each
// conflict against the live Entry for the FileRef named in the callback.
type conflictRelay struct{ v *Volume }

func (r conflictRelay) Notify(block int, self, other core.FileRef) {
	if self == core.SystemRef || self == core.NoRef {
		return
	}
	slot := refToSlot(self)
	if e, ok := r.v.arena.GetBySlot(slot); ok {
		e.AddConflict(block, other)
	}
}

func slotToRef(s core.EntrySlot) core.FileRef { return core.FileRef(s) + 1 }
func refToSlot(r core.FileRef) core.EntrySlot { return core.EntrySlot(r - 1) }

// scanVolume implements the DirectoryScanner pattern (§4.3): read the VTOC,
// walk the linked catalog chain collecting entries, then for each live
// entry walk its T/S list chain marking every claimed sector in
// VolumeUsage/AllocMap.
func (v *Volume) scanVolume() error {
	v.notes.Reset()
	v.arena = core.NewArena[Entry]()
	v.catalogSlotOf = make(map[core.EntrySlot]catalogLoc)

	vtocBuf := make([]byte, sectorSize)
	if err := v.gate.ReadSector(vtocTrack, 0, vtocBuf, 0); err != nil {
		return core.WrapError(core.KindIOError, err, "reading VTOC")
	}
	vtoc, err := ParseVTOC(vtocBuf)
	if err != nil {
		v.notes.Err("VTOC: %v", err)
		return err
	}
	v.vtoc = vtoc

	total := vtoc.TotalSectors()
	v.usage = core.NewVolumeUsage(total, conflictRelay{v})
	v.alloc = core.NewAllocMap(total, v.usage)

	// Track 0 (boot) and the VTOC/catalog track are always system-reserved.
	for s := 0; s < vtoc.SectorsPerTrack; s++ {
		v.markSystem(0, s)
		v.markSystem(vtocTrack, s)
	}

	// Walk the catalog chain, marking every catalog sector itself as system.
	track, sector := int(vtoc.CatalogTrack), int(vtoc.CatalogSector)
	seen := map[[2]int]bool{}
	count := 0
	for (track != 0 || sector != 0) && count < maxCatalogSectors {
		key := [2]int{track, sector}
		if seen[key] {
			v.notes.Err("catalog chain cycles at track %d sector %d", track, sector)
			v.dubious = true
			break
		}
		seen[key] = true
		count++

		buf := make([]byte, sectorSize)
		if err := v.gate.ReadSector(track, sector, buf, 0); err != nil {
			v.notes.Err("reading catalog sector %d/%d: %v", track, sector, err)
			return err
		}
		v.markSystem(track, sector)

		v.scanCatalogSector(buf, track, sector)

		track, sector = int(buf[0x01]), int(buf[0x02])
	}
	if count >= maxCatalogSectors {
		v.notes.Err("catalog chain exceeded %d sectors, treating as damaged", maxCatalogSectors)
		v.dubious = true
	}

	// Reconcile against the on-disk bitmap.
	counts := v.usage.Analyze(func(n int) bool {
		t, s := vtoc.TrackSectorOf(n)
		return !vtoc.IsFree(t, s)
	})
	if counts.IsDubious() {
		v.dubious = true
		v.notes.Warn("volume usage reconciliation: %d blocks marked used but unclaimed, %d conflicts",
			counts.NotMarkedUsed, counts.Conflicts)
	}
	if v.notes.HasErrors() {
		v.dubious = true
	}
	return nil
}

func (v *Volume) markSystem(track, sector int) {
	n := v.vtoc.AllocUnit(track, sector)
	v.alloc.MarkByScan(n, core.SystemRef)
}

func (v *Volume) scanCatalogSector(buf []byte, track, sector int) {
	for i := 0; i < entriesPerCat; i++ {
		off := 0x0B + i*catEntrySize
		slotBuf := buf[off : off+catEntrySize]
		entry, used := decodeCatalogEntry(slotBuf)
		if !used {
			if !v.exhaustiveScan {
				return
			}
			continue
		}
		h := v.arena.Alloc(entry)
		e, _ := v.arena.GetBySlot(h.Slot)
		e.Slot = h.Slot
		v.catalogSlotOf[e.Slot] = catalogLoc{track: track, sector: sector, index: i}
		if !entry.Deleted {
			v.claimFileSectors(e)
		}
	}
}

// claimFileSectors walks entry's T/S list chain, marking the list sectors
// themselves and every data sector they reference as used by this entry.
// A cycle or out-of-range pointer marks the entry (not the whole volume)
// damaged and stops the walk, bounding pathological chains per §4.3.
func (v *Volume) claimFileSectors(e *Entry) {
	ref := slotToRef(e.Slot)
	ts := e.FirstTSList
	seen := map[TrackSector]bool{}
	iterations := 0

	for !ts.IsZero() && iterations < maxTSListChain {
		if seen[ts] {
			v.notes.Err("file %q: T/S list cycle at %d/%d", e.CookedName, ts.Track, ts.Sector)
			e.IsDamaged = true
			return
		}
		seen[ts] = true
		iterations++

		if !v.validTS(ts) {
			v.notes.Err("file %q: T/S list pointer %d/%d out of range", e.CookedName, ts.Track, ts.Sector)
			e.IsDamaged = true
			return
		}

		buf := make([]byte, sectorSize)
		if err := v.gate.ReadSector(int(ts.Track), int(ts.Sector), buf, 0); err != nil {
			v.notes.Err("file %q: reading T/S list %d/%d: %v", e.CookedName, ts.Track, ts.Sector, err)
			e.IsDamaged = true
			return
		}
		list, err := ParseTSList(buf)
		if err != nil {
			e.IsDamaged = true
			return
		}

		listUnit := v.vtoc.AllocUnit(int(ts.Track), int(ts.Sector))
		v.alloc.MarkByScan(listUnit, ref)
		e.ClaimedSectors = append(e.ClaimedSectors, listUnit)
		e.ListUnits = append(e.ListUnits, listUnit)

		for _, p := range list.Pairs {
			if p.IsZero() {
				e.DataUnits = append(e.DataUnits, -1) // sparse slot within the list; DOS 3.3 files have no true holes but trailing zero pairs are common
				continue
			}
			if !v.validTS(p) {
				v.notes.Warn("file %q: data pointer %d/%d out of range, skipped", e.CookedName, p.Track, p.Sector)
				e.IsDubious = true
				e.DataUnits = append(e.DataUnits, -1)
				continue
			}
			unit := v.vtoc.AllocUnit(int(p.Track), int(p.Sector))
			v.alloc.MarkByScan(unit, ref)
			e.ClaimedSectors = append(e.ClaimedSectors, unit)
			e.DataUnits = append(e.DataUnits, unit)
		}

		ts = list.Next
	}
	if iterations >= maxTSListChain {
		v.notes.Err("file %q: T/S list chain exceeded %d sectors", e.CookedName, maxTSListChain)
		e.IsDamaged = true
	}
	e.StorageSize = int64(len(e.ClaimedSectors)) * sectorSize
	if !e.IsDamaged {
		v.computeDataLength(e)
	}
}

// computeDataLength derives Attrs.DataLength and AuxType from the file's raw
// sector contents, per the length convention for each type (§4.4 testable
// scenario: DOS length recovery). Text files have no length header and
// terminate at the first NUL; Applesoft/Integer files carry a 2-byte
// length prefix; binary files carry a 4-byte load-address+length header.
func (v *Volume) computeDataLength(e *Entry) {
	switch e.Type & 0x7F {
	case TypeApplesoft, TypeNewA, TypeInteger:
		buf := v.readUnit(e.firstDataUnit())
		if buf == nil {
			return
		}
		e.DataLength = int64(core.LE16(buf[0:2]))
	case TypeBinary, TypeNewB:
		buf := v.readUnit(e.firstDataUnit())
		if buf == nil {
			return
		}
		e.AuxType = uint32(core.LE16(buf[0:2]))
		e.DataLength = int64(core.LE16(buf[2:4]))
	case TypeText:
		e.DataLength = v.scanTextLength(e)
	default:
		e.DataLength = e.StorageSize
	}
}

func (e *Entry) firstDataUnit() int {
	for _, u := range e.DataUnits {
		if u >= 0 {
			return u
		}
	}
	return -1
}

func (v *Volume) readUnit(unit int) []byte {
	if unit < 0 {
		return nil
	}
	t, s := v.vtoc.TrackSectorOf(unit)
	buf := make([]byte, sectorSize)
	if err := v.gate.ReadSector(t, s, buf, 0); err != nil {
		return nil
	}
	return buf
}

// scanTextLength walks data sectors in order looking for the first NUL byte,
// DOS 3.3's text-file terminator; a file with no NUL anywhere occupies its
// full allocation.
func (v *Volume) scanTextLength(e *Entry) int64 {
	var total int64
	for _, unit := range e.DataUnits {
		buf := v.readUnit(unit)
		if buf == nil {
			total += sectorSize
			continue
		}
		if idx := indexZero(buf); idx >= 0 {
			return total + int64(idx)
		}
		total += sectorSize
	}
	return total
}

func indexZero(buf []byte) int {
	for i, b := range buf {
		if b == 0 {
			return i
		}
	}
	return -1
}

func (v *Volume) validTS(ts TrackSector) bool {
	return int(ts.Track) < v.vtoc.Tracks && int(ts.Sector) < v.vtoc.SectorsPerTrack
}
