package cpm

import "github.com/deploymenttheory/go-apple2fs/core"

// blockToSector converts a data-area-relative allocation-block number to
// the absolute (track, sector) of its first physical sector; the second
// sector of the pair immediately follows.
func (v *Volume) blockToSector(block int) (track, sector int) {
	abs := v.directoryTrack*sectorsPerTrack + block*2
	return abs / sectorsPerTrack, abs % sectorsPerTrack
}

// readBlock reads one allocation block (blockSize, 512 bytes) as two plain
// 256-byte sectors, so the 0xE5 fill Format writes reads back as 0xE5. This
// driver does not use 1 KB or 2 KB allocation blocks.
func (v *Volume) readBlock(block int) ([]byte, error) {
	t, s := v.blockToSector(block)
	buf := make([]byte, blockSize)
	if err := v.gate.ReadSector(t, s, buf[0:sectorSize], 0); err != nil {
		return nil, err
	}
	if err := v.gate.ReadSector(t, s+1, buf[sectorSize:blockSize], 0); err != nil {
		return nil, err
	}
	return buf, nil
}

func (v *Volume) writeBlock(block int, buf []byte) error {
	t, s := v.blockToSector(block)
	return v.gate.PrivilegedWrite(func(cs core.ChunkSource) error {
		if err := cs.WriteSector(t, s, buf[0:sectorSize], 0); err != nil {
			return err
		}
		return cs.WriteSector(t, s+1, buf[sectorSize:blockSize], 0)
	})
}

// dirEntryLoc names a physical directory slot as a block + byte offset
// within it (entrySize does not evenly divide blockSize... it does here,
// 512/32=16, but kept generic for clarity).
type dirEntryLoc struct {
	block  int
	offset int
}

func locOf(slot int) dirEntryLoc {
	perBlock := blockSize / entrySize
	return dirEntryLoc{block: slot / perBlock, offset: (slot % perBlock) * entrySize}
}

func (v *Volume) readDirEntry(slot int) ([]byte, error) {
	loc := locOf(slot)
	buf, err := v.readBlock(loc.block)
	if err != nil {
		return nil, err
	}
	return buf[loc.offset : loc.offset+entrySize], nil
}

func (v *Volume) writeDirEntry(slot int, rec []byte) error {
	loc := locOf(slot)
	buf, err := v.readBlock(loc.block)
	if err != nil {
		return err
	}
	copy(buf[loc.offset:loc.offset+entrySize], rec)
	return v.writeBlock(loc.block, buf)
}

// rawExtent is one decoded 32-byte directory record before grouping.
type rawExtent struct {
	slot      int
	status    byte
	user      int
	name      []byte
	ftype     []byte
	logical   int // S2*32 + EX
	rc        int
	pointers  []int // ptrsPerExtent entries; 0 = empty slot
}

func decodeRawExtent(slot int, buf []byte) rawExtent {
	r := rawExtent{slot: slot, status: buf[0]}
	r.user = int(buf[0])
	r.name = append([]byte(nil), buf[1:1+maxNameLen]...)
	r.ftype = append([]byte(nil), buf[9:9+maxTypeLen]...)
	r.logical = int(buf[14])*32 + int(buf[12])
	r.rc = int(buf[15])
	r.pointers = make([]int, ptrsPerExtent)
	for i := 0; i < ptrsPerExtent; i++ {
		r.pointers[i] = int(buf[16+i])
	}
	return r
}

func cleanName(raw []byte) string {
	out := make([]byte, len(raw))
	for i, b := range raw {
		out[i] = b & 0x7F
	}
	s := string(out)
	for len(s) > 0 && s[len(s)-1] == ' ' {
		s = s[:len(s)-1]
	}
	return s
}

func encodeExtent(e *Entry, logical, rc int, ptrs []int) []byte {
	buf := make([]byte, entrySize)
	buf[0] = byte(e.User)
	copy(buf[1:1+maxNameLen], padCPMString(string(e.RawName), maxNameLen))
	copy(buf[9:9+maxTypeLen], padCPMString(e.typeSuffix, maxTypeLen))
	if e.ReadOnly {
		buf[9] |= 0x80
	}
	if e.System {
		buf[10] |= 0x80
	}
	if e.Archive {
		buf[11] |= 0x80
	}
	buf[12] = byte(logical % 32)
	buf[13] = 0
	buf[14] = byte(logical / 32)
	buf[15] = byte(rc)
	for i := 0; i < ptrsPerExtent && i < len(ptrs); i++ {
		p := ptrs[i]
		if p < 0 {
			p = 0
		}
		buf[16+i] = byte(p)
	}
	return buf
}

func slotToRef(s core.EntrySlot) core.FileRef { return core.FileRef(s) + 1 }
func refToSlot(r core.FileRef) core.EntrySlot {
	if r == core.SystemRef || r == core.NoRef || r == 0 {
		return core.InvalidSlot
	}
	return core.EntrySlot(r - 1)
}

type conflictRelay struct{ v *Volume }

func (r conflictRelay) Notify(block int, self, other core.FileRef) {
	if e, ok := r.v.arena.GetBySlot(refToSlot(self)); ok {
		e.AddConflict(block, other)
	}
}

// scanVolume reads every directory slot, separates reserved-track markers
// from real file extents, groups file extents by (user, name, type),
// concatenates their block pointers in logical-extent order, and populates
// the scan-derived AllocMap (§4.3; §9 "CP/M" design notes).
func (v *Volume) scanVolume() error {
	v.notes = core.NewNotes()
	v.arena = core.NewArena[Entry]()
	v.dubious = false
	v.reservedTrackMap = make([]bool, v.totalTracks)

	v.usage = core.NewVolumeUsage(v.totalBlocks, conflictRelay{v})
	v.alloc = core.NewAllocMap(v.totalBlocks, v.usage)
	for b := 0; b < dirBlocksCount; b++ {
		v.alloc.MarkByScan(b, core.SystemRef)
	}

	type key struct {
		user int
		name string
		typ  string
	}
	groups := map[key]*rawExtentGroup{}
	var order []key

	for slot := 0; slot < entriesPerDir; slot++ {
		rec, err := v.readDirEntry(slot)
		if err != nil {
			return core.WrapError(core.KindIOError, err, "reading directory slot %d", slot)
		}
		status := rec[0]
		switch {
		case status == statusDeleted:
			continue
		case status == statusReserved:
			v.scanReservedExtent(rec)
		case int(status) <= maxUserNumber:
			r := decodeRawExtent(slot, rec)
			k := key{user: r.user, name: cleanName(r.name), typ: cleanName(r.ftype)}
			g, ok := groups[k]
			if !ok {
				g = &rawExtentGroup{}
				groups[k] = g
				order = append(order, k)
			}
			g.extents = append(g.extents, r)
		default:
			// 0x10-0x1E: ignored by the scanner, neither good nor bad (§9).
		}
	}

	for _, k := range order {
		g := groups[k]
		e := g.materialize(k.user, k.name, k.typ)
		handle := v.arena.Alloc(e)
		ent, _ := v.arena.GetBySlot(handle.Slot)
		ent.Slot = handle.Slot
		ent.Parent = core.InvalidSlot
		ref := slotToRef(ent.Slot)
		for _, b := range ent.Blocks {
			if b > 0 {
				v.alloc.MarkByScan(b, ref)
			}
		}
	}

	counts := v.usage.Analyze(func(n int) bool { return v.alloc.IsUsed(n) })
	if counts.IsDubious() {
		v.dubious = true
		v.notes.Warn("volume usage reconciliation found %d conflicts", counts.Conflicts)
	}
	return nil
}

// scanReservedExtent decodes a 0x1F status entry's 16 pointer bytes as raw
// track numbers (reservedSlot=0xFF marks an empty slot), folding them into
// the volume's reserved-track map (§4.3, §8 scenario 1).
func (v *Volume) scanReservedExtent(rec []byte) {
	for i := 0; i < ptrsPerExtent; i++ {
		t := rec[16+i]
		if t == reservedSlot {
			continue
		}
		if int(t) < v.totalTracks {
			v.reservedTrackMap[t] = true
		}
	}
}

// ReservedTrackMap returns a copy of the per-track reservation map derived
// from 0x1F directory entries, used by hybrid DOS/CP/M detection (§8
// scenario 1).
func (v *Volume) ReservedTrackMap() []bool {
	out := make([]bool, len(v.reservedTrackMap))
	copy(out, v.reservedTrackMap)
	return out
}

// rawExtentGroup accumulates every directory extent belonging to one file
// before the final Entry is materialized.
type rawExtentGroup struct {
	extents []rawExtent
}

func (g *rawExtentGroup) materialize(user int, name, typ string) Entry {
	e := Entry{User: user}
	e.RawName = []byte(name)
	e.typeSuffix = typ
	e.CookedName = core.CookHighASCII([]byte(name + "." + typ))
	e.FileType = 0
	if len(g.extents) > 0 {
		first := g.extents[0]
		e.ReadOnly = first.ftype[0]&0x80 != 0
		e.System = len(first.ftype) > 1 && first.ftype[1]&0x80 != 0
		e.Archive = len(first.ftype) > 2 && first.ftype[2]&0x80 != 0
	}

	maxLogical := 0
	byLogical := map[int]rawExtent{}
	for _, r := range g.extents {
		byLogical[r.logical] = r
		if r.logical > maxLogical {
			maxLogical = r.logical
		}
	}
	for li := 0; li <= maxLogical; li++ {
		r, ok := byLogical[li]
		if !ok {
			for i := 0; i < ptrsPerExtent; i++ {
				e.Blocks = append(e.Blocks, -1)
			}
			continue
		}
		e.extentSlots = append(e.extentSlots, r.slot)
		for _, p := range r.pointers {
			if p == 0 {
				e.Blocks = append(e.Blocks, -1)
			} else {
				e.Blocks = append(e.Blocks, p)
			}
		}
		if li == maxLogical {
			e.LastRecordCount = r.rc
		}
	}
	e.DataLength = int64(maxLogical)*int64(recordsPerExtent)*recordSize + int64(e.LastRecordCount)*recordSize
	used := 0
	for _, b := range e.Blocks {
		if b > 0 {
			used++
		}
	}
	e.StorageSize = int64(used) * blockSize
	return e
}
