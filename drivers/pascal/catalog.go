package pascal

import (
	"sort"
	"time"

	"github.com/deploymenttheory/go-apple2fs/core"
)

// dirRegionBytes is the flattened byte size of the whole directory region.
const dirRegionBytes = dirBlocks * blockSize

// readDirRegion concatenates the directory's blocks into one buffer so
// entries (which do not align to block boundaries: 512/26 is not integral)
// can be addressed by flat byte offset, matching how real Apple Pascal packs
// its 26-byte entries across the volume's directory blocks.
func (v *Volume) readDirRegion() ([]byte, error) {
	buf := make([]byte, dirRegionBytes)
	for i := 0; i < dirBlocks; i++ {
		if err := v.gate.ReadBlock(dirStart+i, buf[i*blockSize:(i+1)*blockSize], 0); err != nil {
			return nil, core.WrapError(core.KindIOError, err, "reading directory block %d", dirStart+i)
		}
	}
	return buf, nil
}

func (v *Volume) writeDirRegion(buf []byte) error {
	return v.gate.PrivilegedWrite(func(cs core.ChunkSource) error {
		for i := 0; i < dirBlocks; i++ {
			if err := cs.WriteBlock(dirStart+i, buf[i*blockSize:(i+1)*blockSize], 0); err != nil {
				return err
			}
		}
		return nil
	})
}

// pascalDate is the 16-bit packed date UCSD Pascal stores: bits 0-4 day,
// bits 5-8 month, bits 9-15 year (offset from 1900), i.e. laid out as
// year(7):month(4):day(5) matching the classic VOLID encoding.
func decodePascalDate(v uint16) time.Time {
	if v == 0 {
		return time.Time{}
	}
	day := int(v & 0x1F)
	month := int((v >> 5) & 0x0F)
	year := int((v >> 9) & 0x7F)
	if day < 1 || month < 1 || month > 12 {
		return time.Time{}
	}
	return time.Date(1900+year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

func encodePascalDate(t time.Time) uint16 {
	if t.IsZero() {
		return 0
	}
	year := t.Year() - 1900
	if year < 0 {
		year = 0
	}
	return uint16(year&0x7F)<<9 | uint16(t.Month()&0x0F)<<5 | uint16(t.Day()&0x1F)
}

func decodeEntry(buf []byte, index int) (Entry, bool) {
	kind := FileKind(buf[4])
	if index != 0 && kind == KindUnused {
		return Entry{}, false
	}
	e := Entry{Index: index}
	e.FirstBlock = int(core.LE16(buf[0:2]))
	e.NextBlock = int(core.LE16(buf[2:4]))
	e.Kind = kind
	nameLen := int(buf[5])
	if nameLen > maxNameLen {
		nameLen = maxNameLen
	}
	e.RawName = append([]byte(nil), buf[6:6+nameLen]...)
	e.CookedName = core.CookMacRoman(e.RawName)
	e.LastBlockBytes = int(core.LE16(buf[21:23]))
	e.ModifyTime = decodePascalDate(core.LE16(buf[23:25]))
	e.DataLength = int64(e.NextBlock-e.FirstBlock-1)*blockSize + int64(e.LastBlockBytes)
	if e.NextBlock <= e.FirstBlock {
		e.DataLength = 0
	}
	e.StorageSize = int64(e.NextBlock-e.FirstBlock) * blockSize
	return e, true
}

func encodeEntry(e *Entry) []byte {
	buf := make([]byte, entrySize)
	core.PutLE16(buf[0:2], uint16(e.FirstBlock))
	core.PutLE16(buf[2:4], uint16(e.NextBlock))
	buf[4] = byte(e.Kind)
	nameLen := len(e.RawName)
	if nameLen > maxNameLen {
		nameLen = maxNameLen
	}
	buf[5] = byte(nameLen)
	copy(buf[6:6+maxNameLen], padPascalString(string(e.RawName), maxNameLen))
	core.PutLE16(buf[21:23], uint16(e.LastBlockBytes))
	core.PutLE16(buf[23:25], encodePascalDate(e.ModifyTime))
	return buf
}

// volHeader is entry 0 of the directory: its NextBlock names where the
// directory ends and usable space begins (conventionally dirEnd), and
// LastBlockBytes/ModifyTime are repurposed to carry TotalBlocks/FileCount.
type volHeader struct {
	VolumeName  []byte
	DirEnd      int
	TotalBlocks int
	FileCount   int
}

func decodeVolHeader(buf []byte) volHeader {
	nameLen := int(buf[5])
	if nameLen > maxNameLen {
		nameLen = maxNameLen
	}
	return volHeader{
		VolumeName:  append([]byte(nil), buf[6:6+nameLen]...),
		DirEnd:      int(core.LE16(buf[2:4])),
		TotalBlocks: int(core.LE16(buf[21:23])),
		FileCount:   int(core.LE16(buf[23:25])),
	}
}

func encodeVolHeader(buf []byte, h volHeader) {
	core.PutLE16(buf[0:2], 0)
	core.PutLE16(buf[2:4], uint16(h.DirEnd))
	buf[4] = byte(KindVolHdr)
	nameLen := len(h.VolumeName)
	if nameLen > maxNameLen {
		nameLen = maxNameLen
	}
	buf[5] = byte(nameLen)
	copy(buf[6:6+maxNameLen], padPascalString(string(h.VolumeName), maxNameLen))
	core.PutLE16(buf[21:23], uint16(h.TotalBlocks))
	core.PutLE16(buf[23:25], uint16(h.FileCount))
}

func slotToRef(s core.EntrySlot) core.FileRef { return core.FileRef(s) + 1 }
func refToSlot(r core.FileRef) core.EntrySlot {
	if r == core.SystemRef || r == core.NoRef || r == 0 {
		return core.InvalidSlot
	}
	return core.EntrySlot(r - 1)
}

// scanVolume decodes the volume header and every live file entry, checking
// for overlapping extents (the Pascal equivalent of a VolumeUsage conflict,
// since there is no on-disk bitmap to reconcile against -- contiguous,
// non-overlapping extents sorted by FirstBlock ARE the free-space model).
func (v *Volume) scanVolume() error {
	v.notes = core.NewNotes()
	v.arena = core.NewArena[Entry]()
	v.dubious = false

	buf, err := v.readDirRegion()
	if err != nil {
		return err
	}
	hdr := decodeVolHeader(buf[0:entrySize])
	v.header = hdr
	v.totalBlocks = hdr.TotalBlocks
	if v.totalBlocks <= 0 {
		v.totalBlocks = core.BlockCount(v.gate.Source())
	}
	dirEndBlock := hdr.DirEnd
	if dirEndBlock <= 0 {
		dirEndBlock = dirEnd
	}
	v.dirEndBlock = dirEndBlock

	var live []*Entry
	for i := 1; i < maxEntries; i++ {
		off := i * entrySize
		if off+entrySize > len(buf) {
			break
		}
		e, ok := decodeEntry(buf[off:off+entrySize], i)
		if !ok {
			continue
		}
		if e.NextBlock <= e.FirstBlock || e.FirstBlock < dirEndBlock || e.NextBlock > v.totalBlocks {
			v.notes.Err("entry %d (%q) has an invalid extent [%d,%d), marking damaged", i, e.CookedName, e.FirstBlock, e.NextBlock)
			e.IsDamaged = true
			v.dubious = true
		}
		handle := v.arena.Alloc(e)
		ent, _ := v.arena.GetBySlot(handle.Slot)
		ent.Slot = handle.Slot
		ent.Parent = core.InvalidSlot
		live = append(live, ent)
	}

	sort.Slice(live, func(i, j int) bool { return live[i].FirstBlock < live[j].FirstBlock })
	for i := 1; i < len(live); i++ {
		if live[i].FirstBlock < live[i-1].NextBlock {
			v.notes.Warn("entries %q and %q overlap", live[i-1].CookedName, live[i].CookedName)
			live[i].AddConflict(live[i].FirstBlock, slotToRef(live[i-1].Slot))
			live[i-1].AddConflict(live[i].FirstBlock, slotToRef(live[i].Slot))
			v.dubious = true
		}
	}
	return nil
}

// gap is a run of contiguous free blocks between sorted entries (or before
// the first / after the last).
type gap struct {
	start, length int
}

// freeGaps returns every contiguous free run on the volume, in ascending
// start-block order. Pascal never compacts: a multi-block request is
// satisfiable only if a SINGLE gap is big enough, even when the sum of all
// gaps would otherwise suffice (§8 scenario 6, the contiguous-defrag
// constraint).
func (v *Volume) freeGaps() []gap {
	entries := v.liveSorted()
	var gaps []gap
	cursor := v.dirEndBlock
	for _, e := range entries {
		if e.FirstBlock > cursor {
			gaps = append(gaps, gap{start: cursor, length: e.FirstBlock - cursor})
		}
		if e.NextBlock > cursor {
			cursor = e.NextBlock
		}
	}
	if cursor < v.totalBlocks {
		gaps = append(gaps, gap{start: cursor, length: v.totalBlocks - cursor})
	}
	return gaps
}

func (v *Volume) liveSorted() []*Entry {
	var out []*Entry
	if v.arena == nil {
		return out
	}
	for i := 0; i < v.arena.Len(); i++ {
		if e, ok := v.arena.GetBySlot(core.EntrySlot(i)); ok && !e.Deleted {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstBlock < out[j].FirstBlock })
	return out
}

// allocateContiguous returns the start block of the first free gap that fits
// blocksNeeded contiguous blocks, or DiskFull if none does (first-fit; no
// defragmentation is ever attempted).
func (v *Volume) allocateContiguous(blocksNeeded int) (int, error) {
	for _, g := range v.freeGaps() {
		if g.length >= blocksNeeded {
			return g.start, nil
		}
	}
	return -1, core.NewError(core.KindDiskFull, "no contiguous run of %d free blocks", blocksNeeded)
}
