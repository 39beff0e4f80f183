package prodos

import (
	"time"

	"github.com/deploymenttheory/go-apple2fs/core"
)

// dirBlockHeader is the 4-byte prev/next chain every directory block (volume
// or subdirectory) starts with, before its entries.
type dirBlockHeader struct {
	Prev int
	Next int
}

func parseDirBlockHeader(buf []byte) dirBlockHeader {
	return dirBlockHeader{Prev: int(core.LE16(buf[0:2])), Next: int(core.LE16(buf[2:4]))}
}

func encodeDirBlockHeader(buf []byte, h dirBlockHeader) {
	core.PutLE16(buf[0:2], uint16(h.Prev))
	core.PutLE16(buf[2:4], uint16(h.Next))
}

// volumeHeader is the decoded slot-0 entry of block 2.
type volumeHeader struct {
	NameLength      int
	VolumeName      []byte
	EntryLength     int
	EntriesPerBlock int
	FileCount       int
	BitMapPointer   int
	TotalBlocks     int
}

func parseVolumeHeader(buf []byte) volumeHeader {
	return volumeHeader{
		NameLength:      int(buf[0] & 0x0F),
		VolumeName:      append([]byte(nil), buf[1:16]...),
		EntryLength:     int(buf[0x1F]),
		EntriesPerBlock: int(buf[0x20]),
		FileCount:       int(core.LE16(buf[0x21:0x23])),
		BitMapPointer:   int(core.LE16(buf[0x23:0x25])),
		TotalBlocks:     int(core.LE16(buf[0x25:0x27])),
	}
}

func encodeVolumeHeader(buf []byte, h volumeHeader) {
	buf[0] = byte(StorageVolumeHdr)<<4 | byte(h.NameLength&0x0F)
	copy(buf[1:16], padName(string(h.VolumeName), 15))
	buf[0x1F] = byte(dirEntryLen)
	buf[0x20] = byte(entriesPerBlock)
	core.PutLE16(buf[0x21:0x23], uint16(h.FileCount))
	core.PutLE16(buf[0x23:0x25], uint16(h.BitMapPointer))
	core.PutLE16(buf[0x25:0x27], uint16(h.TotalBlocks))
}

// decodeProDOSDateTime converts a 4-byte ProDOS date+time field to time.Time.
// Year field is 7 bits: 0-39 -> 2000-2039, 40-99 -> 1940-1999 (GS/OS convention).
func decodeProDOSDateTime(buf []byte) time.Time {
	date := core.LE16(buf[0:2])
	t := core.LE16(buf[2:4])
	year := int(date>>9) & 0x7F
	month := int(date>>5) & 0x0F
	day := int(date) & 0x1F
	hour := int(t>>8) & 0x1F
	minute := int(t) & 0x3F
	if year == 0 && month == 0 && day == 0 {
		return time.Time{}
	}
	fullYear := 1900 + year
	if year < 40 {
		fullYear = 2000 + year
	}
	if month < 1 {
		month = 1
	}
	if day < 1 {
		day = 1
	}
	return time.Date(fullYear, time.Month(month), day, hour, minute, 0, 0, time.UTC)
}

func encodeProDOSDateTime(buf []byte, ts time.Time) {
	if ts.IsZero() {
		return
	}
	year := ts.Year() - 1900
	if ts.Year() >= 2000 {
		year = ts.Year() - 2000
	}
	date := uint16(year&0x7F)<<9 | uint16(ts.Month())<<5 | uint16(ts.Day())
	tt := uint16(ts.Hour())<<8 | uint16(ts.Minute())
	core.PutLE16(buf[0:2], date)
	core.PutLE16(buf[2:4], tt)
}

func decodeEntry(buf []byte, headerBlock, index int) (Entry, bool) {
	typeLen := buf[0]
	storage := StorageType(typeLen >> 4)
	nameLen := int(typeLen & 0x0F)
	if storage == StorageDeleted {
		return Entry{}, false
	}
	e := Entry{
		HeaderBlock: headerBlock,
		Index:       index,
		StorageType: storage,
	}
	e.RawName = append([]byte(nil), buf[1:1+nameLen]...)
	e.CookedName = core.CookHighASCII(e.RawName)
	e.FileType = buf[16]
	e.KeyBlock = int(core.LE16(buf[17:19]))
	e.BlocksUsed = int(core.LE16(buf[19:21]))
	e.DataLength = int64(buf[21]) | int64(buf[22])<<8 | int64(buf[23])<<16
	e.StorageSize = int64(e.BlocksUsed) * blockSize
	e.CreateTime = decodeProDOSDateTime(buf[24:28])
	e.AccessFlags = uint32(buf[30])
	e.AuxType = uint32(core.LE16(buf[31:33]))
	e.ModifyTime = decodeProDOSDateTime(buf[33:37])
	e.IsDirectory = storage == StorageDirectory
	e.HasRsrcFork = storage == StorageExtended
	return e, true
}

func encodeEntry(e *Entry) []byte {
	buf := make([]byte, dirEntryLen)
	buf[0] = byte(e.StorageType)<<4 | byte(len(e.RawName)&0x0F)
	copy(buf[1:16], padName(string(e.RawName), 15))
	buf[16] = e.FileType
	core.PutLE16(buf[17:19], uint16(e.KeyBlock))
	core.PutLE16(buf[19:21], uint16(e.BlocksUsed))
	buf[21] = byte(e.DataLength)
	buf[22] = byte(e.DataLength >> 8)
	buf[23] = byte(e.DataLength >> 16)
	encodeProDOSDateTime(buf[24:28], e.CreateTime)
	buf[28] = 0x05 // version / min_version, nominal GS/OS values
	buf[29] = 0x00
	buf[30] = byte(e.AccessFlags)
	core.PutLE16(buf[31:33], uint16(e.AuxType))
	encodeProDOSDateTime(buf[33:37], e.ModifyTime)
	core.PutLE16(buf[37:39], uint16(e.HeaderBlock))
	return buf
}

// conflictRelay forwards VolumeUsage conflict notifications to the live
// Entry occupying the named allocation slot.
type conflictRelay struct{ v *Volume }

func (r conflictRelay) Notify(block int, self, other core.FileRef) {
	if e, ok := r.v.arena.GetBySlot(refToSlot(self)); ok {
		e.AddConflict(block, other)
	}
}

func slotToRef(s core.EntrySlot) core.FileRef { return core.FileRef(s) + 1 }
func refToSlot(r core.FileRef) core.EntrySlot {
	if r == core.SystemRef || r == core.NoRef || r == 0 {
		return core.InvalidSlot
	}
	return core.EntrySlot(r - 1)
}

// scanVolume reads block 2's volume header, walks the root directory chain
// (and, up to maxDirDepth, subdirectories), populates the bitmap-backed
// AllocMap, and reconciles VolumeUsage.
func (v *Volume) scanVolume() error {
	v.notes = core.NewNotes()
	v.arena = core.NewArena[Entry]()
	v.dubious = false

	hdr := make([]byte, blockSize)
	if err := v.gate.ReadBlock(2, hdr, 0); err != nil {
		return core.WrapError(core.KindIOError, err, "reading volume header block")
	}
	vh := parseVolumeHeader(hdr[4:])
	v.header = vh
	v.totalBlocks = vh.TotalBlocks
	if v.totalBlocks <= 0 {
		v.totalBlocks = core.BlockCount(v.gate.Source())
	}

	v.usage = core.NewVolumeUsage(v.totalBlocks, conflictRelay{v})
	v.alloc = core.NewAllocMap(v.totalBlocks, v.usage)

	v.markSystem(0)
	v.markSystem(1)
	v.markDirChainSystem(2)

	if vh.BitMapPointer > 0 {
		nBitBlocks := (v.totalBlocks + blockSize*8 - 1) / (blockSize * 8)
		for i := 0; i < nBitBlocks; i++ {
			v.markSystem(vh.BitMapPointer + i)
		}
	}

	if err := v.scanDirectory(2, core.InvalidSlot, 0); err != nil {
		return err
	}

	// Reconcile the scan-derived AllocMap against the real on-disk bitmap,
	// read directly rather than through alloc.bits (mirrors dos33's VTOC
	// reconciliation: the native structure is the independent ground truth
	// Analyze compares the scan against, not something the scan pre-seeds).
	counts := v.usage.Analyze(func(n int) bool { return v.nativeBitUsed(n) })
	if counts.IsDubious() {
		v.dubious = true
		v.notes.Warn("volume usage reconciliation found %d unmarked-used, %d conflicts",
			counts.NotMarkedUsed, counts.Conflicts)
	}
	return nil
}

func (v *Volume) markSystem(block int) {
	if block < 0 || block >= v.totalBlocks {
		return
	}
	v.alloc.MarkByScan(block, core.SystemRef)
}

func (v *Volume) markDirChainSystem(startBlock int) {
	seen := map[int]bool{}
	b := startBlock
	for b != 0 && !seen[b] {
		seen[b] = true
		v.markSystem(b)
		buf := make([]byte, blockSize)
		if err := v.gate.ReadBlock(b, buf, 0); err != nil {
			v.notes.Err("reading directory block %d: %v", b, err)
			return
		}
		b = parseDirBlockHeader(buf).Next
	}
}

// nativeBitUsed reads block n's bit from the on-disk volume bitmap directly
// (1-bit-per-block, MSB-first within each byte, 1=free per ProDOS
// convention), independent of whatever the scan has claimed in v.alloc.
func (v *Volume) nativeBitUsed(n int) bool {
	if v.header.BitMapPointer <= 0 || n < 0 || n >= v.totalBlocks {
		return false
	}
	blk := v.header.BitMapPointer + n/(blockSize*8)
	buf := make([]byte, blockSize)
	if err := v.gate.ReadBlock(blk, buf, 0); err != nil {
		return false
	}
	within := n % (blockSize * 8)
	byteIdx := within / 8
	bit := 7 - uint(within%8)
	free := buf[byteIdx]&(1<<bit) != 0
	return !free
}

func (v *Volume) scanDirectory(keyBlock int, parent core.EntrySlot, depth int) error {
	if depth > maxDirDepth {
		v.notes.Err("directory recursion exceeded %d, treating as cyclic", maxDirDepth)
		return nil
	}
	seen := map[int]bool{}
	b := keyBlock
	for b != 0 && !seen[b] {
		seen[b] = true
		buf := make([]byte, blockSize)
		if err := v.gate.ReadBlock(b, buf, 0); err != nil {
			return core.WrapError(core.KindIOError, err, "reading directory block %d", b)
		}
		start := 0
		if b == keyBlock {
			start = 1 // slot 0 of a volume/subdir key block is its header entry
		}
		for i := start; i < entriesPerBlock; i++ {
			off := 4 + i*dirEntryLen
			rec := buf[off : off+dirEntryLen]
			e, ok := decodeEntry(rec, b, i)
			if !ok {
				continue
			}
			e.Parent = parent
			handle := v.arena.Alloc(e)
			ent, _ := v.arena.GetBySlot(handle.Slot)
			ent.Slot = handle.Slot
			if parent != core.InvalidSlot {
				if pe, ok := v.arena.GetBySlot(parent); ok {
					pe.Children = append(pe.Children, ent.Slot)
				}
			}
			v.claimEntryBlocks(ent)
			if ent.IsDirectory {
				if err := v.scanDirectory(ent.KeyBlock, ent.Slot, depth+1); err != nil {
					return err
				}
			}
		}
		hdr := parseDirBlockHeader(buf)
		b = hdr.Next
	}
	return nil
}

// claimEntryBlocks walks a file's seedling/sapling/tree storage and marks
// every referenced block used, populating DataBlocks in logical order.
func (v *Volume) claimEntryBlocks(e *Entry) {
	ref := slotToRef(e.Slot)
	switch e.StorageType {
	case StorageSeedling:
		if e.KeyBlock != 0 {
			v.alloc.MarkByScan(e.KeyBlock, ref)
			e.DataBlocks = []int{e.KeyBlock}
		}
	case StorageSapling:
		if e.KeyBlock == 0 {
			return
		}
		v.alloc.MarkByScan(e.KeyBlock, ref)
		e.IndexBlocks = []int{e.KeyBlock}
		ptrs := v.readIndexBlock(e.KeyBlock)
		e.DataBlocks = make([]int, len(ptrs))
		for i, p := range ptrs {
			e.DataBlocks[i] = p
			if p != 0 {
				v.alloc.MarkByScan(p, ref)
			} else {
				e.DataBlocks[i] = -1
			}
		}
	case StorageTree:
		if e.KeyBlock == 0 {
			return
		}
		v.alloc.MarkByScan(e.KeyBlock, ref)
		e.MasterBlock = e.KeyBlock
		master := v.readIndexBlock(e.KeyBlock)
		for mi := 0; mi < maxMasterIndices && mi < len(master); mi++ {
			idxBlock := master[mi]
			if idxBlock == 0 {
				for k := 0; k < pointersPerIndex; k++ {
					e.DataBlocks = append(e.DataBlocks, -1)
				}
				continue
			}
			v.alloc.MarkByScan(idxBlock, ref)
			e.IndexBlocks = append(e.IndexBlocks, idxBlock)
			ptrs := v.readIndexBlock(idxBlock)
			for _, p := range ptrs {
				if p == 0 {
					e.DataBlocks = append(e.DataBlocks, -1)
					continue
				}
				v.alloc.MarkByScan(p, ref)
				e.DataBlocks = append(e.DataBlocks, p)
			}
		}
	case StorageDirectory:
		v.markDirChainSystem(e.KeyBlock)
	}
	for n := len(e.DataBlocks); n > 0 && e.DataBlocks[n-1] < 0; n-- {
		e.DataBlocks = e.DataBlocks[:n-1]
	}
}

// readIndexBlock decodes an index block's parallel low/high byte pointer
// arrays into pointersPerIndex block numbers.
func (v *Volume) readIndexBlock(block int) []int {
	buf := make([]byte, blockSize)
	if err := v.gate.ReadBlock(block, buf, 0); err != nil {
		v.notes.Err("reading index block %d: %v", block, err)
		return make([]int, pointersPerIndex)
	}
	out := make([]int, pointersPerIndex)
	for i := 0; i < pointersPerIndex; i++ {
		out[i] = int(buf[i]) | int(buf[pointersPerIndex+i])<<8
	}
	return out
}

func (v *Volume) writeIndexBlock(block int, ptrs []int) error {
	buf := make([]byte, blockSize)
	for i := 0; i < pointersPerIndex && i < len(ptrs); i++ {
		p := ptrs[i]
		if p < 0 {
			p = 0
		}
		buf[i] = byte(p)
		buf[pointersPerIndex+i] = byte(p >> 8)
	}
	return v.gate.PrivilegedWrite(func(cs core.ChunkSource) error {
		return cs.WriteBlock(block, buf, 0)
	})
}
