package mfs

import (
	"time"

	"github.com/deploymenttheory/go-apple2fs/core"
)

// volInfo is the decoded master directory block (MDB), big-endian, grounded
// on the reference's volumeInformation struct.
type volInfo struct {
	Signature       uint16
	CreateDate      uint32
	LastBackup      uint32
	Attributes      uint16
	NumberOfFiles   uint16
	DirSt           uint16
	BlLen           uint16
	NumAllocBlocks  uint16
	AllocBlockSize  uint32
	ClumpSize       uint32
	FirstAllocBlock uint16
	NextFileNum     uint32
	FreeBlocks      uint16
	VolumeName      string
}

const mdbSize = 2 + 4 + 4 + 2 + 2 + 2 + 2 + 2 + 4 + 4 + 2 + 4 + 2 + (maxVolumeNameLen + 1)

func decodeVolInfo(buf []byte) volInfo {
	var vi volInfo
	vi.Signature = core.BE16(buf[0:2])
	vi.CreateDate = core.BE32(buf[2:6])
	vi.LastBackup = core.BE32(buf[6:10])
	vi.Attributes = core.BE16(buf[10:12])
	vi.NumberOfFiles = core.BE16(buf[12:14])
	vi.DirSt = core.BE16(buf[14:16])
	vi.BlLen = core.BE16(buf[16:18])
	vi.NumAllocBlocks = core.BE16(buf[18:20])
	vi.AllocBlockSize = core.BE32(buf[20:24])
	vi.ClumpSize = core.BE32(buf[24:28])
	vi.FirstAllocBlock = core.BE16(buf[28:30])
	vi.NextFileNum = core.BE32(buf[30:34])
	vi.FreeBlocks = core.BE16(buf[34:36])
	vi.VolumeName = decodePascalString(buf[36 : 36+maxVolumeNameLen+1])
	return vi
}

func encodeVolInfo(vi volInfo) []byte {
	buf := make([]byte, mdbSize)
	core.PutBE16(buf[0:2], vi.Signature)
	core.PutBE32(buf[2:6], vi.CreateDate)
	core.PutBE32(buf[6:10], vi.LastBackup)
	core.PutBE16(buf[10:12], vi.Attributes)
	core.PutBE16(buf[12:14], vi.NumberOfFiles)
	core.PutBE16(buf[14:16], vi.DirSt)
	core.PutBE16(buf[16:18], vi.BlLen)
	core.PutBE16(buf[18:20], vi.NumAllocBlocks)
	core.PutBE32(buf[20:24], vi.AllocBlockSize)
	core.PutBE32(buf[24:28], vi.ClumpSize)
	core.PutBE16(buf[28:30], vi.FirstAllocBlock)
	core.PutBE32(buf[30:34], vi.NextFileNum)
	core.PutBE16(buf[34:36], vi.FreeBlocks)
	copy(buf[36:36+maxVolumeNameLen+1], pascalStringBytes(vi.VolumeName, maxVolumeNameLen))
	return buf
}

func macTime(t time.Time) uint32 {
	if t.IsZero() {
		return 0
	}
	return uint32(t.Unix() + macEpochOffset)
}

func unmacTime(v uint32) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(int64(v)-macEpochOffset, 0).UTC()
}

// readBytesAt/writeBytesAt span the 512-byte block grid for byte ranges that
// don't start or end on a block boundary (the MDB, the allocation map, and
// variable-length directory records all do this).
func (v *Volume) readBytesAt(start int64, n int) ([]byte, error) {
	out := make([]byte, n)
	got := 0
	for got < n {
		block := int((start + int64(got)) / logicalBlockSize)
		off := int((start + int64(got)) % logicalBlockSize)
		want := logicalBlockSize - off
		if want > n-got {
			want = n - got
		}
		if err := v.gate.ReadBlock(block, out[got:got+want], off); err != nil {
			return nil, err
		}
		got += want
	}
	return out, nil
}

func (v *Volume) writeBytesAt(start int64, buf []byte) error {
	n := len(buf)
	put := 0
	for put < n {
		block := int((start + int64(put)) / logicalBlockSize)
		off := int((start + int64(put)) % logicalBlockSize)
		want := logicalBlockSize - off
		if want > n-put {
			want = n - put
		}
		chunk := buf[put : put+want]
		if err := v.gate.PrivilegedWrite(func(cs core.ChunkSource) error {
			return cs.WriteBlock(block, chunk, off)
		}); err != nil {
			return err
		}
		put += want
	}
	return nil
}

// decodeAllocMap/encodeAllocMap (de)serialize the packed 12-bit allocation
// map: 2 entries per 3 bytes. Entry values are 0 (free), 1 (end of chain),
// or the next unit's on-disk block number (unit index + 2).
func decodeAllocMap(buf []byte, num int) []uint16 {
	out := make([]uint16, num)
	bi := 0
	for i := 0; i < num; i += 2 {
		b0, b1 := buf[bi], buf[bi+1]
		out[i] = (uint16(b0) << 4) | (uint16(b1) >> 4)
		bi += 2
		if i+1 < num {
			b2 := buf[bi]
			bi++
			out[i+1] = (uint16(b1&0x0f) << 8) | uint16(b2)
		}
	}
	return out
}

func encodeAllocMap(entries []uint16) []byte {
	num := len(entries)
	buf := make([]byte, ((num+1)/2)*3)
	bi := 0
	for i := 0; i < num; i += 2 {
		e0 := entries[i]
		buf[bi] = byte(e0 >> 4)
		if i+1 < num {
			e1 := entries[i+1]
			buf[bi+1] = byte(e0&0x0f) << 4
			buf[bi+1] |= byte(e1 >> 8)
			buf[bi+2] = byte(e1)
			bi += 3
		} else {
			buf[bi+1] = byte(e0&0x0f) << 4
			bi += 2
		}
	}
	return buf[:bi]
}

func allocMapBytes(num int) int { return ((num + 1) / 2) * 3 }

// dirEntry is one decoded fixed-plus-Pascal-string directory record.
type dirEntry struct {
	flags   byte
	version byte
	usrWds  [16]byte
	flNum   uint32
	stBlk   uint16
	lgLen   uint32
	pyLen   uint32
	rStBlk  uint16
	rLgLen  uint32
	rPyLen  uint32
	crDat   uint32
	mdDat   uint32
	name    string
}

func decodeDirEntry(buf []byte) dirEntry {
	var d dirEntry
	d.flags = buf[0]
	d.version = buf[1]
	copy(d.usrWds[:], buf[2:18])
	d.flNum = core.BE32(buf[18:22])
	d.stBlk = core.BE16(buf[22:24])
	d.lgLen = core.BE32(buf[24:28])
	d.pyLen = core.BE32(buf[28:32])
	d.rStBlk = core.BE16(buf[32:34])
	d.rLgLen = core.BE32(buf[34:38])
	d.rPyLen = core.BE32(buf[38:42])
	d.crDat = core.BE32(buf[42:46])
	d.mdDat = core.BE32(buf[46:50])
	d.name = decodePascalString(buf[50:])
	return d
}

// encodedSize is the on-disk size of d's record, padded to an even length.
func (d dirEntry) encodedSize() int {
	n := dirEntryFixedSize + 1 + len(d.name)
	if n%2 != 0 {
		n++
	}
	return n
}

func encodeDirEntry(d dirEntry) []byte {
	size := d.encodedSize()
	buf := make([]byte, size)
	buf[0] = d.flags
	buf[1] = d.version
	copy(buf[2:18], d.usrWds[:])
	core.PutBE32(buf[18:22], d.flNum)
	core.PutBE16(buf[22:24], d.stBlk)
	core.PutBE32(buf[24:28], d.lgLen)
	core.PutBE32(buf[28:32], d.pyLen)
	core.PutBE16(buf[32:34], d.rStBlk)
	core.PutBE32(buf[34:38], d.rLgLen)
	core.PutBE32(buf[38:42], d.rPyLen)
	core.PutBE32(buf[42:46], d.crDat)
	core.PutBE32(buf[46:50], d.mdDat)
	buf[50] = byte(len(d.name))
	copy(buf[51:51+len(d.name)], d.name)
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

// allocUnitBlock returns the absolute 512-byte block number the 0-based
// allocation unit n starts at.
func (v *Volume) allocUnitBlock(n int) int {
	blocksPerUnit := int(v.vi.AllocBlockSize) / logicalBlockSize
	return int(v.vi.DirSt) + int(v.vi.BlLen) + n*blocksPerUnit
}

func (v *Volume) blocksPerAllocUnit() int { return int(v.vi.AllocBlockSize) / logicalBlockSize }

// chainUnits walks a fork's allocation chain starting at startBlock
// (on-disk block number, unit index + 2; 0 means empty fork) and returns
// the 0-based unit indices in order.
func (v *Volume) chainUnits(startBlock uint16) []int {
	if startBlock == 0 {
		return nil
	}
	var units []int
	seen := map[int]bool{}
	idx := int(startBlock)
	for idx != noMoreBlocks {
		u := idx - 2
		if u < 0 || u >= len(v.nativeMap) || seen[u] {
			break
		}
		seen[u] = true
		units = append(units, u)
		idx = int(v.nativeMap[u])
	}
	return units
}

// scanVolume reads the MDB, the allocation map, and every directory record,
// reconciling each file's data/resource fork chains against the native
// allocation map via core.VolumeUsage (§4.3).
func (v *Volume) scanVolume() error {
	v.notes = core.NewNotes()
	v.arena = core.NewArena[Entry]()
	v.dubious = false

	mdbBuf, err := v.readBytesAt(mdbBlock*logicalBlockSize, mdbSize)
	if err != nil {
		return core.WrapError(core.KindIOError, err, "reading MDB")
	}
	vi := decodeVolInfo(mdbBuf)
	if vi.Signature != signature {
		return core.NewError(core.KindDamaged, "bad MFS signature %#x", vi.Signature)
	}
	v.vi = vi

	mapStart := int64(mdbBlock)*logicalBlockSize + mdbSize
	mapBuf, err := v.readBytesAt(mapStart, allocMapBytes(int(vi.NumAllocBlocks)))
	if err != nil {
		return core.WrapError(core.KindIOError, err, "reading allocation map")
	}
	v.nativeMap = decodeAllocMap(mapBuf, int(vi.NumAllocBlocks))

	v.usage = core.NewVolumeUsage(int(vi.NumAllocBlocks), conflictRelay{v})
	v.alloc = core.NewAllocMap(int(vi.NumAllocBlocks), v.usage)

	pos := int64(vi.DirSt) * logicalBlockSize
	dirEnd := pos + int64(vi.BlLen)*logicalBlockSize

	for i := 0; i < int(vi.NumberOfFiles); i++ {
		hdr, err := v.readBytesAt(pos, dirEntryFixedSize+1)
		if err != nil {
			return core.WrapError(core.KindIOError, err, "reading directory entry %d", i)
		}
		nameLen := int(hdr[dirEntryFixedSize])
		full, err := v.readBytesAt(pos, dirEntryFixedSize+1+nameLen)
		if err != nil {
			return core.WrapError(core.KindIOError, err, "reading directory entry %d", i)
		}
		d := decodeDirEntry(full)
		size := d.encodedSize()

		if d.flags&flagUsed != 0 {
			e := Entry{
				FileNum:        d.flNum,
				DataStartBlock: d.stBlk,
				RsrcStartBlock: d.rStBlk,
				UserWords:      d.usrWds,
			}
			e.RawName = []byte(d.name)
			e.CookedName = core.CookMacRoman([]byte(d.name))
			e.DataLength = int64(d.lgLen)
			e.RsrcLength = int64(d.rLgLen)
			e.StorageSize = int64(d.pyLen) + int64(d.rPyLen)
			e.HasRsrcFork = d.rPyLen > 0 || d.rStBlk != 0
			e.CreateTime = unmacTime(d.crDat)
			e.ModifyTime = unmacTime(d.mdDat)
			e.Parent = core.InvalidSlot

			handle := v.arena.Alloc(e)
			ent, _ := v.arena.GetBySlot(handle.Slot)
			ent.Slot = handle.Slot
			ref := slotToRef(ent.Slot)
			for _, u := range v.chainUnits(d.stBlk) {
				v.alloc.MarkByScan(u, ref)
			}
			for _, u := range v.chainUnits(d.rStBlk) {
				v.alloc.MarkByScan(u, ref)
			}
		}

		pos += int64(size)
		if pos+int64(dirEntryFixedSize+2) > dirEnd && i+1 < int(vi.NumberOfFiles) {
			v.notes.Warn("directory entry %d runs past the directory region", i)
		}
	}
	v.dirEnd = dirEnd

	counts := v.usage.Analyze(func(n int) bool { return v.nativeMap[n] != freeBlockMark })
	if counts.IsDubious() {
		v.dubious = true
		v.notes.Warn("volume usage reconciliation found %d conflicts", counts.Conflicts)
	}
	return nil
}
