package hfs

import (
	"time"

	"github.com/deploymenttheory/go-apple2fs/core"
)

// mdb is the decoded Master Directory Block, big-endian, grounded on the
// field offsets read by the reference's hfs.New (drNmAlBlks at 0x12,
// drAlBlkSiz at 0x14, drAlBlSt at 0x1c, drXTExtRec at 0x86, drCTExtRec at
// 0x96).
type mdb struct {
	Signature      uint16
	CreateDate     uint32
	ModifyDate     uint32
	Attributes     uint16
	NumberOfFiles  uint16 // root directory's file count
	VBMSt          uint16 // first block of the volume bitmap
	AllocPtr       uint16 // allocation search hint
	NumAllocBlocks uint16
	AllocBlockSize uint32
	ClumpSize      uint32
	AllocBlockSt   uint16 // first 512-byte block of allocation block 0
	NextCNID       uint32
	FreeBlocks     uint16
	VolumeName     string
	VolBackupDate  uint32
	VolSeqNum      uint16
	WriteCount     uint32
	XTClumpSize    uint32
	CTClumpSize    uint32
	NumRootDirs    uint16
	FileCount      uint32
	DirCount       uint32
	FinderInfo     [32]byte
	XTExtents      [maxInlineExtents]extentDescriptor
	XTFileSize     uint32
	CTExtents      [maxInlineExtents]extentDescriptor
	CTFileSize     uint32
}

const mdbSize = 162 // through drCTFlSize+drCTExtRec, rounded to the fields we keep

func decodeMDB(buf []byte) mdb {
	var m mdb
	m.Signature = core.BE16(buf[0x00:])
	m.CreateDate = core.BE32(buf[0x02:])
	m.ModifyDate = core.BE32(buf[0x06:])
	m.Attributes = core.BE16(buf[0x0a:])
	m.NumberOfFiles = core.BE16(buf[0x0c:])
	m.VBMSt = core.BE16(buf[0x0e:])
	m.AllocPtr = core.BE16(buf[0x10:])
	m.NumAllocBlocks = core.BE16(buf[0x12:])
	m.AllocBlockSize = core.BE32(buf[0x14:])
	m.ClumpSize = core.BE32(buf[0x18:])
	m.AllocBlockSt = core.BE16(buf[0x1c:])
	m.NextCNID = core.BE32(buf[0x1e:])
	m.FreeBlocks = core.BE16(buf[0x22:])
	m.VolumeName = decodePascalString(buf[0x24 : 0x24+maxVolumeNameLen+1])
	m.VolBackupDate = core.BE32(buf[0x40:])
	m.VolSeqNum = core.BE16(buf[0x44:])
	m.WriteCount = core.BE32(buf[0x46:])
	m.XTClumpSize = core.BE32(buf[0x4a:])
	m.CTClumpSize = core.BE32(buf[0x4e:])
	m.NumRootDirs = core.BE16(buf[0x52:])
	m.FileCount = core.BE32(buf[0x54:])
	m.DirCount = core.BE32(buf[0x58:])
	copy(m.FinderInfo[:], buf[0x5c:0x7c])
	m.XTExtents = decodeExtentTriple(buf[0x86:])
	m.XTFileSize = core.BE32(buf[0x82:]) // kept for completeness, derived from extents
	m.CTExtents = decodeExtentTriple(buf[0x96:])
	return m
}

func encodeMDB(m mdb) []byte {
	buf := make([]byte, logicalBlockSize)
	core.PutBE16(buf[0x00:], m.Signature)
	core.PutBE32(buf[0x02:], m.CreateDate)
	core.PutBE32(buf[0x06:], m.ModifyDate)
	core.PutBE16(buf[0x0a:], m.Attributes)
	core.PutBE16(buf[0x0c:], m.NumberOfFiles)
	core.PutBE16(buf[0x0e:], m.VBMSt)
	core.PutBE16(buf[0x10:], m.AllocPtr)
	core.PutBE16(buf[0x12:], m.NumAllocBlocks)
	core.PutBE32(buf[0x14:], m.AllocBlockSize)
	core.PutBE32(buf[0x18:], m.ClumpSize)
	core.PutBE16(buf[0x1c:], m.AllocBlockSt)
	core.PutBE32(buf[0x1e:], m.NextCNID)
	core.PutBE16(buf[0x22:], m.FreeBlocks)
	copy(buf[0x24:0x24+maxVolumeNameLen+1], pascalStringBytes(m.VolumeName, maxVolumeNameLen))
	core.PutBE32(buf[0x40:], m.VolBackupDate)
	core.PutBE16(buf[0x44:], m.VolSeqNum)
	core.PutBE32(buf[0x46:], m.WriteCount)
	core.PutBE32(buf[0x4a:], m.XTClumpSize)
	core.PutBE32(buf[0x4e:], m.CTClumpSize)
	core.PutBE16(buf[0x52:], m.NumRootDirs)
	core.PutBE32(buf[0x54:], m.FileCount)
	core.PutBE32(buf[0x58:], m.DirCount)
	copy(buf[0x5c:0x7c], m.FinderInfo[:])
	core.PutBE32(buf[0x82:], m.XTFileSize)
	encodeExtentTriple(buf[0x86:], m.XTExtents)
	encodeExtentTriple(buf[0x96:], m.CTExtents)
	return buf
}

func decodeExtentTriple(b []byte) [maxInlineExtents]extentDescriptor {
	var out [maxInlineExtents]extentDescriptor
	for i := 0; i < maxInlineExtents; i++ {
		out[i] = extentDescriptor{
			StartBlock: core.BE16(b[4*i:]),
			BlockCount: core.BE16(b[4*i+2:]),
		}
	}
	return out
}

func encodeExtentTriple(b []byte, ext [maxInlineExtents]extentDescriptor) {
	for i := 0; i < maxInlineExtents; i++ {
		core.PutBE16(b[4*i:], ext[i].StartBlock)
		core.PutBE16(b[4*i+2:], ext[i].BlockCount)
	}
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
