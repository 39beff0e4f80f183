// Package mfs implements the Macintosh File System driver: the original
// flat (single-directory) Macintosh volume format -- a master directory
// block (MDB) at block 2, a packed 12-bit allocation-block map immediately
// following it, and a flat file directory of variable-length Pascal-string
// records, each file carrying both a data fork and a resource fork (§3
// "MFS"). Grounded on
// _examples/other_examples/f47cfd2d_st3fan-mfs__mfs.go.go, a read-only MFS
// reader, extended here to full read-write per SPEC_FULL.md's supplemented-
// features section.
package mfs

import "github.com/deploymenttheory/go-apple2fs/core"

const (
	logicalBlockSize = 512
	mdbBlock         = 2 // MDB starts at byte offset 1024

	signature = 0xD2D7

	maxFileNameLen   = 31 // excludes the Pascal length byte
	maxVolumeNameLen = 27 // excludes the Pascal length byte

	// dirEntryFixedSize is every byte of a fileDirectoryEntry up to (not
	// including) the Pascal-string Nam field.
	dirEntryFixedSize = 1 + 1 + 16 + 4 + 2 + 4 + 4 + 2 + 4 + 4 + 4 + 4 // 50

	flagUsed = 0x80

	noMoreBlocks  = 1 // allocation-map sentinel: end of a file's block chain
	freeBlockMark = 0 // allocation-map sentinel: block is free

	// macEpochOffset converts a Mac HFS/MFS date (seconds since 1904-01-01)
	// to a Unix timestamp (seconds since 1970-01-01).
	macEpochOffset = 2082844800
)

// Entry is one MFS file: a flat directory record with a data and resource
// fork, each addressed by its own allocation-block chain head.
type Entry struct {
	core.Attrs

	Slot core.EntrySlot

	FileNum uint32

	DataStartBlock uint16
	RsrcStartBlock uint16

	UserWords [16]byte // Finder type/creator/flags, opaque to this driver

	Deleted bool
}

func pascalStringBytes(s string, width int) []byte {
	if len(s) > width {
		s = s[:width]
	}
	b := make([]byte, width+1)
	b[0] = byte(len(s))
	copy(b[1:], s)
	return b
}

func decodePascalString(b []byte) string {
	n := int(b[0])
	if n > len(b)-1 {
		n = len(b) - 1
	}
	return string(b[1 : 1+n])
}
