// Package pascal implements the Apple Pascal filesystem driver: a
// single-region contiguous-extent directory (no free list -- gaps between
// sorted entries and the tail of the volume are the only free space),
// 26-byte directory entries, FileDescriptor, and Prober (§3 "Apple Pascal").
package pascal

import "github.com/deploymenttheory/go-apple2fs/core"

const (
	blockSize   = 512
	dirStart    = 2 // directory occupies blocks [dirStart, dirEnd)
	dirBlocks   = 4
	dirEnd      = dirStart + dirBlocks
	entrySize   = 26
	maxEntries  = dirBlocks * blockSize / entrySize
	maxNameLen  = 15
)

// FileKind is the Pascal file-kind byte (offset 4 of a directory entry).
// Kind 0 on any entry past index 0 marks the slot unused.
type FileKind byte

const (
	KindUnused  FileKind = 0x00
	KindVolHdr  FileKind = 0x00 // same byte value, disambiguated by slot index
	KindXdsk    FileKind = 0x01
	KindCode    FileKind = 0x02
	KindText    FileKind = 0x03
	KindInfo    FileKind = 0x04
	KindData    FileKind = 0x05
	KindGraf    FileKind = 0x06
	KindFoto    FileKind = 0x07
	KindSecureD FileKind = 0x08
)

// Entry is a Pascal directory entry. Files are always a single contiguous
// extent [FirstBlock, NextBlock); there is no index structure to cache.
type Entry struct {
	core.Attrs

	Slot  core.EntrySlot
	Index int // directory slot (1-based; 0 is the volume header)

	FirstBlock int
	NextBlock  int // one past the last allocated block
	Kind       FileKind

	LastBlockBytes int // bytes used within the final block

	Deleted bool
}

func padPascalString(name string, width int) []byte {
	b := make([]byte, width)
	copy(b, []byte(name))
	return b
}
