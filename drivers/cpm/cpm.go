// Package cpm implements the CP/M v2.2 (Apple II flavor) filesystem driver:
// a bitmap-less, extent-table directory (32-byte records, user-area byte,
// chained `(name, user, extent_number)` triples), a synthesized free map
// built purely from the extents the scan finds (there is no on-disk
// bitmap), and the reserved-track convention hybrid DOS/CP/M disks use to
// keep CP/M's allocator off a coexisting DOS 3.3 volume (§3/§4 "CP/M").
package cpm

import "github.com/deploymenttheory/go-apple2fs/core"

const (
	sectorSize      = 256
	sectorsPerTrack = 16
	blockSize       = sectorSize * 2 // 1 CP/M allocation block = 2 physical sectors
	entrySize       = 32
	dirBlocksCount   = 2 // 1 KB directory = 32 entries
	entriesPerDir    = dirBlocksCount * blockSize / entrySize
	ptrsPerExtent    = 16 // 8-bit block pointers: disks with <=255 total blocks
	recordSize       = 128
	recordsPerExtent = ptrsPerExtent * blockSize / recordSize
	maxFileBytes    = 8 << 20 // 8 MB (§4.4 "Max file length")

	statusDeleted  byte = 0xE5
	statusReserved byte = 0x1F
	reservedSlot   byte = 0xFF // sentinel for an unused track slot in a 0x1F entry

	maxUserNumber = 0x0F
	maxNameLen    = 8
	maxTypeLen    = 3
)

// Entry is one CP/M file: the union of every directory extent sharing the
// same (user, name, type), with their allocation-block pointers
// concatenated in extent order.
type Entry struct {
	core.Attrs

	Slot core.EntrySlot

	User     int
	ReadOnly bool
	System   bool
	Archive  bool

	// typeSuffix is the 3-char CP/M file type (e.g. "TXT", "COM"), kept
	// apart from Attrs.FileType (which this driver leaves 0: CP/M typing is
	// purely the name suffix, not a byte code like ProDOS/DOS).
	typeSuffix string

	// Blocks holds one allocation-block number per occupied unit, across
	// every extent this file owns, in logical order; -1 marks a pointer
	// slot an extent left zero (a sparse hole within the last extent).
	Blocks []int

	// extentSlots names the directory slot each contiguous run of
	// ptrsPerExtent blocks was decoded from, so writes can find where to
	// persist a growing file's next extent.
	extentSlots []int

	LastRecordCount int // RC field of the file's highest-numbered extent

	Deleted bool
}

func padCPMString(name string, width int) []byte {
	b := make([]byte, width)
	for i := range b {
		b[i] = ' '
	}
	copy(b, []byte(name))
	return b
}
