// Package dos33 implements the DOS 3.2/3.3 filesystem driver: a VTOC-rooted,
// linked-catalog, linked-track/sector-list format over 256-byte sectors.
// Layout is grounded in §3 of the specification; the scan/allocate/write
// shape follows the same catalog-scanner + allocmap + file-descriptor
// pattern as every other driver in this module.
package dos33

import (
	"github.com/deploymenttheory/go-apple2fs/core"
)

const (
	sectorSize     = 256
	vtocTrack      = 17
	entriesPerCat  = 7
	catEntrySize   = 35
	tsPairsPerList = 122
	tsListHeader   = 0x0C
)

// FileType is the DOS 3.3 file-type nibble stored in a catalog entry.
type FileType byte

const (
	TypeText    FileType = 0x00
	TypeInteger FileType = 0x01
	TypeApplesoft FileType = 0x02
	TypeBinary  FileType = 0x04
	TypeSpecial FileType = 0x08
	TypeReloc   FileType = 0x10
	TypeNewA    FileType = 0x20
	TypeNewB    FileType = 0x40
)

func (t FileType) String() string {
	switch t & 0x7F {
	case TypeText:
		return "T"
	case TypeInteger:
		return "I"
	case TypeApplesoft:
		return "A"
	case TypeBinary:
		return "B"
	case TypeSpecial:
		return "S"
	case TypeReloc:
		return "R"
	case TypeNewA:
		return "A (new)"
	case TypeNewB:
		return "B (new)"
	default:
		return "?"
	}
}

// IsLocked reports whether the high bit (file-locked flag) is set.
func (t FileType) IsLocked() bool { return t&0x80 != 0 }

// TrackSector is a (track, sector) pair as stored on disk.
type TrackSector struct {
	Track, Sector byte
}

// IsZero reports whether both components are zero (unused/sparse marker).
func (ts TrackSector) IsZero() bool { return ts.Track == 0 && ts.Sector == 0 }

// Entry is the in-memory mirror of a DOS 3.3 catalog entry (§3).
type Entry struct {
	core.Attrs

	Slot core.EntrySlot

	FirstTSList TrackSector
	Type        FileType
	SectorCount int

	Deleted     bool
	DeletedFromTrack byte // original first-TS-list track, preserved on delete

	// Data blocks this entry's T/S lists (and the lists themselves) claim,
	// recorded at scan time for VolumeUsage reconciliation.
	ClaimedSectors []int

	// DataUnits is the file's data sectors in logical order, one allocation
	// unit per entry; a sparse/never-written slot within the final T/S list
	// is recorded as -1. FileDescriptor indexes into this for random access.
	DataUnits []int

	// ListUnits is the file's T/S list sectors in chain order, tracked
	// separately from DataUnits so writeTSListChain can reuse them instead
	// of reallocating on every flush.
	ListUnits []int
}
