// Package core implements the filesystem-independent substrate shared by every
// disk-image driver in this module: gated raw/file-mode access, the diagnostic
// notes log, the volume-usage reconciler, the generic allocation-bitmap
// overlay, and the FileEntry arena. Concrete per-format drivers live under
// drivers/ and build on top of these types the way the on-disk format
// dictates.
package core

import "fmt"

// FileOrder tags the sector-interleave skew a container applies to the raw
// bytes it hands back. The core never decodes interleave itself -- that is
// an image-container codec concern -- but drivers consult it when a format's
// on-disk layout assumes a particular physical ordering (DOS 3.3's T/S lists,
// for instance, assume DOS-order sectors).
type FileOrder int

const (
	// FileOrderUnknown means the container could not determine an ordering.
	FileOrderUnknown FileOrder = iota
	// FileOrderDOS is 16-sector .dsk/.do order (DOS 3.3 physical order).
	FileOrderDOS
	// FileOrderProDOS is .po order, i.e. ProDOS block order.
	FileOrderProDOS
	// FileOrderCPM is the CP/M skew used on 5.25" Apple CP/M disks.
	FileOrderCPM
)

func (o FileOrder) String() string {
	switch o {
	case FileOrderDOS:
		return "dos"
	case FileOrderProDOS:
		return "prodos"
	case FileOrderCPM:
		return "cpm"
	default:
		return "unknown"
	}
}

// ChunkSource is the abstract block/sector device every driver is built on.
// Concrete implementations (raw .dsk/.po files, nibble images, compressed
// wrappers, partition members) are external collaborators; the core only
// depends on this contract. A reference flat-file implementation lives in
// devices/rawfile for use by tests and the demo CLI.
type ChunkSource interface {
	// FormattedLength is the usable size of the image in bytes.
	FormattedLength() int64

	// HasBlocks reports whether block-addressed access (512-byte blocks,
	// ProDOS/Pascal/HFS/MFS style) is available.
	HasBlocks() bool

	// HasSectors reports whether track/sector addressed access (DOS 3.3/CP/M
	// style, 256-byte sectors) is available.
	HasSectors() bool

	// FileOrder reports the sector-interleave skew the container applies.
	FileOrder() FileOrder

	// IsReadOnly reports whether the underlying container forbids writes.
	IsReadOnly() bool

	// NumBlocks is the number of 512-byte blocks, or 0 if HasBlocks is false.
	NumBlocks() int

	// NumTracks and NumSectorsPerTrack describe sector geometry, or are 0 if
	// HasSectors is false.
	NumTracks() int
	NumSectorsPerTrack() int

	// ReadBlock reads exactly len(buf) bytes from block n starting at off.
	ReadBlock(n int, buf []byte, off int) error
	// WriteBlock writes exactly len(buf) bytes to block n starting at off.
	WriteBlock(n int, buf []byte, off int) error

	// ReadSector reads exactly len(buf) bytes from (track, sector) at off.
	ReadSector(track, sector int, buf []byte, off int) error
	// WriteSector writes exactly len(buf) bytes to (track, sector) at off.
	WriteSector(track, sector int, buf []byte, off int) error

	// ReadSectorSwapped is like ReadSector but applies CP/M half-block
	// (nibble) swapping: the high and low nibble of every byte read are
	// exchanged relative to a plain DOS-order read.
	ReadSectorSwapped(track, sector int, buf []byte, off int) error
	WriteSectorSwapped(track, sector int, buf []byte, off int) error
}

// BlockCount returns n.HasBlocks() ? n.NumBlocks() : derived from sectors,
// a convenience used by drivers that need a block count regardless of which
// addressing mode the container natively exposes.
func BlockCount(cs ChunkSource) int {
	if cs.HasBlocks() {
		return cs.NumBlocks()
	}
	if cs.HasSectors() {
		total := cs.NumTracks() * cs.NumSectorsPerTrack()
		return total / 2 // two 256-byte sectors per 512-byte block
	}
	return 0
}

// ErrGeometry is returned by drivers when a ChunkSource's geometry cannot
// satisfy the format's requirements.
type ErrGeometry struct {
	Want string
	Got  string
}

func (e *ErrGeometry) Error() string {
	return fmt.Sprintf("unsupported geometry: want %s, got %s", e.Want, e.Got)
}
