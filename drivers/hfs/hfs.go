// Package hfs implements the Hierarchical File System driver: a master
// directory block (MDB) at block 2, a volume bitmap, and two B*-trees (§3
// "HFS", §4.5) -- a catalog tree keyed by (parent CNID, name) holding
// directory/file/thread records, and an extents-overflow tree keyed by
// (fork, CNID, start block) holding the extent descriptors that don't fit
// in a file's first three inline extents. Grounded on the MDB/catalog
// record field layout read by
// _examples/elliotnunn-BeHierarchic/internal/hfs/hfs.go (a read-only HFS
// reader), with the B*-tree node/search walk from that package's btree.go
// generalized in ./btree into mutation (node splits on insert; no merging
// of underfull nodes on delete).
package hfs

import "github.com/deploymenttheory/go-apple2fs/core"

const (
	logicalBlockSize = 512
	mdbBlock         = 2 // MDB starts at byte offset 1024

	signature = 0x4244 // 'BD'

	rootParentCNID = 1 // parent-of-root sentinel
	rootDirCNID    = 2
	extentsFileCNID = 3
	catalogFileCNID = 4
	firstUserCNID   = 16

	maxCatalogNameLen = 31
	maxVolumeNameLen  = 27

	forkData = 0x00
	forkRsrc = 0xFF

	// record value kinds, stored as the first byte after the catalog key
	cdrDirRec    = 1
	cdrFilRec    = 2
	cdrThdRec    = 3 // directory thread
	cdrFThdRec   = 4 // file thread

	macEpochOffset = 2082844800

	maxInlineExtents = 3
)

// Entry is one HFS catalog object: a directory or a file, addressed by its
// CNID and located in the catalog tree under (Parent, RawName).
type Entry struct {
	core.Attrs

	Slot core.EntrySlot
	CNID uint32

	DataExtents [maxInlineExtents]extentDescriptor
	RsrcExtents [maxInlineExtents]extentDescriptor

	FinderInfo [16]byte

	Deleted bool
}

type extentDescriptor struct {
	StartBlock uint16
	BlockCount uint16
}

func pascalStringBytes(s string, width int) []byte {
	if len(s) > width {
		s = s[:width]
	}
	b := make([]byte, 1+len(s))
	b[0] = byte(len(s))
	copy(b[1:], s)
	return b
}

func decodePascalString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	n := int(b[0])
	if n > len(b)-1 {
		n = len(b) - 1
	}
	return string(b[1 : 1+n])
}

// macRomanUpper folds a byte to its uppercase form for HFS's case-insensitive
// catalog ordering. This only folds the ASCII range; true HFS ordering also
// case-folds accented Mac OS Roman letters via a relational-index table,
// which this driver does not reproduce (documented simplification).
func macRomanUpper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - 'a' + 'A'
	}
	return b
}
