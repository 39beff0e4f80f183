// Package prodos implements the ProDOS/SOS filesystem driver: volume and
// subdirectory blocks, seedling/sapling/tree storage-type expansion, master/
// index block caching, and the bitmap-backed AllocMap (§3/§4 "ProDOS").
package prodos

import "github.com/deploymenttheory/go-apple2fs/core"

const (
	blockSize       = 512
	dirEntryLen     = 0x27 // 39 bytes per directory entry
	entriesPerBlock = 13
	maxNameLen      = 15

	// pointersPerIndex is the number of 2-byte block pointers an index
	// block holds, stored as parallel low-byte/high-byte arrays across the
	// 512-byte block (the classic ProDOS index-block encoding).
	pointersPerIndex = 256

	maxSaplingBlocks = pointersPerIndex         // sapling -> tree at block index >= 256
	maxMasterIndices = 128                      // tree master index slot count
	maxTreeBlocks    = maxMasterIndices * pointersPerIndex

	maxDirDepth = 16 // cyclic-subdirectory guard (§9 "cap recursion at a fixed depth bound")
)

// StorageType is the high nibble of a directory entry's
// storage_type_and_name_length byte.
type StorageType byte

const (
	StorageDeleted   StorageType = 0x0
	StorageSeedling  StorageType = 0x1
	StorageSapling   StorageType = 0x2
	StorageTree      StorageType = 0x3
	StorageExtended  StorageType = 0x5
	StorageDirectory StorageType = 0xD
	StorageSubdirHdr StorageType = 0xE
	StorageVolumeHdr StorageType = 0xF
)

// Entry is a ProDOS directory entry plus the native metadata Attrs doesn't
// carry: storage type, key block, and cached index-block contents.
type Entry struct {
	core.Attrs

	Slot core.EntrySlot

	StorageType StorageType
	KeyBlock    int
	BlocksUsed  int

	// HeaderBlock is the directory block (volume or subdir) this entry's
	// 39-byte record lives in, and Index its position within that block,
	// needed to write the entry back.
	HeaderBlock int
	Index       int

	// DataBlocks is the logical block order for seedling/sapling/tree
	// files, -1 marking a sparse hole (§3 "full-block writes of all zeros
	// store as a sparse hole, except block 0").
	DataBlocks []int

	// IndexBlocks caches the physical block numbers of the sapling's single
	// index block, or the tree's per-128-slot index blocks (by master
	// slot), so Flush can rewrite only what changed.
	IndexBlocks []int
	MasterBlock int // 0 if not a Tree file

	Deleted bool
}

func padName(name string, width int) []byte {
	b := make([]byte, width)
	copy(b, []byte(name))
	return b
}
