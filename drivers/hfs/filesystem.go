package hfs

import (
	"github.com/deploymenttheory/go-apple2fs/core"
	"github.com/deploymenttheory/go-apple2fs/drivers/hfs/btree"
)

// Volume is the HFS core.Driver implementation: an MDB, a volume bitmap
// addressing allocation blocks, and two B*-trees addressed through
// treeStore adapters over the MDB's inline catalog/extents-overflow file
// extents.
type Volume struct {
	gate  *core.GatedChunk
	notes *core.Notes

	mdb mdb

	catalogExt  extentList
	overflowExt extentList
	catalog     *catalogTree
	overflow    *btree.Tree

	bitmap []byte // 1 bit per allocation block, MSB-first within each byte

	arena *core.Arena[Entry]
	usage *core.VolumeUsage
	alloc *core.AllocMap

	nextCNID uint32
	dubious  bool
}

// New wraps source as an HFS volume. Requires block addressing.
func New(source core.ChunkSource) (*Volume, error) {
	if !source.HasBlocks() {
		return nil, &core.ErrGeometry{Want: "block-addressed (512 bytes)", Got: "no block addressing"}
	}
	return &Volume{
		gate:  core.NewGatedChunk(source),
		notes: core.NewNotes(),
	}, nil
}

// Gate exposes the volume's GatedChunk for callers constructing a
// core.Filesystem around this driver.
func (v *Volume) Gate() *core.GatedChunk { return v.gate }

func (v *Volume) Characteristics() core.Characteristics {
	return core.Characteristics{
		Name:             "HFS",
		CanWrite:         true,
		IsHierarchical:   true,
		HasResourceForks: true,
		FilenameSyntax:   "Mac-Roman, 1-31 chars, case-insensitive",
		VolumeNameSyntax: "Mac-Roman, 1-27 chars",
		TimestampMinYear: 1904,
		TimestampMaxYear: 2040,
	}
}

func (v *Volume) PrepareFileAccess(deep bool) error {
	return v.scanVolume(deep)
}

func (v *Volume) PrepareRawAccess() error {
	if err := v.Flush(); err != nil {
		return err
	}
	v.arena = nil
	v.usage = nil
	v.alloc = nil
	v.bitmap = nil
	v.catalog = nil
	v.overflow = nil
	return nil
}

// Flush rewrites the bitmap and MDB from current in-memory state.
func (v *Volume) Flush() error {
	if v.bitmap == nil {
		return nil
	}
	if err := v.writeBitmap(); err != nil {
		return err
	}
	v.mdb.FreeBlocks = uint16(v.alloc.FreeCount())
	v.mdb.CTExtents = v.catalogExt.inlineTriple()
	v.mdb.XTExtents = v.overflowExt.inlineTriple()
	return v.writeMDB()
}

func (v *Volume) FreeSpaceBytes() (int64, error) {
	if v.alloc == nil {
		return 0, core.NewError(core.KindInvalidArgument, "volume not in file-access mode")
	}
	return int64(v.alloc.FreeCount()) * int64(v.mdb.AllocBlockSize), nil
}

func (v *Volume) Notes() *core.Notes { return v.notes }
func (v *Volume) IsDubious() bool    { return v.dubious }

// Entries returns every live catalog object the last scan produced.
func (v *Volume) Entries() []*Entry {
	if v.arena == nil {
		return nil
	}
	var out []*Entry
	for i := 0; i < v.arena.Len(); i++ {
		if e, ok := v.arena.GetBySlot(core.EntrySlot(i)); ok && !e.Deleted {
			out = append(out, e)
		}
	}
	return out
}

func (v *Volume) writeMDB() error {
	return v.writeBytesAt(int64(mdbBlock)*logicalBlockSize, encodeMDB(v.mdb))
}

func (v *Volume) bitmapByteLen() int { return (int(v.mdb.NumAllocBlocks) + 7) / 8 }

func (v *Volume) writeBitmap() error {
	start := int64(v.mdb.VBMSt) * logicalBlockSize
	return v.writeBytesAt(start, v.bitmap)
}

func (v *Volume) readBitmap() error {
	start := int64(v.mdb.VBMSt) * logicalBlockSize
	buf, err := v.readBytesAt(start, v.bitmapByteLen())
	if err != nil {
		return err
	}
	v.bitmap = buf
	return nil
}

func (v *Volume) bitmapGet(n int) bool {
	return v.bitmap[n/8]&(0x80>>(uint(n)%8)) != 0
}

func (v *Volume) bitmapSet(n int, used bool) {
	mask := byte(0x80 >> (uint(n) % 8))
	if used {
		v.bitmap[n/8] |= mask
	} else {
		v.bitmap[n/8] &^= mask
	}
}

// growExtentFile allocates n more allocation blocks for one of the catalog
// or extents-overflow files, owned by core.SystemRef, returning a run per
// allocated block so the caller's treeStore.GrowBy can coalesce it into the
// file's inline extent list. Fails once growth would need more than
// maxInlineExtents runs: neither system file supports an overflow-tree
// entry of its own (§4.5 notes the extents-overflow tree itself cannot
// overflow; this driver applies the same bound to the catalog file).
func (v *Volume) growExtentFile(ext *extentList, n int) ([]extentDescriptor, error) {
	allocated := make([]int, 0, n)
	for i := 0; i < n; i++ {
		u, err := v.alloc.Allocate(core.SystemRef)
		if err != nil {
			for _, b := range allocated {
				v.alloc.Release(b)
			}
			return nil, err
		}
		allocated = append(allocated, u)
		v.bitmapSet(u, true)
	}

	sim := append([]extentDescriptor{}, ext.runs...)
	out := make([]extentDescriptor, 0, n)
	for _, b := range allocated {
		r := extentDescriptor{StartBlock: uint16(b), BlockCount: 1}
		out = append(out, r)
		if m := len(sim); m > 0 && int(sim[m-1].StartBlock)+int(sim[m-1].BlockCount) == b {
			sim[m-1].BlockCount++
		} else {
			sim = append(sim, r)
		}
	}
	if len(sim) > maxInlineExtents {
		for _, b := range allocated {
			v.alloc.Release(b)
			v.bitmapSet(b, false)
		}
		return nil, core.NewError(core.KindDiskFull, "catalog/extents-overflow file exhausted its inline extent descriptors")
	}
	return out, nil
}

// allocateRef allocates n allocation blocks for a user file's fork, owned
// by ref, returning the new runs to append.
func (v *Volume) allocateRef(ref core.FileRef, n int) ([]extentDescriptor, error) {
	out := make([]extentDescriptor, 0, n)
	for i := 0; i < n; i++ {
		u, err := v.alloc.Allocate(ref)
		if err != nil {
			return out, err
		}
		v.bitmapSet(u, true)
		if m := len(out); m > 0 && int(out[m-1].StartBlock)+int(out[m-1].BlockCount) == u {
			out[m-1].BlockCount++
		} else {
			out = append(out, extentDescriptor{StartBlock: uint16(u), BlockCount: 1})
		}
	}
	return out, nil
}

func (v *Volume) releaseExtents(list extentList) {
	for _, r := range list.runs {
		for b := int(r.StartBlock); b < int(r.StartBlock)+int(r.BlockCount); b++ {
			v.alloc.Release(b)
			v.bitmapSet(b, false)
		}
	}
}

func (v *Volume) conflictRelay() core.ConflictObserver { return hfsConflictRelay{v} }

type hfsConflictRelay struct{ v *Volume }

func (r hfsConflictRelay) Notify(block int, self, other core.FileRef) {
	if self == core.SystemRef || self == core.NoRef {
		return
	}
	if e := r.v.entryByRef(self); e != nil {
		e.AddConflict(block, other)
	}
}

func (v *Volume) entryByRef(ref core.FileRef) *Entry {
	slot := core.EntrySlot(ref - 1)
	e, ok := v.arena.GetBySlot(slot)
	if !ok {
		return nil
	}
	return e
}

func slotToRef(s core.EntrySlot) core.FileRef { return core.FileRef(s) + 1 }

// Format zero-fills the image and writes a fresh MDB, a bitmap in which only
// the catalog and extents-overflow files' blocks are in use, and empty
// catalog and extents-overflow trees with just a root directory.
// Allocation blocks are fixed at one logical block (512 bytes) each,
// favoring simplicity over real clump-size heuristics, matching the
// precedent set by the other allocation-unit drivers in this module.
func (v *Volume) Format(volumeName string, volumeNumber int, bootable bool) error {
	src := v.gate.Source()
	total := core.BlockCount(src)
	if total < 32 {
		return &core.ErrGeometry{Want: "at least 32 blocks", Got: "too few blocks"}
	}
	blank := core.ZeroFill(logicalBlockSize)
	if err := v.gate.PrivilegedWrite(func(cs core.ChunkSource) error {
		for b := 0; b < total; b++ {
			if err := cs.WriteBlock(b, blank, 0); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}

	vbmSt := mdbBlock + 1
	bitmapBlocks := ((total/8 + logicalBlockSize - 1) / logicalBlockSize)
	if bitmapBlocks < 1 {
		bitmapBlocks = 1
	}
	allocSt := vbmSt + bitmapBlocks
	numAlloc := total - allocSt - 2 // reserve the trailing alternate MDB + boot pair
	if numAlloc < 8 {
		return &core.ErrGeometry{Want: "room for allocation blocks past the bitmap", Got: "too few"}
	}

	v.mdb = mdb{
		Signature:      signature,
		CreateDate:     0,
		ModifyDate:     0,
		VBMSt:          uint16(vbmSt),
		AllocBlockSt:   uint16(allocSt),
		NumAllocBlocks: uint16(numAlloc),
		AllocBlockSize: logicalBlockSize,
		ClumpSize:      logicalBlockSize,
		NextCNID:       firstUserCNID,
		FreeBlocks:     uint16(numAlloc),
		VolumeName:     volumeName,
		NumRootDirs:    1,
	}

	v.bitmap = make([]byte, (numAlloc+7)/8)
	v.usage = core.NewVolumeUsage(numAlloc, hfsConflictRelay{v})
	v.alloc = core.NewAllocMap(numAlloc, v.usage)

	v.catalogExt = extentList{}
	v.overflowExt = extentList{}

	catalogStore := newTreeStore(v.gate, allocSt, logicalBlockSize, &v.catalogExt, func(n int) ([]extentDescriptor, error) {
		return v.growExtentFile(&v.catalogExt, n)
	})
	overflowStore := newTreeStore(v.gate, allocSt, logicalBlockSize, &v.overflowExt, func(n int) ([]extentDescriptor, error) {
		return v.growExtentFile(&v.overflowExt, n)
	})
	v.catalog = newCatalogTree(catalogStore)
	if err := v.catalog.format(); err != nil {
		return err
	}
	v.overflow = btree.New(overflowStore, extentKeyCompare)
	if err := v.overflow.Format(7); err != nil {
		return err
	}

	v.nextCNID = firstUserCNID
	if err := v.catalog.insertDir(rootParentCNID, volumeName, catalogDirRecord{CNID: rootDirCNID}); err != nil {
		return err
	}
	v.mdb.NextCNID = v.nextCNID

	v.arena = core.NewArena[Entry]()

	if err := v.writeBitmap(); err != nil {
		return err
	}
	v.mdb.CTExtents = v.catalogExt.inlineTriple()
	v.mdb.XTExtents = v.overflowExt.inlineTriple()
	return v.writeMDB()
}

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

var _ core.Driver = (*Volume)(nil)
