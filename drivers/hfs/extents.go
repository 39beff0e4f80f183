package hfs

import (
	"github.com/deploymenttheory/go-apple2fs/core"
	"github.com/deploymenttheory/go-apple2fs/drivers/hfs/btree"
)

// extentKey is the extents-overflow tree's key: which fork of which file,
// and the allocation-block offset the first extent in the record's value
// continues from. Grounded on the reference's extKey struct.
type extentKey struct {
	ForkType byte // forkData or forkRsrc
	CNID     uint32
	StartBlk uint16 // logical allocation block this record continues from
}

func encodeExtentKey(k extentKey) []byte {
	b := make([]byte, 7)
	b[0] = k.ForkType
	core.PutBE32(b[1:], k.CNID)
	core.PutBE16(b[5:], k.StartBlk)
	return b
}

func decodeExtentKey(b []byte) extentKey {
	return extentKey{
		ForkType: b[0],
		CNID:     core.BE32(b[1:]),
		StartBlk: core.BE16(b[5:]),
	}
}

func extentKeyCompare(a, b []byte) int {
	ka, kb := decodeExtentKey(a), decodeExtentKey(b)
	switch {
	case ka.CNID != kb.CNID:
		if ka.CNID < kb.CNID {
			return -1
		}
		return 1
	case ka.ForkType != kb.ForkType:
		if ka.ForkType < kb.ForkType {
			return -1
		}
		return 1
	case ka.StartBlk != kb.StartBlk:
		if ka.StartBlk < kb.StartBlk {
			return -1
		}
		return 1
	default:
		return 0
	}
}

func encodeExtentRecord(ext [maxInlineExtents]extentDescriptor) []byte {
	b := make([]byte, 4*maxInlineExtents)
	encodeExtentTriple(b, ext)
	return b
}

func decodeExtentRecord(b []byte) [maxInlineExtents]extentDescriptor {
	return decodeExtentTriple(b)
}

// extentList is the full, in-order list of allocation-block runs backing one
// fork: the first maxInlineExtents runs live inline in the catalog record,
// and any further runs live in the extents-overflow tree keyed by the
// logical block offset where each additional record continues from.
type extentList struct {
	runs []extentDescriptor
}

func (e *extentList) totalBlocks() int {
	n := 0
	for _, r := range e.runs {
		n += int(r.BlockCount)
	}
	return n
}

// blockAt returns the absolute allocation block for logical block index i
// within this fork, or false if i is beyond the current extent list.
func (e *extentList) blockAt(i int) (int, bool) {
	for _, r := range e.runs {
		if i < int(r.BlockCount) {
			return int(r.StartBlock) + i, true
		}
		i -= int(r.BlockCount)
	}
	return 0, false
}

// appendRun coalesces with the final run when it is contiguous, otherwise
// appends a new run. Coalescing keeps small sequential growth (the common
// case for a file being written from empty) from consuming extra extent
// descriptors once the inline triple is full.
func (e *extentList) appendRun(start, count int) {
	if n := len(e.runs); n > 0 {
		last := &e.runs[n-1]
		if int(last.StartBlock)+int(last.BlockCount) == start {
			last.BlockCount += uint16(count)
			return
		}
	}
	e.runs = append(e.runs, extentDescriptor{StartBlock: uint16(start), BlockCount: uint16(count)})
}

// inlineTriple returns the first maxInlineExtents runs padded with zero
// entries, for storage in a catalog file record or the MDB's XT/CT fields.
func (e *extentList) inlineTriple() [maxInlineExtents]extentDescriptor {
	var out [maxInlineExtents]extentDescriptor
	for i := 0; i < maxInlineExtents && i < len(e.runs); i++ {
		out[i] = e.runs[i]
	}
	return out
}

// overflowRecord is one extents-overflow tree record: the key names which
// fork/file/logical-offset it continues from, Value the up-to-3 extents
// starting there.
type overflowRecord struct {
	Key   extentKey
	Value [maxInlineExtents]extentDescriptor
}

// overflowRecords returns the runs beyond the inline triple, grouped into
// extents-overflow records of up to maxInlineExtents runs each, keyed by
// the logical block offset each group continues from.
func (e *extentList) overflowRecords(forkType byte, cnid uint32) []overflowRecord {
	var out []overflowRecord
	if len(e.runs) <= maxInlineExtents {
		return out
	}
	rest := e.runs[maxInlineExtents:]
	logical := 0
	for i := 0; i < maxInlineExtents; i++ {
		logical += int(e.runs[i].BlockCount)
	}
	for i := 0; i < len(rest); i += maxInlineExtents {
		var group [maxInlineExtents]extentDescriptor
		n := copy(group[:], rest[i:])
		out = append(out, overflowRecord{
			Key:   extentKey{ForkType: forkType, CNID: cnid, StartBlk: uint16(logical)},
			Value: group,
		})
		for j := 0; j < n; j++ {
			logical += int(rest[i+j].BlockCount)
		}
	}
	return out
}

func forkTypeByte(fork core.ForkKind) byte {
	if fork == core.RsrcFork {
		return forkRsrc
	}
	return forkData
}

// loadForkExtents builds the full run list for one fork: the inline triple
// plus every extents-overflow record chained from it, returning the
// overflow keys found so a later syncForkOverflow can replace exactly
// those records.
func (v *Volume) loadForkExtents(cnid uint32, fork core.ForkKind, inline [maxInlineExtents]extentDescriptor) (extentList, []extentKey, error) {
	ext := extentList{runs: nonZeroExtents(inline)}
	ft := forkTypeByte(fork)
	logical := ext.totalBlocks()
	var keys []extentKey
	for {
		k := extentKey{ForkType: ft, CNID: cnid, StartBlk: uint16(logical)}
		rec, found, err := v.overflow.Search(encodeExtentKey(k))
		if err != nil {
			return ext, keys, err
		}
		if !found {
			break
		}
		keys = append(keys, k)
		group := decodeExtentRecord(btree.RecordValue(rec))
		added := 0
		for _, g := range group {
			if g.BlockCount == 0 {
				continue
			}
			ext.runs = append(ext.runs, g)
			added += int(g.BlockCount)
		}
		if added == 0 {
			break
		}
		logical += added
	}
	return ext, keys, nil
}

// syncForkOverflow replaces every extents-overflow record in staleKeys with
// fresh ones built from ext's current run list beyond the inline triple.
func (v *Volume) syncForkOverflow(cnid uint32, fork core.ForkKind, ext *extentList, staleKeys []extentKey) error {
	for _, k := range staleKeys {
		if err := v.overflow.Delete(encodeExtentKey(k)); err != nil {
			return err
		}
	}
	ft := forkTypeByte(fork)
	for _, rec := range ext.overflowRecords(ft, cnid) {
		if err := v.overflow.Insert(btree.BuildRecord(encodeExtentKey(rec.Key), encodeExtentRecord(rec.Value))); err != nil {
			return err
		}
	}
	return nil
}
