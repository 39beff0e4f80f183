package btree

import (
	"github.com/deploymenttheory/go-apple2fs/core"
)

const maxDepthGuard = 64 // §4.5: depth-bounded search, exceeding raises a cyclical-tree error

type pathEntry struct {
	nodeIdx int
	recIdx  int // index into that node's records of the child we descended through
}

// findRecord returns (found, recNum) per §4.5: recNum is the largest index
// whose key is less than key, or -1 if every record's key is larger.
func (t *Tree) findRecord(records [][]byte, key []byte) (bool, int) {
	recNum := -1
	for i, r := range records {
		c := t.compare(RecordKey(r), key)
		if c == 0 {
			return true, i
		}
		if c < 0 {
			recNum = i
		} else {
			break
		}
	}
	return false, recNum
}

func firstKey(records [][]byte) []byte {
	if len(records) == 0 {
		return nil
	}
	return RecordKey(records[0])
}

func insertSorted(records [][]byte, pos int, rec []byte) [][]byte {
	out := make([][]byte, 0, len(records)+1)
	out = append(out, records[:pos]...)
	out = append(out, rec)
	out = append(out, records[pos:]...)
	return out
}

func removeAt(records [][]byte, pos int) [][]byte {
	out := make([][]byte, 0, len(records)-1)
	out = append(out, records[:pos]...)
	out = append(out, records[pos+1:]...)
	return out
}

// descend walks from root to the leaf that should contain key, returning
// the index-node path taken.
func (t *Tree) descend(hdr *header, key []byte) ([]pathEntry, int, error) {
	if hdr.root == 0 {
		return nil, 0, core.NewError(core.KindInvalidArgument, "empty tree")
	}
	idx := int(hdr.root)
	var path []pathEntry
	for depth := 0; ; depth++ {
		if depth > maxDepthGuard {
			return nil, 0, core.NewError(core.KindDamaged, "cyclical b-tree")
		}
		n, err := t.loadNode(idx)
		if err != nil {
			return nil, 0, err
		}
		if n.kind == KindLeaf {
			return path, idx, nil
		}
		_, recNum := t.findRecord(n.records, key)
		childPos := recNum
		if childPos < 0 {
			childPos = 0
		}
		path = append(path, pathEntry{nodeIdx: idx, recIdx: childPos})
		idx = childOf(n.records[childPos])
	}
}

// Search looks up the record exactly matching key.
func (t *Tree) Search(key []byte) ([]byte, bool, error) {
	hdr, err := t.readHeader()
	if err != nil {
		return nil, false, err
	}
	if hdr.root == 0 {
		return nil, false, nil
	}
	_, leafIdx, err := t.descend(hdr, key)
	if err != nil {
		return nil, false, err
	}
	leaf, err := t.loadNode(leafIdx)
	if err != nil {
		return nil, false, err
	}
	found, pos := t.findRecord(leaf.records, key)
	if !found {
		return nil, false, nil
	}
	return leaf.records[pos], true, nil
}

// fitsInNode reports whether records would encode into one 512-byte node.
func fitsInNode(kind byte, height byte, fLink, bLink uint32, records [][]byte) bool {
	n := &node{kind: kind, height: height, fLink: fLink, bLink: bLink, records: records}
	_, err := n.encode()
	return err == nil
}

// splitRecords divides records into two halves, each guaranteed to fit in a
// node on its own, splitting by accumulated byte size rather than a blind
// record-count midpoint.
func splitRecords(records [][]byte) ([][]byte, [][]byte) {
	total := 0
	for _, r := range records {
		total += recordSpace(r)
	}
	half := total / 2
	acc, cut := 0, 0
	for i, r := range records {
		acc += recordSpace(r)
		cut = i + 1
		if acc >= half {
			break
		}
	}
	if cut == 0 {
		cut = 1
	}
	if cut == len(records) {
		cut = len(records) - 1
	}
	left := append([][]byte(nil), records[:cut]...)
	right := append([][]byte(nil), records[cut:]...)
	return left, right
}

// Insert adds rec, splitting and propagating up to the root as needed.
func (t *Tree) Insert(rec []byte) error {
	key := RecordKey(rec)
	hdr, err := t.readHeader()
	if err != nil {
		return err
	}

	if hdr.root == 0 {
		idx, err := t.allocateNode(hdr)
		if err != nil {
			return err
		}
		if err := t.storeNode(idx, &node{kind: KindLeaf, height: 1, records: [][]byte{rec}}); err != nil {
			return err
		}
		hdr.root = uint32(idx)
		hdr.depth = 1
		hdr.firstLeaf = uint32(idx)
		hdr.lastLeaf = uint32(idx)
		hdr.numRecs = 1
		return t.writeHeader(hdr)
	}

	path, leafIdx, err := t.descend(hdr, key)
	if err != nil {
		return err
	}
	leaf, err := t.loadNode(leafIdx)
	if err != nil {
		return err
	}
	found, recNum := t.findRecord(leaf.records, key)
	if found {
		return core.NewError(core.KindInvalidArgument, "duplicate b-tree key")
	}
	hdr.numRecs++

	curIdx := leafIdx
	curKind := byte(KindLeaf)
	curHeight := leaf.height
	curFLink, curBLink := leaf.fLink, leaf.bLink
	newRecords := insertSorted(leaf.records, recNum+1, rec)

	for {
		if fitsInNode(curKind, curHeight, curFLink, curBLink, newRecords) {
			if err := t.storeNode(curIdx, &node{kind: curKind, height: curHeight, fLink: curFLink, bLink: curBLink, records: newRecords}); err != nil {
				return err
			}
			if len(path) > 0 {
				if err := t.propagateKey(hdr, path, firstKey(newRecords)); err != nil {
					return err
				}
			}
			return t.writeHeader(hdr)
		}

		left, right := splitRecords(newRecords)
		newIdx, err := t.allocateNode(hdr)
		if err != nil {
			return err
		}
		rightNode := &node{kind: curKind, height: curHeight, fLink: curFLink, bLink: uint32(curIdx), records: right}
		if err := t.storeNode(newIdx, rightNode); err != nil {
			return err
		}
		leftNode := &node{kind: curKind, height: curHeight, fLink: uint32(newIdx), bLink: curBLink, records: left}
		if err := t.storeNode(curIdx, leftNode); err != nil {
			return err
		}
		if curFLink != 0 {
			follow, err := t.loadNode(int(curFLink))
			if err != nil {
				return err
			}
			follow.bLink = uint32(newIdx)
			if err := t.storeNode(int(curFLink), follow); err != nil {
				return err
			}
		} else if curKind == KindLeaf && uint32(curIdx) == hdr.lastLeaf {
			hdr.lastLeaf = uint32(newIdx)
		}

		if len(path) == 0 {
			rootIdx, err := t.allocateNode(hdr)
			if err != nil {
				return err
			}
			rootRecords := [][]byte{
				buildIndexRecord(firstKey(left), curIdx),
				buildIndexRecord(firstKey(right), newIdx),
			}
			if err := t.storeNode(rootIdx, &node{kind: KindIndex, height: curHeight + 1, records: rootRecords}); err != nil {
				return err
			}
			hdr.root = uint32(rootIdx)
			hdr.depth++
			return t.writeHeader(hdr)
		}

		parentEntry := path[len(path)-1]
		path = path[:len(path)-1]
		parent, err := t.loadNode(parentEntry.nodeIdx)
		if err != nil {
			return err
		}
		updated := append([][]byte(nil), parent.records...)
		updated[parentEntry.recIdx] = buildIndexRecord(firstKey(left), curIdx)
		idxRec := buildIndexRecord(firstKey(right), newIdx)
		updated = insertSorted(updated, parentEntry.recIdx+1, idxRec)

		newRecords = updated
		curIdx = parentEntry.nodeIdx
		curKind = KindIndex
		curHeight = parent.height
		curFLink, curBLink = parent.fLink, parent.bLink
	}
}

// propagateKey rewrites the parent chain's index-record keys along path so
// every ancestor's leftmost-key bookkeeping stays accurate after an insert
// changed a leaf's first key. Index-record value lengths are fixed (a
// 4-byte child pointer), and catalog/extents keys are bounded small, so this
// in-place replacement is assumed to always fit its node.
func (t *Tree) propagateKey(hdr *header, path []pathEntry, newKey []byte) error {
	for i := len(path) - 1; i >= 0; i-- {
		entry := path[i]
		n, err := t.loadNode(entry.nodeIdx)
		if err != nil {
			return err
		}
		child := childOf(n.records[entry.recIdx])
		updatedRec := buildIndexRecord(newKey, child)
		if t.compare(RecordKey(n.records[entry.recIdx]), newKey) == 0 {
			return nil // already correct, nothing to propagate further up
		}
		n.records[entry.recIdx] = updatedRec
		if err := t.storeNode(entry.nodeIdx, n); err != nil {
			return err
		}
		if entry.recIdx != 0 {
			return nil // not the node's own leftmost key; parent's key is unaffected
		}
	}
	return nil
}

// Delete removes the record matching key.
func (t *Tree) Delete(key []byte) error {
	hdr, err := t.readHeader()
	if err != nil {
		return err
	}
	if hdr.root == 0 {
		return core.NewError(core.KindInvalidArgument, "no such b-tree key")
	}
	path, leafIdx, err := t.descend(hdr, key)
	if err != nil {
		return err
	}
	leaf, err := t.loadNode(leafIdx)
	if err != nil {
		return err
	}
	found, pos := t.findRecord(leaf.records, key)
	if !found {
		return core.NewError(core.KindInvalidArgument, "no such b-tree key")
	}
	hdr.numRecs--
	newRecords := removeAt(leaf.records, pos)

	if len(newRecords) > 0 {
		if err := t.storeNode(leafIdx, &node{kind: KindLeaf, height: leaf.height, fLink: leaf.fLink, bLink: leaf.bLink, records: newRecords}); err != nil {
			return err
		}
		if pos == 0 && len(path) > 0 {
			if err := t.propagateKey(hdr, path, firstKey(newRecords)); err != nil {
				return err
			}
		}
		return t.writeHeader(hdr)
	}

	// leaf becomes empty: unlink it from the leaf chain and release it.
	if leaf.bLink != 0 {
		prev, err := t.loadNode(int(leaf.bLink))
		if err != nil {
			return err
		}
		prev.fLink = leaf.fLink
		if err := t.storeNode(int(leaf.bLink), prev); err != nil {
			return err
		}
	} else {
		hdr.firstLeaf = leaf.fLink
	}
	if leaf.fLink != 0 {
		next, err := t.loadNode(int(leaf.fLink))
		if err != nil {
			return err
		}
		next.bLink = leaf.bLink
		if err := t.storeNode(int(leaf.fLink), next); err != nil {
			return err
		}
	} else {
		hdr.lastLeaf = leaf.bLink
	}
	if err := t.releaseNode(hdr, leafIdx); err != nil {
		return err
	}

	if len(path) == 0 {
		hdr.root, hdr.depth, hdr.firstLeaf, hdr.lastLeaf = 0, 0, 0, 0
		return t.writeHeader(hdr)
	}

	removedIdx := leafIdx
	for len(path) > 0 {
		entry := path[len(path)-1]
		path = path[:len(path)-1]
		parent, err := t.loadNode(entry.nodeIdx)
		if err != nil {
			return err
		}
		newParentRecords := removeAt(parent.records, entry.recIdx)

		if len(newParentRecords) == 0 {
			// this index node loses its only child: collapse it too.
			if err := t.releaseNode(hdr, entry.nodeIdx); err != nil {
				return err
			}
			removedIdx = entry.nodeIdx
			if len(path) == 0 {
				hdr.root, hdr.depth, hdr.firstLeaf, hdr.lastLeaf = 0, 0, 0, 0
				return t.writeHeader(hdr)
			}
			continue
		}

		if len(path) == 0 && len(newParentRecords) == 1 {
			// root index node left with a single child: replace the root
			// with that child and shrink depth, per §4.5.
			hdr.root = uint32(childOf(newParentRecords[0]))
			hdr.depth--
			if err := t.releaseNode(hdr, entry.nodeIdx); err != nil {
				return err
			}
			return t.writeHeader(hdr)
		}

		if err := t.storeNode(entry.nodeIdx, &node{kind: parent.kind, height: parent.height, fLink: parent.fLink, bLink: parent.bLink, records: newParentRecords}); err != nil {
			return err
		}
		if entry.recIdx == 0 && len(path) > 0 {
			if err := t.propagateKey(hdr, path, firstKey(newParentRecords)); err != nil {
				return err
			}
		}
		_ = removedIdx
		return t.writeHeader(hdr)
	}
	return t.writeHeader(hdr)
}

// Scan walks the leaf chain from firstLeaf to lastLeaf, returning every
// leaf record in key order (used for directory enumeration and full
// catalog iteration).
func (t *Tree) Scan() ([][]byte, error) {
	hdr, err := t.readHeader()
	if err != nil {
		return nil, err
	}
	if hdr.root == 0 {
		return nil, nil
	}
	var out [][]byte
	idx := hdr.firstLeaf
	seen := map[uint32]bool{}
	for idx != 0 {
		if seen[idx] {
			return nil, core.NewError(core.KindDamaged, "cyclical leaf chain")
		}
		seen[idx] = true
		n, err := t.loadNode(int(idx))
		if err != nil {
			return nil, err
		}
		out = append(out, n.records...)
		idx = n.fLink
	}
	return out, nil
}
