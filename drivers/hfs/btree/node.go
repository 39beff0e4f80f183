// Package btree implements the node format and search/insert/delete
// algorithms of the HFS B*-tree (§4.5): fixed 512-byte nodes, a
// forward-packed record area, a reverse-packed offset table, and a header
// node carrying tree statistics plus a node-in-use bitmap extended by a
// chain of Map nodes. It is generic over the key comparison and record
// shape so the same package backs both the catalog tree and the extents
// overflow tree. Grounded on the node/offset-table walk in
// _examples/elliotnunn-BeHierarchic/internal/hfs/btree.go, generalized here
// from read-only traversal to mutation: nodes split on insert, and Delete
// frees emptied nodes and collapses a single-child root; underfull sibling
// nodes are not merged.
package btree

import (
	"encoding/binary"

	"github.com/deploymenttheory/go-apple2fs/core"
)

const (
	NodeSize = 512

	KindIndex  = 0x00
	KindHeader = 0x01
	KindMap    = 0x02
	KindLeaf   = 0xFF

	nodeHeaderLen = 14 // fLink, bLink, kind, height, numRecords, reserved
)

// node is the decoded in-memory form of one 512-byte tree node.
type node struct {
	fLink, bLink uint32
	kind         byte
	height       byte
	records      [][]byte
}

func decodeNode(buf []byte) (*node, error) {
	if len(buf) != NodeSize {
		return nil, core.NewError(core.KindDamaged, "node buffer must be %d bytes, got %d", NodeSize, len(buf))
	}
	n := &node{
		fLink:  binary.BigEndian.Uint32(buf[0:4]),
		bLink:  binary.BigEndian.Uint32(buf[4:8]),
		kind:   buf[8],
		height: buf[9],
	}
	cnt := int(binary.BigEndian.Uint16(buf[10:12]))
	if cnt > (NodeSize-nodeHeaderLen)/4 {
		return nil, core.NewError(core.KindDamaged, "node record count %d implausible", cnt)
	}
	if cnt == 0 {
		return n, nil
	}
	boundaries := make([]int, cnt+1)
	for i := 0; i <= cnt; i++ {
		boundaries[i] = int(binary.BigEndian.Uint16(buf[NodeSize-2-2*i:]))
	}
	lowlimit, highlimit := nodeHeaderLen, NodeSize-2*(cnt+1)
	for i := 0; i < cnt; i++ {
		start, end := boundaries[i], boundaries[i+1]
		if lowlimit > start || start > end || end > highlimit {
			return nil, core.NewError(core.KindDamaged, "node record %d offsets [%d:%d] out of range", i, start, end)
		}
		rec := make([]byte, end-start)
		copy(rec, buf[start:end])
		n.records = append(n.records, rec)
		lowlimit = end
	}
	return n, nil
}

// encode packs n back into a 512-byte node, padding each record to an even
// boundary. Returns KindDiskFull (via core.Error) if the records no longer
// fit the node.
func (n *node) encode() ([]byte, error) {
	buf := make([]byte, NodeSize)
	binary.BigEndian.PutUint32(buf[0:4], n.fLink)
	binary.BigEndian.PutUint32(buf[4:8], n.bLink)
	buf[8] = n.kind
	buf[9] = n.height
	binary.BigEndian.PutUint16(buf[10:12], uint16(len(n.records)))

	pos := nodeHeaderLen
	offsets := make([]int, 0, len(n.records)+1)
	for _, rec := range n.records {
		offsets = append(offsets, pos)
		if pos+len(rec) > NodeSize {
			return nil, core.NewError(core.KindDiskFull, "node full")
		}
		copy(buf[pos:pos+len(rec)], rec)
		pos += len(rec)
		if pos%2 != 0 {
			pos++ // keep every record boundary even, per HFS convention
		}
	}
	offsets = append(offsets, pos)

	tableBytes := 2 * len(offsets)
	if pos+tableBytes > NodeSize {
		return nil, core.NewError(core.KindDiskFull, "node full")
	}
	for i, off := range offsets {
		binary.BigEndian.PutUint16(buf[NodeSize-2-2*i:], uint16(off))
	}
	return buf, nil
}

// freeBytes reports how much room is left for new records plus their offset
// table entries, used by insert to decide whether a split is required.
func (n *node) freeBytes() int {
	used := nodeHeaderLen
	for _, rec := range n.records {
		used += len(rec)
		if used%2 != 0 {
			used++
		}
	}
	used += 2 * (len(n.records) + 1)
	return NodeSize - used
}

func recordSpace(rec []byte) int {
	n := len(rec)
	if n%2 != 0 {
		n++
	}
	return n + 2
}
