package hfs

import (
	"github.com/deploymenttheory/go-apple2fs/core"
	"github.com/deploymenttheory/go-apple2fs/drivers/hfs/btree"
)

// treeStore adapts a file's allocation-block extent list into a
// btree.Store. HFS allocation blocks are a multiple of the 512-byte logical
// block; a B*-tree node is always exactly one logical block (512 bytes),
// so nodesPerAllocBlock says how many logical blocks one allocation block
// holds and therefore how many tree nodes fit per allocation block.
type treeStore struct {
	gate       *core.GatedChunk
	extents    *extentList
	allocStart int // logical block number of allocation block 0
	allocSize  int // allocation block size in bytes
	grow       func(blocks int) ([]extentDescriptor, error)
}

func newTreeStore(gate *core.GatedChunk, allocStart, allocSize int, extents *extentList, grow func(int) ([]extentDescriptor, error)) *treeStore {
	return &treeStore{gate: gate, extents: extents, allocStart: allocStart, allocSize: allocSize, grow: grow}
}

func (s *treeStore) nodesPerAllocBlock() int { return s.allocSize / btree.NodeSize }

func (s *treeStore) NodeCount() int {
	perBlock := s.nodesPerAllocBlock()
	if perBlock == 0 {
		return 0
	}
	return s.extents.totalBlocks() * perBlock
}

func (s *treeStore) logicalBlockFor(nodeIdx int) (int, error) {
	perBlock := s.nodesPerAllocBlock()
	if perBlock == 0 {
		return 0, core.NewError(core.KindUnsupportedGeometry, "allocation block too small for a b-tree node")
	}
	allocBlk := nodeIdx / perBlock
	within := nodeIdx % perBlock
	abs, ok := s.extents.blockAt(allocBlk)
	if !ok {
		return 0, core.NewError(core.KindIOError, "b-tree node %d outside extent list", nodeIdx)
	}
	blocksPerAlloc := s.allocSize / logicalBlockSize
	return s.allocStart + abs*blocksPerAlloc + within*(btree.NodeSize/logicalBlockSize), nil
}

func (s *treeStore) ReadNode(n int, buf []byte) error {
	lb, err := s.logicalBlockFor(n)
	if err != nil {
		return err
	}
	return s.gate.ReadBlock(lb, buf, 0)
}

func (s *treeStore) WriteNode(n int, buf []byte) error {
	lb, err := s.logicalBlockFor(n)
	if err != nil {
		return err
	}
	return s.gate.PrivilegedWrite(func(cs core.ChunkSource) error {
		return cs.WriteBlock(lb, buf, 0)
	})
}

func (s *treeStore) GrowBy(n int) error {
	perBlock := s.nodesPerAllocBlock()
	if perBlock == 0 {
		return core.NewError(core.KindUnsupportedGeometry, "allocation block too small for a b-tree node")
	}
	needAllocBlocks := (n + perBlock - 1) / perBlock
	grown, err := s.grow(needAllocBlocks)
	if err != nil {
		return err
	}
	for _, g := range grown {
		s.extents.appendRun(int(g.StartBlock), int(g.BlockCount))
	}
	return nil
}
