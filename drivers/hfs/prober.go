package hfs

import "github.com/deploymenttheory/go-apple2fs/core"

// Prober implements core.Prober for HFS images (§4.7): the MDB signature at
// block 2, a plausible bitmap start and allocation-block geometry, and a
// plausible volume name length.
type Prober struct{}

func (Prober) Name() string { return "HFS" }

func (Prober) TestImage(source core.ChunkSource) (core.Confidence, error) {
	if !source.HasBlocks() {
		return core.No, nil
	}
	total := core.BlockCount(source)
	if total < 32 {
		return core.No, nil
	}
	buf := make([]byte, logicalBlockSize)
	if err := source.ReadBlock(mdbBlock, buf, 0); err != nil {
		return core.No, nil
	}
	m := decodeMDB(buf)
	if m.Signature != signature {
		return core.No, nil
	}

	bitmapOK := int(m.VBMSt) > mdbBlock && int(m.VBMSt) < total
	allocOK := int(m.AllocBlockSt) > int(m.VBMSt) &&
		int(m.AllocBlockSt)+int(m.NumAllocBlocks)*int(m.AllocBlockSize)/logicalBlockSize <= total &&
		m.AllocBlockSize >= logicalBlockSize
	nameOK := len(m.VolumeName) > 0 && len(m.VolumeName) <= maxVolumeNameLen

	switch {
	case bitmapOK && allocOK && nameOK:
		return core.Yes, nil
	case bitmapOK && allocOK:
		return core.Good, nil
	case bitmapOK:
		return core.Barely, nil
	default:
		return core.No, nil
	}
}

var _ core.Prober = Prober{}
