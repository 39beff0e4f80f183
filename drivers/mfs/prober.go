package mfs

import "github.com/deploymenttheory/go-apple2fs/core"

// Prober implements core.Prober for MFS images (§4.7): the MDB signature at
// block 2, plausible directory-start/length fields, and a plausible volume
// name length.
type Prober struct{}

func (Prober) Name() string { return "MFS" }

func (Prober) TestImage(source core.ChunkSource) (core.Confidence, error) {
	if !source.HasBlocks() {
		return core.No, nil
	}
	total := core.BlockCount(source)
	if total < 8 {
		return core.No, nil
	}
	buf := make([]byte, mdbSize)
	if err := source.ReadBlock(mdbBlock, buf, 0); err != nil {
		return core.No, nil
	}
	vi := decodeVolInfo(buf)
	if vi.Signature != signature {
		return core.No, nil
	}
	dirOK := int(vi.DirSt) > mdbBlock && int(vi.DirSt)+int(vi.BlLen) <= total
	nameLen := buf[36]
	nameOK := nameLen > 0 && int(nameLen) <= maxVolumeNameLen

	switch {
	case dirOK && nameOK:
		return core.Yes, nil
	case dirOK:
		return core.Good, nil
	default:
		return core.Barely, nil
	}
}

var _ core.Prober = Prober{}
