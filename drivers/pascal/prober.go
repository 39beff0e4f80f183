package pascal

import "github.com/deploymenttheory/go-apple2fs/core"

// Prober implements core.Prober for Apple Pascal images: the volume header
// entry's zero FirstBlock, its DirEnd pointer, and the header's name-length
// byte, per §4.7.
type Prober struct{}

func (Prober) Name() string { return "Apple Pascal" }

func (Prober) TestImage(source core.ChunkSource) (core.Confidence, error) {
	if !source.HasBlocks() {
		return core.No, nil
	}
	total := core.BlockCount(source)
	if total < dirEnd+1 {
		return core.No, nil
	}
	buf := make([]byte, entrySize)
	if err := source.ReadBlock(dirStart, buf, 0); err != nil {
		return core.No, nil
	}
	if core.LE16(buf[0:2]) != 0 {
		return core.No, nil
	}
	dirEndField := int(core.LE16(buf[2:4]))
	if dirEndField < dirStart+1 || dirEndField > total {
		return core.No, nil
	}
	nameLen := int(buf[5])
	if nameLen > maxNameLen {
		return core.Barely, nil
	}
	switch {
	case dirEndField == dirEnd && nameLen > 0:
		return core.Yes, nil
	case nameLen > 0:
		return core.Good, nil
	default:
		return core.Maybe, nil
	}
}

var _ core.Prober = Prober{}
