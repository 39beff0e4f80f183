package prodos

import "github.com/deploymenttheory/go-apple2fs/core"

// Prober implements core.Prober for ProDOS images (§4.7): block-2 header
// storage-type nibble, volume-name first byte, entry-length/per-block
// bound, and bitmap-pointer range.
type Prober struct{}

func (Prober) Name() string { return "ProDOS" }

func (Prober) TestImage(source core.ChunkSource) (core.Confidence, error) {
	if !source.HasBlocks() {
		return core.No, nil
	}
	total := core.BlockCount(source)
	if total < 4 {
		return core.No, nil
	}
	buf := make([]byte, blockSize)
	if err := source.ReadBlock(2, buf, 0); err != nil {
		return core.No, nil
	}
	typeLen := buf[4]
	storage := StorageType(typeLen >> 4)
	nameLen := int(typeLen & 0x0F)
	if storage != StorageVolumeHdr {
		return core.No, nil
	}
	if nameLen < 1 || nameLen > 15 {
		return core.Barely, nil
	}
	first := buf[5]
	nameOK := first >= 'A' && first <= 'Z'
	entryLen := int(buf[4+0x1F])
	perBlock := int(buf[4+0x20])
	boundOK := entryLen > 0 && perBlock > 0 && entryLen*perBlock <= 508
	bitmapPtr := int(core.LE16(buf[4+0x23 : 4+0x25]))
	bitmapOK := bitmapPtr > 2 && bitmapPtr < total

	switch {
	case nameOK && boundOK && bitmapOK:
		return core.Yes, nil
	case boundOK && bitmapOK:
		return core.Good, nil
	case boundOK || bitmapOK:
		return core.Maybe, nil
	default:
		return core.Barely, nil
	}
}

var _ core.Prober = Prober{}
