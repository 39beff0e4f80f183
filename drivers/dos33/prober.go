package dos33

import "github.com/deploymenttheory/go-apple2fs/core"

// Prober implements core.Prober for DOS 3.2/3.3: a plausible VTOC at track
// 17 sector 0, cross-checked against a shallow catalog walk, distinguishes a
// genuine DOS volume from a CP/M or garbage image that happens to pass the
// geometry test (§4.7, and the CP/M-vs-DOS cross-check scenario).
type Prober struct{}

func (Prober) Name() string { return "DOS 3.3" }

func (Prober) TestImage(source core.ChunkSource) (core.Confidence, error) {
	if !source.HasSectors() {
		return core.No, nil
	}
	if source.NumSectorsPerTrack() != 16 {
		return core.No, nil
	}

	buf := make([]byte, sectorSize)
	if err := source.ReadSector(vtocTrack, 0, buf, 0); err != nil {
		return core.No, nil
	}

	vtoc, err := ParseVTOC(buf)
	if err != nil {
		return core.No, nil
	}
	if vtoc.SectorsPerTrack != 16 || vtoc.BytesPerSector != sectorSize {
		return core.No, nil
	}
	if vtoc.Tracks <= 0 || vtoc.Tracks > 50 {
		return core.Barely, nil
	}

	catBuf := make([]byte, sectorSize)
	if err := source.ReadSector(int(vtoc.CatalogTrack), int(vtoc.CatalogSector), catBuf, 0); err != nil {
		return core.Maybe, nil
	}

	plausible, implausible := 0, 0
	for i := 0; i < entriesPerCat; i++ {
		off := 0x0B + i*catEntrySize
		track := catBuf[off]
		if track == unusedTrackMarker {
			continue
		}
		if track == deletedTrackMarker {
			plausible++
			continue
		}
		if int(track) < vtoc.Tracks && int(catBuf[off+1]) < vtoc.SectorsPerTrack {
			plausible++
		} else {
			implausible++
		}
	}

	switch {
	case plausible == entriesPerCat:
		return core.Yes, nil
	case plausible > 0 || implausible == 0:
		return core.Good, nil
	default:
		return core.Maybe, nil
	}
}

var _ core.Prober = Prober{}
