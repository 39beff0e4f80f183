package dos33

import "github.com/deploymenttheory/go-apple2fs/core"

// Volume implements core.Driver for DOS 3.2/3.3. The namespace is flat (no
// subdirectories): Children() enumerates every live, non-deleted catalog
// entry directly.
type Volume struct {
	gate  *core.GatedChunk
	notes *core.Notes

	vtoc  *VTOC
	arena *core.Arena[Entry]
	usage *core.VolumeUsage
	alloc *core.AllocMap

	catalogSlotOf map[core.EntrySlot]catalogLoc

	dubious        bool
	exhaustiveScan bool // §4.3: default true, garbage past the "real" catalog end is common
}

// New wraps source as a DOS 3.2/3.3 volume. source must expose sector
// addressing (§3: 16 sectors/track, 256 bytes/sector, 35 tracks typical).
func New(source core.ChunkSource) (*Volume, error) {
	if !source.HasSectors() {
		return nil, &core.ErrGeometry{Want: "track/sector addressable", Got: "block-only source"}
	}
	return &Volume{
		gate:           core.NewGatedChunk(source),
		notes:          core.NewNotes(),
		exhaustiveScan: true,
	}, nil
}

// Gate exposes the volume's GatedChunk for callers constructing a
// core.Filesystem around this driver.
func (v *Volume) Gate() *core.GatedChunk { return v.gate }

func (v *Volume) Characteristics() core.Characteristics {
	return core.Characteristics{
		Name:             "DOS 3.3",
		CanWrite:         true,
		IsHierarchical:   false,
		DirSeparator:     0,
		HasResourceForks: false,
		FilenameSyntax:   "30 high-ASCII bytes, space padded",
		VolumeNameSyntax: "none (volume identified by number 0-254)",
		TimestampMinYear: 0,
		TimestampMaxYear: 0, // DOS 3.3 has no timestamps
	}
}

func (v *Volume) PrepareFileAccess(deep bool) error {
	v.gate.SetLevel(core.Open)
	if err := v.scanVolume(); err != nil {
		return err
	}
	return nil
}

func (v *Volume) PrepareRawAccess() error {
	if err := v.flushVTOC(); err != nil {
		return err
	}
	v.arena = nil
	v.usage = nil
	v.alloc = nil
	return nil
}

func (v *Volume) Flush() error {
	return v.flushVTOC()
}

func (v *Volume) flushVTOC() error {
	if v.vtoc == nil {
		return nil
	}
	return v.gate.PrivilegedWrite(func(cs core.ChunkSource) error {
		return cs.WriteSector(vtocTrack, 0, v.vtoc.Encode(), 0)
	})
}

func (v *Volume) FreeSpaceBytes() (int64, error) {
	if v.vtoc == nil {
		return 0, core.NewError(core.KindInvalidArgument, "not in file-access mode")
	}
	return int64(v.alloc.FreeCount()) * sectorSize, nil
}

func (v *Volume) Notes() *core.Notes { return v.notes }
func (v *Volume) IsDubious() bool    { return v.dubious }

// Entries returns every live catalog entry (deleted slots excluded), the
// flat equivalent of enumerating the volume directory's children.
func (v *Volume) Entries() []*Entry {
	if v.arena == nil {
		return nil
	}
	var out []*Entry
	for i := 0; i < v.arena.Len(); i++ {
		e, ok := v.arena.GetBySlot(core.EntrySlot(i))
		if ok && !e.Deleted {
			out = append(out, e)
		}
	}
	return out
}

// Format overwrites every sector with 0x00 and writes a fresh VTOC plus an
// empty single-sector catalog, per §4.6.
func (v *Volume) Format(volumeName string, volumeNumber int, bootable bool) error {
	src := v.gate.Source()
	tracks := src.NumTracks()
	secs := src.NumSectorsPerTrack()
	if tracks == 0 || secs == 0 {
		return &core.ErrGeometry{Want: "track/sector geometry", Got: "none"}
	}

	return v.gate.PrivilegedWrite(func(cs core.ChunkSource) error {
		zero := core.ZeroFill(sectorSize)
		for t := 0; t < tracks; t++ {
			for s := 0; s < secs; s++ {
				if err := cs.WriteSector(t, s, zero, 0); err != nil {
					return err
				}
			}
		}

		vtoc := &VTOC{
			CatalogTrack:    vtocTrack,
			CatalogSector:   15, // conventional first catalog sector, chains downward
			DOSRelease:      3,
			VolumeNumber:    byte(volumeNumber),
			MaxTSPairs:      tsPairsPerList,
			AllocDirection:  1,
			Tracks:          tracks,
			SectorsPerTrack: secs,
			BytesPerSector:  sectorSize,
		}
		vtoc.freeBitsInit()
		for s := 0; s < secs; s++ {
			vtoc.SetUsed(0, s)
		}
		vtoc.SetUsed(vtocTrack, 0)
		vtoc.SetUsed(vtocTrack, 15)

		if err := cs.WriteSector(vtocTrack, 0, vtoc.Encode(), 0); err != nil {
			return err
		}
		catalog := make([]byte, sectorSize)
		return cs.WriteSector(vtocTrack, 15, catalog, 0)
	})
}

func (v *VTOC) freeBitsInit() {
	v.freeBits = make([][]bool, v.Tracks)
	for t := range v.freeBits {
		bits := make([]bool, v.SectorsPerTrack)
		for s := range bits {
			bits[s] = true
		}
		v.freeBits[t] = bits
	}
}

var _ core.Driver = (*Volume)(nil)
