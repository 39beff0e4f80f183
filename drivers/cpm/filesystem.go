package cpm

import "github.com/deploymenttheory/go-apple2fs/core"

// Volume is the CP/M core.Driver implementation. CP/M carries no on-disk
// superblock: the directory track and reserved-track count are supplied by
// the caller (the real CP/M BIOS gets them from an externally-configured
// Disk Parameter Block, never from the medium itself), via Option.
type Volume struct {
	gate  *core.GatedChunk
	notes *core.Notes

	directoryTrack int
	totalTracks    int
	totalBlocks    int // allocation blocks in the data area (from directoryTrack onward)

	arena *core.Arena[Entry]
	usage *core.VolumeUsage
	alloc *core.AllocMap

	reservedTrackMap []bool

	dubious bool
}

// Option configures a Volume at construction time.
type Option func(*Volume)

// WithDirectoryTrack sets the track the directory (and the rest of CP/M's
// allocation space) begins at, overriding the standard Apple CP/M default
// of 3 (§4 "CP/M"). Hybrid DOS/CP/M media set this past the DOS portion.
func WithDirectoryTrack(track int) Option {
	return func(v *Volume) { v.directoryTrack = track }
}

// New wraps source as a CP/M volume. source must expose sector addressing
// (256 bytes/sector). Defaults to the standard Apple CP/M directory track
// of 3, reserving tracks 0-2 for the CP/M boot loader.
func New(source core.ChunkSource, opts ...Option) (*Volume, error) {
	if !source.HasSectors() {
		return nil, &core.ErrGeometry{Want: "track/sector addressable", Got: "block-only source"}
	}
	v := &Volume{
		gate:           core.NewGatedChunk(source),
		notes:          core.NewNotes(),
		directoryTrack: 3,
	}
	for _, o := range opts {
		o(v)
	}
	return v, nil
}

// Gate exposes the volume's GatedChunk for callers constructing a
// core.Filesystem around this driver.
func (v *Volume) Gate() *core.GatedChunk { return v.gate }

func (v *Volume) Characteristics() core.Characteristics {
	return core.Characteristics{
		Name:             "CP/M",
		CanWrite:         true,
		IsHierarchical:   false,
		HasResourceForks: false,
		FilenameSyntax:   "8.3, 7-bit ASCII, user area 0-15",
		VolumeNameSyntax: "none (CP/M has no volume label)",
		TimestampMinYear: 0,
		TimestampMaxYear: 0, // CP/M 2.2 directory entries carry no timestamp
	}
}

func (v *Volume) geometry() {
	src := v.gate.Source()
	v.totalTracks = src.NumTracks()
	dataTracks := v.totalTracks - v.directoryTrack
	if dataTracks < 0 {
		dataTracks = 0
	}
	v.totalBlocks = dataTracks * sectorsPerTrack * sectorSize / blockSize
}

func (v *Volume) PrepareFileAccess(deep bool) error {
	v.geometry()
	return v.scanVolume()
}

func (v *Volume) PrepareRawAccess() error {
	v.arena = nil
	v.usage = nil
	v.alloc = nil
	return nil
}

// Flush is a no-op: every mutation (extent record, reserved entry) is
// written immediately since there is no bitmap or header to batch.
func (v *Volume) Flush() error { return nil }

func (v *Volume) FreeSpaceBytes() (int64, error) {
	if v.alloc == nil {
		return 0, core.NewError(core.KindInvalidArgument, "volume not in file-access mode")
	}
	return int64(v.alloc.FreeCount()) * blockSize, nil
}

func (v *Volume) Notes() *core.Notes { return v.notes }
func (v *Volume) IsDubious() bool    { return v.dubious }

// Entries returns every live file (not reserved-space markers).
func (v *Volume) Entries() []*Entry {
	if v.arena == nil {
		return nil
	}
	var out []*Entry
	for i := 0; i < v.arena.Len(); i++ {
		if e, ok := v.arena.GetBySlot(core.EntrySlot(i)); ok && !e.Deleted {
			out = append(out, e)
		}
	}
	return out
}

// Format overwrites every sector with 0xE5 (CP/M's conventional unused-slot
// fill) and, for a bootable image, writes a 0x1F reserved-space extent
// covering tracks [0, directoryTrack) (§4.6).
func (v *Volume) Format(volumeName string, volumeNumber int, bootable bool) error {
	src := v.gate.Source()
	tracks := src.NumTracks()
	secs := src.NumSectorsPerTrack()
	if tracks == 0 || secs == 0 {
		return &core.ErrGeometry{Want: "track/sector geometry", Got: "none"}
	}
	fill := make([]byte, sectorSize)
	for i := range fill {
		fill[i] = statusDeleted
	}
	err := v.gate.PrivilegedWrite(func(cs core.ChunkSource) error {
		for t := 0; t < tracks; t++ {
			for s := 0; s < secs; s++ {
				if err := cs.WriteSector(t, s, fill, 0); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	v.totalTracks = tracks
	v.geometry()

	if bootable && v.directoryTrack > 0 {
		if err := v.writeReservedTracks(v.directoryTrack); err != nil {
			return err
		}
	}
	return nil
}

// writeReservedTracks writes one or more chained 0x1F entries covering
// tracks [0, n), reusing the extent-chaining fields (EX/S2) so a reservation
// longer than ptrsPerExtent tracks spans multiple directory slots exactly
// the way a large file's extents do (§8 scenario 1).
func (v *Volume) writeReservedTracks(n int) error {
	for lo, li := 0, 0; lo < n; lo, li = lo+ptrsPerExtent, li+1 {
		hi := lo + ptrsPerExtent
		if hi > n {
			hi = n
		}
		buf := make([]byte, entrySize)
		buf[0] = statusReserved
		buf[12] = byte(li % 32)
		buf[14] = byte(li / 32)
		for i := 0; i < ptrsPerExtent; i++ {
			t := lo + i
			if t < hi {
				buf[16+i] = byte(t)
			} else {
				buf[16+i] = reservedSlot
			}
		}
		if err := v.writeDirEntry(li, buf); err != nil {
			return err
		}
	}
	return nil
}

var _ core.Driver = (*Volume)(nil)
