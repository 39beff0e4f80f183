package cmd

import (
	"io"

	"github.com/deploymenttheory/go-apple2fs/core"
	"github.com/deploymenttheory/go-apple2fs/devices/rawfile"
	"github.com/deploymenttheory/go-apple2fs/drivers/cpm"
	"github.com/deploymenttheory/go-apple2fs/drivers/dos33"
	"github.com/deploymenttheory/go-apple2fs/drivers/hfs"
	"github.com/deploymenttheory/go-apple2fs/drivers/mfs"
	"github.com/deploymenttheory/go-apple2fs/drivers/pascal"
	"github.com/deploymenttheory/go-apple2fs/drivers/prodos"
)

// entryInfo is the flattened, driver-independent view of one catalog object
// this CLI prints or reads from. Each driver's own Entry type embeds
// core.Attrs but is otherwise a distinct concrete type, so list/cat copy the
// fields they need into this shape rather than trying to share one struct
// across six unrelated packages.
type entryInfo struct {
	Slot       core.EntrySlot
	Name       string
	IsDir      bool
	DataLength int64
	HasRsrc    bool
}

// volumeAdapter is what list/cat/probe need from an opened volume,
// independent of which of the six driver packages produced it.
type volumeAdapter interface {
	core.Driver
	Entries() []entryInfo
	OpenDataFork(slot core.EntrySlot) (io.ReadCloser, error)
	// Gate exposes the GatedChunk each driver's New constructs internally,
	// for wrapping in a core.Filesystem.
	Gate() *core.GatedChunk
}

// registration ties one driver's Prober, constructor, and canonical floppy
// geometry together for the probe/list/cat/format subcommands. Different
// formats disagree on how the same byte count is addressed (DOS 3.3 and
// CP/M read 143360 bytes as 35 tracks of 16 256-byte sectors; ProDOS reads
// the same byte count as 280 512-byte blocks), so each registration wraps
// raw bytes in its own geometry rather than sharing one ChunkSource.
type registration struct {
	name       string
	prober     core.Prober
	newVolume  func(core.ChunkSource) (volumeAdapter, error)
	blankSize  int
	wrapSource func(data []byte, readOnly bool) core.ChunkSource
}

// blankImage returns a freshly zeroed ChunkSource at this format's
// conventional floppy size; `format` always starts from it and writes the
// result to --image.
func (r registration) blankImage() core.ChunkSource {
	return r.wrapSource(make([]byte, r.blankSize), false)
}

// registrations lists every driver this CLI can drive, in the same order
// probe reports results for ties.
func registrations() []registration {
	return []registration{
		{
			name:   "DOS 3.3",
			prober: dos33.Prober{},
			newVolume: func(src core.ChunkSource) (volumeAdapter, error) {
				v, err := dos33.New(src)
				if err != nil {
					return nil, err
				}
				return dos33Adapter{v}, nil
			},
			blankSize: 35 * 16 * 256,
			wrapSource: func(data []byte, readOnly bool) core.ChunkSource {
				return rawfile.New(data, readOnly,
					rawfile.WithSectorGeometry(35, 16), rawfile.WithOrder(core.FileOrderDOS))
			},
		},
		{
			name:   "ProDOS",
			prober: prodos.Prober{},
			newVolume: func(src core.ChunkSource) (volumeAdapter, error) {
				v, err := prodos.New(src)
				if err != nil {
					return nil, err
				}
				return prodosAdapter{v}, nil
			},
			blankSize: 280 * 512,
			wrapSource: func(data []byte, readOnly bool) core.ChunkSource {
				return rawfile.New(data, readOnly,
					rawfile.WithBlockGeometry(), rawfile.WithOrder(core.FileOrderProDOS))
			},
		},
		{
			name:   "Apple Pascal",
			prober: pascal.Prober{},
			newVolume: func(src core.ChunkSource) (volumeAdapter, error) {
				v, err := pascal.New(src)
				if err != nil {
					return nil, err
				}
				return pascalAdapter{v}, nil
			},
			blankSize: 280 * 512,
			wrapSource: func(data []byte, readOnly bool) core.ChunkSource {
				return rawfile.New(data, readOnly, rawfile.WithBlockGeometry())
			},
		},
		{
			name:   "CP/M",
			prober: cpm.Prober{},
			newVolume: func(src core.ChunkSource) (volumeAdapter, error) {
				v, err := cpm.New(src)
				if err != nil {
					return nil, err
				}
				return cpmAdapter{v}, nil
			},
			blankSize: 35 * 16 * 256,
			wrapSource: func(data []byte, readOnly bool) core.ChunkSource {
				return rawfile.New(data, readOnly,
					rawfile.WithSectorGeometry(35, 16), rawfile.WithOrder(core.FileOrderCPM))
			},
		},
		{
			name:   "MFS",
			prober: mfs.Prober{},
			newVolume: func(src core.ChunkSource) (volumeAdapter, error) {
				v, err := mfs.New(src)
				if err != nil {
					return nil, err
				}
				return mfsAdapter{v}, nil
			},
			blankSize: 800 * 512,
			wrapSource: func(data []byte, readOnly bool) core.ChunkSource {
				return rawfile.New(data, readOnly, rawfile.WithBlockGeometry())
			},
		},
		{
			name:   "HFS",
			prober: hfs.Prober{},
			newVolume: func(src core.ChunkSource) (volumeAdapter, error) {
				v, err := hfs.New(src)
				if err != nil {
					return nil, err
				}
				return hfsAdapter{v}, nil
			},
			blankSize: 1600 * 512,
			wrapSource: func(data []byte, readOnly bool) core.ChunkSource {
				return rawfile.New(data, readOnly, rawfile.WithBlockGeometry())
			},
		},
	}
}

// detectAll runs every registration's own Prober over data wrapped in that
// registration's own geometry (sector- vs block-addressed, and whatever
// FileOrder it expects), since a given byte count can mean two different
// things depending which driver is reading it -- a 143360-byte image is
// 35 tracks of 16 sectors to DOS 3.3/CP/M but 280 blocks to ProDOS. Results
// are sorted by descending confidence, stable on ties, same as core.Detect.
func detectAll(data []byte, regs []registration) []core.DetectResult {
	results := make([]core.DetectResult, 0, len(regs))
	for _, r := range regs {
		src := r.wrapSource(data, true)
		conf, err := r.prober.TestImage(src)
		if err != nil {
			conf = core.No
		}
		results = append(results, core.DetectResult{Driver: r.name, Confidence: conf})
	}
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Confidence > results[j-1].Confidence; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
	return results
}

func findRegistration(regs []registration, name string) *registration {
	for i := range regs {
		if regs[i].name == name || regs[i].prober.Name() == name {
			return &regs[i]
		}
	}
	return nil
}

// --- per-driver adapters ---
//
// dos33/prodos/pascal/cpm have no resource forks, so OpenDataFork just opens
// their single fork; mfs/hfs take an explicit core.ForkKind and are asked
// for core.DataFork. Every driver's *FileDescriptor already implements
// io.ReadCloser (Read + Close), so each Open call's return value satisfies
// io.ReadCloser without any further wrapping.

type dos33Adapter struct{ *dos33.Volume }

func (a dos33Adapter) Entries() []entryInfo {
	var out []entryInfo
	for _, e := range a.Volume.Entries() {
		out = append(out, entryInfo{Slot: e.Slot, Name: e.CookedName, DataLength: e.DataLength})
	}
	return out
}

func (a dos33Adapter) OpenDataFork(slot core.EntrySlot) (io.ReadCloser, error) {
	return a.Volume.Open(slot, false)
}

type prodosAdapter struct{ *prodos.Volume }

func (a prodosAdapter) Entries() []entryInfo {
	var out []entryInfo
	for _, e := range a.Volume.Entries() {
		out = append(out, entryInfo{Slot: e.Slot, Name: e.CookedName, IsDir: e.IsDirectory, DataLength: e.DataLength})
	}
	return out
}

func (a prodosAdapter) OpenDataFork(slot core.EntrySlot) (io.ReadCloser, error) {
	return a.Volume.Open(slot, false)
}

type pascalAdapter struct{ *pascal.Volume }

func (a pascalAdapter) Entries() []entryInfo {
	var out []entryInfo
	for _, e := range a.Volume.Entries() {
		out = append(out, entryInfo{Slot: e.Slot, Name: e.CookedName, DataLength: e.DataLength})
	}
	return out
}

func (a pascalAdapter) OpenDataFork(slot core.EntrySlot) (io.ReadCloser, error) {
	return a.Volume.Open(slot, false)
}

type cpmAdapter struct{ *cpm.Volume }

func (a cpmAdapter) Entries() []entryInfo {
	var out []entryInfo
	for _, e := range a.Volume.Entries() {
		out = append(out, entryInfo{Slot: e.Slot, Name: e.CookedName, DataLength: e.DataLength})
	}
	return out
}

func (a cpmAdapter) OpenDataFork(slot core.EntrySlot) (io.ReadCloser, error) {
	return a.Volume.Open(slot, false)
}

type mfsAdapter struct{ *mfs.Volume }

func (a mfsAdapter) Entries() []entryInfo {
	var out []entryInfo
	for _, e := range a.Volume.Entries() {
		out = append(out, entryInfo{Slot: e.Slot, Name: e.CookedName, DataLength: e.DataLength, HasRsrc: e.HasRsrcFork})
	}
	return out
}

func (a mfsAdapter) OpenDataFork(slot core.EntrySlot) (io.ReadCloser, error) {
	return a.Volume.Open(slot, false, core.DataFork)
}

type hfsAdapter struct{ *hfs.Volume }

func (a hfsAdapter) Entries() []entryInfo {
	var out []entryInfo
	for _, e := range a.Volume.Entries() {
		out = append(out, entryInfo{Slot: e.Slot, Name: e.CookedName, IsDir: e.IsDirectory, DataLength: e.DataLength, HasRsrc: e.HasRsrcFork})
	}
	return out
}

func (a hfsAdapter) OpenDataFork(slot core.EntrySlot) (io.ReadCloser, error) {
	return a.Volume.Open(slot, false, core.DataFork)
}
