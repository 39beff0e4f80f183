// Package rawfile provides a reference core.ChunkSource backed by a flat
// byte slice (typically an os.File's contents read fully into memory, or a
// raw disk/partition device). It performs no interleave decoding, container
// parsing, or compression handling -- callers that need to open nibble
// images, .do/.po sector-order containers, or compressed wrappers supply
// their own ChunkSource that does that translation before construction;
// rawfile only understands "N bytes, optionally already in the order the
// selected driver expects."
package rawfile

import (
	"io"
	"os"

	"github.com/deploymenttheory/go-apple2fs/core"
)

// Source is a flat in-memory ChunkSource over a byte slice.
type Source struct {
	data     []byte
	readOnly bool
	order    core.FileOrder

	blockSize int // 0 if sector-addressed only
	secSize   int // 0 if block-addressed only
	tracks    int
	secsPer   int
}

// Option configures a Source at construction time.
type Option func(*Source)

// WithOrder sets the FileOrder tag reported to drivers.
func WithOrder(order core.FileOrder) Option {
	return func(s *Source) { s.order = order }
}

// WithSectorGeometry marks the source as track/sector addressable (256-byte
// sectors), the shape DOS 3.3 and CP/M 5.25" images use.
func WithSectorGeometry(tracks, sectorsPerTrack int) Option {
	return func(s *Source) {
		s.tracks = tracks
		s.secsPer = sectorsPerTrack
		s.secSize = 256
	}
}

// WithBlockGeometry marks the source as 512-byte block addressable, the
// shape ProDOS/Pascal/HFS/MFS images use.
func WithBlockGeometry() Option {
	return func(s *Source) { s.blockSize = 512 }
}

// New wraps data directly (no copy) as a ChunkSource.
func New(data []byte, readOnly bool, opts ...Option) *Source {
	s := &Source{data: data, readOnly: readOnly, order: core.FileOrderUnknown}
	for _, o := range opts {
		o(s)
	}
	if s.blockSize == 0 && s.secSize == 0 {
		s.blockSize = 512
	}
	return s
}

// Open reads path fully into memory and wraps it as a ChunkSource.
// writable controls whether the returned Source accepts writes; changes stay
// in memory until an explicit Persist call writes them back to path.
func Open(path string, writable bool, opts ...Option) (*Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, core.WrapError(core.KindIOError, err, "stat %s", path)
	}
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, core.WrapError(core.KindIOError, err, "open %s", path)
	}
	defer f.Close()

	data := make([]byte, info.Size())
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, core.WrapError(core.KindIOError, err, "read %s", path)
	}

	s := New(data, !writable, opts...)
	return s, nil
}

// Bytes exposes the backing buffer, primarily for tests and for callers that
// persist the image themselves after a session.
func (s *Source) Bytes() []byte { return s.data }

func (s *Source) FormattedLength() int64 { return int64(len(s.data)) }
func (s *Source) HasBlocks() bool        { return s.blockSize > 0 }
func (s *Source) HasSectors() bool       { return s.secSize > 0 }
func (s *Source) FileOrder() core.FileOrder { return s.order }
func (s *Source) IsReadOnly() bool       { return s.readOnly }

func (s *Source) NumBlocks() int {
	if s.blockSize == 0 {
		return 0
	}
	return len(s.data) / s.blockSize
}

func (s *Source) NumTracks() int          { return s.tracks }
func (s *Source) NumSectorsPerTrack() int { return s.secsPer }

func (s *Source) checkWritable() error {
	if s.readOnly {
		return core.NewError(core.KindIOError, "source is read-only")
	}
	return nil
}

func (s *Source) ReadBlock(n int, buf []byte, off int) error {
	start := n*s.blockSize + off
	if start < 0 || start+len(buf) > len(s.data) {
		return core.NewError(core.KindIOError, "block %d out of range", n)
	}
	copy(buf, s.data[start:start+len(buf)])
	return nil
}

func (s *Source) WriteBlock(n int, buf []byte, off int) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	start := n*s.blockSize + off
	if start < 0 || start+len(buf) > len(s.data) {
		return core.NewError(core.KindIOError, "block %d out of range", n)
	}
	copy(s.data[start:start+len(buf)], buf)
	return nil
}

func (s *Source) sectorOffset(track, sector int) int {
	return (track*s.secsPer + sector) * s.secSize
}

func (s *Source) ReadSector(track, sector int, buf []byte, off int) error {
	start := s.sectorOffset(track, sector) + off
	if start < 0 || start+len(buf) > len(s.data) {
		return core.NewError(core.KindIOError, "sector %d/%d out of range", track, sector)
	}
	copy(buf, s.data[start:start+len(buf)])
	return nil
}

func (s *Source) WriteSector(track, sector int, buf []byte, off int) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	start := s.sectorOffset(track, sector) + off
	if start < 0 || start+len(buf) > len(s.data) {
		return core.NewError(core.KindIOError, "sector %d/%d out of range", track, sector)
	}
	copy(s.data[start:start+len(buf)], buf)
	return nil
}

// swapNibble exchanges the high/low nibble of each byte, the transform
// ReadSectorSwapped/WriteSectorSwapped apply to every byte of a sector.
func swapNibble(b byte) byte { return (b << 4) | (b >> 4) }

func (s *Source) ReadSectorSwapped(track, sector int, buf []byte, off int) error {
	if err := s.ReadSector(track, sector, buf, off); err != nil {
		return err
	}
	for i := range buf {
		buf[i] = swapNibble(buf[i])
	}
	return nil
}

func (s *Source) WriteSectorSwapped(track, sector int, buf []byte, off int) error {
	swapped := make([]byte, len(buf))
	for i, b := range buf {
		swapped[i] = swapNibble(b)
	}
	return s.WriteSector(track, sector, swapped, off)
}

// Persist writes the in-memory buffer back to path, for callers that opened
// via Open and want to save changes explicitly (rawfile never writes back
// automatically).
func Persist(s *Source, path string) error {
	return os.WriteFile(path, s.data, 0o644)
}

var _ core.ChunkSource = (*Source)(nil)
