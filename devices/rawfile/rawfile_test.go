package rawfile

import (
	"path/filepath"
	"testing"

	"github.com/deploymenttheory/go-apple2fs/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceBlockReadWrite(t *testing.T) {
	s := New(make([]byte, 512*4), false, WithBlockGeometry())
	buf := []byte("abcdefgh")
	require.NoError(t, s.WriteBlock(1, buf, 10))
	out := make([]byte, len(buf))
	require.NoError(t, s.ReadBlock(1, out, 10))
	assert.Equal(t, buf, out)
	assert.Equal(t, 4, s.NumBlocks())
}

func TestSourceSectorSwap(t *testing.T) {
	s := New(make([]byte, 256*2*35), false, WithSectorGeometry(35, 2))
	require.NoError(t, s.WriteSectorSwapped(0, 0, []byte{0x12, 0x34}, 0))
	out := make([]byte, 2)
	require.NoError(t, s.ReadSector(0, 0, out, 0))
	assert.Equal(t, []byte{0x21, 0x43}, out)

	swappedBack := make([]byte, 2)
	require.NoError(t, s.ReadSectorSwapped(0, 0, swappedBack, 0))
	assert.Equal(t, []byte{0x12, 0x34}, swappedBack)
}

func TestSourceReadOnlyRejectsWrites(t *testing.T) {
	s := New(make([]byte, 512), true, WithBlockGeometry())
	err := s.WriteBlock(0, make([]byte, 8), 0)
	require.Error(t, err)
	kind, _ := core.KindOf(err)
	assert.Equal(t, core.KindIOError, kind)
}

func TestOpenAndPersistRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image.po")

	s := New(make([]byte, 512*2), false, WithBlockGeometry())
	require.NoError(t, s.WriteBlock(0, []byte("PRODOS"), 0))
	require.NoError(t, Persist(s, path))

	reopened, err := Open(path, false, WithBlockGeometry())
	require.NoError(t, err)
	out := make([]byte, 6)
	require.NoError(t, reopened.ReadBlock(0, out, 0))
	assert.Equal(t, "PRODOS", string(out))
}
