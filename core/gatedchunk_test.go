package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatedChunkClosedDeniesEverything(t *testing.T) {
	g := NewGatedChunk(newMemChunkSource(4))
	buf := make([]byte, 512)
	err := g.ReadBlock(0, buf, 0)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindObjectDisposed, kind)
}

func TestGatedChunkOpenAllowsReadWrite(t *testing.T) {
	g := NewGatedChunk(newMemChunkSource(4))
	g.SetLevel(Open)
	buf := []byte("hello world hello world hello world!!!")
	require.NoError(t, g.WriteBlock(0, buf, 0))
	out := make([]byte, len(buf))
	require.NoError(t, g.ReadBlock(0, out, 0))
	assert.Equal(t, buf, out)
}

func TestGatedChunkReadOnlyDeniesWrite(t *testing.T) {
	g := NewGatedChunk(newMemChunkSource(4))
	g.SetLevel(ReadOnly)
	buf := make([]byte, 512)
	require.NoError(t, g.ReadBlock(0, buf, 0))

	err := g.WriteBlock(0, buf, 0)
	require.Error(t, err)
	kind, _ := KindOf(err)
	assert.Equal(t, KindAccessDenied, kind)
}

func TestGatedChunkPrivilegedWriteBypassesReadOnly(t *testing.T) {
	g := NewGatedChunk(newMemChunkSource(4))
	g.SetLevel(ReadOnly)
	err := g.PrivilegedWrite(func(cs ChunkSource) error {
		return cs.WriteBlock(0, make([]byte, 512), 0)
	})
	require.NoError(t, err)
}
