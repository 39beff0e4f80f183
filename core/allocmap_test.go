package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocMapAllocateAndFree(t *testing.T) {
	vu := NewVolumeUsage(8, nil)
	am := NewAllocMap(8, vu)
	assert.Equal(t, 8, am.FreeCount())

	n, err := am.Allocate(FileRef(1))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.True(t, am.IsUsed(0))
	assert.Equal(t, 7, am.FreeCount())

	am.MarkUnused(0)
	assert.Equal(t, 8, am.FreeCount())
}

func TestAllocMapDiskFull(t *testing.T) {
	am := NewAllocMap(2, nil)
	_, err := am.Allocate(FileRef(1))
	require.NoError(t, err)
	_, err = am.Allocate(FileRef(1))
	require.NoError(t, err)
	_, err = am.Allocate(FileRef(1))
	require.Error(t, err)
	kind, _ := KindOf(err)
	assert.Equal(t, KindDiskFull, kind)
}

func TestAllocMapPadding(t *testing.T) {
	am := NewAllocMap(3, nil)
	am.MarkPadding(8)
	assert.Equal(t, 3, am.FreeCount())
	for i := 3; i < 8; i++ {
		_, err := am.Allocate(FileRef(1))
		if i < 5 {
			require.NoError(t, err)
		}
	}
}

func TestAllocMapUpdateBracketAbort(t *testing.T) {
	am := NewAllocMap(8, nil)
	am.BeginUpdate()
	a, _ := am.Allocate(FileRef(1))
	b, _ := am.Allocate(FileRef(1))
	am.AbortUpdate()
	assert.False(t, am.IsUsed(a))
	assert.False(t, am.IsUsed(b))
}

func TestAllocMapUpdateBracketCommit(t *testing.T) {
	am := NewAllocMap(8, nil)
	am.BeginUpdate()
	a, _ := am.Allocate(FileRef(1))
	am.EndUpdate()
	assert.True(t, am.IsUsed(a))
}

func TestAllocMapEnsureSpace(t *testing.T) {
	am := NewAllocMap(2, nil)
	require.NoError(t, am.EnsureSpace(2))
	require.Error(t, am.EnsureSpace(3))
}
