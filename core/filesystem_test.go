package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDriver is a minimal Driver used to exercise the Filesystem orchestrator
// state machine in isolation from any real on-disk format.
type fakeDriver struct {
	notes       *Notes
	dubious     bool
	scanFails   bool
	freeBytes   int64
	flushCalled int
}

func newFakeDriver() *fakeDriver { return &fakeDriver{notes: NewNotes()} }

func (f *fakeDriver) Characteristics() Characteristics {
	return Characteristics{Name: "Fake", CanWrite: true}
}
func (f *fakeDriver) PrepareFileAccess(deep bool) error {
	if f.scanFails {
		return NewError(KindDamaged, "scan failed")
	}
	return nil
}
func (f *fakeDriver) PrepareRawAccess() error { return nil }
func (f *fakeDriver) Flush() error            { f.flushCalled++; return nil }
func (f *fakeDriver) Format(name string, num int, bootable bool) error { return nil }
func (f *fakeDriver) FreeSpaceBytes() (int64, error)                   { return f.freeBytes, nil }
func (f *fakeDriver) Notes() *Notes                                    { return f.notes }
func (f *fakeDriver) IsDubious() bool                                  { return f.dubious }

func TestFilesystemModeTransitions(t *testing.T) {
	g := NewGatedChunk(newMemChunkSource(4))
	fs := NewFilesystem(g, newFakeDriver())

	assert.Equal(t, Raw, fs.Mode())
	require.NoError(t, fs.PrepareFileAccess(true))
	assert.Equal(t, FileAccess, fs.Mode())
	assert.Equal(t, ReadOnly, g.Level())

	require.NoError(t, fs.PrepareRawAccess())
	assert.Equal(t, Raw, fs.Mode())
	assert.Equal(t, Open, g.Level())
}

func TestFilesystemPrepareFileAccessRevertsOnFailure(t *testing.T) {
	g := NewGatedChunk(newMemChunkSource(4))
	d := newFakeDriver()
	d.scanFails = true
	fs := NewFilesystem(g, d)

	err := fs.PrepareFileAccess(true)
	require.Error(t, err)
	assert.Equal(t, Raw, fs.Mode())
	assert.Equal(t, Open, g.Level())
}

func TestFilesystemRefusesRawAccessWithOpenFiles(t *testing.T) {
	g := NewGatedChunk(newMemChunkSource(4))
	fs := NewFilesystem(g, newFakeDriver())
	require.NoError(t, fs.PrepareFileAccess(true))

	require.NoError(t, fs.TrackOpen(EntrySlot(1), DataFork, true))
	err := fs.PrepareRawAccess()
	require.Error(t, err)

	fs.TrackClose(EntrySlot(1), DataFork, true)
	require.NoError(t, fs.PrepareRawAccess())
}

func TestFilesystemOpenConflictRules(t *testing.T) {
	g := NewGatedChunk(newMemChunkSource(4))
	fs := NewFilesystem(g, newFakeDriver())
	require.NoError(t, fs.PrepareFileAccess(true))

	require.NoError(t, fs.TrackOpen(EntrySlot(1), DataFork, true))
	err := fs.TrackOpen(EntrySlot(1), DataFork, true)
	require.Error(t, err, "second writer on same fork must fail")

	require.NoError(t, fs.TrackOpen(EntrySlot(2), DataFork, false))
	require.NoError(t, fs.TrackOpen(EntrySlot(2), DataFork, false), "multiple readers permitted")

	require.NoError(t, fs.TrackOpen(EntrySlot(1), RsrcFork, true), "different fork, different writer, ok")
}

func TestFilesystemFreeSpaceMinusOneOutsideFileAccess(t *testing.T) {
	g := NewGatedChunk(newMemChunkSource(4))
	d := newFakeDriver()
	d.freeBytes = 4096
	fs := NewFilesystem(g, d)

	n, err := fs.FreeSpace()
	require.NoError(t, err)
	assert.EqualValues(t, -1, n)

	require.NoError(t, fs.PrepareFileAccess(true))
	n, err = fs.FreeSpace()
	require.NoError(t, err)
	assert.EqualValues(t, 4096, n)
}

func TestFilesystemIsReadOnlyWhenDubious(t *testing.T) {
	g := NewGatedChunk(newMemChunkSource(4))
	d := newFakeDriver()
	d.dubious = true
	fs := NewFilesystem(g, d)
	assert.True(t, fs.IsReadOnly())
}

func TestFilesystemDisposeIsIdempotent(t *testing.T) {
	g := NewGatedChunk(newMemChunkSource(4))
	fs := NewFilesystem(g, newFakeDriver())
	fs.Dispose()
	fs.Dispose()
	assert.Equal(t, Disposed, fs.Mode())
}
