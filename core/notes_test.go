package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotesSeverityCounting(t *testing.T) {
	n := NewNotes()
	n.Info("scan started")
	n.Warn("catalog entry %d has odd access byte", 3)
	n.Err("VTOC checksum mismatch")

	assert.Equal(t, 1, n.Count(Info))
	assert.Equal(t, 1, n.Count(Warning))
	assert.Equal(t, 1, n.Count(Error))
	assert.True(t, n.HasErrors())
	assert.Len(t, n.All(), 3)

	n.Reset()
	assert.Empty(t, n.All())
	assert.False(t, n.HasErrors())
}
