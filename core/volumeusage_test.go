package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVolumeUsageConflictDetection(t *testing.T) {
	vu := NewVolumeUsage(10, nil)
	vu.MarkInUse(5)
	vu.SetUsage(5, FileRef(1))
	assert.False(t, vu.Slot(5).Conflict)

	vu.SetUsage(5, FileRef(2))
	assert.True(t, vu.Slot(5).Conflict)
}

func TestVolumeUsageNotifiesBothParties(t *testing.T) {
	type call struct {
		block      int
		self, other FileRef
	}
	var calls []call
	obs := conflictFunc(func(block int, self, other FileRef) {
		calls = append(calls, call{block, self, other})
	})
	vu := NewVolumeUsage(4, obs)
	vu.MarkInUse(1)
	vu.SetUsage(1, FileRef(10))
	vu.SetUsage(1, FileRef(20))

	assert.Len(t, calls, 2)
	assert.Contains(t, calls, call{1, FileRef(10), FileRef(20)})
	assert.Contains(t, calls, call{1, FileRef(20), FileRef(10)})
}

type conflictFunc func(block int, self, other FileRef)

func (f conflictFunc) Notify(block int, self, other FileRef) { f(block, self, other) }

func TestVolumeUsageAnalyze(t *testing.T) {
	vu := NewVolumeUsage(4, nil)
	vu.SetUsage(0, SystemRef)
	vu.SetUsage(1, FileRef(1))
	native := func(n int) bool {
		return n == 0 || n == 1 || n == 2
	}
	counts := vu.Analyze(native)
	assert.Equal(t, 2, counts.MarkedUsed)
	assert.Equal(t, 1, counts.NotMarkedUsed) // block 2
	assert.True(t, counts.IsDubious())
}
