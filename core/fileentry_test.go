package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArenaAllocGetReset(t *testing.T) {
	a := NewArena[Attrs]()
	h := a.Alloc(Attrs{CookedName: "HELLO"})
	e, ok := a.Get(h)
	require.True(t, ok)
	assert.Equal(t, "HELLO", e.CookedName)

	a.Reset()
	_, ok = a.Get(h)
	assert.False(t, ok, "handle from before Reset must not resolve")
}

func TestArenaFreeSlot(t *testing.T) {
	a := NewArena[Attrs]()
	h := a.Alloc(Attrs{})
	a.Free(h.Slot)
	_, ok := a.Get(h)
	assert.False(t, ok)
}

func TestCookHighASCIIRoundTrip(t *testing.T) {
	raw := []byte{0xC8, 0xC5, 0xCC, 0xCC, 0xCF} // "HELLO" high-ASCII
	cooked := CookHighASCII(raw)
	assert.Equal(t, "HELLO", cooked)
	back := UncookToHighASCII(cooked)
	assert.Equal(t, raw, back)
}

func TestCookControlBytesUsesControlPictures(t *testing.T) {
	raw := []byte{0x01, 'A', 0x7F}
	cooked := CookControlBytes(raw)
	runes := []rune(cooked)
	require.Len(t, runes, 3)
	assert.Equal(t, rune(0x2401), runes[0])
	assert.Equal(t, 'A', runes[1])
	assert.Equal(t, rune(0x2421), runes[2])
}
