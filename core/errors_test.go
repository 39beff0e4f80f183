package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKindOf(t *testing.T) {
	err := NewError(KindDiskFull, "no space")
	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, KindDiskFull, kind)
}

func TestErrorWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk read failed")
	err := WrapError(KindIOError, cause, "reading block %d", 5)
	assert.ErrorIs(t, err, cause)
	kind, _ := KindOf(err)
	assert.Equal(t, KindIOError, kind)
}

func TestErrorIsKindSentinel(t *testing.T) {
	err := NewError(KindDiskFull, "anything")
	assert.True(t, errors.Is(err, &Error{Kind: KindDiskFull}))
	assert.False(t, errors.Is(err, &Error{Kind: KindIOError}))
}
