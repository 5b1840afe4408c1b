package errkit

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindMatching(t *testing.T) {
	err := New(Range, "storage", "offset out of block")
	assert.True(t, errors.Is(err, ErrRange))
	assert.False(t, errors.Is(err, ErrIO))
	assert.False(t, errors.Is(err, ErrErasureCode))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := io.ErrUnexpectedEOF
	err := Wrap(IO, "cluster", "reading frame", cause)
	assert.True(t, errors.Is(err, ErrIO))
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF), "unwraps to the original cause")

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, IO, e.Kind)
	assert.Equal(t, "cluster", e.Component)
}

func TestWrapf(t *testing.T) {
	err := Wrapf(Other, "ec", io.EOF, "block %d failed", 7)
	assert.Contains(t, err.Error(), "block 7 failed")
	assert.True(t, errors.Is(err, io.EOF))
}

func TestErrorString(t *testing.T) {
	err := New(ErasureCode, "ec", "too many absent blocks")
	assert.Equal(t, "ec[erasure_code]: too many absent blocks", err.Error())

	wrapped := Wrap(IO, "storage", "opening file", fmt.Errorf("boom"))
	assert.Equal(t, "storage[io]: opening file: boom", wrapped.Error())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "io", IO.String())
	assert.Equal(t, "range", Range.String())
	assert.Equal(t, "erasure_code", ErasureCode.String())
	assert.Equal(t, "invalid_arg", InvalidArg.String())
	assert.Equal(t, "other", Other.String())
}
