package binio

import (
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	w := NewWriter(binary.BigEndian)
	w.CString("UnityFS")
	w.U32(7)
	w.Align(16)
	w.SetOrder(binary.LittleEndian)
	w.I64(-5)
	w.U16(0xbeef)
	w.Bool(true)

	r := NewReader(w.Bytes(), binary.BigEndian)
	sig, err := r.CString()
	require.NoError(t, err)
	assert.Equal(t, "UnityFS", sig)

	v, err := r.U32()
	require.NoError(t, err)
	assert.Equal(t, uint32(7), v)

	require.NoError(t, r.Align(16))
	assert.Equal(t, 16, r.Pos())

	r.SetOrder(binary.LittleEndian)
	i, err := r.I64()
	require.NoError(t, err)
	assert.Equal(t, int64(-5), i)

	u, err := r.U16()
	require.NoError(t, err)
	assert.Equal(t, uint16(0xbeef), u)

	b, err := r.Bool()
	require.NoError(t, err)
	assert.True(t, b)
	assert.Zero(t, r.Remaining())
}

func TestReaderBounds(t *testing.T) {
	r := NewReader([]byte{1, 2, 3}, binary.LittleEndian)

	_, err := r.U32()
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))

	_, err = NewReader([]byte("abc"), binary.LittleEndian).CString()
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))

	w := NewWriter(binary.LittleEndian)
	w.I32(1000)
	_, err = NewReader(w.Bytes(), binary.LittleEndian).Count(1)
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}
