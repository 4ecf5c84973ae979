// Package binio provides bounds-checked binary readers and writers for the
// mixed-endian structures found in Unity containers.
package binio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Reader reads fixed-width values from an in-memory buffer.
type Reader struct {
	b     []byte
	pos   int
	order binary.ByteOrder
}

func NewReader(b []byte, order binary.ByteOrder) *Reader {
	return &Reader{b: b, order: order}
}

func (r *Reader) Pos() int                        { return r.pos }
func (r *Reader) Len() int                        { return len(r.b) }
func (r *Reader) Remaining() int                  { return len(r.b) - r.pos }
func (r *Reader) Order() binary.ByteOrder         { return r.order }
func (r *Reader) SetOrder(order binary.ByteOrder) { r.order = order }

// Seek moves the cursor to an absolute position.
func (r *Reader) Seek(pos int) error {
	if pos < 0 || pos > len(r.b) {
		return fmt.Errorf("seek to %d outside buffer of %d bytes: %w", pos, len(r.b), io.ErrUnexpectedEOF)
	}
	r.pos = pos
	return nil
}

// Align advances the cursor to the next multiple of n.
func (r *Reader) Align(n int) error {
	if n <= 1 {
		return nil
	}
	if m := r.pos % n; m != 0 {
		return r.Seek(r.pos + n - m)
	}
	return nil
}

// Bytes returns the next n bytes without copying.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if n < 0 || n > len(r.b)-r.pos {
		return nil, fmt.Errorf("read of %d bytes at %d exceeds buffer of %d bytes: %w", n, r.pos, len(r.b), io.ErrUnexpectedEOF)
	}
	out := r.b[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *Reader) U8() (uint8, error) {
	b, err := r.Bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) Bool() (bool, error) {
	v, err := r.U8()
	return v != 0, err
}

func (r *Reader) U16() (uint16, error) {
	b, err := r.Bytes(2)
	if err != nil {
		return 0, err
	}
	return r.order.Uint16(b), nil
}

func (r *Reader) I16() (int16, error) {
	v, err := r.U16()
	return int16(v), err
}

func (r *Reader) U32() (uint32, error) {
	b, err := r.Bytes(4)
	if err != nil {
		return 0, err
	}
	return r.order.Uint32(b), nil
}

func (r *Reader) I32() (int32, error) {
	v, err := r.U32()
	return int32(v), err
}

func (r *Reader) U64() (uint64, error) {
	b, err := r.Bytes(8)
	if err != nil {
		return 0, err
	}
	return r.order.Uint64(b), nil
}

func (r *Reader) I64() (int64, error) {
	v, err := r.U64()
	return int64(v), err
}

func (r *Reader) F32() (float32, error) {
	v, err := r.U32()
	return math.Float32frombits(v), err
}

// CString reads a null-terminated string and consumes the terminator.
func (r *Reader) CString() (string, error) {
	start := r.pos
	for i := r.pos; i < len(r.b); i++ {
		if r.b[i] == 0 {
			r.pos = i + 1
			return string(r.b[start:i]), nil
		}
	}
	return "", fmt.Errorf("unterminated string at %d: %w", start, io.ErrUnexpectedEOF)
}

// Count reads a signed 32-bit element count and rejects negative values or
// counts that could not possibly fit in the remaining buffer.
func (r *Reader) Count(minElemSize int) (int, error) {
	n, err := r.I32()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative count %d at %d", n, r.pos-4)
	}
	if minElemSize > 0 && int64(n)*int64(minElemSize) > int64(r.Remaining()) {
		return 0, fmt.Errorf("count %d at %d exceeds remaining %d bytes: %w", n, r.pos-4, r.Remaining(), io.ErrUnexpectedEOF)
	}
	return int(n), nil
}
