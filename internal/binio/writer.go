package binio

import (
	"bytes"
	"encoding/binary"
)

// Writer appends fixed-width values to a growable buffer.
type Writer struct {
	buf   bytes.Buffer
	order binary.ByteOrder
	tmp   [8]byte
}

func NewWriter(order binary.ByteOrder) *Writer {
	return &Writer{order: order}
}

func (w *Writer) Len() int                        { return w.buf.Len() }
func (w *Writer) Bytes() []byte                   { return w.buf.Bytes() }
func (w *Writer) Order() binary.ByteOrder         { return w.order }
func (w *Writer) SetOrder(order binary.ByteOrder) { w.order = order }

// Write implements io.Writer; it never fails.
func (w *Writer) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *Writer) U8(v uint8) { w.buf.WriteByte(v) }

func (w *Writer) Bool(v bool) {
	if v {
		w.U8(1)
		return
	}
	w.U8(0)
}

func (w *Writer) U16(v uint16) {
	w.order.PutUint16(w.tmp[:2], v)
	w.buf.Write(w.tmp[:2])
}

func (w *Writer) I16(v int16) { w.U16(uint16(v)) }

func (w *Writer) U32(v uint32) {
	w.order.PutUint32(w.tmp[:4], v)
	w.buf.Write(w.tmp[:4])
}

func (w *Writer) I32(v int32) { w.U32(uint32(v)) }

func (w *Writer) U64(v uint64) {
	w.order.PutUint64(w.tmp[:8], v)
	w.buf.Write(w.tmp[:8])
}

func (w *Writer) I64(v int64) { w.U64(uint64(v)) }

func (w *Writer) CString(s string) {
	w.buf.WriteString(s)
	w.buf.WriteByte(0)
}

// Align pads with zeros up to the next multiple of n.
func (w *Writer) Align(n int) {
	if n <= 1 {
		return
	}
	for w.buf.Len()%n != 0 {
		w.buf.WriteByte(0)
	}
}
