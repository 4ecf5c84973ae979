package typetree

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/jchantrell/abedit/internal/binio"
	"github.com/jchantrell/abedit/internal/errs"
)

// Read decodes data according to root. Every byte of data must be described
// by the tree.
func Read(root *Node, data []byte, order binary.ByteOrder) (*Struct, error) {
	r := binio.NewReader(data, order)
	v, err := readNode(r, root)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			err = fmt.Errorf("%w: %w", errs.ErrUnsupportedAssetType, err)
		}
		return nil, err
	}
	if r.Remaining() != 0 {
		return nil, errs.Kind(errs.ErrUnsupportedAssetType, "type tree %s leaves %d of %d bytes undescribed", root.Type, r.Remaining(), len(data))
	}
	s, ok := v.(*Struct)
	if !ok {
		return nil, errs.Kind(errs.ErrUnsupportedAssetType, "type tree root %s is not a struct", root.Type)
	}
	return s, nil
}

// Write encodes s according to root. It is the inverse of Read.
func Write(root *Node, s *Struct, order binary.ByteOrder) ([]byte, error) {
	w := binio.NewWriter(order)
	if err := writeNode(w, root, s); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func readNode(r *binio.Reader, n *Node) (any, error) {
	v, err := readValue(r, n)
	if err != nil {
		return nil, err
	}
	if n.Aligned() {
		if err := r.Align(4); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func readValue(r *binio.Reader, n *Node) (any, error) {
	switch n.Type {
	case "string":
		size, err := r.Count(1)
		if err != nil {
			return nil, err
		}
		b, err := r.Bytes(size)
		if err != nil {
			return nil, err
		}
		if len(n.Children) > 0 && n.Children[0].Aligned() {
			if err := r.Align(4); err != nil {
				return nil, err
			}
		}
		return string(b), nil
	case "TypelessData":
		size, err := r.Count(1)
		if err != nil {
			return nil, err
		}
		b, err := r.Bytes(size)
		if err != nil {
			return nil, err
		}
		return clone(b), nil
	}

	if len(n.Children) == 0 {
		return readPrimitive(r, n)
	}
	if n.isArray() {
		return readArray(r, n, n.Children[0])
	}
	if n.Type == "Array" {
		return readArray(r, n, n)
	}

	s := &Struct{Type: n.Type, Fields: make([]Field, 0, len(n.Children))}
	for _, c := range n.Children {
		v, err := readNode(r, c)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.Name, err)
		}
		s.Fields = append(s.Fields, Field{Name: c.Name, Value: v})
	}
	return s, nil
}

func readArray(r *binio.Reader, owner, array *Node) (any, error) {
	if len(array.Children) != 2 {
		return nil, errs.Kind(errs.ErrUnsupportedAssetType, "array %s has %d children", owner.Name, len(array.Children))
	}
	elem := array.Children[1]
	minSize := 0
	if elem.ByteSize > 0 {
		minSize = int(elem.ByteSize)
	}
	count, err := r.Count(minSize)
	if err != nil {
		return nil, err
	}

	var v any
	if isByte(elem) {
		b, err := r.Bytes(count)
		if err != nil {
			return nil, err
		}
		v = clone(b)
	} else {
		items := make([]any, 0, count)
		for i := 0; i < count; i++ {
			item, err := readNode(r, elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			items = append(items, item)
		}
		v = items
	}
	if array != owner && array.Aligned() {
		if err := r.Align(4); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func readPrimitive(r *binio.Reader, n *Node) (any, error) {
	switch n.Type {
	case "bool":
		return r.Bool()
	case "SInt8":
		v, err := r.U8()
		return int8(v), err
	case "UInt8", "char":
		return r.U8()
	case "short", "SInt16":
		return r.I16()
	case "UInt16", "unsigned short":
		return r.U16()
	case "int", "SInt32":
		return r.I32()
	case "UInt32", "unsigned int", "Type*":
		return r.U32()
	case "long long", "SInt64":
		return r.I64()
	case "UInt64", "unsigned long long", "FileSize":
		return r.U64()
	case "float":
		return r.F32()
	case "double":
		v, err := r.U64()
		return math.Float64frombits(v), err
	}
	return nil, errs.Kind(errs.ErrUnsupportedAssetType, "field %s has unknown leaf type %q", n.Name, n.Type)
}

func isByte(n *Node) bool {
	if len(n.Children) != 0 || n.Aligned() {
		return false
	}
	switch n.Type {
	case "UInt8", "char":
		return true
	}
	return false
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func writeNode(w *binio.Writer, n *Node, v any) error {
	if err := writeValue(w, n, v); err != nil {
		return err
	}
	if n.Aligned() {
		w.Align(4)
	}
	return nil
}

func writeValue(w *binio.Writer, n *Node, v any) error {
	switch n.Type {
	case "string":
		s, ok := v.(string)
		if !ok {
			return mismatch(n, v)
		}
		w.I32(int32(len(s)))
		_, _ = w.Write([]byte(s))
		if len(n.Children) > 0 && n.Children[0].Aligned() {
			w.Align(4)
		}
		return nil
	case "TypelessData":
		b, ok := v.([]byte)
		if !ok {
			return mismatch(n, v)
		}
		w.I32(int32(len(b)))
		_, _ = w.Write(b)
		return nil
	}

	if len(n.Children) == 0 {
		return writePrimitive(w, n, v)
	}
	if n.isArray() {
		return writeArray(w, n, n.Children[0], v)
	}
	if n.Type == "Array" {
		return writeArray(w, n, n, v)
	}

	s, ok := v.(*Struct)
	if !ok {
		return mismatch(n, v)
	}
	if len(s.Fields) != len(n.Children) {
		return errs.Kind(errs.ErrUnsupportedAssetType, "%s has %d fields, type tree has %d", n.Name, len(s.Fields), len(n.Children))
	}
	for i, c := range n.Children {
		if s.Fields[i].Name != c.Name {
			return errs.Kind(errs.ErrUnsupportedAssetType, "field %d of %s is %q, type tree has %q", i, n.Name, s.Fields[i].Name, c.Name)
		}
		if err := writeNode(w, c, s.Fields[i].Value); err != nil {
			return fmt.Errorf("%s: %w", c.Name, err)
		}
	}
	return nil
}

func writeArray(w *binio.Writer, owner, array *Node, v any) error {
	if len(array.Children) != 2 {
		return errs.Kind(errs.ErrUnsupportedAssetType, "array %s has %d children", owner.Name, len(array.Children))
	}
	elem := array.Children[1]
	if isByte(elem) {
		b, ok := v.([]byte)
		if !ok {
			return mismatch(owner, v)
		}
		w.I32(int32(len(b)))
		_, _ = w.Write(b)
	} else {
		items, ok := v.([]any)
		if !ok {
			return mismatch(owner, v)
		}
		w.I32(int32(len(items)))
		for i, item := range items {
			if err := writeNode(w, elem, item); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
	}
	if array != owner && array.Aligned() {
		w.Align(4)
	}
	return nil
}

func writePrimitive(w *binio.Writer, n *Node, v any) error {
	switch x := v.(type) {
	case bool:
		w.Bool(x)
	case int8:
		w.U8(uint8(x))
	case uint8:
		w.U8(x)
	case int16:
		w.I16(x)
	case uint16:
		w.U16(x)
	case int32:
		w.I32(x)
	case uint32:
		w.U32(x)
	case int64:
		w.I64(x)
	case uint64:
		w.U64(x)
	case float32:
		w.U32(math.Float32bits(x))
	case float64:
		w.U64(math.Float64bits(x))
	default:
		return mismatch(n, v)
	}
	return nil
}

func mismatch(n *Node, v any) error {
	return errs.Kind(errs.ErrUnsupportedAssetType, "field %s of type %s cannot hold %T", n.Name, n.Type, v)
}
