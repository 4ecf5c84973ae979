package testbundle

import (
	"encoding/binary"

	"github.com/jchantrell/abedit/internal/binio"
)

// Object is one object of a serialized file fixture.
type Object struct {
	PathID int64
	Tree   Tree
	Data   []byte
}

// Spec describes a serialized file fixture.
type Spec struct {
	// Version defaults to 22.
	Version      uint32
	UnityVersion string
	// NoTypeTree omits type trees from the type table.
	NoTypeTree bool
	Objects    []Object
	// Trailer is appended after the last object.
	Trailer []byte
}

// Serialized encodes a little-endian serialized file. Objects are laid out
// in order, each starting on an 8-byte boundary of the data section.
func Serialized(spec Spec) []byte {
	v := spec.Version
	if v == 0 {
		v = 22
	}
	unityVersion := spec.UnityVersion
	if unityVersion == "" {
		unityVersion = "2019.4.0f1"
	}

	var trees []Tree
	typeIndex := map[int32]int{}
	for _, o := range spec.Objects {
		if _, ok := typeIndex[o.Tree.ClassID]; !ok {
			typeIndex[o.Tree.ClassID] = len(trees)
			trees = append(trees, o.Tree)
		}
	}

	headerSize := 20
	if v >= 22 {
		headerSize = 48
	}

	// metadata is written after a placeholder header so alignment matches
	// absolute file positions
	w := binio.NewWriter(binary.LittleEndian)
	_, _ = w.Write(make([]byte, headerSize))
	w.CString(unityVersion)
	w.I32(19)
	w.Bool(!spec.NoTypeTree)
	w.I32(int32(len(trees)))
	for _, t := range trees {
		w.I32(t.ClassID)
		if v >= 16 {
			w.Bool(false)
		}
		if v >= 17 {
			w.I16(-1)
		}
		if v >= 16 && t.ClassID == 114 {
			_, _ = w.Write(make([]byte, 16))
		}
		_, _ = w.Write(make([]byte, 16))
		if !spec.NoTypeTree {
			t.write(w, v)
			if v >= 21 {
				w.I32(0)
			}
		}
	}

	starts := make([]int64, len(spec.Objects))
	var cursor int64
	for i, o := range spec.Objects {
		if m := cursor % 8; m != 0 {
			cursor += 8 - m
		}
		starts[i] = cursor
		cursor += int64(len(o.Data))
	}

	w.I32(int32(len(spec.Objects)))
	for i, o := range spec.Objects {
		w.Align(4)
		w.I64(o.PathID)
		if v >= 22 {
			w.I64(starts[i])
		} else {
			w.U32(uint32(starts[i]))
		}
		w.U32(uint32(len(o.Data)))
		if v >= 16 {
			w.I32(int32(typeIndex[o.Tree.ClassID]))
		} else {
			w.I32(o.Tree.ClassID)
			w.U16(uint16(o.Tree.ClassID))
		}
		if v < 17 {
			w.I16(-1)
		}
		if v == 15 || v == 16 {
			w.U8(0)
		}
	}
	w.I32(0) // script types
	w.I32(0) // externals
	if v >= 20 {
		w.I32(0)
	}
	w.CString("")

	metadataEnd := w.Len()
	w.Align(16)
	dataOffset := w.Len()

	for i, o := range spec.Objects {
		for int64(w.Len()-dataOffset) < starts[i] {
			w.U8(0)
		}
		_, _ = w.Write(o.Data)
	}
	_, _ = w.Write(spec.Trailer)

	out := w.Bytes()
	fileSize := len(out)
	metadataSize := metadataEnd - headerSize
	be := binary.BigEndian
	if v >= 22 {
		be.PutUint32(out[8:12], v)
		be.PutUint32(out[20:24], uint32(metadataSize))
		be.PutUint64(out[24:32], uint64(fileSize))
		be.PutUint64(out[32:40], uint64(dataOffset))
	} else {
		be.PutUint32(out[0:4], uint32(metadataSize))
		be.PutUint32(out[4:8], uint32(fileSize))
		be.PutUint32(out[8:12], v)
		be.PutUint32(out[12:16], uint32(dataOffset))
	}
	return out
}
