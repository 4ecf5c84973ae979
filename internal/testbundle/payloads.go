package testbundle

import (
	"encoding/binary"

	"github.com/jchantrell/abedit/internal/binio"
)

func alignedString(w *binio.Writer, s string) {
	w.I32(int32(len(s)))
	_, _ = w.Write([]byte(s))
	w.Align(4)
}

// TextAsset encodes a little-endian TextAsset payload.
func TextAsset(name string, script []byte) []byte {
	w := binio.NewWriter(binary.LittleEndian)
	alignedString(w, name)
	alignedString(w, string(script))
	return w.Bytes()
}

// TextureSpec describes a Texture2D payload.
type TextureSpec struct {
	Name     string
	Width    int
	Height   int
	Format   int
	MipCount int
	Image    []byte

	// Streamed textures keep Image empty and point into a resource node.
	StreamPath   string
	StreamOffset uint64
	StreamSize   uint32
}

// Texture2D encodes a little-endian Texture2D payload matching Texture2DTree.
func Texture2D(spec TextureSpec) []byte {
	mips := spec.MipCount
	if mips == 0 {
		mips = 1
	}
	complete := len(spec.Image)
	if spec.StreamPath != "" {
		complete = int(spec.StreamSize)
	}

	w := binio.NewWriter(binary.LittleEndian)
	alignedString(w, spec.Name)
	w.I32(0)
	w.Bool(false)
	w.Align(4)
	w.I32(int32(spec.Width))
	w.I32(int32(spec.Height))
	w.I32(int32(complete))
	w.I32(int32(spec.Format))
	w.I32(int32(mips))
	w.Bool(false)
	w.Align(4)
	w.I32(1)
	w.I32(2)
	w.I32(int32(len(spec.Image)))
	_, _ = w.Write(spec.Image)
	w.Align(4)
	w.U64(spec.StreamOffset)
	w.U32(spec.StreamSize)
	alignedString(w, spec.StreamPath)
	return w.Bytes()
}

// ContainerEntry maps an asset path to an object in the same file.
type ContainerEntry struct {
	Path   string
	PathID int64
}

// AssetBundle encodes a little-endian AssetBundle payload matching
// AssetBundleTree.
func AssetBundle(name string, entries []ContainerEntry) []byte {
	w := binio.NewWriter(binary.LittleEndian)
	alignedString(w, name)
	w.I32(int32(len(entries)))
	for i, e := range entries {
		alignedString(w, e.Path)
		w.I32(int32(i))
		w.I32(1)
		w.I32(0)
		w.I64(e.PathID)
	}
	w.Align(4)
	return w.Bytes()
}

// AudioClip encodes a payload matching AudioClipTree.
func AudioClip(name, source string, offset, size uint64) []byte {
	w := binio.NewWriter(binary.LittleEndian)
	alignedString(w, name)
	w.I32(0)
	alignedString(w, source)
	w.U64(offset)
	w.U64(size)
	return w.Bytes()
}

// Opaque encodes a payload matching OpaqueTree.
func Opaque(layer int32) []byte {
	w := binio.NewWriter(binary.LittleEndian)
	w.I32(layer)
	return w.Bytes()
}
