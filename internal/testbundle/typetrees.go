// Package testbundle builds small UnityFS containers and serialized files in
// memory for tests.
package testbundle

import (
	"github.com/jchantrell/abedit/internal/binio"
	"github.com/jchantrell/abedit/internal/serialized"
)

const align = 0x4000

// Field describes one node of a type tree, in flattened depth-first order.
type Field struct {
	Level int
	Type  string
	Name  string
	Size  int32
	Flags uint32
}

// Tree is a class id with its flattened type tree.
type Tree struct {
	ClassID int32
	Fields  []Field
}

func stringField(level int, name string) []Field {
	return []Field{
		{level, "string", name, -1, 0},
		{level + 1, "Array", "Array", -1, align},
		{level + 2, "int", "size", 4, 0},
		{level + 2, "char", "data", 1, 0},
	}
}

func concat(parts ...[]Field) []Field {
	var out []Field
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// TextAssetTree is the layout of class 49.
var TextAssetTree = Tree{
	ClassID: serialized.ClassTextAsset,
	Fields: concat(
		[]Field{{0, "TextAsset", "Base", -1, 0}},
		stringField(1, "m_Name"),
		stringField(1, "m_Script"),
	),
}

// Texture2DTree is a reduced layout of class 28 carrying every field the
// codecs touch.
var Texture2DTree = Tree{
	ClassID: serialized.ClassTexture2D,
	Fields: concat(
		[]Field{{0, "Texture2D", "Base", -1, 0}},
		stringField(1, "m_Name"),
		[]Field{
			{1, "int", "m_ForcedFallbackFormat", 4, 0},
			{1, "bool", "m_DownscaleFallback", 1, align},
			{1, "int", "m_Width", 4, 0},
			{1, "int", "m_Height", 4, 0},
			{1, "int", "m_CompleteImageSize", 4, 0},
			{1, "int", "m_TextureFormat", 4, 0},
			{1, "int", "m_MipCount", 4, 0},
			{1, "bool", "m_IsReadable", 1, align},
			{1, "int", "m_ImageCount", 4, 0},
			{1, "int", "m_TextureDimension", 4, 0},
			{1, "TypelessData", "image data", -1, align},
			{2, "int", "size", 4, 0},
			{2, "UInt8", "data", 1, 0},
			{1, "StreamingInfo", "m_StreamData", -1, 0},
			{2, "UInt64", "offset", 8, 0},
			{2, "unsigned int", "size", 4, 0},
		},
		stringField(2, "path"),
	),
}

// AssetBundleTree is a reduced layout of class 142 with its container map.
var AssetBundleTree = Tree{
	ClassID: serialized.ClassAssetBundle,
	Fields: concat(
		[]Field{{0, "AssetBundle", "Base", -1, 0}},
		stringField(1, "m_Name"),
		[]Field{
			{1, "map", "m_Container", -1, 0},
			{2, "Array", "Array", -1, align},
			{3, "int", "size", 4, 0},
			{3, "pair", "data", -1, 0},
		},
		stringField(4, "first"),
		[]Field{
			{4, "AssetInfo", "second", -1, 0},
			{5, "int", "preloadIndex", 4, 0},
			{5, "int", "preloadSize", 4, 0},
			{5, "PPtr<Object>", "asset", 12, 0},
			{6, "int", "m_FileID", 4, 0},
			{6, "SInt64", "m_PathID", 8, 0},
		},
	),
}

// AudioClipTree is a reduced layout of class 83 whose samples stream from a
// resource node through m_Resource.
var AudioClipTree = Tree{
	ClassID: serialized.ClassAudioClip,
	Fields: concat(
		[]Field{{0, "AudioClip", "Base", -1, 0}},
		stringField(1, "m_Name"),
		[]Field{
			{1, "int", "m_LoadType", 4, 0},
			{1, "StreamedResource", "m_Resource", -1, 0},
		},
		stringField(2, "m_Source"),
		[]Field{
			{2, "UInt64", "m_Offset", 8, 0},
			{2, "UInt64", "m_Size", 8, 0},
		},
	),
}

// OpaqueTree is a class with a single int field, used for objects the
// codecs do not interpret.
var OpaqueTree = Tree{
	ClassID: 1,
	Fields: []Field{
		{0, "GameObject", "Base", -1, 0},
		{1, "int", "m_Layer", 4, 0},
	},
}

func (t Tree) nodes() ([]serialized.TypeTreeNode, []byte) {
	var buf []byte
	local := map[string]uint32{}
	offset := func(s string) uint32 {
		if off, ok := local[s]; ok {
			return off
		}
		off := uint32(len(buf))
		buf = append(buf, s...)
		buf = append(buf, 0)
		local[s] = off
		return off
	}

	nodes := make([]serialized.TypeTreeNode, len(t.Fields))
	for i, f := range t.Fields {
		typeOff, ok := serialized.CommonStringOffset(f.Type)
		if !ok {
			typeOff = offset(f.Type)
		}
		nodes[i] = serialized.TypeTreeNode{
			Version:       1,
			Level:         uint8(f.Level),
			TypeStrOffset: typeOff,
			NameStrOffset: offset(f.Name),
			ByteSize:      f.Size,
			Index:         int32(i),
			MetaFlag:      f.Flags,
		}
	}
	return nodes, buf
}

func (t Tree) write(w *binio.Writer, version uint32) {
	nodes, buf := t.nodes()
	w.I32(int32(len(nodes)))
	w.I32(int32(len(buf)))
	for _, n := range nodes {
		w.U16(n.Version)
		w.U8(n.Level)
		w.U8(n.TypeFlags)
		w.U32(n.TypeStrOffset)
		w.U32(n.NameStrOffset)
		w.I32(n.ByteSize)
		w.I32(n.Index)
		w.U32(n.MetaFlag)
		if version >= 19 {
			w.U64(0)
		}
	}
	_, _ = w.Write(buf)
}
