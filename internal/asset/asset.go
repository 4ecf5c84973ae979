// Package asset decodes and re-encodes the object types the editor can
// modify: TextAsset and Texture2D. Every other class is listed as opaque.
package asset

import (
	"encoding/binary"

	"github.com/jchantrell/abedit/internal/errs"
	"github.com/jchantrell/abedit/internal/serialized"
	"github.com/jchantrell/abedit/internal/typetree"
)

// Decoded is a decoded object. The concrete type is one of *TextAsset,
// *Texture2D or *Opaque.
type Decoded interface {
	AssetName() string
	ClassID() int32
}

// Resources resolves resource node paths referenced by streamed textures.
type Resources interface {
	Resource(archivePath string) (node int, data []byte, err error)
}

// Opaque describes an object without a codec. It can be listed but not
// decoded or edited.
type Opaque struct {
	Class int32
	Name  string
	Size  uint32
}

func (o *Opaque) AssetName() string { return o.Name }
func (o *Opaque) ClassID() int32    { return o.Class }

// source keeps what an encoder needs to write a decoded value back.
type source struct {
	root  *typetree.Node
	value *typetree.Struct
	order binary.ByteOrder
}

type decoder func(src source, res Resources) (Decoded, error)

var decoders = map[int32]decoder{
	serialized.ClassTextAsset: decodeTextAsset,
	serialized.ClassTexture2D: decodeTexture2D,
}

// Supported reports whether objects of a class can be decoded and edited.
func Supported(classID int32) bool {
	_, ok := decoders[classID]
	return ok
}

// Decode interprets an object. Classes without a codec, objects without a
// type tree and type trees lacking the expected fields all fail with
// errs.ErrUnsupportedAssetType.
func Decode(f *serialized.File, o *serialized.Object, res Resources) (Decoded, error) {
	d, err := decode(f, o, res)
	if err != nil {
		return nil, errs.ForObject(errs.StageDecode, f.Name, o.PathID, err)
	}
	return d, nil
}

func decode(f *serialized.File, o *serialized.Object, res Resources) (Decoded, error) {
	dec, ok := decoders[o.ClassID]
	if !ok {
		return nil, errs.Kind(errs.ErrUnsupportedAssetType, "%s (class %d)", serialized.ClassName(o.ClassID), o.ClassID)
	}
	src, err := read(f, o)
	if err != nil {
		return nil, err
	}
	return dec(src, res)
}

func read(f *serialized.File, o *serialized.Object) (source, error) {
	t := f.Type(o)
	if !t.HasTypeTree() {
		return source{}, errs.Kind(errs.ErrUnsupportedAssetType, "%s has no type tree", serialized.ClassName(o.ClassID))
	}
	root, err := typetree.Build(t)
	if err != nil {
		return source{}, err
	}
	v, err := typetree.Read(root, f.ObjectData(o), f.Order())
	if err != nil {
		return source{}, err
	}
	return source{root: root, value: v, order: f.Order()}, nil
}

// Encode serializes a decoded value. The returned resource bytes are nil
// unless the object keeps its payload in a resource node.
func Encode(d Decoded) (object, resource []byte, err error) {
	switch v := d.(type) {
	case *TextAsset:
		return v.encode()
	case *Texture2D:
		return v.encode()
	}
	return nil, nil, errs.Kind(errs.ErrUnsupportedAssetType, "cannot encode %T", d)
}

func missing(class, field string) error {
	return errs.Kind(errs.ErrUnsupportedAssetType, "%s type tree lacks %s", class, field)
}

// Info summarizes an object for listings.
type Info struct {
	File      string
	PathID    int64
	ClassID   int32
	ClassName string
	Name      string
	Offset    int64
	Size      uint32
	Editable  bool
}

// Inspect describes an object without decoding its payload.
func Inspect(f *serialized.File, o *serialized.Object) Info {
	t := f.Type(o)
	return Info{
		File:      f.Name,
		PathID:    o.PathID,
		ClassID:   o.ClassID,
		ClassName: serialized.ClassName(o.ClassID),
		Name:      PeekName(f, o),
		Offset:    o.ByteStart,
		Size:      o.ByteSize,
		Editable:  Supported(o.ClassID) && t.HasTypeTree(),
	}
}

// Describe returns the decoded form of supported objects and an *Opaque
// for everything else.
func Describe(f *serialized.File, o *serialized.Object, res Resources) (Decoded, error) {
	if !Supported(o.ClassID) {
		return &Opaque{Class: o.ClassID, Name: PeekName(f, o), Size: o.ByteSize}, nil
	}
	return Decode(f, o, res)
}

// Fields reads an object through its type tree.
func Fields(f *serialized.File, o *serialized.Object) (*typetree.Struct, error) {
	src, err := read(f, o)
	if err != nil {
		return nil, err
	}
	return src.value, nil
}

// PeekName reads m_Name when it is the object's first field.
func PeekName(f *serialized.File, o *serialized.Object) string {
	t := f.Type(o)
	if !t.HasTypeTree() || len(t.Nodes) < 2 {
		return ""
	}
	if n := t.Nodes[1]; n.Name != "m_Name" || n.Type != "string" {
		return ""
	}
	data := f.ObjectData(o)
	if len(data) < 4 {
		return ""
	}
	size := int(f.Order().Uint32(data[:4]))
	if size < 0 || size > len(data)-4 {
		return ""
	}
	return string(data[4 : 4+size])
}
