package serialized

import (
	"encoding/binary"
	"sort"
)

// Supported serialized file format range. Older formats lay out object rows
// and type trees differently and are rejected.
const (
	MinVersion = 14
	MaxVersion = 22
)

// format thresholds
const (
	verRefactoredClassID     = 16
	verScriptTypeIndexInType = 17
	verTypeTreeNodeRefHash   = 19
	verRefObjects            = 20
	verStoredDependencies    = 21
	verLargeFiles            = 22
)

// Header is the big-endian preamble of a serialized file.
type Header struct {
	MetadataSize uint32
	FileSize     int64
	Version      uint32
	DataOffset   int64
	Endian       uint8
	Reserved     [3]byte
	Unknown      int64
}

// TypeTreeNode is one flattened node of a type tree.
type TypeTreeNode struct {
	Version       uint16
	Level         uint8
	TypeFlags     uint8
	TypeStrOffset uint32
	NameStrOffset uint32
	ByteSize      int32
	Index         int32
	MetaFlag      uint32
	RefTypeHash   uint64
	Type          string
	Name          string
}

// Type is an entry of the serialized file's type table.
type Type struct {
	ClassID         int32
	IsStripped      bool
	ScriptTypeIndex int16
	ScriptID        []byte
	OldTypeHash     []byte
	Nodes           []TypeTreeNode
	StringBuffer    []byte
	Dependencies    []int32
	ClassName       string
	Namespace       string
	Assembly        string
}

// HasTypeTree reports whether field layout information is available.
func (t *Type) HasTypeTree() bool {
	return t != nil && len(t.Nodes) > 0
}

// Object is one row of the object table. ByteStart is relative to the
// file's data offset.
type Object struct {
	PathID    int64
	ByteStart int64
	ByteSize  uint32
	TypeIndex int32
	ClassID   int32
	Dirty     bool

	startPos int // metadata position of the byteStart field
}

// End returns the exclusive end of the object's range within the data section.
func (o *Object) End() int64 {
	return o.ByteStart + int64(o.ByteSize)
}

// External references another serialized file.
type External struct {
	GUID     [16]byte
	Type     int32
	PathName string
}

// File is a parsed serialized file. Data is a view of the node bytes the file
// was parsed from.
type File struct {
	Name           string
	Node           int
	Header         Header
	UnityVersion   string
	Platform       int32
	EnableTypeTree bool
	Types          []Type
	Objects        []*Object
	ScriptTypes    []ScriptType
	Externals      []External
	RefTypes       []Type
	UserInfo       string
	Data           []byte

	order  binary.ByteOrder
	byPath map[int64]*Object
}

// ScriptType is an entry of the script type table.
type ScriptType struct {
	FileIndex int32
	PathID    int64
}

// Order returns the byte order of the metadata and object payloads.
func (f *File) Order() binary.ByteOrder {
	return f.order
}

// Object looks up an object by path id.
func (f *File) Object(pathID int64) (*Object, bool) {
	o, ok := f.byPath[pathID]
	return o, ok
}

// Type returns the type table entry of an object, or nil if the object's
// type index is out of range.
func (f *File) Type(o *Object) *Type {
	if o.TypeIndex < 0 || int(o.TypeIndex) >= len(f.Types) {
		return nil
	}
	return &f.Types[o.TypeIndex]
}

// ObjectData returns a view of the object's bytes.
func (f *File) ObjectData(o *Object) []byte {
	start := f.Header.DataOffset + o.ByteStart
	return f.Data[start : start+int64(o.ByteSize)]
}

// Ordered returns the objects sorted by their position in the data section.
func (f *File) Ordered() []*Object {
	out := make([]*Object, len(f.Objects))
	copy(out, f.Objects)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ByteStart < out[j].ByteStart
	})
	return out
}

// DataSize returns the length of the data section as declared by the header.
func (f *File) DataSize() int64 {
	return f.Header.FileSize - f.Header.DataOffset
}
