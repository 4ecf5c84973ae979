// Package serialized parses Unity serialized files: the header, type table,
// object table and externals found inside bundle nodes.
package serialized

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/jchantrell/abedit/internal/binio"
	"github.com/jchantrell/abedit/internal/errs"
)

// LooksSerialized reports whether data plausibly starts with a serialized
// file header. It is used for nodes whose flags do not say either way.
func LooksSerialized(data []byte) bool {
	if len(data) < 20 {
		return false
	}
	version := binary.BigEndian.Uint32(data[8:12])
	if version < MinVersion || version > MaxVersion {
		return false
	}
	if version >= verLargeFiles {
		if len(data) < 48 {
			return false
		}
		fileSize := int64(binary.BigEndian.Uint64(data[24:32]))
		return fileSize > 0 && fileSize <= int64(len(data))
	}
	fileSize := binary.BigEndian.Uint32(data[4:8])
	return fileSize > 0 && int64(fileSize) <= int64(len(data))
}

// Parse indexes the serialized file stored in data. name identifies the
// file in errors; node is the container node it came from.
func Parse(name string, node int, data []byte) (*File, error) {
	f := &File{Name: name, Node: node, Data: data}
	r := binio.NewReader(data, binary.BigEndian)

	if err := f.readHeader(r); err != nil {
		return nil, wrap(name, r, err)
	}
	if err := f.readMetadata(r); err != nil {
		return nil, wrap(name, r, err)
	}
	if err := f.index(); err != nil {
		return nil, errs.At(errs.StageIndex, name, -1, err)
	}
	return f, nil
}

func wrap(name string, r *binio.Reader, err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, errs.ErrTruncated) {
		err = fmt.Errorf("%w: %w", errs.ErrTruncated, err)
	}
	return errs.At(errs.StageIndex, name, int64(r.Pos()), err)
}

func (f *File) readHeader(r *binio.Reader) error {
	h := &f.Header
	metadataSize, err := r.U32()
	if err != nil {
		return err
	}
	fileSize, err := r.U32()
	if err != nil {
		return err
	}
	if h.Version, err = r.U32(); err != nil {
		return err
	}
	dataOffset, err := r.U32()
	if err != nil {
		return err
	}
	if h.Version == 0 || h.Version > 100 {
		return errs.Kind(errs.ErrFormat, "implausible serialized file version %d", h.Version)
	}
	if h.Version < MinVersion || h.Version > MaxVersion {
		return errs.Kind(errs.ErrUnsupportedVersion, "version %d", h.Version)
	}
	if h.Endian, err = r.U8(); err != nil {
		return err
	}
	reserved, err := r.Bytes(3)
	if err != nil {
		return err
	}
	copy(h.Reserved[:], reserved)

	h.MetadataSize = metadataSize
	h.FileSize = int64(fileSize)
	h.DataOffset = int64(dataOffset)
	if h.Version >= verLargeFiles {
		if h.MetadataSize, err = r.U32(); err != nil {
			return err
		}
		if h.FileSize, err = r.I64(); err != nil {
			return err
		}
		if h.DataOffset, err = r.I64(); err != nil {
			return err
		}
		if h.Unknown, err = r.I64(); err != nil {
			return err
		}
	}

	if h.FileSize > int64(len(f.Data)) {
		return errs.Kind(errs.ErrTruncated, "file size %d exceeds node size %d", h.FileSize, len(f.Data))
	}
	if h.DataOffset < int64(r.Pos()) || h.DataOffset > h.FileSize {
		return errs.Kind(errs.ErrFormat, "data offset %d outside file of %d bytes", h.DataOffset, h.FileSize)
	}

	f.order = binary.BigEndian
	if h.Endian == 0 {
		f.order = binary.LittleEndian
	}
	return nil
}

func (f *File) readMetadata(r *binio.Reader) error {
	v := f.Header.Version
	r.SetOrder(f.order)

	var err error
	if f.UnityVersion, err = r.CString(); err != nil {
		return err
	}
	if f.Platform, err = r.I32(); err != nil {
		return err
	}
	if f.EnableTypeTree, err = r.Bool(); err != nil {
		return err
	}

	typeCount, err := r.Count(5)
	if err != nil {
		return err
	}
	f.Types = make([]Type, typeCount)
	for i := range f.Types {
		if err := f.readType(r, &f.Types[i], false); err != nil {
			return fmt.Errorf("type %d: %w", i, err)
		}
	}

	objectCount, err := r.Count(20)
	if err != nil {
		return err
	}
	f.Objects = make([]*Object, 0, objectCount)
	for i := 0; i < objectCount; i++ {
		o, err := f.readObject(r)
		if err != nil {
			return fmt.Errorf("object %d: %w", i, err)
		}
		f.Objects = append(f.Objects, o)
	}

	scriptCount, err := r.Count(12)
	if err != nil {
		return err
	}
	f.ScriptTypes = make([]ScriptType, scriptCount)
	for i := range f.ScriptTypes {
		st := &f.ScriptTypes[i]
		if st.FileIndex, err = r.I32(); err != nil {
			return err
		}
		if err := r.Align(4); err != nil {
			return err
		}
		if st.PathID, err = r.I64(); err != nil {
			return err
		}
	}

	externalCount, err := r.Count(22)
	if err != nil {
		return err
	}
	f.Externals = make([]External, externalCount)
	for i := range f.Externals {
		e := &f.Externals[i]
		if _, err := r.CString(); err != nil {
			return err
		}
		guid, err := r.Bytes(16)
		if err != nil {
			return err
		}
		copy(e.GUID[:], guid)
		if e.Type, err = r.I32(); err != nil {
			return err
		}
		if e.PathName, err = r.CString(); err != nil {
			return err
		}
	}

	if v >= verRefObjects {
		refCount, err := r.Count(5)
		if err != nil {
			return err
		}
		f.RefTypes = make([]Type, refCount)
		for i := range f.RefTypes {
			if err := f.readType(r, &f.RefTypes[i], true); err != nil {
				return fmt.Errorf("ref type %d: %w", i, err)
			}
		}
	}

	if f.UserInfo, err = r.CString(); err != nil {
		return err
	}
	return nil
}

func (f *File) readType(r *binio.Reader, t *Type, isRef bool) error {
	v := f.Header.Version
	var err error
	if t.ClassID, err = r.I32(); err != nil {
		return err
	}
	if v >= verRefactoredClassID {
		if t.IsStripped, err = r.Bool(); err != nil {
			return err
		}
	}
	t.ScriptTypeIndex = -1
	if v >= verScriptTypeIndexInType {
		if t.ScriptTypeIndex, err = r.I16(); err != nil {
			return err
		}
	}
	if (isRef && t.ScriptTypeIndex >= 0) ||
		(v < verRefactoredClassID && t.ClassID < 0) ||
		(v >= verRefactoredClassID && t.ClassID == ClassMonoBehaviour) {
		if t.ScriptID, err = r.Bytes(16); err != nil {
			return err
		}
	}
	if t.OldTypeHash, err = r.Bytes(16); err != nil {
		return err
	}

	if !f.EnableTypeTree {
		return nil
	}
	if err := f.readTypeTree(r, t); err != nil {
		return err
	}
	if v < verStoredDependencies {
		return nil
	}
	if isRef {
		if t.ClassName, err = r.CString(); err != nil {
			return err
		}
		if t.Namespace, err = r.CString(); err != nil {
			return err
		}
		if t.Assembly, err = r.CString(); err != nil {
			return err
		}
		return nil
	}
	depCount, err := r.Count(4)
	if err != nil {
		return err
	}
	t.Dependencies = make([]int32, depCount)
	for i := range t.Dependencies {
		if t.Dependencies[i], err = r.I32(); err != nil {
			return err
		}
	}
	return nil
}

func (f *File) readTypeTree(r *binio.Reader, t *Type) error {
	nodeSize := 24
	if f.Header.Version >= verTypeTreeNodeRefHash {
		nodeSize = 32
	}
	nodeCount, err := r.Count(nodeSize)
	if err != nil {
		return err
	}
	bufSize, err := r.Count(1)
	if err != nil {
		return err
	}
	t.Nodes = make([]TypeTreeNode, nodeCount)
	for i := range t.Nodes {
		n := &t.Nodes[i]
		if n.Version, err = r.U16(); err != nil {
			return err
		}
		if n.Level, err = r.U8(); err != nil {
			return err
		}
		if n.TypeFlags, err = r.U8(); err != nil {
			return err
		}
		if n.TypeStrOffset, err = r.U32(); err != nil {
			return err
		}
		if n.NameStrOffset, err = r.U32(); err != nil {
			return err
		}
		if n.ByteSize, err = r.I32(); err != nil {
			return err
		}
		if n.Index, err = r.I32(); err != nil {
			return err
		}
		if n.MetaFlag, err = r.U32(); err != nil {
			return err
		}
		if nodeSize == 32 {
			if n.RefTypeHash, err = r.U64(); err != nil {
				return err
			}
		}
	}
	if t.StringBuffer, err = r.Bytes(bufSize); err != nil {
		return err
	}
	for i := range t.Nodes {
		n := &t.Nodes[i]
		n.Type = resolveString(t.StringBuffer, n.TypeStrOffset)
		n.Name = resolveString(t.StringBuffer, n.NameStrOffset)
	}
	return nil
}

func (f *File) readObject(r *binio.Reader) (*Object, error) {
	v := f.Header.Version
	o := &Object{}
	if err := r.Align(4); err != nil {
		return nil, err
	}
	var err error
	if o.PathID, err = r.I64(); err != nil {
		return nil, err
	}
	o.startPos = r.Pos()
	if v >= verLargeFiles {
		if o.ByteStart, err = r.I64(); err != nil {
			return nil, err
		}
	} else {
		start, err := r.U32()
		if err != nil {
			return nil, err
		}
		o.ByteStart = int64(start)
	}
	if o.ByteSize, err = r.U32(); err != nil {
		return nil, err
	}
	typeID, err := r.I32()
	if err != nil {
		return nil, err
	}
	if v < verRefactoredClassID {
		classID, err := r.U16()
		if err != nil {
			return nil, err
		}
		o.ClassID = int32(classID)
		o.TypeIndex = -1
		for i := range f.Types {
			if f.Types[i].ClassID == typeID {
				o.TypeIndex = int32(i)
				break
			}
		}
	} else {
		o.TypeIndex = typeID
		if typeID < 0 || int(typeID) >= len(f.Types) {
			return nil, errs.Kind(errs.ErrFormat, "path id %d references type %d of %d", o.PathID, typeID, len(f.Types))
		}
		o.ClassID = f.Types[typeID].ClassID
	}
	if v < verScriptTypeIndexInType {
		if _, err := r.I16(); err != nil {
			return nil, err
		}
	}
	if v == 15 || v == 16 {
		if _, err := r.U8(); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (f *File) index() error {
	f.byPath = make(map[int64]*Object, len(f.Objects))
	dataSize := f.DataSize()
	for _, o := range f.Objects {
		if _, dup := f.byPath[o.PathID]; dup {
			return errs.Kind(errs.ErrFormat, "duplicate path id %d", o.PathID)
		}
		if o.ByteStart < 0 || o.End() > dataSize {
			return errs.Kind(errs.ErrTruncated, "path id %d range [%d, %d) exceeds data section of %d bytes",
				o.PathID, o.ByteStart, o.End(), dataSize)
		}
		f.byPath[o.PathID] = o
	}
	ordered := f.Ordered()
	for i := 1; i < len(ordered); i++ {
		prev, cur := ordered[i-1], ordered[i]
		if cur.ByteStart < prev.End() {
			return errs.Kind(errs.ErrFormat, "path id %d overlaps path id %d", cur.PathID, prev.PathID)
		}
	}
	return nil
}
