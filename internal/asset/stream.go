package asset

import (
	"log/slog"

	"github.com/jchantrell/abedit/internal/bundle"
	"github.com/jchantrell/abedit/internal/errs"
	"github.com/jchantrell/abedit/internal/patch"
	"github.com/jchantrell/abedit/internal/serialized"
	"github.com/jchantrell/abedit/internal/typetree"
)

// streamFields names the offset, size and path members of the structs Unity
// uses to point into a resource node.
var streamFields = map[string][3]string{
	"StreamingInfo":    {"offset", "size", "path"},
	"StreamedResource": {"m_Offset", "m_Size", "m_Source"},
}

// StreamRefs lists every object in b that keeps data in a resource node:
// Texture2D and Mesh m_StreamData, AudioClip and VideoClip m_Resource, and
// any other class with a StreamingInfo or StreamedResource member. Objects
// whose type tree cannot be read are skipped.
func StreamRefs(b *bundle.Bundle) []patch.ResourceRef {
	var refs []patch.ResourceRef
	for _, f := range b.Files {
		for _, o := range f.Objects {
			if !f.Type(o).HasTypeTree() {
				continue
			}
			ref, ok, err := streamRef(b, f, o)
			if err != nil {
				slog.Debug("Skipping stream reference", "file", f.Name, "path_id", o.PathID, "class", serialized.ClassName(o.ClassID), "error", err)
				continue
			}
			if ok {
				refs = append(refs, ref)
			}
		}
	}
	return refs
}

// findStream returns the first member of v that points into a resource.
func findStream(v *typetree.Struct) (field string, names [3]string, sd *typetree.Struct) {
	for _, f := range v.Fields {
		s, ok := f.Value.(*typetree.Struct)
		if !ok {
			continue
		}
		if names, ok := streamFields[s.Type]; ok {
			return f.Name, names, s
		}
	}
	return "", names, nil
}

func streamRef(b *bundle.Bundle, f *serialized.File, o *serialized.Object) (patch.ResourceRef, bool, error) {
	src, err := read(f, o)
	if err != nil {
		return patch.ResourceRef{}, false, err
	}
	field, names, sd := findStream(src.value)
	if sd == nil {
		return patch.ResourceRef{}, false, nil
	}
	offset, okOffset := sd.Int(names[0])
	size, okSize := sd.Int(names[1])
	path, okPath := sd.String(names[2])
	if !okOffset || !okSize || !okPath {
		return patch.ResourceRef{}, false, missing(serialized.ClassName(o.ClassID), field)
	}
	if path == "" {
		return patch.ResourceRef{}, false, nil
	}
	node, _, err := b.Resource(path)
	if err != nil {
		return patch.ResourceRef{}, false, err
	}

	root, order := src.root, src.order
	class := serialized.ClassName(o.ClassID)
	return patch.ResourceRef{
		Ref:    patch.Ref{File: f.Name, PathID: o.PathID},
		Node:   node,
		Offset: offset,
		Size:   size,
		Relocate: func(object []byte, offset, size int64) ([]byte, error) {
			v, err := typetree.Read(root, object, order)
			if err != nil {
				return nil, err
			}
			sd, ok := v.Struct(field)
			if !ok {
				return nil, missing(class, field)
			}
			if !sd.SetInt(names[0], offset) || !sd.SetInt(names[1], size) {
				return nil, errs.Kind(errs.ErrUnsupportedAssetType, "%s.%s offset and size are not integers", class, field)
			}
			return typetree.Write(root, v, order)
		},
	}, true, nil
}
