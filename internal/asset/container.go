package asset

import (
	"github.com/jchantrell/abedit/internal/serialized"
	"github.com/jchantrell/abedit/internal/typetree"
)

// ContainerPaths maps path ids to the asset paths recorded in the file's
// AssetBundle object. Only entries pointing into the same file are kept.
// Files without a readable AssetBundle object yield an empty map.
func ContainerPaths(f *serialized.File) map[int64]string {
	paths := map[int64]string{}
	for _, o := range f.Objects {
		if o.ClassID != serialized.ClassAssetBundle {
			continue
		}
		src, err := read(f, o)
		if err != nil {
			continue
		}
		entries, ok := src.value.Get("m_Container")
		if !ok {
			continue
		}
		items, ok := entries.([]any)
		if !ok {
			continue
		}
		for _, item := range items {
			pair, ok := item.(*typetree.Struct)
			if !ok {
				continue
			}
			name, ok := pair.String("first")
			if !ok {
				continue
			}
			info, ok := pair.Struct("second")
			if !ok {
				continue
			}
			ptr, ok := info.Struct("asset")
			if !ok {
				continue
			}
			fileID, _ := ptr.Int("m_FileID")
			pathID, ok := ptr.Int("m_PathID")
			if !ok || fileID != 0 {
				continue
			}
			if _, dup := paths[pathID]; !dup {
				paths[pathID] = name
			}
		}
	}
	return paths
}
