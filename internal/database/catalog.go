package database

import (
	"github.com/jchantrell/abedit/internal/asset"
	"github.com/jchantrell/abedit/internal/bundle"
)

// FromBundle builds the catalog rows for a loaded bundle.
func FromBundle(b *bundle.Bundle) *BundleData {
	c := b.Container
	data := &BundleData{
		Bundle: BundleRecord{
			Path:          b.Path,
			Fingerprint:   b.Fingerprint,
			UnityVersion:  c.Header.UnityVersion,
			UnityRevision: c.Header.UnityRevision,
			FormatVersion: c.Header.Version,
			Size:          c.Header.Size,
			Compression:   blockCompression(c),
		},
	}

	for i, n := range c.Nodes {
		kind := "other"
		switch {
		case b.FileIndex(n.Path) >= 0:
			kind = "serialized"
		case n.IsResource():
			kind = "resource"
		}
		data.Nodes = append(data.Nodes, NodeRow{
			Index:  i,
			Path:   n.Path,
			Offset: n.Offset,
			Size:   n.Size,
			Flags:  n.Flags,
			Kind:   kind,
		})
	}

	for _, f := range b.Files {
		containers := asset.ContainerPaths(f)
		for _, o := range f.Objects {
			info := asset.Inspect(f, o)
			data.Objects = append(data.Objects, ObjectRow{
				File:      info.File,
				PathID:    info.PathID,
				ClassID:   info.ClassID,
				ClassName: info.ClassName,
				Name:      info.Name,
				Container: containers[o.PathID],
				Offset:    info.Offset,
				Size:      info.Size,
				Editable:  info.Editable,
			})
		}
	}
	return data
}

// blockCompression names the codec of the first block, or none for an
// empty container.
func blockCompression(c *bundle.Container) string {
	if len(c.Blocks) == 0 {
		return bundle.CompressionNone.String()
	}
	return c.Blocks[0].Compression().String()
}
