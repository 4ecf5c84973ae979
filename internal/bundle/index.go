package bundle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"

	"github.com/jchantrell/abedit/internal/errs"
	"github.com/jchantrell/abedit/internal/serialized"
)

// Bundle is a loaded container with its serialized files indexed.
type Bundle struct {
	Path        string
	Container   *Container
	Files       []*serialized.File
	Resources   []int
	Fingerprint uint64
}

// Load reads and indexes the container at p.
func Load(ctx context.Context, p string, opts *ReaderOptions) (*Bundle, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("reading bundle: %w", err)
	}
	return LoadBytes(ctx, p, data, opts)
}

// LoadBytes indexes a container held in memory. name identifies it in logs
// and errors.
func LoadBytes(ctx context.Context, name string, data []byte, opts *ReaderOptions) (*Bundle, error) {
	c, err := Parse(ctx, data, opts)
	if err != nil {
		return nil, err
	}
	b := &Bundle{Path: name, Fingerprint: Fingerprint(data)}
	if err := b.index(ctx, c); err != nil {
		return nil, err
	}
	slog.Debug("Bundle indexed",
		"path", name,
		"nodes", len(c.Nodes),
		"serialized_files", len(b.Files),
		"resources", len(b.Resources),
		"blocks", len(c.Blocks))
	return b, nil
}

func (b *Bundle) index(ctx context.Context, c *Container) error {
	var files []*serialized.File
	var resources []int
	for i, n := range c.Nodes {
		if err := ctx.Err(); err != nil {
			return err
		}
		data := c.NodeData(i)
		switch {
		case n.IsResource():
			resources = append(resources, i)
		case n.IsSerialized() || (path.Ext(n.Path) == "" && serialized.LooksSerialized(data)):
			f, err := serialized.Parse(n.Path, i, data)
			if err != nil {
				return err
			}
			files = append(files, f)
		}
	}
	b.Container = c
	b.Files = files
	b.Resources = resources
	return nil
}

// Rebase replaces the bundle's content with a freshly written container, so
// object positions reflect the saved file.
func (b *Bundle) Rebase(ctx context.Context, data []byte, opts *ReaderOptions) error {
	c, err := Parse(ctx, data, opts)
	if err != nil {
		return err
	}
	fresh := &Bundle{Path: b.Path}
	if err := fresh.index(ctx, c); err != nil {
		return err
	}
	b.Container = fresh.Container
	b.Files = fresh.Files
	b.Resources = fresh.Resources
	b.Fingerprint = Fingerprint(data)
	return nil
}

// File returns the serialized file stored in the named node.
func (b *Bundle) File(name string) (*serialized.File, bool) {
	for _, f := range b.Files {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// FileIndex returns the position of the named serialized file in Files.
func (b *Bundle) FileIndex(name string) int {
	for i, f := range b.Files {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Resource returns the node index and bytes of the resource node matching
// an archive path such as "archive:/CAB-x/CAB-x.resS".
func (b *Bundle) Resource(archivePath string) (int, []byte, error) {
	for _, i := range b.Resources {
		if path.Base(b.Container.Nodes[i].Path) == path.Base(archivePath) {
			return i, b.Container.NodeData(i), nil
		}
	}
	return -1, nil, errs.Kind(errs.ErrFormat, "resource %q not found in bundle", archivePath)
}

// ObjectCount returns the number of objects across all serialized files.
func (b *Bundle) ObjectCount() int {
	n := 0
	for _, f := range b.Files {
		n += len(f.Objects)
	}
	return n
}
