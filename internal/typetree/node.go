// Package typetree reads and writes object payloads using the field layout
// carried by a serialized file's type tree.
package typetree

import (
	"fmt"

	"github.com/jchantrell/abedit/internal/errs"
	"github.com/jchantrell/abedit/internal/serialized"
)

const alignFlag = 0x4000

// Node is one field of a type tree.
type Node struct {
	Type     string
	Name     string
	ByteSize int32
	MetaFlag uint32
	Children []*Node
}

// Aligned reports whether the stream is padded to 4 bytes after the field.
func (n *Node) Aligned() bool {
	return n.MetaFlag&alignFlag != 0
}

// Child returns the direct child with the given field name.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (n *Node) isArray() bool {
	return len(n.Children) > 0 && n.Children[0].Type == "Array"
}

// Build nests the flattened node list of t.
func Build(t *serialized.Type) (*Node, error) {
	if !t.HasTypeTree() {
		return nil, errs.Kind(errs.ErrUnsupportedAssetType, "class %d has no type tree", t.ClassID)
	}
	flat := t.Nodes
	if flat[0].Level != 0 {
		return nil, errs.Kind(errs.ErrFormat, "type tree root at level %d", flat[0].Level)
	}

	root := fromFlat(&flat[0])
	stack := []*Node{root}
	for i := 1; i < len(flat); i++ {
		level := int(flat[i].Level)
		if level == 0 || level > len(stack) {
			return nil, errs.Kind(errs.ErrFormat, "type tree node %d jumps to level %d", i, level)
		}
		n := fromFlat(&flat[i])
		stack = stack[:level]
		parent := stack[level-1]
		parent.Children = append(parent.Children, n)
		stack = append(stack, n)
	}
	return root, nil
}

func fromFlat(f *serialized.TypeTreeNode) *Node {
	return &Node{Type: f.Type, Name: f.Name, ByteSize: f.ByteSize, MetaFlag: f.MetaFlag}
}

func (n *Node) String() string {
	return fmt.Sprintf("%s %s", n.Type, n.Name)
}
