// Package patch computes the byte plan that turns a loaded bundle plus a set
// of pending edits into a new node stream. Planning does no I/O.
package patch

import (
	"fmt"
	"sort"

	"github.com/jchantrell/abedit/internal/bundle"
	"github.com/jchantrell/abedit/internal/errs"
	"github.com/jchantrell/abedit/internal/serialized"
)

// Ref identifies an object by serialized file name and path id.
type Ref struct {
	File   string
	PathID int64
}

func (r Ref) String() string {
	return fmt.Sprintf("%s:%d", r.File, r.PathID)
}

// Edit replaces an object's bytes and, for streamed payloads, the bytes of
// its resource range.
type Edit struct {
	Ref      Ref
	Object   []byte
	Resource []byte
}

// ResourceRef ties an object to a range of a resource node. Relocate
// rewrites the object's offset and size fields without changing its length.
type ResourceRef struct {
	Ref      Ref
	Node     int
	Offset   int64
	Size     int64
	Relocate func(object []byte, offset, size int64) ([]byte, error)
}

// PlanOptions bounds and shapes the plan.
type PlanOptions struct {
	// Alignment rounds every size delta up to a multiple; zero or one keeps
	// deltas exact.
	Alignment int64
	// MaxSize rejects plans whose stream would exceed it; zero disables
	// the check.
	MaxSize int64
}

// Segment is either a range of the source stream or literal bytes.
type Segment struct {
	Offset int64
	Length int64
	Data   []byte
}

func (s Segment) size() int64 {
	if s.Data != nil {
		return int64(len(s.Data))
	}
	return s.Length
}

// FileLayout is the recomputed object table of one serialized file.
type FileLayout struct {
	File    string
	Node    int
	Size    int64
	Objects map[int64]serialized.Layout
}

// BytePlan is the new node stream as an ordered list of segments, with the
// node table and object layouts that describe it.
type BytePlan struct {
	Segments []Segment
	Nodes    []bundle.Node
	Files    []FileLayout
	Size     int64
	// Changed lists the objects whose bytes differ from the source.
	Changed []Ref
}

// Materialize concatenates the plan's segments, reading source ranges from
// src.
func (p *BytePlan) Materialize(src []byte) []byte {
	out := make([]byte, 0, p.Size)
	for _, s := range p.Segments {
		if s.Data != nil {
			out = append(out, s.Data...)
			continue
		}
		out = append(out, src[s.Offset:s.Offset+s.Length]...)
	}
	return out
}

// splice replaces [Start, End) of a node with Data.
type splice struct {
	Start, End int64
	Data       []byte
}

func (o PlanOptions) pad(delta int64) int64 {
	a := o.Alignment
	if a <= 1 || delta%a == 0 {
		return delta
	}
	if delta > 0 {
		return delta + a - delta%a
	}
	return delta - delta%a
}

// Plan lays out the edited bundle.
func Plan(b *bundle.Bundle, edits []Edit, resources []ResourceRef, opts PlanOptions) (*BytePlan, error) {
	byRef, err := indexEdits(b, edits)
	if err != nil {
		return nil, errs.At(errs.StagePlan, b.Path, -1, err)
	}

	nodeSplices := make(map[int][]splice)
	relocated, err := planResources(b, byRef, resources, opts, nodeSplices)
	if err != nil {
		return nil, errs.At(errs.StagePlan, b.Path, -1, err)
	}

	plan := &BytePlan{}
	for _, f := range b.Files {
		layout, splices, changed, err := planFile(f, byRef, relocated, opts)
		if err != nil {
			return nil, errs.At(errs.StagePlan, f.Name, -1, err)
		}
		plan.Files = append(plan.Files, layout)
		plan.Changed = append(plan.Changed, changed...)
		if len(splices) > 0 {
			nodeSplices[f.Node] = splices
		}
	}

	layoutNodes(b.Container, nodeSplices, plan)
	if opts.MaxSize > 0 && plan.Size > opts.MaxSize {
		return nil, errs.At(errs.StagePlan, b.Path, -1,
			errs.Kind(errs.ErrPlanOverflow, "stream of %d bytes exceeds limit of %d", plan.Size, opts.MaxSize))
	}
	return plan, nil
}

func indexEdits(b *bundle.Bundle, edits []Edit) (map[Ref]Edit, error) {
	byRef := make(map[Ref]Edit, len(edits))
	for _, e := range edits {
		if _, dup := byRef[e.Ref]; dup {
			return nil, errs.Kind(errs.ErrConflictingEdit, "%s edited twice", e.Ref)
		}
		f, ok := b.File(e.Ref.File)
		if !ok {
			return nil, errs.Kind(errs.ErrFormat, "edit targets unknown file %q", e.Ref.File)
		}
		if _, ok := f.Object(e.Ref.PathID); !ok {
			return nil, errs.Kind(errs.ErrFormat, "edit targets unknown object %s", e.Ref)
		}
		byRef[e.Ref] = e
	}
	return byRef, nil
}

// relocation is the new resource range of an object.
type relocation struct {
	ref    ResourceRef
	offset int64
	size   int64
}

// planResources places edited resource ranges. Data that still fits is
// written over its old range; larger data is appended to the end of the
// node. Nothing else in a resource node moves, so objects that reference it
// keep valid pointers even when their type tree cannot be read.
func planResources(b *bundle.Bundle, edits map[Ref]Edit, refs []ResourceRef, opts PlanOptions, out map[int][]splice) (map[Ref]relocation, error) {
	byObject := make(map[Ref]ResourceRef, len(refs))
	byNode := make(map[int][]ResourceRef)
	for _, r := range refs {
		byObject[r.Ref] = r
		byNode[r.Node] = append(byNode[r.Node], r)
	}
	for _, e := range edits {
		if e.Resource == nil {
			continue
		}
		if _, ok := byObject[e.Ref]; !ok {
			return nil, errs.Kind(errs.ErrFormat, "%s carries resource bytes but references no resource", e.Ref)
		}
	}

	relocated := make(map[Ref]relocation)
	for node, nodeRefs := range byNode {
		if node < 0 || node >= len(b.Container.Nodes) {
			return nil, errs.Kind(errs.ErrFormat, "resource node %d out of range", node)
		}
		nodeSize := b.Container.Nodes[node].Size
		sort.SliceStable(nodeRefs, func(i, j int) bool {
			return nodeRefs[i].Offset < nodeRefs[j].Offset
		})

		edited := func(r ResourceRef) bool {
			e, ok := edits[r.Ref]
			return ok && e.Resource != nil
		}
		for i, r := range nodeRefs {
			if r.Offset < 0 || r.Size < 0 || r.Offset+r.Size > nodeSize {
				return nil, errs.Kind(errs.ErrTruncated, "%s resource range [%d, %d) exceeds node of %d bytes", r.Ref, r.Offset, r.Offset+r.Size, nodeSize)
			}
			if i == 0 {
				continue
			}
			prev := nodeRefs[i-1]
			if r.Offset < prev.Offset+prev.Size && (edited(r) || edited(prev)) {
				return nil, errs.Kind(errs.ErrConflictingEdit, "%s and %s share resource bytes", prev.Ref, r.Ref)
			}
		}

		var splices []splice
		var appended []byte
		for _, r := range nodeRefs {
			if !edited(r) {
				continue
			}
			data := edits[r.Ref].Resource
			size := int64(len(data))
			offset := r.Offset
			if size <= r.Size {
				splices = append(splices, splice{Start: r.Offset, End: r.Offset + r.Size, Data: padTo(data, r.Size)})
			} else {
				offset = nodeSize + int64(len(appended))
				appended = append(appended, padTo(data, opts.pad(size))...)
			}
			if offset != r.Offset || size != r.Size {
				relocated[r.Ref] = relocation{ref: r, offset: offset, size: size}
			}
		}
		if len(appended) > 0 {
			splices = append(splices, splice{Start: nodeSize, End: nodeSize, Data: appended})
		}
		if len(splices) > 0 {
			out[node] = splices
		}
	}
	return relocated, nil
}

func padTo(data []byte, n int64) []byte {
	if int64(len(data)) >= n {
		return data
	}
	out := make([]byte, n)
	copy(out, data)
	return out
}

func planFile(f *serialized.File, edits map[Ref]Edit, relocated map[Ref]relocation, opts PlanOptions) (FileLayout, []splice, []Ref, error) {
	layout := FileLayout{File: f.Name, Node: f.Node, Objects: make(map[int64]serialized.Layout, len(f.Objects))}

	var splices []splice
	var changed []Ref
	var delta int64
	for _, o := range f.Ordered() {
		ref := Ref{File: f.Name, PathID: o.PathID}
		data := f.ObjectData(o)
		e, isEdited := edits[ref]
		if isEdited {
			data = e.Object
		}
		if r, ok := relocated[ref]; ok {
			before := len(data)
			moved, err := r.ref.Relocate(data, r.offset, r.size)
			if err != nil {
				return layout, nil, nil, errs.ForObject(errs.StagePlan, f.Name, o.PathID, err)
			}
			if len(moved) != before {
				return layout, nil, nil, errs.ForObject(errs.StagePlan, f.Name, o.PathID,
					fmt.Errorf("relocating resource changed object size from %d to %d", before, len(moved)))
			}
			data = moved
			isEdited = true
		}

		newStart := o.ByteStart + delta
		layout.Objects[o.PathID] = serialized.Layout{Start: newStart, Size: uint32(len(data))}
		if !isEdited {
			continue
		}
		changed = append(changed, ref)
		d := opts.pad(int64(len(data)) - int64(o.ByteSize))
		abs := f.Header.DataOffset + o.ByteStart
		splices = append(splices, splice{
			Start: abs,
			End:   abs + int64(o.ByteSize),
			Data:  padTo(data, int64(o.ByteSize)+d),
		})
		delta += d
	}

	layout.Size = f.Header.FileSize + delta
	if len(splices) == 0 {
		return layout, nil, nil, nil
	}
	prefix, err := f.EncodePrefix(layout.Objects, layout.Size)
	if err != nil {
		return layout, nil, nil, err
	}
	splices = append([]splice{{Start: 0, End: f.Header.DataOffset, Data: prefix}}, splices...)
	return layout, splices, changed, nil
}

// layoutNodes emits the stream segments in node order and recomputes the
// node table.
func layoutNodes(c *bundle.Container, splices map[int][]splice, plan *BytePlan) {
	order := make([]int, len(c.Nodes))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return c.Nodes[order[i]].Offset < c.Nodes[order[j]].Offset
	})

	plan.Nodes = make([]bundle.Node, len(c.Nodes))
	copy(plan.Nodes, c.Nodes)

	var pos, delta int64
	emit := func(s Segment) {
		if s.size() == 0 {
			return
		}
		if n := len(plan.Segments); n > 0 && s.Data == nil {
			last := &plan.Segments[n-1]
			if last.Data == nil && last.Offset+last.Length == s.Offset {
				last.Length += s.Length
				return
			}
		}
		plan.Segments = append(plan.Segments, s)
	}

	for _, i := range order {
		n := c.Nodes[i]
		if n.Offset > pos {
			emit(Segment{Offset: pos, Length: n.Offset - pos})
			pos = n.Offset
		}
		if n.Offset < pos {
			// overlapping node ranges are copied verbatim at their new start
			plan.Nodes[i].Offset = n.Offset + delta
			continue
		}

		cursor := n.Offset
		var nodeDelta int64
		for _, s := range splices[i] {
			emit(Segment{Offset: cursor, Length: n.Offset + s.Start - cursor})
			emit(Segment{Data: s.Data})
			cursor = n.Offset + s.End
			nodeDelta += int64(len(s.Data)) - (s.End - s.Start)
		}
		emit(Segment{Offset: cursor, Length: n.End() - cursor})

		plan.Nodes[i].Offset = n.Offset + delta
		plan.Nodes[i].Size = n.Size + nodeDelta
		delta += nodeDelta
		pos = n.End()
	}
	if end := int64(len(c.Stream)); end > pos {
		emit(Segment{Offset: pos, Length: end - pos})
	}
	plan.Size = int64(len(c.Stream)) + delta
}
