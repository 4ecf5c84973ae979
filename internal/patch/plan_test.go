package patch_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jchantrell/abedit/internal/asset"
	"github.com/jchantrell/abedit/internal/bundle"
	"github.com/jchantrell/abedit/internal/errs"
	"github.com/jchantrell/abedit/internal/patch"
	"github.com/jchantrell/abedit/internal/serialized"
	"github.com/jchantrell/abedit/internal/testbundle"
)

const resPath = "archive:/CAB-abc/CAB-abc.resS"

// forty encodes to exactly 40 bytes: two length prefixes and 32 bytes of text.
var forty = testbundle.TextAsset("", []byte(strings.Repeat("x", 32)))

func fixture(t *testing.T) *bundle.Bundle {
	t.Helper()
	require.Len(t, forty, 40)
	streamed := func(name string, offset uint64) []byte {
		return testbundle.Texture2D(testbundle.TextureSpec{
			Name: name, Width: 4, Height: 4, Format: int(asset.RGBA32),
			StreamPath: resPath, StreamOffset: offset, StreamSize: 64,
		})
	}
	cab := testbundle.Serialized(testbundle.Spec{Objects: []testbundle.Object{
		{PathID: 1, Tree: testbundle.TextAssetTree, Data: forty},
		{PathID: 2, Tree: testbundle.OpaqueTree, Data: testbundle.Opaque(11)},
		{PathID: 3, Tree: testbundle.Texture2DTree, Data: streamed("first", 0)},
		{PathID: 4, Tree: testbundle.Texture2DTree, Data: streamed("second", 64)},
	}})
	res := append(bytes.Repeat([]byte{1}, 64), bytes.Repeat([]byte{2}, 64)...)
	data := testbundle.Bundle([]testbundle.Node{
		testbundle.SerializedNode("CAB-abc", cab),
		{Path: "CAB-abc.resS", Data: res},
	}, testbundle.BundleOptions{})
	b, err := bundle.LoadBytes(context.Background(), "fixture.bundle", data, nil)
	require.NoError(t, err)
	return b
}

func ref(id int64) patch.Ref {
	return patch.Ref{File: "CAB-abc", PathID: id}
}

// rebuild writes the planned stream into a container and loads it back.
func rebuild(t *testing.T, b *bundle.Bundle, plan *patch.BytePlan) *bundle.Bundle {
	t.Helper()
	stream := plan.Materialize(b.Container.Stream)
	require.Len(t, stream, int(plan.Size))
	out, err := bundle.Encode(context.Background(), b.Container, stream, plan.Nodes, nil)
	require.NoError(t, err)
	nb, err := bundle.LoadBytes(context.Background(), b.Path, out, nil)
	require.NoError(t, err)
	return nb
}

func TestEmptyPlanIsIdentity(t *testing.T) {
	b := fixture(t)
	plan, err := patch.Plan(b, nil, asset.StreamRefs(b), patch.PlanOptions{})
	require.NoError(t, err)

	assert.Equal(t, b.Container.Stream, plan.Materialize(b.Container.Stream))
	assert.Equal(t, b.Container.Nodes, plan.Nodes)
	assert.Empty(t, plan.Changed)
	assert.Len(t, plan.Segments, 1)
}

func TestShrinkingEdit(t *testing.T) {
	b := fixture(t)
	f := b.Files[0]
	before := map[int64]int64{}
	for _, o := range f.Objects {
		before[o.PathID] = o.ByteStart
	}

	replacement := bytes.Repeat([]byte{0xaa}, 10)
	plan, err := patch.Plan(b, []patch.Edit{{Ref: ref(1), Object: replacement}}, nil, patch.PlanOptions{})
	require.NoError(t, err)

	assert.Equal(t, int64(len(b.Container.Stream))-30, plan.Size)
	assert.Equal(t, []patch.Ref{ref(1)}, plan.Changed)
	assert.Equal(t, b.Container.Nodes[0].Size-30, plan.Nodes[0].Size)
	assert.Equal(t, b.Container.Nodes[1].Offset-30, plan.Nodes[1].Offset)

	require.Len(t, plan.Files, 1)
	layout := plan.Files[0]
	assert.Equal(t, f.Header.FileSize-30, layout.Size)
	assert.Equal(t, serialized.Layout{Start: before[1], Size: 10}, layout.Objects[1])
	for _, id := range []int64{2, 3, 4} {
		assert.Equal(t, before[id]-30, layout.Objects[id].Start, "path id %d", id)
	}

	// sizes in the rewritten table add back up
	var delta int64
	for _, o := range f.Objects {
		delta += int64(layout.Objects[o.PathID].Size) - int64(o.ByteSize)
	}
	assert.Equal(t, int64(-30), delta)

	nb := rebuild(t, b, plan)
	nf := nb.Files[0]
	o, _ := nf.Object(1)
	assert.Equal(t, replacement, nf.ObjectData(o))
	for _, id := range []int64{2, 3, 4} {
		no, _ := nf.Object(id)
		oo, _ := f.Object(id)
		assert.Equal(t, f.ObjectData(oo), nf.ObjectData(no))
	}
	assert.Equal(t, b.Container.NodeData(1), nb.Container.NodeData(1))
}

func TestAlignment(t *testing.T) {
	b := fixture(t)
	plan, err := patch.Plan(b, []patch.Edit{{Ref: ref(1), Object: make([]byte, 10)}}, nil, patch.PlanOptions{Alignment: 8})
	require.NoError(t, err)

	assert.Equal(t, int64(len(b.Container.Stream))-24, plan.Size)
	assert.Equal(t, uint32(10), plan.Files[0].Objects[1].Size)
	o2, _ := b.Files[0].Object(2)
	assert.Equal(t, o2.ByteStart-24, plan.Files[0].Objects[2].Start)

	nb := rebuild(t, b, plan)
	assert.Len(t, nb.Files[0].Objects, 4)
}

func TestGrowingTextEdit(t *testing.T) {
	b := fixture(t)
	f := b.Files[0]
	o, _ := f.Object(1)
	d, err := asset.Decode(f, o, b)
	require.NoError(t, err)
	text := d.(*asset.TextAsset)
	text.Script = []byte(strings.Repeat("grown ", 50))
	obj, _, err := asset.Encode(text)
	require.NoError(t, err)

	plan, err := patch.Plan(b, []patch.Edit{{Ref: ref(1), Object: obj}}, asset.StreamRefs(b), patch.PlanOptions{})
	require.NoError(t, err)

	nb := rebuild(t, b, plan)
	nf := nb.Files[0]
	no, _ := nf.Object(1)
	nd, err := asset.Decode(nf, no, nb)
	require.NoError(t, err)
	assert.Equal(t, text.Script, nd.(*asset.TextAsset).Script)

	// untouched streamed texture still resolves its pixels
	no, _ = nf.Object(4)
	nd, err = asset.Decode(nf, no, nb)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{2}, 64), nd.(*asset.Texture2D).Pixels)
}

func TestResourceRelocation(t *testing.T) {
	b := fixture(t)
	f := b.Files[0]
	o, _ := f.Object(3)
	d, err := asset.Decode(f, o, b)
	require.NoError(t, err)
	tex := d.(*asset.Texture2D)

	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetNRGBA(x, y, color.NRGBA{uint8(x), uint8(y), 7, 255})
		}
	}
	tex.SetImage(img)
	obj, res, err := asset.Encode(tex)
	require.NoError(t, err)
	require.Len(t, res, 256)

	plan, err := patch.Plan(b, []patch.Edit{{Ref: ref(3), Object: obj, Resource: res}}, asset.StreamRefs(b), patch.PlanOptions{})
	require.NoError(t, err)
	assert.Equal(t, []patch.Ref{ref(3)}, plan.Changed)
	assert.Equal(t, b.Container.Nodes[1].Size+256, plan.Nodes[1].Size)

	nb := rebuild(t, b, plan)
	nf := nb.Files[0]

	no, _ := nf.Object(3)
	nd, err := asset.Decode(nf, no, nb)
	require.NoError(t, err)
	first := nd.(*asset.Texture2D)
	assert.Equal(t, 8, first.Width)
	assert.Equal(t, uint64(128), first.Stream.Offset)
	assert.Equal(t, res, first.Pixels)

	no, _ = nf.Object(4)
	nd, err = asset.Decode(nf, no, nb)
	require.NoError(t, err)
	second := nd.(*asset.Texture2D)
	assert.Equal(t, uint64(64), second.Stream.Offset)
	assert.Equal(t, bytes.Repeat([]byte{2}, 64), second.Pixels)
}

func TestShrunkResourceStaysInPlace(t *testing.T) {
	b := fixture(t)
	f := b.Files[0]
	o, _ := f.Object(4)
	d, err := asset.Decode(f, o, b)
	require.NoError(t, err)
	tex := d.(*asset.Texture2D)
	tex.SetImage(image.NewNRGBA(image.Rect(0, 0, 2, 2)))
	obj, res, err := asset.Encode(tex)
	require.NoError(t, err)
	require.Len(t, res, 16)

	plan, err := patch.Plan(b, []patch.Edit{{Ref: ref(4), Object: obj, Resource: res}}, asset.StreamRefs(b), patch.PlanOptions{})
	require.NoError(t, err)
	assert.Equal(t, b.Container.Nodes[1].Size, plan.Nodes[1].Size)

	nb := rebuild(t, b, plan)
	nf := nb.Files[0]
	no, _ := nf.Object(4)
	nd, err := asset.Decode(nf, no, nb)
	require.NoError(t, err)
	second := nd.(*asset.Texture2D)
	assert.Equal(t, uint64(64), second.Stream.Offset)
	assert.Equal(t, uint32(16), second.Stream.Size)
	assert.Equal(t, res, second.Pixels)
}

func TestGrownResourceLeavesOtherStreamsInPlace(t *testing.T) {
	cab := testbundle.Serialized(testbundle.Spec{Objects: []testbundle.Object{
		{PathID: 1, Tree: testbundle.Texture2DTree, Data: testbundle.Texture2D(testbundle.TextureSpec{
			Name: "atlas", Width: 4, Height: 4, Format: int(asset.RGBA32),
			StreamPath: resPath, StreamOffset: 0, StreamSize: 64,
		})},
		{PathID: 2, Tree: testbundle.AudioClipTree, Data: testbundle.AudioClip("theme", resPath, 64, 32)},
		// a texture whose bytes do not match its type tree
		{PathID: 3, Tree: testbundle.Texture2DTree, Data: []byte{9, 9, 9, 9}},
	}})
	res := append(bytes.Repeat([]byte{1}, 64), bytes.Repeat([]byte{3}, 32)...)
	data := testbundle.Bundle([]testbundle.Node{
		testbundle.SerializedNode("CAB-abc", cab),
		{Path: "CAB-abc.resS", Data: res},
	}, testbundle.BundleOptions{})
	b, err := bundle.LoadBytes(context.Background(), "streams.bundle", data, nil)
	require.NoError(t, err)

	refs := asset.StreamRefs(b)
	require.Len(t, refs, 2)

	f := b.Files[0]
	o, _ := f.Object(1)
	d, err := asset.Decode(f, o, b)
	require.NoError(t, err)
	tex := d.(*asset.Texture2D)
	tex.SetImage(image.NewNRGBA(image.Rect(0, 0, 8, 8)))
	obj, pixels, err := asset.Encode(tex)
	require.NoError(t, err)

	plan, err := patch.Plan(b, []patch.Edit{{Ref: ref(1), Object: obj, Resource: pixels}}, refs, patch.PlanOptions{})
	require.NoError(t, err)
	assert.Equal(t, []patch.Ref{ref(1)}, plan.Changed)

	nb := rebuild(t, b, plan)
	nf := nb.Files[0]
	_, stream, err := nb.Resource(resPath)
	require.NoError(t, err)

	var clip *patch.ResourceRef
	for _, r := range asset.StreamRefs(nb) {
		if r.Ref.PathID == 2 {
			clip = &r
		}
	}
	require.NotNil(t, clip)
	assert.Equal(t, int64(64), clip.Offset)
	assert.Equal(t, int64(32), clip.Size)
	assert.Equal(t, bytes.Repeat([]byte{3}, 32), stream[64:96])

	no, _ := nf.Object(1)
	nd, err := asset.Decode(nf, no, nb)
	require.NoError(t, err)
	assert.Equal(t, uint64(96), nd.(*asset.Texture2D).Stream.Offset)
	assert.Equal(t, pixels, stream[96:96+len(pixels)])

	oo, _ := f.Object(3)
	no, _ = nf.Object(3)
	assert.Equal(t, f.ObjectData(oo), nf.ObjectData(no))
}

func TestSeveralEditsSumTheirDeltas(t *testing.T) {
	b := fixture(t)
	f := b.Files[0]
	before := map[int64]*serialized.Object{}
	for _, o := range f.Objects {
		before[o.PathID] = o
	}
	require.Equal(t, uint32(4), before[2].ByteSize)

	text := bytes.Repeat([]byte{0xaa}, 10)
	opaque := bytes.Repeat([]byte{0xbb}, 20)
	plan, err := patch.Plan(b, []patch.Edit{
		{Ref: ref(2), Object: opaque},
		{Ref: ref(1), Object: text},
	}, asset.StreamRefs(b), patch.PlanOptions{})
	require.NoError(t, err)

	assert.Equal(t, int64(len(b.Container.Stream))-14, plan.Size)
	assert.ElementsMatch(t, []patch.Ref{ref(1), ref(2)}, plan.Changed)
	layout := plan.Files[0]
	assert.Equal(t, f.Header.FileSize-14, layout.Size)
	assert.Equal(t, serialized.Layout{Start: before[2].ByteStart - 30, Size: 20}, layout.Objects[2])
	for _, id := range []int64{3, 4} {
		assert.Equal(t, before[id].ByteStart-14, layout.Objects[id].Start, "path id %d", id)
	}

	nb := rebuild(t, b, plan)
	nf := nb.Files[0]
	o, _ := nf.Object(1)
	assert.Equal(t, text, nf.ObjectData(o))
	o, _ = nf.Object(2)
	assert.Equal(t, opaque, nf.ObjectData(o))
	o, _ = nf.Object(4)
	assert.Equal(t, f.ObjectData(before[4]), nf.ObjectData(o))
}

func TestConflicts(t *testing.T) {
	b := fixture(t)
	_, err := patch.Plan(b, []patch.Edit{
		{Ref: ref(1), Object: []byte{1}},
		{Ref: ref(1), Object: []byte{2}},
	}, nil, patch.PlanOptions{})
	assert.ErrorIs(t, err, errs.ErrConflictingEdit)

	refs := asset.StreamRefs(b)
	require.Len(t, refs, 2)
	refs[1].Offset = 32
	o, _ := b.Files[0].Object(3)
	_, err = patch.Plan(b, []patch.Edit{
		{Ref: ref(3), Object: b.Files[0].ObjectData(o), Resource: make([]byte, 64)},
	}, refs, patch.PlanOptions{})
	assert.ErrorIs(t, err, errs.ErrConflictingEdit)
}

func TestPlanErrors(t *testing.T) {
	b := fixture(t)

	_, err := patch.Plan(b, []patch.Edit{{Ref: ref(1), Object: make([]byte, 4096)}}, nil, patch.PlanOptions{MaxSize: int64(len(b.Container.Stream))})
	assert.ErrorIs(t, err, errs.ErrPlanOverflow)

	_, err = patch.Plan(b, []patch.Edit{{Ref: ref(99), Object: []byte{1}}}, nil, patch.PlanOptions{})
	assert.ErrorIs(t, err, errs.ErrFormat)

	_, err = patch.Plan(b, []patch.Edit{{Ref: patch.Ref{File: "CAB-other", PathID: 1}, Object: []byte{1}}}, nil, patch.PlanOptions{})
	assert.ErrorIs(t, err, errs.ErrFormat)

	_, err = patch.Plan(b, []patch.Edit{{Ref: ref(1), Object: forty, Resource: []byte{1}}}, nil, patch.PlanOptions{})
	assert.ErrorIs(t, err, errs.ErrFormat)

	var stage *errs.StageError
	require.ErrorAs(t, err, &stage)
	assert.Equal(t, errs.StagePlan, stage.Stage)
}

func TestRefString(t *testing.T) {
	assert.Equal(t, "CAB-abc:-5", patch.Ref{File: "CAB-abc", PathID: -5}.String())
}
