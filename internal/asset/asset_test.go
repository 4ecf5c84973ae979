package asset_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jchantrell/abedit/internal/asset"
	"github.com/jchantrell/abedit/internal/bundle"
	"github.com/jchantrell/abedit/internal/errs"
	"github.com/jchantrell/abedit/internal/serialized"
	"github.com/jchantrell/abedit/internal/testbundle"
)

// 2x2 RGBA32, stored bottom row first
var pixels = []byte{
	255, 0, 0, 255, 0, 255, 0, 255, // bottom: red, green
	0, 0, 255, 255, 255, 255, 255, 128, // top: blue, translucent white
}

var resource = append(bytes.Repeat([]byte{9}, 16), bytes.Repeat([]byte{1, 2, 3, 4}, 16)...)

func fixture(t *testing.T) *bundle.Bundle {
	t.Helper()
	cab := testbundle.Serialized(testbundle.Spec{Objects: []testbundle.Object{
		{PathID: 1, Tree: testbundle.TextAssetTree, Data: testbundle.TextAsset("notes", []byte("hello world"))},
		{PathID: 2, Tree: testbundle.Texture2DTree, Data: testbundle.Texture2D(testbundle.TextureSpec{
			Name: "icon", Width: 2, Height: 2, Format: int(asset.RGBA32), Image: pixels,
		})},
		{PathID: 3, Tree: testbundle.Texture2DTree, Data: testbundle.Texture2D(testbundle.TextureSpec{
			Name: "big", Width: 4, Height: 4, Format: int(asset.RGBA32),
			StreamPath: "archive:/CAB-abc/CAB-abc.resS", StreamOffset: 16, StreamSize: 64,
		})},
		{PathID: 4, Tree: testbundle.AssetBundleTree, Data: testbundle.AssetBundle("ab", []testbundle.ContainerEntry{
			{Path: "assets/notes.txt", PathID: 1},
			{Path: "assets/icon.png", PathID: 2},
		})},
		{PathID: 5, Tree: testbundle.OpaqueTree, Data: testbundle.Opaque(3)},
	}})
	data := testbundle.Bundle([]testbundle.Node{
		testbundle.SerializedNode("CAB-abc", cab),
		{Path: "CAB-abc.resS", Data: resource},
	}, testbundle.BundleOptions{})
	b, err := bundle.LoadBytes(context.Background(), "fixture.bundle", data, nil)
	require.NoError(t, err)
	return b
}

func object(t *testing.T, b *bundle.Bundle, pathID int64) (*serialized.File, *serialized.Object) {
	t.Helper()
	f := b.Files[0]
	o, ok := f.Object(pathID)
	require.True(t, ok)
	return f, o
}

func TestDecodeTextAsset(t *testing.T) {
	b := fixture(t)
	f, o := object(t, b, 1)

	d, err := asset.Decode(f, o, b)
	require.NoError(t, err)
	text, ok := d.(*asset.TextAsset)
	require.True(t, ok)
	assert.Equal(t, "notes", text.AssetName())
	assert.Equal(t, []byte("hello world"), text.Script)
	assert.Equal(t, serialized.ClassTextAsset, text.ClassID())

	obj, res, err := asset.Encode(text)
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, f.ObjectData(o), obj)

	text.Script = []byte("a different, longer body")
	obj, _, err = asset.Encode(text)
	require.NoError(t, err)
	assert.Equal(t, testbundle.TextAsset("notes", []byte("a different, longer body")), obj)
}

func TestDecodeTexture(t *testing.T) {
	b := fixture(t)
	f, o := object(t, b, 2)

	d, err := asset.Decode(f, o, b)
	require.NoError(t, err)
	tex := d.(*asset.Texture2D)
	assert.Equal(t, 2, tex.Width)
	assert.Equal(t, asset.RGBA32, tex.Format)
	assert.False(t, tex.Streamed())
	assert.Equal(t, pixels, tex.Pixels)

	img, err := tex.Image()
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{0, 0, 255, 255}, img.At(0, 0))
	assert.Equal(t, color.NRGBA{255, 255, 255, 128}, img.At(1, 0))
	assert.Equal(t, color.NRGBA{255, 0, 0, 255}, img.At(0, 1))

	obj, res, err := asset.Encode(tex)
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, f.ObjectData(o), obj)
}

func TestSetImage(t *testing.T) {
	b := fixture(t)
	f, o := object(t, b, 2)
	d, err := asset.Decode(f, o, b)
	require.NoError(t, err)
	tex := d.(*asset.Texture2D)

	src := image.NewNRGBA(image.Rect(0, 0, 3, 1))
	src.SetNRGBA(0, 0, color.NRGBA{1, 2, 3, 255})
	src.SetNRGBA(2, 0, color.NRGBA{5, 6, 7, 255})
	tex.SetImage(src)
	assert.Equal(t, 3, tex.Width)
	assert.Equal(t, 1, tex.Height)
	assert.Len(t, tex.Pixels, 12)

	img, err := tex.Image()
	require.NoError(t, err)
	assert.Equal(t, src.At(0, 0), img.At(0, 0))
	assert.Equal(t, src.At(2, 0), img.At(2, 0))

	obj, _, err := asset.Encode(tex)
	require.NoError(t, err)
	assert.Equal(t, testbundle.Texture2D(testbundle.TextureSpec{
		Name: "icon", Width: 3, Height: 1, Format: int(asset.RGBA32), Image: tex.Pixels,
	}), obj)
}

func TestStreamedTexture(t *testing.T) {
	b := fixture(t)
	f, o := object(t, b, 3)

	d, err := asset.Decode(f, o, b)
	require.NoError(t, err)
	tex := d.(*asset.Texture2D)
	require.True(t, tex.Streamed())
	assert.Equal(t, resource[16:], tex.Pixels)

	obj, res, err := asset.Encode(tex)
	require.NoError(t, err)
	assert.Equal(t, f.ObjectData(o), obj)
	assert.Equal(t, resource[16:], res)

	_, err = asset.Decode(f, o, nil)
	assert.ErrorIs(t, err, errs.ErrFormat)
}

func TestUnsupported(t *testing.T) {
	b := fixture(t)
	f, o := object(t, b, 5)

	_, err := asset.Decode(f, o, b)
	assert.ErrorIs(t, err, errs.ErrUnsupportedAssetType)
	var stage *errs.StageError
	require.ErrorAs(t, err, &stage)
	require.NotNil(t, stage.PathID)
	assert.Equal(t, int64(5), *stage.PathID)

	d, err := asset.Describe(f, o, b)
	require.NoError(t, err)
	opaque, ok := d.(*asset.Opaque)
	require.True(t, ok)
	assert.Equal(t, int32(1), opaque.ClassID())

	_, _, err = asset.Encode(opaque)
	assert.ErrorIs(t, err, errs.ErrUnsupportedAssetType)

	tex := &asset.Texture2D{Name: "x", Width: 4, Height: 4, Format: 10, Pixels: make([]byte, 8)}
	_, err = tex.Image()
	assert.ErrorIs(t, err, errs.ErrUnsupportedAssetType)
}

func TestDecodeWithoutTypeTree(t *testing.T) {
	cab := testbundle.Serialized(testbundle.Spec{NoTypeTree: true, Objects: []testbundle.Object{
		{PathID: 1, Tree: testbundle.TextAssetTree, Data: testbundle.TextAsset("n", []byte("x"))},
	}})
	f, err := serialized.Parse("CAB", 0, cab)
	require.NoError(t, err)

	_, err = asset.Decode(f, f.Objects[0], nil)
	assert.ErrorIs(t, err, errs.ErrUnsupportedAssetType)
	info := asset.Inspect(f, f.Objects[0])
	assert.False(t, info.Editable)
	assert.Empty(t, info.Name)
}

func TestInspect(t *testing.T) {
	b := fixture(t)
	f, o := object(t, b, 2)
	info := asset.Inspect(f, o)
	assert.Equal(t, "icon", info.Name)
	assert.Equal(t, "Texture2D", info.ClassName)
	assert.True(t, info.Editable)
	assert.Equal(t, o.ByteSize, info.Size)

	_, o = object(t, b, 5)
	assert.False(t, asset.Inspect(f, o).Editable)
	assert.True(t, asset.Supported(serialized.ClassTextAsset))
	assert.False(t, asset.Supported(serialized.ClassAssetBundle))
}

func TestContainerPaths(t *testing.T) {
	b := fixture(t)
	assert.Equal(t, map[int64]string{1: "assets/notes.txt", 2: "assets/icon.png"}, asset.ContainerPaths(b.Files[0]))
}

func TestStreamRefs(t *testing.T) {
	b := fixture(t)
	refs := asset.StreamRefs(b)
	require.Len(t, refs, 1)
	r := refs[0]
	assert.Equal(t, int64(3), r.Ref.PathID)
	assert.Equal(t, 1, r.Node)
	assert.Equal(t, int64(16), r.Offset)
	assert.Equal(t, int64(64), r.Size)

	f, o := object(t, b, 3)
	data := f.ObjectData(o)
	moved, err := r.Relocate(data, 32, 100)
	require.NoError(t, err)
	require.Len(t, moved, len(data))

	// offset and size precede the aligned path string
	tail := 4 + (len("archive:/CAB-abc/CAB-abc.resS")+3)/4*4
	at := len(moved) - tail - 12
	assert.Equal(t, uint64(32), binary.LittleEndian.Uint64(moved[at:]))
	assert.Equal(t, uint32(100), binary.LittleEndian.Uint32(moved[at+8:]))
	assert.Equal(t, data[:at], moved[:at])
}

func TestStreamRefsStreamedResource(t *testing.T) {
	const source = "archive:/CAB-abc/CAB-abc.resS"
	cab := testbundle.Serialized(testbundle.Spec{Objects: []testbundle.Object{
		{PathID: 7, Tree: testbundle.AudioClipTree, Data: testbundle.AudioClip("theme", source, 16, 48)},
	}})
	data := testbundle.Bundle([]testbundle.Node{
		testbundle.SerializedNode("CAB-abc", cab),
		{Path: "CAB-abc.resS", Data: resource},
	}, testbundle.BundleOptions{})
	b, err := bundle.LoadBytes(context.Background(), "audio.bundle", data, nil)
	require.NoError(t, err)

	refs := asset.StreamRefs(b)
	require.Len(t, refs, 1)
	r := refs[0]
	assert.Equal(t, int64(7), r.Ref.PathID)
	assert.Equal(t, int64(16), r.Offset)
	assert.Equal(t, int64(48), r.Size)

	f, o := object(t, b, 7)
	moved, err := r.Relocate(f.ObjectData(o), 80, 12)
	require.NoError(t, err)
	require.Len(t, moved, int(o.ByteSize))
	assert.Equal(t, uint64(80), binary.LittleEndian.Uint64(moved[len(moved)-16:]))
	assert.Equal(t, uint64(12), binary.LittleEndian.Uint64(moved[len(moved)-8:]))
}
