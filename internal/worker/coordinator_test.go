package worker

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jchantrell/abedit/internal/asset"
	"github.com/jchantrell/abedit/internal/bundle"
	"github.com/jchantrell/abedit/internal/errs"
	"github.com/jchantrell/abedit/internal/patch"
	"github.com/jchantrell/abedit/internal/testbundle"
)

type recorder struct {
	mu     sync.Mutex
	done   int
	failed int
}

func (r *recorder) Progress(*Task, Progress) {}

func (r *recorder) Done(*Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done++
}

func (r *recorder) Failed(*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed++
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done, r.failed
}

var (
	notes = ref(1)
	icon  = ref(2)
)

func ref(id int64) patch.Ref {
	return patch.Ref{File: "CAB-abc", PathID: id}
}

func writeFixture(t *testing.T) string {
	t.Helper()
	cab := testbundle.Serialized(testbundle.Spec{Objects: []testbundle.Object{
		{PathID: 1, Tree: testbundle.TextAssetTree, Data: testbundle.TextAsset("notes", []byte("version one"))},
		{PathID: 2, Tree: testbundle.Texture2DTree, Data: testbundle.Texture2D(testbundle.TextureSpec{
			Name: "icon", Width: 1, Height: 1, Format: int(asset.RGBA32), Image: []byte{1, 2, 3, 255},
		})},
		{PathID: 3, Tree: testbundle.OpaqueTree, Data: testbundle.Opaque(2)},
	}})
	data := testbundle.Bundle([]testbundle.Node{testbundle.SerializedNode("CAB-abc", cab)}, testbundle.BundleOptions{LZ4: true})
	p := filepath.Join(t.TempDir(), "fixture.bundle")
	require.NoError(t, os.WriteFile(p, data, 0644))
	return p
}

func open(t *testing.T, c *Coordinator, p string) *bundle.Bundle {
	t.Helper()
	task, err := c.Open(context.Background(), p)
	require.NoError(t, err)
	require.NoError(t, task.Wait())
	b, ok := task.Result().(*bundle.Bundle)
	require.True(t, ok)
	return b
}

func wait(t *testing.T, task *Task, err error) any {
	t.Helper()
	require.NoError(t, err)
	require.NoError(t, task.Wait())
	return task.Result()
}

func text(t *testing.T, c *Coordinator, p string) string {
	t.Helper()
	task, err := c.Decode(context.Background(), p, notes)
	d := wait(t, task, err)
	return string(d.(*asset.TextAsset).Script)
}

func TestOpen(t *testing.T) {
	p := writeFixture(t)
	rec := &recorder{}
	c := New(Options{Workers: 2, Listener: rec})

	b := open(t, c, p)
	assert.Equal(t, 3, b.ObjectCount())

	s, ok := c.Session(p)
	require.True(t, ok)
	assert.Equal(t, StateIdle, s.State())
	assert.Same(t, b, s.Bundle())

	// reopening shares the loaded bundle
	assert.Same(t, b, open(t, c, p))
	done, failed := rec.counts()
	assert.Equal(t, 2, done)
	assert.Zero(t, failed)
}

func TestOpenFailureRemovesSession(t *testing.T) {
	rec := &recorder{}
	c := New(Options{Listener: rec})
	p := filepath.Join(t.TempDir(), "missing.bundle")

	task, err := c.Open(context.Background(), p)
	require.NoError(t, err)
	assert.Error(t, task.Wait())
	_, ok := c.Session(p)
	assert.False(t, ok)
	_, failed := rec.counts()
	assert.Equal(t, 1, failed)

	bad := filepath.Join(t.TempDir(), "bad.bundle")
	require.NoError(t, os.WriteFile(bad, []byte("UnityFS\x00garbage"), 0644))
	task, err = c.Open(context.Background(), bad)
	require.NoError(t, err)
	assert.ErrorIs(t, task.Wait(), errs.ErrFormat)
	_, ok = c.Session(bad)
	assert.False(t, ok)
}

func TestConcurrentDecodes(t *testing.T) {
	p := writeFixture(t)
	c := New(Options{Workers: 4})
	open(t, c, p)

	var tasks []*Task
	for i := 0; i < 16; i++ {
		r := notes
		if i%2 == 1 {
			r = icon
		}
		task, err := c.Decode(context.Background(), p, r)
		require.NoError(t, err)
		tasks = append(tasks, task)
	}
	for _, task := range tasks {
		require.NoError(t, task.Wait())
		assert.NotNil(t, task.Result())
	}

	task, err := c.Decode(context.Background(), p, ref(3))
	require.NoError(t, err)
	assert.ErrorIs(t, task.Wait(), errs.ErrUnsupportedAssetType)

	task, err = c.Decode(context.Background(), p, ref(42))
	require.NoError(t, err)
	assert.ErrorIs(t, task.Wait(), errs.ErrFormat)
}

func TestBusy(t *testing.T) {
	p := writeFixture(t)
	c := New(Options{Workers: 1})
	open(t, c, p)

	// hold the only worker so scheduled tasks keep their locks
	require.NoError(t, c.pool.Acquire(context.Background(), 1))
	decode, err := c.Decode(context.Background(), p, notes)
	require.NoError(t, err)

	_, err = c.Save(context.Background(), p, p, bundle.PackerOriginal)
	assert.ErrorIs(t, err, errs.ErrBusy)
	_, err = c.Replace(context.Background(), p, notes, Text([]byte("x")))
	assert.ErrorIs(t, err, errs.ErrBusy)
	assert.ErrorIs(t, c.Close(p), errs.ErrBusy)

	// reads still share the session
	second, err := c.Decode(context.Background(), p, icon)
	require.NoError(t, err)

	c.pool.Release(1)
	require.NoError(t, decode.Wait())
	require.NoError(t, second.Wait())

	require.NoError(t, c.pool.Acquire(context.Background(), 1))
	replace, err := c.Replace(context.Background(), p, notes, Text([]byte("x")))
	require.NoError(t, err)
	s, _ := c.Session(p)
	assert.Equal(t, StateEditing, s.State())
	_, err = c.Decode(context.Background(), p, notes)
	assert.ErrorIs(t, err, errs.ErrBusy)
	c.pool.Release(1)
	require.NoError(t, replace.Wait())
	assert.Equal(t, StateIdle, s.State())
}

func TestSaveWhileSaving(t *testing.T) {
	p := writeFixture(t)
	c := New(Options{Workers: 1})
	open(t, c, p)
	task, err := c.Replace(context.Background(), p, notes, Text([]byte("saved once")))
	wait(t, task, err)

	require.NoError(t, c.pool.Acquire(context.Background(), 1))
	first, err := c.Save(context.Background(), p, p, bundle.PackerOriginal)
	require.NoError(t, err)
	s, _ := c.Session(p)
	assert.Equal(t, StateSaving, s.State())

	_, err = c.Save(context.Background(), p, filepath.Join(t.TempDir(), "copy.bundle"), bundle.PackerOriginal)
	assert.ErrorIs(t, err, errs.ErrBusy)
	_, err = c.Decode(context.Background(), p, notes)
	assert.ErrorIs(t, err, errs.ErrBusy)
	_, err = c.Open(context.Background(), p)
	assert.ErrorIs(t, err, errs.ErrBusy)

	c.pool.Release(1)
	require.NoError(t, first.Wait())
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, "saved once", text(t, c, p))
}

func TestSaveReloadFailure(t *testing.T) {
	p := writeFixture(t)
	c := New(Options{Workers: 1})
	open(t, c, p)
	task, err := c.Replace(context.Background(), p, notes, Text([]byte("on disk")))
	wait(t, task, err)

	failure := errors.New("reload failed")
	restore := rebase
	rebase = func(context.Context, *bundle.Bundle, []byte, *bundle.ReaderOptions) error { return failure }
	t.Cleanup(func() { rebase = restore })

	task, err = c.Save(context.Background(), p, p, bundle.PackerOriginal)
	require.NoError(t, err)
	err = task.Wait()
	assert.ErrorIs(t, err, failure)
	assert.Contains(t, err.Error(), "was written")

	// the session is gone and the written file holds the edit
	_, ok := c.Session(p)
	assert.False(t, ok)
	_, err = c.Decode(context.Background(), p, notes)
	assert.ErrorIs(t, err, ErrNotOpen)

	open(t, c, p)
	assert.Equal(t, "on disk", text(t, c, p))
}

func TestReplaceAndSaveInPlace(t *testing.T) {
	p := writeFixture(t)
	c := New(Options{Workers: 2})
	b := open(t, c, p)
	before := b.Fingerprint

	task, err := c.Replace(context.Background(), p, notes, Text([]byte("version two, which is longer")))
	assert.Equal(t, true, wait(t, task, err))

	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.SetNRGBA(1, 1, color.NRGBA{9, 8, 7, 255})
	task, err = c.Replace(context.Background(), p, icon, Image(img))
	assert.Equal(t, true, wait(t, task, err))

	s, _ := c.Session(p)
	require.Len(t, s.Edits(), 2)
	assert.Equal(t, notes, s.Edits()[0].Ref)

	// pending edits do not change what decodes return
	assert.Equal(t, "version one", text(t, c, p))

	task, err = c.Save(context.Background(), p, p, bundle.PackerLZ4HC)
	res := wait(t, task, err).(SaveResult)
	assert.Equal(t, 2, res.Changed)
	assert.Empty(t, s.Edits())
	assert.NotEqual(t, before, b.Fingerprint)

	assert.Equal(t, "version two, which is longer", text(t, c, p))

	reloaded, err := bundle.Load(context.Background(), p, nil)
	require.NoError(t, err)
	assert.Equal(t, b.Fingerprint, reloaded.Fingerprint)
	f, _ := reloaded.File("CAB-abc")
	o, _ := f.Object(2)
	d, err := asset.Decode(f, o, reloaded)
	require.NoError(t, err)
	tex := d.(*asset.Texture2D)
	assert.Equal(t, 2, tex.Width)
	got, err := tex.Image()
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{9, 8, 7, 255}, got.At(1, 1))
}

func TestSaveToOtherDest(t *testing.T) {
	p := writeFixture(t)
	original, err := os.ReadFile(p)
	require.NoError(t, err)

	c := New(Options{})
	open(t, c, p)
	task, err := c.Replace(context.Background(), p, notes, Text([]byte("copy")))
	wait(t, task, err)

	dest := filepath.Join(t.TempDir(), "copy.bundle")
	task, err = c.Save(context.Background(), p, dest, "")
	res := wait(t, task, err).(SaveResult)
	assert.Equal(t, dest, res.Dest)

	after, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, original, after)
	assert.Equal(t, "version one", text(t, c, p))

	out, err := bundle.Load(context.Background(), dest, nil)
	require.NoError(t, err)
	f, _ := out.File("CAB-abc")
	o, _ := f.Object(1)
	d, err := asset.Decode(f, o, out)
	require.NoError(t, err)
	assert.Equal(t, []byte("copy"), d.(*asset.TextAsset).Script)
}

func TestCancelledSaveKeepsEdits(t *testing.T) {
	p := writeFixture(t)
	original, err := os.ReadFile(p)
	require.NoError(t, err)

	c := New(Options{Workers: 1})
	open(t, c, p)
	task, err := c.Replace(context.Background(), p, notes, Text([]byte("never saved")))
	wait(t, task, err)

	require.NoError(t, c.pool.Acquire(context.Background(), 1))
	save, err := c.Save(context.Background(), p, p, "")
	require.NoError(t, err)
	save.Cancel()
	c.pool.Release(1)
	assert.ErrorIs(t, save.Wait(), context.Canceled)

	s, _ := c.Session(p)
	assert.Len(t, s.Edits(), 1)
	after, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, original, after)
	assert.Equal(t, StateIdle, s.State())
}

func TestNoOpEdit(t *testing.T) {
	p := writeFixture(t)
	c := New(Options{})
	open(t, c, p)

	task, err := c.Replace(context.Background(), p, notes, Text([]byte("version one")))
	assert.Equal(t, false, wait(t, task, err))
	s, _ := c.Session(p)
	assert.Empty(t, s.Edits())

	task, err = c.Replace(context.Background(), p, notes, Text([]byte("changed")))
	assert.Equal(t, true, wait(t, task, err))
	task, err = c.Replace(context.Background(), p, notes, Text([]byte("version one")))
	assert.Equal(t, false, wait(t, task, err))
	assert.Empty(t, s.Edits())
}

func TestReplaceErrors(t *testing.T) {
	p := writeFixture(t)
	c := New(Options{})
	open(t, c, p)

	task, err := c.Replace(context.Background(), p, icon, Text([]byte("x")))
	require.NoError(t, err)
	assert.ErrorIs(t, task.Wait(), errs.ErrUnsupportedAssetType)

	task, err = c.Replace(context.Background(), p, ref(3), Text([]byte("x")))
	require.NoError(t, err)
	assert.ErrorIs(t, task.Wait(), errs.ErrUnsupportedAssetType)

	s, _ := c.Session(p)
	assert.Empty(t, s.Edits())
}

func TestDiscardAndClose(t *testing.T) {
	p := writeFixture(t)
	c := New(Options{})
	open(t, c, p)

	task, err := c.Replace(context.Background(), p, notes, Text([]byte("pending")))
	wait(t, task, err)
	require.NoError(t, c.Discard(p, notes))
	s, _ := c.Session(p)
	assert.Empty(t, s.Edits())

	require.NoError(t, c.Close(p))
	_, ok := c.Session(p)
	assert.False(t, ok)

	_, err = c.Decode(context.Background(), p, notes)
	assert.ErrorIs(t, err, ErrNotOpen)
	assert.ErrorIs(t, c.Close(p), ErrNotOpen)
}

func TestInspect(t *testing.T) {
	p := writeFixture(t)
	c := New(Options{})
	open(t, c, p)

	task, err := c.Inspect(context.Background(), p, ref(3))
	in := wait(t, task, err).(*Inspection)
	opaque, ok := in.Object.(*asset.Opaque)
	require.True(t, ok)
	assert.Equal(t, int32(1), opaque.Class)
	require.NotNil(t, in.Fields)
	layer, ok := in.Fields.Int("m_Layer")
	require.True(t, ok)
	assert.Equal(t, int64(2), layer)

	task, err = c.Inspect(context.Background(), p, notes)
	in = wait(t, task, err).(*Inspection)
	assert.IsType(t, &asset.TextAsset{}, in.Object)
	name, ok := in.Fields.String("m_Name")
	require.True(t, ok)
	assert.Equal(t, "notes", name)

	task, err = c.Inspect(context.Background(), p, ref(99))
	require.NoError(t, err)
	assert.ErrorIs(t, task.Wait(), errs.ErrFormat)
}

func TestCloseAll(t *testing.T) {
	first, second := writeFixture(t), writeFixture(t)
	c := New(Options{Workers: 1})
	open(t, c, first)
	open(t, c, second)

	require.NoError(t, c.pool.Acquire(context.Background(), 1))
	task, err := c.Replace(context.Background(), second, notes, Text([]byte("held")))
	require.NoError(t, err)

	assert.ErrorIs(t, c.CloseAll(), errs.ErrBusy)
	_, ok := c.Session(first)
	assert.False(t, ok)
	_, ok = c.Session(second)
	assert.True(t, ok)

	c.pool.Release(1)
	require.NoError(t, task.Wait())
	require.NoError(t, c.CloseAll())
	_, ok = c.Session(second)
	assert.False(t, ok)
	assert.Empty(t, c.manager.Paths())
}

func TestTaskProgress(t *testing.T) {
	p := writeFixture(t)
	c := New(Options{})
	open(t, c, p)
	task, err := c.Replace(context.Background(), p, notes, Text([]byte("progress")))
	wait(t, task, err)

	save, err := c.Save(context.Background(), p, p, "")
	require.NoError(t, err)
	var steps []string
	for pr := range save.Progress() {
		steps = append(steps, pr.Description)
	}
	require.NoError(t, save.Wait())
	assert.Contains(t, steps, "Planning")
	assert.Contains(t, steps, "Saved")
	assert.NotEqual(t, save.ID.String(), task.ID.String())
}
