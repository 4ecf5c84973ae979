// Package worker runs bundle loads, decodes, edits and saves as cancellable
// background tasks with per-bundle locking and a bounded pool.
package worker

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/jchantrell/abedit/internal/asset"
	"github.com/jchantrell/abedit/internal/bundle"
	"github.com/jchantrell/abedit/internal/errs"
	"github.com/jchantrell/abedit/internal/patch"
	"github.com/jchantrell/abedit/internal/serialized"
	"github.com/jchantrell/abedit/internal/typetree"
)

// ErrNotOpen is returned for requests against a bundle that is not loaded.
var ErrNotOpen = errors.New("bundle is not open")

// State is the lifecycle state of a session.
type State string

const (
	StateLoading State = "loading"
	StateIdle    State = "idle"
	StateEditing State = "editing"
	StateSaving  State = "saving"
)

// Options configures a Coordinator.
type Options struct {
	// Workers bounds concurrently running tasks; zero uses GOMAXPROCS.
	Workers  int
	Reader   bundle.ReaderOptions
	Writer   bundle.WriterOptions
	Plan     patch.PlanOptions
	Listener Listener
}

// Coordinator owns the open sessions and schedules their tasks.
type Coordinator struct {
	opts    Options
	pool    *semaphore.Weighted
	manager *bundle.Manager

	mu       sync.Mutex
	sessions map[string]*Session
}

// New creates a coordinator.
func New(opts Options) *Coordinator {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	reader := opts.Reader
	return &Coordinator{
		opts:     opts,
		pool:     semaphore.NewWeighted(int64(workers)),
		manager:  bundle.NewManager(&reader),
		sessions: make(map[string]*Session),
	}
}

// Session is the per-bundle state: the loaded bundle and its pending edits.
// Mutating tasks hold the write lock for their whole run; decodes share the
// read lock.
type Session struct {
	Key string

	lock sync.RWMutex

	mu     sync.Mutex
	state  State
	bundle *bundle.Bundle
	edits  map[patch.Ref]patch.Edit
}

// State returns the session's lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Bundle returns the loaded bundle, or nil while loading.
func (s *Session) Bundle() *bundle.Bundle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bundle
}

// Edits returns the pending edits ordered by file and path id.
func (s *Session) Edits() []patch.Edit {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]patch.Edit, 0, len(s.edits))
	for _, e := range s.edits {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ref.File != out[j].Ref.File {
			return out[i].Ref.File < out[j].Ref.File
		}
		return out[i].Ref.PathID < out[j].Ref.PathID
	})
	return out
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Session returns the session for path.
func (c *Coordinator) Session(path string) (*Session, bool) {
	key, err := bundle.Key(path)
	if err != nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[key]
	return s, ok
}

func (c *Coordinator) session(path string) (*Session, error) {
	s, ok := c.Session(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotOpen, path)
	}
	return s, nil
}

func busy(stage errs.Stage, path string, state State) error {
	return errs.At(stage, path, -1, errs.Kind(errs.ErrBusy, "bundle is %s", state))
}

// run schedules fn on the pool. unlock is called once fn returns, whatever
// its outcome, and before the task is reported finished.
func (c *Coordinator) run(ctx context.Context, kind Kind, path string, unlock func(), fn func(ctx context.Context, t *Task) (any, error)) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := newTask(kind, path, cancel, c.opts.Listener)
	go func() {
		result, err := c.exec(ctx, t, fn)
		unlock()
		t.finish(result, err)
	}()
	return t
}

func (c *Coordinator) exec(ctx context.Context, t *Task, fn func(ctx context.Context, t *Task) (any, error)) (any, error) {
	if err := c.pool.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.pool.Release(1)
	start := time.Now()
	result, err := fn(ctx, t)
	slog.Debug("Task ran", "task", t.ID, "kind", t.Kind, "path", t.Path, "duration", time.Since(start))
	return result, err
}

// Open loads the bundle at path. Opening a loaded bundle completes
// immediately with the existing bundle. The task result is *bundle.Bundle.
func (c *Coordinator) Open(ctx context.Context, path string) (*Task, error) {
	key, err := bundle.Key(path)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	s, exists := c.sessions[key]
	if !exists {
		s = &Session{Key: key, state: StateLoading, edits: make(map[patch.Ref]patch.Edit)}
		s.lock.Lock()
		c.sessions[key] = s
	}
	c.mu.Unlock()

	if exists {
		if !s.lock.TryRLock() {
			return nil, busy(errs.StageSchedule, key, s.State())
		}
		return c.run(ctx, KindOpen, key, s.lock.RUnlock, func(context.Context, *Task) (any, error) {
			return s.Bundle(), nil
		}), nil
	}

	return c.run(ctx, KindOpen, key, s.lock.Unlock, func(ctx context.Context, t *Task) (any, error) {
		b, err := c.manager.Open(ctx, key, t.report)
		if err != nil {
			c.mu.Lock()
			delete(c.sessions, key)
			c.mu.Unlock()
			return nil, err
		}
		s.mu.Lock()
		s.bundle = b
		s.state = StateIdle
		s.mu.Unlock()
		slog.Info("Bundle opened", "path", key, "files", len(b.Files), "objects", b.ObjectCount())
		return b, nil
	}), nil
}

// Close releases a session. It fails with errs.ErrBusy while a task holds
// the bundle.
func (c *Coordinator) Close(path string) error {
	s, err := c.session(path)
	if err != nil {
		return err
	}
	if !s.lock.TryLock() {
		return busy(errs.StageSchedule, s.Key, s.State())
	}
	defer s.lock.Unlock()
	c.mu.Lock()
	delete(c.sessions, s.Key)
	c.mu.Unlock()
	c.manager.Release(s.Key)
	return nil
}

// CloseAll closes every loaded bundle. Bundles still held by a task stay
// open and are reported in the returned error.
func (c *Coordinator) CloseAll() error {
	var problems []error
	for _, p := range c.manager.Paths() {
		if err := c.Close(p); err != nil && !errors.Is(err, ErrNotOpen) {
			problems = append(problems, err)
		}
	}
	return errors.Join(problems...)
}

// Decode decodes one object. Decodes share the session and may run
// concurrently with each other but not with edits or saves. The task
// result is asset.Decoded.
func (c *Coordinator) Decode(ctx context.Context, path string, ref patch.Ref) (*Task, error) {
	s, err := c.session(path)
	if err != nil {
		return nil, err
	}
	if !s.lock.TryRLock() {
		return nil, busy(errs.StageSchedule, s.Key, s.State())
	}
	return c.run(ctx, KindDecode, s.Key, s.lock.RUnlock, func(ctx context.Context, t *Task) (any, error) {
		b := s.Bundle()
		f, o, err := lookup(b, ref)
		if err != nil {
			return nil, err
		}
		return asset.Decode(f, o, b)
	}), nil
}

// Inspection is the result of Inspect.
type Inspection struct {
	// Object is the decoded asset for supported classes and an
	// *asset.Opaque for the rest.
	Object asset.Decoded
	// Fields is the object's type tree value, nil when the file was built
	// without type trees.
	Fields *typetree.Struct
}

// Inspect reads any object, supported or not, under the shared lock. The
// task result is *Inspection.
func (c *Coordinator) Inspect(ctx context.Context, path string, ref patch.Ref) (*Task, error) {
	s, err := c.session(path)
	if err != nil {
		return nil, err
	}
	if !s.lock.TryRLock() {
		return nil, busy(errs.StageSchedule, s.Key, s.State())
	}
	return c.run(ctx, KindDecode, s.Key, s.lock.RUnlock, func(ctx context.Context, t *Task) (any, error) {
		b := s.Bundle()
		f, o, err := lookup(b, ref)
		if err != nil {
			return nil, err
		}
		d, err := asset.Describe(f, o, b)
		if err != nil {
			return nil, err
		}
		in := &Inspection{Object: d}
		if f.Type(o).HasTypeTree() {
			if in.Fields, err = asset.Fields(f, o); err != nil {
				return nil, err
			}
		}
		return in, nil
	}), nil
}

// Payload applies replacement content to a decoded object.
type Payload func(asset.Decoded) error

// Text replaces a TextAsset's script bytes.
func Text(data []byte) Payload {
	return func(d asset.Decoded) error {
		ta, ok := d.(*asset.TextAsset)
		if !ok {
			return errs.Kind(errs.ErrUnsupportedAssetType, "text payload for %T", d)
		}
		ta.Script = data
		return nil
	}
}

// Image replaces a Texture2D's pixels, storing them as RGBA32.
func Image(img image.Image) Payload {
	return func(d asset.Decoded) error {
		tex, ok := d.(*asset.Texture2D)
		if !ok {
			return errs.Kind(errs.ErrUnsupportedAssetType, "image payload for %T", d)
		}
		tex.SetImage(img)
		return nil
	}
}

// Replace decodes an object, applies payload and records the re-encoded
// bytes as a pending edit. A later edit of the same object replaces the
// earlier one; an edit that reproduces the object's current bytes removes
// any pending edit instead. The task result is bool, true when an edit is
// pending afterwards.
func (c *Coordinator) Replace(ctx context.Context, path string, ref patch.Ref, payload Payload) (*Task, error) {
	s, err := c.session(path)
	if err != nil {
		return nil, err
	}
	if !s.lock.TryLock() {
		return nil, busy(errs.StageSchedule, s.Key, s.State())
	}
	s.setState(StateEditing)
	unlock := func() {
		s.setState(StateIdle)
		s.lock.Unlock()
	}
	return c.run(ctx, KindReplace, s.Key, unlock, func(ctx context.Context, t *Task) (any, error) {
		b := s.Bundle()
		f, o, err := lookup(b, ref)
		if err != nil {
			return nil, err
		}
		d, err := asset.Decode(f, o, b)
		if err != nil {
			return nil, err
		}
		if err := payload(d); err != nil {
			return nil, errs.ForObject(errs.StageEncode, f.Name, o.PathID, err)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		object, resource, err := asset.Encode(d)
		if err != nil {
			return nil, errs.ForObject(errs.StageEncode, f.Name, o.PathID, err)
		}

		unchanged := bundle.Fingerprint(object) == bundle.Fingerprint(f.ObjectData(o))
		if unchanged && resource != nil {
			unchanged = sameResource(b, d, resource)
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if unchanged {
			delete(s.edits, ref)
			slog.Info("Edit matches current bytes, nothing pending", "object", ref.String())
			return false, nil
		}
		s.edits[ref] = patch.Edit{Ref: ref, Object: object, Resource: resource}
		slog.Info("Edit recorded", "object", ref.String(), "size", len(object), "resource_size", len(resource))
		return true, nil
	}), nil
}

func sameResource(b *bundle.Bundle, d asset.Decoded, resource []byte) bool {
	tex, ok := d.(*asset.Texture2D)
	if !ok || !tex.Streamed() {
		return false
	}
	_, data, err := b.Resource(tex.Stream.Path)
	if err != nil {
		return false
	}
	end := tex.Stream.Offset + uint64(tex.Stream.Size)
	if end > uint64(len(data)) {
		return false
	}
	return bundle.Fingerprint(data[tex.Stream.Offset:end]) == bundle.Fingerprint(resource)
}

// Discard drops a pending edit.
func (c *Coordinator) Discard(path string, ref patch.Ref) error {
	s, err := c.session(path)
	if err != nil {
		return err
	}
	if !s.lock.TryLock() {
		return busy(errs.StageSchedule, s.Key, s.State())
	}
	defer s.lock.Unlock()
	s.mu.Lock()
	delete(s.edits, ref)
	s.mu.Unlock()
	return nil
}

// SaveResult describes a completed save.
type SaveResult struct {
	Dest    string
	Size    int
	Changed int
}

// Save plans the pending edits, writes the patched container to dest and,
// when dest is the bundle's own path, reloads the session from the written
// bytes. A failed or cancelled save leaves dest and the edits untouched. If
// dest was written but cannot be reloaded, the edits are dropped and the
// session is closed. The task result is SaveResult.
func (c *Coordinator) Save(ctx context.Context, path, dest string, packer bundle.Packer) (*Task, error) {
	s, err := c.session(path)
	if err != nil {
		return nil, err
	}
	if !s.lock.TryLock() {
		return nil, busy(errs.StageSchedule, s.Key, s.State())
	}
	s.setState(StateSaving)
	unlock := func() {
		s.setState(StateIdle)
		s.lock.Unlock()
	}
	return c.run(ctx, KindSave, s.Key, unlock, func(ctx context.Context, t *Task) (any, error) {
		return c.save(ctx, t, s, dest, packer)
	}), nil
}

func (c *Coordinator) save(ctx context.Context, t *Task, s *Session, dest string, packer bundle.Packer) (any, error) {
	b := s.Bundle()
	edits := s.Edits()

	t.report(0, 3, "Planning")
	plan, err := patch.Plan(b, edits, asset.StreamRefs(b), c.opts.Plan)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.report(1, 3, "Compressing")
	stream := plan.Materialize(b.Container.Stream)
	wopts := c.opts.Writer
	if packer != "" {
		wopts.Packer = packer
	}
	wopts.Progress = func(current, total int, _ string) {
		t.report(current, total, "Compressing blocks")
	}
	data, err := bundle.Encode(ctx, b.Container, stream, plan.Nodes, &wopts)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.report(2, 3, "Writing")
	destKey, err := bundle.Key(dest)
	if err != nil {
		return nil, err
	}
	if err := bundle.WriteBytes(destKey, data); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.edits = make(map[patch.Ref]patch.Edit)
	s.mu.Unlock()

	if destKey == s.Key {
		// the file on disk changed; positions must follow it
		if err := rebase(context.WithoutCancel(ctx), b, data, &c.opts.Reader); err != nil {
			slog.Error("Saved bundle could not be reloaded, closing session", "path", destKey, "size", len(data), "error", err)
			c.mu.Lock()
			delete(c.sessions, s.Key)
			c.mu.Unlock()
			c.manager.Release(s.Key)
			return nil, fmt.Errorf("%s was written but reloading it failed, reopen the bundle: %w", destKey, err)
		}
	}
	t.report(3, 3, "Saved")

	slog.Info("Bundle saved", "source", s.Key, "dest", destKey, "size", len(data), "changed_objects", len(plan.Changed))
	return SaveResult{Dest: destKey, Size: len(data), Changed: len(plan.Changed)}, nil
}

// rebase reloads a session's bundle from the bytes just written over it.
var rebase = func(ctx context.Context, b *bundle.Bundle, data []byte, opts *bundle.ReaderOptions) error {
	return b.Rebase(ctx, data, opts)
}

func lookup(b *bundle.Bundle, ref patch.Ref) (*serialized.File, *serialized.Object, error) {
	f, ok := b.File(ref.File)
	if !ok {
		return nil, nil, errs.Kind(errs.ErrFormat, "no serialized file %q in %s", ref.File, b.Path)
	}
	o, ok := f.Object(ref.PathID)
	if !ok {
		return nil, nil, errs.Kind(errs.ErrFormat, "no object %d in %s", ref.PathID, ref.File)
	}
	return f, o, nil
}
