package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Kind names the request a task serves.
type Kind string

const (
	KindOpen    Kind = "open"
	KindDecode  Kind = "decode"
	KindReplace Kind = "replace"
	KindSave    Kind = "save"
)

// Progress is a step report of a running task.
type Progress struct {
	Current     int
	Total       int
	Description string
}

// Listener receives task notifications. Calls are made from worker
// goroutines and must not block.
type Listener interface {
	Progress(t *Task, p Progress)
	Done(t *Task)
	Failed(t *Task, err error)
}

// Task is a background request. Its result is available after Wait returns.
type Task struct {
	ID   uuid.UUID
	Kind Kind
	Path string

	progress chan Progress
	done     chan struct{}
	cancel   context.CancelFunc
	listener Listener

	mu     sync.Mutex
	result any
	err    error
}

const progressBuffer = 64

func newTask(kind Kind, path string, cancel context.CancelFunc, l Listener) *Task {
	return &Task{
		ID:       uuid.New(),
		Kind:     kind,
		Path:     path,
		progress: make(chan Progress, progressBuffer),
		done:     make(chan struct{}),
		cancel:   cancel,
		listener: l,
	}
}

// Progress returns the task's progress reports. Reports are dropped when
// the channel is full; it is closed when the task finishes.
func (t *Task) Progress() <-chan Progress {
	return t.progress
}

// Done is closed when the task finishes.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Cancel requests cooperative cancellation.
func (t *Task) Cancel() {
	t.cancel()
}

// Wait blocks until the task finishes and returns its error.
func (t *Task) Wait() error {
	<-t.done
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Result returns the task's result once finished.
func (t *Task) Result() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

func (t *Task) report(current, total int, description string) {
	p := Progress{Current: current, Total: total, Description: description}
	select {
	case t.progress <- p:
	default:
	}
	if t.listener != nil {
		t.listener.Progress(t, p)
	}
}

func (t *Task) finish(result any, err error) {
	t.mu.Lock()
	t.result = result
	t.err = err
	t.mu.Unlock()
	t.cancel()

	// listeners hear about the outcome before waiters are released
	if err != nil {
		slog.Debug("Task failed", "task", t.ID, "kind", t.Kind, "path", t.Path, "error", err)
		if t.listener != nil {
			t.listener.Failed(t, err)
		}
	} else {
		slog.Debug("Task finished", "task", t.ID, "kind", t.Kind, "path", t.Path)
		if t.listener != nil {
			t.listener.Done(t)
		}
	}
	close(t.progress)
	close(t.done)
}

// LogListener reports task notifications through slog.
type LogListener struct{}

func (LogListener) Progress(t *Task, p Progress) {
	slog.Debug("Task progress", "task", t.ID, "kind", t.Kind, "current", p.Current, "total", p.Total, "step", p.Description)
}

func (LogListener) Done(t *Task) {
	slog.Info("Task done", "task", t.ID, "kind", t.Kind, "path", t.Path)
}

func (LogListener) Failed(t *Task, err error) {
	slog.Error("Task failed", "task", t.ID, "kind", t.Kind, "path", t.Path, "error", err)
}
