// Package errs defines the error kinds shared by every stage of the engine.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// ErrFormat is returned when a container or serialized file has an
// unrecognized signature, version or layout.
var ErrFormat = errors.New("unrecognized format")

// ErrTruncated is returned when declared sizes exceed the available bytes.
var ErrTruncated = errors.New("truncated data")

// ErrUnsupportedVersion is returned when the type tree format is unknown.
var ErrUnsupportedVersion = errors.New("unsupported serialized file version")

// ErrUnsupportedAssetType is returned when an object cannot be decoded or
// edited. It never aborts enumeration of the remaining objects.
var ErrUnsupportedAssetType = errors.New("unsupported asset type")

// ErrConflictingEdit is returned when two pending edits touch overlapping bytes.
var ErrConflictingEdit = errors.New("conflicting edits")

// ErrPlanOverflow is returned when a patched container would exceed the
// configured maximum size.
var ErrPlanOverflow = errors.New("patched container exceeds maximum size")

// ErrIOWrite is returned when writing the output container fails.
var ErrIOWrite = errors.New("write failed")

// ErrBusy is returned when a request arrives while a conflicting operation
// is in flight on the same bundle.
var ErrBusy = errors.New("bundle is busy")

// Stage names the engine step that produced an error.
type Stage string

const (
	StageRead     Stage = "read"
	StageIndex    Stage = "index"
	StageDecode   Stage = "decode"
	StageEncode   Stage = "encode"
	StagePlan     Stage = "plan"
	StageWrite    Stage = "write"
	StageSchedule Stage = "schedule"
)

// StageError tags an error with the stage, file and object or offset that
// triggered it. It unwraps to the underlying error kind.
type StageError struct {
	Stage  Stage
	File   string
	PathID *int64
	Offset int64
	Err    error
}

func (e *StageError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Stage))
	if e.File != "" {
		fmt.Fprintf(&b, " %s", e.File)
	}
	if e.PathID != nil {
		fmt.Fprintf(&b, " path_id=%d", *e.PathID)
	} else if e.Offset >= 0 {
		fmt.Fprintf(&b, " offset=%d", e.Offset)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *StageError) Unwrap() error { return e.Err }

// At tags err with a stage and byte offset.
func At(stage Stage, file string, offset int64, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, File: file, Offset: offset, Err: err}
}

// ForObject tags err with a stage and object.
func ForObject(stage Stage, file string, pathID int64, err error) error {
	if err == nil {
		return nil
	}
	id := pathID
	return &StageError{Stage: stage, File: file, PathID: &id, Offset: -1, Err: err}
}

// Kind wraps a detail error so it matches kind with errors.Is.
func Kind(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}
