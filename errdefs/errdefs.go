// Package errdefs - Error taxonomy shared by the classification pipeline.
package errdefs

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Kind identifies the class of a pipeline failure.
type Kind string

const (
	// KindNotFound is a missing directory, model or manifest path.
	KindNotFound Kind = "not_found"
	// KindModelLoad is a corrupt or incompatible model file.
	KindModelLoad Kind = "model_load"
	// KindDecode is an unreadable or non-image file.
	KindDecode Kind = "decode"
	// KindShapeMismatch is a tensor whose shape disagrees with the model input.
	KindShapeMismatch Kind = "shape_mismatch"
	// KindInference is a runtime failure inside the execution graph.
	KindInference Kind = "inference"
	// KindConfig is an invalid configuration value.
	KindConfig Kind = "config"
)

// Sentinel errors, one per Kind. Any *Error matches the sentinel of its Kind
// through errors.Is.
var (
	ErrNotFound      = errors.New("not found")
	ErrModelLoad     = errors.New("model load failed")
	ErrDecode        = errors.New("decode failed")
	ErrShapeMismatch = errors.New("shape mismatch")
	ErrInference     = errors.New("inference failed")
	ErrConfig        = errors.New("invalid config")
)

var sentinels = map[Kind]error{
	KindNotFound:      ErrNotFound,
	KindModelLoad:     ErrModelLoad,
	KindDecode:        ErrDecode,
	KindShapeMismatch: ErrShapeMismatch,
	KindInference:     ErrInference,
	KindConfig:        ErrConfig,
}

// Error carries the failure kind together with enough context (operation,
// path, stage) to diagnose it.
type Error struct {
	Kind  Kind
	Op    string
	Path  string
	Stage string
	Err   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Stage != "" {
		fmt.Fprintf(&b, " [%s]", e.Stage)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " %s", e.Path)
	}
	fmt.Fprintf(&b, ": %s", sentinels[e.Kind])
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// New builds an *Error of the given kind. The cause is wrapped with a stack
// trace when it does not already carry one.
//
// Arguments:
//   - kind: The failure class.
//   - op: The operation that failed, e.g. "dataset.enumerate".
//   - path: The file or directory involved, may be empty.
//   - err: The underlying cause, may be nil.
//
// Returns:
//   - error: The classified error.
func New(kind Kind, op, path string, err error) error {
	if err != nil {
		if _, ok := err.(interface{ StackTrace() errors.StackTrace }); !ok {
			err = errors.WithStack(err)
		}
	}
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// NotFound builds a KindNotFound error.
func NotFound(op, path string, err error) error { return New(KindNotFound, op, path, err) }

// ModelLoad builds a KindModelLoad error.
func ModelLoad(op, path string, err error) error { return New(KindModelLoad, op, path, err) }

// Decode builds a KindDecode error.
func Decode(op, path string, err error) error { return New(KindDecode, op, path, err) }

// ShapeMismatch builds a KindShapeMismatch error.
func ShapeMismatch(op string, err error) error { return New(KindShapeMismatch, op, "", err) }

// Inference builds a KindInference error.
func Inference(op string, err error) error { return New(KindInference, op, "", err) }

// Config builds a KindConfig error.
func Config(op string, err error) error { return New(KindConfig, op, "", err) }

// WithStage annotates err with the pipeline stage and image path in which it
// occurred. Errors that are not *Error are classified as KindInference.
func WithStage(err error, stage, path string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		cp := *e
		cp.Stage = stage
		if cp.Path == "" {
			cp.Path = path
		}
		return &cp
	}
	return &Error{Kind: KindInference, Op: "pipeline", Stage: stage, Path: path, Err: err}
}

// KindOf returns the Kind of err, or the empty Kind when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// StageOf returns the stage recorded on err, if any.
func StageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Stage
	}
	return ""
}
