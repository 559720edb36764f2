package dabstract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors. Match them with errors.Is; every error returned by a
// wrapper wraps one of these.
var (
	ErrOutOfRange      = errors.New("index out of range")
	ErrLengthUndefined = errors.New("length undefined")
	ErrIntegrity       = errors.New("structural integrity violated")
	ErrInvalidIndex    = errors.New("invalid index")
	ErrKeyNotFound     = errors.New("key not found")
	ErrReservedKey     = errors.New("reserved key")
	ErrShapeMismatch   = errors.New("shape mismatch")
	ErrEmptySequence   = errors.New("sequence is empty")
	ErrUnsupported     = errors.New("unsupported operation")
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrEditClosed      = errors.New("edit already committed or rolled back")

	// ErrNotAvailable is returned by a reject-mode Filter for an item that
	// fails its predicate. Both it and ErrOutOfRange mean there is no value
	// to materialize at the position, so it matches ErrOutOfRange too.
	ErrNotAvailable = fmt.Errorf("%w: not available", ErrOutOfRange)
)

// Error provides context about a failed read. Path lists the names of the
// wrappers the failure crossed, outermost first; Index is the position at
// which the innermost positional wrapper failed, or -1 for failures outside
// any positional read (construction, chain steps).
//
//nolint:govet // fieldalignment: readability over a few bytes
type Error struct {
	Timestamp time.Time
	Err       error
	Path      []Name
	Key       string
	Index     int
	Canceled  bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	location := strings.Join(e.Path, " -> ")
	if e.Key != "" {
		return fmt.Sprintf("%s [key %q]: %v", location, e.Key, e.Err)
	}
	return fmt.Sprintf("%s [index %d]: %v", location, e.Index, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsCanceled reports whether the read was abandoned because its context ended.
func (e *Error) IsCanceled() bool {
	return e.Canceled || errors.Is(e.Err, context.Canceled) || errors.Is(e.Err, context.DeadlineExceeded)
}

// wrapError prepends name to the path of an existing *Error or creates one.
func wrapError(name Name, index int, err error) error {
	if err == nil {
		return nil
	}
	var ie *Error
	if errors.As(err, &ie) {
		ie.Path = append([]Name{name}, ie.Path...)
		if ie.Index < 0 && ie.Key == "" {
			ie.Index = index
		}
		return ie
	}
	return &Error{
		Timestamp: time.Now(),
		Err:       err,
		Path:      []Name{name},
		Index:     index,
		Canceled:  errors.Is(err, context.Canceled),
	}
}

// wrapKeyError is wrapError for structural lookups.
func wrapKeyError(name Name, key string, err error) error {
	if err == nil {
		return nil
	}
	var ie *Error
	if errors.As(err, &ie) {
		ie.Path = append([]Name{name}, ie.Path...)
		return ie
	}
	return &Error{
		Timestamp: time.Now(),
		Err:       err,
		Path:      []Name{name},
		Key:       key,
		Index:     -1,
	}
}

// panicError is produced when a transform, predicate or source panics
// inside a read.
type panicError struct {
	value any
	name  Name
}

func (p *panicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", p.name, p.value)
}

// recoverFromPanic converts a panic in the current read into an *Error.
func recoverFromPanic(err *error, name Name, index int) {
	if r := recover(); r != nil {
		*err = wrapError(name, index, &panicError{name: name, value: r})
	}
}
