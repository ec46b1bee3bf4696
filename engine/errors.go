package engine

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrOutOfMemory is returned when the engine cannot allocate storage for the volume.
	ErrOutOfMemory = errors.New("reconstruction engine out of memory")
	// ErrTrackingLost is returned when a frame could not be registered against the volume.
	ErrTrackingLost = errors.New("camera tracking lost")
)

// ErrorClass says how the pipeline reacts to an error raised during a cycle.
type ErrorClass int

// The error classes, from harmless to fatal.
const (
	// ClassNone is a nil error.
	ClassNone ErrorClass = iota
	// ClassDegraded means the cycle produced nothing to render but the session continues.
	ClassDegraded
	// ClassResourceExhausted is an allocation failure. The session ends.
	ClassResourceExhausted
	// ClassFatal is any unclassified failure. The session ends.
	ClassFatal
)

func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassDegraded:
		return "degraded"
	case ClassResourceExhausted:
		return "resource exhausted"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// IsFatal returns whether an error of this class ends the session.
func (c ErrorClass) IsFatal() bool {
	return c == ClassResourceExhausted || c == ClassFatal
}

// Classify sorts an error raised by an engine, a sink or an export into its class.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}
	if errors.Is(err, ErrTrackingLost) {
		return ClassDegraded
	}
	if errors.Is(err, ErrOutOfMemory) {
		return ClassResourceExhausted
	}
	var rtErr runtime.Error
	if errors.As(err, &rtErr) && (strings.Contains(rtErr.Error(), "makeslice") || strings.Contains(rtErr.Error(), "out of memory")) {
		return ClassResourceExhausted
	}
	return ClassFatal
}

// PanicError wraps a value recovered from a panic so that it can be classified like any other
// failure.
type PanicError struct {
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap exposes a recovered error value.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
