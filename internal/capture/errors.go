package capture

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceUnavailable means no input device could be opened, or it
	// failed or ran dry before the capture completed.
	ErrDeviceUnavailable = errors.New("input device unavailable")
	// ErrWriteFailure means the container could not be created or fully written.
	ErrWriteFailure = errors.New("audio write failed")
)

// Error is returned by Pipeline.Capture. Kind is ErrDeviceUnavailable,
// ErrWriteFailure, or the context error when the capture was cancelled.
type Error struct {
	Kind error
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("capture %s: %v", e.Path, e.Kind)
	}
	return fmt.Sprintf("capture %s: %v: %v", e.Path, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
