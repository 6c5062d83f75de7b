package watcher

import (
	"errors"
	"fmt"

	"spawnio.dev/cli/internal/core/domain/process"
)

// ErrNotLaunched is returned by Write when the process handle is invalid,
// either because the launch failed or because watching already ended.
var ErrNotLaunched = errors.New("process not launched")

// ErrEmptyWrite is returned by Write for a zero-length payload.
var ErrEmptyWrite = errors.New("empty write")

// LaunchError carries the reason a child process could not be started. It is
// the failure value of the terminal future when launching fails.
type LaunchError struct {
	Err error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch process: %v", e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// WriteAbortedError is the failure value of a write future whose bytes were
// never fully handed to the child. Reason distinguishes process completion
// from cancellation.
type WriteAbortedError struct {
	Reason string
}

func (e *WriteAbortedError) Error() string {
	return "write aborted: " + e.Reason
}

// CancelledError is the failure value of the terminal future when Cancel is
// invoked. This is the only path that fails the terminal future after a
// successful launch.
type CancelledError struct {
	Signal process.Signal
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("watch cancelled (%v)", process.ConvertSignal(e.Signal))
}
