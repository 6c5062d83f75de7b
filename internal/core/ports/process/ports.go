package process

import (
	"context"
	"io"

	"spawnio.dev/cli/internal/core/domain/process"
)

// Process represents a running child process handle
type Process interface {
	// PID returns the process ID
	PID() int

	// Stdin returns the stdin writer for sending data to the process
	Stdin() io.WriteCloser

	// Stdout returns the stdout reader for receiving data from the process
	Stdout() io.ReadCloser

	// Stderr returns the stderr reader for receiving error output
	Stderr() io.ReadCloser

	// Signal sends a signal to the process
	Signal(signal process.Signal) error

	// Wait reaps the process and records its final status. Safe to call
	// more than once; later calls return the first result.
	Wait() error

	// Status returns the current status. Exit code and termination signal
	// are meaningful only after Wait has returned.
	Status() process.Status

	// IsRunning returns true if the process has not been reaped yet
	IsRunning() bool
}

// Launcher is responsible for starting child processes.
type Launcher interface {
	Launch(ctx context.Context, cmd process.Command) (Process, error)
}
