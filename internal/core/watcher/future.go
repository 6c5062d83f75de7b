package watcher

import (
	"context"

	"spawnio.dev/cli/internal/core/domain/process"
)

// WriteFuture is the completion handle of one Write call. It resolves with
// the write's cumulative target offset once that many bytes have been handed
// to the child, or fails with a WriteAbortedError.
type WriteFuture struct {
	target uint64
	done   chan struct{}
	n      uint64
	err    error
}

func newWriteFuture(target uint64) *WriteFuture {
	return &WriteFuture{target: target, done: make(chan struct{})}
}

// Target returns the cumulative byte offset this write completes at.
func (f *WriteFuture) Target() uint64 {
	return f.target
}

// Done returns a channel closed once the future is resolved or failed.
func (f *WriteFuture) Done() <-chan struct{} {
	return f.done
}

// Result returns the outcome. It must only be called after Done is closed.
func (f *WriteFuture) Result() (uint64, error) {
	return f.n, f.err
}

// Wait blocks until the future settles or ctx is cancelled.
func (f *WriteFuture) Wait(ctx context.Context) (uint64, error) {
	select {
	case <-f.done:
		return f.n, f.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// resolve and fail are called once, from the watcher loop only.
func (f *WriteFuture) resolve(n uint64) {
	f.n = n
	close(f.done)
}

func (f *WriteFuture) fail(err error) {
	f.err = err
	close(f.done)
}

// ResultFuture is the terminal future of a watch. It resolves exactly once
// with the process's final Result, or fails with a LaunchError or
// CancelledError.
type ResultFuture struct {
	done chan struct{}
	res  *process.Result
	err  error
}

func newResultFuture() *ResultFuture {
	return &ResultFuture{done: make(chan struct{})}
}

func newFailedResultFuture(err error) *ResultFuture {
	f := newResultFuture()
	f.fail(err)
	return f
}

// Done returns a channel closed once the future is resolved or failed.
func (f *ResultFuture) Done() <-chan struct{} {
	return f.done
}

// Result returns the outcome. It must only be called after Done is closed.
func (f *ResultFuture) Result() (*process.Result, error) {
	return f.res, f.err
}

// Wait blocks until the future settles or ctx is cancelled.
func (f *ResultFuture) Wait(ctx context.Context) (*process.Result, error) {
	select {
	case <-f.done:
		return f.res, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *ResultFuture) resolve(res *process.Result) {
	f.res = res
	close(f.done)
}

func (f *ResultFuture) fail(err error) {
	f.err = err
	close(f.done)
}
