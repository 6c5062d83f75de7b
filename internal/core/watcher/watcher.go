// Package watcher implements the async process-I/O controller: it launches a
// child through a Launcher, exposes incremental stdout/stderr chunks while
// they arrive, schedules stdin writes with per-write completion futures, and
// delivers a single terminal result once the child's stdout closes.
//
// All mutable state (the process handle, the accumulating result, the
// pending-write queue) is owned by one event-loop goroutine. Per-stream
// reader goroutines and a single stdin writer goroutine talk to the loop over
// channels, so callbacks for a stream are never reentered concurrently and
// no locking is needed around the shared state.
package watcher

import (
	"context"
	"io"
	"sync"

	"spawnio.dev/cli/internal/core/domain/process"
	"spawnio.dev/cli/internal/core/ports"
	procport "spawnio.dev/cli/internal/core/ports/process"
)

const (
	// DefaultChunkSize bounds a single read from stdout/stderr.
	DefaultChunkSize = 8 * 1024

	// DefaultEventBuffer is the progress channel capacity. Chunks are
	// dropped with a warning once the consumer falls this far behind.
	DefaultEventBuffer = 1024
)

// Options configures a watch.
type Options struct {
	// Buffer selects which streams are accumulated into the Result.
	Buffer process.BufferFlags

	// ChunkSize bounds a single stream read. Defaults to DefaultChunkSize.
	ChunkSize int

	// EventBuffer is the progress channel capacity. Defaults to
	// DefaultEventBuffer.
	EventBuffer int
}

type writeRequest struct {
	data  []byte
	reply chan *WriteFuture
}

type writeResult struct {
	n   int
	err error
}

type killRequest struct {
	sig   process.Signal
	reply chan bool
}

type cancelRequest struct {
	sig   process.Signal
	reply chan struct{}
}

// Watcher drives one child process. Create it with Spawn.
type Watcher struct {
	logger ports.LoggingGateway
	opts   Options

	proc  procport.Process
	stdin io.WriteCloser

	events chan process.StreamChunk
	result *ResultFuture

	stdoutCh    chan []byte
	stderrCh    chan []byte
	submitCh    chan writeRequest
	killCh      chan killRequest
	cancelCh    chan cancelRequest
	writeCh     chan []byte
	writeDoneCh chan writeResult
	closedCh    chan struct{}

	// pid is the one query served outside the loop
	pidMu    sync.Mutex
	pid      int
	pidValid bool

	// loop-owned state below; touched only by loop, finalize and cancel
	stdoutBuf     []byte
	stderrBuf     []byte
	pendingBytes  []byte
	submitted     uint64
	written       uint64
	pendingWrites []*WriteFuture
	writerBusy    bool
	stdinErr      error
}

// Spawn launches cmd through the launcher and starts watching it. Launch
// failure does not return an error: the returned Watcher's terminal future is
// already failed with a LaunchError and its progress channel is closed.
func Spawn(ctx context.Context, launcher procport.Launcher, cmd process.Command, opts Options, logger ports.LoggingGateway) *Watcher {
	if logger == nil {
		logger = noopLogger{}
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultEventBuffer
	}

	w := &Watcher{
		logger:      logger,
		opts:        opts,
		events:      make(chan process.StreamChunk, opts.EventBuffer),
		result:      newResultFuture(),
		stdoutCh:    make(chan []byte),
		stderrCh:    make(chan []byte),
		submitCh:    make(chan writeRequest),
		killCh:      make(chan killRequest),
		cancelCh:    make(chan cancelRequest),
		writeCh:     make(chan []byte, 1),
		writeDoneCh: make(chan writeResult),
		closedCh:    make(chan struct{}),
	}

	proc, err := launcher.Launch(ctx, cmd)
	if err != nil {
		logger.LogError(err, "failed to launch process", map[string]interface{}{
			"command": cmd.String(),
		})
		w.result = newFailedResultFuture(&LaunchError{Err: err})
		close(w.events)
		close(w.closedCh)
		return w
	}

	w.proc = proc
	w.stdin = proc.Stdin()
	w.pid = proc.PID()
	w.pidValid = true

	if opts.Buffer.Has(process.BufferStdout) {
		w.stdoutBuf = make([]byte, 0)
	}
	if opts.Buffer.Has(process.BufferStderr) {
		w.stderrBuf = make([]byte, 0)
	}

	go w.reader(proc.Stdout(), w.stdoutCh)
	go w.reader(proc.Stderr(), w.stderrCh)
	go w.writer()
	go w.loop()

	logger.Log(ports.LogLevelInfo, "process started", map[string]interface{}{
		"pid":     w.pid,
		"command": cmd.String(),
	})

	return w
}

// Events returns the progress channel. It yields chunks in arrival order and
// is closed before the terminal future settles.
func (w *Watcher) Events() <-chan process.StreamChunk {
	return w.events
}

// Result returns the terminal future.
func (w *Watcher) Result() *ResultFuture {
	return w.result
}

// Done returns a channel closed once the terminal future settles.
func (w *Watcher) Done() <-chan struct{} {
	return w.result.Done()
}

// PID returns the child's process id while the handle is valid.
func (w *Watcher) PID() (int, bool) {
	w.pidMu.Lock()
	defer w.pidMu.Unlock()
	return w.pid, w.pidValid
}

// Write queues data for the child's stdin and returns a future that resolves
// with the cumulative byte offset this write completes at. Writes complete in
// submission order. Empty payloads are rejected without touching any
// accounting; writing after the watch ended fails with ErrNotLaunched.
func (w *Watcher) Write(data []byte) (*WriteFuture, error) {
	if len(data) == 0 {
		return nil, ErrEmptyWrite
	}
	req := writeRequest{
		data:  append([]byte(nil), data...),
		reply: make(chan *WriteFuture, 1),
	}
	select {
	case w.submitCh <- req:
		return <-req.reply, nil
	case <-w.closedCh:
		return nil, ErrNotLaunched
	}
}

// Kill requests termination with the given signal and reports whether the
// request was delivered. The watch still ends through the normal path, on
// the child's own time.
func (w *Watcher) Kill(sig process.Signal) bool {
	req := killRequest{sig: sig, reply: make(chan bool, 1)}
	select {
	case w.killCh <- req:
		return <-req.reply
	case <-w.closedCh:
		return false
	}
}

// Cancel requests termination and abandons observation: the terminal future
// fails with a CancelledError, pending writes fail, and no further chunks
// are delivered. No-op once the watch already ended.
func (w *Watcher) Cancel(sig process.Signal) {
	req := cancelRequest{sig: sig, reply: make(chan struct{})}
	select {
	case w.cancelCh <- req:
		<-req.reply
	case <-w.closedCh:
	}
}

// reader pumps bounded chunks from one stream into ch and closes it at
// end-of-stream.
func (w *Watcher) reader(r io.ReadCloser, ch chan<- []byte) {
	defer close(ch)
	buf := make([]byte, w.opts.ChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case ch <- data:
			case <-w.closedCh:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// writer hands queued stdin bytes to the OS one chunk at a time and reports
// how much was accepted.
func (w *Watcher) writer() {
	for chunk := range w.writeCh {
		n, err := w.stdin.Write(chunk)
		select {
		case w.writeDoneCh <- writeResult{n: n, err: err}:
		case <-w.closedCh:
			return
		}
	}
}

func (w *Watcher) loop() {
	defer close(w.closedCh)

	stderrCh := w.stderrCh
	for {
		select {
		case chunk, ok := <-w.stdoutCh:
			if !ok {
				// stdout closing is the proxy for process exit:
				// both pipes must close before the child can be
				// reaped, and draining reads first keeps trailing
				// output from being lost.
				w.finalize(stderrCh)
				return
			}
			w.handleChunk(process.SourceStdout, chunk)

		case chunk, ok := <-stderrCh:
			if !ok {
				stderrCh = nil
				continue
			}
			w.handleChunk(process.SourceStderr, chunk)

		case res := <-w.writeDoneCh:
			w.applyWriteResult(res)
			w.dispatchWrite()

		case req := <-w.submitCh:
			req.reply <- w.submit(req.data)
			w.dispatchWrite()

		case req := <-w.killCh:
			err := w.proc.Signal(req.sig)
			if err != nil {
				w.logger.LogError(err, "failed to signal process", map[string]interface{}{
					"pid": w.pid,
				})
			}
			req.reply <- err == nil

		case req := <-w.cancelCh:
			w.cancel(req.sig)
			close(req.reply)
			return
		}
	}
}

func (w *Watcher) handleChunk(src process.Source, data []byte) {
	if src == process.SourceStdout && w.stdoutBuf != nil {
		w.stdoutBuf = append(w.stdoutBuf, data...)
	}
	if src == process.SourceStderr && w.stderrBuf != nil {
		w.stderrBuf = append(w.stderrBuf, data...)
	}
	select {
	case w.events <- process.StreamChunk{Source: src, Data: data}:
	default:
		// Consumer is behind, drop the chunk
		w.logger.Log(ports.LogLevelWarn, "event buffer full, dropping chunk", map[string]interface{}{
			"source": string(src),
			"bytes":  len(data),
		})
	}
}

// submit appends data to the pending buffer and registers a completion
// future at the new cumulative offset. Offsets are strictly increasing by
// construction, so the FIFO order of pendingWrites is ascending-offset order.
func (w *Watcher) submit(data []byte) *WriteFuture {
	w.pendingBytes = append(w.pendingBytes, data...)
	w.submitted += uint64(len(data))
	fut := newWriteFuture(w.submitted)
	w.pendingWrites = append(w.pendingWrites, fut)
	return fut
}

// dispatchWrite hands the pending buffer to the writer when it is idle.
func (w *Watcher) dispatchWrite() {
	if w.writerBusy || w.stdinErr != nil || len(w.pendingBytes) == 0 {
		return
	}
	chunk := w.pendingBytes
	w.pendingBytes = nil
	w.writerBusy = true
	w.writeCh <- chunk
}

func (w *Watcher) applyWriteResult(res writeResult) {
	w.writerBusy = false
	if res.n > 0 {
		w.written += uint64(res.n)
		w.resolveWrites()
	}
	if res.err != nil {
		w.stdinErr = res.err
		w.logger.LogError(res.err, "stdin write failed", map[string]interface{}{
			"bytes_written": w.written,
		})
	}
}

// resolveWrites settles every pending write whose target offset has been
// reached, in ascending offset order, stopping at the first unmet one.
func (w *Watcher) resolveWrites() {
	for len(w.pendingWrites) > 0 && w.pendingWrites[0].target <= w.written {
		fut := w.pendingWrites[0]
		w.pendingWrites = w.pendingWrites[1:]
		fut.resolve(fut.target)
	}
}

func (w *Watcher) failPendingWrites(err error) {
	for _, fut := range w.pendingWrites {
		fut.fail(err)
	}
	w.pendingWrites = nil
}

// finalize runs exactly once, from the stdout end-of-stream path: it settles
// the in-flight stdin write, drains trailing stderr, reaps the child, and
// delivers the terminal result before failing the writes that never made it.
func (w *Watcher) finalize(stderrCh chan []byte) {
	if w.writerBusy {
		w.applyWriteResult(<-w.writeDoneCh)
	}
	close(w.writeCh)
	if w.stdin != nil {
		w.stdin.Close()
	}

	if stderrCh != nil {
		for chunk := range stderrCh {
			w.handleChunk(process.SourceStderr, chunk)
		}
	}

	if err := w.proc.Wait(); err != nil {
		w.logger.Log(ports.LogLevelDebug, "process wait returned", map[string]interface{}{
			"error": err.Error(),
		})
	}
	st := w.proc.Status()
	if st.Running {
		// Internal invariant violation: stdout closed while the child
		// is still running.
		w.logger.Log(ports.LogLevelError, "process still running after stdout closed", map[string]interface{}{
			"pid": w.pid,
		})
	}

	res := &process.Result{
		Stdout:     w.stdoutBuf,
		Stderr:     w.stderrBuf,
		ExitCode:   st.ExitCode,
		Signaled:   st.Signaled,
		TermSignal: st.TermSignal,
	}

	w.invalidate()
	close(w.events)
	w.result.resolve(res)
	w.failPendingWrites(&WriteAbortedError{Reason: "process finished before write completed"})

	w.logger.Log(ports.LogLevelInfo, "process finished", map[string]interface{}{
		"exit_code": st.ExitCode,
		"signaled":  st.Signaled,
	})
}

// cancel abandons observation: it signals the child, fails the terminal
// future and every pending write, and leaves reaping to a background
// goroutine.
func (w *Watcher) cancel(sig process.Signal) {
	if err := w.proc.Signal(sig); err != nil {
		w.logger.LogError(err, "failed to signal process on cancel", map[string]interface{}{
			"pid": w.pid,
		})
	}
	// Closing stdin first unblocks an in-flight write so it can be settled
	// before teardown; the writer must not observe the invalidated handle.
	if w.stdin != nil {
		w.stdin.Close()
	}
	if w.writerBusy {
		w.applyWriteResult(<-w.writeDoneCh)
	}
	close(w.writeCh)

	proc := w.proc
	go func() { _ = proc.Wait() }()

	w.invalidate()
	close(w.events)
	w.result.fail(&CancelledError{Signal: sig})
	w.failPendingWrites(&WriteAbortedError{Reason: "watch cancelled"})

	w.logger.Log(ports.LogLevelInfo, "watch cancelled", map[string]interface{}{
		"pid": w.pid,
	})
}

func (w *Watcher) invalidate() {
	w.proc = nil
	w.stdin = nil
	w.pidMu.Lock()
	w.pidValid = false
	w.pidMu.Unlock()
}

// noopLogger keeps the watcher usable without a configured gateway.
type noopLogger struct{}

func (noopLogger) Log(ports.LogLevel, string, map[string]interface{}) {}
func (noopLogger) LogError(error, string, map[string]interface{})     {}
func (noopLogger) SetLogLevel(ports.LogLevel)                         {}
func (noopLogger) GetLogLevel() ports.LogLevel                        { return ports.LogLevelInfo }
