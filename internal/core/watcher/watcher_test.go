package watcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"spawnio.dev/cli/internal/core/domain/process"
	procport "spawnio.dev/cli/internal/core/ports/process"
)

// fakeProcess is a Process implementation backed by in-memory pipes. The
// test plays the child: it reads from StdinSide, writes to StdoutSide and
// StderrSide, and calls Exit to simulate process termination.
type fakeProcess struct {
	pid int

	StdinSide  *io.PipeReader
	StdoutSide *io.PipeWriter
	StderrSide *io.PipeWriter

	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stderrR *io.PipeReader

	mu       sync.Mutex
	exited   bool
	exitCode int
	signaled bool
	termSig  int
	signals  []process.Signal
	waitCh   chan struct{}
}

func newFakeProcess(pid int) *fakeProcess {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	return &fakeProcess{
		pid:        pid,
		StdinSide:  stdinR,
		StdoutSide: stdoutW,
		StderrSide: stderrW,
		stdinW:     stdinW,
		stdoutR:    stdoutR,
		stderrR:    stderrR,
		waitCh:     make(chan struct{}),
	}
}

// Exit closes both output streams and unblocks Wait, in the order the OS
// would: descriptors released, then the child becomes reapable.
func (p *fakeProcess) Exit(code int) {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		return
	}
	p.exited = true
	p.exitCode = code
	p.mu.Unlock()

	p.StderrSide.Close()
	p.StdoutSide.Close()
	p.StdinSide.Close()
	close(p.waitCh)
}

// ExitSignaled simulates death by signal.
func (p *fakeProcess) ExitSignaled(sig int) {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		return
	}
	p.exited = true
	p.exitCode = -1
	p.signaled = true
	p.termSig = sig
	p.mu.Unlock()

	p.StderrSide.Close()
	p.StdoutSide.Close()
	p.StdinSide.Close()
	close(p.waitCh)
}

func (p *fakeProcess) Signals() []process.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]process.Signal(nil), p.signals...)
}

func (p *fakeProcess) PID() int              { return p.pid }
func (p *fakeProcess) Stdin() io.WriteCloser { return p.stdinW }
func (p *fakeProcess) Stdout() io.ReadCloser { return p.stdoutR }
func (p *fakeProcess) Stderr() io.ReadCloser { return p.stderrR }

func (p *fakeProcess) Signal(sig process.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signals = append(p.signals, sig)
	return nil
}

func (p *fakeProcess) Wait() error {
	<-p.waitCh
	return nil
}

func (p *fakeProcess) Status() process.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return process.Status{
		Running:    !p.exited,
		ExitCode:   p.exitCode,
		Signaled:   p.signaled,
		TermSignal: p.termSig,
		PID:        p.pid,
	}
}

func (p *fakeProcess) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.exited
}

// fakeLauncher returns a prepared process, or an error to simulate launch
// failure.
type fakeLauncher struct {
	proc *fakeProcess
	err  error
}

func (l *fakeLauncher) Launch(ctx context.Context, cmd process.Command) (procport.Process, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.proc, nil
}

func testCommand() process.Command {
	cmd, _ := process.NewCommand("child", nil)
	return cmd
}

func spawnFake(t *testing.T, opts Options) (*Watcher, *fakeProcess) {
	t.Helper()
	proc := newFakeProcess(4242)
	w := Spawn(context.Background(), &fakeLauncher{proc: proc}, testCommand(), opts, nil)
	return w, proc
}

func waitResult(t *testing.T, w *Watcher) (*process.Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return w.Result().Wait(ctx)
}

func TestWatcher_EchoScenario(t *testing.T) {
	w, proc := spawnFake(t, Options{Buffer: process.BufferStdout})

	pid, ok := w.PID()
	require.True(t, ok)
	assert.Equal(t, 4242, pid)

	_, err := proc.StdoutSide.Write([]byte("hello"))
	require.NoError(t, err)
	proc.Exit(0)

	var chunks []process.StreamChunk
	for chunk := range w.Events() {
		chunks = append(chunks, chunk)
	}
	require.Len(t, chunks, 1)
	assert.Equal(t, process.SourceStdout, chunks[0].Source)
	assert.Equal(t, []byte("hello"), chunks[0].Data)

	res, err := waitResult(t, w)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(res.Stdout))
	assert.Nil(t, res.Stderr, "stderr buffering was not requested")
	assert.Equal(t, 0, res.ExitCode)
	assert.False(t, res.Signaled)

	_, ok = w.PID()
	assert.False(t, ok, "handle should be invalid after completion")
}

func TestWatcher_ImmediateCloseWithBufferAll(t *testing.T) {
	w, proc := spawnFake(t, Options{Buffer: process.BufferAll})

	proc.Exit(3)

	res, err := waitResult(t, w)
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	require.NotNil(t, res.Stdout, "enabled buffer must be present even when empty")
	require.NotNil(t, res.Stderr, "enabled buffer must be present even when empty")
	assert.Empty(t, res.Stdout)
	assert.Empty(t, res.Stderr)
}

func TestWatcher_NoBuffersByDefault(t *testing.T) {
	w, proc := spawnFake(t, Options{})

	_, err := proc.StdoutSide.Write([]byte("ignored"))
	require.NoError(t, err)
	proc.Exit(0)
	for range w.Events() {
	}

	res, err := waitResult(t, w)
	require.NoError(t, err)
	assert.Nil(t, res.Stdout)
	assert.Nil(t, res.Stderr)
}

func TestWatcher_StderrOnlyChunks(t *testing.T) {
	w, proc := spawnFake(t, Options{Buffer: process.BufferStderr})

	_, err := proc.StderrSide.Write([]byte("warning: "))
	require.NoError(t, err)
	_, err = proc.StderrSide.Write([]byte("trouble"))
	require.NoError(t, err)
	proc.Exit(1)

	var got []byte
	for chunk := range w.Events() {
		require.Equal(t, process.SourceStderr, chunk.Source)
		got = append(got, chunk.Data...)
	}
	assert.Equal(t, "warning: trouble", string(got))

	res, err := waitResult(t, w)
	require.NoError(t, err)
	assert.Equal(t, "warning: trouble", string(res.Stderr))
	assert.Equal(t, 1, res.ExitCode)
}

func TestWatcher_SignaledTermination(t *testing.T) {
	w, proc := spawnFake(t, Options{})

	ok := w.Kill(process.SignalTerminate)
	assert.True(t, ok)
	assert.Equal(t, []process.Signal{process.SignalTerminate}, proc.Signals())

	proc.ExitSignaled(15)
	for range w.Events() {
	}

	res, err := waitResult(t, w)
	require.NoError(t, err)
	assert.True(t, res.Signaled)
	assert.Equal(t, 15, res.TermSignal)

	assert.False(t, w.Kill(process.SignalTerminate), "kill after completion should be refused")
}

func TestWatcher_WriteOrdering(t *testing.T) {
	w, proc := spawnFake(t, Options{})

	fut1, err := w.Write([]byte("abc"))
	require.NoError(t, err)
	fut2, err := w.Write([]byte("defg"))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), fut1.Target())
	assert.Equal(t, uint64(7), fut2.Target())

	// The child now consumes everything submitted.
	go io.Copy(io.Discard, proc.StdinSide)

	ctx := context.Background()
	n1, err := fut1.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n1)

	n2, err := fut2.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), n2)

	select {
	case <-fut1.Done():
	default:
		t.Fatal("first write must be settled before the second")
	}

	proc.Exit(0)
	for range w.Events() {
	}
	_, err = waitResult(t, w)
	require.NoError(t, err)
}

func TestWatcher_CoalescedWritesResolveTogether(t *testing.T) {
	w, proc := spawnFake(t, Options{})

	// First write occupies the writer; the pipe has no reader yet.
	fut1, err := w.Write([]byte("x"))
	require.NoError(t, err)

	fut2, err := w.Write([]byte("abc"))
	require.NoError(t, err)
	fut3, err := w.Write([]byte("defg"))
	require.NoError(t, err)

	select {
	case <-fut2.Done():
		t.Fatal("write must not settle before the child reads")
	case <-time.After(20 * time.Millisecond):
	}

	// Consume the 1-byte write, then the coalesced 7 bytes.
	buf := make([]byte, 16)
	n, err := proc.StdinSide.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got := 0
	for got < 7 {
		n, err = proc.StdinSide.Read(buf)
		require.NoError(t, err)
		got += n
	}

	ctx := context.Background()
	n1, err := fut1.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n1)
	n2, err := fut2.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), n2)
	n3, err := fut3.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), n3)

	proc.Exit(0)
	for range w.Events() {
	}
	_, err = waitResult(t, w)
	require.NoError(t, err)
}

func TestWatcher_EmptyWriteRejected(t *testing.T) {
	w, proc := spawnFake(t, Options{})

	_, err := w.Write(nil)
	assert.ErrorIs(t, err, ErrEmptyWrite)
	_, err = w.Write([]byte{})
	assert.ErrorIs(t, err, ErrEmptyWrite)

	// Accounting must be untouched: the next write's offset starts at zero.
	fut, err := w.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), fut.Target())

	go io.Copy(io.Discard, proc.StdinSide)
	proc.Exit(0)
	for range w.Events() {
	}
	_, err = waitResult(t, w)
	require.NoError(t, err)
}

func TestWatcher_PendingWriteFailsWhenProcessFinishes(t *testing.T) {
	w, proc := spawnFake(t, Options{})

	// Occupy the writer so the queued write below can never start.
	blocker, err := w.Write([]byte("block"))
	require.NoError(t, err)
	queued, err := w.Write([]byte("queued"))
	require.NoError(t, err)

	// The child exits without reading stdin. Closing StdinSide makes the
	// in-flight write fail, and the queued bytes are never dispatched.
	proc.Exit(0)
	for range w.Events() {
	}

	_, err = waitResult(t, w)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = blocker.Wait(ctx)
	var aborted *WriteAbortedError
	require.ErrorAs(t, err, &aborted)
	assert.Contains(t, aborted.Reason, "process finished")

	_, err = queued.Wait(ctx)
	require.ErrorAs(t, err, &aborted)

	_, err = w.Write([]byte("late"))
	assert.ErrorIs(t, err, ErrNotLaunched)
}

func TestWatcher_CancelBeforeAnyData(t *testing.T) {
	w, proc := spawnFake(t, Options{Buffer: process.BufferAll})

	pending, err := w.Write([]byte("never"))
	require.NoError(t, err)

	w.Cancel(process.SignalKill)

	_, err = waitResult(t, w)
	var cancelled *CancelledError
	require.ErrorAs(t, err, &cancelled)
	assert.Equal(t, process.SignalKill, cancelled.Signal)
	assert.Equal(t, []process.Signal{process.SignalKill}, proc.Signals())

	_, err = pending.Wait(context.Background())
	var aborted *WriteAbortedError
	require.ErrorAs(t, err, &aborted)
	assert.Contains(t, aborted.Reason, "cancelled")

	_, err = w.Write([]byte("more"))
	assert.ErrorIs(t, err, ErrNotLaunched)

	_, ok := w.PID()
	assert.False(t, ok)

	// Progress channel is closed without ever yielding.
	_, open := <-w.Events()
	assert.False(t, open)

	// Second cancel is a no-op.
	w.Cancel(process.SignalTerminate)
	assert.Equal(t, []process.Signal{process.SignalKill}, proc.Signals())

	proc.Exit(0)
}

func TestWatcher_CancelSettlesInFlightWrite(t *testing.T) {
	// Cancel must synchronize with the writer goroutine before tearing the
	// handle down; exercised repeatedly so the race detector gets a chance
	// to observe an unsettled in-flight write.
	for i := 0; i < 50; i++ {
		proc := newFakeProcess(1)
		w := Spawn(context.Background(), &fakeLauncher{proc: proc}, testCommand(), Options{}, nil)

		if i%2 == 0 {
			// Sometimes let the child consume, so the write may
			// complete concurrently with the cancellation.
			go io.Copy(io.Discard, proc.StdinSide)
		}

		fut, err := w.Write([]byte("data"))
		require.NoError(t, err)
		w.Cancel(process.SignalKill)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		n, err := fut.Wait(ctx)
		cancel()
		if err == nil {
			assert.Equal(t, fut.Target(), n, "a write that made it out resolves with its own offset")
		} else {
			var aborted *WriteAbortedError
			require.ErrorAs(t, err, &aborted)
			assert.Contains(t, aborted.Reason, "cancelled")
		}

		_, err = waitResult(t, w)
		var cancelled *CancelledError
		require.ErrorAs(t, err, &cancelled)

		_, err = w.Write([]byte("late"))
		assert.ErrorIs(t, err, ErrNotLaunched)

		proc.Exit(0)
	}
}

func TestWatcher_LaunchFailure(t *testing.T) {
	launchErr := errors.New("no such executable")
	w := Spawn(context.Background(), &fakeLauncher{err: launchErr}, testCommand(), Options{}, nil)

	select {
	case <-w.Done():
	default:
		t.Fatal("terminal future must be settled immediately on launch failure")
	}

	_, err := w.Result().Result()
	var le *LaunchError
	require.ErrorAs(t, err, &le)
	assert.ErrorIs(t, err, launchErr)

	_, ok := w.PID()
	assert.False(t, ok)

	_, err = w.Write([]byte("data"))
	assert.ErrorIs(t, err, ErrNotLaunched)

	assert.False(t, w.Kill(process.SignalTerminate))
	w.Cancel(process.SignalKill) // must not block or panic

	_, open := <-w.Events()
	assert.False(t, open)
}

func TestWatcher_BufferedOutputMatchesEvents(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numChunks := rapid.IntRange(0, 20).Draw(t, "numChunks")

		proc := newFakeProcess(1)
		w := Spawn(context.Background(), &fakeLauncher{proc: proc}, testCommand(), Options{Buffer: process.BufferAll}, nil)

		var wantOut, wantErr []byte
		go func() {
			for i := 0; i < numChunks; i++ {
				data := []byte(fmt.Sprintf("chunk-%d;", i))
				if i%2 == 0 {
					proc.StdoutSide.Write(data)
				} else {
					proc.StderrSide.Write(data)
				}
			}
			proc.Exit(0)
		}()
		for i := 0; i < numChunks; i++ {
			data := []byte(fmt.Sprintf("chunk-%d;", i))
			if i%2 == 0 {
				wantOut = append(wantOut, data...)
			} else {
				wantErr = append(wantErr, data...)
			}
		}

		var gotOut, gotErr []byte
		for chunk := range w.Events() {
			if chunk.Source == process.SourceStdout {
				gotOut = append(gotOut, chunk.Data...)
			} else {
				gotErr = append(gotErr, chunk.Data...)
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		res, err := w.Result().Wait(ctx)
		if err != nil {
			t.Fatalf("unexpected terminal error: %v", err)
		}

		// Buffered output equals the concatenation of delivered chunks.
		if string(res.Stdout) != string(gotOut) || string(res.Stdout) != string(wantOut) {
			t.Fatalf("stdout mismatch: buffered %q events %q want %q", res.Stdout, gotOut, wantOut)
		}
		if string(res.Stderr) != string(gotErr) || string(res.Stderr) != string(wantErr) {
			t.Fatalf("stderr mismatch: buffered %q events %q want %q", res.Stderr, gotErr, wantErr)
		}
	})
}

func TestWatcher_WriteOffsetsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		sizes := rapid.SliceOfN(rapid.IntRange(1, 100), 1, 20).Draw(t, "sizes")

		proc := newFakeProcess(1)
		w := Spawn(context.Background(), &fakeLauncher{proc: proc}, testCommand(), Options{}, nil)
		go io.Copy(io.Discard, proc.StdinSide)

		var futs []*WriteFuture
		var total uint64
		for i, size := range sizes {
			data := make([]byte, size)
			for j := range data {
				data[j] = byte(i)
			}
			fut, err := w.Write(data)
			if err != nil {
				t.Fatalf("write %d failed: %v", i, err)
			}
			total += uint64(size)
			if fut.Target() != total {
				t.Fatalf("write %d target %d, want %d", i, fut.Target(), total)
			}
			futs = append(futs, fut)
		}

		// Futures resolve in submission order with strictly increasing
		// cumulative offsets.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		var prev uint64
		for i, fut := range futs {
			n, err := fut.Wait(ctx)
			if err != nil {
				t.Fatalf("write %d failed: %v", i, err)
			}
			if n <= prev && i > 0 {
				t.Fatalf("write %d resolved with %d, not above %d", i, n, prev)
			}
			if n != fut.Target() {
				t.Fatalf("write %d resolved with %d, want target %d", i, n, fut.Target())
			}
			prev = n
		}

		proc.Exit(0)
		for range w.Events() {
		}
		if _, err := w.Result().Wait(ctx); err != nil {
			t.Fatalf("unexpected terminal error: %v", err)
		}
	})
}
