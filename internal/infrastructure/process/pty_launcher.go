package process

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	creackpty "github.com/creack/pty"

	"spawnio.dev/cli/internal/core/domain/process"
	procport "spawnio.dev/cli/internal/core/ports/process"
)

// PTYLauncher starts child processes attached to a pseudo-terminal. The PTY
// master serves both the stdin-write and stdout-read ends; a terminal merges
// error output into the same stream, so stderr is empty and closes
// immediately.
type PTYLauncher struct {
	env  []string
	rows uint16
	cols uint16
}

// NewPTYLauncher creates a PTY launcher inheriting the current environment.
func NewPTYLauncher() *PTYLauncher {
	return &PTYLauncher{env: os.Environ()}
}

// NewPTYLauncherWithSize creates a PTY launcher with an initial window size.
func NewPTYLauncherWithSize(rows, cols uint16) *PTYLauncher {
	return &PTYLauncher{env: os.Environ(), rows: rows, cols: cols}
}

// Launch starts the command on a fresh PTY and returns its handle.
func (l *PTYLauncher) Launch(ctx context.Context, cmd process.Command) (procport.Process, error) {
	execCmd := exec.CommandContext(ctx, cmd.Executable(), cmd.Args()...)

	if cmd.WorkingDir() != "" {
		execCmd.Dir = cmd.WorkingDir()
	}
	env := append([]string(nil), l.env...)
	for key, value := range cmd.Env() {
		env = append(env, fmt.Sprintf("%s=%s", key, value))
	}
	termSet := false
	for _, kv := range env {
		if len(kv) >= 5 && kv[:5] == "TERM=" {
			termSet = true
			break
		}
	}
	if !termSet {
		env = append(env, "TERM=xterm")
	}
	execCmd.Env = env

	master, err := creackpty.Start(execCmd)
	if err != nil {
		return nil, fmt.Errorf("failed to start with PTY: %w", err)
	}

	if l.rows > 0 && l.cols > 0 {
		if err := creackpty.Setsize(master, &creackpty.Winsize{Rows: l.rows, Cols: l.cols}); err != nil {
			master.Close()
			execCmd.Process.Kill()
			execCmd.Wait()
			return nil, fmt.Errorf("failed to set PTY size: %w", err)
		}
	}

	p := &ptyProcess{cmd: execCmd, master: master}
	return p, nil
}

// ptyProcess implements the Process port over a PTY master.
type ptyProcess struct {
	cmd    *exec.Cmd
	master *os.File

	closeOnce sync.Once

	mu         sync.RWMutex
	waited     bool
	exitCode   int
	signaled   bool
	termSignal int
	waitOnce   sync.Once
	waitErr    error
}

func (p *ptyProcess) closeMaster() {
	p.closeOnce.Do(func() { p.master.Close() })
}

func (p *ptyProcess) PID() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return -1
	}
	return p.cmd.Process.Pid
}

func (p *ptyProcess) Stdin() io.WriteCloser {
	return &masterEnd{p: p}
}

func (p *ptyProcess) Stdout() io.ReadCloser {
	return &masterEnd{p: p}
}

func (p *ptyProcess) Stderr() io.ReadCloser {
	return io.NopCloser(bytes.NewReader(nil))
}

// Resize changes the PTY window size.
func (p *ptyProcess) Resize(rows, cols uint16) error {
	return creackpty.Setsize(p.master, &creackpty.Winsize{Rows: rows, Cols: cols})
}

func (p *ptyProcess) Signal(signal process.Signal) error {
	if p.cmd == nil || p.cmd.Process == nil {
		return fmt.Errorf("process not running")
	}
	return p.cmd.Process.Signal(process.ConvertSignal(signal))
}

func (p *ptyProcess) Wait() error {
	p.waitOnce.Do(func() {
		err := p.cmd.Wait()
		p.closeMaster()

		p.mu.Lock()
		defer p.mu.Unlock()
		p.waited = true
		p.waitErr = err

		state := p.cmd.ProcessState
		if state == nil {
			p.exitCode = -1
			return
		}
		p.exitCode = state.ExitCode()
		if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			p.signaled = true
			p.termSignal = int(ws.Signal())
		}
	})

	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.waitErr
}

func (p *ptyProcess) Status() process.Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return process.Status{
		Running:    !p.waited,
		ExitCode:   p.exitCode,
		Signaled:   p.signaled,
		TermSignal: p.termSignal,
		PID:        p.PID(),
	}
}

func (p *ptyProcess) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.waited
}

// masterEnd exposes the PTY master as both stream ends. Reads past the
// child's exit surface as end-of-stream rather than EIO.
type masterEnd struct {
	p *ptyProcess
}

func (m *masterEnd) Read(b []byte) (int, error) {
	n, err := m.p.master.Read(b)
	if err != nil && err != io.EOF {
		// Linux reports EIO on the master once the slave side closes
		return n, io.EOF
	}
	return n, err
}

func (m *masterEnd) Write(b []byte) (int, error) {
	return m.p.master.Write(b)
}

func (m *masterEnd) Close() error {
	m.p.closeMaster()
	return nil
}
