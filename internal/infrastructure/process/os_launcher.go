package process

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"spawnio.dev/cli/internal/core/domain/process"
	procport "spawnio.dev/cli/internal/core/ports/process"
)

// OSLauncher starts child processes through os/exec with piped streams.
type OSLauncher struct {
	env []string
}

// NewOSLauncher creates a launcher inheriting the current environment.
func NewOSLauncher() *OSLauncher {
	return &OSLauncher{env: os.Environ()}
}

// Launch starts the command and returns its handle. The returned process is
// not reaped until Wait is called, so stream reads always complete before
// the exit status is collected.
func (l *OSLauncher) Launch(ctx context.Context, cmd process.Command) (procport.Process, error) {
	execCmd := exec.CommandContext(ctx, cmd.Executable(), cmd.Args()...)

	if cmd.WorkingDir() != "" {
		execCmd.Dir = cmd.WorkingDir()
	}
	execCmd.Env = l.buildEnvironment(cmd.Env())

	stdin, err := execCmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	stdout, err := execCmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	stderr, err := execCmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := execCmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("failed to start process: %w", err)
	}

	return &osProcess{
		cmd:    execCmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
	}, nil
}

// buildEnvironment combines the base environment with command-specific
// variables
func (l *OSLauncher) buildEnvironment(cmdEnv map[string]string) []string {
	env := append([]string(nil), l.env...)
	for key, value := range cmdEnv {
		env = append(env, fmt.Sprintf("%s=%s", key, value))
	}
	return env
}

// osProcess implements the Process port over an exec.Cmd
type osProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	mu         sync.RWMutex
	waited     bool
	exitCode   int
	signaled   bool
	termSignal int
	waitOnce   sync.Once
	waitErr    error
}

func (p *osProcess) PID() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return -1
	}
	return p.cmd.Process.Pid
}

func (p *osProcess) Stdin() io.WriteCloser {
	return p.stdin
}

func (p *osProcess) Stdout() io.ReadCloser {
	return p.stdout
}

func (p *osProcess) Stderr() io.ReadCloser {
	return p.stderr
}

func (p *osProcess) Signal(signal process.Signal) error {
	if p.cmd == nil || p.cmd.Process == nil {
		return fmt.Errorf("process not running")
	}
	return p.cmd.Process.Signal(process.ConvertSignal(signal))
}

// Wait reaps the process exactly once and records its exit code and, when it
// died by signal, the signal number.
func (p *osProcess) Wait() error {
	p.waitOnce.Do(func() {
		err := p.cmd.Wait()

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

func (p *osProcess) Status() process.Status {
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

func (p *osProcess) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.waited
}
