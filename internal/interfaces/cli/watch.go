package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"spawnio.dev/cli/internal/config"
	"spawnio.dev/cli/internal/core/domain/process"
	procport "spawnio.dev/cli/internal/core/ports/process"
	"spawnio.dev/cli/internal/core/watcher"
	"spawnio.dev/cli/internal/infrastructure/logging"
	infraproc "spawnio.dev/cli/internal/infrastructure/process"
)

// WatchFlags holds command-line flags for the watch command
type WatchFlags struct {
	ConfigPath string
	WorkDir    string
	Env        []string
	PTY        bool
	MaxLines   int
}

// newWatchCommand creates the watch subcommand
func newWatchCommand() *cobra.Command {
	flags := &WatchFlags{}

	cmd := &cobra.Command{
		Use:   "watch [flags] -- <command> [args...]",
		Short: "Run a command inside a live terminal view",
		Long: `Watch launches a child process and renders its output chunks in an
interactive terminal view with a live status line.

Keyboard controls: q cancels the watch and quits (the child is killed),
any other key is ignored.

Example:
  spawnio watch -- tail -f /var/log/syslog`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, flags, args)
		},
	}

	cmd.Flags().StringVar(&flags.ConfigPath, "config", "", "Path to the config file")
	cmd.Flags().StringVar(&flags.WorkDir, "workdir", "", "Working directory for the child")
	cmd.Flags().StringArrayVar(&flags.Env, "env", nil, "Extra environment variables (KEY=VALUE, repeatable)")
	cmd.Flags().BoolVar(&flags.PTY, "pty", false, "Attach the child to a pseudo-terminal")
	cmd.Flags().IntVar(&flags.MaxLines, "max-lines", 500, "Maximum number of output lines kept in the view")

	return cmd
}

func runWatch(cmd *cobra.Command, flags *WatchFlags, args []string) error {
	cmd.SilenceUsage = true

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	env, err := parseEnvFlags(flags.Env)
	if err != nil {
		return err
	}

	command, err := process.NewCommandWithOptions(args[0], args[1:], flags.WorkDir, env)
	if err != nil {
		return fmt.Errorf("invalid command: %w", err)
	}
	if err := command.IsValid(); err != nil {
		return fmt.Errorf("invalid command: %w", err)
	}

	var launcher procport.Launcher = infraproc.NewOSLauncher()
	if flags.PTY {
		launcher = infraproc.NewPTYLauncher()
	}

	// The TUI owns the terminal; the watcher must not write to it
	w := watcher.Spawn(context.Background(), launcher, command, watcher.Options{
		ChunkSize:   cfg.ChunkSize,
		EventBuffer: cfg.EventBuffer,
	}, logging.NoopLogger{})

	model := newWatchModel(w, command.String(), flags.MaxLines)
	program := tea.NewProgram(model, tea.WithAltScreen())

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("watch failed: %w", err)
	}

	return nil
}

// Messages flowing into the watch model

type chunkMsg process.StreamChunk

type streamClosedMsg struct{}

type finishedMsg struct {
	res *process.Result
	err error
}

// watchModel holds the state for the Bubble Tea watch view
type watchModel struct {
	w       *watcher.Watcher
	command string

	maxLines int
	lines    []string
	partial  string

	bytesOut  uint64
	bytesErr  uint64
	startTime time.Time

	finished bool
	res      *process.Result
	err      error

	windowWidth  int
	windowHeight int
}

var (
	watchTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	watchStderrStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("203"))

	watchStatusLiveStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("46"))

	watchStatusDoneStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("196"))

	watchFooterStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240"))
)

// newWatchModel creates a new watch model
func newWatchModel(w *watcher.Watcher, command string, maxLines int) watchModel {
	return watchModel{
		w:         w,
		command:   command,
		maxLines:  maxLines,
		startTime: time.Now(),
	}
}

// Init implements the Bubble Tea init method
func (m watchModel) Init() tea.Cmd {
	return tea.Batch(
		m.nextChunkCmd(),
		m.waitFinishedCmd(),
	)
}

// nextChunkCmd waits for the next progress chunk
func (m watchModel) nextChunkCmd() tea.Cmd {
	return func() tea.Msg {
		chunk, ok := <-m.w.Events()
		if !ok {
			return streamClosedMsg{}
		}
		return chunkMsg(chunk)
	}
}

// waitFinishedCmd waits for the terminal future to settle
func (m watchModel) waitFinishedCmd() tea.Cmd {
	return func() tea.Msg {
		res, err := m.w.Result().Wait(context.Background())
		return finishedMsg{res: res, err: err}
	}
}

// Update implements the Bubble Tea update method
func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.windowWidth = msg.Width
		m.windowHeight = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if !m.finished {
				m.w.Cancel(process.SignalKill)
			}
			return m, tea.Quit
		}

	case chunkMsg:
		m.appendChunk(process.StreamChunk(msg))
		return m, m.nextChunkCmd()

	case streamClosedMsg:
		return m, nil

	case finishedMsg:
		m.finished = true
		m.res = msg.res
		m.err = msg.err
		return m, nil
	}

	return m, nil
}

// appendChunk folds one chunk into the line buffer and byte counters
func (m *watchModel) appendChunk(chunk process.StreamChunk) {
	if chunk.Source == process.SourceStderr {
		m.bytesErr += uint64(len(chunk.Data))
	} else {
		m.bytesOut += uint64(len(chunk.Data))
	}

	text := m.partial + string(chunk.Data)
	parts := strings.Split(text, "\n")
	m.partial = parts[len(parts)-1]
	for _, line := range parts[:len(parts)-1] {
		if chunk.Source == process.SourceStderr {
			line = watchStderrStyle.Render(line)
		}
		m.lines = append(m.lines, line)
	}
	if len(m.lines) > m.maxLines {
		m.lines = m.lines[len(m.lines)-m.maxLines:]
	}
}

// View implements the Bubble Tea view method
func (m watchModel) View() string {
	header := m.renderHeader()
	body := m.renderBody()
	footer := watchFooterStyle.Render("q: quit (kills the child)")

	return lipgloss.JoinVertical(lipgloss.Left, header, body, footer)
}

// renderHeader renders the status line
func (m watchModel) renderHeader() string {
	title := watchTitleStyle.Render("spawnio watch")

	pidInfo := "pid: -"
	if pid, ok := m.w.PID(); ok {
		pidInfo = fmt.Sprintf("pid: %d", pid)
	}

	status := watchStatusLiveStyle.Render("RUNNING")
	if m.finished {
		switch {
		case m.err != nil:
			status = watchStatusDoneStyle.Render("CANCELLED")
		case m.res != nil && m.res.Signaled:
			status = watchStatusDoneStyle.Render(fmt.Sprintf("KILLED (signal %d)", m.res.TermSignal))
		case m.res != nil:
			status = watchStatusDoneStyle.Render(fmt.Sprintf("EXITED (%d)", m.res.ExitCode))
		}
	}

	info := fmt.Sprintf("%s | %s | out: %d B | err: %d B | %s",
		m.command,
		pidInfo,
		m.bytesOut,
		m.bytesErr,
		time.Since(m.startTime).Round(time.Second),
	)

	return lipgloss.JoinHorizontal(lipgloss.Left, title, "  ", info, "  ", status)
}

// renderBody renders the output lines that fit the window
func (m watchModel) renderBody() string {
	maxRows := m.windowHeight - 3 // header and footer
	if maxRows < 1 {
		maxRows = 1
	}

	lines := m.lines
	if m.partial != "" {
		lines = append(append([]string(nil), lines...), m.partial)
	}
	if len(lines) > maxRows {
		lines = lines[len(lines)-maxRows:]
	}
	if len(lines) == 0 {
		return watchFooterStyle.Render("\n  Waiting for output...\n")
	}

	return strings.Join(lines, "\n")
}
