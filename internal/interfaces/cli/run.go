package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"spawnio.dev/cli/internal/config"
	"spawnio.dev/cli/internal/core/domain/process"
	"spawnio.dev/cli/internal/core/ports"
	procport "spawnio.dev/cli/internal/core/ports/process"
	"spawnio.dev/cli/internal/core/watcher"
	"spawnio.dev/cli/internal/infrastructure/logging"
	infraproc "spawnio.dev/cli/internal/infrastructure/process"
	"spawnio.dev/cli/internal/infrastructure/recording"
)

// RunFlags holds command-line flags for the run command
type RunFlags struct {
	ConfigPath  string
	WorkDir     string
	Env         []string
	Buffer      string
	PTY         bool
	Record      string
	Interactive bool
	Quiet       bool
}

// newRunCommand creates the run subcommand
func newRunCommand() *cobra.Command {
	flags := &RunFlags{}

	cmd := &cobra.Command{
		Use:   "run [flags] -- <command> [args...]",
		Short: "Launch a command and relay its streams",
		Long: `Run launches a child process, relays its stdout/stderr chunks to the
terminal as they arrive, and exits with the child's exit code.

Example:
  spawnio run -- make test
  spawnio run --workdir /srv --env PORT=8080 -- ./server
  spawnio run --interactive --record session.db -- python3 -i`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, flags, args)
		},
	}

	cmd.Flags().StringVar(&flags.ConfigPath, "config", "", "Path to the config file")
	cmd.Flags().StringVar(&flags.WorkDir, "workdir", "", "Working directory for the child")
	cmd.Flags().StringArrayVar(&flags.Env, "env", nil, "Extra environment variables (KEY=VALUE, repeatable)")
	cmd.Flags().StringVar(&flags.Buffer, "buffer", "", "Streams to buffer into the final result (none, stdout, stderr, all)")
	cmd.Flags().BoolVar(&flags.PTY, "pty", false, "Attach the child to a pseudo-terminal")
	cmd.Flags().StringVar(&flags.Record, "record", "", "Record stream chunks into this SQLite database")
	cmd.Flags().BoolVarP(&flags.Interactive, "interactive", "i", false, "Forward local stdin to the child")
	cmd.Flags().BoolVarP(&flags.Quiet, "quiet", "q", false, "Suppress spawnio's own logging")

	return cmd
}

func runRun(cmd *cobra.Command, flags *RunFlags, args []string) error {
	cmd.SilenceUsage = true

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var logger ports.LoggingGateway = logging.NewConsoleLogger(os.Stderr, ports.ParseLogLevel(cfg.LogLevel))
	if flags.Quiet {
		logger = logging.NoopLogger{}
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

	bufferMode := cfg.Buffer
	if flags.Buffer != "" {
		bufferMode = flags.Buffer
	}
	recordPath := cfg.RecordPath
	if flags.Record != "" {
		recordPath = flags.Record
	}

	var launcher procport.Launcher = infraproc.NewOSLauncher()
	if flags.PTY {
		launcher = infraproc.NewPTYLauncher()
	}

	var rec *recording.Recorder
	if recordPath != "" {
		rec, err = recording.NewRecorder(recordPath)
		if err != nil {
			return fmt.Errorf("failed to open recording database: %w", err)
		}
		defer rec.Close()
	}

	ctx := context.Background()
	w := watcher.Spawn(ctx, launcher, command, watcher.Options{
		Buffer:      process.ParseBufferFlags(bufferMode),
		ChunkSize:   cfg.ChunkSize,
		EventBuffer: cfg.EventBuffer,
	}, logger)

	// Forward interrupt/terminate to the child; the watch still ends
	// through the normal path once the child exits.
	killSig := process.ParseSignal(cfg.KillSignal)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGINT:
				w.Kill(process.SignalInterrupt)
			default:
				w.Kill(killSig)
			}
		}
	}()

	if flags.Interactive {
		go forwardStdin(w, os.Stdin, logger)
	}

	for chunk := range w.Events() {
		if rec != nil {
			if err := rec.Record(chunk); err != nil {
				logger.LogError(err, "failed to record chunk", nil)
			}
		}
		if chunk.Source == process.SourceStderr {
			os.Stderr.Write(chunk.Data)
		} else {
			os.Stdout.Write(chunk.Data)
		}
	}

	res, err := w.Result().Wait(ctx)
	if err != nil {
		return err
	}
	if res.Signaled {
		cmd.SilenceErrors = true
		return &ExitError{Code: 128 + res.TermSignal}
	}
	if res.ExitCode != 0 {
		cmd.SilenceErrors = true
		return &ExitError{Code: res.ExitCode}
	}
	return nil
}

// ExitError carries the child's exit code out of the command so deferred
// cleanup (recorder, signal handler) runs before the program exits.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// forwardStdin pumps local stdin into the child's write queue until either
// side ends.
func forwardStdin(w *watcher.Watcher, in io.Reader, logger ports.LoggingGateway) {
	buf := make([]byte, 4096)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				logger.LogError(err, "stdin read failed", nil)
			}
			return
		}
	}
}

// parseEnvFlags converts repeated KEY=VALUE flags into a map
func parseEnvFlags(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --env value %q, expected KEY=VALUE", pair)
		}
		env[key] = value
	}
	return env, nil
}
