package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRootCommand builds the spawnio CLI.
func NewRootCommand(version, commit, date string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "spawnio",
		Short: "spawnio - async child-process I/O runner",
		Long: `spawnio launches a child process and exposes its lifecycle and standard
streams incrementally: stdout/stderr chunks as they arrive, asynchronous
stdin writes that complete in issuance order, and a single terminal result
once the process ends.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newWatchCommand())

	return rootCmd
}
