package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Verbose bool
	Datadir string
}

// NewRootCommand creates the root command for the actiond CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "actiond",
		Short:         "actiond - action package catalog server",
		Long:          "actiond imports action packages into a catalog: it resolves their manifests,\nprovisions isolated environments and keeps the action catalog in sync.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Datadir, "datadir", "", "server data directory (default ~/.actiond, env ACTIOND_DATADIR)")

	cmd.AddCommand(NewImportCommand(opts))

	return cmd
}

// newLogger builds the logger for a command invocation.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
