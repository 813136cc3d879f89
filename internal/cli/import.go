package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/actiond/actiond/internal/config"
	"github.com/actiond/actiond/internal/ids"
	"github.com/actiond/actiond/internal/importer"
	"github.com/actiond/actiond/internal/provision"
	"github.com/actiond/actiond/internal/store"
)

// StopOnFirstError makes the batch driver abort on the first directory that
// fails to import. Directories imported before the failure stay imported;
// later ones are not attempted.
const StopOnFirstError = true

// directoryImporter is the seam between the command and the pipeline.
type directoryImporter interface {
	ImportDirectory(ctx context.Context, dir string, opts importer.Options) (*store.ReconcileResult, error)
}

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	Dirs               []string
	Whitelist          string
	SkipLint           bool
	DisableNotImported bool

	// Importer allows overriding the pipeline (for testing). If nil, the
	// real pipeline is built against the configured datadir.
	Importer directoryImporter
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import action packages into the catalog",
		Long: `Import one or more action package directories into the catalog.

Each directory is resolved (package.yaml, or the deprecated action-server.yaml
/ conda.yaml), its environment is provisioned, its actions are enumerated and
the catalog is reconciled: new actions are inserted, known ones updated in
place, and, with --disable-not-imported, vanished ones disabled.

Example:
  actiond import --dir ./greeter
  actiond import --dir ./greeter --dir ./mailer --whitelist 'greeter/*' -v`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, opts)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Dirs, "dir", nil, "action package directory (repeatable, required)")
	cmd.Flags().StringVar(&opts.Whitelist, "whitelist", "", "comma-separated package/action patterns to accept")
	cmd.Flags().BoolVar(&opts.SkipLint, "skip-lint", false, "skip linting action definitions during enumeration")
	cmd.Flags().BoolVar(&opts.DisableNotImported, "disable-not-imported", false, "disable catalog actions not rediscovered by this import")
	_ = cmd.MarkFlagRequired("dir")

	return cmd
}

func runImport(cmd *cobra.Command, opts *ImportOptions) error {
	log := newLogger(opts.Verbose)

	settings, err := config.Load(opts.Datadir)
	if err != nil {
		return WrapExitError(ExitCommandError, "resolving configuration", err)
	}

	imp := opts.Importer
	if imp == nil {
		if err := os.MkdirAll(settings.Datadir, 0o755); err != nil {
			return WrapExitError(ExitCommandError, "creating data directory", err)
		}
		st, err := store.Open(filepath.Join(settings.Datadir, "server.db"), log)
		if err != nil {
			return WrapExitError(ExitCommandError, "opening catalog database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				log.Error("error closing catalog database", "error", closeErr)
			}
		}()

		imp = &importer.Importer{
			Log:         log,
			Store:       st,
			Datadir:     settings.Datadir,
			Sealed:      settings.Sealed,
			Provisioner: &provision.RCC{Binary: settings.RCCBinary, Log: log},
			IDs:         ids.UUIDv7Generator{},
		}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	for _, dir := range opts.Dirs {
		result, err := imp.ImportDirectory(ctx, dir, importer.Options{
			Whitelist:          opts.Whitelist,
			SkipLint:           opts.SkipLint,
			DisableNotImported: opts.DisableNotImported,
		})
		if err != nil {
			// A returned error is printed by main; only log when continuing.
			if StopOnFirstError {
				return WrapExitError(GetExitCode(err), fmt.Sprintf("importing %s", dir), err)
			}
			log.Error("import failed", "dir", dir, "error", err)
			continue
		}
		if result == nil {
			// Whitelist skipped the whole package.
			continue
		}
		log.Info("action package imported", "dir", dir,
			"inserted", result.Inserted, "updated", result.Updated, "disabled", result.Disabled)
	}
	return nil
}
