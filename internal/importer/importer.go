// Package importer implements the action package import pipeline: manifest
// resolution, environment provisioning, version gating, action enumeration,
// whitelist filtering and catalog reconciliation, in that order.
//
// The pipeline is sequential and single-threaded; one package directory is
// imported end to end before the next begins. Mutual exclusion against other
// processes touching the same data directory is the caller's problem.
package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fatih/color"

	"github.com/actiond/actiond/internal/envhash"
	"github.com/actiond/actiond/internal/errs"
	"github.com/actiond/actiond/internal/ids"
	"github.com/actiond/actiond/internal/manifest"
	"github.com/actiond/actiond/internal/models"
	"github.com/actiond/actiond/internal/provision"
	"github.com/actiond/actiond/internal/runner"
	"github.com/actiond/actiond/internal/store"
	"github.com/actiond/actiond/internal/whitelist"
)

var (
	boldRed    = color.New(color.FgRed, color.Bold)
	boldYellow = color.New(color.FgYellow, color.Bold)
)

// Observer is notified after a package's actions were enumerated and before
// they are filtered and persisted. An observer error aborts the import:
// nothing is written for the package.
type Observer func(pkg *models.ActionPackage, actions []DiscoveredAction) error

// Importer wires the pipeline's collaborators together. All fields except
// observers are set at construction; the zero value is not usable.
type Importer struct {
	Log   *slog.Logger
	Store *store.Store

	// Datadir is the server data directory: derived dependency files land
	// under it and package directories contained in it are stored relative
	// to it.
	Datadir string

	// Sealed rejects packages without a package.yaml instead of importing
	// them unmanaged.
	Sealed bool

	// Provisioner builds the isolated environment for managed packages.
	Provisioner provision.Provisioner

	// Adapter derives the provisioner's dependency file from package.yaml.
	// Defaults to manifest.CondaAdapter.
	Adapter manifest.FormatAdapter

	// IDs generates catalog identifiers.
	IDs ids.Generator

	// DefaultInterpreter is the python executable for unmanaged packages
	// (managed packages get theirs from the provisioned environment).
	// Empty means "python" on PATH.
	DefaultInterpreter string

	observers []Observer
}

// Options control one import invocation.
type Options struct {
	// Whitelist is the comma-separated pattern spec filtering packages and
	// actions. Empty accepts everything.
	Whitelist string

	// SkipLint passes --skip-lint to the enumerator.
	SkipLint bool

	// DisableNotImported disables catalog actions of the package that were
	// not rediscovered by this import.
	DisableNotImported bool
}

// RegisterObserver appends an observer. Observers run in registration order.
func (imp *Importer) RegisterObserver(o Observer) {
	imp.observers = append(imp.observers, o)
}

// ImportDirectory imports one action package directory into the catalog.
//
// A package rejected by the whitelist is skipped silently: the result is
// (nil, nil) and nothing is provisioned or written. Every other outcome is
// either a reconciliation result or an error; on error the catalog is
// untouched for this package.
func (imp *Importer) ImportDirectory(ctx context.Context, dir string, opts Options) (*store.ReconcileResult, error) {
	resolver := &manifest.Resolver{Log: imp.Log, Sealed: imp.Sealed, Adapter: imp.adapter()}

	pkgName, err := resolver.PackageName(dir)
	if err != nil {
		return nil, err
	}
	if !whitelist.AcceptPackage(opts.Whitelist, pkgName) {
		imp.Log.Info("action package not in whitelist, skipping", "package", pkgName, "dir", dir)
		return nil, nil
	}

	resolved, err := resolver.Resolve(imp.Datadir, dir)
	if err != nil {
		return nil, err
	}

	envHash, overrides, err := imp.provisionEnv(ctx, resolved)
	if err != nil {
		return nil, err
	}

	envJSON, err := json.Marshal(overrides)
	if err != nil {
		return nil, fmt.Errorf("serializing environment for %s: %w", resolved.Name, err)
	}

	pkg := &models.ActionPackage{
		ID:        imp.IDs.NewID("action_package"),
		Name:      resolved.Name,
		Directory: relativeTo(imp.Datadir, resolved.Dir),
		EnvHash:   envHash,
		EnvJSON:   string(envJSON),
	}

	env := runner.LaunchEnv(overrides)
	exe := imp.interpreter(overrides)
	imp.Log.Info("importing actions", "package", resolved.Name, "python", exe)

	if _, err := imp.gateVersion(ctx, env, exe, resolved); err != nil {
		return nil, err
	}

	discovered, err := imp.enumerateActions(ctx, env, exe, resolved.Dir, opts.SkipLint)
	if err != nil {
		return nil, err
	}

	for _, observe := range imp.observers {
		if err := observe(pkg, discovered); err != nil {
			return nil, fmt.Errorf("import observer for %s: %w", resolved.Name, err)
		}
	}

	actions, err := imp.buildActions(pkg, resolved.Dir, discovered, opts.Whitelist)
	if err != nil {
		return nil, err
	}

	return imp.Store.Reconcile(ctx, pkg, actions, opts.DisableNotImported)
}

// provisionEnv computes the environment cache key and obtains the
// environment overrides. Unmanaged packages get the sentinel hash and no
// overrides; managed packages go through the provisioner, whose failure is a
// RuntimeError carrying its own message.
func (imp *Importer) provisionEnv(ctx context.Context, resolved *manifest.Resolved) (string, map[string]string, error) {
	if !resolved.Managed {
		return envhash.Unmanaged, map[string]string{}, nil
	}

	key, err := envhash.Hash(resolved.Spec)
	if err != nil {
		return "", nil, fmt.Errorf("computing environment cache key for %s: %w", resolved.DependencyFile, err)
	}

	info, err := imp.Provisioner.Provision(ctx, resolved.DependencyFile, key)
	if err != nil {
		return "", nil, &errs.RuntimeError{
			Message: fmt.Sprintf("it was not possible to provision the environment for: %s", resolved.DependencyFile),
			Err:     err,
		}
	}
	if !info.Success || info.Env == nil {
		return "", nil, errs.Runtimef(
			"it was not possible to bootstrap the environment for: %s\n%s",
			resolved.DependencyFile, info.Message)
	}
	return key, info.Env, nil
}

func (imp *Importer) adapter() manifest.FormatAdapter {
	if imp.Adapter != nil {
		return imp.Adapter
	}
	return &manifest.CondaAdapter{}
}

func (imp *Importer) interpreter(overrides map[string]string) string {
	if len(overrides) == 0 && imp.DefaultInterpreter != "" {
		return imp.DefaultInterpreter
	}
	return runner.PythonExe(overrides)
}

// buildActions filters discovered actions through the whitelist and shapes
// them into catalog records. Candidate ids are assigned here; reconciliation
// discards them for actions that already exist.
func (imp *Importer) buildActions(pkg *models.ActionPackage, pkgDir string, discovered []DiscoveredAction, whitelistSpec string) ([]models.Action, error) {
	if len(discovered) == 0 {
		imp.Log.Warn(fmt.Sprintf("no actions found in action package: %s", pkg.Name))
	}

	actions := make([]models.Action, 0, len(discovered))
	for _, d := range discovered {
		if !whitelist.AcceptAction(whitelistSpec, pkg.Name, d.Name) {
			imp.Log.Info("action not in whitelist, skipping", "package", pkg.Name, "action", d.Name)
			continue
		}

		inputSchema, err := json.Marshal(d.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("serializing input schema of %s/%s: %w", pkg.Name, d.Name, err)
		}
		outputSchema, err := json.Marshal(d.OutputSchema)
		if err != nil {
			return nil, fmt.Errorf("serializing output schema of %s/%s: %w", pkg.Name, d.Name, err)
		}

		var managed string
		if d.ManagedParamsSchema != nil {
			b, err := json.Marshal(d.ManagedParamsSchema)
			if err != nil {
				return nil, fmt.Errorf("serializing managed params schema of %s/%s: %w", pkg.Name, d.Name, err)
			}
			managed = string(b)
		}

		var isConsequential *bool
		if d.Options != nil {
			isConsequential = d.Options.IsConsequential
		}

		actions = append(actions, models.Action{
			ID:                  imp.IDs.NewID("action"),
			ActionPackageID:     pkg.ID,
			Name:                d.Name,
			Docs:                d.Docs,
			File:                relativeTo(pkgDir, d.File),
			Line:                d.Line,
			InputSchema:         string(inputSchema),
			OutputSchema:        string(outputSchema),
			Enabled:             true,
			IsConsequential:     isConsequential,
			ManagedParamsSchema: managed,
		})
	}
	return actions, nil
}

// relativeTo returns path relative to base when it is contained in base,
// path unchanged otherwise. Always slash-separated.
func relativeTo(base, path string) string {
	if base == "" {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(base, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
