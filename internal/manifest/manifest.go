// Package manifest locates and parses the dependency manifest of an action
// package.
//
// Three manifest filenames are recognized, in priority order: package.yaml
// (current), then action-server.yaml and conda.yaml (both deprecated). A
// package without any manifest runs unmanaged: no environment is provisioned
// and its actions execute in the server's own environment.
package manifest

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/actiond/actiond/internal/errs"
)

// Recognized manifest filenames.
const (
	CurrentFilename = "package.yaml"

	deprecatedServerFilename = "action-server.yaml"
	deprecatedCondaFilename  = "conda.yaml"
)

var boldRed = color.New(color.FgRed, color.Bold)

// FormatAdapter derives a provisioner-consumable dependency file from the
// current manifest format. The adapter is an external collaborator; the
// in-repo CondaAdapter is the default.
type FormatAdapter interface {
	// CreateDependencyFile converts the package.yaml at manifestPath into a
	// dependency file under datadir and returns its path.
	CreateDependencyFile(datadir, manifestPath string) (string, error)
}

// Resolved is the outcome of manifest resolution for one package directory.
type Resolved struct {
	// Name is the declared package name, or the directory base name when the
	// manifest declares none (or no manifest exists).
	Name string

	// Dir is the absolute package directory.
	Dir string

	// ManifestPath is the manifest file that was found. Empty when unmanaged.
	ManifestPath string

	// DependencyFile is the file handed to the cache-key computer and the
	// environment provisioner: the adapter's derivation of package.yaml, or
	// a deprecated manifest used directly. Empty when unmanaged.
	DependencyFile string

	// Spec is the parsed dependency structure of DependencyFile.
	// Nil when unmanaged.
	Spec map[string]any

	// Managed is false when no manifest exists and the package proceeds
	// without a provisioned environment.
	Managed bool
}

// Resolver finds and parses manifests.
type Resolver struct {
	// Log receives deprecation warnings and progress info.
	Log *slog.Logger

	// Sealed marks a sealed deployment: packages without a package.yaml are
	// rejected instead of imported unmanaged.
	Sealed bool

	// Adapter derives the dependency file from package.yaml.
	Adapter FormatAdapter
}

// PackageName validates the package directory and resolves the user-facing
// package name: the truthy `name` key of package.yaml when present, the
// directory base name otherwise.
//
// The name is needed before whitelist filtering, which in turn runs before
// the rest of resolution, so this is a separate first step.
func (r *Resolver) PackageName(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving package directory: %w", err)
	}

	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return "", errs.Validationf(
			"unable to import action package from directory: %s (directory does not exist)", abs)
	}
	if err != nil {
		return "", fmt.Errorf("stat package directory: %w", err)
	}
	if !info.IsDir() {
		return "", errs.Validationf("expected %s to be a directory", abs)
	}

	manifestPath := filepath.Join(abs, CurrentFilename)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		// No package.yaml (or unreadable): fall back to the directory name.
		// A deprecated manifest never declares a name.
		return filepath.Base(abs), nil
	}

	var contents any
	if err := yaml.Unmarshal(data, &contents); err != nil {
		return "", errs.Validationf("error loading file as yaml (%s)", manifestPath)
	}
	// A non-mapping top level is rejected later, during full resolution; for
	// naming purposes it simply declares no name.
	if mapping, ok := contents.(map[string]any); ok {
		if name, ok := mapping["name"].(string); ok && name != "" {
			return name, nil
		}
	}
	return filepath.Base(abs), nil
}

// Resolve locates the manifest for dir and parses its dependency spec.
// PackageName must have validated dir already.
func (r *Resolver) Resolve(datadir, dir string) (*Resolved, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving package directory: %w", err)
	}

	resolved := &Resolved{Dir: abs}
	resolved.Name, err = r.PackageName(abs)
	if err != nil {
		return nil, err
	}

	currentPath := filepath.Join(abs, CurrentFilename)
	if fileExists(currentPath) {
		depFile, err := r.Adapter.CreateDependencyFile(datadir, currentPath)
		if err != nil {
			return nil, fmt.Errorf("deriving dependency file from %s: %w", currentPath, err)
		}
		resolved.ManifestPath = currentPath
		resolved.DependencyFile = depFile
		resolved.Managed = true
	} else {
		for _, name := range []string{deprecatedServerFilename, deprecatedCondaFilename} {
			path := filepath.Join(abs, name)
			if fileExists(path) {
				r.logDeprecatedManifest()
				resolved.ManifestPath = path
				resolved.DependencyFile = path
				resolved.Managed = true
				break
			}
		}
	}

	if !resolved.Managed {
		if r.Sealed {
			return nil, errs.Validationf(
				"unable to import actions in a sealed deployment because no `%s` is available at: %s",
				CurrentFilename, currentPath)
		}
		r.Log.Info("adding action package without a managed environment (package.yaml unavailable); " +
			"its actions will run in the same environment used to run the server")
		return resolved, nil
	}

	spec, err := parseDependencyFile(resolved.DependencyFile)
	if err != nil {
		return nil, err
	}
	resolved.Spec = spec

	r.Log.Debug("actions added with managed environment", "manifest", resolved.ManifestPath)
	return resolved, nil
}

// parseDependencyFile loads the dependency file and enforces its shape: a
// YAML mapping with a non-empty `dependencies` entry.
func parseDependencyFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dependency file: %w", err)
	}

	var contents any
	if err := yaml.Unmarshal(data, &contents); err != nil {
		return nil, errs.Validationf("%s does not seem a valid yaml", path)
	}

	mapping, ok := contents.(map[string]any)
	if !ok {
		return nil, errs.Validationf("%s has no mapping as top-level", path)
	}

	if isEmptyValue(mapping["dependencies"]) {
		return nil, errs.Validationf("%s has no 'dependencies' specified", path)
	}

	return mapping, nil
}

// isEmptyValue treats nil, empty sequences and empty mappings as absent,
// matching YAML truthiness for the `dependencies` entry.
func isEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	case string:
		return val == ""
	default:
		return false
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (r *Resolver) logDeprecatedManifest() {
	r.Log.Warn(boldRed.Sprintf(
		"deprecated: the file for defining the environment is now `%s`; "+
			"it is not a one to one mapping for the old format, but "+
			"`actiond package update` can be used to make most of the needed changes",
		CurrentFilename))
}
