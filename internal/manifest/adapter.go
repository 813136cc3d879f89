package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/actiond/actiond/internal/errs"
)

// CondaAdapter derives a conda-style environment file from a package.yaml.
//
// package.yaml declares dependencies grouped by source:
//
//	dependencies:
//	  conda-forge:
//	    - python=3.11
//	  pypi:
//	    - sema4ai-actions==0.10.0
//
// The derived file is what conda-compatible provisioners consume:
//
//	channels: [conda-forge]
//	dependencies:
//	  - python=3.11
//	  - pip:
//	      - sema4ai-actions==0.10.0
//
// Derived files live under <datadir>/conda and are keyed by the manifest
// path so repeated imports of the same package overwrite in place.
type CondaAdapter struct{}

// CreateDependencyFile implements FormatAdapter.
func (CondaAdapter) CreateDependencyFile(datadir, manifestPath string) (string, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", manifestPath, err)
	}

	var contents map[string]any
	if err := yaml.Unmarshal(data, &contents); err != nil {
		return "", errs.Validationf("error loading file as yaml (%s)", manifestPath)
	}

	deps, ok := contents["dependencies"].(map[string]any)
	if !ok {
		return "", errs.Validationf(
			"%s has no 'dependencies' mapping grouped by source (e.g. conda-forge, pypi)", manifestPath)
	}

	var condaDeps []any
	if forge, ok := deps["conda-forge"].([]any); ok {
		condaDeps = append(condaDeps, forge...)
	}
	if pypi, ok := deps["pypi"].([]any); ok && len(pypi) > 0 {
		condaDeps = append(condaDeps, map[string]any{"pip": pypi})
	}
	if len(condaDeps) == 0 {
		return "", errs.Validationf("%s has no 'dependencies' specified", manifestPath)
	}

	derived := map[string]any{
		"channels":     []any{"conda-forge"},
		"dependencies": condaDeps,
	}

	out, err := yaml.Marshal(derived)
	if err != nil {
		return "", fmt.Errorf("serializing derived dependency file: %w", err)
	}

	dir := filepath.Join(datadir, "conda")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}

	sum := sha256.Sum256([]byte(manifestPath))
	path := filepath.Join(dir, hex.EncodeToString(sum[:8])+".yaml")
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return "", fmt.Errorf("writing derived dependency file: %w", err)
	}
	return path, nil
}
