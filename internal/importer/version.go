package importer

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/actiond/actiond/internal/errs"
	"github.com/actiond/actiond/internal/manifest"
	"github.com/actiond/actiond/internal/runner"
)

// Library names probed for inside the provisioned environment. The
// deprecated name is still accepted, with a warning, until support for it is
// removed.
const (
	actionsLibrary           = "sema4ai.actions"
	deprecatedActionsLibrary = "robocorp.actions"
)

var (
	// minDeprecatedVersion is the hard minimum for the deprecated library;
	// below it the import is refused.
	minDeprecatedVersion = versionTuple{0, 0, 7}

	// minEncryptionVersion is the soft minimum below which encrypted-secret
	// delivery does not work; the import proceeds with a warning.
	minEncryptionVersion = versionTuple{0, 2, 1}
)

// versionTuple is a dot-separated integer version, compared element-wise.
// The probe output is not semver: two- and four-component versions occur and
// compare lexicographically, with a missing component ranking lower
// ({0,2} < {0,2,0}).
type versionTuple []int

func parseVersionTuple(s string) (versionTuple, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	v := make(versionTuple, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid version %q", s)
		}
		v = append(v, n)
	}
	if len(v) == 0 {
		return nil, fmt.Errorf("invalid version %q", s)
	}
	return v, nil
}

// Compare returns -1, 0 or 1.
func (v versionTuple) Compare(o versionTuple) int {
	for i := 0; i < len(v) && i < len(o); i++ {
		switch {
		case v[i] < o[i]:
			return -1
		case v[i] > o[i]:
			return 1
		}
	}
	switch {
	case len(v) < len(o):
		return -1
	case len(v) > len(o):
		return 1
	}
	return 0
}

func (v versionTuple) String() string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}

// libraryProbe is the tagged outcome of the two-candidate version lookup:
// which library answered, and with what version.
type libraryProbe struct {
	library string
	version versionTuple
}

// probeVersion launches a short-lived interpreter that imports the library
// and prints its version string. Any subprocess or parse failure becomes a
// RuntimeError embedding the command line, the interpreter path, and the
// dependency declaration the user likely needs.
func (imp *Importer) probeVersion(ctx context.Context, env []string, exe, dir, library string) (versionTuple, error) {
	args := []string{"-c", fmt.Sprintf("import %s;print(%s.__version__)", library, library)}
	cmdline := runner.CommandLine(exe, args)

	remediation := fmt.Sprintf(`unable to get %[1]s version.

This usually means that %[1]s is not installed in the python
environment (make sure that %[2]s is defined in your %[3]s).

Python executable being used:
%[4]s

cmdline: %[5]s`,
		library, strings.ReplaceAll(library, ".", "-"), manifest.CurrentFilename, exe, cmdline)

	result, err := runner.Run(ctx, exe, args, dir, env)
	if err != nil {
		return nil, &errs.RuntimeError{Message: remediation, Err: err}
	}
	if result.ExitCode != 0 {
		return nil, &errs.RuntimeError{Message: remediation}
	}

	v, err := parseVersionTuple(string(result.Stdout))
	if err != nil {
		return nil, &errs.RuntimeError{Message: remediation, Err: err}
	}
	return v, nil
}

// gateVersion enforces the minimum-version policy for the action-execution
// library inside the provisioned environment.
//
// The current library name is probed first; any version of it passes. When
// only the deprecated name is found the import proceeds after the hard
// minimum check, with upgrade wording that points at the manifest when one
// is in use and at the interpreter otherwise. If neither probe succeeds, the
// failure surfaced is the primary probe's.
func (imp *Importer) gateVersion(ctx context.Context, env []string, exe string, resolved *manifest.Resolved) (*libraryProbe, error) {
	v, primaryErr := imp.probeVersion(ctx, env, exe, resolved.Dir, actionsLibrary)
	if primaryErr == nil {
		return &libraryProbe{library: actionsLibrary, version: v}, nil
	}

	v, deprecatedErr := imp.probeVersion(ctx, env, exe, resolved.Dir, deprecatedActionsLibrary)
	if deprecatedErr != nil {
		return nil, primaryErr
	}
	probe := &libraryProbe{library: deprecatedActionsLibrary, version: v}

	imp.Log.Warn(boldRed.Sprintf(
		"important: '%s' is deprecated; change the 'robocorp-actions' dependency to "+
			"'sema4ai-actions' in your %s (the public API is the same, with imports coming "+
			"from '%s' instead); on future versions using 'robocorp-actions' will no longer be supported",
		deprecatedActionsLibrary, manifest.CurrentFilename, actionsLibrary))

	if v.Compare(minDeprecatedVersion) < 0 {
		if resolved.Managed {
			return nil, errs.Validationf(
				"the `robocorp-actions` version is: %s.\n"+
					"Expected `robocorp-actions` version to be %s or higher.\n"+
					"Please update the version in: %s",
				v, minDeprecatedVersion, resolved.ManifestPath)
		}
		return nil, errs.Validationf(
			"the `robocorp-actions` version is: %s.\n"+
				"Expected it to be %s or higher.\n"+
				"Please update the `robocorp-actions` version in your python environment (python: %s)",
			v, minDeprecatedVersion, exe)
	}

	if v.Compare(minEncryptionVersion) < 0 {
		warning := fmt.Sprintf(
			"the `robocorp-actions` version is: %s; to receive encrypted secrets, "+
				"robocorp-actions %s or newer is required (proceeding, but actions receiving "+
				"encrypted secrets will not work properly)",
			v, minEncryptionVersion)
		if resolved.Managed {
			warning += fmt.Sprintf("\nPlease update the version in: %s", resolved.ManifestPath)
		}
		imp.Log.Warn(boldYellow.Sprint(warning))
	}

	return probe, nil
}
