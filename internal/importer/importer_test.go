package importer

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actiond/actiond/internal/envhash"
	"github.com/actiond/actiond/internal/errs"
	"github.com/actiond/actiond/internal/ids"
	"github.com/actiond/actiond/internal/models"
	"github.com/actiond/actiond/internal/provision"
	"github.com/actiond/actiond/internal/store"
)

// fakeInterpreter builds an executable shell script that stands in for the
// provisioned python. It dispatches on the -c snippet: version probes print
// canned versions, the enumerator case emits the canned actions list.
func fakeInterpreter(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixtures are posix-only")
	}
	path := filepath.Join(t.TempDir(), "python")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

const singleActionJSON = `[{"name":"greet","file":"greet.py","line":3,` +
	`"docs":"Greets whoever asks.","input_schema":{"type":"object"},` +
	`"output_schema":{"type":"string"},"options":{"is_consequential":false},` +
	`"managed_params_schema":null}]`

// happyInterpreter answers both version probes and the enumerator. The
// cli.main case must come first: the enumerator snippet also mentions the
// library names.
func happyInterpreter(t *testing.T) string {
	return fakeInterpreter(t, `case "$2" in
*cli.main*) cat <<'EOF'
`+singleActionJSON+`
EOF
;;
*"import sema4ai.actions"*) echo "1.3.0" ;;
*) exit 1 ;;
esac`)
}

type recordingProvisioner struct {
	env     map[string]string
	fail    bool
	message string

	calls       int
	lastDepFile string
	lastKey     string
}

func (p *recordingProvisioner) Provision(_ context.Context, depFile, cacheKey string) (*provision.EnvInfo, error) {
	p.calls++
	p.lastDepFile = depFile
	p.lastKey = cacheKey
	if p.fail {
		return &provision.EnvInfo{Success: false, Message: p.message}, nil
	}
	return &provision.EnvInfo{Success: true, Env: p.env}, nil
}

type fixture struct {
	imp     *Importer
	store   *store.Store
	prov    *recordingProvisioner
	datadir string
}

func newFixture(t *testing.T, interpreter string) *fixture {
	t.Helper()
	datadir := t.TempDir()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.Open(filepath.Join(datadir, "catalog.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	prov := &recordingProvisioner{env: map[string]string{"PYTHON_EXE": interpreter}}
	return &fixture{
		imp: &Importer{
			Log:                log,
			Store:              st,
			Datadir:            datadir,
			Provisioner:        prov,
			IDs:                ids.UUIDv7Generator{},
			DefaultInterpreter: interpreter,
		},
		store:   st,
		prov:    prov,
		datadir: datadir,
	}
}

// writePackageDir creates a package directory with a package.yaml declaring
// the given name.
func writePackageDir(t *testing.T, name string) string {
	t.Helper()
	dir := t.TempDir()
	manifest := "name: " + name + `
dependencies:
  conda-forge:
    - python=3.11
  pypi:
    - sema4ai-actions
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.yaml"), []byte(manifest), 0o644))
	return dir
}

func TestImportDirectory_ManagedHappyPath(t *testing.T) {
	fx := newFixture(t, happyInterpreter(t))
	dir := writePackageDir(t, "greeter")
	ctx := context.Background()

	result, err := fx.imp.ImportDirectory(ctx, dir, Options{})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 1, result.Inserted)

	pkg, found, err := fx.store.PackageByName(ctx, "greeter")
	require.NoError(t, err)
	require.True(t, found)
	assert.NotEqual(t, envhash.Unmanaged, pkg.EnvHash)
	assert.Contains(t, pkg.EnvJSON, "PYTHON_EXE")

	actions, err := fx.store.ActionsForPackage(ctx, pkg.ID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "greet", actions[0].Name)
	assert.Equal(t, "greet.py", actions[0].File)
	assert.Equal(t, 3, actions[0].Line)
	assert.True(t, actions[0].Enabled)
	require.NotNil(t, actions[0].IsConsequential)
	assert.False(t, *actions[0].IsConsequential)
	assert.Empty(t, actions[0].ManagedParamsSchema)

	assert.Equal(t, 1, fx.prov.calls)
	assert.Equal(t, pkg.EnvHash, fx.prov.lastKey)
	assert.FileExists(t, fx.prov.lastDepFile)
}

func TestImportDirectory_AssignsGeneratedIdentifiers(t *testing.T) {
	fx := newFixture(t, happyInterpreter(t))
	fx.imp.IDs = ids.NewFixedGenerator("action_package-0001", "action-0001")
	dir := writePackageDir(t, "greeter")
	ctx := context.Background()

	result, err := fx.imp.ImportDirectory(ctx, dir, Options{})
	require.NoError(t, err)
	assert.Equal(t, "action_package-0001", result.PackageID)

	pkg, _, err := fx.store.PackageByName(ctx, "greeter")
	require.NoError(t, err)
	assert.Equal(t, "action_package-0001", pkg.ID)

	actions, err := fx.store.ActionsForPackage(ctx, pkg.ID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "action-0001", actions[0].ID)
	assert.Equal(t, "action_package-0001", actions[0].ActionPackageID)
}

func TestImportDirectory_ReimportIsIdempotent(t *testing.T) {
	fx := newFixture(t, happyInterpreter(t))
	dir := writePackageDir(t, "greeter")
	ctx := context.Background()

	_, err := fx.imp.ImportDirectory(ctx, dir, Options{})
	require.NoError(t, err)
	first, _, err := fx.store.PackageByName(ctx, "greeter")
	require.NoError(t, err)
	firstActions, err := fx.store.ActionsForPackage(ctx, first.ID)
	require.NoError(t, err)

	result, err := fx.imp.ImportDirectory(ctx, dir, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Inserted)
	assert.Equal(t, 1, result.Updated)

	second, _, err := fx.store.PackageByName(ctx, "greeter")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	secondActions, err := fx.store.ActionsForPackage(ctx, second.ID)
	require.NoError(t, err)
	require.Len(t, secondActions, 1)
	assert.Equal(t, firstActions[0].ID, secondActions[0].ID)
}

func TestImportDirectory_PackageWhitelistShortCircuits(t *testing.T) {
	fx := newFixture(t, happyInterpreter(t))
	dir := writePackageDir(t, "greeter")
	ctx := context.Background()

	result, err := fx.imp.ImportDirectory(ctx, dir, Options{Whitelist: "other-package"})
	require.NoError(t, err)
	assert.Nil(t, result)

	assert.Equal(t, 0, fx.prov.calls)
	_, found, err := fx.store.PackageByName(ctx, "greeter")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestImportDirectory_ActionWhitelistFiltersPerAction(t *testing.T) {
	interpreter := fakeInterpreter(t, `case "$2" in
*cli.main*) cat <<'EOF'
[{"name":"greet","file":"a.py","line":1,"docs":"","input_schema":{},"output_schema":{}},
 {"name":"farewell","file":"a.py","line":9,"docs":"","input_schema":{},"output_schema":{}}]
EOF
;;
*"import sema4ai.actions"*) echo "1.3.0" ;;
*) exit 1 ;;
esac`)
	fx := newFixture(t, interpreter)
	dir := writePackageDir(t, "greeter")
	ctx := context.Background()

	result, err := fx.imp.ImportDirectory(ctx, dir, Options{Whitelist: "greeter/greet"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Inserted)

	pkg, _, err := fx.store.PackageByName(ctx, "greeter")
	require.NoError(t, err)
	actions, err := fx.store.ActionsForPackage(ctx, pkg.ID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "greet", actions[0].Name)
}

func TestImportDirectory_UnmanagedUsesSentinelAndSkipsProvisioning(t *testing.T) {
	fx := newFixture(t, happyInterpreter(t))
	dir := t.TempDir() // no manifest at all
	ctx := context.Background()

	result, err := fx.imp.ImportDirectory(ctx, dir, Options{})
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, 0, fx.prov.calls)
	pkg, found, err := fx.store.PackageByName(ctx, filepath.Base(dir))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, envhash.Unmanaged, pkg.EnvHash)
	assert.Equal(t, "{}", pkg.EnvJSON)
}

func TestImportDirectory_SealedRejectsUnmanaged(t *testing.T) {
	fx := newFixture(t, happyInterpreter(t))
	fx.imp.Sealed = true

	_, err := fx.imp.ImportDirectory(context.Background(), t.TempDir(), Options{})
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
}

func TestImportDirectory_ProvisioningFailureIsRuntime(t *testing.T) {
	fx := newFixture(t, happyInterpreter(t))
	fx.prov.fail = true
	fx.prov.message = "could not resolve python=9.99"
	dir := writePackageDir(t, "greeter")

	_, err := fx.imp.ImportDirectory(context.Background(), dir, Options{})
	require.Error(t, err)
	assert.True(t, errs.IsRuntime(err))
	assert.Contains(t, err.Error(), "could not resolve python=9.99")
}

func TestImportDirectory_DeprecatedLibraryAtHardMinimumPasses(t *testing.T) {
	interpreter := fakeInterpreter(t, `case "$2" in
*cli.main*) cat <<'EOF'
`+singleActionJSON+`
EOF
;;
*"import sema4ai.actions"*) echo "No module named sema4ai" >&2; exit 1 ;;
*"import robocorp.actions"*) echo "0.0.7" ;;
*) exit 1 ;;
esac`)
	fx := newFixture(t, interpreter)
	dir := writePackageDir(t, "greeter")

	result, err := fx.imp.ImportDirectory(context.Background(), dir, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Inserted)
}

func TestImportDirectory_EncryptionWarningPointsAtManifest(t *testing.T) {
	interpreter := fakeInterpreter(t, `case "$2" in
*cli.main*) cat <<'EOF'
`+singleActionJSON+`
EOF
;;
*"import sema4ai.actions"*) echo "No module named sema4ai" >&2; exit 1 ;;
*"import robocorp.actions"*) echo "0.1.0" ;;
*) exit 1 ;;
esac`)
	fx := newFixture(t, interpreter)
	var logBuf bytes.Buffer
	fx.imp.Log = slog.New(slog.NewTextHandler(&logBuf, nil))
	dir := writePackageDir(t, "greeter")

	_, err := fx.imp.ImportDirectory(context.Background(), dir, Options{})
	require.NoError(t, err)

	logged := logBuf.String()
	assert.Contains(t, logged, "encrypted secrets")
	assert.Contains(t, logged, "Please update the version in:")
	assert.Contains(t, logged, "package.yaml")
}

func TestImportDirectory_DeprecatedLibraryBelowHardMinimumFails(t *testing.T) {
	interpreter := fakeInterpreter(t, `case "$2" in
*"import sema4ai.actions"*) echo "No module named sema4ai" >&2; exit 1 ;;
*"import robocorp.actions"*) echo "0.0.6" ;;
*) exit 1 ;;
esac`)
	fx := newFixture(t, interpreter)
	dir := writePackageDir(t, "greeter")
	ctx := context.Background()

	_, err := fx.imp.ImportDirectory(ctx, dir, Options{})
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
	assert.Contains(t, err.Error(), "0.0.7")

	_, found, err := fx.store.PackageByName(ctx, "greeter")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestImportDirectory_NeitherLibraryFoundSurfacesPrimaryError(t *testing.T) {
	interpreter := fakeInterpreter(t, `echo "No module" >&2; exit 1`)
	fx := newFixture(t, interpreter)
	dir := writePackageDir(t, "greeter")

	_, err := fx.imp.ImportDirectory(context.Background(), dir, Options{})
	require.Error(t, err)
	assert.True(t, errs.IsRuntime(err))
	assert.Contains(t, err.Error(), "sema4ai.actions")
	assert.Contains(t, err.Error(), "sema4ai-actions")
}

func TestImportDirectory_LintFailureIsValidationWithoutWrites(t *testing.T) {
	interpreter := fakeInterpreter(t, `case "$2" in
*cli.main*) cat <<'EOF'
{"lint_result":{"issues":[{"severity":"error","message":"@action without docstring","file":"greet.py","line":3}]}}
EOF
exit 1
;;
*"import sema4ai.actions"*) echo "1.3.0" ;;
*) exit 1 ;;
esac`)
	fx := newFixture(t, interpreter)
	dir := writePackageDir(t, "greeter")
	ctx := context.Background()

	_, err := fx.imp.ImportDirectory(ctx, dir, Options{})
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
	assert.Contains(t, err.Error(), "@action without docstring")
	assert.Contains(t, err.Error(), "greet.py:3")

	_, found, err := fx.store.PackageByName(ctx, "greeter")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestImportDirectory_SkipLintPassesFlagThrough(t *testing.T) {
	// The enumerator exits 1 unless --skip-lint is present in the snippet,
	// so a passing import proves the flag was forwarded.
	interpreter := fakeInterpreter(t, `case "$2" in
*cli.main*--skip-lint*) cat <<'EOF'
`+singleActionJSON+`
EOF
;;
*cli.main*) exit 1 ;;
*"import sema4ai.actions"*) echo "1.3.0" ;;
*) exit 1 ;;
esac`)
	fx := newFixture(t, interpreter)
	dir := writePackageDir(t, "greeter")

	_, err := fx.imp.ImportDirectory(context.Background(), dir, Options{SkipLint: true})
	require.NoError(t, err)
}

func TestImportDirectory_EnumeratorCrashIsRuntimeWithStreams(t *testing.T) {
	interpreter := fakeInterpreter(t, `case "$2" in
*cli.main*) echo "Traceback (most recent call last)" >&2; exit 2 ;;
*"import sema4ai.actions"*) echo "1.3.0" ;;
*) exit 1 ;;
esac`)
	fx := newFixture(t, interpreter)
	dir := writePackageDir(t, "greeter")

	_, err := fx.imp.ImportDirectory(context.Background(), dir, Options{})
	require.Error(t, err)
	assert.True(t, errs.IsRuntime(err))
	assert.Contains(t, err.Error(), "Traceback")
	assert.Contains(t, err.Error(), "cmdline:")
}

func TestImportDirectory_MalformedEnumerationIsRuntime(t *testing.T) {
	// Missing the required "line" field: the schema rejects the entry.
	interpreter := fakeInterpreter(t, `case "$2" in
*cli.main*) cat <<'EOF'
[{"name":"greet","file":"greet.py","docs":"","input_schema":{},"output_schema":{}}]
EOF
;;
*"import sema4ai.actions"*) echo "1.3.0" ;;
*) exit 1 ;;
esac`)
	fx := newFixture(t, interpreter)
	dir := writePackageDir(t, "greeter")

	_, err := fx.imp.ImportDirectory(context.Background(), dir, Options{})
	require.Error(t, err)
	assert.True(t, errs.IsRuntime(err))
}

func TestImportDirectory_ObserversRunAndAbortOnError(t *testing.T) {
	fx := newFixture(t, happyInterpreter(t))
	dir := writePackageDir(t, "greeter")
	ctx := context.Background()

	var seenPkg *models.ActionPackage
	var seenActions []DiscoveredAction
	fx.imp.RegisterObserver(func(pkg *models.ActionPackage, actions []DiscoveredAction) error {
		seenPkg = pkg
		seenActions = actions
		return nil
	})
	fx.imp.RegisterObserver(func(*models.ActionPackage, []DiscoveredAction) error {
		return assert.AnError
	})

	_, err := fx.imp.ImportDirectory(ctx, dir, Options{})
	require.ErrorIs(t, err, assert.AnError)

	require.NotNil(t, seenPkg)
	assert.Equal(t, "greeter", seenPkg.Name)
	require.Len(t, seenActions, 1)
	assert.Equal(t, "greet", seenActions[0].Name)

	_, found, err := fx.store.PackageByName(ctx, "greeter")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestImportDirectory_DisableNotImportedPrunes(t *testing.T) {
	listFile := filepath.Join(t.TempDir(), "actions.json")
	interpreter := fakeInterpreter(t, `case "$2" in
*cli.main*) cat "`+listFile+`" ;;
*"import sema4ai.actions"*) echo "1.3.0" ;;
*) exit 1 ;;
esac`)
	fx := newFixture(t, interpreter)
	dir := writePackageDir(t, "greeter")
	ctx := context.Background()

	both := `[{"name":"greet","file":"a.py","line":1,"docs":"","input_schema":{},"output_schema":{}},
 {"name":"farewell","file":"a.py","line":9,"docs":"","input_schema":{},"output_schema":{}}]`
	require.NoError(t, os.WriteFile(listFile, []byte(both), 0o644))
	_, err := fx.imp.ImportDirectory(ctx, dir, Options{})
	require.NoError(t, err)

	onlyGreet := `[{"name":"greet","file":"a.py","line":1,"docs":"","input_schema":{},"output_schema":{}}]`
	require.NoError(t, os.WriteFile(listFile, []byte(onlyGreet), 0o644))
	result, err := fx.imp.ImportDirectory(ctx, dir, Options{DisableNotImported: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Disabled)

	pkg, _, err := fx.store.PackageByName(ctx, "greeter")
	require.NoError(t, err)
	actions, err := fx.store.ActionsForPackage(ctx, pkg.ID)
	require.NoError(t, err)
	enabled := map[string]bool{}
	for _, a := range actions {
		enabled[a.Name] = a.Enabled
	}
	assert.True(t, enabled["greet"])
	assert.False(t, enabled["farewell"])
}
