package importer

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/actiond/actiond/internal/errs"
	"github.com/actiond/actiond/internal/lint"
	"github.com/actiond/actiond/internal/runner"
)

//go:embed actions-list.schema.json
var actionsListSchemaBytes []byte

var (
	actionsListSchema     *jsonschema.Schema
	actionsListSchemaOnce sync.Once
	actionsListSchemaErr  error
)

// DiscoveredAction is one entry of the enumerator's stdout contract. The
// required fields are enforced by schema validation at the boundary, so
// reconciliation never sees a partially filled entry.
type DiscoveredAction struct {
	Name         string         `json:"name"`
	File         string         `json:"file"`
	Line         int            `json:"line"`
	Docs         string         `json:"docs"`
	InputSchema  map[string]any `json:"input_schema"`
	OutputSchema any            `json:"output_schema"`

	Options             *ActionOptions `json:"options"`
	ManagedParamsSchema map[string]any `json:"managed_params_schema"`
}

// ActionOptions carries per-action hints the action author declared.
type ActionOptions struct {
	IsConsequential *bool `json:"is_consequential"`
}

// The enumerator bootstrap loads the actions CLI in-process: the current
// library when installed, the deprecated one otherwise. The version gate has
// already established one of them is importable.
const listSnippet = `
try:
    from sema4ai.actions import cli
except:
    from robocorp.actions import cli

cli.main([%s])
`

// enumerateActions spawns the enumerator subprocess in the package directory
// and classifies its outcome: success, structured lint failure, or hard
// failure.
func (imp *Importer) enumerateActions(ctx context.Context, env []string, exe, dir string, skipLint bool) ([]DiscoveredAction, error) {
	cliArgs := `"list"`
	if skipLint {
		cliArgs = `"list", "--skip-lint"`
	}
	args := []string{"-c", fmt.Sprintf(listSnippet, cliArgs)}

	result, err := runner.Run(ctx, exe, args, dir, env)
	if err != nil {
		return nil, &errs.RuntimeError{
			Message: fmt.Sprintf("it was not possible to list the actions.\ncmdline: %s\ncwd: %s",
				runner.CommandLine(exe, args), dir),
			Err: err,
		}
	}

	if result.ExitCode != 0 {
		if result.ExitCode == 1 {
			// Exit code 1 may carry a structured lint result on stdout.
			if message, ok := lintFailure(result.Stdout); ok {
				return nil, &errs.ValidationError{Message: message}
			}
		}
		return nil, errs.Runtimef(
			"it was not possible to list the actions.\ncmdline: %s\ncwd: %s\nstdout: %s\nstderr: %s",
			runner.CommandLine(exe, args), dir,
			permissive(result.Stdout), permissive(result.Stderr))
	}

	// The run succeeded; anything on stderr is a warning, not a failure.
	if stderr := strings.TrimSpace(permissive(result.Stderr)); stderr != "" {
		imp.Log.Warn(boldYellow.Sprint(stderr))
	}

	return decodeActionsList(result.Stdout)
}

// lintFailure reports whether stdout is a JSON object carrying a
// structurally valid lint result, and formats it if so. Anything else falls
// through to the generic failure path.
func lintFailure(stdout []byte) (string, bool) {
	var loaded any
	if err := json.Unmarshal(stdout, &loaded); err != nil {
		return "", false
	}
	mapping, ok := loaded.(map[string]any)
	if !ok {
		return "", false
	}
	result, ok := lint.Decode(mapping["lint_result"])
	if !ok {
		return "", false
	}
	return lint.Format(result)
}

// decodeActionsList validates stdout against the embedded actions-list
// schema, then decodes it. Malformed enumerator output is a defect, not a
// partial success: one entry missing a required field fails the whole
// import.
func decodeActionsList(stdout []byte) ([]DiscoveredAction, error) {
	schema, err := compiledActionsListSchema()
	if err != nil {
		return nil, err
	}

	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(stdout))
	if err != nil {
		return nil, errs.Runtimef("it was not possible to load as json the contents >>%s<<", permissive(stdout))
	}

	if err := schema.Validate(instance); err != nil {
		return nil, errs.Runtimef(
			"the enumerated actions list does not match the expected contract: %s\ncontents >>%s<<",
			err, permissive(stdout))
	}

	var actions []DiscoveredAction
	if err := json.Unmarshal(stdout, &actions); err != nil {
		return nil, errs.Runtimef("it was not possible to decode the actions list: %s", err)
	}
	return actions, nil
}

func compiledActionsListSchema() (*jsonschema.Schema, error) {
	actionsListSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(actionsListSchemaBytes))
		if err != nil {
			actionsListSchemaErr = fmt.Errorf("unmarshaling actions-list schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("actions-list.schema.json", doc); err != nil {
			actionsListSchemaErr = fmt.Errorf("adding actions-list schema resource: %w", err)
			return
		}
		actionsListSchema, actionsListSchemaErr = c.Compile("actions-list.schema.json")
	})
	return actionsListSchema, actionsListSchemaErr
}

// permissive decodes captured output for diagnostics, replacing invalid
// UTF-8 instead of failing.
func permissive(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}
