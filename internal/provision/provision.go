// Package provision abstracts the environment provisioner: the external
// collaborator that builds (or retrieves from cache) an isolated runtime
// environment for a package's dependency file.
//
// The import pipeline treats provisioning as an opaque, potentially slow
// call: one attempt, no timeout, failure passed through.
package provision

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/actiond/actiond/internal/runner"
)

// EnvInfo is the provisioner's response.
type EnvInfo struct {
	// Success is false when the environment could not be built; Message then
	// carries the provisioner's explanation.
	Success bool
	Message string

	// Env holds the environment variable overrides to merge into subprocess
	// launches against this environment. Nil on failure.
	Env map[string]string
}

// Provisioner builds or fetches the environment identified by cacheKey for
// the given dependency file.
type Provisioner interface {
	Provision(ctx context.Context, depFile, cacheKey string) (*EnvInfo, error)
}

// RCC provisions environments by shelling out to an rcc-compatible binary:
// it materializes a holotree space for the dependency file and reports the
// space's environment variables as JSON.
type RCC struct {
	// Binary is the provisioner executable. Defaults to "rcc" on PATH.
	Binary string

	// Log receives progress diagnostics.
	Log *slog.Logger
}

// rccVariable is one entry of `rcc holotree variables --json` output.
type rccVariable struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Provision implements Provisioner. A provisioner failure is reported
// through EnvInfo.Success, not the error return, so the caller can surface
// the provisioner's own message; the error return is reserved for not being
// able to run the binary at all.
func (r *RCC) Provision(ctx context.Context, depFile, cacheKey string) (*EnvInfo, error) {
	binary := r.Binary
	if binary == "" {
		binary = "rcc"
	}

	args := []string{"holotree", "variables", "--space", cacheKey, "--json", depFile}
	r.Log.Debug("provisioning environment", "cmdline", runner.CommandLine(binary, args))

	result, err := runner.Run(ctx, binary, args, "", runner.LaunchEnv(nil))
	if err != nil {
		return nil, err
	}
	if result.ExitCode != 0 {
		message := strings.TrimSpace(string(result.Stderr))
		if message == "" {
			message = strings.TrimSpace(string(result.Stdout))
		}
		return &EnvInfo{Success: false, Message: message}, nil
	}

	var variables []rccVariable
	if err := json.Unmarshal(result.Stdout, &variables); err != nil {
		return &EnvInfo{
			Success: false,
			Message: "provisioner returned unparsable environment listing: " + err.Error(),
		}, nil
	}

	env := make(map[string]string, len(variables))
	for _, v := range variables {
		env[v.Key] = v.Value
	}
	return &EnvInfo{Success: true, Env: env}, nil
}
