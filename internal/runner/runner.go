// Package runner launches the short-lived interpreter subprocesses the
// import pipeline depends on (version probe, action enumeration) and builds
// their launch environment from provisioned overrides.
package runner

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
)

// Result captures one finished subprocess.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Run executes name with args in dir under env, blocking until the child
// exits. No timeout is enforced and no retry is performed; a hung child
// hangs the import.
//
// A non-zero exit is not an error: the caller classifies exit codes. An
// error is returned only when the process could not be started at all.
func Run(ctx context.Context, name string, args []string, dir string, env []string) (*Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &Result{
		Stdout: stdout.Bytes(),
		Stderr: stderr.Bytes(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, err
	}
	return result, nil
}

// Environment variables stripped before launching package subprocesses, so
// the server's own interpreter setup cannot leak into the provisioned
// environment.
var strippedVars = []string{"PYTHONPATH", "PYTHONHOME", "VIRTUAL_ENV"}

// LaunchEnv builds the environment slice for package subprocesses: the
// current process environment minus interpreter inheritance, with the
// provisioned overrides applied on top.
func LaunchEnv(overrides map[string]string) []string {
	env := os.Environ()

	filtered := env[:0]
	for _, entry := range env {
		if !isStripped(entry) {
			filtered = append(filtered, entry)
		}
	}
	env = filtered

	env = setEnv(env, "PYTHONIOENCODING", "utf-8")
	for key, value := range overrides {
		env = setEnv(env, key, value)
	}
	return env
}

// PythonExe resolves the interpreter to launch: the provisioned PYTHON_EXE
// override when present, "python" from PATH otherwise.
func PythonExe(overrides map[string]string) string {
	if exe := overrides["PYTHON_EXE"]; exe != "" {
		return exe
	}
	return "python"
}

// CommandLine renders a command for diagnostic messages.
func CommandLine(name string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	for _, p := range append([]string{name}, args...) {
		if strings.ContainsAny(p, " \t\n\"") {
			p = "\"" + strings.ReplaceAll(p, "\"", "\\\"") + "\""
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, " ")
}

func isStripped(entry string) bool {
	for _, name := range strippedVars {
		if strings.HasPrefix(entry, name+"=") {
			return true
		}
	}
	return false
}

// setEnv sets or replaces an environment variable in the env slice.
func setEnv(env []string, key, value string) []string {
	prefix := key + "="
	for i, e := range env {
		if strings.HasPrefix(e, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}
