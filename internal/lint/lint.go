// Package lint decodes and formats the structured lint result an enumerator
// run emits on stdout when action definitions fail static checks.
package lint

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Severity levels reported by the actions linter.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Result is the payload found under the "lint_result" key of the
// enumerator's stdout when it exits with code 1.
type Result struct {
	Issues []Issue `json:"issues"`
}

// Issue is one finding against an action definition.
type Issue struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
}

// Decode converts the generic JSON value found under "lint_result" into a
// Result. ok is false when the value is not structurally a lint result, in
// which case the caller falls through to its generic failure path.
func Decode(v any) (*Result, bool) {
	mapping, isMap := v.(map[string]any)
	if !isMap {
		return nil, false
	}
	data, err := json.Marshal(mapping)
	if err != nil {
		return nil, false
	}
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, false
	}
	if len(result.Issues) == 0 {
		return nil, false
	}
	for _, issue := range result.Issues {
		if issue.Message == "" {
			return nil, false
		}
	}
	return &result, true
}

// Format renders the result for humans. ok is false when no issue reaches
// error severity, meaning the lint result does not explain the failure.
func Format(result *Result) (string, bool) {
	var b strings.Builder
	errors := 0
	for _, issue := range result.Issues {
		if issue.Severity != SeverityError {
			continue
		}
		errors++
		b.WriteString("  - ")
		if issue.File != "" {
			fmt.Fprintf(&b, "%s", issue.File)
			if issue.Line > 0 {
				fmt.Fprintf(&b, ":%d", issue.Line)
			}
			b.WriteString(": ")
		}
		b.WriteString(issue.Message)
		b.WriteString("\n")
	}
	if errors == 0 {
		return "", false
	}

	header := fmt.Sprintf("found %d lint error(s) in action definitions:\n", errors)
	return header + strings.TrimRight(b.String(), "\n"), true
}
