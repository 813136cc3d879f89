// Package whitelist evaluates the import filter spec.
//
// A spec is a comma-separated list of glob patterns. Each pattern restricts
// either a package ("greeter", "greet*") or a package/action pair
// ("greeter/say_hello", "*/fetch_*"). The empty spec accepts everything.
package whitelist

import (
	"path"
	"strings"
)

// AcceptPackage reports whether the package name has a match in the spec.
// A pattern with a "/" matches a package through its package segment, so a
// spec of "greeter/say_hello" still imports the greeter package.
func AcceptPackage(spec, pkg string) bool {
	patterns := split(spec)
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		pkgPattern := p
		if i := strings.Index(p, "/"); i >= 0 {
			pkgPattern = p[:i]
		}
		if matches(pkgPattern, pkg) {
			return true
		}
	}
	return false
}

// AcceptAction reports whether the action has a match in the spec. A pattern
// with a "/" must match both segments; a bare pattern matches when it matches
// either the package name (importing all of its actions) or the action name.
func AcceptAction(spec, pkg, action string) bool {
	patterns := split(spec)
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if i := strings.Index(p, "/"); i >= 0 {
			if matches(p[:i], pkg) && matches(p[i+1:], action) {
				return true
			}
			continue
		}
		if matches(p, pkg) || matches(p, action) {
			return true
		}
	}
	return false
}

func split(spec string) []string {
	var patterns []string
	for _, p := range strings.Split(spec, ",") {
		if p = strings.TrimSpace(p); p != "" {
			patterns = append(patterns, p)
		}
	}
	return patterns
}

// matches applies shell-style globbing. A malformed pattern matches nothing.
func matches(pattern, name string) bool {
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}
