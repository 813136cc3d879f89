// Package models defines the records persisted in the action catalog.
package models

// ActionPackage is a directory of actions registered in the catalog.
//
// Identity for reconciliation is Name, not ID: re-importing a directory whose
// manifest declares an already-known name updates the existing record in
// place. ID is assigned once and never changes.
type ActionPackage struct {
	// ID is an opaque stable identifier, generated once, never reused.
	ID string

	// Name is the user-facing package name: the manifest's declared `name`
	// when present, the directory base name otherwise.
	Name string

	// Directory is the package path, relative to the data directory when the
	// package is contained in it, absolute otherwise. Always slash-separated.
	Directory string

	// EnvHash is the environment cache key derived from the parsed dependency
	// structure, or envhash.Unmanaged when the package has no manifest.
	EnvHash string

	// EnvJSON is the JSON-serialized environment variable overrides returned
	// by provisioning. "{}" for unmanaged packages.
	EnvJSON string
}

// Action is a single named, independently invocable unit owned by exactly
// one action package. Identity for reconciliation is (ActionPackageID, Name).
//
// Actions are never deleted by the import engine, only disabled.
type Action struct {
	ID              string
	ActionPackageID string
	Name            string

	// Docs is the free-text description of the action.
	Docs string

	// File and Line locate the action's definition. File is stored relative
	// to the package directory when possible.
	File string
	Line int

	// InputSchema and OutputSchema are JSON-serialized structural schemas for
	// call parameters and return value.
	InputSchema  string
	OutputSchema string

	// Enabled starts true; a re-import with pruning requested disables
	// actions no longer discovered. Rediscovery re-enables.
	Enabled bool

	// IsConsequential hints whether invoking the action has side effects
	// requiring extra confirmation upstream. nil means unset.
	IsConsequential *bool

	// ManagedParamsSchema is the optional JSON-serialized schema for
	// parameters injected by the runtime rather than supplied by a caller
	// (e.g. secrets). Empty when the action declares none.
	ManagedParamsSchema string
}
