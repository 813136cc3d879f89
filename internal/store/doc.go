// Package store provides SQLite-backed durable storage for the action
// catalog and implements the per-package reconciliation that keeps it in
// sync with freshly enumerated actions.
//
// # Reconciliation invariants
//
//   - ActionPackage identity is name: re-importing a directory whose
//     manifest declares a known name updates the row in place; id never
//     changes once assigned.
//   - Action identity is (action_package_id, name): rediscovered actions are
//     updated preserving their id, new ones inserted.
//   - Actions are never deleted, only disabled - and only when pruning is
//     requested for the package being re-imported.
//   - Rediscovering a previously disabled action re-enables it.
//   - All writes for one package happen inside a single transaction; a
//     failure partway rolls back all of it. There is no cross-package
//     transaction.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
package store
