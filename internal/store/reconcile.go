package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/actiond/actiond/internal/models"
)

// ReconcileResult reports what one reconciliation pass did.
type ReconcileResult struct {
	PackageID string
	Inserted  int
	Updated   int
	Disabled  int
}

// Reconcile applies one package's freshly discovered actions to the catalog
// atomically.
//
// If no package with pkg.Name exists, the package and every action are
// inserted as new. Otherwise the existing package row keeps its id and has
// every other field updated; each discovered action is matched by name
// against the package's existing actions - updated in place (preserving id)
// on a match, inserted otherwise.
//
// When disableNotFound is set, previously persisted actions of this package
// that were not rediscovered are set enabled=false. They are never deleted.
//
// An empty actions slice still updates the package metadata (and, with
// pruning, disables every prior action); it is not an error.
func (s *Store) Reconcile(ctx context.Context, pkg *models.ActionPackage, actions []models.Action, disableNotFound bool) (*ReconcileResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin reconcile transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := s.reconcileInTx(ctx, tx, pkg, actions, disableNotFound)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reconcile transaction: %w", err)
	}
	return result, nil
}

func (s *Store) reconcileInTx(ctx context.Context, tx *sql.Tx, pkg *models.ActionPackage, actions []models.Action, disableNotFound bool) (*ReconcileResult, error) {
	existing, err := packageByName(ctx, tx, pkg.Name)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		s.log.Info("found new action package", "package", pkg.Name)
		if err := insertPackage(ctx, tx, pkg); err != nil {
			return nil, err
		}
		result := &ReconcileResult{PackageID: pkg.ID}
		for i := range actions {
			actions[i].ActionPackageID = pkg.ID
			s.log.Info("found new action", "action", actions[i].Name)
			if err := insertAction(ctx, tx, &actions[i]); err != nil {
				return nil, err
			}
			result.Inserted++
		}
		return result, nil
	}

	s.log.Debug("updating action package", "package", pkg.Name)
	if err := updatePackage(ctx, tx, existing.ID, pkg); err != nil {
		return nil, err
	}

	prior, err := actionsForPackage(ctx, tx, existing.ID)
	if err != nil {
		return nil, err
	}
	priorByName := make(map[string]*models.Action, len(prior))
	for i := range prior {
		priorByName[prior[i].Name] = &prior[i]
	}

	if len(actions) == 0 {
		s.log.Info("found no actions", "package", pkg.Name)
	}

	result := &ReconcileResult{PackageID: existing.ID}
	seen := make(map[string]bool, len(actions))
	for i := range actions {
		action := &actions[i]
		action.ActionPackageID = existing.ID
		if match := priorByName[action.Name]; match != nil {
			s.log.Debug("updating action", "action", action.Name)
			if err := updateAction(ctx, tx, match.ID, action); err != nil {
				return nil, err
			}
			seen[match.ID] = true
			result.Updated++
		} else {
			s.log.Info("found new action", "action", action.Name)
			if err := insertAction(ctx, tx, action); err != nil {
				return nil, err
			}
			seen[action.ID] = true
			result.Inserted++
		}
	}

	if disableNotFound {
		for i := range prior {
			if seen[prior[i].ID] {
				continue
			}
			s.log.Info("disabling action", "action", prior[i].Name)
			if _, err := tx.ExecContext(ctx,
				`UPDATE action SET enabled = 0 WHERE id = ?`, prior[i].ID); err != nil {
				return nil, fmt.Errorf("disable action %s: %w", prior[i].Name, err)
			}
			result.Disabled++
		}
	}

	return result, nil
}

func insertPackage(ctx context.Context, tx *sql.Tx, pkg *models.ActionPackage) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO action_package (id, name, directory, env_hash, env_json)
		VALUES (?, ?, ?, ?, ?)
	`, pkg.ID, pkg.Name, pkg.Directory, pkg.EnvHash, pkg.EnvJSON)
	if err != nil {
		return fmt.Errorf("insert action package %s: %w", pkg.Name, err)
	}
	return nil
}

// updatePackage writes all fields but id.
func updatePackage(ctx context.Context, tx *sql.Tx, id string, pkg *models.ActionPackage) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE action_package
		SET name = ?, directory = ?, env_hash = ?, env_json = ?
		WHERE id = ?
	`, pkg.Name, pkg.Directory, pkg.EnvHash, pkg.EnvJSON, id)
	if err != nil {
		return fmt.Errorf("update action package %s: %w", pkg.Name, err)
	}
	return nil
}

func insertAction(ctx context.Context, tx *sql.Tx, action *models.Action) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO action
		(id, action_package_id, name, docs, file, line, input_schema, output_schema,
		 enabled, is_consequential, managed_params_schema)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		action.ID,
		action.ActionPackageID,
		action.Name,
		action.Docs,
		action.File,
		action.Line,
		action.InputSchema,
		action.OutputSchema,
		action.Enabled,
		nullableBool(action.IsConsequential),
		action.ManagedParamsSchema,
	)
	if err != nil {
		return fmt.Errorf("insert action %s: %w", action.Name, err)
	}
	return nil
}

// updateAction writes all fields but id.
func updateAction(ctx context.Context, tx *sql.Tx, id string, action *models.Action) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE action
		SET action_package_id = ?, name = ?, docs = ?, file = ?, line = ?,
		    input_schema = ?, output_schema = ?, enabled = ?,
		    is_consequential = ?, managed_params_schema = ?
		WHERE id = ?
	`,
		action.ActionPackageID,
		action.Name,
		action.Docs,
		action.File,
		action.Line,
		action.InputSchema,
		action.OutputSchema,
		action.Enabled,
		nullableBool(action.IsConsequential),
		action.ManagedParamsSchema,
		id,
	)
	if err != nil {
		return fmt.Errorf("update action %s: %w", action.Name, err)
	}
	return nil
}

func packageByName(ctx context.Context, tx *sql.Tx, name string) (*models.ActionPackage, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, name, directory, env_hash, env_json
		FROM action_package
		WHERE name = ?
	`, name)

	var pkg models.ActionPackage
	err := row.Scan(&pkg.ID, &pkg.Name, &pkg.Directory, &pkg.EnvHash, &pkg.EnvJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query action package %s: %w", name, err)
	}
	return &pkg, nil
}

func actionsForPackage(ctx context.Context, tx *sql.Tx, pkgID string) ([]models.Action, error) {
	rows, err := tx.QueryContext(ctx, actionSelect+`
		WHERE action_package_id = ?
		ORDER BY name ASC, id COLLATE BINARY ASC
	`, pkgID)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()
	return scanActions(rows)
}

func nullableBool(v *bool) any {
	if v == nil {
		return nil
	}
	return *v
}
