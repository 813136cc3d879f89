package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/actiond/actiond/internal/models"
)

const actionSelect = `
	SELECT id, action_package_id, name, docs, file, line, input_schema,
	       output_schema, enabled, is_consequential, managed_params_schema
	FROM action
`

// PackageByName returns the catalog record for a package name, or ok=false
// when no package with that name has ever been imported.
func (s *Store) PackageByName(ctx context.Context, name string) (*models.ActionPackage, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, directory, env_hash, env_json
		FROM action_package
		WHERE name = ?
	`, name)

	var pkg models.ActionPackage
	err := row.Scan(&pkg.ID, &pkg.Name, &pkg.Directory, &pkg.EnvHash, &pkg.EnvJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query action package %s: %w", name, err)
	}
	return &pkg, true, nil
}

// ListPackages returns every registered package ordered by name.
func (s *Store) ListPackages(ctx context.Context) ([]models.ActionPackage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, directory, env_hash, env_json
		FROM action_package
		ORDER BY name ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query action packages: %w", err)
	}
	defer rows.Close()

	packages := []models.ActionPackage{}
	for rows.Next() {
		var pkg models.ActionPackage
		if err := rows.Scan(&pkg.ID, &pkg.Name, &pkg.Directory, &pkg.EnvHash, &pkg.EnvJSON); err != nil {
			return nil, fmt.Errorf("scan action package: %w", err)
		}
		packages = append(packages, pkg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate action packages: %w", err)
	}
	return packages, nil
}

// ActionsForPackage returns every action belonging to the package,
// enabled or not, ordered by name.
func (s *Store) ActionsForPackage(ctx context.Context, pkgID string) ([]models.Action, error) {
	rows, err := s.db.QueryContext(ctx, actionSelect+`
		WHERE action_package_id = ?
		ORDER BY name ASC, id COLLATE BINARY ASC
	`, pkgID)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()
	return scanActions(rows)
}

func scanActions(rows *sql.Rows) ([]models.Action, error) {
	actions := []models.Action{}
	for rows.Next() {
		var action models.Action
		var consequential sql.NullBool
		err := rows.Scan(
			&action.ID,
			&action.ActionPackageID,
			&action.Name,
			&action.Docs,
			&action.File,
			&action.Line,
			&action.InputSchema,
			&action.OutputSchema,
			&action.Enabled,
			&consequential,
			&action.ManagedParamsSchema,
		)
		if err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		if consequential.Valid {
			action.IsConsequential = &consequential.Bool
		}
		actions = append(actions, action)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}
	return actions, nil
}
