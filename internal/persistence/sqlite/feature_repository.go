package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/example/taskhub/internal/featureflag"
	"github.com/example/taskhub/internal/persistence"
)

// FeatureRepository implements the featureflag store interfaces.
type FeatureRepository struct {
	db *DB
}

var (
	_ featureflag.DefinitionStore = (*FeatureRepository)(nil)
	_ featureflag.RoleAccessStore = (*FeatureRepository)(nil)
	_ featureflag.UserFlagStore   = (*FeatureRepository)(nil)
)

// NewFeatureRepository creates a feature repository.
func NewFeatureRepository(db *DB) *FeatureRepository {
	return &FeatureRepository{db: db}
}

const featureColumns = `id, name, description, enabled_by_default, available_from, available_until, created_at, updated_at`

// featureError converts persistence sentinels into the featureflag ones. A
// missing feature, role or user behind a foreign key is reported as not found.
func featureError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrNotFound), errors.Is(err, persistence.ErrReference):
		return fmt.Errorf("%w: %w", featureflag.ErrNotFound, err)
	case errors.Is(err, persistence.ErrDuplicate):
		return fmt.Errorf("%w: %w", featureflag.ErrDuplicateName, err)
	}
	return err
}

// GetByName loads a feature definition by its unique name.
func (r *FeatureRepository) GetByName(ctx context.Context, name string) (featureflag.Definition, error) {
	def, err := scanDefinition(r.db.db.QueryRowContext(ctx, `SELECT `+featureColumns+` FROM feature_definitions WHERE name = ?`, name))
	return def, featureError(err)
}

// GetByID loads a feature definition by id.
func (r *FeatureRepository) GetByID(ctx context.Context, id string) (featureflag.Definition, error) {
	def, err := scanDefinition(r.db.db.QueryRowContext(ctx, `SELECT `+featureColumns+` FROM feature_definitions WHERE id = ?`, id))
	return def, featureError(err)
}

// List returns every feature definition ordered by name.
func (r *FeatureRepository) List(ctx context.Context) ([]featureflag.Definition, error) {
	rows, err := r.db.db.QueryContext(ctx, `SELECT `+featureColumns+` FROM feature_definitions ORDER BY name`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var defs []featureflag.Definition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// Upsert inserts a definition or replaces the one with the same id.
func (r *FeatureRepository) Upsert(ctx context.Context, def featureflag.Definition) error {
	_, err := r.db.db.ExecContext(ctx, `
		INSERT INTO feature_definitions (`+featureColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			enabled_by_default = excluded.enabled_by_default,
			available_from = excluded.available_from,
			available_until = excluded.available_until,
			updated_at = excluded.updated_at`,
		def.ID,
		def.Name,
		def.Description,
		def.EnabledByDefault,
		formatNullableTime(def.AvailableFrom),
		formatNullableTime(def.AvailableUntil),
		formatTime(def.CreatedAt),
		formatTime(def.UpdatedAt),
	)
	return featureError(mapError(err))
}

// Delete removes a definition and, through cascading keys, its overrides.
func (r *FeatureRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.db.ExecContext(ctx, `DELETE FROM feature_definitions WHERE id = ?`, id)
	if err != nil {
		return featureError(mapError(err))
	}
	return featureError(requireAffected(result))
}

// GetRoleAccess loads the override of a feature for one role.
func (r *FeatureRepository) GetRoleAccess(ctx context.Context, featureID, role string) (featureflag.RoleAccess, error) {
	var (
		access    = featureflag.RoleAccess{FeatureID: featureID, Role: role}
		updatedAt string
	)
	err := r.db.db.QueryRowContext(ctx,
		`SELECT is_enabled, updated_at FROM role_feature_access WHERE feature_id = ? AND role = ?`,
		featureID, role,
	).Scan(&access.IsEnabled, &updatedAt)
	if err != nil {
		return featureflag.RoleAccess{}, featureError(mapError(err))
	}
	if access.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return featureflag.RoleAccess{}, err
	}
	return access, nil
}

// ListRoleAccess returns the overrides of a feature held by any of roles.
func (r *FeatureRepository) ListRoleAccess(ctx context.Context, featureID string, roles []string) ([]featureflag.RoleAccess, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(roles)+1)
	args = append(args, featureID)
	for _, role := range roles {
		args = append(args, role)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(roles)), ", ")

	rows, err := r.db.db.QueryContext(ctx, `
		SELECT role, is_enabled, updated_at FROM role_feature_access
		WHERE feature_id = ? AND role IN (`+placeholders+`)
		ORDER BY role`, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var list []featureflag.RoleAccess
	for rows.Next() {
		var (
			access    = featureflag.RoleAccess{FeatureID: featureID}
			updatedAt string
		)
		if err := rows.Scan(&access.Role, &access.IsEnabled, &updatedAt); err != nil {
			return nil, err
		}
		if access.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
			return nil, err
		}
		list = append(list, access)
	}
	return list, rows.Err()
}

// SetRoleAccess creates or replaces a role override.
func (r *FeatureRepository) SetRoleAccess(ctx context.Context, access featureflag.RoleAccess) error {
	_, err := r.db.db.ExecContext(ctx, `
		INSERT INTO role_feature_access (feature_id, role, is_enabled, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (feature_id, role) DO UPDATE SET
			is_enabled = excluded.is_enabled,
			updated_at = excluded.updated_at`,
		access.FeatureID, access.Role, access.IsEnabled, formatTime(access.UpdatedAt),
	)
	return featureError(mapError(err))
}

// RemoveRoleAccess deletes a role override; featureflag.ErrNotFound when none exists.
func (r *FeatureRepository) RemoveRoleAccess(ctx context.Context, featureID, role string) error {
	result, err := r.db.db.ExecContext(ctx, `DELETE FROM role_feature_access WHERE feature_id = ? AND role = ?`, featureID, role)
	if err != nil {
		return mapError(err)
	}
	return featureError(requireAffected(result))
}

// GetUserFlag loads the override of a feature for one user.
func (r *FeatureRepository) GetUserFlag(ctx context.Context, featureID, userID string) (featureflag.UserFlag, error) {
	var (
		flag      = featureflag.UserFlag{FeatureID: featureID, UserID: userID}
		updatedAt string
	)
	err := r.db.db.QueryRowContext(ctx,
		`SELECT is_enabled, updated_at FROM user_feature_flags WHERE feature_id = ? AND user_id = ?`,
		featureID, userID,
	).Scan(&flag.IsEnabled, &updatedAt)
	if err != nil {
		return featureflag.UserFlag{}, featureError(mapError(err))
	}
	if flag.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return featureflag.UserFlag{}, err
	}
	return flag, nil
}

// SetUserFlag creates or replaces a user override.
func (r *FeatureRepository) SetUserFlag(ctx context.Context, flag featureflag.UserFlag) error {
	_, err := r.db.db.ExecContext(ctx, `
		INSERT INTO user_feature_flags (feature_id, user_id, is_enabled, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (feature_id, user_id) DO UPDATE SET
			is_enabled = excluded.is_enabled,
			updated_at = excluded.updated_at`,
		flag.FeatureID, flag.UserID, flag.IsEnabled, formatTime(flag.UpdatedAt),
	)
	return featureError(mapError(err))
}

// RemoveUserFlag deletes a user override; featureflag.ErrNotFound when none exists.
func (r *FeatureRepository) RemoveUserFlag(ctx context.Context, featureID, userID string) error {
	result, err := r.db.db.ExecContext(ctx, `DELETE FROM user_feature_flags WHERE feature_id = ? AND user_id = ?`, featureID, userID)
	if err != nil {
		return mapError(err)
	}
	return featureError(requireAffected(result))
}

func scanDefinition(row rowScanner) (featureflag.Definition, error) {
	var (
		def                  featureflag.Definition
		from, until          sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&def.ID, &def.Name, &def.Description, &def.EnabledByDefault, &from, &until, &createdAt, &updatedAt)
	if err != nil {
		return featureflag.Definition{}, mapError(err)
	}
	if def.AvailableFrom, err = parseNullableTime("available_from", from); err != nil {
		return featureflag.Definition{}, err
	}
	if def.AvailableUntil, err = parseNullableTime("available_until", until); err != nil {
		return featureflag.Definition{}, err
	}
	if def.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return featureflag.Definition{}, err
	}
	if def.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return featureflag.Definition{}, err
	}
	return def, nil
}
