package sqlite

import (
	"context"

	"github.com/example/taskhub/internal/persistence"
)

// RoleRepository implements persistence.RoleRepository.
type RoleRepository struct {
	db *DB
}

// NewRoleRepository creates a role repository.
func NewRoleRepository(db *DB) *RoleRepository {
	return &RoleRepository{db: db}
}

// CreateRole inserts a role.
func (r *RoleRepository) CreateRole(ctx context.Context, role persistence.Role) error {
	_, err := r.db.db.ExecContext(ctx, `INSERT INTO roles (name, description, created_at) VALUES (?, ?, ?)`,
		role.Name, role.Description, formatTime(role.CreatedAt))
	return mapError(err)
}

// UpdateRole changes the description. Names are immutable.
func (r *RoleRepository) UpdateRole(ctx context.Context, role persistence.Role) error {
	result, err := r.db.db.ExecContext(ctx, `UPDATE roles SET description = ? WHERE name = ?`, role.Description, role.Name)
	if err != nil {
		return mapError(err)
	}
	return requireAffected(result)
}

// GetRole loads a role by name.
func (r *RoleRepository) GetRole(ctx context.Context, name string) (persistence.Role, error) {
	return scanRole(r.db.db.QueryRowContext(ctx, `SELECT name, description, created_at FROM roles WHERE name = ?`, name))
}

// ListRoles returns every role ordered by name.
func (r *RoleRepository) ListRoles(ctx context.Context) ([]persistence.Role, error) {
	rows, err := r.db.db.QueryContext(ctx, `SELECT name, description, created_at FROM roles ORDER BY name`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var roles []persistence.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// DeleteRole removes the role along with its memberships and feature overrides.
func (r *RoleRepository) DeleteRole(ctx context.Context, name string) error {
	result, err := r.db.db.ExecContext(ctx, `DELETE FROM roles WHERE name = ?`, name)
	if err != nil {
		return mapError(err)
	}
	return requireAffected(result)
}

func scanRole(row rowScanner) (persistence.Role, error) {
	var (
		role      persistence.Role
		createdAt string
	)
	if err := row.Scan(&role.Name, &role.Description, &createdAt); err != nil {
		return persistence.Role{}, mapError(err)
	}
	var err error
	if role.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return persistence.Role{}, err
	}
	return role, nil
}
