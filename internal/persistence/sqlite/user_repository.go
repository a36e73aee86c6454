package sqlite

import (
	"context"
	"database/sql"
	"sort"
	"strings"

	"github.com/example/taskhub/internal/persistence"
)

// UserRepository implements persistence.UserRepository.
type UserRepository struct {
	db *DB
}

// NewUserRepository creates a user repository.
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, email, display_name, password_hash, is_active, created_at, updated_at`

// CreateUser inserts the user together with its role memberships.
func (r *UserRepository) CreateUser(ctx context.Context, user persistence.User) error {
	return r.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			user.ID,
			normalizeEmail(user.Email),
			user.DisplayName,
			user.PasswordHash,
			user.IsActive,
			formatTime(user.CreatedAt),
			formatTime(user.UpdatedAt),
		)
		if err != nil {
			return mapError(err)
		}
		return writeUserRoles(ctx, tx, user.ID, user.Roles)
	})
}

// UpdateUser replaces the profile fields. Role membership is changed through
// SetUserRoles.
func (r *UserRepository) UpdateUser(ctx context.Context, user persistence.User) error {
	result, err := r.db.db.ExecContext(ctx, `
		UPDATE users
		SET email = ?, display_name = ?, password_hash = ?, is_active = ?, updated_at = ?
		WHERE id = ?`,
		normalizeEmail(user.Email),
		user.DisplayName,
		user.PasswordHash,
		user.IsActive,
		formatTime(user.UpdatedAt),
		user.ID,
	)
	if err != nil {
		return mapError(err)
	}
	return requireAffected(result)
}

// GetUser loads a user and its roles by id.
func (r *UserRepository) GetUser(ctx context.Context, id string) (persistence.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

// GetUserByEmail looks the user up case-insensitively.
func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (persistence.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, normalizeEmail(email))
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg string) (persistence.User, error) {
	user, err := scanUser(r.db.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		return persistence.User{}, err
	}
	if user.Roles, err = readUserRoles(ctx, r.db.db, user.ID); err != nil {
		return persistence.User{}, err
	}
	return user, nil
}

// ListUsers returns every user with roles, ordered by email.
func (r *UserRepository) ListUsers(ctx context.Context) ([]persistence.User, error) {
	var users []persistence.User
	err := r.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY email`)
		if err != nil {
			return mapError(err)
		}
		for rows.Next() {
			user, err := scanUser(rows)
			if err != nil {
				rows.Close()
				return err
			}
			users = append(users, user)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}
		for i := range users {
			if users[i].Roles, err = readUserRoles(ctx, tx, users[i].ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

// DeleteUser removes a user; owned records cascade.
func (r *UserRepository) DeleteUser(ctx context.Context, id string) error {
	result, err := r.db.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return mapError(err)
	}
	return requireAffected(result)
}

// SetUserRoles replaces the user's memberships. Unknown roles fail with
// ErrReference and leave the previous memberships in place.
func (r *UserRepository) SetUserRoles(ctx context.Context, userID string, roles []string) error {
	return r.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, userID).Scan(&exists); err != nil {
			return mapError(err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = ?`, userID); err != nil {
			return mapError(err)
		}
		return writeUserRoles(ctx, tx, userID, roles)
	})
}

func writeUserRoles(ctx context.Context, tx *sql.Tx, userID string, roles []string) error {
	for _, role := range roles {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO user_roles (user_id, role) VALUES (?, ?)`, userID, role); err != nil {
			return mapError(err)
		}
	}
	return nil
}

func readUserRoles(ctx context.Context, q querier, userID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT role FROM user_roles WHERE user_id = ?`, userID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	roles := []string{}
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Strings(roles)
	return roles, nil
}

func scanUser(row rowScanner) (persistence.User, error) {
	var (
		user                 persistence.User
		createdAt, updatedAt string
	)
	err := row.Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.IsActive, &createdAt, &updatedAt)
	if err != nil {
		return persistence.User{}, mapError(err)
	}
	if user.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return persistence.User{}, err
	}
	if user.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return persistence.User{}, err
	}
	return user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
