package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/example/taskhub/internal/persistence"
)

var roleNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,63}$`)

// RoleService administers roles.
type RoleService struct {
	roles  persistence.RoleRepository
	now    func() time.Time
	logger *slog.Logger
}

// NewRoleService constructs a role service.
func NewRoleService(roles persistence.RoleRepository, now func() time.Time, logger *slog.Logger) *RoleService {
	if now == nil {
		now = time.Now
	}
	return &RoleService{roles: roles, now: now, logger: defaultLogger(logger)}
}

func (s *RoleService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "RoleService", operation, attrs...)
}

// CreateRole stores a new role. Names are lower-case identifiers.
func (s *RoleService) CreateRole(ctx context.Context, principal Principal, input RoleInput) (role persistence.Role, err error) {
	if s == nil {
		err = fmt.Errorf("RoleService is nil")
		return
	}

	logger := s.loggerWith(ctx, "CreateRole", "principal_id", principal.UserID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create role", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("role", role.Name).InfoContext(ctx, "role created")
	}()

	if !principal.IsAdmin() {
		err = ErrUnauthorized
		return
	}

	role = persistence.Role{
		Name:        strings.ToLower(strings.TrimSpace(input.Name)),
		Description: strings.TrimSpace(input.Description),
		CreatedAt:   s.now(),
	}
	if !roleNamePattern.MatchString(role.Name) {
		err = &ValidationError{FieldErrors: map[string]string{"name": "name must be a lower-case identifier of at most 64 characters"}}
		return
	}
	err = mapRepoError(s.roles.CreateRole(ctx, role))
	return
}

// UpdateRole changes a role's description.
func (s *RoleService) UpdateRole(ctx context.Context, principal Principal, name string, input RoleInput) (persistence.Role, error) {
	if s == nil {
		return persistence.Role{}, fmt.Errorf("RoleService is nil")
	}
	if !principal.IsAdmin() {
		return persistence.Role{}, ErrUnauthorized
	}
	role, err := s.roles.GetRole(ctx, name)
	if err != nil {
		return persistence.Role{}, mapRepoError(err)
	}
	role.Description = strings.TrimSpace(input.Description)
	if err := s.roles.UpdateRole(ctx, role); err != nil {
		return persistence.Role{}, mapRepoError(err)
	}
	return role, nil
}

// GetRole returns one role.
func (s *RoleService) GetRole(ctx context.Context, principal Principal, name string) (persistence.Role, error) {
	if s == nil {
		return persistence.Role{}, fmt.Errorf("RoleService is nil")
	}
	if !principal.IsAdmin() {
		return persistence.Role{}, ErrUnauthorized
	}
	role, err := s.roles.GetRole(ctx, name)
	return role, mapRepoError(err)
}

// ListRoles returns every role ordered by name.
func (s *RoleService) ListRoles(ctx context.Context, principal Principal) ([]persistence.Role, error) {
	if s == nil {
		return nil, fmt.Errorf("RoleService is nil")
	}
	if !principal.IsAdmin() {
		return nil, ErrUnauthorized
	}
	roles, err := s.roles.ListRoles(ctx)
	return roles, mapRepoError(err)
}

// DeleteRole removes a role with its memberships and feature overrides. The
// admin role cannot be deleted.
func (s *RoleService) DeleteRole(ctx context.Context, principal Principal, name string) error {
	if s == nil {
		return fmt.Errorf("RoleService is nil")
	}
	if !principal.IsAdmin() {
		return ErrUnauthorized
	}
	if name == AdminRole {
		return fmt.Errorf("%w: the %s role cannot be deleted", ErrConflict, AdminRole)
	}
	if err := s.roles.DeleteRole(ctx, name); err != nil {
		return mapRepoError(err)
	}
	s.loggerWith(ctx, "DeleteRole", "principal_id", principal.UserID, "role", name).InfoContext(ctx, "role deleted")
	return nil
}

// EnsureRole creates the role if it does not exist yet.
func (s *RoleService) EnsureRole(ctx context.Context, name, description string) error {
	if s == nil {
		return fmt.Errorf("RoleService is nil")
	}
	err := s.roles.CreateRole(ctx, persistence.Role{Name: name, Description: description, CreatedAt: s.now()})
	if err == nil || errors.Is(err, persistence.ErrDuplicate) {
		return nil
	}
	return err
}
