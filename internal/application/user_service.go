package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"slices"
	"strings"
	"time"

	"github.com/example/taskhub/internal/persistence"
)

const minPasswordLength = 8

// PasswordHasher derives a storable hash from a plaintext password.
type PasswordHasher func(password string) (string, error)

// UserService orchestrates validation, authorization, and persistence for users.
type UserService struct {
	users       persistence.UserRepository
	hash        PasswordHasher
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewUserService wires dependencies for the user service. hash defaults to
// argon2id with DefaultArgon2idParams.
func NewUserService(users persistence.UserRepository, hash PasswordHasher, idGenerator func() string, now func() time.Time, logger *slog.Logger) *UserService {
	if hash == nil {
		hash = HashPassword
	}
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &UserService{users: users, hash: hash, idGenerator: idGenerator, now: now, logger: defaultLogger(logger)}
}

func (s *UserService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "UserService", operation, attrs...)
}

// CreateUser validates input and persists a new user for administrators.
func (s *UserService) CreateUser(ctx context.Context, params CreateUserParams) (user persistence.User, err error) {
	if s == nil {
		err = fmt.Errorf("UserService is nil")
		return
	}

	logger := s.loggerWith(ctx, "CreateUser", "principal_id", params.Principal.UserID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create user", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("user_id", user.ID).InfoContext(ctx, "user created")
	}()

	if !params.Principal.IsAdmin() {
		err = ErrUnauthorized
		return
	}

	input := normalizeUserInput(params.Input)
	vErr := validateUserInput(input)
	if len(input.Password) < minPasswordLength {
		vErr.add("password", fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	user, err = s.newUser(input)
	if err != nil {
		return
	}
	if err = s.users.CreateUser(ctx, user); err != nil {
		err = mapRepoError(err)
		return
	}
	user.PasswordHash = ""
	return
}

func (s *UserService) newUser(input UserInput) (persistence.User, error) {
	hash, err := s.hash(input.Password)
	if err != nil {
		return persistence.User{}, fmt.Errorf("hash password: %w", err)
	}
	active := true
	if input.IsActive != nil {
		active = *input.IsActive
	}
	now := s.now()
	return persistence.User{
		ID:           s.idGenerator(),
		Email:        input.Email,
		DisplayName:  input.DisplayName,
		PasswordHash: hash,
		IsActive:     active,
		Roles:        input.Roles,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// UpdateUser validates input and updates an existing user for administrators.
// An empty password keeps the current one; nil Roles keeps current memberships.
func (s *UserService) UpdateUser(ctx context.Context, params UpdateUserParams) (user persistence.User, err error) {
	if s == nil {
		err = fmt.Errorf("UserService is nil")
		return
	}

	logger := s.loggerWith(ctx, "UpdateUser", "principal_id", params.Principal.UserID, "user_id", params.UserID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to update user", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "user updated")
	}()

	if !params.Principal.IsAdmin() {
		err = ErrUnauthorized
		return
	}

	user, err = s.users.GetUser(ctx, params.UserID)
	if err != nil {
		err = mapRepoError(err)
		return
	}

	input := normalizeUserInput(params.Input)
	vErr := validateUserInput(input)
	if input.Password != "" && len(input.Password) < minPasswordLength {
		vErr.add("password", fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	user.Email = input.Email
	user.DisplayName = input.DisplayName
	if input.IsActive != nil {
		user.IsActive = *input.IsActive
	}
	if input.Password != "" {
		if user.PasswordHash, err = s.hash(input.Password); err != nil {
			err = fmt.Errorf("hash password: %w", err)
			return
		}
	}
	user.UpdatedAt = s.now()

	if err = s.users.UpdateUser(ctx, user); err != nil {
		err = mapRepoError(err)
		return
	}
	if input.Roles != nil {
		if err = s.users.SetUserRoles(ctx, user.ID, input.Roles); err != nil {
			err = mapRepoError(err)
			return
		}
		user.Roles = input.Roles
	}
	user.PasswordHash = ""
	return
}

// GetUser returns a user. Users may read their own record; administrators any.
func (s *UserService) GetUser(ctx context.Context, principal Principal, userID string) (persistence.User, error) {
	if s == nil {
		return persistence.User{}, fmt.Errorf("UserService is nil")
	}
	if !principal.IsAdmin() && !principal.canAccess(userID) {
		return persistence.User{}, ErrUnauthorized
	}
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return persistence.User{}, mapRepoError(err)
	}
	user.PasswordHash = ""
	return user, nil
}

// DeleteUser removes a user when requested by an administrator. Administrators
// cannot delete themselves.
func (s *UserService) DeleteUser(ctx context.Context, principal Principal, userID string) error {
	if s == nil {
		return fmt.Errorf("UserService is nil")
	}
	if !principal.IsAdmin() {
		return ErrUnauthorized
	}
	if principal.UserID == userID {
		return fmt.Errorf("%w: cannot delete the acting user", ErrConflict)
	}
	if err := s.users.DeleteUser(ctx, userID); err != nil {
		return mapRepoError(err)
	}
	s.loggerWith(ctx, "DeleteUser", "principal_id", principal.UserID, "user_id", userID).InfoContext(ctx, "user deleted")
	return nil
}

// ListUsers returns all users for administrators, ordered by email.
func (s *UserService) ListUsers(ctx context.Context, principal Principal) ([]persistence.User, error) {
	if s == nil {
		return nil, fmt.Errorf("UserService is nil")
	}
	if !principal.IsAdmin() {
		return nil, ErrUnauthorized
	}

	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, mapRepoError(err)
	}
	for i := range users {
		users[i].PasswordHash = ""
	}
	return users, nil
}

// SetUserRoles replaces a user's role memberships. Unknown roles are reported
// as ErrNotFound.
func (s *UserService) SetUserRoles(ctx context.Context, principal Principal, userID string, roles []string) ([]string, error) {
	if s == nil {
		return nil, fmt.Errorf("UserService is nil")
	}
	if !principal.IsAdmin() {
		return nil, ErrUnauthorized
	}
	roles = normalizeRoleNames(roles)
	if principal.UserID == userID && !slices.Contains(roles, AdminRole) {
		return nil, fmt.Errorf("%w: cannot remove the admin role from the acting user", ErrConflict)
	}
	if err := s.users.SetUserRoles(ctx, userID, roles); err != nil {
		return nil, mapRepoError(err)
	}
	s.loggerWith(ctx, "SetUserRoles", "principal_id", principal.UserID, "user_id", userID, "roles", roles).
		InfoContext(ctx, "user roles replaced")
	return roles, nil
}

// EnsureAdmin creates an active administrator with the given credentials unless
// a user with that email already exists. It is used to bootstrap a new
// deployment.
func (s *UserService) EnsureAdmin(ctx context.Context, email, password string) (persistence.User, bool, error) {
	if s == nil {
		return persistence.User{}, false, fmt.Errorf("UserService is nil")
	}

	input := normalizeUserInput(UserInput{Email: email, DisplayName: "Administrator", Password: password, Roles: []string{AdminRole}})
	existing, err := s.users.GetUserByEmail(ctx, input.Email)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, persistence.ErrNotFound) {
		return persistence.User{}, false, err
	}

	vErr := validateUserInput(input)
	if len(input.Password) < minPasswordLength {
		vErr.add("password", fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	if vErr.HasErrors() {
		return persistence.User{}, false, vErr
	}

	user, err := s.newUser(input)
	if err != nil {
		return persistence.User{}, false, err
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return persistence.User{}, false, mapRepoError(err)
	}
	s.loggerWith(ctx, "EnsureAdmin", "user_id", user.ID).InfoContext(ctx, "bootstrap administrator created")
	return user, true, nil
}

func normalizeUserInput(input UserInput) UserInput {
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	input.DisplayName = strings.TrimSpace(input.DisplayName)
	if input.Roles != nil {
		input.Roles = normalizeRoleNames(input.Roles)
	}
	return input
}

func normalizeRoleNames(roles []string) []string {
	out := make([]string, 0, len(roles))
	for _, role := range roles {
		if role = strings.ToLower(strings.TrimSpace(role)); role != "" && !slices.Contains(out, role) {
			out = append(out, role)
		}
	}
	slices.Sort(out)
	return out
}

func validateUserInput(input UserInput) *ValidationError {
	vErr := &ValidationError{}

	if input.Email == "" {
		vErr.add("email", "email is required")
	} else if _, err := mail.ParseAddress(input.Email); err != nil {
		vErr.add("email", "email is invalid")
	}

	if input.DisplayName == "" {
		vErr.add("display_name", "display name is required")
	}

	return vErr
}
