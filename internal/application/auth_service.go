package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/taskhub/internal/auth"
	"github.com/example/taskhub/internal/persistence"
)

// TokenService issues and verifies bearer tokens.
type TokenService interface {
	Issue(userID string, roles []string) (string, time.Time, error)
	Parse(token string) (*auth.Claims, error)
}

// PasswordVerifier compares a stored hash with a candidate password.
type PasswordVerifier func(hashedPassword, password string) error

// AuthService coordinates login and bearer token resolution.
type AuthService struct {
	users          persistence.UserRepository
	tokens         TokenService
	verifyPassword PasswordVerifier
	logger         *slog.Logger
}

// NewAuthService constructs an AuthService with the provided dependencies.
func NewAuthService(users persistence.UserRepository, tokens TokenService, verify PasswordVerifier, logger *slog.Logger) *AuthService {
	if verify == nil {
		verify = VerifyPassword
	}
	return &AuthService{users: users, tokens: tokens, verifyPassword: verify, logger: defaultLogger(logger)}
}

func (s *AuthService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "AuthService", operation, attrs...)
}

// Authenticate validates user credentials and issues a signed token.
func (s *AuthService) Authenticate(ctx context.Context, params AuthenticateParams) (result AuthenticateResult, err error) {
	if s == nil {
		err = fmt.Errorf("AuthService is nil")
		return
	}
	if s.tokens == nil {
		err = fmt.Errorf("token service not configured")
		return
	}

	email := strings.ToLower(strings.TrimSpace(params.Email))
	logger := s.loggerWith(ctx, "Authenticate", "email_provided", email != "")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "authentication failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("user_id", result.User.ID).InfoContext(ctx, "user authenticated")
	}()

	if email == "" || params.Password == "" {
		err = ErrInvalidCredentials
		return
	}

	var user persistence.User
	user, err = s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			err = ErrInvalidCredentials
		}
		return
	}

	if verr := s.verifyPassword(user.PasswordHash, params.Password); verr != nil {
		if errors.Is(verr, ErrInvalidCredentials) {
			err = ErrInvalidCredentials
			return
		}
		err = fmt.Errorf("verify password: %w", verr)
		return
	}

	if !user.IsActive {
		err = ErrAccountDisabled
		return
	}

	token, expiresAt, ierr := s.tokens.Issue(user.ID, user.Roles)
	if ierr != nil {
		err = fmt.Errorf("issue token: %w", ierr)
		return
	}

	user.PasswordHash = ""
	result = AuthenticateResult{User: user, Token: token, ExpiresAt: expiresAt}
	return
}

// ResolveToken verifies a bearer token and returns the caller's principal.
// Roles are read from the store so membership changes apply to tokens issued
// earlier.
func (s *AuthService) ResolveToken(ctx context.Context, token string) (Principal, error) {
	if s == nil {
		return Principal{}, fmt.Errorf("AuthService is nil")
	}
	if s.tokens == nil {
		return Principal{}, fmt.Errorf("token service not configured")
	}

	claims, err := s.tokens.Parse(strings.TrimSpace(token))
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	user, err := s.users.GetUser(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return Principal{}, ErrUnauthorized
		}
		return Principal{}, err
	}
	if !user.IsActive {
		return Principal{}, ErrAccountDisabled
	}
	return Principal{UserID: user.ID, Roles: user.Roles}, nil
}
