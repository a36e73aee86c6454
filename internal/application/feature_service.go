package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/taskhub/internal/featureflag"
)

// FeatureService administers feature definitions and overrides and answers
// feature queries for the calling user.
type FeatureService struct {
	definitions featureflag.DefinitionStore
	roles       featureflag.RoleAccessStore
	users       featureflag.UserFlagStore
	engine      *featureflag.Engine
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewFeatureService constructs a feature service. The engine should read
// through the same stores.
func NewFeatureService(definitions featureflag.DefinitionStore, roles featureflag.RoleAccessStore, users featureflag.UserFlagStore, engine *featureflag.Engine, idGenerator func() string, now func() time.Time, logger *slog.Logger) *FeatureService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &FeatureService{
		definitions: definitions,
		roles:       roles,
		users:       users,
		engine:      engine,
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(logger),
	}
}

func (s *FeatureService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "FeatureService", operation, attrs...)
}

// CreateFeature validates and stores a new definition.
func (s *FeatureService) CreateFeature(ctx context.Context, params CreateFeatureParams) (def featureflag.Definition, err error) {
	if s == nil {
		err = fmt.Errorf("FeatureService is nil")
		return
	}

	logger := s.loggerWith(ctx, "CreateFeature", "principal_id", params.Principal.UserID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create feature", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("feature_id", def.ID, "feature", def.Name).InfoContext(ctx, "feature created")
	}()

	if !params.Principal.IsAdmin() {
		err = ErrUnauthorized
		return
	}

	def = definitionFromInput(params.Input)
	if vErr := validateDefinition(def); vErr.HasErrors() {
		err = vErr
		return
	}

	if _, lookupErr := s.definitions.GetByName(ctx, def.Name); lookupErr == nil {
		err = fmt.Errorf("%w: feature %q", ErrAlreadyExists, def.Name)
		return
	} else if !errors.Is(lookupErr, featureflag.ErrNotFound) {
		err = lookupErr
		return
	}

	// Rejected input never consumes an identifier.
	now := s.now()
	def.ID = s.idGenerator()
	def.CreatedAt = now
	def.UpdatedAt = now
	err = mapRepoError(s.definitions.Upsert(ctx, def))
	return
}

// UpdateFeature replaces an existing definition's fields.
func (s *FeatureService) UpdateFeature(ctx context.Context, params UpdateFeatureParams) (def featureflag.Definition, err error) {
	if s == nil {
		err = fmt.Errorf("FeatureService is nil")
		return
	}

	logger := s.loggerWith(ctx, "UpdateFeature", "principal_id", params.Principal.UserID, "feature_id", params.FeatureID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to update feature", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "feature updated")
	}()

	if !params.Principal.IsAdmin() {
		err = ErrUnauthorized
		return
	}

	var existing featureflag.Definition
	existing, err = s.definitions.GetByID(ctx, params.FeatureID)
	if err != nil {
		err = mapRepoError(err)
		return
	}

	def = definitionFromInput(params.Input)
	def.ID = existing.ID
	def.CreatedAt = existing.CreatedAt
	def.UpdatedAt = s.now()
	if vErr := validateDefinition(def); vErr.HasErrors() {
		err = vErr
		return
	}

	err = mapRepoError(s.definitions.Upsert(ctx, def))
	return
}

// GetFeature returns a definition by id.
func (s *FeatureService) GetFeature(ctx context.Context, principal Principal, featureID string) (featureflag.Definition, error) {
	if s == nil {
		return featureflag.Definition{}, fmt.Errorf("FeatureService is nil")
	}
	if !principal.IsAdmin() {
		return featureflag.Definition{}, ErrUnauthorized
	}
	def, err := s.definitions.GetByID(ctx, featureID)
	return def, mapRepoError(err)
}

// ListFeatures returns every definition ordered by name.
func (s *FeatureService) ListFeatures(ctx context.Context, principal Principal) ([]featureflag.Definition, error) {
	if s == nil {
		return nil, fmt.Errorf("FeatureService is nil")
	}
	if !principal.IsAdmin() {
		return nil, ErrUnauthorized
	}
	defs, err := s.definitions.List(ctx)
	return defs, mapRepoError(err)
}

// DeleteFeature removes a definition and its overrides.
func (s *FeatureService) DeleteFeature(ctx context.Context, principal Principal, featureID string) error {
	if s == nil {
		return fmt.Errorf("FeatureService is nil")
	}
	if !principal.IsAdmin() {
		return ErrUnauthorized
	}
	if err := s.definitions.Delete(ctx, featureID); err != nil {
		return mapRepoError(err)
	}
	s.loggerWith(ctx, "DeleteFeature", "principal_id", principal.UserID, "feature_id", featureID).
		InfoContext(ctx, "feature deleted")
	return nil
}

// SetUserFlag creates or replaces the override of a feature for one user.
func (s *FeatureService) SetUserFlag(ctx context.Context, params OverrideParams) (featureflag.UserFlag, error) {
	flag := featureflag.UserFlag{FeatureID: params.FeatureID, UserID: strings.TrimSpace(params.Subject), IsEnabled: params.Enabled}
	err := s.setOverride(ctx, "SetUserFlag", params, "user_id", func(now time.Time) error {
		flag.UpdatedAt = now
		return s.users.SetUserFlag(ctx, flag)
	})
	return flag, err
}

// ResetUserFlag removes a user's override so role access and the default apply again.
func (s *FeatureService) ResetUserFlag(ctx context.Context, principal Principal, featureID, userID string) error {
	return s.resetOverride(ctx, "ResetUserFlag", principal, featureID, userID, func() error {
		return s.users.RemoveUserFlag(ctx, featureID, userID)
	})
}

// SetRoleAccess creates or replaces the override of a feature for one role.
func (s *FeatureService) SetRoleAccess(ctx context.Context, params OverrideParams) (featureflag.RoleAccess, error) {
	access := featureflag.RoleAccess{FeatureID: params.FeatureID, Role: strings.TrimSpace(params.Subject), IsEnabled: params.Enabled}
	err := s.setOverride(ctx, "SetRoleAccess", params, "role", func(now time.Time) error {
		access.UpdatedAt = now
		return s.roles.SetRoleAccess(ctx, access)
	})
	return access, err
}

// ResetRoleAccess removes a role's override.
func (s *FeatureService) ResetRoleAccess(ctx context.Context, principal Principal, featureID, role string) error {
	return s.resetOverride(ctx, "ResetRoleAccess", principal, featureID, role, func() error {
		return s.roles.RemoveRoleAccess(ctx, featureID, role)
	})
}

func (s *FeatureService) setOverride(ctx context.Context, operation string, params OverrideParams, subjectField string, write func(now time.Time) error) (err error) {
	if s == nil {
		return fmt.Errorf("FeatureService is nil")
	}

	logger := s.loggerWith(ctx, operation,
		"principal_id", params.Principal.UserID,
		"feature_id", params.FeatureID,
		subjectField, params.Subject,
		"enabled", params.Enabled,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to set feature override", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "feature override set")
	}()

	if !params.Principal.IsAdmin() {
		return ErrUnauthorized
	}
	if strings.TrimSpace(params.Subject) == "" {
		return &ValidationError{FieldErrors: map[string]string{subjectField: subjectField + " is required"}}
	}
	if _, err = s.definitions.GetByID(ctx, params.FeatureID); err != nil {
		return mapRepoError(err)
	}
	return mapRepoError(write(s.now()))
}

func (s *FeatureService) resetOverride(ctx context.Context, operation string, principal Principal, featureID, subject string, remove func() error) error {
	if s == nil {
		return fmt.Errorf("FeatureService is nil")
	}
	if !principal.IsAdmin() {
		return ErrUnauthorized
	}
	if _, err := s.definitions.GetByID(ctx, featureID); err != nil {
		return mapRepoError(err)
	}
	if err := remove(); err != nil {
		return mapRepoError(err)
	}
	s.loggerWith(ctx, operation, "principal_id", principal.UserID, "feature_id", featureID, "subject", subject).
		InfoContext(ctx, "feature override reset")
	return nil
}

// IsEnabled reports whether the named feature is usable by the principal now.
// Unknown features are disabled.
func (s *FeatureService) IsEnabled(ctx context.Context, principal Principal, name string) (bool, error) {
	if s == nil || s.engine == nil {
		return false, fmt.Errorf("feature engine not configured")
	}
	return s.engine.IsEnabled(ctx, name, principal.UserID, principal.Roles, s.now())
}

// Check evaluates one feature for the principal and reports what decided it.
func (s *FeatureService) Check(ctx context.Context, principal Principal, name string) (FeatureStatus, error) {
	if s == nil || s.engine == nil {
		return FeatureStatus{}, fmt.Errorf("feature engine not configured")
	}
	decision, err := s.engine.Explain(ctx, name, principal.UserID, principal.Roles, s.now())
	if err != nil {
		return FeatureStatus{}, err
	}
	return FeatureStatus{Name: decision.Feature, Enabled: decision.Enabled, Source: decision.Source}, nil
}

// MyFeatures lists the names of every feature enabled for the principal.
func (s *FeatureService) MyFeatures(ctx context.Context, principal Principal) ([]string, error) {
	if s == nil || s.engine == nil {
		return nil, fmt.Errorf("feature engine not configured")
	}
	return s.engine.EnabledFeatures(ctx, principal.UserID, principal.Roles, s.now())
}

func definitionFromInput(input FeatureInput) featureflag.Definition {
	return featureflag.Definition{
		Name:             strings.TrimSpace(input.Name),
		Description:      strings.TrimSpace(input.Description),
		EnabledByDefault: input.EnabledByDefault,
		AvailableFrom:    input.AvailableFrom,
		AvailableUntil:   input.AvailableUntil,
	}
}

func validateDefinition(def featureflag.Definition) *ValidationError {
	vErr := &ValidationError{}
	err := def.Validate()
	if errors.Is(err, featureflag.ErrNameRequired) {
		vErr.add("name", "name is required")
	}
	if errors.Is(err, featureflag.ErrInvalidWindow) {
		vErr.add("available_until", "available_until must not precede available_from")
	}
	return vErr
}
