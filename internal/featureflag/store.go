package featureflag

import "context"

// DefinitionStore reads and writes feature definitions. Lookups of unknown
// features return ErrNotFound.
type DefinitionStore interface {
	GetByName(ctx context.Context, name string) (Definition, error)
	GetByID(ctx context.Context, id string) (Definition, error)
	List(ctx context.Context) ([]Definition, error)
	// Upsert inserts the definition or replaces the row with the same ID.
	Upsert(ctx context.Context, def Definition) error
	// Delete removes the definition and every override that references it.
	Delete(ctx context.Context, id string) error
}

// RoleAccessStore holds per-role overrides keyed by (feature, role).
type RoleAccessStore interface {
	GetRoleAccess(ctx context.Context, featureID, role string) (RoleAccess, error)
	// ListRoleAccess returns the overrides of featureID for any of roles.
	ListRoleAccess(ctx context.Context, featureID string, roles []string) ([]RoleAccess, error)
	SetRoleAccess(ctx context.Context, access RoleAccess) error
	RemoveRoleAccess(ctx context.Context, featureID, role string) error
}

// UserFlagStore holds per-user overrides keyed by (feature, user).
type UserFlagStore interface {
	GetUserFlag(ctx context.Context, featureID, userID string) (UserFlag, error)
	SetUserFlag(ctx context.Context, flag UserFlag) error
	RemoveUserFlag(ctx context.Context, featureID, userID string) error
}
