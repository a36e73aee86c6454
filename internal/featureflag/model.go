// Package featureflag resolves whether a named feature is usable by a user.
//
// Resolution order: the availability window is an absolute ceiling, then a
// per-user override, then role overrides (any enabled role wins), then the
// feature's default.
package featureflag

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by stores when a feature or override does not exist.
var ErrNotFound = errors.New("featureflag: not found")

var (
	// ErrInvalidDefinition is wrapped by every definition validation failure.
	ErrInvalidDefinition = errors.New("featureflag: invalid definition")
	// ErrNameRequired indicates a definition without a name.
	ErrNameRequired = fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	// ErrInvalidWindow indicates AvailableFrom is after AvailableUntil.
	ErrInvalidWindow = fmt.Errorf("%w: available from must not be after available until", ErrInvalidDefinition)
)

// Definition is a named capability with a default and an optional window.
type Definition struct {
	ID               string
	Name             string
	Description      string
	EnabledByDefault bool
	AvailableFrom    *time.Time
	AvailableUntil   *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Validate reports structural problems with the definition.
func (d Definition) Validate() error {
	var errs []error
	if strings.TrimSpace(d.Name) == "" {
		errs = append(errs, ErrNameRequired)
	}
	if d.AvailableFrom != nil && d.AvailableUntil != nil && d.AvailableFrom.After(*d.AvailableUntil) {
		errs = append(errs, ErrInvalidWindow)
	}
	return errors.Join(errs...)
}

// RoleAccess overrides a feature for every holder of Role.
type RoleAccess struct {
	FeatureID string
	Role      string
	IsEnabled bool
	UpdatedAt time.Time
}

// UserFlag overrides a feature for a single user.
type UserFlag struct {
	FeatureID string
	UserID    string
	IsEnabled bool
	UpdatedAt time.Time
}

// IsTimeValid reports whether now falls inside the definition's availability
// window. Both bounds are inclusive and either may be absent.
func IsTimeValid(def Definition, now time.Time) bool {
	if def.AvailableFrom != nil && now.Before(*def.AvailableFrom) {
		return false
	}
	if def.AvailableUntil != nil && now.After(*def.AvailableUntil) {
		return false
	}
	return true
}
