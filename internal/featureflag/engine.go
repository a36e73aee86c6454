package featureflag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/example/taskhub/internal/clock"
)

// Source names the rule that decided an evaluation.
type Source string

const (
	SourceMissing Source = "missing"
	SourceWindow  Source = "window"
	SourceUser    Source = "user"
	SourceRole    Source = "role"
	SourceDefault Source = "default"
)

// Decision is the outcome of evaluating one feature for one user.
type Decision struct {
	Feature string
	Enabled bool
	Source  Source
}

// Engine evaluates features against the definition and override stores. It
// only reads; it never writes to any store.
type Engine struct {
	definitions DefinitionStore
	roles       RoleAccessStore
	users       UserFlagStore
	clock       clock.Source
}

// NewEngine wires an Engine. A nil clock falls back to the system clock.
func NewEngine(definitions DefinitionStore, roles RoleAccessStore, users UserFlagStore, clk clock.Source) *Engine {
	return &Engine{
		definitions: definitions,
		roles:       roles,
		users:       users,
		clock:       clock.OrSystem(clk),
	}
}

// IsEnabled reports whether the named feature is usable by userID holding
// roles at now. An unknown feature is disabled, not an error. Store failures
// are returned together with false.
func (e *Engine) IsEnabled(ctx context.Context, name, userID string, roles []string, now time.Time) (bool, error) {
	decision, err := e.Explain(ctx, name, userID, roles, now)
	return decision.Enabled, err
}

// Enabled is IsEnabled evaluated at the engine clock's current time.
func (e *Engine) Enabled(ctx context.Context, name, userID string, roles []string) (bool, error) {
	return e.IsEnabled(ctx, name, userID, roles, e.clock.Now())
}

// Explain evaluates the named feature and reports which rule decided it.
func (e *Engine) Explain(ctx context.Context, name, userID string, roles []string, now time.Time) (Decision, error) {
	def, err := e.definitions.GetByName(ctx, name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Decision{Feature: name, Source: SourceMissing}, nil
		}
		return Decision{Feature: name}, fmt.Errorf("load feature %q: %w", name, err)
	}
	return e.evaluate(ctx, def, userID, roles, now)
}

// EnabledFeatures lists the names of every feature enabled for the user at
// now, sorted by name.
func (e *Engine) EnabledFeatures(ctx context.Context, userID string, roles []string, now time.Time) ([]string, error) {
	defs, err := e.definitions.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list features: %w", err)
	}

	names := make([]string, 0, len(defs))
	for _, def := range defs {
		decision, err := e.evaluate(ctx, def, userID, roles, now)
		if err != nil {
			return nil, err
		}
		if decision.Enabled {
			names = append(names, def.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (e *Engine) evaluate(ctx context.Context, def Definition, userID string, roles []string, now time.Time) (Decision, error) {
	decision := Decision{Feature: def.Name}

	if !IsTimeValid(def, now) {
		decision.Source = SourceWindow
		return decision, nil
	}

	if userID != "" {
		flag, err := e.users.GetUserFlag(ctx, def.ID, userID)
		switch {
		case err == nil:
			decision.Enabled = flag.IsEnabled
			decision.Source = SourceUser
			return decision, nil
		case !errors.Is(err, ErrNotFound):
			return decision, fmt.Errorf("load user flag for %q: %w", def.Name, err)
		}
	}

	if len(roles) > 0 {
		overrides, err := e.roles.ListRoleAccess(ctx, def.ID, roles)
		if err != nil {
			return decision, fmt.Errorf("load role access for %q: %w", def.Name, err)
		}
		if len(overrides) > 0 {
			decision.Source = SourceRole
			for _, access := range overrides {
				if access.IsEnabled {
					decision.Enabled = true
					break
				}
			}
			return decision, nil
		}
	}

	decision.Enabled = def.EnabledByDefault
	decision.Source = SourceDefault
	return decision, nil
}
