package featureflag

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/taskhub/internal/clock"
)

var baseTime = time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

func at(offset time.Duration) *time.Time {
	t := baseTime.Add(offset)
	return &t
}

func seed(t *testing.T, defs ...Definition) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	for _, def := range defs {
		if err := store.Upsert(context.Background(), def); err != nil {
			t.Fatalf("seed definition %q: %v", def.Name, err)
		}
	}
	return store
}

func newEngine(store *MemoryStore) *Engine {
	return NewEngine(store, store, store, clock.Func(func() time.Time { return baseTime }))
}

func TestIsTimeValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		def  Definition
		want bool
	}{
		{name: "no window", def: Definition{}, want: true},
		{name: "inside window", def: Definition{AvailableFrom: at(-time.Hour), AvailableUntil: at(time.Hour)}, want: true},
		{name: "before window", def: Definition{AvailableFrom: at(time.Minute)}, want: false},
		{name: "after window", def: Definition{AvailableUntil: at(-time.Minute)}, want: false},
		{name: "lower bound inclusive", def: Definition{AvailableFrom: at(0)}, want: true},
		{name: "upper bound inclusive", def: Definition{AvailableUntil: at(0)}, want: true},
	}

	for _, tc := range tests {
		if got := IsTimeValid(tc.def, baseTime); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestEngine_IsEnabledPrecedence(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	tests := []struct {
		name       string
		def        Definition
		userFlag   *bool
		roleAccess map[string]bool
		roles      []string
		want       bool
		source     Source
	}{
		{
			name:   "default on without overrides",
			def:    Definition{EnabledByDefault: true},
			want:   true,
			source: SourceDefault,
		},
		{
			name:   "default off without overrides",
			def:    Definition{EnabledByDefault: false},
			want:   false,
			source: SourceDefault,
		},
		{
			name:       "expired window beats every override",
			def:        Definition{EnabledByDefault: true, AvailableUntil: at(-time.Second)},
			userFlag:   boolPtr(true),
			roleAccess: map[string]bool{"member": true},
			roles:      []string{"member"},
			want:       false,
			source:     SourceWindow,
		},
		{
			name:       "user override off beats enabled roles",
			def:        Definition{EnabledByDefault: true},
			userFlag:   boolPtr(false),
			roleAccess: map[string]bool{"member": true, "beta": true},
			roles:      []string{"member", "beta"},
			want:       false,
			source:     SourceUser,
		},
		{
			name:     "user override on beats default off",
			def:      Definition{},
			userFlag: boolPtr(true),
			want:     true,
			source:   SourceUser,
		},
		{
			name:       "any enabled role wins",
			def:        Definition{},
			roleAccess: map[string]bool{"member": false, "beta": true},
			roles:      []string{"member", "beta"},
			want:       true,
			source:     SourceRole,
		},
		{
			name:       "all matching roles disabled beats default on",
			def:        Definition{EnabledByDefault: true},
			roleAccess: map[string]bool{"member": false},
			roles:      []string{"member", "guest"},
			want:       false,
			source:     SourceRole,
		},
		{
			name:       "overrides for roles the user lacks are ignored",
			def:        Definition{EnabledByDefault: true},
			roleAccess: map[string]bool{"admin": false},
			roles:      []string{"member"},
			want:       true,
			source:     SourceDefault,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			def := tc.def
			def.ID = "f1"
			def.Name = "reports"
			store := seed(t, def)
			if tc.userFlag != nil {
				if err := store.SetUserFlag(ctx, UserFlag{FeatureID: "f1", UserID: "u1", IsEnabled: *tc.userFlag}); err != nil {
					t.Fatalf("SetUserFlag: %v", err)
				}
			}
			for role, enabled := range tc.roleAccess {
				if err := store.SetRoleAccess(ctx, RoleAccess{FeatureID: "f1", Role: role, IsEnabled: enabled}); err != nil {
					t.Fatalf("SetRoleAccess: %v", err)
				}
			}

			engine := newEngine(store)
			got, err := engine.IsEnabled(ctx, "reports", "u1", tc.roles, baseTime)
			if err != nil {
				t.Fatalf("IsEnabled returned error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}

			decision, err := engine.Explain(ctx, "reports", "u1", tc.roles, baseTime)
			if err != nil {
				t.Fatalf("Explain returned error: %v", err)
			}
			if decision.Source != tc.source {
				t.Fatalf("expected source %s, got %s", tc.source, decision.Source)
			}
		})
	}
}

func TestEngine_UnknownFeatureIsDisabled(t *testing.T) {
	t.Parallel()

	engine := newEngine(NewMemoryStore())
	enabled, err := engine.IsEnabled(context.Background(), "missing", "u1", []string{"admin"}, baseTime)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if enabled {
		t.Fatalf("expected unknown feature to be disabled")
	}
}

type failingStore struct {
	*MemoryStore
	err error
}

func (f failingStore) GetUserFlag(context.Context, string, string) (UserFlag, error) {
	return UserFlag{}, f.err
}

func TestEngine_StoreFailureFailsClosed(t *testing.T) {
	t.Parallel()

	store := seed(t, Definition{ID: "f1", Name: "reports", EnabledByDefault: true})
	boom := errors.New("connection reset")
	failing := failingStore{MemoryStore: store, err: boom}

	engine := NewEngine(store, store, failing, nil)
	enabled, err := engine.IsEnabled(context.Background(), "reports", "u1", nil, baseTime)
	if !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
	if enabled {
		t.Fatalf("expected disabled result on store failure")
	}
}

func TestEngine_EnabledUsesClock(t *testing.T) {
	t.Parallel()

	store := seed(t, Definition{ID: "f1", Name: "reports", EnabledByDefault: true, AvailableFrom: at(time.Hour)})
	now := baseTime
	engine := NewEngine(store, store, store, clock.Func(func() time.Time { return now }))

	if enabled, _ := engine.Enabled(context.Background(), "reports", "u1", nil); enabled {
		t.Fatalf("expected feature to be unavailable before its window")
	}
	now = baseTime.Add(2 * time.Hour)
	if enabled, _ := engine.Enabled(context.Background(), "reports", "u1", nil); !enabled {
		t.Fatalf("expected feature to be available inside its window")
	}
}

func TestEngine_EnabledFeatures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := seed(t,
		Definition{ID: "f1", Name: "reports", EnabledByDefault: true},
		Definition{ID: "f2", Name: "ai-summary"},
		Definition{ID: "f3", Name: "legacy-export", EnabledByDefault: true, AvailableUntil: at(-time.Hour)},
		Definition{ID: "f4", Name: "budgets"},
	)
	if err := store.SetRoleAccess(ctx, RoleAccess{FeatureID: "f2", Role: "beta", IsEnabled: true}); err != nil {
		t.Fatalf("SetRoleAccess: %v", err)
	}
	if err := store.SetUserFlag(ctx, UserFlag{FeatureID: "f1", UserID: "u1", IsEnabled: false}); err != nil {
		t.Fatalf("SetUserFlag: %v", err)
	}

	names, err := newEngine(store).EnabledFeatures(ctx, "u1", []string{"beta"}, baseTime)
	if err != nil {
		t.Fatalf("EnabledFeatures returned error: %v", err)
	}
	if len(names) != 1 || names[0] != "ai-summary" {
		t.Fatalf("expected [ai-summary], got %v", names)
	}
}

func TestDefinition_Validate(t *testing.T) {
	t.Parallel()

	if err := (Definition{Name: "ok"}).Validate(); err != nil {
		t.Fatalf("expected valid definition, got %v", err)
	}
	err := (Definition{Name: " ", AvailableFrom: at(time.Hour), AvailableUntil: at(0)}).Validate()
	if !errors.Is(err, ErrNameRequired) || !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("expected name and window errors, got %v", err)
	}
	if !errors.Is(err, ErrInvalidDefinition) {
		t.Fatalf("expected errors to wrap ErrInvalidDefinition")
	}
}

func boolPtr(v bool) *bool { return &v }
