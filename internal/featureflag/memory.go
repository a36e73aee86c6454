package featureflag

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrDuplicateName is returned by MemoryStore when an upsert would give two
// definitions the same name.
var ErrDuplicateName = errors.New("featureflag: duplicate feature name")

// MemoryStore is a process-local implementation of every store interface in
// this package. It is used by tests and by tools that evaluate flags without a
// database.
type MemoryStore struct {
	mu          sync.RWMutex
	definitions map[string]Definition
	roleAccess  map[[2]string]RoleAccess
	userFlags   map[[2]string]UserFlag
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		definitions: make(map[string]Definition),
		roleAccess:  make(map[[2]string]RoleAccess),
		userFlags:   make(map[[2]string]UserFlag),
	}
}

func (s *MemoryStore) GetByName(_ context.Context, name string) (Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, def := range s.definitions {
		if def.Name == name {
			return def, nil
		}
	}
	return Definition{}, ErrNotFound
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.definitions[id]
	if !ok {
		return Definition{}, ErrNotFound
	}
	return def, nil
}

func (s *MemoryStore) List(_ context.Context) ([]Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	defs := make([]Definition, 0, len(s.definitions))
	for _, def := range s.definitions {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}

func (s *MemoryStore) Upsert(_ context.Context, def Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.definitions {
		if id != def.ID && existing.Name == def.Name {
			return ErrDuplicateName
		}
	}
	s.definitions[def.ID] = def
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.definitions[id]; !ok {
		return ErrNotFound
	}
	delete(s.definitions, id)
	for key := range s.roleAccess {
		if key[0] == id {
			delete(s.roleAccess, key)
		}
	}
	for key := range s.userFlags {
		if key[0] == id {
			delete(s.userFlags, key)
		}
	}
	return nil
}

func (s *MemoryStore) GetRoleAccess(_ context.Context, featureID, role string) (RoleAccess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	access, ok := s.roleAccess[[2]string{featureID, role}]
	if !ok {
		return RoleAccess{}, ErrNotFound
	}
	return access, nil
}

func (s *MemoryStore) ListRoleAccess(_ context.Context, featureID string, roles []string) ([]RoleAccess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []RoleAccess
	seen := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		if access, ok := s.roleAccess[[2]string{featureID, role}]; ok {
			out = append(out, access)
		}
	}
	return out, nil
}

func (s *MemoryStore) SetRoleAccess(_ context.Context, access RoleAccess) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.definitions[access.FeatureID]; !ok {
		return ErrNotFound
	}
	s.roleAccess[[2]string{access.FeatureID, access.Role}] = access
	return nil
}

func (s *MemoryStore) RemoveRoleAccess(_ context.Context, featureID, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{featureID, role}
	if _, ok := s.roleAccess[key]; !ok {
		return ErrNotFound
	}
	delete(s.roleAccess, key)
	return nil
}

func (s *MemoryStore) GetUserFlag(_ context.Context, featureID, userID string) (UserFlag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	flag, ok := s.userFlags[[2]string{featureID, userID}]
	if !ok {
		return UserFlag{}, ErrNotFound
	}
	return flag, nil
}

func (s *MemoryStore) SetUserFlag(_ context.Context, flag UserFlag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.definitions[flag.FeatureID]; !ok {
		return ErrNotFound
	}
	s.userFlags[[2]string{flag.FeatureID, flag.UserID}] = flag
	return nil
}

func (s *MemoryStore) RemoveUserFlag(_ context.Context, featureID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{featureID, userID}
	if _, ok := s.userFlags[key]; !ok {
		return ErrNotFound
	}
	delete(s.userFlags, key)
	return nil
}
