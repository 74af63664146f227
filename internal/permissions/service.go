package permissions

import (
	"context"
	"errors"
	"strings"
)

// RepositoryPort defines catalog access for the resolver.
type RepositoryPort interface {
	GrantsForRole(ctx context.Context, role string) ([]ModuleGrant, error)
	ListGrants(ctx context.Context) ([]ModuleGrant, error)
	UpsertGrant(ctx context.Context, role, module string, actions []string) error
	DeleteGrant(ctx context.Context, role, module string) error
}

// Service resolves roles to their denormalized permission payloads. Reads are
// side-effect free; callers include both the sync orchestrators (to compute
// provider payloads) and the request layer (for access-control decisions).
type Service struct {
	repo  RepositoryPort
	cache Cache
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, cache Cache) *Service {
	return &Service{repo: repo, cache: cache}
}

// Resolve maps a role to its module to action-list map. An empty role, an
// unknown role, or a role without entries resolves to an empty map, meaning
// no module access.
func (s *Service) Resolve(ctx context.Context, role string) (map[string][]string, error) {
	role = strings.TrimSpace(role)
	if role == "" {
		return map[string][]string{}, nil
	}
	if s.cache != nil {
		if resolved, ok := s.cache.Get(ctx, role); ok {
			return resolved, nil
		}
	}
	grants, err := s.repo.GrantsForRole(ctx, role)
	if err != nil {
		return nil, err
	}
	resolved := make(map[string][]string, len(grants))
	for _, g := range grants {
		if len(g.Actions) == 0 {
			continue
		}
		resolved[g.Module] = append([]string(nil), g.Actions...)
	}
	if s.cache != nil {
		s.cache.Set(ctx, role, resolved)
	}
	return resolved, nil
}

// CanAccessModule reports whether the role has any action on the module.
func (s *Service) CanAccessModule(ctx context.Context, role, module string) (bool, error) {
	resolved, err := s.Resolve(ctx, role)
	if err != nil {
		return false, err
	}
	return len(resolved[module]) > 0, nil
}

// HasAction reports whether the role's action list for the module contains
// the action.
func (s *Service) HasAction(ctx context.Context, role, module, action string) (bool, error) {
	resolved, err := s.Resolve(ctx, role)
	if err != nil {
		return false, err
	}
	for _, a := range resolved[module] {
		if a == action {
			return true, nil
		}
	}
	return false, nil
}

// ListGrants returns the whole catalog.
func (s *Service) ListGrants(ctx context.Context) ([]ModuleGrant, error) {
	return s.repo.ListGrants(ctx)
}

// SetGrant replaces the action list for a (role, module) pair. A role change
// triggers no mass resync of remote profiles; each profile picks the new map
// up on its next sync.
func (s *Service) SetGrant(ctx context.Context, role, module string, actions []string) error {
	role = strings.TrimSpace(role)
	module = strings.TrimSpace(module)
	if role == "" || module == "" {
		return errors.New("permissions: role and module required")
	}
	if err := s.repo.UpsertGrant(ctx, role, module, actions); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, role)
	}
	return nil
}

// RemoveGrant deletes a (role, module) entry.
func (s *Service) RemoveGrant(ctx context.Context, role, module string) error {
	if err := s.repo.DeleteGrant(ctx, role, module); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, role)
	}
	return nil
}
