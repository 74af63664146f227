package permissions

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/meeraPraveen/RMTLogistics-sub000/internal/shared"
)

type memoryCatalog struct {
	grants map[string]map[string][]string

	roleReads int
}

func newMemoryCatalog() *memoryCatalog {
	return &memoryCatalog{grants: make(map[string]map[string][]string)}
}

func (c *memoryCatalog) GrantsForRole(ctx context.Context, role string) ([]ModuleGrant, error) {
	c.roleReads++
	var out []ModuleGrant
	for module, actions := range c.grants[role] {
		out = append(out, ModuleGrant{Role: role, Module: module, Actions: actions})
	}
	return out, nil
}

func (c *memoryCatalog) ListGrants(ctx context.Context) ([]ModuleGrant, error) {
	var out []ModuleGrant
	for role, modules := range c.grants {
		for module, actions := range modules {
			out = append(out, ModuleGrant{Role: role, Module: module, Actions: actions})
		}
	}
	return out, nil
}

func (c *memoryCatalog) UpsertGrant(ctx context.Context, role, module string, actions []string) error {
	if c.grants[role] == nil {
		c.grants[role] = make(map[string][]string)
	}
	c.grants[role][module] = actions
	return nil
}

func (c *memoryCatalog) DeleteGrant(ctx context.Context, role, module string) error {
	modules, ok := c.grants[role]
	if !ok {
		return shared.ErrNotFound
	}
	if _, ok := modules[module]; !ok {
		return shared.ErrNotFound
	}
	delete(modules, module)
	return nil
}

func TestResolveEmptyRole(t *testing.T) {
	svc := NewService(newMemoryCatalog(), nil)
	resolved, err := svc.Resolve(context.Background(), "  ")
	require.NoError(t, err)
	require.Empty(t, resolved)
	require.NotNil(t, resolved)
}

func TestResolveUnknownRole(t *testing.T) {
	svc := NewService(newMemoryCatalog(), nil)
	resolved, err := svc.Resolve(context.Background(), "Ghost")
	require.NoError(t, err)
	require.Empty(t, resolved)
}

func TestResolveSkipsEmptyActionLists(t *testing.T) {
	catalog := newMemoryCatalog()
	require.NoError(t, catalog.UpsertGrant(context.Background(), "Dispatcher", "dispatch", []string{"read", "write"}))
	require.NoError(t, catalog.UpsertGrant(context.Background(), "Dispatcher", "billing", nil))

	svc := NewService(catalog, nil)
	resolved, err := svc.Resolve(context.Background(), "Dispatcher")
	require.NoError(t, err)
	require.Equal(t, map[string][]string{"dispatch": {"read", "write"}}, resolved)
}

func TestAccessChecks(t *testing.T) {
	catalog := newMemoryCatalog()
	require.NoError(t, catalog.UpsertGrant(context.Background(), "Billing Clerk", "billing", []string{"read", "update"}))

	svc := NewService(catalog, nil)

	ok, err := svc.CanAccessModule(context.Background(), "Billing Clerk", "billing")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.CanAccessModule(context.Background(), "Billing Clerk", "dispatch")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = svc.HasAction(context.Background(), "Billing Clerk", "billing", "update")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.HasAction(context.Background(), "Billing Clerk", "billing", "delete")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSetGrantRequiresRoleAndModule(t *testing.T) {
	svc := NewService(newMemoryCatalog(), nil)
	require.Error(t, svc.SetGrant(context.Background(), "", "billing", []string{"read"}))
	require.Error(t, svc.SetGrant(context.Background(), "Admin", " ", []string{"read"}))
}

func newRedisCacheForTest(t *testing.T) *RedisCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache(client, 0)
}

func TestResolveUsesCache(t *testing.T) {
	catalog := newMemoryCatalog()
	require.NoError(t, catalog.UpsertGrant(context.Background(), "Admin", "order_management", []string{"read", "write", "update", "delete"}))

	svc := NewService(catalog, newRedisCacheForTest(t))

	first, err := svc.Resolve(context.Background(), "Admin")
	require.NoError(t, err)
	second, err := svc.Resolve(context.Background(), "Admin")
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, catalog.roleReads)
}

func TestSetGrantInvalidatesCache(t *testing.T) {
	catalog := newMemoryCatalog()
	require.NoError(t, catalog.UpsertGrant(context.Background(), "Admin", "order_management", []string{"read"}))

	svc := NewService(catalog, newRedisCacheForTest(t))

	resolved, err := svc.Resolve(context.Background(), "Admin")
	require.NoError(t, err)
	require.Equal(t, []string{"read"}, resolved["order_management"])

	require.NoError(t, svc.SetGrant(context.Background(), "Admin", "order_management", []string{"read", "write"}))

	resolved, err = svc.Resolve(context.Background(), "Admin")
	require.NoError(t, err)
	require.Equal(t, []string{"read", "write"}, resolved["order_management"])
}
