package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meeraPraveen/RMTLogistics-sub000/internal/backlog"
	"github.com/meeraPraveen/RMTLogistics-sub000/internal/idp"
	"github.com/meeraPraveen/RMTLogistics-sub000/internal/shared"
)

type fakeSyncClient struct {
	fakeProvider

	orgCreateErr error
	orgCreated   []idp.NewOrganization
	orgUpdated   []string
	orgDeleted   []string
	callOrder    []string

	removeErr error
	addErr    error
}

func (c *fakeSyncClient) CreateUser(ctx context.Context, p idp.NewProfile) (string, error) {
	c.callOrder = append(c.callOrder, "create_user")
	return c.fakeProvider.CreateUser(ctx, p)
}

func (c *fakeSyncClient) UpdateUser(ctx context.Context, externalID string, patch idp.ProfilePatch) error {
	c.callOrder = append(c.callOrder, "update_user")
	return c.fakeProvider.UpdateUser(ctx, externalID, patch)
}

func (c *fakeSyncClient) AddOrganizationMember(ctx context.Context, orgID, profileID string) error {
	c.callOrder = append(c.callOrder, "add_member")
	if c.addErr != nil {
		return c.addErr
	}
	return c.fakeProvider.AddOrganizationMember(ctx, orgID, profileID)
}

func (c *fakeSyncClient) RemoveOrganizationMember(ctx context.Context, orgID, profileID string) error {
	c.callOrder = append(c.callOrder, "remove_member")
	if c.removeErr != nil {
		return c.removeErr
	}
	return c.fakeProvider.RemoveOrganizationMember(ctx, orgID, profileID)
}

func (c *fakeSyncClient) CreateOrganization(ctx context.Context, org idp.NewOrganization) (string, error) {
	c.orgCreated = append(c.orgCreated, org)
	if c.orgCreateErr != nil {
		return "", c.orgCreateErr
	}
	return "org_replayed", nil
}

func (c *fakeSyncClient) UpdateOrganization(ctx context.Context, externalID string, patch idp.OrganizationPatch) error {
	c.orgUpdated = append(c.orgUpdated, externalID)
	return nil
}

func (c *fakeSyncClient) DeleteOrganization(ctx context.Context, externalID string) error {
	c.orgDeleted = append(c.orgDeleted, externalID)
	return nil
}

type fakeUserStore struct {
	users   map[int64]User
	linked  map[int64]string
	linkErr error
}

func (s *fakeUserStore) Get(ctx context.Context, id int64) (User, error) {
	u, ok := s.users[id]
	if !ok {
		return User{}, shared.ErrNotFound
	}
	return u, nil
}

func (s *fakeUserStore) LinkExternalID(ctx context.Context, id int64, externalID string) error {
	if s.linkErr != nil {
		return s.linkErr
	}
	if s.linked == nil {
		s.linked = make(map[int64]string)
	}
	s.linked[id] = externalID
	return nil
}

// fakeOrgStore distinguishes linked companies, known but unlinked ones, and
// deleted rows the way the repository does.
type fakeOrgStore struct {
	orgs    map[int64]string
	known   map[int64]bool
	linked  map[int64]string
	linkErr error
}

func (s *fakeOrgStore) ExternalOrgID(ctx context.Context, companyID int64) (string, bool, error) {
	if org, ok := s.orgs[companyID]; ok {
		return org, true, nil
	}
	if s.known[companyID] {
		return "", false, nil
	}
	return "", false, shared.ErrNotFound
}

func (s *fakeOrgStore) LinkExternalID(ctx context.Context, id int64, externalID string) error {
	if s.linkErr != nil {
		return s.linkErr
	}
	if s.linked == nil {
		s.linked = make(map[int64]string)
	}
	s.linked[id] = externalID
	return nil
}

func newTestDispatcher(client *fakeSyncClient, users *fakeUserStore, orgs *fakeOrgStore) *Dispatcher {
	resolver := &fakeResolver{grants: map[string]map[string][]string{
		"Lead Artist": {"order_management": {"read", "write"}},
	}}
	return NewDispatcher(client, users, orgs, resolver)
}

func TestDispatcherCreateProfileBackfillsLink(t *testing.T) {
	client := &fakeSyncClient{}
	users := &fakeUserStore{}
	d := newTestDispatcher(client, users, &fakeOrgStore{})

	err := d.CreateProfile(context.Background(), backlog.CreateProfilePayload{
		LocalID: 42,
		Email:   "replay@example.com",
	})
	require.NoError(t, err)
	require.Equal(t, "auth0|new", users.linked[42])
}

func TestDispatcherCreateProfileRebuildsBundle(t *testing.T) {
	client := &fakeSyncClient{}
	role := "Lead Artist"
	companyID := int64(7)
	users := &fakeUserStore{users: map[int64]User{
		42: {ID: 42, Email: "replay@example.com", Name: "Replayed", Role: &role, IsActive: true, CompanyID: &companyID},
	}}
	orgs := &fakeOrgStore{orgs: map[int64]string{7: "org_7"}}
	d := newTestDispatcher(client, users, orgs)

	err := d.CreateProfile(context.Background(), backlog.CreateProfilePayload{
		LocalID:       42,
		Email:         "replay@example.com",
		RefreshBundle: true,
	})
	require.NoError(t, err)
	require.Equal(t, "auth0|new", users.linked[42])

	// The pushed profile reflects the row as it stands now, not as it stood
	// when the operation was enqueued.
	require.Equal(t, "Replayed", client.lastCreate.Name)
	require.Equal(t, &role, client.lastCreate.Bundle.Role)
	require.Equal(t, []string{"read", "write"}, client.lastCreate.Bundle.Permissions["order_management"])
	require.Equal(t, "org_7", *client.lastCreate.Bundle.OrganizationID)
}

func TestDispatcherCreateProfileConvergesOnDeletedRow(t *testing.T) {
	client := &fakeSyncClient{}
	d := newTestDispatcher(client, &fakeUserStore{}, &fakeOrgStore{})

	err := d.CreateProfile(context.Background(), backlog.CreateProfilePayload{
		LocalID:       99,
		RefreshBundle: true,
	})
	require.NoError(t, err)
	require.Zero(t, client.createCalls)
}

func TestDispatcherCreateProfileConvergesWhenRowLinkedMeanwhile(t *testing.T) {
	client := &fakeSyncClient{}
	users := &fakeUserStore{linkErr: shared.ErrExternalIDLinked}
	d := newTestDispatcher(client, users, &fakeOrgStore{})

	err := d.CreateProfile(context.Background(), backlog.CreateProfilePayload{
		LocalID: 42,
		Email:   "replay@example.com",
	})
	require.NoError(t, err)
}

func TestDispatcherUpdateProfileMembershipOrder(t *testing.T) {
	client := &fakeSyncClient{}
	d := newTestDispatcher(client, &fakeUserStore{}, &fakeOrgStore{})

	leave := "org_old"
	join := "org_new"
	blocked := false
	err := d.UpdateProfile(context.Background(), backlog.UpdateProfilePayload{
		ExternalID: "auth0|u",
		Blocked:    &blocked,
		LeaveOrgID: &leave,
		JoinOrgID:  &join,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"remove_member", "add_member", "update_user"}, client.callOrder)
}

func TestDispatcherUpdateProfileToleratesSettledMoves(t *testing.T) {
	// The member already left and already joined before the replay; both
	// outcomes are treated as settled and the patch still runs.
	client := &fakeSyncClient{
		removeErr: &idp.CallError{Kind: idp.KindNotFound, Status: 404},
		addErr:    &idp.CallError{Kind: idp.KindConflict, Status: 409},
	}
	d := newTestDispatcher(client, &fakeUserStore{}, &fakeOrgStore{})

	leave := "org_old"
	join := "org_new"
	blocked := true
	err := d.UpdateProfile(context.Background(), backlog.UpdateProfilePayload{
		ExternalID: "auth0|u",
		Blocked:    &blocked,
		LeaveOrgID: &leave,
		JoinOrgID:  &join,
	})
	require.NoError(t, err)
	require.Contains(t, client.callOrder, "update_user")
}

func TestDispatcherUpdateProfileRebuildsBundleAndJoins(t *testing.T) {
	client := &fakeSyncClient{}
	companyID := int64(7)
	users := &fakeUserStore{users: map[int64]User{
		42: {ID: 42, Email: "replay@example.com", Name: "Replayed", IsActive: true, CompanyID: &companyID},
	}}
	orgs := &fakeOrgStore{orgs: map[int64]string{7: "org_7"}}
	d := newTestDispatcher(client, users, orgs)

	err := d.UpdateProfile(context.Background(), backlog.UpdateProfilePayload{
		ExternalID:    "auth0|u",
		LocalID:       42,
		RefreshBundle: true,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"add_member", "update_user"}, client.callOrder)
	require.Equal(t, "org_7", *client.lastPatch.Bundle.OrganizationID)
	require.NotNil(t, client.lastPatch.Blocked)
	require.False(t, *client.lastPatch.Blocked)
}

func TestDispatcherCreateOrgBackfillsLink(t *testing.T) {
	client := &fakeSyncClient{}
	companies := &fakeOrgStore{known: map[int64]bool{7: true}}
	d := newTestDispatcher(client, &fakeUserStore{}, companies)

	err := d.CreateOrg(context.Background(), backlog.CreateOrgPayload{
		LocalID:     7,
		Name:        "acme-7",
		DisplayName: "Acme",
	})
	require.NoError(t, err)
	require.Equal(t, "org_replayed", companies.linked[7])
}

func TestDispatcherCreateOrgPatchesWhenAlreadyLinked(t *testing.T) {
	client := &fakeSyncClient{}
	companies := &fakeOrgStore{orgs: map[int64]string{7: "org_existing"}}
	d := newTestDispatcher(client, &fakeUserStore{}, companies)

	err := d.CreateOrg(context.Background(), backlog.CreateOrgPayload{
		LocalID:     7,
		Name:        "acme-7",
		DisplayName: "Acme Renamed",
	})
	require.NoError(t, err)
	require.Empty(t, client.orgCreated)
	require.Equal(t, []string{"org_existing"}, client.orgUpdated)
}

func TestDispatcherCreateOrgDropsOrphanOnLinkRace(t *testing.T) {
	client := &fakeSyncClient{}
	companies := &fakeOrgStore{known: map[int64]bool{7: true}, linkErr: shared.ErrExternalIDLinked}
	d := newTestDispatcher(client, &fakeUserStore{}, companies)

	err := d.CreateOrg(context.Background(), backlog.CreateOrgPayload{
		LocalID:     7,
		Name:        "acme-7",
		DisplayName: "Acme",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"org_replayed"}, client.orgDeleted)
}

func TestDispatcherCreateOrgConvergesOnDeletedCompany(t *testing.T) {
	client := &fakeSyncClient{}
	d := newTestDispatcher(client, &fakeUserStore{}, &fakeOrgStore{})

	err := d.CreateOrg(context.Background(), backlog.CreateOrgPayload{LocalID: 7, Name: "acme-7"})
	require.NoError(t, err)
	require.Empty(t, client.orgCreated)
}

func TestDispatcherDeleteOrg(t *testing.T) {
	client := &fakeSyncClient{}
	d := newTestDispatcher(client, &fakeUserStore{}, &fakeOrgStore{})

	err := d.DeleteOrg(context.Background(), backlog.DeleteOrgPayload{ExternalID: "org_gone"})
	require.NoError(t, err)
	require.Equal(t, []string{"org_gone"}, client.orgDeleted)
}
