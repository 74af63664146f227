package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/meeraPraveen/RMTLogistics-sub000/internal/backlog"
	"github.com/meeraPraveen/RMTLogistics-sub000/internal/idp"
	"github.com/meeraPraveen/RMTLogistics-sub000/internal/shared"
)

// SyncClient is the full provider surface the dispatcher replays against.
type SyncClient interface {
	Provider
	CreateOrganization(ctx context.Context, org idp.NewOrganization) (string, error)
	UpdateOrganization(ctx context.Context, externalID string, patch idp.OrganizationPatch) error
	DeleteOrganization(ctx context.Context, externalID string) error
}

// UserStore reads local identity rows and backfills provider ids onto them.
type UserStore interface {
	Get(ctx context.Context, id int64) (User, error)
	LinkExternalID(ctx context.Context, id int64, externalID string) error
}

// OrgStore reads organization links and backfills them onto company rows.
type OrgStore interface {
	ExternalOrgID(ctx context.Context, companyID int64) (string, bool, error)
	LinkExternalID(ctx context.Context, id int64, externalID string) error
}

// Dispatcher replays backlog payloads against the provider. It implements
// backlog.Dispatcher so the backlog package never has to import identity.
type Dispatcher struct {
	client    SyncClient
	users     UserStore
	companies OrgStore
	resolver  Resolver
}

// NewDispatcher builds the replay dispatcher.
func NewDispatcher(client SyncClient, users UserStore, companies OrgStore, resolver Resolver) *Dispatcher {
	return &Dispatcher{client: client, users: users, companies: companies, resolver: resolver}
}

// CreateProfile replays a profile create and links the returned id to the
// local row. The provider create is idempotent on email, so a replay of an
// already-applied create converges instead of duplicating. Payloads enqueued
// before their bundle could be built carry RefreshBundle and are rebuilt from
// the current local row.
func (d *Dispatcher) CreateProfile(ctx context.Context, p backlog.CreateProfilePayload) error {
	profile := idp.NewProfile{
		Email:   p.Email,
		Name:    p.Name,
		Blocked: p.Blocked,
		Bundle:  p.Bundle,
	}
	if p.RefreshBundle {
		user, err := d.users.Get(ctx, p.LocalID)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				// Row deleted since enqueue; nothing left to mirror.
				return nil
			}
			return err
		}
		bundle, err := buildBundle(ctx, d.resolver, d.companies, user)
		if err != nil {
			return err
		}
		profile.Name = user.Name
		profile.Blocked = !user.IsActive
		profile.Bundle = bundle
	}
	externalID, err := d.client.CreateUser(ctx, profile)
	if err != nil {
		return err
	}
	if err := d.users.LinkExternalID(ctx, p.LocalID, externalID); err != nil {
		if errors.Is(err, shared.ErrExternalIDLinked) {
			// Another path linked the row while this replay was in flight.
			return nil
		}
		return fmt.Errorf("link external id after replay: %w", err)
	}
	return nil
}

// UpdateProfile replays a patch. Membership moves run first so the bundle
// pushed afterwards matches the final membership; moves that already happened
// are tolerated. RefreshBundle payloads rebuild the bundle from the current
// local row and join its organization when the frozen payload named none.
func (d *Dispatcher) UpdateProfile(ctx context.Context, p backlog.UpdateProfilePayload) error {
	patch := idp.ProfilePatch{
		Name:    p.Name,
		Blocked: p.Blocked,
		Bundle:  p.Bundle,
	}
	if p.RefreshBundle {
		user, err := d.users.Get(ctx, p.LocalID)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return nil
			}
			return err
		}
		bundle, err := buildBundle(ctx, d.resolver, d.companies, user)
		if err != nil {
			return err
		}
		blocked := !user.IsActive
		patch.Blocked = &blocked
		patch.Bundle = &bundle
		if bundle.OrganizationID != nil && p.JoinOrgID == nil {
			p.JoinOrgID = bundle.OrganizationID
		}
	}
	if p.LeaveOrgID != nil {
		if err := d.client.RemoveOrganizationMember(ctx, *p.LeaveOrgID, p.ExternalID); err != nil && !idp.IsNotFound(err) {
			return err
		}
	}
	if p.JoinOrgID != nil {
		if err := d.client.AddOrganizationMember(ctx, *p.JoinOrgID, p.ExternalID); err != nil && !idp.IsConflict(err) {
			return err
		}
	}
	return d.client.UpdateUser(ctx, p.ExternalID, patch)
}

// BlockProfile replays the block issued for a deleted identity.
func (d *Dispatcher) BlockProfile(ctx context.Context, p backlog.BlockProfilePayload) error {
	return d.client.BlockUser(ctx, p.ExternalID)
}

// CreateOrg replays an organization create. A company linked since the
// enqueue, by an earlier replay of a sibling operation, gets the payload as a
// patch instead of a second organization.
func (d *Dispatcher) CreateOrg(ctx context.Context, p backlog.CreateOrgPayload) error {
	current, ok, err := d.companies.ExternalOrgID(ctx, p.LocalID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			// Company deleted since enqueue; nothing left to mirror.
			return nil
		}
		return err
	}
	if ok {
		return d.client.UpdateOrganization(ctx, current, idp.OrganizationPatch{
			DisplayName: &p.DisplayName,
			Metadata:    p.Metadata,
		})
	}
	externalID, err := d.client.CreateOrganization(ctx, idp.NewOrganization{
		Name:        p.Name,
		DisplayName: p.DisplayName,
		Metadata:    p.Metadata,
	})
	if err != nil {
		return err
	}
	if err := d.companies.LinkExternalID(ctx, p.LocalID, externalID); err != nil {
		if errors.Is(err, shared.ErrExternalIDLinked) {
			// Lost the link race; drop the organization this replay created so
			// no orphan stays behind at the provider.
			if delErr := d.client.DeleteOrganization(ctx, externalID); delErr != nil && !idp.IsNotFound(delErr) {
				return delErr
			}
			return nil
		}
		return fmt.Errorf("link organization id after replay: %w", err)
	}
	return nil
}

// UpdateOrg replays an organization patch.
func (d *Dispatcher) UpdateOrg(ctx context.Context, p backlog.UpdateOrgPayload) error {
	return d.client.UpdateOrganization(ctx, p.ExternalID, idp.OrganizationPatch{
		DisplayName: p.DisplayName,
		Metadata:    p.Metadata,
	})
}

// DeleteOrg replays an organization delete.
func (d *Dispatcher) DeleteOrg(ctx context.Context, p backlog.DeleteOrgPayload) error {
	return d.client.DeleteOrganization(ctx, p.ExternalID)
}
