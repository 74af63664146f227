package idp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// Membership calls go straight at the provider's REST endpoint rather than
// any higher-level binding; the SDK surface for organization members has
// proven unreliable. Each call exchanges its own short-lived token so a
// stale credential can never straddle the add/remove pair.

type membershipBody struct {
	Members []string `json:"members"`
}

// AddOrganizationMember adds a profile to a remote organization.
func (c *Client) AddOrganizationMember(ctx context.Context, orgExternalID, profileExternalID string) error {
	return c.memberCall(ctx, http.MethodPost, orgExternalID, profileExternalID)
}

// RemoveOrganizationMember removes a profile from a remote organization.
func (c *Client) RemoveOrganizationMember(ctx context.Context, orgExternalID, profileExternalID string) error {
	return c.memberCall(ctx, http.MethodDelete, orgExternalID, profileExternalID)
}

func (c *Client) memberCall(ctx context.Context, method, orgExternalID, profileExternalID string) error {
	path := fmt.Sprintf("/api/v2/organizations/%s/members", url.PathEscape(orgExternalID))
	if err := c.do(ctx, method, path, membershipBody{Members: []string{profileExternalID}}, nil); err != nil {
		return fmt.Errorf("idp: membership %s org=%s: %w", method, orgExternalID, err)
	}
	return nil
}
