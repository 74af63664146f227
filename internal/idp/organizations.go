package idp

import (
	"context"
	"net/http"
	"net/url"
)

// NewOrganization carries the fields for a remote organization create.
type NewOrganization struct {
	Name        string
	DisplayName string
	Metadata    map[string]any
}

// OrganizationPatch is a merge patch for a remote organization.
type OrganizationPatch struct {
	DisplayName *string
	Metadata    map[string]any
}

type apiOrganization struct {
	ID          string         `json:"id,omitempty"`
	Name        string         `json:"name,omitempty"`
	DisplayName string         `json:"display_name,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// CreateOrganization creates a remote organization and returns its external id.
func (c *Client) CreateOrganization(ctx context.Context, org NewOrganization) (string, error) {
	body := apiOrganization{
		Name:        org.Name,
		DisplayName: org.DisplayName,
		Metadata:    org.Metadata,
	}
	var created apiOrganization
	if err := c.do(ctx, http.MethodPost, "/api/v2/organizations", body, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

// UpdateOrganization applies a merge patch to the remote organization.
func (c *Client) UpdateOrganization(ctx context.Context, externalID string, patch OrganizationPatch) error {
	body := apiOrganization{Metadata: patch.Metadata}
	if patch.DisplayName != nil {
		body.DisplayName = *patch.DisplayName
	}
	if body.DisplayName == "" && body.Metadata == nil {
		return nil
	}
	return c.do(ctx, http.MethodPatch, "/api/v2/organizations/"+url.PathEscape(externalID), body, nil)
}

// DeleteOrganization removes the remote organization. Irreversible; invoked
// only when the local organization record is itself deleted.
func (c *Client) DeleteOrganization(ctx context.Context, externalID string) error {
	return c.do(ctx, http.MethodDelete, "/api/v2/organizations/"+url.PathEscape(externalID), nil, nil)
}
