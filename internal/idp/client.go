// Package idp wraps the external identity provider's management API. The
// client owns no state beyond the credential configuration; every call group
// exchanges a fresh management token.
package idp

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// PermissionMap is the denormalized module to action-list mapping pushed into
// profile metadata.
type PermissionMap map[string][]string

// MetadataBundle is the denormalized authorization snapshot embedded into the
// remote profile so tokens can carry it without a database lookup.
type MetadataBundle struct {
	Role           *string       `json:"role"`
	Permissions    PermissionMap `json:"permissions"`
	OrganizationID *string       `json:"organization_id,omitempty"`
	SyncedAt       time.Time     `json:"synced_at"`
}

// Profile is the remote view of an identity.
type Profile struct {
	ID        string
	Email     string
	Name      string
	Blocked   bool
	Federated bool
	Metadata  *MetadataBundle
}

// NewProfile carries everything needed to create a remote profile.
type NewProfile struct {
	Email   string
	Name    string
	Blocked bool
	Bundle  MetadataBundle
}

// ProfilePatch is a merge patch; only set fields are written.
type ProfilePatch struct {
	Name    *string
	Blocked *bool
	Bundle  *MetadataBundle
}

// Config holds provider credentials and tuning.
type Config struct {
	Domain       string
	ClientID     string
	ClientSecret string
	Audience     string
	Connection   string
	Timeout      time.Duration
}

// Client issues authenticated calls against the provider's management surface.
type Client struct {
	domain     string
	connection string
	tokens     TokenSource
	httpClient *http.Client
	logger     *slog.Logger

	// baseURL overrides the https://<domain> prefix when set. Test hook.
	baseURL string
}

// NewClient constructs a management client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		domain:     cfg.Domain,
		connection: cfg.Connection,
		tokens:     newTokenSource(cfg),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// apiUser mirrors the provider's user resource on the wire.
type apiUser struct {
	UserID        string          `json:"user_id,omitempty"`
	Email         string          `json:"email,omitempty"`
	Name          string          `json:"name,omitempty"`
	Connection    string          `json:"connection,omitempty"`
	Password      string          `json:"password,omitempty"`
	EmailVerified *bool           `json:"email_verified,omitempty"`
	Blocked       *bool           `json:"blocked,omitempty"`
	AppMetadata   *MetadataBundle `json:"app_metadata,omitempty"`
	Identities    []apiIdentity   `json:"identities,omitempty"`
}

type apiIdentity struct {
	Provider string `json:"provider"`
	IsSocial bool   `json:"isSocial"`
}

// CreateUser creates a remote profile and returns its external id. The remote
// system treats email collisions as errors, so the call pre-checks by email
// and routes collisions to the sync-update path: the existing profile is
// unblocked if required and its denormalized bundle overwritten. Re-running
// the call converges to the same remote state.
func (c *Client) CreateUser(ctx context.Context, p NewProfile) (string, error) {
	existing, err := c.GetUserByEmail(ctx, p.Email)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return existing.ID, c.syncExisting(ctx, existing, p)
	}

	verified := true
	body := apiUser{
		Email:         p.Email,
		Name:          p.Name,
		Connection:    c.connection,
		Password:      tempPassword(),
		EmailVerified: &verified,
		AppMetadata:   &p.Bundle,
	}
	if p.Blocked {
		blocked := true
		body.Blocked = &blocked
	}
	var created apiUser
	if err := c.do(ctx, http.MethodPost, "/api/v2/users", body, &created); err != nil {
		if IsConflict(err) {
			// Lost a provisioning race; fall back to the update path.
			existing, lookupErr := c.GetUserByEmail(ctx, p.Email)
			if lookupErr != nil {
				return "", lookupErr
			}
			if existing == nil {
				return "", err
			}
			return existing.ID, c.syncExisting(ctx, existing, p)
		}
		return "", err
	}
	return created.UserID, nil
}

// syncExisting overwrites the remote profile's authorization state from local
// intent, unblocking it first when needed.
func (c *Client) syncExisting(ctx context.Context, existing *Profile, p NewProfile) error {
	patch := ProfilePatch{Bundle: &p.Bundle}
	if existing.Blocked != p.Blocked {
		blocked := p.Blocked
		patch.Blocked = &blocked
	}
	if p.Name != "" && p.Name != existing.Name {
		name := p.Name
		patch.Name = &name
	}
	return c.UpdateUser(ctx, existing.ID, patch)
}

// GetUserByEmail looks up a profile by email. Returns nil without error when
// no profile matches.
func (c *Client) GetUserByEmail(ctx context.Context, email string) (*Profile, error) {
	path := "/api/v2/users-by-email?email=" + url.QueryEscape(strings.ToLower(email))
	var matches []apiUser
	if err := c.do(ctx, http.MethodGet, path, nil, &matches); err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	p := toProfile(matches[0])
	return &p, nil
}

// UpdateUser applies a merge patch to the remote profile. The bundle is
// written as one denormalized attribute. Name patches are dropped for
// federated profiles, whose names are owned by the upstream social provider.
func (c *Client) UpdateUser(ctx context.Context, externalID string, patch ProfilePatch) error {
	body := apiUser{
		Blocked:     patch.Blocked,
		AppMetadata: patch.Bundle,
	}
	if patch.Name != nil {
		current, err := c.getUser(ctx, externalID)
		if err != nil {
			return err
		}
		if current.Federated {
			c.logger.Debug("skipping name update for federated profile",
				slog.String("external_id", externalID))
		} else {
			body.Name = *patch.Name
		}
	}
	if body.Name == "" && body.Blocked == nil && body.AppMetadata == nil {
		return nil
	}
	return c.do(ctx, http.MethodPatch, "/api/v2/users/"+url.PathEscape(externalID), body, nil)
}

// BlockUser disables remote login for the profile. Used for both suspend and
// delete intents; identity profiles are never hard-deleted remotely so the
// audit trail survives.
func (c *Client) BlockUser(ctx context.Context, externalID string) error {
	blocked := true
	return c.UpdateUser(ctx, externalID, ProfilePatch{Blocked: &blocked})
}

// UnblockUser re-enables remote login.
func (c *Client) UnblockUser(ctx context.Context, externalID string) error {
	blocked := false
	return c.UpdateUser(ctx, externalID, ProfilePatch{Blocked: &blocked})
}

func (c *Client) getUser(ctx context.Context, externalID string) (*Profile, error) {
	var u apiUser
	if err := c.do(ctx, http.MethodGet, "/api/v2/users/"+url.PathEscape(externalID), nil, &u); err != nil {
		return nil, err
	}
	p := toProfile(u)
	return &p, nil
}

func toProfile(u apiUser) Profile {
	p := Profile{
		ID:       u.UserID,
		Email:    u.Email,
		Name:     u.Name,
		Metadata: u.AppMetadata,
	}
	if u.Blocked != nil {
		p.Blocked = *u.Blocked
	}
	for _, ident := range u.Identities {
		if ident.IsSocial {
			p.Federated = true
		}
	}
	return p
}

// do issues one authenticated management call. Every call exchanges a fresh
// token and carries the client-level timeout.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("idp: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	base := c.baseURL
	if base == "" {
		base = "https://" + c.domain
	}
	req, err := http.NewRequestWithContext(ctx, method, base+path, reader)
	if err != nil {
		return fmt.Errorf("idp: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("idp: %s %s: %w", method, path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 400 {
		return &CallError{
			Kind:   classify(resp.StatusCode),
			Status: resp.StatusCode,
			Detail: readDetail(resp.Body),
		}
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("idp: decode response: %w", err)
		}
	}
	return nil
}

func readDetail(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 2048))
	if err != nil || len(data) == 0 {
		return "no detail"
	}
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Message != "" {
		return payload.Message
	}
	return string(data)
}

// tempPassword satisfies the provider's password policy for newly created
// database-connection profiles; users never see it, login happens upstream.
func tempPassword() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return "Tmp!" + hex.EncodeToString(buf)
}
