package company

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/meeraPraveen/RMTLogistics-sub000/internal/backlog"
	"github.com/meeraPraveen/RMTLogistics-sub000/internal/idp"
	"github.com/meeraPraveen/RMTLogistics-sub000/internal/shared"
)

// RepositoryPort is the persistence surface the service needs.
type RepositoryPort interface {
	Get(ctx context.Context, id int64) (Company, error)
	List(ctx context.Context) ([]Company, error)
	Create(ctx context.Context, name string, modules []string) (Company, error)
	Update(ctx context.Context, id int64, name string, modules []string) error
	SetActive(ctx context.Context, id int64, active bool) error
	Delete(ctx context.Context, id int64) error
	LinkExternalID(ctx context.Context, id int64, externalID string) error
}

// OrgProvider is the remote organization surface.
type OrgProvider interface {
	CreateOrganization(ctx context.Context, org idp.NewOrganization) (string, error)
	UpdateOrganization(ctx context.Context, externalID string, patch idp.OrganizationPatch) error
	DeleteOrganization(ctx context.Context, externalID string) error
}

// Backlog accepts operations that could not converge inline.
type Backlog interface {
	Enqueue(ctx context.Context, externalID, email string, payload backlog.Payload, cause error) (backlog.Operation, error)
}

// Auditor records administrative actions.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service mirrors companies to provider organizations with the same local
// first, remote best-effort contract the identity service follows.
type Service struct {
	repo     RepositoryPort
	provider OrgProvider
	backlog  Backlog
	audit    Auditor
	logger   *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, provider OrgProvider, bl Backlog, audit Auditor, logger *slog.Logger) *Service {
	return &Service{repo: repo, provider: provider, backlog: bl, audit: audit, logger: logger}
}

// Get returns one company.
func (s *Service) Get(ctx context.Context, id int64) (Company, error) {
	return s.repo.Get(ctx, id)
}

// List returns all companies.
func (s *Service) List(ctx context.Context) ([]Company, error) {
	return s.repo.List(ctx)
}

// Create inserts the company and creates the matching provider organization.
// A failed remote create leaves the row unlinked and lands on the backlog.
func (s *Service) Create(ctx context.Context, actorID int64, name string, modules []string) (Company, error) {
	company, err := s.repo.Create(ctx, name, modules)
	if err != nil {
		return Company{}, err
	}
	s.recordAudit(ctx, actorID, shared.AuditCompanyCreated, company.ID, map[string]any{"name": name})

	org := idp.NewOrganization{
		Name:        orgSlug(name, company.ID),
		DisplayName: name,
		Metadata:    orgMetadata(company),
	}
	externalID, pushErr := s.provider.CreateOrganization(ctx, org)
	if pushErr != nil {
		if idp.IsValidation(pushErr) {
			return company, fmt.Errorf("%w: %v", shared.ErrValidation, pushErr)
		}
		_, err := s.backlog.Enqueue(ctx, "", "", backlog.Payload{
			CreateOrg: &backlog.CreateOrgPayload{
				LocalID:     company.ID,
				Name:        org.Name,
				DisplayName: org.DisplayName,
				Metadata:    org.Metadata,
			},
		}, pushErr)
		return company, err
	}
	if err := s.repo.LinkExternalID(ctx, company.ID, externalID); err != nil {
		return company, fmt.Errorf("link organization id: %w", err)
	}
	company.ExternalID = shared.LinkExternalID(externalID)
	return company, nil
}

// Update rewrites the company and patches the remote organization.
func (s *Service) Update(ctx context.Context, actorID, id int64, name string, modules []string) (Company, error) {
	if err := s.repo.Update(ctx, id, name, modules); err != nil {
		return Company{}, err
	}
	company, err := s.repo.Get(ctx, id)
	if err != nil {
		return Company{}, err
	}
	s.recordAudit(ctx, actorID, shared.AuditCompanyUpdated, id, map[string]any{"name": name})

	if !company.ExternalID.Linked() {
		// No organization to patch yet; enqueue another create carrying the
		// refreshed state. Replays run oldest first, and a create replay for a
		// company linked in the meantime applies as a patch, so the newest
		// payload wins.
		return company, s.enqueueCreate(ctx, company)
	}
	patch := idp.OrganizationPatch{DisplayName: &name, Metadata: orgMetadata(company)}
	pushErr := s.provider.UpdateOrganization(ctx, company.ExternalID.String(), patch)
	if pushErr == nil {
		return company, nil
	}
	if idp.IsNotFound(pushErr) {
		s.logger.Warn("remote organization missing, treating patch as converged",
			"company_id", id, "external_id", company.ExternalID.String())
		return company, nil
	}
	if idp.IsValidation(pushErr) {
		return company, fmt.Errorf("%w: %v", shared.ErrValidation, pushErr)
	}
	_, err = s.backlog.Enqueue(ctx, company.ExternalID.String(), "", backlog.Payload{
		UpdateOrg: &backlog.UpdateOrgPayload{
			ExternalID:  company.ExternalID.String(),
			DisplayName: &name,
			Metadata:    patch.Metadata,
		},
	}, pushErr)
	return company, err
}

// SetActive flips the tenant's active flag locally only; member access is
// enforced through each identity's own state.
func (s *Service) SetActive(ctx context.Context, actorID, id int64, active bool) (Company, error) {
	if err := s.repo.SetActive(ctx, id, active); err != nil {
		return Company{}, err
	}
	s.recordAudit(ctx, actorID, shared.AuditCompanyUpdated, id, map[string]any{"is_active": active})
	return s.repo.Get(ctx, id)
}

// Delete removes the company and the remote organization.
func (s *Service) Delete(ctx context.Context, actorID, id int64) error {
	company, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, shared.AuditCompanyDeleted, id, map[string]any{"name": company.Name})

	if !company.ExternalID.Linked() {
		return nil
	}
	pushErr := s.provider.DeleteOrganization(ctx, company.ExternalID.String())
	if pushErr == nil || idp.IsNotFound(pushErr) {
		return nil
	}
	_, err = s.backlog.Enqueue(ctx, company.ExternalID.String(), "", backlog.Payload{
		DeleteOrg: &backlog.DeleteOrgPayload{ExternalID: company.ExternalID.String()},
	}, pushErr)
	return err
}

func (s *Service) enqueueCreate(ctx context.Context, company Company) error {
	_, err := s.backlog.Enqueue(ctx, "", "", backlog.Payload{
		CreateOrg: &backlog.CreateOrgPayload{
			LocalID:     company.ID,
			Name:        orgSlug(company.Name, company.ID),
			DisplayName: company.Name,
			Metadata:    orgMetadata(company),
		},
	}, errNotLinked)
	return err
}

var errNotLinked = fmt.Errorf("company has no remote organization yet")

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "company",
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
		At:       time.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn("audit record failed", "action", action, "error", err)
	}
}

func orgMetadata(company Company) map[string]any {
	return map[string]any{
		"company_id":      strconv.FormatInt(company.ID, 10),
		"enabled_modules": strings.Join(company.EnabledModules, ","),
	}
}

// orgSlug derives the provider organization name, which must be a lowercase
// slug unique per tenant. The id suffix keeps renamed tenants collision free.
func orgSlug(name string, id int64) string {
	var b strings.Builder
	prevDash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevDash = false
		default:
			if !prevDash && b.Len() > 0 {
				b.WriteRune('-')
				prevDash = true
			}
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		slug = "company"
	}
	return fmt.Sprintf("%s-%d", slug, id)
}
