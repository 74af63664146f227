package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/meeraPraveen/RMTLogistics-sub000/internal/backlog"
	"github.com/meeraPraveen/RMTLogistics-sub000/internal/idp"
	"github.com/meeraPraveen/RMTLogistics-sub000/internal/shared"
)

// RepositoryPort is the persistence surface the service needs.
type RepositoryPort interface {
	Get(ctx context.Context, id int64) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	List(ctx context.Context) ([]User, error)
	Create(ctx context.Context, email, name string, role *string, companyID *int64) (User, error)
	CreateLinked(ctx context.Context, externalID, email, name string) (User, error)
	UpdateName(ctx context.Context, id int64, name string) error
	UpdateRole(ctx context.Context, id int64, role *string) error
	SetActive(ctx context.Context, id int64, active bool) error
	SetCompany(ctx context.Context, id int64, companyID *int64) (*int64, error)
	Delete(ctx context.Context, id int64) error
	LinkExternalID(ctx context.Context, id int64, externalID string) error
	RelinkExternalID(ctx context.Context, id int64, externalID string) error
	TouchLogin(ctx context.Context, id int64) error
}

// Provider is the remote identity surface. Calls happen only after the local
// write has committed; a provider failure never rolls the local state back.
type Provider interface {
	CreateUser(ctx context.Context, p idp.NewProfile) (string, error)
	UpdateUser(ctx context.Context, externalID string, patch idp.ProfilePatch) error
	BlockUser(ctx context.Context, externalID string) error
	UnblockUser(ctx context.Context, externalID string) error
	AddOrganizationMember(ctx context.Context, orgExternalID, profileExternalID string) error
	RemoveOrganizationMember(ctx context.Context, orgExternalID, profileExternalID string) error
}

// Resolver expands a role into the module/action map pushed inside the
// metadata bundle.
type Resolver interface {
	Resolve(ctx context.Context, role string) (map[string][]string, error)
}

// Backlog accepts operations that could not converge inline.
type Backlog interface {
	Enqueue(ctx context.Context, externalID, email string, payload backlog.Payload, cause error) (backlog.Operation, error)
}

// CompanyDirectory resolves a local company to its provider-side organization
// id. ok is false while the organization has not synced yet.
type CompanyDirectory interface {
	ExternalOrgID(ctx context.Context, companyID int64) (string, bool, error)
}

// Auditor records administrative actions.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Metrics counts sync attempts by operation and outcome.
type Metrics interface {
	RecordSyncAttempt(operation, outcome string)
}

// Service orchestrates every identity mutation: local commit first, then a
// best-effort provider push with a small inline retry budget, and a backlog
// entry when the push cannot converge.
type Service struct {
	repo           RepositoryPort
	provider       Provider
	resolver       Resolver
	backlog        Backlog
	companies      CompanyDirectory
	audit          Auditor
	metrics        Metrics
	logger         *slog.Logger
	inlineAttempts int
	retryBackoff   time.Duration
}

// NewService wires the orchestrator. inlineAttempts is the total number of
// provider tries per mutation before the operation is backlogged; values
// below 1 are clamped to 1.
func NewService(repo RepositoryPort, provider Provider, resolver Resolver, bl Backlog,
	companies CompanyDirectory, audit Auditor, metrics Metrics, logger *slog.Logger, inlineAttempts int) *Service {
	if inlineAttempts < 1 {
		inlineAttempts = 1
	}
	return &Service{
		repo:           repo,
		provider:       provider,
		resolver:       resolver,
		backlog:        bl,
		companies:      companies,
		audit:          audit,
		metrics:        metrics,
		logger:         logger,
		inlineAttempts: inlineAttempts,
		retryBackoff:   200 * time.Millisecond,
	}
}

// Get returns one user.
func (s *Service) Get(ctx context.Context, id int64) (User, error) {
	return s.repo.Get(ctx, id)
}

// List returns all users.
func (s *Service) List(ctx context.Context) ([]User, error) {
	return s.repo.List(ctx)
}

// Create inserts the identity locally and pushes the profile to the provider.
// The local row is the source of truth: if the push fails transiently the row
// stays unlinked and a create lands on the backlog; validation rejections
// surface to the caller with the local row intact.
func (s *Service) Create(ctx context.Context, actorID int64, email, name string, role *string, companyID *int64) (User, error) {
	user, err := s.repo.Create(ctx, email, name, role, companyID)
	if err != nil {
		return User{}, err
	}
	s.recordAudit(ctx, actorID, shared.AuditIdentityCreated, user.ID, map[string]any{"email": user.Email})

	bundle, err := s.bundle(ctx, user)
	if err != nil {
		return user, s.settleBundleFailure(ctx, user, err)
	}
	profile := idp.NewProfile{Email: user.Email, Name: user.Name, Bundle: bundle}

	var externalID string
	pushErr := s.pushWithRetry(ctx, "create", func(ctx context.Context) error {
		id, err := s.provider.CreateUser(ctx, profile)
		if err != nil {
			return err
		}
		externalID = id
		return nil
	})
	if pushErr != nil {
		return user, s.settle(ctx, user.ExternalID.String(), user.Email, backlog.Payload{
			CreateProfile: &backlog.CreateProfilePayload{
				LocalID: user.ID,
				Email:   user.Email,
				Name:    user.Name,
				Bundle:  bundle,
			},
		}, pushErr)
	}
	if err := s.repo.LinkExternalID(ctx, user.ID, externalID); err != nil {
		return user, fmt.Errorf("link external id: %w", err)
	}
	user.ExternalID = shared.LinkExternalID(externalID)
	return user, nil
}

// Update changes the display name locally and patches the remote profile.
func (s *Service) Update(ctx context.Context, id int64, name string) (User, error) {
	if err := s.repo.UpdateName(ctx, id, name); err != nil {
		return User{}, err
	}
	user, err := s.repo.Get(ctx, id)
	if err != nil {
		return User{}, err
	}
	return user, s.pushPatch(ctx, user, "update", idp.ProfilePatch{Name: &name},
		&backlog.UpdateProfilePayload{Name: &name})
}

// UpdateRole changes the role locally, re-resolves permissions and pushes the
// refreshed metadata bundle. A nil role clears the assignment.
func (s *Service) UpdateRole(ctx context.Context, actorID, id int64, role *string) (User, error) {
	if err := s.repo.UpdateRole(ctx, id, role); err != nil {
		return User{}, err
	}
	user, err := s.repo.Get(ctx, id)
	if err != nil {
		return User{}, err
	}
	meta := map[string]any{"role": ""}
	if role != nil {
		meta["role"] = *role
	}
	s.recordAudit(ctx, actorID, shared.AuditIdentityRoleChanged, user.ID, meta)

	bundle, err := s.bundle(ctx, user)
	if err != nil {
		return user, s.settleBundleFailure(ctx, user, err)
	}
	return user, s.pushPatch(ctx, user, "update_role", idp.ProfilePatch{Bundle: &bundle},
		&backlog.UpdateProfilePayload{Bundle: &bundle})
}

// Suspend deactivates the identity locally and blocks the remote profile so
// in-flight sessions stop minting tokens.
func (s *Service) Suspend(ctx context.Context, actorID, id int64) (User, error) {
	return s.setActive(ctx, actorID, id, false)
}

// Reactivate re-enables the identity and unblocks the remote profile.
func (s *Service) Reactivate(ctx context.Context, actorID, id int64) (User, error) {
	return s.setActive(ctx, actorID, id, true)
}

func (s *Service) setActive(ctx context.Context, actorID, id int64, active bool) (User, error) {
	if err := s.repo.SetActive(ctx, id, active); err != nil {
		return User{}, err
	}
	user, err := s.repo.Get(ctx, id)
	if err != nil {
		return User{}, err
	}
	action := shared.AuditIdentitySuspended
	op := "suspend"
	if active {
		action = shared.AuditIdentityReactivated
		op = "reactivate"
	}
	s.recordAudit(ctx, actorID, action, user.ID, nil)

	if !user.ExternalID.Linked() {
		return user, s.backlogUnsynced(ctx, user)
	}

	// Reactivation also refreshes the metadata bundle: permissions may have
	// changed while the profile was blocked.
	var bundle idp.MetadataBundle
	if active {
		bundle, err = s.bundle(ctx, user)
		if err != nil {
			return user, s.settleBundleFailure(ctx, user, err)
		}
	}
	pushErr := s.pushWithRetry(ctx, op, func(ctx context.Context) error {
		if !active {
			return s.provider.BlockUser(ctx, user.ExternalID.String())
		}
		if err := s.provider.UnblockUser(ctx, user.ExternalID.String()); err != nil {
			return err
		}
		return s.provider.UpdateUser(ctx, user.ExternalID.String(), idp.ProfilePatch{Bundle: &bundle})
	})
	if pushErr == nil {
		return user, nil
	}
	if idp.IsNotFound(pushErr) {
		s.logger.Warn("remote profile missing, treating state change as converged",
			"user_id", user.ID, "external_id", user.ExternalID.String())
		return user, nil
	}
	blocked := !active
	payload := &backlog.UpdateProfilePayload{
		ExternalID: user.ExternalID.String(),
		Blocked:    &blocked,
	}
	if active {
		payload.Bundle = &bundle
	}
	return user, s.settle(ctx, user.ExternalID.String(), user.Email, backlog.Payload{UpdateProfile: payload}, pushErr)
}

// Delete removes the local row and blocks the remote profile. The remote
// profile is never deleted: blocking preserves the provider-side audit trail
// while revoking access, and makes replays idempotent.
func (s *Service) Delete(ctx context.Context, actorID, id int64) error {
	user, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, shared.AuditIdentityDeleted, id, map[string]any{"email": user.Email})

	if !user.ExternalID.Linked() {
		return nil
	}
	pushErr := s.pushWithRetry(ctx, "delete", func(ctx context.Context) error {
		return s.provider.BlockUser(ctx, user.ExternalID.String())
	})
	if pushErr == nil || idp.IsNotFound(pushErr) {
		return nil
	}
	return s.settle(ctx, user.ExternalID.String(), user.Email, backlog.Payload{
		BlockProfile: &backlog.BlockProfilePayload{ExternalID: user.ExternalID.String()},
	}, pushErr)
}

// AssignCompany moves the identity between companies. Remotely that is up to
// three calls: leave the old organization, join the new one, then push the
// refreshed bundle. Membership errors for rows already in the target state
// are tolerated.
func (s *Service) AssignCompany(ctx context.Context, actorID, id int64, companyID *int64) (User, error) {
	previous, err := s.repo.SetCompany(ctx, id, companyID)
	if err != nil {
		return User{}, err
	}
	user, err := s.repo.Get(ctx, id)
	if err != nil {
		return User{}, err
	}
	s.recordAudit(ctx, actorID, shared.AuditIdentityCompanySet, user.ID,
		map[string]any{"company_id": companyID, "previous": previous})

	bundle, err := s.bundle(ctx, user)
	if err != nil {
		return user, s.settleBundleFailure(ctx, user, err)
	}
	if !user.ExternalID.Linked() {
		return user, s.backlogUnsynced(ctx, user)
	}

	leaveOrg, err := s.orgID(ctx, previous)
	if err != nil {
		return user, s.settleBundleFailure(ctx, user, err)
	}
	joinOrg, err := s.orgID(ctx, companyID)
	if err != nil {
		return user, s.settleBundleFailure(ctx, user, err)
	}

	pushErr := s.pushWithRetry(ctx, "assign_company", func(ctx context.Context) error {
		if leaveOrg != nil {
			if err := s.provider.RemoveOrganizationMember(ctx, *leaveOrg, user.ExternalID.String()); err != nil && !idp.IsNotFound(err) {
				return err
			}
		}
		if joinOrg != nil {
			if err := s.provider.AddOrganizationMember(ctx, *joinOrg, user.ExternalID.String()); err != nil && !idp.IsConflict(err) {
				return err
			}
		}
		return s.provider.UpdateUser(ctx, user.ExternalID.String(), idp.ProfilePatch{Bundle: &bundle})
	})
	if pushErr == nil {
		return user, nil
	}
	return user, s.settle(ctx, user.ExternalID.String(), user.Email, backlog.Payload{
		UpdateProfile: &backlog.UpdateProfilePayload{
			ExternalID: user.ExternalID.String(),
			Bundle:     &bundle,
			JoinOrgID:  joinOrg,
			LeaveOrgID: leaveOrg,
		},
	}, pushErr)
}

// EnsureFromLogin provisions a local row for a principal that authenticated
// at the provider before anyone created them locally. Repeat logins only
// stamp last_login.
func (s *Service) EnsureFromLogin(ctx context.Context, externalID, email, name string) (User, error) {
	user, err := s.repo.GetByEmail(ctx, email)
	if err == nil {
		if !user.ExternalID.Linked() {
			if err := s.repo.LinkExternalID(ctx, user.ID, externalID); err != nil {
				return User{}, err
			}
			user.ExternalID = shared.LinkExternalID(externalID)
		}
		if err := s.repo.TouchLogin(ctx, user.ID); err != nil {
			return User{}, err
		}
		return user, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return User{}, err
	}
	return s.repo.CreateLinked(ctx, externalID, email, name)
}

// Relink overwrites the stored provider id. Operator escape hatch for rows
// whose remote profile was recreated out of band.
func (s *Service) Relink(ctx context.Context, actorID, id int64, externalID string) (User, error) {
	if err := s.repo.RelinkExternalID(ctx, id, externalID); err != nil {
		return User{}, err
	}
	s.recordAudit(ctx, actorID, shared.AuditIdentityRelinked, id, map[string]any{"external_id": externalID})
	return s.repo.Get(ctx, id)
}

// pushPatch applies a merge patch remotely, backlogging on failure. For
// unsynced rows it enqueues a full create instead, since there is no remote
// profile to patch yet.
func (s *Service) pushPatch(ctx context.Context, user User, op string, patch idp.ProfilePatch, payload *backlog.UpdateProfilePayload) error {
	if !user.ExternalID.Linked() {
		return s.backlogUnsynced(ctx, user)
	}
	pushErr := s.pushWithRetry(ctx, op, func(ctx context.Context) error {
		return s.provider.UpdateUser(ctx, user.ExternalID.String(), patch)
	})
	if pushErr == nil {
		return nil
	}
	if idp.IsNotFound(pushErr) {
		s.logger.Warn("remote profile missing, treating patch as converged",
			"user_id", user.ID, "external_id", user.ExternalID.String())
		return nil
	}
	payload.ExternalID = user.ExternalID.String()
	return s.settle(ctx, user.ExternalID.String(), user.Email, backlog.Payload{UpdateProfile: payload}, pushErr)
}

// backlogUnsynced enqueues a full create carrying the current local state. A
// later drain replays it; the provider-side create is idempotent on email, so
// the row converges no matter how many changes piled up while unlinked. When
// the bundle cannot be built the payload defers it to replay time instead.
func (s *Service) backlogUnsynced(ctx context.Context, user User) error {
	payload := &backlog.CreateProfilePayload{
		LocalID: user.ID,
		Email:   user.Email,
		Name:    user.Name,
		Blocked: !user.IsActive,
	}
	bundle, err := s.bundle(ctx, user)
	if err != nil {
		payload.RefreshBundle = true
	} else {
		payload.Bundle = bundle
	}
	_, err = s.backlog.Enqueue(ctx, "", user.Email, backlog.Payload{CreateProfile: payload}, errNeverSynced)
	return err
}

var errNeverSynced = fmt.Errorf("identity has no remote profile yet")

// settleBundleFailure records a durable replay when the metadata bundle could
// not be built after the local write committed. RefreshBundle makes the drain
// rebuild the bundle from local state at replay time, so the caller sees
// success and the divergence keeps a backlog record.
func (s *Service) settleBundleFailure(ctx context.Context, user User, cause error) error {
	var payload backlog.Payload
	externalID := ""
	if user.ExternalID.Linked() {
		externalID = user.ExternalID.String()
		blocked := !user.IsActive
		payload.UpdateProfile = &backlog.UpdateProfilePayload{
			ExternalID:    externalID,
			LocalID:       user.ID,
			Blocked:       &blocked,
			RefreshBundle: true,
		}
	} else {
		payload.CreateProfile = &backlog.CreateProfilePayload{
			LocalID:       user.ID,
			Email:         user.Email,
			Name:          user.Name,
			Blocked:       !user.IsActive,
			RefreshBundle: true,
		}
	}
	if _, err := s.backlog.Enqueue(ctx, externalID, user.Email, payload, cause); err != nil {
		return fmt.Errorf("backlog enqueue after bundle failure: %w (cause: %v)", err, cause)
	}
	return nil
}

// settle decides what a failed push becomes: validation rejections surface to
// the caller untouched, everything else lands on the backlog and the caller
// sees success because the local write already committed.
func (s *Service) settle(ctx context.Context, externalID, email string, payload backlog.Payload, pushErr error) error {
	if idp.IsValidation(pushErr) {
		return fmt.Errorf("%w: %v", shared.ErrValidation, pushErr)
	}
	if _, err := s.backlog.Enqueue(ctx, externalID, email, payload, pushErr); err != nil {
		return fmt.Errorf("backlog enqueue after push failure: %w (push: %v)", err, pushErr)
	}
	return nil
}

// pushWithRetry runs fn up to the inline attempt budget, retrying only
// transient failures with a short backoff.
func (s *Service) pushWithRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= s.inlineAttempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			s.recordMetric(op, "success")
			return nil
		}
		if !idp.IsTransient(err) {
			break
		}
		s.logger.Warn("provider push failed", "operation", op, "attempt", attempt, "error", err)
		if attempt < s.inlineAttempts {
			select {
			case <-ctx.Done():
				s.recordMetric(op, "failure")
				return ctx.Err()
			case <-time.After(s.retryBackoff * time.Duration(attempt)):
			}
		}
	}
	s.recordMetric(op, "failure")
	return err
}

// bundle builds the metadata snapshot for a user from the resolver and the
// company directory.
func (s *Service) bundle(ctx context.Context, user User) (idp.MetadataBundle, error) {
	return buildBundle(ctx, s.resolver, s.companies, user)
}

// buildBundle assembles the metadata snapshot pushed to the provider. Shared
// between the inline push path and backlog replays that rebuild the bundle.
func buildBundle(ctx context.Context, resolver Resolver, companies CompanyDirectory, user User) (idp.MetadataBundle, error) {
	bundle := idp.MetadataBundle{
		Role:        user.Role,
		Permissions: idp.PermissionMap{},
		SyncedAt:    time.Now().UTC(),
	}
	if user.Role != nil {
		perms, err := resolver.Resolve(ctx, *user.Role)
		if err != nil {
			return idp.MetadataBundle{}, fmt.Errorf("resolve permissions: %w", err)
		}
		bundle.Permissions = perms
	}
	if user.CompanyID != nil {
		orgID, ok, err := companies.ExternalOrgID(ctx, *user.CompanyID)
		if err != nil {
			return idp.MetadataBundle{}, fmt.Errorf("resolve organization: %w", err)
		}
		if ok {
			bundle.OrganizationID = &orgID
		}
	}
	return bundle, nil
}

// orgID maps a local company id to its provider organization id, or nil when
// unassigned or not yet synced.
func (s *Service) orgID(ctx context.Context, companyID *int64) (*string, error) {
	if companyID == nil {
		return nil, nil
	}
	orgID, ok, err := s.companies.ExternalOrgID(ctx, *companyID)
	if err != nil {
		return nil, fmt.Errorf("resolve organization: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &orgID, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "identity",
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
		At:       time.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn("audit record failed", "action", action, "error", err)
	}
}

func (s *Service) recordMetric(operation, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordSyncAttempt(operation, outcome)
	}
}
