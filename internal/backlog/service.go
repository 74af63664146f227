package backlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meeraPraveen/RMTLogistics-sub000/internal/idp"
	"github.com/meeraPraveen/RMTLogistics-sub000/internal/shared"
)

// RepositoryPort defines data access methods for the backlog.
type RepositoryPort interface {
	Insert(ctx context.Context, op Operation) (Operation, error)
	Get(ctx context.Context, id int64) (Operation, error)
	ListPending(ctx context.Context, kind *Kind, limit int) ([]Operation, error)
	Claim(ctx context.Context, id int64, expectedRetries int) (Operation, error)
	MarkCompleted(ctx context.Context, id int64) error
	RecordFailure(ctx context.Context, id int64, message string, terminal bool) error
	Delete(ctx context.Context, id int64) error
	Cleanup(ctx context.Context, cutoff time.Time) (int64, error)
	CountByStatus(ctx context.Context) (map[Status]int64, error)
}

// Dispatcher replays stored payloads against the provider. Implementations
// own the external-id backfill after a successful replayed create.
type Dispatcher interface {
	CreateProfile(ctx context.Context, p CreateProfilePayload) error
	UpdateProfile(ctx context.Context, p UpdateProfilePayload) error
	BlockProfile(ctx context.Context, p BlockProfilePayload) error
	CreateOrg(ctx context.Context, p CreateOrgPayload) error
	UpdateOrg(ctx context.Context, p UpdateOrgPayload) error
	DeleteOrg(ctx context.Context, p DeleteOrgPayload) error
}

// Metrics receives sync outcome counters. Satisfied by observability.Metrics.
type Metrics interface {
	RecordBacklogTransition(status string)
	SetBacklogPending(n float64)
}

// RetrySummary aggregates a batch drain.
type RetrySummary struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Service owns the backlog lifecycle: it is the only writer of sync_backlog
// rows.
type Service struct {
	repo       RepositoryPort
	dispatcher Dispatcher
	logger     *slog.Logger
	metrics    Metrics
	maxRetries int
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, dispatcher Dispatcher, logger *slog.Logger, metrics Metrics, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{repo: repo, dispatcher: dispatcher, logger: logger, metrics: metrics, maxRetries: maxRetries}
}

// Enqueue persists a failed remote push for later retry. The payload is the
// exact data to replay; cause is the failure that sent it here.
func (s *Service) Enqueue(ctx context.Context, externalID, email string, payload Payload, cause error) (Operation, error) {
	kind, err := payload.Kind()
	if err != nil {
		return Operation{}, err
	}
	op := Operation{
		Kind:       kind,
		ExternalID: externalID,
		Email:      email,
		Payload:    payload,
		Status:     StatusPending,
		MaxRetries: s.maxRetries,
		TraceID:    uuid.New(),
	}
	if cause != nil {
		op.LastError = cause.Error()
	}
	stored, err := s.repo.Insert(ctx, op)
	if err != nil {
		// Losing this row means losing the divergence record; log loudly
		// enough for an operator to re-enqueue by hand.
		s.logger.Error("backlog enqueue failed",
			slog.String("kind", string(kind)),
			slog.String("email", email),
			slog.String("external_id", externalID),
			slog.Any("error", err))
		return Operation{}, err
	}
	s.logger.Warn("remote sync deferred to backlog",
		slog.Int64("operation_id", stored.ID),
		slog.String("kind", string(kind)),
		slog.String("email", email),
		slog.String("trace_id", stored.TraceID.String()),
		slog.String("cause", op.LastError))
	if s.metrics != nil {
		s.metrics.RecordBacklogTransition("enqueued")
	}
	return stored, nil
}

// ListPending returns retryable operations oldest first, optionally filtered
// by kind.
func (s *Service) ListPending(ctx context.Context, kind *Kind, limit int) ([]Operation, error) {
	return s.repo.ListPending(ctx, kind, limit)
}

// Get fetches one operation.
func (s *Service) Get(ctx context.Context, id int64) (Operation, error) {
	return s.repo.Get(ctx, id)
}

// Retry re-dispatches one operation. Retrying a completed operation is a
// success no-op without any remote call; retrying a failed operation is
// rejected, the ceiling has been reached. When two retries of one id race,
// the claim's compare-and-set lets exactly one through; the loser returns the
// current row without dispatching.
func (s *Service) Retry(ctx context.Context, id int64) (Operation, error) {
	op, err := s.repo.Get(ctx, id)
	if err != nil {
		return Operation{}, err
	}
	switch op.Status {
	case StatusCompleted:
		return op, nil
	case StatusFailed:
		return op, fmt.Errorf("backlog: operation %d: %w", id, shared.ErrRetryExhausted)
	}

	claimed, err := s.repo.Claim(ctx, id, op.RetryCount)
	if err != nil {
		if errors.Is(err, ErrClaimConflict) {
			s.logger.Warn("retry lost the claim race",
				slog.Int64("operation_id", id))
			return s.repo.Get(ctx, id)
		}
		return Operation{}, err
	}

	dispatchErr := s.dispatch(ctx, claimed)
	if dispatchErr == nil || s.converged(claimed.Kind, dispatchErr) {
		if dispatchErr != nil {
			s.logger.Warn("remote target gone, treating as converged",
				slog.Int64("operation_id", id),
				slog.String("kind", string(claimed.Kind)),
				slog.Any("error", dispatchErr))
		}
		if err := s.repo.MarkCompleted(ctx, id); err != nil {
			return Operation{}, err
		}
		if s.metrics != nil {
			s.metrics.RecordBacklogTransition("completed")
		}
		return s.repo.Get(ctx, id)
	}

	terminal := claimed.RetryCount >= claimed.MaxRetries || idp.IsValidation(dispatchErr)
	if err := s.repo.RecordFailure(ctx, id, dispatchErr.Error(), terminal); err != nil {
		return Operation{}, err
	}
	if terminal && s.metrics != nil {
		s.metrics.RecordBacklogTransition("failed")
	}
	refreshed, err := s.repo.Get(ctx, id)
	if err != nil {
		return Operation{}, err
	}
	return refreshed, fmt.Errorf("backlog: retry operation %d: %w", id, dispatchErr)
}

// converged reports whether a not-found response means the work is already
// done: the target no longer exists, so an update or block has nothing left
// to change.
func (s *Service) converged(kind Kind, err error) bool {
	if !idp.IsNotFound(err) {
		return false
	}
	switch kind {
	case KindUpdate, KindDelete, KindOrgUpdate, KindOrgDelete:
		return true
	default:
		return false
	}
}

// RetryAll drains pending operations sequentially. Sequential on purpose:
// parallel replay would amplify any rate-limit condition at the provider.
func (s *Service) RetryAll(ctx context.Context, batchSize int) (RetrySummary, error) {
	ops, err := s.repo.ListPending(ctx, nil, batchSize)
	if err != nil {
		return RetrySummary{}, err
	}
	summary := RetrySummary{}
	for _, op := range ops {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.Attempted++
		if _, err := s.Retry(ctx, op.ID); err != nil {
			summary.Failed++
			continue
		}
		summary.Succeeded++
	}
	s.publishDepth(ctx)
	return summary, nil
}

// Delete removes an operation after out-of-band resolution.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

// Cleanup purges terminal operations older than the retention window.
func (s *Service) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	purged, err := s.repo.Cleanup(ctx, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	s.publishDepth(ctx)
	return purged, nil
}

// Stats returns operation counts per status for the dashboard.
func (s *Service) Stats(ctx context.Context) (map[Status]int64, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.SetBacklogPending(float64(counts[StatusPending]))
	}
	return counts, nil
}

func (s *Service) publishDepth(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return
	}
	s.metrics.SetBacklogPending(float64(counts[StatusPending]))
}

// dispatch replays the typed payload; the switch is exhaustive over the
// payload union.
func (s *Service) dispatch(ctx context.Context, op Operation) error {
	p := op.Payload
	switch {
	case p.CreateProfile != nil:
		return s.dispatcher.CreateProfile(ctx, *p.CreateProfile)
	case p.UpdateProfile != nil:
		return s.dispatcher.UpdateProfile(ctx, *p.UpdateProfile)
	case p.BlockProfile != nil:
		return s.dispatcher.BlockProfile(ctx, *p.BlockProfile)
	case p.CreateOrg != nil:
		return s.dispatcher.CreateOrg(ctx, *p.CreateOrg)
	case p.UpdateOrg != nil:
		return s.dispatcher.UpdateOrg(ctx, *p.UpdateOrg)
	case p.DeleteOrg != nil:
		return s.dispatcher.DeleteOrg(ctx, *p.DeleteOrg)
	default:
		return errors.Join(ErrAmbiguousPayload, fmt.Errorf("operation %d", op.ID))
	}
}
