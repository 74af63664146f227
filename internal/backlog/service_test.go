package backlog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/meeraPraveen/RMTLogistics-sub000/internal/idp"
	"github.com/meeraPraveen/RMTLogistics-sub000/internal/shared"
)

type memoryRepo struct {
	mu     sync.Mutex
	ops    map[int64]Operation
	nextID int64

	insertErr error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{ops: make(map[int64]Operation)}
}

func (r *memoryRepo) Insert(ctx context.Context, op Operation) (Operation, error) {
	if r.insertErr != nil {
		return Operation{}, r.insertErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	op.ID = r.nextID
	op.CreatedAt = time.Now().UTC()
	r.ops[op.ID] = op
	return op, nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Operation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	if !ok {
		return Operation{}, shared.ErrNotFound
	}
	return op, nil
}

func (r *memoryRepo) ListPending(ctx context.Context, kind *Kind, limit int) ([]Operation, error) {
	var out []Operation
	for id := int64(1); id <= r.nextID; id++ {
		op, ok := r.ops[id]
		if !ok || op.Status != StatusPending || op.RetryCount >= op.MaxRetries {
			continue
		}
		if kind != nil && op.Kind != *kind {
			continue
		}
		out = append(out, op)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memoryRepo) Claim(ctx context.Context, id int64, expectedRetries int) (Operation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	if !ok {
		return Operation{}, shared.ErrNotFound
	}
	if op.Status == StatusPending && op.RetryCount >= op.MaxRetries {
		return Operation{}, shared.ErrRetryExhausted
	}
	if op.Status != StatusPending || op.RetryCount != expectedRetries {
		return Operation{}, ErrClaimConflict
	}
	op.RetryCount++
	now := time.Now().UTC()
	op.LastAttemptedAt = &now
	r.ops[id] = op
	return op, nil
}

func (r *memoryRepo) MarkCompleted(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	if !ok {
		return shared.ErrNotFound
	}
	now := time.Now().UTC()
	op.Status = StatusCompleted
	op.CompletedAt = &now
	r.ops[id] = op
	return nil
}

func (r *memoryRepo) RecordFailure(ctx context.Context, id int64, message string, terminal bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	if !ok {
		return shared.ErrNotFound
	}
	op.LastError = message
	if terminal {
		op.Status = StatusFailed
	}
	r.ops[id] = op
	return nil
}

func (r *memoryRepo) Delete(ctx context.Context, id int64) error {
	if _, ok := r.ops[id]; !ok {
		return shared.ErrNotFound
	}
	delete(r.ops, id)
	return nil
}

func (r *memoryRepo) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	var purged int64
	for id, op := range r.ops {
		if op.Status == StatusPending {
			continue
		}
		if op.CreatedAt.Before(cutoff) {
			delete(r.ops, id)
			purged++
		}
	}
	return purged, nil
}

func (r *memoryRepo) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	counts := make(map[Status]int64)
	for _, op := range r.ops {
		counts[op.Status]++
	}
	return counts, nil
}

type fakeDispatcher struct {
	err   error
	calls []Kind
}

func (d *fakeDispatcher) record(k Kind) error {
	d.calls = append(d.calls, k)
	return d.err
}

func (d *fakeDispatcher) CreateProfile(ctx context.Context, p CreateProfilePayload) error {
	return d.record(KindCreate)
}

func (d *fakeDispatcher) UpdateProfile(ctx context.Context, p UpdateProfilePayload) error {
	return d.record(KindUpdate)
}

func (d *fakeDispatcher) BlockProfile(ctx context.Context, p BlockProfilePayload) error {
	return d.record(KindDelete)
}

func (d *fakeDispatcher) CreateOrg(ctx context.Context, p CreateOrgPayload) error {
	return d.record(KindOrgCreate)
}

func (d *fakeDispatcher) UpdateOrg(ctx context.Context, p UpdateOrgPayload) error {
	return d.record(KindOrgUpdate)
}

func (d *fakeDispatcher) DeleteOrg(ctx context.Context, p DeleteOrgPayload) error {
	return d.record(KindOrgDelete)
}

// rendezvousRepo holds the first two Get calls until both callers have read
// the row, so both observe the same retry count before either claims.
type rendezvousRepo struct {
	*memoryRepo
	remaining atomic.Int32
	ready     sync.WaitGroup
}

func newRendezvousRepo(inner *memoryRepo, callers int) *rendezvousRepo {
	r := &rendezvousRepo{memoryRepo: inner}
	r.remaining.Store(int32(callers))
	r.ready.Add(callers)
	return r
}

func (r *rendezvousRepo) Get(ctx context.Context, id int64) (Operation, error) {
	op, err := r.memoryRepo.Get(ctx, id)
	if r.remaining.Add(-1) >= 0 {
		r.ready.Done()
		r.ready.Wait()
	}
	return op, err
}

type slowDispatcher struct {
	delay      time.Duration
	dispatched atomic.Int32
	inFlight   atomic.Int32
	peak       atomic.Int32
}

func (d *slowDispatcher) run() error {
	cur := d.inFlight.Add(1)
	defer d.inFlight.Add(-1)
	for {
		peak := d.peak.Load()
		if cur <= peak || d.peak.CompareAndSwap(peak, cur) {
			break
		}
	}
	d.dispatched.Add(1)
	time.Sleep(d.delay)
	return nil
}

func (d *slowDispatcher) CreateProfile(ctx context.Context, p CreateProfilePayload) error {
	return d.run()
}

func (d *slowDispatcher) UpdateProfile(ctx context.Context, p UpdateProfilePayload) error {
	return d.run()
}

func (d *slowDispatcher) BlockProfile(ctx context.Context, p BlockProfilePayload) error {
	return d.run()
}

func (d *slowDispatcher) CreateOrg(ctx context.Context, p CreateOrgPayload) error {
	return d.run()
}

func (d *slowDispatcher) UpdateOrg(ctx context.Context, p UpdateOrgPayload) error {
	return d.run()
}

func (d *slowDispatcher) DeleteOrg(ctx context.Context, p DeleteOrgPayload) error {
	return d.run()
}

func newTestService(repo RepositoryPort, dispatcher Dispatcher, maxRetries int) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, dispatcher, logger, nil, maxRetries)
}

func enqueueUpdate(t *testing.T, svc *Service) Operation {
	t.Helper()
	op, err := svc.Enqueue(context.Background(), "auth0|u1", "ops@example.com", Payload{
		UpdateProfile: &UpdateProfilePayload{ExternalID: "auth0|u1"},
	}, errors.New("connection reset"))
	require.NoError(t, err)
	return op
}

func TestEnqueueDerivesKindAndTrace(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, &fakeDispatcher{}, 3)

	op := enqueueUpdate(t, svc)
	require.Equal(t, KindUpdate, op.Kind)
	require.Equal(t, StatusPending, op.Status)
	require.Equal(t, 3, op.MaxRetries)
	require.NotEqual(t, uuid.Nil, op.TraceID)
	require.Equal(t, "connection reset", op.LastError)
}

func TestEnqueueRejectsAmbiguousPayload(t *testing.T) {
	svc := newTestService(newMemoryRepo(), &fakeDispatcher{}, 3)
	_, err := svc.Enqueue(context.Background(), "", "", Payload{}, nil)
	require.ErrorIs(t, err, ErrAmbiguousPayload)
}

func TestRetrySuccessCompletes(t *testing.T) {
	repo := newMemoryRepo()
	dispatcher := &fakeDispatcher{}
	svc := newTestService(repo, dispatcher, 3)
	op := enqueueUpdate(t, svc)

	got, err := svc.Retry(context.Background(), op.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
	require.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.CompletedAt)
	require.Equal(t, []Kind{KindUpdate}, dispatcher.calls)
}

func TestRetryStopsExactlyAtCeiling(t *testing.T) {
	repo := newMemoryRepo()
	dispatcher := &fakeDispatcher{err: &idp.CallError{Kind: idp.KindTransient, Status: 503}}
	svc := newTestService(repo, dispatcher, 3)
	op := enqueueUpdate(t, svc)

	for i := 0; i < 2; i++ {
		got, err := svc.Retry(context.Background(), op.ID)
		require.Error(t, err)
		require.Equal(t, StatusPending, got.Status)
	}

	got, err := svc.Retry(context.Background(), op.ID)
	require.Error(t, err)
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, 3, got.RetryCount)

	// The ceiling is hard: no further dispatch happens.
	_, err = svc.Retry(context.Background(), op.ID)
	require.ErrorIs(t, err, shared.ErrRetryExhausted)
	require.Len(t, dispatcher.calls, 3)
}

func TestRetryConcurrentClaimDispatchesOnce(t *testing.T) {
	repo := newMemoryRepo()
	dispatcher := &slowDispatcher{delay: 50 * time.Millisecond}
	svc := newTestService(newRendezvousRepo(repo, 2), dispatcher, 3)
	op := enqueueUpdate(t, svc)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.Retry(context.Background(), op.ID)
		}(i)
	}
	wg.Wait()

	// The loser of the claim race returns the current row without an error
	// and without touching the remote.
	for _, err := range results {
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), dispatcher.dispatched.Load())
	require.Equal(t, int32(1), dispatcher.peak.Load())

	final, err := svc.Get(context.Background(), op.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, final.Status)
	require.Equal(t, 1, final.RetryCount)
}

func TestRetryCompletedIsNoOp(t *testing.T) {
	repo := newMemoryRepo()
	dispatcher := &fakeDispatcher{}
	svc := newTestService(repo, dispatcher, 3)
	op := enqueueUpdate(t, svc)

	_, err := svc.Retry(context.Background(), op.ID)
	require.NoError(t, err)

	got, err := svc.Retry(context.Background(), op.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
	require.Len(t, dispatcher.calls, 1)
}

func TestRetryValidationFailsImmediately(t *testing.T) {
	repo := newMemoryRepo()
	dispatcher := &fakeDispatcher{err: &idp.CallError{Kind: idp.KindValidation, Status: 400}}
	svc := newTestService(repo, dispatcher, 3)
	op := enqueueUpdate(t, svc)

	got, err := svc.Retry(context.Background(), op.ID)
	require.Error(t, err)
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, 1, got.RetryCount)
}

func TestRetryNotFoundConvergesForUpdate(t *testing.T) {
	repo := newMemoryRepo()
	dispatcher := &fakeDispatcher{err: &idp.CallError{Kind: idp.KindNotFound, Status: 404}}
	svc := newTestService(repo, dispatcher, 3)
	op := enqueueUpdate(t, svc)

	got, err := svc.Retry(context.Background(), op.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
}

func TestRetryNotFoundDoesNotConvergeForCreate(t *testing.T) {
	repo := newMemoryRepo()
	dispatcher := &fakeDispatcher{err: &idp.CallError{Kind: idp.KindNotFound, Status: 404}}
	svc := newTestService(repo, dispatcher, 3)

	op, err := svc.Enqueue(context.Background(), "", "new@example.com", Payload{
		CreateProfile: &CreateProfilePayload{LocalID: 1, Email: "new@example.com"},
	}, errors.New("timeout"))
	require.NoError(t, err)

	got, err := svc.Retry(context.Background(), op.ID)
	require.Error(t, err)
	require.Equal(t, StatusPending, got.Status)
}

func TestRetryAllCounts(t *testing.T) {
	repo := newMemoryRepo()
	dispatcher := &fakeDispatcher{}
	svc := newTestService(repo, dispatcher, 3)

	enqueueUpdate(t, svc)
	op2 := enqueueUpdate(t, svc)
	enqueueUpdate(t, svc)

	// Second operation already failed terminally.
	require.NoError(t, repo.RecordFailure(context.Background(), op2.ID, "boom", true))

	summary, err := svc.RetryAll(context.Background(), 100)
	require.NoError(t, err)
	require.Equal(t, RetrySummary{Attempted: 2, Succeeded: 2, Failed: 0}, summary)
}

func TestCleanupSparesPending(t *testing.T) {
	repo := newMemoryRepo()
	dispatcher := &fakeDispatcher{}
	svc := newTestService(repo, dispatcher, 3)

	pending := enqueueUpdate(t, svc)
	done := enqueueUpdate(t, svc)
	_, err := svc.Retry(context.Background(), done.ID)
	require.NoError(t, err)

	// Retention of -1h puts the cutoff in the future, so every terminal row
	// qualifies.
	purged, err := svc.Cleanup(context.Background(), -time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(1), purged)

	_, err = svc.Get(context.Background(), pending.ID)
	require.NoError(t, err)
	_, err = svc.Get(context.Background(), done.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestStatsCountsByStatus(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, &fakeDispatcher{}, 3)

	enqueueUpdate(t, svc)
	done := enqueueUpdate(t, svc)
	_, err := svc.Retry(context.Background(), done.ID)
	require.NoError(t, err)

	counts, err := svc.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), counts[StatusPending])
	require.Equal(t, int64(1), counts[StatusCompleted])
}
