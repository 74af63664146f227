package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/meeraPraveen/RMTLogistics-sub000/internal/backlog"
)

type stubDrainer struct {
	gotBatch int
	summary  backlog.RetrySummary
	err      error
}

func (d *stubDrainer) RetryAll(ctx context.Context, batchSize int) (backlog.RetrySummary, error) {
	d.gotBatch = batchSize
	return d.summary, d.err
}

type stubPruner struct {
	gotRetention time.Duration
	removed      int64
	err          error
}

func (p *stubPruner) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	p.gotRetention = olderThan
	return p.removed, p.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDrainJobUsesPayloadBatchSize(t *testing.T) {
	drainer := &stubDrainer{summary: backlog.RetrySummary{Attempted: 3, Succeeded: 3}}
	job := NewBacklogDrainJob(drainer, discardLogger(), 100)

	task, err := NewDrainBacklogTask(25)
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 25, drainer.gotBatch)
}

func TestDrainJobFallsBackToDefaultBatchSize(t *testing.T) {
	drainer := &stubDrainer{}
	job := NewBacklogDrainJob(drainer, discardLogger(), 40)

	task, err := NewDrainBacklogTask(0)
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 40, drainer.gotBatch)
}

func TestDrainJobPropagatesFailure(t *testing.T) {
	boom := errors.New("pool exhausted")
	job := NewBacklogDrainJob(&stubDrainer{err: boom}, discardLogger(), 100)

	task, err := NewDrainBacklogTask(10)
	require.NoError(t, err)

	require.ErrorIs(t, job.Handle(context.Background(), task), boom)
}

func TestDrainJobSkipsRetryOnBadPayload(t *testing.T) {
	job := NewBacklogDrainJob(&stubDrainer{}, discardLogger(), 100)
	task := asynq.NewTask(TaskSyncDrainBacklog, []byte("{not json"))

	require.ErrorIs(t, job.Handle(context.Background(), task), asynq.SkipRetry)
}

func TestCleanupJobUsesConfiguredRetention(t *testing.T) {
	pruner := &stubPruner{removed: 12}
	job := NewCleanupJob(pruner, discardLogger(), 14*24*time.Hour)

	task, err := NewCleanupBacklogTask(0)
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 14*24*time.Hour, pruner.gotRetention)
}
