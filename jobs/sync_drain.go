package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/meeraPraveen/RMTLogistics-sub000/internal/jobs"
)

// BacklogDrainJob replays pending sync operations on a schedule so transient
// provider outages converge without operator action.
type BacklogDrainJob struct {
	Backlog          Drainer
	Logger           *slog.Logger
	Metrics          *jobmetrics.Metrics
	DefaultBatchSize int
}

// NewBacklogDrainJob initialises the drain handler.
func NewBacklogDrainJob(backlog Drainer, logger *slog.Logger, defaultBatchSize int) *BacklogDrainJob {
	if defaultBatchSize <= 0 {
		defaultBatchSize = 100
	}
	return &BacklogDrainJob{Backlog: backlog, Logger: logger, DefaultBatchSize: defaultBatchSize}
}

// Handle executes one drain run.
func (j *BacklogDrainJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Backlog == nil {
		return errors.New("backlog drain: handler not configured")
	}
	var payload DrainBacklogPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.BatchSize <= 0 {
		payload.BatchSize = j.DefaultBatchSize
	}

	tracker := j.Metrics.Track(TaskSyncDrainBacklog)
	start := time.Now()
	summary, err := j.Backlog.RetryAll(ctx, payload.BatchSize)
	j.Metrics.AddDrained(summary.Succeeded, summary.Failed)
	logger := j.logger().With(
		slog.Int("attempted", summary.Attempted),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("failed", summary.Failed),
		slog.Duration("elapsed", time.Since(start)),
	)
	if err != nil {
		logger.Error("backlog drain aborted", slog.Any("error", err))
		return tracker.End(err)
	}
	logger.Info("backlog drain finished", slog.String("job", TaskSyncDrainBacklog))
	return tracker.End(nil)
}

func (j *BacklogDrainJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

// CleanupJob prunes terminal backlog rows past the retention window.
type CleanupJob struct {
	Backlog   Pruner
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	Retention time.Duration
}

// NewCleanupJob initialises the cleanup handler.
func NewCleanupJob(backlog Pruner, logger *slog.Logger, retention time.Duration) *CleanupJob {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &CleanupJob{Backlog: backlog, Logger: logger, Retention: retention}
}

// Handle executes one cleanup run.
func (j *CleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Backlog == nil {
		return errors.New("backlog cleanup: handler not configured")
	}
	var payload CleanupBacklogPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	retention := payload.Retention
	if retention <= 0 {
		retention = j.Retention
	}
	tracker := j.Metrics.Track(TaskSyncCleanupBacklog)
	removed, err := j.Backlog.Cleanup(ctx, retention)
	if err != nil {
		j.logger().Error("backlog cleanup failed", slog.Any("error", err))
		return tracker.End(err)
	}
	j.logger().Info("backlog cleanup finished",
		slog.String("job", TaskSyncCleanupBacklog),
		slog.Int64("removed", removed),
		slog.Duration("retention", retention))
	return tracker.End(nil)
}

func (j *CleanupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
