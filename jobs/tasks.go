package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meeraPraveen/RMTLogistics-sub000/internal/backlog"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSyncDrainBacklog replays pending backlog operations.
	TaskSyncDrainBacklog = "sync:drain_backlog"
	// TaskSyncCleanupBacklog prunes terminal backlog rows past retention.
	TaskSyncCleanupBacklog = "sync:cleanup_backlog"
)

// DrainBacklogPayload tunes one drain run.
type DrainBacklogPayload struct {
	BatchSize int `json:"batch_size"`
}

// NewDrainBacklogTask constructs an Asynq task for a backlog drain.
func NewDrainBacklogTask(batchSize int) (*asynq.Task, error) {
	body, err := json.Marshal(DrainBacklogPayload{BatchSize: batchSize})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSyncDrainBacklog, body, asynq.Queue(QueueDefault)), nil
}

// CleanupBacklogPayload carries the retention window for one cleanup run.
type CleanupBacklogPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewCleanupBacklogTask constructs an Asynq task for backlog cleanup.
func NewCleanupBacklogTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(CleanupBacklogPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSyncCleanupBacklog, body, asynq.Queue(QueueDefault)), nil
}

// Drainer is the backlog surface the drain job needs.
type Drainer interface {
	RetryAll(ctx context.Context, batchSize int) (backlog.RetrySummary, error)
}

// Pruner is the backlog surface the cleanup job needs.
type Pruner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}
