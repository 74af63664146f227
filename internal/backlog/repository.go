package backlog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meeraPraveen/RMTLogistics-sub000/internal/shared"
)

const operationColumns = `id, operation_type, external_id, email, payload, error_message, status, retry_count, max_retries, trace_id, created_at, last_attempted_at, completed_at`

// Repository provides PostgreSQL backed persistence for sync_backlog.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert persists a new pending operation.
func (r *Repository) Insert(ctx context.Context, op Operation) (Operation, error) {
	payload, err := json.Marshal(op.Payload)
	if err != nil {
		return Operation{}, err
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO sync_backlog (operation_type, external_id, email, payload, error_message, status, retry_count, max_retries, trace_id, created_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', 0, $6, $7, NOW())
		RETURNING `+operationColumns,
		op.Kind, op.ExternalID, op.Email, payload, op.LastError, op.MaxRetries, op.TraceID)
	return scanOperation(row)
}

// Get fetches one operation.
func (r *Repository) Get(ctx context.Context, id int64) (Operation, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+operationColumns+` FROM sync_backlog WHERE id = $1`, id)
	op, err := scanOperation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Operation{}, shared.ErrNotFound
		}
		return Operation{}, err
	}
	return op, nil
}

// ListPending returns retryable operations oldest first.
func (r *Repository) ListPending(ctx context.Context, kind *Kind, limit int) ([]Operation, error) {
	query := `SELECT ` + operationColumns + ` FROM sync_backlog
		WHERE status = 'pending' AND retry_count < max_retries`
	args := []any{}
	if kind != nil {
		query += ` AND operation_type = $1`
		args = append(args, *kind)
	}
	query += ` ORDER BY id`
	if limit > 0 {
		args = append(args, limit)
		if kind != nil {
			query += ` LIMIT $2`
		} else {
			query += ` LIMIT $1`
		}
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// Claim bumps the attempt counter of a retryable pending operation and
// returns the refreshed row. The compare-and-set on the retry count the
// caller observed is the serialization point: of two concurrent retries of
// one id, exactly one update matches and the loser sees zero rows. Returns
// ErrClaimConflict for a lost race and shared.ErrRetryExhausted when the row
// is pending but out of budget.
func (r *Repository) Claim(ctx context.Context, id int64, expectedRetries int) (Operation, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE sync_backlog
		SET retry_count = retry_count + 1, last_attempted_at = NOW()
		WHERE id = $1 AND status = 'pending' AND retry_count = $2 AND retry_count < max_retries
		RETURNING `+operationColumns, id, expectedRetries)
	op, err := scanOperation(row)
	if err == nil {
		return op, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Operation{}, err
	}
	current, err := r.Get(ctx, id)
	if err != nil {
		return Operation{}, err
	}
	if current.Status == StatusPending && current.RetryCount >= current.MaxRetries {
		return Operation{}, shared.ErrRetryExhausted
	}
	return Operation{}, ErrClaimConflict
}

// MarkCompleted transitions the operation to its successful terminal state.
func (r *Repository) MarkCompleted(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE sync_backlog SET status = 'completed', error_message = '', completed_at = NOW() WHERE id = $1`, id)
	return err
}

// RecordFailure stores the new error and, when terminal, freezes the
// operation in failed status.
func (r *Repository) RecordFailure(ctx context.Context, id int64, message string, terminal bool) error {
	status := StatusPending
	if terminal {
		status = StatusFailed
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE sync_backlog SET status = $2, error_message = $3 WHERE id = $1`, id, status, message)
	return err
}

// Delete removes an operation regardless of status.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sync_backlog WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Cleanup purges terminal operations older than the cutoff. Pending rows are
// never touched regardless of age.
func (r *Repository) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM sync_backlog WHERE status IN ('completed', 'failed') AND created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CountByStatus returns operation counts per status.
func (r *Repository) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM sync_backlog GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[Status]int64)
	for rows.Next() {
		var status Status
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func scanOperation(row pgx.Row) (Operation, error) {
	var op Operation
	var payload []byte
	var lastAttempted, completed pgtype.Timestamptz
	var created pgtype.Timestamptz
	if err := row.Scan(&op.ID, &op.Kind, &op.ExternalID, &op.Email, &payload, &op.LastError,
		&op.Status, &op.RetryCount, &op.MaxRetries, &op.TraceID, &created, &lastAttempted, &completed); err != nil {
		return Operation{}, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &op.Payload); err != nil {
			return Operation{}, err
		}
	}
	if created.Valid {
		op.CreatedAt = created.Time
	}
	if lastAttempted.Valid {
		t := lastAttempted.Time
		op.LastAttemptedAt = &t
	}
	if completed.Valid {
		t := completed.Time
		op.CompletedAt = &t
	}
	return op, nil
}
