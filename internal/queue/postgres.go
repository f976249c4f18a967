package queue

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/unclebandit/mailpacer-backend/internal/model"
)

// PostgresQueue stores jobs in the queue_jobs table. Workers claim with
// FOR UPDATE SKIP LOCKED so any number of processes can share the table.
type PostgresQueue struct {
	DB *sql.DB
}

func NewPostgresQueue(db *sql.DB) *PostgresQueue {
	return &PostgresQueue{DB: db}
}

const jobColumns = `id, type, campaign_id, payload, state, attempts, max_attempts, backoff_ms,
    run_at, last_error, created_at, updated_at, finished_at`

type jobScanner interface {
	Scan(dest ...any) error
}

func scanJob(row jobScanner) (*model.Job, error) {
	var job model.Job
	var backoffMS int64
	err := row.Scan(&job.ID, &job.Type, &job.CampaignID, &job.Payload, &job.State, &job.Attempts,
		&job.MaxAttempts, &backoffMS, &job.RunAt, &job.LastError, &job.CreatedAt, &job.UpdatedAt, &job.FinishedAt)
	if err != nil {
		return nil, err
	}
	job.BackoffBase = time.Duration(backoffMS) * time.Millisecond
	return &job, nil
}

func (q *PostgresQueue) Enqueue(ctx context.Context, req EnqueueRequest) (*model.Job, error) {
	jobs, err := q.BulkEnqueue(ctx, []EnqueueRequest{req})
	if err != nil {
		return nil, err
	}
	return jobs[0], nil
}

// BulkEnqueue inserts all jobs in one transaction.
func (q *PostgresQueue) BulkEnqueue(ctx context.Context, reqs []EnqueueRequest) ([]*model.Job, error) {
	now := time.Now().UTC()
	jobs := make([]*model.Job, 0, len(reqs))
	for _, req := range reqs {
		job, err := newJob(req, now)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	tx, err := q.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO queue_jobs (id, type, campaign_id, payload, state, attempts, max_attempts, backoff_ms,
            run_at, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8, $9, $9)`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	for _, job := range jobs {
		_, err := stmt.ExecContext(ctx, job.ID, job.Type, job.CampaignID, string(job.Payload), job.State,
			job.MaxAttempts, job.BackoffBase.Milliseconds(), job.RunAt, job.CreatedAt)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (q *PostgresQueue) ListJobs(ctx context.Context, campaignID int64, states ...string) ([]*model.Job, error) {
	rows, err := q.DB.QueryContext(ctx, `
        SELECT `+jobColumns+` FROM queue_jobs
        WHERE campaign_id=$1 AND state = ANY($2)
        ORDER BY run_at ASC, created_at ASC`, campaignID, pq.Array(storedStates(states)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	now := time.Now().UTC()
	jobs := []*model.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		if wantsState(states, job.EffectiveState(now)) {
			jobs = append(jobs, job)
		}
	}
	return jobs, rows.Err()
}

func (q *PostgresQueue) RemoveJobs(ctx context.Context, campaignID int64) (int, error) {
	res, err := q.DB.ExecContext(ctx, `
        DELETE FROM queue_jobs
        WHERE campaign_id=$1 AND state IN ('waiting', 'active')`, campaignID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (q *PostgresQueue) Claim(ctx context.Context) (*model.Job, error) {
	tx, err := q.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	job, err := scanJob(tx.QueryRowContext(ctx, `
        WITH next_job AS (
            SELECT id
            FROM queue_jobs
            WHERE state = 'waiting'
              AND run_at <= NOW()
            ORDER BY run_at ASC, created_at ASC
            LIMIT 1
            FOR UPDATE SKIP LOCKED
        )
        UPDATE queue_jobs j
        SET state = 'active',
            attempts = j.attempts + 1,
            updated_at = NOW()
        FROM next_job
        WHERE j.id = next_job.id
        RETURNING j.id, j.type, j.campaign_id, j.payload, j.state, j.attempts, j.max_attempts, j.backoff_ms,
            j.run_at, j.last_error, j.created_at, j.updated_at, j.finished_at`))
	if err != nil {
		if err == sql.ErrNoRows {
			if commitErr := tx.Commit(); commitErr != nil {
				return nil, commitErr
			}
			return nil, nil
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return job, nil
}

func (q *PostgresQueue) Complete(ctx context.Context, id string) error {
	_, err := q.DB.ExecContext(ctx, `
        UPDATE queue_jobs
        SET state = 'completed', last_error = '', finished_at = NOW(), updated_at = NOW()
        WHERE id = $1`, id)
	return err
}

func (q *PostgresQueue) Retry(ctx context.Context, id string, runAt time.Time, lastError string) error {
	_, err := q.DB.ExecContext(ctx, `
        UPDATE queue_jobs
        SET state = 'waiting', run_at = $2, last_error = $3, updated_at = NOW()
        WHERE id = $1`, id, runAt, lastError)
	return err
}

func (q *PostgresQueue) Fail(ctx context.Context, id string, lastError string) error {
	_, err := q.DB.ExecContext(ctx, `
        UPDATE queue_jobs
        SET state = 'failed', last_error = $2, finished_at = NOW(), updated_at = NOW()
        WHERE id = $1`, id, lastError)
	return err
}

func (q *PostgresQueue) Prune(ctx context.Context, keepCompleted, keepFailed int) (int, error) {
	total := 0
	for state, keep := range map[string]int{model.JobStateCompleted: keepCompleted, model.JobStateFailed: keepFailed} {
		res, err := q.DB.ExecContext(ctx, `
            DELETE FROM queue_jobs WHERE id IN (
                SELECT id FROM queue_jobs
                WHERE state = $1
                ORDER BY finished_at DESC
                OFFSET $2
            )`, state, keep)
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += int(n)
	}
	return total, nil
}

// RecoverStale puts jobs whose worker disappeared back in the queue.
func (q *PostgresQueue) RecoverStale(ctx context.Context, olderThan time.Duration) (int, error) {
	res, err := q.DB.ExecContext(ctx, `
        UPDATE queue_jobs
        SET state = 'waiting', last_error = 'recovered stale active job', updated_at = NOW()
        WHERE state = 'active' AND updated_at < $1`, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

var _ Backend = (*PostgresQueue)(nil)
