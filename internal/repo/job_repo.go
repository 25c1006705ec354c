package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brokerwiz/quoterd/internal/domain"
)

// JobRepo — репозиторий учётных записей jobs.
//
// Схема:
//
//	CREATE TABLE jobs (
//	    job_id      TEXT PRIMARY KEY,
//	    target      TEXT NOT NULL,
//	    attempt     INT NOT NULL,
//	    state       TEXT NOT NULL,
//	    payload     JSONB,
//	    enqueued_at TIMESTAMPTZ NOT NULL,
//	    started_at  TIMESTAMPTZ,
//	    finished_at TIMESTAMPTZ,
//	    last_error  JSONB,
//	    updated_at  TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX jobs_target_state_idx ON jobs (target, state);
type JobRepo struct {
	pool *pgxpool.Pool
}

// NewJobRepo создаёт новый JobRepo.
func NewJobRepo(pool *pgxpool.Pool) *JobRepo {
	return &JobRepo{pool: pool}
}

// Upsert создаёт или обновляет учётную запись job.
//
// Upsert, а не insert: повторная доставка того же job_id (redelivery
// или отложенный повтор) обновляет существующую запись.
func (r *JobRepo) Upsert(ctx context.Context, job *domain.Job) error {
	payloadJSON, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	var lastErrJSON []byte
	if job.LastError != nil {
		if lastErrJSON, err = json.Marshal(job.LastError); err != nil {
			return fmt.Errorf("marshal last_error: %w", err)
		}
	}

	query := `
		INSERT INTO jobs (job_id, target, attempt, state, payload, enqueued_at,
		                  started_at, finished_at, last_error, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (job_id) DO UPDATE SET
		    attempt = EXCLUDED.attempt,
		    state = EXCLUDED.state,
		    started_at = EXCLUDED.started_at,
		    finished_at = EXCLUDED.finished_at,
		    last_error = EXCLUDED.last_error,
		    updated_at = EXCLUDED.updated_at
	`
	_, err = r.pool.Exec(ctx, query,
		job.JobID,
		job.Target,
		job.Attempt,
		job.State,
		payloadJSON,
		job.EnqueuedAt,
		job.StartedAt,
		job.FinishedAt,
		lastErrJSON,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert job: %w", err)
	}
	return nil
}

// GetByID возвращает job по ID.
func (r *JobRepo) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `
		SELECT job_id, target, attempt, state, payload, enqueued_at,
		       started_at, finished_at, last_error, updated_at
		FROM jobs
		WHERE job_id = $1
	`
	return scanJob(r.pool.QueryRow(ctx, query, jobID))
}

// ListByTarget возвращает jobs для target (свежие первыми).
func (r *JobRepo) ListByTarget(ctx context.Context, target string, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT job_id, target, attempt, state, payload, enqueued_at,
		       started_at, finished_at, last_error, updated_at
		FROM jobs
		WHERE target = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, target, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs by target: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// CountByState возвращает количество jobs по состоянию для target.
func (r *JobRepo) CountByState(ctx context.Context, target string, state domain.JobState) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM jobs WHERE target = $1 AND state = $2
	`, target, state).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return count, nil
}

// --- Helpers ---

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	var payloadJSON, lastErrJSON []byte

	err := row.Scan(
		&job.JobID,
		&job.Target,
		&job.Attempt,
		&job.State,
		&payloadJSON,
		&job.EnqueuedAt,
		&job.StartedAt,
		&job.FinishedAt,
		&lastErrJSON,
		&job.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	if payloadJSON != nil {
		if err := json.Unmarshal(payloadJSON, &job.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if lastErrJSON != nil {
		if err := json.Unmarshal(lastErrJSON, &job.LastError); err != nil {
			return nil, fmt.Errorf("unmarshal last_error: %w", err)
		}
	}

	return &job, nil
}
