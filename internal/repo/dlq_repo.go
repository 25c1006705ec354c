package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brokerwiz/quoterd/internal/domain"
)

// DLQRepo — durable, append-only хранилище Dead Letter Queue.
//
// Записи пишутся один раз и движком никогда не изменяются и не
// удаляются; ручной повтор из DLQ помечает запись requeued_at,
// не трогая остальные поля.
//
// Схема:
//
//	CREATE TABLE dlq_entries (
//	    job_id           TEXT PRIMARY KEY,
//	    target           TEXT NOT NULL,
//	    job              JSONB NOT NULL,
//	    last_error       JSONB,
//	    terminal_reason  TEXT NOT NULL,
//	    dead_lettered_at TIMESTAMPTZ NOT NULL,
//	    requeued_at      TIMESTAMPTZ
//	);
//	CREATE INDEX dlq_target_time_idx ON dlq_entries (target, dead_lettered_at);
type DLQRepo struct {
	pool *pgxpool.Pool
}

// NewDLQRepo создаёт новый DLQRepo.
func NewDLQRepo(pool *pgxpool.Pool) *DLQRepo {
	return &DLQRepo{pool: pool}
}

// DLQFilter — параметры выборки DLQ-записей.
type DLQFilter struct {
	Target string
	From   time.Time
	To     time.Time
	Limit  int
}

// Append дописывает DLQ-запись.
//
// Повторная доставка уже мёртвого job'а (дубликат от брокера)
// не перезаписывает первую запись: ON CONFLICT DO NOTHING.
func (r *DLQRepo) Append(ctx context.Context, entry *domain.DLQEntry) error {
	jobJSON, err := json.Marshal(entry.Job)
	if err != nil {
		return fmt.Errorf("marshal job snapshot: %w", err)
	}

	var lastErrJSON []byte
	if entry.LastError != nil {
		if lastErrJSON, err = json.Marshal(entry.LastError); err != nil {
			return fmt.Errorf("marshal last_error: %w", err)
		}
	}

	query := `
		INSERT INTO dlq_entries (job_id, target, job, last_error, terminal_reason, dead_lettered_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job_id) DO NOTHING
	`
	_, err = r.pool.Exec(ctx, query,
		entry.JobID,
		entry.Target,
		jobJSON,
		lastErrJSON,
		entry.TerminalReason,
		entry.DeadLetteredAt,
	)
	if err != nil {
		return fmt.Errorf("append dlq entry: %w", err)
	}
	return nil
}

// List возвращает DLQ-записи по фильтру (свежие первыми).
func (r *DLQRepo) List(ctx context.Context, filter DLQFilter) ([]domain.DLQEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT job_id, target, job, last_error, terminal_reason, dead_lettered_at
		FROM dlq_entries
		WHERE ($1 = '' OR target = $1)
		  AND ($2::timestamptz IS NULL OR dead_lettered_at >= $2)
		  AND ($3::timestamptz IS NULL OR dead_lettered_at <= $3)
		ORDER BY dead_lettered_at DESC
		LIMIT $4
	`

	var from, to *time.Time
	if !filter.From.IsZero() {
		from = &filter.From
	}
	if !filter.To.IsZero() {
		to = &filter.To
	}

	rows, err := r.pool.Query(ctx, query, filter.Target, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("list dlq entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.DLQEntry
	for rows.Next() {
		entry, err := scanDLQEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// GetByJobID возвращает DLQ-запись по job_id.
func (r *DLQRepo) GetByJobID(ctx context.Context, jobID string) (*domain.DLQEntry, error) {
	query := `
		SELECT job_id, target, job, last_error, terminal_reason, dead_lettered_at
		FROM dlq_entries
		WHERE job_id = $1
	`
	return scanDLQEntry(r.pool.QueryRow(ctx, query, jobID))
}

// MarkRequeued помечает запись как вручную переопубликованную.
// Сама запись остаётся в DLQ для истории.
func (r *DLQRepo) MarkRequeued(ctx context.Context, jobID string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE dlq_entries SET requeued_at = now() WHERE job_id = $1
	`, jobID)
	if err != nil {
		return fmt.Errorf("mark dlq entry requeued: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountByTarget возвращает глубину DLQ по target'ам.
func (r *DLQRepo) CountByTarget(ctx context.Context) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT target, COUNT(*) FROM dlq_entries GROUP BY target
	`)
	if err != nil {
		return nil, fmt.Errorf("count dlq by target: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var target string
		var count int
		if err := rows.Scan(&target, &count); err != nil {
			return nil, fmt.Errorf("scan dlq count: %w", err)
		}
		counts[target] = count
	}
	return counts, rows.Err()
}

// --- Helpers ---

func scanDLQEntry(row pgx.Row) (*domain.DLQEntry, error) {
	var entry domain.DLQEntry
	var jobJSON, lastErrJSON []byte

	err := row.Scan(
		&entry.JobID,
		&entry.Target,
		&jobJSON,
		&lastErrJSON,
		&entry.TerminalReason,
		&entry.DeadLetteredAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan dlq entry: %w", err)
	}

	if err := json.Unmarshal(jobJSON, &entry.Job); err != nil {
		return nil, fmt.Errorf("unmarshal job snapshot: %w", err)
	}
	if lastErrJSON != nil {
		if err := json.Unmarshal(lastErrJSON, &entry.LastError); err != nil {
			return nil, fmt.Errorf("unmarshal last_error: %w", err)
		}
	}

	return &entry, nil
}
