// Package postgres provides the durable Postgres-backed job queue.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/grazeapp/menupipe/internal/pipeline"
)

// Config controls the Postgres connection pool and retry behavior.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	BackoffBase     time.Duration
	BackoffCap      time.Duration
}

type dbConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Queue is a Postgres-backed job queue. Claims are made exclusive with
// FOR UPDATE SKIP LOCKED so concurrent workers never double-claim.
type Queue struct {
	pool        dbConn
	clock       pipeline.Clock
	backoffBase time.Duration
	backoffCap  time.Duration
}

// NewQueue connects a pool and constructs the queue.
func NewQueue(ctx context.Context, cfg Config, clock pipeline.Clock) (*Queue, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return newQueue(pool, cfg, clock), nil
}

// NewQueueWithPool constructs a queue from an existing pool (primarily for testing).
func NewQueueWithPool(pool dbConn, cfg Config, clock pipeline.Clock) (*Queue, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return newQueue(pool, cfg, clock), nil
}

func newQueue(pool dbConn, cfg Config, clock pipeline.Clock) *Queue {
	base := cfg.BackoffBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	ceiling := cfg.BackoffCap
	if ceiling <= 0 {
		ceiling = time.Minute
	}
	return &Queue{pool: pool, clock: clock, backoffBase: base, backoffCap: ceiling}
}

// Close releases the underlying pool resources.
func (q *Queue) Close() {
	if q == nil || q.pool == nil {
		return
	}
	q.pool.Close()
}

// Enqueue persists a new pending job.
func (q *Queue) Enqueue(ctx context.Context, job pipeline.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = pipeline.DefaultMaxAttempts
	}
	now := q.clock.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.NotBefore.IsZero() {
		job.NotBefore = job.CreatedAt
	}
	const query = `
INSERT INTO jobs (id, type, status, payload, priority, attempts, max_attempts, created_at, not_before)
VALUES ($1, $2, 'pending', $3, $4, 0, $5, $6, $7)`
	if _, err := q.pool.Exec(ctx, query,
		job.ID, string(job.Type), []byte(job.Payload), job.Priority,
		job.MaxAttempts, job.CreatedAt, job.NotBefore,
	); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Claim atomically moves the highest-priority eligible pending job of one of
// the given types to processing. The inner SELECT uses SKIP LOCKED so two
// workers never race onto the same row.
func (q *Queue) Claim(ctx context.Context, workerID string, types ...pipeline.JobType) (pipeline.Job, bool, error) {
	if workerID == "" {
		return pipeline.Job{}, false, fmt.Errorf("worker id is required")
	}
	typeNames := make([]string, 0, len(types))
	for _, t := range types {
		typeNames = append(typeNames, string(t))
	}
	now := q.clock.Now()

	const query = `
UPDATE jobs SET
	status = 'processing',
	worker_id = $1,
	attempts = attempts + 1,
	started_at = $2
WHERE id = (
	SELECT id FROM jobs
	WHERE status = 'pending'
	  AND type = ANY($3)
	  AND not_before <= $2
	ORDER BY priority DESC, created_at ASC
	FOR UPDATE SKIP LOCKED
	LIMIT 1
)
RETURNING id, type, status, payload, priority, attempts, max_attempts,
	worker_id, created_at, not_before, started_at, completed_at, last_error`

	row := q.pool.QueryRow(ctx, query, workerID, now, typeNames)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pipeline.Job{}, false, nil
		}
		return pipeline.Job{}, false, fmt.Errorf("claim job: %w", err)
	}
	return job, true, nil
}

// Complete marks a processing job completed.
func (q *Queue) Complete(ctx context.Context, jobID string) error {
	const query = `
UPDATE jobs SET status = 'completed', completed_at = $2
WHERE id = $1 AND status = 'processing'`
	tag, err := q.pool.Exec(ctx, query, jobID, q.clock.Now())
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %q is not processing: %w", jobID, pipeline.ErrNotFound)
	}
	return nil
}

// Fail records a failure. Transient failures requeue with exponential
// backoff; permanent failures and exhausted jobs go terminal-failed.
func (q *Queue) Fail(ctx context.Context, jobID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	now := q.clock.Now()

	if pipeline.IsPermanent(cause) {
		const query = `
UPDATE jobs SET status = 'failed', last_error = $2, completed_at = $3
WHERE id = $1 AND status = 'processing'`
		tag, err := q.pool.Exec(ctx, query, jobID, msg, now)
		if err != nil {
			return fmt.Errorf("fail job: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("job %q is not processing: %w", jobID, pipeline.ErrNotFound)
		}
		return nil
	}

	// One statement decides retry vs terminal so a concurrent observer never
	// sees an intermediate state. Backoff is base × 2^(attempts-1), capped.
	const query = `
UPDATE jobs SET
	status = CASE WHEN attempts >= max_attempts THEN 'failed' ELSE 'pending' END,
	worker_id = CASE WHEN attempts >= max_attempts THEN worker_id ELSE NULL END,
	completed_at = CASE WHEN attempts >= max_attempts THEN $3::timestamptz ELSE NULL END,
	not_before = $3::timestamptz + LEAST($4::bigint * (1 << LEAST(attempts - 1, 30)), $5::bigint) * interval '1 millisecond',
	last_error = $2
WHERE id = $1 AND status = 'processing'`
	tag, err := q.pool.Exec(ctx, query, jobID, msg, now,
		q.backoffBase.Milliseconds(), q.backoffCap.Milliseconds())
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %q is not processing: %w", jobID, pipeline.ErrNotFound)
	}
	return nil
}

// Stats reports pending/processing/failed counts per job type.
func (q *Queue) Stats(ctx context.Context) (map[pipeline.JobType]pipeline.StageStats, error) {
	const query = `
SELECT type, status, COUNT(*) FROM jobs
WHERE status IN ('pending', 'processing', 'failed')
GROUP BY type, status`
	rows, err := q.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query job stats: %w", err)
	}
	defer rows.Close()

	out := make(map[pipeline.JobType]pipeline.StageStats)
	for rows.Next() {
		var typ, status string
		var count int
		if err := rows.Scan(&typ, &status, &count); err != nil {
			return nil, fmt.Errorf("scan job stats: %w", err)
		}
		st := out[pipeline.JobType(typ)]
		switch pipeline.JobStatus(status) {
		case pipeline.JobStatusPending:
			st.Pending = count
		case pipeline.JobStatusProcessing:
			st.Processing = count
		case pipeline.JobStatusFailed:
			st.Failed = count
		}
		out[pipeline.JobType(typ)] = st
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job stats: %w", err)
	}
	return out, nil
}

func scanJob(row pgx.Row) (pipeline.Job, error) {
	var (
		job       pipeline.Job
		typ       string
		status    string
		payload   []byte
		workerID  *string
		lastError *string
	)
	err := row.Scan(&job.ID, &typ, &status, &payload, &job.Priority, &job.Attempts,
		&job.MaxAttempts, &workerID, &job.CreatedAt, &job.NotBefore,
		&job.StartedAt, &job.CompletedAt, &lastError)
	if err != nil {
		return pipeline.Job{}, err
	}
	job.Type = pipeline.JobType(typ)
	job.Status = pipeline.JobStatus(status)
	job.Payload = payload
	if workerID != nil {
		job.WorkerID = *workerID
	}
	if lastError != nil {
		job.LastError = *lastError
	}
	return job, nil
}
