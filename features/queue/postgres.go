package queue

import (
	"context"
	"database/sql"
	"time"
)

// PostgresBackend stores jobs in the integration_jobs table. It is the
// durable backend used when no broker is configured; the table is the only
// cross-instance shared resource in the pipeline.
type PostgresBackend struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresBackend(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{db: db, now: time.Now}
}

func (b *PostgresBackend) Mode() string { return "postgres" }

func (b *PostgresBackend) Enqueue(ctx context.Context, j *Job) error {
	query := `INSERT INTO integration_jobs (queue_key, type, payload, status, attempts, max_attempts, next_attempt_at)
		VALUES ($1, $2, $3, 'PENDING', 0, $4, $5)
		ON CONFLICT (queue_key) DO UPDATE SET payload = EXCLUDED.payload, max_attempts = EXCLUDED.max_attempts, updated_at = NOW()`
	_, err := b.db.ExecContext(ctx, query, j.QueueKey, j.Type, []byte(j.Payload), j.MaxAttempts, b.now())
	return err
}

func (b *PostgresBackend) MarkDone(ctx context.Context, key, errMsg string) error {
	if errMsg != "" {
		query := `UPDATE integration_jobs SET status = 'DEAD', attempts = attempts + 1, last_error = $2, updated_at = NOW() WHERE queue_key = $1`
		_, err := b.db.ExecContext(ctx, query, key, errMsg)
		return err
	}
	query := `UPDATE integration_jobs SET status = 'DONE', last_error = NULL, updated_at = NOW() WHERE queue_key = $1`
	_, err := b.db.ExecContext(ctx, query, key)
	return err
}

func (b *PostgresBackend) ClaimDue(ctx context.Context, limit int) ([]Job, error) {
	query := `SELECT queue_key, type, payload, status, attempts, max_attempts, next_attempt_at, last_error, created_at, updated_at
		FROM integration_jobs
		WHERE status IN ('PENDING', 'RETRY') AND next_attempt_at <= $1
		ORDER BY created_at ASC
		LIMIT $2`
	rows, err := b.db.QueryContext(ctx, query, b.now(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		var payload []byte
		var lastError sql.NullString
		if err := rows.Scan(&j.QueueKey, &j.Type, &payload, &j.Status, &j.Attempts, &j.MaxAttempts, &j.NextAttemptAt, &lastError, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, err
		}
		j.Payload = payload
		j.LastError = lastError.String
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Claim is a plain UPDATE after the SELECT, not an atomic conditional
	// update. Overlapping batch triggers can therefore pick up the same job
	// twice; the trigger endpoint is admin-gated and scheduled singly.
	for i := range jobs {
		query := `UPDATE integration_jobs SET status = 'PROCESSING', locked_at = $2, updated_at = NOW() WHERE queue_key = $1`
		if _, err := b.db.ExecContext(ctx, query, jobs[i].QueueKey, b.now()); err != nil {
			return nil, err
		}
		jobs[i].Status = StatusProcessing
	}
	return jobs, nil
}

func (b *PostgresBackend) Record(ctx context.Context, key string, out Outcome) error {
	if out.LastError != "" {
		query := `UPDATE integration_jobs SET status = $2, attempts = $3, next_attempt_at = $4, last_error = $5, locked_at = NULL, updated_at = NOW() WHERE queue_key = $1`
		_, err := b.db.ExecContext(ctx, query, key, out.Status, out.Attempts, out.NextAttemptAt, out.LastError)
		return err
	}
	query := `UPDATE integration_jobs SET status = $2, attempts = $3, next_attempt_at = $4, locked_at = NULL, updated_at = NOW() WHERE queue_key = $1`
	_, err := b.db.ExecContext(ctx, query, key, out.Status, out.Attempts, out.NextAttemptAt)
	return err
}

func (b *PostgresBackend) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Mode: b.Mode(), Counts: make(map[Status]int)}
	query := `SELECT status, COUNT(*) FROM integration_jobs GROUP BY status`
	rows, err := b.db.QueryContext(ctx, query)
	if err != nil {
		return stats, err
	}
	defer rows.Close()

	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, err
		}
		stats.Counts[status] = count
		stats.Total += count
	}
	return stats, rows.Err()
}

// List returns jobs filtered by status, newest first; used by the admin
// surface to inspect dead-lettered work.
func (b *PostgresBackend) List(ctx context.Context, status Status, limit int) ([]Job, error) {
	query := `SELECT queue_key, type, payload, status, attempts, max_attempts, next_attempt_at, last_error, created_at, updated_at
		FROM integration_jobs
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2`
	rows, err := b.db.QueryContext(ctx, query, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		var payload []byte
		var lastError sql.NullString
		if err := rows.Scan(&j.QueueKey, &j.Type, &payload, &j.Status, &j.Attempts, &j.MaxAttempts, &j.NextAttemptAt, &lastError, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, err
		}
		j.Payload = payload
		j.LastError = lastError.String
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Requeue resets a dead job so the batch processor will pick it up again.
func (b *PostgresBackend) Requeue(ctx context.Context, key string) error {
	query := `UPDATE integration_jobs SET status = 'PENDING', next_attempt_at = $2, last_error = NULL, locked_at = NULL, updated_at = NOW() WHERE queue_key = $1`
	res, err := b.db.ExecContext(ctx, query, key, b.now())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
