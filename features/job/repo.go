package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type Repository interface {
	Enqueue(ctx context.Context, naturalKey, kind string, payload []byte) (int64, bool, error)
	ClaimNext(ctx context.Context) (*Job, error)
	MarkCompleted(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error
	PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error)
	Get(ctx context.Context, id int64) (*Job, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]Job, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// Enqueue inserts a job unless one already exists for the natural key. The
// unique constraint is the dedup authority; a conflict returns created=false
// with no error and no mutation.
func (r *PostgresRepo) Enqueue(ctx context.Context, naturalKey, kind string, payload []byte) (int64, bool, error) {
	var id int64
	query := `INSERT INTO jobs (natural_key, kind, payload) VALUES ($1, $2, $3) ON CONFLICT (natural_key) DO NOTHING RETURNING id`
	err := r.db.QueryRowContext(ctx, query, naturalKey, kind, string(payload)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return id, true, nil
}

// ClaimNext atomically moves the oldest queued job to processing and returns
// it. FOR UPDATE SKIP LOCKED keeps concurrent claimers off the same row; the
// id tiebreak makes the order deterministic for equal timestamps. Returns
// (nil, nil) when the queue is empty.
func (r *PostgresRepo) ClaimNext(ctx context.Context) (*Job, error) {
	query := `
		WITH next AS (
			SELECT id FROM jobs
			WHERE status = 'queued'
			ORDER BY created_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE jobs SET status = 'processing', started_at = NOW()
		FROM next
		WHERE jobs.id = next.id
		RETURNING jobs.id, jobs.natural_key, jobs.kind, jobs.payload, jobs.status, jobs.created_at, jobs.started_at, jobs.completed_at, jobs.error_message, jobs.retry_count`
	j, err := scanJob(r.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return j, nil
}

// MarkCompleted finishes a processing job. Terminal rows are never touched;
// a miss surfaces as ErrNotFound so callers can log and move on.
func (r *PostgresRepo) MarkCompleted(ctx context.Context, id int64) error {
	query := `UPDATE jobs SET status = 'completed', completed_at = NOW() WHERE id = $1 AND status = 'processing'`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return checkAffected(res)
}

// MarkFailed records a failure and bumps the retry counter. The guard keeps
// completed jobs final while letting repeated failure marks keep counting.
// completed_at is only stamped on the first terminal transition.
func (r *PostgresRepo) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	query := `UPDATE jobs SET status = 'failed', completed_at = COALESCE(completed_at, NOW()), error_message = $2, retry_count = retry_count + 1 WHERE id = $1 AND status <> 'completed'`
	res, err := r.db.ExecContext(ctx, query, id, truncate(errMsg, MaxErrorMessageLen))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return checkAffected(res)
}

// PurgeOlderThan deletes terminal jobs whose completion predates the
// retention window. Queued and processing rows are never eligible.
func (r *PostgresRepo) PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	query := `DELETE FROM jobs WHERE status IN ('completed', 'failed') AND completed_at < $1`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return affected, nil
}

func (r *PostgresRepo) Get(ctx context.Context, id int64) (*Job, error) {
	query := `SELECT id, natural_key, kind, payload, status, created_at, started_at, completed_at, error_message, retry_count FROM jobs WHERE id = $1`
	j, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return j, nil
}

func (r *PostgresRepo) ListByStatus(ctx context.Context, status Status, limit int) ([]Job, error) {
	query := `SELECT id, natural_key, kind, payload, status, created_at, started_at, completed_at, error_message, retry_count FROM jobs WHERE status = $1 ORDER BY created_at DESC, id DESC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		jobs = append(jobs, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return jobs, nil
}

func (r *PostgresRepo) CountByStatus(ctx context.Context) (map[Status]int, error) {
	query := `SELECT status, COUNT(*) FROM jobs GROUP BY status`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return counts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	j := &Job{}
	var payload []byte
	var startedAt, completedAt sql.NullTime
	var errMsg sql.NullString
	if err := row.Scan(&j.ID, &j.NaturalKey, &j.Kind, &payload, &j.Status, &j.CreatedAt, &startedAt, &completedAt, &errMsg, &j.RetryCount); err != nil {
		return nil, err
	}
	j.Payload = json.RawMessage(payload)
	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	j.ErrorMessage = errMsg.String
	return j, nil
}

func checkAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
