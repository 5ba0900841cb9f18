package job_test

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbiter/features/job"
)

func jobColumns() []string {
	return []string{"id", "natural_key", "kind", "payload", "status", "created_at", "started_at", "completed_at", "error_message", "retry_count"}
}

func TestPostgresRepo_Enqueue(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := job.NewPostgresRepo(db)

	t.Run("Created", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO jobs (natural_key, kind, payload) VALUES ($1, $2, $3) ON CONFLICT (natural_key) DO NOTHING RETURNING id")).
			WithArgs("C1:100", "message", `{"text":"hello"}`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

		id, created, err := repo.Enqueue(context.Background(), "C1:100", "message", []byte(`{"text":"hello"}`))
		assert.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, int64(7), id)
	})

	t.Run("Duplicate key is not an error", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO jobs")).
			WithArgs("C1:100", "message", `{}`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		id, created, err := repo.Enqueue(context.Background(), "C1:100", "message", []byte(`{}`))
		assert.NoError(t, err)
		assert.False(t, created)
		assert.Zero(t, id)
	})

	t.Run("Store unavailable", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO jobs")).
			WillReturnError(errors.New("connection refused"))

		_, _, err := repo.Enqueue(context.Background(), "C1:100", "message", []byte(`{}`))
		assert.True(t, errors.Is(err, job.ErrStoreUnavailable))
	})
}

func TestPostgresRepo_ClaimNext(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := job.NewPostgresRepo(db)

	t.Run("Claims oldest queued job", func(t *testing.T) {
		now := time.Now()
		rows := sqlmock.NewRows(jobColumns()).
			AddRow(1, "C1:100", "message", []byte(`{"text":"hello"}`), "processing", now, now, nil, nil, 0)

		mock.ExpectQuery("WITH next AS").WillReturnRows(rows)

		j, err := repo.ClaimNext(context.Background())
		require.NoError(t, err)
		require.NotNil(t, j)
		assert.Equal(t, int64(1), j.ID)
		assert.Equal(t, job.StatusProcessing, j.Status)
		assert.NotNil(t, j.StartedAt)
		assert.Nil(t, j.CompletedAt)
		assert.Empty(t, j.ErrorMessage)
	})

	t.Run("Empty queue returns nil without error", func(t *testing.T) {
		mock.ExpectQuery("WITH next AS").WillReturnRows(sqlmock.NewRows(jobColumns()))

		j, err := repo.ClaimNext(context.Background())
		assert.NoError(t, err)
		assert.Nil(t, j)
	})

	t.Run("Store unavailable", func(t *testing.T) {
		mock.ExpectQuery("WITH next AS").WillReturnError(errors.New("dial tcp: connect refused"))

		_, err := repo.ClaimNext(context.Background())
		assert.True(t, errors.Is(err, job.ErrStoreUnavailable))
	})
}

func TestPostgresRepo_MarkCompleted(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := job.NewPostgresRepo(db)

	t.Run("Success", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs SET status = 'completed', completed_at = NOW() WHERE id = $1 AND status = 'processing'")).
			WithArgs(int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.MarkCompleted(context.Background(), 1)
		assert.NoError(t, err)
	})

	t.Run("Missing or terminal job", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs SET status = 'completed'")).
			WithArgs(int64(99)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.MarkCompleted(context.Background(), 99)
		assert.True(t, errors.Is(err, job.ErrNotFound))
	})
}

func TestPostgresRepo_MarkFailed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := job.NewPostgresRepo(db)

	t.Run("Records message and bumps retry count", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs SET status = 'failed', completed_at = COALESCE(completed_at, NOW()), error_message = $2, retry_count = retry_count + 1 WHERE id = $1 AND status <> 'completed'")).
			WithArgs(int64(1), "model call failed").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.MarkFailed(context.Background(), 1, "model call failed")
		assert.NoError(t, err)
	})

	t.Run("Truncates long messages to 500 chars", func(t *testing.T) {
		long := strings.Repeat("x", 900)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs SET status = 'failed'")).
			WithArgs(int64(1), strings.Repeat("x", 500)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.MarkFailed(context.Background(), 1, long)
		assert.NoError(t, err)
	})

	t.Run("Completed job stays completed", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs SET status = 'failed'")).
			WithArgs(int64(2), "late failure").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.MarkFailed(context.Background(), 2, "late failure")
		assert.True(t, errors.Is(err, job.ErrNotFound))
	})
}

func TestPostgresRepo_PurgeOlderThan(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := job.NewPostgresRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM jobs WHERE status IN ('completed', 'failed') AND completed_at < $1")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	count, err := repo.PurgeOlderThan(context.Background(), 7*24*time.Hour)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestPostgresRepo_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := job.NewPostgresRepo(db)

	t.Run("Success", func(t *testing.T) {
		now := time.Now()
		rows := sqlmock.NewRows(jobColumns()).
			AddRow(3, "C1:200", "app_mention", []byte(`{}`), "failed", now, now, now, "boom", 2)

		mock.ExpectQuery(regexp.QuoteMeta("SELECT id, natural_key, kind, payload, status, created_at, started_at, completed_at, error_message, retry_count FROM jobs WHERE id = $1")).
			WithArgs(int64(3)).
			WillReturnRows(rows)

		j, err := repo.Get(context.Background(), 3)
		require.NoError(t, err)
		assert.Equal(t, "C1:200", j.NaturalKey)
		assert.Equal(t, job.StatusFailed, j.Status)
		assert.Equal(t, "boom", j.ErrorMessage)
		assert.Equal(t, 2, j.RetryCount)
	})

	t.Run("Not found", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("FROM jobs WHERE id = $1")).
			WithArgs(int64(42)).
			WillReturnRows(sqlmock.NewRows(jobColumns()))

		_, err := repo.Get(context.Background(), 42)
		assert.True(t, errors.Is(err, job.ErrNotFound))
	})
}

func TestPostgresRepo_ListByStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := job.NewPostgresRepo(db)

	now := time.Now()
	rows := sqlmock.NewRows(jobColumns()).
		AddRow(2, "C1:200", "message", []byte(`{}`), "failed", now, now, now, "boom", 1).
		AddRow(1, "C1:100", "message", []byte(`{}`), "failed", now, now, now, "boom", 1)

	mock.ExpectQuery(regexp.QuoteMeta("FROM jobs WHERE status = $1 ORDER BY created_at DESC, id DESC LIMIT $2")).
		WithArgs(job.StatusFailed, 50).
		WillReturnRows(rows)

	jobs, err := repo.ListByStatus(context.Background(), job.StatusFailed, 50)
	assert.NoError(t, err)
	assert.Len(t, jobs, 2)
	assert.Equal(t, int64(2), jobs[0].ID)
}

func TestPostgresRepo_CountByStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := job.NewPostgresRepo(db)

	rows := sqlmock.NewRows([]string{"status", "count"}).
		AddRow("queued", 4).
		AddRow("failed", 1)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT status, COUNT(*) FROM jobs GROUP BY status")).
		WillReturnRows(rows)

	counts, err := repo.CountByStatus(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 4, counts[job.StatusQueued])
	assert.Equal(t, 1, counts[job.StatusFailed])
	assert.Zero(t, counts[job.StatusCompleted])
}
