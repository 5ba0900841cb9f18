package duel_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbiter/features/duel"
)

func TestPostgresRepo_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := duel.NewPostgresRepo(db)

	t.Run("Success", func(t *testing.T) {
		now := time.Now()

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO duels")).
			WithArgs("U1", "C1", "100", "what is go?", `[{"role":"user","content":"what is go?"}]`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(4, now))
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO duel_responses")).
			WithArgs(int64(4), "A", "Go is a language.", "gemini-2.0-flash", "", float32(0.3), 2000).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(10, now))
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO duel_responses")).
			WithArgs(int64(4), "B", "Go is a programming language from Google.", "gemini-2.5-pro", "", float32(1.0), 2000).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(11, now))
		mock.ExpectCommit()

		d := &duel.Duel{
			UserID:       "U1",
			ChannelID:    "C1",
			ThreadTS:     "100",
			Prompt:       "what is go?",
			Conversation: []byte(`[{"role":"user","content":"what is go?"}]`),
		}
		responses := []*duel.Response{
			{Variant: "A", ResponseText: "Go is a language.", ModelName: "gemini-2.0-flash", Temperature: 0.3, MaxTokens: 2000},
			{Variant: "B", ResponseText: "Go is a programming language from Google.", ModelName: "gemini-2.5-pro", Temperature: 1.0, MaxTokens: 2000},
		}

		err := repo.Create(context.Background(), d, responses)
		require.NoError(t, err)
		assert.Equal(t, int64(4), d.ID)
		assert.Equal(t, int64(10), responses[0].ID)
		assert.Equal(t, int64(4), responses[0].DuelID)
		assert.Equal(t, int64(11), responses[1].ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Rolls back when a response insert fails", func(t *testing.T) {
		now := time.Now()

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO duels")).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(5, now))
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO duel_responses")).
			WillReturnError(errors.New("constraint violation"))
		mock.ExpectRollback()

		d := &duel.Duel{UserID: "U1", ChannelID: "C1", ThreadTS: "100", Prompt: "p"}
		responses := []*duel.Response{
			{Variant: "A", ResponseText: "a"},
			{Variant: "B", ResponseText: "b"},
		}

		err := repo.Create(context.Background(), d, responses)
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresRepo_SetPostedTS(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := duel.NewPostgresRepo(db)

	t.Run("Success", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("UPDATE duel_responses SET posted_ts = $2 WHERE id = $1")).
			WithArgs(int64(10), "101.5").
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.SetPostedTS(context.Background(), 10, "101.5"))
	})

	t.Run("Unknown response", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("UPDATE duel_responses SET posted_ts = $2 WHERE id = $1")).
			WithArgs(int64(99), "101.5").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.SetPostedTS(context.Background(), 99, "101.5")
		assert.True(t, errors.Is(err, duel.ErrNotFound))
	})
}

func TestPostgresRepo_RecordVote(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := duel.NewPostgresRepo(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO duel_votes")).
		WithArgs(int64(4), "U2", "B").
		WillReturnRows(sqlmock.NewRows([]string{"id", "voted_at"}).AddRow(1, now))

	v := &duel.Vote{DuelID: 4, VoterID: "U2", ChosenVariant: "B"}
	err = repo.RecordVote(context.Background(), v)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.ID)
	assert.WithinDuration(t, now, v.VotedAt, time.Second)
}

func TestPostgresRepo_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := duel.NewPostgresRepo(db)

	t.Run("Success", func(t *testing.T) {
		now := time.Now()
		rows := sqlmock.NewRows([]string{"id", "user_id", "channel_id", "thread_ts", "prompt", "conversation", "created_at"}).
			AddRow(4, "U1", "C1", "100", "what is go?", []byte(`[]`), now)

		mock.ExpectQuery(regexp.QuoteMeta("FROM duels WHERE id = $1")).
			WithArgs(int64(4)).
			WillReturnRows(rows)

		d, err := repo.Get(context.Background(), 4)
		require.NoError(t, err)
		assert.Equal(t, "U1", d.UserID)
		assert.Equal(t, "what is go?", d.Prompt)
	})

	t.Run("Not found", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("FROM duels WHERE id = $1")).
			WithArgs(int64(99)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "channel_id", "thread_ts", "prompt", "conversation", "created_at"}))

		_, err := repo.Get(context.Background(), 99)
		assert.True(t, errors.Is(err, duel.ErrNotFound))
	})
}

func TestPostgresRepo_VoteCountsByVariant(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := duel.NewPostgresRepo(db)

	rows := sqlmock.NewRows([]string{"chosen_variant", "count"}).
		AddRow("A", 7).
		AddRow("B", 3)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT chosen_variant, COUNT(*) FROM duel_votes GROUP BY chosen_variant")).
		WillReturnRows(rows)

	counts, err := repo.VoteCountsByVariant(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, counts["A"])
	assert.Equal(t, 3, counts["B"])
}

func TestPostgresRepo_CountSince(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := duel.NewPostgresRepo(db)
	since := time.Now().Add(-7 * 24 * time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM duels WHERE created_at >= $1")).
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	count, err := repo.CountSince(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestPostgresRepo_VoteCountSince(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := duel.NewPostgresRepo(db)
	since := time.Now().Add(-7 * 24 * time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM duel_votes WHERE voted_at >= $1")).
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	count, err := repo.VoteCountSince(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}
