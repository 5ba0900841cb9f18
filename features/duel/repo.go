package duel

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// Create inserts the duel and its responses in a single transaction so a
// half-written duel never becomes visible.
func (r *PostgresRepo) Create(ctx context.Context, d *Duel, responses []*Response) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx,
		`INSERT INTO duels (user_id, channel_id, thread_ts, prompt, conversation)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`,
		d.UserID, d.ChannelID, d.ThreadTS, d.Prompt, jsonbArg(d.Conversation),
	).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return err
	}

	for _, resp := range responses {
		resp.DuelID = d.ID
		err = tx.QueryRowContext(ctx,
			`INSERT INTO duel_responses (duel_id, variant, response_text, model_name, system_prompt, temperature, max_tokens)
			 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at`,
			resp.DuelID, resp.Variant, resp.ResponseText, resp.ModelName, resp.SystemPrompt, resp.Temperature, resp.MaxTokens,
		).Scan(&resp.ID, &resp.CreatedAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *PostgresRepo) SetPostedTS(ctx context.Context, responseID int64, ts string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE duel_responses SET posted_ts = $2 WHERE id = $1`, responseID, ts)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordVote inserts the vote, or replaces the variant when the voter already
// voted on this duel. The unique constraint on (duel_id, voter_id) decides.
func (r *PostgresRepo) RecordVote(ctx context.Context, v *Vote) error {
	return r.db.QueryRowContext(ctx,
		`INSERT INTO duel_votes (duel_id, voter_id, chosen_variant)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (duel_id, voter_id) DO UPDATE SET
			chosen_variant = EXCLUDED.chosen_variant,
			voted_at = NOW()
		 RETURNING id, voted_at`,
		v.DuelID, v.VoterID, v.ChosenVariant,
	).Scan(&v.ID, &v.VotedAt)
}

func (r *PostgresRepo) Get(ctx context.Context, id int64) (*Duel, error) {
	d := &Duel{}
	var conversation []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, channel_id, thread_ts, prompt, conversation, created_at
		 FROM duels WHERE id = $1`, id,
	).Scan(&d.ID, &d.UserID, &d.ChannelID, &d.ThreadTS, &d.Prompt, &conversation, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d.Conversation = conversation
	return d, nil
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM duels`).Scan(&count)
	return count, err
}

func (r *PostgresRepo) CountSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM duels WHERE created_at >= $1`, since).Scan(&count)
	return count, err
}

func (r *PostgresRepo) VoteCountSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM duel_votes WHERE voted_at >= $1`, since).Scan(&count)
	return count, err
}

func (r *PostgresRepo) VoteCountsByVariant(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT chosen_variant, COUNT(*) FROM duel_votes GROUP BY chosen_variant`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var variant string
		var count int
		if err := rows.Scan(&variant, &count); err != nil {
			return nil, err
		}
		counts[variant] = count
	}
	return counts, rows.Err()
}

// lib/pq binds []byte as bytea; JSONB columns need text.
func jsonbArg(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
