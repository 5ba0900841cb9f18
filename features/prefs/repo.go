package prefs

import (
	"context"
	"database/sql"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Get(ctx context.Context, userID string) (*Preferences, error) {
	p := &Preferences{}
	query := `SELECT user_id, mode,
		variant_a_model, variant_a_temperature, variant_a_system_prompt,
		variant_b_model, variant_b_temperature, variant_b_system_prompt,
		chat_model, chat_temperature, chat_system_prompt
		FROM user_preferences WHERE user_id = $1`
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&p.UserID, &p.Mode,
		&p.VariantA.Model, &p.VariantA.Temperature, &p.VariantA.SystemPrompt,
		&p.VariantB.Model, &p.VariantB.Temperature, &p.VariantB.SystemPrompt,
		&p.Chat.Model, &p.Chat.Temperature, &p.Chat.SystemPrompt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *PostgresRepo) Upsert(ctx context.Context, p *Preferences) error {
	query := `
		INSERT INTO user_preferences (user_id, mode,
			variant_a_model, variant_a_temperature, variant_a_system_prompt,
			variant_b_model, variant_b_temperature, variant_b_system_prompt,
			chat_model, chat_temperature, chat_system_prompt)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id) DO UPDATE SET
			mode = EXCLUDED.mode,
			variant_a_model = EXCLUDED.variant_a_model,
			variant_a_temperature = EXCLUDED.variant_a_temperature,
			variant_a_system_prompt = EXCLUDED.variant_a_system_prompt,
			variant_b_model = EXCLUDED.variant_b_model,
			variant_b_temperature = EXCLUDED.variant_b_temperature,
			variant_b_system_prompt = EXCLUDED.variant_b_system_prompt,
			chat_model = EXCLUDED.chat_model,
			chat_temperature = EXCLUDED.chat_temperature,
			chat_system_prompt = EXCLUDED.chat_system_prompt,
			updated_at = NOW()
	`
	_, err := r.db.ExecContext(ctx, query,
		p.UserID, p.Mode,
		p.VariantA.Model, p.VariantA.Temperature, p.VariantA.SystemPrompt,
		p.VariantB.Model, p.VariantB.Temperature, p.VariantB.SystemPrompt,
		p.Chat.Model, p.Chat.Temperature, p.Chat.SystemPrompt,
	)
	return err
}
