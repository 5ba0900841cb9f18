package prefs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Response modes. Duel answers every prompt twice, once per variant, and asks
// the channel to vote. Chat answers once with the user's chat settings.
const (
	ModeDuel = "duel"
	ModeChat = "chat"
)

// DefaultMaxTokens caps generation length for every variant.
const DefaultMaxTokens = 2000

var (
	ErrInvalidMode        = errors.New("invalid mode")
	ErrInvalidTemperature = errors.New("temperature out of range")
)

// VariantSettings configure one generation variant.
type VariantSettings struct {
	Model        string  `json:"model"`
	Temperature  float32 `json:"temperature"`
	SystemPrompt string  `json:"systemPrompt"`
}

// Preferences hold a user's per-variant model settings. Users without a
// stored row get Defaults.
type Preferences struct {
	UserID   string          `json:"userId"`
	Mode     string          `json:"mode"`
	VariantA VariantSettings `json:"variantA"`
	VariantB VariantSettings `json:"variantB"`
	Chat     VariantSettings `json:"chat"`
}

func Defaults(userID string) *Preferences {
	return &Preferences{
		UserID:   userID,
		Mode:     ModeDuel,
		VariantA: VariantSettings{Model: "gemini-2.0-flash", Temperature: 0.3},
		VariantB: VariantSettings{Model: "gemini-2.5-pro", Temperature: 1.0},
		Chat:     VariantSettings{Model: "gemini-2.0-flash", Temperature: 0.7},
	}
}

type Repository interface {
	Get(ctx context.Context, userID string) (*Preferences, error)
	Upsert(ctx context.Context, p *Preferences) error
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Get returns the stored preferences, falling back to defaults for users who
// never saved any.
func (s *Service) Get(ctx context.Context, userID string) (*Preferences, error) {
	p, err := s.repo.Get(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return Defaults(userID), nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) Update(ctx context.Context, p *Preferences) error {
	if p.Mode != ModeDuel && p.Mode != ModeChat {
		return fmt.Errorf("%w: %q", ErrInvalidMode, p.Mode)
	}
	for _, v := range []VariantSettings{p.VariantA, p.VariantB, p.Chat} {
		if v.Temperature < 0 || v.Temperature > 2 {
			return fmt.Errorf("%w: %v", ErrInvalidTemperature, v.Temperature)
		}
	}
	return s.repo.Upsert(ctx, p)
}
