package duel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Response variants. Every duel has exactly one response per variant.
const (
	VariantA = "A"
	VariantB = "B"
)

var (
	ErrNotFound       = errors.New("duel not found")
	ErrInvalidVariant = errors.New("invalid variant")
)

// Duel is one prompt answered twice so the channel can vote on the better
// response.
type Duel struct {
	ID           int64           `json:"id"`
	UserID       string          `json:"userId"`
	ChannelID    string          `json:"channelId"`
	ThreadTS     string          `json:"threadTs"`
	Prompt       string          `json:"prompt"`
	Conversation json.RawMessage `json:"conversation,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// Response is one generated answer inside a duel, together with the settings
// that produced it.
type Response struct {
	ID           int64     `json:"id"`
	DuelID       int64     `json:"duelId"`
	Variant      string    `json:"variant"`
	ResponseText string    `json:"responseText"`
	ModelName    string    `json:"modelName"`
	SystemPrompt string    `json:"systemPrompt,omitempty"`
	Temperature  float32   `json:"temperature"`
	MaxTokens    int       `json:"maxTokens"`
	PostedTS     string    `json:"postedTs,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Vote records which variant a user preferred. One vote per user per duel;
// voting again replaces the earlier choice.
type Vote struct {
	ID            int64     `json:"id"`
	DuelID        int64     `json:"duelId"`
	VoterID       string    `json:"voterId"`
	ChosenVariant string    `json:"chosenVariant"`
	VotedAt       time.Time `json:"votedAt"`
}

type Repository interface {
	Create(ctx context.Context, d *Duel, responses []*Response) error
	SetPostedTS(ctx context.Context, responseID int64, ts string) error
	RecordVote(ctx context.Context, v *Vote) error
	Get(ctx context.Context, id int64) (*Duel, error)
	Count(ctx context.Context) (int, error)
	CountSince(ctx context.Context, since time.Time) (int, error)
	VoteCountsByVariant(ctx context.Context) (map[string]int, error)
	VoteCountSince(ctx context.Context, since time.Time) (int, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Create stores the duel and both responses in one transaction.
func (s *Service) Create(ctx context.Context, d *Duel, responses []*Response) error {
	if len(responses) != 2 {
		return fmt.Errorf("a duel needs exactly two responses, got %d", len(responses))
	}
	if err := s.repo.Create(ctx, d, responses); err != nil {
		return err
	}
	slog.InfoContext(ctx, "duel created", "duel_id", d.ID, "user", d.UserID, "channel", d.ChannelID)
	return nil
}

func (s *Service) SetPostedTS(ctx context.Context, responseID int64, ts string) error {
	return s.repo.SetPostedTS(ctx, responseID, ts)
}

// RecordVote upserts the voter's choice for a duel.
func (s *Service) RecordVote(ctx context.Context, duelID int64, voterID, variant string) error {
	if variant != VariantA && variant != VariantB {
		return fmt.Errorf("%w: %q", ErrInvalidVariant, variant)
	}
	v := &Vote{DuelID: duelID, VoterID: voterID, ChosenVariant: variant}
	if err := s.repo.RecordVote(ctx, v); err != nil {
		return err
	}
	slog.InfoContext(ctx, "vote recorded", "duel_id", duelID, "voter", voterID, "variant", variant)
	return nil
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

func (s *Service) CountSince(ctx context.Context, since time.Time) (int, error) {
	return s.repo.CountSince(ctx, since)
}

func (s *Service) VoteCountsByVariant(ctx context.Context) (map[string]int, error) {
	return s.repo.VoteCountsByVariant(ctx)
}

func (s *Service) VoteCountSince(ctx context.Context, since time.Time) (int, error) {
	return s.repo.VoteCountSince(ctx, since)
}
