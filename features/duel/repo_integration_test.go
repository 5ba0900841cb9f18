package duel_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbiter/features/duel"
	"arbiter/internal/testutils"
)

func TestDuelRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	repo := duel.NewPostgresRepo(s.DB)
	ctx := context.Background()

	// 1. Create a duel with both responses in one transaction.
	d := &duel.Duel{
		UserID:       "U1",
		ChannelID:    "C1",
		ThreadTS:     "100",
		Prompt:       "what is go?",
		Conversation: []byte(`[{"role":"user","content":"what is go?"}]`),
	}
	responses := []*duel.Response{
		{Variant: duel.VariantA, ResponseText: "Go is a language.", ModelName: "gemini-2.0-flash", Temperature: 0.3, MaxTokens: 2000},
		{Variant: duel.VariantB, ResponseText: "Go is from Google.", ModelName: "gemini-2.5-pro", Temperature: 1.0, MaxTokens: 2000},
	}
	require.NoError(t, repo.Create(ctx, d, responses))
	require.NotZero(t, d.ID)
	require.NotZero(t, responses[0].ID)
	require.NotZero(t, responses[1].ID)

	retrieved, err := repo.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "what is go?", retrieved.Prompt)

	// 2. Record the posted message timestamps.
	require.NoError(t, repo.SetPostedTS(ctx, responses[0].ID, "101.1"))
	require.NoError(t, repo.SetPostedTS(ctx, responses[1].ID, "101.2"))

	// 3. One vote per voter; revoting replaces the choice.
	require.NoError(t, repo.RecordVote(ctx, &duel.Vote{DuelID: d.ID, VoterID: "U2", ChosenVariant: duel.VariantA}))
	require.NoError(t, repo.RecordVote(ctx, &duel.Vote{DuelID: d.ID, VoterID: "U3", ChosenVariant: duel.VariantA}))
	require.NoError(t, repo.RecordVote(ctx, &duel.Vote{DuelID: d.ID, VoterID: "U2", ChosenVariant: duel.VariantB}))

	counts, err := repo.VoteCountsByVariant(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[duel.VariantA])
	assert.Equal(t, 1, counts[duel.VariantB])

	var voteRows int
	require.NoError(t, s.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM duel_votes WHERE duel_id = $1", d.ID).Scan(&voteRows))
	assert.Equal(t, 2, voteRows)

	total, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	weekAgo := time.Now().Add(-7 * 24 * time.Hour)
	recentDuels, err := repo.CountSince(ctx, weekAgo)
	require.NoError(t, err)
	assert.Equal(t, 1, recentDuels)
	recentVotes, err := repo.VoteCountSince(ctx, weekAgo)
	require.NoError(t, err)
	assert.Equal(t, 2, recentVotes)

	futureOnly, err := repo.CountSince(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, futureOnly)

	// 4. Deleting the duel cascades to responses and votes.
	_, err = s.DB.ExecContext(ctx, "DELETE FROM duels WHERE id = $1", d.ID)
	require.NoError(t, err)

	var orphans int
	require.NoError(t, s.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM duel_responses WHERE duel_id = $1", d.ID).Scan(&orphans))
	assert.Zero(t, orphans)
	require.NoError(t, s.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM duel_votes WHERE duel_id = $1", d.ID).Scan(&orphans))
	assert.Zero(t, orphans)
}
