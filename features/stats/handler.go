package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"arbiter/features/job"
	"arbiter/internal/middleware"
)

// recentWindow bounds the "recent activity" counters.
const recentWindow = 7 * 24 * time.Hour

type JobCounter interface {
	Counts(ctx context.Context) (map[job.Status]int, error)
}

type DuelCounter interface {
	Count(ctx context.Context) (int, error)
	CountSince(ctx context.Context, since time.Time) (int, error)
	VoteCountsByVariant(ctx context.Context) (map[string]int, error)
	VoteCountSince(ctx context.Context, since time.Time) (int, error)
}

type Handler struct {
	jobs  JobCounter
	duels DuelCounter
}

func NewHandler(jobs JobCounter, duels DuelCounter) *Handler {
	return &Handler{jobs: jobs, duels: duels}
}

// RecentActivity counts duels and votes inside the recent window.
type RecentActivity struct {
	Duels int `json:"duels"`
	Votes int `json:"votes"`
}

type StatsResponse struct {
	Jobs   map[job.Status]int `json:"jobs"`
	Duels  int                `json:"duels"`
	Votes  map[string]int     `json:"votes"`
	Recent RecentActivity     `json:"recent"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	slog.InfoContext(ctx, "getting stats", "correlationId", correlationID)

	jobCounts, err := h.jobs.Counts(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count jobs", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count jobs", http.StatusInternalServerError)
		return
	}

	duelCount, err := h.duels.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count duels", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count duels", http.StatusInternalServerError)
		return
	}

	voteCounts, err := h.duels.VoteCountsByVariant(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count votes", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count votes", http.StatusInternalServerError)
		return
	}

	since := time.Now().Add(-recentWindow)
	recentDuels, err := h.duels.CountSince(ctx, since)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count recent duels", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count recent duels", http.StatusInternalServerError)
		return
	}
	recentVotes, err := h.duels.VoteCountSince(ctx, since)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count recent votes", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count recent votes", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{
		Jobs:   jobCounts,
		Duels:  duelCount,
		Votes:  voteCounts,
		Recent: RecentActivity{Duels: recentDuels, Votes: recentVotes},
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
