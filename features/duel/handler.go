package duel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"arbiter/internal/adapter/chatapi"
	"arbiter/internal/audit"
	"arbiter/internal/middleware"
)

// MessagePoster posts the vote confirmation back into the thread.
type MessagePoster interface {
	PostMessage(ctx context.Context, msg chatapi.PostMessageRequest) (string, error)
}

type Handler struct {
	svc      *Service
	poster   MessagePoster
	auditLog *audit.Logger
}

func NewHandler(svc *Service, poster MessagePoster, auditLog *audit.Logger) *Handler {
	return &Handler{svc: svc, poster: poster, auditLog: auditLog}
}

// interactionPayload is the form-encoded callback the chat platform sends
// when someone clicks a button.
type interactionPayload struct {
	Type string `json:"type"`
	User struct {
		ID string `json:"id"`
	} `json:"user"`
	Channel struct {
		ID string `json:"id"`
	} `json:"channel"`
	Message struct {
		ThreadTS string `json:"thread_ts"`
	} `json:"message"`
	Actions []struct {
		ActionID string `json:"action_id"`
		Value    string `json:"value"`
	} `json:"actions"`
}

// Interact handles button clicks. Anything that is not a voting action is
// acknowledged and ignored.
func (h *Handler) Interact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	raw := r.FormValue("payload")
	if raw == "" {
		h.writeError(ctx, w, "VALIDATION_ERROR", "missing payload", http.StatusBadRequest)
		return
	}

	var p interactionPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", "malformed payload", http.StatusBadRequest)
		return
	}

	if len(p.Actions) == 0 {
		h.writeStatus(w, "ok")
		return
	}

	action := p.Actions[0]
	if action.ActionID != "vote_a" && action.ActionID != "vote_b" {
		h.writeStatus(w, "ok")
		return
	}

	var vote VoteValue
	if err := json.Unmarshal([]byte(action.Value), &vote); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", "Invalid vote data", http.StatusBadRequest)
		return
	}
	if vote.DuelID == 0 || vote.Variant == "" || p.User.ID == "" {
		slog.ErrorContext(ctx, "missing required vote data", "duel_id", vote.DuelID, "variant", vote.Variant)
		h.writeError(ctx, w, "VALIDATION_ERROR", "Invalid vote data", http.StatusBadRequest)
		return
	}

	if err := h.svc.RecordVote(ctx, vote.DuelID, p.User.ID, vote.Variant); err != nil {
		if errors.Is(err, ErrInvalidVariant) {
			h.writeError(ctx, w, "VALIDATION_ERROR", "Invalid vote data", http.StatusBadRequest)
			return
		}
		slog.ErrorContext(ctx, "failed to record vote", "duel_id", vote.DuelID, "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "Failed to process vote", http.StatusInternalServerError)
		return
	}

	h.auditLog.Log(audit.Entry{
		Event:         "vote_recorded",
		Channel:       p.Channel.ID,
		User:          p.User.ID,
		Detail:        fmt.Sprintf("duel %d variant %s", vote.DuelID, vote.Variant),
		CorrelationID: middleware.GetCorrelationID(ctx),
	})

	// The vote is stored; a failed confirmation must not undo that.
	_, err := h.poster.PostMessage(ctx, chatapi.PostMessageRequest{
		Channel:  p.Channel.ID,
		ThreadTS: p.Message.ThreadTS,
		Text:     ConfirmationText(p.User.ID, vote.Variant),
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to post vote confirmation", "duel_id", vote.DuelID, "error", err)
	}

	h.writeStatus(w, "ok")
}

func (h *Handler) writeStatus(w http.ResponseWriter, status string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": status})
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
