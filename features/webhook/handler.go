package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"arbiter/features/job"
	"arbiter/internal/audit"
	"arbiter/internal/middleware"
)

// Envelope is the platform's outer callback body. url_verification carries a
// challenge to echo; event_callback wraps the actual event.
type Envelope struct {
	Token     string          `json:"token"`
	Type      string          `json:"type"`
	Challenge string          `json:"challenge,omitempty"`
	Event     json.RawMessage `json:"event,omitempty"`
}

// eventHead is the slice of the inner event the intake filters on. The full
// raw event rides along as the job payload.
type eventHead struct {
	Type    string `json:"type"`
	User    string `json:"user"`
	BotID   string `json:"bot_id"`
	Channel string `json:"channel"`
	Ts      string `json:"ts"`
}

// Submitter schedules one job per unique event.
type Submitter interface {
	Submit(ctx context.Context, ev job.Event) (*job.Submission, error)
}

type Handler struct {
	jobs      Submitter
	auditLog  *audit.Logger
	botUserID string
}

func NewHandler(jobs Submitter, auditLog *audit.Logger, botUserID string) *Handler {
	return &Handler{jobs: jobs, auditLog: auditLog, botUserID: botUserID}
}

// HandleEvent handles POST /event. The platform expects a fast 200; all real
// work happens later when the orchestrator hands the job back.
func (h *Handler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var env Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", "Invalid request body", http.StatusBadRequest)
		return
	}

	if env.Type == "url_verification" {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"challenge": env.Challenge})
		return
	}

	var head eventHead
	if len(env.Event) > 0 {
		if err := json.Unmarshal(env.Event, &head); err != nil {
			h.writeError(ctx, w, "VALIDATION_ERROR", "Invalid event body", http.StatusBadRequest)
			return
		}
	}

	if head.Type != "message" && head.Type != "app_mention" {
		slog.InfoContext(ctx, "ignoring event", "type", head.Type)
		h.writeOK(ctx, w)
		return
	}
	if head.BotID != "" || (h.botUserID != "" && head.User == h.botUserID) {
		slog.InfoContext(ctx, "skipping bot's own message", "channel", head.Channel, "ts", head.Ts)
		h.writeOK(ctx, w)
		return
	}
	if head.Channel == "" || head.Ts == "" {
		slog.WarnContext(ctx, "event missing channel or ts", "type", head.Type)
		h.writeOK(ctx, w)
		return
	}

	ev := job.Event{Channel: head.Channel, Timestamp: head.Ts, Kind: head.Type, Payload: env.Event}
	sub, err := h.jobs.Submit(ctx, ev)
	if err != nil {
		slog.ErrorContext(ctx, "failed to enqueue event", "natural_key", ev.NaturalKey(), "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "Failed to accept event", http.StatusInternalServerError)
		return
	}

	detail := "enqueued"
	if sub.Duplicate {
		detail = "duplicate"
	}
	h.auditLog.Log(audit.Entry{
		Event:         "event_received",
		Channel:       head.Channel,
		User:          head.User,
		NaturalKey:    ev.NaturalKey(),
		JobID:         sub.JobID,
		Detail:        detail,
		CorrelationID: middleware.GetCorrelationID(ctx),
	})

	h.writeOK(ctx, w)
}

func (h *Handler) writeOK(ctx context.Context, w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
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

	json.NewEncoder(w).Encode(resp)
}
