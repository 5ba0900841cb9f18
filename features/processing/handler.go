package processing

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"arbiter/internal/middleware"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// ProcessRequest is the orchestrator's callback body.
type ProcessRequest struct {
	JobID   int64           `json:"jobId"`
	Payload json.RawMessage `json:"payload"`
}

// ProcessJob handles POST /process-job. A 200 with a result body means the
// invocation itself worked; the job's fate is carried in the outcome field.
func (h *Handler) ProcessJob(w http.ResponseWriter, r *http.Request) {
	var req ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.JobID == 0 {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "jobId is required", http.StatusBadRequest)
		return
	}
	if len(req.Payload) == 0 {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "payload is required", http.StatusBadRequest)
		return
	}

	ctx := middleware.WithJobID(r.Context(), req.JobID)
	res := h.svc.Process(ctx, req.JobID, req.Payload)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.ErrorContext(ctx, "failed to encode process result", "error", err)
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
