package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"arbiter/internal/middleware"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	if userID == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "user id is required", http.StatusBadRequest)
		return
	}

	p, err := h.svc.Get(r.Context(), userID)
	if err != nil {
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"data": p})
}

func (h *Handler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	if userID == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "user id is required", http.StatusBadRequest)
		return
	}

	var p Preferences
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	// The path identifies the user; the body cannot rename it.
	p.UserID = userID

	if err := h.svc.Update(r.Context(), &p); err != nil {
		if errors.Is(err, ErrInvalidMode) || errors.Is(err, ErrInvalidTemperature) {
			h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
			return
		}
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"data": p})
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
