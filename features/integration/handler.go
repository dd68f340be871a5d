package integration

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"storefront/backend/internal/middleware"
)

// Handler is the intake boundary the storefront surfaces call when a
// business action happens. It accepts the event and returns immediately;
// delivery is the dispatcher's problem.
type Handler struct {
	dispatcher *Dispatcher
	secret     string
}

func NewHandler(d *Dispatcher, secret string) *Handler {
	return &Handler{dispatcher: d, secret: secret}
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.secret == "" {
		return false
	}
	provided := r.Header.Get("X-Queue-Secret")
	if provided == "" {
		provided = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(h.secret)) == 1
}

// FireEvent handles POST /events.
func (h *Handler) FireEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	if !h.authorized(r) {
		h.writeError(w, r, "UNAUTHORIZED", "missing or invalid secret", http.StatusUnauthorized)
		return
	}

	var req struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, "INVALID_BODY", "body must be JSON with type and payload", http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		h.writeError(w, r, "INVALID_BODY", "type is required", http.StatusBadRequest)
		return
	}

	slog.InfoContext(ctx, "integration event accepted", "event_type", req.Type, "correlationId", correlationID)
	h.dispatcher.FireEvent(req.Type, req.Payload)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(map[string]any{"data": "accepted"}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(r.Context()),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
