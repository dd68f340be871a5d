package queue

import (
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"storefront/backend/internal/middleware"
)

// Handler exposes the queue boundary: the batch-trigger endpoint, stats, and
// the dead-letter admin surface. Every mutating route requires the shared
// processing secret.
type Handler struct {
	service      *Service
	handlers     map[string]HandlerFunc
	secret       string
	defaultLimit int
}

func NewHandler(s *Service, handlers map[string]HandlerFunc, secret string, defaultLimit int) *Handler {
	return &Handler{service: s, handlers: handlers, secret: secret, defaultLimit: defaultLimit}
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

// ProcessBatch handles POST /queue/process: claims up to limit due jobs and
// executes them, returning only aggregate counts to the caller.
func (h *Handler) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	if !h.authorized(r) {
		h.writeError(w, r, "UNAUTHORIZED", "missing or invalid processing secret", http.StatusUnauthorized)
		return
	}

	limit := h.defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxBatchLimit {
			h.writeError(w, r, "INVALID_LIMIT", "limit must be an integer between 1 and 200", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	slog.InfoContext(ctx, "processing queue batch", "limit", limit, "correlationId", correlationID)

	res, err := h.service.ProcessBatch(ctx, h.handlers, limit)
	if err != nil {
		slog.ErrorContext(ctx, "batch processing failed", "error", err, "correlationId", correlationID)
		h.writeError(w, r, "INTERNAL_ERROR", "batch processing failed", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, map[string]int{
		"processed": res.Processed,
		"failed":    res.Failed,
		"dead":      res.Dead,
		"limit":     limit,
	})
}

// GetStats handles GET /queue/stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.authorized(r) {
		h.writeError(w, r, "UNAUTHORIZED", "missing or invalid processing secret", http.StatusUnauthorized)
		return
	}

	stats, err := h.service.Stats(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to read queue stats", "error", err)
		h.writeError(w, r, "INTERNAL_ERROR", "failed to read queue stats", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, map[string]any{"data": stats})
}

// ListJobs handles GET /queue/jobs?status=DEAD.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.authorized(r) {
		h.writeError(w, r, "UNAUTHORIZED", "missing or invalid processing secret", http.StatusUnauthorized)
		return
	}

	status := Status(strings.ToUpper(r.URL.Query().Get("status")))
	if status == "" {
		status = StatusDead
	}
	switch status {
	case StatusPending, StatusProcessing, StatusRetry, StatusDone, StatusDead:
	default:
		h.writeError(w, r, "INVALID_STATUS", "unknown job status", http.StatusBadRequest)
		return
	}

	jobs, err := h.service.List(ctx, status, maxBatchLimit)
	if err != nil {
		if errors.Is(err, ErrNotInspectable) {
			h.writeError(w, r, "UNSUPPORTED", "active backend cannot be inspected", http.StatusConflict)
			return
		}
		slog.ErrorContext(ctx, "failed to list jobs", "status", status, "error", err)
		h.writeError(w, r, "INTERNAL_ERROR", "failed to list jobs", http.StatusInternalServerError)
		return
	}
	if jobs == nil {
		jobs = []Job{}
	}

	h.writeJSON(w, map[string]any{
		"data": jobs,
		"meta": map[string]int{"count": len(jobs)},
	})
}

// RetryJob handles POST /queue/jobs/{key}/retry: resets a job so the next
// batch pass picks it up again.
func (h *Handler) RetryJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)
	key := r.PathValue("key")

	if !h.authorized(r) {
		h.writeError(w, r, "UNAUTHORIZED", "missing or invalid processing secret", http.StatusUnauthorized)
		return
	}

	slog.InfoContext(ctx, "requeuing job", "queue_key", key, "correlationId", correlationID)

	if err := h.service.Requeue(ctx, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.writeError(w, r, "NOT_FOUND", "job not found", http.StatusNotFound)
			return
		}
		if errors.Is(err, ErrNotInspectable) {
			h.writeError(w, r, "UNSUPPORTED", "active backend cannot be inspected", http.StatusConflict)
			return
		}
		slog.ErrorContext(ctx, "failed to requeue job", "queue_key", key, "error", err, "correlationId", correlationID)
		h.writeError(w, r, "INTERNAL_ERROR", "failed to requeue job", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, map[string]any{"data": "job requeued"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
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
