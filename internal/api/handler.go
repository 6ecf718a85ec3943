package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lumora/postdispatch/internal/clock"
	"github.com/lumora/postdispatch/internal/db"
	"github.com/lumora/postdispatch/internal/dispatch"
)

// ScheduleRepository defines the schedule operations exposed over HTTP
type ScheduleRepository interface {
	GetSchedule(ctx context.Context, id uuid.UUID) (*db.Schedule, error)
	Reschedule(ctx context.Context, id uuid.UUID, newTime time.Time) error
	Cancel(ctx context.Context, id uuid.UUID) error
	ListAttempts(ctx context.Context, scheduleID uuid.UUID, limit int) ([]*db.AttemptLog, error)
}

// BatchRunner runs one dispatch batch per invocation
type BatchRunner interface {
	Run(ctx context.Context) (*dispatch.Summary, error)
}

// RescheduleRequest moves a pending schedule. Either scheduled_for
// (RFC 3339) or the date/time/timezone triple must be set.
type RescheduleRequest struct {
	ScheduledFor string `json:"scheduled_for,omitempty"`
	Date         string `json:"date,omitempty"`
	Time         string `json:"time,omitempty"`
	Timezone     string `json:"timezone,omitempty"`
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger        *zap.Logger
	repo          ScheduleRepository
	runner        BatchRunner
	triggerSecret string
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, repo ScheduleRepository, runner BatchRunner, triggerSecret string) *Handler {
	return &Handler{
		logger:        logger,
		repo:          repo,
		runner:        runner,
		triggerSecret: triggerSecret,
	}
}

// RunDispatch handles POST /v1/dispatch/run — the batch trigger.
// A bad secret returns 401 before any store access: no schedules are
// read or claimed on an unauthorized trigger.
func (h *Handler) RunDispatch(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		h.logger.Warn("dispatch trigger rejected: bad secret",
			zap.String("remote_addr", r.RemoteAddr),
		)
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid trigger credential", "")
		return
	}

	summary, err := h.runner.Run(r.Context())
	if err != nil {
		h.logger.Error("batch failed to start", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "batch_error", "Batch could not start", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(summary)
}

func (h *Handler) authorized(r *http.Request) bool {
	secret := r.Header.Get("X-Trigger-Secret")
	if secret == "" {
		secret = r.URL.Query().Get("secret")
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(h.triggerSecret)) == 1
}

// GetSchedule handles GET /v1/schedules/{id}
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	s, err := h.repo.GetSchedule(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Schedule not found", "")
			return
		}
		h.logger.Error("failed to get schedule",
			zap.Error(err),
			zap.String("schedule_id", id.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get schedule", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(s)
}

// ListAttempts handles GET /v1/schedules/{id}/attempts?limit=20
func (h *Handler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	attempts, err := h.repo.ListAttempts(ctx, id, limit)
	if err != nil {
		h.logger.Error("failed to list attempts",
			zap.Error(err),
			zap.String("schedule_id", id.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list attempts", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":  attempts,
		"count": len(attempts),
	})
}

// Reschedule handles POST /v1/schedules/{id}/reschedule.
// Only valid while the schedule is still pending.
func (h *Handler) Reschedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	var req RescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	newTime, err := req.resolve()
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid schedule time", err.Error())
		return
	}

	if err := h.repo.Reschedule(ctx, id, newTime); err != nil {
		switch {
		case errors.Is(err, db.ErrNotFound):
			h.writeError(w, http.StatusNotFound, "not_found", "Schedule not found", "")
		case errors.Is(err, db.ErrInvalidState):
			h.writeError(w, http.StatusConflict, "invalid_state", "Schedule is no longer pending", "")
		default:
			h.logger.Error("failed to reschedule",
				zap.Error(err),
				zap.String("schedule_id", id.String()),
			)
			h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to reschedule", "")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"id":            id.String(),
		"scheduled_for": newTime.Format(time.RFC3339),
	})
}

func (req RescheduleRequest) resolve() (time.Time, error) {
	if req.ScheduledFor != "" {
		t, err := time.Parse(time.RFC3339, req.ScheduledFor)
		if err != nil {
			return time.Time{}, err
		}
		return t.UTC(), nil
	}
	if req.Date == "" || req.Time == "" || req.Timezone == "" {
		return time.Time{}, errors.New("scheduled_for or date/time/timezone required")
	}
	return clock.ToCanonical(req.Date, req.Time, req.Timezone)
}

// Cancel handles POST /v1/schedules/{id}/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	if err := h.repo.Cancel(ctx, id); err != nil {
		switch {
		case errors.Is(err, db.ErrNotFound):
			h.writeError(w, http.StatusNotFound, "not_found", "Schedule not found", "")
		case errors.Is(err, db.ErrInvalidState):
			h.writeError(w, http.StatusConflict, "invalid_state", "Schedule is no longer pending", "")
		default:
			h.logger.Error("failed to cancel",
				zap.Error(err),
				zap.String("schedule_id", id.String()),
			)
			h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to cancel", "")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"id":     id.String(),
		"status": db.StatusCancelled,
	})
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid schedule ID", "ID must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
