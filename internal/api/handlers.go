package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/maltedev/pet-price-crawler/internal/database"
	"github.com/maltedev/pet-price-crawler/internal/jobs"
	"github.com/maltedev/pet-price-crawler/internal/models"
)

const (
	pendingWarnThreshold     = 1000
	deadLetterErrorThreshold = 100
)

// RunService is the part of the job manager the API drives.
type RunService interface {
	CreateRun(ctx context.Context, shop string, mode models.RunMode) (*models.Run, error)
	GetRun(ctx context.Context, runID string) (*models.Run, error)
	ListRuns(ctx context.Context) ([]*models.Run, error)
}

// Backlogger reports outbox events still waiting for the relay.
type Backlogger interface {
	Backlog(ctx context.Context) (pending, deadLetter int64, err error)
}

type Handlers struct {
	runs   RunService
	shops  func() []string
	outbox Backlogger
	logger *slog.Logger
}

func NewHandlers(runs RunService, shops func() []string, outbox Backlogger, logger *slog.Logger) *Handlers {
	return &Handlers{
		runs:   runs,
		shops:  shops,
		outbox: outbox,
		logger: logger.With("component", "api"),
	}
}

// Health reports the outbox backlog. Many pending events downgrade the
// status to warning; a dead-letter pile-up makes the service unavailable.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{"status": "ok"}
	status := http.StatusOK

	if h.outbox != nil {
		pending, deadLetter, err := h.outbox.Backlog(r.Context())
		if err != nil {
			h.logger.Error("failed to read outbox backlog", "error", err)
			h.respondJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status":  "error",
				"message": "outbox unavailable",
			})
			return
		}

		health["outbox"] = map[string]int64{
			"pending":     pending,
			"dead_letter": deadLetter,
		}

		if pending > pendingWarnThreshold {
			health["status"] = "warning"
			health["message"] = "High number of pending outbox events"
		}
		if deadLetter > deadLetterErrorThreshold {
			health["status"] = "error"
			health["message"] = "High number of dead letter events"
			status = http.StatusServiceUnavailable
		}
	}

	h.respondJSON(w, status, health)
}

func (h *Handlers) ListShops(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string][]string{"shops": h.shops()})
}

type CreateRunRequest struct {
	Shop string         `json:"shop"`
	Mode models.RunMode `json:"mode"`
}

type CreateRunResponse struct {
	RunID   string           `json:"run_id"`
	Status  models.RunStatus `json:"status"`
	Message string           `json:"message"`
}

// CreateRun queues a links or products run; the worker picks it up.
func (h *Handlers) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Shop == "" {
		h.respondError(w, http.StatusBadRequest, "shop is required")
		return
	}

	run, err := h.runs.CreateRun(r.Context(), req.Shop, req.Mode)
	if errors.Is(err, jobs.ErrInvalidRun) {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("failed to create run", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create run")
		return
	}

	h.respondJSON(w, http.StatusAccepted, CreateRunResponse{
		RunID:   run.ID,
		Status:  run.Status,
		Message: "Run queued",
	})
}

func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if runID == "" {
		h.respondError(w, http.StatusBadRequest, "run ID is required")
		return
	}

	run, err := h.runs.GetRun(r.Context(), runID)
	if errors.Is(err, database.ErrRunNotFound) {
		h.respondError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get run", "run_id", runID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	h.respondJSON(w, http.StatusOK, run)
}

func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.runs.ListRuns(r.Context())
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []*models.Run{}
	}

	h.respondJSON(w, http.StatusOK, runs)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
