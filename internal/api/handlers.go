package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/maltedev/expert-scraper/internal/database"
	"github.com/maltedev/expert-scraper/internal/institution"
	"github.com/maltedev/expert-scraper/internal/jobs"
)

// RunService submits and looks up crawl runs.
type RunService interface {
	Submit(ctx context.Context, req jobs.Request) (*jobs.Run, error)
	Get(ctx context.Context, id string) (*jobs.Run, error)
	List(ctx context.Context, limit int) ([]*jobs.Run, error)
}

// OutboxStats reports outbox event counts by status.
type OutboxStats interface {
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

type Handlers struct {
	runs         RunService
	institutions *institution.Registry
	outbox       OutboxStats
	logger       *slog.Logger
}

// NewHandlers creates the API handlers. outbox may be nil when no database
// is configured.
func NewHandlers(runs RunService, institutions *institution.Registry, outbox OutboxStats, logger *slog.Logger) *Handlers {
	return &Handlers{
		runs:         runs,
		institutions: institutions,
		outbox:       outbox,
		logger:       logger.With("component", "api"),
	}
}

// Health reports service status, including the outbox backlog when known.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{"status": "ok"}
	status := http.StatusOK

	if h.outbox != nil {
		counts, err := h.outbox.CountByStatus(r.Context())
		if err != nil {
			h.logger.Error("failed to count outbox events", "error", err)
			h.respondJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status":  "error",
				"message": "outbox unavailable",
			})
			return
		}

		pending := counts[database.OutboxStatusPending]
		deadLetter := counts[database.OutboxStatusDeadLetter]
		health["outbox"] = map[string]int64{
			"pending":     pending,
			"dead_letter": deadLetter,
		}

		if pending > 1000 {
			health["status"] = "warning"
			health["message"] = "high number of pending outbox events"
		}
		if deadLetter > 100 {
			health["status"] = "error"
			health["message"] = "high number of dead letter events"
			status = http.StatusServiceUnavailable
		}
	}

	h.respondJSON(w, status, health)
}

type InstitutionResponse struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	Table    string `json:"table"`
	Strategy string `json:"strategy"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
}

func (h *Handlers) ListInstitutions(w http.ResponseWriter, r *http.Request) {
	defs := h.institutions.List()
	resp := make([]InstitutionResponse, 0, len(defs))
	for _, d := range defs {
		resp = append(resp, InstitutionResponse{
			Key:      d.Key,
			Name:     d.Name,
			Table:    d.Table,
			Strategy: d.Listing.Strategy,
			Start:    d.Start,
			End:      d.End,
		})
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// CreateRunRequest starts a crawl. Omitted page bounds fall back to the
// institution's definition.
type CreateRunRequest struct {
	Institution string `json:"institution"`
	Start       *int   `json:"start,omitempty"`
	End         *int   `json:"end,omitempty"`
	Dedupe      bool   `json:"dedupe,omitempty"`
}

func (h *Handlers) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Institution == "" {
		h.respondError(w, http.StatusBadRequest, "institution is required")
		return
	}

	def, err := h.institutions.Get(req.Institution)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "unknown institution")
		return
	}

	start, end := -1, -1
	if req.Start != nil {
		if *req.Start < 0 {
			h.respondError(w, http.StatusBadRequest, "start must not be negative")
			return
		}
		start = *req.Start
	}
	if req.End != nil {
		if *req.End < 0 || (req.Start != nil && *req.End < start) {
			h.respondError(w, http.StatusBadRequest, "end is before start")
			return
		}
		end = *req.End
	}
	start, end = def.Range(start, end)

	run, err := h.runs.Submit(r.Context(), jobs.Request{
		Institution: def.Key,
		Start:       start,
		End:         end,
		Dedupe:      req.Dedupe,
	})
	if err != nil {
		if errors.Is(err, jobs.ErrInvalidRequest) {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to submit run", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to submit run")
		return
	}

	h.respondJSON(w, http.StatusAccepted, run)
}

func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if runID == "" {
		h.respondError(w, http.StatusBadRequest, "run ID is required")
		return
	}

	run, err := h.runs.Get(r.Context(), runID)
	if err != nil {
		if errors.Is(err, jobs.ErrRunNotFound) {
			h.respondError(w, http.StatusNotFound, "run not found")
			return
		}
		h.logger.Error("failed to get run", "run_id", runID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	h.respondJSON(w, http.StatusOK, run)
}

func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	runs, err := h.runs.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []*jobs.Run{}
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
