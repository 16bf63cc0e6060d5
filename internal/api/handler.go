// Package api serves the HTTP trigger API: starting discovery and masking
// runs, following their progress and reading the event log.
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"maskflow/internal/config"
	"maskflow/internal/domain"
	"maskflow/internal/middleware"
	"maskflow/internal/service/runner"
)

// maxRunFileBytes bounds the size of a posted run description.
const maxRunFileBytes = 1 << 20

// RunTrigger starts and tracks runs.
type RunTrigger interface {
	Start(ctx context.Context, kind runner.Kind, rf *config.RunFile) (runner.Run, error)
	Get(id string) (runner.Run, bool)
	List() []runner.Run
}

// EventLogLister reads the event log.
type EventLogLister interface {
	List(ctx context.Context, filter domain.EventLogFilter) ([]domain.EventLogEntry, int64, error)
}

var _ RunTrigger = (*runner.Runner)(nil)

// Handler implements the trigger API endpoints.
type Handler struct {
	runs     RunTrigger
	events   EventLogLister
	defaults domain.RunParams
	logger   *slog.Logger
}

// NewHandler creates a Handler. defaults fill run parameters absent from a
// posted run description.
func NewHandler(runs RunTrigger, events EventLogLister, defaults domain.RunParams, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{runs: runs, events: events, defaults: defaults, logger: logger.With("component", "api")}
}

type tableOutcomeJSON struct {
	Table   string            `json:"table"`
	Status  string            `json:"status"`
	Error   string            `json:"error,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

type runJSON struct {
	ID         string             `json:"run_id"`
	Kind       runner.Kind        `json:"kind"`
	State      string             `json:"state"`
	Source     string             `json:"source_dataset"`
	Sink       string             `json:"sink_dataset,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
	Error      string             `json:"error,omitempty"`
	Tables     []tableOutcomeJSON `json:"tables,omitempty"`
}

func runToJSON(r runner.Run) runJSON {
	out := runJSON{
		ID: r.ID, Kind: r.Kind, State: r.State, Source: r.Source, Sink: r.Sink,
		StartedAt: r.StartedAt, FinishedAt: r.FinishedAt, Error: r.Error,
	}
	for _, t := range r.Tables {
		out.Tables = append(out.Tables, tableOutcomeJSON{
			Table: t.Table.String(), Status: t.Status, Error: t.Error, Details: t.Details,
		})
	}
	return out
}

type eventLogJSON struct {
	ID            int64             `json:"id"`
	RunID         string            `json:"run_id"`
	Operation     string            `json:"operation"`
	Status        string            `json:"status"`
	ErrorMessage  *string           `json:"error_message,omitempty"`
	SourceDataset string            `json:"source_dataset"`
	SourceSchema  string            `json:"source_schema,omitempty"`
	Table         string            `json:"table"`
	Params        map[string]string `json:"params,omitempty"`
	StartTime     time.Time         `json:"start_time"`
	EndTime       time.Time         `json:"end_time"`
}

// TriggerRun handles POST /v1/runs/discovery and /v1/runs/masking. The body
// is a run description in YAML or JSON.
func (h *Handler) TriggerRun(kind runner.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.triggerRun(w, r, kind)
	}
}

func (h *Handler) triggerRun(w http.ResponseWriter, r *http.Request, kind runner.Kind) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRunFileBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, domain.ErrValidation("run description exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, domain.ErrValidation("read request body: %v", err))
		return
	}
	rf, err := config.ParseRunFile(body, h.defaults)
	if err != nil {
		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			err = domain.ErrValidation("%v", err)
		}
		writeError(w, err)
		return
	}

	run, err := h.runs.Start(r.Context(), kind, rf)
	if err != nil {
		writeError(w, err)
		return
	}
	operator, _ := middleware.OperatorFromContext(r.Context())
	h.logger.Info("run triggered",
		"run_id", run.ID, "kind", kind, "source", run.Source, "sink", run.Sink,
		"operator", operator, "request_id", middleware.RequestIDFromContext(r.Context()))

	w.Header().Set("Location", "/v1/runs/"+run.ID)
	writeJSON(w, http.StatusAccepted, runToJSON(run))
}

// ListRuns handles GET /v1/runs, optionally filtered by ?kind= and ?state=.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	kind := runner.Kind(r.URL.Query().Get("kind"))
	state := r.URL.Query().Get("state")
	out := []runJSON{}
	for _, run := range h.runs.List() {
		if (kind != "" && run.Kind != kind) || (state != "" && run.State != state) {
			continue
		}
		out = append(out, runToJSON(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

// GetRun handles GET /v1/runs/{id}.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, ok := h.runs.Get(id)
	if !ok {
		writeError(w, domain.ErrNotFound("run %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, runToJSON(run))
}

// ListEventLog handles GET /v1/event-log with run_id, status and table
// filters and max_results/page_token pagination.
func (h *Handler) ListEventLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.EventLogFilter{Page: domain.PageRequest{PageToken: q.Get("page_token")}}
	if v := q.Get("max_results"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, domain.ErrValidation("max_results must be a non-negative integer"))
			return
		}
		filter.Page.MaxResults = n
	}
	if v := q.Get("run_id"); v != "" {
		filter.RunID = &v
	}
	if v := q.Get("status"); v != "" {
		filter.Status = &v
	}
	if v := q.Get("table"); v != "" {
		filter.Table = &v
	}

	entries, total, err := h.events.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list event log", "error", err)
		writeError(w, err)
		return
	}
	out := make([]eventLogJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, eventLogJSON{
			ID: e.ID, RunID: e.RunID, Operation: e.Operation, Status: e.Status, ErrorMessage: e.ErrorMessage,
			SourceDataset: e.SourceDataset, SourceSchema: e.SourceSchema, Table: e.Table, Params: e.Params,
			StartTime: e.StartTime, EndTime: e.EndTime,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries":         out,
		"total":           total,
		"next_page_token": domain.NextPageToken(filter.Page.Offset(), filter.Page.Limit(), total),
	})
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
