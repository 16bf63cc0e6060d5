// Package runner executes discovery and masking runs described by run files,
// synchronously for the CLI and in the background for the trigger API and the
// scheduler.
package runner

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"maskflow/internal/config"
	"maskflow/internal/db/repository"
	"maskflow/internal/domain"
	"maskflow/internal/metrics"
	"maskflow/internal/service/constraint"
	"maskflow/internal/service/discovery"
	"maskflow/internal/service/masking"
)

// Kind is the type of run.
type Kind string

// Run kinds.
const (
	KindDiscovery Kind = "discovery"
	KindMasking   Kind = "masking"
)

// StateRunning is the state of a run that has not finished. Finished runs take
// the run status (domain.RunStatusSucceeded or domain.RunStatusFailed).
const StateRunning = "RUNNING"

// maxHistory bounds the number of finished runs kept for Get and List.
const maxHistory = 200

// Run is the tracked state of one triggered run.
type Run struct {
	ID         string                `json:"run_id"`
	Kind       Kind                  `json:"kind"`
	State      string                `json:"state"`
	Source     string                `json:"source_dataset"`
	Sink       string                `json:"sink_dataset,omitempty"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt *time.Time            `json:"finished_at,omitempty"`
	Error      string                `json:"error,omitempty"`
	Result     *domain.RunResult     `json:"-"`
	Tables     []domain.TableOutcome `json:"tables,omitempty"`
}

// OpenFunc connects to a source or sink.
type OpenFunc func(ctx context.Context, spec domain.ConnectionSpec) (domain.Connector, error)

// Runner wires connectors, repositories and services for each run.
type Runner struct {
	db       *sql.DB
	tables   domain.MetadataTables
	profiler domain.ProfilingService
	masker   domain.MaskingService
	open     OpenFunc
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	runs    map[string]*Run
	history []string
	active  map[string]string // lock key -> run id
	wg      sync.WaitGroup
}

// New creates a Runner. tables are the process-wide metadata table names; a
// run file may override them per run.
func New(
	db *sql.DB,
	tables domain.MetadataTables,
	profiler domain.ProfilingService,
	masker domain.MaskingService,
	open OpenFunc,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{
		db:       db,
		tables:   tables.WithDefaults(),
		profiler: profiler,
		masker:   masker,
		open:     open,
		logger:   logger.With("component", "runner"),
		metrics:  m,
		runs:     make(map[string]*Run),
		active:   make(map[string]string),
	}
}

// Execute runs to completion and returns the finished run.
func (r *Runner) Execute(ctx context.Context, kind Kind, rf *config.RunFile) (Run, error) {
	run, err := r.begin(kind, rf)
	if err != nil {
		return Run{}, err
	}
	r.exec(ctx, run, rf)
	out, _ := r.Get(run.ID)
	return out, nil
}

// Start launches the run in the background and returns it in the running
// state. The run is not tied to ctx's cancellation.
func (r *Runner) Start(ctx context.Context, kind Kind, rf *config.RunFile) (Run, error) {
	run, err := r.begin(kind, rf)
	if err != nil {
		return Run{}, err
	}
	snapshot, _ := r.Get(run.ID)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.exec(context.WithoutCancel(ctx), run, rf)
	}()
	return snapshot, nil
}

// Wait blocks until every background run has finished.
func (r *Runner) Wait() { r.wg.Wait() }

// Get returns a copy of a tracked run.
func (r *Runner) Get(id string) (Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return Run{}, false
	}
	return *run, true
}

// List returns the tracked runs, newest first.
func (r *Runner) List() []Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Run, 0, len(r.history))
	for i := len(r.history) - 1; i >= 0; i-- {
		out = append(out, *r.runs[r.history[i]])
	}
	return out
}

// lockKeys names what a run holds while in progress: its kind and dataset
// pair, and for masking also the sink, whose constraints are dropped for the
// duration of the run.
func lockKeys(kind Kind, rf *config.RunFile) []string {
	if kind == KindMasking {
		return []string{
			"masking of " + rf.Source.DatasetName() + " into " + rf.Sink.DatasetName(),
			"masking into " + rf.Sink.DatasetName(),
		}
	}
	return []string{string(kind) + " of " + rf.Source.DatasetName()}
}

// isActive reports whether runID is tracked and still running.
func (r *Runner) isActive(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	return ok && run.State == StateRunning
}

// begin validates the run file and registers the run. Only one run per kind
// and dataset pair, and one masking run per sink, may be in progress.
func (r *Runner) begin(kind Kind, rf *config.RunFile) (*Run, error) {
	if rf == nil {
		return nil, domain.ErrValidation("run description is required")
	}
	switch kind {
	case KindDiscovery:
	case KindMasking:
		if rf.Sink == nil {
			return nil, domain.ErrValidation("masking run requires a sink")
		}
	default:
		return nil, domain.ErrValidation("unknown run kind %q", kind)
	}
	if rf.Params == nil {
		p := domain.DefaultRunParams()
		rf.Params = &p
	}

	run := &Run{
		ID:        domain.NewRunID(),
		Kind:      kind,
		State:     StateRunning,
		Source:    rf.Source.DatasetName(),
		StartedAt: time.Now().UTC(),
	}
	if rf.Sink != nil && kind == KindMasking {
		run.Sink = rf.Sink.DatasetName()
	}

	keys := lockKeys(kind, rf)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range keys {
		if id, busy := r.active[key]; busy {
			return nil, domain.ErrConflict("%s is already in progress (run %s)", key, id)
		}
	}
	for _, key := range keys {
		r.active[key] = run.ID
	}
	r.runs[run.ID] = run
	r.history = append(r.history, run.ID)
	r.evictLocked()
	return run, nil
}

// evictLocked drops the oldest finished runs beyond maxHistory.
func (r *Runner) evictLocked() {
	for len(r.history) > maxHistory {
		oldest := r.runs[r.history[0]]
		if oldest.State == StateRunning {
			return
		}
		delete(r.runs, oldest.ID)
		r.history = r.history[1:]
	}
}

func (r *Runner) exec(ctx context.Context, run *Run, rf *config.RunFile) {
	logger := r.logger.With("run_id", run.ID, "kind", run.Kind)
	res, err := r.dispatch(ctx, run, rf)

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range lockKeys(run.Kind, rf) {
		delete(r.active, key)
	}
	now := time.Now().UTC()
	run.FinishedAt = &now
	if err != nil {
		run.State = domain.RunStatusFailed
		run.Error = err.Error()
		logger.Error("run failed to start", "error", err)
		return
	}
	run.State = res.Status
	run.Result = res
	run.Tables = res.Tables
	if len(res.ConstraintErrors) > 0 {
		run.Error = fmt.Sprintf("%d constraint error(s), first: %v", len(res.ConstraintErrors), res.ConstraintErrors[0])
	}
}

func (r *Runner) dispatch(ctx context.Context, run *Run, rf *config.RunFile) (*domain.RunResult, error) {
	repos, err := repository.New(r.db, mergeTables(r.tables, rf.Tables))
	if err != nil {
		return nil, err
	}

	source, err := r.open(ctx, rf.Source)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer source.Close() //nolint:errcheck

	if run.Kind == KindDiscovery {
		svc := discovery.NewService(repos.Ruleset, repos.EventLog, r.profiler, r.logger, r.metrics)
		return svc.Discover(ctx, discovery.Request{Source: source, Params: *rf.Params, RunID: run.ID})
	}

	sink, err := r.open(ctx, *rf.Sink)
	if err != nil {
		return nil, fmt.Errorf("open sink: %w", err)
	}
	defer sink.Close() //nolint:errcheck

	svc := masking.NewService(
		repos.Ruleset, repos.Mappings, repos.TypeMapping, repos.EventLog,
		constraint.NewService(repos.Constraints, r.logger, r.metrics).WithActiveRuns(r.isActive),
		r.masker, r.logger, r.metrics,
	)
	return svc.Mask(ctx, masking.Request{Source: source, Sink: sink, Params: *rf.Params, RunID: run.ID})
}

// mergeTables applies the non-empty names of override on top of base.
func mergeTables(base, override domain.MetadataTables) domain.MetadataTables {
	if override.Ruleset != "" {
		base.Ruleset = override.Ruleset
	}
	if override.DataMapping != "" {
		base.DataMapping = override.DataMapping
	}
	if override.TypeMapping != "" {
		base.TypeMapping = override.TypeMapping
	}
	if override.CaptureConstraints != "" {
		base.CaptureConstraints = override.CaptureConstraints
	}
	if override.EventLog != "" {
		base.EventLog = override.EventLog
	}
	return base
}
