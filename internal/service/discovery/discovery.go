// Package discovery drives schema enumeration, sampling and profiling of a
// source, checkpointed in the ruleset table.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"maskflow/internal/domain"
	"maskflow/internal/metrics"
	"maskflow/internal/partition"
)

// Request is one discovery run.
type Request struct {
	Source domain.SourceConnector
	Params domain.RunParams
	// Tables narrows the run; empty means every table the source lists.
	Tables []domain.TableRef
	// RunID is assigned by the caller when set.
	RunID string
}

// Service runs discovery.
type Service struct {
	ruleset  domain.RulesetRepository
	events   domain.EventLogRepository
	profiler domain.ProfilingService
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewService creates a discovery Service.
func NewService(ruleset domain.RulesetRepository, events domain.EventLogRepository, profiler domain.ProfilingService, logger *slog.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		ruleset:  ruleset,
		events:   events,
		profiler: profiler,
		logger:   logger.With("component", "discovery"),
		metrics:  m,
	}
}

// Discover profiles every eligible table of the source. A table is eligible
// when it has ruleset rows with discovery_completed=false, which includes
// columns seen for the first time. Per-table failures are recorded and never
// abort sibling tables; the returned error is reserved for failures that
// prevent the run from starting.
func (s *Service) Discover(ctx context.Context, req Request) (*domain.RunResult, error) {
	if req.Source == nil {
		return nil, domain.ErrValidation("discovery requires a source")
	}
	run := domain.NewRunContext(req.Params.WithDefaults())
	if req.RunID != "" {
		run.RunID = req.RunID
	}
	dataset := req.Source.Dataset()
	logger := s.logger.With("run_id", run.RunID, "dataset", dataset)
	logger.Info("discovery started", "rediscover", run.Params.Rediscover)

	if run.Params.Rediscover {
		n, err := s.ruleset.ResetDiscovery(ctx, domain.RulesetScope{Dataset: dataset})
		if err != nil {
			return nil, fmt.Errorf("reset discovery for %s: %w", dataset, err)
		}
		logger.Info("ruleset reset for full rescan", "rows", n)
	}

	tables := req.Tables
	if len(tables) == 0 {
		var err error
		if tables, err = req.Source.ListTables(ctx); err != nil {
			return nil, fmt.Errorf("list tables of %s: %w", dataset, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(run.Params.MaxConcurrency)
	for _, t := range tables {
		g.Go(func() error {
			s.discoverTable(gctx, run, req.Source, t)
			return nil
		})
	}
	_ = g.Wait()

	res := run.Result(nil)
	s.writeSummary(ctx, run, dataset, res)
	s.metrics.ObserveRun(domain.OperationDiscovery, res.Status, res.FinishedAt.Sub(res.StartedAt))
	logger.Info("discovery finished", "status", res.Status, "tables", len(res.Tables), "unprofilable", len(run.Unprofilable()))
	return res, nil
}

func (s *Service) discoverTable(ctx context.Context, run *domain.RunContext, src domain.SourceConnector, t domain.TableRef) {
	start := time.Now().UTC()
	logger := s.logger.With("run_id", run.RunID, "table", t.String())

	details, err := s.profileTable(ctx, run, src, t)
	outcome := domain.TableOutcome{Table: t, Status: domain.TableStatusSucceeded, Details: details}
	switch {
	case errors.Is(err, errNothingPending):
		outcome.Status = domain.TableStatusSkipped
		outcome.Details = nil
	case err != nil:
		outcome.Status = domain.TableStatusFailed
		outcome.Error = err.Error()
		logger.Error("table discovery failed", "error", err)
	default:
		logger.Info("table discovered", "details", details)
	}
	run.Record(outcome)
	s.metrics.TableDone(domain.OperationDiscovery, outcome.Status)

	// Skipped tables did no work, so they leave no audit row.
	if outcome.Status == domain.TableStatusSkipped {
		return
	}
	entry := &domain.EventLogEntry{
		StartTime:     start,
		EndTime:       time.Now().UTC(),
		RunID:         run.RunID,
		Operation:     domain.OperationDiscovery,
		Params:        run.Params.AsMap(),
		Status:        outcome.Status,
		SourceDataset: src.Dataset(),
		SourceSchema:  t.Schema,
		Table:         t.Table,
	}
	if outcome.Error != "" {
		entry.ErrorMessage = &outcome.Error
	}
	if err := s.events.Append(context.WithoutCancel(ctx), entry); err != nil {
		logger.Error("write event log", "error", err)
	}
}

var errNothingPending = errors.New("no columns pending discovery")

// profileTable runs the per-table steps: enumerate columns, insert new ones,
// count, then either mark an empty table or sample and profile it.
func (s *Service) profileTable(ctx context.Context, run *domain.RunContext, src domain.SourceConnector, t domain.TableRef) (map[string]string, error) {
	dataset := src.Dataset()

	cols, err := src.ListColumns(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	entries := make([]domain.RulesetEntry, len(cols))
	for i, c := range cols {
		entries[i] = domain.RulesetEntry{
			RulesetKey: domain.RulesetKey{
				Dataset: dataset, Database: t.Database, Schema: t.Schema, Table: t.Table, Column: c.Name,
			},
			IdentifiedColumnType:      c.Type,
			IdentifiedColumnMaxLength: c.MaxLength,
		}
	}
	inserted, err := s.ruleset.InsertNewColumns(ctx, entries)
	if err != nil {
		return nil, fmt.Errorf("insert new columns: %w", err)
	}

	pending, err := s.ruleset.ListPending(ctx, dataset, t)
	if err != nil {
		return nil, fmt.Errorf("list pending columns: %w", err)
	}
	if len(pending) == 0 {
		return nil, errNothingPending
	}

	count, err := src.RowCount(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("row count: %w", err)
	}
	details := map[string]string{
		"new_columns":     fmt.Sprint(inserted),
		"pending_columns": fmt.Sprint(len(pending)),
		"row_count":       fmt.Sprint(count.N),
	}

	if count.N == 0 {
		if !run.Params.EmptyTablesDiscovered {
			details["empty"] = "left undiscovered"
			return details, nil
		}
		for _, e := range pending {
			if err := s.ruleset.MarkDiscovered(ctx, e.RulesetKey, 0); err != nil {
				return nil, fmt.Errorf("mark %s discovered: %w", e.Column, err)
			}
		}
		details["empty"] = "marked discovered"
		return details, nil
	}

	names := make([]string, len(pending))
	for i, e := range pending {
		names[i] = e.Column
	}
	seed := uint64(run.Params.SampleSeed)
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	sample, err := sampleRows(ctx, src, t, names, run.Params.SampleRowCap, seed)
	if err != nil {
		run.AddUnprofilable(t)
		return nil, fmt.Errorf("read sample: %w", err)
	}
	columns, err := partition.Columnar(sample, partition.AsBatch(seq(sample.Len())), names)
	if err != nil {
		run.AddUnprofilable(t)
		return nil, err
	}

	profiles, err := s.profiler.Profile(ctx, columns)
	if err != nil {
		run.AddUnprofilable(t)
		return nil, fmt.Errorf("profile: %w", err)
	}
	details["sampled_rows"] = fmt.Sprint(sample.Len())

	changed := 0
	var unprofiled []string
	for _, e := range pending {
		p, ok := profiles[e.Column]
		if !ok {
			unprofiled = append(unprofiled, e.Column)
			continue
		}
		ok, err := s.ruleset.ApplyProfile(ctx, e.RulesetKey, domain.ProfileUpdate{
			Domain:     p.Domain,
			Algorithm:  p.Algorithm,
			Confidence: p.Confidence,
			RowCount:   count.N,
		})
		if err != nil {
			return nil, fmt.Errorf("apply profile to %s: %w", e.Column, err)
		}
		if ok {
			changed++
		}
	}
	details["changed_columns"] = fmt.Sprint(changed)
	if len(unprofiled) > 0 {
		details["unprofiled_columns"] = strings.Join(unprofiled, ",")
		run.AddUnprofilable(t)
		return details, fmt.Errorf("profile response is missing columns %s; left pending", strings.Join(unprofiled, ", "))
	}
	return details, nil
}

// sampleRows draws at most limit rows of a table through a seeded reservoir.
// Sources that can stream are never loaded in full.
func sampleRows(ctx context.Context, src domain.SourceConnector, t domain.TableRef, columns []string, limit int, seed uint64) (*domain.RowSet, error) {
	if scanner, ok := src.(domain.RowScanner); ok {
		r := partition.NewReservoir(limit, seed)
		err := scanner.ScanRows(ctx, t, columns, func(row []any) error {
			r.Add(row)
			return nil
		})
		if err != nil {
			return nil, err
		}
		return r.RowSet(columns), nil
	}
	rows, err := src.ReadRows(ctx, t, columns)
	if err != nil {
		return nil, err
	}
	return rows.Subset(partition.Sample(rows.Len(), limit, seed)), nil
}

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func (s *Service) writeSummary(ctx context.Context, run *domain.RunContext, dataset string, res *domain.RunResult) {
	entry := &domain.EventLogEntry{
		StartTime:     res.StartedAt,
		EndTime:       res.FinishedAt,
		RunID:         run.RunID,
		Operation:     domain.OperationDiscovery,
		Params:        run.Params.AsMap(),
		Status:        res.Status,
		SourceDataset: dataset,
	}
	var failed []string
	for _, o := range res.Tables {
		if o.Status == domain.TableStatusFailed {
			failed = append(failed, o.Table.String())
		}
	}
	if len(failed) > 0 {
		msg := "failed tables: " + strings.Join(failed, ", ")
		if u := run.Unprofilable(); len(u) > 0 {
			names := make([]string, len(u))
			for i, t := range u {
				names[i] = t.String()
			}
			msg += "; unprofilable: " + strings.Join(names, ", ")
		}
		entry.ErrorMessage = &msg
	}
	if err := s.events.Append(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Error("write run summary", "run_id", run.RunID, "error", err)
	}
}
