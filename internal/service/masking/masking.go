// Package masking drives the checkpointed masking of mapped source tables into
// their sink tables.
package masking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"maskflow/internal/domain"
	"maskflow/internal/filter"
	"maskflow/internal/metrics"
	"maskflow/internal/partition"
	"maskflow/internal/service/constraint"
)

// Request is one masking run from a source dataset into a sink dataset.
type Request struct {
	Source domain.SourceConnector
	Sink   domain.SinkConnector
	Params domain.RunParams
	// RunID is assigned by the caller when set.
	RunID string
}

// Service runs masking.
type Service struct {
	ruleset     domain.RulesetRepository
	mappings    domain.DataMappingRepository
	types       domain.TypeMappingRepository
	events      domain.EventLogRepository
	constraints *constraint.Service
	masker      domain.MaskingService
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// NewService creates a masking Service.
func NewService(
	ruleset domain.RulesetRepository,
	mappings domain.DataMappingRepository,
	types domain.TypeMappingRepository,
	events domain.EventLogRepository,
	constraints *constraint.Service,
	masker domain.MaskingService,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		ruleset:     ruleset,
		mappings:    mappings,
		types:       types,
		events:      events,
		constraints: constraints,
		masker:      masker,
		logger:      logger.With("component", "masking"),
		metrics:     m,
	}
}

// job is one incomplete mapping selected for this run.
type job struct {
	mapping   domain.DataMapping
	entries   []domain.RulesetEntry
	masked    bool // at least one column has an assignment
	truncated bool
}

// Mask masks (or copies) every incomplete mapping of the source/sink pair.
// Sink foreign keys are dropped first and always recreated before Mask
// returns, whatever happened in between. Per-table failures are recorded and
// never abort sibling tables; the returned error is reserved for failures
// that prevent the run from starting.
func (s *Service) Mask(ctx context.Context, req Request) (*domain.RunResult, error) {
	if req.Source == nil || req.Sink == nil {
		return nil, domain.ErrValidation("masking requires a source and a sink")
	}
	run := domain.NewRunContext(req.Params.WithDefaults())
	if req.RunID != "" {
		run.RunID = req.RunID
	}
	scope := domain.MappingScope{SourceDataset: req.Source.Dataset(), SinkDataset: req.Sink.Dataset()}
	logger := s.logger.With("run_id", run.RunID, "source", scope.SourceDataset, "sink", scope.SinkDataset)
	logger.Info("masking started", "reapply_mapping", run.Params.ReapplyMapping)

	typeMap, err := s.types.Load(ctx, scope.SourceDataset)
	if err != nil {
		return nil, fmt.Errorf("load type mapping for %s: %w", scope.SourceDataset, err)
	}
	if run.Params.ReapplyMapping {
		n, err := s.mappings.ResetMappings(ctx, scope)
		if err != nil {
			return nil, fmt.Errorf("reset mappings: %w", err)
		}
		logger.Info("mappings reset", "rows", n)
	}
	all, err := s.mappings.List(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}

	jobs := s.prepare(ctx, run, req, all)

	store, _ := req.Sink.(domain.ConstraintStore)
	sinkTables := make([]domain.TableRef, len(jobs))
	for i, j := range jobs {
		sinkTables[i] = j.mapping.Sink
	}
	captured, dropErrs := s.constraints.CaptureAndDrop(ctx, run.RunID, scope.SinkDataset, store, sinkTables)

	var recreateErrs []error
	func() {
		defer func() {
			recreateErrs = s.constraints.Recreate(context.WithoutCancel(ctx), store, captured)
		}()
		masked, copies := splitJobs(jobs)
		s.runJobs(ctx, run, req, s.truncate(ctx, run, req, masked), typeMap)
		if run.Failed() {
			s.skipCopies(run, copies, logger)
			return
		}
		s.runJobs(ctx, run, req, s.truncate(ctx, run, req, copies), typeMap)
	}()

	constraintErrs := append(dropErrs, recreateErrs...)
	for _, e := range constraintErrs {
		logger.Error("constraint error", "error", e)
	}
	res := run.Result(constraintErrs)
	s.writeSummary(ctx, run, scope, res)
	s.metrics.ObserveRun(domain.OperationMasking, res.Status, res.FinishedAt.Sub(res.StartedAt))
	logger.Info("masking finished", "status", res.Status, "tables", len(res.Tables), "constraint_errors", len(constraintErrs))
	return res, nil
}

// prepare selects the incomplete mappings and classifies each table as
// masked or copied. Tables that need no masking are skipped unless copying is
// enabled. The mapping table's unique sink key guarantees one mapping per
// sink table.
func (s *Service) prepare(ctx context.Context, run *domain.RunContext, req Request, all []domain.DataMapping) []job {
	var jobs []job
	for _, m := range all {
		if m.MappingComplete {
			continue
		}
		entries, err := s.ruleset.ListByTable(ctx, req.Source.Dataset(), m.Source)
		if err != nil {
			s.finish(ctx, run, req, m, domain.OperationMasking, time.Now().UTC(), nil, fmt.Errorf("list ruleset: %w", err))
			continue
		}
		j := job{mapping: m, entries: entries}
		for _, e := range entries {
			if e.HasAssignment() {
				j.masked = true
				break
			}
		}
		if !j.masked && !run.Params.CopyUnmaskedTables {
			run.Record(domain.TableOutcome{Table: m.Source, Status: domain.TableStatusSkipped})
			s.metrics.TableDone(domain.OperationMasking, domain.TableStatusSkipped)
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs
}

// truncate empties the sink tables about to be written. A table whose
// truncation fails is recorded as failed and dropped from the run.
func (s *Service) truncate(ctx context.Context, run *domain.RunContext, req Request, jobs []job) []job {
	if !run.Params.TruncateBeforeWrite {
		return jobs
	}
	kept := jobs[:0]
	for _, j := range jobs {
		if err := req.Sink.Truncate(ctx, j.mapping.Sink); err != nil {
			s.finish(ctx, run, req, j.mapping, operationOf(j), time.Now().UTC(), nil, fmt.Errorf("truncate %s: %w", j.mapping.Sink, err))
			continue
		}
		j.truncated = true
		kept = append(kept, j)
	}
	return kept
}

func (s *Service) runJobs(ctx context.Context, run *domain.RunContext, req Request, jobs []job, typeMap domain.TypeMap) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(run.Params.MaxConcurrency)
	for _, j := range jobs {
		g.Go(func() error {
			start := time.Now().UTC()
			var (
				details map[string]string
				err     error
			)
			if j.masked {
				details, err = s.maskTable(gctx, run, req, j, typeMap)
			} else {
				details, err = s.copyTable(gctx, run, req, j)
			}
			s.finish(gctx, run, req, j.mapping, operationOf(j), start, details, err)
			return nil
		})
	}
	_ = g.Wait()
}

// splitJobs separates tables that need masking from plain copies. Copies run
// after every masked table finished.
func splitJobs(jobs []job) (masked, copies []job) {
	for _, j := range jobs {
		if j.masked {
			masked = append(masked, j)
		} else {
			copies = append(copies, j)
		}
	}
	return masked, copies
}

// skipCopies records the copy-only tables of a run that already failed as
// skipped. Their sink tables are left untouched.
func (s *Service) skipCopies(run *domain.RunContext, copies []job, logger *slog.Logger) {
	if len(copies) == 0 {
		return
	}
	logger.Warn("skipping unmasked table copies after a failed table", "tables", len(copies))
	for _, j := range copies {
		run.Record(domain.TableOutcome{
			Table:   j.mapping.Source,
			Status:  domain.TableStatusSkipped,
			Details: map[string]string{"reason": "run already failed"},
		})
		s.metrics.TableDone(domain.OperationCopy, domain.TableStatusSkipped)
	}
}

func operationOf(j job) string {
	if j.masked {
		return domain.OperationMasking
	}
	return domain.OperationCopy
}

// finish records a table outcome and its event log row.
func (s *Service) finish(ctx context.Context, run *domain.RunContext, req Request, m domain.DataMapping, op string, start time.Time, details map[string]string, err error) {
	logger := s.logger.With("run_id", run.RunID, "table", m.Source.String(), "sink_table", m.Sink.String())
	outcome := domain.TableOutcome{Table: m.Source, Status: domain.TableStatusSucceeded, Details: details}
	if err != nil {
		outcome.Status = domain.TableStatusFailed
		outcome.Error = err.Error()
		logger.Error("table masking failed", "operation", op, "error", err)
	} else {
		logger.Info("table done", "operation", op, "details", details)
	}
	run.Record(outcome)
	s.metrics.TableDone(op, outcome.Status)

	params := run.Params.AsMap()
	maps.Copy(params, details)
	params["sink_table"] = m.Sink.String()
	entry := &domain.EventLogEntry{
		StartTime:     start,
		EndTime:       time.Now().UTC(),
		RunID:         run.RunID,
		Operation:     op,
		Params:        params,
		Status:        outcome.Status,
		SourceDataset: req.Source.Dataset(),
		SourceSchema:  m.Source.Schema,
		Table:         m.Source.Table,
	}
	if outcome.Error != "" {
		entry.ErrorMessage = &outcome.Error
	}
	if err := s.events.Append(context.WithoutCancel(ctx), entry); err != nil {
		logger.Error("write event log", "error", err)
	}
}

// writeColumns returns the source columns that also exist in the sink, in
// source order, plus the sink's column catalog. A sink that cannot describe
// the table yet (no files, empty collection) accepts every source column.
func (s *Service) writeColumns(ctx context.Context, req Request, m domain.DataMapping) ([]string, map[string]domain.ColumnInfo, error) {
	srcCols, err := req.Source.ListColumns(ctx, m.Source)
	if err != nil {
		return nil, nil, fmt.Errorf("list source columns: %w", err)
	}
	sinkInfo := map[string]domain.ColumnInfo{}
	sinkCols, err := req.Sink.ListColumns(ctx, m.Sink)
	var notFound *domain.NotFoundError
	switch {
	case errors.As(err, &notFound):
	case err != nil:
		return nil, nil, fmt.Errorf("list sink columns: %w", err)
	}
	for _, c := range sinkCols {
		sinkInfo[c.Name] = c
	}

	cols := make([]string, 0, len(srcCols))
	for _, c := range srcCols {
		if _, ok := sinkInfo[c.Name]; ok || len(sinkInfo) == 0 {
			cols = append(cols, c.Name)
		}
	}
	if len(cols) == 0 {
		return nil, nil, domain.ErrConfiguration(m.Sink.String(), "no columns in common with %s", m.Source)
	}
	return cols, sinkInfo, nil
}

// copyTable writes an unmasked table to its sink, either in one bulk write or
// batched through the partitioner.
func (s *Service) copyTable(ctx context.Context, run *domain.RunContext, req Request, j job) (map[string]string, error) {
	cols, _, err := s.writeColumns(ctx, req, j.mapping)
	if err != nil {
		return nil, err
	}
	rows, err := req.Source.ReadRows(ctx, j.mapping.Source, cols)
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}

	mode := "bulk_copy"
	if run.Params.CopyUseDataflow {
		mode = "dataflow_copy"
		err = s.writeDataflow(ctx, run, req, j.mapping.Sink, rows)
	} else if bw, ok := req.Sink.(domain.BulkWriter); ok {
		err = bw.BulkWrite(ctx, j.mapping.Sink, rows)
	} else {
		err = req.Sink.WriteRows(ctx, j.mapping.Sink, rows)
	}
	if err != nil {
		status := domain.MaskedStatus{State: domain.MaskedStateFailed}
		if serr := s.mappings.SetMaskedStatus(context.WithoutCancel(ctx), j.mapping.ID, status); serr != nil {
			s.logger.Error("record masked status", "mapping_id", j.mapping.ID, "error", serr)
		}
		return nil, fmt.Errorf("write %s: %w", j.mapping.Sink, err)
	}
	s.metrics.Rows(mode, rows.Len())

	if err := s.mappings.MarkComplete(ctx, j.mapping.ID, true, domain.MaskedStatus{State: domain.MaskedStateCopied}); err != nil {
		return nil, fmt.Errorf("mark mapping complete: %w", err)
	}
	return map[string]string{"mode": mode, "rows_written": strconv.Itoa(rows.Len())}, nil
}

// writeDataflow writes rows in partitioner-sized batches. Sinks that keep row
// order get consecutive slices instead of hash buckets.
func (s *Service) writeDataflow(ctx context.Context, run *domain.RunContext, req Request, table domain.TableRef, rows *domain.RowSet) error {
	plan := partition.NewPlan(domain.RowCount{N: int64(rows.Len())}, partition.EstimateRowWidth(rows), s.budget(run))
	if preservesOrder(req.Sink) {
		for lo := 0; lo < rows.Len(); lo += plan.RowsPerBatch {
			hi := min(lo+plan.RowsPerBatch, rows.Len())
			chunk := &domain.RowSet{Columns: rows.Columns, Rows: rows.Rows[lo:hi]}
			if err := req.Sink.WriteRows(ctx, table, chunk); err != nil {
				return err
			}
		}
		return nil
	}
	for _, b := range partition.Partition(rows, nil, plan) {
		if err := req.Sink.WriteRows(ctx, table, rows.Subset(b.Positions())); err != nil {
			return fmt.Errorf("batch %d: %w", b.Index, err)
		}
	}
	return nil
}

func (s *Service) budget(run *domain.RunContext) partition.Budget {
	return partition.Budget{TargetBytes: run.Params.BatchTargetBytes, MaxRows: run.Params.BatchMaxRows}
}

func preservesOrder(sink domain.SinkConnector) bool {
	o, ok := sink.(domain.OrderedSink)
	return ok && o.PreservesRowOrder()
}

// aliasOutput is the masked rows of one alias, kept with their source
// positions for ordered sinks.
type aliasOutput struct {
	alias     string
	positions []int
	rows      *domain.RowSet
}

// maskTable masks every alias of a table that has not already succeeded.
// An alias is written only after all of its batches were masked, so a failed
// alias leaves no rows behind. Rows matching no alias and no default rule are
// not written.
func (s *Service) maskTable(ctx context.Context, run *domain.RunContext, req Request, j job, typeMap domain.TypeMap) (map[string]string, error) {
	table := j.mapping.Source.String()
	res, err := filter.Resolve(table, j.entries)
	if err != nil {
		return nil, err
	}
	cols, sinkInfo, err := s.writeColumns(ctx, req, j.mapping)
	if err != nil {
		return nil, err
	}
	plans, err := columnPlans(table, res, j.entries, typeMap, cols, sinkInfo)
	if err != nil {
		return nil, err
	}

	readCols := cols
	if res.KeyColumn != "" && !slices.Contains(cols, res.KeyColumn) {
		readCols = append(slices.Clone(cols), res.KeyColumn)
	}
	rows, err := req.Source.ReadRows(ctx, j.mapping.Source, readCols)
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	exact := false
	if count, err := req.Source.RowCount(ctx, j.mapping.Source); err == nil {
		exact = count.Exact
	}
	byAlias, unmapped, err := res.Assign(rows)
	if err != nil {
		return nil, domain.ErrConfiguration(table, "%v", err)
	}

	status := j.mapping.MaskedStatus
	if j.truncated || status.Aliases == nil {
		status = domain.MaskedStatus{Aliases: map[string]string{}}
	}
	details := map[string]string{
		"rows_read":     strconv.Itoa(rows.Len()),
		"unmapped_rows": strconv.Itoa(len(unmapped)),
	}
	if res.Conditional() {
		details["key_column"] = res.KeyColumn
	}

	var (
		failures []string
		skipped  []string
		written  int
		ordered  = preservesOrder(req.Sink)
		held     []aliasOutput
	)
	checkpoint := func() {
		if err := s.mappings.SetMaskedStatus(context.WithoutCancel(ctx), j.mapping.ID, status); err != nil {
			s.logger.Error("record alias checkpoint", "mapping_id", j.mapping.ID, "error", err)
		}
	}
	fail := func(alias string, err error) {
		status.Aliases[alias] = domain.AliasStatusFailed
		failures = append(failures, fmt.Sprintf("%s: %v", alias, err))
		s.logger.Warn("alias failed", "run_id", run.RunID, "table", table, "alias", alias, "filter", res.Expression(alias), "error", err)
	}

	for _, alias := range res.Aliases {
		if status.AliasSucceeded(alias) {
			skipped = append(skipped, alias)
			continue
		}
		positions := byAlias[alias]
		out, err := s.maskAlias(ctx, run, rows, positions, plans[alias], alias, exact)
		if err != nil {
			fail(alias, err)
			checkpoint()
			continue
		}
		if ordered {
			held = append(held, aliasOutput{alias: alias, positions: positions, rows: out})
			continue
		}
		if err := s.writeMasked(ctx, req, j.mapping.Sink, out, cols); err != nil {
			fail(alias, fmt.Errorf("write: %w", err))
		} else {
			status.Aliases[alias] = domain.AliasStatusSuccess
			written += out.Len()
		}
		checkpoint()
	}

	if len(held) > 0 {
		merged := mergeByPosition(held)
		err := s.writeMasked(ctx, req, j.mapping.Sink, merged, cols)
		for _, h := range held {
			if err != nil {
				fail(h.alias, fmt.Errorf("write: %w", err))
			} else {
				status.Aliases[h.alias] = domain.AliasStatusSuccess
			}
		}
		if err == nil {
			written += merged.Len()
		}
		checkpoint()
	}

	s.metrics.Rows("masked", written)
	details["rows_written"] = strconv.Itoa(written)
	if len(skipped) > 0 {
		details["skipped_aliases"] = strings.Join(skipped, ",")
	}

	complete := len(failures) == 0
	switch {
	case complete:
		status.State = domain.MaskedStateMasked
	case len(failures) < len(res.Aliases):
		status.State = domain.MaskedStatePartial
	default:
		status.State = domain.MaskedStateFailed
	}
	details["masked_status"] = status.String()
	if err := s.mappings.MarkComplete(context.WithoutCancel(ctx), j.mapping.ID, complete, status); err != nil {
		return details, fmt.Errorf("record mapping status: %w", err)
	}
	if !complete {
		return details, fmt.Errorf("masking failed for %s", strings.Join(failures, "; "))
	}
	return details, nil
}

// maskAlias masks the rows at positions, batch by batch. The returned rows
// are in position order.
func (s *Service) maskAlias(ctx context.Context, run *domain.RunContext, rows *domain.RowSet, positions []int, plans []columnPlan, alias string, exact bool) (*domain.RowSet, error) {
	sub := rows.Subset(positions)
	if sub.Len() == 0 {
		return sub, nil
	}
	if len(plans) == 0 {
		return nil, fmt.Errorf("alias %s has no masking rule for %d rows", alias, sub.Len())
	}

	names := make([]string, len(plans))
	header := make(map[string]string, len(plans))
	formats := map[string]string{}
	for i, p := range plans {
		names[i] = p.Name
		header[p.Name] = p.Algorithm
		if p.DateFormat != "" {
			formats[p.Name] = p.DateFormat
		}
	}

	plan := partition.NewPlan(domain.RowCount{N: int64(sub.Len()), Exact: exact}, partition.EstimateRowWidth(sub), s.budget(run))
	out := partition.Clone(sub)
	batches := partition.Partition(sub, nil, plan)
	for _, b := range batches {
		columns, err := partition.Columnar(sub, b, names)
		if err != nil {
			return nil, err
		}
		for _, p := range plans {
			vals := columns[p.Name]
			for i, v := range vals {
				vals[i] = p.outbound(v)
			}
		}

		masked, err := s.masker.Mask(ctx, domain.MaskRequest{
			RunID:               run.RunID,
			Columns:             columns,
			FieldAlgorithms:     header,
			FieldDateFormats:    formats,
			FailOnNonConformant: run.Params.FailOnNonConformantData,
		})
		s.metrics.Batch(err == nil)
		if err != nil {
			return nil, fmt.Errorf("batch %d of %d: %w", b.Index+1, len(batches), err)
		}

		back := make(map[string][]any, len(plans))
		for _, p := range plans {
			vals, ok := masked[p.Name]
			if !ok {
				return nil, fmt.Errorf("batch %d: response lacks column %s", b.Index+1, p.Name)
			}
			conv := make([]any, len(vals))
			for i, v := range vals {
				if conv[i], err = p.inbound(v); err != nil {
					return nil, fmt.Errorf("batch %d: %w", b.Index+1, err)
				}
			}
			back[p.Name] = conv
		}
		if err := partition.Rejoin(out, b, back); err != nil {
			return nil, fmt.Errorf("batch %d: %w", b.Index+1, err)
		}
	}
	s.logger.Debug("alias masked", "run_id", run.RunID, "alias", alias, "rows", sub.Len(), "batches", len(batches), "mode", plan.Mode.String())
	return out, nil
}

func (s *Service) writeMasked(ctx context.Context, req Request, table domain.TableRef, rows *domain.RowSet, cols []string) error {
	if rows.Len() == 0 {
		return nil
	}
	return req.Sink.WriteRows(ctx, table, project(rows, cols))
}

// project narrows rows to cols, dropping a key column read only for routing.
func project(rows *domain.RowSet, cols []string) *domain.RowSet {
	if slices.Equal(rows.Columns, cols) {
		return rows
	}
	idx := make([]int, len(cols))
	for i, c := range cols {
		idx[i] = rows.ColumnIndex(c)
	}
	out := &domain.RowSet{Columns: cols, Rows: make([][]any, len(rows.Rows))}
	for r, row := range rows.Rows {
		vals := make([]any, len(idx))
		for i, ci := range idx {
			vals[i] = row[ci]
		}
		out.Rows[r] = vals
	}
	return out
}

// mergeByPosition interleaves per-alias outputs back into source order.
func mergeByPosition(outs []aliasOutput) *domain.RowSet {
	type placed struct {
		pos int
		row []any
	}
	var all []placed
	for _, o := range outs {
		for i, p := range o.positions {
			all = append(all, placed{pos: p, row: o.rows.Rows[i]})
		}
	}
	sort.Slice(all, func(a, b int) bool { return all[a].pos < all[b].pos })
	merged := &domain.RowSet{Columns: outs[0].rows.Columns, Rows: make([][]any, len(all))}
	for i, p := range all {
		merged.Rows[i] = p.row
	}
	return merged
}

// columnPlans builds the per-alias column plans of a table. Every masked
// column needs a ruleset entry, a type mapping for its source type and a
// place in the sink.
func columnPlans(table string, res *filter.Resolution, entries []domain.RulesetEntry, typeMap domain.TypeMap, cols []string, sinkInfo map[string]domain.ColumnInfo) (map[string][]columnPlan, error) {
	byCol := make(map[string]domain.RulesetEntry, len(entries))
	for _, e := range entries {
		byCol[e.Column] = e
	}
	out := make(map[string][]columnPlan, len(res.Headers))
	for _, alias := range res.Aliases {
		header := res.Headers[alias]
		for _, col := range slices.Sorted(maps.Keys(header)) {
			e, ok := byCol[col]
			if !ok {
				return nil, domain.ErrConfiguration(table, "masked column %s has no ruleset entry", col)
			}
			if !slices.Contains(cols, col) {
				return nil, domain.ErrConfiguration(table, "masked column %s does not exist in the sink", col)
			}
			target, ok := typeMap.Lookup(e.IdentifiedColumnType)
			if !ok {
				return nil, domain.ErrConfiguration(table, "no type mapping for column %s of type %q", col, e.IdentifiedColumnType)
			}
			meta, err := e.ParseAlgorithmMetadata()
			if err != nil {
				return nil, domain.ErrConfiguration(table, "column %s: %v", col, err)
			}
			p := columnPlan{
				Name:          col,
				Algorithm:     header[col],
				TargetType:    target,
				DateFormat:    meta.DateFormatFor(alias),
				TreatAsString: meta.TreatAsString,
			}
			if p.DateFormat != "" {
				if p.layout, err = goLayout(p.DateFormat); err != nil {
					return nil, domain.ErrConfiguration(table, "column %s: %v", col, err)
				}
			}
			if info, ok := sinkInfo[col]; ok && info.MaxLength > 0 {
				p.Width = info.MaxLength
			} else if e.IdentifiedColumnMaxLength > 0 {
				p.Width = e.IdentifiedColumnMaxLength
			}
			out[alias] = append(out[alias], p)
		}
	}
	return out, nil
}

func (s *Service) writeSummary(ctx context.Context, run *domain.RunContext, scope domain.MappingScope, res *domain.RunResult) {
	params := run.Params.AsMap()
	params["sink_dataset"] = scope.SinkDataset
	entry := &domain.EventLogEntry{
		StartTime:     res.StartedAt,
		EndTime:       res.FinishedAt,
		RunID:         run.RunID,
		Operation:     domain.OperationMasking,
		Params:        params,
		Status:        res.Status,
		SourceDataset: scope.SourceDataset,
	}
	var parts []string
	var failed []string
	for _, o := range res.Tables {
		if o.Status == domain.TableStatusFailed {
			failed = append(failed, o.Table.String())
		}
	}
	if len(failed) > 0 {
		parts = append(parts, "failed tables: "+strings.Join(failed, ", "))
	}
	for _, e := range res.ConstraintErrors {
		parts = append(parts, e.Error())
	}
	if len(parts) > 0 {
		msg := strings.Join(parts, "; ")
		entry.ErrorMessage = &msg
	}
	if err := s.events.Append(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Error("write run summary", "run_id", run.RunID, "error", err)
	}
}
