// Package constraint captures, drops and restores sink foreign keys around a
// masking run.
package constraint

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"maskflow/internal/domain"
	"maskflow/internal/metrics"
)

// Service manages the foreign keys of sink tables for one masking run at a
// time.
type Service struct {
	repo    domain.ConstraintRepository
	logger  *slog.Logger
	metrics *metrics.Metrics
	active  func(runID string) bool
}

// NewService creates a Service.
func NewService(repo domain.ConstraintRepository, logger *slog.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{repo: repo, logger: logger.With("component", "constraints"), metrics: m}
}

// WithActiveRuns sets the predicate reporting runs still in progress. Their
// pending constraints are never adopted.
func (s *Service) WithActiveRuns(active func(runID string) bool) *Service {
	s.active = active
	return s
}

func fkKey(t domain.TableRef, name string) string {
	return t.Schema + "\x00" + t.Table + "\x00" + name
}

// CaptureAndDrop persists and then drops every foreign key declared on tables
// of the sink named sinkDataset. Constraints captured on the same sink by an
// earlier run that is no longer in progress, and never recreated, are adopted
// into the returned set so this run restores them. Drop failures are returned
// as *domain.ConstraintError and never abort the remaining drops.
func (s *Service) CaptureAndDrop(ctx context.Context, runID, sinkDataset string, store domain.ConstraintStore, tables []domain.TableRef) (*domain.CapturedSet, []error) {
	set := &domain.CapturedSet{RunID: runID}
	if store == nil {
		return set, nil
	}
	if sinkDataset == "" {
		return set, []error{domain.ErrValidation("sink dataset is required to capture constraints")}
	}

	var errs []error
	pending, err := s.repo.ListPending(ctx, sinkDataset)
	if err != nil {
		return set, []error{fmt.Errorf("list pending constraints: %w", err)}
	}
	seen := make(map[string]bool, len(pending))
	for _, c := range pending {
		if c.RunID == runID || (s.active != nil && s.active(c.RunID)) {
			s.logger.Info("skipping constraint held by a run in progress",
				"run_id", runID, "captured_by", c.RunID, "table", c.Table.String(), "constraint", c.ConstraintName)
			seen[fkKey(c.Table, c.ConstraintName)] = true
			continue
		}
		s.logger.Warn("adopting constraint left pending by an earlier run",
			"run_id", runID, "captured_by", c.RunID, "table", c.Table.String(), "constraint", c.ConstraintName)
		set.Constraints = append(set.Constraints, c)
		seen[fkKey(c.Table, c.ConstraintName)] = true
	}

	if len(tables) == 0 {
		return set, nil
	}
	fks, err := store.ListForeignKeys(ctx, tables)
	if err != nil {
		return set, []error{fmt.Errorf("list foreign keys: %w", err)}
	}

	for _, fk := range fks {
		if seen[fkKey(fk.Table, fk.Name)] {
			continue
		}
		captured, err := s.repo.Capture(ctx, &domain.CapturedConstraint{
			RunID:          runID,
			SinkDataset:    sinkDataset,
			Table:          fk.Table,
			ConstraintName: fk.Name,
			Definition:     fk.Definition,
			PreDropStatus:  fk.Status,
			DropTimestamp:  time.Now().UTC(),
		})
		if err != nil {
			// Never drop what could not be recorded.
			errs = append(errs, &domain.ConstraintError{Table: fk.Table.String(), Constraint: fk.Name, Op: "capture", Err: err})
			s.metrics.Constraint("capture", err)
			continue
		}
		set.Constraints = append(set.Constraints, *captured)

		err = store.DropForeignKey(ctx, fk)
		s.metrics.Constraint("drop", err)
		if err != nil {
			s.logger.Error("drop constraint failed", "run_id", runID, "table", fk.Table.String(), "constraint", fk.Name, "error", err)
			errs = append(errs, &domain.ConstraintError{Table: fk.Table.String(), Constraint: fk.Name, Op: "drop", Err: err})
			continue
		}
		s.logger.Info("constraint dropped", "run_id", runID, "table", fk.Table.String(), "constraint", fk.Name, "status", fk.Status)
	}
	return set, errs
}

// Recreate restores every constraint in set with its captured status and
// records the outcome. A constraint that already exists (its drop failed, or
// it was restored by hand) is marked recreated with its current status.
func (s *Service) Recreate(ctx context.Context, store domain.ConstraintStore, set *domain.CapturedSet) []error {
	if set.Len() == 0 || store == nil {
		return nil
	}

	tables := make([]domain.TableRef, 0, len(set.Constraints))
	seenTable := map[domain.TableRef]bool{}
	for _, c := range set.Constraints {
		if !seenTable[c.Table] {
			seenTable[c.Table] = true
			tables = append(tables, c.Table)
		}
	}
	existing := map[string]string{}
	if fks, err := store.ListForeignKeys(ctx, tables); err != nil {
		s.logger.Warn("list foreign keys before recreate failed", "run_id", set.RunID, "error", err)
	} else {
		for _, fk := range fks {
			existing[fkKey(fk.Table, fk.Name)] = fk.Status
		}
	}

	var errs []error
	for _, c := range set.Constraints {
		if status, ok := existing[fkKey(c.Table, c.ConstraintName)]; ok {
			if err := s.repo.MarkRecreated(ctx, c.ID, status); err != nil {
				errs = append(errs, &domain.ConstraintError{Table: c.Table.String(), Constraint: c.ConstraintName, Op: "recreate", Err: err})
			}
			continue
		}

		status, err := store.CreateForeignKey(ctx, c.ForeignKey())
		s.metrics.Constraint("recreate", err)
		if err != nil {
			s.logger.Error("recreate constraint failed", "run_id", set.RunID, "table", c.Table.String(), "constraint", c.ConstraintName, "error", err)
			errs = append(errs, &domain.ConstraintError{Table: c.Table.String(), Constraint: c.ConstraintName, Op: "recreate", Err: err})
			if markErr := s.repo.MarkRecreateFailed(ctx, c.ID, err.Error()); markErr != nil {
				s.logger.Error("record recreate failure", "constraint", c.ConstraintName, "error", markErr)
			}
			continue
		}
		if err := s.repo.MarkRecreated(ctx, c.ID, status); err != nil {
			errs = append(errs, &domain.ConstraintError{Table: c.Table.String(), Constraint: c.ConstraintName, Op: "recreate", Err: err})
			continue
		}
		s.logger.Info("constraint recreated", "run_id", set.RunID, "table", c.Table.String(), "constraint", c.ConstraintName, "status", status)
	}
	return errs
}
