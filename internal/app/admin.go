package app

import (
	"context"
	"fmt"

	"maskflow/internal/config"
	"maskflow/internal/domain"
	"maskflow/internal/filter"
)

// LoadTypeMappings upserts every mapping of a type mapping file and returns
// how many were written.
func (a *App) LoadTypeMappings(ctx context.Context, path string) (int, error) {
	mappings, err := config.LoadTypeMappingFile(path)
	if err != nil {
		return 0, err
	}
	for _, m := range mappings {
		if err := a.Repos.TypeMapping.Upsert(ctx, m); err != nil {
			return 0, fmt.Errorf("upsert type mapping %s: %w", m.SourceType, err)
		}
	}
	return len(mappings), nil
}

// AssignAlgorithm sets the assigned algorithm and metadata of a discovered
// column. Conditional (array) and per-alias (object) assignments are parsed
// first so a malformed value never reaches a masking run.
func (a *App) AssignAlgorithm(ctx context.Context, key domain.RulesetKey, assigned, metadata string) error {
	switch filter.Sniff(assigned) {
	case filter.ShapeArray:
		if _, err := filter.ParseConditions(assigned); err != nil {
			return domain.ErrValidation("column %s: %v", key.Column, err)
		}
	case filter.ShapeObject:
		if _, err := filter.ParseAliasAlgorithms(assigned); err != nil {
			return domain.ErrValidation("column %s: %v", key.Column, err)
		}
	}
	entry := domain.RulesetEntry{RulesetKey: key, AlgorithmMetadata: metadata}
	if _, err := entry.ParseAlgorithmMetadata(); err != nil {
		return domain.ErrValidation("%v", err)
	}
	return a.Repos.Ruleset.SetAssignment(ctx, key, assigned, metadata)
}

// AutogenMappings maps every discovered table of scope to a table of the same
// name in sinkDataset. A non-empty sinkSchema replaces the source schema.
// Existing mappings for the same sink table are kept and returned.
func (a *App) AutogenMappings(ctx context.Context, scope domain.RulesetScope, sinkDataset, sinkSchema string) ([]domain.DataMapping, error) {
	if scope.Dataset == "" || sinkDataset == "" {
		return nil, domain.ErrValidation("source and sink dataset are required")
	}
	tables, err := a.Repos.Ruleset.ListTables(ctx, scope)
	if err != nil {
		return nil, err
	}
	existing, err := a.Repos.Mappings.List(ctx, domain.MappingScope{SourceDataset: scope.Dataset, SinkDataset: sinkDataset})
	if err != nil {
		return nil, err
	}
	bySink := make(map[domain.TableRef]domain.DataMapping, len(existing))
	for _, m := range existing {
		bySink[m.Sink] = m
	}

	out := make([]domain.DataMapping, 0, len(tables))
	for _, t := range tables {
		sink := t
		if sinkSchema != "" {
			sink.Schema = sinkSchema
		}
		if m, ok := bySink[sink]; ok {
			out = append(out, m)
			continue
		}
		m, err := a.Repos.Mappings.Upsert(ctx, &domain.DataMapping{
			SourceDataset: scope.Dataset, Source: t,
			SinkDataset: sinkDataset, Sink: sink,
		})
		if err != nil {
			return nil, fmt.Errorf("map %s: %w", t, err)
		}
		out = append(out, *m)
	}
	a.logger.Info("mappings generated", "source_dataset", scope.Dataset, "sink_dataset", sinkDataset, "tables", len(out))
	return out, nil
}
